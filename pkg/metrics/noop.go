package metrics

import "context"

// NoopCollector is a no-op implementation used when no collector is wired up.
type NoopCollector struct{}

// NewNoopCollector creates a no-op collector
func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

// RecordOperation does nothing
func (n *NoopCollector) RecordOperation(ctx context.Context, operation string, status string, durationMs int64) {
}

// RecordStage does nothing
func (n *NoopCollector) RecordStage(ctx context.Context, operation string, stage string, durationMs int64) {
}

// RecordError does nothing
func (n *NoopCollector) RecordError(ctx context.Context, operation string, errorType string) {
}

// RecordLLMCall does nothing
func (n *NoopCollector) RecordLLMCall(ctx context.Context, stage string, status string) {
}

// RecordRetry does nothing
func (n *NoopCollector) RecordRetry(ctx context.Context, stage string) {
}

// RecordSplit does nothing
func (n *NoopCollector) RecordSplit(ctx context.Context, stage string) {
}
