package metrics

import "context"

// Collector is the interface for metrics collection.
// Implementations include the Prometheus-backed collector and the no-op
// collector used when callers don't wire one up.
type Collector interface {
	RecordOperation(ctx context.Context, operation string, status string, durationMs int64)
	RecordStage(ctx context.Context, operation string, stage string, durationMs int64)
	RecordError(ctx context.Context, operation string, errorType string)
	RecordLLMCall(ctx context.Context, stage string, status string)
	RecordRetry(ctx context.Context, stage string)
	RecordSplit(ctx context.Context, stage string)
}
