package trace

import (
	"context"
	"time"
)

// Exporter defines the interface for exporting pipeline run traces.
// Implementations must be safe for concurrent use.
type Exporter interface {
	// Export writes a trace record to the configured destination.
	// Returns error if export fails.
	Export(ctx context.Context, record *RunRecord) error

	// Close flushes any buffered records and releases resources.
	// Should be called during graceful shutdown.
	Close() error
}

// RunRecord represents a sanitized pipeline run trace ready for export.
// This structure contains NO response text, theme content or API keys.
type RunRecord struct {
	// Timestamp is the run start time
	Timestamp time.Time `json:"timestamp"`

	// RunID uniquely identifies this pipeline run (for correlation)
	RunID string `json:"runId"`

	// Operation is always "find_themes" for now
	Operation string `json:"operation"`

	// DurationMs is the total run duration in milliseconds
	DurationMs int64 `json:"durationMs"`

	// Status is "success" or "error"
	Status string `json:"status"`

	// Spans contains per-stage timing and status
	Spans []SpanRecord `json:"spans"`

	// ErrorType classifies the error (if Status == "error")
	// Values: transport, validation, input, outage, cancelled, unknown
	ErrorType string `json:"errorType,omitempty"`

	// Counters holds run-level counts (responses, themes, failures)
	Counters map[string]int64 `json:"counters,omitempty"`
}

// SpanRecord represents a single stage within a run.
type SpanRecord struct {
	// Name is the stage name (generate, reconcile, classify)
	Name string `json:"name"`

	// DurationMs is the stage duration in milliseconds
	DurationMs int64 `json:"durationMs"`

	// OK indicates success (true) or failure (false)
	OK bool `json:"ok"`

	// ErrorType classifies the error (if OK == false)
	ErrorType string `json:"errorType,omitempty"`
}

// FileExporterOption configures a FileExporter.
// This type is available in both tracing and non-tracing builds to maintain API compatibility.
type FileExporterOption func(interface{})
