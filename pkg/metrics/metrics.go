package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector provides Prometheus metrics collection for pipeline operations
type MetricsCollector struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
	llmCallsTotal     *prometheus.CounterVec
	retriesTotal      *prometheus.CounterVec
	splitsTotal       *prometheus.CounterVec
	registry          *prometheus.Registry
}

// NewCollector creates a new Prometheus metrics collector
func NewCollector() *MetricsCollector {
	registry := prometheus.NewRegistry()

	operationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "themefinder_operations_total",
			Help: "Total number of pipeline operations by type and status",
		},
		[]string{"operation", "status"},
	)

	operationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "themefinder_operation_duration_seconds",
			Help:    "Duration of pipeline operations by type and stage",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
		},
		[]string{"operation", "stage"},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "themefinder_errors_total",
			Help: "Total number of errors by operation and error type",
		},
		[]string{"operation", "error_type"},
	)

	llmCallsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "themefinder_llm_calls_total",
			Help: "Total number of model invocations by stage and status",
		},
		[]string{"stage", "status"},
	)

	retriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "themefinder_batch_retries_total",
			Help: "Total number of batch retries by stage",
		},
		[]string{"stage"},
	)

	splitsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "themefinder_batch_splits_total",
			Help: "Total number of batch splits after retry exhaustion by stage",
		},
		[]string{"stage"},
	)

	registry.MustRegister(operationsTotal)
	registry.MustRegister(operationDuration)
	registry.MustRegister(errorsTotal)
	registry.MustRegister(llmCallsTotal)
	registry.MustRegister(retriesTotal)
	registry.MustRegister(splitsTotal)

	return &MetricsCollector{
		operationsTotal:   operationsTotal,
		operationDuration: operationDuration,
		errorsTotal:       errorsTotal,
		llmCallsTotal:     llmCallsTotal,
		retriesTotal:      retriesTotal,
		splitsTotal:       splitsTotal,
		registry:          registry,
	}
}

// RecordOperation records the completion of an operation
func (m *MetricsCollector) RecordOperation(ctx context.Context, operation string, status string, durationMs int64) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordStage records the duration of a specific stage within an operation
func (m *MetricsCollector) RecordStage(ctx context.Context, operation string, stage string, durationMs int64) {
	m.operationDuration.WithLabelValues(operation, stage).Observe(float64(durationMs) / 1000.0)
}

// RecordError records an error occurrence
func (m *MetricsCollector) RecordError(ctx context.Context, operation string, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

// RecordLLMCall records one model invocation
func (m *MetricsCollector) RecordLLMCall(ctx context.Context, stage string, status string) {
	m.llmCallsTotal.WithLabelValues(stage, status).Inc()
}

// RecordRetry records one batch retry
func (m *MetricsCollector) RecordRetry(ctx context.Context, stage string) {
	m.retriesTotal.WithLabelValues(stage).Inc()
}

// RecordSplit records one batch split
func (m *MetricsCollector) RecordSplit(ctx context.Context, stage string) {
	m.splitsTotal.WithLabelValues(stage).Inc()
}

// Registry returns the Prometheus registry for HTTP exposure
func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}
