package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys - using constants for consistency and DRY
const (
	attrStatus    = "status"
	attrOperation = "operation"
	attrService   = "service"
	attrResult    = "result"
	attrProvider  = "provider"
	attrKind      = "kind"
	attrNamespace = "namespace"
	attrOutcome   = "outcome"
	attrThread    = "thread_id"
)

// Metrics provides methods for recording observability metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Mail provider metrics
	googleAPIOperationsTotal   metric.Int64Counter
	googleAPIOperationDuration metric.Float64Histogram

	// Model provider metrics
	modelRequestsTotal   metric.Int64Counter
	modelRequestDuration metric.Float64Histogram

	// Label reconciliation metrics
	labelWritesTotal metric.Int64Counter
	retriesTotal     metric.Int64Counter
	inboundTotal     metric.Int64Counter

	// Session metrics
	activeSessions    metric.Int64UpDownCounter
	operationsTotal   metric.Int64Counter
	operationDuration metric.Float64Histogram
	rejectedTotal     metric.Int64Counter

	// History metrics
	historyWarningsTotal metric.Int64Counter

	// detailedLabels controls whether high-cardinality labels are included
	detailedLabels bool
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The detailedLabels parameter controls whether high-cardinality labels are included.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{
		detailedLabels: detailedLabels,
	}

	var err error

	m.googleAPIOperationsTotal, err = meter.Int64Counter(
		"google_api_operations_total",
		metric.WithDescription("Total number of Google API operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create google_api_operations_total counter: %w", err)
	}

	m.googleAPIOperationDuration, err = meter.Float64Histogram(
		"google_api_operation_duration_seconds",
		metric.WithDescription("Google API operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create google_api_operation_duration_seconds histogram: %w", err)
	}

	m.modelRequestsTotal, err = meter.Int64Counter(
		"model_requests_total",
		metric.WithDescription("Total number of draft generator and classifier requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create model_requests_total counter: %w", err)
	}

	m.modelRequestDuration, err = meter.Float64Histogram(
		"model_request_duration_seconds",
		metric.WithDescription("Model request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 20.0, 30.0, 60.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create model_request_duration_seconds histogram: %w", err)
	}

	m.labelWritesTotal, err = meter.Int64Counter(
		"label_writes_total",
		metric.WithDescription("Per-message label reconciliation outcomes"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create label_writes_total counter: %w", err)
	}

	m.retriesTotal, err = meter.Int64Counter(
		"retries_total",
		metric.WithDescription("Total number of retried provider calls"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retries_total counter: %w", err)
	}

	m.inboundTotal, err = meter.Int64Counter(
		"inbound_messages_total",
		metric.WithDescription("Inbound message events by reclassification outcome"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create inbound_messages_total counter: %w", err)
	}

	m.activeSessions, err = meter.Int64UpDownCounter(
		"active_sessions",
		metric.WithDescription("Number of open thread sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active_sessions gauge: %w", err)
	}

	m.operationsTotal, err = meter.Int64Counter(
		"session_operations_total",
		metric.WithDescription("Draft session operations by outcome"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session_operations_total counter: %w", err)
	}

	m.operationDuration, err = meter.Float64Histogram(
		"session_operation_duration_seconds",
		metric.WithDescription("Draft session operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session_operation_duration_seconds histogram: %w", err)
	}

	m.rejectedTotal, err = meter.Int64Counter(
		"rejected_triggers_total",
		metric.WithDescription("Triggers ignored because another operation was in progress"),
		metric.WithUnit("{trigger}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rejected_triggers_total counter: %w", err)
	}

	m.historyWarningsTotal, err = meter.Int64Counter(
		"history_warnings_total",
		metric.WithDescription("History writes that fell back to memory"),
		metric.WithUnit("{warning}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create history_warnings_total counter: %w", err)
	}

	return m, nil
}

// RecordGoogleAPIOperation records a Google API operation with service, operation,
// status, and duration.
func (m *Metrics) RecordGoogleAPIOperation(ctx context.Context, service, operation, status string, duration time.Duration) {
	if m == nil || m.googleAPIOperationsTotal == nil {
		return // Instrumentation not initialized
	}

	attrs := metric.WithAttributes(
		attribute.String(attrService, service),
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	)

	m.googleAPIOperationsTotal.Add(ctx, 1, attrs)
	m.googleAPIOperationDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordModelRequest records one request to a model provider.
// kind is "draft" or "classify".
func (m *Metrics) RecordModelRequest(ctx context.Context, provider, kind, status string, duration time.Duration) {
	if m == nil || m.modelRequestsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrProvider, provider),
		attribute.String(attrKind, kind),
		attribute.String(attrStatus, status),
	)

	m.modelRequestsTotal.Add(ctx, 1, attrs)
	m.modelRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordLabelWrite records the outcome of reconciling one message.
// result is one of "success", "unchanged", "error".
func (m *Metrics) RecordLabelWrite(ctx context.Context, namespace, result string) {
	if m == nil || m.labelWritesTotal == nil {
		return
	}

	m.labelWritesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrNamespace, namespace),
		attribute.String(attrResult, result),
	))
}

// RecordRetry records one retry of the named operation.
func (m *Metrics) RecordRetry(ctx context.Context, operation string) {
	if m == nil || m.retriesTotal == nil {
		return
	}

	m.retriesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOperation, operation)))
}

// RecordInbound records how an inbound message event was handled.
func (m *Metrics) RecordInbound(ctx context.Context, outcome string) {
	if m == nil || m.inboundTotal == nil {
		return
	}

	m.inboundTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOutcome, outcome)))
}

// RecordSessionOperation records a finished draft session operation.
// The thread id is only attached when detailed labels are enabled.
func (m *Metrics) RecordSessionOperation(ctx context.Context, operation, outcome, threadID string, duration time.Duration) {
	if m == nil || m.operationsTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrOperation, operation),
		attribute.String(attrOutcome, outcome),
	}

	// Only add high-cardinality labels if explicitly enabled
	if m.detailedLabels && threadID != "" {
		attrs = append(attrs, attribute.String(attrThread, threadID))
	}

	m.operationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.operationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordRejectedTrigger records a trigger ignored because the session was busy.
func (m *Metrics) RecordRejectedTrigger(ctx context.Context, operation string) {
	if m == nil || m.rejectedTotal == nil {
		return
	}

	m.rejectedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOperation, operation)))
}

// RecordHistoryWarning records a history write that degraded to memory.
func (m *Metrics) RecordHistoryWarning(ctx context.Context, operation string) {
	if m == nil || m.historyWarningsTotal == nil {
		return
	}

	m.historyWarningsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOperation, operation)))
}

// IncrementActiveSessions increments the active sessions counter.
func (m *Metrics) IncrementActiveSessions(ctx context.Context) {
	if m == nil || m.activeSessions == nil {
		return
	}

	m.activeSessions.Add(ctx, 1)
}

// DecrementActiveSessions decrements the active sessions counter.
func (m *Metrics) DecrementActiveSessions(ctx context.Context) {
	if m == nil || m.activeSessions == nil {
		return
	}

	m.activeSessions.Add(ctx, -1)
}
