// Package instrumentation provides OpenTelemetry metrics and tracing for
// inboxtriage, plus the audit trail of label changes.
//
// # Metrics
//
// Provider calls:
//   - google_api_operations_total / google_api_operation_duration_seconds
//   - model_requests_total / model_request_duration_seconds
//
// Label reconciliation:
//   - label_writes_total: per-message outcome (success, unchanged, error) by namespace
//   - retries_total: retried provider calls by operation
//   - inbound_messages_total: inbound events by outcome (classified, sent, invalid, failed, rejected)
//
// Draft sessions:
//   - active_sessions
//   - session_operations_total / session_operation_duration_seconds
//   - rejected_triggers_total
//   - history_warnings_total
//
// # Tracing
//
// Client spans are created for every Gmail and model call
// (<service>.<operation>); internal spans cover label batches and
// session operations.
//
// # Configuration
//
// Instrumentation can be configured via environment variables or the
// instrumentation section of the config file:
//   - INSTRUMENTATION_ENABLED: Enable/disable instrumentation (default: false)
//   - METRICS_EXPORTER: prometheus, otlp or stdout (default: prometheus)
//   - TRACING_EXPORTER: otlp, stdout or none (default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint for traces/metrics
//   - OTEL_TRACES_SAMPLER_ARG: Sampling rate (0.0 to 1.0, default: 0.1)
//   - METRICS_ADDR: listen address of the metrics endpoint (default: 127.0.0.1:9464)
//
// # Example Usage
//
//	provider, err := instrumentation.NewProvider(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	m := provider.Metrics()
//	m.RecordLabelWrite(ctx, "workflow_", "success")
package instrumentation
