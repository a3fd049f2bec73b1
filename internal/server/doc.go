// Package server exposes the operational endpoints of a long-running
// inboxtriage watcher.
//
// MetricsServer serves, on a dedicated address:
//   - /metrics: Prometheus metrics from the instrumentation provider
//   - /healthz: liveness
//   - /readyz: readiness, failing when the watcher has not completed a
//     poll within the allowed silence
//
// Only the watch command starts it; interactive commands export nothing.
package server
