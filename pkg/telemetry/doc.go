// Package telemetry groups the observability subsystems of warden.
//
// Subpackages:
//
//   - metrics: Prometheus instrumentation for evaluation, decision
//     recording, and governance workflows
//   - tracing: OpenTelemetry span export over OTLP/gRPC
//   - health: liveness and readiness checks for the admin server
//   - logging: structured log setup shared by the binaries
//
// Each subpackage carries its own Config and can be disabled
// independently; a disabled subsystem costs one branch per call.
package telemetry
