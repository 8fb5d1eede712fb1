// Package tracing exports warden spans over OTLP/gRPC.
//
// The Tracer wraps the OpenTelemetry SDK behind a small surface: New,
// Start, Shutdown. When disabled it hands out noop spans, so callers
// can trace unconditionally.
//
// Evaluation itself stays untraced to remain pure; spans are opened at
// the API layer around evaluation, recording, replay, and activation.
package tracing
