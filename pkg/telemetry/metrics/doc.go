// Package metrics provides Prometheus instrumentation for warden.
//
// The Collector owns a private registry and groups the instruments by
// concern: evaluation metrics for the policy engine, decision metrics
// for the audit store, and governance metrics for the approval and
// canary workflows. All metrics share the "warden" namespace.
//
// Typical wiring:
//
//	collector := metrics.NewCollector(&metrics.Config{Enabled: true}, nil)
//	mux.Handle("/metrics", collector.Handler())
//
// Every Record* method is a no-op when the collector is disabled, so
// call sites never need to guard.
package metrics
