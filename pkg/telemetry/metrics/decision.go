package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DecisionMetrics tracks the decision audit store.
//
// Metrics:
//   - warden_decision_writes_total: persistence attempts by backend and status
//   - warden_decision_write_duration_seconds: persistence latency
//   - warden_decisions_dropped_total: records lost to a full async buffer
//   - warden_decisions_pruned_total: records removed by retention sweeps
type DecisionMetrics struct {
	writesTotal   *prometheus.CounterVec
	writeDuration prometheus.Histogram
	droppedTotal  prometheus.Counter
	prunedTotal   prometheus.Counter
}

// NewDecisionMetrics creates and registers the audit store instruments.
func NewDecisionMetrics(cfg *Config, registry *prometheus.Registry) *DecisionMetrics {
	dm := &DecisionMetrics{
		writesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "decision_writes_total",
				Help:      "Total decision record persistence attempts",
			},
			[]string{"backend", "status"},
		),

		writeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "decision_write_duration_seconds",
				Help:      "Duration of decision record writes in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
			},
		),

		droppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "decisions_dropped_total",
				Help:      "Decision records dropped because the async buffer was full",
			},
		),

		prunedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "decisions_pruned_total",
				Help:      "Decision records removed by retention sweeps",
			},
		),
	}

	registry.MustRegister(
		dm.writesTotal,
		dm.writeDuration,
		dm.droppedTotal,
		dm.prunedTotal,
	)
	return dm
}

// RecordWrite records one persistence attempt.
func (dm *DecisionMetrics) RecordWrite(backend, status string, duration time.Duration) {
	dm.writesTotal.WithLabelValues(backend, status).Inc()
	dm.writeDuration.Observe(duration.Seconds())
}

// RecordDropped records a record lost to backpressure.
func (dm *DecisionMetrics) RecordDropped() {
	dm.droppedTotal.Inc()
}

// RecordPruned records records removed by a retention sweep.
func (dm *DecisionMetrics) RecordPruned(count int) {
	if count > 0 {
		dm.prunedTotal.Add(float64(count))
	}
}
