package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EvaluationMetrics tracks the policy engine.
//
// Metrics:
//   - warden_evaluations_total: evaluated batches by disposition
//   - warden_evaluation_duration_seconds: batch evaluation latency
//   - warden_rules_fired_total: rules that contributed to a decision
//   - warden_batch_risk_cost: aggregate risk cost per batch
type EvaluationMetrics struct {
	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	rulesFiredTotal    *prometheus.CounterVec
	batchRiskCost      prometheus.Histogram
}

// NewEvaluationMetrics creates and registers the engine instruments.
func NewEvaluationMetrics(cfg *Config, registry *prometheus.Registry) *EvaluationMetrics {
	em := &EvaluationMetrics{
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "evaluations_total",
				Help:      "Total number of evaluated action batches",
			},
			[]string{"disposition"},
		),

		evaluationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "Duration of batch evaluation in seconds",
				Buckets:   cfg.EvalDurationBuckets,
			},
		),

		rulesFiredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "rules_fired_total",
				Help:      "Total number of rules that contributed to a decision",
			},
			[]string{"policy_id", "kind", "effect"},
		),

		batchRiskCost: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "batch_risk_cost",
				Help:      "Aggregate risk cost of evaluated batches",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
	}

	registry.MustRegister(
		em.evaluationsTotal,
		em.evaluationDuration,
		em.rulesFiredTotal,
		em.batchRiskCost,
	)
	return em
}

// RecordBatch records one evaluated batch.
func (em *EvaluationMetrics) RecordBatch(disposition string, duration time.Duration, riskCost float64) {
	em.evaluationsTotal.WithLabelValues(disposition).Inc()
	em.evaluationDuration.Observe(duration.Seconds())
	if riskCost > 0 {
		em.batchRiskCost.Observe(riskCost)
	}
}

// RecordRuleFired records a contributing rule. The policy ID rather
// than the rule ID keeps cardinality bounded by the policy set.
func (em *EvaluationMetrics) RecordRuleFired(policyID, kind, effect string) {
	em.rulesFiredTotal.WithLabelValues(policyID, kind, effect).Inc()
}
