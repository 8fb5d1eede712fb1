package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config controls the metrics subsystem.
type Config struct {
	// Enabled turns metric recording on. A disabled collector still
	// registers its instruments so /metrics stays scrapeable.
	Enabled bool `yaml:"enabled"`

	// Namespace prefixes every metric name. Default: "warden".
	Namespace string `yaml:"namespace"`

	// EvalDurationBuckets are the histogram buckets for batch
	// evaluation latency, in seconds. Evaluation is pure and fast, so
	// the defaults span 10µs to 160ms.
	EvalDurationBuckets []float64 `yaml:"eval_duration_buckets"`
}

// Collector owns the Prometheus registry and all warden instruments.
// It is safe for concurrent use.
type Collector struct {
	config   *Config
	registry *prometheus.Registry

	evaluation *EvaluationMetrics
	decision   *DecisionMetrics
	governance *GovernanceMetrics
}

// NewCollector creates a collector. A nil registry creates a private
// one; pass a shared registry to co-host with other collectors.
func NewCollector(cfg *Config, registry *prometheus.Registry) *Collector {
	if cfg == nil {
		cfg = &Config{Enabled: true}
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "warden"
	}
	if len(cfg.EvalDurationBuckets) == 0 {
		cfg.EvalDurationBuckets = prometheus.ExponentialBuckets(0.00001, 2, 15)
	}

	return &Collector{
		config:     cfg,
		registry:   registry,
		evaluation: NewEvaluationMetrics(cfg, registry),
		decision:   NewDecisionMetrics(cfg, registry),
		governance: NewGovernanceMetrics(cfg, registry),
	}
}

// RecordEvaluation records one evaluated batch: its disposition
// ("allowed", "modified", "blocked"), how long evaluation took, and
// the batch's aggregate risk cost.
func (c *Collector) RecordEvaluation(disposition string, duration time.Duration, riskCost float64) {
	if !c.config.Enabled {
		return
	}
	c.evaluation.RecordBatch(disposition, duration, riskCost)
}

// RecordRuleFired records a rule that contributed to a decision.
func (c *Collector) RecordRuleFired(policyID, ruleKind, effect string) {
	if !c.config.Enabled {
		return
	}
	c.evaluation.RecordRuleFired(policyID, ruleKind, effect)
}

// RecordDecisionWrite records one attempt to persist a decision
// record. Status is "written", "duplicate", or "error".
func (c *Collector) RecordDecisionWrite(backend, status string, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.decision.RecordWrite(backend, status, duration)
}

// RecordDecisionDropped records a decision lost to a full async buffer.
func (c *Collector) RecordDecisionDropped() {
	if !c.config.Enabled {
		return
	}
	c.decision.RecordDropped()
}

// RecordDecisionsPruned records how many records a retention sweep removed.
func (c *Collector) RecordDecisionsPruned(count int) {
	if !c.config.Enabled {
		return
	}
	c.decision.RecordPruned(count)
}

// RecordApprovalTransition records an approval request entering a
// state ("pending", "approved", "applied", "rejected").
func (c *Collector) RecordApprovalTransition(state string) {
	if !c.config.Enabled {
		return
	}
	c.governance.RecordApprovalTransition(state)
}

// SetApprovalsPending updates the pending approval request gauge.
func (c *Collector) SetApprovalsPending(n int) {
	if !c.config.Enabled {
		return
	}
	c.governance.SetApprovalsPending(n)
}

// SetCanaryFraction updates the exposure fraction gauge for a rollout.
func (c *Collector) SetCanaryFraction(policyID string, fraction float64) {
	if !c.config.Enabled {
		return
	}
	c.governance.SetCanaryFraction(policyID, fraction)
}

// RecordCanaryBreach records a health threshold breach on a rollout.
func (c *Collector) RecordCanaryBreach(policyID, metric string) {
	if !c.config.Enabled {
		return
	}
	c.governance.RecordCanaryBreach(policyID, metric)
}

// RecordCanaryOutcome records a rollout reaching a terminal state
// ("promoted" or "rolled_back").
func (c *Collector) RecordCanaryOutcome(policyID, outcome string) {
	if !c.config.Enabled {
		return
	}
	c.governance.RecordCanaryOutcome(policyID, outcome)
}

// Registry returns the Prometheus registry backing this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
