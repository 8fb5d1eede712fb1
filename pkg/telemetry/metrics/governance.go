package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// GovernanceMetrics tracks the approval and canary workflows.
//
// Metrics:
//   - warden_approval_transitions_total: approval requests entering a state
//   - warden_approvals_pending: currently pending approval requests
//   - warden_canary_fraction: current exposure fraction per rollout
//   - warden_canary_breaches_total: health threshold breaches
//   - warden_canary_outcomes_total: rollouts reaching a terminal state
type GovernanceMetrics struct {
	approvalTransitions *prometheus.CounterVec
	approvalsPending    prometheus.Gauge
	canaryFraction      *prometheus.GaugeVec
	canaryBreaches      *prometheus.CounterVec
	canaryOutcomes      *prometheus.CounterVec
}

// NewGovernanceMetrics creates and registers the workflow instruments.
func NewGovernanceMetrics(cfg *Config, registry *prometheus.Registry) *GovernanceMetrics {
	gm := &GovernanceMetrics{
		approvalTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "approval_transitions_total",
				Help:      "Approval requests entering a workflow state",
			},
			[]string{"state"},
		),

		approvalsPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Name:      "approvals_pending",
				Help:      "Approval requests currently awaiting sign-off",
			},
		),

		canaryFraction: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Name:      "canary_fraction",
				Help:      "Current exposure fraction of a canary rollout",
			},
			[]string{"policy_id"},
		),

		canaryBreaches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "canary_breaches_total",
				Help:      "Health threshold breaches observed on canary rollouts",
			},
			[]string{"policy_id", "metric"},
		),

		canaryOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "canary_outcomes_total",
				Help:      "Canary rollouts reaching a terminal state",
			},
			[]string{"policy_id", "outcome"},
		),
	}

	registry.MustRegister(
		gm.approvalTransitions,
		gm.approvalsPending,
		gm.canaryFraction,
		gm.canaryBreaches,
		gm.canaryOutcomes,
	)
	return gm
}

// RecordApprovalTransition records a request entering a state.
func (gm *GovernanceMetrics) RecordApprovalTransition(state string) {
	gm.approvalTransitions.WithLabelValues(state).Inc()
}

// SetApprovalsPending updates the pending request gauge.
func (gm *GovernanceMetrics) SetApprovalsPending(n int) {
	gm.approvalsPending.Set(float64(n))
}

// SetCanaryFraction updates a rollout's exposure gauge.
func (gm *GovernanceMetrics) SetCanaryFraction(policyID string, fraction float64) {
	gm.canaryFraction.WithLabelValues(policyID).Set(fraction)
}

// RecordCanaryBreach records a threshold breach.
func (gm *GovernanceMetrics) RecordCanaryBreach(policyID, metric string) {
	gm.canaryBreaches.WithLabelValues(policyID, metric).Inc()
}

// RecordCanaryOutcome records a terminal rollout state.
func (gm *GovernanceMetrics) RecordCanaryOutcome(policyID, outcome string) {
	gm.canaryOutcomes.WithLabelValues(policyID, outcome).Inc()
}
