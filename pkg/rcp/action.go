package rcp

import (
	"math"
	"time"
)

// ProposedAction is one state change proposed by an external producer
// (traffic bandit, budget allocator). It is immutable once submitted.
type ProposedAction struct {
	// ID identifies the action within its batch.
	ID string `json:"id"`

	// Type names the kind of change, e.g. "traffic_weight" or
	// "daily_budget".
	Type string `json:"type"`

	// Target is the entity the change applies to (offer, campaign,
	// landing page identifier).
	Target string `json:"target"`

	// CurrentValue is the live value before the change.
	CurrentValue float64 `json:"current_value"`

	// ProposedValue is the value the producer wants to apply.
	ProposedValue float64 `json:"proposed_value"`

	// RiskScore is the producer's risk estimate in [0,1].
	RiskScore float64 `json:"risk_score"`

	// Justification is free text explaining the proposal.
	Justification string `json:"justification,omitempty"`
}

// DeltaPct returns the absolute percentage change of the proposed value
// relative to the current value. A zero current value with a non-zero
// proposal is an unbounded change and returns +Inf.
func (a *ProposedAction) DeltaPct() float64 {
	if a.CurrentValue == 0 {
		if a.ProposedValue == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return math.Abs(a.ProposedValue-a.CurrentValue) / math.Abs(a.CurrentValue) * 100
}

// NoOp reports whether the action proposes no change. No-op actions are
// always allowed, regardless of limit or guard configuration.
func (a *ProposedAction) NoOp() bool {
	return a.ProposedValue == a.CurrentValue
}

// Malformed returns a non-empty reason when the action carries data the
// evaluator cannot trust. Malformed actions are blocked, never silently
// allowed.
func (a *ProposedAction) Malformed() string {
	switch {
	case a.ID == "":
		return "missing action id"
	case a.Target == "":
		return "missing target"
	case a.Type == "":
		return "missing action type"
	case math.IsNaN(a.CurrentValue) || math.IsInf(a.CurrentValue, 0):
		return "current value is not finite"
	case math.IsNaN(a.ProposedValue) || math.IsInf(a.ProposedValue, 0):
		return "proposed value is not finite"
	case math.IsNaN(a.RiskScore) || a.RiskScore < 0 || a.RiskScore > 1:
		return "risk score outside [0,1]"
	}
	return ""
}

// Batch is a set of proposed actions submitted together by one producer.
type Batch struct {
	// Source identifies the producer (e.g. "bandit-v3").
	Source string `json:"source"`

	// Algorithm is the algorithm identifier used for ScopeAlgorithm
	// policy resolution.
	Algorithm string `json:"algorithm,omitempty"`

	// Segment is the traffic segment identifier used for ScopeSegment
	// policy resolution.
	Segment string `json:"segment,omitempty"`

	// Actions are the proposed changes, in submission order.
	Actions []*ProposedAction `json:"actions"`
}

// Context carries everything about the world at evaluation time that a
// rule may read. It is captured alongside a decision record so replay
// sees the identical inputs: the evaluator itself never consults the
// clock or live telemetry.
type Context struct {
	// EvaluatedAt is the evaluation timestamp used by time-window gates.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Region is the traffic region for geography gates.
	Region string `json:"region,omitempty"`

	// Metrics are point-in-time metric values addressable from rules
	// via "metric:<name>" fields.
	Metrics map[string]float64 `json:"metrics,omitempty"`
}
