package canary

import (
	"context"
	"fmt"
	"time"
)

// State is the rollout lifecycle state.
type State string

const (
	// StateRamping means the traffic fraction is still increasing.
	StateRamping State = "ramping"

	// StateHolding means the fraction reached 100% and the rollout is
	// observing before promotion.
	StateHolding State = "holding"

	// StatePromoted is terminal: the rollout completed at full traffic.
	StatePromoted State = "promoted"

	// StateRolledBack is terminal: thresholds were breached, the
	// fraction is zero and the policy has been force-disabled.
	StateRolledBack State = "rolled_back"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StatePromoted || s == StateRolledBack
}

// Threshold is one SLO bound checked at each observation tick. A
// missing metric counts as a breach: no data is not good news.
type Threshold struct {
	// Metric names the SLO metric, e.g. "error_rate" or "epc".
	Metric string `json:"metric"`

	// Min and Max bound the acceptable range. Nil means unbounded on
	// that side.
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// Breached reports whether a metric value violates the threshold.
func (t Threshold) Breached(value float64) bool {
	if t.Min != nil && value < *t.Min {
		return true
	}
	if t.Max != nil && value > *t.Max {
		return true
	}
	return false
}

func (t Threshold) String() string {
	switch {
	case t.Min != nil && t.Max != nil:
		return fmt.Sprintf("%s in [%g, %g]", t.Metric, *t.Min, *t.Max)
	case t.Min != nil:
		return fmt.Sprintf("%s >= %g", t.Metric, *t.Min)
	case t.Max != nil:
		return fmt.Sprintf("%s <= %g", t.Metric, *t.Max)
	}
	return t.Metric
}

// Rollout tracks one policy version moving through canary.
type Rollout struct {
	// ID is a UUID assigned when the rollout begins.
	ID string `json:"id"`

	// PolicyID and Version identify the change under canary. At most
	// one non-terminal rollout exists per pair.
	PolicyID string `json:"policy_id"`
	Version  int    `json:"version"`

	// Fraction is the current traffic fraction in [0, 1].
	Fraction float64 `json:"fraction"`

	// Step is how much the fraction grows per healthy tick while
	// ramping.
	Step float64 `json:"step"`

	// Thresholds are the SLO bounds observed at each tick.
	Thresholds []Threshold `json:"thresholds"`

	// RollbackAfter is how many consecutive breached ticks force a
	// rollback.
	RollbackAfter int `json:"rollback_after"`

	// PromoteAfter is how many consecutive healthy ticks at full
	// fraction promote the rollout.
	PromoteAfter int `json:"promote_after"`

	State State `json:"state"`

	// BreachStreak and PassStreak are the consecutive tick counters.
	// Any healthy tick resets the breach streak and vice versa.
	BreachStreak int `json:"breach_streak"`
	PassStreak   int `json:"pass_streak"`

	// Reason explains a rollback.
	Reason string `json:"reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MetricsSource supplies current SLO metric values for a policy's
// traffic. Implementations live with the telemetry collaborator; the
// controller only reads.
type MetricsSource interface {
	Metrics(ctx context.Context, policyID string) (map[string]float64, error)
}

// Storage persists rollouts. Implementations must be safe for
// concurrent use.
type Storage interface {
	// Save upserts a rollout by ID.
	Save(ctx context.Context, r *Rollout) error

	// Get returns one rollout by ID.
	Get(ctx context.Context, id string) (*Rollout, error)

	// Active returns the non-terminal rollout for a (policy, version)
	// pair, or nil when there is none.
	Active(ctx context.Context, policyID string, version int) (*Rollout, error)

	// ListActive returns all non-terminal rollouts, oldest first.
	ListActive(ctx context.Context) ([]*Rollout, error)

	// Close releases backend resources.
	Close() error
}
