package mutate

import (
	"fmt"
	"math"

	"vantage-hq/warden/pkg/rcp"
)

// Result describes one mutation application.
type Result struct {
	// Value is the proposed value after the mutation.
	Value float64

	// Changed reports whether the mutation altered the value.
	Changed bool

	// Detail is a short operator-facing description of what happened.
	Detail string
}

// Apply runs a single mutation against a proposed value. The current
// value anchors percentage-based transforms so that repeated
// application to the same proposal is idempotent.
func Apply(m *rcp.MutationRule, current, proposed float64) (Result, error) {
	switch m.Op {
	case rcp.OpScale:
		v := proposed * m.Factor
		return Result{
			Value:   v,
			Changed: v != proposed,
			Detail:  fmt.Sprintf("scaled by %g: %g -> %g", m.Factor, proposed, v),
		}, nil

	case rcp.OpOffset:
		v := proposed + m.Delta
		return Result{
			Value:   v,
			Changed: v != proposed,
			Detail:  fmt.Sprintf("offset by %g: %g -> %g", m.Delta, proposed, v),
		}, nil

	case rcp.OpClampDeltaPct:
		return clampDeltaPct(m.MaxDeltaPct, current, proposed)

	case rcp.OpClampValue:
		v := proposed
		if m.Min != nil && v < *m.Min {
			v = *m.Min
		}
		if m.Max != nil && v > *m.Max {
			v = *m.Max
		}
		return Result{
			Value:   v,
			Changed: v != proposed,
			Detail:  fmt.Sprintf("clamped %g -> %g", proposed, v),
		}, nil

	default:
		return Result{Value: proposed}, fmt.Errorf("unknown mutation op %q", m.Op)
	}
}

// clampDeltaPct limits the percentage change of proposed relative to
// current. A zero current value cannot anchor a percentage change, so
// any non-zero proposal collapses to the current value.
func clampDeltaPct(maxPct, current, proposed float64) (Result, error) {
	if current == 0 {
		if proposed == 0 {
			return Result{Value: proposed}, nil
		}
		return Result{
			Value:   0,
			Changed: true,
			Detail:  fmt.Sprintf("delta unbounded from zero baseline, reset %g -> 0", proposed),
		}, nil
	}

	maxDelta := math.Abs(current) * maxPct / 100
	delta := proposed - current
	if math.Abs(delta) <= maxDelta {
		return Result{Value: proposed}, nil
	}

	v := current + math.Copysign(maxDelta, delta)
	return Result{
		Value:   v,
		Changed: true,
		Detail:  fmt.Sprintf("delta clamped to %g%%: %g -> %g", maxPct, proposed, v),
	}, nil
}

// Chain applies mutations in order; each mutation sees the value
// produced by the previous one. It returns the final value and the
// per-mutation results in application order.
func Chain(rules []*rcp.MutationRule, current, proposed float64) (float64, []Result, error) {
	results := make([]Result, 0, len(rules))
	v := proposed
	for _, m := range rules {
		res, err := Apply(m, current, v)
		if err != nil {
			return v, results, err
		}
		results = append(results, res)
		v = res.Value
	}
	return v, results, nil
}
