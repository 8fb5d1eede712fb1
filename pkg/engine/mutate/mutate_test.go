package mutate

import (
	"math"
	"testing"

	"vantage-hq/warden/pkg/rcp"
)

func f64(v float64) *float64 { return &v }

func TestApply(t *testing.T) {
	tests := []struct {
		name        string
		rule        rcp.MutationRule
		current     float64
		proposed    float64
		want        float64
		wantChanged bool
	}{
		{
			"scale up",
			rcp.MutationRule{Op: rcp.OpScale, Factor: 0.5},
			100, 80, 40, true,
		},
		{
			"scale by one is identity",
			rcp.MutationRule{Op: rcp.OpScale, Factor: 1},
			100, 80, 80, false,
		},
		{
			"offset",
			rcp.MutationRule{Op: rcp.OpOffset, Delta: -5},
			100, 80, 75, true,
		},
		{
			"clamp delta forty percent down to fifteen",
			rcp.MutationRule{Op: rcp.OpClampDeltaPct, MaxDeltaPct: 15},
			100, 140, 115, true,
		},
		{
			"clamp delta within bound untouched",
			rcp.MutationRule{Op: rcp.OpClampDeltaPct, MaxDeltaPct: 15},
			100, 110, 110, false,
		},
		{
			"clamp delta negative direction",
			rcp.MutationRule{Op: rcp.OpClampDeltaPct, MaxDeltaPct: 10},
			200, 150, 180, true,
		},
		{
			"clamp delta zero baseline",
			rcp.MutationRule{Op: rcp.OpClampDeltaPct, MaxDeltaPct: 20},
			0, 50, 0, true,
		},
		{
			"clamp value max",
			rcp.MutationRule{Op: rcp.OpClampValue, Max: f64(90)},
			100, 120, 90, true,
		},
		{
			"clamp value min",
			rcp.MutationRule{Op: rcp.OpClampValue, Min: f64(10)},
			100, 5, 10, true,
		},
		{
			"clamp value inside bounds",
			rcp.MutationRule{Op: rcp.OpClampValue, Min: f64(10), Max: f64(90)},
			100, 50, 50, false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(&tt.rule, tt.current, tt.proposed)
			if err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			if math.Abs(got.Value-tt.want) > 1e-9 {
				t.Errorf("Apply() value = %v, want %v", got.Value, tt.want)
			}
			if got.Changed != tt.wantChanged {
				t.Errorf("Apply() changed = %v, want %v", got.Changed, tt.wantChanged)
			}
		})
	}
}

func TestApplyUnknownOp(t *testing.T) {
	_, err := Apply(&rcp.MutationRule{Op: "invert"}, 1, 2)
	if err == nil {
		t.Fatal("expected error for unknown op")
	}
}

func TestChainSequentialComposition(t *testing.T) {
	// Scale halves the proposal, then the delta clamp sees the scaled
	// value: 100 current, 300 proposed -> 150 after scale -> 120 after
	// a 20% delta clamp.
	rules := []*rcp.MutationRule{
		{Op: rcp.OpScale, Factor: 0.5},
		{Op: rcp.OpClampDeltaPct, MaxDeltaPct: 20},
	}

	v, results, err := Chain(rules, 100, 300)
	if err != nil {
		t.Fatalf("Chain() error = %v", err)
	}
	if math.Abs(v-120) > 1e-9 {
		t.Errorf("Chain() = %v, want 120", v)
	}
	if len(results) != 2 {
		t.Fatalf("result count = %d, want 2", len(results))
	}
	if !results[0].Changed || !results[1].Changed {
		t.Error("both mutations should report a change")
	}
}

func TestChainIdempotent(t *testing.T) {
	rules := []*rcp.MutationRule{
		{Op: rcp.OpClampDeltaPct, MaxDeltaPct: 15},
	}

	first, _, err := Chain(rules, 100, 140)
	if err != nil {
		t.Fatalf("Chain() error = %v", err)
	}
	second, _, err := Chain(rules, 100, 140)
	if err != nil {
		t.Fatalf("Chain() error = %v", err)
	}
	if first != second {
		t.Errorf("repeated evaluation differs: %v vs %v", first, second)
	}
}
