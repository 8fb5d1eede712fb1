package engine

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"vantage-hq/warden/pkg/rcp"
)

var noon = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func testCtx() *rcp.Context {
	return &rcp.Context{EvaluatedAt: noon, Region: "us"}
}

func enforcePolicy(id string, created time.Time, rules ...*rcp.Rule) *rcp.PolicyVersion {
	return &rcp.PolicyVersion{
		Policy: &rcp.Policy{
			ID:        id,
			Name:      id,
			Scope:     rcp.ScopeGlobal,
			Mode:      rcp.ModeEnforce,
			Enabled:   true,
			Authority: rcp.AuthorityOperator,
			Priority:  50,
			Rules:     rules,
			CreatedAt: created,
		},
		Version: 1,
	}
}

func guardRule(id string, field rcp.Field, op rcp.CompareOp, v float64) *rcp.Rule {
	return &rcp.Rule{ID: id, Kind: rcp.KindGuard,
		Guard: &rcp.GuardRule{When: rcp.Condition{Field: field, Op: op, Value: v}}}
}

func action(id string, current, proposed, risk float64) *rcp.ProposedAction {
	return &rcp.ProposedAction{
		ID: id, Type: "traffic_weight", Target: "offer-" + id,
		CurrentValue: current, ProposedValue: proposed, RiskScore: risk,
	}
}

// Scenario: a global guard on risk_score > 0.9 blocks a 0.95-risk
// action and names the guard in the fired-rules list.
func TestGuardBlocksHighRisk(t *testing.T) {
	e := New(nil)
	policies := []*rcp.PolicyVersion{
		enforcePolicy("risk-ceiling", noon, guardRule("block-high-risk", rcp.FieldRiskScore, rcp.OpGT, 0.9)),
	}
	batch := &rcp.Batch{Source: "bandit-v3", Actions: []*rcp.ProposedAction{
		action("a1", 100, 120, 0.95),
	}}

	res, err := e.Evaluate(context.Background(), policies, batch, testCtx())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if res.Batch != rcp.BatchBlocked {
		t.Errorf("batch = %v, want blocked", res.Batch)
	}
	ar := res.Actions[0]
	if ar.Disposition != rcp.DispositionBlocked || ar.Reason != ReasonGuard {
		t.Errorf("disposition = %v reason = %q", ar.Disposition, ar.Reason)
	}
	if ar.FinalValue != 100 {
		t.Errorf("blocked action final value = %v, want current value 100", ar.FinalValue)
	}
	if len(ar.Fired) != 1 || ar.Fired[0].RuleID != "block-high-risk" {
		t.Errorf("fired rules = %+v, want the guard", ar.Fired)
	}
}

// Scenario: clamp delta to 15% turns a 40% increase from 100 into 115.
func TestMutationClampDelta(t *testing.T) {
	e := New(nil)
	policies := []*rcp.PolicyVersion{
		enforcePolicy("delta-clamp", noon, &rcp.Rule{
			ID: "clamp", Kind: rcp.KindMutation,
			Mutation: &rcp.MutationRule{Op: rcp.OpClampDeltaPct, MaxDeltaPct: 15},
		}),
	}
	batch := &rcp.Batch{Source: "bandit-v3", Actions: []*rcp.ProposedAction{
		action("a1", 100, 140, 0.3),
	}}

	res, err := e.Evaluate(context.Background(), policies, batch, testCtx())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	ar := res.Actions[0]
	if ar.Disposition != rcp.DispositionModified {
		t.Errorf("disposition = %v, want modified", ar.Disposition)
	}
	if math.Abs(ar.FinalValue-115) > 1e-9 {
		t.Errorf("final value = %v, want 115", ar.FinalValue)
	}
	if ar.PreMutationValue != 140 {
		t.Errorf("pre-mutation value = %v, want 140", ar.PreMutationValue)
	}
}

// Scenario: two equal-priority policies compose mutations in creation
// order.
func TestEqualPriorityMutationsComposeInCreationOrder(t *testing.T) {
	e := New(nil)
	scale := func(id string, factor float64, created time.Time) *rcp.PolicyVersion {
		return enforcePolicy(id, created, &rcp.Rule{
			ID: "scale", Kind: rcp.KindMutation,
			Mutation: &rcp.MutationRule{Op: rcp.OpScale, Factor: factor},
		})
	}
	offset := func(id string, delta float64, created time.Time) *rcp.PolicyVersion {
		return enforcePolicy(id, created, &rcp.Rule{
			ID: "offset", Kind: rcp.KindMutation,
			Mutation: &rcp.MutationRule{Op: rcp.OpOffset, Delta: delta},
		})
	}

	// P1 (created first) scales by 0.5, P2 offsets by +10.
	// (200 * 0.5) + 10 = 110, not (200 + 10) * 0.5 = 105.
	p1 := scale("p1", 0.5, noon)
	p2 := offset("p2", 10, noon.Add(time.Minute))

	batch := &rcp.Batch{Source: "s", Actions: []*rcp.ProposedAction{action("a1", 100, 200, 0.1)}}

	// Present the policies in reverse to prove storage order is
	// irrelevant.
	res, err := e.Evaluate(context.Background(), []*rcp.PolicyVersion{p2, p1}, batch, testCtx())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if got := res.Actions[0].FinalValue; math.Abs(got-110) > 1e-9 {
		t.Errorf("final value = %v, want 110 (sequential composition p1 then p2)", got)
	}
	fired := res.Actions[0].Fired
	if len(fired) != 2 || fired[0].PolicyID != "p1" || fired[1].PolicyID != "p2" {
		t.Errorf("fired order = %+v, want p1 then p2", fired)
	}
}

// Scenario: a business-hours gate evaluated at 22:00 skips the gated
// policy's remaining rules; the action passes through unchanged.
func TestGateSkipsOutsideWindow(t *testing.T) {
	e := New(nil)
	policies := []*rcp.PolicyVersion{
		enforcePolicy("office-hours", noon,
			&rcp.Rule{ID: "hours", Kind: rcp.KindGate, Gate: &rcp.GateRule{
				Window: &rcp.TimeWindow{Start: "09:00", End: "18:00"},
			}},
			guardRule("block-everything", rcp.FieldRiskScore, rcp.OpGTE, 0),
		),
	}
	batch := &rcp.Batch{Source: "s", Actions: []*rcp.ProposedAction{action("a1", 100, 120, 0.5)}}

	late := &rcp.Context{EvaluatedAt: time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC)}
	res, err := e.Evaluate(context.Background(), policies, batch, late)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	ar := res.Actions[0]
	if ar.Disposition != rcp.DispositionAllowed {
		t.Errorf("disposition = %v, want allowed", ar.Disposition)
	}
	if ar.FinalValue != 120 {
		t.Errorf("final value = %v, want unchanged 120", ar.FinalValue)
	}

	// Inside the window the guard behind the gate fires.
	res, err = e.Evaluate(context.Background(), policies, batch, testCtx())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if res.Actions[0].Disposition != rcp.DispositionBlocked {
		t.Error("guard behind an open gate should block")
	}
}

func TestGateSuspendBlocksAction(t *testing.T) {
	e := New(nil)
	policies := []*rcp.PolicyVersion{
		enforcePolicy("quiet-hours", noon, &rcp.Rule{
			ID: "freeze", Kind: rcp.KindGate, Gate: &rcp.GateRule{
				Window:   &rcp.TimeWindow{Start: "09:00", End: "18:00"},
				OnClosed: rcp.GateSuspend,
			},
		}),
	}
	batch := &rcp.Batch{Source: "s", Actions: []*rcp.ProposedAction{action("a1", 100, 120, 0.5)}}

	late := &rcp.Context{EvaluatedAt: time.Date(2026, 3, 14, 3, 0, 0, 0, time.UTC)}
	res, err := e.Evaluate(context.Background(), policies, batch, late)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	ar := res.Actions[0]
	if ar.Disposition != rcp.DispositionBlocked || ar.Reason != ReasonGateSuspended {
		t.Errorf("disposition = %v reason = %q, want blocked/gate_suspended", ar.Disposition, ar.Reason)
	}
}

// Guard short-circuit: once a guard fires, no mutation in the same or a
// later policy touches the action's value.
func TestGuardShortCircuitsMutations(t *testing.T) {
	e := New(nil)
	p1 := enforcePolicy("guard-first", noon,
		guardRule("block", rcp.FieldRiskScore, rcp.OpGT, 0.5),
		&rcp.Rule{ID: "late-scale", Kind: rcp.KindMutation,
			Mutation: &rcp.MutationRule{Op: rcp.OpScale, Factor: 2}},
	)
	p2 := enforcePolicy("mutator", noon.Add(time.Minute), &rcp.Rule{
		ID: "scale", Kind: rcp.KindMutation,
		Mutation: &rcp.MutationRule{Op: rcp.OpScale, Factor: 3},
	})
	batch := &rcp.Batch{Source: "s", Actions: []*rcp.ProposedAction{action("a1", 100, 120, 0.9)}}

	res, err := e.Evaluate(context.Background(), []*rcp.PolicyVersion{p1, p2}, batch, testCtx())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	ar := res.Actions[0]
	if ar.FinalValue != 100 {
		t.Errorf("final value = %v, want untouched current 100", ar.FinalValue)
	}
	for _, f := range ar.Fired {
		if f.Effect == rcp.EffectMutated {
			t.Errorf("mutation fired after guard: %+v", f)
		}
	}
}

// No-op invariant: proposed == current is always allowed, whatever the
// guard and limit configuration says.
func TestNoOpAlwaysAllowed(t *testing.T) {
	e := New(nil)
	policies := []*rcp.PolicyVersion{
		enforcePolicy("hostile", noon,
			guardRule("block-all", rcp.FieldRiskScore, rcp.OpGTE, 0),
			&rcp.Rule{ID: "cap", Kind: rcp.KindLimit,
				Limit: &rcp.LimitRule{Field: rcp.FieldProposedValue, Max: 0, Overflow: rcp.OverflowBlock}},
		),
	}
	batch := &rcp.Batch{Source: "s", Actions: []*rcp.ProposedAction{action("a1", 42, 42, 1.0)}}

	res, err := e.Evaluate(context.Background(), policies, batch, testCtx())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	ar := res.Actions[0]
	if ar.Disposition != rcp.DispositionAllowed {
		t.Errorf("no-op disposition = %v, want allowed", ar.Disposition)
	}
	if ar.FinalValue != 42 {
		t.Errorf("no-op final value = %v, want 42", ar.FinalValue)
	}
}

func TestLimitOverflow(t *testing.T) {
	e := New(nil)
	batch := func() *rcp.Batch {
		return &rcp.Batch{Source: "s", Actions: []*rcp.ProposedAction{action("a1", 100, 180, 0.2)}}
	}

	t.Run("truncate caps value", func(t *testing.T) {
		policies := []*rcp.PolicyVersion{
			enforcePolicy("cap", noon, &rcp.Rule{ID: "cap", Kind: rcp.KindLimit,
				Limit: &rcp.LimitRule{Field: rcp.FieldProposedValue, Max: 150, Overflow: rcp.OverflowTruncate}}),
		}
		res, err := e.Evaluate(context.Background(), policies, batch(), testCtx())
		if err != nil {
			t.Fatalf("Evaluate() error = %v", err)
		}
		ar := res.Actions[0]
		if ar.Disposition != rcp.DispositionModified || ar.FinalValue != 150 {
			t.Errorf("got %v/%v, want modified/150", ar.Disposition, ar.FinalValue)
		}
	})

	t.Run("truncate delta pct", func(t *testing.T) {
		policies := []*rcp.PolicyVersion{
			enforcePolicy("cap", noon, &rcp.Rule{ID: "cap", Kind: rcp.KindLimit,
				Limit: &rcp.LimitRule{Field: rcp.FieldDeltaPct, Max: 25, Overflow: rcp.OverflowTruncate}}),
		}
		res, err := e.Evaluate(context.Background(), policies, batch(), testCtx())
		if err != nil {
			t.Fatalf("Evaluate() error = %v", err)
		}
		ar := res.Actions[0]
		if ar.Disposition != rcp.DispositionModified || math.Abs(ar.FinalValue-125) > 1e-9 {
			t.Errorf("got %v/%v, want modified/125", ar.Disposition, ar.FinalValue)
		}
	})

	t.Run("block overflow", func(t *testing.T) {
		policies := []*rcp.PolicyVersion{
			enforcePolicy("cap", noon, &rcp.Rule{ID: "cap", Kind: rcp.KindLimit,
				Limit: &rcp.LimitRule{Field: rcp.FieldProposedValue, Max: 150, Overflow: rcp.OverflowBlock}}),
		}
		res, err := e.Evaluate(context.Background(), policies, batch(), testCtx())
		if err != nil {
			t.Fatalf("Evaluate() error = %v", err)
		}
		ar := res.Actions[0]
		if ar.Disposition != rcp.DispositionBlocked || ar.Reason != ReasonLimit {
			t.Errorf("got %v/%q, want blocked/limit", ar.Disposition, ar.Reason)
		}
	})

	t.Run("risk limit cannot truncate", func(t *testing.T) {
		policies := []*rcp.PolicyVersion{
			enforcePolicy("cap", noon, &rcp.Rule{ID: "cap", Kind: rcp.KindLimit,
				Limit: &rcp.LimitRule{Field: rcp.FieldRiskScore, Max: 0.1, Overflow: rcp.OverflowTruncate}}),
		}
		res, err := e.Evaluate(context.Background(), policies, batch(), testCtx())
		if err != nil {
			t.Fatalf("Evaluate() error = %v", err)
		}
		if res.Actions[0].Disposition != rcp.DispositionBlocked {
			t.Error("risk limit overflow should block even with truncate configured")
		}
	})
}

func TestMonitorModeNeverAlters(t *testing.T) {
	e := New(nil)
	monitor := enforcePolicy("watch", noon,
		guardRule("block", rcp.FieldRiskScore, rcp.OpGT, 0.5),
		&rcp.Rule{ID: "scale", Kind: rcp.KindMutation,
			Mutation: &rcp.MutationRule{Op: rcp.OpScale, Factor: 0.5}},
	)
	monitor.Policy.Mode = rcp.ModeMonitor

	batch := &rcp.Batch{Source: "s", Actions: []*rcp.ProposedAction{action("a1", 100, 120, 0.9)}}
	res, err := e.Evaluate(context.Background(), []*rcp.PolicyVersion{monitor}, batch, testCtx())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	ar := res.Actions[0]
	if ar.Disposition != rcp.DispositionAllowed || ar.FinalValue != 120 {
		t.Errorf("monitor policy altered the action: %v/%v", ar.Disposition, ar.FinalValue)
	}
	observed := 0
	for _, f := range ar.Fired {
		if f.Effect == rcp.EffectObserved {
			observed++
		}
	}
	if observed != 2 {
		t.Errorf("observed effects = %d, want 2 (guard and mutation)", observed)
	}
}

func TestMalformedActionBlockedWithReason(t *testing.T) {
	e := New(nil)
	batch := &rcp.Batch{Source: "s", Actions: []*rcp.ProposedAction{
		{ID: "a1", Type: "traffic_weight", Target: "x", CurrentValue: 10, ProposedValue: 20, RiskScore: 7},
	}}

	res, err := e.Evaluate(context.Background(), nil, batch, testCtx())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	ar := res.Actions[0]
	if ar.Disposition != rcp.DispositionBlocked || ar.Reason != ReasonMalformed {
		t.Errorf("got %v/%q, want blocked/malformed_action", ar.Disposition, ar.Reason)
	}
}

func TestMixedBatchAggregation(t *testing.T) {
	e := New(nil)
	policies := []*rcp.PolicyVersion{
		enforcePolicy("risk-ceiling", noon, guardRule("block-high", rcp.FieldRiskScore, rcp.OpGT, 0.9)),
	}
	batch := &rcp.Batch{Source: "s", Actions: []*rcp.ProposedAction{
		action("ok", 100, 110, 0.2),
		action("bad", 100, 110, 0.95),
	}}

	res, err := e.Evaluate(context.Background(), policies, batch, testCtx())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if res.Batch != rcp.BatchMixed {
		t.Errorf("batch = %v, want mixed", res.Batch)
	}
	if res.Stats.Allowed != 1 || res.Stats.Blocked != 1 {
		t.Errorf("stats = %+v", res.Stats)
	}
	if math.Abs(res.Stats.TotalRiskCost-0.2) > 1e-9 {
		t.Errorf("risk cost = %v, want 0.2 (blocked action carries no cost)", res.Stats.TotalRiskCost)
	}
}

// Idempotence: identical inputs produce byte-identical results.
func TestEvaluationIdempotent(t *testing.T) {
	e := New(nil)
	policies := []*rcp.PolicyVersion{
		enforcePolicy("p1", noon,
			guardRule("g", rcp.FieldRiskScore, rcp.OpGT, 0.9),
			&rcp.Rule{ID: "clamp", Kind: rcp.KindMutation,
				Mutation: &rcp.MutationRule{Op: rcp.OpClampDeltaPct, MaxDeltaPct: 15}},
		),
		enforcePolicy("p2", noon.Add(time.Second), &rcp.Rule{
			ID: "cap", Kind: rcp.KindLimit,
			Limit: &rcp.LimitRule{Field: rcp.FieldProposedValue, Max: 112, Overflow: rcp.OverflowTruncate},
		}),
	}
	batch := &rcp.Batch{Source: "s", Algorithm: "bandit-v3", Actions: []*rcp.ProposedAction{
		action("a1", 100, 140, 0.4),
		action("a2", 50, 50, 0.99),
		action("a3", 10, 30, 0.95),
	}}

	first, err := e.Evaluate(context.Background(), policies, batch, testCtx())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	second, err := e.Evaluate(context.Background(), policies, batch, testCtx())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Errorf("results differ:\n%s\n%s", a, b)
	}
}

func TestEvaluateCancellation(t *testing.T) {
	e := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batch := &rcp.Batch{Source: "s", Actions: []*rcp.ProposedAction{action("a1", 1, 2, 0.1)}}
	if _, err := e.Evaluate(ctx, nil, batch, testCtx()); err == nil {
		t.Error("expected error from cancelled context")
	}
}
