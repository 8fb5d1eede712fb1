package replay

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"vantage-hq/warden/pkg/decision"
	"vantage-hq/warden/pkg/engine"
	"vantage-hq/warden/pkg/rcp"
	"vantage-hq/warden/pkg/store"
)

var evalTime = time.Date(2026, 5, 5, 12, 0, 0, 0, time.UTC)

func clampPolicy(maxDeltaPct float64) *rcp.Policy {
	return &rcp.Policy{
		ID:        "delta-clamp",
		Name:      "delta clamp",
		Scope:     rcp.ScopeGlobal,
		Mode:      rcp.ModeEnforce,
		Enabled:   true,
		Authority: rcp.AuthorityOperator,
		Priority:  10,
		Rules: []*rcp.Rule{
			{ID: "clamp", Kind: rcp.KindMutation,
				Mutation: &rcp.MutationRule{Op: rcp.OpClampDeltaPct, MaxDeltaPct: maxDeltaPct}},
		},
		CreatedAt: evalTime.Add(-24 * time.Hour),
	}
}

// fixture evaluates one batch against delta-clamp v1 (15%) and records
// the decision. v2 (30%) is published but not part of the decision.
func fixture(t *testing.T) (*Replayer, *decision.Record, *decision.MemoryStorage) {
	t.Helper()
	ctx := context.Background()

	policies := store.NewMemoryStore()
	if _, err := policies.Publish(ctx, clampPolicy(15), "alice", rcp.AuthorityOwner); err != nil {
		t.Fatalf("Publish(v1) error = %v", err)
	}
	if _, err := policies.Publish(ctx, clampPolicy(30), "alice", rcp.AuthorityOwner); err != nil {
		t.Fatalf("Publish(v2) error = %v", err)
	}

	pv, err := policies.GetVersion(ctx, "delta-clamp", 1)
	if err != nil {
		t.Fatalf("GetVersion() error = %v", err)
	}

	batch := &rcp.Batch{Source: "bandit-v3", Actions: []*rcp.ProposedAction{
		{ID: "a1", Type: "traffic_weight", Target: "offer-1",
			CurrentValue: 100, ProposedValue: 140, RiskScore: 0.3},
	}}
	ectx := &rcp.Context{EvaluatedAt: evalTime, Region: "us"}

	evaluator := engine.New(nil)
	result, err := evaluator.Evaluate(ctx, []*rcp.PolicyVersion{pv}, batch, ectx)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	record, err := decision.NewRecord(batch, ectx, result, "")
	if err != nil {
		t.Fatalf("NewRecord() error = %v", err)
	}
	records := decision.NewMemoryStorage()
	if err := records.Store(ctx, record); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	return New(policies, records, evaluator), record, records
}

func TestReplayReproducesRecordedResult(t *testing.T) {
	r, record, _ := fixture(t)

	result, err := r.Replay(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if math.Abs(result.Actions[0].FinalValue-115) > 1e-9 {
		t.Errorf("replayed final value = %v, want 115", result.Actions[0].FinalValue)
	}
}

func TestReplayDetectsDrift(t *testing.T) {
	r, record, _ := fixture(t)

	// Corrupt the recorded result the way an engine regression would
	// look: same inputs, different outcome.
	record.Result.Actions[0].FinalValue = 999

	_, err := r.Replay(context.Background(), record.ID)
	var mismatch *MismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("Replay() error = %v, want MismatchError", err)
	}
	if mismatch.RecordID != record.ID {
		t.Errorf("mismatch record = %s, want %s", mismatch.RecordID, record.ID)
	}
	if mismatch.Recorded == mismatch.Replayed {
		t.Error("mismatch carries identical encodings")
	}
}

func TestWhatIfPolicyVersionSubstitution(t *testing.T) {
	r, record, _ := fixture(t)

	// Under v2's looser 30% clamp the same proposal lands at 130.
	result, err := r.WhatIf(context.Background(), record.ID, &Override{
		PolicyVersions: map[string]int{"delta-clamp": 2},
	})
	if err != nil {
		t.Fatalf("WhatIf() error = %v", err)
	}
	if math.Abs(result.Actions[0].FinalValue-130) > 1e-9 {
		t.Errorf("counterfactual final value = %v, want 130", result.Actions[0].FinalValue)
	}
	if result.Actions[0].Disposition != rcp.DispositionModified {
		t.Errorf("disposition = %v, want modified", result.Actions[0].Disposition)
	}
}

func TestWhatIfUnknownPolicyRejected(t *testing.T) {
	r, record, _ := fixture(t)

	_, err := r.WhatIf(context.Background(), record.ID, &Override{
		PolicyVersions: map[string]int{"ghost": 1},
	})
	var oe *OverrideError
	if !errors.As(err, &oe) {
		t.Fatalf("WhatIf() error = %v, want OverrideError", err)
	}
}

func TestWhatIfMutationReapplication(t *testing.T) {
	r, record, _ := fixture(t)

	// Re-applying a tighter 10% clamp from the pre-mutation value of
	// 140 gives 110.
	result, err := r.WhatIf(context.Background(), record.ID, &Override{
		Mutations: []*rcp.MutationRule{{Op: rcp.OpClampDeltaPct, MaxDeltaPct: 10}},
	})
	if err != nil {
		t.Fatalf("WhatIf() error = %v", err)
	}
	if math.Abs(result.Actions[0].FinalValue-110) > 1e-9 {
		t.Errorf("counterfactual final value = %v, want 110", result.Actions[0].FinalValue)
	}
}

func TestWhatIfOverrideValidation(t *testing.T) {
	r, record, _ := fixture(t)
	ctx := context.Background()

	var oe *OverrideError
	if _, err := r.WhatIf(ctx, record.ID, nil); !errors.As(err, &oe) {
		t.Errorf("nil override error = %v, want OverrideError", err)
	}
	both := &Override{
		PolicyVersions: map[string]int{"delta-clamp": 2},
		Mutations:      []*rcp.MutationRule{{Op: rcp.OpScale, Factor: 1}},
	}
	if _, err := r.WhatIf(ctx, record.ID, both); !errors.As(err, &oe) {
		t.Errorf("combined override error = %v, want OverrideError", err)
	}
}

func TestWhatIfNeverPersists(t *testing.T) {
	r, record, records := fixture(t)
	ctx := context.Background()

	if _, err := r.WhatIf(ctx, record.ID, &Override{
		PolicyVersions: map[string]int{"delta-clamp": 2},
	}); err != nil {
		t.Fatalf("WhatIf() error = %v", err)
	}

	n, err := records.Count(ctx, &decision.Query{})
	if err != nil || n != 1 {
		t.Errorf("record count after what-if = %d, %v; want 1", n, err)
	}
}
