package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"vantage-hq/warden/pkg/engine"
	"vantage-hq/warden/pkg/rcp"
)

func testPolicy(id string) *rcp.Policy {
	return &rcp.Policy{
		ID:        id,
		Name:      "test " + id,
		Scope:     rcp.ScopeGlobal,
		Mode:      rcp.ModeEnforce,
		Enabled:   true,
		Authority: rcp.AuthorityOperator,
		Priority:  10,
		Rules: []*rcp.Rule{
			{ID: "r1", Kind: rcp.KindGuard, Guard: &rcp.GuardRule{
				When: rcp.Condition{Field: rcp.FieldRiskScore, Op: rcp.OpGT, Value: 0.9},
			}},
		},
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "policies.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestPublishAssignsSequentialVersions(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for want := 1; want <= 3; want++ {
				pv, err := s.Publish(ctx, testPolicy("p"), "alice", rcp.AuthorityOwner)
				if err != nil {
					t.Fatalf("Publish() error = %v", err)
				}
				if pv.Version != want {
					t.Errorf("version = %d, want %d", pv.Version, want)
				}
				if pv.Checksum == "" {
					t.Error("missing checksum")
				}
			}

			versions, err := s.ListVersions(ctx, "p")
			if err != nil {
				t.Fatalf("ListVersions() error = %v", err)
			}
			if len(versions) != 3 {
				t.Errorf("got %d versions, want 3", len(versions))
			}
		})
	}
}

func TestPublishRejectsInsufficientAuthority(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			p := testPolicy("p")
			p.Authority = rcp.AuthorityOwner

			_, err := s.Publish(context.Background(), p, "bob", rcp.AuthorityOperator)
			var conflict *rcp.AuthorityConflictError
			if !errors.As(err, &conflict) {
				t.Fatalf("Publish() error = %v, want AuthorityConflictError", err)
			}
			if conflict.Held != rcp.AuthorityOperator || conflict.Required != rcp.AuthorityOwner {
				t.Errorf("conflict = %+v", conflict)
			}
		})
	}
}

func TestPublishRejectsInvalidPolicy(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			p := testPolicy("p")
			p.Rules = nil

			_, err := s.Publish(context.Background(), p, "alice", rcp.AuthorityOwner)
			var verr *rcp.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Publish() error = %v, want ValidationError", err)
			}
		})
	}
}

func TestActivateCAS(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 2; i++ {
				if _, err := s.Publish(ctx, testPolicy("p"), "alice", rcp.AuthorityOwner); err != nil {
					t.Fatalf("Publish() error = %v", err)
				}
			}

			if err := s.Activate(ctx, "p", 1, 0); err != nil {
				t.Fatalf("Activate(v1) error = %v", err)
			}

			// A second activation based on a stale observation fails.
			err := s.Activate(ctx, "p", 2, 0)
			var conflict *ActivationConflictError
			if !errors.As(err, &conflict) {
				t.Fatalf("Activate() error = %v, want ActivationConflictError", err)
			}
			if conflict.Actual != 1 {
				t.Errorf("conflict actual = %d, want 1", conflict.Actual)
			}

			// Re-reading the pointer makes the swap succeed.
			if err := s.Activate(ctx, "p", 2, 1); err != nil {
				t.Fatalf("Activate(v2) error = %v", err)
			}
			v, err := s.ActiveVersion(ctx, "p")
			if err != nil || v != 2 {
				t.Errorf("ActiveVersion() = %d, %v, want 2", v, err)
			}
		})
	}
}

func TestActivateUnknownVersion(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.Activate(ctx, "ghost", 1, 0); err == nil {
				t.Error("activating an unpublished policy should fail")
			}
			if _, err := s.Publish(ctx, testPolicy("p"), "alice", rcp.AuthorityOwner); err != nil {
				t.Fatalf("Publish() error = %v", err)
			}
			var nf *VersionNotFoundError
			if err := s.Activate(ctx, "p", 7, 0); !errors.As(err, &nf) {
				t.Errorf("Activate(v7) error = %v, want VersionNotFoundError", err)
			}
		})
	}
}

func TestActivateLatestRetries(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := s.Publish(ctx, testPolicy("p"), "alice", rcp.AuthorityOwner); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	if err := s.Activate(ctx, "p", 1, 0); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}

	// ActivateLatest re-reads the moved pointer instead of failing.
	if err := ActivateLatest(ctx, s, "p", 2, 3); err != nil {
		t.Fatalf("ActivateLatest() error = %v", err)
	}
	if v, _ := s.ActiveVersion(ctx, "p"); v != 2 {
		t.Errorf("active version = %d, want 2", v)
	}
}

func TestForceDisableRemovesFromEffectiveSet(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := s.Publish(ctx, testPolicy("p"), "alice", rcp.AuthorityOwner); err != nil {
				t.Fatalf("Publish() error = %v", err)
			}
			if err := s.Activate(ctx, "p", 1, 0); err != nil {
				t.Fatalf("Activate() error = %v", err)
			}

			effective, err := s.ListEffective(ctx)
			if err != nil || len(effective) != 1 {
				t.Fatalf("ListEffective() = %d policies, %v; want 1", len(effective), err)
			}

			if err := s.ForceDisable(ctx, "p", "canary rollback"); err != nil {
				t.Fatalf("ForceDisable() error = %v", err)
			}
			effective, err = s.ListEffective(ctx)
			if err != nil || len(effective) != 0 {
				t.Fatalf("ListEffective() after disable = %d policies, %v; want 0", len(effective), err)
			}

			// Explicit re-activation clears the disable.
			if err := s.Activate(ctx, "p", 1, 1); err != nil {
				t.Fatalf("re-Activate() error = %v", err)
			}
			effective, err = s.ListEffective(ctx)
			if err != nil || len(effective) != 1 {
				t.Fatalf("ListEffective() after re-activate = %d policies, %v; want 1", len(effective), err)
			}
		})
	}
}

func TestGetVersionRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			published, err := s.Publish(ctx, testPolicy("p"), "alice", rcp.AuthorityOwner)
			if err != nil {
				t.Fatalf("Publish() error = %v", err)
			}

			got, err := s.GetVersion(ctx, "p", 1)
			if err != nil {
				t.Fatalf("GetVersion() error = %v", err)
			}
			if got.Checksum != published.Checksum {
				t.Errorf("checksum mismatch: %s vs %s", got.Checksum, published.Checksum)
			}
			if got.Policy.ID != "p" || len(got.Policy.Rules) != 1 {
				t.Errorf("stored policy = %+v", got.Policy)
			}
			if got.Policy.Rules[0].Guard == nil {
				t.Error("guard payload lost in round trip")
			}
		})
	}
}

func TestPublishedVersionsAreImmutable(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p := testPolicy("p")
	if _, err := s.Publish(ctx, p, "alice", rcp.AuthorityOwner); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	// Mutating the caller's document must not reach the store.
	p.Priority = 999
	p.Rules[0].Guard.When.Value = 0

	got, err := s.GetVersion(ctx, "p", 1)
	if err != nil {
		t.Fatalf("GetVersion() error = %v", err)
	}
	if got.Policy.Priority != 10 {
		t.Errorf("stored priority = %d, want 10", got.Policy.Priority)
	}
	if got.Policy.Rules[0].Guard.When.Value != 0.9 {
		t.Errorf("stored guard threshold = %v, want 0.9", got.Policy.Rules[0].Guard.When.Value)
	}
}

func TestPublishStampsCreationTime(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			v1, err := s.Publish(ctx, testPolicy("p"), "alice", rcp.AuthorityOwner)
			if err != nil {
				t.Fatalf("Publish() error = %v", err)
			}
			if v1.Policy.CreatedAt.IsZero() {
				t.Fatal("CreatedAt not stamped at publish")
			}

			v2, err := s.Publish(ctx, testPolicy("p"), "alice", rcp.AuthorityOwner)
			if err != nil {
				t.Fatalf("Publish() error = %v", err)
			}
			if !v2.Policy.CreatedAt.Equal(v1.Policy.CreatedAt) {
				t.Errorf("v2 CreatedAt = %v, want inherited %v", v2.Policy.CreatedAt, v1.Policy.CreatedAt)
			}
			if v2.Policy.UpdatedAt.IsZero() {
				t.Error("UpdatedAt not stamped on a superseding version")
			}
			if v2.Checksum != v1.Checksum {
				t.Errorf("checksum changed for identical content: %s vs %s", v2.Checksum, v1.Checksum)
			}

			got, err := s.GetVersion(ctx, "p", 1)
			if err != nil {
				t.Fatalf("GetVersion() error = %v", err)
			}
			if !got.Policy.CreatedAt.Equal(v1.Policy.CreatedAt) {
				t.Errorf("stored CreatedAt = %v, want %v", got.Policy.CreatedAt, v1.Policy.CreatedAt)
			}
		})
	}
}

func scalingPolicy(id string, factor float64) *rcp.Policy {
	return &rcp.Policy{
		ID:        id,
		Name:      "scale " + id,
		Scope:     rcp.ScopeGlobal,
		Mode:      rcp.ModeEnforce,
		Enabled:   true,
		Authority: rcp.AuthorityOperator,
		Priority:  10,
		Rules: []*rcp.Rule{
			{ID: "scale", Kind: rcp.KindMutation, Mutation: &rcp.MutationRule{
				Op: rcp.OpScale, Factor: factor,
			}},
		},
	}
}

// Equal-priority policies must evaluate in publish order, not in ID
// order: zebra-scaling is published first and its mutation must fire
// first even though alpha-scaling sorts before it alphabetically.
func TestEqualPriorityOrderFollowsPublishOrder(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, p := range []*rcp.Policy{
				scalingPolicy("zebra-scaling", 2),
				scalingPolicy("alpha-scaling", 3),
			} {
				pv, err := s.Publish(ctx, p, "alice", rcp.AuthorityOwner)
				if err != nil {
					t.Fatalf("Publish(%s) error = %v", p.ID, err)
				}
				if err := s.Activate(ctx, p.ID, pv.Version, 0); err != nil {
					t.Fatalf("Activate(%s) error = %v", p.ID, err)
				}
			}

			effective, err := s.ListEffective(ctx)
			if err != nil {
				t.Fatalf("ListEffective() error = %v", err)
			}

			batch := &rcp.Batch{
				Source: "bandit-v3",
				Actions: []*rcp.ProposedAction{
					{ID: "a1", Type: "traffic_weight", Target: "offer-1", CurrentValue: 10, ProposedValue: 12, RiskScore: 0.2},
				},
			}
			result, err := engine.New(nil).Evaluate(ctx, effective, batch, &rcp.Context{EvaluatedAt: time.Now()})
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}

			fired := result.Actions[0].Fired
			if len(fired) != 2 {
				t.Fatalf("got %d fired rules, want 2", len(fired))
			}
			if fired[0].PolicyID != "zebra-scaling" {
				t.Errorf("first fired policy = %s, want zebra-scaling (published first)", fired[0].PolicyID)
			}
		})
	}
}

func TestListEffectiveAtResolvesHistory(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			before := time.Now()
			pv, err := s.Publish(ctx, testPolicy("p"), "alice", rcp.AuthorityOwner)
			if err != nil {
				t.Fatalf("Publish() error = %v", err)
			}

			got, err := s.ListEffectiveAt(ctx, before)
			if err != nil {
				t.Fatalf("ListEffectiveAt() error = %v", err)
			}
			if len(got) != 0 {
				t.Errorf("effective before any activation = %d policies, want 0", len(got))
			}

			if err := s.Activate(ctx, "p", pv.Version, 0); err != nil {
				t.Fatalf("Activate() error = %v", err)
			}
			afterActivate := time.Now()

			v2, err := s.Publish(ctx, testPolicy("p"), "alice", rcp.AuthorityOwner)
			if err != nil {
				t.Fatalf("Publish() error = %v", err)
			}
			if err := s.Activate(ctx, "p", v2.Version, pv.Version); err != nil {
				t.Fatalf("Activate() error = %v", err)
			}

			got, err = s.ListEffectiveAt(ctx, afterActivate)
			if err != nil {
				t.Fatalf("ListEffectiveAt() error = %v", err)
			}
			if len(got) != 1 || got[0].Version != 1 {
				t.Fatalf("effective at t1 = %+v, want version 1", got)
			}

			got, err = s.ListEffectiveAt(ctx, time.Now())
			if err != nil {
				t.Fatalf("ListEffectiveAt() error = %v", err)
			}
			if len(got) != 1 || got[0].Version != 2 {
				t.Fatalf("effective now = %+v, want version 2", got)
			}

			if err := s.ForceDisable(ctx, "p", "rollback"); err != nil {
				t.Fatalf("ForceDisable() error = %v", err)
			}
			got, err = s.ListEffectiveAt(ctx, time.Now())
			if err != nil {
				t.Fatalf("ListEffectiveAt() error = %v", err)
			}
			if len(got) != 0 {
				t.Errorf("effective after disable = %d policies, want 0", len(got))
			}
			got, err = s.ListEffectiveAt(ctx, afterActivate)
			if err != nil {
				t.Fatalf("ListEffectiveAt() error = %v", err)
			}
			if len(got) != 1 {
				t.Errorf("history at t1 changed after disable: %+v", got)
			}
		})
	}
}
