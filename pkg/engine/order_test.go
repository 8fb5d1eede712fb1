package engine

import (
	"testing"
	"time"

	"vantage-hq/warden/pkg/rcp"
)

func pv(id string, scope rcp.Scope, target string, priority int, created time.Time) *rcp.PolicyVersion {
	return &rcp.PolicyVersion{
		Policy: &rcp.Policy{
			ID:        id,
			Name:      id,
			Scope:     scope,
			Target:    target,
			Mode:      rcp.ModeEnforce,
			Enabled:   true,
			Authority: rcp.AuthorityOperator,
			Priority:  priority,
			CreatedAt: created,
		},
		Version: 1,
	}
}

func orderIDs(policies []*rcp.PolicyVersion) []string {
	out := make([]string, len(policies))
	for i, p := range policies {
		out[i] = p.Policy.ID
	}
	return out
}

func TestOrderSpecificityBeforePriority(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	policies := []*rcp.PolicyVersion{
		pv("global-high", rcp.ScopeGlobal, "", 100, base),
		pv("segment-low", rcp.ScopeSegment, "us-mobile", 1, base),
		pv("algo-mid", rcp.ScopeAlgorithm, "bandit-v3", 50, base),
	}

	got := orderIDs(Order(policies))
	want := []string{"segment-low", "algo-mid", "global-high"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestOrderCreationTimeTieBreak(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// Same scope and priority: creation order wins regardless of the
	// order policies arrive in.
	policies := []*rcp.PolicyVersion{
		pv("p2", rcp.ScopeGlobal, "", 50, base.Add(time.Hour)),
		pv("p1", rcp.ScopeGlobal, "", 50, base),
		pv("p3", rcp.ScopeGlobal, "", 50, base.Add(2*time.Hour)),
	}

	got := orderIDs(Order(policies))
	want := []string{"p1", "p2", "p3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestOrderIdenticalTimestampFallsBackToID(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	policies := []*rcp.PolicyVersion{
		pv("zeta", rcp.ScopeGlobal, "", 50, base),
		pv("alpha", rcp.ScopeGlobal, "", 50, base),
	}

	got := orderIDs(Order(policies))
	if got[0] != "alpha" || got[1] != "zeta" {
		t.Fatalf("order = %v, want [alpha zeta]", got)
	}
}

func TestOrderDoesNotMutateInput(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	policies := []*rcp.PolicyVersion{
		pv("b", rcp.ScopeGlobal, "", 1, base),
		pv("a", rcp.ScopeSegment, "s", 1, base),
	}

	Order(policies)
	if policies[0].Policy.ID != "b" {
		t.Error("Order mutated its input slice")
	}
}

func TestApplicable(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	policies := []*rcp.PolicyVersion{
		pv("global", rcp.ScopeGlobal, "", 0, base),
		pv("algo-match", rcp.ScopeAlgorithm, "bandit-v3", 0, base),
		pv("algo-other", rcp.ScopeAlgorithm, "allocator-v1", 0, base),
		pv("segment-match", rcp.ScopeSegment, "us-mobile", 0, base),
		pv("segment-other", rcp.ScopeSegment, "eu-desktop", 0, base),
	}

	batch := &rcp.Batch{Source: "s", Algorithm: "bandit-v3", Segment: "us-mobile"}
	got := orderIDs(Applicable(policies, batch))
	want := map[string]bool{"global": true, "algo-match": true, "segment-match": true}
	if len(got) != len(want) {
		t.Fatalf("applicable = %v, want %v", got, want)
	}
	for _, id := range got {
		if !want[id] {
			t.Errorf("unexpected applicable policy %s", id)
		}
	}
}
