package approval

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"vantage-hq/warden/pkg/rcp"
	"vantage-hq/warden/pkg/store"
)

func adminPolicy() *rcp.Policy {
	return &rcp.Policy{
		ID:        "risk-ceiling",
		Name:      "risk ceiling",
		Scope:     rcp.ScopeGlobal,
		Mode:      rcp.ModeEnforce,
		Enabled:   true,
		Authority: rcp.AuthorityAdmin,
		Priority:  10,
		Rules: []*rcp.Rule{
			{ID: "r1", Kind: rcp.KindGuard, Guard: &rcp.GuardRule{
				When: rcp.Condition{Field: rcp.FieldRiskScore, Op: rcp.OpGT, Value: 0.9},
			}},
		},
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func fixture(t *testing.T) (*Manager, *store.MemoryStore, *MemoryStorage) {
	t.Helper()
	ctx := context.Background()

	policies := store.NewMemoryStore()
	if _, err := policies.Publish(ctx, adminPolicy(), "alice", rcp.AuthorityOwner); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	storage := NewMemoryStorage()
	return NewManager(storage, policies, policies, nil), policies, storage
}

func TestSubmitDerivesRequiredAuthority(t *testing.T) {
	m, _, _ := fixture(t)

	request, err := m.Submit(context.Background(), "risk-ceiling", 1, "alice")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if request.State != StatePending {
		t.Errorf("state = %v, want pending", request.State)
	}
	if request.RequiredAuthority != rcp.AuthorityAdmin {
		t.Errorf("required authority = %v, want admin", request.RequiredAuthority)
	}
	if request.RequiredApprovals != 2 {
		t.Errorf("required approvals = %d, want 2", request.RequiredApprovals)
	}
	if !request.Deadline.After(request.CreatedAt) {
		t.Error("deadline not set after creation time")
	}
}

func TestSubmitUnknownVersion(t *testing.T) {
	m, _, _ := fixture(t)

	var nf *store.VersionNotFoundError
	if _, err := m.Submit(context.Background(), "risk-ceiling", 9, "alice"); !errors.As(err, &nf) {
		t.Errorf("Submit() error = %v, want VersionNotFoundError", err)
	}
}

func TestTwoPersonApprovalActivates(t *testing.T) {
	m, policies, _ := fixture(t)
	ctx := context.Background()

	request, err := m.Submit(ctx, "risk-ceiling", 1, "alice")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	request, err = m.Approve(ctx, request.ID, "bob", rcp.AuthorityAdmin)
	if err != nil {
		t.Fatalf("Approve(bob) error = %v", err)
	}
	if request.State != StatePending {
		t.Errorf("state after one approval = %v, want pending", request.State)
	}

	request, err = m.Approve(ctx, request.ID, "carol", rcp.AuthorityOwner)
	if err != nil {
		t.Fatalf("Approve(carol) error = %v", err)
	}
	if request.State != StateApproved {
		t.Errorf("state after two approvals = %v, want approved", request.State)
	}

	request, err = m.Apply(ctx, request.ID)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if request.State != StateApplied {
		t.Errorf("state = %v, want applied", request.State)
	}
	if v, _ := policies.ActiveVersion(ctx, "risk-ceiling"); v != 1 {
		t.Errorf("active version = %d, want 1", v)
	}
}

func TestProposerCannotApprove(t *testing.T) {
	m, _, _ := fixture(t)
	ctx := context.Background()

	request, err := m.Submit(ctx, "risk-ceiling", 1, "alice")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	_, err = m.Approve(ctx, request.ID, "alice", rcp.AuthorityOwner)
	var conflict *rcp.AuthorityConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Approve(proposer) error = %v, want AuthorityConflictError", err)
	}

	got, _ := m.Get(ctx, request.ID)
	if got.State != StatePending || len(got.Approvals) != 0 {
		t.Errorf("failed approval changed the request: %+v", got)
	}
}

func TestInsufficientAuthorityRejected(t *testing.T) {
	m, _, _ := fixture(t)
	ctx := context.Background()

	request, _ := m.Submit(ctx, "risk-ceiling", 1, "alice")

	_, err := m.Approve(ctx, request.ID, "bob", rcp.AuthorityOperator)
	var conflict *rcp.AuthorityConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Approve() error = %v, want AuthorityConflictError", err)
	}
	if conflict.Required != rcp.AuthorityAdmin || conflict.Held != rcp.AuthorityOperator {
		t.Errorf("conflict = %+v", conflict)
	}
}

func TestDuplicateApproverCountsOnce(t *testing.T) {
	m, _, _ := fixture(t)
	ctx := context.Background()

	request, _ := m.Submit(ctx, "risk-ceiling", 1, "alice")
	if _, err := m.Approve(ctx, request.ID, "bob", rcp.AuthorityAdmin); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}

	_, err := m.Approve(ctx, request.ID, "bob", rcp.AuthorityAdmin)
	var conflict *rcp.AuthorityConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("second Approve(bob) error = %v, want AuthorityConflictError", err)
	}
	if conflict.Subject != "bob" {
		t.Errorf("conflict subject = %q, want bob", conflict.Subject)
	}

	got, _ := m.Get(ctx, request.ID)
	if got.State != StatePending || len(got.Approvals) != 1 {
		t.Errorf("request = %+v, want still pending with one approval", got)
	}
}

func TestSettledRequestsAreFinal(t *testing.T) {
	m, _, _ := fixture(t)
	ctx := context.Background()

	request, _ := m.Submit(ctx, "risk-ceiling", 1, "alice")
	if _, err := m.Reject(ctx, request.ID, "bob", "wrong threshold"); err != nil {
		t.Fatalf("Reject() error = %v", err)
	}

	var se *StateError
	if _, err := m.Approve(ctx, request.ID, "carol", rcp.AuthorityOwner); !errors.As(err, &se) {
		t.Errorf("Approve(rejected) error = %v, want StateError", err)
	}
	if _, err := m.Apply(ctx, request.ID); !errors.As(err, &se) {
		t.Errorf("Apply(rejected) error = %v, want StateError", err)
	}
	if _, err := m.Reject(ctx, request.ID, "dave", "again"); !errors.As(err, &se) {
		t.Errorf("Reject(rejected) error = %v, want StateError", err)
	}
}

func TestApplyRequiresApproval(t *testing.T) {
	m, _, _ := fixture(t)
	ctx := context.Background()

	request, _ := m.Submit(ctx, "risk-ceiling", 1, "alice")

	var se *StateError
	if _, err := m.Apply(ctx, request.ID); !errors.As(err, &se) {
		t.Errorf("Apply(pending) error = %v, want StateError", err)
	}
}

func TestSweepExpiresOverdueRequests(t *testing.T) {
	m, _, storage := fixture(t)
	ctx := context.Background()

	request, _ := m.Submit(ctx, "risk-ceiling", 1, "alice")

	// Backdate the deadline as a restart-survived overdue request
	// would look.
	request.Deadline = time.Now().Add(-time.Minute)
	if err := storage.Save(ctx, request); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if err := m.Sweep(ctx); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	got, err := m.Get(ctx, request.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.State != StateRejected {
		t.Errorf("state = %v, want rejected", got.State)
	}
	if got.Reason != "approval deadline expired" {
		t.Errorf("reason = %q", got.Reason)
	}
	if !got.TimedOut {
		t.Error("TimedOut = false, want true for an expired request")
	}
}

func TestExplicitRejectIsNotATimeout(t *testing.T) {
	m, _, _ := fixture(t)
	ctx := context.Background()

	request, _ := m.Submit(ctx, "risk-ceiling", 1, "alice")
	if _, err := m.Reject(ctx, request.ID, "bob", "wrong threshold"); err != nil {
		t.Fatalf("Reject() error = %v", err)
	}

	got, err := m.Get(ctx, request.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.TimedOut {
		t.Error("TimedOut = true on an explicit rejection")
	}
}

func TestStorageBackendsRoundTrip(t *testing.T) {
	sqlite, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "approvals.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStorage() error = %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	for name, s := range map[string]Storage{"memory": NewMemoryStorage(), "sqlite": sqlite} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			request := &Request{
				ID:                "req-1",
				PolicyID:          "p",
				Version:           3,
				Proposer:          "alice",
				RequiredAuthority: rcp.AuthorityAdmin,
				RequiredApprovals: 2,
				State:             StatePending,
				CreatedAt:         time.Now().UTC().Truncate(time.Second),
				Deadline:          time.Now().UTC().Add(time.Hour).Truncate(time.Second),
			}
			if err := s.Save(ctx, request); err != nil {
				t.Fatalf("Save() error = %v", err)
			}

			got, err := s.Get(ctx, "req-1")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got.PolicyID != "p" || got.Version != 3 || got.RequiredAuthority != rcp.AuthorityAdmin {
				t.Errorf("round trip lost fields: %+v", got)
			}

			pending, err := s.ListPending(ctx)
			if err != nil || len(pending) != 1 {
				t.Fatalf("ListPending() = %d, %v; want 1", len(pending), err)
			}

			// Settled requests drop out of the pending list.
			got.State = StateApplied
			if err := s.Save(ctx, got); err != nil {
				t.Fatalf("Save(update) error = %v", err)
			}
			pending, err = s.ListPending(ctx)
			if err != nil || len(pending) != 0 {
				t.Errorf("ListPending() after settle = %d, %v; want 0", len(pending), err)
			}

			var nf *RequestNotFoundError
			if _, err := s.Get(ctx, "ghost"); !errors.As(err, &nf) {
				t.Errorf("Get(ghost) error = %v, want RequestNotFoundError", err)
			}
		})
	}
}
