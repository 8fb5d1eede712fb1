package approval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"vantage-hq/warden/pkg/rcp"
	"vantage-hq/warden/pkg/store"
)

// VersionSource resolves published policy versions. The policy store
// satisfies this.
type VersionSource interface {
	GetVersion(ctx context.Context, policyID string, version int) (*rcp.PolicyVersion, error)
}

// Config configures the approval manager.
type Config struct {
	// RequiredApprovals is how many distinct approvers settle a
	// request. Default: 2 (the two-person rule).
	RequiredApprovals int

	// TTL is how long a request stays pending before it expires to
	// rejected. Default: 24 hours.
	TTL time.Duration

	// SweepSchedule is the cron schedule for expiring overdue
	// requests. Default: "@every 1m".
	SweepSchedule string
}

// DefaultConfig returns the default approval configuration.
func DefaultConfig() *Config {
	return &Config{
		RequiredApprovals: 2,
		TTL:               24 * time.Hour,
		SweepSchedule:     "@every 1m",
	}
}

// Manager drives approval requests through their lifecycle.
type Manager struct {
	storage   Storage
	versions  VersionSource
	activator store.Activator
	config    *Config
	cron      *cron.Cron
	logger    *slog.Logger
}

// NewManager creates an approval manager. The sweeper does not run
// until Start is called.
func NewManager(storage Storage, versions VersionSource, activator store.Activator, config *Config) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	if config.RequiredApprovals <= 0 {
		config.RequiredApprovals = 2
	}
	if config.TTL <= 0 {
		config.TTL = 24 * time.Hour
	}
	if config.SweepSchedule == "" {
		config.SweepSchedule = "@every 1m"
	}
	return &Manager{
		storage:   storage,
		versions:  versions,
		activator: activator,
		config:    config,
		cron:      cron.New(),
		logger:    slog.Default().With("component", "approval"),
	}
}

// Submit creates a pending request to activate a published version. The
// required approver authority comes from the policy document itself.
func (m *Manager) Submit(ctx context.Context, policyID string, version int, proposer string) (*Request, error) {
	if proposer == "" {
		return nil, fmt.Errorf("proposer cannot be empty")
	}
	pv, err := m.versions.GetVersion(ctx, policyID, version)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	request := &Request{
		ID:                uuid.New().String(),
		PolicyID:          policyID,
		Version:           version,
		Proposer:          proposer,
		RequiredAuthority: pv.Policy.Authority,
		RequiredApprovals: m.config.RequiredApprovals,
		State:             StatePending,
		CreatedAt:         now,
		Deadline:          now.Add(m.config.TTL),
	}
	if err := m.storage.Save(ctx, request); err != nil {
		return nil, err
	}

	m.logger.Info("approval request submitted",
		"request_id", request.ID,
		"policy_id", policyID,
		"version", version,
		"proposer", proposer,
		"required_approvals", request.RequiredApprovals,
		"deadline", request.Deadline,
	)
	return request, nil
}

// Approve records one approval. The proposer cannot approve their own
// request, approvers must hold at least the required authority, and a
// principal counts once. A failed approval leaves the request pending.
func (m *Manager) Approve(ctx context.Context, id, approver string, held rcp.Authority) (*Request, error) {
	request, err := m.storage.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if request.State != StatePending {
		return nil, &StateError{ID: id, State: request.State, Operation: "approve"}
	}
	if approver == request.Proposer {
		return nil, &rcp.AuthorityConflictError{
			Subject:  approver,
			Required: request.RequiredAuthority,
			Held:     held,
			Detail:   "proposer cannot approve their own request",
		}
	}
	if held < request.RequiredAuthority {
		return nil, &rcp.AuthorityConflictError{
			Subject:  approver,
			Required: request.RequiredAuthority,
			Held:     held,
			Detail:   fmt.Sprintf("approving request %s", id),
		}
	}
	// Two approvals from one person are one person, not two.
	if request.approvedBy(approver) {
		return nil, &rcp.AuthorityConflictError{
			Subject:  approver,
			Required: request.RequiredAuthority,
			Held:     held,
			Detail:   fmt.Sprintf("already approved request %s", id),
		}
	}

	request.Approvals = append(request.Approvals, Approval{
		Approver:  approver,
		Authority: held,
		At:        time.Now(),
	})
	if len(request.Approvals) >= request.RequiredApprovals {
		request.State = StateApproved
	}
	if err := m.storage.Save(ctx, request); err != nil {
		return nil, err
	}

	m.logger.Info("approval recorded",
		"request_id", id,
		"approver", approver,
		"approvals", len(request.Approvals),
		"state", request.State,
	)
	return request, nil
}

// Reject settles a pending request without applying it.
func (m *Manager) Reject(ctx context.Context, id, by, reason string) (*Request, error) {
	request, err := m.storage.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if request.State != StatePending {
		return nil, &StateError{ID: id, State: request.State, Operation: "reject"}
	}

	request.State = StateRejected
	request.RejectedBy = by
	request.Reason = reason
	if err := m.storage.Save(ctx, request); err != nil {
		return nil, err
	}

	m.logger.Info("approval request rejected", "request_id", id, "by", by, "reason", reason)
	return request, nil
}

// Apply activates an approved request's policy version and marks the
// request applied.
func (m *Manager) Apply(ctx context.Context, id string) (*Request, error) {
	request, err := m.storage.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if request.State != StateApproved {
		return nil, &StateError{ID: id, State: request.State, Operation: "apply"}
	}

	if err := store.ActivateLatest(ctx, m.activator, request.PolicyID, request.Version, 0); err != nil {
		return nil, fmt.Errorf("activating %s@v%d for request %s: %w",
			request.PolicyID, request.Version, id, err)
	}

	request.State = StateApplied
	if err := m.storage.Save(ctx, request); err != nil {
		return nil, err
	}

	m.logger.Info("approved change applied",
		"request_id", id,
		"policy_id", request.PolicyID,
		"version", request.Version,
	)
	return request, nil
}

// Get returns one request.
func (m *Manager) Get(ctx context.Context, id string) (*Request, error) {
	return m.storage.Get(ctx, id)
}

// ListPending returns unsettled requests.
func (m *Manager) ListPending(ctx context.Context) ([]*Request, error) {
	return m.storage.ListPending(ctx)
}

// Sweep rejects pending requests whose deadline has passed. It runs on
// the cron schedule once Start is called and can also be invoked
// directly.
func (m *Manager) Sweep(ctx context.Context) error {
	pending, err := m.storage.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("listing pending requests: %w", err)
	}

	now := time.Now()
	for _, request := range pending {
		if now.Before(request.Deadline) {
			continue
		}
		request.State = StateRejected
		request.Reason = "approval deadline expired"
		request.TimedOut = true
		if err := m.storage.Save(ctx, request); err != nil {
			return fmt.Errorf("expiring request %s: %w", request.ID, err)
		}
		m.logger.Warn("approval request expired",
			"request_id", request.ID,
			"policy_id", request.PolicyID,
			"deadline", request.Deadline,
		)
	}
	return nil
}

// Start schedules the expiry sweeper.
func (m *Manager) Start() error {
	_, err := m.cron.AddFunc(m.config.SweepSchedule, func() {
		if err := m.Sweep(context.Background()); err != nil {
			m.logger.Error("approval sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", m.config.SweepSchedule, err)
	}
	m.cron.Start()
	return nil
}

// Stop halts the sweeper and waits for a running sweep to finish.
func (m *Manager) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
}
