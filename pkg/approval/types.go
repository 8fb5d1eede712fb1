package approval

import (
	"context"
	"time"

	"vantage-hq/warden/pkg/rcp"
)

// State is the approval request lifecycle state.
type State string

const (
	// StatePending means the request is awaiting approvals.
	StatePending State = "pending"

	// StateApproved means enough approvals arrived; the change can be
	// applied.
	StateApproved State = "approved"

	// StateApplied means the approved change has been activated.
	StateApplied State = "applied"

	// StateRejected is terminal: an explicit rejection or an expired
	// deadline. Rejected requests are never revived.
	StateRejected State = "rejected"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateApplied || s == StateRejected
}

// Approval is one approver's sign-off.
type Approval struct {
	Approver  string        `json:"approver"`
	Authority rcp.Authority `json:"authority"`
	At        time.Time     `json:"at"`
}

// Request is one pending-or-settled activation request.
type Request struct {
	// ID is a UUID assigned at submission.
	ID string `json:"id"`

	// PolicyID and Version identify the published version to activate.
	PolicyID string `json:"policy_id"`
	Version  int    `json:"version"`

	// Proposer submitted the request and is excluded from approving it.
	Proposer string `json:"proposer"`

	// RequiredAuthority is the minimum authority each approver must
	// hold, taken from the policy document at submission time.
	RequiredAuthority rcp.Authority `json:"required_authority"`

	// RequiredApprovals is how many distinct approvals settle the
	// request.
	RequiredApprovals int `json:"required_approvals"`

	State     State      `json:"state"`
	Approvals []Approval `json:"approvals,omitempty"`

	// Reason explains a rejection.
	Reason     string `json:"reason,omitempty"`
	RejectedBy string `json:"rejected_by,omitempty"`

	// TimedOut marks a rejection produced by deadline expiry rather
	// than an explicit reject.
	TimedOut bool `json:"timed_out,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// Deadline is when an unsettled request expires to rejected. It is
	// persisted so expiry survives restarts.
	Deadline time.Time `json:"deadline"`
}

// approvedBy reports whether the principal already approved.
func (r *Request) approvedBy(principal string) bool {
	for _, a := range r.Approvals {
		if a.Approver == principal {
			return true
		}
	}
	return false
}

// Storage persists approval requests. Implementations must be safe for
// concurrent use.
type Storage interface {
	// Save upserts a request by ID.
	Save(ctx context.Context, r *Request) error

	// Get returns one request by ID.
	Get(ctx context.Context, id string) (*Request, error)

	// ListPending returns pending requests, oldest first.
	ListPending(ctx context.Context) ([]*Request, error)

	// Close releases backend resources.
	Close() error
}
