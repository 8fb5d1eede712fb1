package decision

import (
	"context"
	"time"

	"vantage-hq/warden/pkg/rcp"
)

// Record is one immutable decision audit record.
type Record struct {
	// ID is the content-derived identifier. See ComputeID.
	ID string `json:"id"`

	// Source is the producing algorithm's identifier.
	Source string `json:"source"`

	// Batch is the submitted batch exactly as evaluated.
	Batch *rcp.Batch `json:"batch"`

	// Context is the evaluation context (timestamp, region, metric
	// snapshot) the rules observed.
	Context *rcp.Context `json:"context"`

	// Result is the complete evaluation outcome, including the policy
	// version set in evaluation order.
	Result *rcp.EvaluationResult `json:"result"`

	// Revision optionally records where the effective policies came
	// from, e.g. a git commit SHA when drafts are loaded from a
	// repository.
	Revision string `json:"revision,omitempty"`

	// RecordedAt is when the record was persisted. It plays no role in
	// replay; EvaluatedAt in Context is the authoritative timestamp.
	RecordedAt time.Time `json:"recorded_at"`
}

// Query filters stored decision records.
type Query struct {
	// Time range over Context.EvaluatedAt, inclusive on both ends.
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	// Source filters by producing algorithm.
	Source string `json:"source,omitempty"`

	// PolicyID filters to records whose version set includes the policy.
	PolicyID string `json:"policy_id,omitempty"`

	// Disposition filters by batch disposition.
	Disposition rcp.BatchDisposition `json:"disposition,omitempty"`

	// Pagination. A zero Limit means no limit.
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// Storage is a decision record store. Records are append-only: there is
// no update, and deletion exists solely for retention pruning.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Store persists a record. Storing an already-present ID is a
	// no-op, which makes recording idempotent.
	Store(ctx context.Context, record *Record) error

	// Get returns one record by ID.
	Get(ctx context.Context, id string) (*Record, error)

	// Query returns records matching the filters, newest first.
	Query(ctx context.Context, q *Query) ([]*Record, error)

	// Count returns the number of records matching the filters.
	Count(ctx context.Context, q *Query) (int64, error)

	// Prune deletes records evaluated before the cutoff and returns how
	// many were removed.
	Prune(ctx context.Context, before time.Time) (int64, error)

	// Close releases backend resources.
	Close() error
}
