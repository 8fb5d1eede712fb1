package source

import (
	"context"

	"vantage-hq/warden/pkg/rcp"
)

// DraftSource loads policy drafts. Load returns the parsed documents
// and a revision identifying the state that was read; the revision is
// empty when the source has no versioning.
type DraftSource interface {
	Load(ctx context.Context) ([]*rcp.Policy, string, error)
}

// Watchable is implemented by sources that can signal changes. The
// callback runs after each detected change, debounced; a failing
// callback is logged by the source and does not stop watching.
type Watchable interface {
	// Watch blocks until the context is cancelled.
	Watch(ctx context.Context, onChange func() error) error
}
