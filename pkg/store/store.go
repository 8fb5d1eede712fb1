package store

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vantage-hq/warden/pkg/rcp"
)

// Store is the policy version store.
//
// Implementations must treat published versions as immutable and keep
// Activate atomic with respect to concurrent activations of the same
// policy.
type Store interface {
	// Publish validates the policy, assigns it the next version number
	// and persists it. The publishing principal must hold authority at
	// least equal to the policy's own requirement. Publishing never
	// activates: the new version becomes effective only via Activate.
	Publish(ctx context.Context, p *rcp.Policy, principal string, held rcp.Authority) (*rcp.PolicyVersion, error)

	// Activate moves the policy's active version pointer to version,
	// if and only if the pointer currently reads expected. An expected
	// of zero means "no version active yet". On mismatch it returns an
	// ActivationConflictError and leaves the pointer untouched.
	// Activating also clears a force-disable.
	Activate(ctx context.Context, policyID string, version, expected int) error

	// ActiveVersion returns the policy's active version number, or zero
	// when no version is active.
	ActiveVersion(ctx context.Context, policyID string) (int, error)

	// ListEffective returns the active, non-disabled versions of all
	// policies. The returned slice is a snapshot: later writes do not
	// affect it.
	ListEffective(ctx context.Context) ([]*rcp.PolicyVersion, error)

	// ListEffectiveAt answers the historical question: the active,
	// non-disabled versions as of the given instant, resolved from the
	// append-only activation history. Instants before any activation
	// yield an empty set.
	ListEffectiveAt(ctx context.Context, at time.Time) ([]*rcp.PolicyVersion, error)

	// GetVersion returns one published version.
	GetVersion(ctx context.Context, policyID string, version int) (*rcp.PolicyVersion, error)

	// ListVersions returns all published versions of a policy, oldest
	// first.
	ListVersions(ctx context.Context, policyID string) ([]*rcp.PolicyVersion, error)

	// ForceDisable takes the policy out of the effective set without
	// moving its version pointer. It exists for the canary controller's
	// automatic rollback; operator flows go through Activate.
	ForceDisable(ctx context.Context, policyID, reason string) error

	// Close releases backend resources.
	Close() error
}

// Activator is the activation subset of Store, for callers that only
// move version pointers.
type Activator interface {
	Activate(ctx context.Context, policyID string, version, expected int) error
	ActiveVersion(ctx context.Context, policyID string) (int, error)
}

// DefaultActivateAttempts bounds CAS retries in ActivateLatest before
// the conflict is surfaced to the caller.
const DefaultActivateAttempts = 3

// ActivateLatest re-reads the active pointer and retries a conflicted
// activation a bounded number of times with doubling backoff. It is a
// convenience for callers that want "make this version active" rather
// than strict compare-and-swap semantics.
func ActivateLatest(ctx context.Context, s Activator, policyID string, version, attempts int) error {
	if attempts <= 0 {
		attempts = DefaultActivateAttempts
	}
	backoff := 10 * time.Millisecond

	var lastErr error
	for i := 0; i < attempts; i++ {
		current, err := s.ActiveVersion(ctx, policyID)
		if err != nil {
			return err
		}
		err = s.Activate(ctx, policyID, version, current)
		if err == nil {
			return nil
		}
		var conflict *ActivationConflictError
		if !errors.As(err, &conflict) {
			return err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return lastErr
}

// Checksum returns the content hash of a policy document. Identical
// documents published twice produce identical checksums, which lets
// operators spot republished-unchanged versions.
func Checksum(p *rcp.Policy) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("hashing policy %q: %w", p.ID, err)
	}
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("%x", sum), nil
}

// checkPublish runs the shared publish-time checks.
func checkPublish(p *rcp.Policy, principal string, held rcp.Authority) error {
	if p == nil {
		return fmt.Errorf("policy cannot be nil")
	}
	if principal == "" {
		return fmt.Errorf("publishing principal cannot be empty")
	}
	if err := rcp.Validate(p); err != nil {
		return err
	}
	if held < p.Authority {
		return &rcp.AuthorityConflictError{
			Subject:  principal,
			Required: p.Authority,
			Held:     held,
			Detail:   fmt.Sprintf("publishing policy %q", p.ID),
		}
	}
	return nil
}
