package store

import "fmt"

// PolicyNotFoundError indicates the requested policy has no published
// versions.
type PolicyNotFoundError struct {
	PolicyID string
}

func (e *PolicyNotFoundError) Error() string {
	return fmt.Sprintf("policy %q not found", e.PolicyID)
}

// VersionNotFoundError indicates the requested policy version was never
// published.
type VersionNotFoundError struct {
	PolicyID string
	Version  int
}

func (e *VersionNotFoundError) Error() string {
	return fmt.Sprintf("policy %q has no version %d", e.PolicyID, e.Version)
}

// ActivationConflictError indicates a compare-and-swap activation lost
// to a concurrent change: the active version pointer no longer matches
// what the caller observed.
type ActivationConflictError struct {
	PolicyID string

	// Expected is the active version the caller based its change on.
	Expected int

	// Actual is the version found active at swap time.
	Actual int
}

func (e *ActivationConflictError) Error() string {
	return fmt.Sprintf("activation conflict for policy %q: expected active version %d, found %d",
		e.PolicyID, e.Expected, e.Actual)
}
