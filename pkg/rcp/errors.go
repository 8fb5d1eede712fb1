package rcp

import (
	"fmt"
	"strings"
)

// ValidationError reports a malformed policy document. The policy is
// rejected before publication and never partially applied.
type ValidationError struct {
	// PolicyID is the offending policy, when known.
	PolicyID string

	// Problems lists the individual findings.
	Problems []string
}

func (e *ValidationError) Error() string {
	id := e.PolicyID
	if id == "" {
		id = "(unknown)"
	}
	return fmt.Sprintf("policy %s failed validation: %s", id, strings.Join(e.Problems, "; "))
}

// AuthorityConflictError reports an authority violation: a principal
// lacking the required level, a rule demanding less authority than its
// policy's minimum, or a two-person-rule breach.
type AuthorityConflictError struct {
	Subject  string
	Required Authority
	Held     Authority
	Detail   string
}

func (e *AuthorityConflictError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("authority conflict on %s: %s", e.Subject, e.Detail)
	}
	return fmt.Sprintf("authority conflict on %s: requires %s, holder has %s",
		e.Subject, e.Required, e.Held)
}
