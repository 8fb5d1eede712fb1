package canary

import "fmt"

// RolloutNotFoundError indicates no rollout exists with the given ID.
type RolloutNotFoundError struct {
	ID string
}

func (e *RolloutNotFoundError) Error() string {
	return fmt.Sprintf("canary rollout %q not found", e.ID)
}

// RolloutExistsError indicates a (policy, version) pair already has a
// rollout in flight.
type RolloutExistsError struct {
	PolicyID string
	Version  int
	Existing string
}

func (e *RolloutExistsError) Error() string {
	return fmt.Sprintf("policy %s@v%d already has active rollout %s",
		e.PolicyID, e.Version, e.Existing)
}

// SpecError indicates an invalid rollout specification.
type SpecError struct {
	Detail string
}

func (e *SpecError) Error() string {
	return fmt.Sprintf("invalid rollout spec: %s", e.Detail)
}
