package approval

import "fmt"

// RequestNotFoundError indicates no request exists with the given ID.
type RequestNotFoundError struct {
	ID string
}

func (e *RequestNotFoundError) Error() string {
	return fmt.Sprintf("approval request %q not found", e.ID)
}

// StateError indicates an operation is not valid in the request's
// current state.
type StateError struct {
	ID        string
	State     State
	Operation string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s approval request %q in state %q", e.Operation, e.ID, e.State)
}
