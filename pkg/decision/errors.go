package decision

import "fmt"

// NotFoundError indicates no record exists with the requested ID.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("decision record %q not found", e.ID)
}

// StorageError wraps a backend failure.
type StorageError struct {
	Backend   string
	Operation string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("decision storage %s: %s failed: %v", e.Backend, e.Operation, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
