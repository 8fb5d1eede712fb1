package replay

import "fmt"

// MismatchError indicates a replay did not reproduce the recorded
// result. Evaluation is supposed to be a pure function of its recorded
// inputs, so a mismatch means an engine regression, not bad data.
type MismatchError struct {
	RecordID string

	// Recorded and Replayed are the canonical JSON encodings that
	// differed.
	Recorded string
	Replayed string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("replay of decision %s diverged from the recorded result", e.RecordID)
}

// OverrideError indicates an invalid what-if override.
type OverrideError struct {
	RecordID string
	Detail   string
}

func (e *OverrideError) Error() string {
	return fmt.Sprintf("invalid what-if override for decision %s: %s", e.RecordID, e.Detail)
}
