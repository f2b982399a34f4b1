package recovery

import "fmt"

// PhaseError is fatal: a phase's postcondition did not hold within its
// timeout. No automatic compensation happens beyond the explicit revert phase
// already in the sequence; the diagnostic dump captured at failure time
// preserves forensic context.
type PhaseError struct {
	Phase      string
	Err        error
	Diagnostic string
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("recovery phase %s failed: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}
