package ocp

import (
	"errors"
	"fmt"
	"strings"
)

// ExecutionError reports a control-plane command that exited with a non-zero
// code. Stderr is preserved verbatim so operators keep root-cause visibility
// into messages such as "already exists" or "NotFound".
type ExecutionError struct {
	Binary   string
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s %s exited with code %d: %s", e.Binary, strings.Join(e.Args, " "), e.ExitCode, strings.TrimSpace(e.Stderr))
}

// IsNotFound reports whether err is an ExecutionError for a resource that
// does not exist on the server. Callers polling for deletion treat this as
// success.
func IsNotFound(err error) bool {
	execErr := &ExecutionError{}
	if !errors.As(err, &execErr) {
		return false
	}
	return strings.Contains(execErr.Stderr, "NotFound") || strings.Contains(execErr.Stderr, "not found")
}
