package execute

import (
	"errors"
	"fmt"
)

// ErrToolNotFound is returned when the invoked tool is not in the catalog.
var ErrToolNotFound = errors.New("tool not found")

// NotExposedError is a visibility denial: the tool exists but is not in the
// caller's exposed set. Terminal, never retried, and returned before any
// policy evaluation or backend call.
type NotExposedError struct {
	ToolName string
}

func (e *NotExposedError) Error() string {
	return fmt.Sprintf("tool %q is not visible to the caller", e.ToolName)
}

// DeniedError is an authorization denial from the policy engine. Terminal.
// RequiresElevation distinguishes the sub-case where a valid elevation
// grant would flip the outcome.
type DeniedError struct {
	ToolName          string
	Reason            string
	RequiresElevation bool
}

func (e *DeniedError) Error() string {
	if e.RequiresElevation {
		return fmt.Sprintf("access to %q denied: elevation required", e.ToolName)
	}
	return fmt.Sprintf("access to %q denied: %s", e.ToolName, e.Reason)
}

// BackendError is a terminal backend failure: either a non-2xx response or
// a transient transport failure that exhausted its retries.
type BackendError struct {
	ToolName   string
	StatusCode int // 0 for transport failures
	Body       string
	Transient  bool
	Err        error
}

func (e *BackendError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("backend error for %q: status %d", e.ToolName, e.StatusCode)
	}
	return fmt.Sprintf("backend error for %q: %v", e.ToolName, e.Err)
}

// Unwrap exposes the underlying transport error, if any.
func (e *BackendError) Unwrap() error { return e.Err }
