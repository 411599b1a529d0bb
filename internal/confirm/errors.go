// Package confirm implements the Confirmation Gate: a blocking ask/respond
// handshake that lets a worker thread request user approval of a sensitive
// action (typically code execution) without deadlocking the caller that
// will eventually supply the answer, plus the pause/resume handshake used
// by exclusive-stdout consumers such as a terminal UI animator.
package confirm

import "fmt"

// BusyError is returned by Request when a session already has an
// unresolved confirmation outstanding.
type BusyError struct {
	SessionID string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("confirmation already pending for session %s", e.SessionID)
}

// IsBusyError reports whether err is a *BusyError.
func IsBusyError(err error) bool {
	_, ok := err.(*BusyError)
	return ok
}

// CancelledError is surfaced to the worker thread when a session is torn
// down while a confirmation is outstanding.
type CancelledError struct {
	SessionID string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("confirmation for session %s cancelled by teardown", e.SessionID)
}

// IsCancelledError reports whether err is a *CancelledError.
func IsCancelledError(err error) bool {
	_, ok := err.(*CancelledError)
	return ok
}
