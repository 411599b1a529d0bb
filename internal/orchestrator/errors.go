package orchestrator

import "fmt"

// TimeoutError is returned when a round exceeds its step budget without
// reaching a terminal state.
type TimeoutError struct {
	SessionID string
	RoundID   string
	Reason    string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("session %s round %s timed out: %s", e.SessionID, e.RoundID, e.Reason)
}

// IsTimeoutError reports whether err is a *TimeoutError.
func IsTimeoutError(err error) bool {
	_, ok := err.(*TimeoutError)
	return ok
}

// RetryBudgetExhaustedError is surfaced to the Planner (as a failed worker
// reply, per spec) once a worker has exhausted its recoverable-failure
// retry budget for the round.
type RetryBudgetExhaustedError struct {
	RoundID string
	Role    string
	Cause   error
}

func (e *RetryBudgetExhaustedError) Error() string {
	return fmt.Sprintf("round %s: role %s exhausted retry budget: %v", e.RoundID, e.Role, e.Cause)
}

func (e *RetryBudgetExhaustedError) Unwrap() error { return e.Cause }

// IsRetryBudgetExhaustedError reports whether err is a *RetryBudgetExhaustedError.
func IsRetryBudgetExhaustedError(err error) bool {
	_, ok := err.(*RetryBudgetExhaustedError)
	return ok
}

// ConfirmationRejectedError is returned when the user declines a pending
// code-execution confirmation (spec E6): the worker skips execution, the
// round fails, and no kernel activity occurs for that turn.
type ConfirmationRejectedError struct {
	SessionID string
	RoundID   string
}

func (e *ConfirmationRejectedError) Error() string {
	return fmt.Sprintf("session %s round %s: confirmation rejected", e.SessionID, e.RoundID)
}

// IsConfirmationRejectedError reports whether err is a *ConfirmationRejectedError.
func IsConfirmationRejectedError(err error) bool {
	_, ok := err.(*ConfirmationRejectedError)
	return ok
}
