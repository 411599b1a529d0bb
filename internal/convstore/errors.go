package convstore

import "fmt"

// RoundNotFoundError is returned when a round id does not exist in a
// conversation.
type RoundNotFoundError struct {
	SessionID string
	RoundID   string
}

func (e *RoundNotFoundError) Error() string {
	return fmt.Sprintf("round %s not found in session %s", e.RoundID, e.SessionID)
}

// IsRoundNotFoundError reports whether err is a *RoundNotFoundError.
func IsRoundNotFoundError(err error) bool {
	_, ok := err.(*RoundNotFoundError)
	return ok
}

// UnknownRoleError is returned when a post names a role that the RoleKnown
// predicate passed to NewStore does not recognize.
type UnknownRoleError struct {
	Role string
}

func (e *UnknownRoleError) Error() string { return fmt.Sprintf("unknown role: %s", e.Role) }

// IsUnknownRoleError reports whether err is an *UnknownRoleError.
func IsUnknownRoleError(err error) bool {
	_, ok := err.(*UnknownRoleError)
	return ok
}
