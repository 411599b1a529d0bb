package orchestrator

import (
	"context"

	"github.com/agentcore/execorch/internal/role"
)

// Reply is the structured output a role produces for one post, whichever
// model or generation strategy backs it. The Planner's {thought, message,
// send_to} parse (spec §4.I step 2) and a CodeInterpreter-type worker's
// generated code both fit this one shape: Code is empty for non-code roles.
type Reply struct {
	Thought string
	Message string
	SendTo  string
	Code    string
	Stop    bool

	// Err carries a role-local recoverable failure that should be reported
	// on this post (post_end's error) without failing the whole round, per
	// spec §7's propagation policy for exhausted worker retry budgets: it
	// surfaces to Planner as a failed worker reply, not a round failure.
	Err error
}

// ModelCaller produces a Reply for one role given the conversation history
// available to it. It is supplied by the caller rather than hard-wired to a
// provider SDK, since LLM provider HTTP bindings are out of this
// repository's scope (spec.md Non-goals; SPEC_FULL.md DESIGN NOTES).
type ModelCaller interface {
	Call(ctx context.Context, r *role.Role, memory Memory, input string) (Reply, error)
}

// ModelCallerFunc adapts a function to ModelCaller.
type ModelCallerFunc func(ctx context.Context, r *role.Role, memory Memory, input string) (Reply, error)

func (f ModelCallerFunc) Call(ctx context.Context, r *role.Role, memory Memory, input string) (Reply, error) {
	return f(ctx, r, memory, input)
}

// CodeVerifier optionally validates generated code before it reaches a
// kernel session, surfacing the spec's recoverable CodeVerificationFailed
// error kind. A nil CodeVerifier skips verification entirely.
type CodeVerifier func(code string) error

// CodeVerificationFailedError wraps a CodeVerifier rejection.
type CodeVerificationFailedError struct {
	Cause error
}

func (e *CodeVerificationFailedError) Error() string {
	return "code verification failed: " + e.Cause.Error()
}

func (e *CodeVerificationFailedError) Unwrap() error { return e.Cause }

// IsCodeVerificationFailedError reports whether err is a *CodeVerificationFailedError.
func IsCodeVerificationFailedError(err error) bool {
	_, ok := err.(*CodeVerificationFailedError)
	return ok
}
