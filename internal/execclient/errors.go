package execclient

import "fmt"

// ServerStartFailedError is returned when auto-start could not bring the
// execution server to a healthy state before the startup deadline elapsed.
type ServerStartFailedError struct {
	URL   string
	Cause error
}

func (e *ServerStartFailedError) Error() string {
	return fmt.Sprintf("execution server at %s failed to start: %v", e.URL, e.Cause)
}

func (e *ServerStartFailedError) Unwrap() error { return e.Cause }

// IsServerStartFailedError reports whether err is a *ServerStartFailedError.
func IsServerStartFailedError(err error) bool {
	_, ok := err.(*ServerStartFailedError)
	return ok
}

// ServerUnreachableError wraps a transport-level failure talking to an
// already-running execution server (auto-start disabled or exhausted).
type ServerUnreachableError struct {
	URL   string
	Cause error
}

func (e *ServerUnreachableError) Error() string {
	return fmt.Sprintf("execution server at %s unreachable: %v", e.URL, e.Cause)
}

func (e *ServerUnreachableError) Unwrap() error { return e.Cause }

// IsServerUnreachableError reports whether err is a *ServerUnreachableError.
func IsServerUnreachableError(err error) bool {
	_, ok := err.(*ServerUnreachableError)
	return ok
}

// AuthRequiredError is returned when the server rejects a request for a
// missing or invalid API key.
type AuthRequiredError struct {
	URL string
}

func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf("execution server at %s requires authentication", e.URL)
}

// IsAuthRequiredError reports whether err is a *AuthRequiredError.
func IsAuthRequiredError(err error) bool {
	_, ok := err.(*AuthRequiredError)
	return ok
}

// RemoteError wraps a non-2xx, non-auth response from the execution server,
// carrying the server's own error code/message (§4.H: "body detail field is
// the message").
type RemoteError struct {
	StatusCode int
	Code       string
	Detail     string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("execution server returned %d (%s): %s", e.StatusCode, e.Code, e.Detail)
}

// IsRemoteError reports whether err is a *RemoteError.
func IsRemoteError(err error) bool {
	_, ok := err.(*RemoteError)
	return ok
}
