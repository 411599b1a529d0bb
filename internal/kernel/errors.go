package kernel

import "fmt"

// StartFailedError wraps a failure to spawn or initialize the kernel
// subprocess.
type StartFailedError struct {
	SessionID string
	Cause     error
}

func (e *StartFailedError) Error() string {
	return fmt.Sprintf("kernel session %s failed to start: %v", e.SessionID, e.Cause)
}

func (e *StartFailedError) Unwrap() error { return e.Cause }

// IsStartFailedError reports whether err is a *StartFailedError.
func IsStartFailedError(err error) bool {
	_, ok := err.(*StartFailedError)
	return ok
}

// ExecutionFailedError wraps an execution that the kernel subprocess itself
// reported as failed (distinct from a transport/protocol failure).
type ExecutionFailedError struct {
	SessionID   string
	ExecutionID string
	Cause       error
}

func (e *ExecutionFailedError) Error() string {
	return fmt.Sprintf("kernel session %s execution %s failed: %v", e.SessionID, e.ExecutionID, e.Cause)
}

func (e *ExecutionFailedError) Unwrap() error { return e.Cause }

// IsExecutionFailedError reports whether err is an *ExecutionFailedError.
func IsExecutionFailedError(err error) bool {
	_, ok := err.(*ExecutionFailedError)
	return ok
}

// PluginLoadFailedError wraps a plugin the kernel subprocess rejected.
type PluginLoadFailedError struct {
	SessionID string
	Path      string
	Cause     error
}

func (e *PluginLoadFailedError) Error() string {
	return fmt.Sprintf("kernel session %s: plugin %s failed to load: %v", e.SessionID, e.Path, e.Cause)
}

func (e *PluginLoadFailedError) Unwrap() error { return e.Cause }

// IsPluginLoadFailedError reports whether err is a *PluginLoadFailedError.
func IsPluginLoadFailedError(err error) bool {
	_, ok := err.(*PluginLoadFailedError)
	return ok
}

// PathTraversalError is returned by UploadFile/ArtifactPath when the
// requested path would resolve outside the session's workspace.
type PathTraversalError struct {
	Requested string
}

func (e *PathTraversalError) Error() string {
	return fmt.Sprintf("path escapes session workspace: %s", e.Requested)
}

// IsPathTraversalError reports whether err is a *PathTraversalError.
func IsPathTraversalError(err error) bool {
	_, ok := err.(*PathTraversalError)
	return ok
}
