package execserver

import (
	"context"

	"github.com/oklog/ulid/v2"

	"github.com/agentcore/execorch/internal/logging"
	"github.com/agentcore/execorch/pkg/types"
)

// Execute runs code synchronously on sessionID and returns the full result,
// used by the non-streaming execute endpoint.
func (m *Manager) Execute(ctx context.Context, sessionID, execID, code string) (*types.ExecutionResult, error) {
	sess, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if execID == "" {
		execID = ulid.Make().String()
	}
	return sess.ExecuteWithID(ctx, execID, code, nil)
}

// ExecuteStream starts execution in the background and returns the exec_id
// immediately; output and the terminal result are delivered through the
// broadcaster a caller subscribes to via StreamSubscribe(execID).
func (m *Manager) ExecuteStream(sessionID, code string) (execID string, err error) {
	sess, err := m.Get(sessionID)
	if err != nil {
		return "", err
	}
	execID = ulid.Make().String()
	b := m.broadcasts.create(sessionID, execID)

	go func() {
		defer m.broadcasts.remove(sessionID, execID)
		defer b.closeAll()

		result, execErr := sess.ExecuteWithID(context.Background(), execID, code, func(stream, text string) {
			b.publish(sseMessage{Event: "output", Data: executeOutputPayload{Type: stream, Text: text}})
		})
		if execErr != nil {
			logging.Error().Err(execErr).Str("session_id", sessionID).Str("exec_id", execID).Msg("streamed execution failed")
			msg := execErr.Error()
			result = &types.ExecutionResult{ExecutionID: execID, Code: code, IsSuccess: false, Error: &msg}
		}
		b.publish(sseMessage{Event: "result", Data: result})
	}()

	return execID, nil
}

// StreamSubscribe returns a channel of SSE frames for execID and an
// unsubscribe func, or false if execID is unknown (already finished and
// cleaned up, or never existed).
func (m *Manager) StreamSubscribe(execID string) (<-chan sseMessage, func(), bool) {
	b, ok := m.broadcasts.get(execID)
	if !ok {
		return nil, func() {}, false
	}
	id, ch := b.subscribe()
	return ch, func() { b.unsubscribe(id) }, true
}

// LoadPlugin registers a plugin on sessionID's kernel.
func (m *Manager) LoadPlugin(ctx context.Context, sessionID, path string) error {
	sess, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	return sess.RegisterPlugin(ctx, path)
}

// UpdateVariables pushes variables into sessionID's kernel namespace.
func (m *Manager) UpdateVariables(ctx context.Context, sessionID string, variables map[string]any) error {
	sess, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	return sess.UpdateVariables(ctx, variables)
}

// UploadFile writes data into sessionID's workspace at relPath.
func (m *Manager) UploadFile(sessionID, relPath string, data []byte) error {
	sess, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	return sess.UploadFile(relPath, data)
}

// ArtifactPath resolves relPath to an absolute path within sessionID's
// workspace. If sessionID is absent and fallbackSessionID is set, it is
// tried as a secondary source only when sessionID and fallbackSessionID
// were created under the same ownership group (cross-session artifact
// fallback is allowed only when the caller already owns both session ids;
// an unrecognized sessionID can assert ownership of nothing).
func (m *Manager) ArtifactPath(sessionID, fallbackSessionID, relPath string) (string, error) {
	sess, err := m.Get(sessionID)
	if err == nil {
		return sess.ArtifactPath(relPath)
	}
	if !IsSessionNotFoundError(err) || fallbackSessionID == "" {
		return "", err
	}
	if !m.sameGroup(sessionID, fallbackSessionID) {
		return "", err
	}
	fallback, ferr := m.Get(fallbackSessionID)
	if ferr != nil {
		return "", err
	}
	return fallback.ArtifactPath(relPath)
}
