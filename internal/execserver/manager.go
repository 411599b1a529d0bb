// Package execserver implements the network-addressable execution backend:
// a Manager owning one persistent kernel.Session per execution session, and
// (in handlers.go) the chi-routed HTTP/SSE API in front of it.
package execserver

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/agentcore/execorch/internal/kernel"
	"github.com/agentcore/execorch/internal/logging"
	"github.com/agentcore/execorch/pkg/types"
)

// Config configures the Manager's work root and how it launches kernel
// subprocesses.
type Config struct {
	// WorkRoot is the directory under which every session gets
	// workRoot/sessions/<id>/cwd.
	WorkRoot string
	// Command and Args launch the kernel interpreter; Cwd is filled in
	// per-session and must not be set here.
	Command string
	Args    []string
	Env     []string
	// SessionTTL, if non-zero, is the idle duration after which the
	// eviction loop stops an unused session.
	SessionTTL time.Duration
}

// Manager owns every live kernel session on this server process.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*kernel.Session
	watchers map[string]*artifactWatcher
	// groups records, per sessionID, the ownership group it was created
	// under. Entries outlive Stop/eviction so ArtifactPath's cross-session
	// fallback can still assert ownership of a session that has since been
	// torn down.
	groups map[string]string

	cfg Config

	broadcasts *broadcastRegistry

	stopEviction chan struct{}
}

// NewManager creates a Manager rooted at cfg.WorkRoot, creating the
// directory if needed.
func NewManager(cfg Config) (*Manager, error) {
	if err := os.MkdirAll(filepath.Join(cfg.WorkRoot, "sessions"), 0o755); err != nil {
		return nil, err
	}
	m := &Manager{
		sessions:     make(map[string]*kernel.Session),
		watchers:     make(map[string]*artifactWatcher),
		groups:       make(map[string]string),
		cfg:          cfg,
		broadcasts:   newBroadcastRegistry(),
		stopEviction: make(chan struct{}),
	}
	if cfg.SessionTTL > 0 {
		go m.evictionLoop()
	}
	return m, nil
}

func (m *Manager) sessionDir(sessionID string) string {
	return filepath.Join(m.cfg.WorkRoot, "sessions", sessionID)
}

// Create starts a new kernel session, failing with *SessionExistsError if
// sessionID is already in use. groupID scopes which other sessions this one
// is willing to serve as an ArtifactPath fallback source for (and vice
// versa); an empty groupID defaults to sessionID itself, so a session
// shares artifacts with no one unless a group is explicitly given.
func (m *Manager) Create(ctx context.Context, sessionID, groupID string) (*kernel.Session, error) {
	if sessionID == "" {
		sessionID = ulid.Make().String()
	}
	if groupID == "" {
		groupID = sessionID
	}

	m.mu.Lock()
	if _, exists := m.sessions[sessionID]; exists {
		m.mu.Unlock()
		return nil, &SessionExistsError{SessionID: sessionID}
	}
	m.sessions[sessionID] = nil // reserve the id while the subprocess starts
	m.groups[sessionID] = groupID
	m.mu.Unlock()

	cwd := filepath.Join(m.sessionDir(sessionID), "cwd")
	if err := os.MkdirAll(cwd, 0o755); err != nil {
		m.mu.Lock()
		delete(m.sessions, sessionID)
		delete(m.groups, sessionID)
		m.mu.Unlock()
		return nil, &kernel.StartFailedError{SessionID: sessionID, Cause: err}
	}

	sess, err := kernel.Start(ctx, sessionID, kernel.Config{
		Command: m.cfg.Command,
		Args:    m.cfg.Args,
		Cwd:     cwd,
		Env:     m.cfg.Env,
	})
	if err != nil {
		m.mu.Lock()
		delete(m.sessions, sessionID)
		delete(m.groups, sessionID)
		m.mu.Unlock()
		return nil, err
	}

	m.mu.Lock()
	m.sessions[sessionID] = sess
	m.mu.Unlock()

	if watcher, err := newArtifactWatcher(cwd, ""); err != nil {
		logging.Warn().Err(err).Str("session_id", sessionID).Msg("artifact watcher unavailable")
	} else {
		m.mu.Lock()
		m.watchers[sessionID] = watcher
		m.mu.Unlock()
	}

	logging.Info().Str("session_id", sessionID).Msg("execution session created")
	return sess, nil
}

// DetectedArtifacts returns the file paths observed by the session's
// artifact watcher since it was created (files written by the kernel
// itself, or dropped externally into its cwd), or *SessionNotFoundError.
func (m *Manager) DetectedArtifacts(sessionID string) ([]string, error) {
	m.mu.RLock()
	watcher, ok := m.watchers[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, &SessionNotFoundError{SessionID: sessionID}
	}
	return watcher.Detected(), nil
}

// Get returns the live kernel session for id, or *SessionNotFoundError.
func (m *Manager) Get(sessionID string) (*kernel.Session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok || sess == nil {
		return nil, &SessionNotFoundError{SessionID: sessionID}
	}
	return sess, nil
}

// sameGroup reports whether a and b were created under the same ownership
// group, i.e. whether the caller that holds a is entitled to also read
// artifacts from b. Sessions with no recorded group (never created through
// this Manager) never match.
func (m *Manager) sameGroup(a, b string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	groupA, ok := m.groups[a]
	if !ok {
		return false
	}
	groupB, ok := m.groups[b]
	return ok && groupA == groupB
}

// List returns metadata for every live session.
func (m *Manager) List() []types.KernelSessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.KernelSessionInfo, 0, len(m.sessions))
	for _, sess := range m.sessions {
		if sess == nil {
			continue
		}
		out = append(out, sess.Info())
	}
	return out
}

// Stop stops and removes the session, or returns *SessionNotFoundError.
func (m *Manager) Stop(sessionID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	watcher, watcherOK := m.watchers[sessionID]
	delete(m.watchers, sessionID)
	m.mu.Unlock()
	if watcherOK {
		_ = watcher.Close()
	}
	if !ok || sess == nil {
		return &SessionNotFoundError{SessionID: sessionID}
	}
	m.broadcasts.closeSession(sessionID)
	return sess.Stop()
}

// Shutdown stops every live session, used at process exit. Calling it more
// than once is safe.
func (m *Manager) Shutdown() {
	select {
	case <-m.stopEviction:
	default:
		close(m.stopEviction)
	}
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		_ = m.Stop(id)
	}
}

// evictionLoop stops sessions that have been idle longer than cfg.SessionTTL.
func (m *Manager) evictionLoop() {
	ticker := time.NewTicker(m.cfg.SessionTTL / 4)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopEviction:
			return
		case <-ticker.C:
			now := time.Now()
			m.mu.RLock()
			var stale []string
			for id, sess := range m.sessions {
				if sess == nil {
					continue
				}
				info := sess.Info()
				if now.Sub(time.UnixMilli(info.LastActivity)) > m.cfg.SessionTTL {
					stale = append(stale, id)
				}
			}
			m.mu.RUnlock()
			for _, id := range stale {
				logging.Info().Str("session_id", id).Msg("evicting idle execution session")
				_ = m.Stop(id)
			}
		}
	}
}
