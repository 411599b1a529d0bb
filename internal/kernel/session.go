// Package kernel runs one persistent code-execution subprocess per kernel
// session, bridged over a newline-delimited JSON protocol on its stdin and
// stdout. Unlike a one-shot-per-call runner, the same subprocess serves
// every execute call for the life of the session, so imports, variables,
// and loaded plugins survive across calls.
package kernel

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/oklog/ulid/v2"

	"github.com/agentcore/execorch/internal/logging"
	"github.com/agentcore/execorch/pkg/types"
)

// pendingExecution accumulates streamed output for one in-flight Execute
// call until its terminal "result" message arrives.
type pendingExecution struct {
	result *types.ExecutionResult
	onChunk func(stream, text string)
	done    chan struct{}
}

// pendingAck tracks one in-flight plugin-load or variable-update request.
type pendingAck struct {
	err  *string
	done chan struct{}
}

// Session owns one subprocess and its bidirectional protocol connection.
// All exported methods are safe for concurrent use.
type Session struct {
	id  string
	cwd string
	cmd *exec.Cmd

	mu           sync.Mutex
	stdin        io.WriteCloser
	executions   map[string]*pendingExecution
	acks         map[string]*pendingAck
	loadedPlugins []string
	executionCount int
	lastActivity   time.Time
	createdAt      time.Time

	doneCh chan struct{}
}

// Config describes how to launch a kernel subprocess.
type Config struct {
	// Command and Args launch the interpreter, e.g. "python3", ["-u", "-"].
	Command string
	Args    []string
	Cwd     string
	Env     []string
}

// Start spawns the subprocess for sessionID rooted at cfg.Cwd and begins
// reading its protocol stream. cfg.Cwd must already exist.
func Start(ctx context.Context, sessionID string, cfg Config) (*Session, error) {
	if sessionID == "" {
		sessionID = ulid.Make().String()
	}
	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Cwd
	if cfg.Env != nil {
		cmd.Env = cfg.Env
	}

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return nil, &StartFailedError{SessionID: sessionID, Cause: err}
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &StartFailedError{SessionID: sessionID, Cause: err}
	}
	var stderrBuf strings.Builder
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		return nil, &StartFailedError{SessionID: sessionID, Cause: err}
	}

	now := time.Now()
	s := &Session{
		id:         sessionID,
		cwd:        cfg.Cwd,
		cmd:        cmd,
		executions: make(map[string]*pendingExecution),
		acks:       make(map[string]*pendingAck),
		createdAt:  now,
		lastActivity: now,
		doneCh:     make(chan struct{}),
	}
	s.stdin = stdinPipe

	go s.readLoop(stdoutPipe)
	return s, nil
}

func (s *Session) readLoop(stdout io.ReadCloser) {
	defer close(s.doneCh)
	defer stdout.Close()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg outboundMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			logging.Warn().Str("session_id", s.id).Str("line", string(line)).Msg("kernel emitted malformed protocol line")
			continue
		}
		s.handle(msg)
	}
	_ = s.cmd.Wait()
}

func (s *Session) handle(msg outboundMessage) {
	switch msg.Type {
	case "output":
		s.mu.Lock()
		pe := s.executions[msg.ExecutionID]
		s.mu.Unlock()
		if pe == nil {
			return
		}
		if msg.Stream == "stderr" {
			pe.result.Stderr = append(pe.result.Stderr, msg.Text)
		} else {
			pe.result.Stdout = append(pe.result.Stdout, msg.Text)
		}
		if pe.onChunk != nil {
			pe.onChunk(msg.Stream, msg.Text)
		}
	case "chunk":
		s.mu.Lock()
		pe := s.executions[msg.ExecutionID]
		s.mu.Unlock()
		if pe != nil {
			pe.result.Output = append(pe.result.Output, types.OutputChunk{Mime: msg.Mime, Content: msg.Text})
		}
	case "log":
		s.mu.Lock()
		pe := s.executions[msg.ExecutionID]
		s.mu.Unlock()
		if pe != nil {
			pe.result.Log = append(pe.result.Log, types.LogEntry{Level: msg.Level, Tag: msg.Tag, Message: msg.Message})
		}
	case "artifact":
		s.mu.Lock()
		pe := s.executions[msg.ExecutionID]
		s.mu.Unlock()
		if pe != nil {
			var art types.Artifact
			if err := json.Unmarshal(msg.Artifact, &art); err == nil {
				pe.result.Artifacts = append(pe.result.Artifacts, art)
			}
		}
	case "variable":
		s.mu.Lock()
		pe := s.executions[msg.ExecutionID]
		s.mu.Unlock()
		if pe != nil {
			var v types.Variable
			if err := json.Unmarshal(msg.Variable, &v); err == nil {
				pe.result.Variables = append(pe.result.Variables, v)
			}
		}
	case "result":
		s.mu.Lock()
		pe := s.executions[msg.ExecutionID]
		delete(s.executions, msg.ExecutionID)
		s.mu.Unlock()
		if pe == nil {
			return
		}
		pe.result.IsSuccess = msg.Success
		pe.result.Error = msg.Error
		close(pe.done)
	case "plugin_ack", "variables_ack":
		s.mu.Lock()
		ack := s.acks[msg.RequestID]
		delete(s.acks, msg.RequestID)
		s.mu.Unlock()
		if ack == nil {
			return
		}
		ack.err = msg.Error
		close(ack.done)
	}
}

func (s *Session) send(msg inboundMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	stdin := s.stdin
	s.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("kernel session %s: stdin closed", s.id)
	}
	_, err = stdin.Write(append(data, '\n'))
	return err
}

// Execute runs code in the persistent subprocess and blocks until the
// kernel reports a terminal result or ctx is done. onChunk, if non-nil, is
// invoked for every stdout/stderr line as it streams in, before Execute
// returns.
func (s *Session) Execute(ctx context.Context, code string, onChunk func(stream, text string)) (*types.ExecutionResult, error) {
	return s.ExecuteWithID(ctx, ulid.Make().String(), code, onChunk)
}

// ExecuteWithID behaves like Execute but lets the caller choose execID up
// front, so a subscriber can be registered for that id before the request
// is sent (the execution HTTP/SSE API does this to avoid a race between
// starting the execution and a client subscribing to its stream).
func (s *Session) ExecuteWithID(ctx context.Context, execID, code string, onChunk func(stream, text string)) (*types.ExecutionResult, error) {
	pe := &pendingExecution{
		result:  &types.ExecutionResult{ExecutionID: execID, Code: code},
		onChunk: onChunk,
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	s.executions[execID] = pe
	s.executionCount++
	s.lastActivity = time.Now()
	s.mu.Unlock()

	if err := s.send(inboundMessage{Type: "execute", ID: execID, Code: code}); err != nil {
		s.mu.Lock()
		delete(s.executions, execID)
		s.mu.Unlock()
		return nil, &ExecutionFailedError{SessionID: s.id, ExecutionID: execID, Cause: err}
	}

	select {
	case <-pe.done:
		return pe.result, nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.executions, execID)
		s.mu.Unlock()
		return nil, ctx.Err()
	case <-s.doneCh:
		return nil, &ExecutionFailedError{SessionID: s.id, ExecutionID: execID, Cause: fmt.Errorf("kernel process exited")}
	}
}

// RegisterPlugin asks the kernel to load a plugin module from path.
func (s *Session) RegisterPlugin(ctx context.Context, path string) error {
	reqID := ulid.Make().String()
	ack := &pendingAck{done: make(chan struct{})}
	s.mu.Lock()
	s.acks[reqID] = ack
	s.mu.Unlock()

	if err := s.send(inboundMessage{Type: "load_plugin", ID: reqID, Path: path}); err != nil {
		return err
	}
	select {
	case <-ack.done:
		if ack.err != nil {
			return &PluginLoadFailedError{SessionID: s.id, Path: path, Cause: fmt.Errorf("%s", *ack.err)}
		}
		s.mu.Lock()
		s.loadedPlugins = append(s.loadedPlugins, path)
		s.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return &PluginLoadFailedError{SessionID: s.id, Path: path, Cause: fmt.Errorf("kernel process exited")}
	}
}

// UpdateVariables pushes a set of named values into the kernel's namespace.
func (s *Session) UpdateVariables(ctx context.Context, variables map[string]any) error {
	data, err := json.Marshal(variables)
	if err != nil {
		return err
	}
	reqID := ulid.Make().String()
	ack := &pendingAck{done: make(chan struct{})}
	s.mu.Lock()
	s.acks[reqID] = ack
	s.mu.Unlock()

	if err := s.send(inboundMessage{Type: "update_variables", ID: reqID, Variables: data}); err != nil {
		return err
	}
	select {
	case <-ack.done:
		if ack.err != nil {
			return fmt.Errorf("variable update failed: %s", *ack.err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return fmt.Errorf("kernel process exited")
	}
}

// UploadFile copies local data into the session workspace at relPath,
// rejecting any path that would resolve outside s.cwd.
func (s *Session) UploadFile(relPath string, data []byte) error {
	full, err := s.resolveWithinWorkspace(relPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o644)
}

// ArtifactPath resolves relPath to an absolute path within the session
// workspace, rejecting traversal outside it.
func (s *Session) ArtifactPath(relPath string) (string, error) {
	return s.resolveWithinWorkspace(relPath)
}

func (s *Session) resolveWithinWorkspace(relPath string) (string, error) {
	full := filepath.Join(s.cwd, relPath)
	cleanCwd := filepath.Clean(s.cwd)
	cleanFull := filepath.Clean(full)
	if cleanFull != cleanCwd && !strings.HasPrefix(cleanFull, cleanCwd+string(filepath.Separator)) {
		return "", &PathTraversalError{Requested: relPath}
	}
	return cleanFull, nil
}

// FindArtifacts returns workspace-relative paths of files matching a
// doublestar glob pattern (e.g. "output/**/*.png"), used to pick up files
// a running plugin writes directly rather than reporting through the
// protocol's "artifact" message.
func (s *Session) FindArtifacts(pattern string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(s.cwd), pattern)
	if err != nil {
		return nil, fmt.Errorf("kernel session %s: artifact glob %q: %w", s.id, pattern, err)
	}
	return matches, nil
}

// Info returns a snapshot of this session's bookkeeping fields.
func (s *Session) Info() types.KernelSessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	plugins := make([]string, len(s.loadedPlugins))
	copy(plugins, s.loadedPlugins)
	return types.KernelSessionInfo{
		SessionID:      s.id,
		Cwd:            s.cwd,
		CreatedAt:      s.createdAt.UnixMilli(),
		LastActivity:   s.lastActivity.UnixMilli(),
		LoadedPlugins:  plugins,
		ExecutionCount: s.executionCount,
	}
}

// Stop terminates the subprocess, closing stdin first to allow a graceful
// shutdown before forcing a kill.
func (s *Session) Stop() error {
	s.mu.Lock()
	stdin := s.stdin
	s.stdin = nil
	s.mu.Unlock()
	if stdin != nil {
		_ = stdin.Close()
	}

	select {
	case <-s.doneCh:
		return nil
	case <-time.After(2 * time.Second):
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		<-s.doneCh
		return nil
	}
}
