// Package modelproc provides an orchestrator.ModelCaller that delegates a
// role's generation step to an external subprocess instead of binding a
// specific LLM provider SDK (LLM provider HTTP bindings are out of this
// repository's scope). The subprocess contract mirrors the kernel
// session's own line-delimited JSON protocol: one request line in, one
// response line out, one process per call.
package modelproc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"

	"github.com/agentcore/execorch/internal/orchestrator"
	"github.com/agentcore/execorch/internal/role"
	"github.com/agentcore/execorch/pkg/types"
)

// request is the single line of JSON written to the subprocess's stdin.
type request struct {
	Role        string      `json:"role"`
	RoleKind    string      `json:"role_kind"`
	Prompt      string      `json:"prompt"`
	Model       string      `json:"model"`
	Temperature *float64    `json:"temperature,omitempty"`
	Summary     string      `json:"summary,omitempty"`
	Rounds      []roundView `json:"rounds"`
	Input       string      `json:"input"`
}

type roundView struct {
	Index    int        `json:"index"`
	Query    string     `json:"user_query"`
	Posts    []postView `json:"posts"`
}

type postView struct {
	SendFrom string `json:"send_from"`
	SendTo   string `json:"send_to"`
	Message  string `json:"message"`
}

// response is the single line of JSON read back from the subprocess's
// stdout, mapping 1:1 onto orchestrator.Reply.
type response struct {
	Thought string `json:"thought"`
	Message string `json:"message"`
	SendTo  string `json:"send_to"`
	Code    string `json:"code"`
	Stop    bool   `json:"stop"`
	Error   string `json:"error,omitempty"`
}

// Caller spawns Command with Args for every generation step, matching
// orchestrator.ModelCaller.
type Caller struct {
	Command string
	Args    []string
}

// New returns a Caller invoking command with args for each Call.
func New(command string, args ...string) *Caller {
	return &Caller{Command: command, Args: args}
}

// Call satisfies orchestrator.ModelCaller.
func (c *Caller) Call(ctx context.Context, r *role.Role, memory orchestrator.Memory, input string) (orchestrator.Reply, error) {
	req := request{
		Role:        r.Name,
		RoleKind:    string(r.Kind),
		Prompt:      r.Prompt,
		Model:       r.Model.ID,
		Temperature: r.Temperature,
		Summary:     memory.Summary,
		Rounds:      viewRounds(memory.Rounds),
		Input:       input,
	}
	out, err := c.runOnce(ctx, req)
	if err != nil {
		var failed *CallFailedError
		if errors.As(err, &failed) {
			failed.Role = r.Name
		}
		return orchestrator.Reply{}, err
	}
	var resp response
	if err := decodeLine(out, &resp); err != nil {
		return orchestrator.Reply{}, &CallFailedError{Role: r.Name, Cause: err}
	}

	reply := orchestrator.Reply{
		Thought: resp.Thought,
		Message: resp.Message,
		SendTo:  resp.SendTo,
		Code:    resp.Code,
		Stop:    resp.Stop,
	}
	if resp.Error != "" {
		reply.Err = fmt.Errorf("%s", resp.Error)
	}
	return reply, nil
}

// runOnce marshals req as one line of stdin, spawns the configured command,
// and returns the first line of its stdout. Every call shape (Call,
// Summarizer) shares this: one process, one request line, one response
// line.
func (c *Caller) runOnce(ctx context.Context, req any) ([]byte, error) {
	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal model request: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	cmd.Stdin = bytes.NewReader(append(line, '\n'))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, &CallFailedError{Cause: err, Stderr: stderr.String()}
	}

	scanner := bufio.NewScanner(&stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if !scanner.Scan() {
		return nil, &CallFailedError{Cause: fmt.Errorf("no response line"), Stderr: stderr.String()}
	}
	return scanner.Bytes(), nil
}

func decodeLine(line []byte, v any) error {
	return json.Unmarshal(line, v)
}

func viewRounds(rounds []types.Round) []roundView {
	views := make([]roundView, 0, len(rounds))
	for _, round := range rounds {
		posts := make([]postView, 0, len(round.Posts))
		for _, post := range round.Posts {
			posts = append(posts, postView{SendFrom: post.SendFrom, SendTo: post.SendTo, Message: post.Message})
		}
		views = append(views, roundView{Index: round.Index, Query: round.UserQuery, Posts: posts})
	}
	return views
}

// CallFailedError wraps a failed invocation of the model subprocess.
type CallFailedError struct {
	Role   string
	Cause  error
	Stderr string
}

func (e *CallFailedError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("model call for role %s failed: %v (stderr: %s)", e.Role, e.Cause, e.Stderr)
	}
	return fmt.Sprintf("model call for role %s failed: %v", e.Role, e.Cause)
}

func (e *CallFailedError) Unwrap() error { return e.Cause }

// IsCallFailedError reports whether err is a *CallFailedError.
func IsCallFailedError(err error) bool {
	_, ok := err.(*CallFailedError)
	return ok
}
