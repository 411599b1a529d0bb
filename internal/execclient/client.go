// Package execclient binds a session_id to a remote execution server URL
// and exposes the same shape as an in-process kernel.Session, forwarding
// every call over HTTP/SSE.
package execclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/agentcore/execorch/pkg/types"
)

// Config describes how to reach (and authenticate to) an execution server.
type Config struct {
	ServerURL  string
	APIKey     string
	HTTPClient *http.Client

	MaxRetries int
	RetryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
	c.ServerURL = strings.TrimRight(c.ServerURL, "/")
	return c
}

// Client forwards one session's execution calls to a remote execution
// server.
type Client struct {
	cfg       Config
	sessionID string
}

// NewClient binds a Client to sessionID against the server described by cfg.
func NewClient(cfg Config, sessionID string) *Client {
	return &Client{cfg: cfg.withDefaults(), sessionID: sessionID}
}

// SessionID returns the bound session id.
func (c *Client) SessionID() string { return c.sessionID }

// Probe checks GET /health with a short timeout, reporting whether a server
// is reachable there.
func (c *Client) Probe(ctx context.Context, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.ServerURL+"/api/v1/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// CreateSession issues POST /sessions for c.SessionID().
func (c *Client) CreateSession(ctx context.Context) error {
	body, _ := json.Marshal(map[string]string{"session_id": c.sessionID})
	_, err := c.doWithRetry(ctx, http.MethodPost, "/api/v1/sessions", body)
	return err
}

// StopSession issues DELETE /sessions/{id}.
func (c *Client) StopSession(ctx context.Context) error {
	_, err := c.doWithRetry(ctx, http.MethodDelete, "/api/v1/sessions/"+c.sessionID, nil)
	return err
}

// RegisterPlugin uploads plugin source under name, then asks the server to
// load it.
func (c *Client) RegisterPlugin(ctx context.Context, name, source string) error {
	body, _ := json.Marshal(map[string]string{"name": name, "code": source})
	_, err := c.doWithRetry(ctx, http.MethodPost, "/api/v1/sessions/"+c.sessionID+"/plugins", body)
	return err
}

// UpdateVariables pushes variables into the remote kernel's namespace.
func (c *Client) UpdateVariables(ctx context.Context, variables map[string]any) error {
	body, _ := json.Marshal(map[string]any{"variables": variables})
	_, err := c.doWithRetry(ctx, http.MethodPost, "/api/v1/sessions/"+c.sessionID+"/variables", body)
	return err
}

// UploadFile sends data to be written at filename in the remote workspace.
func (c *Client) UploadFile(ctx context.Context, filename string, data []byte) error {
	body, _ := json.Marshal(map[string]string{
		"filename": filename,
		"content":  base64.StdEncoding.EncodeToString(data),
		"encoding": "base64",
	})
	_, err := c.doWithRetry(ctx, http.MethodPost, "/api/v1/sessions/"+c.sessionID+"/files", body)
	return err
}

// DownloadArtifact fetches the bytes of a previously produced file.
func (c *Client) DownloadArtifact(ctx context.Context, filename string) ([]byte, error) {
	resp, err := c.doWithRetry(ctx, http.MethodGet, "/api/v1/sessions/"+c.sessionID+"/artifacts/"+filename, nil)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Execute runs code remotely. If onChunk is non-nil, execution is routed
// through the streaming endpoint and onChunk is invoked for every SSE
// "output" frame, in order, before Execute returns; otherwise the
// synchronous endpoint is used.
func (c *Client) Execute(ctx context.Context, code string, onChunk func(stream, text string)) (*types.ExecutionResult, error) {
	if onChunk == nil {
		return c.executeSync(ctx, code)
	}
	return c.executeStream(ctx, code, onChunk)
}

func (c *Client) executeSync(ctx context.Context, code string) (*types.ExecutionResult, error) {
	body, _ := json.Marshal(map[string]any{"code": code, "stream": false})
	raw, err := c.doWithRetry(ctx, http.MethodPost, "/api/v1/sessions/"+c.sessionID+"/execute", body)
	if err != nil {
		return nil, err
	}
	var result types.ExecutionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode execution result: %w", err)
	}
	return &result, nil
}

type streamAccepted struct {
	ExecID    string `json:"exec_id"`
	StreamURL string `json:"stream_url"`
}

func (c *Client) executeStream(ctx context.Context, code string, onChunk func(stream, text string)) (*types.ExecutionResult, error) {
	body, _ := json.Marshal(map[string]any{"code": code, "stream": true})
	raw, err := c.doWithRetry(ctx, http.MethodPost, "/api/v1/sessions/"+c.sessionID+"/execute", body)
	if err != nil {
		return nil, err
	}
	var accepted streamAccepted
	if err := json.Unmarshal(raw, &accepted); err != nil {
		return nil, fmt.Errorf("decode stream-accepted response: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.ServerURL+accepted.StreamURL, nil)
	if err != nil {
		return nil, err
	}
	c.setAuthHeader(req)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, &ServerUnreachableError{URL: c.cfg.ServerURL, Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, c.remoteErrorFromBody(resp)
	}

	return parseExecutionStream(resp.Body, onChunk)
}

// parseExecutionStream reads the "event: ...\ndata: ...\n\n" frames emitted
// by the streaming execute endpoint until "done", invoking onChunk for each
// "output" event and returning the payload of the "result" event.
func parseExecutionStream(body io.Reader, onChunk func(stream, text string)) (*types.ExecutionResult, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)

	var result *types.ExecutionResult
	var eventType string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			switch eventType {
			case "output":
				var payload struct {
					Type string `json:"type"`
					Text string `json:"text"`
				}
				if err := json.Unmarshal([]byte(data), &payload); err == nil && onChunk != nil {
					onChunk(payload.Type, payload.Text)
				}
			case "result":
				var r types.ExecutionResult
				if err := json.Unmarshal([]byte(data), &r); err == nil {
					result = &r
				}
			case "done":
				if result == nil {
					return nil, fmt.Errorf("execution stream closed before a result event")
				}
				return result, nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("execution stream: %w", err)
	}
	if result == nil {
		return nil, fmt.Errorf("execution stream ended without a result event")
	}
	return result, nil
}

func (c *Client) setAuthHeader(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}
}

// doWithRetry performs method/path with exponential backoff on transient
// transport/5xx errors, returning the raw response body on success.
func (c *Client) doWithRetry(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryDelay
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.3
	b.Reset()
	bo := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxRetries)), ctx)

	var result []byte
	op := func() error {
		resp, err := c.doOnce(ctx, method, path, body)
		if err != nil {
			if isTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		result = resp
		return nil
	}
	if err := backoff.Retry(op, bo); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return nil, perm.Err
		}
		return nil, &ServerUnreachableError{URL: c.cfg.ServerURL, Cause: err}
	}
	return result, nil
}

func (c *Client) doOnce(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.ServerURL+path, reader)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuthHeader(req)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 50<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, respBody)
	}
	return nil, c.remoteError(resp.StatusCode, respBody)
}

func (c *Client) remoteErrorFromBody(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return c.remoteError(resp.StatusCode, body)
}

func (c *Client) remoteError(status int, body []byte) error {
	if status == http.StatusUnauthorized {
		return &AuthRequiredError{URL: c.cfg.ServerURL}
	}
	var parsed struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal(body, &parsed)
	return &RemoteError{StatusCode: status, Code: parsed.Error.Code, Detail: parsed.Error.Message}
}

// isTransient reports whether err is a transient network/server error that
// backoff.Retry should retry, mirroring the classification in
// nevindra-oasis's HTTPRunner.
func isTransient(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "server error 5") ||
		strings.Contains(msg, "EOF")
}
