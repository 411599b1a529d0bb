package kernel

import "encoding/json"

// inbound messages (execorch -> kernel subprocess).
type inboundMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Code      string          `json:"code,omitempty"`
	Path      string          `json:"path,omitempty"`
	Variables json.RawMessage `json:"variables,omitempty"`
}

// outboundMessage is one line the kernel subprocess writes to stdout.
type outboundMessage struct {
	Type        string          `json:"type"`
	ExecutionID string          `json:"execution_id,omitempty"`
	RequestID   string          `json:"id,omitempty"`
	Stream      string          `json:"stream,omitempty"` // "stdout" | "stderr"
	Text        string          `json:"text,omitempty"`
	Mime        string          `json:"mime,omitempty"`
	Level       string          `json:"level,omitempty"`
	Tag         string          `json:"tag,omitempty"`
	Message     string          `json:"message,omitempty"`
	Success     bool            `json:"success,omitempty"`
	Error       *string         `json:"error,omitempty"`
	Artifact    json.RawMessage `json:"artifact,omitempty"`
	Variable    json.RawMessage `json:"variable,omitempty"`
}
