// Package gateway maps the Event Bus onto a persistent duplex connection
// per session_id (spec §4.J): on connect it replays the conversation's
// history, then forwards every live bus event with the stable schema from
// spec §6, while accepting inbound send_message/confirm/upload_file frames.
package gateway

import "encoding/json"

// InboundType is one of the three message kinds a client may send.
type InboundType string

const (
	InboundSendMessage InboundType = "send_message"
	InboundConfirm     InboundType = "confirm"
	InboundUploadFile  InboundType = "upload_file"
)

// InboundFrame is a client->server message (spec §6 duplex connection
// protocol, client->server half).
type InboundFrame struct {
	Type       InboundType `json:"type"`
	Message    string      `json:"message,omitempty"`
	Files      []string    `json:"files,omitempty"`
	Approved   bool        `json:"approved,omitempty"`
	Filename   string      `json:"filename,omitempty"`
	ContentB64 string      `json:"content_b64,omitempty"`
}

// OutboundType is one of the server->client message kinds named in spec §6.
type OutboundType string

const (
	OutConnected       OutboundType = "connected"
	OutRoundStart      OutboundType = "round_start"
	OutRoundEnd        OutboundType = "round_end"
	OutRoundError      OutboundType = "round_error"
	OutPostStart       OutboundType = "post_start"
	OutPostEnd         OutboundType = "post_end"
	OutMessageUpdate   OutboundType = "message_update"
	OutAttachmentStart OutboundType = "attachment_start"
	OutAttachmentChunk OutboundType = "attachment_update"
	OutSendToUpdate    OutboundType = "send_to_update"
	OutStatusUpdate    OutboundType = "status_update"
	OutExecutionOutput OutboundType = "execution_output"
	OutConfirmRequest  OutboundType = "confirm_request"
	OutMessageComplete OutboundType = "message_complete"
	OutHistoryComplete OutboundType = "history_complete"
	OutError           OutboundType = "error"
)

// OutboundFrame is the single server->client envelope shape: every message
// type in spec §6's "Server→client" list is a flat object keyed by `type`
// plus whichever of these fields that type names; unused fields are omitted
// rather than nested under a generic payload, matching the wire examples
// verbatim (`round_start {round_id}`, `post_end {post_id, error?}`, ...).
type OutboundFrame struct {
	Type           OutboundType `json:"type"`
	SessionID      string       `json:"session_id,omitempty"`
	RoundID        string       `json:"round_id,omitempty"`
	PostID         string       `json:"post_id,omitempty"`
	Role           string       `json:"role,omitempty"`
	SendTo         string       `json:"send_to,omitempty"`
	Status         string       `json:"status,omitempty"`
	Message        string       `json:"message,omitempty"`
	Text           string       `json:"text,omitempty"`
	IsEnd          bool         `json:"is_end,omitempty"`
	AttachmentID   string       `json:"attachment_id,omitempty"`
	AttachmentType string       `json:"attachment_type,omitempty"`
	Content        string       `json:"content,omitempty"`
	Stream         string       `json:"stream,omitempty"`
	Code           string       `json:"code,omitempty"`
	Error          *string      `json:"error,omitempty"`
	Result         any          `json:"result,omitempty"`
}

// Marshal serializes f to JSON bytes.
func (f OutboundFrame) Marshal() ([]byte, error) { return json.Marshal(f) }
