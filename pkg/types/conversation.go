// Package types defines the core data model shared across the orchestration
// core: conversations, rounds, posts, attachments, compaction artifacts, and
// execution results.
package types

import "encoding/json"

// AttachmentKind is the closed set of attachment kinds a Post may carry.
// Values outside this set deserialize to AttachmentKindUnknown and are
// dropped by loaders rather than surfaced to roles.
type AttachmentKind string

const (
	AttachmentPlan               AttachmentKind = "plan"
	AttachmentCurrentPlanStep    AttachmentKind = "current_plan_step"
	AttachmentPlanReasoning      AttachmentKind = "plan_reasoning"
	AttachmentStop               AttachmentKind = "stop"
	AttachmentThought            AttachmentKind = "thought"
	AttachmentReplyType          AttachmentKind = "reply_type"
	AttachmentReplyContent       AttachmentKind = "reply_content"
	AttachmentVerification       AttachmentKind = "verification"
	AttachmentCodeError          AttachmentKind = "code_error"
	AttachmentExecutionStatus    AttachmentKind = "execution_status"
	AttachmentExecutionResult    AttachmentKind = "execution_result"
	AttachmentArtifactPaths      AttachmentKind = "artifact_paths"
	AttachmentReviseMessage      AttachmentKind = "revise_message"
	AttachmentFunction           AttachmentKind = "function"
	AttachmentSessionVariables   AttachmentKind = "session_variables"
	AttachmentSharedMemoryEntry  AttachmentKind = "shared_memory_entry"
	AttachmentInvalidResponse    AttachmentKind = "invalid_response"
	AttachmentText               AttachmentKind = "text"
	AttachmentImageURL           AttachmentKind = "image_url"
	AttachmentKindUnknown        AttachmentKind = ""
)

var knownAttachmentKinds = map[AttachmentKind]bool{
	AttachmentPlan: true, AttachmentCurrentPlanStep: true, AttachmentPlanReasoning: true,
	AttachmentStop: true, AttachmentThought: true, AttachmentReplyType: true,
	AttachmentReplyContent: true, AttachmentVerification: true, AttachmentCodeError: true,
	AttachmentExecutionStatus: true, AttachmentExecutionResult: true, AttachmentArtifactPaths: true,
	AttachmentReviseMessage: true, AttachmentFunction: true, AttachmentSessionVariables: true,
	AttachmentSharedMemoryEntry: true, AttachmentInvalidResponse: true, AttachmentText: true,
	AttachmentImageURL: true,
}

// NormalizeAttachmentKind maps a raw wire value to AttachmentKindUnknown if
// it falls outside the closed set.
func NormalizeAttachmentKind(raw string) AttachmentKind {
	k := AttachmentKind(raw)
	if knownAttachmentKinds[k] {
		return k
	}
	return AttachmentKindUnknown
}

// Attachment is a typed payload attached to a Post.
type Attachment struct {
	ID      string         `json:"id"`
	Kind    AttachmentKind `json:"kind"`
	Content string         `json:"content"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// IsKnown reports whether the attachment survived kind normalization.
func (a *Attachment) IsKnown() bool {
	return a.Kind != AttachmentKindUnknown
}

// Post is a single directed message within a Round.
type Post struct {
	ID          string        `json:"id"`
	RoundID     string        `json:"roundID"`
	SendFrom    string        `json:"sendFrom"`
	SendTo      string        `json:"sendTo"`
	Message     string        `json:"message"`
	Attachments []*Attachment `json:"attachments,omitempty"`
	Ended       bool          `json:"ended"`
}

// UnmarshalJSON normalizes every attachment's kind against the closed set
// and drops the ones that fall outside it, so an attachment written by a
// newer kind than this build knows about is stripped on load rather than
// preserved verbatim (spec's forward-compat invariant: unknown kinds
// deserialize to a distinguished case that loaders silently drop).
func (p *Post) UnmarshalJSON(data []byte) error {
	type alias Post
	aux := struct{ *alias }{alias: (*alias)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	kept := make([]*Attachment, 0, len(p.Attachments))
	for _, a := range p.Attachments {
		if a == nil {
			continue
		}
		a.Kind = NormalizeAttachmentKind(string(a.Kind))
		if a.IsKnown() {
			kept = append(kept, a)
		}
	}
	p.Attachments = kept
	return nil
}

// DefaultSendTo is used when a Post is created without a known recipient.
const DefaultSendTo = "Unknown"

// RoundState is the lifecycle state of a Round.
type RoundState string

const (
	RoundCreated  RoundState = "created"
	RoundFinished RoundState = "finished"
	RoundFailed   RoundState = "failed"
)

// Round is one user query and all ensuing posts.
type Round struct {
	ID        string     `json:"id"`
	Index     int        `json:"index"` // 1-indexed, contiguous within a Conversation
	UserQuery string     `json:"userQuery"`
	State     RoundState `json:"state"`
	Posts     []Post     `json:"posts"`
	CreatedAt int64      `json:"createdAt"`
}

// Conversation is the ordered list of Rounds for one session.
type Conversation struct {
	SessionID string   `json:"sessionID"`
	Rounds    []Round  `json:"rounds"`
}

// SharedMemoryScope controls how long a SharedMemoryEntry lives.
type SharedMemoryScope string

const (
	ScopeRound        SharedMemoryScope = "round"
	ScopeConversation SharedMemoryScope = "conversation"
)

// SharedMemoryEntry is cross-role scratch data.
type SharedMemoryEntry struct {
	Type    string            `json:"type"`
	Scope   SharedMemoryScope `json:"scope"`
	Content string            `json:"content"`
}

// CompactedMessage is a single summarization artifact for a (session, role)
// pair. At most one exists per pair; updates replace it atomically and
// EndIndex is monotonically non-decreasing.
type CompactedMessage struct {
	StartIndex int    `json:"startIndex"` // always 1
	EndIndex   int    `json:"endIndex"`   // inclusive round number summarized
	Summary    string `json:"summary"`
	Version    int    `json:"version"` // internal monotonicity guard
}
