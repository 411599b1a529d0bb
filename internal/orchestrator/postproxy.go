package orchestrator

import (
	"github.com/oklog/ulid/v2"

	"github.com/agentcore/execorch/internal/event"
	"github.com/agentcore/execorch/pkg/types"
)

// PostProxy is an Event Bus handle bound to a single Post, publishing the
// incremental updates a role emits while producing it (spec GLOSSARY "Post
// Proxy"). Every mutator here fires PublishSync so per-post ordering is
// guaranteed to subscribers (spec §5 "Per post: Event Bus events are FIFO").
type PostProxy struct {
	bus       *event.Bus
	sessionID string
	postID    string
	roundID   string
	ended     bool
}

// newPostProxy starts a post: allocates its id, publishes post_start, and
// returns the bound proxy. sessionID is stamped into every event's Extras so
// a session-scoped subscriber (the Web Gateway) can route round/post-scoped
// events without parsing their Data payload.
func newPostProxy(bus *event.Bus, sessionID, roundID, sendFrom string) *PostProxy {
	p := &PostProxy{bus: bus, sessionID: sessionID, roundID: roundID}
	postID := ulid.Make().String()
	p.postID = postID
	bus.PublishSync(event.Event{
		Scope:    event.ScopePost,
		Type:     event.PostStart,
		TargetID: postID,
		Data:     event.PostStartData{PostID: postID, RoundID: roundID, SendFrom: sendFrom},
		Extras:   p.extras(),
	})
	return p
}

func (p *PostProxy) extras() map[string]any {
	return map[string]any{"session_id": p.sessionID}
}

// PostID returns the id assigned to this post.
func (p *PostProxy) PostID() string { return p.postID }

// MessageUpdate publishes an incremental (or, for a non-streaming
// ModelCaller, the one-shot final) chunk of the post's message text.
func (p *PostProxy) MessageUpdate(text string, isEnd bool) {
	p.bus.PublishSync(event.Event{
		Scope:    event.ScopePost,
		Type:     event.PostMessageUpdate,
		TargetID: p.postID,
		Data:     event.PostMessageUpdateData{PostID: p.postID, Text: text, IsEnd: isEnd},
		Extras:   p.extras(),
	})
}

// SendToUpdate publishes the post's resolved recipient once the role has
// decided it.
func (p *PostProxy) SendToUpdate(sendTo string) {
	p.bus.PublishSync(event.Event{
		Scope:    event.ScopePost,
		Type:     event.PostSendToUpdate,
		TargetID: p.postID,
		Data:     event.PostSendToUpdateData{PostID: p.postID, SendTo: sendTo},
		Extras:   p.extras(),
	})
}

// StatusUpdate publishes a free-form lifecycle status (e.g. "generating",
// "executing", "verifying") for UI progress indicators.
func (p *PostProxy) StatusUpdate(status string) {
	p.bus.PublishSync(event.Event{
		Scope:    event.ScopePost,
		Type:     event.PostStatusUpdate,
		TargetID: p.postID,
		Data:     event.PostStatusUpdateData{PostID: p.postID, Status: status},
		Extras:   p.extras(),
	})
}

// AttachmentStart publishes the start of a new attachment on this post.
func (p *PostProxy) AttachmentStart(attachmentID, attachmentType string) {
	p.bus.PublishSync(event.Event{
		Scope:    event.ScopePost,
		Type:     event.AttachmentStart,
		TargetID: p.postID,
		Data: event.AttachmentStartData{
			PostID: p.postID, AttachmentID: attachmentID, AttachmentType: attachmentType,
		},
		Extras:   p.extras(),
	})
}

// AttachmentUpdate publishes (a chunk of, or the final) content for an
// attachment already opened with AttachmentStart.
func (p *PostProxy) AttachmentUpdate(attachmentID, content string, isEnd bool) {
	p.bus.PublishSync(event.Event{
		Scope:    event.ScopePost,
		Type:     event.AttachmentUpdate,
		TargetID: p.postID,
		Data: event.AttachmentUpdateData{
			PostID: p.postID, AttachmentID: attachmentID, Content: content, IsEnd: isEnd,
		},
		Extras:   p.extras(),
	})
}

// ExecutionOutput forwards one kernel output chunk for this post, bridging
// (H)'s execution stream onto the Event Bus per the component design's
// control-flow description ("(H) translates back into events on (B)").
func (p *PostProxy) ExecutionOutput(stream, text string) {
	p.bus.PublishSync(event.Event{
		Scope:    event.ScopePost,
		Type:     event.ExecutionOutput,
		TargetID: p.postID,
		Data:     event.ExecutionOutputData{PostID: p.postID, Stream: stream, Text: text},
		Extras:   p.extras(),
	})
}

// End publishes post_end, terminating the post. No further event may be
// published for this post_id afterward (enforced by the bus itself); End is
// idempotent so callers on an error path can call it unconditionally.
func (p *PostProxy) End(errMsg *string) {
	if p.ended {
		return
	}
	p.ended = true
	p.bus.PublishSync(event.Event{
		Scope:    event.ScopePost,
		Type:     event.PostEnd,
		TargetID: p.postID,
		Data:     event.PostEndData{PostID: p.postID, Error: errMsg},
		Extras:   p.extras(),
	})
}

// buildPost assembles the persisted types.Post once the proxy's post has
// ended, for appending to the Conversation Store.
func buildPost(proxy *PostProxy, sendFrom, sendTo, message string, attachments []*types.Attachment) types.Post {
	return types.Post{
		ID:          proxy.postID,
		RoundID:     proxy.roundID,
		SendFrom:    sendFrom,
		SendTo:      sendTo,
		Message:     message,
		Attachments: attachments,
		Ended:       true,
	}
}
