package gateway

import "github.com/agentcore/execorch/internal/event"

// translateEvent maps an internal Event Bus payload onto the wire schema
// spec §6 names. Event types with no wire mapping (confirmation.resolved,
// session.compacted) are internal-only and are not forwarded.
func translateEvent(ev event.Event) (OutboundFrame, bool) {
	switch d := ev.Data.(type) {
	case event.RoundStartData:
		return OutboundFrame{Type: OutRoundStart, RoundID: d.RoundID}, true
	case event.RoundEndData:
		return OutboundFrame{Type: OutRoundEnd, RoundID: d.RoundID}, true
	case event.RoundErrorData:
		return OutboundFrame{Type: OutRoundError, RoundID: d.RoundID, Message: d.Message}, true
	case event.PostStartData:
		return OutboundFrame{Type: OutPostStart, PostID: d.PostID, RoundID: d.RoundID, Role: d.SendFrom}, true
	case event.PostMessageUpdateData:
		return OutboundFrame{Type: OutMessageUpdate, PostID: d.PostID, Text: d.Text, IsEnd: d.IsEnd}, true
	case event.PostSendToUpdateData:
		return OutboundFrame{Type: OutSendToUpdate, PostID: d.PostID, SendTo: d.SendTo}, true
	case event.PostStatusUpdateData:
		return OutboundFrame{Type: OutStatusUpdate, PostID: d.PostID, Status: d.Status}, true
	case event.PostEndData:
		return OutboundFrame{Type: OutPostEnd, PostID: d.PostID, Error: d.Error}, true
	case event.AttachmentStartData:
		return OutboundFrame{Type: OutAttachmentStart, PostID: d.PostID, AttachmentID: d.AttachmentID, AttachmentType: d.AttachmentType}, true
	case event.AttachmentUpdateData:
		return OutboundFrame{Type: OutAttachmentChunk, PostID: d.PostID, AttachmentID: d.AttachmentID, Content: d.Content, IsEnd: d.IsEnd}, true
	case event.ExecutionOutputData:
		return OutboundFrame{Type: OutExecutionOutput, PostID: d.PostID, Stream: d.Stream, Text: d.Text}, true
	case event.ConfirmationRequestedData:
		return OutboundFrame{Type: OutConfirmRequest, PostID: d.PostID, RoundID: d.RoundID, Code: d.Code}, true
	default:
		return OutboundFrame{}, false
	}
}

// sessionIDFor extracts the owning session_id from ev, using the scope's
// TargetID directly for session-scoped events and the Extras stamp the
// Session Orchestrator and Confirmation Gate attach to round/post-scoped
// ones.
func sessionIDFor(ev event.Event) string {
	if ev.Scope == event.ScopeSession {
		return ev.TargetID
	}
	if ev.Extras != nil {
		if sid, ok := ev.Extras["session_id"].(string); ok {
			return sid
		}
	}
	return ""
}
