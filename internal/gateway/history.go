package gateway

import "github.com/agentcore/execorch/pkg/types"

// replayFrames synthesizes the frame sequence spec §4.J prescribes for a
// freshly connected client: round_start, then per post (in post order)
// post_start, send_to_update, each attachment's attachment_start +
// attachment_update(is_end=true), message_update, post_end — then round_end,
// repeated per round, concluding with history_complete.
func replayFrames(conv types.Conversation) []OutboundFrame {
	var frames []OutboundFrame
	for _, round := range conv.Rounds {
		frames = append(frames, OutboundFrame{Type: OutRoundStart, RoundID: round.ID})
		for _, post := range round.Posts {
			frames = append(frames, replayPostFrames(round.ID, post)...)
		}
		frames = append(frames, OutboundFrame{Type: OutRoundEnd, RoundID: round.ID})
	}
	frames = append(frames, OutboundFrame{Type: OutHistoryComplete})
	return frames
}

func replayPostFrames(roundID string, post types.Post) []OutboundFrame {
	frames := []OutboundFrame{
		{Type: OutPostStart, PostID: post.ID, RoundID: roundID, Role: post.SendFrom},
	}
	if post.SendTo != "" {
		frames = append(frames, OutboundFrame{Type: OutSendToUpdate, PostID: post.ID, SendTo: post.SendTo})
	}
	for _, att := range post.Attachments {
		frames = append(frames,
			OutboundFrame{Type: OutAttachmentStart, PostID: post.ID, AttachmentID: att.ID, AttachmentType: string(att.Kind)},
			OutboundFrame{Type: OutAttachmentChunk, PostID: post.ID, AttachmentID: att.ID, Content: att.Content, IsEnd: true},
		)
	}
	if post.Message != "" {
		frames = append(frames, OutboundFrame{Type: OutMessageUpdate, PostID: post.ID, Text: post.Message, IsEnd: true})
	}
	frames = append(frames, OutboundFrame{Type: OutPostEnd, PostID: post.ID})
	return frames
}
