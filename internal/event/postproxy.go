package event

// PostProxy is an event-bus handle bound to a single Post. A role obtains
// one via Bus.CreatePostProxy and uses it to publish every incremental
// update for that post; it is the only sanctioned way to mutate a live
// Post's visible state. Every call is synchronous (PublishSync) so per-post
// ordering holds even when handlers are slow.
type PostProxy struct {
	bus      *Bus
	postID   string
	roundID  string
	sendFrom string
}

// CreatePostProxy returns a proxy for a new post authored by role within
// roundID. The caller is responsible for invoking Start exactly once before
// any other emit method, and End exactly once when the post is frozen.
func (b *Bus) CreatePostProxy(roundID, postID, role string) *PostProxy {
	return &PostProxy{bus: b, postID: postID, roundID: roundID, sendFrom: role}
}

// CreatePostProxy creates a proxy bound to the global bus.
func CreatePostProxy(roundID, postID, role string) *PostProxy {
	return globalBus.CreatePostProxy(roundID, postID, role)
}

func (p *PostProxy) emit(t EventType, data any) {
	p.bus.PublishSync(Event{Scope: ScopePost, Type: t, TargetID: p.postID, Data: data})
}

// Start emits post_start. Must be the first event for this post.
func (p *PostProxy) Start() {
	p.emit(PostStart, PostStartData{PostID: p.postID, RoundID: p.roundID, SendFrom: p.sendFrom})
}

// MessageUpdate emits an incremental text delta; isEnd terminates the
// message stream for this post (not the post itself).
func (p *PostProxy) MessageUpdate(text string, isEnd bool) {
	p.emit(PostMessageUpdate, PostMessageUpdateData{PostID: p.postID, Text: text, IsEnd: isEnd})
}

// SendToUpdate emits the resolved recipient once the role has decided it.
func (p *PostProxy) SendToUpdate(sendTo string) {
	p.emit(PostSendToUpdate, PostSendToUpdateData{PostID: p.postID, SendTo: sendTo})
}

// StatusUpdate emits a free-form status string (e.g. "thinking", "executing").
func (p *PostProxy) StatusUpdate(status string) {
	p.emit(PostStatusUpdate, PostStatusUpdateData{PostID: p.postID, Status: status})
}

// AttachmentStart emits the opening of a new attachment on this post.
func (p *PostProxy) AttachmentStart(attachmentID string, kind string) {
	p.emit(AttachmentStart, AttachmentStartData{PostID: p.postID, AttachmentID: attachmentID, AttachmentType: kind})
}

// AttachmentUpdate emits an incremental or final chunk for an attachment.
func (p *PostProxy) AttachmentUpdate(attachmentID, content string, isEnd bool) {
	p.emit(AttachmentUpdate, AttachmentUpdateData{PostID: p.postID, AttachmentID: attachmentID, Content: content, IsEnd: isEnd})
}

// ExecutionOutput emits one chunk of stdout/stderr produced while this post
// is driving a code execution.
func (p *PostProxy) ExecutionOutput(stream, text string) {
	p.emit(ExecutionOutput, ExecutionOutputData{PostID: p.postID, Stream: stream, Text: text})
}

// ConfirmationRequest emits a confirmation_request carrying the code to be
// approved.
func (p *PostProxy) ConfirmationRequest(code string) {
	p.emit(ConfirmationRequested, ConfirmationRequestedData{PostID: p.postID, RoundID: p.roundID, Code: code})
}

// End emits post_end, freezing the post. No further emit call on this proxy
// is valid afterward; the bus enforces this by rejecting later emissions
// for the same post_id.
func (p *PostProxy) End(errMsg *string) {
	p.emit(PostEnd, PostEndData{PostID: p.postID, Error: errMsg})
}

// PostID returns the bound post id.
func (p *PostProxy) PostID() string { return p.postID }
