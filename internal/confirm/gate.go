package confirm

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentcore/execorch/internal/event"
	"github.com/agentcore/execorch/internal/logging"
)

// DefaultTimeout bounds how long Request waits for a resolution before
// returning a timeout error, when the caller's context carries no deadline
// of its own.
const DefaultTimeout = 5 * time.Minute

type pendingRequest struct {
	id        string
	resultCh  chan bool
	cancelled chan struct{}
	once      sync.Once
}

func (p *pendingRequest) resolve(approved bool) {
	p.once.Do(func() { p.resultCh <- approved })
}

func (p *pendingRequest) cancel() {
	p.once.Do(func() { close(p.cancelled) })
}

// Gate serializes confirmation requests per session: at most one request
// may be outstanding for a given session at a time, and a pending request
// can be resolved exactly once, either by ProvideConfirmation or by
// CancelSession on teardown.
type Gate struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest // sessionID -> outstanding request
	bus     *event.Bus
}

// NewGate returns a Gate that publishes confirmation lifecycle events on bus.
func NewGate(bus *event.Bus) *Gate {
	return &Gate{pending: make(map[string]*pendingRequest), bus: bus}
}

// Request blocks until the pending confirmation for sessionID is resolved,
// the context is cancelled, or the timeout elapses. It returns BusyError
// immediately if sessionID already has an outstanding request.
func (g *Gate) Request(ctx context.Context, sessionID, roundID, postID, code string) (bool, error) {
	g.mu.Lock()
	if _, busy := g.pending[sessionID]; busy {
		g.mu.Unlock()
		return false, &BusyError{SessionID: sessionID}
	}
	req := &pendingRequest{id: uuid.NewString(), resultCh: make(chan bool, 1), cancelled: make(chan struct{})}
	g.pending[sessionID] = req
	g.mu.Unlock()

	g.bus.PublishSync(event.Event{
		Scope:    event.ScopeRound,
		Type:     event.ConfirmationRequested,
		TargetID: roundID,
		Data:     event.ConfirmationRequestedData{PostID: postID, RoundID: roundID, Code: code},
		Extras:   map[string]any{"session_id": sessionID},
	})

	timeout := DefaultTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case approved := <-req.resultCh:
		g.clear(sessionID, req)
		return approved, nil
	case <-req.cancelled:
		g.clear(sessionID, req)
		return false, &CancelledError{SessionID: sessionID}
	case <-ctx.Done():
		g.clear(sessionID, req)
		return false, ctx.Err()
	case <-timer.C:
		g.clear(sessionID, req)
		return false, &CancelledError{SessionID: sessionID}
	}
}

// ProvideConfirmation resolves the outstanding request for sessionID, if
// any. It is a no-op (returns nil) when no request is pending, since
// a late or duplicate answer after resolution/cancellation is not an error.
func (g *Gate) ProvideConfirmation(sessionID string, approved bool) error {
	g.mu.Lock()
	req, ok := g.pending[sessionID]
	g.mu.Unlock()
	if !ok {
		return nil
	}
	req.resolve(approved)
	g.bus.PublishSync(event.Event{
		Scope:    event.ScopeSession,
		Type:     event.ConfirmationResolved,
		TargetID: sessionID,
		Data:     event.ConfirmationResolvedData{SessionID: sessionID, Approved: approved},
	})
	return nil
}

// CancelSession surfaces *CancelledError to the worker blocked in Request
// for sessionID, if any, as required on session teardown, and logs that it
// did so.
func (g *Gate) CancelSession(sessionID string) {
	g.mu.Lock()
	req, ok := g.pending[sessionID]
	g.mu.Unlock()
	if !ok {
		return
	}
	req.cancel()
	logging.Info().Str("session_id", sessionID).Msg("confirmation cancelled by teardown")
	g.bus.PublishSync(event.Event{
		Scope:    event.ScopeSession,
		Type:     event.ConfirmationResolved,
		TargetID: sessionID,
		Data:     event.ConfirmationResolvedData{SessionID: sessionID, Approved: false},
	})
}

func (g *Gate) clear(sessionID string, req *pendingRequest) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending[sessionID] == req {
		delete(g.pending, sessionID)
	}
}

// HasPending reports whether sessionID currently has an outstanding request.
func (g *Gate) HasPending(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.pending[sessionID]
	return ok
}
