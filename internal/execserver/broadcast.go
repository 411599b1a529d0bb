package execserver

import (
	"sync"

	"github.com/agentcore/execorch/internal/logging"
)

// sseMessage is one frame of a /execute/{exec_id}/stream response: "output"
// (data is executeOutputPayload), "result" (data is *types.ExecutionResult),
// or "done" (data is nil).
type sseMessage struct {
	Event string
	Data  any
}

type executeOutputPayload struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// execBroadcast fans live SSE messages for one exec_id out to every
// currently-connected subscriber. There is no replay: a subscriber that
// connects after a message was published simply does not see it, matching
// the "reconnect at the tail" contract.
type execBroadcast struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan sseMessage
	done   bool
}

func newExecBroadcast() *execBroadcast {
	return &execBroadcast{subs: make(map[uint64]chan sseMessage)}
}

func (b *execBroadcast) subscribe() (uint64, <-chan sseMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan sseMessage, 32)
	b.subs[id] = ch
	return id, ch
}

func (b *execBroadcast) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *execBroadcast) publish(msg sseMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- msg:
		default:
			logging.Warn().Uint64("subscriber_id", id).Msg("execution stream subscriber too slow, dropping frame")
		}
	}
}

// closeAll closes every subscriber channel, used once the execution has
// reached a terminal state; the SSE handler writes the final "done" frame
// when it sees its channel close.
func (b *execBroadcast) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	b.done = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// broadcastRegistry tracks one execBroadcast per in-flight or recently
// finished exec_id, scoped by session so a session stop can tear them all
// down.
type broadcastRegistry struct {
	mu   sync.Mutex
	byID map[string]*execBroadcast
	// sessionExecs indexes exec_ids by the session that owns them, purely
	// for closeSession's bulk teardown.
	sessionExecs map[string]map[string]bool
}

func newBroadcastRegistry() *broadcastRegistry {
	return &broadcastRegistry{
		byID:         make(map[string]*execBroadcast),
		sessionExecs: make(map[string]map[string]bool),
	}
}

func (r *broadcastRegistry) create(sessionID, execID string) *execBroadcast {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := newExecBroadcast()
	r.byID[execID] = b
	if r.sessionExecs[sessionID] == nil {
		r.sessionExecs[sessionID] = make(map[string]bool)
	}
	r.sessionExecs[sessionID][execID] = true
	return b
}

func (r *broadcastRegistry) get(execID string) (*execBroadcast, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byID[execID]
	return b, ok
}

// remove drops bookkeeping for execID once its stream has finished and
// every subscriber has been notified. The broadcast itself may still be
// referenced by lingering subscriber goroutines; only the registry entry
// is removed so a later exec_id reuse (never happens with ulids, but kept
// defensive) can't observe stale state.
func (r *broadcastRegistry) remove(sessionID, execID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, execID)
	if execs, ok := r.sessionExecs[sessionID]; ok {
		delete(execs, execID)
		if len(execs) == 0 {
			delete(r.sessionExecs, sessionID)
		}
	}
}

func (r *broadcastRegistry) closeSession(sessionID string) {
	r.mu.Lock()
	execs := r.sessionExecs[sessionID]
	delete(r.sessionExecs, sessionID)
	var toClose []*execBroadcast
	for execID := range execs {
		if b, ok := r.byID[execID]; ok {
			toClose = append(toClose, b)
			delete(r.byID, execID)
		}
	}
	r.mu.Unlock()
	for _, b := range toClose {
		b.closeAll()
	}
}
