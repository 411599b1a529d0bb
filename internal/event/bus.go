// Package event provides the scoped, typed publish/subscribe bus that roles,
// the Session Orchestrator, and external consumers (terminal UI, Web
// Gateway) use to observe incremental conversation updates.
package event

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/agentcore/execorch/internal/logging"
)

// EventType identifies the shape of an event's Data payload.
type EventType string

const (
	RoundStart            EventType = "round.start"
	RoundEnd              EventType = "round.end"
	RoundError            EventType = "round.error"
	PostStart             EventType = "post.start"
	PostMessageUpdate     EventType = "post.message_update"
	PostSendToUpdate      EventType = "post.send_to_update"
	PostStatusUpdate      EventType = "post.status_update"
	PostEnd               EventType = "post.end"
	AttachmentStart       EventType = "attachment.start"
	AttachmentUpdate      EventType = "attachment.update"
	ExecutionOutput       EventType = "execution.output"
	ConfirmationRequested EventType = "confirmation.requested"
	ConfirmationResolved  EventType = "confirmation.resolved"
	SessionCompacted      EventType = "session.compacted"
)

// Scope is one of the three levels an event is addressed to.
type Scope string

const (
	ScopeSession Scope = "session"
	ScopeRound   Scope = "round"
	ScopePost    Scope = "post"
)

// Event is one pub/sub message. Identity is (Scope, Type, TargetID); Extras
// carries type-specific fields so subscribers that only care about routing
// need not know every payload shape.
type Event struct {
	Scope    Scope          `json:"scope"`
	Type     EventType      `json:"type"`
	TargetID string         `json:"targetID"` // session, round, or post id depending on Scope
	Data     any            `json:"data"`
	Extras   map[string]any `json:"extras,omitempty"`
}

// Subscriber receives events. It must not block for long; slow consumers
// should queue internally, per the bus's ordering contract.
type Subscriber func(Event)

type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// Bus dispatches events to direct subscribers (preserving Go types, unlike
// a marshal/unmarshal transport). It also owns a watermill GoChannel,
// reachable through PubSub; Publish and PublishSync do not forward events
// onto it.
type Bus struct {
	mu sync.RWMutex

	pubsub *gochannel.GoChannel

	subscribers map[EventType][]subscriberEntry
	global      []subscriberEntry

	// endedPosts tracks postIDs that have received PostEnd, so a later
	// emission for the same post is rejected rather than silently
	// delivered out of the documented lifecycle.
	endedPosts map[string]bool

	nextID       uint64
	closed       bool
	closedCancel context.CancelFunc
	closedCtx    context.Context
}

var globalBus = newBus()

func newBus() *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 100, Persistent: false},
			watermill.NopLogger{},
		),
		subscribers:  make(map[EventType][]subscriberEntry),
		endedPosts:   make(map[string]bool),
		closedCtx:    ctx,
		closedCancel: cancel,
	}
}

func (b *Bus) newID() uint64 {
	return atomic.AddUint64(&b.nextID, 1)
}

// Subscribe registers fn for one event type and returns an unsubscribe func.
func Subscribe(eventType EventType, fn Subscriber) func() { return globalBus.Subscribe(eventType, fn) }

func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	id := b.newID()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriberEntry{id, fn})
	return func() { b.unsubscribe(eventType, id) }
}

// SubscribeAll registers fn for every event type.
func SubscribeAll(fn Subscriber) func() { return globalBus.SubscribeAll(fn) }

func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	id := b.newID()
	b.global = append(b.global, subscriberEntry{id, fn})
	return func() { b.unsubscribeGlobal(id) }
}

func (b *Bus) unsubscribe(eventType EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[eventType]
	for i, e := range subs {
		if e.id == id {
			b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) unsubscribeGlobal(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, e := range b.global {
		if e.id == id {
			b.global = append(b.global[:i], b.global[i+1:]...)
			return
		}
	}
}

// rejectIfEnded enforces "emission after post_end for the same post is a
// programming error and is rejected".
func (b *Bus) rejectIfEnded(ev Event) bool {
	if ev.Scope != ScopePost || ev.Type == PostEnd {
		return false
	}
	b.mu.RLock()
	ended := b.endedPosts[ev.TargetID]
	b.mu.RUnlock()
	return ended
}

func (b *Bus) markEnded(ev Event) {
	if ev.Scope == ScopePost && ev.Type == PostEnd {
		b.mu.Lock()
		b.endedPosts[ev.TargetID] = true
		b.mu.Unlock()
	}
}

// collect returns the live subscriber list under a read lock, copy-on-emit
// so dispatch never runs while holding the bus lock.
func (b *Bus) collect(eventType EventType) ([]Subscriber, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, false
	}
	subs := make([]Subscriber, 0, len(b.subscribers[eventType])+len(b.global))
	for _, e := range b.subscribers[eventType] {
		subs = append(subs, e.fn)
	}
	for _, e := range b.global {
		subs = append(subs, e.fn)
	}
	return subs, true
}

// Publish delivers the event asynchronously: each subscriber runs in its
// own goroutine. Use PublishSync wherever per-post FIFO ordering matters
// (the PostProxy always does).
func Publish(ev Event) { globalBus.Publish(ev) }

func (b *Bus) Publish(ev Event) {
	if b.rejectIfEnded(ev) {
		logging.Warn().Str("post_id", ev.TargetID).Msg("event after post_end rejected")
		return
	}
	subs, ok := b.collect(ev.Type)
	if !ok {
		return
	}
	b.markEnded(ev)
	for _, sub := range subs {
		go safeDeliver(sub, ev)
	}
}

// PublishSync delivers the event synchronously, in subscriber-registration
// order, guaranteeing FIFO delivery per post_id to every handler.
func PublishSync(ev Event) { globalBus.PublishSync(ev) }

func (b *Bus) PublishSync(ev Event) {
	if b.rejectIfEnded(ev) {
		logging.Warn().Str("post_id", ev.TargetID).Msg("event after post_end rejected")
		return
	}
	subs, ok := b.collect(ev.Type)
	if !ok {
		return
	}
	b.markEnded(ev)
	for _, sub := range subs {
		safeDeliver(sub, ev)
	}
}

// safeDeliver runs a subscriber, converting a panic into a logged error so
// one misbehaving handler never prevents others from observing the event.
func safeDeliver(sub Subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Interface("panic", r).Str("event_type", string(ev.Type)).Msg("event subscriber panicked")
		}
	}()
	sub(ev)
}

// NewBus creates an independent bus instance, used by tests and by
// components that want an isolated event stream.
func NewBus() *Bus { return newBus() }

// Reset clears the global bus's subscribers. Test helper.
func Reset() {
	globalBus.mu.Lock()
	globalBus.closed = true
	globalBus.closedCancel()
	globalBus.mu.Unlock()
	_ = globalBus.pubsub.Close()
	time.Sleep(10 * time.Millisecond)
	globalBus = newBus()
}

// Close tears down the bus; subsequent publishes are no-ops.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.closedCancel()
	b.subscribers = make(map[EventType][]subscriberEntry)
	b.global = nil
	b.mu.Unlock()
	return b.pubsub.Close()
}

// PubSub exposes the underlying watermill GoChannel for middleware/routing.
func (b *Bus) PubSub() *gochannel.GoChannel { return b.pubsub }

// PubSub exposes the global bus's underlying watermill GoChannel.
func PubSub() *gochannel.GoChannel { return globalBus.PubSub() }
