package event

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostProxyLifecycleOrdering(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var mu sync.Mutex
	var seen []EventType

	unsub := bus.Subscribe(PostStart, func(ev Event) { mu.Lock(); seen = append(seen, ev.Type); mu.Unlock() })
	defer unsub()
	unsub2 := bus.Subscribe(PostMessageUpdate, func(ev Event) { mu.Lock(); seen = append(seen, ev.Type); mu.Unlock() })
	defer unsub2()
	unsub3 := bus.Subscribe(PostEnd, func(ev Event) { mu.Lock(); seen = append(seen, ev.Type); mu.Unlock() })
	defer unsub3()

	proxy := bus.CreatePostProxy("r1", "p1", "Planner")
	proxy.Start()
	proxy.MessageUpdate("hello", false)
	proxy.MessageUpdate(" world", true)
	proxy.End(nil)

	require.Equal(t, []EventType{PostStart, PostMessageUpdate, PostMessageUpdate, PostEnd}, seen)
}

func TestEmissionAfterPostEndIsRejected(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count int
	bus.Subscribe(PostStatusUpdate, func(ev Event) { count++ })

	proxy := bus.CreatePostProxy("r1", "p1", "Planner")
	proxy.Start()
	proxy.End(nil)
	proxy.StatusUpdate("should not deliver")

	assert.Equal(t, 0, count)
}

func TestPublishSyncDeliversToAllSubscribersEvenOnPanic(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var second bool
	bus.Subscribe(PostStart, func(ev Event) { panic("boom") })
	bus.Subscribe(PostStart, func(ev Event) { second = true })

	bus.PublishSync(Event{Scope: ScopePost, Type: PostStart, TargetID: "p1"})

	assert.True(t, second)
}

func TestSubscribeAllReceivesEveryType(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var types []EventType
	bus.SubscribeAll(func(ev Event) { types = append(types, ev.Type) })

	proxy := bus.CreatePostProxy("r1", "p1", "Planner")
	proxy.Start()
	proxy.End(nil)

	assert.Equal(t, []EventType{PostStart, PostEnd}, types)
}
