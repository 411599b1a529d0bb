package compaction

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcore/execorch/internal/convstore"
	"github.com/agentcore/execorch/internal/event"
	"github.com/agentcore/execorch/internal/storage"
	"github.com/agentcore/execorch/pkg/types"
)

func setup(t *testing.T, cfg types.CompactionConfig, summarize Summarizer) (*convstore.Store, *Engine) {
	t.Helper()
	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })
	st := storage.New(t.TempDir())
	store := convstore.NewStore(st, nil)
	engine := NewEngine(store, bus, cfg, summarize)
	store.RegisterCallback(engine.OnRoundAdded)
	return store, engine
}

func addRounds(t *testing.T, store *convstore.Store, sessionID string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		round, err := store.CreateRound(ctx, sessionID, fmt.Sprintf("query %d", i))
		require.NoError(t, err)
		require.NoError(t, store.AppendPost(ctx, sessionID, round.ID, types.Post{
			ID: fmt.Sprintf("p%d", i), SendFrom: "Planner", SendTo: "CodeInterpreter",
		}))
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestCompactionTriggersAfterThreshold(t *testing.T) {
	cfg := types.CompactionConfig{Enabled: true, Threshold: 3, RetainRecent: 1}
	summarize := func(ctx context.Context, sessionID, role string, rounds []types.Round) (string, error) {
		return fmt.Sprintf("summary of %d rounds", len(rounds)), nil
	}
	store, engine := setup(t, cfg, summarize)

	addRounds(t, store, "sess1", 3)

	waitFor(t, func() bool {
		_, ok := engine.Get("sess1", "CodeInterpreter")
		return ok
	})

	msg, ok := engine.Get("sess1", "CodeInterpreter")
	require.True(t, ok)
	assert.Equal(t, 1, msg.StartIndex)
	assert.Equal(t, 2, msg.EndIndex) // 3 rounds, retain 1 -> summarize rounds 1..2
	assert.Equal(t, 1, msg.Version)
}

func TestCompactionVersionAdvancesMonotonically(t *testing.T) {
	cfg := types.CompactionConfig{Enabled: true, Threshold: 2, RetainRecent: 1}
	summarize := func(ctx context.Context, sessionID, role string, rounds []types.Round) (string, error) {
		return "summary", nil
	}
	store, engine := setup(t, cfg, summarize)

	addRounds(t, store, "sess1", 2)
	waitFor(t, func() bool {
		_, ok := engine.Get("sess1", "CodeInterpreter")
		return ok
	})
	first, _ := engine.Get("sess1", "CodeInterpreter")

	addRounds(t, store, "sess1", 3)
	waitFor(t, func() bool {
		m, ok := engine.Get("sess1", "CodeInterpreter")
		return ok && m.Version > first.Version
	})

	second, _ := engine.Get("sess1", "CodeInterpreter")
	assert.Greater(t, second.Version, first.Version)
	assert.GreaterOrEqual(t, second.EndIndex, first.EndIndex)
}

func TestStopSessionHaltsWorkers(t *testing.T) {
	cfg := types.CompactionConfig{Enabled: true, Threshold: 1, RetainRecent: 0}
	calls := 0
	summarize := func(ctx context.Context, sessionID, role string, rounds []types.Round) (string, error) {
		calls++
		return "s", nil
	}
	store, engine := setup(t, cfg, summarize)

	addRounds(t, store, "sess1", 1)
	waitFor(t, func() bool {
		_, ok := engine.Get("sess1", "CodeInterpreter")
		return ok
	})

	engine.StopSession("sess1")
	// Triggering after stop should not restart a worker that observes it.
	engine.Trigger("sess1", "CodeInterpreter")
	time.Sleep(20 * time.Millisecond)
}
