// Package compaction runs a background summarizer per (session, role),
// replacing that pair's CompactedMessage whenever enough new rounds have
// accumulated, so the orchestrator can bound how much conversation history
// it feeds back into a role's next model call.
package compaction

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentcore/execorch/internal/convstore"
	"github.com/agentcore/execorch/internal/event"
	"github.com/agentcore/execorch/internal/logging"
	"github.com/agentcore/execorch/pkg/types"
)

// Summarizer produces a natural-language summary of rounds. It is supplied
// by the caller rather than hard-wired to a specific model provider, since
// model access is out of this repository's scope.
type Summarizer func(ctx context.Context, sessionID, role string, rounds []types.Round) (string, error)

type key struct {
	sessionID string
	role      string
}

type worker struct {
	mu      sync.Mutex
	message *types.CompactedMessage
	trigger chan struct{}
	stop    chan struct{}
}

// Engine owns one worker goroutine per (session, role) pair and the latest
// CompactedMessage produced for it.
type Engine struct {
	store      *convstore.Store
	bus        *event.Bus
	cfg        types.CompactionConfig
	summarize  Summarizer

	mu      sync.Mutex
	workers map[key]*worker
}

// NewEngine returns an Engine driven by store's round data, publishing
// SessionCompacted on bus after each successful compaction.
func NewEngine(store *convstore.Store, bus *event.Bus, cfg types.CompactionConfig, summarize Summarizer) *Engine {
	return &Engine{
		store:     store,
		bus:       bus,
		cfg:       cfg,
		summarize: summarize,
		workers:   make(map[key]*worker),
	}
}

func (e *Engine) workerFor(sessionID, role string) *worker {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := key{sessionID, role}
	w, ok := e.workers[k]
	if !ok {
		w = &worker{trigger: make(chan struct{}, 1), stop: make(chan struct{})}
		e.workers[k] = w
		go e.run(sessionID, role, w)
	}
	return w
}

func (e *Engine) run(sessionID, role string, w *worker) {
	for {
		select {
		case <-w.trigger:
			if err := e.compact(context.Background(), sessionID, role, w); err != nil {
				logging.Error().Err(err).Str("session_id", sessionID).Str("role", role).Msg("compaction failed")
			}
		case <-w.stop:
			return
		}
	}
}

// Trigger asks the (sessionID, role) worker to attempt a compaction pass.
// It is safe to call frequently; redundant triggers before the worker has
// drained the channel are coalesced.
func (e *Engine) Trigger(sessionID, role string) {
	w := e.workerFor(sessionID, role)
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// OnRoundAdded is suitable for convstore.Store.RegisterCallback: it fires a
// compaction attempt for every role the just-added round's posts involve,
// once the role's round count has crossed cfg.Threshold.
func (e *Engine) OnRoundAdded(sessionID string, round types.Round) {
	seen := make(map[string]bool)
	for _, post := range round.Posts {
		for _, role := range []string{post.SendFrom, post.SendTo} {
			if role == "" || seen[role] {
				continue
			}
			seen[role] = true
			if len(e.store.GetRoleRounds(sessionID, role, false)) >= e.cfg.Threshold {
				e.Trigger(sessionID, role)
			}
		}
	}
}

// compact builds a new CompactedMessage covering every round up to the
// retained tail and, if it actually advances on the previous one, replaces
// it and publishes SessionCompacted.
func (e *Engine) compact(ctx context.Context, sessionID, role string, w *worker) error {
	rounds := e.store.GetRoleRounds(sessionID, role, false)
	if len(rounds) <= e.cfg.RetainRecent {
		return nil
	}
	toSummarize := rounds[:len(rounds)-e.cfg.RetainRecent]
	endIndex := toSummarize[len(toSummarize)-1].Index

	w.mu.Lock()
	prev := w.message
	w.mu.Unlock()
	if prev != nil && endIndex <= prev.EndIndex {
		return nil // nothing new to fold in; guards monotonicity (spec open question a)
	}

	summary, err := e.summarize(ctx, sessionID, role, toSummarize)
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}

	version := 1
	if prev != nil {
		version = prev.Version + 1
	}
	next := &types.CompactedMessage{
		StartIndex: 1,
		EndIndex:   endIndex,
		Summary:    summary,
		Version:    version,
	}

	w.mu.Lock()
	w.message = next
	w.mu.Unlock()

	e.bus.PublishSync(event.Event{
		Scope:    event.ScopeSession,
		Type:     event.SessionCompacted,
		TargetID: sessionID,
		Data:     event.SessionCompactedData{SessionID: sessionID, Role: role, EndIndex: endIndex},
	})
	return nil
}

// Get returns the most recent CompactedMessage for (sessionID, role), if
// any compaction has completed yet.
func (e *Engine) Get(sessionID, role string) (*types.CompactedMessage, bool) {
	e.mu.Lock()
	w, ok := e.workers[key{sessionID, role}]
	e.mu.Unlock()
	if !ok {
		return nil, false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.message == nil {
		return nil, false
	}
	msg := *w.message
	return &msg, true
}

// Stop halts the worker for (sessionID, role), if one was ever started.
func (e *Engine) Stop(sessionID, role string) {
	e.mu.Lock()
	k := key{sessionID, role}
	w, ok := e.workers[k]
	if ok {
		delete(e.workers, k)
	}
	e.mu.Unlock()
	if ok {
		close(w.stop)
	}
}

// StopSession halts every worker belonging to sessionID.
func (e *Engine) StopSession(sessionID string) {
	e.mu.Lock()
	var toStop []*worker
	for k, w := range e.workers {
		if k.sessionID == sessionID {
			toStop = append(toStop, w)
			delete(e.workers, k)
		}
	}
	e.mu.Unlock()
	for _, w := range toStop {
		close(w.stop)
	}
}
