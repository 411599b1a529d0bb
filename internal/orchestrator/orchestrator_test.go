package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcore/execorch/internal/confirm"
	"github.com/agentcore/execorch/internal/convstore"
	"github.com/agentcore/execorch/internal/event"
	"github.com/agentcore/execorch/internal/role"
	"github.com/agentcore/execorch/pkg/types"
)

// scriptedModel replays a fixed sequence of Reply values per role name,
// repeating the last scripted Reply once a role's script is exhausted (so a
// test can script a finite plan and still let an infinite loop scenario run
// off the end deliberately).
type scriptedModel struct {
	mu     sync.Mutex
	script map[string][]Reply
	idx    map[string]int
}

func newScriptedModel() *scriptedModel {
	return &scriptedModel{script: make(map[string][]Reply), idx: make(map[string]int)}
}

func (m *scriptedModel) Script(roleName string, replies ...Reply) {
	m.script[roleName] = replies
}

func (m *scriptedModel) Call(_ context.Context, r *role.Role, _ Memory, _ string) (Reply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	replies := m.script[r.Name]
	if len(replies) == 0 {
		return Reply{}, errors.New("no script for role " + r.Name)
	}
	i := m.idx[r.Name]
	if i >= len(replies) {
		i = len(replies) - 1
	}
	m.idx[r.Name] = i + 1
	return replies[i], nil
}

// scriptedExecutor replays a fixed sequence of execution outcomes, repeating
// the last one past the end of the script.
type scriptedExecutor struct {
	mu      sync.Mutex
	results []execOutcome
	calls   int
}

type execOutcome struct {
	result *types.ExecutionResult
	err    error
}

func (e *scriptedExecutor) Execute(_ context.Context, _ string, onChunk func(stream, text string)) (*types.ExecutionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if len(e.results) == 0 {
		return &types.ExecutionResult{IsSuccess: true}, nil
	}
	idx := e.calls - 1
	if idx >= len(e.results) {
		idx = len(e.results) - 1
	}
	o := e.results[idx]
	if onChunk != nil {
		onChunk("stdout", "chunk")
	}
	return o.result, o.err
}

func factoryFor(exec CodeExecutor) CodeExecutorFactory {
	return func(string) (CodeExecutor, error) { return exec, nil }
}

func successResult(stdout string) *types.ExecutionResult {
	return &types.ExecutionResult{IsSuccess: true, Stdout: []string{stdout}}
}

func failResult(msg string) *types.ExecutionResult {
	return &types.ExecutionResult{IsSuccess: false, Error: &msg}
}

func newTestOrchestrator(t *testing.T, model ModelCaller, executors CodeExecutorFactory, verifier CodeVerifier) (*Orchestrator, *convstore.Store, *event.Bus, *role.Registry, *confirm.Gate) {
	t.Helper()
	bus := event.NewBus()
	t.Cleanup(func() { _ = bus.Close() })
	registry := role.NewRegistry(nil)
	gate := confirm.NewGate(bus)
	store := convstore.NewStore(nil, registry.Exists)
	orch := New(Config{
		Roles:      registry,
		Store:      store,
		Confirm:    gate,
		Bus:        bus,
		Model:      model,
		Executors:  executors,
		Verifier:   verifier,
		MaxRetries: 3,
	})
	return orch, store, bus, registry, gate
}

func TestRunTurnPlannerWorkerPlannerUser(t *testing.T) {
	model := newScriptedModel()
	model.Script("Planner",
		Reply{Thought: "decompose the question", Message: "run the code", SendTo: "CodeInterpreter"},
		Reply{Message: "here is your answer", SendTo: RoleUser},
	)
	model.Script("CodeInterpreter",
		Reply{Message: "executing", Code: "print(1)"},
	)
	executor := &scriptedExecutor{results: []execOutcome{{result: successResult("1\n")}}}
	orch, store, bus, _, _ := newTestOrchestrator(t, model, factoryFor(executor), nil)

	var sawRoundEnd bool
	bus.SubscribeAll(func(ev event.Event) {
		if ev.Type == event.RoundEnd {
			sawRoundEnd = true
		}
	})

	err := orch.RunTurn(context.Background(), "s1", "what is 1?")
	require.NoError(t, err)
	assert.Equal(t, 1, executor.calls)
	assert.True(t, sawRoundEnd)

	conv := store.Conversation("s1")
	require.Len(t, conv.Rounds, 1)
	round := conv.Rounds[0]
	assert.Equal(t, types.RoundFinished, round.State)
	require.Len(t, round.Posts, 3)

	assert.Equal(t, "Planner", round.Posts[0].SendFrom)
	assert.Equal(t, "CodeInterpreter", round.Posts[0].SendTo)

	assert.Equal(t, "CodeInterpreter", round.Posts[1].SendFrom)
	assert.Equal(t, "Planner", round.Posts[1].SendTo)
	assert.Contains(t, round.Posts[1].Message, "1\n")

	assert.Equal(t, "Planner", round.Posts[2].SendFrom)
	assert.Equal(t, RoleUser, round.Posts[2].SendTo)
}

func TestWorkerRetryBudgetExhaustionIsNonFatal(t *testing.T) {
	model := newScriptedModel()
	model.Script("Planner",
		Reply{Message: "try running it", SendTo: "CodeInterpreter"},
		Reply{Message: "giving up, here's what I found", SendTo: RoleUser},
	)
	model.Script("CodeInterpreter",
		Reply{Message: "attempting execution", Code: "boom()"},
	)
	executor := &scriptedExecutor{results: []execOutcome{{result: failResult("boom")}}}
	orch, store, _, _, _ := newTestOrchestrator(t, model, factoryFor(executor), nil)

	err := orch.RunTurn(context.Background(), "s1", "do something impossible")
	require.NoError(t, err, "an exhausted worker retry budget must not fail the round")

	conv := store.Conversation("s1")
	round := conv.Rounds[0]
	assert.Equal(t, types.RoundFinished, round.State)
	require.Len(t, round.Posts, 3)

	workerPost := round.Posts[1]
	assert.Equal(t, "Planner", workerPost.SendTo)
	var sawCodeError bool
	for _, a := range workerPost.Attachments {
		if a.Kind == types.AttachmentCodeError {
			sawCodeError = true
			assert.Contains(t, a.Content, "exhausted retry budget")
		}
	}
	assert.True(t, sawCodeError, "exhausted retries should surface as a code_error attachment")
	assert.Equal(t, orch.maxRetries()+1, executor.calls)
}

func TestWorkerConfirmationRejectionFailsRoundWithoutExecution(t *testing.T) {
	model := newScriptedModel()
	model.Script("Planner", Reply{Message: "run the risky command", SendTo: "CodeInterpreter"})
	model.Script("CodeInterpreter", Reply{Message: "about to run", Code: "rm -rf /"})

	executor := &scriptedExecutor{}
	var factoryCalled bool
	factory := func(string) (CodeExecutor, error) {
		factoryCalled = true
		return executor, nil
	}

	orch, store, bus, registry, gate := newTestOrchestrator(t, model, factory, nil)
	worker, err := registry.Get("CodeInterpreter")
	require.NoError(t, err)
	worker.RequireConfirmation = true

	bus.Subscribe(event.ConfirmationRequested, func(event.Event) {
		require.NoError(t, gate.ProvideConfirmation("s1", false))
	})

	runErr := orch.RunTurn(context.Background(), "s1", "delete everything")
	require.Error(t, runErr)
	assert.True(t, IsConfirmationRejectedError(runErr))
	assert.False(t, factoryCalled, "kernel must not be touched when confirmation is rejected")
	assert.Equal(t, 0, executor.calls)

	conv := store.Conversation("s1")
	round := conv.Rounds[0]
	assert.Equal(t, types.RoundFailed, round.State)
	require.Len(t, round.Posts, 2)
	failedPost := round.Posts[1]
	require.NotEmpty(t, failedPost.Attachments)
	assert.Equal(t, types.AttachmentInvalidResponse, failedPost.Attachments[0].Kind)
}

func TestCodeVerificationFailureTriggersRetry(t *testing.T) {
	model := newScriptedModel()
	model.Script("Planner",
		Reply{Message: "go", SendTo: "CodeInterpreter"},
		Reply{Message: "done", SendTo: RoleUser},
	)
	model.Script("CodeInterpreter",
		Reply{Message: "first try", Code: "bad"},
		Reply{Message: "second try", Code: "good"},
	)
	verifier := func(code string) error {
		if code == "bad" {
			return errors.New("disallowed import")
		}
		return nil
	}
	executor := &scriptedExecutor{results: []execOutcome{{result: successResult("ok")}}}
	orch, store, _, _, _ := newTestOrchestrator(t, model, factoryFor(executor), verifier)

	err := orch.RunTurn(context.Background(), "s1", "run something")
	require.NoError(t, err)
	assert.Equal(t, 1, executor.calls, "only the verified code should reach the kernel")

	conv := store.Conversation("s1")
	round := conv.Rounds[0]
	assert.Equal(t, types.RoundFinished, round.State)
	assert.Contains(t, round.Posts[1].Message, "ok")
}

func TestStepBudgetExhaustionTimesOutTheRound(t *testing.T) {
	model := ModelCallerFunc(func(_ context.Context, r *role.Role, _ Memory, _ string) (Reply, error) {
		if r.IsWorker() {
			return Reply{Message: "ok", Code: "noop()"}, nil
		}
		return Reply{Message: "keep going", SendTo: "CodeInterpreter"}, nil
	})
	executor := &scriptedExecutor{results: []execOutcome{{result: successResult("")}}}
	orch, store, _, _, _ := newTestOrchestrator(t, model, factoryFor(executor), nil)

	err := orch.RunTurn(context.Background(), "s1", "loop forever")
	require.Error(t, err)
	assert.True(t, IsTimeoutError(err))

	conv := store.Conversation("s1")
	assert.Equal(t, types.RoundFailed, conv.Rounds[0].State)
}

func TestPlannerRoutingToUnknownRoleFailsRound(t *testing.T) {
	model := newScriptedModel()
	model.Script("Planner", Reply{Message: "ask a ghost", SendTo: "GhostRole"})
	orch, store, _, _, _ := newTestOrchestrator(t, model, factoryFor(&scriptedExecutor{}), nil)

	err := orch.RunTurn(context.Background(), "s1", "hi")
	require.Error(t, err)
	assert.True(t, convstore.IsUnknownRoleError(err))

	conv := store.Conversation("s1")
	assert.Equal(t, types.RoundFailed, conv.Rounds[0].State)
}
