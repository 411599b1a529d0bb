// Package orchestrator drives one conversation turn: it alternates Planner
// and Worker role invocations, persists each resulting Post to the
// Conversation Store, forwards incremental updates onto the Event Bus, and
// gates risky worker actions through the Confirmation Gate (spec §4.I).
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/agentcore/execorch/internal/compaction"
	"github.com/agentcore/execorch/internal/confirm"
	"github.com/agentcore/execorch/internal/convstore"
	"github.com/agentcore/execorch/internal/event"
	"github.com/agentcore/execorch/internal/logging"
	"github.com/agentcore/execorch/internal/role"
	"github.com/agentcore/execorch/pkg/types"
)

// RoleUser is the synthetic send_to target that terminates a round: once a
// post names it, the user has received the final answer for this turn.
const RoleUser = "User"

// MaxSteps bounds the number of Planner/Worker posts a single round may
// produce before the orchestrator gives up and fails it with a TimeoutError,
// mirroring go-opencode's agentic-loop step budget.
const MaxSteps = 50

// CodeExecutor drives one unit of generated code against a session's kernel
// and reports streamed output through onChunk, matching execclient.Client's
// Execute signature so a *execclient.Client satisfies this interface
// directly without an adapter.
type CodeExecutor interface {
	Execute(ctx context.Context, code string, onChunk func(stream, text string)) (*types.ExecutionResult, error)
}

// CodeExecutorFactory returns (creating and caching, if necessary) the
// CodeExecutor bound to sessionID.
type CodeExecutorFactory func(sessionID string) (CodeExecutor, error)

// Config collects an Orchestrator's dependencies and tunables.
type Config struct {
	Roles      *role.Registry
	Store      *convstore.Store
	Confirm    *confirm.Gate
	Compactor  *compaction.Engine // optional; nil disables summary folding
	Bus        *event.Bus
	Model      ModelCaller
	Executors  CodeExecutorFactory
	Verifier   CodeVerifier // optional
	MaxRetries int          // code_interpreter.max_retry_count; <=0 defaults to 3
}

// Orchestrator runs turns for any number of concurrent sessions; all shared
// state it touches (the registry, store, gate, bus) is already safe for
// concurrent use on its own.
type Orchestrator struct {
	cfg Config
}

// New returns an Orchestrator driven by cfg.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{cfg: cfg}
}

func (o *Orchestrator) maxRetries() int {
	if o.cfg.MaxRetries > 0 {
		return o.cfg.MaxRetries
	}
	return 3
}

// RunTurn drives one full round to completion: append the round, alternate
// Planner/Worker posts until a post names RoleUser or emits a stop
// attachment, and finish or fail the round accordingly (spec §4.I).
func (o *Orchestrator) RunTurn(ctx context.Context, sessionID, userQuery string) error {
	round, err := o.cfg.Store.CreateRound(ctx, sessionID, userQuery)
	if err != nil {
		return err
	}
	o.cfg.Bus.PublishSync(event.Event{
		Scope:    event.ScopeRound,
		Type:     event.RoundStart,
		TargetID: round.ID,
		Data:     event.RoundStartData{RoundID: round.ID, UserQuery: userQuery},
		Extras:   sessionExtras(sessionID),
	})

	if err := o.loop(ctx, sessionID, round.ID, userQuery); err != nil {
		o.failRound(ctx, sessionID, round.ID, err)
		return err
	}

	if err := o.cfg.Store.FinishRound(ctx, sessionID, round.ID); err != nil {
		return err
	}
	o.cfg.Bus.PublishSync(event.Event{
		Scope:    event.ScopeRound,
		Type:     event.RoundEnd,
		TargetID: round.ID,
		Data:     event.RoundEndData{RoundID: round.ID},
		Extras:   sessionExtras(sessionID),
	})
	return nil
}

// sessionExtras stamps sessionID onto a round/post-scoped event so a
// session-bound subscriber (the Web Gateway) can route it without parsing
// the event's Data payload.
func sessionExtras(sessionID string) map[string]any {
	return map[string]any{"session_id": sessionID}
}

func (o *Orchestrator) failRound(ctx context.Context, sessionID, roundID string, cause error) {
	_ = o.cfg.Store.FailRound(ctx, sessionID, roundID)
	o.cfg.Bus.PublishSync(event.Event{
		Scope:    event.ScopeRound,
		Type:     event.RoundError,
		TargetID: roundID,
		Data:     event.RoundErrorData{RoundID: roundID, Message: cause.Error()},
		Extras:   sessionExtras(sessionID),
	})
	logging.Error().Err(cause).Str("session_id", sessionID).Str("round_id", roundID).Msg("round failed")
}

// loop implements steps 2-4 of §4.I: invoke Planner, dispatch to a worker
// when named, feed the worker's reply back to Planner, and repeat until
// termination or the step budget is exhausted.
func (o *Orchestrator) loop(ctx context.Context, sessionID, roundID, userQuery string) error {
	currentRole := role.KindPlanner
	roleName := "Planner"
	input := userQuery

	for step := 0; ; step++ {
		if step >= MaxSteps {
			return &TimeoutError{SessionID: sessionID, RoundID: roundID, Reason: "step budget exhausted"}
		}

		r, err := o.cfg.Roles.Get(roleName)
		if err != nil {
			return err
		}

		memory := buildMemory(o.cfg.Store, o.cfg.Compactor, sessionID, roleName)
		proxy := newPostProxy(o.cfg.Bus, sessionID, roundID, roleName)

		var reply Reply
		var fatalErr error
		if r.IsWorker() {
			reply, fatalErr = o.runWorker(ctx, proxy, r, sessionID, roundID, memory, input)
		} else {
			reply, fatalErr = o.cfg.Model.Call(ctx, r, memory, input)
		}

		if fatalErr != nil {
			proxy.End(errPtr(fatalErr))
			post := buildPost(proxy, roleName, types.DefaultSendTo, "", attachmentsFor(Reply{}, fatalErr))
			_ = o.cfg.Store.AppendPost(ctx, sessionID, roundID, post)
			return fatalErr
		}

		attachments := attachmentsFor(reply, reply.Err)
		sendTo := reply.SendTo
		if r.IsWorker() {
			// Workers never choose a recipient; completion always reports
			// back to Planner (spec §4.I step 3).
			sendTo = "Planner"
		} else if sendTo == "" {
			sendTo = types.DefaultSendTo
		}

		proxy.MessageUpdate(reply.Message, true)
		proxy.SendToUpdate(sendTo)
		proxy.End(errPtr(reply.Err))

		post := buildPost(proxy, roleName, sendTo, reply.Message, attachments)
		if err := o.cfg.Store.AppendPost(ctx, sessionID, roundID, post); err != nil {
			return err
		}

		if sendTo == RoleUser || reply.Stop {
			return nil
		}

		if currentRole == role.KindPlanner {
			next, err := o.cfg.Roles.Get(sendTo)
			if err != nil {
				return err
			}
			if !next.IsWorker() {
				return fmt.Errorf("planner routed to non-worker role %q", sendTo)
			}
			currentRole = role.KindWorker
			roleName = sendTo
			input = reply.Message
			continue
		}

		// A worker always reports back to the Planner (spec step 3: "loop
		// back to step 2 with the worker's reply as input to Planner").
		currentRole = role.KindPlanner
		roleName = "Planner"
		input = reply.Message
	}
}

func errPtr(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	return &msg
}

// runWorker drives a CodeInterpreter-type worker: generate code, optionally
// verify and confirm it, execute it, and retry recoverable failures
// (CodeVerificationFailed, KernelExecutionFailed) up to the configured
// budget. An exhausted budget is returned as a Reply carrying Err, not as a
// function error: it surfaces to Planner as a failed worker reply and the
// round continues (spec §4.I retry policy, §7). Confirmation rejection and
// transport-level failures are returned as function errors instead, since
// those are fatal to the round.
func (o *Orchestrator) runWorker(
	ctx context.Context,
	proxy *PostProxy,
	r *role.Role,
	sessionID, roundID string,
	memory Memory,
	input string,
) (Reply, error) {
	var lastErr error

	for attempt := 0; attempt <= o.maxRetries(); attempt++ {
		reply, err := o.cfg.Model.Call(ctx, r, memory, input)
		if err != nil {
			return Reply{}, err
		}
		if reply.Code == "" {
			return reply, nil
		}

		if o.cfg.Verifier != nil {
			if verr := o.cfg.Verifier(reply.Code); verr != nil {
				lastErr = &CodeVerificationFailedError{Cause: verr}
				proxy.StatusUpdate("verification_failed")
				continue
			}
		}

		if r.RequireConfirmation {
			proxy.StatusUpdate("awaiting_confirmation")
			approved, cerr := o.cfg.Confirm.Request(ctx, sessionID, roundID, proxy.PostID(), reply.Code)
			if cerr != nil {
				return Reply{}, cerr
			}
			if !approved {
				return Reply{}, &ConfirmationRejectedError{SessionID: sessionID, RoundID: roundID}
			}
		}

		executor, eerr := o.cfg.Executors(sessionID)
		if eerr != nil {
			return Reply{}, eerr
		}

		proxy.StatusUpdate("executing")
		result, xerr := executor.Execute(ctx, reply.Code, func(stream, text string) {
			proxy.ExecutionOutput(stream, text)
		})
		if xerr != nil {
			lastErr = xerr
			continue
		}
		if !result.IsSuccess {
			msg := "execution failed"
			if result.Error != nil {
				msg = *result.Error
			}
			lastErr = fmt.Errorf("kernel execution failed: %s", msg)
			continue
		}

		reply.Message = summarizeExecution(reply.Message, result)
		return reply, nil
	}

	return Reply{SendTo: "Planner", Err: &RetryBudgetExhaustedError{RoundID: roundID, Role: r.Name, Cause: lastErr}}, nil
}

func summarizeExecution(message string, result *types.ExecutionResult) string {
	if len(result.Stdout) == 0 {
		return message
	}
	var b strings.Builder
	b.WriteString(message)
	if message != "" {
		b.WriteString("\n")
	}
	b.WriteString(strings.Join(result.Stdout, ""))
	return b.String()
}

func attachmentsFor(reply Reply, roleErr error) []*types.Attachment {
	var attachments []*types.Attachment
	if reply.Thought != "" {
		attachments = append(attachments, &types.Attachment{
			ID: ulid.Make().String(), Kind: types.AttachmentThought, Content: reply.Thought,
		})
	}
	if reply.Stop {
		attachments = append(attachments, &types.Attachment{
			ID: ulid.Make().String(), Kind: types.AttachmentStop,
		})
	}
	if roleErr != nil {
		kind := types.AttachmentCodeError
		if IsConfirmationRejectedError(roleErr) {
			kind = types.AttachmentInvalidResponse
		}
		attachments = append(attachments, &types.Attachment{
			ID: ulid.Make().String(), Kind: kind, Content: roleErr.Error(),
		})
	}
	return attachments
}
