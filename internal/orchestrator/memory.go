package orchestrator

import (
	"github.com/agentcore/execorch/internal/compaction"
	"github.com/agentcore/execorch/internal/convstore"
	"github.com/agentcore/execorch/pkg/types"
)

// Memory is the view of a session's conversation a role's ModelCaller is
// given: any prior compacted summary, followed by the rounds not yet folded
// into it (spec E5: "a role's assembled prompt then contains the summary
// followed by round 5 only").
type Memory struct {
	SessionID string
	Role      string
	Summary   string
	Rounds    []types.Round
}

// buildMemory assembles Memory for (sessionID, roleName) from store, folding
// in compactor's latest CompactedMessage for that pair if one exists.
func buildMemory(store *convstore.Store, compactor *compaction.Engine, sessionID, roleName string) Memory {
	conv := store.Conversation(sessionID)
	mem := Memory{SessionID: sessionID, Role: roleName, Rounds: conv.Rounds}

	if compactor == nil {
		return mem
	}
	summary, ok := compactor.Get(sessionID, roleName)
	if !ok {
		return mem
	}
	mem.Summary = summary.Summary

	var tail []types.Round
	for _, r := range conv.Rounds {
		if r.Index > summary.EndIndex {
			tail = append(tail, r)
		}
	}
	mem.Rounds = tail
	return mem
}
