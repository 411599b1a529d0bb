package modelproc

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentcore/execorch/internal/compaction"
	"github.com/agentcore/execorch/pkg/types"
)

type summaryRequest struct {
	Role   string      `json:"role"`
	Rounds []roundView `json:"rounds"`
	Mode   string      `json:"mode"`
}

type summaryResponse struct {
	Summary string `json:"summary"`
	Error   string `json:"error,omitempty"`
}

// Summarizer adapts a Caller into a compaction.Summarizer: the same
// subprocess contract as Call, but addressed by role name rather than a
// resolved *role.Role, and tagged with mode "summarize" so a subprocess
// backing both roles can branch on it.
func (c *Caller) Summarizer() compaction.Summarizer {
	return func(ctx context.Context, sessionID, role string, rounds []types.Round) (string, error) {
		return c.summarize(ctx, role, rounds)
	}
}

func (c *Caller) summarize(ctx context.Context, role string, rounds []types.Round) (string, error) {
	req := summaryRequest{Role: role, Rounds: viewRounds(rounds), Mode: "summarize"}
	out, err := c.runOnce(ctx, req)
	if err != nil {
		var failed *CallFailedError
		if errors.As(err, &failed) {
			failed.Role = role
		}
		return "", err
	}
	var resp summaryResponse
	if err := decodeLine(out, &resp); err != nil {
		return "", fmt.Errorf("decode summary response: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("summarize role %s: %s", role, resp.Error)
	}
	return resp.Summary, nil
}
