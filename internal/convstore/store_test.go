package convstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcore/execorch/internal/storage"
	"github.com/agentcore/execorch/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st := storage.New(t.TempDir())
	known := func(role string) bool { return role == "Planner" || role == "CodeInterpreter" }
	return NewStore(st, known)
}

func TestCreateRoundIsOneIndexed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r1, err := s.CreateRound(ctx, "sess1", "first query")
	require.NoError(t, err)
	assert.Equal(t, 1, r1.Index)
	assert.Equal(t, types.RoundCreated, r1.State)

	r2, err := s.CreateRound(ctx, "sess1", "second query")
	require.NoError(t, err)
	assert.Equal(t, 2, r2.Index)
}

func TestAppendPostRejectsUnknownRole(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	round, err := s.CreateRound(ctx, "sess1", "q")
	require.NoError(t, err)

	err = s.AppendPost(ctx, "sess1", round.ID, types.Post{ID: "p1", SendFrom: "Nobody"})
	require.Error(t, err)
	assert.True(t, IsUnknownRoleError(err))
}

func TestAppendPostRejectsUnknownRound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.AppendPost(ctx, "sess1", "no-such-round", types.Post{ID: "p1", SendFrom: "Planner"})
	require.Error(t, err)
	assert.True(t, IsRoundNotFoundError(err))
}

func TestAppendPostNotifiesCallback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	round, err := s.CreateRound(ctx, "sess1", "q")
	require.NoError(t, err)

	var notified types.Round
	s.RegisterCallback(func(sessionID string, r types.Round) { notified = r })

	require.NoError(t, s.AppendPost(ctx, "sess1", round.ID, types.Post{
		ID: "p1", SendFrom: "Planner", SendTo: "CodeInterpreter", Message: "run this",
	}))

	require.Len(t, notified.Posts, 1)
	assert.Equal(t, "run this", notified.Posts[0].Message)
}

func TestGetRoleRoundsFiltersFailedByDefault(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r1, err := s.CreateRound(ctx, "sess1", "q1")
	require.NoError(t, err)
	require.NoError(t, s.AppendPost(ctx, "sess1", r1.ID, types.Post{ID: "p1", SendFrom: "Planner", SendTo: "CodeInterpreter"}))

	r2, err := s.CreateRound(ctx, "sess1", "q2")
	require.NoError(t, err)
	require.NoError(t, s.AppendPost(ctx, "sess1", r2.ID, types.Post{ID: "p2", SendFrom: "Planner", SendTo: "CodeInterpreter"}))
	require.NoError(t, s.FailRound(ctx, "sess1", r2.ID))

	rounds := s.GetRoleRounds("sess1", "CodeInterpreter", false)
	require.Len(t, rounds, 1)
	assert.Equal(t, r1.ID, rounds[0].ID)

	withFailures := s.GetRoleRounds("sess1", "CodeInterpreter", true)
	assert.Len(t, withFailures, 2)
}

func TestLoadRestoresPersistedConversation(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st := storage.New(dir)
	s := NewStore(st, nil)

	round, err := s.CreateRound(ctx, "sess1", "q")
	require.NoError(t, err)
	require.NoError(t, s.AppendPost(ctx, "sess1", round.ID, types.Post{ID: "p1", SendFrom: "Planner"}))

	reloaded := NewStore(st, nil)
	require.NoError(t, reloaded.Load(ctx, "sess1"))

	conv := reloaded.Conversation("sess1")
	require.Len(t, conv.Rounds, 1)
	assert.Equal(t, "q", conv.Rounds[0].UserQuery)
	require.Len(t, conv.Rounds[0].Posts, 1)
}
