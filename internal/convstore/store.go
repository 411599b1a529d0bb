// Package convstore is the Conversation Store: the single writer of a
// session's Conversation, responsible for round/post ordering, durable
// persistence, and notifying interested listeners (the Compaction Engine,
// primarily) whenever a round is appended to.
package convstore

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/agentcore/execorch/internal/storage"
	"github.com/agentcore/execorch/pkg/types"
)

// RoleKnown reports whether a role name is recognized. Passing nil to
// NewStore disables the check, for callers that do not care about the
// UnknownRole invariant (e.g. most tests).
type RoleKnown func(role string) bool

// RoundAddedCallback is invoked, synchronously and in append order,
// whenever AppendPost adds a post to a round.
type RoundAddedCallback func(sessionID string, round types.Round)

// Store owns every session's Conversation in memory, persisting each
// mutation through storage.Storage under ["conversations", sessionID].
type Store struct {
	mu    sync.Mutex
	convs map[string]*types.Conversation

	storage   *storage.Storage
	roleKnown RoleKnown

	cbMu      sync.Mutex
	callbacks []RoundAddedCallback
}

// NewStore returns a Store backed by st. roleKnown may be nil.
func NewStore(st *storage.Storage, roleKnown RoleKnown) *Store {
	return &Store{
		convs:     make(map[string]*types.Conversation),
		storage:   st,
		roleKnown: roleKnown,
	}
}

// RegisterCallback adds fn to the set invoked after every AppendPost, and
// returns a function that removes it.
func (s *Store) RegisterCallback(fn RoundAddedCallback) func() {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	idx := len(s.callbacks)
	s.callbacks = append(s.callbacks, fn)
	return func() {
		s.cbMu.Lock()
		defer s.cbMu.Unlock()
		if idx < len(s.callbacks) {
			s.callbacks[idx] = nil
		}
	}
}

func (s *Store) notify(sessionID string, round types.Round) {
	s.cbMu.Lock()
	cbs := make([]RoundAddedCallback, len(s.callbacks))
	copy(cbs, s.callbacks)
	s.cbMu.Unlock()
	for _, cb := range cbs {
		if cb != nil {
			cb(sessionID, round)
		}
	}
}

func (s *Store) conversation(sessionID string) *types.Conversation {
	conv, ok := s.convs[sessionID]
	if !ok {
		conv = &types.Conversation{SessionID: sessionID}
		s.convs[sessionID] = conv
	}
	return conv
}

// CreateRound starts a new, 1-indexed round for sessionID with the given
// user query and persists it immediately in the RoundCreated state.
func (s *Store) CreateRound(ctx context.Context, sessionID, userQuery string) (*types.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.conversation(sessionID)
	round := types.Round{
		ID:        ulid.Make().String(),
		Index:     len(conv.Rounds) + 1,
		UserQuery: userQuery,
		State:     types.RoundCreated,
		CreatedAt: time.Now().UnixMilli(),
	}
	conv.Rounds = append(conv.Rounds, round)

	if err := s.persist(ctx, conv); err != nil {
		conv.Rounds = conv.Rounds[:len(conv.Rounds)-1]
		return nil, err
	}
	return &conv.Rounds[len(conv.Rounds)-1], nil
}

// AppendPost appends post to roundID within sessionID, validates post's
// SendFrom/SendTo against roleKnown when set (a SendTo of "User", the
// round-terminating recipient, is always accepted), persists the
// conversation, and notifies registered callbacks.
func (s *Store) AppendPost(ctx context.Context, sessionID, roundID string, post types.Post) error {
	s.mu.Lock()

	if s.roleKnown != nil {
		if !s.roleKnown(post.SendFrom) {
			s.mu.Unlock()
			return &UnknownRoleError{Role: post.SendFrom}
		}
		if post.SendTo != "" && post.SendTo != types.DefaultSendTo && post.SendTo != "User" && !s.roleKnown(post.SendTo) {
			s.mu.Unlock()
			return &UnknownRoleError{Role: post.SendTo}
		}
	}

	conv := s.conversation(sessionID)
	idx := findRound(conv, roundID)
	if idx < 0 {
		s.mu.Unlock()
		return &RoundNotFoundError{SessionID: sessionID, RoundID: roundID}
	}
	post.RoundID = roundID
	conv.Rounds[idx].Posts = append(conv.Rounds[idx].Posts, post)

	if err := s.persist(ctx, conv); err != nil {
		conv.Rounds[idx].Posts = conv.Rounds[idx].Posts[:len(conv.Rounds[idx].Posts)-1]
		s.mu.Unlock()
		return err
	}
	round := conv.Rounds[idx]
	s.mu.Unlock()

	s.notify(sessionID, round)
	return nil
}

// FinishRound marks roundID as finished.
func (s *Store) FinishRound(ctx context.Context, sessionID, roundID string) error {
	return s.setState(ctx, sessionID, roundID, types.RoundFinished)
}

// FailRound marks roundID as failed; failed rounds are still persisted and
// retrievable, only excluded from GetRoleRounds unless includeFailures is
// set.
func (s *Store) FailRound(ctx context.Context, sessionID, roundID string) error {
	return s.setState(ctx, sessionID, roundID, types.RoundFailed)
}

func (s *Store) setState(ctx context.Context, sessionID, roundID string, state types.RoundState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.conversation(sessionID)
	idx := findRound(conv, roundID)
	if idx < 0 {
		return &RoundNotFoundError{SessionID: sessionID, RoundID: roundID}
	}
	conv.Rounds[idx].State = state
	return s.persist(ctx, conv)
}

// GetRound returns a copy of one round.
func (s *Store) GetRound(sessionID, roundID string) (*types.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.conversation(sessionID)
	idx := findRound(conv, roundID)
	if idx < 0 {
		return nil, &RoundNotFoundError{SessionID: sessionID, RoundID: roundID}
	}
	round := conv.Rounds[idx]
	return &round, nil
}

// GetRoleRounds returns every round in which role appears as a post's
// SendFrom or SendTo, in round order. Failed rounds are excluded unless
// includeFailures is true.
func (s *Store) GetRoleRounds(sessionID, role string, includeFailures bool) []types.Round {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.conversation(sessionID)

	var out []types.Round
	for _, round := range conv.Rounds {
		if round.State == types.RoundFailed && !includeFailures {
			continue
		}
		if roundInvolvesRole(round, role) {
			out = append(out, round)
		}
	}
	return out
}

func roundInvolvesRole(round types.Round, role string) bool {
	for _, post := range round.Posts {
		if post.SendFrom == role || post.SendTo == role {
			return true
		}
	}
	return false
}

// Conversation returns a copy of the full ordered round list for sessionID.
func (s *Store) Conversation(sessionID string) types.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.conversation(sessionID)
	rounds := make([]types.Round, len(conv.Rounds))
	copy(rounds, conv.Rounds)
	return types.Conversation{SessionID: sessionID, Rounds: rounds}
}

func findRound(conv *types.Conversation, roundID string) int {
	for i, r := range conv.Rounds {
		if r.ID == roundID {
			return i
		}
	}
	return -1
}

func (s *Store) persist(ctx context.Context, conv *types.Conversation) error {
	if s.storage == nil {
		return nil
	}
	return s.storage.Put(ctx, storage.ConversationPath(conv.SessionID), conv)
}

// Load restores sessionID's conversation from storage, replacing any
// in-memory state for that session. Returns storage.ErrNotFound if nothing
// has been persisted yet.
func (s *Store) Load(ctx context.Context, sessionID string) error {
	var conv types.Conversation
	if err := s.storage.Get(ctx, storage.ConversationPath(sessionID), &conv); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conv.SessionID = sessionID
	s.convs[sessionID] = &conv
	return nil
}
