package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationPathNamespacesBySessionID(t *testing.T) {
	assert.Equal(t, []string{"conversations", "s1"}, ConversationPath("s1"))
}

func TestPutThenGetRoundTripsAConversation(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	conv := sampleConversation("s1")
	require.NoError(t, s.Put(ctx, ConversationPath("s1"), conv))

	var loaded conversationFixture
	require.NoError(t, s.Get(ctx, ConversationPath("s1"), &loaded))
	assert.Equal(t, conv, loaded)
}

func TestPutWritesUnderTheExpectedFileAndLeavesNoTempFile(t *testing.T) {
	tmpDir := t.TempDir()
	s := New(tmpDir)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, ConversationPath("s1"), sampleConversation("s1")))

	assert.FileExists(t, filepath.Join(tmpDir, "conversations", "s1.json"))
	assert.NoFileExists(t, filepath.Join(tmpDir, "conversations", "s1.json.tmp"))
}

func TestGetMissingSessionReturnsErrNotFound(t *testing.T) {
	s := New(t.TempDir())
	var loaded conversationFixture
	err := s.Get(context.Background(), ConversationPath("missing"), &loaded)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteThenGetReturnsErrNotFound(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, ConversationPath("s1"), sampleConversation("s1")))
	require.NoError(t, s.Delete(ctx, ConversationPath("s1")))

	var loaded conversationFixture
	assert.ErrorIs(t, s.Get(ctx, ConversationPath("s1"), &loaded), ErrNotFound)
}

func TestDeleteOfMissingKeyIsANoOp(t *testing.T) {
	s := New(t.TempDir())
	assert.NoError(t, s.Delete(context.Background(), ConversationPath("never-existed")))
}

func TestListReturnsEveryPersistedSessionID(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	for _, id := range []string{"s1", "s2", "s3"} {
		require.NoError(t, s.Put(ctx, ConversationPath(id), sampleConversation(id)))
	}

	items, err := s.List(ctx, []string{"conversations"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"s1", "s2", "s3"}, items)
}

func TestListOfUnknownNamespaceReturnsEmptySlice(t *testing.T) {
	s := New(t.TempDir())
	items, err := s.List(context.Background(), []string{"conversations"})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestScanVisitsEveryPersistedSession(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	want := map[string]conversationFixture{
		"s1": sampleConversation("s1"),
		"s2": sampleConversation("s2"),
	}
	for id, conv := range want {
		require.NoError(t, s.Put(ctx, ConversationPath(id), conv))
	}

	got := make(map[string]conversationFixture)
	err := s.Scan(ctx, []string{"conversations"}, func(key string, data json.RawMessage) error {
		var conv conversationFixture
		if err := json.Unmarshal(data, &conv); err != nil {
			return err
		}
		got[key] = conv
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestExistsReflectsPutAndDelete(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	assert.False(t, s.Exists(ctx, ConversationPath("s1")))
	require.NoError(t, s.Put(ctx, ConversationPath("s1"), sampleConversation("s1")))
	assert.True(t, s.Exists(ctx, ConversationPath("s1")))
	require.NoError(t, s.Delete(ctx, ConversationPath("s1")))
	assert.False(t, s.Exists(ctx, ConversationPath("s1")))
}

func TestConcurrentPutsToTheSameSessionAllSucceed(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(round int) {
			defer wg.Done()
			conv := sampleConversation("s1")
			conv.RoundCount = round
			assert.NoError(t, s.Put(ctx, ConversationPath("s1"), conv))
		}(i)
	}
	wg.Wait()

	var loaded conversationFixture
	require.NoError(t, s.Get(ctx, ConversationPath("s1"), &loaded))
	assert.Equal(t, "s1", loaded.SessionID)
}

// conversationFixture stands in for types.Conversation without this
// package importing pkg/types, keeping storage's own tests decoupled from
// the domain model its one caller happens to store.
type conversationFixture struct {
	SessionID  string `json:"sessionID"`
	RoundCount int    `json:"roundCount"`
}

func sampleConversation(sessionID string) conversationFixture {
	return conversationFixture{SessionID: sessionID, RoundCount: 1}
}
