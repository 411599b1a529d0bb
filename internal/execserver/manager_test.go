package execserver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fakeKernelScript = `
while IFS= read -r line; do
  case "$line" in
    *'"type":"execute"'*)
      id=$(echo "$line" | sed -n 's/.*"id":"\([^"]*\)".*/\1/p')
      echo "{\"type\":\"output\",\"execution_id\":\"$id\",\"stream\":\"stdout\",\"text\":\"hello\"}"
      echo "{\"type\":\"result\",\"execution_id\":\"$id\",\"success\":true}"
      ;;
  esac
done
`

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		WorkRoot: t.TempDir(),
		Command:  "sh",
		Args:     []string{"-c", fakeKernelScript},
	})
	require.NoError(t, err)
	t.Cleanup(m.Shutdown)
	return m
}

func TestCreateAssignsIDWhenEmpty(t *testing.T) {
	m := newTestManager(t)
	sess, err := m.Create(context.Background(), "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Info().SessionID)
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Create(context.Background(), "s1", "")
	require.NoError(t, err)

	_, err = m.Create(context.Background(), "s1", "")
	require.Error(t, err)
	assert.True(t, IsSessionExistsError(err))
}

func TestStopUnknownSessionReturnsTypedError(t *testing.T) {
	m := newTestManager(t)
	err := m.Stop("does-not-exist")
	require.Error(t, err)
	assert.True(t, IsSessionNotFoundError(err))
}

func TestExecuteSynchronous(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Create(context.Background(), "s1", "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	result, err := m.Execute(ctx, "s1", "", "print('hi')")
	require.NoError(t, err)
	assert.True(t, result.IsSuccess)
	assert.Equal(t, []string{"hello"}, result.Stdout)
}

func TestExecuteStreamDeliversOutputThenResultThenCloses(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Create(context.Background(), "s1", "")
	require.NoError(t, err)

	execID, err := m.ExecuteStream("s1", "print('hi')")
	require.NoError(t, err)

	ch, unsubscribe, ok := m.StreamSubscribe(execID)
	require.True(t, ok)
	defer unsubscribe()

	var events []string
	timeout := time.After(3 * time.Second)
	for len(events) < 2 {
		select {
		case msg, open := <-ch:
			if !open {
				t.Fatal("channel closed before result event observed")
			}
			events = append(events, msg.Event)
		case <-timeout:
			t.Fatal("timed out waiting for stream events")
		}
	}
	assert.Equal(t, []string{"output", "result"}, events)

	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestUploadFileThenArtifactPath(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Create(context.Background(), "s1", "")
	require.NoError(t, err)

	require.NoError(t, m.UploadFile("s1", "out.txt", []byte("data")))
	path, err := m.ArtifactPath("s1", "", "out.txt")
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestArtifactPathFallsBackWhenPrimaryMissingAndSameGroup(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Create(context.Background(), "gone", "group-a")
	require.NoError(t, err)
	require.NoError(t, m.Stop("gone")) // evicted, but its group membership is remembered

	_, err = m.Create(context.Background(), "shared", "group-a")
	require.NoError(t, err)
	require.NoError(t, m.UploadFile("shared", "plot.png", []byte("x")))

	path, err := m.ArtifactPath("gone", "shared", "plot.png")
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestArtifactPathFallbackRejectsSessionFromAnotherGroup(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Create(context.Background(), "gone", "group-a")
	require.NoError(t, err)
	require.NoError(t, m.Stop("gone"))

	_, err = m.Create(context.Background(), "unrelated", "group-b")
	require.NoError(t, err)
	require.NoError(t, m.UploadFile("unrelated", "plot.png", []byte("x")))

	_, err = m.ArtifactPath("gone", "unrelated", "plot.png")
	require.Error(t, err)
	assert.True(t, IsSessionNotFoundError(err))
}

func TestArtifactPathFallbackRejectsUnknownPrimarySession(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Create(context.Background(), "shared", "")
	require.NoError(t, err)
	require.NoError(t, m.UploadFile("shared", "plot.png", []byte("x")))

	_, err = m.ArtifactPath("never-created", "shared", "plot.png")
	require.Error(t, err)
	assert.True(t, IsSessionNotFoundError(err))
}

func TestDetectedArtifactsTracksUploadedFiles(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Create(context.Background(), "s1", "")
	require.NoError(t, err)

	require.NoError(t, m.UploadFile("s1", "result.csv", []byte("a,b,c")))

	deadline := time.Now().Add(3 * time.Second)
	var detected []string
	for time.Now().Before(deadline) {
		detected, err = m.DetectedArtifacts("s1")
		require.NoError(t, err)
		if len(detected) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NotEmpty(t, detected, "artifact watcher should observe the uploaded file")
}

func TestDetectedArtifactsUnknownSessionReturnsTypedError(t *testing.T) {
	m := newTestManager(t)
	_, err := m.DetectedArtifacts("does-not-exist")
	require.Error(t, err)
	assert.True(t, IsSessionNotFoundError(err))
}
