package execclient

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcore/execorch/internal/execserver"
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

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	m, err := execserver.NewManager(execserver.Config{
		WorkRoot: t.TempDir(),
		Command:  "sh",
		Args:     []string{"-c", fakeKernelScript},
	})
	require.NoError(t, err)
	t.Cleanup(m.Shutdown)

	srv := execserver.New(execserver.HTTPConfig{EnableCORS: false}, m, "test")
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func TestProbeAndCreateSession(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient(Config{ServerURL: ts.URL}, "s1")

	assert.True(t, c.Probe(context.Background(), time.Second))
	require.NoError(t, c.CreateSession(context.Background()))
}

func TestExecuteSynchronousOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient(Config{ServerURL: ts.URL}, "s1")
	require.NoError(t, c.CreateSession(context.Background()))

	result, err := c.Execute(context.Background(), "print('hi')", nil)
	require.NoError(t, err)
	assert.True(t, result.IsSuccess)
	assert.Equal(t, []string{"hello"}, result.Stdout)
}

func TestExecuteStreamingInvokesOnChunkInOrder(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient(Config{ServerURL: ts.URL}, "s1")
	require.NoError(t, c.CreateSession(context.Background()))

	var chunks []string
	result, err := c.Execute(context.Background(), "print('hi')", func(stream, text string) {
		chunks = append(chunks, text)
	})
	require.NoError(t, err)
	assert.True(t, result.IsSuccess)
	assert.Equal(t, []string{"hello"}, chunks)
}

func TestUploadThenDownloadArtifactOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient(Config{ServerURL: ts.URL}, "s1")
	require.NoError(t, c.CreateSession(context.Background()))

	require.NoError(t, c.UploadFile(context.Background(), "out.txt", []byte("hello")))
	data, err := c.DownloadArtifact(context.Background(), "out.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestStopUnknownSessionIsRemoteNotFound(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient(Config{ServerURL: ts.URL, MaxRetries: 1}, "missing")

	err := c.StopSession(context.Background())
	require.Error(t, err)
	assert.True(t, IsRemoteError(err))
}
