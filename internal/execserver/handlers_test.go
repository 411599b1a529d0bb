package execserver

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	m := newTestManager(t)
	srv := New(HTTPConfig{EnableCORS: false}, m, "test")
	return srv
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp healthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestCreateSessionEndpoint(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewReader([]byte(`{"session_id":"s1"}`)))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
}

func TestCreateSessionConflictReturns409(t *testing.T) {
	srv := newTestServer(t)
	body := []byte(`{"session_id":"s1"}`)

	req1 := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewReader(body))
	w1 := httptest.NewRecorder()
	srv.Router().ServeHTTP(w1, req1)
	require.Equal(t, http.StatusCreated, w1.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewReader(body))
	w2 := httptest.NewRecorder()
	srv.Router().ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusConflict, w2.Code)
}

func TestExecuteSynchronousEndpoint(t *testing.T) {
	srv := newTestServer(t)
	create := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewReader([]byte(`{"session_id":"s1"}`)))
	wc := httptest.NewRecorder()
	srv.Router().ServeHTTP(wc, create)
	require.Equal(t, http.StatusCreated, wc.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s1/execute", bytes.NewReader([]byte(`{"code":"print('hi')"}`)))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var result map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.Equal(t, true, result["isSuccess"])
}

func TestUploadThenDownloadArtifactEndpoint(t *testing.T) {
	srv := newTestServer(t)
	create := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewReader([]byte(`{"session_id":"s1"}`)))
	wc := httptest.NewRecorder()
	srv.Router().ServeHTTP(wc, create)
	require.Equal(t, http.StatusCreated, wc.Code)

	upload := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s1/files",
		bytes.NewReader([]byte(`{"filename":"out.txt","content":"hello","encoding":"text"}`)))
	wu := httptest.NewRecorder()
	srv.Router().ServeHTTP(wu, upload)
	require.Equal(t, http.StatusOK, wu.Code)

	dl := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s1/artifacts/out.txt", nil)
	wd := httptest.NewRecorder()
	srv.Router().ServeHTTP(wd, dl)
	require.Equal(t, http.StatusOK, wd.Code)
	assert.Equal(t, "hello", wd.Body.String())
}

func TestUploadPathTraversalRejected(t *testing.T) {
	srv := newTestServer(t)
	create := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewReader([]byte(`{"session_id":"s1"}`)))
	wc := httptest.NewRecorder()
	srv.Router().ServeHTTP(wc, create)
	require.Equal(t, http.StatusCreated, wc.Code)

	upload := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s1/files",
		bytes.NewReader([]byte(`{"filename":"../escape.txt","content":"hello","encoding":"text"}`)))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, upload)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExecuteStreamEndToEnd(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	createResp, err := http.Post(ts.URL+"/api/v1/sessions", "application/json", bytes.NewReader([]byte(`{"session_id":"s1"}`)))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, createResp.StatusCode)
	createResp.Body.Close()

	execResp, err := http.Post(ts.URL+"/api/v1/sessions/s1/execute", "application/json",
		bytes.NewReader([]byte(`{"code":"print('hi')","stream":true}`)))
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, execResp.StatusCode)
	var accepted streamAcceptedResponse
	require.NoError(t, json.NewDecoder(execResp.Body).Decode(&accepted))
	execResp.Body.Close()

	streamResp, err := http.Get(ts.URL + accepted.StreamURL)
	require.NoError(t, err)
	defer streamResp.Body.Close()
	require.Equal(t, http.StatusOK, streamResp.StatusCode)

	var sawOutput, sawResult, sawDone bool
	scanner := bufio.NewScanner(streamResp.Body)
	deadline := time.Now().Add(5 * time.Second)
	for scanner.Scan() && time.Now().Before(deadline) {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: output"):
			sawOutput = true
		case strings.HasPrefix(line, "event: result"):
			sawResult = true
		case strings.HasPrefix(line, "event: done"):
			sawDone = true
		}
		if sawDone {
			break
		}
	}
	assert.True(t, sawOutput)
	assert.True(t, sawResult)
	assert.True(t, sawDone)
}
