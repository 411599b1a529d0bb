package execserver

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentcore/execorch/internal/logging"
)

// sseWriter wraps http.ResponseWriter for the one-way execution output
// stream, following the same ResponseController-first flush strategy the
// rest of the server's event streams use.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported by response writer")
	}
	return &sseWriter{w: w, flusher: flusher, rc: http.NewResponseController(w)}, nil
}

func (s *sseWriter) writeEvent(eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, jsonData); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil {
		s.flusher.Flush()
	}
	return nil
}

// handleExecuteStream serves one logical SSE stream per exec_id: zero or
// more "output" events, then one "result" event, then "done". A client
// that reconnects mid-execution starts at the current tail; there is no
// replay of events already delivered to a prior connection.
func (s *Server) handleExecuteStream(w http.ResponseWriter, r *http.Request) {
	execID := chi.URLParam(r, "execID")

	ch, unsubscribe, ok := s.manager.StreamSubscribe(execID)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown or finished exec_id")
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sw, err := newSSEWriter(w)
	if err != nil {
		logging.Error().Err(err).Msg("execution stream: response writer does not support flushing")
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, open := <-ch:
			if !open {
				_ = sw.writeEvent("done", nil)
				return
			}
			if err := sw.writeEvent(msg.Event, msg.Data); err != nil {
				logging.Warn().Err(err).Str("exec_id", execID).Msg("execution stream write failed, closing")
				return
			}
		}
	}
}
