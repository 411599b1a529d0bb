package execserver

import (
	"encoding/base64"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
)

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	ActiveSessions int   `json:"activeSessions"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         "ok",
		Version:        s.version,
		ActiveSessions: len(s.manager.List()),
		UptimeSeconds:  int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.List())
}

type createSessionRequest struct {
	SessionID string `json:"session_id,omitempty"`
	// GroupID scopes which other sessions this one may later read artifacts
	// from, or serve artifacts to, via the fallback_session_id on
	// handleGetArtifact. Left empty, a session shares artifacts with no one.
	GroupID string `json:"group_id,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
	}

	sess, err := s.manager.Create(r.Context(), req.SessionID, req.GroupID)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess.Info())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Info())
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Stop(chi.URLParam(r, "sessionID")); err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type loadPluginRequest struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

func (s *Server) handleLoadPlugin(w http.ResponseWriter, r *http.Request) {
	var req loadPluginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	sess, err := s.manager.Get(sessionID)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	path, err := sess.ArtifactPath(req.Name)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	if err := os.WriteFile(path, []byte(req.Code), 0o644); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if err := s.manager.LoadPlugin(r.Context(), sessionID, req.Name); err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type executeRequest struct {
	ExecID string `json:"exec_id"`
	Code   string `json:"code"`
	Stream bool   `json:"stream"`
}

type streamAcceptedResponse struct {
	ExecID    string `json:"exec_id"`
	StreamURL string `json:"stream_url"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	if !req.Stream {
		result, err := s.manager.Execute(r.Context(), sessionID, req.ExecID, req.Code)
		if err != nil {
			writeManagerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	execID, err := s.manager.ExecuteStream(sessionID, req.Code)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, streamAcceptedResponse{
		ExecID:    execID,
		StreamURL: "/api/v1/sessions/" + sessionID + "/execute/" + execID + "/stream",
	})
}

type updateVariablesRequest struct {
	Variables map[string]any `json:"variables"`
}

func (s *Server) handleUpdateVariables(w http.ResponseWriter, r *http.Request) {
	var req updateVariablesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if err := s.manager.UpdateVariables(r.Context(), chi.URLParam(r, "sessionID"), req.Variables); err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type uploadFileRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"` // "base64" | "text"
}

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	var req uploadFileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	var data []byte
	switch req.Encoding {
	case "base64":
		decoded, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "content is not valid base64")
			return
		}
		data = decoded
	default:
		data = []byte(req.Content)
	}

	if err := s.manager.UploadFile(chi.URLParam(r, "sessionID"), req.Filename, data); err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	filename := chi.URLParam(r, "filename")
	fallback := r.URL.Query().Get("fallback_session_id")

	path, err := s.manager.ArtifactPath(sessionID, fallback, filename)
	if err != nil {
		writeManagerError(w, err)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "artifact not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	defer f.Close()

	ct := mime.TypeByExtension(filepath.Ext(filename))
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, f)
}
