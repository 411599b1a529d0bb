package execserver

import (
	"encoding/json"
	"net/http"

	"github.com/agentcore/execorch/internal/kernel"
)

type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: errorDetail{Code: code, Message: message}})
}

// writeManagerError maps the typed errors produced by Manager/kernel into
// the status codes §7 assigns them.
func writeManagerError(w http.ResponseWriter, err error) {
	switch {
	case IsSessionExistsError(err):
		writeError(w, http.StatusConflict, "SESSION_EXISTS", err.Error())
	case IsSessionNotFoundError(err):
		writeError(w, http.StatusNotFound, "SESSION_NOT_FOUND", err.Error())
	case kernel.IsPathTraversalError(err):
		writeError(w, http.StatusBadRequest, "PATH_TRAVERSAL", err.Error())
	case kernel.IsStartFailedError(err):
		writeError(w, http.StatusInternalServerError, "KERNEL_START_FAILED", err.Error())
	case kernel.IsPluginLoadFailedError(err):
		writeError(w, http.StatusInternalServerError, "PLUGIN_LOAD_FAILED", err.Error())
	case kernel.IsExecutionFailedError(err):
		writeError(w, http.StatusInternalServerError, "KERNEL_EXECUTION_FAILED", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}
