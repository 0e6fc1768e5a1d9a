package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/mistakeknot/autopilot/internal/core"
)

// notFoundMessage is the fixed 404 body. A missing id and a project
// mismatch read identically so callers cannot probe other projects'
// sessions.
const notFoundMessage = "Autopilot session not found"

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeValidation(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": message})
}

// writeError maps an error kind to its status code. failure is the fixed
// per-endpoint 500 message; details carry the underlying cause, falling
// back to "Unknown error".
func writeError(w http.ResponseWriter, err error, failure string) {
	switch core.KindOf(err) {
	case core.KindValidation:
		writeValidation(w, core.Details(err))
	case core.KindNotFound:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": notFoundMessage})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   failure,
			"details": core.Details(err),
		})
	}
}
