package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mistakeknot/autopilot/internal/uibus"
)

func (s *Service) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleGetSnapshot(w, r)
	case http.MethodPost:
		s.handleUpsertSnapshot(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Service) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	project := strings.TrimSpace(q.Get("projectId"))
	if project == "" {
		writeValidation(w, "projectId is required")
		return
	}
	session := strings.TrimSpace(q.Get("sessionId"))
	if session == "" {
		writeValidation(w, "sessionId is required")
		return
	}
	snap, found, err := s.bus.Snapshot(r.Context(), project, session)
	if err != nil {
		writeError(w, err, "Failed to get UI snapshot")
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type upsertSnapshotBody struct {
	Project   string          `json:"projectId"`
	SessionID any             `json:"sessionId"`
	Snapshot  json.RawMessage `json:"snapshot"`
}

func (s *Service) handleUpsertSnapshot(w http.ResponseWriter, r *http.Request) {
	var body upsertSnapshotBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeValidation(w, "invalid request body")
		return
	}
	if strings.TrimSpace(body.Project) == "" {
		writeValidation(w, "projectId is required")
		return
	}
	if !presentSessionID(body.SessionID) {
		writeValidation(w, "sessionId is required")
		return
	}
	if err := s.bus.UpsertSnapshot(r.Context(), body.Project, body.SessionID, body.Snapshot); err != nil {
		writeError(w, err, "Failed to update UI snapshot")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Service) handleCommands(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListCommands(w, r)
	case http.MethodPost:
		s.handleEnqueueCommand(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Service) handleListCommands(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	project := strings.TrimSpace(q.Get("projectId"))
	if project == "" {
		writeValidation(w, "projectId is required")
		return
	}
	session := strings.TrimSpace(q.Get("sessionId"))
	if session == "" {
		writeValidation(w, "sessionId is required")
		return
	}
	cmds, err := s.bus.List(r.Context(), project, session)
	if err != nil {
		writeError(w, err, "Failed to list UI commands")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": cmds})
}

type enqueueCommandBody struct {
	Project   string              `json:"projectId"`
	SessionID any                 `json:"sessionId"`
	Command   *uibus.CommandInput `json:"command"`
}

func (s *Service) handleEnqueueCommand(w http.ResponseWriter, r *http.Request) {
	var body enqueueCommandBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeValidation(w, "invalid request body")
		return
	}
	if strings.TrimSpace(body.Project) == "" {
		writeValidation(w, "projectId is required")
		return
	}
	if !presentSessionID(body.SessionID) {
		writeValidation(w, "sessionId is required")
		return
	}
	if _, err := s.bus.Send(r.Context(), body.Project, body.SessionID, body.Command); err != nil {
		writeError(w, err, "Failed to enqueue UI command")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type ackCommandsBody struct {
	Project    string          `json:"projectId"`
	SessionID  any             `json:"sessionId"`
	CommandIDs json.RawMessage `json:"commandIds"`
}

func (s *Service) handleAckCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body ackCommandsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeValidation(w, "invalid request body")
		return
	}
	if strings.TrimSpace(body.Project) == "" {
		writeValidation(w, "projectId is required")
		return
	}
	if !presentSessionID(body.SessionID) {
		writeValidation(w, "sessionId is required")
		return
	}
	var ids []int64
	if len(body.CommandIDs) == 0 || string(body.CommandIDs) == "null" || json.Unmarshal(body.CommandIDs, &ids) != nil {
		writeValidation(w, "commandIds must be an array")
		return
	}
	if err := s.bus.Ack(r.Context(), body.Project, body.SessionID, ids); err != nil {
		writeError(w, err, "Failed to acknowledge UI commands")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// presentSessionID reports whether loosely-typed sessionId input was
// actually supplied. The bus would normalize an absent value to "default",
// but these endpoints require the caller to name the session.
func presentSessionID(v any) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return true
}
