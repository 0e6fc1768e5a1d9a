package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/mistakeknot/autopilot/internal/orchestrator"
	"github.com/mistakeknot/autopilot/internal/uibus"
)

type agentRequestBody struct {
	Project string          `json:"projectId"`
	Prompt  string          `json:"prompt"`
	Options json.RawMessage `json:"options"`
}

func (s *Service) handleAgentRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body agentRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeValidation(w, "invalid request body")
		return
	}
	if strings.TrimSpace(body.Project) == "" {
		writeValidation(w, "projectId is required")
		return
	}
	if strings.TrimSpace(body.Prompt) == "" {
		writeValidation(w, "prompt is required")
		return
	}
	if s.oneShot == nil {
		writeError(w, errors.New("no agent handler configured"), "Agent request failed")
		return
	}
	result, err := s.oneShot(r.Context(), AgentRequest{
		Project: body.Project,
		Prompt:  body.Prompt,
		Options: body.Options,
	})
	if err != nil {
		writeError(w, err, "Agent request failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type startSessionBody struct {
	Project     string          `json:"projectId"`
	Prompt      string          `json:"prompt"`
	Options     json.RawMessage `json:"options"`
	UISessionID any             `json:"uiSessionId"`
}

func (s *Service) handleAutopilotStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body startSessionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeValidation(w, "invalid request body")
		return
	}
	sess, err := s.orch.CreateSession(r.Context(), orchestrator.CreateRequest{
		Project:     body.Project,
		Prompt:      body.Prompt,
		Options:     body.Options,
		UISessionID: uibus.NormalizeSessionID(body.UISessionID),
	})
	if err != nil {
		writeError(w, err, "Failed to start autopilot session")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "session": sess})
}

// handleSessionAction serves /agent/autopilot/sessions/{id} and its
// /messages and /cancel sub-resources.
func (s *Service) handleSessionAction(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/agent/autopilot/sessions/"), "/")
	id, action, _ := strings.Cut(path, "/")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch action {
	case "":
		s.handleGetSession(w, r, id)
	case "messages":
		s.handleEnqueueMessage(w, r, id)
	case "cancel":
		s.handleCancelSession(w, r, id)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Service) handleGetSession(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	project := strings.TrimSpace(r.URL.Query().Get("projectId"))
	if project == "" {
		writeValidation(w, "projectId is required")
		return
	}
	sess, err := s.orch.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, err, "Failed to get autopilot session")
		return
	}
	if sess.Project != project {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": notFoundMessage})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "session": sess})
}

type enqueueMessageBody struct {
	Project  string            `json:"projectId"`
	Message  string            `json:"message"`
	Kind     string            `json:"kind"`
	Metadata map[string]string `json:"metadata"`
}

func (s *Service) handleEnqueueMessage(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body enqueueMessageBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeValidation(w, "invalid request body")
		return
	}
	if strings.TrimSpace(body.Project) == "" {
		writeValidation(w, "projectId is required")
		return
	}
	sess, err := s.orch.EnqueueMessage(r.Context(), orchestrator.MessageRequest{
		SessionID: id,
		Project:   body.Project,
		Body:      body.Message,
		Kind:      body.Kind,
		Metadata:  body.Metadata,
	})
	if err != nil {
		writeError(w, err, "Failed to enqueue autopilot message")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "session": sess})
}

type cancelSessionBody struct {
	Project string `json:"projectId"`
	Reason  string `json:"reason"`
}

func (s *Service) handleCancelSession(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body cancelSessionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeValidation(w, "invalid request body")
		return
	}
	if strings.TrimSpace(body.Project) == "" {
		writeValidation(w, "projectId is required")
		return
	}
	sess, err := s.orch.CancelSession(r.Context(), orchestrator.CancelRequest{
		SessionID: id,
		Project:   body.Project,
		Reason:    body.Reason,
	})
	if err != nil {
		writeError(w, err, "Failed to cancel autopilot session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "session": sess})
}

type resumeBody struct {
	Project     string `json:"projectId"`
	UISessionID any    `json:"uiSessionId"`
	Limit       int    `json:"limit"`
}

func (s *Service) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body resumeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeValidation(w, "invalid request body")
		return
	}
	if strings.TrimSpace(body.Project) == "" {
		writeValidation(w, "projectId is required")
		return
	}
	ui, ok := body.UISessionID.(string)
	if !ok || strings.TrimSpace(ui) == "" {
		writeValidation(w, "uiSessionId is required")
		return
	}
	resumed, err := s.orch.ResumeSessions(r.Context(), body.Project, strings.TrimSpace(ui), body.Limit)
	if err != nil {
		writeError(w, err, "Failed to resume autopilot sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "resumedSessionIds": resumed})
}
