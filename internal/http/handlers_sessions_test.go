package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mistakeknot/autopilot/internal/core"
)

type sessionEnvelope struct {
	Success bool         `json:"success"`
	Session core.Session `json:"session"`
}

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

func startSession(t *testing.T, env *testEnv, project string) core.Session {
	t.Helper()
	resp := env.post(t, "/agent/autopilot", map[string]any{
		"projectId":   project,
		"prompt":      "Ship it",
		"uiSessionId": "ui-1",
	})
	requireStatus(t, resp, http.StatusAccepted)
	body := decodeJSON[sessionEnvelope](t, resp)
	if !body.Success || body.Session.ID == "" {
		t.Fatalf("unexpected start body: %+v", body)
	}
	return body.Session
}

func TestStartAutopilotSession(t *testing.T) {
	env := newTestEnv(t)

	sess := startSession(t, env, "proj-1")
	if sess.Project != "proj-1" || sess.Prompt != "Ship it" {
		t.Fatalf("session = %+v", sess)
	}
	if sess.UISessionID != "ui-1" {
		t.Fatalf("uiSessionId = %q", sess.UISessionID)
	}
}

func TestStartValidationOrder(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/agent/autopilot", map[string]any{"prompt": "x"})
	requireStatus(t, resp, http.StatusBadRequest)
	if body := decodeJSON[errorBody](t, resp); body.Error != "projectId is required" {
		t.Fatalf("error = %q", body.Error)
	}

	resp = env.post(t, "/agent/autopilot", map[string]any{"projectId": "p1"})
	requireStatus(t, resp, http.StatusBadRequest)
	if body := decodeJSON[errorBody](t, resp); body.Error != "prompt is required" {
		t.Fatalf("error = %q", body.Error)
	}
}

func TestGetSessionOwnershipOpacity(t *testing.T) {
	env := newTestEnv(t)
	sess := startSession(t, env, "proj-2")

	// Wrong project and unknown id must be indistinguishable.
	for _, path := range []string{
		"/agent/autopilot/sessions/" + sess.ID + "?projectId=proj-1",
		"/agent/autopilot/sessions/no-such-id?projectId=proj-1",
	} {
		resp := env.get(t, path)
		requireStatus(t, resp, http.StatusNotFound)
		if body := decodeJSON[errorBody](t, resp); body.Error != "Autopilot session not found" {
			t.Fatalf("error = %q", body.Error)
		}
	}

	resp := env.get(t, "/agent/autopilot/sessions/"+sess.ID+"?projectId=proj-2")
	requireStatus(t, resp, http.StatusOK)
	body := decodeJSON[sessionEnvelope](t, resp)
	if body.Session.ID != sess.ID {
		t.Fatalf("session = %+v", body.Session)
	}

	resp = env.get(t, "/agent/autopilot/sessions/" + sess.ID)
	requireStatus(t, resp, http.StatusBadRequest)
}

func TestEnqueueMessageEndpoint(t *testing.T) {
	env := newTestEnv(t)
	sess := startSession(t, env, "proj-1")

	resp := env.post(t, "/agent/autopilot/sessions/"+sess.ID+"/messages", map[string]any{
		"projectId": "proj-1",
		"message":   "also update the readme",
		"kind":      "instruction",
	})
	requireStatus(t, resp, http.StatusOK)
	body := decodeJSON[sessionEnvelope](t, resp)
	if len(body.Session.Messages) != 1 || body.Session.Messages[0].Body != "also update the readme" {
		t.Fatalf("messages = %+v", body.Session.Messages)
	}

	resp = env.post(t, "/agent/autopilot/sessions/"+sess.ID+"/messages", map[string]any{
		"message": "x",
	})
	requireStatus(t, resp, http.StatusBadRequest)
	if eb := decodeJSON[errorBody](t, resp); eb.Error != "projectId is required" {
		t.Fatalf("error = %q", eb.Error)
	}

	resp = env.post(t, "/agent/autopilot/sessions/no-such-id/messages", map[string]any{
		"projectId": "proj-1",
		"message":   "x",
	})
	requireStatus(t, resp, http.StatusNotFound)
}

func TestCancelEndpoint(t *testing.T) {
	env := newTestEnv(t)
	sess := startSession(t, env, "proj-1")

	resp := env.post(t, "/agent/autopilot/sessions/"+sess.ID+"/cancel", map[string]any{
		"projectId": "proj-1",
		"reason":    "changed my mind",
	})
	requireStatus(t, resp, http.StatusOK)

	final := env.waitStatus(t, sess.ID, core.StatusCancelled)
	if final.CancellationReason != "changed my mind" {
		t.Fatalf("reason = %q", final.CancellationReason)
	}

	resp = env.post(t, "/agent/autopilot/sessions/"+sess.ID+"/cancel", map[string]any{})
	requireStatus(t, resp, http.StatusBadRequest)
}

func TestResumeEndpoint(t *testing.T) {
	env := newTestEnv(t)

	var ids []string
	for i := 0; i < 3; i++ {
		sess := startSession(t, env, "proj-1")
		ids = append(ids, sess.ID)
	}
	// Drop the loops so the sessions look abandoned.
	ctx := t.Context()
	if err := env.orch.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	resp := env.post(t, "/agent/autopilot/resume", map[string]any{
		"projectId":   "proj-1",
		"uiSessionId": "ui-2",
		"limit":       2,
	})
	requireStatus(t, resp, http.StatusOK)
	body := decodeJSON[struct {
		Success           bool     `json:"success"`
		ResumedSessionIDs []string `json:"resumedSessionIds"`
	}](t, resp)
	if len(body.ResumedSessionIDs) != 2 {
		t.Fatalf("resumed = %v, want 2 ids", body.ResumedSessionIDs)
	}

	resp = env.post(t, "/agent/autopilot/resume", map[string]any{"projectId": "proj-1"})
	requireStatus(t, resp, http.StatusBadRequest)
	if eb := decodeJSON[errorBody](t, resp); eb.Error != "uiSessionId is required" {
		t.Fatalf("error = %q", eb.Error)
	}
}

func TestAgentRequestEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/agent/request", map[string]any{"projectId": "p1"})
	requireStatus(t, resp, http.StatusBadRequest)

	// No handler installed: fixed failure message with details.
	resp = env.post(t, "/agent/request", map[string]any{"projectId": "p1", "prompt": "hi"})
	requireStatus(t, resp, http.StatusInternalServerError)
	eb := decodeJSON[errorBody](t, resp)
	if eb.Error != "Agent request failed" || eb.Details == "" {
		t.Fatalf("body = %+v", eb)
	}
}

func TestAgentRequestWithHandler(t *testing.T) {
	env := newTestEnv(t)
	svc := NewService(env.orch, env.bus).WithAgentHandler(func(ctx context.Context, req AgentRequest) (any, error) {
		return map[string]string{"echo": req.Prompt}, nil
	})
	srv := httptest.NewServer(NewRouter(svc, nil, nil))
	defer srv.Close()

	buf, _ := json.Marshal(map[string]any{"projectId": "p1", "prompt": "hello"})
	resp, err := http.Post(srv.URL+"/agent/request", "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	requireStatus(t, resp, http.StatusOK)
	body := decodeJSON[map[string]string](t, resp)
	if body["echo"] != "hello" {
		t.Fatalf("body = %v", body)
	}
}

func TestSessionRunsToCompletionOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	sess := startSession(t, env, "proj-1")

	resp := env.post(t, "/agent/autopilot/sessions/"+sess.ID+"/messages", map[string]any{
		"projectId": "proj-1",
		"message":   "stop",
	})
	requireStatus(t, resp, http.StatusOK)

	env.waitStatus(t, sess.ID, core.StatusCompleted)

	// Terminal sessions reject further input.
	resp = env.post(t, "/agent/autopilot/sessions/"+sess.ID+"/messages", map[string]any{
		"projectId": "proj-1",
		"message":   "too late",
	})
	requireStatus(t, resp, http.StatusBadRequest)
	if eb := decodeJSON[errorBody](t, resp); eb.Error != "session is not active" {
		t.Fatalf("error = %q", eb.Error)
	}
}
