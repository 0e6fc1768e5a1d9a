package httpapi

import (
	"net/http"
	"testing"

	"github.com/mistakeknot/autopilot/internal/core"
)

type commandsBody struct {
	Commands []core.UiCommand `json:"commands"`
}

func TestEnqueueCommandTrimsTypeAndStoresNulls(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/agent/ui/commands", map[string]any{
		"projectId": "p1",
		"sessionId": "s1",
		"command":   map[string]any{"type": "  NAVIGATE_TAB  "},
	})
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = env.get(t, "/agent/ui/commands?projectId=p1&sessionId=s1")
	requireStatus(t, resp, http.StatusOK)
	raw := decodeJSON[struct {
		Commands []map[string]any `json:"commands"`
	}](t, resp)
	if len(raw.Commands) != 1 {
		t.Fatalf("commands = %+v", raw.Commands)
	}
	cmd := raw.Commands[0]
	if cmd["type"] != "NAVIGATE_TAB" {
		t.Fatalf("type = %v, want trimmed NAVIGATE_TAB", cmd["type"])
	}
	// Absent payload and meta serialize as explicit nulls.
	for _, field := range []string{"payload", "meta"} {
		v, present := cmd[field]
		if !present || v != nil {
			t.Fatalf("%s = %v (present=%v), want null", field, v, present)
		}
	}
	if cmd["acknowledged"] != false {
		t.Fatal("new command must not be acknowledged")
	}
}

func TestEnqueueCommandValidationOrder(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		body map[string]any
		want string
	}{
		{map[string]any{}, "projectId is required"},
		{map[string]any{"projectId": "p1"}, "sessionId is required"},
		{map[string]any{"projectId": "p1", "sessionId": "s1"}, "command is required"},
		{map[string]any{"projectId": "p1", "sessionId": "s1", "command": map[string]any{}}, "command.type is required"},
		{map[string]any{"projectId": "p1", "sessionId": "s1", "command": map[string]any{"type": "   "}}, "command.type is required"},
	}
	for _, tc := range cases {
		resp := env.post(t, "/agent/ui/commands", tc.body)
		requireStatus(t, resp, http.StatusBadRequest)
		if eb := decodeJSON[errorBody](t, resp); eb.Error != tc.want {
			t.Fatalf("body %v: error = %q, want %q", tc.body, eb.Error, tc.want)
		}
	}
}

func TestCommandIDsMonotonic(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 5; i++ {
		resp := env.post(t, "/agent/ui/commands", map[string]any{
			"projectId": "p1",
			"sessionId": "s1",
			"command":   map[string]any{"type": "OPEN_FILE", "payload": map[string]string{"path": "main.go"}},
		})
		requireStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}

	resp := env.get(t, "/agent/ui/commands?projectId=p1&sessionId=s1")
	body := decodeJSON[commandsBody](t, resp)
	if len(body.Commands) != 5 {
		t.Fatalf("got %d commands", len(body.Commands))
	}
	for i, cmd := range body.Commands {
		if cmd.ID != int64(i)+1 {
			t.Fatalf("command %d has id %d, want %d", i, cmd.ID, i+1)
		}
	}
}

func TestAckIsIdempotent(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 2; i++ {
		resp := env.post(t, "/agent/ui/commands", map[string]any{
			"projectId": "p1",
			"sessionId": "s1",
			"command":   map[string]any{"type": "SHOW_TOAST"},
		})
		requireStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}

	ack := map[string]any{"projectId": "p1", "sessionId": "s1", "commandIds": []int64{1, 99}}
	for i := 0; i < 2; i++ {
		resp := env.post(t, "/agent/ui/commands/ack", ack)
		requireStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}

	resp := env.get(t, "/agent/ui/commands?projectId=p1&sessionId=s1")
	body := decodeJSON[commandsBody](t, resp)
	if !body.Commands[0].Acknowledged {
		t.Fatal("command 1 should be acknowledged")
	}
	if body.Commands[1].Acknowledged {
		t.Fatal("command 2 should be untouched")
	}
}

func TestAckRequiresArray(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/agent/ui/commands/ack", map[string]any{
		"projectId": "p1", "sessionId": "s1", "commandIds": "not-an-array",
	})
	requireStatus(t, resp, http.StatusBadRequest)
	if eb := decodeJSON[errorBody](t, resp); eb.Error != "commandIds must be an array" {
		t.Fatalf("error = %q", eb.Error)
	}

	resp = env.post(t, "/agent/ui/commands/ack", map[string]any{
		"projectId": "p1", "sessionId": "s1",
	})
	requireStatus(t, resp, http.StatusBadRequest)

	resp = env.post(t, "/agent/ui/commands/ack", map[string]any{
		"projectId": "p1", "sessionId": "s1", "commandIds": nil,
	})
	requireStatus(t, resp, http.StatusBadRequest)
}

func TestSnapshotRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	// No snapshot yet: empty object, not 404.
	resp := env.get(t, "/agent/ui/snapshot?projectId=p1&sessionId=s1")
	requireStatus(t, resp, http.StatusOK)
	if body := decodeJSON[map[string]any](t, resp); len(body) != 0 {
		t.Fatalf("expected {}, got %v", body)
	}

	resp = env.post(t, "/agent/ui/snapshot", map[string]any{
		"projectId": "p1",
		"sessionId": "s1",
		"snapshot":  map[string]any{"tab": "editor"},
	})
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = env.get(t, "/agent/ui/snapshot?projectId=p1&sessionId=s1")
	requireStatus(t, resp, http.StatusOK)
	snap := decodeJSON[core.UiSnapshot](t, resp)
	if string(snap.State) != `{"tab":"editor"}` {
		t.Fatalf("state = %s", snap.State)
	}

	// Last write wins.
	resp = env.post(t, "/agent/ui/snapshot", map[string]any{
		"projectId": "p1",
		"sessionId": "s1",
		"snapshot":  map[string]any{"tab": "preview"},
	})
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = env.get(t, "/agent/ui/snapshot?projectId=p1&sessionId=s1")
	snap = decodeJSON[core.UiSnapshot](t, resp)
	if string(snap.State) != `{"tab":"preview"}` {
		t.Fatalf("state after replace = %s", snap.State)
	}
}

func TestSnapshotValidation(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/agent/ui/snapshot?sessionId=s1")
	requireStatus(t, resp, http.StatusBadRequest)

	resp = env.post(t, "/agent/ui/snapshot", map[string]any{"projectId": "p1"})
	requireStatus(t, resp, http.StatusBadRequest)
	if eb := decodeJSON[errorBody](t, resp); eb.Error != "sessionId is required" {
		t.Fatalf("error = %q", eb.Error)
	}
}
