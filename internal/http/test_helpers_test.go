package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mistakeknot/autopilot/internal/core"
	"github.com/mistakeknot/autopilot/internal/orchestrator"
	"github.com/mistakeknot/autopilot/internal/storage/sqlite"
	"github.com/mistakeknot/autopilot/internal/uibus"
	"github.com/mistakeknot/autopilot/internal/ws"
)

// testEnv bundles orchestrator + bus + httptest.Server for handler tests.
// Localhost auth bypass applies, so no API key is needed.
type testEnv struct {
	srv   *httptest.Server
	hub   *ws.Hub
	store *sqlite.Store
	orch  *orchestrator.Orchestrator
	bus   *uibus.Bus
}

// stepUntilStop runs sessions that complete when a message bodied "stop"
// arrives, which lets tests drive sessions to terminal states on demand.
func stepUntilStop(ctx context.Context, req orchestrator.StepRequest) (orchestrator.StepResult, error) {
	done := req.Message != nil && req.Message.Body == "stop"
	return orchestrator.StepResult{Done: done}, nil
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := sqlite.NewInMemory()
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	hub := ws.NewHub()
	bus := uibus.New(st).WithPublisher(hub)
	orch := orchestrator.New(st, bus, orchestrator.RunnerFunc(stepUntilStop)).WithPublisher(hub)
	svc := NewService(orch, bus)
	srv := httptest.NewServer(NewRouter(svc, hub.Handler(), nil))
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})
	return &testEnv{srv: srv, hub: hub, store: st, orch: orch, bus: bus}
}

func (e *testEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(e.srv.URL+path, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

// waitStatus polls the store until the session reaches want.
func (e *testEnv) waitStatus(t *testing.T, id string, want core.SessionStatus) core.Session {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		sess, err := e.store.GetSession(context.Background(), id)
		if err != nil {
			t.Fatalf("get session: %v", err)
		}
		if sess.Status == want {
			return sess
		}
		if time.Now().After(deadline) {
			t.Fatalf("session %s stuck in %q, want %q", id, sess.Status, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func requireStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("expected status %d, got %d", want, resp.StatusCode)
	}
}
