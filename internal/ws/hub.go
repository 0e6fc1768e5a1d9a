// Package ws fans live events out to UI subscribers. Each websocket joins
// one (project, session) room; the orchestrator and command bus publish
// into rooms and never learn about individual connections.
package ws

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/mistakeknot/autopilot/internal/auth"
	"github.com/mistakeknot/autopilot/internal/uibus"
)

const writeTimeout = 5 * time.Second

// Event is the envelope every subscriber receives.
type Event struct {
	Type    string `json:"type"`
	Room    string `json:"room"`
	Payload any    `json:"payload,omitempty"`
}

type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]map[*websocket.Conn]struct{}
}

var _ uibus.Publisher = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[string]map[*websocket.Conn]struct{})}
}

// Handler subscribes the caller to /ws/sessions/{project}/{session}. The
// connection is read-drained but inbound frames are ignored; this is a
// one-way push channel.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/ws/sessions/"), "/")
		parts := strings.SplitN(path, "/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		project, session := parts[0], uibus.NormalizeSessionID(parts[1])

		info, _ := auth.FromContext(r.Context())
		if info.Mode == auth.ModeAPIKey && info.Project != project {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}

		h.add(project, session, conn)
		defer h.remove(project, session, conn)

		ctx := r.Context()
		for {
			var v any
			if err := wsjson.Read(ctx, conn, &v); err != nil {
				return
			}
		}
	}
}

// Publish implements uibus.Publisher. The room string is the bus routing
// key, project "/" session. Writes are best-effort; a failed write evicts
// the connection.
func (h *Hub) Publish(room, event string, payload any) {
	parts := strings.SplitN(room, "/", 2)
	if len(parts) != 2 {
		return
	}
	h.broadcast(parts[0], parts[1], Event{Type: event, Room: room, Payload: payload})
}

type connEntry struct {
	conn    *websocket.Conn
	project string
	session string
}

func (h *Hub) broadcast(project, session string, event Event) {
	entries := h.snapshot(project, session)
	for _, e := range entries {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := wsjson.Write(ctx, e.conn, event)
		cancel()
		if err != nil {
			go func(e connEntry) {
				e.conn.Close(websocket.StatusGoingAway, "write error")
				h.remove(e.project, e.session, e.conn)
			}(e)
		}
	}
}

func (h *Hub) snapshot(project, session string) []connEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []connEntry
	perSession, ok := h.rooms[project]
	if !ok {
		return nil
	}
	for conn := range perSession[session] {
		out = append(out, connEntry{conn: conn, project: project, session: session})
	}
	return out
}

func (h *Hub) add(project, session string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	perSession, ok := h.rooms[project]
	if !ok {
		perSession = make(map[string]map[*websocket.Conn]struct{})
		h.rooms[project] = perSession
	}
	conns, ok := perSession[session]
	if !ok {
		conns = make(map[*websocket.Conn]struct{})
		perSession[session] = conns
	}
	conns[conn] = struct{}{}
}

func (h *Hub) remove(project, session string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	perSession, ok := h.rooms[project]
	if !ok {
		return
	}
	conns, ok := perSession[session]
	if !ok {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(perSession, session)
	}
	if len(perSession) == 0 {
		delete(h.rooms, project)
	}
}
