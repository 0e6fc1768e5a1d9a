package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mistakeknot/autopilot/internal/core"
)

// Store is the durable state behind the orchestrator and the UI command bus:
// session records with atomic status transitions and loop-ownership claims,
// the per-session inbound message queue, and the per-(project, session)
// outbound command queue plus snapshot slot.
type Store interface {
	// Session operations
	CreateSession(ctx context.Context, s core.Session) (core.Session, error)
	// GetSession looks up by id alone; project ownership is checked by the
	// caller so a mismatch is indistinguishable from a missing id.
	GetSession(ctx context.Context, id string) (core.Session, error)
	// ListSessions returns the project's sessions in the given statuses,
	// oldest-first by creation time.
	ListSessions(ctx context.Context, project string, statuses []core.SessionStatus) ([]core.Session, error)
	// TransitionSession compare-and-sets status from one of `from` to `to`.
	// The returned bool is false when the current status was not in `from`;
	// the returned session is the record after the call either way.
	TransitionSession(ctx context.Context, id string, from []core.SessionStatus, to core.SessionStatus, reason string) (core.Session, bool, error)
	// ClaimLoop atomically takes loop ownership for owner. It succeeds when
	// the session is non-terminal and either unowned or owned by a different
	// (presumed dead) instance. A claim already held by owner fails.
	ClaimLoop(ctx context.Context, id, owner string) (bool, error)
	// ReleaseLoop clears ownership if held by owner.
	ReleaseLoop(ctx context.Context, id, owner string) error
	// SetUISession rebinds the session's live-push target.
	SetUISession(ctx context.Context, id, uiSessionID string) error

	// Message queue operations
	AppendMessage(ctx context.Context, m core.Message) (core.Message, error)
	MessagesAfter(ctx context.Context, sessionID string, afterSeq uint64) ([]core.Message, error)
	// MarkConsumed advances the session's consumed-message cursor. The
	// cursor only moves forward.
	MarkConsumed(ctx context.Context, sessionID string, seq uint64) error

	// UI command bus operations
	EnqueueCommand(ctx context.Context, c core.UiCommand) (core.UiCommand, error)
	ListCommands(ctx context.Context, project, sessionID string) ([]core.UiCommand, error)
	AckCommands(ctx context.Context, project, sessionID string, ids []int64) error

	// Snapshot slot
	GetSnapshot(ctx context.Context, project, sessionID string) (core.UiSnapshot, error)
	UpsertSnapshot(ctx context.Context, snap core.UiSnapshot) error

	Close() error
}

type commandKey struct {
	project string
	session string
}

// InMemory is a mutex-guarded in-memory store for tests.
type InMemory struct {
	mu        sync.Mutex
	sessions  map[string]core.Session
	messages  map[string][]core.Message
	commands  map[commandKey][]core.UiCommand
	snapshots map[commandKey]core.UiSnapshot
}

func NewInMemory() *InMemory {
	return &InMemory{
		sessions:  make(map[string]core.Session),
		messages:  make(map[string][]core.Message),
		commands:  make(map[commandKey][]core.UiCommand),
		snapshots: make(map[commandKey]core.UiSnapshot),
	}
}

func (m *InMemory) CreateSession(ctx context.Context, s core.Session) (core.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if _, ok := m.sessions[s.ID]; ok {
		return core.Session{}, core.Validationf("session %q already exists", s.ID)
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = now
	}
	if s.Status == "" {
		s.Status = core.StatusPending
	}
	m.sessions[s.ID] = s
	return m.withMessages(s), nil
}

func (m *InMemory) GetSession(ctx context.Context, id string) (core.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return core.Session{}, core.NotFoundf("session %q not found", id)
	}
	return m.withMessages(s), nil
}

func (m *InMemory) ListSessions(ctx context.Context, project string, statuses []core.SessionStatus) ([]core.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.Session
	for _, s := range m.sessions {
		if project != "" && s.Project != project {
			continue
		}
		if len(statuses) > 0 && !statusIn(s.Status, statuses) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *InMemory) TransitionSession(ctx context.Context, id string, from []core.SessionStatus, to core.SessionStatus, reason string) (core.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return core.Session{}, false, core.NotFoundf("session %q not found", id)
	}
	if !statusIn(s.Status, from) {
		return m.withMessages(s), false, nil
	}
	s.Status = to
	if reason != "" {
		s.CancellationReason = reason
	}
	s.UpdatedAt = time.Now().UTC()
	m.sessions[id] = s
	return m.withMessages(s), true, nil
}

func (m *InMemory) ClaimLoop(ctx context.Context, id, owner string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false, core.NotFoundf("session %q not found", id)
	}
	if s.Status.Terminal() || s.LoopOwner == owner {
		return false, nil
	}
	s.LoopOwner = owner
	s.UpdatedAt = time.Now().UTC()
	m.sessions[id] = s
	return true, nil
}

func (m *InMemory) ReleaseLoop(ctx context.Context, id, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	if s.LoopOwner == owner {
		s.LoopOwner = ""
		s.UpdatedAt = time.Now().UTC()
		m.sessions[id] = s
	}
	return nil
}

func (m *InMemory) SetUISession(ctx context.Context, id, uiSessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return core.NotFoundf("session %q not found", id)
	}
	s.UISessionID = uiSessionID
	s.UpdatedAt = time.Now().UTC()
	m.sessions[id] = s
	return nil
}

func (m *InMemory) AppendMessage(ctx context.Context, msg core.Message) (core.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[msg.SessionID]; !ok {
		return core.Message{}, core.NotFoundf("session %q not found", msg.SessionID)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	queue := m.messages[msg.SessionID]
	msg.Seq = uint64(len(queue)) + 1
	m.messages[msg.SessionID] = append(queue, msg)
	return msg, nil
}

func (m *InMemory) MessagesAfter(ctx context.Context, sessionID string, afterSeq uint64) ([]core.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.Message
	for _, msg := range m.messages[sessionID] {
		if msg.Seq > afterSeq {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *InMemory) MarkConsumed(ctx context.Context, sessionID string, seq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return core.NotFoundf("session %q not found", sessionID)
	}
	if seq > s.ConsumedSeq {
		s.ConsumedSeq = seq
		m.sessions[sessionID] = s
	}
	return nil
}

func (m *InMemory) EnqueueCommand(ctx context.Context, c core.UiCommand) (core.UiCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := commandKey{project: c.Project, session: c.SessionID}
	queue := m.commands[key]
	c.ID = int64(len(queue)) + 1
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	m.commands[key] = append(queue, c)
	return c, nil
}

func (m *InMemory) ListCommands(ctx context.Context, project, sessionID string) ([]core.UiCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	queue := m.commands[commandKey{project: project, session: sessionID}]
	out := make([]core.UiCommand, len(queue))
	copy(out, queue)
	return out, nil
}

func (m *InMemory) AckCommands(ctx context.Context, project, sessionID string, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := commandKey{project: project, session: sessionID}
	queue := m.commands[key]
	for i := range queue {
		for _, id := range ids {
			if queue[i].ID == id {
				queue[i].Acknowledged = true
			}
		}
	}
	return nil
}

func (m *InMemory) GetSnapshot(ctx context.Context, project, sessionID string) (core.UiSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[commandKey{project: project, session: sessionID}]
	if !ok {
		return core.UiSnapshot{}, core.NotFoundf("no snapshot for %s/%s", project, sessionID)
	}
	return snap, nil
}

func (m *InMemory) UpsertSnapshot(ctx context.Context, snap core.UiSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap.UpdatedAt = time.Now().UTC()
	m.snapshots[commandKey{project: snap.Project, session: snap.SessionID}] = snap
	return nil
}

func (m *InMemory) Close() error { return nil }

func (m *InMemory) withMessages(s core.Session) core.Session {
	msgs := m.messages[s.ID]
	s.Messages = make([]core.Message, len(msgs))
	copy(s.Messages, msgs)
	return s
}

func statusIn(s core.SessionStatus, set []core.SessionStatus) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}
