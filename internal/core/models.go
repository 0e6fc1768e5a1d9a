package core

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventSessionCreated   EventType = "session.created"
	EventSessionUpdated   EventType = "session.updated"
	EventSessionResumed   EventType = "session.resumed"
	EventMessageEnqueued  EventType = "session.message"
	EventUiCommand        EventType = "ui.command"
	EventSnapshotReplaced EventType = "ui.snapshot"
)

// SessionStatus is the lifecycle state of an autopilot session.
// pending -> running -> {completed | failed | cancelling -> cancelled}.
type SessionStatus string

const (
	StatusPending    SessionStatus = "pending"
	StatusRunning    SessionStatus = "running"
	StatusCancelling SessionStatus = "cancelling"
	StatusCancelled  SessionStatus = "cancelled"
	StatusCompleted  SessionStatus = "completed"
	StatusFailed     SessionStatus = "failed"
)

// Terminal reports whether no further transitions may leave this status.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusCancelled, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Session is one autopilot session: a long-lived, resumable unit of
// autonomous agent work scoped to a project.
type Session struct {
	ID                 string          `json:"id"`
	Project            string          `json:"projectId"`
	Prompt             string          `json:"prompt"`
	Options            json.RawMessage `json:"options,omitempty"`
	UISessionID        string          `json:"uiSessionId,omitempty"`
	Status             SessionStatus   `json:"status"`
	CancellationReason string          `json:"cancellationReason,omitempty"`
	Messages           []Message       `json:"messages"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`

	// Loop ownership. LoopOwner identifies the orchestrator instance
	// currently running the session's execution loop; empty when no loop
	// is attached. Managed only through Store.ClaimLoop/ReleaseLoop.
	LoopOwner string `json:"-"`

	// ConsumedSeq is the highest message Seq the execution loop has
	// processed, persisted so a resumed loop does not replay input.
	ConsumedSeq uint64 `json:"-"`
}

// Message is one user-submitted instruction queued for a session. Seq is
// assigned by the store and strictly increases per session.
type Message struct {
	ID        string            `json:"id"`
	SessionID string            `json:"sessionId"`
	Seq       uint64            `json:"seq"`
	Body      string            `json:"message"`
	Kind      string            `json:"kind,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// UiCommand is one outbound UI instruction. ID is gapless and strictly
// increasing per (project, session) key; delivery is at-least-once and
// retired by idempotent ack.
type UiCommand struct {
	ID           int64           `json:"id"`
	Project      string          `json:"projectId"`
	SessionID    string          `json:"sessionId"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	Meta         json.RawMessage `json:"meta"`
	Acknowledged bool            `json:"acknowledged"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// UiSnapshot is the last-known UI state for a (project, session) key,
// replaced wholesale on every upsert.
type UiSnapshot struct {
	Project   string          `json:"projectId"`
	SessionID string          `json:"sessionId"`
	State     json.RawMessage `json:"state"`
	UpdatedAt time.Time       `json:"updatedAt"`
}
