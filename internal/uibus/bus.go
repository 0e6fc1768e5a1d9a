// Package uibus is the ordered, ack-based outbound queue that delivers
// UI-affecting commands to clients. Commands are durably queued per
// (project, session) key with gapless monotonic ids; delivery is
// at-least-once, retired by idempotent ack, with an optional live push to
// websocket subscribers.
package uibus

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mistakeknot/autopilot/internal/core"
	"github.com/mistakeknot/autopilot/internal/storage"
)

// DefaultSessionID is what loosely-typed session id input collapses to.
const DefaultSessionID = "default"

// NormalizeSessionID maps any value to a usable session id: a non-string,
// or a string that trims to empty, becomes DefaultSessionID; anything else
// is trimmed and returned. Total by construction.
func NormalizeSessionID(v any) string {
	s, ok := v.(string)
	if !ok {
		return DefaultSessionID
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultSessionID
	}
	return s
}

// Publisher pushes an event to the live subscribers of a room. The bus
// treats it as best-effort: a nil Publisher skips the push, and publish
// failures are handled inside the implementation, never surfaced here.
type Publisher interface {
	Publish(room, event string, payload any)
}

// Room is the live-push routing key for a (project, session) pair.
func Room(project, sessionID string) string {
	return project + "/" + sessionID
}

// CommandInput is the caller-supplied shape of one UI command.
type CommandInput struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Meta    json.RawMessage `json:"meta,omitempty"`
}

type Bus struct {
	store storage.Store
	pub   Publisher
}

func New(store storage.Store) *Bus {
	return &Bus{store: store}
}

// WithPublisher attaches a live-push publisher. Optional; without one the
// bus is poll-only.
func (b *Bus) WithPublisher(p Publisher) *Bus {
	b.pub = p
	return b
}

// Send validates, persists, and best-effort broadcasts one command.
// Preconditions are checked in fixed order — projectId, then command
// presence, then command.type — and each violation is a Validation-kind
// error naming the field. The type is trimmed before storage. A missing
// publisher or failed broadcast never fails the call: the command is
// already durably queued for polling.
func (b *Bus) Send(ctx context.Context, project string, sessionID any, in *CommandInput) (core.UiCommand, error) {
	if strings.TrimSpace(project) == "" {
		return core.UiCommand{}, core.Validationf("projectId is required")
	}
	if in == nil {
		return core.UiCommand{}, core.Validationf("command is required")
	}
	cmdType := strings.TrimSpace(in.Type)
	if cmdType == "" {
		return core.UiCommand{}, core.Validationf("command.type is required")
	}
	session := NormalizeSessionID(sessionID)

	cmd, err := b.store.EnqueueCommand(ctx, core.UiCommand{
		Project:   project,
		SessionID: session,
		Type:      cmdType,
		Payload:   in.Payload,
		Meta:      in.Meta,
	})
	if err != nil {
		return core.UiCommand{}, err
	}

	if b.pub != nil {
		b.pub.Publish(Room(project, session), string(core.EventUiCommand), cmd)
	}
	return cmd, nil
}

// List returns all commands for the key in ascending id order, acknowledged
// or not; callers filter as needed.
func (b *Bus) List(ctx context.Context, project string, sessionID any) ([]core.UiCommand, error) {
	cmds, err := b.store.ListCommands(ctx, project, NormalizeSessionID(sessionID))
	if err != nil {
		return nil, err
	}
	if cmds == nil {
		cmds = []core.UiCommand{}
	}
	return cmds, nil
}

// Ack marks the given ids acknowledged. Unknown and already-acknowledged
// ids are ignored, so clients can ack the same batch after a replay.
func (b *Bus) Ack(ctx context.Context, project string, sessionID any, ids []int64) error {
	return b.store.AckCommands(ctx, project, NormalizeSessionID(sessionID), ids)
}

// Snapshot returns the last-known UI state for the key, or found=false when
// none has been stored.
func (b *Bus) Snapshot(ctx context.Context, project string, sessionID any) (core.UiSnapshot, bool, error) {
	snap, err := b.store.GetSnapshot(ctx, project, NormalizeSessionID(sessionID))
	if err != nil {
		if core.KindOf(err) == core.KindNotFound {
			return core.UiSnapshot{}, false, nil
		}
		return core.UiSnapshot{}, false, err
	}
	return snap, true, nil
}

// UpsertSnapshot replaces the stored UI state wholesale (last write wins)
// and best-effort notifies live subscribers.
func (b *Bus) UpsertSnapshot(ctx context.Context, project string, sessionID any, state json.RawMessage) error {
	session := NormalizeSessionID(sessionID)
	err := b.store.UpsertSnapshot(ctx, core.UiSnapshot{
		Project:   project,
		SessionID: session,
		State:     state,
	})
	if err != nil {
		return err
	}
	if b.pub != nil {
		b.pub.Publish(Room(project, session), string(core.EventSnapshotReplaced), map[string]any{
			"projectId": project,
			"sessionId": session,
		})
	}
	return nil
}
