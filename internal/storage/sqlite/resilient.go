package sqlite

import (
	"context"
	"time"

	"github.com/mistakeknot/autopilot/internal/core"
	"github.com/mistakeknot/autopilot/internal/storage"
)

// Compile-time interface check.
var _ storage.Store = (*ResilientStore)(nil)

// ResilientStore wraps every Store method with CircuitBreaker + RetryBusy to
// ride out transient SQLite failures (database-is-locked, brief I/O errors).
type ResilientStore struct {
	inner *Store
	cb    *CircuitBreaker
}

// NewResilient wraps inner with default breaker settings
// (threshold=5, cooldown=30s).
func NewResilient(inner *Store) *ResilientStore {
	return &ResilientStore{inner: inner, cb: NewCircuitBreaker(5, 30*time.Second)}
}

// NewResilientWithBreaker wraps inner with a custom circuit breaker.
func NewResilientWithBreaker(inner *Store, cb *CircuitBreaker) *ResilientStore {
	return &ResilientStore{inner: inner, cb: cb}
}

// BreakerState returns the current breaker state for health reporting.
func (r *ResilientStore) BreakerState() string {
	return r.cb.State()
}

// Unwrap exposes the inner store for maintenance operations (sweeper).
func (r *ResilientStore) Unwrap() *Store { return r.inner }

// run executes fn with retry and breaker accounting. NotFound/Validation
// outcomes are domain results, not storage trouble, so they never trip the
// breaker.
func (r *ResilientStore) run(ctx context.Context, fn func() error) error {
	var opErr error
	cbErr := r.cb.Execute(func() error {
		opErr = RetryBusy(ctx, fn)
		if opErr != nil && core.KindOf(opErr) != core.KindInternal {
			return nil
		}
		return opErr
	})
	if opErr != nil {
		return opErr
	}
	return cbErr
}

func (r *ResilientStore) CreateSession(ctx context.Context, sess core.Session) (core.Session, error) {
	var result core.Session
	err := r.run(ctx, func() error {
		var innerErr error
		result, innerErr = r.inner.CreateSession(ctx, sess)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) GetSession(ctx context.Context, id string) (core.Session, error) {
	var result core.Session
	err := r.run(ctx, func() error {
		var innerErr error
		result, innerErr = r.inner.GetSession(ctx, id)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) ListSessions(ctx context.Context, project string, statuses []core.SessionStatus) ([]core.Session, error) {
	var result []core.Session
	err := r.run(ctx, func() error {
		var innerErr error
		result, innerErr = r.inner.ListSessions(ctx, project, statuses)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) TransitionSession(ctx context.Context, id string, from []core.SessionStatus, to core.SessionStatus, reason string) (core.Session, bool, error) {
	var (
		result  core.Session
		changed bool
	)
	err := r.run(ctx, func() error {
		var innerErr error
		result, changed, innerErr = r.inner.TransitionSession(ctx, id, from, to, reason)
		return innerErr
	})
	return result, changed, err
}

func (r *ResilientStore) ClaimLoop(ctx context.Context, id, owner string) (bool, error) {
	var result bool
	err := r.run(ctx, func() error {
		var innerErr error
		result, innerErr = r.inner.ClaimLoop(ctx, id, owner)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) ReleaseLoop(ctx context.Context, id, owner string) error {
	return r.run(ctx, func() error {
		return r.inner.ReleaseLoop(ctx, id, owner)
	})
}

func (r *ResilientStore) SetUISession(ctx context.Context, id, uiSessionID string) error {
	return r.run(ctx, func() error {
		return r.inner.SetUISession(ctx, id, uiSessionID)
	})
}

func (r *ResilientStore) AppendMessage(ctx context.Context, msg core.Message) (core.Message, error) {
	var result core.Message
	err := r.run(ctx, func() error {
		var innerErr error
		result, innerErr = r.inner.AppendMessage(ctx, msg)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) MessagesAfter(ctx context.Context, sessionID string, afterSeq uint64) ([]core.Message, error) {
	var result []core.Message
	err := r.run(ctx, func() error {
		var innerErr error
		result, innerErr = r.inner.MessagesAfter(ctx, sessionID, afterSeq)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) MarkConsumed(ctx context.Context, sessionID string, seq uint64) error {
	return r.run(ctx, func() error {
		return r.inner.MarkConsumed(ctx, sessionID, seq)
	})
}

func (r *ResilientStore) EnqueueCommand(ctx context.Context, cmd core.UiCommand) (core.UiCommand, error) {
	var result core.UiCommand
	err := r.run(ctx, func() error {
		var innerErr error
		result, innerErr = r.inner.EnqueueCommand(ctx, cmd)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) ListCommands(ctx context.Context, project, sessionID string) ([]core.UiCommand, error) {
	var result []core.UiCommand
	err := r.run(ctx, func() error {
		var innerErr error
		result, innerErr = r.inner.ListCommands(ctx, project, sessionID)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) AckCommands(ctx context.Context, project, sessionID string, ids []int64) error {
	return r.run(ctx, func() error {
		return r.inner.AckCommands(ctx, project, sessionID, ids)
	})
}

func (r *ResilientStore) GetSnapshot(ctx context.Context, project, sessionID string) (core.UiSnapshot, error) {
	var result core.UiSnapshot
	err := r.run(ctx, func() error {
		var innerErr error
		result, innerErr = r.inner.GetSnapshot(ctx, project, sessionID)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) UpsertSnapshot(ctx context.Context, snap core.UiSnapshot) error {
	return r.run(ctx, func() error {
		return r.inner.UpsertSnapshot(ctx, snap)
	})
}

func (r *ResilientStore) Close() error {
	return r.inner.Close()
}
