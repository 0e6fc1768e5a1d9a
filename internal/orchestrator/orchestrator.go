// Package orchestrator owns the lifecycle of autopilot sessions: create,
// enqueue follow-up messages, cooperative cancel, and resumption after a
// restart. Exactly one execution loop runs per session id at any time,
// enforced by an atomic ownership claim in the store rather than by
// convention.
package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mistakeknot/autopilot/internal/core"
	"github.com/mistakeknot/autopilot/internal/storage"
	"github.com/mistakeknot/autopilot/internal/uibus"
)

// StepRequest is the input to one agent step. Message is nil for the
// initial step, which works from the session prompt.
type StepRequest struct {
	Session core.Session
	Message *core.Message
	UI      uibus.Helpers
}

// StepResult tells the loop what to do next. Done finishes the session;
// otherwise the loop parks until a follow-up message arrives or the session
// is cancelled.
type StepResult struct {
	Done bool
}

// Runner executes one agent step. Planning, prompting, and tool use live
// behind this interface; the orchestrator only calls and awaits it.
type Runner interface {
	Step(ctx context.Context, req StepRequest) (StepResult, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, req StepRequest) (StepResult, error)

func (f RunnerFunc) Step(ctx context.Context, req StepRequest) (StepResult, error) {
	return f(ctx, req)
}

// Publisher mirrors uibus.Publisher for session lifecycle events.
type Publisher = uibus.Publisher

type Orchestrator struct {
	store  storage.Store
	bus    *uibus.Bus
	runner Runner
	pub    Publisher
	owner  string // identifies this instance's loop claims

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	active map[string]*loopHandle
	wg     sync.WaitGroup
}

type loopHandle struct {
	wake chan struct{}
}

func New(store storage.Store, bus *uibus.Bus, runner Runner) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:  store,
		bus:    bus,
		runner: runner,
		owner:  uuid.NewString(),
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string]*loopHandle),
	}
}

// WithPublisher attaches a live-push publisher for session lifecycle
// events. Optional.
func (o *Orchestrator) WithPublisher(p Publisher) *Orchestrator {
	o.pub = p
	return o
}

// Owner returns this instance's claim id.
func (o *Orchestrator) Owner() string { return o.owner }

// CreateRequest carries the creation-time inputs of a session.
type CreateRequest struct {
	Project     string
	Prompt      string
	Options     json.RawMessage
	UISessionID string
}

// CreateSession validates, persists a pending session, and starts its
// execution loop. It returns as soon as the session is stored; it does not
// wait for the loop to make progress.
func (o *Orchestrator) CreateSession(ctx context.Context, req CreateRequest) (core.Session, error) {
	if strings.TrimSpace(req.Project) == "" {
		return core.Session{}, core.Validationf("projectId is required")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return core.Session{}, core.Validationf("prompt is required")
	}

	sess, err := o.store.CreateSession(ctx, core.Session{
		Project:     req.Project,
		Prompt:      req.Prompt,
		Options:     req.Options,
		UISessionID: uibus.NormalizeSessionID(req.UISessionID),
		Status:      core.StatusPending,
	})
	if err != nil {
		return core.Session{}, err
	}

	if _, err := o.attachLoop(ctx, sess.ID); err != nil {
		return core.Session{}, err
	}
	o.publishLifecycle(sess, core.EventSessionCreated)
	return sess, nil
}

// GetSession returns the stored session. Ownership is not checked here;
// callers compare projectId themselves and must treat a mismatch exactly
// like a missing session.
func (o *Orchestrator) GetSession(ctx context.Context, id string) (core.Session, error) {
	return o.store.GetSession(ctx, id)
}

// MessageRequest carries one user-submitted follow-up instruction.
type MessageRequest struct {
	SessionID string
	Project   string
	Body      string
	Kind      string
	Metadata  map[string]string
}

// EnqueueMessage appends to the session's inbound queue and wakes the loop.
// It never blocks on the loop consuming the message. A missing session, or
// one owned by a different project, is NotFound; a terminal session
// rejects input with a validation error since nothing will ever drain it.
func (o *Orchestrator) EnqueueMessage(ctx context.Context, req MessageRequest) (core.Session, error) {
	if strings.TrimSpace(req.Body) == "" {
		return core.Session{}, core.Validationf("message is required")
	}
	sess, err := o.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return core.Session{}, err
	}
	if sess.Project != req.Project {
		return core.Session{}, core.NotFoundf("session %q not found", req.SessionID)
	}
	if sess.Status.Terminal() {
		return core.Session{}, core.Validationf("session is not active")
	}

	if _, err := o.store.AppendMessage(ctx, core.Message{
		SessionID: req.SessionID,
		Body:      req.Body,
		Kind:      req.Kind,
		Metadata:  req.Metadata,
	}); err != nil {
		return core.Session{}, err
	}
	o.wakeLoop(req.SessionID)

	return o.store.GetSession(ctx, req.SessionID)
}

// CancelRequest asks a session to stop.
type CancelRequest struct {
	SessionID string
	Project   string
	Reason    string
}

// CancelSession moves the session toward cancelling. Cancellation is
// cooperative: the loop observes it at its next checkpoint and finalizes
// to cancelled. Cancelling an already-terminal session is a no-op.
func (o *Orchestrator) CancelSession(ctx context.Context, req CancelRequest) (core.Session, error) {
	sess, err := o.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return core.Session{}, err
	}
	if sess.Project != req.Project {
		return core.Session{}, core.NotFoundf("session %q not found", req.SessionID)
	}
	if sess.Status.Terminal() || sess.Status == core.StatusCancelling {
		return sess, nil
	}

	sess, _, err = o.store.TransitionSession(ctx, req.SessionID,
		[]core.SessionStatus{core.StatusPending, core.StatusRunning},
		core.StatusCancelling, req.Reason)
	if err != nil {
		return core.Session{}, err
	}
	o.wakeLoop(req.SessionID)
	o.publishLifecycle(sess, core.EventSessionUpdated)
	return sess, nil
}

// attachLoop claims loop ownership and starts the execution loop. Returns
// false when another loop already owns the session.
func (o *Orchestrator) attachLoop(ctx context.Context, sessionID string) (bool, error) {
	o.mu.Lock()
	if _, running := o.active[sessionID]; running {
		o.mu.Unlock()
		return false, nil
	}
	o.mu.Unlock()

	claimed, err := o.store.ClaimLoop(ctx, sessionID, o.owner)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	handle := &loopHandle{wake: make(chan struct{}, 1)}
	o.mu.Lock()
	if _, running := o.active[sessionID]; running {
		// Lost the in-process race; the winner holds the claim.
		o.mu.Unlock()
		return false, nil
	}
	o.active[sessionID] = handle
	o.wg.Add(1)
	o.mu.Unlock()

	go o.runLoop(sessionID, handle)
	return true, nil
}

func (o *Orchestrator) detachLoop(sessionID string) {
	o.mu.Lock()
	delete(o.active, sessionID)
	o.mu.Unlock()
	_ = o.store.ReleaseLoop(context.Background(), sessionID, o.owner)
	o.wg.Done()
}

// hasLoop reports whether this instance currently runs the session's loop.
func (o *Orchestrator) hasLoop(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[sessionID]
	return ok
}

func (o *Orchestrator) wakeLoop(sessionID string) {
	o.mu.Lock()
	handle := o.active[sessionID]
	o.mu.Unlock()
	if handle == nil {
		return
	}
	select {
	case handle.wake <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) publishLifecycle(sess core.Session, event core.EventType) {
	if o.pub == nil {
		return
	}
	o.pub.Publish(uibus.Room(sess.Project, sess.UISessionID), string(event), map[string]any{
		"sessionId": sess.ID,
		"projectId": sess.Project,
		"status":    string(sess.Status),
	})
}

// Shutdown stops accepting loop work and waits for running loops to reach
// their next checkpoint and exit, releasing their claims.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancel()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
