package orchestrator

import (
	"context"
	"log"
	"time"

	"github.com/mistakeknot/autopilot/internal/core"
	"github.com/mistakeknot/autopilot/internal/uibus"
)

// idlePollInterval bounds how long a parked loop waits before re-checking
// the store. Wake signals make the common case immediate; the ticker covers
// messages enqueued by another instance against the same database.
const idlePollInterval = 2 * time.Second

// runLoop drives one session from pending to a terminal status. It holds
// the loop claim for its whole lifetime and releases it on exit.
func (o *Orchestrator) runLoop(sessionID string, handle *loopHandle) {
	defer o.detachLoop(sessionID)

	ctx := o.ctx
	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		log.Printf("loop %s: load session: %v", sessionID, err)
		return
	}

	ui := uibus.NewHelpers(o.bus, sess.Project, sess.UISessionID)

	if sess.Status == core.StatusPending {
		var started bool
		sess, started, err = o.store.TransitionSession(ctx, sessionID,
			[]core.SessionStatus{core.StatusPending}, core.StatusRunning, "")
		if err != nil {
			log.Printf("loop %s: start: %v", sessionID, err)
			return
		}
		// A cancel can land between the load above and the transition. When
		// it does, skip the initial step; the first checkpoint below settles
		// the session.
		if started {
			o.publishLifecycle(sess, core.EventSessionUpdated)

			// Initial step works from the prompt alone.
			if done := o.step(ctx, sessionID, sess, nil, ui); done {
				return
			}
		}
	}

	for {
		if o.checkpoint(ctx, sessionID) {
			return
		}

		sess, err = o.store.GetSession(ctx, sessionID)
		if err != nil {
			log.Printf("loop %s: reload session: %v", sessionID, err)
			return
		}
		if sess.Status.Terminal() {
			return
		}
		// Resumption may have retargeted the UI session; follow the stored
		// binding so commands reach the UI that is connected now.
		ui = uibus.NewHelpers(o.bus, sess.Project, sess.UISessionID)

		msgs, err := o.store.MessagesAfter(ctx, sessionID, sess.ConsumedSeq)
		if err != nil {
			log.Printf("loop %s: read queue: %v", sessionID, err)
			o.fail(ctx, sessionID, err)
			return
		}
		if len(msgs) == 0 {
			if o.park(ctx, handle) {
				return
			}
			continue
		}

		for i := range msgs {
			if o.checkpoint(ctx, sessionID) {
				return
			}
			msg := msgs[i]
			if done := o.step(ctx, sessionID, sess, &msg, ui); done {
				return
			}
			sess.ConsumedSeq = msg.Seq
		}
	}
}

// step runs one runner step and finalizes the session when the runner says
// it is done or errors. Returns true when the loop should exit.
func (o *Orchestrator) step(ctx context.Context, sessionID string, sess core.Session, msg *core.Message, ui uibus.Helpers) bool {
	res, err := o.runner.Step(ctx, StepRequest{Session: sess, Message: msg, UI: ui})
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown, not a session failure; the session stays resumable.
			return true
		}
		o.fail(ctx, sessionID, err)
		return true
	}
	if msg != nil {
		if err := o.store.MarkConsumed(ctx, sessionID, msg.Seq); err != nil {
			log.Printf("loop %s: mark consumed: %v", sessionID, err)
		}
	}
	if res.Done {
		o.finish(ctx, sessionID, ui)
		return true
	}
	return false
}

// checkpoint observes cancellation between steps. Returns true when the
// loop must exit, having finalized the session if it was cancelling.
func (o *Orchestrator) checkpoint(ctx context.Context, sessionID string) bool {
	if ctx.Err() != nil {
		return true
	}
	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		log.Printf("loop %s: checkpoint: %v", sessionID, err)
		return true
	}
	if sess.Status == core.StatusCancelling {
		final, _, err := o.store.TransitionSession(ctx, sessionID,
			[]core.SessionStatus{core.StatusCancelling}, core.StatusCancelled, "")
		if err != nil {
			log.Printf("loop %s: finalize cancel: %v", sessionID, err)
			return true
		}
		o.publishLifecycle(final, core.EventSessionUpdated)
		return true
	}
	return sess.Status.Terminal()
}

// park blocks until a wake signal, the poll interval, or shutdown. Returns
// true on shutdown.
func (o *Orchestrator) park(ctx context.Context, handle *loopHandle) bool {
	timer := time.NewTimer(idlePollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-handle.wake:
		return false
	case <-timer.C:
		return false
	}
}

func (o *Orchestrator) finish(ctx context.Context, sessionID string, ui uibus.Helpers) {
	sess, changed, err := o.store.TransitionSession(ctx, sessionID,
		[]core.SessionStatus{core.StatusRunning}, core.StatusCompleted, "")
	if err != nil {
		log.Printf("loop %s: finish: %v", sessionID, err)
		return
	}
	if !changed {
		// A cancel won the race against the final step. This is the loop's
		// last act, so settle the session now rather than leaving it stuck
		// in cancelling.
		o.checkpoint(ctx, sessionID)
		return
	}
	o.publishLifecycle(sess, core.EventSessionUpdated)
	if err := ui.ShowToast(ctx, "Autopilot session completed", "success"); err != nil {
		log.Printf("loop %s: completion toast: %v", sessionID, err)
	}
}

func (o *Orchestrator) fail(ctx context.Context, sessionID string, cause error) {
	sess, _, err := o.store.TransitionSession(ctx, sessionID,
		[]core.SessionStatus{core.StatusPending, core.StatusRunning, core.StatusCancelling},
		core.StatusFailed, core.Details(cause))
	if err != nil {
		log.Printf("loop %s: record failure: %v", sessionID, err)
		return
	}
	log.Printf("loop %s: failed: %v", sessionID, cause)
	o.publishLifecycle(sess, core.EventSessionUpdated)
}
