package orchestrator

import (
	"context"

	"github.com/mistakeknot/autopilot/internal/core"
)

// nonTerminal is the set of statuses a restart can pick back up.
var nonTerminal = []core.SessionStatus{
	core.StatusPending,
	core.StatusRunning,
	core.StatusCancelling,
}

// ResumeSessions reattaches execution loops to the project's non-terminal
// sessions, oldest first, up to limit (limit <= 0 means no bound). Sessions
// already looping in this instance are skipped, and a claim held elsewhere
// is not stolen twice: each candidate goes through the same atomic claim as
// session creation. Returns the ids of the sessions actually resumed.
func (o *Orchestrator) ResumeSessions(ctx context.Context, project, uiSessionID string, limit int) ([]string, error) {
	candidates, err := o.store.ListSessions(ctx, project, nonTerminal)
	if err != nil {
		return nil, err
	}

	resumed := []string{}
	for _, sess := range candidates {
		if limit > 0 && len(resumed) >= limit {
			break
		}
		if o.hasLoop(sess.ID) {
			continue
		}
		if uiSessionID != "" && sess.UISessionID != uiSessionID {
			// Retarget live pushes before the loop starts so it never binds
			// to the previous UI session. A loop running elsewhere picks the
			// new binding up when it next reloads.
			if err := o.retargetUISession(ctx, sess.ID, uiSessionID); err != nil {
				return resumed, err
			}
			sess.UISessionID = uiSessionID
		}
		attached, err := o.attachLoop(ctx, sess.ID)
		if err != nil {
			return resumed, err
		}
		if !attached {
			continue
		}
		o.publishLifecycle(sess, core.EventSessionResumed)
		resumed = append(resumed, sess.ID)
	}
	return resumed, nil
}

func (o *Orchestrator) retargetUISession(ctx context.Context, sessionID, uiSessionID string) error {
	return o.store.SetUISession(ctx, sessionID, uiSessionID)
}
