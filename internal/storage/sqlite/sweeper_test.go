package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/mistakeknot/autopilot/internal/core"
)

func TestSweeperPurgesAcknowledgedCommands(t *testing.T) {
	st := NewStoreTest(t)
	defer st.Close()
	ctx := context.Background()

	old := time.Now().UTC().Add(-2 * time.Hour)
	for i := 0; i < 2; i++ {
		if _, err := st.EnqueueCommand(ctx, core.UiCommand{Project: "p1", SessionID: "s1", Type: "SHOW_TOAST", CreatedAt: old}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if err := st.AckCommands(ctx, "p1", "s1", []int64{1}); err != nil {
		t.Fatalf("ack: %v", err)
	}

	sw := NewSweeper(st, 50*time.Millisecond, time.Hour)
	sw.Start(ctx)
	defer sw.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		cmds, err := st.ListCommands(ctx, "p1", "s1")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(cmds) == 1 {
			if cmds[0].ID != 2 || cmds[0].Acknowledged {
				t.Fatalf("survivor = %+v", cmds[0])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("acknowledged command never purged; %d commands remain", len(cmds))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestReleaseStaleClaims(t *testing.T) {
	st := NewStoreTest(t)
	defer st.Close()
	ctx := context.Background()

	done := mustCreate(t, st, core.Session{Project: "p1", Prompt: "x", Status: core.StatusCompleted, LoopOwner: "dead-instance"})
	live := mustCreate(t, st, core.Session{Project: "p1", Prompt: "x", Status: core.StatusRunning, LoopOwner: "live-instance"})

	released, err := st.ReleaseStaleClaims(ctx)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released != 1 {
		t.Fatalf("released = %d, want 1", released)
	}

	got, _ := st.GetSession(ctx, done.ID)
	if got.LoopOwner != "" {
		t.Fatalf("terminal session still owned by %q", got.LoopOwner)
	}
	got, _ = st.GetSession(ctx, live.ID)
	if got.LoopOwner != "live-instance" {
		t.Fatalf("live claim disturbed: %q", got.LoopOwner)
	}
}

func TestSweeperStopTerminates(t *testing.T) {
	st := NewStoreTest(t)
	defer st.Close()

	sw := NewSweeper(st, time.Hour, time.Hour)
	sw.Start(context.Background())

	done := make(chan struct{})
	go func() {
		sw.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop did not return")
	}
}
