package sqlite

import (
	"context"
	"log"
	"time"
)

// Sweeper runs a background goroutine that periodically purges acknowledged
// UI commands past their retention window. Unacknowledged commands are never
// touched; a slow or disconnected client can always catch up by polling.
type Sweeper struct {
	store     *Store
	interval  time.Duration
	retention time.Duration
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewSweeper creates a new Sweeper. Call Start() to begin sweeping.
func NewSweeper(store *Store, interval, retention time.Duration) *Sweeper {
	return &Sweeper{
		store:     store,
		interval:  interval,
		retention: retention,
		done:      make(chan struct{}),
	}
}

// Start launches the background sweep goroutine.
func (sw *Sweeper) Start(ctx context.Context) {
	ctx, sw.cancel = context.WithCancel(ctx)

	go func() {
		defer close(sw.done)

		sw.runSweep(ctx)

		ticker := time.NewTicker(sw.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sw.runSweep(ctx)
			}
		}
	}()
}

// Stop cancels the sweep goroutine and waits for it to finish.
func (sw *Sweeper) Stop() {
	if sw.cancel != nil {
		sw.cancel()
	}
	<-sw.done
}

func (sw *Sweeper) runSweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-sw.retention)
	purged, err := sw.store.PurgeAcknowledged(ctx, cutoff)
	if err != nil {
		log.Printf("sweeper: %v", err)
		return
	}
	if purged > 0 {
		log.Printf("sweeper: purged %d acknowledged command(s)", purged)
	}

	released, err := sw.store.ReleaseStaleClaims(ctx)
	if err != nil {
		log.Printf("sweeper: %v", err)
		return
	}
	if released > 0 {
		log.Printf("sweeper: released %d stale loop claim(s)", released)
	}
}
