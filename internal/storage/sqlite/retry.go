package sqlite

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"
)

// BackoffConfig controls how busy-database retries are spaced.
type BackoffConfig struct {
	Attempts int           // retries after the initial call
	Base     time.Duration // first delay; doubles each attempt
	Jitter   float64       // fraction of the delay added at random
}

// DefaultBackoff returns the retry policy used by the resilient store:
// 6 retries starting at 40ms with 20% jitter.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{Attempts: 6, Base: 40 * time.Millisecond, Jitter: 0.2}
}

// RetryBusy re-runs fn while it fails with SQLite's busy/locked errors,
// sleeping with exponential backoff between attempts. It gives up early
// when ctx is cancelled and returns the last error seen.
func RetryBusy(ctx context.Context, fn func() error) error {
	return retryBusy(ctx, DefaultBackoff(), fn)
}

// RetryBusyWithConfig is RetryBusy with an explicit policy.
func RetryBusyWithConfig(ctx context.Context, cfg BackoffConfig, fn func() error) error {
	return retryBusy(ctx, cfg, fn)
}

func retryBusy(ctx context.Context, cfg BackoffConfig, fn func() error) error {
	err := fn()
	delay := cfg.Base
	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		if err == nil || !isBusy(err) {
			return err
		}
		wait := delay + time.Duration(float64(delay)*cfg.Jitter*rand.Float64())
		select {
		case <-ctx.Done():
			return err
		case <-time.After(wait):
		}
		delay *= 2
		err = fn()
	}
	return err
}

func isBusy(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}
