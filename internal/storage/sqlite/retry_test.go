package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastBackoff(attempts int) BackoffConfig {
	return BackoffConfig{Attempts: attempts, Base: time.Millisecond, Jitter: 0}
}

func TestRetryBusyRetriesLockedErrors(t *testing.T) {
	calls := 0
	err := RetryBusyWithConfig(context.Background(), fastBackoff(5), func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryBusyDoesNotRetryOtherErrors(t *testing.T) {
	calls := 0
	boom := errors.New("constraint failed")
	err := RetryBusyWithConfig(context.Background(), fastBackoff(5), func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetryBusyGivesUpAfterAttempts(t *testing.T) {
	calls := 0
	err := RetryBusyWithConfig(context.Background(), fastBackoff(2), func() error {
		calls++
		return errors.New("database table is locked")
	})
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	// Initial call plus two retries.
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryBusyStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := RetryBusyWithConfig(ctx, BackoffConfig{Attempts: 5, Base: time.Hour}, func() error {
		calls++
		return errors.New("database is locked")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
