package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mistakeknot/autopilot/internal/core"
)

func TestResilientPassesThrough(t *testing.T) {
	r := NewResilient(NewStoreTest(t))
	defer r.Close()
	ctx := context.Background()

	s, err := r.CreateSession(ctx, core.Session{Project: "p1", Prompt: "hello"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := r.GetSession(ctx, s.ID)
	if err != nil || got.Prompt != "hello" {
		t.Fatalf("get: %+v, %v", got, err)
	}
	if r.BreakerState() != "closed" {
		t.Fatalf("breaker = %s", r.BreakerState())
	}
}

func TestDomainErrorsDoNotTripBreaker(t *testing.T) {
	inner := NewStoreTest(t)
	defer inner.Close()
	r := NewResilientWithBreaker(inner, NewCircuitBreaker(1, time.Minute))
	ctx := context.Background()

	// NotFound over and over: a threshold-1 breaker would open on the
	// first real failure, so this proves lookups are not counted.
	for i := 0; i < 5; i++ {
		if _, err := r.GetSession(ctx, "missing"); core.KindOf(err) != core.KindNotFound {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if r.BreakerState() != "closed" {
		t.Fatalf("breaker = %s, want closed", r.BreakerState())
	}
}

func TestInternalErrorsTripBreaker(t *testing.T) {
	inner := NewStoreTest(t)
	r := NewResilientWithBreaker(inner, NewCircuitBreaker(2, time.Minute))
	ctx := context.Background()

	// Closing the database makes every call fail at the storage layer.
	inner.Close()

	for i := 0; i < 2; i++ {
		if _, err := r.GetSession(ctx, "any"); err == nil {
			t.Fatalf("call %d: expected failure", i)
		}
	}
	if r.BreakerState() != "open" {
		t.Fatalf("breaker = %s, want open", r.BreakerState())
	}
	if _, err := r.GetSession(ctx, "any"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestUnwrapExposesInnerStore(t *testing.T) {
	inner := NewStoreTest(t)
	defer inner.Close()
	r := NewResilient(inner)
	if r.Unwrap() != inner {
		t.Fatalf("unwrap returned a different store")
	}
}
