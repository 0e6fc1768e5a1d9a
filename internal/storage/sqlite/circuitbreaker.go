package sqlite

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker is rejecting calls.
var ErrCircuitOpen = errors.New("storage circuit open")

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker shields the store from hammering a persistently failing
// database. After `threshold` consecutive failures it opens and rejects
// calls until `cooldown` has passed; then a single probe call decides
// whether to close again.
type CircuitBreaker struct {
	threshold int
	cooldown  time.Duration
	clock     func() time.Time

	mu       sync.Mutex
	state    breakerState
	failures int
	openedAt time.Time
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, clock: time.Now}
}

// Execute runs fn unless the breaker is open inside its cooldown window.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.admit() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.record(err)
	return err
}

// admit decides whether a call may proceed, transitioning open -> half-open
// when the cooldown has elapsed. At most one probe runs per cooldown cycle.
func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if cb.clock().Sub(cb.openedAt) < cb.cooldown {
			return false
		}
		cb.state = breakerHalfOpen
		return true
	default: // half-open: probe already in flight
		return false
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err == nil {
		cb.state = breakerClosed
		cb.failures = 0
		return
	}
	if cb.state == breakerHalfOpen {
		cb.state = breakerOpen
		cb.openedAt = cb.clock()
		return
	}
	cb.failures++
	if cb.failures >= cb.threshold {
		cb.state = breakerOpen
		cb.openedAt = cb.clock()
	}
}

// State reports the breaker state as a string for health reporting.
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state.String()
}
