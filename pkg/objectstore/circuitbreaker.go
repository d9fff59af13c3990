package objectstore

import (
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// CircuitBreaker protects the object store from a sustained outage:
// once threshold consecutive failures accumulate, Allow refuses new
// requests for timeout, then lets exactly one probe request through
// (half-open) before deciding whether to close again or reopen.
type CircuitBreaker struct {
	threshold int
	timeout   time.Duration

	mu        sync.Mutex
	state     breakerState
	failures  int
	openedAt  time.Time
	probeSent bool
}

// NewCircuitBreaker returns a breaker that opens after threshold
// consecutive Failure calls and stays open for timeout.
func NewCircuitBreaker(threshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{threshold: threshold, timeout: timeout}
}

// Allow reports whether a request may proceed. In the open state it
// returns false until timeout has elapsed, at which point it admits a
// single half-open probe.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if time.Since(b.openedAt) < b.timeout {
			return false
		}
		b.state = breakerHalfOpen
		b.probeSent = true
		return true
	case breakerHalfOpen:
		return !b.probeSent
	default:
		return true
	}
}

// Success records a successful request, closing the breaker and
// resetting the failure count.
func (b *CircuitBreaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = breakerClosed
	b.failures = 0
	b.probeSent = false
}

// Failure records a failed request. threshold consecutive failures
// (or a failed half-open probe) (re)opens the breaker.
func (b *CircuitBreaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerHalfOpen {
		b.open()
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.open()
	}
}

func (b *CircuitBreaker) open() {
	b.state = breakerOpen
	b.openedAt = time.Now()
	b.probeSent = false
	b.failures = 0
}
