package client

import (
	"fmt"
	"sync"
	"time"
)

// BreakerState is the circuit breaker's current position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// CircuitOpenError is returned without any network call when the
// breaker is open, so callers can tell "service is down" apart from
// "this request failed".
type CircuitOpenError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("%s circuit open, retry in %s", e.Provider, e.RetryAfter.Round(time.Millisecond))
}

// circuitBreaker implements the CLOSED -> OPEN -> HALF_OPEN machine.
// A failure is one fully exhausted request (retries included), not an
// individual attempt.
type circuitBreaker struct {
	mu           sync.Mutex
	provider     string
	threshold    int
	recovery     time.Duration
	state        BreakerState
	failureCount int
	nextAttempt  time.Time
}

func newCircuitBreaker(provider string, threshold int, recovery time.Duration) *circuitBreaker {
	return &circuitBreaker{
		provider:  provider,
		threshold: threshold,
		recovery:  recovery,
		state:     BreakerClosed,
	}
}

// allow gates one request. In OPEN state before the recovery deadline it
// rejects immediately; past the deadline it moves to HALF_OPEN and lets
// exactly one trial through. Concurrent callers keep getting rejected
// until that trial resolves.
func (b *circuitBreaker) allow(now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if now.Before(b.nextAttempt) {
			return &CircuitOpenError{Provider: b.provider, RetryAfter: b.nextAttempt.Sub(now)}
		}
		b.state = BreakerHalfOpen
		return nil
	case BreakerHalfOpen:
		return &CircuitOpenError{Provider: b.provider, RetryAfter: b.recovery}
	}
	return nil
}

func (b *circuitBreaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = BreakerClosed
	b.failureCount = 0
}

func (b *circuitBreaker) recordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	if b.state == BreakerHalfOpen || b.failureCount >= b.threshold {
		b.state = BreakerOpen
		b.nextAttempt = now.Add(b.recovery)
	}
}

// snapshot returns the state and failure count for health reporting.
func (b *circuitBreaker) snapshot() (BreakerState, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.failureCount
}
