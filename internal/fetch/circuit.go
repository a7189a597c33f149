package fetch

import (
	"sync"
	"time"

	"github.com/reqon/reqon/internal/mission"
)

// CircuitState is one of the breaker's three states.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// CircuitOpenError is surfaced as a synthetic response when the
// breaker is OPEN; callers recognize it to build the
// `{ circuitOpen: true }` response shape instead of treating it as a
// transport failure.
type CircuitOpenError struct {
	Source string
}

func (e *CircuitOpenError) Error() string {
	return "fetch: circuit open for source " + e.Source
}

// Breaker implements the per-source CLOSED/OPEN/HALF_OPEN state
// machine.
type Breaker struct {
	source string
	policy mission.CircuitPolicy

	mu              sync.Mutex
	state           CircuitState
	failures        []time.Time
	openedAt        time.Time
	halfOpenSuccess int
}

// NewBreaker builds a CLOSED breaker for one source.
func NewBreaker(source string, policy mission.CircuitPolicy) *Breaker {
	return &Breaker{source: source, policy: policy, state: CircuitClosed}
}

// Allow reports whether a request may proceed, advancing OPEN to
// HALF_OPEN once resetTimeout has elapsed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		if time.Since(b.openedAt) >= b.policy.ResetTimeout {
			b.state = CircuitHalfOpen
			b.halfOpenSuccess = 0
			return nil
		}
		return &CircuitOpenError{Source: b.source}
	default:
		return nil
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// RecordSuccess registers a 2xx response.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitHalfOpen:
		b.halfOpenSuccess++
		if b.halfOpenSuccess >= b.policy.SuccessThreshold {
			b.state = CircuitClosed
			b.failures = nil
		}
	case CircuitClosed:
		b.pruneLocked()
	}
}

// RecordFailure registers a 5xx response or network error.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == CircuitHalfOpen {
		b.state = CircuitOpen
		b.openedAt = time.Now()
		return
	}

	now := time.Now()
	b.failures = append(b.failures, now)
	b.pruneLocked()
	if len(b.failures) >= b.policy.FailureThreshold {
		b.state = CircuitOpen
		b.openedAt = now
		b.failures = nil
	}
}

// pruneLocked drops failures that fell outside the rolling window.
func (b *Breaker) pruneLocked() {
	if b.policy.FailureWindow <= 0 {
		return
	}
	cutoff := time.Now().Add(-b.policy.FailureWindow)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
}
