package fetch

import (
	"testing"
	"time"

	"github.com/reqon/reqon/internal/mission"
)

func testPolicy() mission.CircuitPolicy {
	return mission.CircuitPolicy{
		FailureThreshold: 3,
		FailureWindow:    time.Minute,
		ResetTimeout:     20 * time.Millisecond,
		SuccessThreshold: 2,
	}
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker("s", testPolicy())
	for i := 0; i < 2; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("unexpected open at failure %d", i)
		}
		b.RecordFailure()
	}
	if b.State() != CircuitClosed {
		t.Fatalf("expected CLOSED before threshold, got %s", b.State())
	}
	b.RecordFailure()
	if b.State() != CircuitOpen {
		t.Fatalf("expected OPEN at threshold, got %s", b.State())
	}
	if err := b.Allow(); err == nil {
		t.Fatal("expected Allow to reject while OPEN")
	}
}

func TestBreakerHalfOpenTransitions(t *testing.T) {
	b := NewBreaker("s", testPolicy())
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	if b.State() != CircuitOpen {
		t.Fatalf("expected OPEN, got %s", b.State())
	}

	time.Sleep(30 * time.Millisecond)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected Allow to transition to HALF_OPEN, got %v", err)
	}
	if b.State() != CircuitHalfOpen {
		t.Fatalf("expected HALF_OPEN, got %s", b.State())
	}

	b.RecordSuccess()
	if b.State() != CircuitHalfOpen {
		t.Fatalf("one success shouldn't close yet, got %s", b.State())
	}
	b.RecordSuccess()
	if b.State() != CircuitClosed {
		t.Fatalf("expected CLOSED after successThreshold, got %s", b.State())
	}
}

func TestBreakerHalfOpenFailureRevertsToOpen(t *testing.T) {
	b := NewBreaker("s", testPolicy())
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	time.Sleep(30 * time.Millisecond)
	_ = b.Allow()
	if b.State() != CircuitHalfOpen {
		t.Fatalf("expected HALF_OPEN, got %s", b.State())
	}
	b.RecordFailure()
	if b.State() != CircuitOpen {
		t.Fatalf("expected OPEN after half-open failure, got %s", b.State())
	}
}

func TestBreakerFailuresOutsideWindowDontAccumulate(t *testing.T) {
	policy := testPolicy()
	policy.FailureWindow = 10 * time.Millisecond
	b := NewBreaker("s", policy)

	b.RecordFailure()
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	b.RecordFailure()

	if b.State() != CircuitClosed {
		t.Fatalf("expected old failures to have expired out of the window, got %s", b.State())
	}
}
