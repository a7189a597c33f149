package fetch

import (
	"net/http"
	"testing"
	"time"

	"github.com/reqon/reqon/internal/mission"
)

func TestComputeDelayBackoffKinds(t *testing.T) {
	cfg := mission.RetryConfig{
		Backoff:      mission.BackoffExponential,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
	}
	if got := computeDelay(cfg, 1, 0); got != 100*time.Millisecond {
		t.Errorf("attempt 1: got %v, want 100ms", got)
	}
	if got := computeDelay(cfg, 2, 0); got != 200*time.Millisecond {
		t.Errorf("attempt 2: got %v, want 200ms", got)
	}
	if got := computeDelay(cfg, 4, 0); got != 800*time.Millisecond {
		t.Errorf("attempt 4: got %v, want 800ms", got)
	}
	if got := computeDelay(cfg, 10, 0); got != time.Second {
		t.Errorf("attempt 10 should be capped at maxDelay, got %v", got)
	}
}

func TestComputeDelayLinear(t *testing.T) {
	cfg := mission.RetryConfig{Backoff: mission.BackoffLinear, InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second}
	if got := computeDelay(cfg, 3, 0); got != 150*time.Millisecond {
		t.Errorf("got %v, want 150ms", got)
	}
}

func TestComputeDelayRetryAfterTakesPrecedence(t *testing.T) {
	cfg := mission.RetryConfig{Backoff: mission.BackoffExponential, InitialDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second}
	if got := computeDelay(cfg, 5, 3*time.Second); got != 3*time.Second {
		t.Errorf("got %v, want 3s", got)
	}
}

func TestIsRetryableStatus(t *testing.T) {
	retryable := []int{http.StatusRequestTimeout, http.StatusTooManyRequests, 425, 500, 503}
	for _, s := range retryable {
		if !isRetryableStatus(s) {
			t.Errorf("expected %d to be retryable", s)
		}
	}
	notRetryable := []int{200, 201, 400, 404, 422}
	for _, s := range notRetryable {
		if isRetryableStatus(s) {
			t.Errorf("expected %d not to be retryable", s)
		}
	}
}

func TestParseRetryAfterSeconds(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "5")
	if got := parseRetryAfter(h); got != 5*time.Second {
		t.Errorf("got %v, want 5s", got)
	}
}
