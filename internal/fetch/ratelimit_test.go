package fetch

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/reqon/reqon/internal/mission"
)

func TestRateLimiterFailStrategyExhaustion(t *testing.T) {
	rl := NewRateLimiter("s", mission.RateLimitPolicy{
		RequestsPerInterval: 2,
		Interval:            time.Minute,
		Strategy:            mission.RateLimitFail,
	})
	ctx := context.Background()
	if err := rl.Acquire(ctx); err != nil {
		t.Fatalf("1st: %v", err)
	}
	if err := rl.Acquire(ctx); err != nil {
		t.Fatalf("2nd: %v", err)
	}
	if err := rl.Acquire(ctx); err == nil {
		t.Fatal("expected RateLimitedError on 3rd acquire")
	} else if _, ok := err.(*RateLimitedError); !ok {
		t.Fatalf("expected *RateLimitedError, got %T", err)
	}
}

func TestRateLimiterPauseStrategyExceedsMaxWait(t *testing.T) {
	rl := NewRateLimiter("s", mission.RateLimitPolicy{
		RequestsPerInterval: 1,
		Interval:            time.Hour,
		Strategy:            mission.RateLimitPause,
		MaxWait:             30 * time.Millisecond,
	})
	ctx := context.Background()
	if err := rl.Acquire(ctx); err != nil {
		t.Fatalf("1st: %v", err)
	}
	err := rl.Acquire(ctx)
	if err == nil {
		t.Fatal("expected RateLimitWaitExceededError")
	}
	if _, ok := err.(*RateLimitWaitExceededError); !ok {
		t.Fatalf("expected *RateLimitWaitExceededError, got %T", err)
	}
}

func TestRateLimiterObserveHeadersReseedsBucket(t *testing.T) {
	rl := NewRateLimiter("s", mission.RateLimitPolicy{
		RequestsPerInterval: 10,
		Interval:            time.Minute,
		Strategy:            mission.RateLimitFail,
	})
	h := http.Header{}
	h.Set("X-RateLimit-Remaining", "0")
	h.Set("X-RateLimit-Reset", "60")
	rl.Observe(h)

	if err := rl.Acquire(context.Background()); err == nil {
		t.Fatal("expected exhausted bucket to reject after Observe(0 remaining)")
	}
}
