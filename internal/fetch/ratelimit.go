package fetch

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/reqon/reqon/internal/mission"
)

// RateLimitWaitExceededError is surfaced when the pause strategy's
// maxWait elapses before a token becomes available.
type RateLimitWaitExceededError struct {
	Source string
}

func (e *RateLimitWaitExceededError) Error() string {
	return "fetch: rate limit wait exceeded for source " + e.Source
}

// RateLimitedError is surfaced by the fail strategy when no token is
// currently available.
type RateLimitedError struct {
	Source string
}

func (e *RateLimitedError) Error() string {
	return "fetch: rate limited for source " + e.Source
}

// RateLimiter is a per-source token bucket seeded from the configured
// policy and re-seeded from X-RateLimit-* response headers as they
// arrive. Safe for concurrent use.
type RateLimiter struct {
	source string
	policy mission.RateLimitPolicy

	mu        sync.Mutex
	remaining int
	resetAt   time.Time
	lastThrot time.Time
}

// NewRateLimiter builds a limiter seeded with the policy's static
// fallback values until the first response updates it.
func NewRateLimiter(source string, policy mission.RateLimitPolicy) *RateLimiter {
	rl := &RateLimiter{source: source, policy: policy}
	rl.remaining = policy.RequestsPerInterval
	rl.resetAt = time.Now().Add(policy.Interval)
	return rl
}

// Acquire blocks (or fails, depending on strategy) until a request may
// proceed.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	switch rl.policy.Strategy {
	case mission.RateLimitFail:
		return rl.acquireFail()
	case mission.RateLimitThrottle:
		return rl.acquireThrottle(ctx)
	default:
		return rl.acquirePause(ctx)
	}
}

func (rl *RateLimiter) acquireFail() error {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.hasTokenLocked() {
		rl.remaining--
		return nil
	}
	return &RateLimitedError{Source: rl.source}
}

func (rl *RateLimiter) acquirePause(ctx context.Context) error {
	deadline := time.Now().Add(rl.policy.MaxWait)
	for {
		rl.mu.Lock()
		if rl.hasTokenLocked() {
			rl.remaining--
			rl.mu.Unlock()
			return nil
		}
		wait := time.Until(rl.resetAt)
		rl.mu.Unlock()

		if rl.policy.MaxWait > 0 && time.Now().Add(wait).After(deadline) {
			return &RateLimitWaitExceededError{Source: rl.source}
		}
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (rl *RateLimiter) acquireThrottle(ctx context.Context) error {
	rl.mu.Lock()
	window := rl.resetAt.Sub(rl.lastThrot)
	perReq := rl.policy.Interval
	if rl.policy.RequestsPerInterval > 0 {
		perReq = rl.policy.Interval / time.Duration(rl.policy.RequestsPerInterval)
	}
	sinceLast := time.Since(rl.lastThrot)
	var wait time.Duration
	if sinceLast < perReq {
		wait = perReq - sinceLast
	}
	rl.lastThrot = time.Now().Add(wait)
	_ = window
	rl.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (rl *RateLimiter) hasTokenLocked() bool {
	if time.Now().After(rl.resetAt) {
		rl.remaining = rl.policy.RequestsPerInterval
		rl.resetAt = time.Now().Add(rl.policy.Interval)
	}
	return rl.remaining > 0
}

// Observe re-seeds the bucket from response rate-limit headers. Known
// variants: X-RateLimit-Remaining / X-RateLimit-Reset (epoch seconds or
// delta seconds).
func (rl *RateLimiter) Observe(h http.Header) {
	remaining := h.Get("X-RateLimit-Remaining")
	reset := h.Get("X-RateLimit-Reset")
	if remaining == "" && reset == "" {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if remaining != "" {
		if n, err := strconv.Atoi(remaining); err == nil {
			rl.remaining = n
		}
	}
	if reset != "" {
		if n, err := strconv.ParseInt(reset, 10, 64); err == nil {
			if n > time.Now().Unix()+1_000_000_000 {
				rl.resetAt = time.UnixMilli(n)
			} else if n > time.Now().Unix() {
				rl.resetAt = time.Unix(n, 0)
			} else {
				rl.resetAt = time.Now().Add(time.Duration(n) * time.Second)
			}
		}
	}
}
