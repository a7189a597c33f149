package fetch

import (
	"net/http"
	"strconv"
	"time"

	"github.com/reqon/reqon/internal/mission"
)

// isRetryableStatus reports whether a status code is a transient
// failure worth retrying: request timeout, too-early, too-many-requests,
// or any server error.
func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return status >= 500
}

// computeDelay returns the backoff delay before the given attempt
// (1-based), honouring retryAfter when it's set and otherwise applying
// the configured curve capped at MaxDelay.
func computeDelay(cfg mission.RetryConfig, attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return capDelay(cfg, retryAfter)
	}

	var d time.Duration
	switch cfg.Backoff {
	case mission.BackoffLinear:
		d = cfg.InitialDelay * time.Duration(attempt)
	case mission.BackoffExponential:
		d = cfg.InitialDelay * time.Duration(1<<uint(attempt-1))
	default:
		d = cfg.InitialDelay
	}
	return capDelay(cfg, d)
}

func capDelay(cfg mission.RetryConfig, d time.Duration) time.Duration {
	if cfg.MaxDelay > 0 && d > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return d
}

// parseRetryAfter parses a Retry-After header, which is either an
// integer number of seconds or an HTTP date.
func parseRetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d > 0 {
			return d
		}
	}
	return 0
}
