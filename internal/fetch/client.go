// Package fetch implements the per-source HTTP engine: rate limiting,
// circuit breaking, retry/backoff, oauth2 refresh-on-401, and request
// execution over resty.
package fetch

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/reqon/reqon/internal/mission"
)

// Request is one logical HTTP call a fetch/call step issues.
type Request struct {
	Method      string
	Path        string
	Headers     map[string]string
	QueryParams map[string]string
	Body        any
	// MockSchema, if set and the owning Client is in dry-run mode,
	// drives synthetic response generation instead of a real exchange.
	MockSchema *mission.Schema
}

// Response is the normalized result of an attempt, mirroring the
// `{ status, statusCode, body, circuitOpen }` shape steps observe.
type Response struct {
	Status      string
	StatusCode  int
	Body        any
	Header      http.Header
	CircuitOpen bool
	Attempts    int
}

// Client is the fetch engine instance for one source: a resty client
// plus its rate limiter, circuit breaker, retry policy, and (for
// oauth2 sources) credential and refresher.
type Client struct {
	Source *mission.Source

	// Mock enables dry-run mode (spec.md §6): Do synthesises a
	// response from the request's MockSchema instead of performing a
	// real exchange, bypassing the network, rate limiter, and circuit
	// breaker entirely.
	Mock bool

	http      *resty.Client
	limiter   *RateLimiter
	breaker   *Breaker
	cred      *Credential
	refresher *TokenRefresher
}

// OnTokenRefresh registers a callback invoked after a successful
// oauth2 refresh, so the caller can persist the updated credential
// (e.g. credentials.Store.Persist) per spec.md §6's write-back
// requirement. A no-op on sources that aren't oauth2.
func (c *Client) OnTokenRefresh(fn func(sourceName string, cred *Credential)) {
	if c.refresher != nil {
		c.refresher.OnRefresh = fn
	}
}

// New builds a Client for source. cred may be nil for non-oauth2
// sources.
func New(source *mission.Source, cred *Credential) *Client {
	rc := resty.New().
		SetBaseURL(source.BaseURL).
		SetTimeout(source.Timeout)

	c := &Client{
		Source:  source,
		http:    rc,
		limiter: NewRateLimiter(source.Name, source.RateLimit),
		breaker: NewBreaker(source.Name, source.Circuit),
		cred:    cred,
	}
	if source.Auth == mission.AuthOAuth2 {
		c.refresher = NewTokenRefresher(rc)
	}
	return c
}

// Do executes req against the source, applying rate limiting, circuit
// breaking, auth injection, and retry/backoff. It never returns a raw
// resty error for a circuit-open short-circuit; callers get the
// synthetic Response with CircuitOpen set instead.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if c.Mock {
		return &Response{
			Status:     "200 OK",
			StatusCode: http.StatusOK,
			Body:       GenerateMock(req.MockSchema),
			Attempts:   1,
		}, nil
	}

	retry := c.Source.Retry
	maxAttempts := retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastResp *Response
	var lastErr error
	oauthRetried := false

	// attempt is incremented explicitly (not in a for-post-statement) so
	// the in-band oauth2 refresh-then-retry below can `continue` without
	// consuming a slot of the transient-failure retry budget: §4.3 point
	// 7 describes the 401 refresh-retry as a one-off independent of
	// `maxAttempts`, not something that needs `retry.maxAttempts >= 2`
	// configured to take effect.
	for attempt := 1; attempt <= maxAttempts; {
		if err := c.breaker.Allow(); err != nil {
			return &Response{CircuitOpen: true, Attempts: attempt}, nil
		}

		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, err
		}

		resp, err := c.attempt(ctx, req)
		if err != nil {
			c.breaker.RecordFailure()
			lastErr = &TransportError{Cause: err}
			lastResp = nil
		} else {
			c.limiter.Observe(resp.Header)
			resp.Attempts = attempt

			if resp.StatusCode >= 500 {
				c.breaker.RecordFailure()
			} else if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				c.breaker.RecordSuccess()
			}

			if resp.StatusCode == http.StatusUnauthorized &&
				c.Source.Auth == mission.AuthOAuth2 && c.cred != nil &&
				c.cred.RefreshToken != "" && !oauthRetried {
				oauthRetried = true
				if err := c.refresher.Refresh(ctx, c.Source.Name, c.cred); err == nil {
					continue // same attempt, budget untouched
				}
			}

			lastResp = resp
			lastErr = nil

			if !isRetryableStatus(resp.StatusCode) {
				return resp, nil
			}
		}

		if attempt == maxAttempts {
			break
		}

		var retryAfter time.Duration
		if lastResp != nil {
			retryAfter = parseRetryAfter(lastResp.Header)
		}
		delay := computeDelay(retry, attempt, retryAfter)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		attempt++
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return lastResp, nil
}

func (c *Client) attempt(ctx context.Context, req Request) (*Response, error) {
	r := c.http.R().SetContext(ctx)

	if len(req.Headers) > 0 {
		r.SetHeaders(req.Headers)
	}
	if len(req.QueryParams) > 0 {
		r.SetQueryParams(req.QueryParams)
	}
	if req.Body != nil {
		r.SetBody(req.Body)
	}

	if err := c.injectAuth(r); err != nil {
		return nil, err
	}

	var result any
	r.SetResult(&result)

	resp, err := r.Execute(req.Method, req.Path)
	if err != nil {
		return nil, err
	}

	return &Response{
		Status:     resp.Status(),
		StatusCode: resp.StatusCode(),
		Body:       result,
		Header:     resp.Header(),
	}, nil
}

func (c *Client) injectAuth(r *resty.Request) error {
	switch c.Source.Auth {
	case mission.AuthNone:
		return nil
	case mission.AuthBearer:
		if c.cred == nil {
			return fmt.Errorf("fetch: source %q uses bearer auth but has no credential", c.Source.Name)
		}
		token, _ := c.cred.Token()
		r.SetHeader("Authorization", "Bearer "+token)
	case mission.AuthBasic:
		if c.cred == nil {
			return fmt.Errorf("fetch: source %q uses basic auth but has no credential", c.Source.Name)
		}
		plain := c.cred.Username + ":" + c.cred.Password
		r.SetHeader("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(plain)))
	case mission.AuthAPIKey:
		if c.cred == nil {
			return fmt.Errorf("fetch: source %q uses api_key auth but has no credential", c.Source.Name)
		}
		value := c.cred.APIKeyPrefix + c.cred.APIKey
		switch {
		case c.cred.APIKeyQuery != "":
			r.SetQueryParam(c.cred.APIKeyQuery, value)
		case c.cred.APIKeyHeader != "":
			r.SetHeader(c.cred.APIKeyHeader, value)
		default:
			r.SetHeader("X-Api-Key", value)
		}
	case mission.AuthOAuth2:
		if c.cred == nil {
			return fmt.Errorf("fetch: source %q uses oauth2 auth but has no credential", c.Source.Name)
		}
		if c.cred.IsExpired() && c.cred.RefreshToken != "" && c.refresher != nil {
			if err := c.refresher.Refresh(r.Context(), c.Source.Name, c.cred); err != nil {
				return err
			}
		}
		token, _ := c.cred.Token()
		r.SetHeader("Authorization", "Bearer "+token)
	}
	return nil
}

// BreakerState exposes the circuit breaker's current state, mainly for
// debug snapshots and tests.
func (c *Client) BreakerState() CircuitState { return c.breaker.State() }
