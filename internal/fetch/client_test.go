package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/reqon/reqon/internal/mission"
)

func newTestSource(baseURL string) *mission.Source {
	return &mission.Source{
		Name:    "test",
		BaseURL: baseURL,
		Auth:    mission.AuthNone,
		Timeout: 2 * time.Second,
		RateLimit: mission.RateLimitPolicy{
			RequestsPerInterval: 100,
			Interval:            time.Second,
			Strategy:            mission.RateLimitPause,
			MaxWait:             2 * time.Second,
		},
		Circuit: mission.CircuitPolicy{
			FailureThreshold: 3,
			FailureWindow:    5 * time.Second,
			ResetTimeout:     100 * time.Millisecond,
			SuccessThreshold: 2,
		},
		Retry: mission.RetryConfig{
			MaxAttempts:  3,
			Backoff:      mission.BackoffConstant,
			InitialDelay: 5 * time.Millisecond,
			MaxDelay:     50 * time.Millisecond,
		},
	}
}

func TestClientDoSuccessfulRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(newTestSource(srv.URL), nil)
	resp, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/things"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
}

func TestClientRetriesOn429ThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n <= 2 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(newTestSource(srv.URL), nil)
	resp, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/data"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("got %d calls, want 3", calls)
	}
}

func TestClientExhaustsRetriesAndSurfacesLastResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	source := newTestSource(srv.URL)
	source.Retry.MaxAttempts = 2
	c := New(source, nil)
	resp, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/data"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("got status %d, want 503", resp.StatusCode)
	}
}

func TestClientCircuitBreakerOpensAndShortCircuits(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	source := newTestSource(srv.URL)
	source.Retry.MaxAttempts = 1
	c := New(source, nil)

	for i := 0; i < 3; i++ {
		resp, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/data"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.CircuitOpen {
			t.Fatalf("circuit should still be closed on attempt %d", i)
		}
	}

	resp, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/data"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.CircuitOpen {
		t.Fatal("expected circuit to be open after failureThreshold failures")
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected no network call once open, got %d total calls", calls)
	}
}

func TestClientCircuitHalfOpenThenClosed(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	source := newTestSource(srv.URL)
	source.Retry.MaxAttempts = 1
	source.Circuit.ResetTimeout = 20 * time.Millisecond
	c := New(source, nil)

	for i := 0; i < 3; i++ {
		_, _ = c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"})
	}
	if c.BreakerState() != CircuitOpen {
		t.Fatalf("expected OPEN, got %s", c.BreakerState())
	}

	time.Sleep(30 * time.Millisecond)
	fail.Store(false)

	for i := 0; i < 2; i++ {
		resp, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.CircuitOpen {
			t.Fatalf("expected half-open request to reach the network on iteration %d", i)
		}
	}
	if c.BreakerState() != CircuitClosed {
		t.Fatalf("expected CLOSED after successThreshold successes, got %s", c.BreakerState())
	}
}

func TestClientTransientNetworkErrorIsTransportError(t *testing.T) {
	source := newTestSource("http://127.0.0.1:1")
	source.Retry.MaxAttempts = 1
	source.Timeout = 200 * time.Millisecond
	c := New(source, nil)
	_, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"})
	if err == nil {
		t.Fatal("expected a transport error")
	}
	if _, ok := err.(*TransportError); !ok {
		t.Fatalf("expected *TransportError, got %T", err)
	}
}
