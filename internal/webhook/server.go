// Package webhook implements the embedded HTTP server that backs
// `wait` steps: inbound event registration, persistence, expiry
// sweeping, and filter-gated completion.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Event is one received webhook payload.
type Event struct {
	Path      string
	Body      map[string]any
	Headers   map[string][]string
	ReceivedAt time.Time
}

// Registration tracks one outstanding `wait` step's endpoint.
type Registration struct {
	Path           string
	ExpectedEvents int
	Filter         func(Event) (bool, error)
	ExpiresAt      time.Time

	mu     sync.Mutex
	events []Event
	done   chan struct{}
	closed bool
}

func (r *Registration) matchingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Events returns every event received so far, in arrival order.
func (r *Registration) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Registration) signalDoneLocked() {
	if !r.closed {
		r.closed = true
		close(r.done)
	}
}

// Server is the embedded HTTP listener `wait` steps register against.
type Server struct {
	addr string

	engine *gin.Engine
	http   *http.Server

	mu            sync.Mutex
	registrations map[string]*Registration
}

// NewServer builds a Server bound to addr ("host:port"); it does not
// listen until Start is called.
func NewServer(addr string) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{addr: addr, registrations: make(map[string]*Registration)}

	engine := gin.New()
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC().Format(time.RFC3339)})
	})
	engine.NoRoute(s.handleInbound)
	s.engine = engine
	s.http = &http.Server{Addr: addr, Handler: engine}
	return s
}

// Start begins listening in the background; Stop performs a graceful
// shutdown.
func (s *Server) Start() error {
	ln := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ln <- err
		}
	}()
	return nil
}

// Stop gracefully shuts down the listener.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Register creates a new endpoint for a `wait` step, returning the URL
// path inbound requests must hit.
func (s *Server) Register(expectedEvents int, timeout time.Duration, filter func(Event) (bool, error)) *Registration {
	if expectedEvents < 1 {
		expectedEvents = 1
	}
	reg := &Registration{
		Path:           "/hooks/" + uuid.NewString(),
		ExpectedEvents: expectedEvents,
		Filter:         filter,
		done:           make(chan struct{}),
	}
	if timeout > 0 {
		reg.ExpiresAt = time.Now().Add(timeout)
	}

	s.mu.Lock()
	s.registrations[reg.Path] = reg
	s.mu.Unlock()
	return reg
}

// Unregister removes a registration, e.g. once a wait step has
// finished consuming it.
func (s *Server) Unregister(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.registrations, path)
}

// SweepExpired deletes every registration whose ExpiresAt has passed
// and signals their waiters so a suspended wait step unblocks. Intended
// to run on a periodic ticker.
func (s *Server) SweepExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for path, reg := range s.registrations {
		if !reg.ExpiresAt.IsZero() && now.After(reg.ExpiresAt) {
			reg.mu.Lock()
			reg.signalDoneLocked()
			reg.mu.Unlock()
			delete(s.registrations, path)
		}
	}
}

func (s *Server) handleInbound(c *gin.Context) {
	s.mu.Lock()
	reg, ok := s.registrations[c.Request.URL.Path]
	s.mu.Unlock()

	if !ok {
		c.Status(http.StatusNotFound)
		return
	}

	reg.mu.Lock()
	expired := !reg.ExpiresAt.IsZero() && time.Now().After(reg.ExpiresAt)
	reg.mu.Unlock()
	if expired {
		s.Unregister(c.Request.URL.Path)
		c.Status(http.StatusGone)
		return
	}

	body, err := parseBody(c.Request)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event := Event{
		Path:       c.Request.URL.Path,
		Body:       body,
		Headers:    map[string][]string(c.Request.Header),
		ReceivedAt: time.Now(),
	}

	if reg.Filter != nil {
		matched, err := reg.Filter(event)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if !matched {
			c.JSON(http.StatusOK, gin.H{"success": true, "received": reg.matchingCount(), "expected": reg.ExpectedEvents})
			return
		}
	}

	reg.mu.Lock()
	reg.events = append(reg.events, event)
	count := len(reg.events)
	if count >= reg.ExpectedEvents {
		reg.signalDoneLocked()
	}
	reg.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"eventId":  uuid.NewString(),
		"received": count,
		"expected": reg.ExpectedEvents,
	})
}

func parseBody(r *http.Request) (map[string]any, error) {
	contentType := r.Header.Get("Content-Type")
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("webhook: read body: %w", err)
	}
	if len(data) == 0 {
		return map[string]any{}, nil
	}

	switch {
	case strings.Contains(contentType, "application/json"):
		var out map[string]any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("webhook: decode JSON body: %w", err)
		}
		return out, nil
	case strings.Contains(contentType, "application/x-www-form-urlencoded"):
		values, err := url.ParseQuery(string(data))
		if err != nil {
			return nil, fmt.Errorf("webhook: decode form body: %w", err)
		}
		out := make(map[string]any, len(values))
		for k, v := range values {
			if len(v) == 1 {
				out[k] = v[0]
			} else {
				out[k] = v
			}
		}
		return out, nil
	default:
		return map[string]any{"raw": string(data)}, nil
	}
}
