package webhook

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func postJSON(s *Server, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func TestServerUnknownPathReturns404(t *testing.T) {
	s := NewServer(":0")
	rec := postJSON(s, "/hooks/missing", `{}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("got %d, want 404", rec.Code)
	}
}

func TestServerRegistrationReceivesEventAndCompletes(t *testing.T) {
	s := NewServer(":0")
	reg := s.Register(1, time.Second, nil)

	rec := postJSON(s, reg.Path, `{"order_id":"abc"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}

	result, err := Wait(context.Background(), reg, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TimedOut {
		t.Fatal("expected the wait to complete, not time out")
	}
	if len(result.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(result.Events))
	}
	if result.Events[0].Body["order_id"] != "abc" {
		t.Fatalf("unexpected body: %+v", result.Events[0].Body)
	}
}

func TestServerWaitTimesOutWithoutEnoughEvents(t *testing.T) {
	s := NewServer(":0")
	reg := s.Register(2, 0, nil)

	postJSON(s, reg.Path, `{"n":1}`)

	result, err := Wait(context.Background(), reg, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.TimedOut {
		t.Fatal("expected a timeout since only 1 of 2 expected events arrived")
	}
	if len(result.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(result.Events))
	}
}

func TestServerWaitZeroTimeoutReturnsImmediately(t *testing.T) {
	s := NewServer(":0")
	reg := s.Register(1, 0, nil)

	result, err := Wait(context.Background(), reg, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Events) != 0 {
		t.Fatalf("expected no events yet, got %d", len(result.Events))
	}
}

func TestServerFilterRejectsNonMatchingEvents(t *testing.T) {
	s := NewServer(":0")
	reg := s.Register(1, time.Second, func(e Event) (bool, error) {
		status, _ := e.Body["status"].(string)
		return status == "paid", nil
	})

	postJSON(s, reg.Path, `{"status":"pending"}`)
	if reg.matchingCount() != 0 {
		t.Fatal("expected the non-matching event to be rejected")
	}

	postJSON(s, reg.Path, `{"status":"paid"}`)
	if reg.matchingCount() != 1 {
		t.Fatal("expected the matching event to be recorded")
	}
}

func TestServerExpiredRegistrationReturns410(t *testing.T) {
	s := NewServer(":0")
	reg := s.Register(1, time.Millisecond, nil)
	time.Sleep(5 * time.Millisecond)

	rec := postJSON(s, reg.Path, `{}`)
	if rec.Code != http.StatusGone {
		t.Fatalf("got %d, want 410", rec.Code)
	}
}

func TestServerSweepExpiredUnblocksWaiters(t *testing.T) {
	s := NewServer(":0")
	reg := s.Register(1, time.Millisecond, nil)
	time.Sleep(5 * time.Millisecond)
	s.SweepExpired(time.Now())

	result, err := Wait(context.Background(), reg, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Events) != 0 {
		t.Fatalf("expected no events, got %d", len(result.Events))
	}
}

func TestServerHealthEndpoint(t *testing.T) {
	s := NewServer(":0")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}
}
