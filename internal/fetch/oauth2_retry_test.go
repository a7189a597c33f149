package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/reqon/reqon/internal/mission"
)

// TestClientRefreshesAndRetriesOn401WithSingleAttemptBudget exercises
// spec.md §4.3 point 7's "exactly one in-band oauth2 refresh-then-retry"
// with the default retry policy (maxAttempts == 1): the refresh-retry
// must happen even though the transient-failure budget alone would
// allow only a single request.
func TestClientRefreshesAndRetriesOn401WithSingleAttemptBudget(t *testing.T) {
	var tokenCalls int32
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"fresh-token","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	var apiCalls int32
	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&apiCalls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer apiSrv.Close()

	source := newTestSource(apiSrv.URL)
	source.Auth = mission.AuthOAuth2
	source.Retry.MaxAttempts = 1

	cred := &Credential{RefreshToken: "refresh-1", TokenURL: tokenSrv.URL}
	c := New(source, cred)

	resp, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/invoices"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200 after refresh-retry", resp.StatusCode)
	}
	if atomic.LoadInt32(&tokenCalls) != 1 {
		t.Fatalf("expected exactly 1 refresh call, got %d", tokenCalls)
	}
	if atomic.LoadInt32(&apiCalls) != 2 {
		t.Fatalf("expected exactly 2 /invoices calls, got %d", apiCalls)
	}
}
