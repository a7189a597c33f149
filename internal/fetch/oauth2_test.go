package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
)

func TestTokenRefresherRefreshUpdatesCredential(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"new-token","expires_in":3600}`))
	}))
	defer srv.Close()

	cred := &Credential{RefreshToken: "refresh-1", TokenURL: srv.URL}
	refresher := NewTokenRefresher(resty.New())

	if err := refresher.Refresh(context.Background(), "src", cred); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	token, expiresAt := cred.Token()
	if token != "new-token" {
		t.Fatalf("got token %q, want new-token", token)
	}
	if expiresAt.IsZero() {
		t.Fatal("expected expiresAt to be set")
	}
}

func TestTokenRefresherSingleFlightsConcurrentRefreshes(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
	}))
	defer srv.Close()

	cred := &Credential{RefreshToken: "refresh-1", TokenURL: srv.URL}
	refresher := NewTokenRefresher(resty.New())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = refresher.Refresh(context.Background(), "src", cred)
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly 1 refresh call, got %d", calls)
	}
}

func TestCredentialIsExpired(t *testing.T) {
	cred := &Credential{}
	if cred.IsExpired() {
		t.Fatal("a credential with no expiry should not report expired")
	}
	cred.set("tok", -time.Second)
	if !cred.IsExpired() {
		t.Fatal("expected an expiry in the past to report expired")
	}
}
