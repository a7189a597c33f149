package fetch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/singleflight"
)

// Credential holds the live state for one source's auth, whatever its
// mode. Only the fields relevant to the source's mission.AuthMode are
// populated; Client.injectAuth reads the subset it needs. Grounded on
// spec.md §6's credentials-file variants (bearer/basic/api_key/oauth2),
// kept as one struct rather than four so the fetch engine's
// single-flight refresh and expiry bookkeeping apply uniformly.
type Credential struct {
	mu sync.RWMutex

	// bearer
	AccessToken string
	// basic
	Username string
	Password string
	// api_key
	APIKey       string
	APIKeyHeader string
	APIKeyQuery  string
	APIKeyPrefix string

	// oauth2
	RefreshToken string
	ExpiresAt    time.Time
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// Token returns the bearer/oauth2 access token and its known expiry.
func (c *Credential) Token() (string, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.AccessToken, c.ExpiresAt
}

func (c *Credential) set(token string, expiresIn time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.AccessToken = token
	if expiresIn > 0 {
		c.ExpiresAt = time.Now().Add(expiresIn)
	}
}

// IsExpired reports whether the credential's known expiry has passed.
func (c *Credential) IsExpired() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.ExpiresAt.IsZero() && time.Now().After(c.ExpiresAt)
}

// RefreshTokenValue returns the current refresh token under lock, for
// callers (e.g. credentials.Store.Persist) that need to write it back
// alongside a refreshed access token.
func (c *Credential) RefreshTokenValue() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.RefreshToken
}

// TokenRefresher exchanges a refresh token for a new access token,
// single-flighted per source so concurrent 401s trigger exactly one
// refresh call.
type TokenRefresher struct {
	client    *resty.Client
	group     singleflight.Group
	OnRefresh func(sourceName string, cred *Credential)
}

// NewTokenRefresher builds a refresher sharing an HTTP client with the
// rest of the source's traffic policy (timeout included).
func NewTokenRefresher(client *resty.Client) *TokenRefresher {
	return &TokenRefresher{client: client}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Refresh exchanges cred's refresh token for a new access token. A
// concurrent call for the same source reuses the in-flight result
// instead of issuing a second refresh request.
func (r *TokenRefresher) Refresh(ctx context.Context, sourceName string, cred *Credential) error {
	_, err, _ := r.group.Do(sourceName, func() (any, error) {
		if cred.RefreshToken == "" {
			return nil, fmt.Errorf("oauth2: no refresh token for source %q", sourceName)
		}

		form := strings.NewReader(fmt.Sprintf(
			"grant_type=refresh_token&refresh_token=%s&client_id=%s&client_secret=%s",
			cred.RefreshToken, cred.ClientID, cred.ClientSecret,
		))

		var out tokenResponse
		resp, err := r.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/x-www-form-urlencoded").
			SetBody(form).
			SetResult(&out).
			Post(cred.TokenURL)
		if err != nil {
			return nil, fmt.Errorf("oauth2: refresh request: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("oauth2: refresh failed with status %d", resp.StatusCode())
		}

		cred.set(out.AccessToken, time.Duration(out.ExpiresIn)*time.Second)
		if r.OnRefresh != nil {
			r.OnRefresh(sourceName, cred)
		}
		return nil, nil
	})
	return err
}
