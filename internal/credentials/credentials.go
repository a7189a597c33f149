// Package credentials loads the JSON credentials file spec.md §6
// describes: a map from source name to a credential object whose
// shape depends on its `type` (bearer, basic, api_key, oauth2).
// Grounded on the teacher's runtime.InitializeConfig (defaults →
// value-merge → validate, runtime/config.go) and mapToStruct
// (runtime/converter.go): each variant gets creasty/defaults for
// optional fields, mapstructure to decode the raw JSON map, and
// go-playground/validator to enforce the "exactly one of header/query"
// and required-field rules spec.md §6 lists.
package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/reqon/reqon/internal/fetch"
)

// Type names the four credential variants a source may declare.
type Type string

const (
	Bearer Type = "bearer"
	Basic  Type = "basic"
	APIKey Type = "api_key"
	OAuth2 Type = "oauth2"
)

// Raw is one source's credential entry before its variant is decoded.
type Raw struct {
	Type Type `json:"type"`
	Data map[string]any
}

func (r *Raw) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	t, _ := m["type"].(string)
	r.Type = Type(t)
	r.Data = m
	return nil
}

// Bearer/Basic/APIKeyCred/OAuth2 mirror the JSON shapes spec.md §6
// lists verbatim, with `validate` tags enforcing its required-field
// rules.
type BearerCred struct {
	Token string `json:"token" validate:"required"`
}

type BasicCred struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type APIKeyCred struct {
	Key    string `json:"key" validate:"required"`
	Header string `json:"header" validate:"required_without=Query,excluded_with=Query"`
	Query  string `json:"query"`
	Prefix string `json:"prefix" default:""`
}

type OAuth2Cred struct {
	ClientID     string     `json:"clientId" validate:"required"`
	ClientSecret string     `json:"clientSecret" validate:"required"`
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	TokenURL     string     `json:"tokenUrl" validate:"required"`
	Scopes       []string   `json:"scopes"`
	ExpiresAt    *time.Time `json:"expiresAt"`
}

var envPlaceholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces every `${NAME}` occurrence in s with the process
// environment's value for NAME (empty string if unset), per spec.md
// §6's "Values may contain ${ENV_VAR} placeholders, expanded at load
// time."
func expandEnv(s string) string {
	return envPlaceholder.ReplaceAllStringFunc(s, func(m string) string {
		name := envPlaceholder.FindStringSubmatch(m)[1]
		return os.Getenv(name)
	})
}

func expandEnvDeep(v any) any {
	switch val := v.(type) {
	case string:
		return expandEnv(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = expandEnvDeep(vv)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = expandEnvDeep(vv)
		}
		return out
	default:
		return v
	}
}

var validate = validator.New()

func decode(data map[string]any, target any) error {
	if err := defaults.Set(target); err != nil {
		return fmt.Errorf("credentials: defaults: %w", err)
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  target,
		TagName: "json",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339),
		),
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("credentials: decoder: %w", err)
	}
	if err := decoder.Decode(data); err != nil {
		return fmt.Errorf("credentials: decode: %w", err)
	}
	if err := validate.Struct(target); err != nil {
		return fmt.Errorf("credentials: validate: %w", err)
	}
	return nil
}

// ToFetchCredential decodes r into the shape internal/fetch.Client
// expects for auth injection.
func (r *Raw) ToFetchCredential() (*fetch.Credential, error) {
	switch r.Type {
	case Bearer:
		var c BearerCred
		if err := decode(r.Data, &c); err != nil {
			return nil, err
		}
		return &fetch.Credential{AccessToken: c.Token}, nil
	case Basic:
		var c BasicCred
		if err := decode(r.Data, &c); err != nil {
			return nil, err
		}
		return &fetch.Credential{Username: c.Username, Password: c.Password}, nil
	case APIKey:
		var c APIKeyCred
		if err := decode(r.Data, &c); err != nil {
			return nil, err
		}
		return &fetch.Credential{
			APIKey:       c.Key,
			APIKeyHeader: c.Header,
			APIKeyQuery:  c.Query,
			APIKeyPrefix: c.Prefix,
		}, nil
	case OAuth2:
		var c OAuth2Cred
		if err := decode(r.Data, &c); err != nil {
			return nil, err
		}
		cred := &fetch.Credential{
			AccessToken:  c.AccessToken,
			RefreshToken: c.RefreshToken,
			TokenURL:     c.TokenURL,
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
		}
		if c.ExpiresAt != nil {
			cred.ExpiresAt = *c.ExpiresAt
		}
		return cred, nil
	default:
		return nil, fmt.Errorf("credentials: unknown type %q", r.Type)
	}
}

// Store loads a credentials file, decodes each entry on demand, and
// writes refreshed oauth2 tokens back to disk. One Store is shared by
// every source's *fetch.Client for the lifetime of a mission run.
type Store struct {
	mu      sync.Mutex
	path    string
	entries map[string]*Raw
}

// Load reads and parses the credentials file at path.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("credentials: read %s: %w", path, err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("credentials: parse %s: %w", path, err)
	}
	entries := make(map[string]*Raw, len(raw))
	for name, msg := range raw {
		var r Raw
		if err := json.Unmarshal(msg, &r); err != nil {
			return nil, fmt.Errorf("credentials: parse entry %q: %w", name, err)
		}
		r.Data = expandEnvDeep(r.Data).(map[string]any)
		entries[name] = &r
	}
	return &Store{path: path, entries: entries}, nil
}

// Resolve returns the fetch.Credential for sourceName, or nil if the
// source declares no credential entry (valid for AuthNone sources).
func (s *Store) Resolve(sourceName string) (*fetch.Credential, error) {
	s.mu.Lock()
	r, ok := s.entries[sourceName]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return r.ToFetchCredential()
}

// Persist rewrites the credentials file with sourceName's oauth2
// tokens updated, per spec.md §6: "the updated accessToken,
// refreshToken, and expiresAt are written back to the
// source-of-credentials." Called by the fetch engine's refresh
// callback after a successful token exchange.
func (s *Store) Persist(sourceName string, cred *fetch.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.entries[sourceName]
	if !ok || r.Type != OAuth2 {
		return nil
	}
	token, expiresAt := cred.Token()
	r.Data["accessToken"] = token
	if !expiresAt.IsZero() {
		r.Data["expiresAt"] = expiresAt.Format(time.RFC3339)
	}
	if rt := cred.RefreshTokenValue(); rt != "" {
		r.Data["refreshToken"] = rt
	}

	out := make(map[string]json.RawMessage, len(s.entries))
	for name, entry := range s.entries {
		b, err := json.Marshal(entry.Data)
		if err != nil {
			return fmt.Errorf("credentials: marshal %q: %w", name, err)
		}
		out[name] = b
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("credentials: marshal: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("credentials: write temp: %w", err)
	}
	return os.Rename(tmp, s.path)
}
