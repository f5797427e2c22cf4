// Package auth owns the session credentials: the project configuration and
// the bearer token obtained from the CMS.
package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/keithlinneman/linnemanlabs-contentsync/internal/api"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/log"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/store"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/xerrors"
)

// Durable keys owned by the session.
const (
	KeyAuthToken          = "auth_token"
	KeyAvailableLanguages = "available_languages"
)

// Config is the per-session project configuration.
type Config struct {
	ProjectID       string
	APIKey          string
	DefaultLanguage string
	ProjectSecret   string
}

// Validate reports missing required fields as a *ConfigurationError.
func (c Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.ProjectID) == "" {
		missing = append(missing, "projectId")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		missing = append(missing, "apiKey")
	}
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}
	return nil
}

// Credential is the result of a successful authentication.
type Credential struct {
	Token              string   `json:"token"`
	AvailableLanguages []string `json:"availableLanguages"`
	Tabs               []string `json:"tabs,omitempty"`
	Stores             []string `json:"stores,omitempty"`
}

// Authenticator is the part of the REST client the session needs.
type Authenticator interface {
	Authenticate(ctx context.Context, req api.AuthRequest) (*api.AuthResponse, error)
}

type Options struct {
	API    Authenticator
	Store  store.Store
	Logger log.Logger
}

// Session holds the active configuration and credential.
type Session struct {
	api    Authenticator
	store  store.Store
	logger log.Logger

	mu   sync.RWMutex
	cfg  Config
	cred *Credential
	// live is set once the CMS accepted the credentials this session; a
	// restored credential alone does not count
	live bool
}

func NewSession(opts Options) *Session {
	st := opts.Store
	if st == nil {
		st = store.NewMemory()
	}
	return &Session{
		api:    opts.API,
		store:  st,
		logger: log.OrNop(opts.Logger),
	}
}

// Configure validates and installs cfg, dropping any previous credential.
// Persisted languages for the project are loaded so lookups can work before
// the first authentication completes.
func (s *Session) Configure(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		s.logger.Error(ctx, err, "auth: invalid configuration")
		return err
	}

	s.mu.Lock()
	s.cfg = cfg
	s.cred = nil
	s.live = false
	var langs []string
	if store.GetJSON(s.store, KeyAvailableLanguages, &langs) && len(langs) > 0 {
		tok, _ := s.store.Get(KeyAuthToken)
		s.cred = &Credential{Token: string(tok), AvailableLanguages: langs}
	}
	s.mu.Unlock()
	return nil
}

// Authenticate exchanges the configured credentials for a token. There is no
// automatic retry; callers refresh explicitly.
func (s *Session) Authenticate(ctx context.Context) (*Credential, error) {
	cfg := s.Config()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if s.api == nil {
		return nil, xerrors.New("auth: no API client configured")
	}

	resp, err := s.api.Authenticate(ctx, api.AuthRequest{ProjectID: cfg.ProjectID, APIKey: cfg.APIKey})
	if err != nil {
		aerr := &AuthenticationError{ProjectID: cfg.ProjectID, Err: err}
		var se *api.StatusError
		if xerrors.As(err, &se) {
			aerr.Status = se.Status
		}
		s.logger.Error(ctx, aerr, "auth: authentication failed", "project_id", cfg.ProjectID)
		return nil, aerr
	}
	if !resp.Success || resp.Token == "" {
		msg := resp.Message
		if msg == "" {
			msg = "authentication rejected"
		}
		aerr := &AuthenticationError{ProjectID: cfg.ProjectID, Err: xerrors.New(msg)}
		s.logger.Error(ctx, aerr, "auth: authentication failed", "project_id", cfg.ProjectID)
		return nil, aerr
	}

	cred := &Credential{
		Token:              resp.Token,
		AvailableLanguages: dedupe(resp.AvailableLanguages),
		Tabs:               dedupe(resp.Tabs),
		Stores:             dedupe(resp.Stores),
	}

	s.mu.Lock()
	// a Configure for another project may have raced us
	if s.cfg.ProjectID != cfg.ProjectID {
		s.mu.Unlock()
		return nil, &AuthenticationError{ProjectID: cfg.ProjectID, Err: xerrors.New("configuration changed during authentication")}
	}
	s.cred = cred
	s.live = true
	s.mu.Unlock()

	s.store.Set(KeyAuthToken, []byte(cred.Token))
	store.SetJSON(s.store, KeyAvailableLanguages, cred.AvailableLanguages)

	s.logger.Info(ctx, "auth: authenticated",
		"project_id", cfg.ProjectID,
		"languages", len(cred.AvailableLanguages),
		"tabs", len(cred.Tabs),
		"stores", len(cred.Stores),
	)
	return cred, nil
}

func (s *Session) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Credential returns a copy of the active credential, or nil.
func (s *Session) Credential() *Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return nil
	}
	cp := *s.cred
	cp.AvailableLanguages = append([]string(nil), s.cred.AvailableLanguages...)
	cp.Tabs = append([]string(nil), s.cred.Tabs...)
	cp.Stores = append([]string(nil), s.cred.Stores...)
	return &cp
}

// Token returns the bearer token, or "" before authentication.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return ""
	}
	return s.cred.Token
}

// Authenticated reports whether Authenticate succeeded for the current
// configuration.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live
}

func (s *Session) AvailableLanguages() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return nil
	}
	return append([]string(nil), s.cred.AvailableLanguages...)
}

// APICredentials returns what data calls need.
func (s *Session) APICredentials() api.Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := api.Credentials{ProjectID: s.cfg.ProjectID}
	if s.cred != nil {
		c.Token = s.cred.Token
	}
	return c
}

// ExpiresAt reads the exp claim of a JWT token without verifying it. The
// CMS is the verifier; this is only used to schedule a refresh.
func (s *Session) ExpiresAt() (time.Time, bool) {
	return TokenExpiry(s.Token())
}

func TokenExpiry(token string) (time.Time, bool) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Reset drops the configuration and credential.
func (s *Session) Reset() {
	s.mu.Lock()
	s.cfg = Config{}
	s.cred = nil
	s.live = false
	s.mu.Unlock()
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// ConfigurationError reports missing required configuration.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("contentsync: missing required configuration: %s", strings.Join(e.Missing, ", "))
}

// AuthenticationError reports rejected credentials or a non-2xx auth
// response. The session stays unauthenticated until the next refresh.
type AuthenticationError struct {
	ProjectID string
	Status    int
	Err       error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("contentsync: authentication failed for project %q: %v", e.ProjectID, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }
