package contentsync

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/keithlinneman/linnemanlabs-contentsync/internal/api"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/auth"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/binding"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/content"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/language"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/log"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/notify"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/realtime"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/store"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/subscription"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/syncer"
)

type Options struct {
	// BaseURL is the CMS origin serving /api/sdk.
	BaseURL    string
	HTTPClient *http.Client
	// RequestsPerSecond limits REST calls; zero uses the api default.
	RequestsPerSecond float64

	// RealtimeURL is the change feed endpoint. Live updates are enabled
	// when it (or RealtimeDialer) is set and the project has a secret.
	RealtimeURL    string
	RealtimeDialer realtime.Dialer

	// Store persists the cache and session between runs, namespaced per
	// project. Nil keeps everything in memory.
	Store Store

	// HostLanguages overrides the host language preference list.
	HostLanguages func() []string

	DisablePrefetch bool

	// UserAgent is sent on REST calls; empty uses the api default.
	UserAgent string

	Logger  log.Logger
	Metrics Metrics
}

// Client is the content engine. It is safe for concurrent use.
type Client struct {
	logger  log.Logger
	metrics Metrics

	api       *api.Client
	base      store.Store
	storage   *store.Switch
	session   *auth.Session
	cache     *content.Cache
	registry  *subscription.Registry
	languages *language.Resolver
	sync      *syncer.Coordinator
	bindings  *binding.Registry
	langHub   *notify.Hub[LanguageChange]
	dialer    realtime.Dialer

	ctx    context.Context
	cancel context.CancelFunc
	unreg  []func()

	mu sync.Mutex
	rt *realtime.Channel
}

func New(opts Options) (*Client, error) {
	logger := log.OrNop(opts.Logger).With("component", "contentsync")

	apiClient, err := api.New(api.Options{
		BaseURL:           opts.BaseURL,
		HTTPClient:        opts.HTTPClient,
		RequestsPerSecond: opts.RequestsPerSecond,
		UserAgent:         opts.UserAgent,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}

	dialer := opts.RealtimeDialer
	if dialer == nil && opts.RealtimeURL != "" {
		wd, err := realtime.NewWebSocketDialer(realtime.WebSocketOptions{URL: opts.RealtimeURL})
		if err != nil {
			return nil, err
		}
		dialer = wd
	}

	base := opts.Store
	if base == nil {
		base = store.NewMemory()
	}
	// nothing is persisted under the base store until a project is configured
	storage := store.NewSwitch(store.NewMemory())

	cache := content.NewCache()
	registry := subscription.New()
	languages := language.NewResolver(language.Options{
		Store:         storage,
		HostLanguages: opts.HostLanguages,
		Logger:        logger,
	})
	session := auth.NewSession(auth.Options{API: apiClient, Store: storage, Logger: logger})

	var sm syncer.Metrics
	var bm binding.Metrics
	if opts.Metrics != nil {
		sm, bm = opts.Metrics, opts.Metrics
	}
	coord, err := syncer.New(syncer.Options{
		API:             apiClient,
		Session:         session,
		Cache:           cache,
		Registry:        registry,
		Languages:       languages,
		Store:           storage,
		Changes:         notify.NewHub[syncer.Change]("content", logger),
		Metrics:         sm,
		Logger:          logger,
		DisablePrefetch: opts.DisablePrefetch,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		logger:    logger,
		metrics:   opts.Metrics,
		api:       apiClient,
		base:      base,
		storage:   storage,
		session:   session,
		cache:     cache,
		registry:  registry,
		languages: languages,
		sync:      coord,
		langHub:   notify.NewHub[LanguageChange]("language", logger),
		dialer:    dialer,
		ctx:       ctx,
		cancel:    cancel,
	}
	c.bindings = binding.NewRegistry(binding.Options{Lookup: c, Logger: logger, Metrics: bm})
	c.unreg = append(c.unreg,
		coord.Changes().Register(func(syncer.Change) { c.bindings.Refresh(c.ctx) }),
		c.langHub.Register(func(LanguageChange) { c.bindings.Refresh(c.ctx) }),
	)
	return c, nil
}

// Configure installs cfg, restores what was persisted for the project,
// authenticates and runs the initial sync, then opens the realtime channel
// when the project has a secret. It returns a *ConfigurationError or an
// *AuthenticationError; per-scope fetch failures are only logged.
func (c *Client) Configure(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		c.logger.Error(ctx, err, "contentsync: invalid configuration")
		return err
	}
	c.stopRealtime()

	// drop the old credential and epoch before switching storage so no
	// fetch for the previous project can land in the new namespace
	c.session.Reset()
	c.sync.Reset()
	c.storage.Use(store.Namespaced(c.base, cfg.ProjectID))
	c.registry.Reset()
	c.cache.Reset()
	c.languages.Reset(cfg.DefaultLanguage)

	if err := c.session.Configure(ctx, cfg); err != nil {
		return err
	}
	c.languages.SetAvailable(c.session.AvailableLanguages())
	restored := content.Restore(c.storage, c.cache)
	c.registry.RestoreKnown(c.storage)
	c.logger.Info(ctx, "contentsync: configured",
		"project_id", cfg.ProjectID,
		"restored_cache", restored,
		"realtime", cfg.ProjectSecret != "" && c.dialer != nil,
		"secret_fingerprint", cryptoutil.Fingerprint(cfg.ProjectSecret),
	)
	c.bindings.Refresh(ctx)

	return c.Refresh(ctx)
}

// Refresh re-authenticates and re-syncs everything known or subscribed.
// It also opens the realtime channel if it is not running yet.
func (c *Client) Refresh(ctx context.Context) error {
	if err := c.sync.AuthenticateAndSync(ctx); err != nil {
		if errors.Is(err, syncer.ErrSuperseded) {
			c.logger.Debug(ctx, "contentsync: refresh superseded by a newer Configure")
			return err
		}
		c.logger.Error(ctx, err, "contentsync: authentication failed")
		return err
	}
	c.startRealtime()
	return nil
}

func (c *Client) startRealtime() {
	cfg := c.session.Config()
	if cfg.ProjectSecret == "" || c.dialer == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rt != nil || c.ctx.Err() != nil {
		return
	}
	var rm realtime.Metrics
	if c.metrics != nil {
		rm = c.metrics
	}
	ch, err := realtime.New(realtime.Options{
		ProjectID:     cfg.ProjectID,
		ProjectSecret: cfg.ProjectSecret,
		Dialer:        c.dialer,
		Syncer:        c.sync,
		Logger:        c.logger,
		Metrics:       rm,
	})
	if err != nil {
		c.logger.Error(c.ctx, err, "contentsync: realtime disabled")
		return
	}
	ch.Start(c.ctx)
	c.rt = ch
}

func (c *Client) stopRealtime() {
	c.mu.Lock()
	ch := c.rt
	c.rt = nil
	c.mu.Unlock()
	if ch != nil {
		ch.Close()
	}
}

// RealtimeState reports the change feed state, "disconnected" when none is
// open.
func (c *Client) RealtimeState() string {
	c.mu.Lock()
	ch := c.rt
	c.mu.Unlock()
	if ch == nil {
		return realtime.StateDisconnected.String()
	}
	return ch.State().String()
}

// Ready reports whether the session authenticated and the initial sync
// completed.
func (c *Client) Ready() bool {
	return c.session.Authenticated() && c.sync.InitialSyncDone()
}

// ExpiresAt returns the token expiry when the token carries one.
func (c *Client) ExpiresAt() (time.Time, bool) { return c.session.ExpiresAt() }

// Close stops the realtime channel and background syncs. The Client must
// not be used afterwards.
func (c *Client) Close() {
	c.stopRealtime()
	c.cancel()
	c.sync.Close()
	for _, u := range c.unreg {
		u()
	}
}
