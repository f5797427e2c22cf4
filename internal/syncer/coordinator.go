package syncer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/keithlinneman/linnemanlabs-contentsync/internal/api"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/auth"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/content"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/language"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/log"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/notify"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/store"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/subscription"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/xerrors"
)

const (
	// DefaultWaveConcurrency bounds parallel fetches in one sync wave.
	DefaultWaveConcurrency = 8

	// DefaultPrefetchConcurrency bounds parallel image prefetches.
	DefaultPrefetchConcurrency = 4

	prefetchTimeout = 30 * time.Second
)

// ErrNotAuthenticated is returned by scope syncs attempted before the
// session authenticated. The scope stays subscribed and is picked up by
// the next wave.
var ErrNotAuthenticated = errors.New("syncer: session not authenticated")

// ErrSuperseded is returned when Reset ran while a fetch or wave was in
// progress. Its result is dropped so it never reaches the next project.
var ErrSuperseded = errors.New("syncer: configuration changed during sync")

// API is the part of the REST client the coordinator needs.
type API interface {
	FetchTab(ctx context.Context, cr api.Credentials, tab string) (content.Translations, error)
	FetchColors(ctx context.Context, cr api.Credentials) (map[string]string, error)
	FetchImages(ctx context.Context, cr api.Credentials) (map[string]string, error)
	FetchStore(ctx context.Context, cr api.Credentials, apiIdentifier string) ([]content.Record, error)
	Prefetch(ctx context.Context, rawURL string) error
}

// Session is the part of the auth session the coordinator needs.
type Session interface {
	Authenticate(ctx context.Context) (*auth.Credential, error)
	Authenticated() bool
	APICredentials() api.Credentials
}

// Metrics is implemented by the metrics package to observe sync behavior.
type Metrics interface {
	ObserveSync(kind, outcome string, seconds float64)
	IncSyncDeduped(kind string)
	IncPrefetch(outcome string)
	SetLastInitialSync(unixSeconds float64)
}

type Options struct {
	API       API
	Session   Session
	Cache     *content.Cache
	Registry  *subscription.Registry
	Languages *language.Resolver
	Store     store.Store
	Changes   *notify.Hub[Change]
	Metrics   Metrics
	Logger    log.Logger

	WaveConcurrency     int
	PrefetchConcurrency int
	DisablePrefetch     bool
}

// Coordinator owns the in-flight markers and runs every content fetch.
type Coordinator struct {
	api       API
	session   Session
	cache     *content.Cache
	registry  *subscription.Registry
	languages *language.Resolver
	store     store.Store
	changes   *notify.Hub[Change]
	metrics   Metrics
	logger    log.Logger

	waveLimit     int
	prefetchLimit int
	prefetch      bool

	// background work started from getters and prefetch
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup

	// applies of fetched content hold mu for reading; Reset swaps the
	// epoch under the write lock
	mu    sync.RWMutex
	epoch *epoch

	initialDone atomic.Bool
	lastWave    atomic.Int64
}

func New(opts Options) (*Coordinator, error) {
	if opts.API == nil || opts.Session == nil {
		return nil, xerrors.New("syncer: API and Session are required")
	}
	if opts.Cache == nil {
		opts.Cache = content.NewCache()
	}
	if opts.Registry == nil {
		opts.Registry = subscription.New()
	}
	if opts.Store == nil {
		opts.Store = store.NewMemory()
	}
	if opts.Languages == nil {
		opts.Languages = language.NewResolver(language.Options{Store: opts.Store, Logger: opts.Logger})
	}
	logger := log.OrNop(opts.Logger)
	if opts.Changes == nil {
		opts.Changes = notify.NewHub[Change]("content", logger)
	}
	wave := opts.WaveConcurrency
	if wave <= 0 {
		wave = DefaultWaveConcurrency
	}
	pf := opts.PrefetchConcurrency
	if pf <= 0 {
		pf = DefaultPrefetchConcurrency
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		api:           opts.API,
		session:       opts.Session,
		cache:         opts.Cache,
		registry:      opts.Registry,
		languages:     opts.Languages,
		store:         opts.Store,
		changes:       opts.Changes,
		metrics:       opts.Metrics,
		logger:        logger,
		waveLimit:     wave,
		prefetchLimit: pf,
		prefetch:      !opts.DisablePrefetch,
		bgCtx:         ctx,
		bgCancel:      cancel,
		epoch:         newEpoch(ctx, 1),
	}, nil
}

// epoch is the lifetime of one configuration. Its context is cancelled by
// Reset so fetches still running for the previous project stop early.
type epoch struct {
	id       uint64
	ctx      context.Context
	cancel   context.CancelFunc
	inflight *inflight
}

func newEpoch(parent context.Context, id uint64) *epoch {
	ctx, cancel := context.WithCancel(parent)
	return &epoch{id: id, ctx: ctx, cancel: cancel, inflight: newInflight()}
}

func (c *Coordinator) current() *epoch {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

// within runs fn only while ep is still the current epoch. Reset cannot
// complete while fn runs. fn must not call back into the coordinator.
func (c *Coordinator) within(ep *epoch, fn func()) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.epoch != ep {
		return false
	}
	fn()
	return true
}

// bind returns ctx cancelled also when ep ends.
func bind(ctx context.Context, ep *epoch) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(ep.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Changes returns the hub content changes are emitted on.
func (c *Coordinator) Changes() *notify.Hub[Change] { return c.changes }

// InitialSyncDone reports whether an initial wave has completed since the
// last Reset.
func (c *Coordinator) InitialSyncDone() bool { return c.initialDone.Load() }

// LastInitialSync returns when the last wave finished, zero if never.
func (c *Coordinator) LastInitialSync() time.Time {
	ns := c.lastWave.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Reset starts a new epoch on reconfiguration. Work from the previous
// epoch is cancelled and whatever it still fetches is discarded. When Reset
// returns no earlier fetch is writing to the cache, registry or store.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	old := c.epoch
	c.epoch = newEpoch(c.bgCtx, old.id+1)
	c.initialDone.Store(false)
	c.mu.Unlock()
	old.cancel()
}

type request struct {
	force  bool
	quiet  bool // no per-scope persist or change, the wave does both once
	reason Reason
}

func (c *Coordinator) SyncTab(ctx context.Context, tab string, force bool) error {
	return c.sync(ctx, c.current(), scope{kind: KindTab, name: tab}, requestFor(force))
}

func (c *Coordinator) SyncColors(ctx context.Context, force bool) error {
	return c.sync(ctx, c.current(), scope{kind: KindColors}, requestFor(force))
}

func (c *Coordinator) SyncImages(ctx context.Context, force bool) error {
	return c.sync(ctx, c.current(), scope{kind: KindImages}, requestFor(force))
}

// SyncStore fetches a data store. A successful fetch also subscribes it.
func (c *Coordinator) SyncStore(ctx context.Context, apiIdentifier string, force bool) error {
	return c.sync(ctx, c.current(), scope{kind: KindStore, name: apiIdentifier}, requestFor(force))
}

func requestFor(force bool) request {
	if force {
		return request{force: true, reason: ReasonForced}
	}
	return request{reason: ReasonSync}
}

// Go runs fn on a tracked background goroutine. Its context ends with the
// current configuration or with Close. Getters use it to schedule fetches
// without waiting.
func (c *Coordinator) Go(fn func(ctx context.Context)) {
	ep := c.current()
	if ep.ctx.Err() != nil {
		return
	}
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		fn(ep.ctx)
	}()
}

// Close cancels background work and waits for it to finish.
func (c *Coordinator) Close() {
	c.bgCancel()
	c.bg.Wait()
}

func (c *Coordinator) sync(ctx context.Context, ep *epoch, sc scope, req request) error {
	if sc.kind == KindTab || sc.kind == KindStore {
		if sc.name == "" {
			return xerrors.Newf("syncer: empty %s name", sc.kind)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.session.Authenticated() {
		c.logger.Debug(ctx, "syncer: skipping fetch before authentication", "scope", sc.key())
		return ErrNotAuthenticated
	}

	ctx, stop := bind(ctx, ep)
	defer stop()

	key := sc.key()
	if !ep.inflight.begin(key, req.force) {
		if c.metrics != nil {
			c.metrics.IncSyncDeduped(string(sc.kind))
		}
		c.logger.Debug(ctx, "syncer: fetch already in flight", "scope", key, "force", req.force)
		return nil
	}

	var err error
	for {
		err = c.fetch(ctx, ep, sc, req)
		if !ep.inflight.end(key) {
			break
		}
		c.logger.Debug(ctx, "syncer: running queued forced fetch", "scope", key)
		req.force = true
	}
	return err
}

// fetch performs one fetch and, on success, replaces the scope if ep is
// still current.
func (c *Coordinator) fetch(ctx context.Context, ep *epoch, sc scope, req request) (err error) {
	ctx, span := otelx.Start(ctx, "syncer.fetch",
		attribute.String("contentsync.scope", sc.key()),
		attribute.String("contentsync.reason", string(req.reason)),
		attribute.Bool("contentsync.force", req.force),
	)
	defer func() { otelx.End(span, err) }()

	start := time.Now()
	cr := c.session.APICredentials()

	var replace func()
	switch sc.kind {
	case KindTab:
		var t content.Translations
		if t, err = c.api.FetchTab(ctx, cr, sc.name); err == nil {
			replace = func() {
				c.cache.ReplaceTab(sc.name, t)
				c.registry.MarkTabKnown(sc.name)
			}
		}
	case KindColors:
		var m map[string]string
		if m, err = c.api.FetchColors(ctx, cr); err == nil {
			replace = func() { c.cache.ReplaceColors(m) }
		}
	case KindImages:
		var m map[string]string
		if m, err = c.api.FetchImages(ctx, cr); err == nil {
			replace = func() { c.cache.ReplaceImages(m) }
		}
	case KindStore:
		var rs []content.Record
		if rs, err = c.api.FetchStore(ctx, cr, sc.name); err == nil {
			replace = func() {
				c.cache.ReplaceStore(sc.name, rs)
				c.registry.MarkStoreKnown(sc.name)
				c.registry.SubscribeStore(sc.name)
			}
		}
	default:
		err = xerrors.Newf("syncer: unknown scope kind %q", sc.kind)
	}

	dur := time.Since(start).Seconds()
	if err == nil {
		applied := c.within(ep, func() {
			replace()
			if !req.quiet {
				c.persist()
			}
		})
		if !applied {
			err = ErrSuperseded
		}
	}
	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrSuperseded) || ep.ctx.Err() != nil {
			outcome = "superseded"
			c.logger.Debug(ctx, "syncer: dropping fetch from a previous configuration", "scope", sc.key())
		} else {
			c.logger.Error(ctx, err, "syncer: fetch failed, keeping cached content",
				"scope", sc.key(),
				"force", req.force,
			)
		}
		if c.metrics != nil {
			c.metrics.ObserveSync(string(sc.kind), outcome, dur)
		}
		return err
	}

	if c.metrics != nil {
		c.metrics.ObserveSync(string(sc.kind), "ok", dur)
	}
	c.logger.Debug(ctx, "syncer: scope replaced", "scope", sc.key(), "reason", string(req.reason))

	if sc.kind == KindImages {
		c.prefetchImages()
	}
	if !req.quiet {
		c.changes.Notify(ctx, Change{Reason: req.reason, Kind: sc.kind, Name: sc.name})
	}
	return nil
}

func (c *Coordinator) persist() {
	content.Persist(c.store, c.cache)
	c.registry.PersistKnown(c.store)
	c.languages.Persist()
}

// prefetchImages warms every image URL in the background with bounded
// concurrency. Failures are counted and logged at debug only.
func (c *Coordinator) prefetchImages() {
	if !c.prefetch {
		return
	}
	urls := c.cache.ImageURLs()
	if len(urls) == 0 {
		return
	}
	c.Go(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, prefetchTimeout)
		defer cancel()

		var g errgroup.Group
		g.SetLimit(c.prefetchLimit)
		for _, u := range urls {
			g.Go(func() error {
				err := c.api.Prefetch(ctx, u)
				outcome := "ok"
				if err != nil {
					outcome = "error"
					c.logger.Debug(ctx, "syncer: image prefetch failed", "url", u, "error", err)
				}
				if c.metrics != nil {
					c.metrics.IncPrefetch(outcome)
				}
				return nil
			})
		}
		_ = g.Wait()
	})
}

// AuthenticateAndSync authenticates, then fetches every tab the auth
// response lists plus every known or subscribed tab and store, colors and
// images. One failed scope does not abort the others. Only an
// authentication failure is returned.
func (c *Coordinator) AuthenticateAndSync(ctx context.Context) (err error) {
	ctx, span := otelx.Start(ctx, "syncer.initial_sync")
	defer func() { otelx.End(span, err) }()

	ep := c.current()
	ctx, stop := bind(ctx, ep)
	defer stop()

	start := time.Now()
	cred, err := c.session.Authenticate(ctx)
	if err != nil {
		return err
	}
	if !c.within(ep, func() { c.languages.SetAvailable(cred.AvailableLanguages) }) {
		return ErrSuperseded
	}

	sub := c.registry.Subscribed()
	tabs := union(cred.Tabs, c.registry.KnownTabs(), sub.Tabs)
	stores := union(c.registry.KnownStores(), sub.Stores)

	scopes := make([]scope, 0, len(tabs)+len(stores)+2)
	for _, t := range tabs {
		scopes = append(scopes, scope{kind: KindTab, name: t})
	}
	for _, s := range stores {
		scopes = append(scopes, scope{kind: KindStore, name: s})
	}
	scopes = append(scopes, scope{kind: KindColors}, scope{kind: KindImages})

	failed := c.wave(ctx, ep, scopes, request{quiet: true, reason: ReasonInitialSync})

	var (
		lang string
		src  language.Source
		now  time.Time
	)
	settled := c.within(ep, func() {
		lang, src, _ = c.languages.Resolve(ctx)
		c.persist()
		now = time.Now()
		c.lastWave.Store(now.UnixNano())
		c.initialDone.Store(true)
	})
	if !settled {
		c.logger.Debug(ctx, "syncer: initial sync superseded by reconfiguration")
		return ErrSuperseded
	}
	if c.metrics != nil {
		c.metrics.SetLastInitialSync(float64(now.Unix()))
	}

	c.logger.Info(ctx, "syncer: initial sync complete",
		"tabs", len(tabs),
		"stores", len(stores),
		"failed", failed,
		"language", lang,
		"language_source", string(src),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	c.changes.Notify(ctx, Change{Reason: ReasonInitialSync, Kind: KindAll})
	return nil
}

// RefreshSubscribed force-syncs every subscribed scope and waits for all of
// them to settle. Each scope emits its own change tagged with reason.
func (c *Coordinator) RefreshSubscribed(ctx context.Context, reason Reason) {
	sub := c.registry.Subscribed()
	if sub.Empty() {
		return
	}
	scopes := make([]scope, 0, len(sub.Tabs)+len(sub.Stores)+2)
	for _, t := range sub.Tabs {
		scopes = append(scopes, scope{kind: KindTab, name: t})
	}
	for _, s := range sub.Stores {
		scopes = append(scopes, scope{kind: KindStore, name: s})
	}
	if sub.Colors {
		scopes = append(scopes, scope{kind: KindColors})
	}
	if sub.Images {
		scopes = append(scopes, scope{kind: KindImages})
	}
	failed := c.wave(ctx, c.current(), scopes, request{force: true, reason: reason})
	c.logger.Debug(ctx, "syncer: refreshed subscribed scopes",
		"reason", string(reason),
		"scopes", len(scopes),
		"failed", failed,
	)
}

// RefreshScope force-syncs one scope if it is known or subscribed and
// reports whether a fetch was attempted. Unsolicited scopes are ignored.
func (c *Coordinator) RefreshScope(ctx context.Context, kind Kind, name string, reason Reason) bool {
	var ok bool
	switch kind {
	case KindTab:
		ok = c.registry.TabKnown(name) || c.registry.TabSubscribed(name)
	case KindStore:
		ok = c.registry.StoreKnown(name) || c.registry.StoreSubscribed(name)
	case KindColors:
		ok = c.registry.ColorsSubscribed() || c.cache.HasColors()
	case KindImages:
		ok = c.registry.ImagesSubscribed() || c.cache.HasImages()
	}
	if !ok {
		c.logger.Debug(ctx, "syncer: ignoring change for unsolicited scope", "kind", string(kind), "name", name)
		return false
	}
	_ = c.sync(ctx, c.current(), scope{kind: kind, name: name}, request{force: true, reason: reason})
	return true
}

// wave runs every scope concurrently, waits for all to settle and returns
// how many failed.
func (c *Coordinator) wave(ctx context.Context, ep *epoch, scopes []scope, req request) int {
	var (
		g      errgroup.Group
		failed atomic.Int32
	)
	g.SetLimit(c.waveLimit)
	for _, sc := range scopes {
		g.Go(func() error {
			if err := c.sync(ctx, ep, sc, req); err != nil {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(failed.Load())
}

func union(sets ...[]string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, s := range sets {
		for _, v := range s {
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
