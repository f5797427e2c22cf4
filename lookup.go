package contentsync

import (
	"context"

	"github.com/keithlinneman/linnemanlabs-contentsync/internal/binding"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/syncer"
)

// Translation returns key from tab in the active language, falling back to
// the first available language that has it and then to "[tab:key]". The
// tab is subscribed and fetched in the background if not cached.
func (c *Client) Translation(key, tab string) string {
	if tab == "" {
		return binding.TranslationFallback(tab, key)
	}
	c.registry.SubscribeTab(tab)
	if !c.cache.HasTab(tab) {
		c.background(func(ctx context.Context) { _ = c.sync.SyncTab(ctx, tab, false) })
	}
	if vals, ok := c.cache.Translation(tab, key); ok {
		if v, ok := c.languages.Pick(vals); ok {
			return v
		}
	}
	return binding.TranslationFallback(tab, key)
}

// Color returns the hex value of key or "".
func (c *Client) Color(key string) string {
	c.registry.SubscribeColors()
	if !c.cache.HasColors() {
		c.background(func(ctx context.Context) { _ = c.sync.SyncColors(ctx, false) })
	}
	v, _ := c.cache.Color(key)
	return v
}

// Image returns the URL of key or "".
func (c *Client) Image(key string) string {
	c.registry.SubscribeImages()
	if !c.cache.HasImages() {
		c.background(func(ctx context.Context) { _ = c.sync.SyncImages(ctx, false) })
	}
	v, _ := c.cache.Image(key)
	return v
}

// DataStore returns the records of a data store in server order, empty when
// not cached yet.
func (c *Client) DataStore(apiIdentifier string) []Record {
	if apiIdentifier == "" {
		return []Record{}
	}
	c.registry.SubscribeStore(apiIdentifier)
	rs, ok := c.cache.Store(apiIdentifier)
	if !ok {
		c.background(func(ctx context.Context) { _ = c.sync.SyncStore(ctx, apiIdentifier, false) })
	}
	if rs == nil {
		rs = []Record{}
	}
	return rs
}

// background schedules fn unless the session cannot fetch yet. Subscribed
// scopes are picked up by the next sync wave in that case.
func (c *Client) background(fn func(ctx context.Context)) {
	if !c.session.Authenticated() {
		return
	}
	c.sync.Go(fn)
}

// Language returns the active language, "en" before resolution.
func (c *Client) Language() string { return c.languages.Current() }

// Languages returns the languages the project offers, in server order.
func (c *Client) Languages() []string { return c.languages.Available() }

// Token returns the current bearer token, "" when none.
func (c *Client) Token() string { return c.session.Token() }

// SetLanguage switches the active language and reports whether it changed.
// Choosing the current language does nothing. On a change every subscribed
// scope is re-synced in the background.
func (c *Client) SetLanguage(ctx context.Context, code string) (bool, error) {
	old, next, changed, err := c.languages.Set(code)
	if err != nil {
		c.logger.Warn(ctx, "contentsync: rejected language", "language", code, "error", err)
		return false, err
	}
	if !changed {
		return false, nil
	}
	c.logger.Info(ctx, "contentsync: language changed", "from", old, "to", next)
	c.langHub.Notify(ctx, LanguageChange{Old: old, New: next})
	c.background(func(ctx context.Context) { c.sync.RefreshSubscribed(ctx, syncer.ReasonLanguage) })
	return true, nil
}

// Resolve evaluates a reference string once. See Observe for the grammar.
func (c *Client) Resolve(ref string) any { return binding.Resolve(c, ref) }

// Observe binds fn to a reference: "tab:key", "color:key", "image:key",
// "store:apiIdentifier" or "meta:language|languages|auth_token". fn is
// called once before Observe returns and again whenever the value changes.
// fn must not call Observe synchronously.
func (c *Client) Observe(ref string, fn Listener) (unsubscribe func()) {
	return c.bindings.Observe(c.ctx, ref, fn)
}

// OnChange registers fn for content changes.
func (c *Client) OnChange(fn func(Change)) (unregister func()) {
	return c.sync.Changes().Register(fn)
}

// OnLanguageChange registers fn for SetLanguage changes.
func (c *Client) OnLanguageChange(fn func(LanguageChange)) (unregister func()) {
	return c.langHub.Register(fn)
}
