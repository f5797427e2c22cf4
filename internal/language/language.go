// Package language resolves the active content language against the list
// the CMS reports as available.
package language

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/text/language"

	"github.com/keithlinneman/linnemanlabs-contentsync/internal/log"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/store"
)

// KeyCurrentLanguage is the durable key of the settled language, whether
// chosen explicitly or resolved from the priority chain.
const KeyCurrentLanguage = "current_language"

// Fallback is reported before resolution and preferred when available.
const Fallback = "en"

// Source names which branch of the priority chain produced a language.
type Source string

const (
	SourceStored  Source = "stored"
	SourceDefault Source = "default"
	SourceHost    Source = "host"
	SourceEnglish Source = "en"
	SourceFirst   Source = "first"
)

type Options struct {
	Store store.Store
	// HostLanguages returns the host preference list, most preferred first.
	// Nil uses the process locale environment.
	HostLanguages func() []string
	Logger        log.Logger
}

// Resolver is safe for concurrent use.
type Resolver struct {
	store  store.Store
	host   func() []string
	logger log.Logger

	mu          sync.RWMutex
	available   []string
	index       map[string]string
	defaultLang string
	current     string
	resolved    bool
}

func NewResolver(opts Options) *Resolver {
	st := opts.Store
	if st == nil {
		st = store.NewMemory()
	}
	host := opts.HostLanguages
	if host == nil {
		host = HostLanguages
	}
	return &Resolver{
		store:   st,
		host:    host,
		logger:  log.OrNop(opts.Logger),
		index:   map[string]string{},
		current: Fallback,
	}
}

// Reset forgets the resolution and installs a new configured default.
func (r *Resolver) Reset(defaultLang string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.available = nil
	r.index = map[string]string{}
	r.defaultLang = defaultLang
	r.current = Fallback
	r.resolved = false
}

// SetAvailable installs the authoritative language list. If the resolved
// language is no longer offered the resolver becomes unresolved again.
func (r *Resolver) SetAvailable(langs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.available = r.available[:0:0]
	r.index = make(map[string]string, len(langs))
	for _, l := range langs {
		if l == "" {
			continue
		}
		k := normalize(l)
		if _, dup := r.index[k]; dup {
			continue
		}
		r.index[k] = l
		r.available = append(r.available, l)
	}
	if r.resolved {
		if _, ok := r.index[normalize(r.current)]; !ok {
			r.resolved = false
		}
	}
}

func (r *Resolver) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.available...)
}

// Current returns the active language, Fallback before resolution.
func (r *Resolver) Current() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

func (r *Resolver) Resolved() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolved
}

// Match returns the available spelling of code, compared case-insensitively.
func (r *Resolver) Match(code string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.matchLocked(code)
}

func (r *Resolver) matchLocked(code string) (string, bool) {
	if code == "" {
		return "", false
	}
	v, ok := r.index[normalize(code)]
	return v, ok
}

// Resolve runs the priority chain once per session and persists the
// result. Later calls return the settled result. With no available
// languages nothing is resolved.
func (r *Resolver) Resolve(ctx context.Context) (string, Source, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolved {
		return r.current, "", true
	}
	if len(r.available) == 0 {
		return r.current, "", false
	}

	lang, src := r.chainLocked()
	r.current = lang
	r.resolved = true
	r.store.Set(KeyCurrentLanguage, []byte(lang))
	r.logger.Info(ctx, "language: resolved", "language", lang, "source", string(src))
	return lang, src, true
}

func (r *Resolver) chainLocked() (string, Source) {
	if raw, ok := r.store.Get(KeyCurrentLanguage); ok {
		if m, ok := r.matchLocked(strings.TrimSpace(string(raw))); ok {
			return m, SourceStored
		}
	}
	if m, ok := r.matchLocked(r.defaultLang); ok {
		return m, SourceDefault
	}
	if m, ok := r.matchHostLocked(); ok {
		return m, SourceHost
	}
	if m, ok := r.matchLocked(Fallback); ok {
		return m, SourceEnglish
	}
	return r.available[0], SourceFirst
}

// matchHostLocked tries every full host tag first, then every base code.
func (r *Resolver) matchHostLocked() (string, bool) {
	prefs := r.host()
	var bases []string
	for _, p := range prefs {
		tag, err := language.Parse(p)
		if err != nil {
			continue
		}
		if m, ok := r.matchLocked(tag.String()); ok {
			return m, true
		}
		if b, conf := tag.Base(); conf != language.No {
			bases = append(bases, b.String())
		}
	}
	for _, b := range bases {
		if m, ok := r.matchLocked(b); ok {
			return m, true
		}
	}
	return "", false
}

// Persist writes the settled language back to the store. It does nothing
// before resolution so the Fallback placeholder is never stored.
func (r *Resolver) Persist() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.resolved {
		r.store.Set(KeyCurrentLanguage, []byte(r.current))
	}
}

// UnknownLanguageError is returned by Set for a code the project does not
// offer.
type UnknownLanguageError struct {
	Code      string
	Available []string
}

func (e *UnknownLanguageError) Error() string {
	return fmt.Sprintf("language %q is not available (available: %s)", e.Code, strings.Join(e.Available, ", "))
}

// Set switches the active language. It reports the previous value and
// whether anything changed; choosing the current language is a no-op.
// A change is persisted as the stored preference.
func (r *Resolver) Set(code string) (old, next string, changed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matchLocked(code)
	if !ok {
		return r.current, r.current, false, &UnknownLanguageError{Code: code, Available: append([]string(nil), r.available...)}
	}
	old = r.current
	r.resolved = true
	if m == old {
		return old, m, false, nil
	}
	r.current = m
	r.store.Set(KeyCurrentLanguage, []byte(m))
	return old, m, true, nil
}

// Pick chooses the value for the active language, falling back to the
// first available language that has one.
func (r *Resolver) Pick(values map[string]string) (string, bool) {
	if len(values) == 0 {
		return "", false
	}
	r.mu.RLock()
	cur := r.current
	avail := r.available
	r.mu.RUnlock()

	if v, ok := lookupFold(values, cur); ok {
		return v, true
	}
	for _, l := range avail {
		if v, ok := lookupFold(values, l); ok {
			return v, true
		}
	}
	return "", false
}

func lookupFold(values map[string]string, lang string) (string, bool) {
	if v, ok := values[lang]; ok {
		return v, true
	}
	want := normalize(lang)
	for k, v := range values {
		if normalize(k) == want {
			return v, true
		}
	}
	return "", false
}

func normalize(code string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(code), "_", "-"))
}

// HostLanguages reads the POSIX locale environment and returns BCP 47 tags,
// most preferred first. LANGUAGE may carry a colon separated list.
func HostLanguages() []string {
	var raw []string
	if v := os.Getenv("LANGUAGE"); v != "" {
		raw = append(raw, strings.Split(v, ":")...)
	}
	for _, k := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := os.Getenv(k); v != "" {
			raw = append(raw, v)
		}
	}
	return ParseLocales(raw)
}

// ParseLocales converts POSIX locale names such as fr_CA.UTF-8@euro into
// canonical tags, dropping C/POSIX and duplicates.
func ParseLocales(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, v := range raw {
		v = strings.TrimSpace(v)
		if i := strings.IndexAny(v, ".@"); i >= 0 {
			v = v[:i]
		}
		if v == "" || v == "C" || v == "POSIX" {
			continue
		}
		tag, err := language.Parse(strings.ReplaceAll(v, "_", "-"))
		if err != nil {
			continue
		}
		s := tag.String()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
