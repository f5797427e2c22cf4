// Package subscription tracks which scopes the application has touched
// (subscribed) and which scopes have synced at least once (known).
//
// Subscriptions only grow during a session. They are cleared on
// reconfiguration. Known sets are persisted so a restart re-syncs what the
// previous run had loaded.
package subscription

import (
	"sort"
	"sync"

	"github.com/keithlinneman/linnemanlabs-contentsync/internal/store"
)

// Durable keys owned by the registry.
const (
	KeyKnownTabs   = "known_tabs"
	KeyKnownStores = "known_stores"
)

// Set is a point in time copy of the registry.
type Set struct {
	Tabs   []string
	Stores []string
	Colors bool
	Images bool
}

// Empty reports whether nothing is in the set.
func (s Set) Empty() bool {
	return len(s.Tabs) == 0 && len(s.Stores) == 0 && !s.Colors && !s.Images
}

// Registry is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	tabs   map[string]struct{}
	stores map[string]struct{}
	colors bool
	images bool

	knownTabs   map[string]struct{}
	knownStores map[string]struct{}
}

func New() *Registry {
	return &Registry{
		tabs:        make(map[string]struct{}),
		stores:      make(map[string]struct{}),
		knownTabs:   make(map[string]struct{}),
		knownStores: make(map[string]struct{}),
	}
}

// SubscribeTab adds tab and reports whether it was new.
func (r *Registry) SubscribeTab(tab string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return add(r.tabs, tab)
}

// SubscribeStore adds a data store and reports whether it was new.
func (r *Registry) SubscribeStore(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return add(r.stores, id)
}

func (r *Registry) SubscribeColors() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	was := r.colors
	r.colors = true
	return !was
}

func (r *Registry) SubscribeImages() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	was := r.images
	r.images = true
	return !was
}

func (r *Registry) TabSubscribed(tab string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tabs[tab]
	return ok
}

func (r *Registry) StoreSubscribed(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.stores[id]
	return ok
}

func (r *Registry) ColorsSubscribed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.colors
}

func (r *Registry) ImagesSubscribed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.images
}

// Subscribed returns the subscribed scopes with sorted names.
func (r *Registry) Subscribed() Set {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Set{
		Tabs:   keys(r.tabs),
		Stores: keys(r.stores),
		Colors: r.colors,
		Images: r.images,
	}
}

func (r *Registry) MarkTabKnown(tab string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return add(r.knownTabs, tab)
}

func (r *Registry) MarkStoreKnown(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return add(r.knownStores, id)
}

func (r *Registry) TabKnown(tab string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.knownTabs[tab]
	return ok
}

func (r *Registry) StoreKnown(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.knownStores[id]
	return ok
}

func (r *Registry) KnownTabs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return keys(r.knownTabs)
}

func (r *Registry) KnownStores() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return keys(r.knownStores)
}

// Reset clears subscriptions and known sets.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tabs = make(map[string]struct{})
	r.stores = make(map[string]struct{})
	r.colors = false
	r.images = false
	r.knownTabs = make(map[string]struct{})
	r.knownStores = make(map[string]struct{})
}

// PersistKnown writes the known sets to s.
func (r *Registry) PersistKnown(s store.Store) {
	store.SetJSON(s, KeyKnownTabs, r.KnownTabs())
	store.SetJSON(s, KeyKnownStores, r.KnownStores())
}

// RestoreKnown merges persisted known sets from s.
func (r *Registry) RestoreKnown(s store.Store) {
	var tabs, stores []string
	store.GetJSON(s, KeyKnownTabs, &tabs)
	store.GetJSON(s, KeyKnownStores, &stores)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tabs {
		add(r.knownTabs, t)
	}
	for _, id := range stores {
		add(r.knownStores, id)
	}
}

func add(m map[string]struct{}, k string) bool {
	if k == "" {
		return false
	}
	if _, ok := m[k]; ok {
		return false
	}
	m[k] = struct{}{}
	return true
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
