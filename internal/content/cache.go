package content

import (
	"sort"
	"sync"
)

// Cache is the in-memory content cache. Safe for concurrent use.
type Cache struct {
	mu     sync.RWMutex
	tabs   map[string]Translations
	colors map[string]string
	images map[string]string
	stores map[string][]Record
}

func NewCache() *Cache {
	return &Cache{
		tabs:   make(map[string]Translations),
		stores: make(map[string][]Record),
	}
}

// Translation returns the language -> value map for tab/key. The returned
// map is a copy.
func (c *Cache) Translation(tab, key string) (map[string]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tabs[tab]
	if !ok {
		return nil, false
	}
	langs, ok := t[key]
	if !ok {
		return nil, false
	}
	return cloneStrings(langs), true
}

// HasTab reports whether the tab has been loaded, even if empty.
func (c *Cache) HasTab(tab string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.tabs[tab]
	return ok
}

// Tabs returns the loaded tab names, sorted.
func (c *Cache) Tabs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.tabs))
	for t := range c.tabs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ReplaceTab swaps the whole key map for tab. Keys missing from t disappear.
func (c *Cache) ReplaceTab(tab string, t Translations) {
	cp := cloneTranslations(t)
	c.mu.Lock()
	c.tabs[tab] = cp
	c.mu.Unlock()
}

func (c *Cache) Color(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.colors[key]
	return v, ok
}

func (c *Cache) HasColors() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.colors != nil
}

func (c *Cache) ReplaceColors(m map[string]string) {
	cp := cloneStrings(m)
	if cp == nil {
		cp = map[string]string{}
	}
	c.mu.Lock()
	c.colors = cp
	c.mu.Unlock()
}

func (c *Cache) Image(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.images[key]
	return v, ok
}

func (c *Cache) HasImages() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.images != nil
}

// ImageURLs returns every cached image URL, sorted and de-duplicated.
func (c *Cache) ImageURLs() []string {
	c.mu.RLock()
	seen := make(map[string]struct{}, len(c.images))
	for _, u := range c.images {
		seen[u] = struct{}{}
	}
	c.mu.RUnlock()
	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

func (c *Cache) ReplaceImages(m map[string]string) {
	cp := cloneStrings(m)
	if cp == nil {
		cp = map[string]string{}
	}
	c.mu.Lock()
	c.images = cp
	c.mu.Unlock()
}

// Store returns a copy of the records for a data store in server order.
func (c *Cache) Store(apiIdentifier string) ([]Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rs, ok := c.stores[apiIdentifier]
	if !ok {
		return nil, false
	}
	return cloneRecords(rs), true
}

func (c *Cache) HasStore(apiIdentifier string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.stores[apiIdentifier]
	return ok
}

func (c *Cache) ReplaceStore(apiIdentifier string, rs []Record) {
	cp := cloneRecords(rs)
	c.mu.Lock()
	c.stores[apiIdentifier] = cp
	c.mu.Unlock()
}

// Reset drops everything, used when the client is reconfigured for another
// project.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.tabs = make(map[string]Translations)
	c.colors = nil
	c.images = nil
	c.stores = make(map[string][]Record)
	c.mu.Unlock()
}

// Snapshot returns a deep copy of the current cache.
func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Snapshot{
		Tabs:   make(map[string]Translations, len(c.tabs)),
		Colors: cloneStrings(c.colors),
		Images: cloneStrings(c.images),
		Stores: make(map[string][]Record, len(c.stores)),
	}
	for name, t := range c.tabs {
		s.Tabs[name] = cloneTranslations(t)
	}
	for id, rs := range c.stores {
		s.Stores[id] = cloneRecords(rs)
	}
	return s
}

// Load replaces the cache contents with s.
func (c *Cache) Load(s Snapshot) {
	tabs := make(map[string]Translations, len(s.Tabs))
	for name, t := range s.Tabs {
		tabs[name] = cloneTranslations(t)
	}
	stores := make(map[string][]Record, len(s.Stores))
	for id, rs := range s.Stores {
		stores[id] = cloneRecords(rs)
	}
	c.mu.Lock()
	c.tabs = tabs
	c.colors = cloneStrings(s.Colors)
	c.images = cloneStrings(s.Images)
	c.stores = stores
	c.mu.Unlock()
}
