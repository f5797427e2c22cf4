package content

import (
	"time"

	"github.com/keithlinneman/linnemanlabs-contentsync/internal/store"
)

// Durable keys owned by the cache.
const (
	KeyContentCache   = "content_cache"
	KeyDataStoreCache = "datastore_cache"
)

// Snapshot is a deep copy of the cache, used for persistence and
// diagnostics. Nil Colors or Images means the collection was never loaded.
type Snapshot struct {
	Tabs   map[string]Translations `json:"tabs"`
	Colors map[string]string       `json:"colors"`
	Images map[string]string       `json:"images"`
	Stores map[string][]Record     `json:"-"`

	SavedAt time.Time `json:"saved_at,omitempty"`
}

// Persist writes the cache to s as two blobs: translations with colors and
// images under content_cache, data stores under datastore_cache.
func Persist(s store.Store, c *Cache) {
	snap := c.Snapshot()
	snap.SavedAt = time.Now().UTC()
	store.SetJSON(s, KeyContentCache, snap)
	store.SetJSON(s, KeyDataStoreCache, snap.Stores)
}

// Restore loads previously persisted blobs into c. It reports whether any
// blob was found.
func Restore(s store.Store, c *Cache) bool {
	var snap Snapshot
	okContent := store.GetJSON(s, KeyContentCache, &snap)
	var stores map[string][]Record
	okStores := store.GetJSON(s, KeyDataStoreCache, &stores)
	if !okContent && !okStores {
		return false
	}
	snap.Stores = stores
	c.Load(snap)
	return true
}
