package store

import (
	"encoding/json"
	"sync"
)

// Store is a best-effort key/value blob store. Implementations must be safe
// for concurrent use.
type Store interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
	Delete(key string)
}

// GetJSON decodes the blob at key into v. A missing key or undecodable blob
// reports false and leaves v untouched.
func GetJSON(s Store, key string, v any) bool {
	raw, ok := s.Get(key)
	if !ok || len(raw) == 0 {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

// SetJSON encodes v and writes it at key. Values that cannot be encoded are
// dropped.
func SetJSON(s Store, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.Set(key, raw)
}

// Namespaced prefixes every key with ns + ":" so several projects can share
// one backend.
func Namespaced(s Store, ns string) Store {
	if ns == "" {
		return s
	}
	return &namespaced{next: s, prefix: ns + ":"}
}

type namespaced struct {
	next   Store
	prefix string
}

func (n *namespaced) Get(key string) ([]byte, bool) { return n.next.Get(n.prefix + key) }
func (n *namespaced) Set(key string, value []byte)  { n.next.Set(n.prefix+key, value) }
func (n *namespaced) Delete(key string)             { n.next.Delete(n.prefix + key) }

// Switch is a Store whose backing store can be replaced at runtime, used to
// move every component to a new project namespace at once.
type Switch struct {
	mu   sync.RWMutex
	next Store
}

func NewSwitch(s Store) *Switch { return &Switch{next: s} }

// Use routes subsequent calls to s.
func (w *Switch) Use(s Store) {
	w.mu.Lock()
	w.next = s
	w.mu.Unlock()
}

func (w *Switch) current() Store {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.next
}

func (w *Switch) Get(key string) ([]byte, bool) { return w.current().Get(key) }
func (w *Switch) Set(key string, value []byte)  { w.current().Set(key, value) }
func (w *Switch) Delete(key string)             { w.current().Delete(key) }

// Memory is an in-process Store.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemory() *Memory { return &Memory{data: make(map[string][]byte)} }

func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

func (m *Memory) Set(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
}

func (m *Memory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
}

// Keys returns the stored keys, for tests and diagnostics.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.data))
	for k := range m.data {
		out = append(out, k)
	}
	return out
}
