package syncer

import "sync"

// inflight serializes fetches per scope. A forced request that finds its
// scope running is remembered and handed back to the running goroutine as
// one more fetch, so forced refreshes are never lost and never overlap.
type inflight struct {
	mu      sync.Mutex
	running map[string]bool
	again   map[string]bool
}

func newInflight() *inflight {
	return &inflight{running: map[string]bool{}, again: map[string]bool{}}
}

// begin reports whether the caller owns the scope and must fetch.
func (f *inflight) begin(key string, force bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running[key] {
		if force {
			f.again[key] = true
		}
		return false
	}
	f.running[key] = true
	return true
}

// end releases the scope unless a forced follow-up was queued, in which case
// it reports true and the caller keeps ownership.
func (f *inflight) end(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.again[key] {
		delete(f.again, key)
		return true
	}
	delete(f.running, key)
	return false
}

func (f *inflight) busy(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[key]
}
