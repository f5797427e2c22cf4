package syncer

import (
	"context"
	"errors"
	"sync"

	"github.com/keithlinneman/linnemanlabs-contentsync/internal/api"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/auth"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/content"
)

// fakeAPI serves canned content and counts calls per scope key. When
// release is set, fetches block on it after announcing on started.
type fakeAPI struct {
	mu     sync.Mutex
	tabs   map[string]content.Translations
	colors map[string]string
	images map[string]string
	stores map[string][]content.Record
	fail   map[string]error

	calls      map[string]int
	active     map[string]int
	maxActive  map[string]int
	prefetched []string

	started chan string
	release chan struct{}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		tabs:      map[string]content.Translations{},
		colors:    map[string]string{},
		images:    map[string]string{},
		stores:    map[string][]content.Record{},
		fail:      map[string]error{},
		calls:     map[string]int{},
		active:    map[string]int{},
		maxActive: map[string]int{},
	}
}

func (f *fakeAPI) enter(key string) error {
	f.mu.Lock()
	f.calls[key]++
	f.active[key]++
	if f.active[key] > f.maxActive[key] {
		f.maxActive[key] = f.active[key]
	}
	started, release := f.started, f.release
	err := f.fail[key]
	f.mu.Unlock()

	if started != nil {
		started <- key
	}
	if release != nil {
		<-release
	}
	return err
}

func (f *fakeAPI) leave(key string) {
	f.mu.Lock()
	f.active[key]--
	f.mu.Unlock()
}

func (f *fakeAPI) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeAPI) setTab(tab string, t content.Translations) {
	f.mu.Lock()
	f.tabs[tab] = t
	f.mu.Unlock()
}

func (f *fakeAPI) FetchTab(_ context.Context, _ api.Credentials, tab string) (content.Translations, error) {
	key := "tab:" + tab
	err := f.enter(key)
	defer f.leave(key)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tabs[tab]
	if !ok {
		return content.Translations{}, nil
	}
	return t, nil
}

func (f *fakeAPI) FetchColors(context.Context, api.Credentials) (map[string]string, error) {
	err := f.enter("colors")
	defer f.leave("colors")
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.colors, nil
}

func (f *fakeAPI) FetchImages(context.Context, api.Credentials) (map[string]string, error) {
	err := f.enter("images")
	defer f.leave("images")
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.images, nil
}

func (f *fakeAPI) FetchStore(_ context.Context, _ api.Credentials, id string) ([]content.Record, error) {
	key := "store:" + id
	err := f.enter(key)
	defer f.leave(key)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stores[id], nil
}

func (f *fakeAPI) Prefetch(_ context.Context, u string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefetched = append(f.prefetched, u)
	return nil
}

type fakeSession struct {
	mu    sync.Mutex
	live  bool
	cred  *auth.Credential
	err   error
	calls int
}

func (s *fakeSession) Authenticate(context.Context) (*auth.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	s.live = true
	return s.cred, nil
}

func (s *fakeSession) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

func (s *fakeSession) APICredentials() api.Credentials {
	return api.Credentials{ProjectID: "proj", Token: "tok"}
}

var errFetch = errors.New("connection reset")

type fakeMetrics struct {
	mu       sync.Mutex
	syncs    map[string]int
	deduped  map[string]int
	prefetch map[string]int
	lastWave float64
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{syncs: map[string]int{}, deduped: map[string]int{}, prefetch: map[string]int{}}
}

func (m *fakeMetrics) ObserveSync(kind, outcome string, _ float64) {
	m.mu.Lock()
	m.syncs[kind+"/"+outcome]++
	m.mu.Unlock()
}
func (m *fakeMetrics) IncSyncDeduped(kind string) {
	m.mu.Lock()
	m.deduped[kind]++
	m.mu.Unlock()
}
func (m *fakeMetrics) IncPrefetch(outcome string) {
	m.mu.Lock()
	m.prefetch[outcome]++
	m.mu.Unlock()
}
func (m *fakeMetrics) SetLastInitialSync(v float64) {
	m.mu.Lock()
	m.lastWave = v
	m.mu.Unlock()
}
