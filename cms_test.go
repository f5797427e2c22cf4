package contentsync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/keithlinneman/linnemanlabs-contentsync/internal/realtime"
)

// fakeCMS serves the /api/sdk endpoints from in-memory fixtures and counts
// requests per route.
type fakeCMS struct {
	mu         sync.Mutex
	hits       map[string]int
	authStatus int
	langs      []string
	authTabs   []string
	tabs       map[string]string
	colors     string
	images     string
	stores     map[string]string
	// gates block a route until closed
	gates map[string]chan struct{}

	srv *httptest.Server
}

func newFakeCMS(t *testing.T) *fakeCMS {
	t.Helper()
	f := &fakeCMS{
		hits:       map[string]int{},
		authStatus: http.StatusOK,
		langs:      []string{"en", "fr"},
		authTabs:   []string{"home"},
		tabs: map[string]string{
			"home": `{"keys":[{"key":"title","values":{"en":"Hi","fr":"Salut"}}]}`,
		},
		colors: `[{"key":"primary","value":{"hex":"#ff0000"}},{"key":"accent","value":"#00ff00"}]`,
		images: `[{"key":"logo","url":"https://cdn.example.com/logo.png"}]`,
		stores: map[string]string{
			"products": `{"items":[{"id":1,"key":"a","value":{"name":"A"}},{"id":2,"key":"b","value":{"name":"B"}}]}`,
		},
		gates: map[string]chan struct{}{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sdk/auth", func(w http.ResponseWriter, r *http.Request) {
		f.hit("auth")
		f.mu.Lock()
		status, langs, tabs := f.authStatus, f.langs, f.authTabs
		f.mu.Unlock()
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"message":"invalid api key"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":            true,
			"token":              "tok-123",
			"availableLanguages": langs,
			"tabs":               tabs,
		})
	})
	mux.HandleFunc("GET /api/sdk/translations/{pid}/{tab}", func(w http.ResponseWriter, r *http.Request) {
		tab := r.PathValue("tab")
		f.hit("tab:" + tab)
		f.wait("tab:" + tab)
		f.mu.Lock()
		body, ok := f.tabs[tab]
		f.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	})
	mux.HandleFunc("GET /api/sdk/colors/{pid}", func(w http.ResponseWriter, r *http.Request) {
		f.hit("colors")
		f.mu.Lock()
		defer f.mu.Unlock()
		_, _ = w.Write([]byte(f.colors))
	})
	mux.HandleFunc("GET /api/sdk/images/{pid}", func(w http.ResponseWriter, r *http.Request) {
		f.hit("images")
		f.mu.Lock()
		defer f.mu.Unlock()
		_, _ = w.Write([]byte(f.images))
	})
	mux.HandleFunc("GET /api/sdk/store/{pid}/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		f.hit("store:" + id)
		f.mu.Lock()
		body, ok := f.stores[id]
		f.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeCMS) hit(route string) {
	f.mu.Lock()
	f.hits[route]++
	f.mu.Unlock()
}

func (f *fakeCMS) count(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[route]
}

func (f *fakeCMS) gate(route string) chan struct{} {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[route] = ch
	f.mu.Unlock()
	return ch
}

func (f *fakeCMS) wait(route string) {
	f.mu.Lock()
	ch := f.gates[route]
	f.mu.Unlock()
	if ch != nil {
		<-ch
	}
}

func newTestClient(t *testing.T, cms *fakeCMS, mod func(*Options)) *Client {
	t.Helper()
	opts := Options{
		BaseURL:           cms.srv.URL,
		RequestsPerSecond: 1000,
		HostLanguages:     func() []string { return nil },
		DisablePrefetch:   true,
	}
	if mod != nil {
		mod(&opts)
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// pipeDialer is an in-memory realtime transport; the test plays the server.
type pipeDialer struct {
	conns chan *pipeConn
}

func newPipeDialer() *pipeDialer { return &pipeDialer{conns: make(chan *pipeConn, 8)} }

func (d *pipeDialer) Dial(ctx context.Context) (realtime.Conn, error) {
	c := &pipeConn{
		in:     make(chan realtime.Frame, 16),
		out:    make(chan realtime.Frame, 16),
		closed: make(chan struct{}),
	}
	d.conns <- c
	return c, nil
}

func (d *pipeDialer) next(t *testing.T) *pipeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for realtime dial")
		return nil
	}
}

type pipeConn struct {
	in     chan realtime.Frame
	out    chan realtime.Frame
	closed chan struct{}
	once   sync.Once
}

func (c *pipeConn) Send(ctx context.Context, f realtime.Frame) error {
	select {
	case c.out <- f:
		return nil
	case <-c.closed:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *pipeConn) Receive(ctx context.Context) (realtime.Frame, error) {
	select {
	case f := <-c.in:
		return f, nil
	case <-c.closed:
		return realtime.Frame{}, context.Canceled
	case <-ctx.Done():
		return realtime.Frame{}, ctx.Err()
	}
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *pipeConn) recv(t *testing.T) realtime.Frame {
	t.Helper()
	select {
	case f := <-c.out:
		return f
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for client frame")
		return realtime.Frame{}
	}
}
