package binding

import (
	"context"
	"encoding/json"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/keithlinneman/linnemanlabs-contentsync/internal/content"
)

type fakeLookup struct {
	mu      sync.Mutex
	lang    string
	langs   []string
	token   string
	tabs    map[string]map[string]map[string]string
	colors  map[string]string
	images  map[string]string
	stores  map[string][]content.Record
	touched []string
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{
		lang:   "en",
		langs:  []string{"en", "fr"},
		tabs:   map[string]map[string]map[string]string{},
		colors: map[string]string{},
		images: map[string]string{},
		stores: map[string][]content.Record{},
	}
}

func (f *fakeLookup) touch(s string) { f.touched = append(f.touched, s) }

func (f *fakeLookup) Translation(key, tab string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touch("tab:" + tab)
	if v, ok := f.tabs[tab][key][f.lang]; ok {
		return v
	}
	return TranslationFallback(tab, key)
}

func (f *fakeLookup) Color(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touch("colors")
	return f.colors[key]
}

func (f *fakeLookup) Image(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touch("images")
	return f.images[key]
}

func (f *fakeLookup) DataStore(id string) []content.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touch("store:" + id)
	return f.stores[id]
}

func (f *fakeLookup) Language() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lang
}

func (f *fakeLookup) Languages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.langs...)
}

func (f *fakeLookup) Token() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

func (f *fakeLookup) setTitle(lang, v string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tabs["home"] == nil {
		f.tabs["home"] = map[string]map[string]string{}
	}
	if f.tabs["home"]["title"] == nil {
		f.tabs["home"]["title"] = map[string]string{}
	}
	f.tabs["home"]["title"][lang] = v
}

type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) fn(u Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
}

func (r *recorder) values() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]any, len(r.updates))
	for i, u := range r.updates {
		out[i] = u.Value
	}
	return out
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Reference
		ok   bool
	}{
		{"home:title", Reference{Kind: KindTranslation, Tab: "home", Key: "title"}, true},
		{"home:nav:about", Reference{Kind: KindTranslation, Tab: "home", Key: "nav:about"}, true},
		{"color:primary", Reference{Kind: KindColor, Key: "primary"}, true},
		{"image:logo", Reference{Kind: KindImage, Key: "logo"}, true},
		{"store:products", Reference{Kind: KindStore, Key: "products"}, true},
		{"meta:language", Reference{Kind: KindMeta, Key: "language"}, true},
		{"title", Reference{}, false},
		{"", Reference{}, false},
	}
	for _, tt := range tests {
		got, ok := Parse(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("Parse(%q) = %+v, %v; want %+v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
		if ok && got.String() != tt.in {
			t.Fatalf("String() = %q, want %q", got.String(), tt.in)
		}
	}
}

func TestResolve_Fallbacks(t *testing.T) {
	l := newFakeLookup()
	tests := []struct {
		ref  string
		want any
	}{
		{"home:title", "[home:title]"},
		{"color:primary", ""},
		{"image:logo", ""},
		{"store:products", []content.Record{}},
		{"meta:language", "en"},
		{"meta:languages", []string{"en", "fr"}},
		{"meta:auth_token", ""},
		{"meta:unknown", nil},
		{"no-colon", nil},
	}
	for _, tt := range tests {
		if got := Resolve(l, tt.ref); !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("Resolve(%q) = %#v, want %#v", tt.ref, got, tt.want)
		}
	}
}

func TestResolve_RoutesToLookup(t *testing.T) {
	l := newFakeLookup()
	l.setTitle("en", "Hi")
	l.colors["primary"] = "#ff0000"
	l.images["logo"] = "https://cdn.example.com/logo.png"
	l.stores["products"] = []content.Record{{ID: "1", Key: "a", Value: json.RawMessage(`{"n":1}`)}}
	l.token = "tok"

	if got := Resolve(l, "home:title"); got != "Hi" {
		t.Fatalf("translation = %v", got)
	}
	if got := Resolve(l, "color:primary"); got != "#ff0000" {
		t.Fatalf("color = %v", got)
	}
	if got := Resolve(l, "image:logo"); got != "https://cdn.example.com/logo.png" {
		t.Fatalf("image = %v", got)
	}
	if got := Resolve(l, "store:products").([]content.Record); len(got) != 1 || got[0].ID != "1" {
		t.Fatalf("store = %v", got)
	}
	if got := Resolve(l, "meta:auth_token"); got != "tok" {
		t.Fatalf("token = %v", got)
	}
	want := []string{"tab:home", "colors", "images", "store:products"}
	if !reflect.DeepEqual(l.touched, want) {
		t.Fatalf("touched = %v, want %v", l.touched, want)
	}
}

func TestObserve_InitialCallIsSynchronous(t *testing.T) {
	l := newFakeLookup()
	reg := NewRegistry(Options{Lookup: l})

	var rec recorder
	unsub := reg.Observe(context.Background(), "home:title", rec.fn)
	defer unsub()

	if len(rec.updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(rec.updates))
	}
	u := rec.updates[0]
	if !u.Initial || u.Value != "[home:title]" || u.Reference != "home:title" {
		t.Fatalf("initial = %+v", u)
	}
}

func TestRefresh_NotifiesOnlyChangedChannels(t *testing.T) {
	l := newFakeLookup()
	reg := NewRegistry(Options{Lookup: l})
	ctx := context.Background()

	var title, color recorder
	defer reg.Observe(ctx, "home:title", title.fn)()
	defer reg.Observe(ctx, "color:primary", color.fn)()

	l.setTitle("en", "Hi")
	reg.Refresh(ctx)
	reg.Refresh(ctx)

	if got := title.values(); !reflect.DeepEqual(got, []any{"[home:title]", "Hi"}) {
		t.Fatalf("title updates = %v", got)
	}
	if got := color.values(); len(got) != 1 {
		t.Fatalf("color notified without a change: %v", got)
	}
}

func TestRefresh_LanguageChange(t *testing.T) {
	l := newFakeLookup()
	l.setTitle("en", "Hi")
	l.setTitle("fr", "Salut")
	reg := NewRegistry(Options{Lookup: l})
	ctx := context.Background()

	var rec recorder
	defer reg.Observe(ctx, "home:title", rec.fn)()
	var lang recorder
	defer reg.Observe(ctx, "meta:language", lang.fn)()

	l.mu.Lock()
	l.lang = "fr"
	l.mu.Unlock()
	reg.Refresh(ctx)

	if got := rec.values(); !reflect.DeepEqual(got, []any{"Hi", "Salut"}) {
		t.Fatalf("updates = %v", got)
	}
	if got := lang.values(); !reflect.DeepEqual(got, []any{"en", "fr"}) {
		t.Fatalf("language updates = %v", got)
	}
}

func TestObserve_RegistrationOrder(t *testing.T) {
	l := newFakeLookup()
	reg := NewRegistry(Options{Lookup: l})
	ctx := context.Background()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 3; i++ {
		defer reg.Observe(ctx, "home:title", func(u Update) {
			if u.Initial {
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})()
	}
	l.setTitle("en", "Hi")
	reg.Refresh(ctx)

	if !reflect.DeepEqual(order, []int{0, 1, 2}) {
		t.Fatalf("order = %v", order)
	}
}

func TestObserve_NoCallsAfterUnsubscribe(t *testing.T) {
	l := newFakeLookup()
	reg := NewRegistry(Options{Lookup: l})
	ctx := context.Background()

	var rec recorder
	unsub := reg.Observe(ctx, "home:title", rec.fn)
	unsub()
	unsub()

	l.setTitle("en", "Hi")
	reg.Refresh(ctx)
	if len(rec.updates) != 1 {
		t.Fatalf("updates = %d after unsubscribe", len(rec.updates))
	}
	if reg.Len() != 0 {
		t.Fatalf("channels = %d, want 0 after last listener left", reg.Len())
	}
}

func TestObserve_UnsubscribeFromCallback(t *testing.T) {
	l := newFakeLookup()
	reg := NewRegistry(Options{Lookup: l})
	ctx := context.Background()

	var second recorder
	var unsubFirst func()
	calls := 0
	unsubFirst = reg.Observe(ctx, "home:title", func(u Update) {
		calls++
		if !u.Initial {
			unsubFirst()
		}
	})
	defer reg.Observe(ctx, "home:title", second.fn)()

	l.setTitle("en", "Hi")
	reg.Refresh(ctx)
	l.setTitle("en", "Hello")
	reg.Refresh(ctx)

	if calls != 2 {
		t.Fatalf("first listener calls = %d, want 2", calls)
	}
	if got := second.values(); !reflect.DeepEqual(got, []any{"[home:title]", "Hi", "Hello"}) {
		t.Fatalf("second updates = %v", got)
	}
}

func TestObserve_UnsubscribeWaitsForDispatch(t *testing.T) {
	l := newFakeLookup()
	reg := NewRegistry(Options{Lookup: l})
	ctx := context.Background()

	entered := make(chan struct{})
	gate := make(chan struct{})
	var once sync.Once
	defer reg.Observe(ctx, "home:title", func(u Update) {
		if !u.Initial {
			once.Do(func() { close(entered) })
			<-gate
		}
	})()

	var returned atomic.Bool
	var late atomic.Int32
	var second recorder
	unsub := reg.Observe(ctx, "home:title", func(u Update) {
		if returned.Load() {
			late.Add(1)
		}
		second.fn(u)
	})

	l.setTitle("en", "Hi")
	refreshed := make(chan struct{})
	go func() {
		reg.Refresh(ctx)
		close(refreshed)
	}()
	<-entered

	unsubscribed := make(chan struct{})
	go func() {
		unsub()
		returned.Store(true)
		close(unsubscribed)
	}()

	select {
	case <-unsubscribed:
		t.Fatal("unsubscribe returned while a dispatch was in progress")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	<-refreshed
	<-unsubscribed

	l.setTitle("en", "Hello")
	reg.Refresh(ctx)

	if n := late.Load(); n != 0 {
		t.Fatalf("listener called %d times after unsubscribe returned", n)
	}
	if got := second.values(); !reflect.DeepEqual(got, []any{"[home:title]", "Hi"}) {
		t.Fatalf("second updates = %v", got)
	}
}

func TestObserve_ConcurrentUnsubscribeAndRefresh(t *testing.T) {
	l := newFakeLookup()
	reg := NewRegistry(Options{Lookup: l})
	ctx := context.Background()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			l.setTitle("en", "v"+strconv.Itoa(i))
			reg.Refresh(ctx)
		}
	}()

	for range 200 {
		var returned atomic.Bool
		var late atomic.Int32
		unsub := reg.Observe(ctx, "home:title", func(Update) {
			if returned.Load() {
				late.Add(1)
			}
		})
		unsub()
		returned.Store(true)
		if n := late.Load(); n != 0 {
			close(stop)
			wg.Wait()
			t.Fatalf("listener called %d times after unsubscribe returned", n)
		}
	}
	close(stop)
	wg.Wait()
}

func TestObserve_SharedChannelReusesLastValue(t *testing.T) {
	l := newFakeLookup()
	reg := NewRegistry(Options{Lookup: l})
	ctx := context.Background()

	var a, b recorder
	defer reg.Observe(ctx, "color:primary", a.fn)()
	defer reg.Observe(ctx, "color:primary", b.fn)()

	if reg.Len() != 1 {
		t.Fatalf("channels = %d, want 1", reg.Len())
	}
	if got := reg.References(); !reflect.DeepEqual(got, []string{"color:primary"}) {
		t.Fatalf("references = %v", got)
	}
	if len(b.updates) != 1 || !b.updates[0].Initial {
		t.Fatalf("second observer updates = %+v", b.updates)
	}
}

func TestRefresh_PanickingListenerDoesNotStopOthers(t *testing.T) {
	l := newFakeLookup()
	reg := NewRegistry(Options{Lookup: l})
	ctx := context.Background()

	defer reg.Observe(ctx, "home:title", func(u Update) {
		if !u.Initial {
			panic("boom")
		}
	})()
	var rec recorder
	defer reg.Observe(ctx, "home:title", rec.fn)()

	l.setTitle("en", "Hi")
	reg.Refresh(ctx)
	if got := rec.values(); len(got) != 2 {
		t.Fatalf("updates = %v", got)
	}
}

func TestRefresh_StoreDiffByValue(t *testing.T) {
	l := newFakeLookup()
	reg := NewRegistry(Options{Lookup: l})
	ctx := context.Background()

	l.stores["products"] = []content.Record{{ID: "1", Key: "a", Value: json.RawMessage(`1`)}}
	var rec recorder
	defer reg.Observe(ctx, "store:products", rec.fn)()

	// same content, new slice
	l.mu.Lock()
	l.stores["products"] = []content.Record{{ID: "1", Key: "a", Value: json.RawMessage(`1`)}}
	l.mu.Unlock()
	reg.Refresh(ctx)
	if len(rec.updates) != 1 {
		t.Fatalf("notified on identical records: %d", len(rec.updates))
	}

	l.mu.Lock()
	l.stores["products"] = append(l.stores["products"], content.Record{ID: "2", Key: "b", Value: json.RawMessage(`2`)})
	l.mu.Unlock()
	reg.Refresh(ctx)
	if len(rec.updates) != 2 {
		t.Fatalf("updates = %d, want 2", len(rec.updates))
	}
}

type fakeMetrics struct {
	channels int
	notified int
}

func (m *fakeMetrics) SetBindingChannels(n int)      { m.channels = n }
func (m *fakeMetrics) IncBindingNotifications(n int) { m.notified += n }

func TestRegistry_Metrics(t *testing.T) {
	l := newFakeLookup()
	m := &fakeMetrics{}
	reg := NewRegistry(Options{Lookup: l, Metrics: m})
	ctx := context.Background()

	u1 := reg.Observe(ctx, "home:title", func(Update) {})
	u2 := reg.Observe(ctx, "home:title", func(Update) {})
	u3 := reg.Observe(ctx, "color:primary", func(Update) {})
	if m.channels != 2 {
		t.Fatalf("channels = %d", m.channels)
	}
	l.setTitle("en", "Hi")
	reg.Refresh(ctx)
	if m.notified != 2 {
		t.Fatalf("notified = %d, want 2", m.notified)
	}
	u1()
	u2()
	u3()
	if m.channels != 0 {
		t.Fatalf("channels = %d after unsubscribe", m.channels)
	}
}
