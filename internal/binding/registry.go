package binding

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"reflect"
	"runtime"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/keithlinneman/linnemanlabs-contentsync/internal/log"
)

// Update is delivered to observers. Initial is set only on the synchronous
// call made by Observe.
type Update struct {
	Reference string
	Value     any
	Initial   bool
}

type Listener func(Update)

// Metrics is implemented by the metrics package.
type Metrics interface {
	SetBindingChannels(n int)
	IncBindingNotifications(n int)
}

type Options struct {
	Lookup  Lookup
	Logger  log.Logger
	Metrics Metrics
}

// Registry maps reference strings to channels of listeners and pushes a new
// value to a channel only when its resolved value changed.
//
// Observe and Refresh are serialized. Listeners may unsubscribe from inside
// a callback but must not call Observe or Refresh synchronously. An
// unsubscribe from any other goroutine waits for an in-progress dispatch.
type Registry struct {
	lookup  Lookup
	logger  log.Logger
	metrics Metrics

	// dispatch serializes resolution and delivery; channel.last is only
	// touched while it is held
	dispatch sync.Mutex
	// goroutine id of the dispatch holder, 0 when idle
	dispatcher atomic.Int64

	mu       sync.Mutex
	seq      uint64
	channels map[string]*channel
}

type channel struct {
	ref       string
	parsed    Reference
	valid     bool
	created   uint64
	listeners []*listener
	last      any
}

type listener struct {
	fn     Listener
	active atomic.Bool
}

func NewRegistry(opts Options) *Registry {
	return &Registry{
		lookup:   opts.Lookup,
		logger:   log.OrNop(opts.Logger),
		metrics:  opts.Metrics,
		channels: make(map[string]*channel),
	}
}

// Observe calls fn once with the current value, then again on every change
// until the returned func is called. Unsubscribing is idempotent and fn
// receives nothing after it returns.
func (r *Registry) Observe(ctx context.Context, ref string, fn Listener) (unsubscribe func()) {
	l := &listener{fn: fn}
	l.active.Store(true)

	r.lockDispatch()
	r.mu.Lock()
	ch, ok := r.channels[ref]
	isNew := !ok
	if isNew {
		r.seq++
		parsed, valid := Parse(ref)
		ch = &channel{ref: ref, parsed: parsed, valid: valid, created: r.seq}
		r.channels[ref] = ch
	}
	r.mu.Unlock()

	var v any
	if isNew {
		v = r.resolve(ch)
		ch.last = v
	} else {
		v = ch.last
	}
	r.deliver(ctx, l, Update{Reference: ref, Value: v, Initial: true})

	r.mu.Lock()
	ch.listeners = append(ch.listeners, l)
	n := len(r.channels)
	r.mu.Unlock()
	r.unlockDispatch()

	if r.metrics != nil {
		r.metrics.SetBindingChannels(n)
	}

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(ch, l) })
	}
}

func (r *Registry) remove(ch *channel, l *listener) {
	if r.dispatcher.Load() == goid() {
		// called from a callback; the dispatch loop rechecks active
		l.active.Store(false)
	} else {
		r.dispatch.Lock()
		l.active.Store(false)
		r.dispatch.Unlock()
	}

	r.mu.Lock()
	for i, x := range ch.listeners {
		if x == l {
			ch.listeners = append(ch.listeners[:i:i], ch.listeners[i+1:]...)
			break
		}
	}
	if len(ch.listeners) == 0 && r.channels[ch.ref] == ch {
		delete(r.channels, ch.ref)
	}
	n := len(r.channels)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SetBindingChannels(n)
	}
}

// Refresh re-resolves every live channel and notifies listeners of the
// channels whose value changed, in registration order.
func (r *Registry) Refresh(ctx context.Context) {
	r.lockDispatch()
	defer r.unlockDispatch()

	r.mu.Lock()
	chans := make([]*channel, 0, len(r.channels))
	for _, ch := range r.channels {
		chans = append(chans, ch)
	}
	r.mu.Unlock()
	sortByCreation(chans)

	delivered := 0
	for _, ch := range chans {
		v := r.resolve(ch)
		if reflect.DeepEqual(v, ch.last) {
			continue
		}
		ch.last = v

		r.mu.Lock()
		ls := append([]*listener(nil), ch.listeners...)
		r.mu.Unlock()
		for _, l := range ls {
			if r.deliver(ctx, l, Update{Reference: ch.ref, Value: v}) {
				delivered++
			}
		}
	}
	if r.metrics != nil && delivered > 0 {
		r.metrics.IncBindingNotifications(delivered)
	}
}

// Len returns the number of live channels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// References returns the live channel references in creation order.
func (r *Registry) References() []string {
	r.mu.Lock()
	chans := make([]*channel, 0, len(r.channels))
	for _, ch := range r.channels {
		chans = append(chans, ch)
	}
	r.mu.Unlock()
	sortByCreation(chans)
	out := make([]string, len(chans))
	for i, ch := range chans {
		out[i] = ch.ref
	}
	return out
}

func (r *Registry) resolve(ch *channel) any {
	if !ch.valid || r.lookup == nil {
		return nil
	}
	return ch.parsed.Resolve(r.lookup)
}

func (r *Registry) deliver(ctx context.Context, l *listener, u Update) (ok bool) {
	if !l.active.Load() {
		return false
	}
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
			r.logger.Error(ctx, fmt.Errorf("listener panic: %v", rec),
				"binding: listener panicked, continuing",
				"reference", u.Reference,
			)
		}
	}()
	l.fn(u)
	return true
}

func (r *Registry) lockDispatch() {
	r.dispatch.Lock()
	r.dispatcher.Store(goid())
}

func (r *Registry) unlockDispatch() {
	r.dispatcher.Store(0)
	r.dispatch.Unlock()
}

// goid parses the current goroutine id from the "goroutine N [" stack header.
func goid() int64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return -1
	}
	return id
}

func sortByCreation(chans []*channel) {
	slices.SortFunc(chans, func(a, b *channel) int { return cmp.Compare(a.created, b.created) })
}
