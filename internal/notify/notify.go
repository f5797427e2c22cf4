// Package notify is a small generic observer hub: register, unregister and
// notify, with listeners called in registration order.
package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/keithlinneman/linnemanlabs-contentsync/internal/log"
)

// Hub fans events out to registered listeners. Notify calls are serialized
// so listeners never see two events interleaved. A panicking listener is
// logged and does not stop delivery to the rest.
type Hub[E any] struct {
	name   string
	logger log.Logger

	mu        sync.Mutex
	nextID    uint64
	listeners []entry[E]

	dispatch sync.Mutex
}

type entry[E any] struct {
	id uint64
	fn func(E)
}

func NewHub[E any](name string, logger log.Logger) *Hub[E] {
	return &Hub[E]{name: name, logger: log.OrNop(logger)}
}

// Register adds fn and returns an idempotent unregister func.
func (h *Hub[E]) Register(fn func(E)) (unregister func()) {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.listeners = append(h.listeners, entry[E]{id: id, fn: fn})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			for i, e := range h.listeners {
				if e.id == id {
					h.listeners = append(h.listeners[:i:i], h.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Len returns the number of registered listeners.
func (h *Hub[E]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

// Notify delivers ev to every listener registered at the time of the call.
func (h *Hub[E]) Notify(ctx context.Context, ev E) {
	h.dispatch.Lock()
	defer h.dispatch.Unlock()

	h.mu.Lock()
	snapshot := append([]entry[E](nil), h.listeners...)
	h.mu.Unlock()

	for _, e := range snapshot {
		h.call(ctx, e.fn, ev)
	}
}

func (h *Hub[E]) call(ctx context.Context, fn func(E), ev E) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error(ctx, fmt.Errorf("listener panic: %v", r),
				"notify: listener panicked, continuing",
				"hub", h.name,
			)
		}
	}()
	fn(ev)
}
