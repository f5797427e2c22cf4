package contentapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/keithlinneman/linnemanlabs-contentsync/internal/binding"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/log"
)

type watchEvent struct {
	Ref     string `json:"ref"`
	Value   any    `json:"value"`
	Initial bool   `json:"initial"`
}

// latest is a one-slot mailbox: a send replaces any value not yet taken,
// so a slow stream only ever sees the newest update.
type latest struct {
	c chan binding.Update
}

func newLatest() *latest { return &latest{c: make(chan binding.Update, 1)} }

func (l *latest) put(u binding.Update) {
	for {
		select {
		case l.c <- u:
			return
		default:
		}
		select {
		case <-l.c:
		default:
		}
	}
}

// handleWatch streams binding updates for ?ref= as server-sent events until
// the client disconnects. The first event carries the current value.
func (a *API) handleWatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	L := log.FromContext(ctx)

	ref, ok := a.reference(w, r)
	if !ok {
		return
	}

	rc := http.NewResponseController(w)
	// streams outlive the server write timeout
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		L.Debug(ctx, "contentapi: cannot clear write deadline", "error", err)
	}

	if a.metrics != nil {
		defer a.metrics.WatchStreamOpened()()
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-store")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	box := newLatest()
	unsubscribe := a.engine.Observe(ref, func(u binding.Update) { box.put(u) })
	defer unsubscribe()

	L.Info(ctx, "contentapi: watch opened", "ref", ref)
	defer L.Info(ctx, "contentapi: watch closed", "ref", ref)

	tick := time.NewTicker(a.heartbeat)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case u := <-box.c:
			if err := writeEvent(w, u); err != nil {
				L.Debug(ctx, "contentapi: watch write failed", "ref", ref, "error", err)
				return
			}
		case <-tick.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			L.Debug(ctx, "contentapi: watch flush failed", "ref", ref, "error", err)
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, u binding.Update) error {
	b, err := json.Marshal(watchEvent{Ref: u.Reference, Value: u.Value, Initial: u.Initial})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: update\ndata: %s\n\n", b)
	return err
}
