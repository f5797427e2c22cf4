package httpmw

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/keithlinneman/linnemanlabs-contentsync/internal/log"
)

// Recover turns a handler panic into a 500, logs it with the stack and
// calls onPanic (if set). http.ErrAbortHandler is re-panicked so the server
// still aborts the connection.
func Recover(base log.Logger, onPanic func()) func(http.Handler) http.Handler {
	base = log.OrNop(base)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				if onPanic != nil {
					onPanic()
				}
				ctx := r.Context()
				L := log.FromContext(ctx)
				if L == log.Nop() {
					L = base
				}
				L.Error(ctx, fmt.Errorf("panic: %v", rec), "httpmw: handler panicked",
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
					"request_id", RequestIDFromContext(ctx),
					"stack", string(debug.Stack()),
				)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
