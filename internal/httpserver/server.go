package httpserver

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/linnemanlabs-contentsync/internal/health"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/log"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/xerrors"
)

const (
	defaultPort         = 8480
	defaultMaxBodyBytes = 4 << 10

	// StreamPrefix is excluded from tracing; streams would hold a span open
	// for their whole lifetime.
	StreamPrefix = "/api/content/watch"
)

// NewHandler builds the local content API handler with routes and
// middleware. main() owns *http.Server so it can do graceful shutdown.
func NewHandler(opts *Options) http.Handler {
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	r := chi.NewRouter()
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(httpmw.AccessLog())
	r.Use(httpmw.MaxBody(maxBody))

	if opts.Health != nil {
		r.Get("/-/healthy", health.HealthzHandler(opts.Health))
	}
	if opts.Readiness != nil {
		r.Get("/-/ready", health.ReadyzHandler(opts.Readiness))
	}

	if opts.APIRoutes != nil {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Compress(5, "application/json"))
			opts.APIRoutes(r)
		})
	}
	if opts.StreamRoutes != nil {
		r.Group(opts.StreamRoutes)
	}

	r.NotFound(jsonError(http.StatusNotFound))
	r.MethodNotAllowed(jsonError(http.StatusMethodNotAllowed))

	return httpmw.Chain(r,
		httpmw.SecurityHeaders,
		recoverMW(opts),
		httpmw.RequestID("X-Request-Id"),
		tracing,
		httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id"),
		httpmw.LanguageHeaders(opts.Language),
		opts.MetricsMW,
		httpmw.WithLogger(opts.Logger),
	)
}

func recoverMW(opts *Options) func(http.Handler) http.Handler {
	if !opts.UseRecoverMW {
		return nil
	}
	return httpmw.Recover(opts.Logger, opts.OnPanic)
}

func tracing(next http.Handler) http.Handler {
	return otelhttp.NewHandler(next, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return shouldTrace(r.URL.Path)
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			// AnnotateHTTPRoute renames the span to the route pattern
			return r.Method + " " + r.URL.Path
		}),
	)
}

func shouldTrace(p string) bool {
	if p == "/-/healthy" || p == "/-/ready" {
		return false
	}
	return !strings.HasPrefix(p, StreamPrefix)
}

func jsonError(code int) http.HandlerFunc {
	body := `{"error":"` + strings.ToLower(http.StatusText(code)) + `"}` + "\n"
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = w.Write([]byte(body))
	}
}

// Server timeout defaults. Stream handlers clear the write deadline per
// request through http.ResponseController.
const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 30 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20
)

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// Start serves the content API and returns stop(ctx) for graceful shutdown.
// Request contexts derive from ctx so open streams end once ctx is
// cancelled; Shutdown alone would wait on them.
func Start(ctx context.Context, opts *Options) (func(context.Context) error, error) {
	L := log.OrNop(opts.Logger)
	opts.Logger = L
	port := opts.Port
	if port == 0 {
		port = defaultPort
	}
	addr := net.JoinHostPort(opts.Host, strconv.Itoa(port))

	srv := NewServer(addr, NewHandler(opts))
	srv.BaseContext = func(net.Listener) context.Context { return ctx }

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "listen on %s", addr)
	}

	go func() {
		L.Info(ctx, "httpserver: listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			L.Error(ctx, err, "httpserver: server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			L.Info(sctx, "httpserver: shutting down")
			c, cancel := context.WithTimeout(sctx, 5*time.Second)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
	return stop, nil
}
