package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-contentsync/internal/health"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/log"
)

type Options struct {
	Logger log.Logger
	Host   string // empty listens on all interfaces
	Port   int

	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler

	Health    health.Probe
	Readiness health.Probe

	// APIRoutes mounts JSON routes; responses are compressed.
	APIRoutes func(chi.Router)
	// StreamRoutes mounts long-lived event-stream routes, which skip
	// compression and tracing.
	StreamRoutes func(chi.Router)

	// Language sets Content-Language on every response.
	Language httpmw.LanguageInfo

	// MaxBodyBytes caps request bodies (default 4KB).
	MaxBodyBytes int64
}
