package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/linnemanlabs-contentsync/internal/version"
)

var realtimeStates = []string{"disconnected", "connecting", "handshake_pending", "live"}

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	// local content API
	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	httpPanicTotal prometheus.Counter
	errorsTotal    *prometheus.CounterVec
	watchStreams   prometheus.Gauge

	buildInfo       *prometheus.GaugeVec
	profilingActive prometheus.Gauge

	// sync
	syncTotal       *prometheus.CounterVec
	syncDuration    *prometheus.HistogramVec
	syncDeduped     *prometheus.CounterVec
	prefetchTotal   *prometheus.CounterVec
	lastInitialSync prometheus.Gauge

	// realtime
	realtimeState      *prometheus.GaugeVec
	realtimeReconnects prometheus.Counter
	realtimeEvents     *prometheus.CounterVec
	realtimeMalformed  prometheus.Counter
	handshakes         *prometheus.CounterVec

	// bindings
	bindingChannels      prometheus.Gauge
	bindingNotifications prometheus.Counter

	// token refresh
	refreshTotal       *prometheus.CounterVec
	refreshLastSuccess prometheus.Gauge
}

// New returns a fresh registry + standard collectors + engine metrics
// safe labels only (method, route, code, kind, outcome) to avoid cardinality explosions
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304},
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		watchStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "contentsync_watch_streams",
			Help: "Open server-sent event watch streams",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		syncTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contentsync_sync_total",
			Help: "Scope fetches by kind and outcome",
		}, []string{"kind", "outcome"}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "contentsync_sync_duration_seconds",
			Help:    "Time to fetch and replace one scope",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"kind"}),
		syncDeduped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contentsync_sync_deduped_total",
			Help: "Sync requests dropped because the scope was already in flight",
		}, []string{"kind"}),
		prefetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contentsync_image_prefetch_total",
			Help: "Image prefetches by outcome",
		}, []string{"outcome"}),
		lastInitialSync: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "contentsync_last_initial_sync_timestamp_seconds",
			Help: "Unix timestamp of the last completed initial sync wave",
		}),
		realtimeState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "contentsync_realtime_state",
			Help: "Realtime channel state (1 for the current state)",
		}, []string{"state"}),
		realtimeReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contentsync_realtime_reconnects_total",
			Help: "Realtime reconnect attempts",
		}),
		realtimeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contentsync_realtime_events_total",
			Help: "Realtime events received while live, by event",
		}, []string{"event"}),
		realtimeMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contentsync_realtime_malformed_total",
			Help: "Realtime messages dropped as malformed",
		}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contentsync_realtime_handshakes_total",
			Help: "Realtime handshakes by outcome",
		}, []string{"outcome"}),
		bindingChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "contentsync_binding_channels",
			Help: "Live binding channels",
		}),
		bindingNotifications: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contentsync_binding_notifications_total",
			Help: "Binding updates delivered to listeners",
		}),
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contentsync_refresh_total",
			Help: "Scheduled session refreshes by outcome",
		}, []string{"outcome"}),
		refreshLastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "contentsync_refresh_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful scheduled refresh",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.httpPanicTotal,
		m.errorsTotal,
		m.watchStreams,
		m.buildInfo,
		m.profilingActive,
		m.syncTotal,
		m.syncDuration,
		m.syncDeduped,
		m.prefetchTotal,
		m.lastInitialSync,
		m.realtimeState,
		m.realtimeReconnects,
		m.realtimeEvents,
		m.realtimeMalformed,
		m.handshakes,
		m.bindingChannels,
		m.bindingNotifications,
		m.refreshTotal,
		m.refreshLastSuccess,
	)
	m.SetRealtimeState("disconnected")

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	m.profilingActive.Set(boolGauge(active))
}

// WatchStreamOpened tracks an SSE watch stream; call the returned func when
// it closes.
func (m *ServerMetrics) WatchStreamOpened() (closed func()) {
	m.watchStreams.Inc()
	return m.watchStreams.Dec
}

// sync

func (m *ServerMetrics) ObserveSync(kind, outcome string, seconds float64) {
	m.syncTotal.WithLabelValues(kind, outcome).Inc()
	m.syncDuration.WithLabelValues(kind).Observe(seconds)
}

func (m *ServerMetrics) IncSyncDeduped(kind string) {
	m.syncDeduped.WithLabelValues(kind).Inc()
}

func (m *ServerMetrics) IncPrefetch(outcome string) {
	m.prefetchTotal.WithLabelValues(outcome).Inc()
}

func (m *ServerMetrics) SetLastInitialSync(unixSeconds float64) {
	m.lastInitialSync.Set(unixSeconds)
}

// realtime

func (m *ServerMetrics) SetRealtimeState(state string) {
	for _, s := range realtimeStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.realtimeState.WithLabelValues(s).Set(v)
	}
}

func (m *ServerMetrics) IncRealtimeReconnect() {
	m.realtimeReconnects.Inc()
}

func (m *ServerMetrics) IncRealtimeEvent(event string) {
	switch event {
	case "content_changed", "store_changed", "handshake_ack", "handshake_error":
	default:
		event = "other"
	}
	m.realtimeEvents.WithLabelValues(event).Inc()
}

func (m *ServerMetrics) IncRealtimeMalformed() {
	m.realtimeMalformed.Inc()
}

func (m *ServerMetrics) IncHandshake(outcome string) {
	m.handshakes.WithLabelValues(outcome).Inc()
}

// bindings

func (m *ServerMetrics) SetBindingChannels(n int) {
	m.bindingChannels.Set(float64(n))
}

func (m *ServerMetrics) IncBindingNotifications(n int) {
	m.bindingNotifications.Add(float64(n))
}

// refresh

func (m *ServerMetrics) IncRefresh(outcome string) {
	m.refreshTotal.WithLabelValues(outcome).Inc()
}

func (m *ServerMetrics) SetRefreshLastSuccess(unixSeconds float64) {
	m.refreshLastSuccess.Set(unixSeconds)
}

// SetRefreshLastSuccessTime is a convenience for callers holding a time.
func (m *ServerMetrics) SetRefreshLastSuccessTime(t time.Time) {
	m.refreshLastSuccess.Set(float64(t.Unix()))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
