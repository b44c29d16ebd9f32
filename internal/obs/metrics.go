package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Session lifecycle metrics
var (
	guardDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wildwatch_guard_decisions_total",
			Help: "Route guard decisions by resulting state.",
		},
		[]string{"state"},
	)

	profileFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wildwatch_profile_fetches_total",
			Help: "Profile loader outcomes (ok, cache_hit, auth, network).",
		},
		[]string{"result"},
	)

	logouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wildwatch_logouts_total",
			Help: "Completed logout sequences by navigation kind.",
		},
		[]string{"navigation"},
	)

	logoutBackendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wildwatch_logout_backend_failures_total",
		Help: "Backend logout calls that failed and were ignored.",
	})

	sessionChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wildwatch_session_changes_total",
			Help: "Token store mutations broadcast on the session bus.",
		},
		[]string{"kind"},
	)

	upvoteListeners = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wildwatch_upvote_listeners",
		Help: "Open realtime upvote subscriptions.",
	})
)

var initOnce sync.Once

// Init registers all collectors in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			guardDecisions, profileFetches, logouts, logoutBackendFailures,
			sessionChanges, upvoteListeners,
		)
	})
}

// Handler exposes the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records in-flight, count and latency per canonical route.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses identifiers in portal routes so label cardinality stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	if strings.HasPrefix(path, "/assets/") {
		return "/assets/*"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) == 2 && parts[0] == "incidents" && parts[1] != "tracking":
		return "/incidents/:trackingNumber"
	case len(parts) == 2 && parts[0] == "evidence":
		return "/evidence/:id"
	case len(parts) == 3 && parts[0] == "bulletins" && parts[2] == "upvotes":
		return "/bulletins/:id/upvotes"
	}
	return path
}

// ObserveGuardDecision counts one route guard outcome.
func ObserveGuardDecision(state string) {
	guardDecisions.WithLabelValues(state).Inc()
}

func ObserveProfileFetch(result string) {
	profileFetches.WithLabelValues(result).Inc()
}

// ObserveLogout counts a finished logout; backendFailed marks an ignored backend error.
func ObserveLogout(hard, backendFailed bool) {
	nav := "soft"
	if hard {
		nav = "hard"
	}
	logouts.WithLabelValues(nav).Inc()
	if backendFailed {
		logoutBackendFailures.Inc()
	}
}

func ObserveSessionChange(kind string) {
	sessionChanges.WithLabelValues(kind).Inc()
}

// UpvoteListenerOpened and UpvoteListenerClosed track open sockets.
func UpvoteListenerOpened() { upvoteListeners.Inc() }

func UpvoteListenerClosed() { upvoteListeners.Dec() }

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE handlers working behind the instrumentation wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
