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

var (
	registerOnce sync.Once

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

	loginTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	verificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_verifications_total",
			Help: "Token verifications by purpose and outcome.",
		},
		[]string{"purpose", "outcome"},
	)

	refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_refresh_total",
			Help: "Refresh attempts by outcome.",
		},
		[]string{"outcome"},
	)

	passwordResetTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_password_reset_total",
			Help: "Password reset requests and completions by outcome.",
		},
		[]string{"stage", "outcome"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "CodeMingle auth build information.",
		},
		[]string{"version", "commit"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "auth_ready",
		Help: "1 when the service passed its last readiness check.",
	})
)

// Init registers every collector in the default registry. Safe to call more
// than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			loginTotal, verificationsTotal, refreshTotal, passwordResetTotal,
			buildInfo, ready,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// InitBuildInfo sets build_info{version,commit} to 1.
func InitBuildInfo(version, commit string) {
	Init()
	buildInfo.WithLabelValues(version, commit).Set(1)
}

func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

func ObserveLogin(outcome string) { loginTotal.WithLabelValues(outcome).Inc() }

func ObserveVerification(purpose, outcome string) {
	verificationsTotal.WithLabelValues(purpose, outcome).Inc()
}

func ObserveRefresh(outcome string) { refreshTotal.WithLabelValues(outcome).Inc() }

// ObservePasswordReset records stage "request" or "complete".
func ObservePasswordReset(stage, outcome string) {
	passwordResetTotal.WithLabelValues(stage, outcome).Inc()
}

// Instrument records request count, latency and in-flight gauge.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		path := CanonicalPath(r.URL.Path)
		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

// CanonicalPath collapses identifier segments so label cardinality stays
// bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	switch {
	case len(parts) == 4 && parts[0] == "admin" && parts[1] == "roles" && parts[3] == "permissions":
		return "/admin/roles/:id/permissions"
	case len(parts) == 4 && parts[0] == "admin" && parts[1] == "users" && parts[3] == "role":
		return "/admin/users/:id/role"
	case len(parts) == 2 && parts[0] == "auth":
		return p
	}
	if len(parts) > 3 {
		return "/other"
	}
	return p
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
