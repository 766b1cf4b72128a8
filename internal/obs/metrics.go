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

	// AccessDecisions counts terminal access outcomes by channel and audit status.
	AccessDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dossier_access_decisions_total",
			Help: "Dossier access outcomes by delivery channel and status.",
		},
		[]string{"channel", "status"},
	)

	// TokensMinted counts capability links issued.
	TokensMinted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "capability_tokens_minted_total",
		Help: "Capability tokens minted.",
	})

	// TokenRejections counts capability tokens that failed verification.
	// There is deliberately no reason label.
	TokenRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "capability_token_rejections_total",
		Help: "Capability tokens rejected during verification.",
	})

	// AuditWriteFailures counts access-log writes that were dropped.
	AuditWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_write_failures_total",
		Help: "Access log entries that could not be persisted.",
	})

	initOnce sync.Once
)

// Init registers all collectors in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			AccessDecisions, TokensMinted, TokenRejections, AuditWriteFailures,
			buildInfo,
		)
	})
}

// Handler exposes the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records RPS, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// OtherPath labels requests for routes the API does not serve.
const OtherPath = "other"

var staticPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/v1/info": true,
	"/metrics": true,
}

// CanonicalPath maps a request path to a bounded metric label: dossier ids
// collapse to :id and unknown paths become OtherPath.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if staticPaths[p] {
		return p
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) >= 2 && parts[0] == "dossiers" && parts[1] != "" {
		switch {
		case len(parts) == 2:
			return "/dossiers/:id"
		case len(parts) == 3 && (parts[2] == "download" || parts[2] == "share" || parts[2] == "artifact"):
			return "/dossiers/:id/" + parts[2]
		}
	}
	return OtherPath
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
