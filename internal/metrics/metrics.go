package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Auth metrics

	LoginRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "couchgate",
		Name:      "login_requests_total",
		Help:      "Total magic-link login requests accepted.",
	})

	LoginVerifiesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "couchgate",
		Name:      "login_verifies_total",
		Help:      "Total magic-link verification attempts, by outcome.",
	}, []string{"outcome"})

	SessionsMintedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "couchgate",
		Name:      "sessions_minted_total",
		Help:      "Total AuthSession cookies minted.",
	})

	// SSE / change feed metrics

	SSEConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "couchgate",
		Name:      "sse_connections",
		Help:      "Number of currently open SSE connections.",
	})

	SSEEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "couchgate",
		Name:      "sse_events_total",
		Help:      "Total SSE frames delivered to clients.",
	})

	ChangesReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "couchgate",
		Name:      "changes_reconnects_total",
		Help:      "Times the change-feed follower re-established its connection.",
	})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "couchgate",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "couchgate",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		LoginRequestsTotal,
		LoginVerifiesTotal,
		SessionsMintedTotal,
		SSEConnections,
		SSEEventsTotal,
		ChangesReconnectsTotal,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

// Checker is the readiness surface the metrics server exposes.
type Checker interface {
	LivenessHandler(w http.ResponseWriter, r *http.Request)
	ReadinessHandler(w http.ResponseWriter, r *http.Request)
}

func NewServer(addr string, checker Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", checker.LivenessHandler)
	mux.HandleFunc("/readyz", checker.ReadinessHandler)
	return &http.Server{Addr: addr, Handler: mux}
}
