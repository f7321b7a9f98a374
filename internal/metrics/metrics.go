package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vaultauth"

var (
	TokenOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_operations_total",
		Help:      "Token logins and renewals by auth method, action, and outcome.",
	}, []string{"method", "action", "outcome"})

	TokenOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "token_operation_duration_seconds",
		Help:      "Latency of token logins and renewals including retries.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "action"})

	TokenOperationAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_operation_attempts_total",
		Help:      "Individual backend calls made for logins and renewals, retries included.",
	}, []string{"method", "action"})

	TokenCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_cache_total",
		Help:      "Token cache lookups by auth method and result (hit, miss).",
	}, []string{"method", "result"})

	TokenTTLSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "token_ttl_seconds",
		Help:      "TTL of the most recently cached token; 0 for non-expiring tokens.",
	}, []string{"method"})

	TokenInvalidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_invalidations_total",
		Help:      "Cached tokens dropped after the backend rejected them.",
	}, []string{"method"})

	SecretRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "secret_requests_total",
		Help:      "Secret store requests by operation and outcome.",
	}, []string{"op", "outcome"})

	VaultUp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "vault_up",
		Help:      "1 when the last Vault health check succeeded.",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests by method, path, and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Outcome maps an error to the outcome label.
func Outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// Handler returns an http.Handler that serves the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware wraps an http.Handler to record request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		duration := time.Since(start).Seconds()

		path := normalizePath(r.URL.Path)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath keeps the probe and metrics paths and collapses anything
// else to its first segment; authd serves nothing deeper.
func normalizePath(p string) string {
	switch p {
	case "", "/":
		return "/"
	case "/healthz", "/readyz", "/metrics":
		return p
	}
	for i := 1; i < len(p); i++ {
		if p[i] == '/' {
			return p[:i]
		}
	}
	return p
}
