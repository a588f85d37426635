// Package metrics provides Prometheus instrumentation for matchstore.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	enabled bool

	// HTTP metrics
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	// Verification domain metrics
	verificationStoreTotal *prometheus.CounterVec
	verificationReadTotal  *prometheus.CounterVec

	// Backend metrics
	backendWriteTotal    *prometheus.CounterVec
	backendWriteDuration *prometheus.HistogramVec
)

// Init initializes the metrics system.
func Init(enabledFlag bool) {
	enabled = enabledFlag

	if !enabled {
		return
	}

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Outcome of StoreVerification: stored, conflict, invalid, failed
	verificationStoreTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_store_total",
			Help: "Total number of verification store requests by outcome",
		},
		[]string{"result"},
	)

	verificationReadTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_read_total",
			Help: "Total number of match reads by operation and outcome",
		},
		[]string{"operation", "status"},
	)

	backendWriteTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_backend_write_total",
			Help: "Total number of backend writes by backend, routing mode and status",
		},
		[]string{"backend", "mode", "status"},
	)

	backendWriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storage_backend_write_duration_seconds",
			Help:    "Backend write latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	if !enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.Handler()
}
