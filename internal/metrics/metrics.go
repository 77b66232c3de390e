// Package metrics defines the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Configuration store metrics
var (
	ConfigSavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approval_chain_config_saves_total",
			Help: "Approval chain configuration saves by request type and outcome.",
		},
		[]string{"request_type", "outcome"},
	)

	ConfigReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approval_chain_config_reads_total",
			Help: "Approval chain configuration reads by request type and whether a configuration existed.",
		},
		[]string{"request_type", "configured"},
	)
)

// Resolver metrics
var (
	ResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approval_chain_resolutions_total",
			Help: "Approver resolutions by request type and outcome.",
		},
		[]string{"request_type", "outcome"},
	)

	UnresolvedApproversTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approval_chain_unresolved_approvers_total",
			Help: "Levels that could not be mapped to an employee, by reason.",
		},
		[]string{"reason"},
	)

	ResolutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "approval_chain_resolution_duration_seconds",
			Help:    "Time spent resolving an approval chain, including directory lookups.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"request_type"},
	)
)

// Directory cache metrics
var (
	DirectoryCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approval_chain_directory_cache_total",
			Help: "Directory head-lookup cache results.",
		},
		[]string{"lookup", "result"},
	)
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approval_chain_http_requests_total",
			Help: "HTTP requests by method, path and status.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "approval_chain_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency per route path.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
