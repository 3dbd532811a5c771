// Package metrics provides Prometheus metrics for the browsing core.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache lookup results
const (
	ResultHit     = "hit"
	ResultMiss    = "miss"
	ResultExpired = "expired"
	ResultError   = "error"
)

// Prefetch outcomes
const (
	PrefetchOK      = "ok"
	PrefetchCached  = "cached"
	PrefetchDropped = "dropped"
	PrefetchError   = "error"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry prometheus.Gatherer

	cacheLookups   *prometheus.CounterVec
	cacheWrites    *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec

	gatewayRequests *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec

	staleResponses *prometheus.CounterVec
	prefetches     *prometheus.CounterVec

	uploads     *prometheus.CounterVec
	uploadBytes prometheus.Counter
	fileOps     *prometheus.CounterVec
}

// New registers all collectors on reg. A fresh registry is created when reg is nil.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		cacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docbrowse_cache_lookups_total",
				Help: "Persistent cache lookups by namespace and result",
			},
			[]string{"namespace", "result"},
		),
		cacheWrites: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docbrowse_cache_writes_total",
				Help: "Persistent cache writes by namespace and status",
			},
			[]string{"namespace", "status"},
		),
		cacheEvictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docbrowse_cache_evictions_total",
				Help: "Cache entries removed by namespace and reason",
			},
			[]string{"namespace", "reason"},
		),

		gatewayRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docbrowse_gateway_requests_total",
				Help: "Remote directory gateway calls by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		gatewayDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docbrowse_gateway_request_duration_seconds",
				Help:    "Remote directory gateway call duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),

		staleResponses: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docbrowse_stale_responses_total",
				Help: "Fetch results discarded because a newer navigation superseded them",
			},
			[]string{"surface"},
		),
		prefetches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docbrowse_prefetch_total",
				Help: "Background subfolder prefetches by outcome",
			},
			[]string{"outcome"},
		),

		uploads: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docbrowse_uploads_total",
				Help: "Uploaded files by status",
			},
			[]string{"status"},
		),
		uploadBytes: f.NewCounter(
			prometheus.CounterOpts{
				Name: "docbrowse_upload_bytes_total",
				Help: "Bytes of successfully uploaded files",
			},
		),
		fileOps: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docbrowse_file_operations_total",
				Help: "Delete, rename, move, copy and create-folder operations by status",
			},
			[]string{"op", "status"},
		),
	}
}

// Handler returns an HTTP handler exposing the registry
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCacheLookup counts a cache read
func (m *Metrics) RecordCacheLookup(namespace, result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(namespace, result).Inc()
}

// RecordCacheWrite counts a cache write
func (m *Metrics) RecordCacheWrite(namespace string, success bool) {
	if m == nil {
		return
	}
	m.cacheWrites.WithLabelValues(namespace, status(success)).Inc()
}

// RecordCacheEviction counts removed entries
func (m *Metrics) RecordCacheEviction(namespace, reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cacheEvictions.WithLabelValues(namespace, reason).Add(float64(n))
}

// RecordGatewayRequest records one gateway call. outcome is "ok" or an error kind.
func (m *Metrics) RecordGatewayRequest(op, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.gatewayRequests.WithLabelValues(op, outcome).Inc()
	m.gatewayDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordStaleResponse counts a discarded superseded result
func (m *Metrics) RecordStaleResponse(surface string) {
	if m == nil {
		return
	}
	m.staleResponses.WithLabelValues(surface).Inc()
}

// RecordPrefetch counts a prefetch outcome
func (m *Metrics) RecordPrefetch(outcome string) {
	if m == nil {
		return
	}
	m.prefetches.WithLabelValues(outcome).Inc()
}

// RecordUpload counts one uploaded file
func (m *Metrics) RecordUpload(bytes int64, success bool) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(status(success)).Inc()
	if success && bytes > 0 {
		m.uploadBytes.Add(float64(bytes))
	}
}

// RecordFileOperation counts one explicit file operation
func (m *Metrics) RecordFileOperation(op string, success bool) {
	if m == nil {
		return
	}
	m.fileOps.WithLabelValues(op, status(success)).Inc()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
