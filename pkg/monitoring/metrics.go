// Package monitoring exposes Prometheus metrics for the import pipeline.
package monitoring

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/NERVsystems/osmscene/pkg/version"
)

const (
	// ServiceName is the metric namespace
	ServiceName = "osmscene"
)

var (
	// Import runs
	ImportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osmscene_imports_total",
			Help: "Total number of import runs",
		},
		[]string{"status"},
	)

	ImportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "osmscene_import_duration_seconds",
			Help:    "Import run duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"elevation"},
	)

	// Ways emitted or skipped, by semantic type
	WaysTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osmscene_ways_total",
			Help: "Total number of ways processed",
		},
		[]string{"type", "status"},
	)

	TagWarningsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osmscene_tag_warnings_total",
			Help: "Total number of malformed tags skipped during classification",
		},
		[]string{"key"},
	)

	ElevationMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "osmscene_elevation_misses_total",
			Help: "Total number of vertices that fell back to the base height",
		},
	)

	// External service metrics
	ExternalServiceRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osmscene_external_service_requests_total",
			Help: "Total number of external service requests",
		},
		[]string{"service", "operation", "status"},
	)

	ExternalServiceRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "osmscene_external_service_request_duration_seconds",
			Help:    "External service request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
		},
		[]string{"service", "operation"},
	)

	RateLimitWaitTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "osmscene_rate_limit_wait_duration_seconds",
			Help:    "Time spent waiting for rate limits",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"service"},
	)

	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osmscene_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osmscene_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	CacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "osmscene_cache_size",
			Help: "Current number of items in cache",
		},
		[]string{"cache_type"},
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osmscene_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)

	SystemInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "osmscene_system_info",
			Help: "Build information",
		},
		[]string{"version", "go_version", "build_commit", "build_date"},
	)
)

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordImport counts a finished import run.
func RecordImport(duration time.Duration, elevation, success bool) {
	ImportsTotal.WithLabelValues(statusLabel(success)).Inc()
	elev := "off"
	if elevation {
		elev = "on"
	}
	ImportDuration.WithLabelValues(elev).Observe(duration.Seconds())
}

// RecordWay counts one way by semantic type; status is "emitted" or "skipped".
func RecordWay(wayType, status string) {
	WaysTotal.WithLabelValues(wayType, status).Inc()
}

func RecordTagWarning(key string) {
	TagWarningsTotal.WithLabelValues(key).Inc()
}

// RecordElevationMisses counts vertices that fell back to the base height.
func RecordElevationMisses(n int) {
	if n > 0 {
		ElevationMissesTotal.Add(float64(n))
	}
}

func RecordExternalServiceRequest(service, operation string, duration time.Duration, success bool) {
	ExternalServiceRequestsTotal.WithLabelValues(service, operation, statusLabel(success)).Inc()
	ExternalServiceRequestDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

func RecordRateLimitWait(service string, duration time.Duration) {
	RateLimitWaitTime.WithLabelValues(service).Observe(duration.Seconds())
}

func RecordCacheHit(cacheType string) {
	CacheHits.WithLabelValues(cacheType).Inc()
}

func RecordCacheMiss(cacheType string) {
	CacheMisses.WithLabelValues(cacheType).Inc()
}

func UpdateCacheSize(cacheType string, size int) {
	CacheSize.WithLabelValues(cacheType).Set(float64(size))
}

func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// PublishBuildInfo sets the system info gauge for the running binary.
func PublishBuildInfo() {
	SystemInfo.WithLabelValues(version.BuildVersion, runtime.Version(), version.BuildCommit, version.BuildDate).Set(1)
}
