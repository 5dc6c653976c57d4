// Package metrics provides Prometheus metrics for the BuildSense backend
// (RED + detection engine + cache + ingest). Scrapeable at /metrics;
// dashboards and alerts rely on these names staying stable.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "buildsense"

var (
	// HTTPRequestTotal counts requests by method, path, status (RED: rate).
	HTTPRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method, path, and status.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDurationSeconds is request latency histogram (RED: duration).
	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10), // 1ms to ~9.3s
		},
		[]string{"method", "path"},
	)

	// DetectionDurationSeconds is the full pipeline latency per detection run.
	DetectionDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detection_duration_seconds",
			Help:      "Pattern detection pipeline duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
	)

	// PatternsDetectedTotal counts emitted patterns by type and severity.
	PatternsDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "patterns_detected_total",
			Help:      "Total number of detected patterns by type and severity.",
		},
		[]string{"pattern_type", "severity"},
	)

	// ResultCacheHitsTotal counts detection result cache hits.
	ResultCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "result_cache_hits_total",
			Help:      "Total number of detection result cache hits.",
		},
	)

	// ResultCacheMissesTotal counts detection result cache misses.
	ResultCacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "result_cache_misses_total",
			Help:      "Total number of detection result cache misses.",
		},
	)

	// ResultCacheEvictionsTotal counts evictions by reason (ttl, capacity).
	ResultCacheEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "result_cache_evictions_total",
			Help:      "Total number of result cache evictions by reason.",
		},
		[]string{"reason"},
	)

	// SingleflightSharedTotal counts callers that attached to an in-flight
	// computation instead of starting their own.
	SingleflightSharedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "singleflight_shared_total",
			Help:      "Total number of detection computations shared across concurrent callers.",
		},
	)

	// DBQueryDurationSeconds is reading-store query latency by operation.
	DBQueryDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Reading store query duration in seconds by operation.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10),
		},
		[]string{"operation"},
	)

	// ReadingsIngestedTotal counts readings accepted by the ingest consumer.
	ReadingsIngestedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_ingested_total",
			Help:      "Total number of sensor readings ingested.",
		},
	)

	// ReadingsRejectedTotal counts readings dropped at ingest validation.
	ReadingsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_rejected_total",
			Help:      "Total number of sensor readings rejected at ingest by reason.",
		},
		[]string{"reason"},
	)

	// WebSocketConnectionsActive is current number of alert stream clients.
	WebSocketConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections_active",
			Help:      "Number of active WebSocket connections.",
		},
	)
)
