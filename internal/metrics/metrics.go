package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Cache lookups by outcome: hit, miss or stale
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podcast_proxy_cache_lookups_total",
			Help: "Total number of cache lookups by outcome",
		},
		[]string{"collection", "result"},
	)

	// Upstream fetch metrics
	UpstreamFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podcast_proxy_upstream_fetches_total",
			Help: "Total number of upstream fetches",
		},
		[]string{"collection", "status"},
	)

	UpstreamFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "podcast_proxy_upstream_fetch_duration_seconds",
			Help:    "Upstream fetch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	// Concurrent misses served by an upstream fetch already in flight
	SharedFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podcast_proxy_shared_fetches_total",
			Help: "Total number of requests that joined an in-flight upstream fetch",
		},
		[]string{"collection"},
	)

	TransformErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podcast_proxy_transform_errors_total",
			Help: "Total number of upstream bodies that could not be transformed",
		},
		[]string{"collection"},
	)

	// Store metrics
	StoreWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podcast_proxy_store_writes_total",
			Help: "Total number of cache record writes",
		},
		[]string{"collection", "operation", "status"},
	)

	// NATS metrics
	NatsMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_published_total",
			Help: "Total number of NATS messages published",
		},
		[]string{"subject", "status"},
	)

	ApplicationInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "application_info",
			Help: "Application information",
		},
		[]string{"service", "version", "store"},
	)
)

// Init publishes the application info gauge
func Init(serviceName, version, store string) {
	ApplicationInfo.WithLabelValues(serviceName, version, store).Set(1)
}
