package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Define Prometheus metrics
var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, partitioned by method and status code.",
		},
		[]string{"method", "status_code"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "status_code"},
	)

	dataTransferred = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "data_transferred_bytes_total",
			Help: "Total amount of data transferred in bytes, partitioned by direction (inbound or outbound).",
		},
		[]string{"direction"},
	)

	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_connections",
			Help: "Number of requests currently being handled by the gateway.",
		},
	)

	validationRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "validation_rejections_total",
			Help: "Requests rejected before forwarding, partitioned by reason.",
		},
		[]string{"reason"},
	)

	upstreamFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "upstream_failures_total",
			Help: "Forwarded requests that failed at the network level.",
		},
	)

	tldRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tld_refresh_total",
			Help: "TLD list refresh attempts, partitioned by result (fetched, shared, failed, throttled).",
		},
		[]string{"result"},
	)

	tldCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tld_cache_size",
			Help: "Number of top-level domains in the current cache snapshot.",
		},
	)
)

var registerOnce sync.Once

// InitMetrics registers the collectors with the default registry. It is safe
// to call more than once.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequestsTotal)
		prometheus.MustRegister(httpRequestDuration)
		prometheus.MustRegister(dataTransferred)
		prometheus.MustRegister(activeConnections)
		prometheus.MustRegister(validationRejections)
		prometheus.MustRegister(upstreamFailures)
		prometheus.MustRegister(tldRefreshes)
		prometheus.MustRegister(tldCacheSize)
	})
}

// RecordRequest records metrics for each request
func RecordRequest(method string, statusCode int, duration float64) {
	statusCodeStr := strconv.Itoa(statusCode)

	httpRequestsTotal.WithLabelValues(method, statusCodeStr).Inc()
	httpRequestDuration.WithLabelValues(method, statusCodeStr).Observe(duration)
}

// RecordDataTransferred records the number of bytes transferred, partitioned by direction (inbound or outbound)
func RecordDataTransferred(direction string, numBytes int64) {
	if numBytes <= 0 {
		return
	}
	dataTransferred.WithLabelValues(direction).Add(float64(numBytes))
}

// UpdateActiveConnections increments or decrements the number of active connections
func UpdateActiveConnections(increment bool) {
	if increment {
		activeConnections.Inc()
	} else {
		activeConnections.Dec()
	}
}

// RecordRejection counts a request refused by the validation stage.
func RecordRejection(reason string) {
	validationRejections.WithLabelValues(reason).Inc()
}

// RecordUpstreamFailure counts a forwarded request that never got a response.
func RecordUpstreamFailure() {
	upstreamFailures.Inc()
}

// RecordTLDRefresh counts a refresh attempt and, when size is positive,
// publishes the size of the resulting snapshot.
func RecordTLDRefresh(result string, size int) {
	tldRefreshes.WithLabelValues(result).Inc()
	if size > 0 {
		tldCacheSize.Set(float64(size))
	}
}

// ExposeMetricsHandler returns a handler that serves the metrics for Prometheus
func ExposeMetricsHandler() http.Handler {
	return promhttp.Handler()
}
