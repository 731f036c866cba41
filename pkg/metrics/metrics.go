package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatd_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatd_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	// GraphQL metrics
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatd_graphql_operations_total",
			Help: "Total GraphQL operations executed",
		},
		[]string{"operation", "result"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatd_graphql_operation_duration_seconds",
			Help:    "GraphQL operation execution time",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	AuthzDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatd_authz_denied_total",
			Help: "Field resolutions rejected by access rules",
		},
		[]string{"field"},
	)

	// Topic bus metrics
	PubSubPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatd_pubsub_published_total",
			Help: "Events published to the topic bus",
		},
	)

	PubSubDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatd_pubsub_delivered_total",
			Help: "Events queued to subscriber streams",
		},
	)

	PubSubDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatd_pubsub_dropped_total",
			Help: "Events dropped from full subscriber buffers",
		},
	)

	PubSubSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatd_pubsub_subscribers",
			Help: "Active topic bus subscribers",
		},
	)

	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatd_ws_connections",
			Help: "Open GraphQL WebSocket connections",
		},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatd_store_latency_seconds",
			Help:    "Data store operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"op"},
	)
)

// ObserveOperation records the outcome and duration of a GraphQL operation.
func ObserveOperation(operation string, failed bool, d time.Duration) {
	result := "ok"
	if failed {
		result = "error"
	}
	OperationsTotal.WithLabelValues(operation, result).Inc()
	OperationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
