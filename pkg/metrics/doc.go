// Package metrics defines the Prometheus collectors exported by chatd.
//
// Collectors are registered on the default Prometheus registry at package
// initialisation and served by promhttp on /metrics.
//
// # Collectors
//
//   - chatd_http_requests_total: HTTP requests (labels: method, route, status)
//   - chatd_http_request_duration_seconds: HTTP latency (labels: method, route)
//   - chatd_graphql_operations_total: executed operations (labels: operation, result)
//   - chatd_graphql_operation_duration_seconds: operation latency (labels: operation)
//   - chatd_authz_denied_total: field gate rejections (labels: field)
//   - chatd_pubsub_published_total / delivered_total / dropped_total: topic bus traffic
//   - chatd_pubsub_subscribers: active bus subscribers
//   - chatd_ws_connections: open GraphQL WebSocket connections
//   - chatd_store_latency_seconds: data store call latency (labels: op)
//
// # Label Conventions
//
// Label values are lowercase. The operation label is one of query, mutation,
// subscription or unknown; result is ok or error. Route labels use the chi
// route pattern rather than the raw path to keep cardinality bounded.
package metrics
