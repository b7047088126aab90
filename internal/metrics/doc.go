// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

/*
Package metrics holds the process-wide Prometheus metrics of the HTTP API and
the chat document store.

Realtime and cache metrics live next to the code they measure (see
internal/realtime/metrics.go and internal/cache/metrics.go). Everything is
registered on the default registry through promauto and exposed at /metrics.

# Available Metrics

HTTP API:
  - api_requests_total: requests by method, route pattern and status code
  - api_request_duration_seconds: latency by method and route pattern
  - api_active_requests: requests currently being served
  - api_rate_limit_hits_total: requests rejected by the rate limiter

Chat store:
  - store_operation_duration_seconds: BadgerDB operation latency
  - store_operation_errors_total: failed operations by error class

Route labels use the chi route pattern ("/api/v1/conversations/{id}/messages"),
never the raw path, so cardinality stays bounded.
*/
package metrics
