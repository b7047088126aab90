// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

/*
Package middleware provides the infrastructure middleware of the HTTP router.

  - RequestID: X-Request-ID propagation plus request and correlation IDs in
    the logging context
  - PrometheusMetrics: request count, latency and in-flight gauge labelled
    by chi route pattern
  - AccessLog: one structured log line per request

All three are chi-compatible (func(http.Handler) http.Handler) and keep the
http.Hijacker of the underlying writer intact, so they can sit in front of
the websocket endpoint.

Middleware Stack:

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.PrometheusMetrics)
	r.Use(middleware.AccessLog)
*/
package middleware
