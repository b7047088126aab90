// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LoadsTotal counts Load calls by how they were answered:
	// "fresh", "shared", "fetched" or "failed".
	LoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gametable_cache_loads_total",
			Help: "Reconciling cache loads by outcome",
		},
		[]string{"cache", "result"},
	)

	// FetchDuration tracks how long source fetches take.
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gametable_cache_fetch_duration_seconds",
			Help:    "Reconciling cache source fetch duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"cache"},
	)

	// MutationsTotal counts applied and rejected appends and removes.
	MutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gametable_cache_mutations_total",
			Help: "Reconciling cache mutations by operation and result",
		},
		[]string{"cache", "op", "result"},
	)

	// CircuitBreakerState is 0 closed, 1 half-open, 2 open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gametable_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// CircuitBreakerRequests counts requests by result:
	// "success", "failure" or "rejected".
	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gametable_circuit_breaker_requests_total",
			Help: "Requests through the circuit breaker by result",
		},
		[]string{"name", "result"},
	)

	// CircuitBreakerTransitions counts state changes.
	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gametable_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)
)
