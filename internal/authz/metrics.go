// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package authz

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthzDecisionsTotal counts decisions by entitlement and outcome.
	AuthzDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Total number of authorization decisions",
		},
		[]string{"entitlement", "decision"},
	)

	// AuthzDecisionDuration tracks the latency of authorization decisions.
	AuthzDecisionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authz_decision_duration_seconds",
			Help:    "Duration of authorization decisions in seconds",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
		[]string{"cache_hit"},
	)

	AuthzCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "authz_cache_hits_total",
			Help: "Total number of authorization cache hits",
		},
	)

	AuthzCacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "authz_cache_misses_total",
			Help: "Total number of authorization cache misses",
		},
	)

	AuthzCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "authz_cache_entries",
			Help: "Current number of cached authorization decisions",
		},
	)

	AuthzCacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "authz_cache_evictions_total",
			Help: "Total number of expired cache entries evicted",
		},
	)

	// AuthzCacheInvalidationsTotal counts invalidations by reason.
	AuthzCacheInvalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_cache_invalidations_total",
			Help: "Total number of cache invalidations",
		},
		[]string{"reason"},
	)

	// AuthzRoleAssignmentsTotal counts role assignments and revocations.
	AuthzRoleAssignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_role_assignments_total",
			Help: "Total number of role assignments and revocations",
		},
		[]string{"role", "action"},
	)

	AuthzPolicyReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_policy_reloads_total",
			Help: "Total number of policy reloads",
		},
		[]string{"status"},
	)

	AuthzPolicyRulesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "authz_policy_rules_total",
			Help: "Current number of policy rules",
		},
	)

	AuthzGroupingRulesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "authz_grouping_rules_total",
			Help: "Current number of role assignments",
		},
	)

	AuthzErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_errors_total",
			Help: "Total number of authorization errors",
		},
		[]string{"error_type"},
	)
)

func recordDecision(entitlement string, allowed, cacheHit bool, duration time.Duration) {
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	AuthzDecisionsTotal.WithLabelValues(entitlement, decision).Inc()

	hit := "false"
	if cacheHit {
		hit = "true"
	}
	AuthzDecisionDuration.WithLabelValues(hit).Observe(duration.Seconds())
}
