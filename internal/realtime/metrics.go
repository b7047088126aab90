// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive is the number of principals with a live transport.
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_connections_active",
			Help: "Number of principals with an active realtime connection",
		},
	)

	// ConnectionsReplacedTotal counts transports closed by a newer login.
	ConnectionsReplacedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_connections_replaced_total",
			Help: "Total number of transports replaced by a newer connection of the same principal",
		},
	)

	RoomJoinsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_room_joins_total",
			Help: "Total number of granted room joins by room context",
		},
		[]string{"context"},
	)

	RoomJoinDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_room_join_denials_total",
			Help: "Total number of denied room joins by room context",
		},
		[]string{"context"},
	)

	// DeliveriesTotal counts per-transport send attempts.
	// result is "delivered" or "dropped".
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_deliveries_total",
			Help: "Total number of per-transport event deliveries",
		},
		[]string{"result"},
	)

	InboundRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_inbound_rejected_total",
			Help: "Total number of inbound frames rejected by reason",
		},
		[]string{"reason"},
	)

	RelayMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_relay_messages_total",
			Help: "Total number of cluster relay messages by direction and result",
		},
		[]string{"direction", "result"},
	)
)

func recordDelivery(ok bool) {
	if ok {
		DeliveriesTotal.WithLabelValues("delivered").Inc()
		return
	}
	DeliveriesTotal.WithLabelValues("dropped").Inc()
}
