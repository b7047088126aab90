// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/gametable/internal/logging"
)

// NATSConn is the part of *nats.Conn the drain service needs.
type NATSConn interface {
	Drain() error
	IsClosed() bool
}

// NATSConnService owns the relay's NATS connection. It does nothing while
// running and drains the connection when the tree stops, so envelopes
// published during shutdown still reach peer nodes.
//
//	nc, relayConn, _ := realtime.ConnectNATS(cfg.NATS)
//	tree.AddMessagingService(realtime.NewRelay(relayConn, ...))
//	tree.AddMessagingService(services.NewNATSConnService(nc, 10*time.Second))
type NATSConnService struct {
	conn         NATSConn
	drainTimeout time.Duration
	pollInterval time.Duration
	name         string
}

// NewNATSConnService creates the service. drainTimeout defaults to 10s.
func NewNATSConnService(conn NATSConn, drainTimeout time.Duration) *NATSConnService {
	if drainTimeout <= 0 {
		drainTimeout = 10 * time.Second
	}
	return &NATSConnService{
		conn:         conn,
		drainTimeout: drainTimeout,
		pollInterval: 20 * time.Millisecond,
		name:         "nats-connection",
	}
}

// Serve implements suture.Service. Drain is asynchronous in nats.go, so the
// service waits for the connection to report closed.
func (s *NATSConnService) Serve(ctx context.Context) error {
	<-ctx.Done()

	if s.conn.IsClosed() {
		return ctx.Err()
	}
	if err := s.conn.Drain(); err != nil {
		return fmt.Errorf("drain NATS connection: %w", err)
	}

	deadline := time.NewTimer(s.drainTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for !s.conn.IsClosed() {
		select {
		case <-deadline.C:
			logging.Warn().Dur("timeout", s.drainTimeout).Msg("NATS connection did not drain in time")
			return ctx.Err()
		case <-ticker.C:
		}
	}

	logging.Info().Str("component", s.name).Msg("NATS connection drained")
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logging.
func (s *NATSConnService) String() string {
	return s.name
}
