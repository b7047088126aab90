// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/tomtom215/gametable/internal/config"
	"github.com/tomtom215/gametable/internal/logging"
)

const embeddedReadyTimeout = 10 * time.Second

// EmbeddedServer is an in-process NATS server for single-node deployments
// and for nodes that act as the relay hub of a small cluster.
type EmbeddedServer struct {
	server    *server.Server
	clientURL string
}

// StartEmbeddedServer starts a core NATS server (no JetStream) on the
// configured host and port. Port -1 picks a random free port.
func StartEmbeddedServer(cfg config.NATSConfig) (*EmbeddedServer, error) {
	opts := &server.Options{
		ServerName: "gametable-relay",
		Host:       cfg.EmbeddedHost,
		Port:       cfg.EmbeddedPort,
		NoLog:      true,
		// The process installs its own signal handling.
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(embeddedReadyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready within %s", embeddedReadyTimeout)
	}

	logging.Info().Str("url", ns.ClientURL()).Msg("embedded NATS server started")
	return &EmbeddedServer{server: ns, clientURL: ns.ClientURL()}, nil
}

// ClientURL returns the connection URL for clients.
func (s *EmbeddedServer) ClientURL() string {
	return s.clientURL
}

// IsRunning reports whether the server accepts connections.
func (s *EmbeddedServer) IsRunning() bool {
	return s.server.Running()
}

// Shutdown stops the server and waits for it unless ctx ends first.
func (s *EmbeddedServer) Shutdown(ctx context.Context) error {
	s.server.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.WaitForShutdown()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
