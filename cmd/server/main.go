// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/gametable/internal/api"
	"github.com/tomtom215/gametable/internal/auth"
	"github.com/tomtom215/gametable/internal/authz"
	"github.com/tomtom215/gametable/internal/chat"
	"github.com/tomtom215/gametable/internal/config"
	"github.com/tomtom215/gametable/internal/logging"
	"github.com/tomtom215/gametable/internal/realtime"
	"github.com/tomtom215/gametable/internal/supervisor"
	"github.com/tomtom215/gametable/internal/supervisor/services"
)

//nolint:gocyclo // Main initialization function with sequential setup steps
func main() {
	cfg, err := config.Load()
	if err != nil {
		// Config not yet available, default logger.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("environment", cfg.Server.Environment).
		Str("store_path", cfg.Store.Path).
		Bool("nats_enabled", cfg.NATS.Enabled).
		Msg("Starting Gametable with supervisor tree")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	enforcer, err := authz.NewEnforcer(ctx, &authz.EnforcerConfig{
		ModelPath:      cfg.Security.Casbin.ModelPath,
		PolicyPath:     cfg.Security.Casbin.PolicyPath,
		AutoReload:     cfg.Security.Casbin.AutoReload,
		ReloadInterval: cfg.Security.Casbin.ReloadInterval,
		DefaultRole:    cfg.Security.Casbin.DefaultRole,
		CacheEnabled:   cfg.Security.Casbin.CacheEnabled,
		CacheTTL:       cfg.Security.Casbin.CacheTTL,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize authorization enforcer")
	}
	defer enforcer.Close()

	jwtManager, err := auth.NewJWTManager(&cfg.Security)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize JWT manager")
	}

	store, err := chat.OpenBadgerStore(cfg.Store)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open conversation store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing conversation store")
		}
	}()

	if len(cfg.Security.CORSOrigins) == 0 || containsWildcard(cfg.Security.CORSOrigins) {
		logging.Warn().Msg("Realtime endpoint accepts connections from any Origin (CORS_ORIGINS unset or *)")
	}

	// Realtime layer
	registry := realtime.NewRegistry()
	gate := realtime.NewGate(realtime.WithJoinDeniedEvents(cfg.Realtime.EmitJoinDenied))
	fanout := realtime.NewFanout(registry, gate,
		realtime.WithOfflinePolicy(realtime.OfflinePolicy(cfg.Realtime.OnOfflineTarget)),
		realtime.WithAuthorization(enforcer),
	)
	presence := realtime.NewPresence(registry, gate, fanout, cfg.Realtime.TypingRate, cfg.Realtime.TypingBurst)
	hub := realtime.NewHub(registry, gate, fanout, presence, cfg.Realtime.BroadcastBuffer)

	// Conversations
	chat.RegisterRooms(gate, store)
	chatService := chat.NewService(store, fanout)
	if err := chat.RegisterInbound(presence, chatService); err != nil {
		logging.Fatal().Err(err).Msg("Failed to register chat events")
	}

	endpoint := realtime.NewEndpoint(hub, jwtManager, enforcer, cfg.Security.CORSOrigins, cfg.Realtime.HandshakeTimeout,
		realtime.ClientOptions{
			SendBuffer:     cfg.Realtime.SendBufferSize,
			MaxMessageSize: cfg.Realtime.MaxMessageSize,
			PongWait:       cfg.Realtime.PongWait,
			WriteWait:      cfg.Realtime.WriteWait,
		})

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.NewTreeConfig(cfg.Supervisor))
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	if cfg.Store.GCInterval > 0 && !cfg.Store.InMemory {
		tree.AddDataService(services.NewStoreGCService(store, cfg.Store.GCInterval, cfg.Store.GCDiscardRatio))
	}

	tree.AddMessagingService(hub)

	if cfg.NATS.Enabled {
		if cfg.NATS.Embedded {
			embedded, err := realtime.StartEmbeddedServer(cfg.NATS)
			if err != nil {
				logging.Fatal().Err(err).Msg("Failed to start embedded NATS server")
			}
			defer func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Supervisor.ShutdownTimeout)
				defer shutdownCancel()
				if err := embedded.Shutdown(shutdownCtx); err != nil {
					logging.Error().Err(err).Msg("Error stopping embedded NATS server")
				}
			}()
			cfg.NATS.URL = embedded.ClientURL()
		}

		nc, relayConn, err := realtime.ConnectNATS(cfg.NATS)
		if err != nil {
			logging.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("Failed to connect to NATS")
		}
		relay := realtime.NewRelay(relayConn, cfg.NATS.SubjectPrefix, cfg.NATS.NodeID, hub)
		fanout.SetRelay(relay)

		tree.AddMessagingService(relay)
		tree.AddMessagingService(services.NewNATSConnService(nc, cfg.Supervisor.ShutdownTimeout))
		logging.Info().Str("url", cfg.NATS.URL).Str("node_id", relay.NodeID()).Msg("Realtime relay enabled")
	}

	router := api.SetupChi(api.RouterDeps{
		Handler:      api.NewHandler(chatService, registry),
		Realtime:     endpoint,
		Authenticate: jwtManager.Middleware,
		Security:     &cfg.Security,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.Timeout,
		IdleTimeout:       2 * cfg.Server.Timeout,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server configured")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)

	var serveErr error
	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
		serveErr = <-errCh
	case serveErr = <-errCh:
		cancel()
	}
	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		logging.Error().Err(serveErr).Msg("Supervisor tree error")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Application stopped gracefully")
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
