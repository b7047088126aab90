// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

/*
Package supervisor runs the long-lived parts of the server under a suture v4
supervisor tree.

# Tree Layout

	gametable (root)
	├── data-layer        chat store value-log GC
	├── messaging-layer   realtime hub, NATS relay, NATS connection drain
	└── api-layer         HTTP server

Each layer is its own supervisor, so a service that keeps failing in one
layer backs off without restarting the others. Supervisor events are logged
through sutureslog on the slog adapter of internal/logging.

# Usage

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.NewTreeConfig(cfg.Supervisor))
	if err != nil {
	    return err
	}
	tree.AddMessagingService(hub)
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	return tree.Serve(ctx)

Services live in the services subpackage.
*/
package supervisor
