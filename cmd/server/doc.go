// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

/*
Package main is the entry point for the Gametable realtime server.

Gametable keeps a live connection per signed-in principal, gates entry to
named rooms, and fans events out to everyone, to one room, to one principal or
to every holder of an entitlement. Conversations are the first feature built
on top of it.

# Application Architecture

The server implements a layered architecture with Suture v4 process supervision:

	RootSupervisor ("gametable")
	├── DataSupervisor ("data-layer")
	│   └── Store GC (BadgerDB value log)
	├── MessagingSupervisor ("messaging-layer")
	│   ├── Realtime Hub (connection lifecycle)
	│   ├── Realtime Relay (optional, NATS)
	│   └── NATS connection drain (optional)
	└── APISupervisor ("api-layer")
	    └── HTTP Server (REST API and /ws upgrade)

Component initialization order:

 1. Configuration: Koanf v2 with config.yaml and environment variables
 2. Authorization: Casbin enforcer with embedded or file policy
 3. Store: BadgerDB conversation store
 4. Realtime: registry, room gate, fan-out, presence and hub
 5. NATS (optional): cross-node fan-out relay
 6. HTTP Server: chi router with JWT authentication

# Configuration

Important environment variables:

	JWT_SECRET                  32+ character secret for token signing (required)
	HTTP_PORT                   Listen port (default 8740)
	CORS_ORIGINS                Comma-separated allowed origins, also used for /ws
	REALTIME_ON_OFFLINE_TARGET  noop or broadcast
	NATS_ENABLED                Relay fan-out through NATS (default false)
	NATS_EMBEDDED               Run the NATS server in-process
	STORE_PATH                  BadgerDB directory (default /data/gametable)

# Signal Handling

SIGINT and SIGTERM cancel the root context. The supervisor stops the HTTP
server first, then the hub closes every connection, then the NATS connection
drains. Services that miss the shutdown timeout are reported.
*/
package main
