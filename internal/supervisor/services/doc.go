// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

/*
Package services provides suture.Service wrappers for components whose
lifecycle is not already a Serve(ctx) loop.

# Available Services

HTTP Server (HTTPServerService):
  - Wraps *http.Server, translating ListenAndServe into Serve
  - Graceful Shutdown with a configurable timeout

Store GC (StoreGCService):
  - Periodic BadgerDB value-log garbage collection for the chat store

NATS Connection (NATSConnService):
  - Drains the relay's NATS connection when the tree stops, so in-flight
    publishes are flushed before the process exits

The realtime Hub and Relay implement suture.Service themselves and are added
to the tree directly.
*/
package services
