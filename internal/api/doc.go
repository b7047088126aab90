// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

/*
Package api provides the HTTP surface of the server on a Chi router.

# Routes

	GET  /healthz                                liveness and connection count
	GET  /metrics                                Prometheus exposition
	GET  /ws                                     realtime websocket upgrade
	POST /api/v1/conversations                   create a conversation
	GET  /api/v1/conversations/{id}/messages     recent messages, oldest first
	POST /api/v1/conversations/{id}/messages     post a message
	GET  /api/v1/conversations/{id}/unread       unread counter of the caller

Everything under /api/v1 requires a bearer token (see internal/auth) and is
rate limited per client IP with go-chi/httprate. CORS is handled by
go-chi/cors for the API group only; the websocket endpoint checks Origin
itself during the upgrade.

# Responses

Resources are returned as bare JSON documents so that the client cache
(internal/cache.Locator) can decode a message list directly. Errors share one
envelope:

	{"error": {"code": "FORBIDDEN", "message": "...", "request_id": "..."}}
*/
package api
