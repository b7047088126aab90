// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

/*
Package realtime is the server side of the presence and room layer.

A principal connects over a websocket and is tracked by the Registry with
last-connection-wins semantics. Clients ask to join rooms named
"context.label"; the Gate runs the handler chain registered for the context
and records membership only when every handler accepts. Fanout delivers
events to everyone, to a room, to a single principal, to everyone but one
principal, or to the principals an authorization query returns. Presence ties
these together on connect and disconnect.

# Concurrency

Connection lifecycle (register, replace, unregister) and relayed deliveries
are processed serially on the Hub goroutine. Inbound frames are dispatched on
the reading goroutine of their own connection, so a slow room handler only
stalls that connection. Registry and Gate are internally synchronized and may
be read from any goroutine; Fanout never blocks on a slow receiver.

# Wire format

Every frame is a JSON envelope {"type": ..., "data": ...}. Event names:

	room:join         client -> server, data: "context.label"
	room:leave        client -> server, data: "context.label"
	room:joined       server -> client, data: canonical room name
	room:left         server -> client, data: canonical room name
	room:join-denied  server -> client, data: {room, reason} (optional)
	ready             server -> client, no data
	user.online       server -> client, roster array or single user
	user.offline      server -> client, single user
	typing            client -> server, data: {room, typing}
	typingStatus      server -> client, data: {user_id, room, typing}
	ping / pong       keepalive at the application level
	error             server -> client, data: {code, message}
*/
package realtime
