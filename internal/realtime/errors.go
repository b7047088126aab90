// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package realtime

import "errors"

var (
	// ErrInvalidRoom is returned for empty or malformed room names.
	ErrInvalidRoom = errors.New("invalid room name")

	// ErrJoinDenied wraps a handler rejection or a recovered handler panic.
	ErrJoinDenied = errors.New("room join denied")

	// ErrNotMember is returned when a room-scoped action comes from a transport
	// that has not joined the room.
	ErrNotMember = errors.New("not a member of room")

	// ErrInvalidPayload is returned for frames whose data fails validation.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrUnknownEvent is returned for inbound events without a handler.
	ErrUnknownEvent = errors.New("unknown event")

	// ErrRateLimited is returned when a connection exceeds its relay budget.
	ErrRateLimited = errors.New("rate limited")
)
