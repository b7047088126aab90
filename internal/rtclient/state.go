// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

// Package rtclient is the client side of the realtime layer: it owns the
// websocket, replays listener registrations once the server is ready and
// rejoins held rooms after a reconnect.
package rtclient

import "errors"

// State is the lifecycle state of a Client.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateReady
	StateReconnecting
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

var (
	// ErrNotConnected is returned by Emit, Join and Leave outside StateReady.
	ErrNotConnected = errors.New("realtime client not connected")

	// ErrEnded rejects a pending Begin when End is called first.
	ErrEnded = errors.New("realtime client ended")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("realtime client closed")
)
