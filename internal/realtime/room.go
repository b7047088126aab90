// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package realtime

import (
	"fmt"
	"strings"
)

// GlobalContext is the context of room names without a separator.
const GlobalContext = "global"

const roomSeparator = "."

// Room is a logical broadcast group. The zero Room means "no room" wherever a
// room restricts delivery.
type Room struct {
	Context string
	Label   string
}

// NoRoom is passed to fan-out operations that are not restricted to a room.
var NoRoom = Room{}

// ParseRoom splits raw on its first '.' into context and label. A name
// without a separator belongs to GlobalContext.
func ParseRoom(raw string) (Room, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Room{}, ErrInvalidRoom
	}

	contextName, label, found := strings.Cut(raw, roomSeparator)
	if !found {
		return Room{Context: GlobalContext, Label: raw}, nil
	}
	if contextName == "" || label == "" {
		return Room{}, fmt.Errorf("%w: %q", ErrInvalidRoom, raw)
	}
	return Room{Context: contextName, Label: label}, nil
}

// String returns the canonical "context.label" name.
func (r Room) String() string {
	if r.IsZero() {
		return ""
	}
	return r.Context + roomSeparator + r.Label
}

// IsZero reports whether r is NoRoom.
func (r Room) IsZero() bool {
	return r.Context == "" && r.Label == ""
}
