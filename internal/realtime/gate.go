// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package realtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tomtom215/gametable/internal/logging"
)

// RoomHandler decides whether t may join room. Returning nil lets the chain
// continue; any error denies the join and stops the chain.
type RoomHandler func(ctx context.Context, t Transport, room Room) error

// Gate owns room membership. A join is recorded only after every handler
// registered for the room's context has accepted it.
type Gate struct {
	emitDenied bool

	handlersMu sync.RWMutex
	handlers   map[string][]RoomHandler

	mu      sync.RWMutex
	members map[Room]map[uint64]Transport
	rooms   map[uint64]map[Room]struct{}
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithJoinDeniedEvents makes RequestJoin send a room:join-denied frame to the
// requester when a join is rejected. Denials are silent otherwise.
func WithJoinDeniedEvents(enabled bool) GateOption {
	return func(g *Gate) { g.emitDenied = enabled }
}

// NewGate creates a gate with no handlers; every join is granted until a
// handler is registered for the context.
func NewGate(opts ...GateOption) *Gate {
	g := &Gate{
		handlers: make(map[string][]RoomHandler),
		members:  make(map[Room]map[uint64]Transport),
		rooms:    make(map[uint64]map[Room]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Handle appends handler to the chain of roomContext.
func (g *Gate) Handle(roomContext string, handler RoomHandler) {
	g.handlersMu.Lock()
	defer g.handlersMu.Unlock()
	g.handlers[roomContext] = append(g.handlers[roomContext], handler)
}

// RequestJoin runs the handler chain for raw and records membership when it
// passes. The chain runs again when t already holds the room.
//
// On success the joiner alone receives room:joined with the canonical name.
// On denial nothing is recorded, no acknowledgement is sent and the returned
// error wraps ErrJoinDenied.
func (g *Gate) RequestJoin(ctx context.Context, t Transport, raw string) (Room, error) {
	room, err := ParseRoom(raw)
	if err != nil {
		return Room{}, err
	}

	if err := g.runChain(ctx, t, room); err != nil {
		RoomJoinDenialsTotal.WithLabelValues(room.Context).Inc()
		logging.Ctx(ctx).Info().
			Str("room", room.String()).
			Str("reason", err.Error()).
			Msg("room join denied")

		if g.emitDenied {
			recordDelivery(t.Send(Message{Type: EventRoomJoinDenied, Data: JoinDenied{Room: room.String(), Reason: err.Error()}}))
		}
		if errors.Is(err, ErrJoinDenied) {
			return room, err
		}
		return room, fmt.Errorf("%w: %w", ErrJoinDenied, err)
	}

	g.addMember(room, t)
	RoomJoinsTotal.WithLabelValues(room.Context).Inc()
	logging.Ctx(ctx).Debug().Str("room", room.String()).Msg("room joined")

	recordDelivery(t.Send(Message{Type: EventRoomJoined, Data: room.String()}))
	return room, nil
}

func (g *Gate) runChain(ctx context.Context, t Transport, room Room) error {
	g.handlersMu.RLock()
	chain := append([]RoomHandler(nil), g.handlers[room.Context]...)
	g.handlersMu.RUnlock()

	for _, handler := range chain {
		if err := callHandler(ctx, handler, t, room); err != nil {
			return err
		}
	}
	return nil
}

// callHandler converts a handler panic into a denial.
func callHandler(ctx context.Context, handler RoomHandler, t Transport, room Room) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Ctx(ctx).Error().
				Interface("panic", r).
				Str("room", room.String()).
				Msg("room handler panicked")
			err = fmt.Errorf("%w: handler panic", ErrJoinDenied)
		}
	}()
	return handler(ctx, t, room)
}

// Leave removes t from the room named raw and acknowledges with room:left.
// Leaving a room that is not held still acknowledges.
func (g *Gate) Leave(t Transport, raw string) (Room, error) {
	room, err := ParseRoom(raw)
	if err != nil {
		return Room{}, err
	}
	g.removeMember(room, t)
	recordDelivery(t.Send(Message{Type: EventRoomLeft, Data: room.String()}))
	return room, nil
}

// LeaveAll clears every membership of t without acknowledgements.
func (g *Gate) LeaveAll(t Transport) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for room := range g.rooms[t.ID()] {
		g.deleteMemberLocked(room, t.ID())
	}
	delete(g.rooms, t.ID())
}

// IsMember reports whether t has joined room.
func (g *Gate) IsMember(room Room, t Transport) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.members[room][t.ID()]
	return ok
}

// Members returns the transports joined to room ordered by id.
func (g *Gate) Members(room Room) []Transport {
	g.mu.RLock()
	members := make([]Transport, 0, len(g.members[room]))
	for _, t := range g.members[room] {
		members = append(members, t)
	}
	g.mu.RUnlock()

	sortTransports(members)
	return members
}

// RoomsOf returns the rooms t has joined, sorted by name.
func (g *Gate) RoomsOf(t Transport) []Room {
	g.mu.RLock()
	rooms := make([]Room, 0, len(g.rooms[t.ID()]))
	for room := range g.rooms[t.ID()] {
		rooms = append(rooms, room)
	}
	g.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].String() < rooms[j].String()
	})
	return rooms
}

func (g *Gate) addMember(room Room, t Transport) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.members[room] == nil {
		g.members[room] = make(map[uint64]Transport)
	}
	g.members[room][t.ID()] = t

	if g.rooms[t.ID()] == nil {
		g.rooms[t.ID()] = make(map[Room]struct{})
	}
	g.rooms[t.ID()][room] = struct{}{}
}

func (g *Gate) removeMember(room Room, t Transport) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.deleteMemberLocked(room, t.ID())
	if rooms := g.rooms[t.ID()]; rooms != nil {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(g.rooms, t.ID())
		}
	}
}

func (g *Gate) deleteMemberLocked(room Room, id uint64) {
	members := g.members[room]
	if members == nil {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(g.members, room)
	}
}
