// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package chat

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/tomtom215/gametable/internal/realtime"
)

// EventRead is sent by a client that has seen the latest messages of a
// conversation.
const EventRead = "chat.read"

type readPayload struct {
	ConversationID string `json:"conversation_id" validate:"required,max=128"`
}

// RoomHandler admits a transport to "chat.<id>" only when its principal is a
// participant of conversation id.
func RoomHandler(store ParticipantStore) realtime.RoomHandler {
	return func(ctx context.Context, t realtime.Transport, room realtime.Room) error {
		ok, err := store.IsParticipant(ctx, room.Label, t.PrincipalID())
		if err != nil {
			return fmt.Errorf("check participant: %w", err)
		}
		if !ok {
			return ErrNotParticipant
		}
		return nil
	}
}

// RegisterRooms installs the chat room handler on gate.
func RegisterRooms(gate *realtime.Gate, store ParticipantStore) {
	gate.Handle(RoomContext, RoomHandler(store))
}

// ReadHandler clears the sender's unread counter of a conversation.
func ReadHandler(svc *Service) realtime.InboundHandler {
	return func(ctx context.Context, t realtime.Transport, data json.RawMessage) error {
		payload, err := realtime.DecodePayload[readPayload](data)
		if err != nil {
			return err
		}
		return svc.MarkRead(ctx, payload.ConversationID, t.PrincipalID())
	}
}

// RegisterInbound installs the chat client events on presence.
func RegisterInbound(presence *realtime.Presence, svc *Service) error {
	return presence.On(EventRead, ReadHandler(svc))
}
