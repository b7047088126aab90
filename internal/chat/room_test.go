// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/tomtom215/gametable/internal/realtime"
)

type stubTransport struct {
	id        uint64
	principal string
	sent      []realtime.Message
}

func (s *stubTransport) ID() uint64          { return s.id }
func (s *stubTransport) PrincipalID() string { return s.principal }
func (s *stubTransport) User() realtime.UserRef {
	return realtime.UserRef{ID: s.principal}
}
func (s *stubTransport) Send(msg realtime.Message) bool {
	s.sent = append(s.sent, msg)
	return true
}
func (s *stubTransport) Close() {}

type participantsFunc func(conversationID, principalID string) (bool, error)

func (f participantsFunc) IsParticipant(_ context.Context, conversationID, principalID string) (bool, error) {
	return f(conversationID, principalID)
}

func TestRoomHandler(t *testing.T) {
	store := participantsFunc(func(conversationID, principalID string) (bool, error) {
		if conversationID == "broken" {
			return false, errors.New("store offline")
		}
		return conversationID == "c1" && principalID == "alice", nil
	})

	gate := realtime.NewGate()
	RegisterRooms(gate, store)

	tests := []struct {
		name      string
		principal string
		room      string
		wantErr   bool
	}{
		{"participant", "alice", "chat.c1", false},
		{"outsider", "mallory", "chat.c1", true},
		{"unknown conversation", "alice", "chat.c2", true},
		{"store failure", "alice", "chat.broken", true},
		{"other context is not gated", "mallory", "game.c1", false},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &stubTransport{id: uint64(i + 1), principal: tt.principal}
			room, err := gate.RequestJoin(context.Background(), tr, tt.room)

			if tt.wantErr {
				if !errors.Is(err, realtime.ErrJoinDenied) {
					t.Errorf("RequestJoin() = %v, want ErrJoinDenied", err)
				}
				if gate.IsMember(room, tr) {
					t.Error("denied transport became a member")
				}
				return
			}
			if err != nil {
				t.Fatalf("RequestJoin() = %v", err)
			}
			if !gate.IsMember(room, tr) {
				t.Error("admitted transport is not a member")
			}
		})
	}
}

func TestRoomHandler_DeniesWithNotParticipant(t *testing.T) {
	handler := RoomHandler(participantsFunc(func(string, string) (bool, error) { return false, nil }))
	err := handler(context.Background(), &stubTransport{principal: "x"}, Room("c9"))
	if !errors.Is(err, ErrNotParticipant) {
		t.Errorf("handler() = %v, want ErrNotParticipant", err)
	}
	if Room("c9").String() != "chat.c9" {
		t.Errorf("Room() = %s", Room("c9"))
	}
}

func TestRegisterInbound_ReadClearsUnread(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	svc := NewService(store, &recordingBroadcaster{})

	conv, err := svc.CreateConversation(ctx, "alice", "table", []string{"bob"})
	if err != nil {
		t.Fatalf("CreateConversation() = %v", err)
	}
	if _, err := svc.PostMessage(ctx, conv.ID, "alice", "roll initiative"); err != nil {
		t.Fatalf("PostMessage() = %v", err)
	}

	registry := realtime.NewRegistry()
	gate := realtime.NewGate()
	fanout := realtime.NewFanout(registry, gate)
	presence := realtime.NewPresence(registry, gate, fanout, 10, 10)
	if err := RegisterInbound(presence, svc); err != nil {
		t.Fatalf("RegisterInbound() = %v", err)
	}

	bob := &stubTransport{id: 1, principal: "bob"}
	in := realtime.Inbound{Type: EventRead, Data: []byte(`{"conversation_id":"` + conv.ID + `"}`)}
	if err := presence.HandleInbound(ctx, bob, in); err != nil {
		t.Fatalf("HandleInbound() = %v", err)
	}
	if n, _ := svc.Unread(ctx, conv.ID, "bob"); n != 0 {
		t.Errorf("Unread() = %d, want 0", n)
	}

	mallory := &stubTransport{id: 2, principal: "mallory"}
	err = presence.HandleInbound(ctx, mallory, in)
	if !errors.Is(err, ErrNotParticipant) {
		t.Errorf("HandleInbound(outsider) = %v, want ErrNotParticipant", err)
	}
	if len(mallory.sent) != 1 || mallory.sent[0].Type != realtime.EventError {
		t.Errorf("outsider frames = %+v, want one error frame", mallory.sent)
	}

	err = presence.HandleInbound(ctx, bob, realtime.Inbound{Type: EventRead, Data: []byte(`{}`)})
	if !errors.Is(err, realtime.ErrInvalidPayload) {
		t.Errorf("HandleInbound(empty) = %v, want ErrInvalidPayload", err)
	}
}
