// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/gametable/internal/logging"
	"github.com/tomtom215/gametable/internal/realtime"
)

// RoomBroadcaster is the part of the fan-out the service needs.
type RoomBroadcaster interface {
	BroadcastRoom(event string, room realtime.Room, data interface{})
}

// Service implements conversation operations over a Store.
type Service struct {
	store  Store
	fanout RoomBroadcaster
	now    func() time.Time
}

// NewService creates a chat service.
func NewService(store Store, fanout RoomBroadcaster) *Service {
	return &Service{
		store:  store,
		fanout: fanout,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Room returns the realtime room of a conversation.
func Room(conversationID string) realtime.Room {
	return realtime.Room{Context: RoomContext, Label: conversationID}
}

// CreateConversation stores a new conversation. The creator is always a
// participant; duplicate participants are collapsed.
func (s *Service) CreateConversation(ctx context.Context, creatorID, title string, participants []string) (*Conversation, error) {
	seen := map[string]bool{creatorID: true}
	members := []string{creatorID}
	for _, p := range participants {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		members = append(members, p)
	}

	now := s.now()
	c := &Conversation{
		ID:           uuid.NewString(),
		Title:        title,
		Participants: members,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.SaveConversation(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// PostMessage runs the posting procedure in order: load and touch the
// conversation, save the message, bump the unread counters of the other
// participants, then push chat.message to the conversation room. A failing
// step stops the procedure and nothing after it happens.
func (s *Service) PostMessage(ctx context.Context, conversationID, senderID, body string) (*Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrEmptyBody
	}

	conversation, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(senderID) {
		return nil, fmt.Errorf("%w: %s", ErrNotParticipant, conversationID)
	}

	now := s.now()
	conversation.UpdatedAt = now
	if err := s.store.SaveConversation(ctx, conversation); err != nil {
		return nil, err
	}

	msg := &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		CreatedAt:      now,
	}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return nil, err
	}

	recipients := make([]string, 0, len(conversation.Participants))
	for _, p := range conversation.Participants {
		if p != senderID {
			recipients = append(recipients, p)
		}
	}
	if err := s.store.IncrementUnread(ctx, conversationID, recipients); err != nil {
		return nil, err
	}

	s.fanout.BroadcastRoom(EventMessage, Room(conversationID), msg)

	logging.Ctx(ctx).Debug().
		Str("conversation_id", conversationID).
		Str("message_id", msg.ID).
		Msg("chat message posted")
	return msg, nil
}

// History returns up to limit recent messages for a participant and clears
// their unread counter.
func (s *Service) History(ctx context.Context, conversationID, principalID string, limit int) ([]Message, error) {
	ok, err := s.store.IsParticipant(ctx, conversationID, principalID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotParticipant, conversationID)
	}

	messages, err := s.store.ListMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, err
	}
	if err := s.store.ResetUnread(ctx, conversationID, principalID); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("conversation_id", conversationID).Msg("failed to reset unread counter")
	}
	return messages, nil
}

// Unread returns the unread count of a participant.
func (s *Service) Unread(ctx context.Context, conversationID, principalID string) (int, error) {
	ok, err := s.store.IsParticipant(ctx, conversationID, principalID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotParticipant, conversationID)
	}
	return s.store.Unread(ctx, conversationID, principalID)
}

// MarkRead clears the unread counter of a participant.
func (s *Service) MarkRead(ctx context.Context, conversationID, principalID string) error {
	ok, err := s.store.IsParticipant(ctx, conversationID, principalID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotParticipant, conversationID)
	}
	return s.store.ResetUnread(ctx, conversationID, principalID)
}
