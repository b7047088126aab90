// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

// Package chat is the conversation feature built on the realtime layer:
// a room gate for "chat.<conversation>" rooms, the message posting
// procedure, a BadgerDB document store and the client-side message view.
package chat

import (
	"context"
	"errors"
	"time"
)

// RoomContext is the room context of conversations.
const RoomContext = "chat"

// EventMessage is pushed to the conversation room for every new message.
const EventMessage = "chat.message"

var (
	// ErrConversationNotFound is returned for unknown conversation ids.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrNotParticipant is returned when a principal is not part of a conversation.
	ErrNotParticipant = errors.New("not a participant of the conversation")

	// ErrEmptyBody is returned for messages without text.
	ErrEmptyBody = errors.New("message body is empty")
)

// Conversation is a chat between a fixed set of principals.
type Conversation struct {
	ID           string    `json:"id"`
	Title        string    `json:"title,omitempty"`
	Participants []string  `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasParticipant reports whether principalID takes part in c.
func (c *Conversation) HasParticipant(principalID string) bool {
	for _, p := range c.Participants {
		if p == principalID {
			return true
		}
	}
	return false
}

// Message is one chat line.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
}

// ParticipantStore answers room join checks.
type ParticipantStore interface {
	IsParticipant(ctx context.Context, conversationID, principalID string) (bool, error)
}

// Store persists conversations, messages and unread counters.
type Store interface {
	ParticipantStore

	GetConversation(ctx context.Context, id string) (*Conversation, error)
	SaveConversation(ctx context.Context, c *Conversation) error
	SaveMessage(ctx context.Context, m *Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)
	IncrementUnread(ctx context.Context, conversationID string, principalIDs []string) error
	Unread(ctx context.Context, conversationID, principalID string) (int, error)
	ResetUnread(ctx context.Context, conversationID, principalID string) error
}
