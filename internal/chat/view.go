// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package chat

import (
	"context"
	"net/url"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tomtom215/gametable/internal/cache"
	"github.com/tomtom215/gametable/internal/logging"
	"github.com/tomtom215/gametable/internal/rtclient"
)

// EventMessagesChanged is triggered on the realtime client whenever the
// message list of an open View changes.
const EventMessagesChanged = "chat.messages.changed"

// View is the client-side message list of one conversation. History comes
// from the HTTP API; pushed chat.message events are appended through the
// cache so they land after the history fetch.
type View struct {
	client         *rtclient.Client
	conversationID string
	messages       *cache.Reconciling[Message]
	source         cache.Source[Message]
	listener       *rtclient.Listener

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewView creates a view of conversationID. apiBase is the server root, e.g.
// https://table.example.
func NewView(client *rtclient.Client, fetcher *cache.HTTPFetcher, apiBase, conversationID string) *View {
	v := &View{
		client:         client,
		conversationID: conversationID,
		messages: cache.New(cache.Options[Message]{
			Name:        "chat-messages",
			Equal:       func(a, b Message) bool { return a.ID == b.ID },
			Notifier:    client,
			ChangeEvent: EventMessagesChanged,
		}),
		source: cache.Locator[Message]{
			Fetcher: fetcher,
			URL:     apiBase + "/api/v1/conversations/" + url.PathEscape(conversationID) + "/messages",
		},
	}
	v.listener = rtclient.NewListener(v.onMessage)
	return v
}

// Open listens for pushes, joins the conversation room and loads history.
// The listener is removed when ctx ends or Close is called.
func (v *View) Open(ctx context.Context) *cache.Pending[[]Message] {
	scope, cancel := context.WithCancel(ctx)
	v.mu.Lock()
	if v.cancel != nil {
		v.cancel()
	}
	v.cancel = cancel
	v.mu.Unlock()

	v.client.On(EventMessage, scope, v.listener)
	if err := v.client.Join(Room(v.conversationID).String()); err != nil {
		logging.Warn().Err(err).Str("conversation_id", v.conversationID).Msg("failed to join conversation room")
	}
	return v.messages.Load(scope, v.source)
}

// Close stops listening and leaves the room.
func (v *View) Close() {
	v.mu.Lock()
	cancel := v.cancel
	v.cancel = nil
	v.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	v.client.Off(EventMessage, v.listener)
	if err := v.client.Leave(Room(v.conversationID).String()); err != nil {
		logging.Debug().Err(err).Msg("failed to leave conversation room")
	}
}

// Refresh marks the history stale and reloads it.
func (v *View) Refresh(ctx context.Context) *cache.Pending[[]Message] {
	v.messages.Invalidate()
	return v.messages.Load(ctx, v.source)
}

// Messages returns the current list.
func (v *View) Messages() []Message {
	data, _ := v.messages.Data()
	return data
}

func (v *View) onMessage(data json.RawMessage) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		logging.Warn().Err(err).Msg("discarding undecodable chat message")
		return
	}
	if msg.ConversationID != v.conversationID {
		return
	}
	// A history fetch in flight may already contain it.
	v.messages.AppendUnique(msg)
}
