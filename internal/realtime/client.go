// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/gametable/internal/logging"
)

// ClientOptions tunes the websocket pumps.
type ClientOptions struct {
	SendBuffer     int
	MaxMessageSize int64
	PongWait       time.Duration
	WriteWait      time.Duration
}

// DefaultClientOptions returns the defaults used when a field is zero.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		SendBuffer:     256,
		MaxMessageSize: 64 * 1024,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
	}
}

func (o ClientOptions) withDefaults() ClientOptions {
	d := DefaultClientOptions()
	if o.SendBuffer <= 0 {
		o.SendBuffer = d.SendBuffer
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	if o.PongWait <= 0 {
		o.PongWait = d.PongWait
	}
	if o.WriteWait <= 0 {
		o.WriteWait = d.WriteWait
	}
	return o
}

// clientIDCounter hands out increasing ids so fan-out can iterate transports
// in a stable order.
var clientIDCounter atomic.Uint64

// Client is a Transport backed by a gorilla websocket connection.
type Client struct {
	id   uint64
	user UserRef
	hub  *Hub
	conn *websocket.Conn
	opts ClientOptions

	mu     sync.RWMutex
	send   chan Message
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient creates a client for an authenticated principal.
func NewClient(hub *Hub, conn *websocket.Conn, user UserRef, opts ClientOptions) *Client {
	opts = opts.withDefaults()
	c := &Client{
		id:   clientIDCounter.Add(1),
		user: user,
		hub:  hub,
		conn: conn,
		opts: opts,
		send: make(chan Message, opts.SendBuffer),
	}
	c.ctx, c.cancel = context.WithCancel(
		logging.ContextWithConnection(logging.ContextWithNewCorrelationID(context.Background()), user.ID, c.id),
	)
	return c
}

// ID implements Transport.
func (c *Client) ID() uint64 { return c.id }

// PrincipalID implements Transport.
func (c *Client) PrincipalID() string { return c.user.ID }

// User implements Transport.
func (c *Client) User() UserRef { return c.user }

// Send implements Transport. It never blocks.
func (c *Client) Send(msg Message) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close implements Transport. The write pump sends a close frame once the
// queue drains.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	c.cancel()
}

// Start hands the client to the hub and begins reading and writing. It
// reports false when the hub has already shut down.
func (c *Client) Start() bool {
	select {
	case c.hub.Register <- c:
	case <-c.hub.Done():
		logging.Ctx(c.ctx).Warn().Msg("realtime hub stopped, rejecting connection")
		c.Close()
		_ = c.conn.Close() // best-effort cleanup
		return false
	}
	go c.writePump()
	go c.readPump()
	return true
}

// readPump decodes frames and dispatches them in arrival order.
func (c *Client) readPump() {
	defer func() {
		// Unregistration must not be dropped, or the registry keeps a
		// transport whose connection is gone. Once the hub has stopped it
		// holds no transports.
		select {
		case c.hub.Unregister <- c:
		case <-c.hub.Done():
			c.Close()
		}
		_ = c.conn.Close() // best-effort cleanup
	}()

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait)); err != nil {
		logging.Ctx(c.ctx).Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Ctx(c.ctx).Warn().Err(err).Msg("unexpected websocket close error")
			}
			return
		}

		in, err := DecodeInbound(raw)
		if err != nil {
			InboundRejectedTotal.WithLabelValues(ErrorCodeInvalidFrame).Inc()
			c.Send(Message{Type: EventError, Data: ErrorPayload{Code: ErrorCodeInvalidFrame, Message: err.Error()}})
			continue
		}
		//nolint:errcheck // reported to the sender by HandleInbound
		c.hub.presence.HandleInbound(c.ctx, c, in)
	}
}

// writePump serializes queued messages and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close() // best-effort cleanup
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				logging.Ctx(c.ctx).Error().Err(err).Msg("failed to set write deadline")
				return
			}

			if !ok {
				// Closed by Close; say goodbye.
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			data, err := MarshalMessage(message)
			if err != nil {
				logging.Ctx(c.ctx).Error().Err(err).Str("event", message.Type).Msg("failed to encode message")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logging.Ctx(c.ctx).Debug().Err(err).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				logging.Ctx(c.ctx).Error().Err(err).Msg("failed to set write deadline for ping")
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
