// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package rtclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tomtom215/gametable/internal/cache"
	"github.com/tomtom215/gametable/internal/logging"
)

// Wire events the client reacts to.
const (
	eventReady      = "ready"
	eventRoomJoin   = "room:join"
	eventRoomLeave  = "room:leave"
	eventRoomJoined = "room:joined"
	eventRoomLeft   = "room:left"
)

// Options configures a Client.
type Options struct {
	// URL is the websocket endpoint, e.g. wss://table.example/ws.
	URL string

	// Header is sent with every dial, typically carrying the bearer token.
	Header http.Header

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// NewBackOff builds the reconnect schedule. Defaults to exponential
	// backoff from 500ms to 30s without an elapsed-time limit.
	NewBackOff func() backoff.BackOff

	// ReconnectRate and ReconnectBurst cap dial attempts across reconnects.
	ReconnectRate  rate.Limit
	ReconnectBurst int

	// DispatchBuffer bounds events waiting for listener delivery.
	DispatchBuffer int

	// WriteWait bounds a single frame write.
	WriteWait time.Duration
}

func (o Options) withDefaults() Options {
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.NewBackOff == nil {
		o.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		}
	}
	if o.ReconnectRate <= 0 {
		o.ReconnectRate = rate.Every(time.Second)
	}
	if o.ReconnectBurst <= 0 {
		o.ReconnectBurst = 3
	}
	if o.DispatchBuffer <= 0 {
		o.DispatchBuffer = 256
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	return o
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Client is the single owner of a realtime connection. The rest of the
// application talks to the server only through its methods.
type Client struct {
	opts    Options
	limiter *rate.Limiter

	mu     sync.Mutex
	state  State
	conn   *websocket.Conn
	begin  *cache.Pending[struct{}]
	cancel context.CancelFunc
	queued []*registration
	active []*registration
	rooms  map[string]bool
	closed bool

	writeMu sync.Mutex

	deliveries chan frame
	stopped    chan struct{}
	closeOnce  sync.Once
}

// New creates an idle client and starts its dispatcher. Call Close when the
// client is no longer needed.
func New(opts Options) *Client {
	opts = opts.withDefaults()
	c := &Client{
		opts:       opts,
		limiter:    rate.NewLimiter(opts.ReconnectRate, opts.ReconnectBurst),
		rooms:      make(map[string]bool),
		deliveries: make(chan frame, opts.DispatchBuffer),
		stopped:    make(chan struct{}),
	}
	go c.dispatch()
	return c
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Begin connects unless a connection is already starting or established, in
// which case the existing result is returned. The result resolves when the
// server reports ready and rejects when the first dial fails. ctx bounds that
// dial only.
func (c *Client) Begin(ctx context.Context) *cache.Pending[struct{}] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return cache.Rejected[struct{}](ErrClosed)
	}
	if c.begin != nil {
		return c.begin
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	c.begin = cache.NewPending[struct{}]()
	c.cancel = cancel
	c.state = StateConnecting
	c.rooms = make(map[string]bool)

	go c.run(ctx, sessionCtx, c.begin)
	return c.begin
}

// End closes the connection and returns to a reusable state. Active listener
// registrations move back to the queue and are replayed by the next Begin.
func (c *Client) End() {
	c.mu.Lock()
	if c.state == StateEnded || c.state == StateIdle {
		c.state = StateEnded
		c.mu.Unlock()
		return
	}

	c.state = StateEnded
	c.queued = append(c.active, c.queued...)
	c.active = nil
	c.rooms = make(map[string]bool)
	conn, begin, cancel := c.conn, c.begin, c.cancel
	c.conn, c.begin, c.cancel = nil, nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		deadline := time.Now().Add(c.opts.WriteWait)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	}
	if begin != nil {
		begin.Reject(ErrEnded)
	}
	logging.Debug().Str("component", "rtclient").Msg("realtime client ended")
}

// Close ends the client and stops its dispatcher. The client cannot be used
// afterwards.
func (c *Client) Close() {
	c.End()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.stopped) })
}

// Emit sends an event to the server.
func (c *Client) Emit(event string, data interface{}) error {
	c.mu.Lock()
	conn := c.conn
	ready := c.state == StateReady
	c.mu.Unlock()
	if !ready || conn == nil {
		return ErrNotConnected
	}

	raw, err := json.Marshal(outbound{Type: event, Data: data})
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	return nil
}

// Join asks the server for room. It is a no-op when the room is already held.
func (c *Client) Join(room string) error {
	c.mu.Lock()
	held := c.rooms[room]
	c.mu.Unlock()
	if held {
		return nil
	}
	return c.Emit(eventRoomJoin, room)
}

// Leave asks the server to drop room.
func (c *Client) Leave(room string) error {
	return c.Emit(eventRoomLeave, room)
}

// Rooms returns the rooms the server has acknowledged, sorted.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for name, held := range c.rooms {
		if held {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Trigger delivers an event to local listeners without touching the
// connection. data is encoded as JSON like a server payload.
func (c *Client) Trigger(event string, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		logging.Warn().Err(err).Str("event", event).Msg("failed to encode local event")
		return
	}
	c.enqueue(frame{Type: event, Data: raw})
}

func (c *Client) enqueue(f frame) {
	select {
	case c.deliveries <- f:
	case <-c.stopped:
	}
}

// dispatch delivers events to listeners in arrival order, off the read loop.
func (c *Client) dispatch() {
	for {
		select {
		case <-c.stopped:
			return
		case f := <-c.deliveries:
			c.mu.Lock()
			listeners := c.listenersLocked(f.Type)
			c.mu.Unlock()
			for _, l := range listeners {
				deliver(l, f)
			}
		}
	}
}

func deliver(l *Listener, f frame) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Interface("panic", r).Str("event", f.Type).Msg("realtime listener panicked")
		}
	}()
	l.fn(f.Data)
}

// run owns one session: the first dial, then read and reconnect until End.
func (c *Client) run(dialCtx, ctx context.Context, begin *cache.Pending[struct{}]) {
	conn, err := c.dial(dialCtx)
	if err != nil {
		c.mu.Lock()
		if c.begin == begin {
			c.state = StateIdle
			c.begin = nil
			c.cancel = nil
		}
		c.mu.Unlock()
		begin.Reject(err)
		logging.Warn().Err(err).Str("url", c.opts.URL).Msg("realtime connect failed")
		return
	}

	for {
		if !c.attach(ctx, conn) {
			_ = conn.Close()
			return
		}
		c.readLoop(conn)

		if !c.detach(ctx, conn) {
			return
		}
		conn, err = c.reconnect(ctx)
		if err != nil {
			c.giveUp(ctx, err)
			return
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", c.opts.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}
	return conn, nil
}

// attach installs conn unless the session ended meanwhile.
func (c *Client) attach(ctx context.Context, conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	c.conn = conn
	return true
}

// detach clears conn after a drop and reports whether to reconnect.
func (c *Client) detach(ctx context.Context, conn *websocket.Conn) bool {
	_ = conn.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	if c.conn == conn {
		c.conn = nil
	}
	c.state = StateReconnecting
	logging.Info().Str("component", "rtclient").Msg("realtime connection lost, reconnecting")
	return true
}

func (c *Client) reconnect(ctx context.Context) (*websocket.Conn, error) {
	var conn *websocket.Conn
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		var err error
		conn, err = c.dial(ctx)
		return err
	}
	notify := func(err error, wait time.Duration) {
		logging.Debug().Err(err).Dur("retry_in", wait).Msg("realtime reconnect attempt failed")
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(c.opts.NewBackOff(), ctx), notify); err != nil {
		return nil, err
	}
	return conn, nil
}

// giveUp returns to idle when reconnecting stops for a reason other than End.
func (c *Client) giveUp(ctx context.Context, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	if c.begin != nil && !c.begin.Settled() {
		c.begin.Reject(err)
	}
	c.state = StateIdle
	c.begin = nil
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	logging.Warn().Err(err).Msg("realtime reconnect abandoned")
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logging.Debug().Err(err).Msg("realtime read ended")
			}
			return
		}

		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			logging.Warn().Err(err).Msg("discarding undecodable realtime frame")
			continue
		}
		if !c.handle(conn, f) {
			return
		}
	}
}

// handle applies connection-level events and queues f for listeners. It
// reports false once conn is no longer the current connection.
func (c *Client) handle(conn *websocket.Conn, f frame) bool {
	switch f.Type {
	case eventReady:
		if !c.onReady(conn) {
			return false
		}
	case eventRoomJoined, eventRoomLeft:
		var room string
		if err := json.Unmarshal(f.Data, &room); err == nil {
			c.mu.Lock()
			current := c.conn == conn
			if current {
				c.rooms[room] = f.Type == eventRoomJoined
			}
			c.mu.Unlock()
			if !current {
				return false
			}
		}
	}
	c.enqueue(f)
	return true
}

// onReady replays queued registrations and, after a reconnect, rejoins the
// rooms held before the drop. The held set is snapshotted and cleared before
// the joins go out so Join does not skip them as already held.
func (c *Client) onReady(conn *websocket.Conn) bool {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return false
	}
	rejoining := c.state == StateReconnecting
	c.state = StateReady
	c.replayQueuedLocked()

	var rejoin []string
	if rejoining {
		for name, held := range c.rooms {
			if held {
				rejoin = append(rejoin, name)
			}
		}
		sort.Strings(rejoin)
		c.rooms = make(map[string]bool)
	}
	begin := c.begin
	c.mu.Unlock()

	if begin != nil {
		begin.Resolve(struct{}{})
	}
	for _, room := range rejoin {
		if err := c.Join(room); err != nil {
			logging.Warn().Err(err).Str("room", room).Msg("failed to rejoin room")
		}
	}
	return true
}
