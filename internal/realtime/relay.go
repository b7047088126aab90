// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/tomtom215/gametable/internal/config"
	"github.com/tomtom215/gametable/internal/logging"
)

// Relay envelope kinds, one per fan-out operation.
const (
	KindAll        = "all"
	KindRoom       = "room"
	KindAuthorized = "authorized"
	KindOne        = "one"
	KindOthers     = "others"
)

// Envelope is a fan-out operation shipped between nodes.
type Envelope struct {
	ID          string          `json:"id"`
	Node        string          `json:"node"`
	Kind        string          `json:"kind"`
	Event       string          `json:"event"`
	Room        string          `json:"room,omitempty"`
	Entitlement string          `json:"entitlement,omitempty"`
	Target      string          `json:"target,omitempty"`
	Principals  []string        `json:"principals,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// RelayConn is the subset of a NATS connection the relay uses.
type RelayConn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func(data []byte)) (unsubscribe func() error, err error)
}

// Deliverer applies relayed envelopes to local transports.
type Deliverer interface {
	DeliverRelayed(env Envelope) bool
}

// Relay publishes local fan-out operations to peer nodes over NATS and hands
// peer operations to the local hub. Envelopes carrying this node's id are
// ignored, so a delivery is never re-published.
type Relay struct {
	conn    RelayConn
	subject string
	nodeID  string
	local   Deliverer
}

// NewRelay creates a relay publishing on "<prefix>.fanout".
func NewRelay(conn RelayConn, subjectPrefix, nodeID string, local Deliverer) *Relay {
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	return &Relay{
		conn:    conn,
		subject: subjectPrefix + ".fanout",
		nodeID:  nodeID,
		local:   local,
	}
}

// NodeID returns the id stamped on published envelopes.
func (r *Relay) NodeID() string {
	return r.nodeID
}

// Publish implements Publisher.
func (r *Relay) Publish(env Envelope) {
	env.ID = uuid.NewString()
	env.Node = r.nodeID

	data, err := json.Marshal(env)
	if err != nil {
		RelayMessagesTotal.WithLabelValues("out", "encode_error").Inc()
		logging.Warn().Err(err).Str("event", env.Event).Msg("failed to encode relay envelope")
		return
	}
	if err := r.conn.Publish(r.subject, data); err != nil {
		RelayMessagesTotal.WithLabelValues("out", "error").Inc()
		logging.Warn().Err(err).Str("event", env.Event).Msg("failed to publish relay envelope")
		return
	}
	RelayMessagesTotal.WithLabelValues("out", "ok").Inc()
}

// Serve subscribes until ctx is cancelled. It implements suture.Service.
func (r *Relay) Serve(ctx context.Context) error {
	unsubscribe, err := r.conn.Subscribe(r.subject, r.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", r.subject, err)
	}
	logging.Info().Str("subject", r.subject).Str("node_id", r.nodeID).Msg("realtime relay started")

	<-ctx.Done()

	if err := unsubscribe(); err != nil {
		logging.Warn().Err(err).Msg("failed to unsubscribe realtime relay")
	}
	logging.Info().Str("component", "realtime-relay").Msg("realtime relay stopped")
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logging.
func (r *Relay) String() string {
	return "realtime-relay"
}

func (r *Relay) handle(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		RelayMessagesTotal.WithLabelValues("in", "decode_error").Inc()
		logging.Warn().Err(err).Msg("failed to decode relay envelope")
		return
	}
	if env.Node == r.nodeID {
		return
	}
	if !r.local.DeliverRelayed(env) {
		RelayMessagesTotal.WithLabelValues("in", "dropped").Inc()
		return
	}
	RelayMessagesTotal.WithLabelValues("in", "ok").Inc()
}

// encodeData turns an outbound payload into raw JSON for an envelope.
func encodeData(data interface{}) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

// natsConn adapts *nats.Conn to RelayConn.
type natsConn struct {
	nc *nats.Conn
}

func (n natsConn) Publish(subject string, data []byte) error {
	return n.nc.Publish(subject, data)
}

func (n natsConn) Subscribe(subject string, handler func([]byte)) (func() error, error) {
	sub, err := n.nc.Subscribe(subject, func(m *nats.Msg) {
		handler(m.Data)
	})
	if err != nil {
		return nil, err
	}
	return sub.Unsubscribe, nil
}

// ConnectNATS dials the configured server and returns the connection with
// its RelayConn adapter.
func ConnectNATS(cfg config.NATSConfig) (*nats.Conn, RelayConn, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("gametable-realtime"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logging.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, natsConn{nc: nc}, nil
}
