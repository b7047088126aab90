// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/gametable/internal/logging"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	// ShutdownReasonContextCanceled is the normal graceful shutdown path.
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"

	// ShutdownReasonContextDeadline may indicate a hung operation during shutdown.
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// relayDeliveryTimeout bounds authorization queries run for relayed envelopes.
const relayDeliveryTimeout = 5 * time.Second

// Hub serializes connection lifecycle and relayed deliveries on one goroutine.
type Hub struct {
	Register   chan Transport
	Unregister chan Transport
	relayed    chan Envelope

	registry *Registry
	gate     *Gate
	fanout   *Fanout
	presence *Presence

	done     chan struct{}
	doneOnce sync.Once
}

// NewHub creates a hub over the given components. relayBuffer bounds the
// queue of envelopes received from peer nodes.
func NewHub(registry *Registry, gate *Gate, fanout *Fanout, presence *Presence, relayBuffer int) *Hub {
	if relayBuffer < 1 {
		relayBuffer = 256
	}
	return &Hub{
		Register:   make(chan Transport),
		Unregister: make(chan Transport),
		relayed:    make(chan Envelope, relayBuffer),
		registry:   registry,
		gate:       gate,
		fanout:     fanout,
		presence:   presence,
		done:       make(chan struct{}),
	}
}

// Registry returns the hub's connection registry.
func (h *Hub) Registry() *Registry { return h.registry }

// Gate returns the hub's room gate.
func (h *Hub) Gate() *Gate { return h.gate }

// Fanout returns the hub's fan-out.
func (h *Hub) Fanout() *Fanout { return h.fanout }

// Presence returns the hub's presence lifecycle.
func (h *Hub) Presence() *Presence { return h.presence }

// Done is closed once the hub has shut down. Nothing receives on Register or
// Unregister after that.
func (h *Hub) Done() <-chan struct{} { return h.done }

// DeliverRelayed queues an envelope from a peer node without blocking.
// It implements Deliverer.
func (h *Hub) DeliverRelayed(env Envelope) bool {
	select {
	case h.relayed <- env:
		return true
	default:
		logging.Warn().Str("event", env.Event).Msg("relay queue full, dropping envelope")
		return false
	}
}

// RunWithContext runs the hub until ctx is cancelled, then closes every
// connection. It is designed for use with suture supervision.
//
// Selection is prioritized: shutdown first, then connection lifecycle, then
// relayed deliveries, so presence state is settled before messages flow.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case t := <-h.Register:
			h.connect(t)
			continue
		case t := <-h.Unregister:
			h.disconnect(t)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case t := <-h.Register:
			h.connect(t)
		case t := <-h.Unregister:
			h.disconnect(t)
		case env := <-h.relayed:
			h.deliverRelayed(ctx, env)
		}
	}
}

// Serve implements suture.Service.
func (h *Hub) Serve(ctx context.Context) error {
	return h.RunWithContext(ctx)
}

// String implements fmt.Stringer for supervisor logging.
func (h *Hub) String() string {
	return "realtime-hub"
}

func (h *Hub) connect(t Transport) {
	h.presence.Connect(transportContext(context.Background(), t), t)
}

func (h *Hub) disconnect(t Transport) {
	h.presence.Disconnect(transportContext(context.Background(), t), t)
	t.Close()
}

func (h *Hub) deliverRelayed(ctx context.Context, env Envelope) {
	dctx, cancel := context.WithTimeout(ctx, relayDeliveryTimeout)
	defer cancel()

	if err := h.fanout.deliverEnvelope(dctx, env); err != nil {
		logging.Warn().Err(err).
			Str("event", env.Event).
			Str("kind", env.Kind).
			Str("origin_node", env.Node).
			Msg("failed to deliver relayed envelope")
	}
}

func (h *Hub) shutdown(ctx context.Context) {
	h.logGracefulShutdown(ctx)
	h.doneOnce.Do(func() { close(h.done) })
}

// logGracefulShutdown closes every transport and logs without an error
// field; cancellation is expected here.
func (h *Hub) logGracefulShutdown(ctx context.Context) {
	transports := h.registry.All()
	for _, t := range transports {
		h.gate.LeaveAll(t)
		h.registry.UnregisterPrincipal(t.PrincipalID())
		t.Close()
	}
	ConnectionsActive.Set(0)

	logging.Info().
		Str("component", "realtime-hub").
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", len(transports)).
		Msg("realtime hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	if ctx.Err() == context.DeadlineExceeded {
		return ShutdownReasonContextDeadline
	}
	return ShutdownReasonContextCanceled
}

// transportContext carries the transport identity for log lines.
func transportContext(ctx context.Context, t Transport) context.Context {
	return logging.ContextWithConnection(ctx, t.PrincipalID(), t.ID())
}
