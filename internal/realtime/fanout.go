// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package realtime

import (
	"context"
	"fmt"

	"github.com/tomtom215/gametable/internal/logging"
)

// OfflinePolicy decides what a targeted send does when its principal has no
// live transport on this node.
type OfflinePolicy string

const (
	// OfflineNoop drops the event.
	OfflineNoop OfflinePolicy = "noop"

	// OfflineBroadcast sends the event to every transport instead. Only applies
	// to SendToOne without a room.
	OfflineBroadcast OfflinePolicy = "broadcast"
)

// AuthorizationQuery lists the principals holding entitlement on target.
// An empty target asks for the unscoped entitlement. Implementations must not
// have side effects.
type AuthorizationQuery interface {
	ListAuthorizedPrincipals(ctx context.Context, entitlement, target string) ([]string, error)
}

// Publisher forwards fan-out operations to peer nodes.
type Publisher interface {
	Publish(env Envelope)
}

// Fanout delivers events to computed sets of transports. Delivery is
// fire-and-forget: a full or closed transport queue drops the event.
type Fanout struct {
	registry *Registry
	gate     *Gate
	authz    AuthorizationQuery
	offline  OfflinePolicy
	relay    Publisher
}

// FanoutOption configures a Fanout.
type FanoutOption func(*Fanout)

// WithOfflinePolicy sets the offline target policy. Unknown values fall back
// to OfflineNoop.
func WithOfflinePolicy(p OfflinePolicy) FanoutOption {
	return func(f *Fanout) {
		if p == OfflineBroadcast {
			f.offline = OfflineBroadcast
			return
		}
		f.offline = OfflineNoop
	}
}

// WithAuthorization sets the query used by BroadcastAuthorized.
func WithAuthorization(q AuthorizationQuery) FanoutOption {
	return func(f *Fanout) { f.authz = q }
}

// NewFanout creates a fan-out over registry and gate.
func NewFanout(registry *Registry, gate *Gate, opts ...FanoutOption) *Fanout {
	f := &Fanout{
		registry: registry,
		gate:     gate,
		offline:  OfflineNoop,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetRelay attaches a publisher. Operations are then also published to peer
// nodes. It must be called before the fan-out is used concurrently.
func (f *Fanout) SetRelay(p Publisher) {
	f.relay = p
}

// BroadcastAll sends to every connected transport.
func (f *Fanout) BroadcastAll(event string, data interface{}) {
	f.broadcastAll(Message{Type: event, Data: data})
	f.publish(Envelope{Kind: KindAll, Event: event}, data)
}

// BroadcastRoom sends to every transport joined to room.
func (f *Fanout) BroadcastRoom(event string, room Room, data interface{}) {
	f.broadcastRoom(room, Message{Type: event, Data: data})
	f.publish(Envelope{Kind: KindRoom, Event: event, Room: room.String()}, data)
}

// BroadcastAuthorized sends to the transports of every principal the
// authorization query returns for entitlement on target, restricted to room
// members when room is set. A query error is returned and nothing is sent.
func (f *Fanout) BroadcastAuthorized(ctx context.Context, event, entitlement, target string, room Room, data interface{}) error {
	if err := f.broadcastAuthorized(ctx, entitlement, target, room, Message{Type: event, Data: data}); err != nil {
		return err
	}
	f.publish(Envelope{
		Kind:        KindAuthorized,
		Event:       event,
		Room:        room.String(),
		Entitlement: entitlement,
		Target:      target,
	}, data)
	return nil
}

// SendToOne delivers to principalID's transport, restricted to room members
// when room is set. It reports whether a local transport accepted the event.
//
// When the principal is not connected here and no relay is attached, the
// offline policy applies: OfflineBroadcast without a room sends to everyone.
// With a relay the event is published so the node holding the principal can
// deliver it.
func (f *Fanout) SendToOne(principalID, event string, room Room, data interface{}) bool {
	msg := Message{Type: event, Data: data}
	if t, ok := f.registry.Lookup(principalID); ok {
		return f.sendToTransport(t, room, msg)
	}

	if f.relay != nil {
		f.publish(Envelope{Kind: KindOne, Event: event, Room: room.String(), Principals: []string{principalID}}, data)
		return false
	}
	if room.IsZero() && f.offline == OfflineBroadcast {
		logging.Debug().
			Str("principal_id", principalID).
			Str("event", event).
			Msg("target offline, broadcasting to all")
		f.broadcastAll(msg)
	}
	return false
}

// SendToEach repeats SendToOne for every id. There is no ordering or
// atomicity across the set.
func (f *Fanout) SendToEach(principalIDs []string, event string, room Room, data interface{}) {
	for _, id := range principalIDs {
		f.SendToOne(id, event, room, data)
	}
}

// SendToOthers sends to every transport except principalID's, restricted to
// room members when room is set. An offline principalID excludes nobody.
func (f *Fanout) SendToOthers(principalID, event string, room Room, data interface{}) {
	f.sendToOthers(principalID, room, Message{Type: event, Data: data})
	f.publish(Envelope{Kind: KindOthers, Event: event, Room: room.String(), Principals: []string{principalID}}, data)
}

func (f *Fanout) broadcastAll(msg Message) {
	for _, t := range f.registry.All() {
		recordDelivery(t.Send(msg))
	}
}

func (f *Fanout) broadcastRoom(room Room, msg Message) {
	for _, t := range f.gate.Members(room) {
		recordDelivery(t.Send(msg))
	}
}

func (f *Fanout) broadcastAuthorized(ctx context.Context, entitlement, target string, room Room, msg Message) error {
	if f.authz == nil {
		return fmt.Errorf("authorized broadcast of %q: no authorization query configured", msg.Type)
	}
	ids, err := f.authz.ListAuthorizedPrincipals(ctx, entitlement, target)
	if err != nil {
		return fmt.Errorf("authorized broadcast of %q: %w", msg.Type, err)
	}

	for _, id := range ids {
		if t, ok := f.registry.Lookup(id); ok {
			f.sendToTransport(t, room, msg)
		}
	}
	return nil
}

func (f *Fanout) sendToOthers(principalID string, room Room, msg Message) {
	var recipients []Transport
	if room.IsZero() {
		recipients = f.registry.All()
	} else {
		recipients = f.gate.Members(room)
	}

	for _, t := range recipients {
		if t.PrincipalID() == principalID {
			continue
		}
		recordDelivery(t.Send(msg))
	}
}

// sendToTransport drops msg when room is set and t has not joined it.
func (f *Fanout) sendToTransport(t Transport, room Room, msg Message) bool {
	if !room.IsZero() && !f.gate.IsMember(room, t) {
		return false
	}
	ok := t.Send(msg)
	recordDelivery(ok)
	return ok
}

// broadcastExcept sends to every transport but t. Used by presence, never relayed.
func (f *Fanout) broadcastExcept(t Transport, msg Message) {
	for _, other := range f.registry.All() {
		if other.ID() == t.ID() {
			continue
		}
		recordDelivery(other.Send(msg))
	}
}

// broadcastRoomExcept sends to the members of room other than t.
func (f *Fanout) broadcastRoomExcept(room Room, t Transport, msg Message) {
	for _, other := range f.gate.Members(room) {
		if other.ID() == t.ID() {
			continue
		}
		recordDelivery(other.Send(msg))
	}
}

func (f *Fanout) publish(env Envelope, data interface{}) {
	if f.relay == nil {
		return
	}
	raw, err := encodeData(data)
	if err != nil {
		RelayMessagesTotal.WithLabelValues("out", "encode_error").Inc()
		logging.Warn().Err(err).Str("event", env.Event).Msg("failed to encode relay payload")
		return
	}
	env.Data = raw
	f.relay.Publish(env)
}

// deliverEnvelope applies a relayed operation to local transports only.
func (f *Fanout) deliverEnvelope(ctx context.Context, env Envelope) error {
	msg := Message{Type: env.Event, Data: env.Data}

	room := NoRoom
	if env.Room != "" {
		parsed, err := ParseRoom(env.Room)
		if err != nil {
			return err
		}
		room = parsed
	}

	switch env.Kind {
	case KindAll:
		f.broadcastAll(msg)
	case KindRoom:
		f.broadcastRoom(room, msg)
	case KindAuthorized:
		return f.broadcastAuthorized(ctx, env.Entitlement, env.Target, room, msg)
	case KindOne:
		for _, id := range env.Principals {
			if t, ok := f.registry.Lookup(id); ok {
				f.sendToTransport(t, room, msg)
			}
		}
	case KindOthers:
		if len(env.Principals) == 1 {
			f.sendToOthers(env.Principals[0], room, msg)
		}
	default:
		return fmt.Errorf("unknown relay kind %q", env.Kind)
	}
	return nil
}
