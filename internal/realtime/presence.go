// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/gametable/internal/logging"
)

// InboundHandler processes one client frame for a feature package. A returned
// error is reported to the sender as an error frame.
type InboundHandler func(ctx context.Context, t Transport, data json.RawMessage) error

// Presence performs connect and disconnect bookkeeping and dispatches inbound
// frames. It is the only writer of the Registry.
type Presence struct {
	registry *Registry
	gate     *Gate
	fanout   *Fanout

	typingRate  rate.Limit
	typingBurst int

	handlersMu sync.RWMutex
	handlers   map[string]InboundHandler

	limitersMu sync.Mutex
	limiters   map[uint64]*rate.Limiter
}

// NewPresence wires presence to its collaborators. typingRate and typingBurst
// bound the typing relays of a single connection.
func NewPresence(registry *Registry, gate *Gate, fanout *Fanout, typingRate float64, typingBurst int) *Presence {
	return &Presence{
		registry:    registry,
		gate:        gate,
		fanout:      fanout,
		typingRate:  rate.Limit(typingRate),
		typingBurst: typingBurst,
		handlers:    make(map[string]InboundHandler),
		limiters:    make(map[uint64]*rate.Limiter),
	}
}

// On registers handler for an inbound event. Built-in events cannot be
// overridden.
func (p *Presence) On(event string, handler InboundHandler) error {
	switch event {
	case EventRoomJoin, EventRoomLeave, EventTyping, EventPing:
		return fmt.Errorf("event %q is handled by presence", event)
	}
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	p.handlers[event] = handler
	return nil
}

// Connect registers t as the active transport of its principal. A transport
// it replaces is closed. Every other transport receives user.online with the
// principal, t receives the full roster and then ready.
//
// With a relay attached, peer nodes also receive user.online. The roster sent
// to t lists this node's principals only.
func (p *Presence) Connect(ctx context.Context, t Transport) {
	principalID := t.PrincipalID()

	if previous := p.registry.Register(principalID, t); previous != nil {
		ConnectionsReplacedTotal.Inc()
		logging.Ctx(ctx).Info().
			Uint64("replaced_connection_id", previous.ID()).
			Msg("principal reconnected, closing previous transport")
		p.gate.LeaveAll(previous)
		p.dropLimiter(previous)
		previous.Close()
	}
	ConnectionsActive.Set(float64(p.registry.Count()))

	p.limitersMu.Lock()
	p.limiters[t.ID()] = rate.NewLimiter(p.typingRate, p.typingBurst)
	p.limitersMu.Unlock()

	p.fanout.broadcastExcept(t, Message{Type: EventUserOnline, Data: t.User()})
	p.fanout.publish(Envelope{Kind: KindOthers, Event: EventUserOnline, Principals: []string{principalID}}, t.User())
	recordDelivery(t.Send(Message{Type: EventUserOnline, Data: p.registry.Online()}))
	recordDelivery(t.Send(Message{Type: EventReady}))

	logging.Ctx(ctx).Info().Int("online", p.registry.Count()).Msg("principal connected")
}

// Disconnect removes t. When t is still the active transport its principal
// goes offline and user.offline is broadcast once, to peer nodes as well. A
// replaced transport only loses its room memberships.
func (p *Presence) Disconnect(ctx context.Context, t Transport) {
	p.gate.LeaveAll(t)
	p.dropLimiter(t)

	if !p.registry.Unregister(t.PrincipalID(), t) {
		logging.Ctx(ctx).Debug().Msg("stale transport disconnected")
		return
	}
	ConnectionsActive.Set(float64(p.registry.Count()))

	p.fanout.broadcastAll(Message{Type: EventUserOffline, Data: t.User()})
	p.fanout.publish(Envelope{Kind: KindAll, Event: EventUserOffline}, t.User())
	logging.Ctx(ctx).Info().Int("online", p.registry.Count()).Msg("principal disconnected")
}

// HandleInbound dispatches one decoded frame from t. Failures are reported to
// t as error frames and returned for logging.
func (p *Presence) HandleInbound(ctx context.Context, t Transport, in Inbound) error {
	err := p.dispatch(ctx, t, in)
	if err != nil {
		p.reportError(ctx, t, in.Type, err)
	}
	return err
}

func (p *Presence) dispatch(ctx context.Context, t Transport, in Inbound) error {
	switch in.Type {
	case EventPing:
		recordDelivery(t.Send(Message{Type: EventPong}))
		return nil

	case EventRoomJoin:
		name, err := decodeRoomName(in.Data)
		if err != nil {
			return err
		}
		_, err = p.gate.RequestJoin(ctx, t, name)
		if errors.Is(err, ErrJoinDenied) {
			// Denial is reported by the gate, never as an error frame.
			return nil
		}
		return err

	case EventRoomLeave:
		name, err := decodeRoomName(in.Data)
		if err != nil {
			return err
		}
		_, err = p.gate.Leave(t, name)
		return err

	case EventTyping:
		return p.relayTyping(t, in.Data)
	}

	p.handlersMu.RLock()
	handler, ok := p.handlers[in.Type]
	p.handlersMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, in.Type)
	}
	return handler(ctx, t, in.Data)
}

// relayTyping forwards a typing flag to the other members of the room, with
// the sender id taken from the transport rather than the payload.
func (p *Presence) relayTyping(t Transport, data json.RawMessage) error {
	payload, err := DecodePayload[TypingPayload](data)
	if err != nil {
		return err
	}
	room, err := ParseRoom(payload.Room)
	if err != nil {
		return err
	}
	if !p.gate.IsMember(room, t) {
		return fmt.Errorf("%w: %s", ErrNotMember, room)
	}
	if !p.allowTyping(t) {
		return ErrRateLimited
	}

	p.fanout.broadcastRoomExcept(room, t, Message{
		Type: EventTypingStatus,
		Data: TypingStatus{UserID: t.PrincipalID(), Room: room.String(), Typing: payload.Typing},
	})
	return nil
}

func (p *Presence) allowTyping(t Transport) bool {
	p.limitersMu.Lock()
	limiter := p.limiters[t.ID()]
	p.limitersMu.Unlock()
	return limiter == nil || limiter.Allow()
}

func (p *Presence) dropLimiter(t Transport) {
	p.limitersMu.Lock()
	delete(p.limiters, t.ID())
	p.limitersMu.Unlock()
}

func (p *Presence) reportError(ctx context.Context, t Transport, event string, err error) {
	code := ErrorCodeInternal
	switch {
	case errors.Is(err, ErrInvalidPayload), errors.Is(err, ErrInvalidRoom):
		code = ErrorCodeInvalidPayload
	case errors.Is(err, ErrUnknownEvent):
		code = ErrorCodeUnknownEvent
	case errors.Is(err, ErrNotMember):
		code = ErrorCodeNotMember
	case errors.Is(err, ErrRateLimited):
		code = ErrorCodeRateLimited
	}
	InboundRejectedTotal.WithLabelValues(code).Inc()

	logging.Ctx(ctx).Debug().Err(err).Str("event", event).Str("code", code).Msg("inbound frame rejected")
	recordDelivery(t.Send(Message{Type: EventError, Data: ErrorPayload{Code: code, Message: err.Error()}}))
}
