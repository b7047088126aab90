// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package rtclient

import (
	"context"

	"github.com/goccy/go-json"
)

// Listener receives event payloads. Registrations are keyed by the pointer,
// so keep the *Listener to remove it later.
type Listener struct {
	fn func(data json.RawMessage)
}

// NewListener wraps fn.
func NewListener(fn func(data json.RawMessage)) *Listener {
	return &Listener{fn: fn}
}

type registration struct {
	event    string
	listener *Listener

	// stop releases the scope watcher; nil for global registrations.
	stop func() bool
}

func (r *registration) release() {
	if r.stop != nil {
		r.stop()
	}
}

func indexOf(regs []*registration, event string, l *Listener) int {
	for i, r := range regs {
		if r.event == event && r.listener == l {
			return i
		}
	}
	return -1
}

// On registers l for event. Before StateReady the registration is queued and
// replayed once the server reports ready. A second registration of the same
// (event, listener) pair is ignored. When scope is non-nil the registration is
// removed once scope is done; a nil scope registers globally.
func (c *Client) On(event string, scope context.Context, l *Listener) {
	if l == nil {
		return
	}
	if scope != nil && scope.Err() != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if indexOf(c.queued, event, l) >= 0 || indexOf(c.active, event, l) >= 0 {
		return
	}

	reg := &registration{event: event, listener: l}
	if scope != nil {
		reg.stop = context.AfterFunc(scope, func() { c.Off(event, l) })
	}

	if c.state == StateReady {
		c.active = append(c.active, reg)
		return
	}
	c.queued = append(c.queued, reg)
}

// Off removes the registration of l for event, queued or active. A nil
// listener removes every registration for event.
func (c *Client) Off(event string, l *Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queued = removeRegistrations(c.queued, event, l)
	c.active = removeRegistrations(c.active, event, l)
}

func removeRegistrations(regs []*registration, event string, l *Listener) []*registration {
	kept := regs[:0]
	for _, r := range regs {
		if r.event == event && (l == nil || r.listener == l) {
			r.release()
			continue
		}
		kept = append(kept, r)
	}
	for i := len(kept); i < len(regs); i++ {
		regs[i] = nil
	}
	return kept
}

// replayQueuedLocked activates every queued registration exactly once.
func (c *Client) replayQueuedLocked() {
	for _, reg := range c.queued {
		if indexOf(c.active, reg.event, reg.listener) >= 0 {
			reg.release()
			continue
		}
		c.active = append(c.active, reg)
	}
	c.queued = nil
}

// listenersLocked returns the active listeners for event.
func (c *Client) listenersLocked(event string) []*Listener {
	var out []*Listener
	for _, r := range c.active {
		if r.event == event {
			out = append(out, r.listener)
		}
	}
	return out
}

// Subscribe calls fn for every delivery of event until the returned function
// is called. It lets the reconciling cache invalidate on pushes.
func (c *Client) Subscribe(event string, fn func()) (unsubscribe func()) {
	l := NewListener(func(json.RawMessage) { fn() })
	c.On(event, nil, l)
	return func() { c.Off(event, l) }
}

// Registrations reports how many registrations are queued and active.
func (c *Client) Registrations() (queued, active int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queued), len(c.active)
}
