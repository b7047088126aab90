// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package realtime

import (
	"sort"
	"sync"
)

// Transport is one live bidirectional connection of a principal.
type Transport interface {
	// ID is unique per process and increases with connection order.
	ID() uint64
	PrincipalID() string
	User() UserRef

	// Send queues msg without blocking. It reports false when the queue is
	// full or the transport is closed.
	Send(msg Message) bool

	// Close is idempotent.
	Close()
}

// Registry tracks the single active transport of each connected principal.
// Presence is its only writer.
type Registry struct {
	mu          sync.RWMutex
	byPrincipal map[string]Transport
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byPrincipal: make(map[string]Transport)}
}

// Register makes t the active transport of principalID and returns the
// transport it replaced, if any. The caller owns closing the previous one.
func (r *Registry) Register(principalID string, t Transport) (previous Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous = r.byPrincipal[principalID]
	r.byPrincipal[principalID] = t
	if previous == t {
		return nil
	}
	return previous
}

// Lookup returns the active transport of principalID.
func (r *Registry) Lookup(principalID string) (Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byPrincipal[principalID]
	return t, ok
}

// Unregister removes principalID only while t is still its active transport.
// A late disconnect of a replaced transport therefore leaves the newer one in
// place and returns false.
func (r *Registry) Unregister(principalID string, t Transport) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byPrincipal[principalID]
	if !ok || current != t {
		return false
	}
	delete(r.byPrincipal, principalID)
	return true
}

// UnregisterPrincipal removes principalID regardless of transport and returns
// the transport that was active.
func (r *Registry) UnregisterPrincipal(principalID string) (Transport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byPrincipal[principalID]
	delete(r.byPrincipal, principalID)
	return t, ok
}

// Online returns the sorted ids of every connected principal.
func (r *Registry) Online() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.byPrincipal))
	for id := range r.byPrincipal {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// All returns every active transport ordered by transport id.
func (r *Registry) All() []Transport {
	r.mu.RLock()
	all := make([]Transport, 0, len(r.byPrincipal))
	for _, t := range r.byPrincipal {
		all = append(all, t)
	}
	r.mu.RUnlock()

	sortTransports(all)
	return all
}

// Count returns the number of connected principals.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byPrincipal)
}

// sortTransports orders by id so fan-out iteration is deterministic.
func sortTransports(ts []Transport) {
	sort.Slice(ts, func(i, j int) bool {
		return ts[i].ID() < ts[j].ID()
	})
}
