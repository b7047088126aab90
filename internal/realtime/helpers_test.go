// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package realtime

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/tomtom215/gametable/internal/logging"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "info",
		Format: "console",
		Output: io.Discard,
	})
}

var fakeIDs atomic.Uint64

// fakeTransport records every message it is sent.
type fakeTransport struct {
	id        uint64
	principal string

	mu       sync.Mutex
	messages []Message
	closed   bool
	full     bool
}

func newFake(principal string) *fakeTransport {
	return &fakeTransport{id: fakeIDs.Add(1), principal: principal}
}

func (f *fakeTransport) ID() uint64          { return f.id }
func (f *fakeTransport) PrincipalID() string { return f.principal }
func (f *fakeTransport) User() UserRef       { return UserRef{ID: f.principal, Name: "user-" + f.principal} }

func (f *fakeTransport) Send(msg Message) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.full {
		return false
	}
	f.messages = append(f.messages, msg)
	return true
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// sent returns messages of the given type, or all messages when typ is empty.
func (f *fakeTransport) sent(typ string) []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Message
	for _, m := range f.messages {
		if typ == "" || m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = nil
}

// fakeAuthz returns a fixed principal list and records its queries.
type fakeAuthz struct {
	ids     []string
	err     error
	queries [][2]string
}

func (a *fakeAuthz) ListAuthorizedPrincipals(_ context.Context, entitlement, target string) ([]string, error) {
	a.queries = append(a.queries, [2]string{entitlement, target})
	return a.ids, a.err
}

// core bundles the server components for tests.
// mustParseRoom parses a room name known to be valid.
func mustParseRoom(raw string) Room {
	room, err := ParseRoom(raw)
	if err != nil {
		panic(err)
	}
	return room
}

type core struct {
	registry *Registry
	gate     *Gate
	fanout   *Fanout
	presence *Presence
}

func newCore(t *testing.T, fanoutOpts []FanoutOption, gateOpts ...GateOption) *core {
	t.Helper()
	registry := NewRegistry()
	gate := NewGate(gateOpts...)
	fanout := NewFanout(registry, gate, fanoutOpts...)
	return &core{
		registry: registry,
		gate:     gate,
		fanout:   fanout,
		presence: NewPresence(registry, gate, fanout, 100, 100),
	}
}

// connect runs presence Connect and clears the connect-time frames.
func (c *core) connect(t *testing.T, principals ...string) []*fakeTransport {
	t.Helper()
	out := make([]*fakeTransport, 0, len(principals))
	for _, p := range principals {
		ft := newFake(p)
		c.presence.Connect(context.Background(), ft)
		out = append(out, ft)
	}
	for _, ft := range out {
		ft.reset()
	}
	return out
}

func (c *core) join(t *testing.T, ft *fakeTransport, room string) {
	t.Helper()
	if _, err := c.gate.RequestJoin(context.Background(), ft, room); err != nil {
		t.Fatalf("RequestJoin(%s) error = %v", room, err)
	}
	ft.reset()
}
