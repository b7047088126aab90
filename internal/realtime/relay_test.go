// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

// memoryBus is an in-process RelayConn shared by several relays.
type memoryBus struct {
	mu           sync.Mutex
	handlers     map[string][]func([]byte)
	published    [][]byte
	publishErr   error
	subscribeErr error
	unsubscribed int
}

func newMemoryBus() *memoryBus {
	return &memoryBus{handlers: make(map[string][]func([]byte))}
}

func (b *memoryBus) Publish(subject string, data []byte) error {
	b.mu.Lock()
	if b.publishErr != nil {
		b.mu.Unlock()
		return b.publishErr
	}
	b.published = append(b.published, data)
	handlers := append(([]func([]byte))(nil), b.handlers[subject]...)
	b.mu.Unlock()

	for _, h := range handlers {
		h(data)
	}
	return nil
}

func (b *memoryBus) Subscribe(subject string, handler func([]byte)) (func() error, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErr != nil {
		return nil, b.subscribeErr
	}
	b.handlers[subject] = append(b.handlers[subject], handler)
	return func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.unsubscribed++
		return nil
	}, nil
}

// recordingDeliverer captures envelopes handed to the local node.
type recordingDeliverer struct {
	mu        sync.Mutex
	envelopes []Envelope
	reject    bool
}

func (d *recordingDeliverer) DeliverRelayed(env Envelope) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reject {
		return false
	}
	d.envelopes = append(d.envelopes, env)
	return true
}

func (d *recordingDeliverer) received() []Envelope {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Envelope(nil), d.envelopes...)
}

func TestRelay_PublishStampsEnvelope(t *testing.T) {
	bus := newMemoryBus()
	r := NewRelay(bus, "gametable.realtime", "node-a", &recordingDeliverer{})

	r.Publish(Envelope{Kind: KindRoom, Event: "chat.message", Room: "chat.5", Data: json.RawMessage(`{"text":"hi"}`)})

	if len(bus.published) != 1 {
		t.Fatalf("published %d envelopes, want 1", len(bus.published))
	}
	var env Envelope
	if err := json.Unmarshal(bus.published[0], &env); err != nil {
		t.Fatal(err)
	}
	if env.Node != "node-a" || env.ID == "" {
		t.Errorf("envelope not stamped: %+v", env)
	}
	if env.Kind != KindRoom || env.Room != "chat.5" || string(env.Data) != `{"text":"hi"}` {
		t.Errorf("envelope = %+v", env)
	}
}

func TestRelay_GeneratesNodeID(t *testing.T) {
	a := NewRelay(newMemoryBus(), "p", "", nil)
	b := NewRelay(newMemoryBus(), "p", "", nil)
	if a.NodeID() == "" || a.NodeID() == b.NodeID() {
		t.Errorf("node ids %q and %q should be unique", a.NodeID(), b.NodeID())
	}
}

func TestRelay_ServeDeliversPeerEnvelopesOnly(t *testing.T) {
	bus := newMemoryBus()
	localA := &recordingDeliverer{}
	localB := &recordingDeliverer{}
	a := NewRelay(bus, "p", "node-a", localA)
	b := NewRelay(bus, "p", "node-b", localB)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 2)
	go func() { done <- a.Serve(ctx) }()
	go func() { done <- b.Serve(ctx) }()

	waitFor(t, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return len(bus.handlers["p.fanout"]) == 2
	})

	a.Publish(Envelope{Kind: KindAll, Event: "from-a"})

	if got := localB.received(); len(got) != 1 || got[0].Event != "from-a" {
		t.Errorf("peer received %+v", got)
	}
	if got := localA.received(); len(got) != 0 {
		t.Errorf("publishing node re-delivered its own envelope: %+v", got)
	}

	cancel()
	for i := 0; i < 2; i++ {
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	}
	if bus.unsubscribed != 2 {
		t.Errorf("unsubscribed %d times, want 2", bus.unsubscribed)
	}
}

func TestRelay_ServeSubscribeError(t *testing.T) {
	bus := newMemoryBus()
	bus.subscribeErr = errors.New("no connection")
	r := NewRelay(bus, "p", "node-a", &recordingDeliverer{})

	if err := r.Serve(context.Background()); err == nil {
		t.Error("Serve should fail when the subscription fails")
	}
}

func TestRelay_HandleIgnoresGarbage(t *testing.T) {
	local := &recordingDeliverer{}
	r := NewRelay(newMemoryBus(), "p", "node-a", local)

	r.handle([]byte("not json"))
	if len(local.received()) != 0 {
		t.Error("undecodable envelope was delivered")
	}
}

func TestRelay_EndToEndThroughFanout(t *testing.T) {
	bus := newMemoryBus()

	nodeA := newCore(t, nil)
	nodeB := newCore(t, nil)
	hubB := NewHub(nodeB.registry, nodeB.gate, nodeB.fanout, nodeB.presence, 8)

	relayA := NewRelay(bus, "p", "node-a", &recordingDeliverer{})
	relayB := NewRelay(bus, "p", "node-b", hubB)
	nodeA.fanout.SetRelay(relayA)
	nodeB.fanout.SetRelay(relayB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = relayB.Serve(ctx) }()
	go func() { _ = hubB.RunWithContext(ctx) }()

	waitFor(t, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return len(bus.handlers["p.fanout"]) == 1
	})

	remote := nodeB.connect(t, "bob")[0]

	if nodeA.fanout.SendToOne("bob", "dm", NoRoom, "hello") {
		t.Error("SendToOne should report false when the principal is on another node")
	}

	waitFor(t, func() bool { return len(remote.sent("dm")) == 1 })
	data, ok := remote.sent("dm")[0].Data.(json.RawMessage)
	if !ok || string(data) != `"hello"` {
		t.Errorf("relayed data = %#v", remote.sent("dm")[0].Data)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRelay_PublishErrorDoesNotPanic(t *testing.T) {
	bus := newMemoryBus()
	bus.publishErr = errors.New("disconnected")
	r := NewRelay(bus, "p", "node-a", nil)

	r.Publish(Envelope{Kind: KindAll, Event: "x"})
	if len(bus.published) != 0 {
		t.Error("failed publish should not be recorded")
	}
}
