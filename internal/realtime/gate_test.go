// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package realtime

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestGate_JoinWithoutHandlers(t *testing.T) {
	g := NewGate()
	ft := newFake("alice")

	room, err := g.RequestJoin(context.Background(), ft, "lobby")
	if err != nil {
		t.Fatalf("RequestJoin() error = %v", err)
	}
	if room.String() != "global.lobby" {
		t.Errorf("room = %q, want global.lobby", room)
	}
	if !g.IsMember(room, ft) {
		t.Error("transport should be a member")
	}

	acks := ft.sent(EventRoomJoined)
	if len(acks) != 1 || acks[0].Data != "global.lobby" {
		t.Errorf("room:joined frames = %+v, want one with canonical name", acks)
	}
}

func TestGate_ChainOrderAndShortCircuit(t *testing.T) {
	g := NewGate()
	var calls []string
	g.Handle("chat", func(_ context.Context, _ Transport, _ Room) error {
		calls = append(calls, "first")
		return nil
	})
	g.Handle("chat", func(_ context.Context, _ Transport, _ Room) error {
		calls = append(calls, "second")
		return errors.New("not a participant")
	})
	g.Handle("chat", func(_ context.Context, _ Transport, _ Room) error {
		calls = append(calls, "third")
		return nil
	})

	ft := newFake("alice")
	_, err := g.RequestJoin(context.Background(), ft, "chat.5")
	if !errors.Is(err, ErrJoinDenied) {
		t.Fatalf("RequestJoin() error = %v, want ErrJoinDenied", err)
	}
	if !reflect.DeepEqual(calls, []string{"first", "second"}) {
		t.Errorf("handler calls = %v, want [first second]", calls)
	}
}

func TestGate_DenialLeavesNoMembership(t *testing.T) {
	g := NewGate()
	g.Handle("chat", func(context.Context, Transport, Room) error {
		return errors.New("denied")
	})

	ft := newFake("alice")
	before := testutil.ToFloat64(RoomJoinDenialsTotal.WithLabelValues("chat"))

	room, err := g.RequestJoin(context.Background(), ft, "chat.5")
	if err == nil {
		t.Fatal("expected denial")
	}
	if g.IsMember(room, ft) {
		t.Error("denied join recorded membership")
	}
	if len(g.Members(room)) != 0 {
		t.Error("denied join is visible in Members()")
	}
	if len(ft.sent(EventRoomJoined)) != 0 {
		t.Error("denied join emitted room:joined")
	}
	if len(ft.sent(EventRoomJoinDenied)) != 0 {
		t.Error("room:join-denied must not be sent unless enabled")
	}
	if got := testutil.ToFloat64(RoomJoinDenialsTotal.WithLabelValues("chat")) - before; got != 1 {
		t.Errorf("denial metric increased by %v, want 1", got)
	}
}

func TestGate_JoinDeniedDiagnostic(t *testing.T) {
	g := NewGate(WithJoinDeniedEvents(true))
	g.Handle("chat", func(context.Context, Transport, Room) error {
		return errors.New("not a participant")
	})

	ft := newFake("alice")
	if _, err := g.RequestJoin(context.Background(), ft, "chat.5"); err == nil {
		t.Fatal("expected denial")
	}

	denied := ft.sent(EventRoomJoinDenied)
	if len(denied) != 1 {
		t.Fatalf("room:join-denied frames = %d, want 1", len(denied))
	}
	payload, ok := denied[0].Data.(JoinDenied)
	if !ok || payload.Room != "chat.5" || payload.Reason != "not a participant" {
		t.Errorf("payload = %+v", denied[0].Data)
	}
}

func TestGate_HandlerPanicIsDenial(t *testing.T) {
	g := NewGate()
	g.Handle("game", func(context.Context, Transport, Room) error {
		panic("boom")
	})

	ft := newFake("alice")
	room, err := g.RequestJoin(context.Background(), ft, "game.1")
	if !errors.Is(err, ErrJoinDenied) {
		t.Fatalf("error = %v, want ErrJoinDenied", err)
	}
	if g.IsMember(room, ft) {
		t.Error("panicking handler granted membership")
	}
}

func TestGate_HandlersAreScopedToContext(t *testing.T) {
	g := NewGate()
	g.Handle("chat", func(context.Context, Transport, Room) error {
		return errors.New("denied")
	})

	ft := newFake("alice")
	if _, err := g.RequestJoin(context.Background(), ft, "game.1"); err != nil {
		t.Errorf("game room should be ungated, got %v", err)
	}
}

func TestGate_RejoinRunsChainAgain(t *testing.T) {
	g := NewGate()
	allow := true
	g.Handle("chat", func(context.Context, Transport, Room) error {
		if !allow {
			return errors.New("revoked")
		}
		return nil
	})

	ft := newFake("alice")
	room, err := g.RequestJoin(context.Background(), ft, "chat.5")
	if err != nil {
		t.Fatalf("first join error = %v", err)
	}
	if _, err := g.RequestJoin(context.Background(), ft, "chat.5"); err != nil {
		t.Fatalf("second join error = %v", err)
	}
	if n := len(ft.sent(EventRoomJoined)); n != 2 {
		t.Errorf("room:joined sent %d times, want 2", n)
	}

	allow = false
	if _, err := g.RequestJoin(context.Background(), ft, "chat.5"); err == nil {
		t.Error("re-join after revocation should be denied")
	}
	if !g.IsMember(room, ft) {
		t.Error("a denied re-join must not remove an existing membership")
	}
}

func TestGate_Leave(t *testing.T) {
	g := NewGate()
	ft := newFake("alice")
	room, _ := g.RequestJoin(context.Background(), ft, "chat.5")

	if _, err := g.Leave(ft, "chat.5"); err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	if g.IsMember(room, ft) {
		t.Error("still a member after Leave")
	}
	if _, err := g.Leave(ft, "chat.9"); err != nil {
		t.Errorf("leaving an unheld room should succeed, got %v", err)
	}

	left := ft.sent(EventRoomLeft)
	if len(left) != 2 || left[0].Data != "chat.5" || left[1].Data != "chat.9" {
		t.Errorf("room:left frames = %+v", left)
	}
	if _, err := g.Leave(ft, ""); !errors.Is(err, ErrInvalidRoom) {
		t.Errorf("Leave(\"\") error = %v, want ErrInvalidRoom", err)
	}
}

func TestGate_LeaveAllAndRoomsOf(t *testing.T) {
	g := NewGate()
	ft := newFake("alice")
	other := newFake("bob")
	ctx := context.Background()
	for _, r := range []string{"chat.5", "lobby", "game.2"} {
		if _, err := g.RequestJoin(ctx, ft, r); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := g.RequestJoin(ctx, other, "lobby"); err != nil {
		t.Fatal(err)
	}

	var names []string
	for _, r := range g.RoomsOf(ft) {
		names = append(names, r.String())
	}
	if !reflect.DeepEqual(names, []string{"chat.5", "game.2", "global.lobby"}) {
		t.Errorf("RoomsOf() = %v", names)
	}

	g.LeaveAll(ft)
	if len(g.RoomsOf(ft)) != 0 {
		t.Error("RoomsOf() not empty after LeaveAll")
	}
	members := g.Members(mustParseRoom("lobby"))
	if len(members) != 1 || members[0] != Transport(other) {
		t.Errorf("lobby members = %v, want only bob", members)
	}
}
