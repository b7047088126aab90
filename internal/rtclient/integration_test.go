// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package rtclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/gametable/internal/auth"
	"github.com/tomtom215/gametable/internal/config"
	"github.com/tomtom215/gametable/internal/realtime"
)

func startRealtimeServer(t *testing.T) (url string, jwt *auth.JWTManager) {
	t.Helper()

	jwt, err := auth.NewJWTManager(&config.SecurityConfig{
		JWTSecret:      "integration-secret-with-32-characters!!",
		SessionTimeout: time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}

	registry := realtime.NewRegistry()
	gate := realtime.NewGate(realtime.WithJoinDeniedEvents(true))
	gate.Handle("secret", func(context.Context, realtime.Transport, realtime.Room) error {
		return errors.New("not invited")
	})
	fanout := realtime.NewFanout(registry, gate)
	presence := realtime.NewPresence(registry, gate, fanout, 10, 10)
	hub := realtime.NewHub(registry, gate, fanout, presence, 16)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.RunWithContext(ctx)
	}()

	srv := httptest.NewServer(realtime.NewEndpoint(hub, jwt, nil, nil, time.Second, realtime.ClientOptions{}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http"), jwt
}

func dialAs(t *testing.T, url string, jwt *auth.JWTManager, principalID string) *Client {
	t.Helper()
	token, err := jwt.GenerateToken(principalID, principalID, "player")
	if err != nil {
		t.Fatal(err)
	}
	c := New(Options{
		URL:    url,
		Header: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	t.Cleanup(c.Close)
	return c
}

func TestIntegration_RoomsAndPresence(t *testing.T) {
	url, jwt := startRealtimeServer(t)

	alice := dialAs(t, url, jwt, "alice")
	online := &counter{}
	alice.On("user.online", nil, online.listener())
	typing := &counter{}
	alice.On("typingStatus", nil, typing.listener())
	waitReady(t, alice)
	waitFor(t, "alice roster", func() bool { return online.n.Load() == 1 })

	bob := dialAs(t, url, jwt, "bob")
	denied := &counter{}
	bob.On("room:join-denied", nil, denied.listener())
	waitReady(t, bob)
	waitFor(t, "bob online at alice", func() bool { return online.n.Load() == 2 })

	if err := alice.Join("chat.3"); err != nil {
		t.Fatal(err)
	}
	if err := bob.Join("chat.3"); err != nil {
		t.Fatal(err)
	}
	if err := bob.Join("secret.1"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "denial", func() bool { return denied.n.Load() == 1 })
	waitFor(t, "joins", func() bool { return len(alice.Rooms()) == 1 && len(bob.Rooms()) == 1 })

	if got := bob.Rooms(); got[0] != "chat.3" {
		t.Errorf("bob rooms = %v", got)
	}

	if err := bob.Emit("typing", map[string]interface{}{"room": "chat.3", "typing": true}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "typing status", func() bool { return typing.n.Load() == 1 })

	typing.mu.Lock()
	var status realtime.TypingStatus
	err := json.Unmarshal(typing.last, &status)
	typing.mu.Unlock()
	if err != nil || status.UserID != "bob" || status.Room != "chat.3" {
		t.Errorf("typingStatus = %+v (%v)", status, err)
	}
}

func TestIntegration_UnauthorizedBeginRejects(t *testing.T) {
	url, _ := startRealtimeServer(t)
	c := newTestClient(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := c.Begin(context.Background()).Wait(ctx)
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("Begin without token = %v, want a 401 dial error", err)
	}
}
