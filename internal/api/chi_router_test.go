// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package api

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/gametable/internal/auth"
	"github.com/tomtom215/gametable/internal/chat"
	"github.com/tomtom215/gametable/internal/config"
	"github.com/tomtom215/gametable/internal/logging"
	"github.com/tomtom215/gametable/internal/metrics"
	"github.com/tomtom215/gametable/internal/realtime"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "info", Format: "console", Output: io.Discard})
}

type roomEvent struct {
	event string
	room  realtime.Room
	data  interface{}
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []roomEvent
}

func (b *recordingBroadcaster) BroadcastRoom(event string, room realtime.Room, data interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, roomEvent{event: event, room: room, data: data})
}

func (b *recordingBroadcaster) snapshot() []roomEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]roomEvent(nil), b.events...)
}

type fixedCount int

func (c fixedCount) Count() int { return int(c) }

type testAPI struct {
	server      *httptest.Server
	jwt         *auth.JWTManager
	broadcaster *recordingBroadcaster
}

func newTestAPI(t *testing.T, sec *config.SecurityConfig) *testAPI {
	t.Helper()

	if sec == nil {
		sec = &config.SecurityConfig{RateLimitDisabled: true}
	}
	sec.JWTSecret = "test-secret-with-at-least-32-characters!"
	sec.SessionTimeout = time.Hour

	jwtManager, err := auth.NewJWTManager(sec)
	if err != nil {
		t.Fatal(err)
	}

	store, err := chat.OpenBadgerStore(config.StoreConfig{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	broadcaster := &recordingBroadcaster{}
	svc := chat.NewService(store, broadcaster)

	router := SetupChi(RouterDeps{
		Handler: NewHandler(svc, fixedCount(3)),
		Realtime: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}),
		Authenticate: jwtManager.Middleware,
		Security:     sec,
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testAPI{server: server, jwt: jwtManager, broadcaster: broadcaster}
}

func (a *testAPI) do(t *testing.T, method, path, principalID string, body interface{}) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, a.server.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	if principalID != "" {
		token, err := a.jwt.GenerateToken(principalID, principalID, "player")
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.server.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func (a *testAPI) createConversation(t *testing.T, creator string, participants ...string) chat.Conversation {
	t.Helper()
	resp := a.do(t, http.MethodPost, "/api/v1/conversations", creator, map[string]interface{}{
		"title":        "session zero",
		"participants": participants,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create conversation status = %d", resp.StatusCode)
	}
	return decode[chat.Conversation](t, resp)
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t, nil)

	resp := api.do(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	health := decode[healthResponse](t, resp)
	if health.Status != "ok" || health.Connections != 3 {
		t.Errorf("health = %+v", health)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t, nil)

	api.do(t, http.MethodGet, "/healthz", "", nil)
	resp := api.do(t, http.MethodGet, "/metrics", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "api_requests_total") {
		t.Error("metrics output missing api_requests_total")
	}
}

func TestRealtimeRoute(t *testing.T) {
	api := newTestAPI(t, nil)

	resp := api.do(t, http.MethodGet, "/ws", "", nil)
	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("status = %d, want the realtime handler's 418", resp.StatusCode)
	}
}

func TestAPI_RequiresAuthentication(t *testing.T) {
	api := newTestAPI(t, nil)

	for _, path := range []string{"/api/v1/conversations/x/messages", "/api/v1/conversations/x/unread"} {
		resp := api.do(t, http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("GET %s status = %d, want 401", path, resp.StatusCode)
		}
	}
}

func TestAPI_ConversationFlow(t *testing.T) {
	api := newTestAPI(t, nil)

	conversation := api.createConversation(t, "alice", "bob", "bob", "carol")
	if want := []string{"alice", "bob", "carol"}; strings.Join(conversation.Participants, ",") != strings.Join(want, ",") {
		t.Fatalf("participants = %v, want %v", conversation.Participants, want)
	}

	base := "/api/v1/conversations/" + conversation.ID

	for _, body := range []string{"roll for initiative", "  natural twenty  "} {
		resp := api.do(t, http.MethodPost, base+"/messages", "alice", map[string]string{"body": body})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("post status = %d", resp.StatusCode)
		}
	}

	events := api.broadcaster.snapshot()
	if len(events) != 2 {
		t.Fatalf("broadcasts = %d, want 2", len(events))
	}
	if events[0].event != chat.EventMessage || events[0].room != chat.Room(conversation.ID) {
		t.Errorf("broadcast = %s to %s", events[0].event, events[0].room)
	}

	resp := api.do(t, http.MethodGet, base+"/unread", "bob", nil)
	if got := decode[unreadResponse](t, resp); got.Unread != 2 {
		t.Errorf("bob unread = %d, want 2", got.Unread)
	}

	resp = api.do(t, http.MethodGet, base+"/messages?limit=10", "bob", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d", resp.StatusCode)
	}
	messages := decode[[]chat.Message](t, resp)
	if len(messages) != 2 || messages[0].Body != "roll for initiative" || messages[1].Body != "natural twenty" {
		t.Fatalf("history = %+v", messages)
	}

	resp = api.do(t, http.MethodGet, base+"/unread", "bob", nil)
	if got := decode[unreadResponse](t, resp); got.Unread != 0 {
		t.Errorf("bob unread after reading = %d, want 0", got.Unread)
	}
}

func TestAPI_ErrorMapping(t *testing.T) {
	api := newTestAPI(t, nil)
	conversation := api.createConversation(t, "alice", "bob")
	base := "/api/v1/conversations/" + conversation.ID

	tests := []struct {
		name      string
		method    string
		path      string
		principal string
		body      interface{}
		status    int
		code      string
	}{
		{name: "outsider reads history", method: http.MethodGet, path: base + "/messages", principal: "mallory", status: http.StatusForbidden, code: ErrCodeForbidden},
		{name: "outsider reads unread", method: http.MethodGet, path: base + "/unread", principal: "mallory", status: http.StatusForbidden, code: ErrCodeForbidden},
		{name: "outsider posts", method: http.MethodPost, path: base + "/messages", principal: "mallory", body: map[string]string{"body": "hi"}, status: http.StatusForbidden, code: ErrCodeForbidden},
		{name: "unknown conversation", method: http.MethodPost, path: "/api/v1/conversations/nope/messages", principal: "alice", body: map[string]string{"body": "hi"}, status: http.StatusNotFound, code: ErrCodeNotFound},
		{name: "missing body", method: http.MethodPost, path: base + "/messages", principal: "alice", body: map[string]string{}, status: http.StatusBadRequest, code: ErrCodeValidationFailed},
		{name: "whitespace body", method: http.MethodPost, path: base + "/messages", principal: "alice", body: map[string]string{"body": "   "}, status: http.StatusBadRequest, code: ErrCodeBadRequest},
		{name: "bad limit", method: http.MethodGet, path: base + "/messages?limit=0", principal: "alice", status: http.StatusBadRequest, code: ErrCodeBadRequest},
		{name: "too many participants", method: http.MethodPost, path: "/api/v1/conversations", principal: "alice", body: map[string]interface{}{"participants": make([]string, 65)}, status: http.StatusBadRequest, code: ErrCodeValidationFailed},
		{name: "unknown route", method: http.MethodGet, path: "/api/v2/nothing", status: http.StatusNotFound, code: ErrCodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := api.do(t, tt.method, tt.path, tt.principal, tt.body)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			envelope := decode[ErrorResponse](t, resp)
			if envelope.Error.Code != tt.code {
				t.Errorf("code = %q, want %q (%s)", envelope.Error.Code, tt.code, envelope.Error.Message)
			}
			if envelope.Error.RequestID == "" {
				t.Error("error envelope missing request_id")
			}
		})
	}
}

func TestAPI_InvalidJSON(t *testing.T) {
	api := newTestAPI(t, nil)

	token, err := api.jwt.GenerateToken("alice", "alice", "player")
	if err != nil {
		t.Fatal(err)
	}
	req, err := http.NewRequest(http.MethodPost, api.server.URL+"/api/v1/conversations", strings.NewReader("{not json"))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := api.server.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAPI_RateLimit(t *testing.T) {
	api := newTestAPI(t, &config.SecurityConfig{
		RateLimitReqs:   2,
		RateLimitWindow: time.Minute,
	})

	before := testutil.ToFloat64(metrics.APIRateLimitHits.WithLabelValues("api"))

	var limited int
	for i := 0; i < 4; i++ {
		resp := api.do(t, http.MethodGet, "/api/v1/conversations/x/unread", "alice", nil)
		if resp.StatusCode == http.StatusTooManyRequests {
			limited++
			if code := decode[ErrorResponse](t, resp).Error.Code; code != ErrCodeTooManyRequests {
				t.Errorf("code = %q, want %q", code, ErrCodeTooManyRequests)
			}
		}
	}

	if limited != 2 {
		t.Errorf("limited = %d, want 2", limited)
	}
	if got := testutil.ToFloat64(metrics.APIRateLimitHits.WithLabelValues("api")) - before; got != 2 {
		t.Errorf("rate limit hits = %v, want 2", got)
	}
}

func TestAPI_CORSPreflight(t *testing.T) {
	api := newTestAPI(t, &config.SecurityConfig{
		CORSOrigins:       []string{"https://table.example"},
		RateLimitDisabled: true,
	})

	req, err := http.NewRequest(http.MethodOptions, api.server.URL+"/api/v1/conversations", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Origin", "https://table.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := api.server.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://table.example" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestNewChiMiddlewareConfig(t *testing.T) {
	defaults := NewChiMiddlewareConfig(nil)
	if defaults.RateLimitRequests != 100 || defaults.RateLimitWindow != time.Minute {
		t.Errorf("defaults = %+v", defaults)
	}

	cfg := NewChiMiddlewareConfig(&config.SecurityConfig{
		CORSOrigins:       []string{"https://a.example"},
		RateLimitReqs:     7,
		RateLimitWindow:   time.Second,
		RateLimitDisabled: true,
	})
	if cfg.RateLimitRequests != 7 || cfg.RateLimitWindow != time.Second || !cfg.RateLimitDisabled {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(cfg.CORSAllowedOrigins) != 1 {
		t.Errorf("origins = %v", cfg.CORSAllowedOrigins)
	}
}
