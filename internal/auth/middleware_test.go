// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *http.Request)
		want  string
	}{
		{"bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") }, "abc"},
		{"lowercase scheme", func(r *http.Request) { r.Header.Set("Authorization", "bearer abc") }, "abc"},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "token", Value: "fromcookie"}) }, "fromcookie"},
		{"query", func(r *http.Request) { r.URL.RawQuery = "token=fromquery" }, "fromquery"},
		{"header wins over query", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer hdr")
			r.URL.RawQuery = "token=q"
		}, "hdr"},
		{"basic scheme ignored", func(r *http.Request) { r.Header.Set("Authorization", "Basic Zm9vOmJhcg==") }, ""},
		{"none", func(*http.Request) {}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			tt.setup(r)
			if got := ExtractToken(r); got != tt.want {
				t.Errorf("ExtractToken() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	manager := newTestManager(t, time.Hour)
	token, err := manager.GenerateToken("u-1", "pat", "player")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	var seen *Claims
	handler := manager.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("authorized", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		if w.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", w.Code)
		}
		if seen == nil || seen.PrincipalID() != "u-1" {
			t.Errorf("claims on context = %+v, want principal u-1", seen)
		}
	})

	t.Run("unauthorized", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api", nil)
		r.Header.Set("Authorization", "Bearer garbage")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})
}

func TestAuthenticate_NoCredentials(t *testing.T) {
	manager := newTestManager(t, time.Hour)
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if _, err := manager.Authenticate(r); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("Authenticate() error = %v, want ErrNoCredentials", err)
	}
}
