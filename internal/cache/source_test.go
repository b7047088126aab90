// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package cache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	gobreaker "github.com/sony/gobreaker/v2"
)

type game struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func TestLocator_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"g1","name":"Catan"},{"id":"g2","name":"Azul"}]`))
	}))
	defer server.Close()

	loc := Locator[game]{Fetcher: NewHTTPFetcher("locator-test", server.Client()), URL: server.URL}
	games, err := loc.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(games) != 2 || games[1].Name != "Azul" {
		t.Errorf("games = %+v", games)
	}
}

func TestRequest_FetchThroughCache(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`[{"id":"g1","name":"Catan"}]`))
	}))
	defer server.Close()

	req, err := http.NewRequest(http.MethodGet, server.URL, http.NoBody)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer tok")

	c := New(Options[game]{Name: "games"})
	src := Request[game]{Fetcher: NewHTTPFetcher("request-test", server.Client()), Req: req}

	games, err := wait(t, c.Load(context.Background(), src))
	if err != nil {
		t.Fatal(err)
	}
	if len(games) != 1 || games[0].ID != "g1" {
		t.Errorf("games = %+v", games)
	}

	c.Invalidate()
	if _, err := wait(t, c.Load(context.Background(), src)); err != nil {
		t.Fatal(err)
	}
	if n := hits.Load(); n != 2 {
		t.Errorf("server hits = %d, want 2", n)
	}
}

func TestHTTPFetcher_StatusAndDecodeErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/missing", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})
	mux.HandleFunc("/garbage", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"not":"a list"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	fetcher := NewHTTPFetcher("errors-test", server.Client())

	_, err := Locator[game]{Fetcher: fetcher, URL: server.URL + "/missing"}.Fetch(context.Background())
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Errorf("error = %v, want StatusError 404", err)
	}

	if _, err := (Locator[game]{Fetcher: fetcher, URL: server.URL + "/garbage"}).Fetch(context.Background()); err == nil {
		t.Error("non-list body should fail to decode")
	}

	if _, err := (Request[game]{Fetcher: fetcher}).Fetch(context.Background()); err == nil {
		t.Error("nil request should fail")
	}
}

func TestHTTPFetcher_BreakerOpens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher("breaker-test", server.Client())
	loc := Locator[game]{Fetcher: fetcher, URL: server.URL}

	for i := 0; i < 10; i++ {
		if _, err := loc.Fetch(context.Background()); err == nil {
			t.Fatal("expected failure")
		}
	}
	if fetcher.State() != gobreaker.StateOpen {
		t.Fatalf("breaker state = %s, want open", fetcher.State())
	}

	_, err := loc.Fetch(context.Background())
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("error = %v, want ErrOpenState", err)
	}
	if got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("breaker-test")); got != 2 {
		t.Errorf("state gauge = %v, want 2", got)
	}
	if got := testutil.ToFloat64(CircuitBreakerRequests.WithLabelValues("breaker-test", "rejected")); got != 1 {
		t.Errorf("rejected = %v, want 1", got)
	}
}
