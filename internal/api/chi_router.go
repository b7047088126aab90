// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/gametable/internal/config"
	"github.com/tomtom215/gametable/internal/middleware"
)

// RouterDeps are the collaborators of the router.
type RouterDeps struct {
	Handler  *Handler
	Realtime http.Handler

	// Authenticate guards /api/v1. It stores auth.Claims on the request
	// context (auth.JWTManager.Middleware).
	Authenticate func(http.Handler) http.Handler

	Security *config.SecurityConfig
}

// SetupChi builds the router.
func SetupChi(deps RouterDeps) chi.Router {
	r := chi.NewRouter()
	chiMw := NewChiMiddleware(NewChiMiddlewareConfig(deps.Security))

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.PrometheusMetrics)
	r.Use(middleware.AccessLog)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		respondError(w, req, http.StatusNotFound, ErrCodeNotFound, "route not found", nil)
	})

	r.Get("/healthz", deps.Handler.Health)
	r.Handle("/metrics", promhttp.Handler())

	if deps.Realtime != nil {
		r.Group(func(r chi.Router) {
			r.Use(chiMw.RateLimit("ws"))
			r.Get("/ws", deps.Realtime.ServeHTTP)
		})
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chiMw.CORS())
		r.Use(chiMw.RateLimit("api"))
		r.Use(deps.Authenticate)

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", deps.Handler.CreateConversation)
			r.Get("/{id}/messages", deps.Handler.ListMessages)
			r.Post("/{id}/messages", deps.Handler.PostMessage)
			r.Get("/{id}/unread", deps.Handler.Unread)
		})
	})

	return r
}
