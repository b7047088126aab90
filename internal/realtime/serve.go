// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package realtime

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/gametable/internal/auth"
	"github.com/tomtom215/gametable/internal/logging"
)

// Authenticator resolves the principal of an upgrade request.
type Authenticator interface {
	Authenticate(r *http.Request) (*auth.Claims, error)
}

// RoleAssigner records the role a principal connected with so authorization
// queries can find it.
type RoleAssigner interface {
	AssignRole(principalID, role string) error
}

// Endpoint upgrades authenticated HTTP requests to realtime connections.
type Endpoint struct {
	hub      *Hub
	authn    Authenticator
	roles    RoleAssigner
	origins  []string
	upgrader websocket.Upgrader
	opts     ClientOptions
}

// NewEndpoint creates the websocket endpoint. An empty origins list accepts
// any Origin; "*" does the same explicitly.
func NewEndpoint(hub *Hub, authn Authenticator, roles RoleAssigner, origins []string, handshakeTimeout time.Duration, opts ClientOptions) *Endpoint {
	e := &Endpoint{
		hub:     hub,
		authn:   authn,
		roles:   roles,
		origins: origins,
		opts:    opts,
	}
	e.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: handshakeTimeout,
		CheckOrigin:      e.checkOrigin,
	}
	return e
}

// ServeHTTP authenticates, assigns the token role, upgrades and starts the client.
func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := e.authn.Authenticate(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	principalID := claims.PrincipalID()
	ctx := logging.ContextWithConnection(r.Context(), principalID, 0)

	if e.roles != nil {
		if err := e.roles.AssignRole(principalID, claims.Role); err != nil {
			logging.Ctx(ctx).Error().Err(err).Msg("failed to assign connection role")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
	}

	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logging.Ctx(ctx).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	user := UserRef{ID: principalID, Name: claims.Username}
	client := NewClient(e.hub, conn, user, e.opts)
	client.Start()
}

// checkOrigin requires an Origin header when origins are configured.
func (e *Endpoint) checkOrigin(r *http.Request) bool {
	if len(e.origins) == 0 {
		return true
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.Warn().Msg("websocket connection rejected: missing Origin header")
		return false
	}
	for _, allowed := range e.origins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}

	logging.Warn().Str("origin", sanitizeLogValue(origin)).Msg("websocket connection rejected from unauthorized origin")
	return false
}

// sanitizeLogValue strips control characters and bounds the length of
// client-supplied values before logging.
func sanitizeLogValue(s string) string {
	const maxLen = 200
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
