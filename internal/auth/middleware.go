// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/tomtom215/gametable/internal/logging"
)

type contextKey string

// ClaimsContextKey stores *Claims on an authenticated request context.
const ClaimsContextKey contextKey = "claims"

// tokenQueryParam carries the token on websocket upgrades, where browsers
// cannot set an Authorization header.
const tokenQueryParam = "token"

// Authenticate extracts the bearer token from r and validates it.
func (m *JWTManager) Authenticate(r *http.Request) (*Claims, error) {
	token := ExtractToken(r)
	if token == "" {
		return nil, ErrNoCredentials
	}
	claims, err := m.ValidateToken(token)
	if err != nil {
		logging.Ctx(r.Context()).Debug().Err(err).Msg("Token validation failed")
		return nil, ErrInvalidCredentials
	}
	return claims, nil
}

// Middleware rejects unauthenticated requests with 401 and stores the
// claims on the request context otherwise.
func (m *JWTManager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.Authenticate(r)
		if err != nil {
			http.Error(w, "Unauthorized: "+err.Error(), http.StatusUnauthorized)
			return
		}
		ctx := ContextWithClaims(r.Context(), claims)
		ctx = logging.ContextWithConnection(ctx, claims.PrincipalID(), 0)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ExtractToken returns the token from the Authorization header, the token
// cookie or the token query parameter, in that order.
func ExtractToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			if token := strings.TrimSpace(parts[1]); token != "" {
				return token
			}
		}
	}

	if cookie, err := r.Cookie(tokenQueryParam); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	return r.URL.Query().Get(tokenQueryParam)
}

// ContextWithClaims returns ctx carrying claims.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ClaimsContextKey, claims)
}

// ClaimsFromContext returns the claims stored by Middleware, if any.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsContextKey).(*Claims)
	return claims, ok && claims != nil
}
