// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	requestIDKey     contextKey = "request_id"
	principalIDKey   contextKey = "principal_id"
	connectionIDKey  contextKey = "connection_id"
)

// GenerateCorrelationID creates a short correlation ID (first 8 characters of a UUID).
func GenerateCorrelationID() string {
	return uuid.New().String()[:8]
}

// ContextWithCorrelationID returns a new context with the given correlation ID.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// ContextWithNewCorrelationID returns a context with a freshly generated correlation ID.
func ContextWithNewCorrelationID(ctx context.Context) context.Context {
	return ContextWithCorrelationID(ctx, GenerateCorrelationID())
}

// CorrelationIDFromContext returns the correlation ID or "".
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithRequestID returns a new context carrying the HTTP request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request ID or "".
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithConnection tags ctx with the principal and transport id of a live connection.
// Every log line written through Ctx then carries both fields.
func ContextWithConnection(ctx context.Context, principalID string, connectionID uint64) context.Context {
	ctx = context.WithValue(ctx, principalIDKey, principalID)
	return context.WithValue(ctx, connectionIDKey, connectionID)
}

// PrincipalIDFromContext returns the principal id stored by ContextWithConnection.
func PrincipalIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(principalIDKey).(string); ok {
		return id
	}
	return ""
}

// Ctx returns a logger with the context's correlation, principal and connection
// fields attached.
//
//	logging.Ctx(ctx).Info().Str("room", "chat.5").Msg("room joined")
func Ctx(ctx context.Context) *zerolog.Logger {
	logCtx := Logger().With()

	if id := CorrelationIDFromContext(ctx); id != "" {
		logCtx = logCtx.Str("correlation_id", id)
	}
	if id := RequestIDFromContext(ctx); id != "" {
		logCtx = logCtx.Str("request_id", id)
	}
	if id := PrincipalIDFromContext(ctx); id != "" {
		logCtx = logCtx.Str("principal_id", id)
	}
	if id, ok := ctx.Value(connectionIDKey).(uint64); ok {
		logCtx = logCtx.Uint64("connection_id", id)
	}

	l := logCtx.Logger()
	return &l
}
