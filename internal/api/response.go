// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package api

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/tomtom215/gametable/internal/chat"
	"github.com/tomtom215/gametable/internal/logging"
)

// Error codes for API responses
const (
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeTooManyRequests  = "TOO_MANY_REQUESTS"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
)

// maxBodyBytes bounds decoded request bodies.
const maxBodyBytes = 64 * 1024

// ErrorResponse is the envelope of every error.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// APIError represents an error response.
type APIError struct {
	// Code is a machine-readable error code
	Code string `json:"code"`

	// Message is a human-readable error message
	Message string `json:"message"`

	// Details contains additional error details (optional)
	Details interface{} `json:"details,omitempty"`

	// RequestID is the request ID for tracing
	RequestID string `json:"request_id,omitempty"`
}

func respondJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("failed to encode response")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Ctx(r.Context()).Debug().Err(err).Msg("failed to write response")
	}
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string, details interface{}) {
	respondJSON(w, r, status, ErrorResponse{Error: APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		RequestID: logging.RequestIDFromContext(r.Context()),
	}})
}

// respondServiceError maps chat sentinel errors to HTTP statuses. Anything
// unrecognized is logged and reported as 500 without its message.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, chat.ErrConversationNotFound):
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "conversation not found", nil)
	case errors.Is(err, chat.ErrNotParticipant):
		respondError(w, r, http.StatusForbidden, ErrCodeForbidden, "not a participant of the conversation", nil)
	case errors.Is(err, chat.ErrEmptyBody):
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), nil)
	default:
		logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "internal error", nil)
	}
}

// decodeBody reads a bounded JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body", nil)
		return false
	}
	return true
}
