// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/gametable/internal/auth"
	"github.com/tomtom215/gametable/internal/chat"
	"github.com/tomtom215/gametable/internal/validation"
)

// History limits.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// ChatService is the conversation API the handlers call.
type ChatService interface {
	CreateConversation(ctx context.Context, creatorID, title string, participants []string) (*chat.Conversation, error)
	PostMessage(ctx context.Context, conversationID, senderID, body string) (*chat.Message, error)
	History(ctx context.Context, conversationID, principalID string, limit int) ([]chat.Message, error)
	Unread(ctx context.Context, conversationID, principalID string) (int, error)
}

// ConnectionCounter reports live realtime connections for /healthz.
type ConnectionCounter interface {
	Count() int
}

// Handler serves the HTTP API.
type Handler struct {
	chat        ChatService
	connections ConnectionCounter
}

// NewHandler creates the API handlers. connections may be nil.
func NewHandler(svc ChatService, connections ConnectionCounter) *Handler {
	return &Handler{chat: svc, connections: connections}
}

type createConversationRequest struct {
	Title        string   `json:"title" validate:"max=200"`
	Participants []string `json:"participants" validate:"max=64,dive,required,max=128"`
}

type postMessageRequest struct {
	Body string `json:"body" validate:"required,max=4000"`
}

type unreadResponse struct {
	ConversationID string `json:"conversation_id"`
	Unread         int    `json:"unread"`
}

type healthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if h.connections != nil {
		resp.Connections = h.connections.Count()
	}
	respondJSON(w, r, http.StatusOK, resp)
}

// CreateConversation creates a conversation owned by the caller.
func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	var req createConversationRequest
	if !decodeBody(w, r, &req) || !validateRequest(w, r, &req) {
		return
	}

	conversation, err := h.chat.CreateConversation(r.Context(), claims.PrincipalID(), req.Title, req.Participants)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusCreated, conversation)
}

// ListMessages returns the newest messages of a conversation, oldest first,
// as a bare JSON array.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest,
				"limit must be an integer between 1 and "+strconv.Itoa(maxHistoryLimit), nil)
			return
		}
		limit = n
	}

	messages, err := h.chat.History(r.Context(), chi.URLParam(r, "id"), claims.PrincipalID(), limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, messages)
}

// PostMessage stores a message and pushes it to the conversation room.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	var req postMessageRequest
	if !decodeBody(w, r, &req) || !validateRequest(w, r, &req) {
		return
	}

	msg, err := h.chat.PostMessage(r.Context(), chi.URLParam(r, "id"), claims.PrincipalID(), req.Body)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusCreated, msg)
}

// Unread returns the caller's unread counter.
func (h *Handler) Unread(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	n, err := h.chat.Unread(r.Context(), id, claims.PrincipalID())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, unreadResponse{ConversationID: id, Unread: n})
}

func requireClaims(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, r, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required", nil)
		return nil, false
	}
	return claims, true
}

func validateRequest(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if verr := validation.ValidateStruct(v); verr != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidationFailed, verr.Error(), verr.Fields())
		return false
	}
	return true
}
