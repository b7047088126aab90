// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package realtime

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/tomtom215/gametable/internal/validation"
)

// Wire event names.
const (
	EventRoomJoin       = "room:join"
	EventRoomLeave      = "room:leave"
	EventRoomJoined     = "room:joined"
	EventRoomLeft       = "room:left"
	EventRoomJoinDenied = "room:join-denied"
	EventReady          = "ready"
	EventUserOnline     = "user.online"
	EventUserOffline    = "user.offline"
	EventTyping         = "typing"
	EventTypingStatus   = "typingStatus"
	EventPing           = "ping"
	EventPong           = "pong"
	EventError          = "error"
)

// Error codes carried by EventError frames.
const (
	ErrorCodeInvalidFrame   = "invalid_frame"
	ErrorCodeInvalidPayload = "invalid_payload"
	ErrorCodeUnknownEvent   = "unknown_event"
	ErrorCodeNotMember      = "not_member"
	ErrorCodeRateLimited    = "rate_limited"
	ErrorCodeInternal       = "internal"
)

// Message is the outbound envelope.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Inbound is a frame received from a client. Data is decoded per event.
type Inbound struct {
	Type string          `json:"type" validate:"required,max=64"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UserRef identifies a principal in presence events.
type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// TypingPayload is the data of an inbound typing frame.
type TypingPayload struct {
	Room   string `json:"room" validate:"required,max=256"`
	Typing bool   `json:"typing"`
}

// TypingStatus is relayed to the other members of a room. UserID is stamped
// by the server from the sending transport.
type TypingStatus struct {
	UserID string `json:"user_id"`
	Room   string `json:"room"`
	Typing bool   `json:"typing"`
}

// JoinDenied is the optional diagnostic sent when a join is rejected.
type JoinDenied struct {
	Room   string `json:"room"`
	Reason string `json:"reason"`
}

// ErrorPayload is the data of an error frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// roomName is the payload of room:join and room:leave.
type roomName struct {
	Name string `json:"room" validate:"required,max=256"`
}

// validatePayload runs struct validation. The typed error is converted
// here so a nil result is a nil error.
func validatePayload(v interface{}) error {
	if verr := validation.ValidateStruct(v); verr != nil {
		return fmt.Errorf("%w: %s", ErrInvalidPayload, verr.Error())
	}
	return nil
}

// DecodeInbound parses and validates a raw client frame.
func DecodeInbound(raw []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := validatePayload(&in); err != nil {
		return Inbound{}, err
	}
	return in, nil
}

// DecodePayload unmarshals data into a T and validates it. T must be a struct.
func DecodePayload[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, fmt.Errorf("%w: missing data", ErrInvalidPayload)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := validatePayload(&v); err != nil {
		return v, err
	}
	return v, nil
}

// decodeRoomName reads the string payload of room:join and room:leave.
func decodeRoomName(data json.RawMessage) (string, error) {
	var name string
	if len(data) == 0 {
		return "", fmt.Errorf("%w: missing room name", ErrInvalidPayload)
	}
	if err := json.Unmarshal(data, &name); err != nil {
		return "", fmt.Errorf("%w: room name must be a string", ErrInvalidPayload)
	}
	if err := validatePayload(&roomName{Name: name}); err != nil {
		return "", err
	}
	return name, nil
}

// MarshalMessage converts a message to JSON.
func MarshalMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
