// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != "info" {
		t.Errorf("expected default level 'info', got '%s'", cfg.Level)
	}
	if cfg.Format != "json" {
		t.Errorf("expected default format 'json', got '%s'", cfg.Format)
	}
	if !cfg.Timestamp {
		t.Error("expected default timestamp to be true")
	}
}

func TestInit(t *testing.T) {
	var buf bytes.Buffer

	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	Info().Msg("hub started")

	output := buf.String()
	if !strings.Contains(output, "hub started") {
		t.Errorf("expected output to contain message, got: %s", output)
	}
	if !strings.Contains(output, `"level":"info"`) {
		t.Errorf("expected output to contain level, got: %s", output)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"disabled", zerolog.Disabled},
		{"DEBUG", zerolog.DebugLevel},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestCtx_ConnectionFields(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(NewTestLogger(&buf))
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	defer Init(DefaultConfig())

	ctx := ContextWithConnection(context.Background(), "user-7", 42)
	ctx = ContextWithCorrelationID(ctx, "abc12345")
	ctx = ContextWithRequestID(ctx, "req-1")
	Ctx(ctx).Info().Msg("room joined")

	output := buf.String()
	for _, want := range []string{`"principal_id":"user-7"`, `"connection_id":42`, `"correlation_id":"abc12345"`, `"request_id":"req-1"`} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %s in output: %s", want, output)
		}
	}
}

func TestCtx_EmptyContext(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(NewTestLogger(&buf))
	defer Init(DefaultConfig())

	Ctx(context.Background()).Info().Msg("plain")

	if strings.Contains(buf.String(), "principal_id") {
		t.Errorf("unexpected principal_id in output: %s", buf.String())
	}
}

func TestGenerateCorrelationID(t *testing.T) {
	id := GenerateCorrelationID()
	if len(id) != 8 {
		t.Errorf("expected 8 character id, got %q", id)
	}
	if id == GenerateCorrelationID() {
		t.Error("expected distinct ids")
	}
}

func TestSlogHandler(t *testing.T) {
	var buf bytes.Buffer
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	defer Init(DefaultConfig())

	logger := slog.New(NewSlogHandler(NewTestLogger(&buf)))
	logger.WithGroup("svc").Warn("service restarted", slog.String("name", "realtime-hub"), slog.Int("attempt", 2))

	output := buf.String()
	for _, want := range []string{`"level":"warn"`, `"svc.name":"realtime-hub"`, `"svc.attempt":2`, "service restarted"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %s in output: %s", want, output)
		}
	}
}

func TestZerologLevel(t *testing.T) {
	tests := []struct {
		in   slog.Level
		want zerolog.Level
	}{
		{slog.LevelDebug - 4, zerolog.TraceLevel},
		{slog.LevelDebug, zerolog.DebugLevel},
		{slog.LevelInfo, zerolog.InfoLevel},
		{slog.LevelWarn, zerolog.WarnLevel},
		{slog.LevelError, zerolog.ErrorLevel},
	}
	for _, tt := range tests {
		if got := zerologLevel(tt.in); got != tt.want {
			t.Errorf("zerologLevel(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
