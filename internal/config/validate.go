// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package config

import (
	"fmt"
	"net/url"
	"strings"
)

// minJWTSecretLength is the shortest accepted HS256 signing secret.
const minJWTSecretLength = 32

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateRealtime(); err != nil {
		return err
	}
	if err := c.validateSecurity(); err != nil {
		return err
	}
	if err := c.validateNATS(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) validateRealtime() error {
	switch c.Realtime.OnOfflineTarget {
	case OfflineTargetNoop, OfflineTargetBroadcast:
	default:
		return fmt.Errorf("REALTIME_ON_OFFLINE_TARGET must be %q or %q, got %q",
			OfflineTargetNoop, OfflineTargetBroadcast, c.Realtime.OnOfflineTarget)
	}
	if c.Realtime.SendBufferSize < 1 {
		return fmt.Errorf("REALTIME_SEND_BUFFER must be at least 1")
	}
	if c.Realtime.BroadcastBuffer < 1 {
		return fmt.Errorf("REALTIME_BROADCAST_BUFFER must be at least 1")
	}
	if c.Realtime.MaxMessageSize < 512 {
		return fmt.Errorf("REALTIME_MAX_MESSAGE_SIZE must be at least 512 bytes")
	}
	if c.Realtime.PongWait <= c.Realtime.WriteWait {
		return fmt.Errorf("REALTIME_PONG_WAIT (%v) must exceed REALTIME_WRITE_WAIT (%v)",
			c.Realtime.PongWait, c.Realtime.WriteWait)
	}
	if c.Realtime.TypingRate <= 0 || c.Realtime.TypingBurst < 1 {
		return fmt.Errorf("REALTIME_TYPING_RATE and REALTIME_TYPING_BURST must be positive")
	}
	return nil
}

func (c *Config) validateSecurity() error {
	if len(c.Security.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters", minJWTSecretLength)
	}
	if c.Security.SessionTimeout <= 0 {
		return fmt.Errorf("SESSION_TIMEOUT must be positive")
	}
	if !c.Security.RateLimitDisabled && c.Security.RateLimitReqs < 1 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be at least 1 when rate limiting is enabled")
	}
	if c.Server.Environment == "production" {
		for _, origin := range c.Security.CORSOrigins {
			if origin == "*" {
				return fmt.Errorf("CORS_ORIGINS must not contain '*' in production")
			}
		}
	}
	return nil
}

func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}
	if c.NATS.Embedded {
		if c.NATS.EmbeddedPort < -1 || c.NATS.EmbeddedPort > 65535 {
			return fmt.Errorf("NATS_EMBEDDED_PORT must be between -1 and 65535, got %d", c.NATS.EmbeddedPort)
		}
	} else {
		u, err := url.Parse(c.NATS.URL)
		if err != nil || (u.Scheme != "nats" && u.Scheme != "tls") {
			return fmt.Errorf("NATS_URL must be a nats:// or tls:// URL, got %q", c.NATS.URL)
		}
	}
	if strings.TrimSpace(c.NATS.SubjectPrefix) == "" {
		return fmt.Errorf("NATS_SUBJECT_PREFIX is required when NATS_ENABLED=true")
	}
	return nil
}

func (c *Config) validateStore() error {
	if !c.Store.InMemory && c.Store.Path == "" {
		return fmt.Errorf("STORE_PATH is required unless STORE_IN_MEMORY=true")
	}
	if c.Store.GCInterval < 0 {
		return fmt.Errorf("STORE_GC_INTERVAL must not be negative")
	}
	if c.Store.GCInterval > 0 && (c.Store.GCDiscardRatio <= 0 || c.Store.GCDiscardRatio >= 1) {
		return fmt.Errorf("STORE_GC_DISCARD_RATIO must be between 0 and 1, got %v", c.Store.GCDiscardRatio)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("LOG_LEVEL %q is not a valid level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
