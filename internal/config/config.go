// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

// Package config loads server configuration with Koanf v2.
//
// Sources are layered, highest priority last:
//
//  1. Built-in defaults (defaultConfig)
//  2. YAML file (CONFIG_PATH, config.yaml, /etc/gametable/config.yaml)
//  3. Environment variables (see envMappings)
//
// Config is immutable after Load() and safe for concurrent reads.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Realtime   RealtimeConfig   `koanf:"realtime"`
	Security   SecurityConfig   `koanf:"security"`
	Logging    LoggingConfig    `koanf:"logging"`
	NATS       NATSConfig       `koanf:"nats"`
	Store      StoreConfig      `koanf:"store"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	Host            string        `koanf:"host"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	Environment     string        `koanf:"environment"`
}

// Addr returns host:port for http.Server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Offline target policies for targeted sends.
const (
	OfflineTargetNoop      = "noop"
	OfflineTargetBroadcast = "broadcast"
)

// RealtimeConfig tunes the socket hub, room gate and fan-out.
type RealtimeConfig struct {
	// OnOfflineTarget decides what SendToOne does when the target principal
	// has no live transport: "noop" drops the event, "broadcast" sends it to
	// everyone. Default: noop.
	OnOfflineTarget string `koanf:"on_offline_target"`

	// EmitJoinDenied sends a room:join-denied diagnostic to the requester when
	// a handler chain rejects a join. Joins are otherwise denied silently.
	EmitJoinDenied bool `koanf:"emit_join_denied"`

	SendBufferSize   int           `koanf:"send_buffer_size"`
	BroadcastBuffer  int           `koanf:"broadcast_buffer"`
	MaxMessageSize   int64         `koanf:"max_message_size"`
	PongWait         time.Duration `koanf:"pong_wait"`
	WriteWait        time.Duration `koanf:"write_wait"`
	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`

	// TypingRate and TypingBurst bound typing relays per connection.
	TypingRate  float64 `koanf:"typing_rate"`
	TypingBurst int     `koanf:"typing_burst"`
}

// SecurityConfig holds authentication and authorization settings.
type SecurityConfig struct {
	JWTSecret         string        `koanf:"jwt_secret"`
	SessionTimeout    time.Duration `koanf:"session_timeout"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	Casbin            CasbinConfig  `koanf:"casbin"`
}

// CasbinConfig holds Casbin RBAC authorization settings.
type CasbinConfig struct {
	ModelPath      string        `koanf:"model_path"`
	PolicyPath     string        `koanf:"policy_path"`
	DefaultRole    string        `koanf:"default_role"`
	AutoReload     bool          `koanf:"auto_reload"`
	ReloadInterval time.Duration `koanf:"reload_interval"`
	CacheEnabled   bool          `koanf:"cache_enabled"`
	CacheTTL       time.Duration `koanf:"cache_ttl"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// NATSConfig configures the cluster fan-out relay. When disabled the hub
// delivers only to transports connected to this process.
type NATSConfig struct {
	Enabled       bool          `koanf:"enabled"`
	URL           string        `koanf:"url"`
	SubjectPrefix string        `koanf:"subject_prefix"`
	NodeID        string        `koanf:"node_id"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
	MaxReconnects int           `koanf:"max_reconnects"`

	// Embedded runs a NATS server inside this process and connects the
	// relay to it; URL is ignored. Peers may join it as a cluster hub.
	Embedded     bool   `koanf:"embedded"`
	EmbeddedHost string `koanf:"embedded_host"`
	EmbeddedPort int    `koanf:"embedded_port"`
}

// StoreConfig configures the BadgerDB-backed chat document store.
type StoreConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`

	// GCInterval is the period of value-log garbage collection; zero
	// disables it. GCDiscardRatio is passed to badger's RunValueLogGC.
	GCInterval     time.Duration `koanf:"gc_interval"`
	GCDiscardRatio float64       `koanf:"gc_discard_ratio"`
}

// SupervisorConfig mirrors supervisor.TreeConfig.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureDecay     float64       `koanf:"failure_decay"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}

// Load reads configuration from defaults, file and environment, then validates it.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
