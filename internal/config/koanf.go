// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched, first match wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/gametable/config.yaml",
	"/etc/gametable/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with every default applied.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8740,
			Host:            "0.0.0.0",
			Timeout:         30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Environment:     "development",
		},
		Realtime: RealtimeConfig{
			OnOfflineTarget:  OfflineTargetNoop,
			EmitJoinDenied:   false,
			SendBufferSize:   256,
			BroadcastBuffer:  256,
			MaxMessageSize:   64 * 1024,
			PongWait:         60 * time.Second,
			WriteWait:        10 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			TypingRate:       5,
			TypingBurst:      10,
		},
		Security: SecurityConfig{
			JWTSecret:       "",
			SessionTimeout:  24 * time.Hour,
			CORSOrigins:     []string{},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			Casbin: CasbinConfig{
				DefaultRole:    "player",
				AutoReload:     true,
				ReloadInterval: 30 * time.Second,
				CacheEnabled:   true,
				CacheTTL:       time.Minute,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		NATS: NATSConfig{
			Enabled:       false,
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "gametable.realtime",
			ReconnectWait: 2 * time.Second,
			MaxReconnects: -1,
			EmbeddedHost:  "127.0.0.1",
			EmbeddedPort:  4222,
		},
		Store: StoreConfig{
			Path:           "/data/gametable",
			GCInterval:     10 * time.Minute,
			GCDiscardRatio: 0.5,
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

// LoadWithKoanf loads configuration: defaults, then YAML file, then environment.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"security.cors_origins",
}

// processSliceFields turns comma-separated env values into string slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

var envMappings = map[string]string{
	"http_port":        "server.port",
	"http_host":        "server.host",
	"http_timeout":     "server.timeout",
	"shutdown_timeout": "server.shutdown_timeout",
	"environment":      "server.environment",

	"realtime_on_offline_target": "realtime.on_offline_target",
	"realtime_emit_join_denied":  "realtime.emit_join_denied",
	"realtime_send_buffer":       "realtime.send_buffer_size",
	"realtime_broadcast_buffer":  "realtime.broadcast_buffer",
	"realtime_max_message_size":  "realtime.max_message_size",
	"realtime_pong_wait":         "realtime.pong_wait",
	"realtime_write_wait":        "realtime.write_wait",
	"realtime_handshake_timeout": "realtime.handshake_timeout",
	"realtime_typing_rate":       "realtime.typing_rate",
	"realtime_typing_burst":      "realtime.typing_burst",

	"jwt_secret":          "security.jwt_secret",
	"session_timeout":     "security.session_timeout",
	"cors_origins":        "security.cors_origins",
	"rate_limit_requests": "security.rate_limit_reqs",
	"rate_limit_window":   "security.rate_limit_window",
	"disable_rate_limit":  "security.rate_limit_disabled",

	"casbin_model_path":      "security.casbin.model_path",
	"casbin_policy_path":     "security.casbin.policy_path",
	"casbin_default_role":    "security.casbin.default_role",
	"casbin_auto_reload":     "security.casbin.auto_reload",
	"casbin_reload_interval": "security.casbin.reload_interval",
	"casbin_cache_enabled":   "security.casbin.cache_enabled",
	"casbin_cache_ttl":       "security.casbin.cache_ttl",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"nats_enabled":        "nats.enabled",
	"nats_url":            "nats.url",
	"nats_subject_prefix": "nats.subject_prefix",
	"nats_node_id":        "nats.node_id",
	"nats_reconnect_wait": "nats.reconnect_wait",
	"nats_max_reconnects": "nats.max_reconnects",
	"nats_embedded":       "nats.embedded",
	"nats_embedded_host":  "nats.embedded_host",
	"nats_embedded_port":  "nats.embedded_port",

	"store_path":             "store.path",
	"store_in_memory":        "store.in_memory",
	"store_gc_interval":      "store.gc_interval",
	"store_gc_discard_ratio": "store.gc_discard_ratio",

	"supervisor_failure_threshold": "supervisor.failure_threshold",
	"supervisor_failure_decay":     "supervisor.failure_decay",
	"supervisor_failure_backoff":   "supervisor.failure_backoff",
	"supervisor_shutdown_timeout":  "supervisor.shutdown_timeout",
}

// envTransformFunc maps known environment variables onto config keys.
// Unmapped variables return "" and are skipped.
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
