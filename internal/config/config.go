// Package config loads and holds the gateway's runtime configuration.
package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON, matching
// operator-edited config files where numeric IDs are sometimes typed bare.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the AG3NT Gateway.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Sessions  SessionsConfig  `json:"sessions"`
	Nodes     NodesConfig     `json:"nodes"`
	Worker    WorkerConfig    `json:"worker"`
	Usage     UsageConfig     `json:"usage,omitempty"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`

	mu sync.RWMutex
}

// GatewayConfig configures the HTTP/WS listener and the two rate limiters.
type GatewayConfig struct {
	Host               string              `json:"host"`
	Port               int                 `json:"port"`
	Token              string              `json:"-"` // from env AG3NT_GATEWAY_TOKEN only
	OwnerIDs           FlexibleStringSlice `json:"owner_ids,omitempty"`
	AllowedOrigins     FlexibleStringSlice `json:"allowed_origins,omitempty"`
	MaxMessageChars    int                 `json:"max_message_chars"`
	APIRateLimitRPM    int                 `json:"api_rate_limit_rpm"`
	ChatRateLimitRPM   int                 `json:"chat_rate_limit_rpm"`
}

// SessionsConfig configures session admission policy and lifecycle sweeps.
type SessionsConfig struct {
	DMPolicy        string        `json:"dm_policy"` // "open" | "pairing"
	PairingCodeTTL  time.Duration `json:"pairing_code_ttl"`
	AllowlistPath   string        `json:"allowlist_path"`
	SessionTimeout  time.Duration `json:"session_timeout"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
	// CleanupCron, when set, overrides CleanupInterval with a cron expression
	// validated by github.com/adhocore/gronx (e.g. "0 * * * *" for hourly).
	CleanupCron string `json:"cleanup_cron,omitempty"`
}

// NodesConfig configures the companion-node registry/protocol.
type NodesConfig struct {
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `json:"heartbeat_timeout"`
	ActionTimeout     time.Duration `json:"action_timeout"`
	PairingCodeTTL    time.Duration `json:"pairing_code_ttl"`
}

// WorkerConfig configures the persistent AgentConnection to the agent worker.
type WorkerConfig struct {
	URL              string        `json:"url"`
	Token            string        `json:"-"` // from env AG3NT_WORKER_TOKEN only
	RequestTimeout   time.Duration `json:"request_timeout"`
	MaxReconnects    int           `json:"max_reconnects"`
	ReconnectBase    time.Duration `json:"reconnect_base"`
	ReconnectMax     time.Duration `json:"reconnect_max"`
}

// UsageConfig configures the bounded usage/cost tracker.
type UsageConfig struct {
	MaxRecords int `json:"max_records"`
}

// DatabaseConfig selects the optional persistent sessions.Store/MessageLog
// backend. The core only depends on those injected interfaces; this
// selects which concrete adapter (in-process/pg/sqlite) main wires up.
type DatabaseConfig struct {
	Mode        string `json:"mode"` // "memory" (default), "postgres", "sqlite"
	PostgresDSN string `json:"-"`    // from env AG3NT_POSTGRES_DSN only
	SQLitePath  string `json:"sqlite_path,omitempty"`
}

// TelemetryConfig configures the optional OTLP trace exporter. Empty
// OTLPEndpoint leaves tracing disabled.
type TelemetryConfig struct {
	OTLPEndpoint string `json:"otlp_endpoint,omitempty"`
	OTLPProtocol string `json:"otlp_protocol,omitempty"` // "grpc" (default) | "http"
}

// Hash returns a short SHA-256-derived fingerprint of the config, useful
// for optimistic-concurrency checks when reloading.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum[:8])
}

// ReplaceFrom atomically swaps the receiver's fields with src's, preserving
// the receiver's own mutex so concurrent readers never observe a torn value.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	src.mu.RLock()
	defer src.mu.RUnlock()

	c.Gateway = src.Gateway
	c.Sessions = src.Sessions
	c.Nodes = src.Nodes
	c.Worker = src.Worker
	c.Usage = src.Usage
	c.Database = src.Database
	c.Telemetry = src.Telemetry
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
