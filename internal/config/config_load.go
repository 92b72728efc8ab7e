package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/titanous/json5"
)

const DefaultAgentID = "default"

// Default returns a Config with sensible defaults, matching the values a
// fresh gateway would use with no config file present.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:             "0.0.0.0",
			Port:             18790,
			MaxMessageChars:  32000,
			APIRateLimitRPM:  100,
			ChatRateLimitRPM: 30,
		},
		Sessions: SessionsConfig{
			DMPolicy:        "pairing",
			PairingCodeTTL:  10 * time.Minute,
			AllowlistPath:   "~/.ag3nt/allowlist.json",
			SessionTimeout:  24 * time.Hour,
			CleanupInterval: time.Hour,
		},
		Nodes: NodesConfig{
			HeartbeatInterval: 30 * time.Second,
			HeartbeatTimeout:  90 * time.Second,
			ActionTimeout:     30 * time.Second,
			PairingCodeTTL:    5 * time.Minute,
		},
		Worker: WorkerConfig{
			URL:            "ws://127.0.0.1:8765/ws",
			RequestTimeout: 60 * time.Second,
			MaxReconnects:  10,
			ReconnectBase:  100 * time.Millisecond,
			ReconnectMax:   30 * time.Second,
		},
		Usage: UsageConfig{
			MaxRecords: 10000,
		},
		Database: DatabaseConfig{
			Mode: "memory",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error — it yields Default() with env overrides applied,
// matching the teacher's first-run behavior.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values and are the only way to set secrets.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("AG3NT_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("AG3NT_WORKER_TOKEN", &c.Worker.Token)
	envStr("AG3NT_WORKER_URL", &c.Worker.URL)
	envStr("AG3NT_ALLOWLIST_PATH", &c.Sessions.AllowlistPath)
	envStr("AG3NT_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("AG3NT_MODE", &c.Database.Mode)

	envStr("AG3NT_HOST", &c.Gateway.Host)
	if v := os.Getenv("AG3NT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	if v := os.Getenv("AG3NT_OWNER_IDS"); v != "" {
		c.Gateway.OwnerIDs = strings.Split(v, ",")
	}

	if v := os.Getenv("AG3NT_DM_POLICY"); v != "" {
		c.Sessions.DMPolicy = v
	}
}

// ApplyEnvOverrides re-applies environment variable overrides onto the
// config. Call this after reloading from disk to restore runtime secrets.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
}

// ExpandHome replaces a leading "~" with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}

// ensureDir creates the parent directory of path if it doesn't exist.
func ensureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
