// Package config loads the daemon's runtime configuration from
// config.toml, with environment overrides applied after parse.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultIgnoredDirectories holds the same names as identity's default
// boundary-walk reset list (spec §4.1). config.toml's [identity] table can
// replace it in Config, but internal/identity walks with its own
// IgnoredDirectories list and does not read this setting.
var DefaultIgnoredDirectories = []string{
	"node_modules", "vendor", ".git", "target", "dist", "build", ".venv",
	"venv", "env", ".turbo", ".cache", ".next", ".output", "__pycache__",
}

// Config is the daemon's full runtime configuration.
type Config struct {
	Socket   SocketConfig   `toml:"socket"`
	Identity IdentityConfig `toml:"identity"`
	Tombstone TombstoneConfig `toml:"tombstone"`
	ARE      AREConfig      `toml:"are"`
	Backoff  BackoffConfig  `toml:"backoff"`
}

type SocketConfig struct {
	Path           string        `toml:"path"`
	MaxConnections int           `toml:"max_connections"`
	MaxRequestBytes int64        `toml:"max_request_bytes"`
	ReadDeadline   time.Duration `toml:"-"`
	ReadDeadlineMS int           `toml:"read_deadline_ms"`
	WriteDeadline  time.Duration `toml:"-"`
	WriteDeadlineMS int          `toml:"write_deadline_ms"`
}

type IdentityConfig struct {
	IgnoredDirectories []string `toml:"ignored_directories"`
}

type TombstoneConfig struct {
	TTLSeconds int `toml:"ttl_seconds"`
}

type AREConfig struct {
	PollIntervalSeconds int  `toml:"poll_interval_seconds"`
	PreferTmux          bool `toml:"prefer_tmux"`
}

type BackoffConfig struct {
	WindowSeconds int `toml:"window_seconds"`
	StepSeconds   int `toml:"step_seconds"`
	MaxSeconds    int `toml:"max_seconds"`
}

// Default returns the configuration the daemon uses when no config.toml
// is present.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Socket: SocketConfig{
			Path:            filepath.Join(home, ".capacitor", "daemon.sock"),
			MaxConnections:  64,
			MaxRequestBytes: 1 << 20,
			ReadDeadlineMS:  2000,
			WriteDeadlineMS: 150,
		},
		Identity: IdentityConfig{
			IgnoredDirectories: DefaultIgnoredDirectories,
		},
		Tombstone: TombstoneConfig{TTLSeconds: 60},
		ARE: AREConfig{
			PollIntervalSeconds: 2,
			PreferTmux:          true,
		},
		Backoff: BackoffConfig{
			WindowSeconds: 120,
			StepSeconds:   10,
			MaxSeconds:    60,
		},
	}
}

// Load reads path (typically $HOME/.capacitor/config.toml), falling back
// to Default() fields for anything unset, then applies environment
// overrides. A missing file is not an error — it just means every field
// takes its default.
func Load(path string) (Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	normalizeDeadlines(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DAEMON_SOCKET"); v != "" {
		cfg.Socket.Path = v
	}
	if v := os.Getenv("DAEMON_ENABLED"); v == "false" || v == "0" {
		cfg.Socket.Path = ""
	}
}

func normalizeDeadlines(cfg *Config) {
	if cfg.Socket.ReadDeadlineMS <= 0 {
		cfg.Socket.ReadDeadlineMS = 2000
	}
	if cfg.Socket.WriteDeadlineMS <= 0 {
		cfg.Socket.WriteDeadlineMS = 150
	}
	cfg.Socket.ReadDeadline = time.Duration(cfg.Socket.ReadDeadlineMS) * time.Millisecond
	cfg.Socket.WriteDeadline = time.Duration(cfg.Socket.WriteDeadlineMS) * time.Millisecond
}

// Enabled reports whether the daemon should bind its socket at all —
// DAEMON_ENABLED=false disables it entirely, e.g. in CI.
func (c Config) Enabled() bool { return c.Socket.Path != "" }
