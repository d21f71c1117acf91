// Package config resolves igpost configuration from the four-layer
// override chain: built-in defaults, TOML config file, environment
// variables, CLI flags. Later layers win.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults.
const (
	DefaultSessionFile = "session.json"
	DefaultSecretsFile = ".igpost-secrets.toml"
	DefaultHistoryDB   = "igpost.db"
	DefaultListenAddr  = ":8080"
	DefaultLogLevel    = "info"

	// Default pre-request delay range. Matches the pacing a human-driven
	// client shows the platform.
	DefaultDelayMinSeconds = 1.0
	DefaultDelayMaxSeconds = 3.0
)

// Environment variable names for overrides.
const (
	EnvConfig      = "IGPOST_CONFIG"
	EnvSessionFile = "IGPOST_SESSION_FILE"
	EnvListenAddr  = "IGPOST_LISTEN_ADDR"
)

// Config is the TOML config file schema.
type Config struct {
	SessionFile     string  `toml:"session_file"`
	SecretsFile     string  `toml:"secrets_file"`
	HistoryDB       string  `toml:"history_db"`
	BaseURL         string  `toml:"base_url"`
	DelayMinSeconds float64 `toml:"delay_min_seconds"`
	DelayMaxSeconds float64 `toml:"delay_max_seconds"`
	ListenAddr      string  `toml:"listen_addr"`
	WatchDir        string  `toml:"watch_dir"`
	LogLevel        string  `toml:"log_level"`
}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		SessionFile:     DefaultSessionFile,
		SecretsFile:     DefaultSecretsFile,
		HistoryDB:       DefaultHistoryDB,
		DelayMinSeconds: DefaultDelayMinSeconds,
		DelayMaxSeconds: DefaultDelayMaxSeconds,
		ListenAddr:      DefaultListenAddr,
		LogLevel:        DefaultLogLevel,
	}
}

// Load reads and parses a TOML config file. Unknown keys are fatal —
// silently ignoring a typo in a config file leads to hard-to-debug
// behavior.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}

		return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// all defaults. Supports the zero-config first run.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

func validate(cfg *Config) error {
	if cfg.DelayMinSeconds < 0 || cfg.DelayMaxSeconds < 0 {
		return fmt.Errorf("delay range must not be negative")
	}

	if cfg.DelayMaxSeconds < cfg.DelayMinSeconds {
		return fmt.Errorf("delay_max_seconds (%v) below delay_min_seconds (%v)",
			cfg.DelayMaxSeconds, cfg.DelayMinSeconds)
	}

	switch cfg.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", cfg.LogLevel)
	}

	return nil
}

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath  string
	SessionFile string
	ListenAddr  string
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:  os.Getenv(EnvConfig),
		SessionFile: os.Getenv(EnvSessionFile),
		ListenAddr:  os.Getenv(EnvListenAddr),
	}
}

// CLIOverrides holds values from command-line flags. Empty fields mean
// the flag was not set.
type CLIOverrides struct {
	ConfigPath  string
	SessionFile string
	ListenAddr  string
	WatchDir    string
}

// Resolved is the effective configuration after all layers are applied.
type Resolved struct {
	Config

	// ConfigPath is the file the values were loaded from, or the default
	// location when no file exists.
	ConfigPath string
}

// DelayRange returns the pre-request delay bounds as durations.
func (r *Resolved) DelayRange() (time.Duration, time.Duration) {
	return time.Duration(r.DelayMinSeconds * float64(time.Second)),
		time.Duration(r.DelayMaxSeconds * float64(time.Second))
}

// Resolve applies the override chain and returns the effective
// configuration.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	// Config path: CLI > env > default location.
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	resolved := &Resolved{Config: *cfg, ConfigPath: cfgPath}

	if env.SessionFile != "" {
		resolved.SessionFile = env.SessionFile
	}

	if env.ListenAddr != "" {
		resolved.ListenAddr = env.ListenAddr
	}

	if cli.SessionFile != "" {
		resolved.SessionFile = cli.SessionFile
	}

	if cli.ListenAddr != "" {
		resolved.ListenAddr = cli.ListenAddr
	}

	if cli.WatchDir != "" {
		resolved.WatchDir = cli.WatchDir
	}

	return resolved, nil
}

// DefaultConfigPath returns the default config file location:
// $XDG_CONFIG_HOME/igpost/config.toml, falling back to
// ~/.config/igpost/config.toml.
func DefaultConfigPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "config.toml"
		}

		base = filepath.Join(home, ".config")
	}

	return filepath.Join(base, "igpost", "config.toml")
}
