// ABOUTME: Configuration loading and parsing for tavern-bridge
// ABOUTME: Supports TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full bridge configuration.
type Config struct {
	Matrix    MatrixConfig    `toml:"matrix"`
	Companion CompanionConfig `toml:"companion"`
	Bridge    BridgeConfig    `toml:"bridge"`
	Logging   LoggingConfig   `toml:"logging"`
}

// MatrixConfig holds homeserver credentials.
type MatrixConfig struct {
	Homeserver  string `toml:"homeserver"`
	UserID      string `toml:"user_id"`
	AccessToken string `toml:"access_token"`
}

// CompanionConfig holds the companion WebSocket listener settings.
type CompanionConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// BridgeConfig holds relay behavior settings.
type BridgeConfig struct {
	AllowedRooms  []string `toml:"allowed_rooms"`
	CommandPrefix string   `toml:"command_prefix"`
	Freshness     Duration `toml:"freshness_window"`
	LedgerPath    string   `toml:"ledger_path"`
}

// LoggingConfig holds log settings.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// Duration wraps time.Duration for TOML strings like "10s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

// Load reads config from the given path, expanding ${VAR} environment
// references, applying defaults, and validating.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if _, err := toml.Decode(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Companion.ListenAddr == "" {
		c.Companion.ListenAddr = "localhost:8080"
	}
	if c.Bridge.CommandPrefix == "" {
		c.Bridge.CommandPrefix = "!"
	}
	if c.Bridge.Freshness.Duration == 0 {
		c.Bridge.Freshness.Duration = 10 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that required fields are present and well formed.
func (c *Config) Validate() error {
	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	u, err := url.Parse(c.Matrix.Homeserver)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("matrix.homeserver must be an http(s) URL")
	}
	if c.Matrix.UserID == "" {
		return fmt.Errorf("matrix.user_id is required")
	}
	if c.Matrix.AccessToken == "" {
		return fmt.Errorf("matrix.access_token is required")
	}
	if c.Bridge.Freshness.Duration < 0 {
		return fmt.Errorf("bridge.freshness_window must not be negative")
	}
	return nil
}
