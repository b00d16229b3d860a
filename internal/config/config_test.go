// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers TOML loading, env var expansion, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
[matrix]
homeserver = "https://matrix.example.org"
user_id = "@tavern:example.org"
access_token = "syt_secret"
`

func TestLoad_Minimal(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "https://matrix.example.org", cfg.Matrix.Homeserver)
	assert.Equal(t, "@tavern:example.org", cfg.Matrix.UserID)

	// Defaults applied.
	assert.Equal(t, "localhost:8080", cfg.Companion.ListenAddr)
	assert.Equal(t, "!", cfg.Bridge.CommandPrefix)
	assert.Equal(t, 10*time.Second, cfg.Bridge.Freshness.Duration)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_FullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
[companion]
listen_addr = "127.0.0.1:9100"

[bridge]
allowed_rooms = ["!abc:example.org"]
command_prefix = "~"
freshness_window = "30s"
ledger_path = "/tmp/ledger.json"

[logging]
level = "debug"
`))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9100", cfg.Companion.ListenAddr)
	assert.Equal(t, []string{"!abc:example.org"}, cfg.Bridge.AllowedRooms)
	assert.Equal(t, "~", cfg.Bridge.CommandPrefix)
	assert.Equal(t, 30*time.Second, cfg.Bridge.Freshness.Duration)
	assert.Equal(t, "/tmp/ledger.json", cfg.Bridge.LedgerPath)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TAVERN_TEST_TOKEN", "syt_expanded")
	cfg, err := Load(writeConfig(t, `
[matrix]
homeserver = "https://matrix.example.org"
user_id = "@tavern:example.org"
access_token = "${TAVERN_TEST_TOKEN}"
`))
	require.NoError(t, err)
	assert.Equal(t, "syt_expanded", cfg.Matrix.AccessToken)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoad_BadTOML(t *testing.T) {
	_, err := Load(writeConfig(t, "[matrix\nbroken"))
	assert.Error(t, err)
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		config string
	}{
		{"missing homeserver", `
[matrix]
user_id = "@t:e.org"
access_token = "x"
`},
		{"bad homeserver scheme", `
[matrix]
homeserver = "ftp://matrix.example.org"
user_id = "@t:e.org"
access_token = "x"
`},
		{"missing user_id", `
[matrix]
homeserver = "https://matrix.example.org"
access_token = "x"
`},
		{"missing access_token", `
[matrix]
homeserver = "https://matrix.example.org"
user_id = "@t:e.org"
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.config))
			assert.Error(t, err)
		})
	}
}

func TestLoad_BadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
[bridge]
freshness_window = "soon"
`))
	assert.Error(t, err)
}
