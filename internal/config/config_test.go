package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tradeterm.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfigFile(t, `
log_level = "debug"

[broker]
addr = "10.0.0.5:11099"
username = "desk"
password = "secret"
live_account = "Acct1"

[session]
debounce_window = "500ms"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.5:11099", cfg.Broker.Addr)
	assert.Equal(t, "Acct1", cfg.Broker.LiveAccount)
	assert.Equal(t, 500*time.Millisecond, cfg.Session.DebounceWindow.Duration)
	// Untouched fields keep their defaults.
	assert.Equal(t, 2, cfg.Session.DebounceQuorum)
	assert.Equal(t, 100*time.Millisecond, cfg.Session.FlushInterval.Duration)
	assert.Equal(t, 10_000.0, cfg.Session.SimStartingBalance)
}

func TestEnvOverridesWin(t *testing.T) {
	path := writeConfigFile(t, `
[broker]
addr = "10.0.0.5:11099"
username = "desk"
live_account = "Acct1"
`)

	t.Setenv("TRADETERM_BROKER_LIVE_ACCOUNT", "Acct9")
	t.Setenv("TRADETERM_SESSION_DEBOUNCE_QUORUM", "3")
	t.Setenv("TRADETERM_SESSION_DEBOUNCE_WINDOW", "1s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Acct9", cfg.Broker.LiveAccount)
	assert.Equal(t, 3, cfg.Session.DebounceQuorum)
	assert.Equal(t, time.Second, cfg.Session.DebounceWindow.Duration)
}

func TestValidateAcceptsDefaultsWithCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Broker.Username = "desk"
	cfg.Broker.Password = "secret"

	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsMissingCredentials(t *testing.T) {
	cfg := Defaults()

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker")
}

func TestValidateRejectsBadSessionTunables(t *testing.T) {
	cfg := Defaults()
	cfg.Broker.Username = "desk"
	cfg.Session.DebounceQuorum = 0
	cfg.Session.DebounceWindow = duration{}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "debounce_quorum")
	assert.Contains(t, err.Error(), "debounce_window")
}

func TestValidateS3RequiresPostgres(t *testing.T) {
	cfg := Defaults()
	cfg.Broker.Username = "desk"
	cfg.S3.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires postgres")
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Broker.Password = "hunter2"
	cfg.Server.APIKey = "panel-key"
	cfg.Redis.Password = "redis-pass"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Broker.Password)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Equal(t, "***", red.Redis.Password)
	// Original is untouched.
	assert.Equal(t, "hunter2", cfg.Broker.Password)
}
