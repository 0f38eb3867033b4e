package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
actor: "npub1sender"
relays:
  - "wss://relay-a.example"
  - "ws://localhost:7447"
archive: "/tmp/packrelay/facts.db"
log_level: "debug"
timeouts:
  connect: "2s"
  query: "10s"
policy:
  auto_approve: true
  confirm_grace: "48h"
`

func TestParseValidConfig(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	assert.Equal(t, "npub1sender", cfg.Actor)
	assert.Equal(t, []string{"wss://relay-a.example", "ws://localhost:7447"}, cfg.Relays)
	assert.Equal(t, "/tmp/packrelay/facts.db", cfg.Archive)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())

	assert.Equal(t, 2*time.Second, cfg.Timeouts.Connect.Std())
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Query.Std())
	// Unset timeout keeps its default.
	assert.Equal(t, 500*time.Millisecond, cfg.Timeouts.Settle.Std())

	p := cfg.PolicyConfig()
	assert.True(t, p.AutoApprove)
	assert.True(t, p.AutoInvoice)
	assert.Equal(t, 48*time.Hour, p.ConfirmGrace)
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("actor: \"a\"\nrelays: [\"wss://r.example\"]\n"))
	require.NoError(t, err)

	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
	assert.Equal(t, 4*time.Second, cfg.Timeouts.Connect.Std())
	assert.Equal(t, 6*time.Second, cfg.Timeouts.Query.Std())
	p := cfg.PolicyConfig()
	assert.False(t, p.AutoApprove)
	assert.True(t, p.AutoInvoice)
	assert.True(t, p.AutoConfirm)
	assert.Equal(t, 72*time.Hour, p.ConfirmGrace)
	assert.True(t, p.AutoExpire)
}

func TestParseRejectsUnknownKey(t *testing.T) {
	_, err := Parse([]byte("actor: \"a\"\nrelays: [\"wss://r\"]\nrelay_timeout: \"4s\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay_timeout")
}

func TestParseRejectsMissingActor(t *testing.T) {
	_, err := Parse([]byte("relays: [\"wss://r\"]\n"))
	require.Error(t, err)
}

func TestParseRejectsEmptyRelays(t *testing.T) {
	_, err := Parse([]byte("actor: \"a\"\nrelays: []\n"))
	require.Error(t, err)
}

func TestParseRejectsBadRelayScheme(t *testing.T) {
	_, err := Parse([]byte("actor: \"a\"\nrelays: [\"https://r.example\"]\n"))
	require.Error(t, err)
}

func TestParseRejectsBadDuration(t *testing.T) {
	_, err := Parse([]byte("actor: \"a\"\nrelays: [\"wss://r\"]\ntimeouts:\n  query: \"soon\"\n"))
	require.Error(t, err)
}

func TestParseRejectsBadLogLevel(t *testing.T) {
	_, err := Parse([]byte("actor: \"a\"\nrelays: [\"wss://r\"]\nlog_level: \"chatty\"\n"))
	require.Error(t, err)
}

func TestParseRejectsBadWalletScheme(t *testing.T) {
	_, err := Parse([]byte("actor: \"a\"\nrelays: [\"wss://r\"]\nwallet_url: \"http://w\"\n"))
	require.Error(t, err)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "npub1sender", cfg.Actor)

	_, err = Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	cfg, err := Parse([]byte("actor: \"a\"\nrelays: [\"wss://r\"]\narchive: \"~/facts.db\"\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "facts.db"), cfg.Archive)
}
