package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, RoleDashboard, cfg.Role)
	assert.Equal(t, "default", cfg.Profile)
	assert.Equal(t, "websocket", cfg.Channel.Transport)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "admins", cfg.Engine.StaffRoom)
	assert.Equal(t, 100, cfg.Engine.HistoryLimit)
	assert.Equal(t, 18790, cfg.Relay.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestEngineDurations(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, time.Second, cfg.Engine.SettleDelay())
	assert.Equal(t, 3*time.Second, cfg.Engine.TypingWindow())
	assert.Equal(t, time.Second, cfg.Engine.TypingQuiet())
	assert.Equal(t, 10*time.Second, cfg.Engine.ActionTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.Channel.Reconnect.Initial())
	assert.Equal(t, 30*time.Second, cfg.Channel.Reconnect.Max())
	assert.Equal(t, 15*time.Second, cfg.API.Timeout())
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	// Should return defaults
	assert.Equal(t, 18790, cfg.Relay.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
role: widget
profile: shop-eu
agentId: "7"
channel:
  transport: nats
  nats:
    servers:
      - nats://10.0.0.5:4222
store:
  backend: redis
  redis:
    addr: 10.0.0.6:6379
    db: 2
engine:
  typingWindowMs: 5000
logging:
  level: debug
  consoleStyle: json
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, RoleWidget, cfg.Role)
	assert.Equal(t, "shop-eu", cfg.Profile)
	assert.Equal(t, "7", cfg.AgentID)
	assert.Equal(t, "nats", cfg.Channel.Transport)
	assert.Equal(t, []string{"nats://10.0.0.5:4222"}, cfg.Channel.NATS.Servers)
	assert.Equal(t, "supportsync", cfg.Channel.NATS.SubjectPrefix, "unset fields in a section keep defaults")
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, 2, cfg.Store.Redis.DB)
	assert.Equal(t, 5000, cfg.Engine.TypingWindowMs)
	assert.Equal(t, 1000, cfg.Engine.SettleDelayMs)
	assert.Equal(t, "admins", cfg.Engine.StaffRoom)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.ConsoleStyle)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{invalid yaml"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
	var ce *ConfigError
	assert.ErrorAs(t, err, &ce)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SUPPORTSYNC_RELAY_PORT", "12345")
	t.Setenv("SUPPORTSYNC_LOG_LEVEL", "TRACE")
	t.Setenv("SUPPORTSYNC_ROLE", "Widget")
	t.Setenv("SUPPORTSYNC_STORE", "memory")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 12345, cfg.Relay.Port)
	assert.Equal(t, "trace", cfg.Logging.Level)
	assert.Equal(t, RoleWidget, cfg.Role)
	assert.Equal(t, "memory", cfg.Store.Backend)
}

func TestLoadExpandsSecrets(t *testing.T) {
	t.Setenv("SS_TEST_TOKEN", "tok-123")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
channel:
  token: ${SS_TEST_TOKEN}
api:
  token: ${SS_TEST_UNSET_VAR}
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", cfg.Channel.Token)
	assert.Equal(t, "${SS_TEST_UNSET_VAR}", cfg.API.Token, "unset variables are left as-is")
}

func TestLoadRawAndSaveRaw(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	raw := map[string]any{
		"engine": map[string]any{
			"settleDelayMs": 2500,
		},
	}

	require.NoError(t, SaveRaw(path, raw))

	loaded, err := LoadRaw(path)
	require.NoError(t, err)

	val, ok := GetValueAtPath(loaded, []string{"engine", "settleDelayMs"})
	assert.True(t, ok)
	assert.Equal(t, 2500, val)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2500*time.Millisecond, cfg.Engine.SettleDelay())
}

func TestLoadRawMissingFile(t *testing.T) {
	raw, err := LoadRaw(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestParseRawAppliesDefaults(t *testing.T) {
	cfg, err := ParseRaw(map[string]any{
		"role":  "widget",
		"store": map[string]any{"backend": "memory"},
	})
	require.NoError(t, err)
	assert.Equal(t, RoleWidget, cfg.Role)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "127.0.0.1:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, 18790, cfg.Relay.Port)
}

func TestParseIgnoresEnv(t *testing.T) {
	t.Setenv("SUPPORTSYNC_ROLE", "widget")
	cfg, err := Parse([]byte("profile: eu\n"))
	require.NoError(t, err)
	assert.Equal(t, RoleDashboard, cfg.Role)
	assert.Equal(t, "eu", cfg.Profile)
}

func TestIsEnvRef(t *testing.T) {
	assert.True(t, IsEnvRef("${API_TOKEN}"))
	assert.False(t, IsEnvRef("prefix-${API_TOKEN}"))
	assert.False(t, IsEnvRef("${API_TOKEN}x"))
	assert.False(t, IsEnvRef("plain"))
	assert.False(t, IsEnvRef(""))
}
