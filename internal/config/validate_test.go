package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_ValidDefaults(t *testing.T) {
	cfg := Defaults()
	issues := Validate(&cfg)
	assert.Empty(t, issues)
}

func issuePaths(issues []ValidationIssue) []string {
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.Path
	}
	return out
}

func TestValidate_Enums(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		path   string
	}{
		{"role", func(c *Config) { c.Role = "operator" }, "role"},
		{"transport", func(c *Config) { c.Channel.Transport = "mqtt" }, "channel.transport"},
		{"store backend", func(c *Config) { c.Store.Backend = "etcd" }, "store.backend"},
		{"relay bind", func(c *Config) { c.Relay.Bind = "tailnet" }, "relay.bind"},
		{"log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"console style", func(c *Config) { c.Logging.ConsoleStyle = "fancy" }, "logging.consoleStyle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			issues := Validate(&cfg)
			assert.Contains(t, issuePaths(issues), tt.path)
		})
	}
}

func TestValidate_ValidRoles(t *testing.T) {
	for _, role := range []string{RoleDashboard, RoleWidget} {
		cfg := Defaults()
		cfg.Role = role
		assert.Empty(t, Validate(&cfg), "role %q should be valid", role)
	}
}

func TestValidate_ChannelURL(t *testing.T) {
	cfg := Defaults()
	cfg.Channel.URL = "http://example.com/ws"
	assert.Contains(t, issuePaths(Validate(&cfg)), "channel.url")

	cfg.Channel.URL = "wss://example.com/ws"
	assert.Empty(t, Validate(&cfg))

	// URL is not checked for the NATS transport
	cfg.Channel.URL = ""
	cfg.Channel.Transport = "nats"
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_NATSNeedsServers(t *testing.T) {
	cfg := Defaults()
	cfg.Channel.Transport = "nats"
	cfg.Channel.NATS.Servers = nil
	assert.Contains(t, issuePaths(Validate(&cfg)), "channel.nats.servers")
}

func TestValidate_ReconnectBounds(t *testing.T) {
	cfg := Defaults()
	cfg.Channel.Reconnect.InitialMs = 60000
	assert.Contains(t, issuePaths(Validate(&cfg)), "channel.reconnect.initialMs")

	cfg = Defaults()
	cfg.Channel.Reconnect.MaxMs = -1
	assert.Contains(t, issuePaths(Validate(&cfg)), "channel.reconnect.maxMs")
}

func TestValidate_APIBaseURL(t *testing.T) {
	cfg := Defaults()
	cfg.API.BaseURL = "ftp://example.com"
	assert.Contains(t, issuePaths(Validate(&cfg)), "api.baseUrl")
}

func TestValidate_RedisNeedsAddr(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Backend = "redis"
	cfg.Store.Redis.Addr = ""
	assert.Contains(t, issuePaths(Validate(&cfg)), "store.redis.addr")
}

func TestValidate_NegativeTimings(t *testing.T) {
	cfg := Defaults()
	cfg.Engine.TypingWindowMs = -5
	cfg.Engine.HistoryLimit = -1
	paths := issuePaths(Validate(&cfg))
	assert.Contains(t, paths, "engine.typingWindowMs")
	assert.Contains(t, paths, "engine.historyLimit")
}

func TestValidate_RelayPort(t *testing.T) {
	tests := []struct {
		port  int
		valid bool
	}{
		{0, true},
		{18790, true},
		{65535, true},
		{-1, false},
		{70000, false},
	}
	for _, tt := range tests {
		cfg := Defaults()
		cfg.Relay.Port = tt.port
		issues := Validate(&cfg)
		if tt.valid {
			assert.Empty(t, issues, "port %d", tt.port)
		} else {
			assert.Contains(t, issuePaths(issues), "relay.port", "port %d", tt.port)
		}
	}
}

func TestValidate_CustomBindNeedsHost(t *testing.T) {
	cfg := Defaults()
	cfg.Relay.Bind = "custom"
	assert.Contains(t, issuePaths(Validate(&cfg)), "relay.customBindHost")

	cfg.Relay.CustomBindHost = "10.1.2.3"
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_MultipleIssues(t *testing.T) {
	cfg := Defaults()
	cfg.Role = "bad"
	cfg.Relay.Port = -1
	cfg.Logging.Level = "bad"
	issues := Validate(&cfg)
	assert.Len(t, issues, 3)
}

func TestValidationIssueString(t *testing.T) {
	issue := ValidationIssue{Path: "relay.port", Message: "bad port"}
	assert.Equal(t, "relay.port: bad port", issue.String())
}
