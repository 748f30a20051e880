package config

import (
	"fmt"
	"net/url"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	oneOf := func(path, value string, valid []string) {
		if value != "" && !slices.Contains(valid, value) {
			issues = append(issues, ValidationIssue{
				Path:    path,
				Message: fmt.Sprintf("must be one of %v, got %q", valid, value),
			})
		}
	}
	nonNegative := func(path string, v int) {
		if v < 0 {
			issues = append(issues, ValidationIssue{
				Path:    path,
				Message: fmt.Sprintf("must not be negative, got %d", v),
			})
		}
	}

	oneOf("role", cfg.Role, []string{RoleDashboard, RoleWidget})

	// Channel validation
	oneOf("channel.transport", cfg.Channel.Transport, []string{"websocket", "nats"})
	if cfg.Channel.Transport == "websocket" || cfg.Channel.Transport == "" {
		if u, err := url.Parse(cfg.Channel.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			issues = append(issues, ValidationIssue{
				Path:    "channel.url",
				Message: fmt.Sprintf("must be a ws:// or wss:// URL, got %q", cfg.Channel.URL),
			})
		}
	}
	if cfg.Channel.Transport == "nats" && len(cfg.Channel.NATS.Servers) == 0 {
		issues = append(issues, ValidationIssue{
			Path:    "channel.nats.servers",
			Message: "at least one server is required",
		})
	}
	nonNegative("channel.reconnect.initialMs", cfg.Channel.Reconnect.InitialMs)
	nonNegative("channel.reconnect.maxMs", cfg.Channel.Reconnect.MaxMs)
	if cfg.Channel.Reconnect.MaxMs > 0 && cfg.Channel.Reconnect.InitialMs > cfg.Channel.Reconnect.MaxMs {
		issues = append(issues, ValidationIssue{
			Path:    "channel.reconnect.initialMs",
			Message: "must not exceed maxMs",
		})
	}

	// API validation
	if cfg.API.BaseURL != "" {
		if u, err := url.Parse(cfg.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			issues = append(issues, ValidationIssue{
				Path:    "api.baseUrl",
				Message: fmt.Sprintf("must be an http:// or https:// URL, got %q", cfg.API.BaseURL),
			})
		}
	}
	nonNegative("api.timeoutMs", cfg.API.TimeoutMs)

	// Store validation
	oneOf("store.backend", cfg.Store.Backend, []string{"sqlite", "redis", "memory"})
	if cfg.Store.Backend == "redis" && cfg.Store.Redis.Addr == "" {
		issues = append(issues, ValidationIssue{
			Path:    "store.redis.addr",
			Message: "required when store.backend is redis",
		})
	}

	// Engine validation
	nonNegative("engine.settleDelayMs", cfg.Engine.SettleDelayMs)
	nonNegative("engine.typingWindowMs", cfg.Engine.TypingWindowMs)
	nonNegative("engine.typingQuietMs", cfg.Engine.TypingQuietMs)
	nonNegative("engine.actionTimeoutMs", cfg.Engine.ActionTimeoutMs)
	nonNegative("engine.historyLimit", cfg.Engine.HistoryLimit)

	// Relay validation
	if cfg.Relay.Port < 0 || cfg.Relay.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "relay.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Relay.Port),
		})
	}
	oneOf("relay.bind", cfg.Relay.Bind, []string{"auto", "lan", "loopback", "custom"})
	if cfg.Relay.Bind == "custom" && cfg.Relay.CustomBindHost == "" {
		issues = append(issues, ValidationIssue{
			Path:    "relay.customBindHost",
			Message: "required when relay.bind is custom",
		})
	}

	// Logging validation
	oneOf("logging.level", cfg.Logging.Level, []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"})
	oneOf("logging.consoleStyle", cfg.Logging.ConsoleStyle, []string{"pretty", "compact", "json"})

	return issues
}
