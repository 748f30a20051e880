package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Roles.
const (
	RoleDashboard = "dashboard"
	RoleWidget    = "widget"
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Role:    RoleDashboard,
		Profile: "default",
		Channel: ChannelConfig{
			Transport: "websocket",
			URL:       "ws://127.0.0.1:18790/ws",
			NATS: NATSConfig{
				Servers:       []string{"nats://127.0.0.1:4222"},
				SubjectPrefix: "supportsync",
			},
			Reconnect: ReconnectConfig{InitialMs: 500, MaxMs: 30000},
		},
		API: APIConfig{
			BaseURL:   "http://127.0.0.1:5000/messenger/api",
			TimeoutMs: 15000,
		},
		Store: StoreConfig{
			Backend: "sqlite",
			Redis:   RedisConfig{Addr: "127.0.0.1:6379"},
		},
		Engine: EngineConfig{
			StaffRoom:       "admins",
			SettleDelayMs:   1000,
			TypingWindowMs:  3000,
			TypingQuietMs:   1000,
			ActionTimeoutMs: 10000,
			HistoryLimit:    100,
		},
		Relay: RelayConfig{
			Port: 18790,
			Bind: "loopback",
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
	}
}
