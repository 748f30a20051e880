package config

import "time"

// Config is the root configuration for a supportsync client or relay.
type Config struct {
	Role    string        `yaml:"role,omitempty"`    // "dashboard" | "widget"
	Profile string        `yaml:"profile,omitempty"` // namespaces persisted keys
	AgentID string        `yaml:"agentId,omitempty"` // current staff member, used by the "mine" filter
	Channel ChannelConfig `yaml:"channel,omitempty"`
	API     APIConfig     `yaml:"api,omitempty"`
	Store   StoreConfig   `yaml:"store,omitempty"`
	Engine  EngineConfig  `yaml:"engine,omitempty"`
	Relay   RelayConfig   `yaml:"relay,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
}

// ChannelConfig selects and configures the pub/sub transport.
type ChannelConfig struct {
	Transport string          `yaml:"transport,omitempty"` // "websocket" | "nats"
	URL       string          `yaml:"url,omitempty"`
	Token     string          `yaml:"token,omitempty"`
	NATS      NATSConfig      `yaml:"nats,omitempty"`
	Reconnect ReconnectConfig `yaml:"reconnect,omitempty"`
}

// NATSConfig configures the NATS transport.
type NATSConfig struct {
	Servers       []string `yaml:"servers,omitempty"`
	SubjectPrefix string   `yaml:"subjectPrefix,omitempty"`
}

// ReconnectConfig bounds the adapter's exponential backoff.
type ReconnectConfig struct {
	InitialMs int `yaml:"initialMs,omitempty"`
	MaxMs     int `yaml:"maxMs,omitempty"`
}

// Initial returns the first retry interval.
func (r ReconnectConfig) Initial() time.Duration { return ms(r.InitialMs) }

// Max returns the retry interval ceiling.
func (r ReconnectConfig) Max() time.Duration { return ms(r.MaxMs) }

// APIConfig points at the request/response API.
type APIConfig struct {
	BaseURL   string `yaml:"baseUrl,omitempty"`
	Token     string `yaml:"token,omitempty"`
	TimeoutMs int    `yaml:"timeoutMs,omitempty"`
}

// Timeout returns the per-request timeout.
func (a APIConfig) Timeout() time.Duration { return ms(a.TimeoutMs) }

// StoreConfig selects the durability backend.
type StoreConfig struct {
	Backend string      `yaml:"backend,omitempty"` // "sqlite" | "redis" | "memory"
	Path    string      `yaml:"path,omitempty"`
	Redis   RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// EngineConfig holds the reconciliation engine's timings and limits.
type EngineConfig struct {
	StaffRoom       string `yaml:"staffRoom,omitempty"`
	SettleDelayMs   int    `yaml:"settleDelayMs,omitempty"`
	TypingWindowMs  int    `yaml:"typingWindowMs,omitempty"`
	TypingQuietMs   int    `yaml:"typingQuietMs,omitempty"`
	ActionTimeoutMs int    `yaml:"actionTimeoutMs,omitempty"`
	HistoryLimit    int    `yaml:"historyLimit,omitempty"`
}

func (e EngineConfig) SettleDelay() time.Duration   { return ms(e.SettleDelayMs) }
func (e EngineConfig) TypingWindow() time.Duration  { return ms(e.TypingWindowMs) }
func (e EngineConfig) TypingQuiet() time.Duration   { return ms(e.TypingQuietMs) }
func (e EngineConfig) ActionTimeout() time.Duration { return ms(e.ActionTimeoutMs) }

// RelayConfig controls the development relay server.
type RelayConfig struct {
	Port           int      `yaml:"port,omitempty"`
	Bind           string   `yaml:"bind,omitempty"` // "loopback" | "lan" | "auto" | "custom"
	CustomBindHost string   `yaml:"customBindHost,omitempty"`
	Token          string   `yaml:"token,omitempty"`
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "compact" | "json"
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
