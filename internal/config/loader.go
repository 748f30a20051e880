package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so tokens and passwords can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Channel.Token = expandEnvVars(cfg.Channel.Token)
	cfg.API.Token = expandEnvVars(cfg.API.Token)
	cfg.Store.Redis.Password = expandEnvVars(cfg.Store.Redis.Password)
	cfg.Relay.Token = expandEnvVars(cfg.Relay.Token)
}

// SensitivePaths lists the dotted paths of credential fields. They accept
// ${VAR} references and are masked when printed.
var SensitivePaths = []string{"channel.token", "api.token", "store.redis.password", "relay.token"}

// IsEnvRef reports whether s is exactly one ${VAR} reference.
func IsEnvRef(s string) bool {
	loc := envVarPattern.FindStringIndex(s)
	return loc != nil && loc[0] == 0 && loc[1] == len(s)
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	cfg, err = Parse(data)
	if err != nil {
		return cfg, err
	}
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// Parse decodes YAML config data over the defaults. Environment overrides
// and ${VAR} expansion are not applied.
func Parse(data []byte) (Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	applyDefaults(&cfg)
	return cfg, nil
}

// ParseRaw decodes a generic config map, as edited by path, into a Config.
func ParseRaw(raw map[string]any) (Config, error) {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return Defaults(), &ConfigError{Message: "failed to encode config: " + err.Error()}
	}
	return Parse(data)
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields with sensible defaults. A YAML file
// that sets a section replaces the whole struct, so every field is checked.
func applyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.Role == "" {
		cfg.Role = d.Role
	}
	if cfg.Profile == "" {
		cfg.Profile = d.Profile
	}
	if cfg.Channel.Transport == "" {
		cfg.Channel.Transport = d.Channel.Transport
	}
	if cfg.Channel.URL == "" {
		cfg.Channel.URL = d.Channel.URL
	}
	if len(cfg.Channel.NATS.Servers) == 0 {
		cfg.Channel.NATS.Servers = d.Channel.NATS.Servers
	}
	if cfg.Channel.NATS.SubjectPrefix == "" {
		cfg.Channel.NATS.SubjectPrefix = d.Channel.NATS.SubjectPrefix
	}
	if cfg.Channel.Reconnect.InitialMs == 0 {
		cfg.Channel.Reconnect.InitialMs = d.Channel.Reconnect.InitialMs
	}
	if cfg.Channel.Reconnect.MaxMs == 0 {
		cfg.Channel.Reconnect.MaxMs = d.Channel.Reconnect.MaxMs
	}
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = d.API.BaseURL
	}
	if cfg.API.TimeoutMs == 0 {
		cfg.API.TimeoutMs = d.API.TimeoutMs
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = d.Store.Backend
	}
	if cfg.Store.Redis.Addr == "" {
		cfg.Store.Redis.Addr = d.Store.Redis.Addr
	}
	if cfg.Engine.StaffRoom == "" {
		cfg.Engine.StaffRoom = d.Engine.StaffRoom
	}
	if cfg.Engine.SettleDelayMs == 0 {
		cfg.Engine.SettleDelayMs = d.Engine.SettleDelayMs
	}
	if cfg.Engine.TypingWindowMs == 0 {
		cfg.Engine.TypingWindowMs = d.Engine.TypingWindowMs
	}
	if cfg.Engine.TypingQuietMs == 0 {
		cfg.Engine.TypingQuietMs = d.Engine.TypingQuietMs
	}
	if cfg.Engine.ActionTimeoutMs == 0 {
		cfg.Engine.ActionTimeoutMs = d.Engine.ActionTimeoutMs
	}
	if cfg.Engine.HistoryLimit == 0 {
		cfg.Engine.HistoryLimit = d.Engine.HistoryLimit
	}
	if cfg.Relay.Port == 0 {
		cfg.Relay.Port = d.Relay.Port
	}
	if cfg.Relay.Bind == "" {
		cfg.Relay.Bind = d.Relay.Bind
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = d.Logging.ConsoleStyle
	}
}

// applyEnvOverrides reads SUPPORTSYNC_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SUPPORTSYNC_ROLE"); v != "" {
		cfg.Role = strings.ToLower(v)
	}
	if v := os.Getenv("SUPPORTSYNC_PROFILE"); v != "" {
		cfg.Profile = v
	}
	if v := os.Getenv("SUPPORTSYNC_AGENT_ID"); v != "" {
		cfg.AgentID = v
	}
	if v := os.Getenv("SUPPORTSYNC_CHANNEL_URL"); v != "" {
		cfg.Channel.URL = v
	}
	if v := os.Getenv("SUPPORTSYNC_TRANSPORT"); v != "" {
		cfg.Channel.Transport = strings.ToLower(v)
	}
	if v := os.Getenv("SUPPORTSYNC_API_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("SUPPORTSYNC_STORE"); v != "" {
		cfg.Store.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("SUPPORTSYNC_REDIS_ADDR"); v != "" {
		cfg.Store.Redis.Addr = v
	}
	if v := os.Getenv("SUPPORTSYNC_RELAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Relay.Port = port
		}
	}
	if v := os.Getenv("SUPPORTSYNC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}
