package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the cworld server.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	World      WorldConfig      `yaml:"world"`
	Assets     AssetsConfig     `yaml:"assets"`
	Security   SecurityConfig   `yaml:"security"`
	Logging    LoggingConfig    `yaml:"logging"`
	Health     HealthConfig     `yaml:"health"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Admin      AdminConfig      `yaml:"admin"`
}

// ServerConfig contains the WebSocket listener settings.
type ServerConfig struct {
	ListenAddress  string        `yaml:"listen_address"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
}

// WorldConfig contains room behavior settings.
type WorldConfig struct {
	ChatHistorySize int           `yaml:"chat_history_size"`
	ReaperInterval  time.Duration `yaml:"reaper_interval"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	DefaultUsername string        `yaml:"default_username"`
	DefaultAvatar   string        `yaml:"default_avatar"`
	SpawnX          float64       `yaml:"spawn_x"`
	SpawnY          float64       `yaml:"spawn_y"`
	SpawnZ          float64       `yaml:"spawn_z"`
}

// AssetsConfig controls billboard slot uploads.
type AssetsConfig struct {
	Slots          []string `yaml:"slots"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes"`
}

// SecurityConfig contains connection limit settings.
type SecurityConfig struct {
	RateLimit           RateLimitConfig `yaml:"rate_limit"`
	MaxConnections      int             `yaml:"max_connections"`
	MaxConnectionsPerIP int             `yaml:"max_connections_per_ip"`
}

// RateLimitConfig contains rate limiting settings.
type RateLimitConfig struct {
	Enabled              bool `yaml:"enabled"`
	ConnectionsPerMinute int  `yaml:"connections_per_minute"`
	MessagesPerSecond    int  `yaml:"messages_per_second"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// HealthConfig contains health check endpoint settings. The health
// listener also carries the metrics and admin endpoints.
type HealthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Endpoint      string `yaml:"endpoint"`
	ListenAddress string `yaml:"listen_address"`
	Detailed      bool   `yaml:"detailed"`
}

// MonitoringConfig contains metrics settings.
type MonitoringConfig struct {
	MetricsEnabled  bool   `yaml:"metrics_enabled"`
	MetricsEndpoint string `yaml:"metrics_endpoint"`
}

// AdminConfig contains the read-only admin API settings.
type AdminConfig struct {
	Enabled      bool `yaml:"enabled"`
	EventLogSize int  `yaml:"event_log_size"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress:  "0.0.0.0:8080",
			MaxMessageSize: 1048576, // must fit a base64 upload-asset event
			PingInterval:   30 * time.Second,
			PongTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			DrainTimeout:   15 * time.Second,
		},
		World: WorldConfig{
			ChatHistorySize: 50,
			ReaperInterval:  30 * time.Second,
			IdleTimeout:     60 * time.Second,
			DefaultUsername: "guest",
			DefaultAvatar:   "default",
		},
		Assets: AssetsConfig{
			Slots:          []string{"billboard1", "billboard2", "billboard3"},
			MaxUploadBytes: 512 * 1024,
		},
		Security: SecurityConfig{
			MaxConnections:      500,
			MaxConnectionsPerIP: 10,
			RateLimit: RateLimitConfig{
				Enabled:              true,
				ConnectionsPerMinute: 60,
				MessagesPerSecond:    60,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Health: HealthConfig{
			Enabled:       true,
			Endpoint:      "/health",
			ListenAddress: "127.0.0.1:8081",
			Detailed:      true,
		},
		Monitoring: MonitoringConfig{
			MetricsEnabled:  false,
			MetricsEndpoint: "/metrics",
		},
		Admin: AdminConfig{
			Enabled:      true,
			EventLogSize: 200,
		},
	}
}

// Load reads a config file and applies environment variable overrides.
// A .env file in the working directory is loaded first, if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file not found at %s", path)
			}
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w (check YAML indentation)", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Server validation
	if c.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address is required")
	}
	if _, _, err := net.SplitHostPort(c.Server.ListenAddress); err != nil {
		return fmt.Errorf("server.listen_address is invalid: %w", err)
	}
	if c.Server.MaxMessageSize <= 0 {
		return fmt.Errorf("server.max_message_size must be positive")
	}
	if c.Server.MaxMessageSize > 67108864 {
		return fmt.Errorf("server.max_message_size must not exceed 67108864 (64MB)")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be positive")
	}
	if c.Server.DrainTimeout <= 0 {
		return fmt.Errorf("server.drain_timeout must be positive")
	}

	// World validation
	if c.World.ChatHistorySize <= 0 {
		return fmt.Errorf("world.chat_history_size must be positive")
	}
	if c.World.ChatHistorySize > 10000 {
		return fmt.Errorf("world.chat_history_size must not exceed 10000")
	}
	if c.World.ReaperInterval <= 0 {
		return fmt.Errorf("world.reaper_interval must be positive")
	}
	if c.World.IdleTimeout <= c.World.ReaperInterval {
		return fmt.Errorf("world.idle_timeout must be greater than world.reaper_interval")
	}
	if c.World.DefaultUsername == "" {
		return fmt.Errorf("world.default_username is required")
	}

	// Assets validation
	if len(c.Assets.Slots) == 0 {
		return fmt.Errorf("assets.slots must list at least one slot")
	}
	seen := make(map[string]bool, len(c.Assets.Slots))
	for _, slot := range c.Assets.Slots {
		if slot == "" {
			return fmt.Errorf("assets.slots must not contain empty identifiers")
		}
		if seen[slot] {
			return fmt.Errorf("assets.slots contains duplicate slot %q", slot)
		}
		seen[slot] = true
	}
	if c.Assets.MaxUploadBytes <= 0 {
		return fmt.Errorf("assets.max_upload_bytes must be positive")
	}
	// Base64 inflates uploads by 4/3 before they hit the read limit.
	if c.Assets.MaxUploadBytes*4/3 > c.Server.MaxMessageSize {
		return fmt.Errorf("assets.max_upload_bytes is too large for server.max_message_size")
	}

	// Security validation
	if c.Security.MaxConnections <= 0 {
		return fmt.Errorf("security.max_connections must be positive")
	}
	if c.Security.MaxConnections > 65535 {
		return fmt.Errorf("security.max_connections must not exceed 65535")
	}
	if c.Security.MaxConnectionsPerIP <= 0 {
		return fmt.Errorf("security.max_connections_per_ip must be positive")
	}
	if c.Security.MaxConnectionsPerIP > c.Security.MaxConnections {
		return fmt.Errorf("security.max_connections_per_ip must not exceed security.max_connections")
	}
	if c.Security.RateLimit.Enabled {
		if c.Security.RateLimit.ConnectionsPerMinute <= 0 {
			return fmt.Errorf("security.rate_limit.connections_per_minute must be positive")
		}
	}

	// Logging validation
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "json", "text":
		// valid
	default:
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// Health validation
	if c.Health.Enabled {
		if c.Health.ListenAddress == "" {
			return fmt.Errorf("health.listen_address is required when health is enabled")
		}
		if _, _, err := net.SplitHostPort(c.Health.ListenAddress); err != nil {
			return fmt.Errorf("health.listen_address is invalid: %w", err)
		}
		host, _, _ := net.SplitHostPort(c.Health.ListenAddress)
		ip := net.ParseIP(host)
		if ip != nil && !ip.IsLoopback() {
			return fmt.Errorf("health.listen_address should bind to a loopback address (e.g. 127.0.0.1) to avoid exposing admin endpoints")
		}
		if c.Server.ListenAddress == c.Health.ListenAddress {
			return fmt.Errorf("server.listen_address and health.listen_address must be different")
		}
	}

	// Admin validation
	if c.Admin.Enabled && c.Admin.EventLogSize <= 0 {
		return fmt.Errorf("admin.event_log_size must be positive when admin is enabled")
	}

	return nil
}

// applyEnvOverrides applies CWORLD_ prefixed environment variables.
// Convention: CWORLD_ + uppercase + underscores for nesting.
func applyEnvOverrides(cfg *Config) {
	envMap := map[string]func(string){
		"CWORLD_SERVER_LISTEN_ADDRESS":   func(v string) { cfg.Server.ListenAddress = v },
		"CWORLD_SERVER_MAX_MESSAGE_SIZE": func(v string) { cfg.Server.MaxMessageSize = parseInt64(v, cfg.Server.MaxMessageSize) },
		"CWORLD_SERVER_PING_INTERVAL":    func(v string) { cfg.Server.PingInterval = parseDuration(v, cfg.Server.PingInterval) },
		"CWORLD_SERVER_PONG_TIMEOUT":     func(v string) { cfg.Server.PongTimeout = parseDuration(v, cfg.Server.PongTimeout) },
		"CWORLD_SERVER_WRITE_TIMEOUT":    func(v string) { cfg.Server.WriteTimeout = parseDuration(v, cfg.Server.WriteTimeout) },
		"CWORLD_SERVER_DRAIN_TIMEOUT":    func(v string) { cfg.Server.DrainTimeout = parseDuration(v, cfg.Server.DrainTimeout) },
		"CWORLD_WORLD_CHAT_HISTORY_SIZE": func(v string) { cfg.World.ChatHistorySize = parseInt(v, cfg.World.ChatHistorySize) },
		"CWORLD_WORLD_REAPER_INTERVAL":   func(v string) { cfg.World.ReaperInterval = parseDuration(v, cfg.World.ReaperInterval) },
		"CWORLD_WORLD_IDLE_TIMEOUT":      func(v string) { cfg.World.IdleTimeout = parseDuration(v, cfg.World.IdleTimeout) },
		"CWORLD_WORLD_DEFAULT_USERNAME":  func(v string) { cfg.World.DefaultUsername = v },
		"CWORLD_WORLD_DEFAULT_AVATAR":    func(v string) { cfg.World.DefaultAvatar = v },
		"CWORLD_ASSETS_SLOTS":            func(v string) { cfg.Assets.Slots = splitList(v) },
		"CWORLD_ASSETS_MAX_UPLOAD_BYTES": func(v string) { cfg.Assets.MaxUploadBytes = parseInt64(v, cfg.Assets.MaxUploadBytes) },
		"CWORLD_SECURITY_MAX_CONNECTIONS":        func(v string) { cfg.Security.MaxConnections = parseInt(v, cfg.Security.MaxConnections) },
		"CWORLD_SECURITY_MAX_CONNECTIONS_PER_IP": func(v string) { cfg.Security.MaxConnectionsPerIP = parseInt(v, cfg.Security.MaxConnectionsPerIP) },
		"CWORLD_SECURITY_RATE_LIMIT_ENABLED":     func(v string) { cfg.Security.RateLimit.Enabled = parseBool(v, cfg.Security.RateLimit.Enabled) },
		"CWORLD_SECURITY_RATE_LIMIT_CONNECTIONS_PER_MINUTE": func(v string) {
			cfg.Security.RateLimit.ConnectionsPerMinute = parseInt(v, cfg.Security.RateLimit.ConnectionsPerMinute)
		},
		"CWORLD_SECURITY_RATE_LIMIT_MESSAGES_PER_SECOND": func(v string) {
			cfg.Security.RateLimit.MessagesPerSecond = parseInt(v, cfg.Security.RateLimit.MessagesPerSecond)
		},
		"CWORLD_LOGGING_LEVEL":         func(v string) { cfg.Logging.Level = v },
		"CWORLD_LOGGING_FORMAT":        func(v string) { cfg.Logging.Format = v },
		"CWORLD_LOGGING_FILE":          func(v string) { cfg.Logging.File = v },
		"CWORLD_HEALTH_ENABLED":        func(v string) { cfg.Health.Enabled = parseBool(v, cfg.Health.Enabled) },
		"CWORLD_HEALTH_LISTEN_ADDRESS": func(v string) { cfg.Health.ListenAddress = v },
		"CWORLD_ADMIN_ENABLED":         func(v string) { cfg.Admin.Enabled = parseBool(v, cfg.Admin.Enabled) },
	}

	for env, setter := range envMap {
		if v := os.Getenv(env); v != "" {
			setter(v)
		}
	}
}

// ApplyReloadableFields returns a copy of c with reloadable fields from newCfg.
// Non-reloadable: listen addresses, slot set, history size, reaper interval.
func (c *Config) ApplyReloadableFields(newCfg *Config) *Config {
	updated := *c
	updated.Security.RateLimit = newCfg.Security.RateLimit
	updated.Security.MaxConnections = newCfg.Security.MaxConnections
	updated.Security.MaxConnectionsPerIP = newCfg.Security.MaxConnectionsPerIP
	updated.Logging.Level = newCfg.Logging.Level
	updated.Server.MaxMessageSize = newCfg.Server.MaxMessageSize
	updated.Assets.MaxUploadBytes = newCfg.Assets.MaxUploadBytes
	updated.World.IdleTimeout = newCfg.World.IdleTimeout
	return &updated
}

// IsReloadSafe checks if only reloadable fields changed between configs.
func IsReloadSafe(old, new *Config) []string {
	var warnings []string
	if old.Server.ListenAddress != new.Server.ListenAddress {
		warnings = append(warnings, "server.listen_address requires restart")
	}
	if old.Health.ListenAddress != new.Health.ListenAddress {
		warnings = append(warnings, "health.listen_address requires restart")
	}
	if old.World.ChatHistorySize != new.World.ChatHistorySize {
		warnings = append(warnings, "world.chat_history_size requires restart")
	}
	if old.World.ReaperInterval != new.World.ReaperInterval {
		warnings = append(warnings, "world.reaper_interval requires restart")
	}
	if !equalSlots(old.Assets.Slots, new.Assets.Slots) {
		warnings = append(warnings, "assets.slots requires restart")
	}
	return warnings
}

func equalSlots(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt64(s string, fallback int64) int64 {
	var v int64
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return fallback
	}
	return v
}

func parseInt(s string, fallback int) int {
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return fallback
	}
	return v
}

func parseBool(s string, fallback bool) bool {
	s = strings.ToLower(s)
	switch s {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return fallback
	}
}
