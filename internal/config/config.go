// Package config loads syncplayer settings through Viper: defaults, then an
// optional config file, then SYNCPLAYER_* environment variables, then any
// bound command-line flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "SYNCPLAYER"

type Config struct {
	Database  *DatabaseConfig  `mapstructure:"database"`
	HTTP      *HTTPConfig      `mapstructure:"http"`
	WebSocket *WebSocketConfig `mapstructure:"websocket"`
	Presence  *PresenceConfig  `mapstructure:"presence"`
	Session   *SessionConfig   `mapstructure:"session"`
	RateLimit *RateLimitConfig `mapstructure:"rate_limit"`
	Log       *LogConfig       `mapstructure:"log"`
}

// DatabaseConfig selects the durable store. For sqlite3 the DSN is a file
// path; for pgx it is a postgres URL.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Timeout         time.Duration `mapstructure:"timeout"`
	WriteRetryDelay time.Duration `mapstructure:"write_retry_delay"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
}

type HTTPConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type WebSocketConfig struct {
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	BufferSize      int           `mapstructure:"buffer_size"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
}

// PresenceConfig drives the liveness sweep. A member whose last heartbeat is
// at least HeartbeatTimeout old is evicted on the next sweep.
type PresenceConfig struct {
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	SweepConcurrency int           `mapstructure:"sweep_concurrency"`
}

type SessionConfig struct {
	MailboxSize          int `mapstructure:"mailbox_size"`
	ChatHistoryLimit     int `mapstructure:"chat_history_limit"`
	ChatMaxLength        int `mapstructure:"chat_max_length"`
	PersistenceQueueSize int `mapstructure:"persistence_queue_size"`
}

type RateLimitConfig struct {
	EventsPerMinute int `mapstructure:"events_per_minute"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Driver:          "sqlite3",
			DSN:             "./syncplayer.db",
			Timeout:         30 * time.Second,
			WriteRetryDelay: 5 * time.Second,
			MaxOpenConns:    10,
		},
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:    30 * time.Second,
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    5 * time.Second,
			BufferSize:      100,
			MaxMessageBytes: 1 << 20,
		},
		Presence: &PresenceConfig{
			SweepInterval:    120 * time.Second,
			HeartbeatTimeout: 90 * time.Second,
			SweepConcurrency: 8,
		},
		Session: &SessionConfig{
			MailboxSize:          64,
			ChatHistoryLimit:     200,
			ChatMaxLength:        2000,
			PersistenceQueueSize: 256,
		},
		RateLimit: &RateLimitConfig{
			EventsPerMinute: 120,
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	switch c.Database.Driver {
	case "sqlite3", "pgx":
	default:
		return fmt.Errorf("database driver must be sqlite3 or pgx, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.Database.WriteRetryDelay < 0 {
		return fmt.Errorf("database write retry delay cannot be negative")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageBytes <= 0 {
		return fmt.Errorf("WebSocket max message bytes must be positive")
	}

	if c.Presence == nil {
		return fmt.Errorf("presence configuration is required")
	}
	if c.Presence.SweepInterval <= 0 || c.Presence.HeartbeatTimeout <= 0 {
		return fmt.Errorf("presence sweep interval and heartbeat timeout must be positive")
	}
	if c.Presence.SweepConcurrency <= 0 {
		return fmt.Errorf("presence sweep concurrency must be positive")
	}

	if c.Session == nil {
		return fmt.Errorf("session configuration is required")
	}
	if c.Session.MailboxSize <= 0 || c.Session.PersistenceQueueSize <= 0 {
		return fmt.Errorf("session mailbox and persistence queue sizes must be positive")
	}
	if c.Session.ChatHistoryLimit <= 0 || c.Session.ChatMaxLength <= 0 {
		return fmt.Errorf("chat history limit and max length must be positive")
	}

	if c.RateLimit == nil || c.RateLimit.EventsPerMinute <= 0 {
		return fmt.Errorf("rate limit events per minute must be positive")
	}

	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log format must be json or console, got %q", c.Log.Format)
	}
	return nil
}

// Address is the HTTP listen address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// NewViper returns a Viper instance seeded with defaults and environment
// bindings. When path is non-empty the file is read and must exist.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}
	return v, nil
}

// FromViper decodes and validates a Config.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func Load(path string) (*Config, error) {
	v, err := NewViper(path)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// setDefaults registers every key so AutomaticEnv can resolve it on Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.timeout", d.Database.Timeout)
	v.SetDefault("database.write_retry_delay", d.Database.WriteRetryDelay)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)

	v.SetDefault("http.host", d.HTTP.Host)
	v.SetDefault("http.port", d.HTTP.Port)
	v.SetDefault("http.read_timeout", d.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", d.HTTP.WriteTimeout)

	v.SetDefault("websocket.ping_interval", d.WebSocket.PingInterval)
	v.SetDefault("websocket.read_timeout", d.WebSocket.ReadTimeout)
	v.SetDefault("websocket.write_timeout", d.WebSocket.WriteTimeout)
	v.SetDefault("websocket.buffer_size", d.WebSocket.BufferSize)
	v.SetDefault("websocket.max_message_bytes", d.WebSocket.MaxMessageBytes)

	v.SetDefault("presence.sweep_interval", d.Presence.SweepInterval)
	v.SetDefault("presence.heartbeat_timeout", d.Presence.HeartbeatTimeout)
	v.SetDefault("presence.sweep_concurrency", d.Presence.SweepConcurrency)

	v.SetDefault("session.mailbox_size", d.Session.MailboxSize)
	v.SetDefault("session.chat_history_limit", d.Session.ChatHistoryLimit)
	v.SetDefault("session.chat_max_length", d.Session.ChatMaxLength)
	v.SetDefault("session.persistence_queue_size", d.Session.PersistenceQueueSize)

	v.SetDefault("rate_limit.events_per_minute", d.RateLimit.EventsPerMinute)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}
