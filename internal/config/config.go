// Package config loads gateway configuration from the environment and an
// optional .env file using Viper. Env vars override .env entries.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything the gateway and its tools need to start.
type Config struct {
	// ListenAddr is the address the WebSocket gateway listens on.
	ListenAddr string `mapstructure:"LISTEN_ADDR"`
	// MetricsAddr is the address the Prometheus /metrics endpoint listens on.
	MetricsAddr string `mapstructure:"METRICS_ADDR"`
	// InstanceName identifies this gateway instance in fanout envelopes.
	InstanceName string `mapstructure:"INSTANCE_NAME"`

	// RedisAddr is the host:port of the counter/notification Redis.
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// NatsURL is the NATS server URL; empty disables cross-instance fanout.
	NatsURL string `mapstructure:"NATS_URL"`
	// DatabaseURL is the Postgres DSN for conversations, messages, and users.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// JWTSecret is the HS256 shared secret for bearer-token verification.
	JWTSecret string `mapstructure:"JWT_SECRET"`

	// MessageRateLimit / MessageRateWindow bound per-user message throughput.
	MessageRateLimit  int           `mapstructure:"MESSAGE_RATE_LIMIT"`
	MessageRateWindow time.Duration `mapstructure:"MESSAGE_RATE_WINDOW"`
	// DuplicateLimit / DuplicateWindow bound identical-content repeats.
	DuplicateLimit  int           `mapstructure:"DUPLICATE_LIMIT"`
	DuplicateWindow time.Duration `mapstructure:"DUPLICATE_WINDOW"`

	// SensitiveTerms overrides the built-in scrub list (comma-separated).
	SensitiveTerms string `mapstructure:"SENSITIVE_TERMS"`

	// NotificationCap is the max notifications retained per user.
	NotificationCap int `mapstructure:"NOTIFICATION_CAP"`
	// NotificationTTL is the feed expiry, refreshed on every append.
	NotificationTTL time.Duration `mapstructure:"NOTIFICATION_TTL"`

	// ReadTimeout / WriteTimeout bound individual WebSocket frame operations.
	ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
	// HeartbeatInterval is how often stale connections are probed.
	HeartbeatInterval time.Duration `mapstructure:"HEARTBEAT_INTERVAL"`
	// MaxConnections caps concurrent sockets per instance.
	MaxConnections int `mapstructure:"MAX_CONNECTIONS"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment. A missing .env is ignored (e.g. in CI).
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("METRICS_ADDR", ":9090")
	v.SetDefault("INSTANCE_NAME", "")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("NATS_URL", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("MESSAGE_RATE_LIMIT", 30)
	v.SetDefault("MESSAGE_RATE_WINDOW", "60s")
	v.SetDefault("DUPLICATE_LIMIT", 3)
	v.SetDefault("DUPLICATE_WINDOW", "300s")
	v.SetDefault("SENSITIVE_TERMS", "")
	v.SetDefault("NOTIFICATION_CAP", 100)
	v.SetDefault("NOTIFICATION_TTL", "720h") // 30 days
	v.SetDefault("READ_TIMEOUT", "10s")
	v.SetDefault("WRITE_TIMEOUT", "10s")
	v.SetDefault("HEARTBEAT_INTERVAL", "30s")
	v.SetDefault("MAX_CONNECTIONS", 100000)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.ListenAddr == "" {
		return nil, errors.New("config: LISTEN_ADDR must be set")
	}
	if cfg.MessageRateLimit <= 0 || cfg.DuplicateLimit <= 0 {
		return nil, errors.New("config: rate limits must be positive")
	}
	if cfg.MessageRateWindow <= 0 || cfg.DuplicateWindow <= 0 {
		return nil, errors.New("config: rate windows must be positive")
	}
	if cfg.NotificationCap <= 0 {
		return nil, errors.New("config: NOTIFICATION_CAP must be positive")
	}

	return &cfg, nil
}

// SensitiveTermList splits the comma-separated override into terms. Returns
// nil when no override is configured, meaning the built-in list applies.
func (c *Config) SensitiveTermList() []string {
	if c.SensitiveTerms == "" {
		return nil
	}
	parts := strings.Split(c.SensitiveTerms, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
