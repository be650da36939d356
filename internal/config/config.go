// Package config defines the top-level configuration for the dispatch service
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/lfang615/crypto-trading-service/internal/notify"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CTS_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Dispatch DispatchConfig `toml:"dispatch"`
	Security SecurityConfig `toml:"security"`
	Notify   NotifyConfig   `toml:"notify"`
	LogLevel string         `toml:"log_level"`
}

// SecurityConfig holds the master key that seals exchange credentials at
// rest.
type SecurityConfig struct {
	MasterKey string `toml:"master_key"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the raw payload
// archive. When Enabled is false the service runs without an archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// DispatchConfig holds dispatch pipeline tuning.
type DispatchConfig struct {
	// Breaker parameters, keyed per account and exchange.
	BreakerFailureThreshold int      `toml:"breaker_failure_threshold"`
	BreakerCooldown         duration `toml:"breaker_cooldown"`

	// Per-call retry parameters.
	MaxAttempts    int      `toml:"max_attempts"`
	AttemptTimeout duration `toml:"attempt_timeout"`

	// Idempotency claim lifetime and replay window for completed outcomes.
	ClaimTTL     duration `toml:"claim_ttl"`
	ReplayWindow duration `toml:"replay_window"`

	// Stream new submissions are announced on.
	EventStream string `toml:"event_stream"`

	// Stream inbound order requests are consumed from, the consumer group
	// name, and the number of concurrent dispatch workers.
	IntakeStream string `toml:"intake_stream"`
	IntakeGroup  string `toml:"intake_group"`
	Workers      int    `toml:"workers"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "dispatch",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "dispatch-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Dispatch: DispatchConfig{
			BreakerFailureThreshold: 3,
			BreakerCooldown:         duration{20 * time.Second},
			MaxAttempts:             3,
			AttemptTimeout:          duration{10 * time.Second},
			ClaimTTL:                duration{30 * time.Second},
			ReplayWindow:            duration{24 * time.Hour},
			EventStream:             "orders_submitted",
			IntakeStream:            "orders_received",
			IntakeGroup:             "dispatchd",
			Workers:                 4,
		},
		Notify: NotifyConfig{
			Events: []string{notify.EventReconciliationRequired, notify.EventCircuitOpen},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// Dispatch
	if c.Dispatch.BreakerFailureThreshold < 1 {
		errs = append(errs, "dispatch: breaker_failure_threshold must be >= 1")
	}
	if c.Dispatch.BreakerCooldown.Duration <= 0 {
		errs = append(errs, "dispatch: breaker_cooldown must be positive")
	}
	if c.Dispatch.MaxAttempts < 1 {
		errs = append(errs, "dispatch: max_attempts must be >= 1")
	}
	if c.Dispatch.AttemptTimeout.Duration <= 0 {
		errs = append(errs, "dispatch: attempt_timeout must be positive")
	}
	if c.Dispatch.ClaimTTL.Duration <= 0 {
		errs = append(errs, "dispatch: claim_ttl must be positive")
	}
	if c.Dispatch.ReplayWindow.Duration <= 0 {
		errs = append(errs, "dispatch: replay_window must be positive")
	}
	if c.Dispatch.EventStream == "" {
		errs = append(errs, "dispatch: event_stream must not be empty")
	}
	if c.Dispatch.IntakeStream == "" {
		errs = append(errs, "dispatch: intake_stream must not be empty")
	}
	if c.Dispatch.IntakeGroup == "" {
		errs = append(errs, "dispatch: intake_group must not be empty")
	}
	if c.Dispatch.Workers < 1 {
		errs = append(errs, "dispatch: workers must be >= 1")
	}

	// Security
	if c.Security.MasterKey == "" {
		errs = append(errs, "security: master_key must not be empty")
	}

	// Notify — Telegram credentials come in pairs.
	tt := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if tt != tc {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
