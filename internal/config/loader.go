package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CTS_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CTS_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "CTS_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "CTS_POSTGRES_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "CTS_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CTS_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CTS_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CTS_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CTS_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CTS_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CTS_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CTS_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CTS_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CTS_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CTS_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CTS_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CTS_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CTS_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CTS_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "CTS_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "CTS_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CTS_S3_REGION")
	setStr(&cfg.S3.Bucket, "CTS_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CTS_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CTS_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CTS_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CTS_S3_FORCE_PATH_STYLE")

	// ── Dispatch ──
	setInt(&cfg.Dispatch.BreakerFailureThreshold, "CTS_DISPATCH_BREAKER_FAILURE_THRESHOLD")
	setDuration(&cfg.Dispatch.BreakerCooldown, "CTS_DISPATCH_BREAKER_COOLDOWN")
	setInt(&cfg.Dispatch.MaxAttempts, "CTS_DISPATCH_MAX_ATTEMPTS")
	setDuration(&cfg.Dispatch.AttemptTimeout, "CTS_DISPATCH_ATTEMPT_TIMEOUT")
	setDuration(&cfg.Dispatch.ClaimTTL, "CTS_DISPATCH_CLAIM_TTL")
	setDuration(&cfg.Dispatch.ReplayWindow, "CTS_DISPATCH_REPLAY_WINDOW")
	setStr(&cfg.Dispatch.EventStream, "CTS_DISPATCH_EVENT_STREAM")
	setStr(&cfg.Dispatch.IntakeStream, "CTS_DISPATCH_INTAKE_STREAM")
	setStr(&cfg.Dispatch.IntakeGroup, "CTS_DISPATCH_INTAKE_GROUP")
	setInt(&cfg.Dispatch.Workers, "CTS_DISPATCH_WORKERS")

	// ── Security ──
	setStr(&cfg.Security.MasterKey, "CTS_SECURITY_MASTER_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CTS_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CTS_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CTS_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CTS_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "CTS_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
