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
// built-in defaults, applies TRADETERM_* environment variable overrides, and
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

// applyEnvOverrides reads well-known TRADETERM_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Broker ──
	setStr(&cfg.Broker.Addr, "TRADETERM_BROKER_ADDR")
	setStr(&cfg.Broker.Username, "TRADETERM_BROKER_USERNAME")
	setStr(&cfg.Broker.Password, "TRADETERM_BROKER_PASSWORD")
	setStr(&cfg.Broker.EncryptedCredentialsPath, "TRADETERM_BROKER_ENCRYPTED_CREDENTIALS_PATH")
	setStr(&cfg.Broker.CredentialsPassword, "TRADETERM_BROKER_CREDENTIALS_PASSWORD")
	setStr(&cfg.Broker.LiveAccount, "TRADETERM_BROKER_LIVE_ACCOUNT")

	// ── Session ──
	setStr(&cfg.Session.DataDir, "TRADETERM_SESSION_DATA_DIR")
	setDuration(&cfg.Session.DebounceWindow, "TRADETERM_SESSION_DEBOUNCE_WINDOW")
	setInt(&cfg.Session.DebounceQuorum, "TRADETERM_SESSION_DEBOUNCE_QUORUM")
	setDuration(&cfg.Session.FlushInterval, "TRADETERM_SESSION_FLUSH_INTERVAL")
	setDuration(&cfg.Session.RecoveryStepTimeout, "TRADETERM_SESSION_RECOVERY_STEP_TIMEOUT")
	setFloat64(&cfg.Session.SimStartingBalance, "TRADETERM_SESSION_SIM_STARTING_BALANCE")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "TRADETERM_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TRADETERM_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADETERM_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADETERM_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADETERM_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRADETERM_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRADETERM_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "TRADETERM_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "TRADETERM_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TRADETERM_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRADETERM_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRADETERM_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRADETERM_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRADETERM_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRADETERM_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TRADETERM_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TRADETERM_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TRADETERM_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "TRADETERM_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "TRADETERM_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRADETERM_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRADETERM_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRADETERM_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRADETERM_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRADETERM_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRADETERM_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "TRADETERM_S3_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRADETERM_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TRADETERM_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TRADETERM_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "TRADETERM_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "TRADETERM_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "TRADETERM_SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRADETERM_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRADETERM_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRADETERM_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TRADETERM_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "TRADETERM_LOG_LEVEL")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
