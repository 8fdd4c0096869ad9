// Package config defines the top-level configuration for the trading
// terminal and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRADETERM_* environment variables.
type Config struct {
	Broker   BrokerConfig   `toml:"broker"`
	Session  SessionConfig  `toml:"session"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	LogLevel string         `toml:"log_level"`
}

// BrokerConfig holds the DTC broker connection parameters.
type BrokerConfig struct {
	Addr     string `toml:"addr"`
	Username string `toml:"username"`
	Password string `toml:"password"`

	// EncryptedCredentialsPath points at an AES-GCM encrypted credentials
	// file; CredentialsPassword decrypts it. Either the plain username and
	// password or the encrypted file must be provided.
	EncryptedCredentialsPath string `toml:"encrypted_credentials_path"`
	CredentialsPassword      string `toml:"credentials_password"`

	// LiveAccount is the broker account treated as real money. Every other
	// account tag classifies as SIM (with a "Sim" prefix) or DEBUG.
	LiveAccount string `toml:"live_account"`
}

// SessionConfig holds the session-integrity tunables.
type SessionConfig struct {
	// DataDir is the root of the scoped file store.
	DataDir string `toml:"data_dir"`

	// DebounceWindow and DebounceQuorum control mode-switch commits: the
	// switch commits only after quorum agreeing signals inside the window.
	DebounceWindow duration `toml:"debounce_window"`
	DebounceQuorum int      `toml:"debounce_quorum"`

	// FlushInterval caps coalesced panel refresh notifications.
	FlushInterval duration `toml:"flush_interval"`

	// RecoveryStepTimeout bounds each reconnect recovery request.
	RecoveryStepTimeout duration `toml:"recovery_step_timeout"`

	// SimStartingBalance is the ledger starting balance for SIM accounts,
	// restored on the monthly reset.
	SimStartingBalance float64 `toml:"sim_starting_balance"`
}

// RedisConfig holds Redis connection parameters for the desk signal bus.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds connection parameters for the optional audit store.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// S3Config holds S3-compatible object storage parameters for the audit
// archiver.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`

	// RetentionDays is how long audit entries stay in Postgres before being
	// archived to the bucket and deleted.
	RetentionDays int `toml:"retention_days"`
}

// ServerConfig holds the panel API server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`

	// RateLimit requests per RateLimitWindow per client IP; 0 disables.
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds outbound notification parameters.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "750ms", "10s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "750ms" or "10s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with sensible local-development values.
func Defaults() Config {
	return Config{
		Broker: BrokerConfig{
			Addr: "127.0.0.1:11099",
		},
		Session: SessionConfig{
			DataDir:             "./data",
			DebounceWindow:      duration{750 * time.Millisecond},
			DebounceQuorum:      2,
			FlushInterval:       duration{100 * time.Millisecond},
			RecoveryStepTimeout: duration{10 * time.Second},
			SimStartingBalance:  10_000,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "tradeterm",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "tradeterm-audit",
			UseSSL:         false,
			ForcePathStyle: true,
			RetentionDays:  90,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       0,
			RateLimitWindow: duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"drift", "arm_change", "mode_change"},
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

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Broker — one credential source must be complete.
	if c.Broker.Addr == "" {
		errs = append(errs, "broker: addr must not be empty")
	}
	plain := c.Broker.Username != ""
	encrypted := c.Broker.EncryptedCredentialsPath != ""
	if !plain && !encrypted {
		errs = append(errs, "broker: either username/password or encrypted_credentials_path must be set")
	}
	if encrypted && c.Broker.CredentialsPassword == "" {
		errs = append(errs, "broker: credentials_password is required when encrypted_credentials_path is set")
	}

	// Session
	if c.Session.DataDir == "" {
		errs = append(errs, "session: data_dir must not be empty")
	}
	if c.Session.DebounceWindow.Duration <= 0 {
		errs = append(errs, "session: debounce_window must be positive")
	}
	if c.Session.DebounceQuorum < 1 {
		errs = append(errs, "session: debounce_quorum must be >= 1")
	}
	if c.Session.FlushInterval.Duration <= 0 {
		errs = append(errs, "session: flush_interval must be positive")
	}
	if c.Session.RecoveryStepTimeout.Duration <= 0 {
		errs = append(errs, "session: recovery_step_timeout must be positive")
	}
	if c.Session.SimStartingBalance <= 0 {
		errs = append(errs, "session: sim_starting_balance must be > 0")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
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
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.RetentionDays < 1 {
			errs = append(errs, "s3: retention_days must be >= 1")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "s3: audit archiving requires postgres to be enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && !c.Redis.Enabled {
			errs = append(errs, "server: rate limiting requires redis to be enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
