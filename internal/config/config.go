// Package config defines the top-level configuration for kisbot and provides
// validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by KISBOT_* environment variables.
type Config struct {
	KIS         KISConfig         `toml:"kis"`
	Chase       ChaseConfig       `toml:"chase"`
	Credentials CredentialsConfig `toml:"credentials"`
	Redis       RedisConfig       `toml:"redis"`
	Postgres    PostgresConfig    `toml:"postgres"`
	S3          S3Config          `toml:"s3"`
	Archive     ArchiveConfig     `toml:"archive"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// KISConfig holds broker API credentials and environment selection.
type KISConfig struct {
	AppKey string `toml:"app_key"`
	// AppSecret is the raw application secret. Alternatively set
	// EncryptedSecretPath to a file produced by crypto.EncryptSecret.
	AppSecret           string `toml:"app_secret"`
	EncryptedSecretPath string `toml:"encrypted_secret_path"`
	SecretPassword      string `toml:"secret_password"`
	// AccountNo is the 10-digit account number: 8-digit account plus
	// 2-digit product code.
	AccountNo string `toml:"account_no"`
	// Environment is "live" or "paper". Paper trading uses a different
	// base endpoint and execution-notice feed id.
	Environment string `toml:"environment"`
	// CustType is "P" for personal accounts, "B" for corporate.
	CustType string `toml:"cust_type"`
	// HTSID is the HTS login id, the subscription key for the
	// execution-notice feed. Required for monitor and full modes.
	HTSID string `toml:"hts_id"`
}

// ChaseConfig holds the position target the repricing controller consumes.
type ChaseConfig struct {
	Symbol           string   `toml:"symbol"`
	TargetQty        int64    `toml:"target_qty"`
	OrderQtyPerCycle int64    `toml:"order_qty_per_cycle"`
	MinPrice         float64  `toml:"min_price"`
	MaxPrice         float64  `toml:"max_price"`
	PollInterval     duration `toml:"poll_interval"`
	// BandPolicy selects what happens when the reprice candidate for an
	// existing order leaves the price band: "abort" stops monitoring,
	// "hold" keeps the resting order and continues polling.
	BandPolicy string `toml:"band_policy"`
	// CancelOnExit issues a cancel for the resting order when the
	// controller is stopped. Off by default; an explicit operator choice.
	CancelOnExit bool `toml:"cancel_on_exit"`
}

// CredentialsConfig selects where issued tokens are persisted.
type CredentialsConfig struct {
	// Backend is "redis" or "file".
	Backend string `toml:"backend"`
	// FilePath is the token record path for the file backend.
	FilePath string `toml:"file_path"`
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

// PostgresConfig holds PostgreSQL connection parameters for the audit stores.
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

// S3Config holds S3-compatible object storage parameters for archival.
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

// ArchiveConfig controls export of aged audit records to blob storage.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "30s", "5m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "30s" or "5m".
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
func Defaults() Config {
	return Config{
		KIS: KISConfig{
			Environment: "paper",
			CustType:    "P",
		},
		Chase: ChaseConfig{
			OrderQtyPerCycle: 1,
			PollInterval:     duration{30 * time.Second},
			BandPolicy:       "abort",
		},
		Credentials: CredentialsConfig{
			Backend:  "file",
			FilePath: "token_info.json",
		},
		Redis: RedisConfig{
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
			Database:      "kisbot",
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
			Bucket:         "kisbot-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{24 * time.Hour},
			RetentionDays: 30,
		},
		Notify: NotifyConfig{
			Events: []string{"target_achieved", "range_violation", "order_placed", "order_revised", "order_filled", "error"},
		},
		Mode:     "chase",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"chase":   true,
	"monitor": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validBandPolicies enumerates the accepted values for Chase.BandPolicy.
var validBandPolicies = map[string]bool{
	"abort": true,
	"hold":  true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: chase, monitor, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// KIS credentials.
	if c.KIS.AppKey == "" {
		errs = append(errs, "kis: app_key must not be empty")
	}
	if c.KIS.AppSecret == "" && c.KIS.EncryptedSecretPath == "" {
		errs = append(errs, "kis: either app_secret or encrypted_secret_path must be set")
	}
	if c.KIS.EncryptedSecretPath != "" && c.KIS.SecretPassword == "" {
		errs = append(errs, "kis: secret_password is required when encrypted_secret_path is set")
	}
	if len(c.KIS.AccountNo) != 10 {
		errs = append(errs, fmt.Sprintf("kis: account_no must be 10 digits (8-digit account + 2-digit product code), got %d characters", len(c.KIS.AccountNo)))
	}
	if c.KIS.Environment != "live" && c.KIS.Environment != "paper" {
		errs = append(errs, fmt.Sprintf("kis: environment must be \"live\" or \"paper\", got %q", c.KIS.Environment))
	}
	if (c.Mode == "monitor" || c.Mode == "full") && c.KIS.HTSID == "" {
		errs = append(errs, "kis: hts_id is required for the execution-notice feed in monitor and full modes")
	}

	// Chase target, required for modes that place orders.
	if c.Mode == "chase" || c.Mode == "full" {
		if c.Chase.Symbol == "" {
			errs = append(errs, "chase: symbol must not be empty")
		}
		if c.Chase.TargetQty <= 0 {
			errs = append(errs, "chase: target_qty must be > 0")
		}
		if c.Chase.OrderQtyPerCycle <= 0 {
			errs = append(errs, "chase: order_qty_per_cycle must be > 0")
		}
		if c.Chase.MinPrice <= 0 || c.Chase.MaxPrice <= 0 {
			errs = append(errs, "chase: min_price and max_price must be > 0")
		}
		if c.Chase.MinPrice > c.Chase.MaxPrice {
			errs = append(errs, "chase: min_price must not exceed max_price")
		}
		if c.Chase.PollInterval.Duration < time.Second {
			errs = append(errs, "chase: poll_interval must be at least 1s")
		}
		if !validBandPolicies[c.Chase.BandPolicy] {
			errs = append(errs, fmt.Sprintf("chase: band_policy must be \"abort\" or \"hold\", got %q", c.Chase.BandPolicy))
		}
	}

	// Credential store.
	switch c.Credentials.Backend {
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when credentials.backend is redis")
		}
	case "file":
		if c.Credentials.FilePath == "" {
			errs = append(errs, "credentials: file_path must not be empty when backend is file")
		}
	default:
		errs = append(errs, fmt.Sprintf("credentials: backend must be \"redis\" or \"file\", got %q", c.Credentials.Backend))
	}

	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Postgres.
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

	// S3 / archive.
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}
	if c.Archive.Enabled {
		if !c.S3.Enabled {
			errs = append(errs, "archive: s3 must be enabled when archive is enabled")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "archive: postgres must be enabled when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration < time.Minute {
			errs = append(errs, "archive: interval must be at least 1m")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
