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
// built-in defaults, applies KISBOT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known KISBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── KIS ──
	setStr(&cfg.KIS.AppKey, "KISBOT_KIS_APP_KEY")
	setStr(&cfg.KIS.AppSecret, "KISBOT_KIS_APP_SECRET")
	setStr(&cfg.KIS.EncryptedSecretPath, "KISBOT_KIS_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.KIS.SecretPassword, "KISBOT_KIS_SECRET_PASSWORD")
	setStr(&cfg.KIS.AccountNo, "KISBOT_KIS_ACCOUNT_NO")
	setStr(&cfg.KIS.Environment, "KISBOT_KIS_ENVIRONMENT")
	setStr(&cfg.KIS.CustType, "KISBOT_KIS_CUST_TYPE")
	setStr(&cfg.KIS.HTSID, "KISBOT_KIS_HTS_ID")

	// ── Chase ──
	setStr(&cfg.Chase.Symbol, "KISBOT_CHASE_SYMBOL")
	setInt64(&cfg.Chase.TargetQty, "KISBOT_CHASE_TARGET_QTY")
	setInt64(&cfg.Chase.OrderQtyPerCycle, "KISBOT_CHASE_ORDER_QTY_PER_CYCLE")
	setFloat64(&cfg.Chase.MinPrice, "KISBOT_CHASE_MIN_PRICE")
	setFloat64(&cfg.Chase.MaxPrice, "KISBOT_CHASE_MAX_PRICE")
	setDuration(&cfg.Chase.PollInterval, "KISBOT_CHASE_POLL_INTERVAL")
	setStr(&cfg.Chase.BandPolicy, "KISBOT_CHASE_BAND_POLICY")
	setBool(&cfg.Chase.CancelOnExit, "KISBOT_CHASE_CANCEL_ON_EXIT")

	// ── Credentials ──
	setStr(&cfg.Credentials.Backend, "KISBOT_CREDENTIALS_BACKEND")
	setStr(&cfg.Credentials.FilePath, "KISBOT_CREDENTIALS_FILE_PATH")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "KISBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "KISBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "KISBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "KISBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "KISBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "KISBOT_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "KISBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "KISBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "KISBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "KISBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "KISBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "KISBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "KISBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "KISBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "KISBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "KISBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "KISBOT_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "KISBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "KISBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "KISBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "KISBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "KISBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "KISBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "KISBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "KISBOT_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "KISBOT_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "KISBOT_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "KISBOT_ARCHIVE_RETENTION_DAYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "KISBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "KISBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "KISBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "KISBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "KISBOT_MODE")
	setStr(&cfg.LogLevel, "KISBOT_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
