package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.KIS.AppKey = "PSxxxxxxxxxxxxxxxxxxxx"
	cfg.KIS.AppSecret = "secret"
	cfg.KIS.AccountNo = "1234567801"
	cfg.KIS.HTSID = "testuser"
	cfg.Chase.Symbol = "KR6000000000"
	cfg.Chase.TargetQty = 100
	cfg.Chase.MinPrice = 9900
	cfg.Chase.MaxPrice = 10100
	return cfg
}

func TestValidateOK(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "missing app key",
			mutate: func(c *Config) { c.KIS.AppKey = "" },
			want:   "app_key",
		},
		{
			name: "no secret at all",
			mutate: func(c *Config) {
				c.KIS.AppSecret = ""
				c.KIS.EncryptedSecretPath = ""
			},
			want: "app_secret or encrypted_secret_path",
		},
		{
			name: "encrypted secret without password",
			mutate: func(c *Config) {
				c.KIS.AppSecret = ""
				c.KIS.EncryptedSecretPath = "secret.enc"
				c.KIS.SecretPassword = ""
			},
			want: "secret_password",
		},
		{
			name:   "short account number",
			mutate: func(c *Config) { c.KIS.AccountNo = "12345678" },
			want:   "account_no",
		},
		{
			name:   "bad environment",
			mutate: func(c *Config) { c.KIS.Environment = "staging" },
			want:   "environment",
		},
		{
			name:   "inverted price band",
			mutate: func(c *Config) { c.Chase.MinPrice, c.Chase.MaxPrice = 10100, 9900 },
			want:   "min_price must not exceed max_price",
		},
		{
			name:   "zero target qty",
			mutate: func(c *Config) { c.Chase.TargetQty = 0 },
			want:   "target_qty",
		},
		{
			name:   "bad band policy",
			mutate: func(c *Config) { c.Chase.BandPolicy = "retry" },
			want:   "band_policy",
		},
		{
			name: "monitor mode without hts id",
			mutate: func(c *Config) {
				c.Mode = "monitor"
				c.KIS.HTSID = ""
			},
			want: "hts_id",
		},
		{
			name:   "bad mode",
			mutate: func(c *Config) { c.Mode = "turbo" },
			want:   "unknown mode",
		},
		{
			name:   "bad credential backend",
			mutate: func(c *Config) { c.Credentials.Backend = "vault" },
			want:   "backend",
		},
		{
			name: "archive without postgres",
			mutate: func(c *Config) {
				c.Archive.Enabled = true
				c.S3.Enabled = true
			},
			want: "postgres must be enabled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error containing %q, got nil", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err.Error(), tt.want)
			}
		})
	}
}

func TestMonitorModeSkipsChaseChecks(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "monitor"
	cfg.Chase = ChaseConfig{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("monitor mode should not require a chase target: %v", err)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kisbot.toml")
	content := `
mode = "monitor"
log_level = "debug"

[kis]
app_key = "key-from-file"
app_secret = "secret-from-file"
account_no = "1234567801"
environment = "live"

[chase]
symbol = "KR6000000000"
target_qty = 50
poll_interval = "10s"
band_policy = "hold"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "monitor" {
		t.Fatalf("mode = %q, want monitor", cfg.Mode)
	}
	if cfg.KIS.Environment != "live" {
		t.Fatalf("environment = %q, want live", cfg.KIS.Environment)
	}
	if cfg.Chase.PollInterval.Duration != 10*time.Second {
		t.Fatalf("poll_interval = %v, want 10s", cfg.Chase.PollInterval.Duration)
	}
	if cfg.Chase.BandPolicy != "hold" {
		t.Fatalf("band_policy = %q, want hold", cfg.Chase.BandPolicy)
	}
	// Unset values fall back to defaults.
	if cfg.Chase.OrderQtyPerCycle != 1 {
		t.Fatalf("order_qty_per_cycle default = %d, want 1", cfg.Chase.OrderQtyPerCycle)
	}
	if cfg.Credentials.Backend != "file" {
		t.Fatalf("credentials backend default = %q, want file", cfg.Credentials.Backend)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KISBOT_KIS_APP_SECRET", "secret-from-env")
	t.Setenv("KISBOT_CHASE_TARGET_QTY", "250")
	t.Setenv("KISBOT_CHASE_POLL_INTERVAL", "5s")
	t.Setenv("KISBOT_NOTIFY_EVENTS", "error, target_achieved")

	cfg := validConfig()
	applyEnvOverrides(&cfg)

	if cfg.KIS.AppSecret != "secret-from-env" {
		t.Fatalf("AppSecret = %q, want env override", cfg.KIS.AppSecret)
	}
	if cfg.Chase.TargetQty != 250 {
		t.Fatalf("TargetQty = %d, want 250", cfg.Chase.TargetQty)
	}
	if cfg.Chase.PollInterval.Duration != 5*time.Second {
		t.Fatalf("PollInterval = %v, want 5s", cfg.Chase.PollInterval.Duration)
	}
	if len(cfg.Notify.Events) != 2 || cfg.Notify.Events[0] != "error" || cfg.Notify.Events[1] != "target_achieved" {
		t.Fatalf("Notify.Events = %v, want [error target_achieved]", cfg.Notify.Events)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.KIS.AppSecret = "super-secret"
	cfg.Redis.Password = "redis-pass"
	cfg.Postgres.Password = "pg-pass"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Notify.TelegramToken = "tg-token"

	red := RedactedConfig(&cfg)

	if red.KIS.AppSecret != "***" || red.Redis.Password != "***" ||
		red.Postgres.Password != "***" || red.S3.SecretKey != "***" ||
		red.Notify.TelegramToken != "***" {
		t.Fatalf("secrets not redacted: %+v", red)
	}
	if cfg.KIS.AppSecret != "super-secret" {
		t.Fatalf("original config mutated by redaction")
	}
	if red.KIS.AppKey != cfg.KIS.AppKey {
		t.Fatalf("non-secret field altered by redaction")
	}
}
