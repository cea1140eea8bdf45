package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies VAULTKEEPER_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known VAULTKEEPER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Vault ──
	setStr(&cfg.Vault.NetworkID, "VAULTKEEPER_VAULT_NETWORK_ID")
	setStr(&cfg.Vault.ClientID, "VAULTKEEPER_VAULT_CLIENT_ID")
	setInt(&cfg.Vault.RetryLimit, "VAULTKEEPER_VAULT_RETRY_LIMIT")
	setDuration(&cfg.Vault.RetryDelay, "VAULTKEEPER_VAULT_RETRY_DELAY")
	setDuration(&cfg.Vault.AttemptTimeout, "VAULTKEEPER_VAULT_ATTEMPT_TIMEOUT")

	// ── Ledger ──
	setStr(&cfg.Ledger.URL, "VAULTKEEPER_LEDGER_URL")
	setStr(&cfg.Ledger.ClientSecret, "VAULTKEEPER_LEDGER_CLIENT_SECRET")
	setStr(&cfg.Ledger.EncryptedSecretPath, "VAULTKEEPER_LEDGER_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Ledger.SecretPassword, "VAULTKEEPER_LEDGER_SECRET_PASSWORD")
	setDuration(&cfg.Ledger.Timeout, "VAULTKEEPER_LEDGER_TIMEOUT")

	// ── Monitor ──
	setDuration(&cfg.Monitor.Interval, "VAULTKEEPER_MONITOR_INTERVAL")
	setInt(&cfg.Monitor.Concurrency, "VAULTKEEPER_MONITOR_CONCURRENCY")
	setDuration(&cfg.Monitor.LockTTL, "VAULTKEEPER_MONITOR_LOCK_TTL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "VAULTKEEPER_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "VAULTKEEPER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "VAULTKEEPER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "VAULTKEEPER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "VAULTKEEPER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "VAULTKEEPER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "VAULTKEEPER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "VAULTKEEPER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "VAULTKEEPER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "VAULTKEEPER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "VAULTKEEPER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "VAULTKEEPER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "VAULTKEEPER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "VAULTKEEPER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "VAULTKEEPER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "VAULTKEEPER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "VAULTKEEPER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "VAULTKEEPER_REDIS_TLS_ENABLED")
	setInt64(&cfg.Redis.StreamMaxLen, "VAULTKEEPER_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "VAULTKEEPER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "VAULTKEEPER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "VAULTKEEPER_S3_REGION")
	setStr(&cfg.S3.Bucket, "VAULTKEEPER_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "VAULTKEEPER_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "VAULTKEEPER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "VAULTKEEPER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "VAULTKEEPER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "VAULTKEEPER_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "VAULTKEEPER_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Schedule, "VAULTKEEPER_ARCHIVE_SCHEDULE")
	setInt(&cfg.Archive.RetentionDays, "VAULTKEEPER_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setInt(&cfg.Server.Port, "VAULTKEEPER_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "VAULTKEEPER_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "VAULTKEEPER_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "VAULTKEEPER_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "VAULTKEEPER_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "VAULTKEEPER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "VAULTKEEPER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "VAULTKEEPER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "VAULTKEEPER_NOTIFY_EVENTS")
	setDuration(&cfg.Notify.DedupWindow, "VAULTKEEPER_NOTIFY_DEDUP_WINDOW")

	// ── Top-level ──
	setStr(&cfg.Mode, "VAULTKEEPER_MODE")
	setStr(&cfg.LogLevel, "VAULTKEEPER_LOG_LEVEL")
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
