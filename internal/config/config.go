// Package config defines the top-level configuration for vaultkeeper and
// provides validation helpers.
package config

import (
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by VAULTKEEPER_* environment variables.
type Config struct {
	Vault    VaultConfig    `toml:"vault"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// VaultConfig holds the engine identity and retry policy.
type VaultConfig struct {
	NetworkID      string   `toml:"network_id"`
	ClientID       string   `toml:"client_id"`
	RetryLimit     int      `toml:"retry_limit"`
	RetryDelay     duration `toml:"retry_delay"`
	AttemptTimeout duration `toml:"attempt_timeout"`
}

// LedgerConfig holds the vault gateway endpoint and client credentials. The
// secret is read from client_secret or decrypted from encrypted_secret_path.
type LedgerConfig struct {
	URL                 string   `toml:"url"`
	ClientSecret        string   `toml:"client_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	Timeout             duration `toml:"timeout"`
}

// MonitorConfig holds the control loop parameters.
type MonitorConfig struct {
	Interval    duration         `toml:"interval"`
	Concurrency int              `toml:"concurrency"`
	LockTTL     duration         `toml:"lock_ttl"`
	Vaults      []MonitoredVault `toml:"vaults"`
}

// MonitoredVault is one [[monitor.vaults]] entry. A zero
// target_health_ratio disables rebalancing for the vault.
type MonitoredVault struct {
	ID                string  `toml:"id"`
	MinHealthRatio    float64 `toml:"min_health_ratio"`
	TargetHealthRatio float64 `toml:"target_health_ratio"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int64  `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the cold-storage export of audit and operation rows.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	Schedule      string `toml:"schedule"`
	RetentionDays int    `toml:"retention_days"`
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	DedupWindow       duration `toml:"dedup_window"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Vault: VaultConfig{
			RetryLimit: 3,
			RetryDelay: duration{500 * time.Millisecond},
		},
		Ledger: LedgerConfig{
			URL:     "http://localhost:8545",
			Timeout: duration{10 * time.Second},
		},
		Monitor: MonitorConfig{
			Interval:    duration{time.Minute},
			Concurrency: 4,
			LockTTL:     duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "vaultkeeper",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10_000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "vaultkeeper-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Schedule:      "0 3 * * *",
			RetentionDays: 90,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events:      []string{"vault_liquidated", "vault_rebalanced", "operation_failed"},
			DedupWindow: duration{5 * time.Minute},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"monitor": true,
	"server":  true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// RunsMonitor reports whether the mode includes the control loop.
func (c *Config) RunsMonitor() bool {
	m := strings.ToLower(c.Mode)
	return m == "monitor" || m == "full"
}

// RunsServer reports whether the mode includes the HTTP API.
func (c *Config) RunsServer() bool {
	m := strings.ToLower(c.Mode)
	return m == "server" || m == "full"
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// OperationBudget is the longest a single vault procedure can take: two
// ledger calls, each spending the full retry budget.
func (c *Config) OperationBudget() time.Duration {
	attempt := c.Ledger.Timeout.Duration
	if t := c.Vault.AttemptTimeout.Duration; t > 0 && (attempt <= 0 || t < attempt) {
		attempt = t
	}
	limit := max(c.Vault.RetryLimit, 0)
	perCall := time.Duration(limit+1)*attempt + time.Duration(limit)*c.Vault.RetryDelay.Duration
	return 2 * perCall
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Vault
	if strings.TrimSpace(c.Vault.NetworkID) == "" {
		errs = append(errs, "vault: network_id must not be empty")
	}
	if strings.TrimSpace(c.Vault.ClientID) == "" {
		errs = append(errs, "vault: client_id must not be empty")
	}
	if c.Vault.RetryLimit < 0 {
		errs = append(errs, fmt.Sprintf("vault: retry_limit must be >= 0, got %d", c.Vault.RetryLimit))
	}
	if c.Vault.RetryDelay.Duration < 0 {
		errs = append(errs, "vault: retry_delay must not be negative")
	}
	if c.Vault.AttemptTimeout.Duration < 0 {
		errs = append(errs, "vault: attempt_timeout must not be negative")
	}

	// Ledger
	if u, err := url.Parse(c.Ledger.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("ledger: url %q must be an absolute http(s) URL", c.Ledger.URL))
	}
	if c.Ledger.ClientSecret == "" && c.Ledger.EncryptedSecretPath == "" {
		errs = append(errs, "ledger: either client_secret or encrypted_secret_path must be set")
	}
	if c.Ledger.EncryptedSecretPath != "" && c.Ledger.SecretPassword == "" {
		errs = append(errs, "ledger: secret_password is required when encrypted_secret_path is set")
	}

	// Monitor
	if c.RunsMonitor() {
		if len(c.Monitor.Vaults) == 0 {
			errs = append(errs, "monitor: at least one [[monitor.vaults]] entry is required for mode "+c.Mode)
		}
		if c.Monitor.Interval.Duration <= 0 {
			errs = append(errs, "monitor: interval must be > 0")
		}
		if c.Monitor.Concurrency < 1 {
			errs = append(errs, "monitor: concurrency must be >= 1")
		}
	}
	seen := make(map[string]bool, len(c.Monitor.Vaults))
	for i, v := range c.Monitor.Vaults {
		if strings.TrimSpace(v.ID) == "" {
			errs = append(errs, fmt.Sprintf("monitor.vaults[%d]: id must not be empty", i))
			continue
		}
		if seen[v.ID] {
			errs = append(errs, fmt.Sprintf("monitor.vaults[%d]: duplicate id %q", i, v.ID))
		}
		seen[v.ID] = true
		minOK := finite(v.MinHealthRatio) && v.MinHealthRatio > 0
		targetOK := finite(v.TargetHealthRatio) && v.TargetHealthRatio >= 0
		if !minOK {
			errs = append(errs, fmt.Sprintf("monitor.vaults[%d]: min_health_ratio must be a finite number > 0, got %v", i, v.MinHealthRatio))
		}
		if !targetOK {
			errs = append(errs, fmt.Sprintf("monitor.vaults[%d]: target_health_ratio must be a finite number >= 0, got %v", i, v.TargetHealthRatio))
		}
		if minOK && targetOK && v.TargetHealthRatio > 0 && v.TargetHealthRatio < v.MinHealthRatio {
			errs = append(errs, fmt.Sprintf("monitor.vaults[%d]: target_health_ratio %.2f is below min_health_ratio %.2f", i, v.TargetHealthRatio, v.MinHealthRatio))
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
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Archive
	if c.Archive.Enabled {
		if !c.Postgres.Enabled || !c.S3.Enabled {
			errs = append(errs, "archive: requires postgres.enabled and s3.enabled")
		}
		if len(strings.Fields(c.Archive.Schedule)) != 5 {
			errs = append(errs, fmt.Sprintf("archive: schedule %q must be a 5-field cron expression", c.Archive.Schedule))
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Server
	if c.RunsServer() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
