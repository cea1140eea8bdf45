package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
mode = "full"
log_level = "debug"

[vault]
network_id = "testnet"
client_id = "keeper-1"
retry_limit = 2
retry_delay = "250ms"

[ledger]
url = "https://gateway.example/"
client_secret = "s3cret"

[monitor]
interval = "30s"
concurrency = 2

[[monitor.vaults]]
id = "vault-a"
min_health_ratio = 120
target_health_ratio = 150

[[monitor.vaults]]
id = "vault-b"
min_health_ratio = 110

[postgres]
enabled = true
password = "pg-pass"

[s3]
enabled = true

[archive]
enabled = true
schedule = "0 4 * * 0"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "testnet", cfg.Vault.NetworkID)
	assert.Equal(t, 2, cfg.Vault.RetryLimit)
	assert.Equal(t, 250*time.Millisecond, cfg.Vault.RetryDelay.Duration)
	assert.Equal(t, 30*time.Second, cfg.Monitor.Interval.Duration)
	assert.Equal(t, 30*time.Second, cfg.Monitor.LockTTL.Duration, "default kept")
	require.Len(t, cfg.Monitor.Vaults, 2)
	assert.Equal(t, MonitoredVault{ID: "vault-b", MinHealthRatio: 110}, cfg.Monitor.Vaults[1])
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, "0 4 * * 0", cfg.Archive.Schedule)
	assert.Equal(t, 90, cfg.Archive.RetentionDays)

	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.RunsMonitor())
	assert.True(t, cfg.RunsServer())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("VAULTKEEPER_MODE", "server")
	t.Setenv("VAULTKEEPER_VAULT_RETRY_LIMIT", "7")
	t.Setenv("VAULTKEEPER_LEDGER_CLIENT_SECRET", "from-env")
	t.Setenv("VAULTKEEPER_SERVER_CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("VAULTKEEPER_MONITOR_INTERVAL", "not-a-duration")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, 7, cfg.Vault.RetryLimit)
	assert.Equal(t, "from-env", cfg.Ledger.ClientSecret)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 30*time.Second, cfg.Monitor.Interval.Duration, "unparsable override ignored")
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "[vault]\nnetwrk_id = \"typo\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vault.netwrk_id")
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Vault.RetryLimit = -1
	cfg.Ledger.URL = "gateway"
	cfg.Monitor.Vaults = []MonitoredVault{
		{ID: "a", MinHealthRatio: 150, TargetHealthRatio: 120},
		{ID: "a", MinHealthRatio: 110},
		{ID: ""},
	}
	cfg.Archive.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		`unknown mode "trade"`,
		"vault: network_id must not be empty",
		"vault: retry_limit must be >= 0, got -1",
		`ledger: url "gateway"`,
		"ledger: either client_secret or encrypted_secret_path must be set",
		"monitor.vaults[0]: target_health_ratio 120.00 is below min_health_ratio 150.00",
		`monitor.vaults[1]: duplicate id "a"`,
		"monitor.vaults[2]: id must not be empty",
		"archive: requires postgres.enabled and s3.enabled",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestValidate_RejectsNonFiniteRatios(t *testing.T) {
	body := `
mode = "monitor"

[vault]
network_id = "n"
client_id = "c"

[ledger]
client_secret = "s"

[[monitor.vaults]]
id = "nan-min"
min_health_ratio = nan

[[monitor.vaults]]
id = "inf-target"
min_health_ratio = 110
target_health_ratio = inf

[[monitor.vaults]]
id = "neg-inf-min"
min_health_ratio = -inf
`
	cfg, err := Load(writeConfig(t, body))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "monitor.vaults[0]: min_health_ratio must be a finite number > 0, got NaN")
	assert.Contains(t, msg, "monitor.vaults[1]: target_health_ratio must be a finite number >= 0, got +Inf")
	assert.Contains(t, msg, "monitor.vaults[2]: min_health_ratio must be a finite number > 0, got -Inf")
	assert.NotContains(t, msg, "is below min_health_ratio")
}

func TestLoad_ZeroRetryDelayIsKept(t *testing.T) {
	cfg, err := Load(writeConfig(t, "[vault]\nretry_delay = \"0s\"\n"))
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.Vault.RetryDelay.Duration)

	cfg, err = Load(writeConfig(t, "[vault]\nretry_limit = 1\n"))
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, cfg.Vault.RetryDelay.Duration, "default when unset")
}

func TestOperationBudget(t *testing.T) {
	cfg := Defaults()
	// 2 calls x (4 attempts x 10s + 3 sleeps x 500ms)
	assert.Equal(t, 83*time.Second, cfg.OperationBudget())

	cfg.Vault.AttemptTimeout.Duration = 2 * time.Second
	cfg.Vault.RetryLimit = 1
	cfg.Vault.RetryDelay.Duration = 0
	assert.Equal(t, 8*time.Second, cfg.OperationBudget())
}

func TestValidate_MonitorModeNeedsVaults(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "monitor"
	cfg.Vault.NetworkID = "n"
	cfg.Vault.ClientID = "c"
	cfg.Ledger.ClientSecret = "s"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one [[monitor.vaults]]")

	cfg.Mode = "server"
	assert.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Ledger.ClientSecret = "s3cret"
	cfg.Postgres.Password = "pw"
	cfg.Server.APIKey = "key"
	cfg.Monitor.Vaults = []MonitoredVault{{ID: "v1"}}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Ledger.ClientSecret)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Empty(t, out.Redis.Password, "empty secrets stay empty")

	out.Monitor.Vaults[0].ID = "changed"
	out.Notify.Events[0] = "changed"
	assert.Equal(t, "v1", cfg.Monitor.Vaults[0].ID)
	assert.Equal(t, "vault_liquidated", cfg.Notify.Events[0])
	assert.Equal(t, "s3cret", cfg.Ledger.ClientSecret)
}
