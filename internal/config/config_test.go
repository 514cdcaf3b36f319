package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	require := require.New(t)

	cfg := Defaults()
	require.NoError(cfg.Validate())
	require.Equal("full", cfg.Venue.Mode)
	require.Equal(8000, cfg.Server.Port)
	require.Equal(uint64(8_000), cfg.AMM.SplitRatioBps)
	require.Equal(30*time.Second, cfg.Crank.MinInterval.Duration)
	require.False(cfg.Arbitrage.Enabled)
	require.Equal("cycle", cfg.Arbitrage.Strategy)
	require.Equal(uint64(50), cfg.Arbitrage.MinEdgeBps)
}

func TestValidateRejectsUnknownArbStrategy(t *testing.T) {
	require := require.New(t)

	cfg := Defaults()
	cfg.Arbitrage.Enabled = true
	cfg.Arbitrage.Strategy = "martingale"

	err := cfg.Validate()
	require.Error(err)
	require.Contains(err.Error(), `unknown strategy "martingale"`)

	cfg.Arbitrage.Strategy = "screened"
	require.NoError(cfg.Validate())
}

func TestValidateCollectsAllErrors(t *testing.T) {
	require := require.New(t)

	cfg := Defaults()
	cfg.Venue.Mode = "turbo"
	cfg.AMM.SplitRatioBps = 0
	cfg.Twap.UpdateInterval.Duration = 0

	err := cfg.Validate()
	require.Error(err)
	require.Contains(err.Error(), `unknown mode "turbo"`)
	require.Contains(err.Error(), "split_ratio_bps")
	require.Contains(err.Error(), "update_interval")
}

func TestValidateRejectsFeeOverflow(t *testing.T) {
	require := require.New(t)

	cfg := Defaults()
	cfg.AMM.LPFeeBps = 6_000
	cfg.AMM.ProtocolFeeBps = 4_000

	err := cfg.Validate()
	require.Error(err)
	require.Contains(err.Error(), "combined fees")
}

func TestValidateConditionalSections(t *testing.T) {
	require := require.New(t)

	cfg := Defaults()
	cfg.Custody.Enabled = true
	err := cfg.Validate()
	require.Error(err)
	require.Contains(err.Error(), "custody: base_url")
	require.Contains(err.Error(), "custody: hmac_secret")

	cfg = Defaults()
	cfg.Signer.KeyFile = "signer.key"
	cfg.Signer.PassphraseEnv = ""
	err = cfg.Validate()
	require.Error(err)
	require.Contains(err.Error(), "passphrase_env")

	// DSN makes the discrete postgres fields optional.
	cfg = Defaults()
	cfg.Postgres.Host = ""
	cfg.Postgres.Database = ""
	cfg.Postgres.DSN = "postgres://u:p@db:5432/futarchyd"
	require.NoError(cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
[venue]
mode = "crank"

[amm]
split_ratio_bps = 9000

[twap]
update_interval = "2m"

[notify]
events = ["error"]
`
	require.NoError(os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(err)
	require.Equal("crank", cfg.Venue.Mode)
	require.Equal(uint64(9_000), cfg.AMM.SplitRatioBps)
	require.Equal(2*time.Minute, cfg.Twap.UpdateInterval.Duration)
	require.Equal([]string{"error"}, cfg.Notify.Events)

	// Untouched sections keep their defaults.
	require.Equal("info", cfg.Venue.LogLevel)
	require.Equal(uint64(30), cfg.AMM.LPFeeBps)
	require.NoError(cfg.Validate())
}

func TestLoadRejectsBadDuration(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
[crank]
interval = "soon"
`
	require.NoError(os.WriteFile(path, []byte(body), 0o644))

	_, err := Load(path)
	require.Error(err)
}

func TestEnvOverrides(t *testing.T) {
	require := require.New(t)

	t.Setenv("FUTARCHYD_MODE", "serve")
	t.Setenv("FUTARCHYD_POSTGRES_PASSWORD", "hunter2")
	t.Setenv("FUTARCHYD_AMM_LP_FEE_BPS", "25")
	t.Setenv("FUTARCHYD_ARBITRAGE_ENABLED", "true")
	t.Setenv("FUTARCHYD_CRANK_MIN_INTERVAL", "45s")
	t.Setenv("FUTARCHYD_SERVER_API_KEYS", "alpha, beta ,gamma")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	require.Equal("serve", cfg.Venue.Mode)
	require.Equal("hunter2", cfg.Postgres.Password)
	require.Equal(uint64(25), cfg.AMM.LPFeeBps)
	require.True(cfg.Arbitrage.Enabled)
	require.Equal(45*time.Second, cfg.Crank.MinInterval.Duration)
	require.Equal([]string{"alpha", "beta", "gamma"}, cfg.Server.APIKeys)
}

func TestEnvOverrideIgnoresMalformedValues(t *testing.T) {
	require := require.New(t)

	t.Setenv("FUTARCHYD_SERVER_PORT", "not-a-port")
	t.Setenv("FUTARCHYD_ARBITRAGE_MAX_INPUT", "-5")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	require.Equal(8000, cfg.Server.Port)
	require.Equal(uint64(1_000_000_000), cfg.Arbitrage.MaxInput)
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	require := require.New(t)

	cfg := Defaults()
	cfg.Postgres.Password = "secret-pg"
	cfg.Redis.Password = "secret-redis"
	cfg.S3.AccessKey = "AKIA123"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Governance.APIKey = "gov-key"
	cfg.Custody.HMACSecret = "custody-secret"
	cfg.Notify.TelegramToken = "tg-token"
	cfg.Server.APIKeys = []string{"key-1", "key-2"}

	red := RedactedConfig(&cfg)

	require.Equal("***", red.Postgres.Password)
	require.Equal("***", red.Redis.Password)
	require.Equal("***", red.S3.AccessKey)
	require.Equal("***", red.S3.SecretKey)
	require.Equal("***", red.Governance.APIKey)
	require.Equal("***", red.Custody.HMACSecret)
	require.Equal("***", red.Notify.TelegramToken)
	require.Equal([]string{"***", "***"}, red.Server.APIKeys)

	// Original is untouched and the redacted slices are copies.
	require.Equal("secret-pg", cfg.Postgres.Password)
	require.Equal([]string{"key-1", "key-2"}, cfg.Server.APIKeys)
	red.Notify.Events[0] = "mutated"
	require.Equal("proposal_resolved", cfg.Notify.Events[0])
}
