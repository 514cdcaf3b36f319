// Package config defines the top-level configuration for the futarchy
// liquidity venue and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by FUTARCHYD_* environment
// variables.
type Config struct {
	Venue      VenueConfig      `toml:"venue"`
	Server     ServerConfig     `toml:"server"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	AMM        AMMConfig        `toml:"amm"`
	Twap       TwapConfig       `toml:"twap"`
	Crank      CrankConfig      `toml:"crank"`
	Arbitrage  ArbitrageConfig  `toml:"arbitrage"`
	Governance GovernanceConfig `toml:"governance"`
	Custody    CustodyConfig    `toml:"custody"`
	Signer     SignerConfig     `toml:"signer"`
	Notify     NotifyConfig     `toml:"notify"`
}

// VenueConfig holds the run mode and logging level.
type VenueConfig struct {
	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKeys authorize mutating and governance-boundary routes. Cranks
	// stay unauthenticated: anyone may advance a resolved proposal.
	APIKeys         []string `toml:"api_keys"`
	RateLimitPerMin int      `toml:"rate_limit_per_min"`
}

// PostgresConfig holds PostgreSQL connection parameters. Either a full DSN
// or the discrete fields may be given; the DSN wins when both are set.
type PostgresConfig struct {
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
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the settlement
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// ArchiveInterval paces the cold-storage sweep. Each run re-uploads the
	// current month's archive files, so re-running is an overwrite, not a
	// duplicate. Zero disables archival.
	ArchiveInterval duration `toml:"archive_interval"`
	// RetentionDays is the age past which rows are swept to cold storage.
	RetentionDays int `toml:"retention_days"`
}

// AMMConfig holds the default per-market pool policy. Individual markets may
// override these at creation through a named policy preset.
type AMMConfig struct {
	LPFeeBps       uint64 `toml:"lp_fee_bps"`
	ProtocolFeeBps uint64 `toml:"protocol_fee_bps"`
	SplitRatioBps  uint64 `toml:"split_ratio_bps"`
	// MinLiquidityPolicy selects the drain-protection floor: "absolute"
	// (fixed reserve units) or "bps" (share of trading reserves).
	MinLiquidityPolicy string `toml:"min_liquidity_policy"`
	MinLiquidityValue  uint64 `toml:"min_liquidity_value"`
}

// TwapConfig holds oracle parameters shared by spot and conditional pools.
type TwapConfig struct {
	UpdateInterval duration `toml:"update_interval"`
	StartDelay     duration `toml:"start_delay"`
	// MaxObservationChange caps how far one observation may move from the
	// previous one, in whole price units (1.0 = parity).
	MaxObservationChange float64 `toml:"max_observation_change"`
}

// CrankConfig holds the permissionless crank loops' pacing.
type CrankConfig struct {
	Interval           duration `toml:"interval"`
	MinInterval        duration `toml:"min_interval"`
	LockTTL            duration `toml:"lock_ttl"`
	MaxOutcomesPerStep int      `toml:"max_outcomes_per_step"`
}

// ArbitrageConfig holds the detector/executor guardrails.
type ArbitrageConfig struct {
	// Strategy selects the detection strategy: "cycle" sizes every price
	// tick, "screened" pre-filters on the cached price surface first.
	Strategy  string   `toml:"strategy"`
	Enabled   bool     `toml:"enabled"`
	MaxInput  uint64   `toml:"max_input"`
	MinProfit uint64   `toml:"min_profit"`
	Cooldown  duration `toml:"cooldown"`
	// MinEdgeBps is the spot-vs-conditional divergence the screened
	// strategy requires before running the exact sizing search.
	MinEdgeBps uint64 `toml:"min_edge_bps"`
	// KillSwitchLoss disables the executor once the cumulative shortfall
	// between simulated and realized profit crosses this many stable units.
	KillSwitchLoss uint64 `toml:"kill_switch_loss"`
}

// GovernanceConfig holds the external governance collaborator's API.
type GovernanceConfig struct {
	BaseURL      string   `toml:"base_url"`
	APIKey       string   `toml:"api_key"`
	PollInterval duration `toml:"poll_interval"`
}

// CustodyConfig holds the treasury collaborator's API.
type CustodyConfig struct {
	Enabled    bool   `toml:"enabled"`
	BaseURL    string `toml:"base_url"`
	HMACSecret string `toml:"hmac_secret"`
}

// SignerConfig holds the claim-voucher signing key.
type SignerConfig struct {
	KeyFile string `toml:"key_file"`
	// PassphraseEnv names the environment variable holding the key
	// passphrase, so the passphrase itself never sits in the TOML file.
	PassphraseEnv string `toml:"passphrase_env"`
	ChainID       int64  `toml:"chain_id"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Venue: VenueConfig{
			Mode:     "full",
			LogLevel: "info",
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMin: 600,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "futarchyd",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:         false,
			Endpoint:        "http://localhost:9000",
			Region:          "us-east-1",
			Bucket:          "futarchyd-settlements",
			UseSSL:          false,
			ForcePathStyle:  true,
			ArchiveInterval: duration{24 * time.Hour},
			RetentionDays:   90,
		},
		AMM: AMMConfig{
			LPFeeBps:           30,
			ProtocolFeeBps:     10,
			SplitRatioBps:      8_000,
			MinLiquidityPolicy: "bps",
			MinLiquidityValue:  100,
		},
		Twap: TwapConfig{
			UpdateInterval:       duration{time.Minute},
			StartDelay:           duration{3 * time.Minute},
			MaxObservationChange: 5.0,
		},
		Crank: CrankConfig{
			Interval:           duration{15 * time.Second},
			MinInterval:        duration{30 * time.Second},
			LockTTL:            duration{time.Minute},
			MaxOutcomesPerStep: 16,
		},
		Arbitrage: ArbitrageConfig{
			Strategy:       "cycle",
			Enabled:        false,
			MaxInput:       1_000_000_000,
			MinProfit:      1_000,
			Cooldown:       duration{5 * time.Second},
			MinEdgeBps:     50,
			KillSwitchLoss: 10_000_000,
		},
		Governance: GovernanceConfig{
			PollInterval: duration{30 * time.Second},
		},
		Custody: CustodyConfig{
			Enabled: false,
		},
		Signer: SignerConfig{
			PassphraseEnv: "FUTARCHYD_SIGNER_PASSPHRASE",
			ChainID:       1,
		},
		Notify: NotifyConfig{
			Events: []string{"proposal_resolved", "recombined", "arb_executed", "error"},
		},
	}
}

// validModes enumerates the accepted values for Venue.Mode.
var validModes = map[string]bool{
	"serve": true,
	"crank": true,
	"full":  true,
}

// validLogLevels enumerates the accepted values for Venue.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

const maxBps = 10_000

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Venue.Mode)] {
		errs = append(errs, fmt.Sprintf("venue: unknown mode %q (valid: serve, crank, full)", c.Venue.Mode))
	}
	if !validLogLevels[strings.ToLower(c.Venue.LogLevel)] {
		errs = append(errs, fmt.Sprintf("venue: unknown log_level %q (valid: debug, info, warn, error)", c.Venue.LogLevel))
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitPerMin < 1 {
			errs = append(errs, "server: rate_limit_per_min must be >= 1")
		}
	}

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

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.ArchiveInterval.Duration > 0 && c.S3.RetentionDays <= 0 {
			errs = append(errs, "s3: retention_days must be positive when archival is on")
		}
	}

	if c.AMM.LPFeeBps+c.AMM.ProtocolFeeBps >= maxBps {
		errs = append(errs, fmt.Sprintf("amm: combined fees %d bps reach 100%%", c.AMM.LPFeeBps+c.AMM.ProtocolFeeBps))
	}
	if c.AMM.SplitRatioBps == 0 || c.AMM.SplitRatioBps > maxBps {
		errs = append(errs, fmt.Sprintf("amm: split_ratio_bps must be in (0, %d], got %d", maxBps, c.AMM.SplitRatioBps))
	}
	switch c.AMM.MinLiquidityPolicy {
	case "absolute":
	case "bps":
		if c.AMM.MinLiquidityValue >= maxBps {
			errs = append(errs, fmt.Sprintf("amm: min_liquidity_value %d bps reaches 100%%", c.AMM.MinLiquidityValue))
		}
	default:
		errs = append(errs, fmt.Sprintf("amm: unknown min_liquidity_policy %q (valid: absolute, bps)", c.AMM.MinLiquidityPolicy))
	}

	if c.Twap.UpdateInterval.Duration <= 0 {
		errs = append(errs, "twap: update_interval must be > 0")
	}
	if c.Twap.StartDelay.Duration < 0 {
		errs = append(errs, "twap: start_delay must be >= 0")
	}
	if c.Twap.MaxObservationChange <= 0 {
		errs = append(errs, "twap: max_observation_change must be > 0")
	}

	if c.Crank.Interval.Duration <= 0 {
		errs = append(errs, "crank: interval must be > 0")
	}
	if c.Crank.MinInterval.Duration < 0 {
		errs = append(errs, "crank: min_interval must be >= 0")
	}
	if c.Crank.LockTTL.Duration <= 0 {
		errs = append(errs, "crank: lock_ttl must be > 0")
	}
	if c.Crank.MaxOutcomesPerStep < 1 {
		errs = append(errs, "crank: max_outcomes_per_step must be >= 1")
	}

	if c.Arbitrage.Enabled {
		switch c.Arbitrage.Strategy {
		case "cycle", "screened":
		default:
			errs = append(errs, fmt.Sprintf("arbitrage: unknown strategy %q (valid: cycle, screened)", c.Arbitrage.Strategy))
		}
		if c.Arbitrage.MaxInput == 0 {
			errs = append(errs, "arbitrage: max_input must be > 0 when enabled")
		}
		if c.Arbitrage.MinEdgeBps >= maxBps {
			errs = append(errs, fmt.Sprintf("arbitrage: min_edge_bps %d reaches 100%%", c.Arbitrage.MinEdgeBps))
		}
		if c.Arbitrage.KillSwitchLoss == 0 {
			errs = append(errs, "arbitrage: kill_switch_loss must be > 0 when enabled")
		}
	}

	if c.Governance.BaseURL != "" && c.Governance.PollInterval.Duration <= 0 {
		errs = append(errs, "governance: poll_interval must be > 0 when base_url is set")
	}

	if c.Custody.Enabled {
		if c.Custody.BaseURL == "" {
			errs = append(errs, "custody: base_url must not be empty when enabled")
		}
		if c.Custody.HMACSecret == "" {
			errs = append(errs, "custody: hmac_secret must not be empty when enabled")
		}
	}

	if c.Signer.KeyFile != "" && c.Signer.PassphraseEnv == "" {
		errs = append(errs, "signer: passphrase_env is required when key_file is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
