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
// built-in defaults, applies FUTARCHYD_* environment variable overrides, and
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

// applyEnvOverrides reads well-known FUTARCHYD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Venue ──
	setStr(&cfg.Venue.Mode, "FUTARCHYD_MODE")
	setStr(&cfg.Venue.LogLevel, "FUTARCHYD_LOG_LEVEL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "FUTARCHYD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "FUTARCHYD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "FUTARCHYD_SERVER_CORS_ORIGINS")
	setStringSlice(&cfg.Server.APIKeys, "FUTARCHYD_SERVER_API_KEYS")
	setInt(&cfg.Server.RateLimitPerMin, "FUTARCHYD_SERVER_RATE_LIMIT_PER_MIN")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "FUTARCHYD_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "FUTARCHYD_POSTGRES_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "FUTARCHYD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FUTARCHYD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FUTARCHYD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FUTARCHYD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FUTARCHYD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FUTARCHYD_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FUTARCHYD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FUTARCHYD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FUTARCHYD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "FUTARCHYD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FUTARCHYD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FUTARCHYD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FUTARCHYD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FUTARCHYD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FUTARCHYD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "FUTARCHYD_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "FUTARCHYD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FUTARCHYD_S3_REGION")
	setStr(&cfg.S3.Bucket, "FUTARCHYD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FUTARCHYD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FUTARCHYD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FUTARCHYD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FUTARCHYD_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.ArchiveInterval, "FUTARCHYD_S3_ARCHIVE_INTERVAL")
	setInt(&cfg.S3.RetentionDays, "FUTARCHYD_S3_RETENTION_DAYS")

	// ── AMM ──
	setUint64(&cfg.AMM.LPFeeBps, "FUTARCHYD_AMM_LP_FEE_BPS")
	setUint64(&cfg.AMM.ProtocolFeeBps, "FUTARCHYD_AMM_PROTOCOL_FEE_BPS")
	setUint64(&cfg.AMM.SplitRatioBps, "FUTARCHYD_AMM_SPLIT_RATIO_BPS")
	setStr(&cfg.AMM.MinLiquidityPolicy, "FUTARCHYD_AMM_MIN_LIQUIDITY_POLICY")
	setUint64(&cfg.AMM.MinLiquidityValue, "FUTARCHYD_AMM_MIN_LIQUIDITY_VALUE")

	// ── TWAP ──
	setDuration(&cfg.Twap.UpdateInterval, "FUTARCHYD_TWAP_UPDATE_INTERVAL")
	setDuration(&cfg.Twap.StartDelay, "FUTARCHYD_TWAP_START_DELAY")
	setFloat64(&cfg.Twap.MaxObservationChange, "FUTARCHYD_TWAP_MAX_OBSERVATION_CHANGE")

	// ── Crank ──
	setDuration(&cfg.Crank.Interval, "FUTARCHYD_CRANK_INTERVAL")
	setDuration(&cfg.Crank.MinInterval, "FUTARCHYD_CRANK_MIN_INTERVAL")
	setDuration(&cfg.Crank.LockTTL, "FUTARCHYD_CRANK_LOCK_TTL")
	setInt(&cfg.Crank.MaxOutcomesPerStep, "FUTARCHYD_CRANK_MAX_OUTCOMES_PER_STEP")

	// ── Arbitrage ──
	setStr(&cfg.Arbitrage.Strategy, "FUTARCHYD_ARBITRAGE_STRATEGY")
	setBool(&cfg.Arbitrage.Enabled, "FUTARCHYD_ARBITRAGE_ENABLED")
	setUint64(&cfg.Arbitrage.MaxInput, "FUTARCHYD_ARBITRAGE_MAX_INPUT")
	setUint64(&cfg.Arbitrage.MinProfit, "FUTARCHYD_ARBITRAGE_MIN_PROFIT")
	setDuration(&cfg.Arbitrage.Cooldown, "FUTARCHYD_ARBITRAGE_COOLDOWN")
	setUint64(&cfg.Arbitrage.MinEdgeBps, "FUTARCHYD_ARBITRAGE_MIN_EDGE_BPS")
	setUint64(&cfg.Arbitrage.KillSwitchLoss, "FUTARCHYD_ARBITRAGE_KILL_SWITCH_LOSS")

	// ── Governance ──
	setStr(&cfg.Governance.BaseURL, "FUTARCHYD_GOVERNANCE_BASE_URL")
	setStr(&cfg.Governance.APIKey, "FUTARCHYD_GOVERNANCE_API_KEY")
	setDuration(&cfg.Governance.PollInterval, "FUTARCHYD_GOVERNANCE_POLL_INTERVAL")

	// ── Custody ──
	setBool(&cfg.Custody.Enabled, "FUTARCHYD_CUSTODY_ENABLED")
	setStr(&cfg.Custody.BaseURL, "FUTARCHYD_CUSTODY_BASE_URL")
	setStr(&cfg.Custody.HMACSecret, "FUTARCHYD_CUSTODY_HMAC_SECRET")

	// ── Signer ──
	setStr(&cfg.Signer.KeyFile, "FUTARCHYD_SIGNER_KEY_FILE")
	setStr(&cfg.Signer.PassphraseEnv, "FUTARCHYD_SIGNER_PASSPHRASE_ENV")
	setInt64(&cfg.Signer.ChainID, "FUTARCHYD_SIGNER_CHAIN_ID")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FUTARCHYD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FUTARCHYD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FUTARCHYD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FUTARCHYD_NOTIFY_EVENTS")
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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
