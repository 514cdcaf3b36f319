package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	s3blob "github.com/praxismarkets/futarchyd/internal/blob/s3"
	"github.com/praxismarkets/futarchyd/internal/cache/redis"
	"github.com/praxismarkets/futarchyd/internal/config"
	"github.com/praxismarkets/futarchyd/internal/crypto"
	"github.com/praxismarkets/futarchyd/internal/domain"
	"github.com/praxismarkets/futarchyd/internal/notify"
	"github.com/praxismarkets/futarchyd/internal/platform/custody"
	"github.com/praxismarkets/futarchyd/internal/platform/governance"
	"github.com/praxismarkets/futarchyd/internal/store/postgres"
)

// Dependencies bundles every concrete dependency the run modes share. Wire
// constructs it and the returned cleanup function releases connections in
// reverse order.
type Dependencies struct {
	// Stores
	MarketStore   domain.MarketStore
	ProposalStore domain.ProposalStore
	PositionStore domain.PositionStore
	TradeStore    domain.TradeStore
	LedgerStore   domain.LedgerStore
	ClaimStore    domain.ClaimStore
	ArbStore      domain.ArbStore
	ArbExecStore  domain.ArbExecutionStore
	AuditStore    domain.AuditStore
	PolicyStore   domain.PolicyConfigStore

	// Redis
	MarketCache   domain.MarketCache
	PriceCache    domain.PriceCache
	ProposalCache domain.ProposalCache
	RateLimiter   domain.RateLimiter
	LockManager   domain.LockManager
	SignalBus     domain.SignalBus

	// Object storage. Nil unless s3.enabled.
	BlobWriter  domain.BlobWriter
	BlobReader  domain.BlobReader
	Archiver    domain.Archiver
	Settlements *s3blob.SettlementArchive

	// External collaborators. Nil unless configured.
	Governance *governance.Client
	Custody    *custody.Client
	Signer     *crypto.Signer

	Notifier *notify.Notifier

	// DB and Redis expose connectivity to the health endpoint.
	DB    *pgxpool.Pool
	Redis *redis.Client
}

// Wire constructs every concrete dependency from the configuration. Postgres
// and Redis are required in every mode; the settlement archive and the
// external collaborators are built only when configured and stay nil
// otherwise, and the services they feed degrade accordingly.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.DB = pool

	// The archiver needs the concrete stores: their ListBefore methods sit
	// outside the domain interfaces.
	tradeStore := postgres.NewTradeStore(pool)
	arbStore := postgres.NewArbStore(pool)
	auditStore := postgres.NewAuditStore(pool)

	deps.MarketStore = postgres.NewMarketStore(pool)
	deps.ProposalStore = postgres.NewProposalStore(pool)
	deps.PositionStore = postgres.NewPositionStore(pool)
	deps.TradeStore = tradeStore
	deps.LedgerStore = postgres.NewLedgerStore(pool)
	deps.ClaimStore = postgres.NewClaimStore(pool)
	deps.ArbStore = arbStore
	deps.ArbExecStore = postgres.NewArbExecutionStore(pool)
	deps.AuditStore = auditStore
	deps.PolicyStore = postgres.NewPolicyStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Redis = redisClient

	deps.MarketCache = redis.NewMarketCache(redisClient)
	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.ProposalCache = redis.NewProposalCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 settlement archive and cold storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Settlements = s3blob.NewSettlementArchive(deps.BlobWriter, deps.BlobReader)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, tradeStore, arbStore, auditStore, auditStore)
	}

	// --- Governance and custody collaborators ---
	if cfg.Governance.BaseURL != "" {
		deps.Governance = governance.NewClient(cfg.Governance.BaseURL, cfg.Governance.APIKey)
	}
	if cfg.Custody.Enabled {
		deps.Custody = custody.NewClient(cfg.Custody.BaseURL, cfg.Custody.HMACSecret)
	}

	// --- Claim-voucher signer ---
	if cfg.Signer.KeyFile != "" {
		keyHex, err := crypto.LoadKey(crypto.KeyConfig{
			EncryptedKeyPath: cfg.Signer.KeyFile,
			KeyPassword:      os.Getenv(cfg.Signer.PassphraseEnv),
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: signer key: %w", err)
		}
		signer, err := crypto.NewSigner(keyHex, cfg.Signer.ChainID)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: signer: %w", err)
		}
		deps.Signer = signer
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger).
		WithPacer(deps.RateLimiter)

	return deps, cleanup, nil
}
