package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/praxismarkets/futarchyd/internal/arbexec"
	"github.com/praxismarkets/futarchyd/internal/arbitrage"
	"github.com/praxismarkets/futarchyd/internal/domain"
	"github.com/praxismarkets/futarchyd/internal/engine"
	"github.com/praxismarkets/futarchyd/internal/feed"
	"github.com/praxismarkets/futarchyd/internal/pipeline"
	"github.com/praxismarkets/futarchyd/internal/server"
	"github.com/praxismarkets/futarchyd/internal/server/handler"
	"github.com/praxismarkets/futarchyd/internal/server/ws"
	"github.com/praxismarkets/futarchyd/internal/service"
)

// detectorScanGap folds a burst of same-market price ticks into one sizing
// scan.
const detectorScanGap = 2 * time.Second

// services bundles the service layer one run shares across its goroutines.
type services struct {
	venue       *service.VenueService
	prices      *service.PriceService
	trades      *service.TradeService
	liquidity   *service.LiquidityService
	withdrawals *service.WithdrawalService
	ledger      *service.LedgerService
	proposals   *service.ProposalService
	settlements *service.SettlementService
	cranks      *service.CrankService
	arb         *service.ArbService
}

// ServeMode runs the HTTP and WebSocket API over the shared service layer.
// Background loops stay off; a serve process expects a crank process (or
// manual crank calls) to advance settlements. The mode itself is the intent
// to serve, so server.enabled is not consulted here.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	a.startHTTPServer(ctx, g, deps, svcs)

	return g.Wait()
}

// CrankMode runs the background loops only: governance resolution polling,
// the recombination and TWAP cranks, settlement sweeping, cold-storage
// archival, the event feeder, and the arbitrage engine when enabled. No
// HTTP surface.
func (a *App) CrankMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting crank mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	a.startBackground(ctx, g, deps, svcs)

	return g.Wait()
}

// FullMode runs the whole venue in one process: every crank-mode loop plus
// the HTTP and WebSocket API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	a.startBackground(ctx, g, deps, svcs)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svcs)
	}

	return g.Wait()
}

// buildServices constructs the full service graph over the wired
// dependencies. Optional collaborators attach only when present; a venue
// without custody, a signer, or an archive still runs, with the affected
// operations degraded.
func (a *App) buildServices(deps *Dependencies) *services {
	twap := engine.TwapConfig{
		UpdateInterval:       a.cfg.Twap.UpdateInterval.Duration,
		StartDelay:           a.cfg.Twap.StartDelay.Duration,
		MaxObservationChange: priceUnits(a.cfg.Twap.MaxObservationChange),
	}

	venue := service.NewVenueService(
		deps.MarketStore, deps.ProposalStore, deps.LedgerStore,
		deps.MarketCache, deps.AuditStore,
		twap, a.cfg.Crank.MinInterval.Duration, a.logger,
	).WithDefaultParams(a.defaultParams(twap)).WithPolicies(deps.PolicyStore)

	prices := service.NewPriceService(deps.PriceCache, venue, deps.ProposalStore, deps.SignalBus, a.logger)
	trades := service.NewTradeService(venue, deps.TradeStore, prices, deps.SignalBus, deps.AuditStore, a.logger)

	liquidity := service.NewLiquidityService(venue, deps.PositionStore, deps.SignalBus, deps.AuditStore, a.logger)
	if deps.Custody != nil {
		liquidity = liquidity.WithCustody(deps.Custody)
	}

	withdrawals := service.NewWithdrawalService(venue, deps.PositionStore, deps.ClaimStore, deps.SignalBus, deps.AuditStore, a.logger)
	if deps.Signer != nil {
		withdrawals = withdrawals.WithSigner(deps.Signer)
	}
	if deps.Custody != nil {
		withdrawals = withdrawals.WithCustody(deps.Custody)
	}

	ledger := service.NewLedgerService(
		venue, deps.LedgerStore, deps.ProposalStore, deps.TradeStore,
		prices, deps.SignalBus, deps.AuditStore, a.logger,
	)
	proposals := service.NewProposalService(
		venue, deps.ProposalStore, deps.LedgerStore, deps.ProposalCache,
		deps.SignalBus, deps.AuditStore, a.logger,
	)

	settlements := service.NewSettlementService(deps.AuditStore, a.logger).WithNotifier(deps.Notifier)
	if deps.Settlements != nil {
		settlements = settlements.WithArchive(deps.Settlements)
	}

	cranks := service.NewCrankService(
		venue, ledger, settlements, prices,
		deps.ProposalStore, deps.PositionStore, deps.ProposalCache,
		deps.LockManager, deps.SignalBus, deps.AuditStore,
		a.cfg.Crank.LockTTL.Duration, a.cfg.Crank.MaxOutcomesPerStep, a.logger,
	)

	arb := service.NewArbService(
		venue, deps.ArbStore, deps.ArbExecStore, deps.TradeStore,
		deps.SignalBus, deps.AuditStore,
		a.cfg.Arbitrage.KillSwitchLoss, a.logger,
	).WithNotifier(deps.Notifier)

	return &services{
		venue:       venue,
		prices:      prices,
		trades:      trades,
		liquidity:   liquidity,
		withdrawals: withdrawals,
		ledger:      ledger,
		proposals:   proposals,
		settlements: settlements,
		cranks:      cranks,
		arb:         arb,
	}
}

// startBackground launches the loops every non-serve process runs: the
// event feeder, the orchestrated pipeline, and the arbitrage engine. The
// feeder deliberately lives here rather than in serve mode so that exactly
// one process copies pub/sub events onto the durable stream.
func (a *App) startBackground(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	feeder := feed.NewEventFeeder(deps.SignalBus, a.logger)
	g.Go(func() error {
		err := feeder.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("event feeder: %w", err)
	})

	a.startPipeline(ctx, g, deps, svcs)
	a.startArbitrage(ctx, g, deps, svcs)
}

// startPipeline launches the orchestrated loops. The resolution watcher is
// skipped without a governance endpoint (push resolutions still arrive
// through the API), and archival is skipped without object storage.
func (a *App) startPipeline(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	var watcher *pipeline.ResolutionWatcher
	if deps.Governance != nil {
		watcher = pipeline.NewResolutionWatcher(deps.Governance, svcs.proposals, a.logger)
	} else {
		a.logger.InfoContext(ctx, "pipeline: governance base_url not set, resolution polling disabled")
	}

	recombine := pipeline.NewRecombineLoop(
		deps.ProposalStore, svcs.cranks,
		a.cfg.Crank.MinInterval.Duration, a.logger,
	)
	twap := pipeline.NewTwapLoop(svcs.venue, svcs.cranks, a.logger)

	var reports pipeline.ReportChecker
	if deps.Settlements != nil {
		reports = deps.Settlements
	}
	sweeper := pipeline.NewSettlementSweeper(
		deps.ProposalStore, deps.PositionStore, svcs.ledger, reports, a.logger,
	)

	var archiver *pipeline.Archiver
	if deps.Archiver != nil && a.cfg.S3.ArchiveInterval.Duration > 0 {
		archiver = pipeline.NewArchiver(deps.Archiver, a.cfg.S3.RetentionDays, a.logger)
	}

	orch := pipeline.NewOrchestrator(pipeline.Config{
		GovernancePoll:  a.cfg.Governance.PollInterval.Duration,
		CrankInterval:   a.cfg.Crank.Interval.Duration,
		TwapInterval:    a.cfg.Twap.UpdateInterval.Duration,
		ArchiveInterval: a.cfg.S3.ArchiveInterval.Duration,
	}, watcher, recombine, twap, sweeper, archiver, a.logger)

	g.Go(func() error {
		err := orch.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("pipeline: %w", err)
	})
}

// startArbitrage launches the detector and executor pair when enabled.
func (a *App) startArbitrage(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	if !a.cfg.Arbitrage.Enabled {
		return
	}

	strat, err := a.newArbStrategy(svcs.arb)
	if err != nil {
		a.logger.WarnContext(ctx, "arbitrage disabled",
			slog.String("error", err.Error()),
		)
		return
	}

	det := arbitrage.NewDetector(arbitrage.DetectorConfig{
		Strategy: strat,
		Recorder: svcs.arb,
		MinGap:   detectorScanGap,
		Logger:   a.logger,
	})
	g.Go(func() error {
		err := det.Run(ctx, deps.SignalBus)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("arb detector: %w", err)
	})

	exec := arbexec.New(arbexec.Config{
		MinProfit: a.cfg.Arbitrage.MinProfit,
		MaxInput:  a.cfg.Arbitrage.MaxInput,
		Cooldown:  a.cfg.Arbitrage.Cooldown.Duration,
	}, svcs.arb, deps.SignalBus, a.logger)
	g.Go(func() error {
		err := exec.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("arb executor: %w", err)
	})
}

// newArbStrategy builds the strategy registry and returns the one selected
// by config ("cycle" or "screened").
func (a *App) newArbStrategy(sizer arbitrage.Sizer) (arbitrage.Strategy, error) {
	reg := arbitrage.NewRegistry()
	reg.Register(arbitrage.NewCycle(arbitrage.CycleConfig{
		MinProfit: a.cfg.Arbitrage.MinProfit,
	}, sizer, a.logger))
	reg.Register(arbitrage.NewScreened(arbitrage.ScreenedConfig{
		MinEdgeBps: a.cfg.Arbitrage.MinEdgeBps,
		MinProfit:  a.cfg.Arbitrage.MinProfit,
	}, sizer, a.logger))

	name := strings.TrimSpace(a.cfg.Arbitrage.Strategy)
	if name == "" {
		name = "cycle"
	}
	return reg.Get(name)
}

// startHTTPServer adds the API server and WebSocket hub goroutines to the
// group. The server is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	startedAt := time.Now().UTC()
	strategy := "none"
	if a.cfg.Arbitrage.Enabled {
		strategy = a.cfg.Arbitrage.Strategy
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Venue.Mode,
		Strategy:  strategy,
		StartedAt: startedAt,
		Origins:   a.cfg.Server.CORSOrigins,
	})
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("ws hub: %w", err)
	})

	health := handler.NewHealthHandler(a.logger).WithDB(deps.DB).WithCache(deps.Redis)
	status := handler.NewStatusHandler(a.cfg.Venue.Mode, strategy, startedAt, svcs.venue, a.logger)
	if a.cfg.Arbitrage.Enabled {
		status = status.WithArb(svcs.arb)
	}

	handlers := server.Handlers{
		Health:      health,
		Status:      status,
		Markets:     handler.NewMarketHandler(svcs.venue, a.logger),
		Trades:      handler.NewTradeHandler(svcs.trades, a.logger),
		Positions:   handler.NewPositionHandler(svcs.liquidity, svcs.withdrawals, a.logger),
		Ledger:      handler.NewLedgerHandler(svcs.ledger, a.logger),
		Proposals:   handler.NewProposalHandler(svcs.proposals, a.logger),
		Cranks:      handler.NewCrankHandler(svcs.cranks, a.logger),
		Arb:         handler.NewArbHandler(svcs.arb, a.logger),
		Settlements: handler.NewSettlementHandler(svcs.settlements, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKeys:         a.cfg.Server.APIKeys,
		RateLimitPerMin: a.cfg.Server.RateLimitPerMin,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		if err := srv.Start(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// priceUnits converts a whole-unit price distance from config into the
// engine's 1e12-scaled representation.
func priceUnits(v float64) uint64 {
	return uint64(v * float64(engine.PriceScale))
}

// defaultParams maps the venue-level AMM config onto engine params for
// markets created without an explicit override.
func (a *App) defaultParams(twap engine.TwapConfig) engine.Params {
	mode := domain.MinLiquidityBps
	if a.cfg.AMM.MinLiquidityPolicy == "absolute" {
		mode = domain.MinLiquidityAbsolute
	}
	return engine.Params{
		LPFeeBps:          a.cfg.AMM.LPFeeBps,
		ProtocolFeeBps:    a.cfg.AMM.ProtocolFeeBps,
		SplitRatioBps:     a.cfg.AMM.SplitRatioBps,
		MinLiquidityMode:  mode,
		MinLiquidityValue: a.cfg.AMM.MinLiquidityValue,
		CrankInterval:     a.cfg.Crank.MinInterval.Duration,
		Twap:              twap,
	}
}
