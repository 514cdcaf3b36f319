// Package pipeline runs the venue's background loops: governance resolution
// polling, the permissionless cranks, settlement repair, and cold-storage
// archival. Every loop is also safe to trigger by hand through the API; the
// pipeline just makes sure nobody has to.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Config holds the loop cadences. Zero intervals disable the optional
// loops; the cranks always run.
type Config struct {
	GovernancePoll  time.Duration
	CrankInterval   time.Duration
	TwapInterval    time.Duration
	SweepInterval   time.Duration
	ArchiveInterval time.Duration
}

// Orchestrator manages the pipeline goroutines over one shared errgroup.
// Optional components may be nil and are skipped.
type Orchestrator struct {
	cfg       Config
	watcher   *ResolutionWatcher
	recombine *RecombineLoop
	twap      *TwapLoop
	sweeper   *SettlementSweeper
	archiver  *Archiver
	logger    *slog.Logger
}

// NewOrchestrator creates an Orchestrator coordinating the given loops.
func NewOrchestrator(
	cfg Config,
	watcher *ResolutionWatcher,
	recombine *RecombineLoop,
	twap *TwapLoop,
	sweeper *SettlementSweeper,
	archiver *Archiver,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.CrankInterval <= 0 {
		cfg.CrankInterval = 15 * time.Second
	}
	if cfg.TwapInterval <= 0 {
		cfg.TwapInterval = time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	return &Orchestrator{
		cfg:       cfg,
		watcher:   watcher,
		recombine: recombine,
		twap:      twap,
		sweeper:   sweeper,
		archiver:  archiver,
		logger:    logger,
	}
}

// Run starts every configured loop as a goroutine in an errgroup. A loop
// returning a non-context error cancels the shared context and Run returns
// that error; plain cancellation shuts everything down cleanly.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline starting",
		slog.Duration("crank_interval", o.cfg.CrankInterval),
		slog.Duration("twap_interval", o.cfg.TwapInterval),
		slog.Duration("governance_poll", o.cfg.GovernancePoll),
	)

	g, ctx := errgroup.WithContext(ctx)

	if o.watcher != nil && o.cfg.GovernancePoll > 0 {
		g.Go(func() error {
			o.logger.Info("starting resolution watcher")
			err := o.watcher.RunLoop(ctx, o.cfg.GovernancePoll)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("resolution watcher: %w", err)
		})
	}

	g.Go(func() error {
		o.logger.Info("starting recombination loop")
		err := o.recombine.RunLoop(ctx, o.cfg.CrankInterval)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("recombination loop: %w", err)
	})

	g.Go(func() error {
		o.logger.Info("starting twap loop")
		err := o.twap.RunLoop(ctx, o.cfg.TwapInterval)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("twap loop: %w", err)
	})

	g.Go(func() error {
		o.logger.Info("starting settlement sweeper")
		err := o.sweeper.RunLoop(ctx, o.cfg.SweepInterval)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("settlement sweeper: %w", err)
	})

	if o.archiver != nil && o.cfg.ArchiveInterval > 0 {
		g.Go(func() error {
			o.logger.Info("starting archiver")
			err := o.archiver.RunLoop(ctx, o.cfg.ArchiveInterval)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	err := g.Wait()
	if err != nil {
		o.logger.Error("pipeline stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("pipeline stopped cleanly")
	return nil
}
