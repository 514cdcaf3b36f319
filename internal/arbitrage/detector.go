package arbitrage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/praxismarkets/futarchyd/internal/domain"
	"github.com/praxismarkets/futarchyd/internal/service"
)

// Detector runs the selected strategy on price ticks from the prices
// channel and queues sized opportunities for the executor.
type Detector struct {
	strategy Strategy
	recorder Recorder
	minGap   time.Duration
	lastScan map[string]time.Time
	logger   *slog.Logger
}

// DetectorConfig configures the detector.
type DetectorConfig struct {
	Strategy Strategy
	Recorder Recorder
	// MinGap is the per-market floor between scans. One swap ticks every
	// pool of its market; the gap folds such bursts into one scan.
	MinGap time.Duration
	Logger *slog.Logger
}

// NewDetector creates a detector running the given strategy.
func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{
		strategy: cfg.Strategy,
		recorder: cfg.Recorder,
		minGap:   cfg.MinGap,
		lastScan: make(map[string]time.Time),
		logger:   cfg.Logger.With(slog.String("component", "arb_detector")),
	}
}

// Run subscribes to the prices channel and feeds every tick through the
// strategy. It blocks until ctx is cancelled or the subscription closes.
func (d *Detector) Run(ctx context.Context, bus domain.SignalBus) error {
	ch, err := bus.Subscribe(ctx, service.PricesChannel)
	if err != nil {
		return fmt.Errorf("arb detector: subscribe %s: %w", service.PricesChannel, err)
	}
	d.logger.InfoContext(ctx, "arb detector started", slog.String("strategy", d.strategy.Name()))
	defer d.logger.InfoContext(ctx, "arb detector stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			if err := d.handleTick(ctx, data); err != nil {
				d.logger.WarnContext(ctx, "arb detector: tick not handled",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (d *Detector) handleTick(ctx context.Context, data []byte) error {
	var tick domain.PricePoint
	if err := json.Unmarshal(data, &tick); err != nil {
		return fmt.Errorf("decode tick: %w", err)
	}
	if tick.MarketID == "" {
		return nil
	}

	now := time.Now()
	if last, ok := d.lastScan[tick.MarketID]; ok && now.Sub(last) < d.minGap {
		return nil
	}
	// A failed scan consumes the window too, so a broken market cannot
	// spin the detector.
	d.lastScan[tick.MarketID] = now

	opps, err := d.strategy.Detect(ctx, tick)
	if err != nil {
		return fmt.Errorf("strategy %s: %w", d.strategy.Name(), err)
	}
	for _, opp := range opps {
		if err := d.recorder.RecordOpportunity(ctx, opp); err != nil {
			d.logger.WarnContext(ctx, "arb detector: record failed",
				slog.String("opportunity_id", opp.ID),
				slog.String("market_id", opp.MarketID),
				slog.String("error", err.Error()),
			)
			continue
		}
		d.logger.InfoContext(ctx, "arb opportunity queued",
			slog.String("opportunity_id", opp.ID),
			slog.String("market_id", opp.MarketID),
			slog.String("direction", string(opp.Direction)),
			slog.Uint64("input_amount", opp.InputAmount),
			slog.Uint64("expected_profit", opp.ExpectedProfit),
		)
	}
	return nil
}
