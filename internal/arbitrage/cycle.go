package arbitrage

import (
	"context"
	"log/slog"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// CycleConfig bounds what the cycle strategy reports.
type CycleConfig struct {
	// MinProfit drops sized cycles whose simulated profit is not worth an
	// execution round trip.
	MinProfit uint64
}

// Cycle runs the exact sizing search on every tick. Correct and simple;
// each scan takes the market's handle lock, so busy markets pay for the
// precision.
type Cycle struct {
	cfg    CycleConfig
	sizer  Sizer
	logger *slog.Logger
}

// NewCycle creates the cycle strategy.
func NewCycle(cfg CycleConfig, sizer Sizer, logger *slog.Logger) *Cycle {
	return &Cycle{
		cfg:    cfg,
		sizer:  sizer,
		logger: logger.With(slog.String("arb_strategy", "cycle")),
	}
}

// Name returns the strategy identifier.
func (c *Cycle) Name() string { return "cycle" }

// Detect sizes the best cycle for the tick's market.
func (c *Cycle) Detect(ctx context.Context, tick domain.PricePoint) ([]domain.ArbOpportunity, error) {
	if tick.MarketID == "" {
		return nil, nil
	}
	opp, err := c.sizer.Detect(ctx, tick.MarketID)
	if err != nil {
		if benign(err) {
			return nil, nil
		}
		return nil, err
	}
	if opp.ExpectedProfit < c.cfg.MinProfit {
		c.logger.DebugContext(ctx, "cycle below profit floor",
			slog.String("market_id", tick.MarketID),
			slog.Uint64("expected_profit", opp.ExpectedProfit),
			slog.Uint64("min_profit", c.cfg.MinProfit),
		)
		return nil, nil
	}
	return []domain.ArbOpportunity{opp}, nil
}
