package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// MarketLister pages through the market registry.
type MarketLister interface {
	ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
}

// TwapCranker advances the due TWAP observations on one market.
type TwapCranker interface {
	UpdateTwaps(ctx context.Context, marketID string) (int, error)
}

// TwapLoop keeps every market's oracle current. The engine only advances an
// observation when its interval has elapsed, so cranking a market early is
// free; the loop just has to visit everything often enough.
type TwapLoop struct {
	markets MarketLister
	crank   TwapCranker
	logger  *slog.Logger
}

// NewTwapLoop creates a TwapLoop.
func NewTwapLoop(markets MarketLister, crank TwapCranker, logger *slog.Logger) *TwapLoop {
	return &TwapLoop{
		markets: markets,
		crank:   crank,
		logger:  logger,
	}
}

// Run executes a single pass over all markets.
func (l *TwapLoop) Run(ctx context.Context) error {
	const pageSize = 100

	offset := 0
	updated := 0
	visited := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		markets, err := l.markets.ListMarkets(ctx, domain.ListOpts{Limit: pageSize, Offset: offset})
		if err != nil {
			return fmt.Errorf("listing markets at offset %d: %w", offset, err)
		}
		if len(markets) == 0 {
			break
		}

		for _, m := range markets {
			n, err := l.crank.UpdateTwaps(ctx, m.ID)
			if err != nil {
				if errors.Is(err, domain.ErrLockHeld) {
					continue
				}
				l.logger.Error("twap crank failed",
					slog.String("market_id", m.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			updated += n
			visited++
		}

		if len(markets) < pageSize {
			break
		}
		offset += pageSize
	}

	if updated > 0 {
		l.logger.Debug("twap pass complete",
			slog.Int("markets", visited),
			slog.Int("pools_updated", updated),
		)
	}
	return nil
}

// RunLoop cranks on a repeating interval until the context is cancelled.
func (l *TwapLoop) RunLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("twap loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := l.Run(ctx); err != nil {
				l.logger.Error("twap pass failed", slog.String("error", err.Error()))
			}
		}
	}
}
