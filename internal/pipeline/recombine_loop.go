package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/praxismarkets/futarchyd/internal/domain"
	"github.com/praxismarkets/futarchyd/internal/service"
)

// ProposalLister lists proposals by lifecycle state.
type ProposalLister interface {
	ListByState(ctx context.Context, state domain.ProposalState, opts domain.ListOpts) ([]domain.Proposal, error)
}

// RecombineCranker turns the recombination crank on one market.
type RecombineCranker interface {
	Recombine(ctx context.Context, marketID string, winner *int) (service.RecombineOutcome, error)
}

// RecombineLoop advances every resolved proposal through recombination. The
// crank itself is permissionless and serialized by the Redis market lock;
// the loop exists so nobody has to call it by hand. A rate limiter spaces
// the cranks so a backlog of resolved proposals cannot stampede the store.
type RecombineLoop struct {
	proposals ProposalLister
	crank     RecombineCranker
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewRecombineLoop creates a RecombineLoop. minInterval spaces consecutive
// cranks; zero or negative disables the spacing.
func NewRecombineLoop(proposals ProposalLister, crank RecombineCranker, minInterval time.Duration, logger *slog.Logger) *RecombineLoop {
	return &RecombineLoop{
		proposals: proposals,
		crank:     crank,
		limiter:   rate.NewLimiter(rate.Every(minInterval), 1),
		logger:    logger,
	}
}

// Run executes a single pass over the resolved proposals.
func (l *RecombineLoop) Run(ctx context.Context) error {
	const pageSize = 50

	props, err := l.proposals.ListByState(ctx, domain.ProposalStateResolved, domain.ListOpts{Limit: pageSize})
	if err != nil {
		return fmt.Errorf("listing resolved proposals: %w", err)
	}

	cranked := 0
	for _, p := range props {
		if err := l.limiter.Wait(ctx); err != nil {
			return err
		}

		out, err := l.crank.Recombine(ctx, p.MarketID, nil)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				// Another process is cranking this market right now.
				continue
			}
			l.logger.Error("recombination crank failed",
				slog.String("market_id", p.MarketID),
				slog.String("proposal_id", p.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if out.Result.NoOp {
			// The market carries no proposal although the row says resolved.
			l.logger.Debug("resolved proposal with detached market",
				slog.String("market_id", p.MarketID),
				slog.String("proposal_id", p.ID),
			)
			continue
		}
		cranked++
	}

	if cranked > 0 {
		l.logger.Info("recombination cranks advanced", slog.Int("count", cranked))
	}
	return nil
}

// RunLoop cranks on a repeating interval until the context is cancelled.
func (l *RecombineLoop) RunLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("recombination loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := l.Run(ctx); err != nil {
				l.logger.Error("recombination pass failed", slog.String("error", err.Error()))
			}
		}
	}
}
