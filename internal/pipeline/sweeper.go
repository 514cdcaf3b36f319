package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// BucketMover re-homes marked positions after settlement.
type BucketMover interface {
	MoveBucket(ctx context.Context, marketID, proposalID string, from, to domain.Bucket) (int64, error)
}

// LedgerSettler drains a settled proposal's holder ledger.
type LedgerSettler interface {
	SettleProposal(ctx context.Context, proposalID string) (assetOut, stableOut uint64, err error)
}

// ReportChecker looks up an archived settlement report.
type ReportChecker interface {
	Get(ctx context.Context, marketID, proposalID string) (domain.SettlementReport, error)
}

const sweepLookback = 7 * 24 * time.Hour

// SettlementSweeper re-runs the post-commit settlement steps the crank only
// logs on failure: position bucket flips and holder ledger drains. Both are
// idempotent, so sweeping a healthy proposal does nothing. It also checks
// that recent settlements made it into the report archive; a missing report
// cannot be rebuilt here because the teardown consumed its inputs, so that
// path only warns.
type SettlementSweeper struct {
	proposals ProposalLister
	positions BucketMover
	ledger    LedgerSettler
	reports   ReportChecker
	logger    *slog.Logger
}

// NewSettlementSweeper creates a SettlementSweeper. reports may be nil when
// no archive is configured.
func NewSettlementSweeper(
	proposals ProposalLister,
	positions BucketMover,
	ledger LedgerSettler,
	reports ReportChecker,
	logger *slog.Logger,
) *SettlementSweeper {
	return &SettlementSweeper{
		proposals: proposals,
		positions: positions,
		ledger:    ledger,
		reports:   reports,
		logger:    logger,
	}
}

// Run executes a single sweep over recently settled proposals.
func (s *SettlementSweeper) Run(ctx context.Context) error {
	const pageSize = 50

	props, err := s.proposals.ListByState(ctx, domain.ProposalStateSettled, domain.ListOpts{Limit: pageSize})
	if err != nil {
		return fmt.Errorf("listing settled proposals: %w", err)
	}

	cutoff := time.Now().UTC().Add(-sweepLookback)
	for _, p := range props {
		if p.SettledAt == nil || p.SettledAt.Before(cutoff) {
			continue
		}
		s.sweep(ctx, p)
	}
	return nil
}

func (s *SettlementSweeper) sweep(ctx context.Context, p domain.Proposal) {
	moved, err := s.positions.MoveBucket(ctx, p.MarketID, p.ID, domain.BucketTransitioning, domain.BucketWithdrawOnly)
	switch {
	case err != nil:
		s.logger.Error("sweep: position flip failed",
			slog.String("proposal_id", p.ID),
			slog.String("error", err.Error()),
		)
	case moved > 0:
		// A previous crank committed the settlement but crashed before the
		// flip; this is the repair actually happening.
		s.logger.Info("sweep: stranded positions flipped",
			slog.String("market_id", p.MarketID),
			slog.String("proposal_id", p.ID),
			slog.Int64("moved", moved),
		)
	}

	assetOut, stableOut, err := s.ledger.SettleProposal(ctx, p.ID)
	switch {
	case err != nil:
		s.logger.Error("sweep: holder ledger settle failed",
			slog.String("proposal_id", p.ID),
			slog.String("error", err.Error()),
		)
	case assetOut+stableOut > 0:
		s.logger.Info("sweep: stranded holder ledger settled",
			slog.String("proposal_id", p.ID),
			slog.Uint64("asset_out", assetOut),
			slog.Uint64("stable_out", stableOut),
		)
	}

	if s.reports == nil {
		return
	}
	if _, err := s.reports.Get(ctx, p.MarketID, p.ID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("sweep: settlement report missing from archive",
				slog.String("market_id", p.MarketID),
				slog.String("proposal_id", p.ID),
			)
			return
		}
		s.logger.Debug("sweep: report check failed",
			slog.String("proposal_id", p.ID),
			slog.String("error", err.Error()),
		)
	}
}

// RunLoop sweeps on a repeating interval until the context is cancelled.
func (s *SettlementSweeper) RunLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("settlement sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Run(ctx); err != nil {
				s.logger.Error("settlement sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}
