package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/praxismarkets/futarchyd/internal/domain"
	"github.com/praxismarkets/futarchyd/internal/platform/governance"
)

// ResolutionSource lists proposal resolutions from the governance
// collaborator.
type ResolutionSource interface {
	ListResolvedSince(ctx context.Context, since time.Time) ([]governance.Resolution, error)
}

// ProposalResolver applies a resolution to the venue.
type ProposalResolver interface {
	Resolve(ctx context.Context, proposalID string, winningOutcome int) error
}

const resolutionLookback = 24 * time.Hour

// ResolutionWatcher polls the governance API for resolved proposals and
// applies them. Most resolutions arrive through the push endpoint first;
// the watcher is the catch-up path, and the resolve call is idempotent for
// a matching winner, so overlap between the two is harmless.
type ResolutionWatcher struct {
	source   ResolutionSource
	resolver ProposalResolver
	logger   *slog.Logger

	// watermark is the newest resolved_at fully applied. It never advances
	// past a failed apply, so failures are retried on the next pass.
	watermark time.Time
}

// NewResolutionWatcher creates a ResolutionWatcher. The first poll reaches
// back resolutionLookback to cover a restart gap.
func NewResolutionWatcher(source ResolutionSource, resolver ProposalResolver, logger *slog.Logger) *ResolutionWatcher {
	return &ResolutionWatcher{
		source:    source,
		resolver:  resolver,
		logger:    logger,
		watermark: time.Now().UTC().Add(-resolutionLookback),
	}
}

// Run executes a single poll pass.
func (w *ResolutionWatcher) Run(ctx context.Context) error {
	resolutions, err := w.source.ListResolvedSince(ctx, w.watermark)
	if err != nil {
		return fmt.Errorf("listing resolutions since %s: %w", w.watermark.Format(time.RFC3339), err)
	}

	applied := 0
	failed := false
	advanced := w.watermark
	for _, r := range resolutions {
		if !r.Resolved {
			continue
		}

		switch err := w.resolver.Resolve(ctx, r.ProposalID, r.WinningOutcome); {
		case err == nil:
			applied++
			w.logger.Debug("resolution applied",
				slog.String("proposal_id", r.ProposalID),
				slog.Int("winning_outcome", r.WinningOutcome),
			)
		case errors.Is(err, domain.ErrAlreadyExists):
			// Resolved through the push endpoint, possibly with a different
			// winner; the service logged the mismatch if there was one.
		case errors.Is(err, domain.ErrNotFound):
			w.logger.Warn("governance resolved a proposal this venue does not carry",
				slog.String("proposal_id", r.ProposalID),
			)
		default:
			failed = true
			w.logger.Error("applying resolution failed",
				slog.String("proposal_id", r.ProposalID),
				slog.Int("winning_outcome", r.WinningOutcome),
				slog.String("error", err.Error()),
			)
			continue
		}

		if r.ResolvedAt.After(advanced) {
			advanced = r.ResolvedAt
		}
	}

	// One failure holds the window open, re-polling the whole batch next
	// pass rather than tracking per-entry cursors.
	if !failed {
		w.watermark = advanced
	}

	if applied > 0 {
		w.logger.Info("governance resolutions applied", slog.Int("count", applied))
	}
	return nil
}

// RunLoop polls on a repeating interval until the context is cancelled.
func (w *ResolutionWatcher) RunLoop(ctx context.Context, interval time.Duration) error {
	// Run immediately on start.
	if err := w.Run(ctx); err != nil {
		w.logger.Error("resolution poll failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("resolution watcher stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := w.Run(ctx); err != nil {
				w.logger.Error("resolution poll failed", slog.String("error", err.Error()))
			}
		}
	}
}
