package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// Archiver sweeps aged trades, arbitrage history, and audit entries to cold
// storage. Archive files are keyed by the cutoff month, so re-running a
// sweep overwrites the month's file with a superset rather than duplicating
// records.
type Archiver struct {
	blob          domain.Archiver
	retentionDays int
	logger        *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(blob domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blob:          blob,
		retentionDays: retentionDays,
		logger:        logger,
	}
}

// Run executes a single archive sweep of everything older than the
// retention window.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)

	trades, err := a.blob.ArchiveTrades(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving trades before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	arb, err := a.blob.ArchiveArbHistory(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving arb history before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	audit, err := a.blob.ArchiveAudit(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving audit entries before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	a.logger.Info("archive sweep complete",
		slog.Time("cutoff", cutoff),
		slog.Int64("trades", trades),
		slog.Int64("arb_history", arb),
		slog.Int64("audit", audit),
	)
	return nil
}

// RunLoop archives on a repeating interval until the context is cancelled.
// The first sweep waits a full interval so restarts do not hammer object
// storage.
func (a *Archiver) RunLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := a.Run(ctx); err != nil {
				a.logger.Error("archive sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}
