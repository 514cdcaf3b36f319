package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// ReportArchive is the blob-side store for settlement reports. The S3
// settlement archive satisfies it.
type ReportArchive interface {
	Put(ctx context.Context, report domain.SettlementReport) (string, error)
	Get(ctx context.Context, marketID, proposalID string) (domain.SettlementReport, error)
	List(ctx context.Context, marketID string) ([]domain.BlobInfo, error)
}

// Notifier pushes operator alerts. Notify respects the configured event
// filter; NotifyAll bypasses it for alerts that must always land.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
	NotifyAll(ctx context.Context, title, message string) error
}

// SettlementService archives settlement reports and serves them back for
// audits. Both the archive and the notifier are optional; the venue keeps
// settling without them, it just retains no report.
type SettlementService struct {
	archive ReportArchive
	notify  Notifier
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewSettlementService creates a SettlementService without an archive.
func NewSettlementService(audit domain.AuditStore, logger *slog.Logger) *SettlementService {
	return &SettlementService{audit: audit, logger: logger}
}

// WithArchive attaches blob storage for reports.
func (s *SettlementService) WithArchive(a ReportArchive) *SettlementService {
	s.archive = a
	return s
}

// WithNotifier attaches an operator notifier.
func (s *SettlementService) WithNotifier(n Notifier) *SettlementService {
	s.notify = n
	return s
}

// Archive uploads a settlement report. Reports are immutable; re-archiving
// a settled proposal is a no-op, so the crank can safely retry.
func (s *SettlementService) Archive(ctx context.Context, report domain.SettlementReport) (string, error) {
	if s.archive == nil {
		s.logger.DebugContext(ctx, "settlement_service: no archive configured, report dropped",
			slog.String("market_id", report.MarketID),
			slog.String("proposal_id", report.ProposalID),
		)
		return "", nil
	}

	path, err := s.archive.Put(ctx, report)
	if errors.Is(err, domain.ErrAlreadyExists) {
		s.logger.InfoContext(ctx, "settlement_service: report already archived",
			slog.String("market_id", report.MarketID),
			slog.String("proposal_id", report.ProposalID),
		)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("settlement_service: archive report %s/%s: %w",
			report.MarketID, report.ProposalID, err)
	}

	if auditErr := s.audit.Log(ctx, "settlement_archived", map[string]any{
		"market_id":       report.MarketID,
		"proposal_id":     report.ProposalID,
		"winning_outcome": report.WinningOutcome,
		"path":            path,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "settlement_service: audit log failed",
			slog.String("proposal_id", report.ProposalID),
			slog.String("error", auditErr.Error()),
		)
	}
	if s.notify != nil {
		msg := fmt.Sprintf("market %s settled proposal %s with outcome %d; report at %s",
			report.MarketID, report.ProposalID, report.WinningOutcome, path)
		if notifyErr := s.notify.Notify(ctx, string(domain.EventRecombined), "Proposal settled", msg); notifyErr != nil {
			s.logger.WarnContext(ctx, "settlement_service: notify failed",
				slog.String("proposal_id", report.ProposalID),
				slog.String("error", notifyErr.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "settlement_service: report archived",
		slog.String("market_id", report.MarketID),
		slog.String("proposal_id", report.ProposalID),
		slog.String("path", path),
	)
	return path, nil
}

// Get retrieves an archived settlement report.
func (s *SettlementService) Get(ctx context.Context, marketID, proposalID string) (domain.SettlementReport, error) {
	if s.archive == nil {
		return domain.SettlementReport{}, fmt.Errorf("settlement_service: no archive configured: %w", domain.ErrNotFound)
	}
	report, err := s.archive.Get(ctx, marketID, proposalID)
	if err != nil {
		return domain.SettlementReport{}, fmt.Errorf("settlement_service: get report %s/%s: %w", marketID, proposalID, err)
	}
	return report, nil
}

// List returns the archive metadata of every report for a market.
func (s *SettlementService) List(ctx context.Context, marketID string) ([]domain.BlobInfo, error) {
	if s.archive == nil {
		return nil, nil
	}
	infos, err := s.archive.List(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("settlement_service: list reports for %q: %w", marketID, err)
	}
	return infos, nil
}
