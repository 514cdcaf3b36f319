package s3blob

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// archivePartSize is the multipart chunk size for retention-sweep uploads.
const archivePartSize int64 = 8 * 1024 * 1024

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver.
//
// The archiver only needs time-ranged reads, not the full domain store
// interfaces. The Postgres stores satisfy these implicitly through their
// ListBefore methods.
// ---------------------------------------------------------------------------

// TradeArchiveStore provides read access to trades for archival purposes.
type TradeArchiveStore interface {
	// ListBefore returns all trades executed strictly before the cutoff.
	ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error)
}

// ArbArchiveStore provides read access to arbitrage history for archival
// purposes.
type ArbArchiveStore interface {
	// ListBefore returns all arb opportunities detected strictly before the
	// cutoff.
	ListBefore(ctx context.Context, before time.Time) ([]domain.ArbOpportunity, error)
}

// AuditArchiveStore provides read access to audit entries for archival
// purposes.
type AuditArchiveStore interface {
	// ListBefore returns all audit entries recorded strictly before the
	// cutoff.
	ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error)
}

// ---------------------------------------------------------------------------
// ArchiveImpl
// ---------------------------------------------------------------------------

// ArchiveImpl implements domain.Archiver by querying the domain stores for
// old records, serializing them to JSONL, and uploading the result to S3.
//
// Deletion of the archived records from the primary store is intentionally
// NOT performed here. That is a separate, explicit step to be executed after
// the archive has been verified.
type ArchiveImpl struct {
	writer domain.BlobWriter
	trades TradeArchiveStore
	arb    ArbArchiveStore
	audit  AuditArchiveStore
	logger domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	trades TradeArchiveStore,
	arb ArbArchiveStore,
	audit AuditArchiveStore,
	logger domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		trades: trades,
		arb:    arb,
		audit:  audit,
		logger: logger,
	}
}

// ArchiveTrades uploads all trades before the cutoff to
// archive/trades/YYYY-MM.jsonl. The archival event is recorded in the audit
// log and the count of archived records is returned.
func (a *ArchiveImpl) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	return archiveRecords(ctx, a, "trades", before, trades)
}

// ArchiveArbHistory uploads all arbitrage opportunities before the cutoff to
// archive/arb_history/YYYY-MM.jsonl. The archival event is recorded in the
// audit log and the count of archived records is returned.
func (a *ArchiveImpl) ArchiveArbHistory(ctx context.Context, before time.Time) (int64, error) {
	opps, err := a.arb.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive arb history query: %w", err)
	}
	return archiveRecords(ctx, a, "arb_history", before, opps)
}

// ArchiveAudit uploads all audit entries before the cutoff to
// archive/audit/YYYY-MM.jsonl. The upload itself is then recorded in the
// audit log, after the cutoff, so it survives the next cycle.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	return archiveRecords(ctx, a, "audit", before, entries)
}

// archiveRecords serializes records to JSONL, uploads the file, and logs the
// archival event. Returns the number of archived records; an empty batch
// uploads nothing.
func archiveRecords[T any](ctx context.Context, a *ArchiveImpl, kind string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	// A month of trades on a busy market outgrows a single PUT, so batches
	// always go through the multipart path.
	path := archivePath(kind, before)
	if err := a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), archivePartSize); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))

	if err := a.logger.Log(ctx, "archive."+kind, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}

	return count, nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)

// ---------------------------------------------------------------------------
// Settlement archive
// ---------------------------------------------------------------------------

// SettlementArchive stores settlement reports as gzipped JSON, one object
// per settled proposal. Reports are immutable once written; Put refuses to
// overwrite an existing report.
type SettlementArchive struct {
	writer domain.BlobWriter
	reader domain.BlobReader
}

// NewSettlementArchive creates a SettlementArchive over the given blob
// writer and reader.
func NewSettlementArchive(w domain.BlobWriter, r domain.BlobReader) *SettlementArchive {
	return &SettlementArchive{writer: w, reader: r}
}

// settlementPath builds the S3 key for a settlement report.
//
//	settlements/{marketID}/{proposalID}.json.gz
func settlementPath(marketID, proposalID string) string {
	return fmt.Sprintf("settlements/%s/%s.json.gz", marketID, proposalID)
}

// Put uploads a settlement report and returns the object path. It returns
// domain.ErrAlreadyExists if a report for the proposal is already archived.
func (sa *SettlementArchive) Put(ctx context.Context, report domain.SettlementReport) (string, error) {
	path := settlementPath(report.MarketID, report.ProposalID)

	exists, err := sa.reader.Exists(ctx, path)
	if err != nil {
		return "", fmt.Errorf("s3blob: settlement exists check %s: %w", path, err)
	}
	if exists {
		return "", fmt.Errorf("s3blob: settlement report %s: %w", path, domain.ErrAlreadyExists)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(report); err != nil {
		return "", fmt.Errorf("s3blob: settlement marshal %s: %w", path, err)
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("s3blob: settlement compress %s: %w", path, err)
	}

	if err := sa.writer.Put(ctx, path, &buf, "application/gzip"); err != nil {
		return "", fmt.Errorf("s3blob: settlement upload %s: %w", path, err)
	}
	return path, nil
}

// Get retrieves an archived settlement report.
// It returns domain.ErrNotFound if the proposal has no archived report.
func (sa *SettlementArchive) Get(ctx context.Context, marketID, proposalID string) (domain.SettlementReport, error) {
	path := settlementPath(marketID, proposalID)

	body, err := sa.reader.Get(ctx, path)
	if err != nil {
		return domain.SettlementReport{}, err
	}
	defer body.Close()

	gz, err := gzip.NewReader(body)
	if err != nil {
		return domain.SettlementReport{}, fmt.Errorf("s3blob: settlement decompress %s: %w", path, err)
	}
	defer gz.Close()

	var report domain.SettlementReport
	if err := json.NewDecoder(gz).Decode(&report); err != nil {
		return domain.SettlementReport{}, fmt.Errorf("s3blob: settlement unmarshal %s: %w", path, err)
	}
	return report, nil
}

// List returns the blob metadata of every archived report for a market.
func (sa *SettlementArchive) List(ctx context.Context, marketID string) ([]domain.BlobInfo, error) {
	return sa.reader.List(ctx, "settlements/"+marketID+"/")
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/trades/2025-01.jsonl
//	archive/arb_history/2025-01.jsonl
//	archive/audit/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
