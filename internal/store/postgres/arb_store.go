package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// ArbStore implements domain.ArbStore using PostgreSQL.
type ArbStore struct {
	pool *pgxpool.Pool
}

// NewArbStore creates a new ArbStore backed by the given connection pool.
func NewArbStore(pool *pgxpool.Pool) *ArbStore {
	return &ArbStore{pool: pool}
}

const arbCols = `id, market_id, proposal_id, direction, input_amount,
	expected_profit, spot_price, detected_at, executed`

// Insert stores a detected arbitrage opportunity.
func (s *ArbStore) Insert(ctx context.Context, opp domain.ArbOpportunity) error {
	const query = `
		INSERT INTO arb_history (
			id, market_id, proposal_id, direction, input_amount,
			expected_profit, spot_price, detected_at, executed
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9
		)`

	_, err := s.pool.Exec(ctx, query,
		opp.ID, opp.MarketID, opp.ProposalID, string(opp.Direction), opp.InputAmount,
		opp.ExpectedProfit, opp.SpotPrice, opp.DetectedAt, opp.Executed,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: insert arb opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// MarkExecuted flags an opportunity as acted on.
func (s *ArbStore) MarkExecuted(ctx context.Context, id string) error {
	const query = `
		UPDATE arb_history SET
			executed    = TRUE,
			executed_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres: mark arb executed %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListRecent returns the most recent opportunities ordered by detection time.
func (s *ArbStore) ListRecent(ctx context.Context, limit int) ([]domain.ArbOpportunity, error) {
	query := `SELECT ` + arbCols + ` FROM arb_history ORDER BY detected_at DESC`
	args := []any{}

	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent arbs: %w", err)
	}
	defer rows.Close()

	opps, err := scanArbRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent arbs: %w", err)
	}
	return opps, nil
}

// ListBefore returns all opportunities detected strictly before the cutoff,
// oldest first. The archiver uses it to build monthly JSONL batches.
func (s *ArbStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ArbOpportunity, error) {
	const query = `SELECT ` + arbCols + ` FROM arb_history
		WHERE detected_at < $1 ORDER BY detected_at ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list arbs before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	opps, err := scanArbRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list arbs before cutoff: %w", err)
	}
	return opps, nil
}

func scanArbRows(rows pgx.Rows) ([]domain.ArbOpportunity, error) {
	var opps []domain.ArbOpportunity
	for rows.Next() {
		var opp domain.ArbOpportunity
		var direction string
		if err := rows.Scan(
			&opp.ID, &opp.MarketID, &opp.ProposalID, &direction, &opp.InputAmount,
			&opp.ExpectedProfit, &opp.SpotPrice, &opp.DetectedAt, &opp.Executed,
		); err != nil {
			return nil, fmt.Errorf("scan arb: %w", err)
		}
		opp.Direction = domain.ArbDirection(direction)
		opps = append(opps, opp)
	}
	return opps, rows.Err()
}
