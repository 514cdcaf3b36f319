package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionCols = `id, market_id, owner_addr, amount, bucket,
	locked_proposal_id, created_at, updated_at`

func scanPosition(row pgx.Row) (domain.LPPosition, error) {
	var p domain.LPPosition
	var bucket string
	err := row.Scan(
		&p.ID, &p.MarketID, &p.Owner, &p.Amount, &bucket,
		&p.LockedProposalID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.LPPosition{}, err
	}
	p.Bucket = domain.Bucket(bucket)
	return p, nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.LPPosition, error) {
	var positions []domain.LPPosition
	for rows.Next() {
		var p domain.LPPosition
		var bucket string
		if err := rows.Scan(
			&p.ID, &p.MarketID, &p.Owner, &p.Amount, &bucket,
			&p.LockedProposalID, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		p.Bucket = domain.Bucket(bucket)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new LP position.
func (s *PositionStore) Create(ctx context.Context, pos domain.LPPosition) error {
	const query = `
		INSERT INTO lp_positions (
			id, market_id, owner_addr, amount, bucket,
			locked_proposal_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		pos.ID, pos.MarketID, pos.Owner, pos.Amount, string(pos.Bucket),
		pos.LockedProposalID, pos.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create position %s: %w", pos.ID, err)
	}
	return nil
}

// Update replaces the mutable fields of an LP position.
func (s *PositionStore) Update(ctx context.Context, pos domain.LPPosition) error {
	const query = `
		UPDATE lp_positions SET
			amount             = $2,
			bucket             = $3,
			locked_proposal_id = $4,
			updated_at         = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		pos.ID, pos.Amount, string(pos.Bucket), pos.LockedProposalID,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", pos.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a fully claimed position.
func (s *PositionStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM lp_positions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single position.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.LPPosition, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionCols+` FROM lp_positions WHERE id = $1`, id)
	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LPPosition{}, domain.ErrNotFound
		}
		return domain.LPPosition{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListByMarket returns every position of one market.
func (s *PositionStore) ListByMarket(ctx context.Context, marketID string) ([]domain.LPPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionCols+` FROM lp_positions
		 WHERE market_id = $1
		 ORDER BY created_at ASC`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions by market: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions by market: %w", err)
	}
	return positions, nil
}

// ListByOwner returns an owner's positions across markets with pagination.
func (s *PositionStore) ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.LPPosition, error) {
	query := `SELECT ` + positionCols + ` FROM lp_positions WHERE owner_addr = $1`
	args := []any{owner}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions by owner: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions by owner: %w", err)
	}
	return positions, nil
}

// MoveBucket re-homes every position of a market sitting in from with the
// given locked proposal into to. Returns the number of rows moved.
func (s *PositionStore) MoveBucket(ctx context.Context, marketID, proposalID string, from, to domain.Bucket) (int64, error) {
	const query = `
		UPDATE lp_positions SET
			bucket     = $4,
			updated_at = NOW()
		WHERE market_id = $1 AND locked_proposal_id = $2 AND bucket = $3`

	tag, err := s.pool.Exec(ctx, query, marketID, proposalID, string(from), string(to))
	if err != nil {
		return 0, fmt.Errorf("postgres: move positions %s -> %s: %w", from, to, err)
	}
	return tag.RowsAffected(), nil
}
