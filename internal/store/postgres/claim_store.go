package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// ClaimStore implements domain.ClaimStore using PostgreSQL.
type ClaimStore struct {
	pool *pgxpool.Pool
}

// NewClaimStore creates a new ClaimStore backed by the given connection pool.
func NewClaimStore(pool *pgxpool.Pool) *ClaimStore {
	return &ClaimStore{pool: pool}
}

const claimCols = `id, position_id, market_id, owner_addr, lp_amount,
	asset_out, stable_out, voucher_sig, created_at`

// Create inserts a withdrawal-claim receipt.
func (s *ClaimStore) Create(ctx context.Context, c domain.WithdrawalClaim) error {
	const query = `
		INSERT INTO withdrawal_claims (
			id, position_id, market_id, owner_addr, lp_amount,
			asset_out, stable_out, voucher_sig, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9
		)`

	_, err := s.pool.Exec(ctx, query,
		c.ID, c.PositionID, c.MarketID, c.Owner, c.LPAmount,
		c.AssetOut, c.StableOut, c.VoucherSig, c.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create claim %s: %w", c.ID, err)
	}
	return nil
}

// GetByID returns one claim receipt.
func (s *ClaimStore) GetByID(ctx context.Context, id string) (domain.WithdrawalClaim, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+claimCols+` FROM withdrawal_claims WHERE id = $1`, id)

	var c domain.WithdrawalClaim
	err := row.Scan(
		&c.ID, &c.PositionID, &c.MarketID, &c.Owner, &c.LPAmount,
		&c.AssetOut, &c.StableOut, &c.VoucherSig, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WithdrawalClaim{}, domain.ErrNotFound
		}
		return domain.WithdrawalClaim{}, fmt.Errorf("postgres: get claim %s: %w", id, err)
	}
	return c, nil
}

// ListByOwner returns an owner's claim receipts, newest first.
func (s *ClaimStore) ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.WithdrawalClaim, error) {
	query := `SELECT ` + claimCols + ` FROM withdrawal_claims WHERE owner_addr = $1`
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
		return nil, fmt.Errorf("postgres: list claims by owner: %w", err)
	}
	defer rows.Close()

	var claims []domain.WithdrawalClaim
	for rows.Next() {
		var c domain.WithdrawalClaim
		if err := rows.Scan(
			&c.ID, &c.PositionID, &c.MarketID, &c.Owner, &c.LPAmount,
			&c.AssetOut, &c.StableOut, &c.VoucherSig, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan claim: %w", err)
		}
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list claims rows: %w", err)
	}
	return claims, nil
}
