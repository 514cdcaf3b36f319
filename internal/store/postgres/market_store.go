package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, slug, asset_symbol, stable_symbol, status,
	lp_fee_bps, protocol_fee_bps, split_ratio_bps, min_liq_mode, min_liq_value,
	live_asset, live_stable, live_lp,
	trans_asset, trans_stable, trans_lp,
	wo_asset, wo_stable, wo_lp,
	total_asset, total_stable, total_lp,
	pos_live, pos_transitioning, pos_withdraw_only,
	protocol_fee_asset, protocol_fee_stable,
	twap_aggregator, twap_last_obs, twap_started_at, twap_updated_at,
	proposal_id, created_at, updated_at`

// marketScanTargets returns scan destinations in marketCols order.
func marketScanTargets(m *domain.Market, status, minLiqMode *string) []any {
	return []any{
		&m.ID, &m.Slug, &m.AssetSymbol, &m.StableSymbol, status,
		&m.Params.LPFeeBps, &m.Params.ProtocolFeeBps, &m.Params.SplitRatioBps,
		minLiqMode, &m.Params.MinLiquidityValue,
		&m.Spot.Live.Asset, &m.Spot.Live.Stable, &m.Spot.Live.LP,
		&m.Spot.Transitioning.Asset, &m.Spot.Transitioning.Stable, &m.Spot.Transitioning.LP,
		&m.Spot.WithdrawOnly.Asset, &m.Spot.WithdrawOnly.Stable, &m.Spot.WithdrawOnly.LP,
		&m.Spot.TotalAsset, &m.Spot.TotalStable, &m.Spot.TotalLP,
		&m.Spot.PositionLive, &m.Spot.PositionTransitioning, &m.Spot.PositionWithdrawOnly,
		&m.Spot.ProtocolFeeAsset, &m.Spot.ProtocolFeeStable,
		&m.Twap.Aggregator, &m.Twap.LastObservation, &m.Twap.StartedAt, &m.Twap.LastUpdatedAt,
		&m.ProposalID, &m.CreatedAt, &m.UpdatedAt,
	}
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var status, minLiqMode string
	if err := row.Scan(marketScanTargets(&m, &status, &minLiqMode)...); err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	m.Params.MinLiquidityMode = domain.MinLiquidityMode(minLiqMode)
	return m, nil
}

// marketArgs returns insert/update arguments in a fixed order shared by
// Create and Update.
func marketArgs(m domain.Market) []any {
	return []any{
		m.ID, m.Slug, m.AssetSymbol, m.StableSymbol, string(m.Status),
		m.Params.LPFeeBps, m.Params.ProtocolFeeBps, m.Params.SplitRatioBps,
		string(m.Params.MinLiquidityMode), m.Params.MinLiquidityValue,
		m.Spot.Live.Asset, m.Spot.Live.Stable, m.Spot.Live.LP,
		m.Spot.Transitioning.Asset, m.Spot.Transitioning.Stable, m.Spot.Transitioning.LP,
		m.Spot.WithdrawOnly.Asset, m.Spot.WithdrawOnly.Stable, m.Spot.WithdrawOnly.LP,
		m.Spot.TotalAsset, m.Spot.TotalStable, m.Spot.TotalLP,
		m.Spot.PositionLive, m.Spot.PositionTransitioning, m.Spot.PositionWithdrawOnly,
		m.Spot.ProtocolFeeAsset, m.Spot.ProtocolFeeStable,
		m.Twap.Aggregator, m.Twap.LastObservation, m.Twap.StartedAt, m.Twap.LastUpdatedAt,
		m.ProposalID, m.CreatedAt,
	}
}

// Create inserts a new market with its initial pool state.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, slug, asset_symbol, stable_symbol, status,
			lp_fee_bps, protocol_fee_bps, split_ratio_bps, min_liq_mode, min_liq_value,
			live_asset, live_stable, live_lp,
			trans_asset, trans_stable, trans_lp,
			wo_asset, wo_stable, wo_lp,
			total_asset, total_stable, total_lp,
			pos_live, pos_transitioning, pos_withdraw_only,
			protocol_fee_asset, protocol_fee_stable,
			twap_aggregator, twap_last_obs, twap_started_at, twap_updated_at,
			proposal_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13,
			$14, $15, $16,
			$17, $18, $19,
			$20, $21, $22,
			$23, $24, $25,
			$26, $27,
			$28, $29, $30, $31,
			$32, $33, NOW()
		)`

	_, err := s.pool.Exec(ctx, query, marketArgs(m)...)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	return nil
}

// Update replaces every mutable field of a market. The engine is the source
// of truth for pool state; rows are written whole after each operation.
func (s *MarketStore) Update(ctx context.Context, m domain.Market) error {
	const query = `
		UPDATE markets SET
			slug                = $2,
			asset_symbol        = $3,
			stable_symbol       = $4,
			status              = $5,
			lp_fee_bps          = $6,
			protocol_fee_bps    = $7,
			split_ratio_bps     = $8,
			min_liq_mode        = $9,
			min_liq_value       = $10,
			live_asset          = $11,
			live_stable         = $12,
			live_lp             = $13,
			trans_asset         = $14,
			trans_stable        = $15,
			trans_lp            = $16,
			wo_asset            = $17,
			wo_stable           = $18,
			wo_lp               = $19,
			total_asset         = $20,
			total_stable        = $21,
			total_lp            = $22,
			pos_live            = $23,
			pos_transitioning   = $24,
			pos_withdraw_only   = $25,
			protocol_fee_asset  = $26,
			protocol_fee_stable = $27,
			twap_aggregator     = $28,
			twap_last_obs       = $29,
			twap_started_at     = $30,
			twap_updated_at     = $31,
			proposal_id         = $32,
			updated_at          = NOW()
		WHERE id = $1`

	// marketArgs ends with created_at, which Update leaves untouched.
	args := marketArgs(m)
	args = args[:len(args)-1]

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// GetBySlug retrieves a market by its URL slug.
func (s *MarketStore) GetBySlug(ctx context.Context, slug string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE slug = $1`, slug)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market by slug %s: %w", slug, err)
	}
	return m, nil
}

// List returns markets with pagination and optional time filtering.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE 1=1`
	args := []any{}
	argIdx := 1

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
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		var m domain.Market
		var status, minLiqMode string
		if err := rows.Scan(marketScanTargets(&m, &status, &minLiqMode)...); err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		m.Status = domain.MarketStatus(status)
		m.Params.MinLiquidityMode = domain.MinLiquidityMode(minLiqMode)
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

// Count returns the total number of markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

// isUniqueViolation reports whether err is a Postgres unique-constraint error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
