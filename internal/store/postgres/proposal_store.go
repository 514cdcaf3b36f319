package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// ProposalStore implements domain.ProposalStore using PostgreSQL.
type ProposalStore struct {
	pool *pgxpool.Pool
}

// NewProposalStore creates a new ProposalStore backed by the given connection pool.
func NewProposalStore(pool *pgxpool.Pool) *ProposalStore {
	return &ProposalStore{pool: pool}
}

const proposalCols = `id, market_id, title, outcome_count, split_ratio_bps,
	state, winning_outcome, escrow_asset, escrow_stable,
	created_at, resolved_at, settled_at`

func scanProposal(row pgx.Row) (domain.Proposal, error) {
	var p domain.Proposal
	var state string
	err := row.Scan(
		&p.ID, &p.MarketID, &p.Title, &p.OutcomeCount, &p.SplitRatioBps,
		&state, &p.WinningOutcome, &p.EscrowAsset, &p.EscrowStable,
		&p.CreatedAt, &p.ResolvedAt, &p.SettledAt,
	)
	if err != nil {
		return domain.Proposal{}, err
	}
	p.State = domain.ProposalState(state)
	return p, nil
}

func scanProposalRows(rows pgx.Rows) ([]domain.Proposal, error) {
	var proposals []domain.Proposal
	for rows.Next() {
		var p domain.Proposal
		var state string
		if err := rows.Scan(
			&p.ID, &p.MarketID, &p.Title, &p.OutcomeCount, &p.SplitRatioBps,
			&state, &p.WinningOutcome, &p.EscrowAsset, &p.EscrowStable,
			&p.CreatedAt, &p.ResolvedAt, &p.SettledAt,
		); err != nil {
			return nil, err
		}
		p.State = domain.ProposalState(state)
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}

// Create inserts a new proposal. A partial unique index enforces at most one
// open proposal per market; violating it returns domain.ErrAlreadyExists.
func (s *ProposalStore) Create(ctx context.Context, p domain.Proposal) error {
	const query = `
		INSERT INTO proposals (
			id, market_id, title, outcome_count, split_ratio_bps,
			state, winning_outcome, escrow_asset, escrow_stable,
			created_at, resolved_at, settled_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.MarketID, p.Title, p.OutcomeCount, p.SplitRatioBps,
		string(p.State), p.WinningOutcome, p.EscrowAsset, p.EscrowStable,
		p.CreatedAt, p.ResolvedAt, p.SettledAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create proposal %s: %w", p.ID, err)
	}
	return nil
}

// Update replaces the mutable fields of a proposal.
func (s *ProposalStore) Update(ctx context.Context, p domain.Proposal) error {
	const query = `
		UPDATE proposals SET
			title           = $2,
			state           = $3,
			winning_outcome = $4,
			escrow_asset    = $5,
			escrow_stable   = $6,
			resolved_at     = $7,
			settled_at      = $8
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		p.ID, p.Title, string(p.State), p.WinningOutcome,
		p.EscrowAsset, p.EscrowStable, p.ResolvedAt, p.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update proposal %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a proposal by its primary key.
func (s *ProposalStore) GetByID(ctx context.Context, id string) (domain.Proposal, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+proposalCols+` FROM proposals WHERE id = $1`, id)
	p, err := scanProposal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Proposal{}, domain.ErrNotFound
		}
		return domain.Proposal{}, fmt.Errorf("postgres: get proposal %s: %w", id, err)
	}
	return p, nil
}

// GetOpenByMarket returns the single open proposal locking a market, or
// domain.ErrNotFound when the market trades spot-only.
func (s *ProposalStore) GetOpenByMarket(ctx context.Context, marketID string) (domain.Proposal, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+proposalCols+` FROM proposals WHERE market_id = $1 AND state = 'open'`,
		marketID)
	p, err := scanProposal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Proposal{}, domain.ErrNotFound
		}
		return domain.Proposal{}, fmt.Errorf("postgres: get open proposal for market %s: %w", marketID, err)
	}
	return p, nil
}

// List returns proposals with pagination and optional time filtering.
func (s *ProposalStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Proposal, error) {
	return s.list(ctx, "", opts)
}

// ListByState returns proposals in the given state.
func (s *ProposalStore) ListByState(ctx context.Context, state domain.ProposalState, opts domain.ListOpts) ([]domain.Proposal, error) {
	return s.list(ctx, string(state), opts)
}

func (s *ProposalStore) list(ctx context.Context, state string, opts domain.ListOpts) ([]domain.Proposal, error) {
	query := `SELECT ` + proposalCols + ` FROM proposals WHERE 1=1`
	args := []any{}
	argIdx := 1

	if state != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, state)
		argIdx++
	}
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
		return nil, fmt.Errorf("postgres: list proposals: %w", err)
	}
	defer rows.Close()

	proposals, err := scanProposalRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan proposals: %w", err)
	}
	return proposals, nil
}

// SaveConditionals upserts per-outcome conditional pool snapshots in one batch.
func (s *ProposalStore) SaveConditionals(ctx context.Context, states []domain.ConditionalState) error {
	if len(states) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO conditional_states (
			proposal_id, market_id, outcome,
			live_asset, live_stable, live_lp,
			trans_asset, trans_stable, trans_lp,
			protocol_fee_asset, protocol_fee_stable,
			twap_aggregator, twap_last_obs, twap_started_at, twap_updated_at,
			updated_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6,
			$7, $8, $9,
			$10, $11,
			$12, $13, $14, $15,
			NOW()
		)
		ON CONFLICT (proposal_id, outcome) DO UPDATE SET
			live_asset          = EXCLUDED.live_asset,
			live_stable         = EXCLUDED.live_stable,
			live_lp             = EXCLUDED.live_lp,
			trans_asset         = EXCLUDED.trans_asset,
			trans_stable        = EXCLUDED.trans_stable,
			trans_lp            = EXCLUDED.trans_lp,
			protocol_fee_asset  = EXCLUDED.protocol_fee_asset,
			protocol_fee_stable = EXCLUDED.protocol_fee_stable,
			twap_aggregator     = EXCLUDED.twap_aggregator,
			twap_last_obs       = EXCLUDED.twap_last_obs,
			twap_started_at     = EXCLUDED.twap_started_at,
			twap_updated_at     = EXCLUDED.twap_updated_at,
			updated_at          = NOW()`

	for _, cs := range states {
		batch.Queue(query,
			cs.ProposalID, cs.MarketID, cs.Outcome,
			cs.Live.Asset, cs.Live.Stable, cs.Live.LP,
			cs.Transitioning.Asset, cs.Transitioning.Stable, cs.Transitioning.LP,
			cs.ProtocolFeeAsset, cs.ProtocolFeeStable,
			cs.Twap.Aggregator, cs.Twap.LastObservation, cs.Twap.StartedAt, cs.Twap.LastUpdatedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range states {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: save conditional state item %d: %w", i, err)
		}
	}
	return nil
}

// ListConditionals returns a proposal's conditional pool snapshots ordered by
// outcome index.
func (s *ProposalStore) ListConditionals(ctx context.Context, proposalID string) ([]domain.ConditionalState, error) {
	const query = `
		SELECT proposal_id, market_id, outcome,
			live_asset, live_stable, live_lp,
			trans_asset, trans_stable, trans_lp,
			protocol_fee_asset, protocol_fee_stable,
			twap_aggregator, twap_last_obs, twap_started_at, twap_updated_at,
			updated_at
		FROM conditional_states
		WHERE proposal_id = $1
		ORDER BY outcome`

	rows, err := s.pool.Query(ctx, query, proposalID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list conditional states: %w", err)
	}
	defer rows.Close()

	var states []domain.ConditionalState
	for rows.Next() {
		var cs domain.ConditionalState
		if err := rows.Scan(
			&cs.ProposalID, &cs.MarketID, &cs.Outcome,
			&cs.Live.Asset, &cs.Live.Stable, &cs.Live.LP,
			&cs.Transitioning.Asset, &cs.Transitioning.Stable, &cs.Transitioning.LP,
			&cs.ProtocolFeeAsset, &cs.ProtocolFeeStable,
			&cs.Twap.Aggregator, &cs.Twap.LastObservation, &cs.Twap.StartedAt, &cs.Twap.LastUpdatedAt,
			&cs.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan conditional state: %w", err)
		}
		states = append(states, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list conditional states rows: %w", err)
	}
	return states, nil
}

// DeleteConditionals removes every conditional snapshot of a settled proposal.
func (s *ProposalStore) DeleteConditionals(ctx context.Context, proposalID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM conditional_states WHERE proposal_id = $1`, proposalID)
	if err != nil {
		return fmt.Errorf("postgres: delete conditional states for %s: %w", proposalID, err)
	}
	return nil
}
