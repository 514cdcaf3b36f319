package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// ArbExecutionStore implements domain.ArbExecutionStore using PostgreSQL.
type ArbExecutionStore struct {
	pool *pgxpool.Pool
}

// NewArbExecutionStore creates a new ArbExecutionStore.
func NewArbExecutionStore(pool *pgxpool.Pool) *ArbExecutionStore {
	return &ArbExecutionStore{pool: pool}
}

const arbExecCols = `id, opportunity_id, market_id, proposal_id, direction,
	input_amount, profit, status, reason, started_at, completed_at`

// Create inserts an execution and its legs in one transaction.
func (s *ArbExecutionStore) Create(ctx context.Context, exec domain.ArbExecution) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO arb_executions (
			id, opportunity_id, market_id, proposal_id, direction,
			input_amount, profit, status, reason, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		exec.ID, exec.OpportunityID, exec.MarketID, exec.ProposalID, string(exec.Direction),
		exec.InputAmount, exec.Profit, string(exec.Status), exec.Reason,
		exec.StartedAt, exec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert arb_execution: %w", err)
	}

	for i, leg := range exec.Legs {
		_, err = tx.Exec(ctx, `
			INSERT INTO arb_execution_legs (
				execution_id, leg_index, outcome, side_in, amount_in, amount_out
			) VALUES ($1, $2, $3, $4, $5, $6)`,
			exec.ID, i, leg.Outcome, string(leg.SideIn), leg.AmountIn, leg.AmountOut,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert arb_execution_leg %d: %w", i, err)
		}
	}

	return tx.Commit(ctx)
}

// GetByID returns an execution with its legs in cycle order.
func (s *ArbExecutionStore) GetByID(ctx context.Context, id string) (domain.ArbExecution, error) {
	var exec domain.ArbExecution
	var direction, status string
	err := s.pool.QueryRow(ctx,
		`SELECT `+arbExecCols+` FROM arb_executions WHERE id = $1`, id,
	).Scan(
		&exec.ID, &exec.OpportunityID, &exec.MarketID, &exec.ProposalID, &direction,
		&exec.InputAmount, &exec.Profit, &status, &exec.Reason,
		&exec.StartedAt, &exec.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ArbExecution{}, domain.ErrNotFound
		}
		return domain.ArbExecution{}, fmt.Errorf("postgres: get arb_execution %s: %w", id, err)
	}
	exec.Direction = domain.ArbDirection(direction)
	exec.Status = domain.ArbExecStatus(status)

	rows, err := s.pool.Query(ctx, `
		SELECT outcome, side_in, amount_in, amount_out
		FROM arb_execution_legs WHERE execution_id = $1 ORDER BY leg_index`,
		id,
	)
	if err != nil {
		return domain.ArbExecution{}, fmt.Errorf("postgres: get arb_execution_legs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var leg domain.ArbLeg
		var sideIn string
		if err := rows.Scan(&leg.Outcome, &sideIn, &leg.AmountIn, &leg.AmountOut); err != nil {
			return domain.ArbExecution{}, err
		}
		leg.SideIn = domain.Side(sideIn)
		exec.Legs = append(exec.Legs, leg)
	}
	if err := rows.Err(); err != nil {
		return domain.ArbExecution{}, err
	}
	return exec, nil
}

// ListRecent returns the most recent executions without legs.
func (s *ArbExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.ArbExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+arbExecCols+` FROM arb_executions ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list arb_executions: %w", err)
	}
	defer rows.Close()

	var list []domain.ArbExecution
	for rows.Next() {
		var exec domain.ArbExecution
		var direction, status string
		if err := rows.Scan(
			&exec.ID, &exec.OpportunityID, &exec.MarketID, &exec.ProposalID, &direction,
			&exec.InputAmount, &exec.Profit, &status, &exec.Reason,
			&exec.StartedAt, &exec.CompletedAt,
		); err != nil {
			return nil, err
		}
		exec.Direction = domain.ArbDirection(direction)
		exec.Status = domain.ArbExecStatus(status)
		list = append(list, exec)
	}
	return list, rows.Err()
}

// SumProfit returns total committed profit since the given time.
func (s *ArbExecutionStore) SumProfit(ctx context.Context, since time.Time) (uint64, error) {
	var sum uint64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(profit), 0) FROM arb_executions
		WHERE status = 'committed' AND started_at >= $1`, since).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum arb profit: %w", err)
	}
	return sum, nil
}
