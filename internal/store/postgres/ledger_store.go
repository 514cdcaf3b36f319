package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

const ledgerCols = `market_id, proposal_id, account, outcome, side, amount, updated_at`

// UpsertBatch writes a set of ledger cells in one batch. The engine emits
// whole-ledger snapshots, so every cell of an account is rewritten together.
func (s *LedgerStore) UpsertBatch(ctx context.Context, entries []domain.BalanceEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO ledger_entries (
			market_id, proposal_id, account, outcome, side, amount, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, NOW()
		)
		ON CONFLICT (market_id, account, outcome, side) DO UPDATE SET
			proposal_id = EXCLUDED.proposal_id,
			amount      = EXCLUDED.amount,
			updated_at  = NOW()`

	for _, e := range entries {
		batch.Queue(query,
			e.MarketID, e.ProposalID, e.Account, e.Outcome, string(e.Side), e.Amount,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range entries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert ledger entry %d: %w", i, err)
		}
	}
	return nil
}

// Get retrieves one ledger cell.
func (s *LedgerStore) Get(ctx context.Context, marketID, account string, outcome int, side domain.Side) (domain.BalanceEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+ledgerCols+` FROM ledger_entries
		 WHERE market_id = $1 AND account = $2 AND outcome = $3 AND side = $4`,
		marketID, account, outcome, string(side))

	var e domain.BalanceEntry
	var sideStr string
	err := row.Scan(&e.MarketID, &e.ProposalID, &e.Account, &e.Outcome, &sideStr, &e.Amount, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BalanceEntry{}, domain.ErrNotFound
		}
		return domain.BalanceEntry{}, fmt.Errorf("postgres: get ledger entry: %w", err)
	}
	e.Side = domain.Side(sideStr)
	return e, nil
}

// ListByAccount returns every cell of one account in a market, ordered by
// outcome then side so restores are deterministic.
func (s *LedgerStore) ListByAccount(ctx context.Context, marketID, account string) ([]domain.BalanceEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ledgerCols+` FROM ledger_entries
		 WHERE market_id = $1 AND account = $2
		 ORDER BY outcome, side`,
		marketID, account)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.BalanceEntry
	for rows.Next() {
		var e domain.BalanceEntry
		var sideStr string
		if err := rows.Scan(&e.MarketID, &e.ProposalID, &e.Account, &e.Outcome, &sideStr, &e.Amount, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan ledger entry: %w", err)
		}
		e.Side = domain.Side(sideStr)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list ledger entries rows: %w", err)
	}
	return entries, nil
}

// DeleteByProposal removes every cell created under a settled proposal.
func (s *LedgerStore) DeleteByProposal(ctx context.Context, proposalID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM ledger_entries WHERE proposal_id = $1`, proposalID)
	if err != nil {
		return fmt.Errorf("postgres: delete ledger entries for %s: %w", proposalID, err)
	}
	return nil
}
