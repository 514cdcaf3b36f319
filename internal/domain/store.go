package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists markets and their pool state.
type MarketStore interface {
	Create(ctx context.Context, m Market) error
	Update(ctx context.Context, m Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	GetBySlug(ctx context.Context, slug string) (Market, error)
	List(ctx context.Context, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// ProposalStore persists proposals and their per-outcome pool snapshots.
type ProposalStore interface {
	Create(ctx context.Context, p Proposal) error
	Update(ctx context.Context, p Proposal) error
	GetByID(ctx context.Context, id string) (Proposal, error)
	GetOpenByMarket(ctx context.Context, marketID string) (Proposal, error)
	List(ctx context.Context, opts ListOpts) ([]Proposal, error)
	ListByState(ctx context.Context, state ProposalState, opts ListOpts) ([]Proposal, error)

	SaveConditionals(ctx context.Context, states []ConditionalState) error
	ListConditionals(ctx context.Context, proposalID string) ([]ConditionalState, error)
	DeleteConditionals(ctx context.Context, proposalID string) error
}

// PositionStore persists LP positions.
type PositionStore interface {
	Create(ctx context.Context, pos LPPosition) error
	Update(ctx context.Context, pos LPPosition) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (LPPosition, error)
	ListByMarket(ctx context.Context, marketID string) ([]LPPosition, error)
	ListByOwner(ctx context.Context, owner string, opts ListOpts) ([]LPPosition, error)
	// MoveBucket re-homes every position of a market sitting in from with the
	// given locked proposal into to; used by the recombination crank.
	MoveBucket(ctx context.Context, marketID, proposalID string, from, to Bucket) (int64, error)
}

// LedgerStore persists the flat conditional-balance ledger.
type LedgerStore interface {
	UpsertBatch(ctx context.Context, entries []BalanceEntry) error
	Get(ctx context.Context, marketID, account string, outcome int, side Side) (BalanceEntry, error)
	ListByAccount(ctx context.Context, marketID, account string) ([]BalanceEntry, error)
	DeleteByProposal(ctx context.Context, proposalID string) error
}

// TradeStore persists executed swaps.
type TradeStore interface {
	Insert(ctx context.Context, t Trade) error
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Trade, error)
	ListByTrader(ctx context.Context, trader string, opts ListOpts) ([]Trade, error)
	GetLastTimestamp(ctx context.Context, marketID string) (time.Time, error)
}

// ClaimStore persists withdrawal-claim receipts.
type ClaimStore interface {
	Create(ctx context.Context, c WithdrawalClaim) error
	GetByID(ctx context.Context, id string) (WithdrawalClaim, error)
	ListByOwner(ctx context.Context, owner string, opts ListOpts) ([]WithdrawalClaim, error)
}

// ArbStore persists detected arbitrage opportunities.
type ArbStore interface {
	Insert(ctx context.Context, opp ArbOpportunity) error
	MarkExecuted(ctx context.Context, id string) error
	ListRecent(ctx context.Context, limit int) ([]ArbOpportunity, error)
}

// ArbExecutionStore persists arbitrage executions and legs for profit tracking.
type ArbExecutionStore interface {
	Create(ctx context.Context, exec ArbExecution) error
	GetByID(ctx context.Context, id string) (ArbExecution, error)
	ListRecent(ctx context.Context, limit int) ([]ArbExecution, error)
	SumProfit(ctx context.Context, since time.Time) (uint64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// PolicyConfig is a named AMM-parameter preset applied at market creation.
type PolicyConfig struct {
	Name      string
	Params    MarketParams
	Enabled   bool
	UpdatedAt time.Time
}

// PolicyConfigStore persists AMM policy presets.
type PolicyConfigStore interface {
	Get(ctx context.Context, name string) (PolicyConfig, error)
	Upsert(ctx context.Context, cfg PolicyConfig) error
	List(ctx context.Context) ([]PolicyConfig, error)
}
