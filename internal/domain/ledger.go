package domain

import "time"

// Ledger accounts. The trader account is the market's public conditional
// balance table; the venue account holds the arbitrage engine's residue
// between cycles.
const (
	AccountTrader = "trader"
	AccountVenue  = "venue"
)

// BalanceEntry is one cell of a market's flat conditional-balance ledger,
// keyed (market, account, outcome, side). A proposal with N outcomes owns
// exactly 2N entries per account; they are created zeroed at proposal open
// and deleted (after a dust sweep) at settlement.
type BalanceEntry struct {
	MarketID   string
	ProposalID string
	Account    string
	Outcome    int
	Side       Side
	Amount     uint64
	UpdatedAt  time.Time
}

// DustRecord captures ledger residue that never formed a complete set and
// was zeroed at settlement.
type DustRecord struct {
	Outcome int
	Side    Side
	Amount  uint64
}
