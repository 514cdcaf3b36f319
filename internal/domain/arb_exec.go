package domain

import "time"

// ArbExecStatus is the execution state of one arbitrage cycle.
type ArbExecStatus string

const (
	ArbExecPending   ArbExecStatus = "pending"
	ArbExecCommitted ArbExecStatus = "committed"
	ArbExecRejected  ArbExecStatus = "rejected"
)

// ArbLegVenue identifies which pool one leg traded against.
const (
	// ArbLegSpot marks the spot leg; conditional legs carry their outcome index.
	ArbLegSpot = -1
)

// ArbLeg is one swap inside an arbitrage cycle: the spot leg plus one ledger
// leg per outcome.
type ArbLeg struct {
	Outcome   int // ArbLegSpot for the spot pool
	SideIn    Side
	AmountIn  uint64
	AmountOut uint64
}

// ArbExecution records one committed (or rejected) arbitrage cycle with all
// of its legs, for profit accounting.
type ArbExecution struct {
	ID            string
	OpportunityID string
	MarketID      string
	ProposalID    string
	Direction     ArbDirection
	InputAmount   uint64
	Profit        uint64
	Legs          []ArbLeg
	Status        ArbExecStatus
	Reason        string // set when rejected
	StartedAt     time.Time
	CompletedAt   *time.Time
}
