package domain

import "time"

// ProposalState is the venue-side lifecycle of a governance proposal.
// The venue never decides outcomes; it only mirrors what governance reports.
type ProposalState string

const (
	// ProposalStateOpen: conditional pools live, trading on every outcome.
	ProposalStateOpen ProposalState = "open"
	// ProposalStateResolved: winning outcome known, recombination not finished.
	ProposalStateResolved ProposalState = "resolved"
	// ProposalStateSettled: recombination finished, conditional pools gone.
	ProposalStateSettled ProposalState = "settled"
)

// Proposal is the venue's record of a governance proposal locking a market.
// Escrow backs every outstanding conditional balance 1:1; it is funded by
// the quantum split and complete-set mints, drained by burns, winning
// redemptions, and recombination.
type Proposal struct {
	ID             string
	MarketID       string
	Title          string
	OutcomeCount   int
	SplitRatioBps  uint64
	State          ProposalState
	WinningOutcome *int
	EscrowAsset    uint64
	EscrowStable   uint64
	CreatedAt      time.Time
	ResolvedAt     *time.Time
	SettledAt      *time.Time
}

// ConditionalState is a persisted snapshot of one outcome's conditional pool.
type ConditionalState struct {
	ProposalID        string
	MarketID          string
	Outcome           int
	Live              BucketAmounts
	Transitioning     BucketAmounts
	ProtocolFeeAsset  uint64
	ProtocolFeeStable uint64
	Twap              TwapState
	UpdatedAt         time.Time
}
