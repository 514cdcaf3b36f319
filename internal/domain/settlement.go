package domain

import "time"

// SettlementReport is the archived record of one proposal's recombination:
// what returned to spot, what was forfeited, and what ledger dust was swept.
// It is uploaded to blob storage at settlement and served back through the
// API for audits.
type SettlementReport struct {
	MarketID         string        `json:"market_id"`
	ProposalID       string        `json:"proposal_id"`
	WinningOutcome   int           `json:"winning_outcome"`
	OutcomeCount     int           `json:"outcome_count"`
	ReturnedToLive   BucketAmounts `json:"returned_to_live"`
	ReturnedWithdraw BucketAmounts `json:"returned_withdraw_only"`
	Forfeited        BucketAmounts `json:"forfeited"`
	Dust             []DustRecord  `json:"dust,omitempty"`
	SpotAfter        SpotState     `json:"spot_after"`
	SpotTwap         string        `json:"spot_twap"`
	WinningTwap      string        `json:"winning_twap"`
	SettledAt        time.Time     `json:"settled_at"`
}
