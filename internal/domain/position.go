package domain

import "time"

// LPPosition is one provider's claim on a market's liquidity. Amount is
// denominated in LP units minted at add time. Bucket tracks the position's
// withdrawal state; reserves themselves are partitioned on the pools.
type LPPosition struct {
	ID       string
	MarketID string
	Owner    string
	Amount   uint64
	Bucket   Bucket
	// LockedProposalID is set when the position was marked for withdrawal
	// while this proposal was open; the claim path refuses to pay out until
	// that proposal has resolved.
	LockedProposalID *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// WithdrawRequested reports whether the owner has asked this position to exit.
func (p LPPosition) WithdrawRequested() bool {
	return p.Bucket != BucketLive
}

// WithdrawalClaim is the receipt produced when a position is claimed. The
// voucher signature authorizes the treasury collaborator to release funds.
type WithdrawalClaim struct {
	ID         string
	PositionID string
	MarketID   string
	Owner      string
	LPAmount   uint64
	AssetOut   uint64
	StableOut  uint64
	VoucherSig string
	CreatedAt  time.Time
}
