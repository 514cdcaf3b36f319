package domain

import "time"

// MarketStatus represents the lifecycle state of a venue market.
type MarketStatus string

const (
	// MarketStatusActive: spot trading only, no proposal attached.
	MarketStatusActive MarketStatus = "active"
	// MarketStatusProposalOpen: conditional pools exist and trade alongside spot.
	MarketStatusProposalOpen MarketStatus = "proposal_open"
	// MarketStatusRecombining: proposal resolved, crank tearing conditional pools down.
	MarketStatusRecombining MarketStatus = "recombining"
	// MarketStatusHalted: all mutations rejected (operator action).
	MarketStatusHalted MarketStatus = "halted"
)

// MinLiquidityMode selects how the drain-protection buffer scales.
type MinLiquidityMode string

const (
	MinLiquidityAbsolute MinLiquidityMode = "absolute"
	MinLiquidityBps      MinLiquidityMode = "bps"
)

// MarketParams are the per-market AMM policy knobs.
type MarketParams struct {
	LPFeeBps          uint64
	ProtocolFeeBps    uint64
	SplitRatioBps     uint64 // default quantum-split ratio for new proposals
	MinLiquidityMode  MinLiquidityMode
	MinLiquidityValue uint64 // absolute floor or bps of reserves, per mode
}

// SpotState is a persisted snapshot of the spot pool's bucket ledger.
// Totals are carried explicitly so the conservation invariant
// (live + transitioning + withdraw_only == total) survives round trips.
type SpotState struct {
	Live          BucketAmounts
	Transitioning BucketAmounts
	WithdrawOnly  BucketAmounts

	TotalAsset  uint64
	TotalStable uint64
	TotalLP     uint64

	// Position totals denominate LP ownership by withdrawal state; they are
	// the pro-rata denominators for marks and claims.
	PositionLive          uint64
	PositionTransitioning uint64
	PositionWithdrawOnly  uint64

	ProtocolFeeAsset  uint64
	ProtocolFeeStable uint64
}

// Market is the venue's persisted record of one spot market and its params.
type Market struct {
	ID           string
	Slug         string
	AssetSymbol  string
	StableSymbol string
	Status       MarketStatus
	Params       MarketParams
	Spot         SpotState
	Twap         TwapState
	ProposalID   *string // proposal currently locking this market, if any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
