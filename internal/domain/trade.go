package domain

import "time"

// TradeVenue distinguishes where a swap executed.
type TradeVenue string

const (
	TradeVenueSpot        TradeVenue = "spot"
	TradeVenueConditional TradeVenue = "conditional"
)

// TradeKind distinguishes who initiated a swap.
type TradeKind string

const (
	TradeKindUser      TradeKind = "user"
	TradeKindArbitrage TradeKind = "arbitrage"
)

// Trade records one executed swap against the spot pool or a conditional
// pool. Price is the post-trade pool price as a 1e12-scaled decimal string.
type Trade struct {
	ID          string
	MarketID    string
	ProposalID  *string
	Venue       TradeVenue
	Outcome     *int // set for conditional venue only
	Kind        TradeKind
	Trader      string
	SideIn      Side
	AmountIn    uint64
	AmountOut   uint64
	LPFee       uint64
	ProtocolFee uint64
	Price       string
	CreatedAt   time.Time
}
