package domain

import "time"

// EventType classifies venue events published on the signal bus.
type EventType string

const (
	EventSwap             EventType = "swap"
	EventLiquidityAdded   EventType = "liquidity_added"
	EventLiquidityRemoved EventType = "liquidity_removed"
	EventMarkedWithdraw   EventType = "marked_for_withdrawal"
	EventClaimed          EventType = "withdrawal_claimed"
	EventProposalOpened   EventType = "proposal_opened"
	EventQuantumSplit     EventType = "quantum_split"
	EventProposalResolved EventType = "proposal_resolved"
	EventRecombined       EventType = "recombined"
	EventTransitioned     EventType = "transition_pending"
	EventCompleteSetMint  EventType = "complete_set_minted"
	EventCompleteSetBurn  EventType = "complete_set_burned"
	EventDustSwept        EventType = "dust_swept"
	EventArbExecuted      EventType = "arb_executed"
	EventPriceUpdate      EventType = "price_update"
)

// VenueEvent is the envelope every subsystem publishes and consumes. Payload
// keys are event-type specific; amounts are decimal strings so non-Go
// consumers never lose precision.
type VenueEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	MarketID   string         `json:"market_id"`
	ProposalID string         `json:"proposal_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ArbDirection names which way a profitable cycle runs.
type ArbDirection string

const (
	// ArbSpotCheap: asset is cheaper on spot than implied by conditionals.
	// Buy on spot, mint a complete set, sell on every conditional pool.
	ArbSpotCheap ArbDirection = "spot_cheap"
	// ArbSpotRich: asset is richer on spot. Mint a stable set, buy asset on
	// every conditional pool, burn the asset set, sell on spot.
	ArbSpotRich ArbDirection = "spot_rich"
)

// ArbOpportunity is a detected profitable cycle between the spot pool and
// the conditional pools of one market.
type ArbOpportunity struct {
	ID             string
	MarketID       string
	ProposalID     string
	Direction      ArbDirection
	InputAmount    uint64 // stable input the sizing search settled on
	ExpectedProfit uint64 // stable out minus stable in, simulated
	SpotPrice      string // 1e12-scaled decimal string
	DetectedAt     time.Time
	Executed       bool
}
