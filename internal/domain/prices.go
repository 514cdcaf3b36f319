package domain

import "time"

// PriceKeySpot is the price-cache venue key for the spot pool; conditional
// pools use their outcome index formatted as "o<N>".
const PriceKeySpot = "spot"

// PricePoint is a cached pool price. Spot and Twap are 1e12-scaled decimal
// strings (256-bit safe).
type PricePoint struct {
	MarketID string    `json:"market_id"`
	Venue    string    `json:"venue"` // "spot" or "o<outcome>"
	Spot     string    `json:"spot"`
	Twap     string    `json:"twap"`
	AsOf     time.Time `json:"as_of"`
}

// MarketPrices bundles a market's full price surface for API reads.
type MarketPrices struct {
	MarketID    string       `json:"market_id"`
	Spot        PricePoint   `json:"spot"`
	Conditional []PricePoint `json:"conditional,omitempty"`
	AsOf        time.Time    `json:"as_of"`
}
