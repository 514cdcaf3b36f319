package domain

import "time"

// TwapState is the persisted time-weighted price oracle state for one pool.
// Aggregator and LastObservation are decimal strings because both are
// 256-bit quantities (price scale 1e12 times elapsed seconds).
type TwapState struct {
	Aggregator      string
	LastObservation string
	StartedAt       time.Time
	LastUpdatedAt   time.Time
}
