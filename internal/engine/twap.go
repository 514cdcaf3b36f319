package engine

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// TwapConfig tunes the time-weighted price oracle attached to every pool.
type TwapConfig struct {
	// UpdateInterval is the minimum spacing between observations.
	UpdateInterval time.Duration
	// StartDelay suppresses observations immediately after pool creation so
	// seed-liquidity prices cannot dominate the window.
	StartDelay time.Duration
	// MaxObservationChange caps how far one observation may move from the
	// previous one, in 1e12-scaled price units. Manipulating a single block
	// therefore shifts the oracle by at most this much.
	MaxObservationChange uint64
}

// TwapOracle accumulates observation*elapsed so a reader can divide the
// aggregator by elapsed time for a manipulation-resistant average price.
// The aggregator is 256-bit: price scale 1e12 times seconds never wraps.
type TwapOracle struct {
	cfg             TwapConfig
	startedAt       time.Time
	lastUpdatedAt   time.Time
	lastObservation *uint256.Int
	aggregator      *uint256.Int
}

// NewTwapOracle creates an oracle anchored at now.
func NewTwapOracle(cfg TwapConfig, now time.Time) *TwapOracle {
	return &TwapOracle{
		cfg:             cfg,
		startedAt:       now,
		lastUpdatedAt:   now,
		lastObservation: uint256.NewInt(0),
		aggregator:      uint256.NewInt(0),
	}
}

// Update records price if the observation window has elapsed. Returns true
// when an observation was taken. The first observation is unclamped; every
// later one moves at most MaxObservationChange from its predecessor.
func (o *TwapOracle) Update(now time.Time, price *uint256.Int) bool {
	if now.Before(o.startedAt.Add(o.cfg.StartDelay)) {
		return false
	}
	elapsed := now.Sub(o.lastUpdatedAt)
	if elapsed < o.cfg.UpdateInterval {
		return false
	}

	obs := new(uint256.Int).Set(price)
	if !o.lastObservation.IsZero() && o.cfg.MaxObservationChange > 0 {
		maxStep := uint256.NewInt(o.cfg.MaxObservationChange)
		switch {
		case obs.Gt(o.lastObservation):
			ceil := new(uint256.Int).Add(o.lastObservation, maxStep)
			if obs.Gt(ceil) {
				obs = ceil
			}
		case obs.Lt(o.lastObservation):
			floor := new(uint256.Int)
			if o.lastObservation.Gt(maxStep) {
				floor.Sub(o.lastObservation, maxStep)
			}
			if obs.Lt(floor) {
				obs = floor
			}
		}
	}

	weighted := new(uint256.Int).Mul(obs, uint256.NewInt(uint64(elapsed/time.Second)))
	o.aggregator.Add(o.aggregator, weighted)
	o.lastObservation = obs
	o.lastUpdatedAt = now
	return true
}

// TWAP returns the average observed price since the oracle started, or zero
// before any observation has accrued.
func (o *TwapOracle) TWAP() *uint256.Int {
	elapsed := o.lastUpdatedAt.Sub(o.startedAt)
	secs := uint64(elapsed / time.Second)
	if secs == 0 {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Div(o.aggregator, uint256.NewInt(secs))
}

// LastObservation returns the most recent clamped observation.
func (o *TwapOracle) LastObservation() *uint256.Int {
	return new(uint256.Int).Set(o.lastObservation)
}

// Snapshot converts the oracle into its persisted form.
func (o *TwapOracle) Snapshot() domain.TwapState {
	return domain.TwapState{
		Aggregator:      o.aggregator.Dec(),
		LastObservation: o.lastObservation.Dec(),
		StartedAt:       o.startedAt,
		LastUpdatedAt:   o.lastUpdatedAt,
	}
}

// restoreTwap rebuilds an oracle from its persisted form.
func restoreTwap(st domain.TwapState, cfg TwapConfig) (*TwapOracle, error) {
	if st.Aggregator == "" {
		st.Aggregator = "0"
	}
	if st.LastObservation == "" {
		st.LastObservation = "0"
	}
	agg, err := uint256.FromDecimal(st.Aggregator)
	if err != nil {
		return nil, fmt.Errorf("engine: restore twap aggregator: %w", err)
	}
	last, err := uint256.FromDecimal(st.LastObservation)
	if err != nil {
		return nil, fmt.Errorf("engine: restore twap observation: %w", err)
	}
	return &TwapOracle{
		cfg:             cfg,
		startedAt:       st.StartedAt,
		lastUpdatedAt:   st.LastUpdatedAt,
		lastObservation: last,
		aggregator:      agg,
	}, nil
}
