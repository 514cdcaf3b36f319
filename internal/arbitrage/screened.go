package arbitrage

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// ScreenedConfig tunes the surface pre-filter.
type ScreenedConfig struct {
	// MinEdgeBps is the spot-vs-conditional divergence required before the
	// exact sizing search runs.
	MinEdgeBps uint64
	// MinProfit drops sized cycles whose simulated profit is not worth an
	// execution round trip.
	MinProfit uint64
	// StaleAfter expires surface entries that have not ticked recently,
	// so quotes from a settled proposal cannot keep triggering scans.
	StaleAfter time.Duration
}

// Screened tracks each market's price surface from ticks and runs the
// sizing search only when the surface itself shows an edge. A complete-set
// cycle pays only when every conditional pool prices the asset above spot
// (spot cheap) or every pool prices it below (spot rich), so the screen
// compares spot against the min and max conditional price. The screen
// tolerates a partial surface; the sizing search is the authority.
type Screened struct {
	cfg    ScreenedConfig
	sizer  Sizer
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	surfaces map[string]*surfaceState
}

type surfaceState struct {
	spot   decimal.Decimal
	spotAt time.Time
	cond   map[int]condQuote
}

type condQuote struct {
	price decimal.Decimal
	at    time.Time
}

// NewScreened creates the screened strategy.
func NewScreened(cfg ScreenedConfig, sizer Sizer, logger *slog.Logger) *Screened {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = time.Minute
	}
	return &Screened{
		cfg:      cfg,
		sizer:    sizer,
		logger:   logger.With(slog.String("arb_strategy", "screened")),
		now:      time.Now,
		surfaces: make(map[string]*surfaceState),
	}
}

// Name returns the strategy identifier.
func (s *Screened) Name() string { return "screened" }

var bpsScale = decimal.NewFromInt(10_000)

// Detect folds the tick into the market's surface and sizes a cycle when
// the fresh surface diverges by at least MinEdgeBps.
func (s *Screened) Detect(ctx context.Context, tick domain.PricePoint) ([]domain.ArbOpportunity, error) {
	if tick.MarketID == "" {
		return nil, nil
	}
	price, err := decimal.NewFromString(tick.Spot)
	if err != nil {
		return nil, fmt.Errorf("arbitrage: tick price %q for %s/%s: %w", tick.Spot, tick.MarketID, tick.Venue, err)
	}

	edgeBps, ok := s.observe(tick, price)
	if !ok {
		return nil, nil
	}

	opp, err := s.sizer.Detect(ctx, tick.MarketID)
	if err != nil {
		if benign(err) {
			return nil, nil
		}
		return nil, err
	}
	if opp.ExpectedProfit < s.cfg.MinProfit {
		return nil, nil
	}
	s.logger.DebugContext(ctx, "surface edge confirmed by sizing",
		slog.String("market_id", tick.MarketID),
		slog.String("edge_bps", edgeBps.StringFixed(1)),
		slog.Uint64("expected_profit", opp.ExpectedProfit),
	)
	return []domain.ArbOpportunity{opp}, nil
}

// observe updates the surface with one tick and reports whether the fresh
// surface clears the edge threshold.
func (s *Screened) observe(tick domain.PricePoint, price decimal.Decimal) (decimal.Decimal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	st := s.surfaces[tick.MarketID]
	if st == nil {
		st = &surfaceState{cond: make(map[int]condQuote)}
		s.surfaces[tick.MarketID] = st
	}

	switch {
	case tick.Venue == domain.PriceKeySpot:
		st.spot, st.spotAt = price, now
	case strings.HasPrefix(tick.Venue, "o"):
		idx, convErr := strconv.Atoi(tick.Venue[1:])
		if convErr != nil {
			return decimal.Decimal{}, false
		}
		st.cond[idx] = condQuote{price: price, at: now}
	default:
		return decimal.Decimal{}, false
	}

	if st.spot.IsZero() || now.Sub(st.spotAt) > s.cfg.StaleAfter {
		return decimal.Decimal{}, false
	}
	var minC, maxC decimal.Decimal
	fresh := 0
	for _, q := range st.cond {
		if q.price.IsZero() || now.Sub(q.at) > s.cfg.StaleAfter {
			continue
		}
		if fresh == 0 || q.price.LessThan(minC) {
			minC = q.price
		}
		if fresh == 0 || q.price.GreaterThan(maxC) {
			maxC = q.price
		}
		fresh++
	}
	if fresh == 0 {
		return decimal.Decimal{}, false
	}

	edge := minC.Sub(st.spot)
	if rich := st.spot.Sub(maxC); rich.GreaterThan(edge) {
		edge = rich
	}
	if !edge.IsPositive() {
		return decimal.Decimal{}, false
	}
	bps := edge.Mul(bpsScale).Div(st.spot)
	if bps.LessThan(decimal.NewFromInt(int64(s.cfg.MinEdgeBps))) {
		return decimal.Decimal{}, false
	}
	return bps, true
}
