package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// PriceService fans a market's price surface out to the cache and the
// signal bus. Publication is best effort: a cache or bus failure degrades
// freshness, never the operation that produced the prices.
type PriceService struct {
	cache     domain.PriceCache
	venue     *VenueService
	proposals domain.ProposalStore
	bus       domain.SignalBus
	logger    *slog.Logger
}

// NewPriceService creates a PriceService with all required dependencies.
func NewPriceService(
	cache domain.PriceCache,
	venue *VenueService,
	proposals domain.ProposalStore,
	bus domain.SignalBus,
	logger *slog.Logger,
) *PriceService {
	return &PriceService{
		cache:     cache,
		venue:     venue,
		proposals: proposals,
		bus:       bus,
		logger:    logger,
	}
}

// Publish writes every pool price of the surface to the cache and emits
// ticks on the prices channel plus one price_update envelope on the events
// channel.
func (s *PriceService) Publish(ctx context.Context, mp domain.MarketPrices) {
	points := append([]domain.PricePoint{mp.Spot}, mp.Conditional...)
	for _, p := range points {
		if cacheErr := s.cache.SetPrice(ctx, p); cacheErr != nil {
			s.logger.WarnContext(ctx, "price_service: cache set failed",
				slog.String("market_id", p.MarketID),
				slog.String("venue", p.Venue),
				slog.String("error", cacheErr.Error()),
			)
		}
		tick, _ := json.Marshal(p)
		if pubErr := s.bus.Publish(ctx, PricesChannel, tick); pubErr != nil {
			s.logger.WarnContext(ctx, "price_service: publish tick failed",
				slog.String("market_id", p.MarketID),
				slog.String("venue", p.Venue),
				slog.String("error", pubErr.Error()),
			)
		}
	}

	evt, _ := json.Marshal(newEvent(domain.EventPriceUpdate, mp.MarketID, "", map[string]any{
		"spot":     mp.Spot.Spot,
		"twap":     mp.Spot.Twap,
		"outcomes": len(mp.Conditional),
	}))
	if pubErr := s.bus.Publish(ctx, EventsChannel, evt); pubErr != nil {
		s.logger.WarnContext(ctx, "price_service: publish event failed",
			slog.String("market_id", mp.MarketID),
			slog.String("error", pubErr.Error()),
		)
	}
}

// GetMarketPrices returns the market's price surface, preferring the cache
// and falling back to the live aggregate.
func (s *PriceService) GetMarketPrices(ctx context.Context, marketID string) (domain.MarketPrices, error) {
	outcomes, err := s.outcomeCount(ctx, marketID)
	if err != nil {
		return domain.MarketPrices{}, err
	}

	if mp, cacheErr := s.cache.GetMarketPrices(ctx, marketID, outcomes); cacheErr == nil {
		return mp, nil
	} else if !errors.Is(cacheErr, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "price_service: cache read failed",
			slog.String("market_id", marketID),
			slog.String("error", cacheErr.Error()),
		)
	}

	mp, err := s.venue.Prices(ctx, marketID)
	if err != nil {
		return domain.MarketPrices{}, fmt.Errorf("price_service: prices for %q: %w", marketID, err)
	}
	s.Publish(ctx, mp)
	return mp, nil
}

// outcomeCount resolves how many conditional pools the cache read should
// expect. Zero without an open proposal.
func (s *PriceService) outcomeCount(ctx context.Context, marketID string) (int, error) {
	m, err := s.venue.GetMarket(ctx, marketID)
	if err != nil {
		return 0, fmt.Errorf("price_service: get market %q: %w", marketID, err)
	}
	if m.ProposalID == nil {
		return 0, nil
	}
	prop, err := s.proposals.GetByID(ctx, *m.ProposalID)
	if err != nil {
		return 0, fmt.Errorf("price_service: get proposal %q: %w", *m.ProposalID, err)
	}
	return prop.OutcomeCount, nil
}
