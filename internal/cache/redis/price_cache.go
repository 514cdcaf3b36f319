package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each pool's
// price is stored at "price:{marketID}:{venue}" with fields "spot", "twap"
// and "ts" (Unix nanosecond timestamp). Venue is "spot" for the spot pool or
// "o<outcome>" for a conditional pool.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(marketID, venue string) string {
	return "price:" + marketID + ":" + venue
}

// SetPrice stores the latest price point for one pool.
func (pc *PriceCache) SetPrice(ctx context.Context, p domain.PricePoint) error {
	key := priceKey(p.MarketID, p.Venue)
	fields := map[string]interface{}{
		"spot": p.Spot,
		"twap": p.Twap,
		"ts":   strconv.FormatInt(p.AsOf.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s/%s: %w", p.MarketID, p.Venue, err)
	}
	return nil
}

// GetPrice retrieves the latest price point for one pool. It returns
// domain.ErrNotFound when the key does not exist.
func (pc *PriceCache) GetPrice(ctx context.Context, marketID, venue string) (domain.PricePoint, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(marketID, venue)).Result()
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("redis: get price %s/%s: %w", marketID, venue, err)
	}
	if len(vals) == 0 {
		return domain.PricePoint{}, domain.ErrNotFound
	}
	return parsePricePoint(marketID, venue, vals)
}

// GetMarketPrices retrieves a market's full price surface (spot plus every
// conditional outcome) using a pipeline. Pools with no cached price are
// omitted; a missing spot price fails the read entirely.
func (pc *PriceCache) GetMarketPrices(ctx context.Context, marketID string, outcomes int) (domain.MarketPrices, error) {
	venues := make([]string, 0, outcomes+1)
	venues = append(venues, domain.PriceKeySpot)
	for o := 0; o < outcomes; o++ {
		venues = append(venues, "o"+strconv.Itoa(o))
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(venues))
	for _, v := range venues {
		cmds[v] = pipe.HGetAll(ctx, priceKey(marketID, v))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return domain.MarketPrices{}, fmt.Errorf("redis: get market prices %s: %w", marketID, err)
	}

	out := domain.MarketPrices{MarketID: marketID}
	for _, v := range venues {
		vals, err := cmds[v].Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		p, err := parsePricePoint(marketID, v, vals)
		if err != nil {
			continue
		}
		if v == domain.PriceKeySpot {
			out.Spot = p
		} else {
			out.Conditional = append(out.Conditional, p)
		}
		if p.AsOf.After(out.AsOf) {
			out.AsOf = p.AsOf
		}
	}

	if out.Spot.Venue == "" {
		return domain.MarketPrices{}, domain.ErrNotFound
	}
	return out, nil
}

func parsePricePoint(marketID, venue string, vals map[string]string) (domain.PricePoint, error) {
	p := domain.PricePoint{
		MarketID: marketID,
		Venue:    venue,
		Spot:     vals["spot"],
		Twap:     vals["twap"],
	}
	if p.Spot == "" {
		return domain.PricePoint{}, domain.ErrNotFound
	}
	if tsStr, ok := vals["ts"]; ok {
		tsNano, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			return domain.PricePoint{}, fmt.Errorf("redis: parse price ts %s/%s: %w", marketID, venue, err)
		}
		p.AsOf = time.Unix(0, tsNano)
	}
	return p, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
