package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

const proposalTTL = 5 * time.Minute

// ProposalCache implements domain.ProposalCache using Redis with a secondary
// market-to-open-proposal index. A market has at most one open proposal, so
// the index is a single string key.
//
// Key schema:
//
//	proposal:{id}           - JSON-serialized Proposal
//	proposal:open:{marketID} - string value of the open proposal's ID
type ProposalCache struct {
	rdb *redis.Client
}

// NewProposalCache creates a ProposalCache backed by the given Client.
func NewProposalCache(c *Client) *ProposalCache {
	return &ProposalCache{rdb: c.Underlying()}
}

func proposalKey(id string) string      { return "proposal:" + id }
func proposalOpenKey(mid string) string { return "proposal:open:" + mid }

// Set stores a Proposal with a 5-minute TTL. Open proposals also refresh the
// market's open-proposal index; resolved and settled proposals clear it in
// case it still points at them.
func (pc *ProposalCache) Set(ctx context.Context, p domain.Proposal) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("redis: marshal proposal %s: %w", p.ID, err)
	}

	pipe := pc.rdb.TxPipeline()
	pipe.Set(ctx, proposalKey(p.ID), data, proposalTTL)
	if p.State == domain.ProposalStateOpen {
		pipe.Set(ctx, proposalOpenKey(p.MarketID), p.ID, proposalTTL)
	} else {
		stale := pc.rdb.Get(ctx, proposalOpenKey(p.MarketID)).Val()
		if stale == p.ID {
			pipe.Del(ctx, proposalOpenKey(p.MarketID))
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set proposal %s: %w", p.ID, err)
	}
	return nil
}

// Get retrieves a Proposal by its ID from the cache.
// It returns domain.ErrNotFound when the key does not exist.
func (pc *ProposalCache) Get(ctx context.Context, id string) (domain.Proposal, error) {
	data, err := pc.rdb.Get(ctx, proposalKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Proposal{}, domain.ErrNotFound
		}
		return domain.Proposal{}, fmt.Errorf("redis: get proposal %s: %w", id, err)
	}

	var p domain.Proposal
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.Proposal{}, fmt.Errorf("redis: unmarshal proposal %s: %w", id, err)
	}
	return p, nil
}

// GetOpenByMarket looks up a market's open proposal through the index.
// It returns domain.ErrNotFound if the market has no cached open proposal.
func (pc *ProposalCache) GetOpenByMarket(ctx context.Context, marketID string) (domain.Proposal, error) {
	proposalID, err := pc.rdb.Get(ctx, proposalOpenKey(marketID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Proposal{}, domain.ErrNotFound
		}
		return domain.Proposal{}, fmt.Errorf("redis: get open proposal for market %s: %w", marketID, err)
	}

	p, err := pc.Get(ctx, proposalID)
	if err != nil {
		return domain.Proposal{}, err
	}
	// The index can outlive a state change made by another process.
	if p.State != domain.ProposalStateOpen {
		return domain.Proposal{}, domain.ErrNotFound
	}
	return p, nil
}

// Invalidate removes a Proposal and its open-proposal index entry.
func (pc *ProposalCache) Invalidate(ctx context.Context, id string) error {
	p, err := pc.Get(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("redis: invalidate proposal %s: %w", id, err)
	}

	pipe := pc.rdb.TxPipeline()
	pipe.Del(ctx, proposalKey(id))
	if err == nil {
		pipe.Del(ctx, proposalOpenKey(p.MarketID))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: invalidate proposal %s: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ProposalCache = (*ProposalCache)(nil)
