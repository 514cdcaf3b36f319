package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/praxismarkets/futarchyd/internal/domain"
	"github.com/praxismarkets/futarchyd/internal/engine"
)

// Signal bus channels and streams shared across the venue.
const (
	// EventsChannel carries every committed VenueEvent as JSON.
	EventsChannel = "events"
	// PricesChannel carries PricePoint ticks for the detector and the
	// websocket hub.
	PricesChannel = "prices"
	// ArbStream is the durable opportunity queue from detector to executor.
	ArbStream = "arb:opportunities"
	// EventStream is the durable, ordered copy of EventsChannel.
	EventStream = "events:log"
)

// marketHandle serializes access to one market's engine aggregate. The
// aggregate holds no lock of its own; every engine call runs under mu.
// stale marks a handle whose aggregate was discarded; waiters reload.
type marketHandle struct {
	mu     sync.Mutex
	stale  bool
	eng    *engine.Market
	trader *engine.BalanceLedger // nil without an attached proposal
	prop   *domain.Proposal      // full row behind the engine proposal, nil without one
}

// VenueService owns the in-memory market registry and its write-through
// persistence. During a run the engine aggregate is authoritative; every
// committed operation snapshots it back to the stores, and a fatal engine
// error or failed persist discards the aggregate so the next access
// rehydrates from Postgres.
type VenueService struct {
	markets     domain.MarketStore
	proposals   domain.ProposalStore
	ledger      domain.LedgerStore
	marketCache domain.MarketCache
	audit       domain.AuditStore
	logger      *slog.Logger

	twap          engine.TwapConfig
	crankInterval time.Duration
	defaults      *engine.Params
	policies      domain.PolicyConfigStore

	mu      sync.Mutex
	handles map[string]*marketHandle
}

// NewVenueService creates a VenueService. twap and crankInterval apply to
// every market the registry loads; per-market AMM params come from the
// stored rows.
func NewVenueService(
	markets domain.MarketStore,
	proposals domain.ProposalStore,
	ledger domain.LedgerStore,
	marketCache domain.MarketCache,
	audit domain.AuditStore,
	twap engine.TwapConfig,
	crankInterval time.Duration,
	logger *slog.Logger,
) *VenueService {
	return &VenueService{
		markets:       markets,
		proposals:     proposals,
		ledger:        ledger,
		marketCache:   marketCache,
		audit:         audit,
		logger:        logger,
		twap:          twap,
		crankInterval: crankInterval,
		handles:       make(map[string]*marketHandle),
	}
}

// WithDefaultParams replaces the built-in AMM defaults applied to markets
// created without explicit params. The venue-level config feeds this.
func (s *VenueService) WithDefaultParams(p engine.Params) *VenueService {
	s.defaults = &p
	return s
}

// WithPolicies attaches the named-preset store consulted when a market is
// created with a policy name.
func (s *VenueService) WithPolicies(ps domain.PolicyConfigStore) *VenueService {
	s.policies = ps
	return s
}

// CreateMarketInput describes a new spot market. Params falls back to the
// Policy preset when named, then to the venue defaults. Explicit Params win
// over a named policy when both are set.
type CreateMarketInput struct {
	Slug         string
	AssetSymbol  string
	StableSymbol string
	Policy       string
	Params       *domain.MarketParams
}

// CreateMarket registers a new market with an empty spot pool.
func (s *VenueService) CreateMarket(ctx context.Context, in CreateMarketInput) (domain.Market, error) {
	if in.Slug == "" || in.AssetSymbol == "" || in.StableSymbol == "" {
		return domain.Market{}, fmt.Errorf("venue_service: create market: slug and symbols required: %w", domain.ErrInvalidAmount)
	}
	now := time.Now().UTC()
	params, err := s.resolveParams(ctx, in)
	if err != nil {
		return domain.Market{}, fmt.Errorf("venue_service: create market %q: %w", in.Slug, err)
	}

	meta := domain.Market{
		ID:           uuid.NewString(),
		Slug:         in.Slug,
		AssetSymbol:  in.AssetSymbol,
		StableSymbol: in.StableSymbol,
		Params:       params.MarketParams(),
		CreatedAt:    now,
	}
	eng, err := engine.NewMarket(meta, params, now)
	if err != nil {
		return domain.Market{}, fmt.Errorf("venue_service: create market %q: %w", in.Slug, err)
	}
	meta, _, _ = eng.Snapshot(now)
	meta.CreatedAt = now

	if err := s.markets.Create(ctx, meta); err != nil {
		return domain.Market{}, fmt.Errorf("venue_service: create market %q: %w", in.Slug, err)
	}

	s.mu.Lock()
	s.handles[meta.ID] = &marketHandle{eng: eng}
	s.mu.Unlock()

	if cacheErr := s.marketCache.Set(ctx, meta); cacheErr != nil {
		s.logger.WarnContext(ctx, "venue_service: cache set failed",
			slog.String("market_id", meta.ID),
			slog.String("error", cacheErr.Error()),
		)
	}
	if auditErr := s.audit.Log(ctx, "market_created", map[string]any{
		"market_id": meta.ID,
		"slug":      meta.Slug,
		"asset":     meta.AssetSymbol,
		"stable":    meta.StableSymbol,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "venue_service: audit log failed",
			slog.String("market_id", meta.ID),
			slog.String("error", auditErr.Error()),
		)
	}
	s.logger.InfoContext(ctx, "venue_service: market created",
		slog.String("market_id", meta.ID),
		slog.String("slug", meta.Slug),
	)
	return meta, nil
}

// resolveParams picks the AMM params for a new market: explicit input,
// then the named policy preset, then the venue defaults. Twap and crank
// pacing always come from the venue config.
func (s *VenueService) resolveParams(ctx context.Context, in CreateMarketInput) (engine.Params, error) {
	params := engine.DefaultParams()
	if s.defaults != nil {
		params = *s.defaults
	}

	switch {
	case in.Params != nil:
		params = engine.FromMarketParams(*in.Params, s.twap)
	case in.Policy != "":
		if s.policies == nil {
			return engine.Params{}, fmt.Errorf("policy %q: no preset store configured: %w", in.Policy, domain.ErrNotFound)
		}
		preset, err := s.policies.Get(ctx, in.Policy)
		if err != nil {
			return engine.Params{}, fmt.Errorf("policy %q: %w", in.Policy, err)
		}
		if !preset.Enabled {
			return engine.Params{}, fmt.Errorf("policy %q is disabled: %w", in.Policy, domain.ErrNotFound)
		}
		params = engine.FromMarketParams(preset.Params, s.twap)
	}

	params.Twap = s.twap
	params.CrankInterval = s.crankInterval
	return params, nil
}

// GetMarket returns a market row, preferring the cache and falling back to
// the store.
func (s *VenueService) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	if m, err := s.marketCache.Get(ctx, id); err == nil {
		return m, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "venue_service: cache get failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
	}

	m, err := s.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("venue_service: get market %q: %w", id, err)
	}
	if cacheErr := s.marketCache.Set(ctx, m); cacheErr != nil {
		s.logger.WarnContext(ctx, "venue_service: cache set failed",
			slog.String("market_id", id),
			slog.String("error", cacheErr.Error()),
		)
	}
	return m, nil
}

// GetMarketBySlug returns a market row by its URL slug, preferring the
// cache's slug index and falling back to the store.
func (s *VenueService) GetMarketBySlug(ctx context.Context, slug string) (domain.Market, error) {
	if m, err := s.marketCache.GetBySlug(ctx, slug); err == nil {
		return m, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "venue_service: cache get by slug failed",
			slog.String("slug", slug),
			slog.String("error", err.Error()),
		)
	}

	m, err := s.markets.GetBySlug(ctx, slug)
	if err != nil {
		return domain.Market{}, fmt.Errorf("venue_service: get market by slug %q: %w", slug, err)
	}
	if cacheErr := s.marketCache.Set(ctx, m); cacheErr != nil {
		s.logger.WarnContext(ctx, "venue_service: cache set failed",
			slog.String("market_id", m.ID),
			slog.String("error", cacheErr.Error()),
		)
	}
	return m, nil
}

// ListMarkets returns market rows with pagination.
func (s *VenueService) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	out, err := s.markets.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("venue_service: list markets: %w", err)
	}
	return out, nil
}

// CountMarkets returns the total number of markets.
func (s *VenueService) CountMarkets(ctx context.Context) (int64, error) {
	n, err := s.markets.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("venue_service: count markets: %w", err)
	}
	return n, nil
}

// Prices reads the full price surface off the live aggregate.
func (s *VenueService) Prices(ctx context.Context, id string) (domain.MarketPrices, error) {
	var out domain.MarketPrices
	err := s.withMarket(ctx, id, func(h *marketHandle) error {
		out = h.eng.Prices(time.Now().UTC())
		return nil
	})
	if err != nil {
		return domain.MarketPrices{}, err
	}
	return out, nil
}

// Halt freezes every mutation on a market until Resume.
func (s *VenueService) Halt(ctx context.Context, id string) error {
	err := s.withMarket(ctx, id, func(h *marketHandle) error {
		h.eng.Halt()
		return s.commit(ctx, h)
	})
	if err != nil {
		return err
	}
	if auditErr := s.audit.Log(ctx, "market_halted", map[string]any{"market_id": id}); auditErr != nil {
		s.logger.WarnContext(ctx, "venue_service: audit log failed",
			slog.String("market_id", id),
			slog.String("error", auditErr.Error()),
		)
	}
	s.logger.InfoContext(ctx, "venue_service: market halted", slog.String("market_id", id))
	return nil
}

// Resume lifts a halt.
func (s *VenueService) Resume(ctx context.Context, id string) error {
	err := s.withMarket(ctx, id, func(h *marketHandle) error {
		h.eng.Resume()
		return s.commit(ctx, h)
	})
	if err != nil {
		return err
	}
	if auditErr := s.audit.Log(ctx, "market_resumed", map[string]any{"market_id": id}); auditErr != nil {
		s.logger.WarnContext(ctx, "venue_service: audit log failed",
			slog.String("market_id", id),
			slog.String("error", auditErr.Error()),
		)
	}
	s.logger.InfoContext(ctx, "venue_service: market resumed", slog.String("market_id", id))
	return nil
}

// withMarket runs fn with the market's handle locked. A fatal engine error
// (overflow, conservation breach) discards the aggregate; waiters that
// raced onto the stale handle loop around and rehydrate a fresh one.
func (s *VenueService) withMarket(ctx context.Context, id string, fn func(h *marketHandle) error) error {
	for {
		h, err := s.handle(ctx, id)
		if err != nil {
			return err
		}
		h.mu.Lock()
		if h.stale {
			h.mu.Unlock()
			continue
		}
		err = fn(h)
		if err != nil && isFatal(err) {
			s.discard(h, id)
			s.logger.ErrorContext(ctx, "venue_service: aggregate discarded after fatal error",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
		}
		h.mu.Unlock()
		return err
	}
}

// commit snapshots the aggregate into the stores after a successful
// mutation. A failed persist discards the aggregate too: the stores stay
// authoritative across restarts, so divergence is resolved by reloading.
func (s *VenueService) commit(ctx context.Context, h *marketHandle) error {
	if err := s.persist(ctx, h); err != nil {
		s.discard(h, h.eng.ID())
		s.logger.ErrorContext(ctx, "venue_service: aggregate discarded after persist failure",
			slog.String("market_id", h.eng.ID()),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

func (s *VenueService) persist(ctx context.Context, h *marketHandle) error {
	now := time.Now().UTC()
	meta, prop, conds := h.eng.Snapshot(now)

	if err := s.markets.Update(ctx, meta); err != nil {
		return fmt.Errorf("venue_service: persist market %s: %w", meta.ID, err)
	}
	if prop != nil && h.prop != nil {
		h.prop.State = prop.State
		h.prop.WinningOutcome = prop.WinningOutcome
		h.prop.EscrowAsset = prop.EscrowAsset
		h.prop.EscrowStable = prop.EscrowStable
		if err := s.proposals.Update(ctx, *h.prop); err != nil {
			return fmt.Errorf("venue_service: persist proposal %s: %w", h.prop.ID, err)
		}
		if err := s.proposals.SaveConditionals(ctx, conds); err != nil {
			return fmt.Errorf("venue_service: persist conditionals %s: %w", h.prop.ID, err)
		}
		rows := h.trader.Entries(meta.ID, h.prop.ID, now)
		for i := range rows {
			rows[i].Account = domain.AccountTrader
		}
		arbRows := h.eng.ArbLedger().Entries(meta.ID, h.prop.ID, now)
		for i := range arbRows {
			arbRows[i].Account = domain.AccountVenue
		}
		if err := s.ledger.UpsertBatch(ctx, append(rows, arbRows...)); err != nil {
			return fmt.Errorf("venue_service: persist ledger %s: %w", meta.ID, err)
		}
	}

	if cacheErr := s.marketCache.Set(ctx, meta); cacheErr != nil {
		s.logger.WarnContext(ctx, "venue_service: cache set failed",
			slog.String("market_id", meta.ID),
			slog.String("error", cacheErr.Error()),
		)
	}
	return nil
}

// handle returns the market's registry entry, loading it on first access.
func (s *VenueService) handle(ctx context.Context, id string) (*marketHandle, error) {
	s.mu.Lock()
	if h, ok := s.handles[id]; ok {
		s.mu.Unlock()
		return h, nil
	}
	s.mu.Unlock()

	h, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.handles[id]; ok {
		return existing, nil
	}
	s.handles[id] = h
	return h, nil
}

// load rehydrates one market's aggregate from the stores.
func (s *VenueService) load(ctx context.Context, id string) (*marketHandle, error) {
	meta, err := s.markets.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("venue_service: load market %q: %w", id, err)
	}
	params := engine.FromMarketParams(meta.Params, s.twap)
	params.CrankInterval = s.crankInterval

	if meta.ProposalID == nil {
		eng, err := engine.RestoreMarket(meta, params, nil, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("venue_service: restore market %q: %w", id, err)
		}
		return &marketHandle{eng: eng}, nil
	}

	prop, err := s.proposals.GetByID(ctx, *meta.ProposalID)
	if err != nil {
		return nil, fmt.Errorf("venue_service: load proposal %q: %w", *meta.ProposalID, err)
	}
	if prop.State == domain.ProposalStateSettled {
		// The proposal row settled but the market row still points at it:
		// a crank was interrupted between the two writes. Load the market
		// detached; the next commit repairs the row.
		s.logger.WarnContext(ctx, "venue_service: detaching settled proposal",
			slog.String("market_id", id),
			slog.String("proposal_id", prop.ID),
		)
		meta.ProposalID = nil
		meta.Status = domain.MarketStatusActive
		eng, err := engine.RestoreMarket(meta, params, nil, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("venue_service: restore market %q: %w", id, err)
		}
		return &marketHandle{eng: eng}, nil
	}
	conds, err := s.proposals.ListConditionals(ctx, prop.ID)
	if err != nil {
		return nil, fmt.Errorf("venue_service: load conditionals %q: %w", prop.ID, err)
	}
	venueRows, err := s.ledger.ListByAccount(ctx, id, domain.AccountVenue)
	if err != nil {
		return nil, fmt.Errorf("venue_service: load venue ledger %q: %w", id, err)
	}
	eng, err := engine.RestoreMarket(meta, params, &prop, conds, venueRows)
	if err != nil {
		return nil, fmt.Errorf("venue_service: restore market %q: %w", id, err)
	}

	traderRows, err := s.ledger.ListByAccount(ctx, id, domain.AccountTrader)
	if err != nil {
		return nil, fmt.Errorf("venue_service: load trader ledger %q: %w", id, err)
	}
	trader, err := engine.RestoreBalanceLedger(prop.OutcomeCount, traderRows)
	if err != nil {
		return nil, fmt.Errorf("venue_service: restore trader ledger %q: %w", id, err)
	}
	return &marketHandle{eng: eng, trader: trader, prop: &prop}, nil
}

func (s *VenueService) discard(h *marketHandle, id string) {
	h.stale = true
	s.mu.Lock()
	if s.handles[id] == h {
		delete(s.handles, id)
	}
	s.mu.Unlock()
}

// isFatal reports whether err poisons the aggregate that produced it.
func isFatal(err error) bool {
	return errors.Is(err, domain.ErrArithmeticOverflow) || errors.Is(err, domain.ErrBucketConservation)
}

// newEvent builds the VenueEvent envelope every service publishes.
func newEvent(t domain.EventType, marketID, proposalID string, payload map[string]any) domain.VenueEvent {
	return domain.VenueEvent{
		ID:         uuid.NewString(),
		Type:       t,
		MarketID:   marketID,
		ProposalID: proposalID,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}
}
