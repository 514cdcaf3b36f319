package engine

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// Market is the in-memory aggregate for one venue market: the spot pool,
// the open proposal's conditional pools and escrow, and the position totals
// that denominate LP ownership by withdrawal state. Recoverable errors
// leave the aggregate untouched. A fatal error (ErrArithmeticOverflow,
// ErrBucketConservation) poisons it: the caller must discard the aggregate
// unpersisted and reload from storage. The caller serializes access per
// market; the aggregate holds no lock.
type Market struct {
	meta   domain.Market
	params Params
	spot   *SpotPool

	positionLive          uint64
	positionTransitioning uint64
	positionWithdrawOnly  uint64

	proposal *openProposal

	lastCrankAt time.Time
}

// openProposal is the conditional-market side of the aggregate. It exists
// from proposal open until settlement and is dropped whole afterwards.
type openProposal struct {
	id            string
	outcomeCount  int
	splitRatioBps uint64
	state         domain.ProposalState
	winner        int
	pools         []*ConditionalPool
	escrowAsset   uint64
	escrowStable  uint64
	// arb is the venue's own conditional balance vector, fed by arbitrage
	// cycles and settled with everyone else's at recombination.
	arb *BalanceLedger
}

// NewMarket creates a fresh market with an empty spot pool.
func NewMarket(meta domain.Market, params Params, now time.Time) (*Market, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	meta.Status = domain.MarketStatusActive
	meta.ProposalID = nil
	return &Market{
		meta:   meta,
		params: params,
		spot:   newSpotPool(params.Twap, now),
	}, nil
}

// RestoreMarket rebuilds the aggregate from persisted rows. prop, conds and
// arbRows are nil/empty unless the stored market has a proposal attached.
func RestoreMarket(meta domain.Market, params Params, prop *domain.Proposal, conds []domain.ConditionalState, arbRows []domain.BalanceEntry) (*Market, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	spot, err := restoreSpotPool(meta.Spot, meta.Twap, params.Twap)
	if err != nil {
		return nil, fmt.Errorf("engine: restore market %s: %w", meta.ID, err)
	}
	m := &Market{
		meta:                  meta,
		params:                params,
		spot:                  spot,
		positionLive:          meta.Spot.PositionLive,
		positionTransitioning: meta.Spot.PositionTransitioning,
		positionWithdrawOnly:  meta.Spot.PositionWithdrawOnly,
	}
	if meta.ProposalID == nil {
		return m, nil
	}
	if prop == nil || prop.ID != *meta.ProposalID {
		return nil, fmt.Errorf("engine: restore market %s: proposal %s: %w", meta.ID, *meta.ProposalID, domain.ErrNotFound)
	}
	if prop.State == domain.ProposalStateSettled {
		return nil, fmt.Errorf("engine: restore market %s: settled proposal still attached", meta.ID)
	}

	op := &openProposal{
		id:            prop.ID,
		outcomeCount:  prop.OutcomeCount,
		splitRatioBps: prop.SplitRatioBps,
		state:         prop.State,
		escrowAsset:   prop.EscrowAsset,
		escrowStable:  prop.EscrowStable,
		pools:         make([]*ConditionalPool, prop.OutcomeCount),
	}
	if prop.State == domain.ProposalStateResolved {
		if prop.WinningOutcome == nil {
			return nil, fmt.Errorf("engine: restore market %s: resolved proposal without winner", meta.ID)
		}
		op.winner = *prop.WinningOutcome
	}
	for _, cs := range conds {
		if cs.Outcome < 0 || cs.Outcome >= prop.OutcomeCount {
			return nil, fmt.Errorf("engine: restore market %s: conditional outcome %d: %w", meta.ID, cs.Outcome, domain.ErrInvalidOutcome)
		}
		pool, err := restoreConditionalPool(cs, params.Twap)
		if err != nil {
			return nil, fmt.Errorf("engine: restore market %s outcome %d: %w", meta.ID, cs.Outcome, err)
		}
		op.pools[cs.Outcome] = pool
	}
	for o, pool := range op.pools {
		if pool == nil {
			return nil, fmt.Errorf("engine: restore market %s: missing conditional pool %d", meta.ID, o)
		}
	}
	op.arb, err = RestoreBalanceLedger(prop.OutcomeCount, arbRows)
	if err != nil {
		return nil, fmt.Errorf("engine: restore market %s arb ledger: %w", meta.ID, err)
	}
	m.proposal = op
	return m, nil
}

// ID returns the market identifier.
func (m *Market) ID() string { return m.meta.ID }

// Status returns the current lifecycle status.
func (m *Market) Status() domain.MarketStatus { return m.meta.Status }

// Params returns the market's policy parameters.
func (m *Market) Params() Params { return m.params }

// ProposalID returns the id of the attached proposal, if any.
func (m *Market) ProposalID() *string {
	if m.proposal == nil {
		return nil
	}
	id := m.proposal.id
	return &id
}

// OutcomeCount returns the attached proposal's outcome count, zero if none.
func (m *Market) OutcomeCount() int {
	if m.proposal == nil {
		return 0
	}
	return m.proposal.outcomeCount
}

// Escrow returns the proposal escrow balances, zero when no proposal.
func (m *Market) Escrow() (asset, stable uint64) {
	if m.proposal == nil {
		return 0, 0
	}
	return m.proposal.escrowAsset, m.proposal.escrowStable
}

// ArbLedger exposes the venue's arbitrage balance vector for persistence.
// Nil when no proposal is attached.
func (m *Market) ArbLedger() *BalanceLedger {
	if m.proposal == nil {
		return nil
	}
	return m.proposal.arb
}

// SpotPrice returns the 1e12-scaled spot pool price.
func (m *Market) SpotPrice() *uint256.Int { return m.spot.Price() }

// SpotTwap returns the spot pool's time-weighted average price.
func (m *Market) SpotTwap() *uint256.Int { return m.spot.Twap() }

// ConditionalPrice returns outcome's pool price, zero when out of range or
// no proposal is open.
func (m *Market) ConditionalPrice(outcome int) *uint256.Int {
	pool, err := m.pool(outcome)
	if err != nil {
		return uint256.NewInt(0)
	}
	return pool.Price()
}

// Prices bundles the full price surface for caching and API reads.
func (m *Market) Prices(now time.Time) domain.MarketPrices {
	out := domain.MarketPrices{
		MarketID: m.meta.ID,
		Spot: domain.PricePoint{
			MarketID: m.meta.ID,
			Venue:    domain.PriceKeySpot,
			Spot:     PriceString(m.spot.Price()),
			Twap:     PriceString(m.spot.Twap()),
			AsOf:     now,
		},
		AsOf: now,
	}
	// Resolved pools are frozen, not gone; their last prices stay visible
	// until recombination detaches the proposal.
	if m.proposal == nil {
		return out
	}
	for o, pool := range m.proposal.pools {
		out.Conditional = append(out.Conditional, domain.PricePoint{
			MarketID: m.meta.ID,
			Venue:    fmt.Sprintf("o%d", o),
			Spot:     PriceString(pool.Price()),
			Twap:     PriceString(pool.Twap()),
			AsOf:     now,
		})
	}
	return out
}

// Halt rejects all further mutations until Resume.
func (m *Market) Halt() { m.meta.Status = domain.MarketStatusHalted }

// Resume lifts a halt, restoring the status implied by proposal state.
func (m *Market) Resume() {
	switch {
	case m.proposal == nil:
		m.meta.Status = domain.MarketStatusActive
	case m.proposal.state == domain.ProposalStateOpen:
		m.meta.Status = domain.MarketStatusProposalOpen
	default:
		m.meta.Status = domain.MarketStatusRecombining
	}
}

func (m *Market) ensureMutable() error {
	if m.meta.Status == domain.MarketStatusHalted {
		return fmt.Errorf("engine: market %s: %w", m.meta.ID, domain.ErrMarketHalted)
	}
	return nil
}

func (m *Market) openOrErr() (*openProposal, error) {
	if m.proposal == nil {
		return nil, fmt.Errorf("engine: market %s: %w", m.meta.ID, domain.ErrNoOpenProposal)
	}
	if m.proposal.state != domain.ProposalStateOpen {
		return nil, fmt.Errorf("engine: market %s: proposal %s already resolved: %w", m.meta.ID, m.proposal.id, domain.ErrProposalNotResolved)
	}
	return m.proposal, nil
}

func (m *Market) resolvedOrErr() (*openProposal, error) {
	if m.proposal == nil {
		return nil, fmt.Errorf("engine: market %s: %w", m.meta.ID, domain.ErrNoOpenProposal)
	}
	if m.proposal.state != domain.ProposalStateResolved {
		return nil, fmt.Errorf("engine: market %s: proposal %s: %w", m.meta.ID, m.proposal.id, domain.ErrProposalNotResolved)
	}
	return m.proposal, nil
}

func (m *Market) pool(outcome int) (*ConditionalPool, error) {
	if m.proposal == nil {
		return nil, fmt.Errorf("engine: market %s: %w", m.meta.ID, domain.ErrNoOpenProposal)
	}
	if outcome < 0 || outcome >= len(m.proposal.pools) {
		return nil, fmt.Errorf("engine: outcome %d out of range [0,%d): %w", outcome, len(m.proposal.pools), domain.ErrInvalidOutcome)
	}
	return m.proposal.pools[outcome], nil
}

// AddLiquidity deposits both sides and mints LP weight into the live
// position total. Refused while a proposal is attached: a late deposit
// would hold spot-only exposure while earlier providers carry every
// conditional pool, so entry waits for settlement.
func (m *Market) AddLiquidity(assetIn, stableIn uint64) (uint64, error) {
	if err := m.ensureMutable(); err != nil {
		return 0, err
	}
	if m.proposal != nil {
		return 0, fmt.Errorf("engine: market %s: add liquidity during proposal %s: %w", m.meta.ID, m.proposal.id, domain.ErrProposalStillActive)
	}
	lp, err := m.spot.addLiquidity(assetIn, stableIn)
	if err != nil {
		return 0, err
	}
	// positionLive never exceeds the pool LP total, so this cannot overflow
	// once the pool accepted the mint.
	m.positionLive += lp
	return lp, nil
}

// RemoveLiquidity burns lpAmount of live position weight and returns the
// proportional reserves. Only legal without an attached proposal; marked
// positions use the withdrawal path instead.
func (m *Market) RemoveLiquidity(lpAmount uint64) (assetOut, stableOut uint64, err error) {
	if err := m.ensureMutable(); err != nil {
		return 0, 0, err
	}
	if m.proposal != nil {
		return 0, 0, fmt.Errorf("engine: market %s: remove liquidity during proposal %s: %w", m.meta.ID, m.proposal.id, domain.ErrProposalStillActive)
	}
	if lpAmount == 0 {
		return 0, 0, fmt.Errorf("engine: remove liquidity: %w: zero amount", domain.ErrInvalidAmount)
	}
	if lpAmount > m.positionLive {
		return 0, 0, fmt.Errorf("engine: remove %d exceeds live weight %d: %w", lpAmount, m.positionLive, domain.ErrInsufficientLiquidity)
	}
	out, err := m.spot.removeFromLive(lpAmount, m.positionLive)
	if err != nil {
		return 0, 0, err
	}
	m.positionLive -= lpAmount
	return out.Asset, out.Stable, nil
}

// Swap trades against the spot pool.
func (m *Market) Swap(sideIn domain.Side, amountIn, minOut uint64, now time.Time) (SwapResult, error) {
	if err := m.ensureMutable(); err != nil {
		return SwapResult{}, err
	}
	return m.spot.swap(m.params, sideIn, amountIn, minOut, false, now)
}

// SimulateSwap quotes a spot trade without mutating.
func (m *Market) SimulateSwap(sideIn domain.Side, amountIn uint64) (uint64, error) {
	return m.spot.simulateSwap(m.params, sideIn, amountIn, false)
}

// SwapViaBalance trades outcome's conditional pool through the caller's
// balance ledger: the input cell is debited, the opposite cell credited.
// No other outcome's cells are touched.
func (m *Market) SwapViaBalance(l *BalanceLedger, outcome int, sideIn domain.Side, amountIn, minOut uint64, now time.Time) (SwapResult, error) {
	return m.swapViaBalance(l, outcome, sideIn, amountIn, minOut, false, now)
}

func (m *Market) swapViaBalance(l *BalanceLedger, outcome int, sideIn domain.Side, amountIn, minOut uint64, feeless bool, now time.Time) (SwapResult, error) {
	if err := m.ensureMutable(); err != nil {
		return SwapResult{}, err
	}
	op, err := m.openOrErr()
	if err != nil {
		return SwapResult{}, err
	}
	pool, err := m.pool(outcome)
	if err != nil {
		return SwapResult{}, err
	}
	if l.OutcomeCount() != op.outcomeCount {
		return SwapResult{}, fmt.Errorf("engine: ledger spans %d outcomes, proposal %d: %w", l.OutcomeCount(), op.outcomeCount, domain.ErrInvalidOutcome)
	}
	if have := l.Balance(outcome, sideIn); have < amountIn {
		return SwapResult{}, fmt.Errorf("engine: outcome %d %s balance %d < %d: %w", outcome, sideIn, have, amountIn, domain.ErrInsufficientBalance)
	}
	// The pool commit is deterministic, so simulating first lets the credit
	// overflow be rejected before any state moves.
	simOut, err := pool.simulateSwap(m.params, sideIn, amountIn, feeless)
	if err != nil {
		return SwapResult{}, err
	}
	if _, err := addU64(l.Balance(outcome, sideIn.Other()), simOut); err != nil {
		return SwapResult{}, err
	}

	res, err := pool.swap(m.params, sideIn, amountIn, minOut, feeless, now)
	if err != nil {
		return SwapResult{}, err
	}
	if err := l.debit(outcome, sideIn, amountIn); err != nil {
		return SwapResult{}, err
	}
	if err := l.credit(outcome, sideIn.Other(), res.AmountOut); err != nil {
		return SwapResult{}, err
	}
	return res, nil
}

// SimulateSwapViaBalance quotes a conditional trade without mutating.
func (m *Market) SimulateSwapViaBalance(outcome int, sideIn domain.Side, amountIn uint64) (uint64, error) {
	if _, err := m.openOrErr(); err != nil {
		return 0, err
	}
	pool, err := m.pool(outcome)
	if err != nil {
		return 0, err
	}
	return pool.simulateSwap(m.params, sideIn, amountIn, false)
}

// MintCompleteSet converts amount of deposited side into amount of
// conditional balance in every outcome, backed 1:1 by proposal escrow.
func (m *Market) MintCompleteSet(l *BalanceLedger, side domain.Side, amount uint64) error {
	if err := m.ensureMutable(); err != nil {
		return err
	}
	op, err := m.openOrErr()
	if err != nil {
		return err
	}
	if l.OutcomeCount() != op.outcomeCount {
		return fmt.Errorf("engine: ledger spans %d outcomes, proposal %d: %w", l.OutcomeCount(), op.outcomeCount, domain.ErrInvalidOutcome)
	}
	escrow := &op.escrowAsset
	if side == domain.SideStable {
		escrow = &op.escrowStable
	}
	newEscrow, err := addU64(*escrow, amount)
	if err != nil {
		return err
	}
	if err := l.mintSet(side, amount); err != nil {
		return err
	}
	*escrow = newEscrow
	return nil
}

// BurnCompleteSet burns amount from every outcome of side and releases the
// same amount of the underlying from escrow.
func (m *Market) BurnCompleteSet(l *BalanceLedger, side domain.Side, amount uint64) (uint64, error) {
	if err := m.ensureMutable(); err != nil {
		return 0, err
	}
	op, err := m.openOrErr()
	if err != nil {
		return 0, err
	}
	if l.OutcomeCount() != op.outcomeCount {
		return 0, fmt.Errorf("engine: ledger spans %d outcomes, proposal %d: %w", l.OutcomeCount(), op.outcomeCount, domain.ErrInvalidOutcome)
	}
	escrow := &op.escrowAsset
	if side == domain.SideStable {
		escrow = &op.escrowStable
	}
	if *escrow < amount {
		return 0, fmt.Errorf("engine: escrow %d < burn %d: %w", *escrow, amount, domain.ErrBucketConservation)
	}
	if err := l.burnSet(side, amount); err != nil {
		return 0, err
	}
	*escrow -= amount
	return amount, nil
}

// UpdateTwaps takes an observation on every trading pool whose window has
// elapsed. Returns the number of oracles that recorded one.
func (m *Market) UpdateTwaps(now time.Time) int {
	updated := 0
	if m.spot.oracle.Update(now, m.spot.Price()) {
		updated++
	}
	if m.proposal != nil && m.proposal.state == domain.ProposalStateOpen {
		for _, pool := range m.proposal.pools {
			if pool.oracle.Update(now, pool.Price()) {
				updated++
			}
		}
	}
	return updated
}

// checkInvariant sweeps every pool's conservation assertions.
func (m *Market) checkInvariant() error {
	if err := m.spot.checkInvariant(); err != nil {
		return err
	}
	if m.proposal != nil {
		for _, pool := range m.proposal.pools {
			if err := pool.checkInvariant(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Snapshot dumps the aggregate into its persisted rows. The proposal
// pointer and conditional states are nil/empty when no proposal is
// attached.
func (m *Market) Snapshot(now time.Time) (domain.Market, *domain.Proposal, []domain.ConditionalState) {
	meta := m.meta
	meta.Spot = m.spot.Snapshot()
	meta.Spot.PositionLive = m.positionLive
	meta.Spot.PositionTransitioning = m.positionTransitioning
	meta.Spot.PositionWithdrawOnly = m.positionWithdrawOnly
	meta.Twap = m.spot.oracle.Snapshot()
	meta.UpdatedAt = now

	if m.proposal == nil {
		meta.ProposalID = nil
		return meta, nil, nil
	}

	op := m.proposal
	id := op.id
	meta.ProposalID = &id
	prop := &domain.Proposal{
		ID:            op.id,
		MarketID:      m.meta.ID,
		OutcomeCount:  op.outcomeCount,
		SplitRatioBps: op.splitRatioBps,
		State:         op.state,
		EscrowAsset:   op.escrowAsset,
		EscrowStable:  op.escrowStable,
	}
	if op.state == domain.ProposalStateResolved {
		w := op.winner
		prop.WinningOutcome = &w
	}
	conds := make([]domain.ConditionalState, 0, len(op.pools))
	for _, pool := range op.pools {
		conds = append(conds, pool.Snapshot(m.meta.ID, op.id, now))
	}
	return meta, prop, conds
}
