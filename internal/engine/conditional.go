package engine

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// ConditionalPool is one outcome's AMM. It holds two buckets only: liquidity
// that asked to exit keeps trading (transitioning) but nothing here is ever
// directly claimable; claimability exists only once funds are back in spot.
type ConditionalPool struct {
	outcome       int
	live          amounts
	transitioning amounts

	totalAsset  uint64
	totalStable uint64
	totalLP     uint64

	protocolFeeAsset  uint64
	protocolFeeStable uint64

	oracle *TwapOracle
}

func newConditionalPool(outcome int, twap TwapConfig, now time.Time) *ConditionalPool {
	return &ConditionalPool{outcome: outcome, oracle: NewTwapOracle(twap, now)}
}

// Outcome returns the pool's outcome index.
func (p *ConditionalPool) Outcome() int { return p.outcome }

func (p *ConditionalPool) checkInvariant() error {
	return conservationCheck(
		p.live, p.transitioning, amounts{},
		p.totalAsset, p.totalStable, p.totalLP,
	)
}

func (p *ConditionalPool) tradingReserves() (asset, stable uint64, err error) {
	if asset, err = addU64(p.live.Asset, p.transitioning.Asset); err != nil {
		return 0, 0, err
	}
	if stable, err = addU64(p.live.Stable, p.transitioning.Stable); err != nil {
		return 0, 0, err
	}
	return asset, stable, nil
}

// Price returns the 1e12-scaled instantaneous price over trading reserves.
func (p *ConditionalPool) Price() *uint256.Int {
	asset, stable, err := p.tradingReserves()
	if err != nil {
		return uint256.NewInt(0)
	}
	return poolPrice(asset, stable)
}

// Twap exposes the pool's oracle reading.
func (p *ConditionalPool) Twap() *uint256.Int { return p.oracle.TWAP() }

// mirror seeds the pool with the quantum-split shares. Runs exactly once,
// on an empty pool.
func (p *ConditionalPool) mirror(toLive, toTrans amounts) error {
	if p.totalLP != 0 || !isZero(p.live) || !isZero(p.transitioning) {
		return fmt.Errorf("engine: conditional pool %d already seeded: %w", p.outcome, domain.ErrAlreadyExists)
	}
	total, err := addAmounts(toLive, toTrans)
	if err != nil {
		return err
	}
	p.live = toLive
	p.transitioning = toTrans
	p.totalAsset = total.Asset
	p.totalStable = total.Stable
	p.totalLP = total.LP
	return p.checkInvariant()
}

// swap mirrors SpotPool.swap over the two-bucket partition.
func (p *ConditionalPool) swap(params Params, sideIn domain.Side, amountIn, minOut uint64, feeless bool, now time.Time) (SwapResult, error) {
	lpFee, protoFee := params.LPFeeBps, params.ProtocolFeeBps
	if feeless {
		lpFee, protoFee = 0, 0
	}

	tradingAsset, tradingStable, err := p.tradingReserves()
	if err != nil {
		return SwapResult{}, err
	}
	reserveIn, reserveOut := tradingAsset, tradingStable
	if sideIn == domain.SideStable {
		reserveIn, reserveOut = tradingStable, tradingAsset
	}

	q, err := swapQuote(reserveIn, reserveOut, amountIn, lpFee, protoFee)
	if err != nil {
		return SwapResult{}, err
	}
	floor, err := params.minReserve(reserveOut)
	if err != nil {
		return SwapResult{}, err
	}
	if reserveOut-q.amountOut < floor {
		return SwapResult{}, fmt.Errorf("engine: swap would drain reserves below floor: %w", domain.ErrInsufficientLiquidity)
	}
	if q.amountOut < minOut {
		return SwapResult{}, fmt.Errorf("engine: swap out %d below min %d: %w", q.amountOut, minOut, domain.ErrSlippageExceeded)
	}

	inAfter := amountIn - q.protocolFee
	plan, err := planBucketSwap(&p.live, &p.transitioning, sideIn, inAfter, q.amountOut, reserveIn, reserveOut)
	if err != nil {
		return SwapResult{}, err
	}
	newTotalIn, newTotalOut, err := planTotals(p.totalAsset, p.totalStable, sideIn, inAfter, q.amountOut)
	if err != nil {
		return SwapResult{}, err
	}
	feeAccum := p.protocolFeeAsset
	if sideIn == domain.SideStable {
		feeAccum = p.protocolFeeStable
	}
	newFeeAccum, err := addU64(feeAccum, q.protocolFee)
	if err != nil {
		return SwapResult{}, err
	}

	plan.apply(&p.live, &p.transitioning)
	if sideIn == domain.SideAsset {
		p.totalAsset, p.totalStable = newTotalIn, newTotalOut
		p.protocolFeeAsset = newFeeAccum
	} else {
		p.totalStable, p.totalAsset = newTotalIn, newTotalOut
		p.protocolFeeStable = newFeeAccum
	}

	price := p.Price()
	p.oracle.Update(now, price)

	if err := p.checkInvariant(); err != nil {
		return SwapResult{}, err
	}
	return SwapResult{AmountOut: q.amountOut, ProtocolFee: q.protocolFee, LPFee: q.lpFee, Price: price}, nil
}

// simulateSwap quotes without mutating.
func (p *ConditionalPool) simulateSwap(params Params, sideIn domain.Side, amountIn uint64, feeless bool) (uint64, error) {
	lpFee, protoFee := params.LPFeeBps, params.ProtocolFeeBps
	if feeless {
		lpFee, protoFee = 0, 0
	}
	tradingAsset, tradingStable, err := p.tradingReserves()
	if err != nil {
		return 0, err
	}
	reserveIn, reserveOut := tradingAsset, tradingStable
	if sideIn == domain.SideStable {
		reserveIn, reserveOut = tradingStable, tradingAsset
	}
	q, err := swapQuote(reserveIn, reserveOut, amountIn, lpFee, protoFee)
	if err != nil {
		return 0, err
	}
	floor, err := params.minReserve(reserveOut)
	if err != nil {
		return 0, err
	}
	if reserveOut-q.amountOut < floor {
		return 0, fmt.Errorf("engine: swap would drain reserves below floor: %w", domain.ErrInsufficientLiquidity)
	}
	return q.amountOut, nil
}

// moveLiveToTransitioning moves num/den of live into transitioning; the
// conditional mirror of a mark made while the proposal is open.
func (p *ConditionalPool) moveLiveToTransitioning(num, den uint64) (amounts, error) {
	moved, err := proRata(p.live, num, den)
	if err != nil {
		return amounts{}, err
	}
	newLive, err := subAmounts(p.live, moved)
	if err != nil {
		return amounts{}, err
	}
	newTrans, err := addAmounts(p.transitioning, moved)
	if err != nil {
		return amounts{}, err
	}
	p.live = newLive
	p.transitioning = newTrans
	return moved, p.checkInvariant()
}

// takeTransitioning removes and returns the whole transitioning bucket
// (recombination or the standalone transition path routes it to spot).
func (p *ConditionalPool) takeTransitioning() (amounts, error) {
	moved := p.transitioning
	if isZero(moved) {
		return amounts{}, nil
	}
	newTotalAsset, err := subU64(p.totalAsset, moved.Asset)
	if err != nil {
		return amounts{}, err
	}
	newTotalStable, err := subU64(p.totalStable, moved.Stable)
	if err != nil {
		return amounts{}, err
	}
	newTotalLP, err := subU64(p.totalLP, moved.LP)
	if err != nil {
		return amounts{}, err
	}
	p.transitioning = amounts{}
	p.totalAsset = newTotalAsset
	p.totalStable = newTotalStable
	p.totalLP = newTotalLP
	return moved, p.checkInvariant()
}

// drain empties the pool entirely, returning what was held. The winning
// pool's remainder returns to spot; losing pools are forfeited with this
// same call.
func (p *ConditionalPool) drain() (live, trans amounts, feeAsset, feeStable uint64) {
	live, trans = p.live, p.transitioning
	feeAsset, feeStable = p.protocolFeeAsset, p.protocolFeeStable
	p.live = amounts{}
	p.transitioning = amounts{}
	p.totalAsset = 0
	p.totalStable = 0
	p.totalLP = 0
	p.protocolFeeAsset = 0
	p.protocolFeeStable = 0
	return live, trans, feeAsset, feeStable
}

// Snapshot converts the pool into its persisted form.
func (p *ConditionalPool) Snapshot(marketID, proposalID string, now time.Time) domain.ConditionalState {
	return domain.ConditionalState{
		ProposalID:        proposalID,
		MarketID:          marketID,
		Outcome:           p.outcome,
		Live:              p.live,
		Transitioning:     p.transitioning,
		ProtocolFeeAsset:  p.protocolFeeAsset,
		ProtocolFeeStable: p.protocolFeeStable,
		Twap:              p.oracle.Snapshot(),
		UpdatedAt:         now,
	}
}

func restoreConditionalPool(st domain.ConditionalState, cfg TwapConfig) (*ConditionalPool, error) {
	oracle, err := restoreTwap(st.Twap, cfg)
	if err != nil {
		return nil, err
	}
	total, err := addAmounts(st.Live, st.Transitioning)
	if err != nil {
		return nil, err
	}
	p := &ConditionalPool{
		outcome:           st.Outcome,
		live:              st.Live,
		transitioning:     st.Transitioning,
		totalAsset:        total.Asset,
		totalStable:       total.Stable,
		totalLP:           total.LP,
		protocolFeeAsset:  st.ProtocolFeeAsset,
		protocolFeeStable: st.ProtocolFeeStable,
		oracle:            oracle,
	}
	return p, p.checkInvariant()
}
