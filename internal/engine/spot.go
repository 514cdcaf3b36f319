package engine

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// SpotPool is the always-present base market. Reserves and LP supply are
// partitioned into three buckets; swaps price against live+transitioning
// while withdraw_only sits inert until claimed.
type SpotPool struct {
	live          amounts
	transitioning amounts
	withdrawOnly  amounts

	totalAsset  uint64
	totalStable uint64
	totalLP     uint64

	protocolFeeAsset  uint64
	protocolFeeStable uint64

	oracle *TwapOracle
}

// SwapResult reports one committed (or simulated) swap.
type SwapResult struct {
	AmountOut   uint64
	ProtocolFee uint64
	LPFee       uint64
	// Price is the post-swap pool price, 1e12-scaled.
	Price *uint256.Int
}

func newSpotPool(twap TwapConfig, now time.Time) *SpotPool {
	return &SpotPool{oracle: NewTwapOracle(twap, now)}
}

// checkInvariant asserts bucket sums equal totals for every quantity.
func (p *SpotPool) checkInvariant() error {
	return conservationCheck(
		p.live, p.transitioning, p.withdrawOnly,
		p.totalAsset, p.totalStable, p.totalLP,
	)
}

// tradingReserves returns live+transitioning per side; withdraw_only never
// participates in pricing.
func (p *SpotPool) tradingReserves() (asset, stable uint64, err error) {
	if asset, err = addU64(p.live.Asset, p.transitioning.Asset); err != nil {
		return 0, 0, err
	}
	if stable, err = addU64(p.live.Stable, p.transitioning.Stable); err != nil {
		return 0, 0, err
	}
	return asset, stable, nil
}

// Price returns the 1e12-scaled instantaneous price over trading reserves.
func (p *SpotPool) Price() *uint256.Int {
	asset, stable, err := p.tradingReserves()
	if err != nil {
		return uint256.NewInt(0)
	}
	return poolPrice(asset, stable)
}

// Twap exposes the pool's oracle reading.
func (p *SpotPool) Twap() *uint256.Int { return p.oracle.TWAP() }

// addLiquidity mints LP into the live bucket. The first provider sets the
// price and receives sqrt(asset*stable); later providers mint pro rata
// against totals, taking the lesser of the two sides so an unbalanced
// deposit cannot buy extra supply.
func (p *SpotPool) addLiquidity(assetIn, stableIn uint64) (uint64, error) {
	if assetIn == 0 || stableIn == 0 {
		return 0, fmt.Errorf("engine: add liquidity: %w: both sides required", domain.ErrInsufficientLiquidity)
	}

	var lp uint64
	var err error
	if p.totalLP == 0 {
		if lp, err = sqrtU64(assetIn, stableIn); err != nil {
			return 0, err
		}
	} else {
		byAsset, err := mulDiv(assetIn, p.totalLP, p.totalAsset)
		if err != nil {
			return 0, err
		}
		byStable, err := mulDiv(stableIn, p.totalLP, p.totalStable)
		if err != nil {
			return 0, err
		}
		lp = minU64(byAsset, byStable)
	}
	if lp == 0 {
		return 0, fmt.Errorf("engine: add liquidity: %w: deposit too small", domain.ErrInsufficientLiquidity)
	}

	newLive, err := addAmounts(p.live, amounts{Asset: assetIn, Stable: stableIn, LP: lp})
	if err != nil {
		return 0, err
	}
	newTotalAsset, err := addU64(p.totalAsset, assetIn)
	if err != nil {
		return 0, err
	}
	newTotalStable, err := addU64(p.totalStable, stableIn)
	if err != nil {
		return 0, err
	}
	newTotalLP, err := addU64(p.totalLP, lp)
	if err != nil {
		return 0, err
	}

	p.live = newLive
	p.totalAsset = newTotalAsset
	p.totalStable = newTotalStable
	p.totalLP = newTotalLP
	return lp, p.checkInvariant()
}

// removeFromLive burns num/den of the live bucket and returns the
// proportional reserves. num is the exiting position weight and den the
// total live position weight; denominating in position weight rather than
// the bucket's own LP counter keeps every holder's share consistent after
// split and recombine rounding.
func (p *SpotPool) removeFromLive(num, den uint64) (amounts, error) {
	out, err := proRata(p.live, num, den)
	if err != nil {
		return amounts{}, err
	}
	newLive, err := subAmounts(p.live, out)
	if err != nil {
		return amounts{}, err
	}
	newTotalAsset, err := subU64(p.totalAsset, out.Asset)
	if err != nil {
		return amounts{}, err
	}
	newTotalStable, err := subU64(p.totalStable, out.Stable)
	if err != nil {
		return amounts{}, err
	}
	newTotalLP, err := subU64(p.totalLP, out.LP)
	if err != nil {
		return amounts{}, err
	}

	p.live = newLive
	p.totalAsset = newTotalAsset
	p.totalStable = newTotalStable
	p.totalLP = newTotalLP
	return out, p.checkInvariant()
}

// swap prices amountIn against trading reserves and commits the result with
// both buckets moving pro rata, so neither live nor transitioning drifts
// from its share of the pool.
func (p *SpotPool) swap(params Params, sideIn domain.Side, amountIn, minOut uint64, feeless bool, now time.Time) (SwapResult, error) {
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
func (p *SpotPool) simulateSwap(params Params, sideIn domain.Side, amountIn uint64, feeless bool) (uint64, error) {
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

// moveLiveToWithdrawOnly moves num/den of the live bucket straight to
// withdraw_only (mark with no proposal open, so immediately claimable).
func (p *SpotPool) moveLiveToWithdrawOnly(num, den uint64) (amounts, error) {
	moved, err := proRata(p.live, num, den)
	if err != nil {
		return amounts{}, err
	}
	newLive, err := subAmounts(p.live, moved)
	if err != nil {
		return amounts{}, err
	}
	newWO, err := addAmounts(p.withdrawOnly, moved)
	if err != nil {
		return amounts{}, err
	}
	p.live = newLive
	p.withdrawOnly = newWO
	return moved, p.checkInvariant()
}

// moveLiveToTransitioning moves num/den of the live bucket to transitioning
// (mark while a proposal is open, so it keeps trading until recombination).
func (p *SpotPool) moveLiveToTransitioning(num, den uint64) (amounts, error) {
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

// transitionToWithdrawOnly drains the whole transitioning bucket into
// withdraw_only. Runs after the locking proposal has resolved.
func (p *SpotPool) transitionToWithdrawOnly() (amounts, error) {
	moved := p.transitioning
	if isZero(moved) {
		return amounts{}, nil
	}
	newWO, err := addAmounts(p.withdrawOnly, moved)
	if err != nil {
		return amounts{}, err
	}
	p.transitioning = amounts{}
	p.withdrawOnly = newWO
	return moved, p.checkInvariant()
}

// creditBuckets adds returned conditional liquidity into the given buckets
// (recombination: winning live comes home, winning transitioning becomes
// claimable). Totals grow because capital re-enters the pool.
func (p *SpotPool) creditBuckets(toLive, toWithdrawOnly amounts) error {
	newLive, err := addAmounts(p.live, toLive)
	if err != nil {
		return err
	}
	newWO, err := addAmounts(p.withdrawOnly, toWithdrawOnly)
	if err != nil {
		return err
	}
	returned, err := addAmounts(toLive, toWithdrawOnly)
	if err != nil {
		return err
	}
	newTotalAsset, err := addU64(p.totalAsset, returned.Asset)
	if err != nil {
		return err
	}
	newTotalStable, err := addU64(p.totalStable, returned.Stable)
	if err != nil {
		return err
	}
	newTotalLP, err := addU64(p.totalLP, returned.LP)
	if err != nil {
		return err
	}

	p.live = newLive
	p.withdrawOnly = newWO
	p.totalAsset = newTotalAsset
	p.totalStable = newTotalStable
	p.totalLP = newTotalLP
	return p.checkInvariant()
}

// debitForSplit removes the quantum-split source amounts from live and
// transitioning. The source is consumed once regardless of outcome count.
func (p *SpotPool) debitForSplit(fromLive, fromTrans amounts) error {
	newLive, err := subAmounts(p.live, fromLive)
	if err != nil {
		return err
	}
	newTrans, err := subAmounts(p.transitioning, fromTrans)
	if err != nil {
		return err
	}
	moved, err := addAmounts(fromLive, fromTrans)
	if err != nil {
		return err
	}
	newTotalAsset, err := subU64(p.totalAsset, moved.Asset)
	if err != nil {
		return err
	}
	newTotalStable, err := subU64(p.totalStable, moved.Stable)
	if err != nil {
		return err
	}
	newTotalLP, err := subU64(p.totalLP, moved.LP)
	if err != nil {
		return err
	}

	p.live = newLive
	p.transitioning = newTrans
	p.totalAsset = newTotalAsset
	p.totalStable = newTotalStable
	p.totalLP = newTotalLP
	return p.checkInvariant()
}

// claimFromWithdrawOnly pays out num/den of the withdraw_only bucket and
// burns the matching LP. Capital leaves the pool, so totals shrink too.
func (p *SpotPool) claimFromWithdrawOnly(num, den uint64) (amounts, error) {
	out, err := proRata(p.withdrawOnly, num, den)
	if err != nil {
		return amounts{}, err
	}
	newWO, err := subAmounts(p.withdrawOnly, out)
	if err != nil {
		return amounts{}, err
	}
	newTotalAsset, err := subU64(p.totalAsset, out.Asset)
	if err != nil {
		return amounts{}, err
	}
	newTotalStable, err := subU64(p.totalStable, out.Stable)
	if err != nil {
		return amounts{}, err
	}
	newTotalLP, err := subU64(p.totalLP, out.LP)
	if err != nil {
		return amounts{}, err
	}

	p.withdrawOnly = newWO
	p.totalAsset = newTotalAsset
	p.totalStable = newTotalStable
	p.totalLP = newTotalLP
	return out, p.checkInvariant()
}

// foldProtocolFees absorbs a torn-down conditional pool's fee accrual.
func (p *SpotPool) foldProtocolFees(asset, stable uint64) error {
	newAsset, err := addU64(p.protocolFeeAsset, asset)
	if err != nil {
		return err
	}
	newStable, err := addU64(p.protocolFeeStable, stable)
	if err != nil {
		return err
	}
	p.protocolFeeAsset = newAsset
	p.protocolFeeStable = newStable
	return nil
}

// Snapshot converts the pool into its persisted form. Position totals are
// owned by the market aggregate and filled in there.
func (p *SpotPool) Snapshot() domain.SpotState {
	return domain.SpotState{
		Live:              p.live,
		Transitioning:     p.transitioning,
		WithdrawOnly:      p.withdrawOnly,
		TotalAsset:        p.totalAsset,
		TotalStable:       p.totalStable,
		TotalLP:           p.totalLP,
		ProtocolFeeAsset:  p.protocolFeeAsset,
		ProtocolFeeStable: p.protocolFeeStable,
	}
}

func restoreSpotPool(st domain.SpotState, twap domain.TwapState, cfg TwapConfig) (*SpotPool, error) {
	oracle, err := restoreTwap(twap, cfg)
	if err != nil {
		return nil, err
	}
	p := &SpotPool{
		live:              st.Live,
		transitioning:     st.Transitioning,
		withdrawOnly:      st.WithdrawOnly,
		totalAsset:        st.TotalAsset,
		totalStable:       st.TotalStable,
		totalLP:           st.TotalLP,
		protocolFeeAsset:  st.ProtocolFeeAsset,
		protocolFeeStable: st.ProtocolFeeStable,
		oracle:            oracle,
	}
	return p, p.checkInvariant()
}
