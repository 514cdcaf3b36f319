package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// arbScanSteps is the resolution of the linear sizing search: input sizes
// are tried in increments of maxInput/arbScanSteps until profit stops
// improving.
const arbScanSteps = 100

// ArbPlan is a sized, simulated arbitrage cycle that has not executed yet.
type ArbPlan struct {
	Direction      domain.ArbDirection
	AmountIn       uint64
	ExpectedProfit uint64
}

// ArbResult reports one committed arbitrage cycle. Profit is realized in
// stable and folded into the spot pool's protocol fee accrual.
type ArbResult struct {
	Direction domain.ArbDirection
	AmountIn  uint64
	Profit    uint64
	Legs      []domain.ArbLeg
}

// DetectArbitrage searches both cycle directions for the most profitable
// input size at current prices. Read-only. Returns ErrNoProfitableCycle
// when neither direction clears a positive profit, which is the common,
// benign case.
func (m *Market) DetectArbitrage() (ArbPlan, error) {
	op, err := m.openOrErr()
	if err != nil {
		return ArbPlan{}, err
	}

	cheapIn, cheapProfit := m.scanDirection(op, domain.ArbSpotCheap)
	richIn, richProfit := m.scanDirection(op, domain.ArbSpotRich)

	plan := ArbPlan{Direction: domain.ArbSpotCheap, AmountIn: cheapIn, ExpectedProfit: cheapProfit}
	if richProfit > cheapProfit {
		plan = ArbPlan{Direction: domain.ArbSpotRich, AmountIn: richIn, ExpectedProfit: richProfit}
	}
	if plan.ExpectedProfit == 0 || plan.AmountIn == 0 {
		return ArbPlan{}, fmt.Errorf("engine: market %s: %w", m.meta.ID, domain.ErrNoProfitableCycle)
	}
	return plan, nil
}

// scanDirection walks input sizes upward while simulated profit improves
// and returns the best size found. The profit curve over input size rises
// to a single peak and falls, so the first decline ends the walk.
func (m *Market) scanDirection(op *openProposal, dir domain.ArbDirection) (bestIn, bestProfit uint64) {
	maxIn := m.arbInputCeiling(op, dir)
	step := maxIn / arbScanSteps
	if step == 0 {
		return 0, 0
	}
	for i := uint64(1); i <= arbScanSteps; i++ {
		amountIn := i * step
		payout, err := m.simulateCycle(op, dir, amountIn)
		if err != nil {
			break
		}
		if payout <= amountIn {
			break
		}
		profit := payout - amountIn
		if profit <= bestProfit {
			break
		}
		bestIn, bestProfit = amountIn, profit
	}
	return bestIn, bestProfit
}

// arbInputCeiling caps the sizing search at a quarter of the relevant
// stable depth so a single cycle never dominates a pool.
func (m *Market) arbInputCeiling(op *openProposal, dir domain.ArbDirection) uint64 {
	if dir == domain.ArbSpotCheap {
		_, stable, err := m.spot.tradingReserves()
		if err != nil {
			return 0
		}
		return stable / 4
	}
	min := uint64(math.MaxUint64)
	for _, pool := range op.pools {
		_, stable, err := pool.tradingReserves()
		if err != nil || stable == 0 {
			return 0
		}
		if stable < min {
			min = stable
		}
	}
	return min / 4
}

// simulateCycle prices a full cycle of size amountIn and returns the stable
// payout it would end with. Every leg runs feeless: the venue does not
// charge itself.
func (m *Market) simulateCycle(op *openProposal, dir domain.ArbDirection, amountIn uint64) (uint64, error) {
	switch dir {
	case domain.ArbSpotCheap:
		// Buy asset on spot, mint an asset set, sell it on every pool,
		// burn the minimum stable set.
		asset, err := m.spot.simulateSwap(m.params, domain.SideStable, amountIn, true)
		if err != nil {
			return 0, err
		}
		payout := uint64(math.MaxUint64)
		for _, pool := range op.pools {
			out, err := pool.simulateSwap(m.params, domain.SideAsset, asset, true)
			if err != nil {
				return 0, err
			}
			if out < payout {
				payout = out
			}
		}
		return payout, nil
	default:
		// Mint a stable set, buy asset on every pool, burn the minimum
		// asset set, sell it on spot.
		asset := uint64(math.MaxUint64)
		for _, pool := range op.pools {
			out, err := pool.simulateSwap(m.params, domain.SideStable, amountIn, true)
			if err != nil {
				return 0, err
			}
			if out < asset {
				asset = out
			}
		}
		return m.spot.simulateSwap(m.params, domain.SideAsset, asset, true)
	}
}

// ExecuteArbitrage detects and commits the best cycle in one serialized
// operation. The venue fronts the stable input, runs the spot leg plus one
// feeless ledger leg per outcome, and keeps the realized profit as
// protocol fee. Residual per-outcome balances stay in the venue arbitrage
// ledger as dust and settle at recombination.
func (m *Market) ExecuteArbitrage(now time.Time) (ArbResult, error) {
	if err := m.ensureMutable(); err != nil {
		return ArbResult{}, err
	}
	op, err := m.openOrErr()
	if err != nil {
		return ArbResult{}, err
	}
	plan, err := m.DetectArbitrage()
	if err != nil {
		return ArbResult{}, err
	}

	legs := make([]domain.ArbLeg, 0, op.outcomeCount+1)
	var payout uint64

	switch plan.Direction {
	case domain.ArbSpotCheap:
		spotRes, err := m.spot.swap(m.params, domain.SideStable, plan.AmountIn, 0, true, now)
		if err != nil {
			return ArbResult{}, err
		}
		legs = append(legs, domain.ArbLeg{Outcome: domain.ArbLegSpot, SideIn: domain.SideStable, AmountIn: plan.AmountIn, AmountOut: spotRes.AmountOut})
		if err := m.MintCompleteSet(op.arb, domain.SideAsset, spotRes.AmountOut); err != nil {
			return ArbResult{}, err
		}
		for o := 0; o < op.outcomeCount; o++ {
			res, err := m.swapViaBalance(op.arb, o, domain.SideAsset, spotRes.AmountOut, 0, true, now)
			if err != nil {
				return ArbResult{}, err
			}
			legs = append(legs, domain.ArbLeg{Outcome: o, SideIn: domain.SideAsset, AmountIn: spotRes.AmountOut, AmountOut: res.AmountOut})
		}
		if payout, err = m.BurnCompleteSet(op.arb, domain.SideStable, op.arb.CompleteSets(domain.SideStable)); err != nil {
			return ArbResult{}, err
		}

	default:
		if err := m.MintCompleteSet(op.arb, domain.SideStable, plan.AmountIn); err != nil {
			return ArbResult{}, err
		}
		for o := 0; o < op.outcomeCount; o++ {
			res, err := m.swapViaBalance(op.arb, o, domain.SideStable, plan.AmountIn, 0, true, now)
			if err != nil {
				return ArbResult{}, err
			}
			legs = append(legs, domain.ArbLeg{Outcome: o, SideIn: domain.SideStable, AmountIn: plan.AmountIn, AmountOut: res.AmountOut})
		}
		assetSet := op.arb.CompleteSets(domain.SideAsset)
		if _, err := m.BurnCompleteSet(op.arb, domain.SideAsset, assetSet); err != nil {
			return ArbResult{}, err
		}
		spotRes, err := m.spot.swap(m.params, domain.SideAsset, assetSet, 0, true, now)
		if err != nil {
			return ArbResult{}, err
		}
		legs = append(legs, domain.ArbLeg{Outcome: domain.ArbLegSpot, SideIn: domain.SideAsset, AmountIn: assetSet, AmountOut: spotRes.AmountOut})
		payout = spotRes.AmountOut
	}

	if payout < plan.AmountIn {
		return ArbResult{}, fmt.Errorf("engine: arbitrage payout %d below input %d: %w", payout, plan.AmountIn, domain.ErrBucketConservation)
	}
	profit := payout - plan.AmountIn
	if err := m.spot.foldProtocolFees(0, profit); err != nil {
		return ArbResult{}, err
	}
	return ArbResult{Direction: plan.Direction, AmountIn: plan.AmountIn, Profit: profit, Legs: legs}, nil
}
