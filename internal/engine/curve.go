package engine

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

const (
	// MaxBps is the basis-point denominator for all fee and ratio math.
	MaxBps uint64 = 10_000

	// PriceScale fixes pool prices at stable*1e12/asset.
	PriceScale uint64 = 1_000_000_000_000
)

// quote is the result of pricing one swap against a constant-product pool.
type quote struct {
	amountOut   uint64
	protocolFee uint64
	lpFee       uint64 // informational; LP fee accrues to reserves via the curve
}

// swapQuote prices amountIn against (reserveIn, reserveOut). The protocol fee
// is taken off the input before it reaches the curve; the LP fee is folded
// into the curve so it compounds into reserves:
//
//	out = inFee*Rout / (Rin*MaxBps + inFee),  inFee = (in - protocolFee) * (MaxBps - lpFeeBps)
func swapQuote(reserveIn, reserveOut, amountIn, lpFeeBps, protocolFeeBps uint64) (quote, error) {
	if reserveIn == 0 || reserveOut == 0 {
		return quote{}, domain.ErrInsufficientLiquidity
	}
	if amountIn == 0 {
		return quote{}, fmt.Errorf("engine: swap: %w: zero input", domain.ErrInsufficientLiquidity)
	}
	if lpFeeBps >= MaxBps || protocolFeeBps >= MaxBps {
		return quote{}, domain.ErrArithmeticOverflow
	}

	protocolFee, err := mulBps(amountIn, protocolFeeBps)
	if err != nil {
		return quote{}, err
	}
	inAfter := amountIn - protocolFee

	inWithFee := new(uint256.Int).Mul(
		uint256.NewInt(inAfter),
		uint256.NewInt(MaxBps-lpFeeBps),
	)
	num := new(uint256.Int).Mul(inWithFee, uint256.NewInt(reserveOut))
	den := new(uint256.Int).Mul(uint256.NewInt(reserveIn), uint256.NewInt(MaxBps))
	den.Add(den, inWithFee)
	out := num.Div(num, den)
	if !out.IsUint64() || out.Uint64() >= reserveOut {
		return quote{}, domain.ErrArithmeticOverflow
	}

	lpFee, err := mulBps(inAfter, lpFeeBps)
	if err != nil {
		return quote{}, err
	}

	q := quote{amountOut: out.Uint64(), protocolFee: protocolFee, lpFee: lpFee}
	if err := checkK(reserveIn, reserveOut, inAfter, q.amountOut); err != nil {
		return quote{}, err
	}
	return q, nil
}

// checkK verifies the invariant product never decreases across a swap. A
// shrinking k means value leaked out of the pool; that is a conservation
// breach, not a user error.
func checkK(reserveIn, reserveOut, amountIn, amountOut uint64) error {
	before := new(uint256.Int).Mul(uint256.NewInt(reserveIn), uint256.NewInt(reserveOut))
	inSide := new(uint256.Int).Add(uint256.NewInt(reserveIn), uint256.NewInt(amountIn))
	after := inSide.Mul(inSide, uint256.NewInt(reserveOut-amountOut))
	if after.Lt(before) {
		return fmt.Errorf("engine: k invariant decreased: %w", domain.ErrBucketConservation)
	}
	return nil
}

// poolPrice returns stable*PriceScale/asset, the 1e12-scaled instantaneous
// price. A drained asset side yields zero rather than a division fault.
func poolPrice(assetReserve, stableReserve uint64) *uint256.Int {
	if assetReserve == 0 {
		return uint256.NewInt(0)
	}
	p := new(uint256.Int).Mul(uint256.NewInt(stableReserve), uint256.NewInt(PriceScale))
	return p.Div(p, uint256.NewInt(assetReserve))
}

// PriceDecimal renders a 1e12-scaled price as a decimal for the API surface.
func PriceDecimal(p *uint256.Int) decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(p.ToBig(), -12)
}

// PriceString renders a 1e12-scaled price as a decimal string.
func PriceString(p *uint256.Int) string {
	return PriceDecimal(p).String()
}
