package engine

import (
	"math"

	"github.com/holiman/uint256"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// Checked arithmetic over uint64 amounts. Reserve and supply math must abort
// on overflow rather than wrap or clamp; every helper returns
// domain.ErrArithmeticOverflow on breach.

func addU64(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, domain.ErrArithmeticOverflow
	}
	return a + b, nil
}

func subU64(a, b uint64) (uint64, error) {
	if a < b {
		return 0, domain.ErrArithmeticOverflow
	}
	return a - b, nil
}

// mulDiv computes floor(a*b/d) with a 256-bit intermediate product.
func mulDiv(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, domain.ErrArithmeticOverflow
	}
	p := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	q := p.Div(p, uint256.NewInt(d))
	if !q.IsUint64() {
		return 0, domain.ErrArithmeticOverflow
	}
	return q.Uint64(), nil
}

// mulBps computes floor(a*bps/10_000).
func mulBps(a, bps uint64) (uint64, error) {
	return mulDiv(a, bps, MaxBps)
}

// sqrtU64 returns floor(sqrt(a*b)), used for initial LP issuance.
func sqrtU64(a, b uint64) (uint64, error) {
	p := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	r := new(uint256.Int).Sqrt(p)
	if !r.IsUint64() {
		return 0, domain.ErrArithmeticOverflow
	}
	return r.Uint64(), nil
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
