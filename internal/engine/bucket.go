package engine

import (
	"fmt"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// amounts aliases the persisted bucket triple; the engine mutates these in
// place under the market's single-writer lock.
type amounts = domain.BucketAmounts

// addAmounts returns a+b with overflow checks on every field.
func addAmounts(a, b amounts) (amounts, error) {
	var (
		out amounts
		err error
	)
	if out.Asset, err = addU64(a.Asset, b.Asset); err != nil {
		return amounts{}, err
	}
	if out.Stable, err = addU64(a.Stable, b.Stable); err != nil {
		return amounts{}, err
	}
	if out.LP, err = addU64(a.LP, b.LP); err != nil {
		return amounts{}, err
	}
	return out, nil
}

// subAmounts returns a-b, failing if any field would underflow.
func subAmounts(a, b amounts) (amounts, error) {
	var (
		out amounts
		err error
	)
	if out.Asset, err = subU64(a.Asset, b.Asset); err != nil {
		return amounts{}, err
	}
	if out.Stable, err = subU64(a.Stable, b.Stable); err != nil {
		return amounts{}, err
	}
	if out.LP, err = subU64(a.LP, b.LP); err != nil {
		return amounts{}, err
	}
	return out, nil
}

// proRata computes the floor share of each field of a for num/den. Floor
// division keeps the sum of all shares at or below the source, so rounding
// dust stays in the source bucket.
func proRata(a amounts, num, den uint64) (amounts, error) {
	if den == 0 {
		return amounts{}, fmt.Errorf("engine: pro-rata with zero denominator: %w", domain.ErrArithmeticOverflow)
	}
	var (
		out amounts
		err error
	)
	if out.Asset, err = mulDiv(a.Asset, num, den); err != nil {
		return amounts{}, err
	}
	if out.Stable, err = mulDiv(a.Stable, num, den); err != nil {
		return amounts{}, err
	}
	if out.LP, err = mulDiv(a.LP, num, den); err != nil {
		return amounts{}, err
	}
	return out, nil
}

// isZero reports whether every field of a is zero.
func isZero(a amounts) bool {
	return a.Asset == 0 && a.Stable == 0 && a.LP == 0
}

// conservationCheck asserts live+transitioning+withdrawOnly equals the
// tracked totals for every quantity. This should be unreachable; a failure
// means a mutation path lost or invented value.
func conservationCheck(live, trans, wo amounts, totalAsset, totalStable, totalLP uint64) error {
	sum, err := addAmounts(live, trans)
	if err != nil {
		return err
	}
	sum, err = addAmounts(sum, wo)
	if err != nil {
		return err
	}
	if sum.Asset != totalAsset || sum.Stable != totalStable || sum.LP != totalLP {
		return fmt.Errorf(
			"engine: bucket sums (%d,%d,%d) != totals (%d,%d,%d): %w",
			sum.Asset, sum.Stable, sum.LP, totalAsset, totalStable, totalLP,
			domain.ErrBucketConservation,
		)
	}
	return nil
}
