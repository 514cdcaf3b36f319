package engine

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

func TestSwapQuoteFeeSplit(t *testing.T) {
	require := require.New(t)

	// 10 bps protocol fee off the input, 30 bps LP fee folded into the
	// curve: out = inFee*Rout / (Rin*MaxBps + inFee).
	q, err := swapQuote(1_000_000, 1_000_000, 1_000, 30, 10)
	require.NoError(err)
	require.Equal(uint64(1), q.protocolFee)
	require.Equal(uint64(2), q.lpFee)
	require.Equal(uint64(995), q.amountOut)
}

func TestSwapQuoteFeeless(t *testing.T) {
	require := require.New(t)

	q, err := swapQuote(1_000_000, 1_000_000, 1_000, 0, 0)
	require.NoError(err)
	require.Zero(q.protocolFee)
	require.Zero(q.lpFee)
	require.Equal(uint64(999), q.amountOut)
}

func TestSwapQuoteRejectsEmptyPool(t *testing.T) {
	require := require.New(t)

	_, err := swapQuote(0, 1_000_000, 1_000, 30, 10)
	require.ErrorIs(err, domain.ErrInsufficientLiquidity)

	_, err = swapQuote(1_000_000, 0, 1_000, 30, 10)
	require.ErrorIs(err, domain.ErrInsufficientLiquidity)

	_, err = swapQuote(1_000_000, 1_000_000, 0, 30, 10)
	require.ErrorIs(err, domain.ErrInsufficientLiquidity)
}

func TestSwapQuoteRejectsFullRangeFees(t *testing.T) {
	require := require.New(t)

	_, err := swapQuote(1_000_000, 1_000_000, 1_000, MaxBps, 0)
	require.ErrorIs(err, domain.ErrArithmeticOverflow)
}

func TestCheckKNeverDecreases(t *testing.T) {
	require := require.New(t)

	// Paying out more than the curve allows shrinks k.
	err := checkK(1_000_000, 1_000_000, 1_000, 2_000)
	require.ErrorIs(err, domain.ErrBucketConservation)

	require.NoError(checkK(1_000_000, 1_000_000, 1_000, 999))
}

func TestPoolPrice(t *testing.T) {
	require := require.New(t)

	// price = stable * 1e12 / asset
	p := poolPrice(2_000_000, 1_000_000)
	require.Equal(uint256.NewInt(500_000_000_000), p)
	require.Equal("0.5", PriceString(p))

	require.True(poolPrice(0, 1_000_000).IsZero())
	require.Equal("0", PriceString(poolPrice(0, 5)))
}
