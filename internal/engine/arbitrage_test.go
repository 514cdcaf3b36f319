package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

func TestDetectArbitrageBalancedPools(t *testing.T) {
	require := require.New(t)

	m := newTestMarket(t)
	_, err := m.AddLiquidity(1_000_000, 1_000_000)
	require.NoError(err)
	openTestProposal(t, m, 2, 5_000)

	// Spot and every conditional pool price identically, so any cycle
	// loses to slippage. This is the normal resting state.
	_, err = m.DetectArbitrage()
	require.ErrorIs(err, domain.ErrNoProfitableCycle)
}

func TestDetectArbitrageRequiresProposal(t *testing.T) {
	require := require.New(t)

	m := newTestMarket(t)
	_, err := m.AddLiquidity(1_000_000, 1_000_000)
	require.NoError(err)

	_, err = m.DetectArbitrage()
	require.ErrorIs(err, domain.ErrNoOpenProposal)
}

// skewConditionals buys asset in every outcome pool so the conditionals
// price it above spot. A complete-set mint of stableIn funds the same
// trade in each outcome.
func skewConditionals(t *testing.T, m *Market, stableIn uint64) *BalanceLedger {
	t.Helper()
	l, err := NewBalanceLedger(m.OutcomeCount())
	require.NoError(t, err)
	require.NoError(t, m.MintCompleteSet(l, domain.SideStable, stableIn))
	for o := 0; o < m.OutcomeCount(); o++ {
		_, err := m.SwapViaBalance(l, o, domain.SideStable, stableIn, 0, testTime())
		require.NoError(t, err)
	}
	return l
}

func TestExecuteArbitrageSpotCheap(t *testing.T) {
	require := require.New(t)

	m := newTestMarket(t)
	_, err := m.AddLiquidity(1_000_000, 1_000_000)
	require.NoError(err)
	openTestProposal(t, m, 2, 5_000)
	skewConditionals(t, m, 200_000)

	spotPriceBefore := m.SpotPrice()
	plan, err := m.DetectArbitrage()
	require.NoError(err)
	require.Equal(domain.ArbSpotCheap, plan.Direction)
	require.Positive(plan.ExpectedProfit)

	feeStableBefore := m.spot.protocolFeeStable
	res, err := m.ExecuteArbitrage(testTime())
	require.NoError(err)
	require.Equal(domain.ArbSpotCheap, res.Direction)
	require.Positive(res.Profit)

	// One spot leg plus one ledger leg per outcome, spot leg first.
	require.Len(res.Legs, 3)
	require.Equal(domain.ArbLegSpot, res.Legs[0].Outcome)
	require.Equal(domain.SideStable, res.Legs[0].SideIn)
	require.Equal(0, res.Legs[1].Outcome)
	require.Equal(1, res.Legs[2].Outcome)

	// The realized profit lands in spot's protocol fee accrual and the
	// cycle drags spot toward the conditionals.
	require.Equal(feeStableBefore+res.Profit, m.spot.protocolFeeStable)
	require.Equal(1, m.SpotPrice().Cmp(spotPriceBefore))
	require.NoError(m.checkInvariant())
}

func TestExecuteArbitrageSpotRich(t *testing.T) {
	require := require.New(t)

	m := newTestMarket(t)
	_, err := m.AddLiquidity(1_000_000, 1_000_000)
	require.NoError(err)
	openTestProposal(t, m, 2, 5_000)

	// Buy asset on spot so the conditionals price it below spot.
	_, err = m.Swap(domain.SideStable, 300_000, 0, testTime())
	require.NoError(err)

	plan, err := m.DetectArbitrage()
	require.NoError(err)
	require.Equal(domain.ArbSpotRich, plan.Direction)

	spotPriceBefore := m.SpotPrice()
	res, err := m.ExecuteArbitrage(testTime())
	require.NoError(err)
	require.Equal(domain.ArbSpotRich, res.Direction)
	require.Positive(res.Profit)
	require.Len(res.Legs, 3)
	require.Equal(domain.ArbLegSpot, res.Legs[2].Outcome)
	require.Equal(-1, m.SpotPrice().Cmp(spotPriceBefore))
	require.NoError(m.checkInvariant())
}

func TestArbitrageConverges(t *testing.T) {
	require := require.New(t)

	m := newTestMarket(t)
	_, err := m.AddLiquidity(1_000_000, 1_000_000)
	require.NoError(err)
	openTestProposal(t, m, 2, 5_000)
	skewConditionals(t, m, 200_000)

	// Repeated cycles keep extracting until the gap is inside the sizing
	// grid's resolution, then detection reports no cycle.
	converged := false
	now := testTime()
	for i := 0; i < 25; i++ {
		now = now.Add(time.Second)
		_, err := m.ExecuteArbitrage(now)
		if err != nil {
			require.ErrorIs(err, domain.ErrNoProfitableCycle)
			converged = true
			break
		}
	}
	require.True(converged)
	require.NoError(m.checkInvariant())
}

func TestArbitrageDustSettlesAtRecombine(t *testing.T) {
	require := require.New(t)

	m := newTestMarket(t)
	_, err := m.AddLiquidity(1_000_000, 1_000_000)
	require.NoError(err)
	openTestProposal(t, m, 2, 5_000)

	// Skew the outcomes unevenly. The cycle's per-outcome stable legs
	// then differ, and everything above the burnable minimum stays in the
	// venue arbitrage ledger as residue.
	l, err := NewBalanceLedger(2)
	require.NoError(err)
	require.NoError(m.MintCompleteSet(l, domain.SideStable, 150_000))
	_, err = m.SwapViaBalance(l, 0, domain.SideStable, 150_000, 0, testTime())
	require.NoError(err)
	_, err = m.SwapViaBalance(l, 1, domain.SideStable, 90_000, 0, testTime())
	require.NoError(err)

	_, err = m.ExecuteArbitrage(testTime())
	require.NoError(err)
	arb := m.ArbLedger()
	residue := arb.Balance(0, domain.SideStable)
	require.Positive(residue)
	require.Zero(arb.Balance(1, domain.SideStable))

	// Outcome 1 wins: the residue sits on the losing outcome and sweeps
	// out as dust at settlement instead of redeeming.
	res, err := m.Recombine(1, testTime().Add(time.Minute))
	require.NoError(err)
	require.Equal([]domain.DustRecord{{Outcome: 0, Side: domain.SideStable, Amount: residue}}, res.ArbDust)
	require.True(arb.IsEmpty())
	require.NoError(m.checkInvariant())
}
