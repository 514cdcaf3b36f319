package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

func TestLedgerMintBurnCompleteSets(t *testing.T) {
	require := require.New(t)

	l, err := NewBalanceLedger(3)
	require.NoError(err)

	require.NoError(l.mintSet(domain.SideStable, 1_000))
	for o := 0; o < 3; o++ {
		require.Equal(uint64(1_000), l.Balance(o, domain.SideStable))
		require.Zero(l.Balance(o, domain.SideAsset))
	}
	require.Equal(uint64(1_000), l.CompleteSets(domain.SideStable))

	// Spending one outcome's balance shrinks the burnable set to the
	// smallest cell.
	require.NoError(l.debit(1, domain.SideStable, 400))
	require.Equal(uint64(600), l.CompleteSets(domain.SideStable))

	err = l.burnSet(domain.SideStable, 700)
	require.ErrorIs(err, domain.ErrIncompleteSet)

	require.NoError(l.burnSet(domain.SideStable, 600))
	require.Equal(uint64(400), l.Balance(0, domain.SideStable))
	require.Zero(l.Balance(1, domain.SideStable))
	require.Equal(uint64(400), l.Balance(2, domain.SideStable))
}

func TestLedgerRejectsOverdraft(t *testing.T) {
	require := require.New(t)

	l, err := NewBalanceLedger(2)
	require.NoError(err)
	require.NoError(l.credit(0, domain.SideAsset, 100))

	err = l.debit(0, domain.SideAsset, 101)
	require.ErrorIs(err, domain.ErrInsufficientBalance)
	require.Equal(uint64(100), l.Balance(0, domain.SideAsset))

	err = l.mintSet(domain.SideAsset, 0)
	require.ErrorIs(err, domain.ErrInvalidAmount)
}

func TestConditionalTradeTouchesOneOutcome(t *testing.T) {
	require := require.New(t)

	m := newTestMarket(t)
	_, err := m.AddLiquidity(1_000_000, 1_000_000)
	require.NoError(err)
	err = m.OpenProposal(domain.Proposal{
		ID: "prop-1", MarketID: m.ID(), OutcomeCount: 50, SplitRatioBps: 5_000,
	}, testTime())
	require.NoError(err)

	l, err := NewBalanceLedger(50)
	require.NoError(err)
	require.NoError(m.MintCompleteSet(l, domain.SideAsset, 10_000))

	// Trading outcome 7 moves exactly two cells; the other 49 outcomes'
	// pools and balances are untouched.
	res, err := m.SwapViaBalance(l, 7, domain.SideAsset, 5_000, 0, testTime())
	require.NoError(err)
	require.Positive(res.AmountOut)
	require.Equal(uint64(5_000), l.Balance(7, domain.SideAsset))
	require.Equal(res.AmountOut, l.Balance(7, domain.SideStable))
	for o := 0; o < 50; o++ {
		if o == 7 {
			continue
		}
		require.Equal(uint64(10_000), l.Balance(o, domain.SideAsset))
		require.Zero(l.Balance(o, domain.SideStable))
		require.Equal(uint64(500_000), m.proposal.pools[o].live.Asset)
	}
	require.Equal(uint64(5_000), l.CompleteSets(domain.SideAsset))
	require.NoError(m.checkInvariant())
}

func TestMintRequiresOpenProposal(t *testing.T) {
	require := require.New(t)

	m := newTestMarket(t)
	_, err := m.AddLiquidity(1_000, 1_000)
	require.NoError(err)

	l, err := NewBalanceLedger(2)
	require.NoError(err)
	err = m.MintCompleteSet(l, domain.SideStable, 100)
	require.ErrorIs(err, domain.ErrNoOpenProposal)
}

func TestBurnReleasesEscrow(t *testing.T) {
	require := require.New(t)

	m := newTestMarket(t)
	_, err := m.AddLiquidity(1_000, 1_000)
	require.NoError(err)
	openTestProposal(t, m, 2, 5_000)

	l, err := NewBalanceLedger(2)
	require.NoError(err)
	require.NoError(m.MintCompleteSet(l, domain.SideStable, 300))
	_, escrowStable := m.Escrow()
	require.Equal(uint64(800), escrowStable)

	out, err := m.BurnCompleteSet(l, domain.SideStable, 120)
	require.NoError(err)
	require.Equal(uint64(120), out)
	_, escrowStable = m.Escrow()
	require.Equal(uint64(680), escrowStable)
	require.Equal(uint64(180), l.CompleteSets(domain.SideStable))
}

func TestSettleLedgerLazily(t *testing.T) {
	require := require.New(t)

	m := newTestMarket(t)
	_, err := m.AddLiquidity(1_000, 1_000)
	require.NoError(err)
	openTestProposal(t, m, 2, 5_000)

	l, err := NewBalanceLedger(2)
	require.NoError(err)
	require.NoError(m.MintCompleteSet(l, domain.SideAsset, 100))

	// The crank settles the market without waiting for this holder; the
	// escrow backing their winning balance rides on the settled record.
	res, err := m.Recombine(1, testTime())
	require.NoError(err)
	require.Equal(uint64(100), res.RemainingEscrowAsset)
	require.Zero(res.RemainingEscrowStable)

	winner := res.Winner
	prop := &domain.Proposal{
		ID: "prop-1", MarketID: m.ID(), OutcomeCount: 2,
		State: domain.ProposalStateSettled, WinningOutcome: &winner,
		EscrowAsset: res.RemainingEscrowAsset, EscrowStable: res.RemainingEscrowStable,
	}
	assetOut, stableOut, dust, err := SettleLedger(prop, l)
	require.NoError(err)
	require.Equal(uint64(100), assetOut)
	require.Zero(stableOut)
	require.Equal([]domain.DustRecord{{Outcome: 0, Side: domain.SideAsset, Amount: 100}}, dust)
	require.Zero(prop.EscrowAsset)
	require.True(l.IsEmpty())

	// Retrying the drained ledger pays nothing and changes nothing.
	assetOut, stableOut, dust, err = SettleLedger(prop, l)
	require.NoError(err)
	require.Zero(assetOut)
	require.Zero(stableOut)
	require.Empty(dust)
}

func TestSettleLedgerRequiresSettledProposal(t *testing.T) {
	require := require.New(t)

	l, err := NewBalanceLedger(2)
	require.NoError(err)
	prop := &domain.Proposal{ID: "prop-1", OutcomeCount: 2, State: domain.ProposalStateOpen}
	_, _, _, err = SettleLedger(prop, l)
	require.ErrorIs(err, domain.ErrProposalNotResolved)
}

func TestLedgerRestoreRoundTrip(t *testing.T) {
	require := require.New(t)

	l, err := NewBalanceLedger(2)
	require.NoError(err)
	require.NoError(l.credit(0, domain.SideAsset, 11))
	require.NoError(l.credit(1, domain.SideStable, 22))

	rows := l.Entries("mkt-1", "prop-1", testTime())
	require.Len(rows, 4)

	restored, err := RestoreBalanceLedger(2, rows)
	require.NoError(err)
	require.Equal(l.entries, restored.entries)

	rows = append(rows, rows[0])
	_, err = RestoreBalanceLedger(2, rows)
	require.ErrorIs(err, domain.ErrAlreadyExists)
}
