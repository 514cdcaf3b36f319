package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

func TestRecombineSettlesProposalEndToEnd(t *testing.T) {
	require := require.New(t)
	f := newFixture()
	m := f.createMarket(t)
	f.seedLiquidity(t, m.ID, "alice", 1_000_000, 1_000_000)
	prop := f.openProposal(t, m.ID, 2)

	// Trader activity so the holder ledger has rows to settle.
	require.NoError(f.ledgerSvc.Mint(f.ctx, CompleteSetInput{
		MarketID: m.ID,
		Side:     domain.SideStable,
		Amount:   50_000,
	}))
	_, err := f.ledgerSvc.BalanceSwap(f.ctx, BalanceSwapInput{
		MarketID: m.ID,
		Trader:   "carol",
		Outcome:  0,
		SideIn:   domain.SideStable,
		AmountIn: 30_000,
	})
	require.NoError(err)
	rows, err := f.ledgerSvc.Balances(f.ctx, m.ID, domain.AccountTrader)
	require.NoError(err)
	require.NotEmpty(rows)

	require.NoError(f.propSvc.Resolve(f.ctx, prop.ID, 0))

	out, err := f.crankSvc.Recombine(f.ctx, m.ID, nil)
	require.NoError(err)
	require.False(out.Result.NoOp)
	require.Equal(0, out.Result.Winner)
	require.Equal(prop.ID, out.Result.ProposalID)
	require.NotNil(out.Report)
	require.Equal(0, out.Report.WinningOutcome)
	require.Equal(2, out.Report.OutcomeCount)
	require.False(out.Report.SettledAt.IsZero())

	settled, err := f.proposals.GetByID(f.ctx, prop.ID)
	require.NoError(err)
	require.Equal(domain.ProposalStateSettled, settled.State)
	require.NotNil(settled.WinningOutcome)
	require.Equal(0, *settled.WinningOutcome)
	require.NotNil(settled.SettledAt)

	market, err := f.markets.GetByID(f.ctx, m.ID)
	require.NoError(err)
	require.Nil(market.ProposalID)
	require.Equal(domain.MarketStatusActive, market.Status)
	require.Positive(market.Spot.TotalAsset)

	// Conditional rows, trader rows, and venue rows are all gone.
	conds, err := f.proposals.ListConditionals(f.ctx, prop.ID)
	require.NoError(err)
	require.Empty(conds)
	for _, account := range []string{domain.AccountTrader, domain.AccountVenue} {
		left, lerr := f.ledger.ListByAccount(f.ctx, m.ID, account)
		require.NoError(lerr)
		require.Empty(left)
	}

	_, err = f.archive.Get(f.ctx, m.ID, prop.ID)
	require.NoError(err)

	require.Len(f.bus.eventsOfType(t, EventsChannel, domain.EventRecombined), 1)
	require.True(f.audit.has("recombined"))
	require.True(f.audit.has("ledger_settled"))
	require.True(f.audit.has("settlement_archived"))
	require.Empty(f.locks.held)

	// Cranking again is a no-op, and the market can host its next proposal.
	again, err := f.crankSvc.Recombine(f.ctx, m.ID, nil)
	require.NoError(err)
	require.True(again.Result.NoOp)
	require.Nil(again.Report)

	next := f.openProposal(t, m.ID, 3)
	require.NotEqual(prop.ID, next.ID)
}

func TestRecombineResolvesWhenWinnerSupplied(t *testing.T) {
	require := require.New(t)
	f := newFixture()
	m := f.createMarket(t)
	f.seedLiquidity(t, m.ID, "alice", 1_000_000, 1_000_000)
	prop := f.openProposal(t, m.ID, 2)

	w := 1
	out, err := f.crankSvc.Recombine(f.ctx, m.ID, &w)
	require.NoError(err)
	require.Equal(1, out.Result.Winner)

	settled, err := f.proposals.GetByID(f.ctx, prop.ID)
	require.NoError(err)
	require.Equal(domain.ProposalStateSettled, settled.State)
	require.NotNil(settled.ResolvedAt)

	// The crank resolved on behalf of governance, so both envelopes fire.
	require.Len(f.bus.eventsOfType(t, EventsChannel, domain.EventProposalResolved), 1)
	require.Len(f.bus.eventsOfType(t, EventsChannel, domain.EventRecombined), 1)
}

func TestRecombineRequiresWinnerWhileOpen(t *testing.T) {
	require := require.New(t)
	f := newFixture()
	m := f.createMarket(t)
	f.seedLiquidity(t, m.ID, "alice", 1_000_000, 1_000_000)
	prop := f.openProposal(t, m.ID, 2)

	_, err := f.crankSvc.Recombine(f.ctx, m.ID, nil)
	require.ErrorIs(err, domain.ErrProposalNotResolved)

	still, err := f.proposals.GetByID(f.ctx, prop.ID)
	require.NoError(err)
	require.Equal(domain.ProposalStateOpen, still.State)
	market, err := f.markets.GetByID(f.ctx, m.ID)
	require.NoError(err)
	require.Equal(domain.MarketStatusProposalOpen, market.Status)
}

func TestRecombineRejectsWinnerMismatch(t *testing.T) {
	require := require.New(t)
	f := newFixture()
	m := f.createMarket(t)
	f.seedLiquidity(t, m.ID, "alice", 1_000_000, 1_000_000)
	prop := f.openProposal(t, m.ID, 2)
	require.NoError(f.propSvc.Resolve(f.ctx, prop.ID, 0))

	w := 1
	_, err := f.crankSvc.Recombine(f.ctx, m.ID, &w)
	require.ErrorIs(err, domain.ErrInvalidOutcome)
}

func TestRecombineWithoutProposalIsNoOp(t *testing.T) {
	require := require.New(t)
	f := newFixture()
	m := f.createMarket(t)
	f.seedLiquidity(t, m.ID, "alice", 1_000_000, 1_000_000)

	out, err := f.crankSvc.Recombine(f.ctx, m.ID, nil)
	require.NoError(err)
	require.True(out.Result.NoOp)
	require.Nil(out.Report)
	require.Empty(f.bus.eventsOfType(t, EventsChannel, domain.EventRecombined))
	require.Empty(f.locks.held)
}

func TestCrankLockSerializesCallers(t *testing.T) {
	require := require.New(t)
	f := newFixture()
	m := f.createMarket(t)
	f.seedLiquidity(t, m.ID, "alice", 1_000_000, 1_000_000)

	f.locks.held["crank:"+m.ID] = true

	_, err := f.crankSvc.Recombine(f.ctx, m.ID, nil)
	require.ErrorIs(err, domain.ErrLockHeld)
	_, err = f.crankSvc.UpdateTwaps(f.ctx, m.ID)
	require.ErrorIs(err, domain.ErrLockHeld)

	delete(f.locks.held, "crank:"+m.ID)
	_, err = f.crankSvc.Recombine(f.ctx, m.ID, nil)
	require.NoError(err)
}

func TestRecombineFlipsMarkedPositions(t *testing.T) {
	require := require.New(t)
	f := newFixture()
	m := f.createMarket(t)
	f.seedLiquidity(t, m.ID, "alice", 1_000_000, 1_000_000)
	pos := f.seedLiquidity(t, m.ID, "bob", 200_000, 200_000)
	prop := f.openProposal(t, m.ID, 2)

	marked, err := f.wdSvc.Mark(f.ctx, MarkInput{PositionID: pos.ID, Owner: "bob"})
	require.NoError(err)
	require.Equal(domain.BucketTransitioning, marked.Bucket)

	require.NoError(f.propSvc.Resolve(f.ctx, prop.ID, 0))
	out, err := f.crankSvc.Recombine(f.ctx, m.ID, nil)
	require.NoError(err)
	require.Equal(uint64(200_000), out.Result.FlippedWeight)

	flipped, err := f.positions.GetByID(f.ctx, marked.ID)
	require.NoError(err)
	require.Equal(domain.BucketWithdrawOnly, flipped.Bucket)

	claim, err := f.wdSvc.Claim(f.ctx, ClaimInput{PositionID: marked.ID, Owner: "bob"})
	require.NoError(err)
	require.Positive(claim.AssetOut)
	require.Positive(claim.StableOut)
	_, err = f.positions.GetByID(f.ctx, marked.ID)
	require.ErrorIs(err, domain.ErrNotFound)
}

func TestTransitionFlipsPendingWithoutTeardown(t *testing.T) {
	require := require.New(t)
	f := newFixture()
	m := f.createMarket(t)
	f.seedLiquidity(t, m.ID, "alice", 1_000_000, 1_000_000)
	pos := f.seedLiquidity(t, m.ID, "bob", 200_000, 200_000)
	prop := f.openProposal(t, m.ID, 2)

	_, err := f.wdSvc.Mark(f.ctx, MarkInput{PositionID: pos.ID, Owner: "bob"})
	require.NoError(err)
	require.NoError(f.propSvc.Resolve(f.ctx, prop.ID, 0))

	res, err := f.crankSvc.Transition(f.ctx, m.ID)
	require.NoError(err)
	require.Equal(prop.ID, res.ProposalID)
	require.Equal(uint64(200_000), res.FlippedWeight)
	require.Positive(res.SpotMoved.Asset)
	require.Positive(res.WinnerMoved.Asset)

	flipped, err := f.positions.GetByID(f.ctx, pos.ID)
	require.NoError(err)
	require.Equal(domain.BucketWithdrawOnly, flipped.Bucket)
	require.Len(f.bus.eventsOfType(t, EventsChannel, domain.EventTransitioned), 1)
	require.True(f.audit.has("transition_pending"))

	// The pools still stand; the full teardown finds nothing left to flip.
	out, err := f.crankSvc.Recombine(f.ctx, m.ID, nil)
	require.NoError(err)
	require.False(out.Result.NoOp)
	require.Zero(out.Result.FlippedWeight)
}

func TestUpdateTwapsRefreshesSurface(t *testing.T) {
	require := require.New(t)
	f := newFixture()
	m := f.createMarket(t)
	f.seedLiquidity(t, m.ID, "alice", 1_000_000, 1_000_000)

	updated, err := f.crankSvc.UpdateTwaps(f.ctx, m.ID)
	require.NoError(err)
	require.Equal(1, updated)

	f.openProposal(t, m.ID, 2)
	updated, err = f.crankSvc.UpdateTwaps(f.ctx, m.ID)
	require.NoError(err)
	require.Equal(3, updated)

	spot, err := f.priceCache.GetPrice(f.ctx, m.ID, domain.PriceKeySpot)
	require.NoError(err)
	require.NotEmpty(spot.Spot)
	require.NotEmpty(spot.Twap)
	for _, venue := range []string{"o0", "o1"} {
		p, perr := f.priceCache.GetPrice(f.ctx, m.ID, venue)
		require.NoError(perr)
		require.NotEmpty(p.Spot)
	}
	require.NotEmpty(f.bus.published[PricesChannel])
	require.NotEmpty(f.bus.eventsOfType(t, EventsChannel, domain.EventPriceUpdate))
}
