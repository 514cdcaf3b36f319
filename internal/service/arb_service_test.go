package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

func TestRecordOpportunityQueuesForExecutor(t *testing.T) {
	require := require.New(t)
	f := newFixture()
	m := f.createMarket(t)

	opp := domain.ArbOpportunity{
		ID:             "opp-1",
		MarketID:       m.ID,
		ProposalID:     "prop-1",
		Direction:      domain.ArbSpotRich,
		InputAmount:    50_000,
		ExpectedProfit: 1_200,
		SpotPrice:      "1.05",
		DetectedAt:     time.Now().UTC(),
	}
	require.NoError(f.arbSvc.RecordOpportunity(f.ctx, opp))

	require.Contains(f.arbs.rows, opp.ID)
	msgs := f.bus.streams[ArbStream]
	require.Len(msgs, 1)
	var queued domain.ArbOpportunity
	require.NoError(json.Unmarshal(msgs[0], &queued))
	require.Equal(opp.ID, queued.ID)
	require.Equal(opp.Direction, queued.Direction)

	// The store is the dedup point: the same detection cannot queue twice.
	require.ErrorIs(f.arbSvc.RecordOpportunity(f.ctx, opp), domain.ErrAlreadyExists)

	second := opp
	second.ID = "opp-2"
	require.NoError(f.arbSvc.RecordOpportunity(f.ctx, second))

	recent, err := f.arbSvc.ListRecent(f.ctx, 0)
	require.NoError(err)
	require.Len(recent, 2)
	require.Equal(second.ID, recent[0].ID)

	require.NoError(f.arbSvc.MarkExecuted(f.ctx, opp.ID))
	require.True(f.arbs.rows[opp.ID].Executed)
}

func TestDetectSizesWithoutTrading(t *testing.T) {
	require := require.New(t)
	f := newFixture()
	m := f.createMarket(t)
	f.seedLiquidity(t, m.ID, "alice", 1_000_000, 1_000_000)

	// No proposal, nothing to cycle against.
	_, err := f.arbSvc.Detect(f.ctx, m.ID)
	require.ErrorIs(err, domain.ErrNoOpenProposal)

	prop, err := f.propSvc.Open(f.ctx, OpenProposalInput{
		MarketID:      m.ID,
		Title:         "raise the protocol fee",
		OutcomeCount:  2,
		SplitRatioBps: 5_000,
	})
	require.NoError(err)

	// Balanced pools carry no edge.
	_, err = f.arbSvc.Detect(f.ctx, m.ID)
	require.ErrorIs(err, domain.ErrNoProfitableCycle)

	_, err = f.tradeSvc.Swap(f.ctx, SwapInput{
		MarketID: m.ID,
		Trader:   "bob",
		SideIn:   domain.SideStable,
		AmountIn: 300_000,
	})
	require.NoError(err)

	before, err := f.markets.GetByID(f.ctx, m.ID)
	require.NoError(err)

	opp, err := f.arbSvc.Detect(f.ctx, m.ID)
	require.NoError(err)
	require.NotEmpty(opp.ID)
	require.Equal(m.ID, opp.MarketID)
	require.Equal(prop.ID, opp.ProposalID)
	require.Equal(domain.ArbSpotRich, opp.Direction)
	require.Positive(opp.InputAmount)
	require.Positive(opp.ExpectedProfit)
	require.NotEmpty(opp.SpotPrice)
	require.False(opp.DetectedAt.IsZero())

	// Detection is a pure read: nothing persisted, nothing queued.
	after, err := f.markets.GetByID(f.ctx, m.ID)
	require.NoError(err)
	require.Equal(before.Spot, after.Spot)
	require.Empty(f.arbs.rows)
	require.Empty(f.bus.streams[ArbStream])

	// Two reads size the same cycle.
	again, err := f.arbSvc.Detect(f.ctx, m.ID)
	require.NoError(err)
	require.Equal(opp.Direction, again.Direction)
	require.Equal(opp.InputAmount, again.InputAmount)
	require.Equal(opp.ExpectedProfit, again.ExpectedProfit)
}

func TestExecuteCommitsProfitableCycle(t *testing.T) {
	require := require.New(t)
	f := newFixture()
	m := f.createMarket(t)
	f.seedLiquidity(t, m.ID, "alice", 1_000_000, 1_000_000)

	prop, err := f.propSvc.Open(f.ctx, OpenProposalInput{
		MarketID:      m.ID,
		Title:         "raise the protocol fee",
		OutcomeCount:  2,
		SplitRatioBps: 5_000,
	})
	require.NoError(err)

	// A large stable buy leaves spot rich relative to the conditionals.
	_, err = f.tradeSvc.Swap(f.ctx, SwapInput{
		MarketID: m.ID,
		Trader:   "bob",
		SideIn:   domain.SideStable,
		AmountIn: 300_000,
	})
	require.NoError(err)

	opp := domain.ArbOpportunity{
		ID:             "opp-cycle",
		MarketID:       m.ID,
		ProposalID:     prop.ID,
		Direction:      domain.ArbSpotRich,
		InputAmount:    50_000,
		ExpectedProfit: 1,
		DetectedAt:     time.Now().UTC(),
	}
	require.NoError(f.arbSvc.RecordOpportunity(f.ctx, opp))

	before, err := f.markets.GetByID(f.ctx, m.ID)
	require.NoError(err)

	exec, err := f.arbSvc.Execute(f.ctx, opp)
	require.NoError(err)
	require.Equal(domain.ArbExecCommitted, exec.Status)
	require.Equal(domain.ArbSpotRich, exec.Direction)
	require.Equal(prop.ID, exec.ProposalID)
	require.Positive(exec.InputAmount)
	require.Positive(exec.Profit)
	require.NotNil(exec.CompletedAt)

	// One ledger leg per outcome, then the spot leg that closes the loop.
	require.Len(exec.Legs, 3)
	require.Equal(domain.ArbLegSpot, exec.Legs[len(exec.Legs)-1].Outcome)

	stored, err := f.execs.GetByID(f.ctx, exec.ID)
	require.NoError(err)
	require.Equal(domain.ArbExecCommitted, stored.Status)
	require.Equal(exec.Profit, stored.Profit)

	// The cycle moved real reserves and was persisted.
	after, err := f.markets.GetByID(f.ctx, m.ID)
	require.NoError(err)
	require.NotEqual(before.Spot, after.Spot)

	// Only the spot leg lands on the public tape, booked to the venue.
	tape, err := f.trades.ListByMarket(f.ctx, m.ID, domain.ListOpts{})
	require.NoError(err)
	var arbTrades []domain.Trade
	for _, tr := range tape {
		if tr.Kind == domain.TradeKindArbitrage {
			arbTrades = append(arbTrades, tr)
		}
	}
	require.Len(arbTrades, 1)
	require.Equal(domain.AccountVenue, arbTrades[0].Trader)
	require.Equal(domain.TradeVenueSpot, arbTrades[0].Venue)
	require.Positive(arbTrades[0].AmountOut)

	require.True(f.arbs.rows[opp.ID].Executed)
	events := f.bus.eventsOfType(t, EventsChannel, domain.EventArbExecuted)
	require.Len(events, 1)
	require.Equal(exec.ID, events[0].Payload["execution_id"])
	require.True(f.audit.has("arb_execution_recorded"))
	require.False(f.arbSvc.Tripped())
}

func TestExecuteRejectsWhenEdgeGone(t *testing.T) {
	require := require.New(t)
	f := newFixture()
	m := f.createMarket(t)
	f.seedLiquidity(t, m.ID, "alice", 1_000_000, 1_000_000)
	prop, err := f.propSvc.Open(f.ctx, OpenProposalInput{
		MarketID:      m.ID,
		Title:         "raise the protocol fee",
		OutcomeCount:  2,
		SplitRatioBps: 5_000,
	})
	require.NoError(err)

	// Balanced pools: whatever the detector saw is gone by execution time.
	opp := domain.ArbOpportunity{
		ID:             "opp-stale",
		MarketID:       m.ID,
		ProposalID:     prop.ID,
		Direction:      domain.ArbSpotRich,
		InputAmount:    50_000,
		ExpectedProfit: 900,
		DetectedAt:     time.Now().UTC(),
	}
	require.NoError(f.arbSvc.RecordOpportunity(f.ctx, opp))

	exec, err := f.arbSvc.Execute(f.ctx, opp)
	require.NoError(err)
	require.Equal(domain.ArbExecRejected, exec.Status)
	require.Equal("no profitable cycle at execution time", exec.Reason)
	require.Zero(exec.Profit)
	require.NotNil(exec.CompletedAt)

	stored, err := f.execs.GetByID(f.ctx, exec.ID)
	require.NoError(err)
	require.Equal(domain.ArbExecRejected, stored.Status)

	// A rejection consumes the opportunity but never counts against the
	// kill switch and never reaches subscribers.
	require.True(f.arbs.rows[opp.ID].Executed)
	require.Empty(f.bus.eventsOfType(t, EventsChannel, domain.EventArbExecuted))
	require.False(f.arbSvc.Tripped())
	require.Zero(f.arbSvc.Shortfall())
	require.True(f.audit.has("arb_execution_recorded"))
}

func TestExecuteRequiresOpenProposal(t *testing.T) {
	require := require.New(t)
	f := newFixture()
	m := f.createMarket(t)
	f.seedLiquidity(t, m.ID, "alice", 1_000_000, 1_000_000)

	opp := domain.ArbOpportunity{
		ID:         "opp-flat",
		MarketID:   m.ID,
		Direction:  domain.ArbSpotRich,
		DetectedAt: time.Now().UTC(),
	}
	require.NoError(f.arbSvc.RecordOpportunity(f.ctx, opp))

	_, err := f.arbSvc.Execute(f.ctx, opp)
	require.ErrorIs(err, domain.ErrNoOpenProposal)

	// Nothing recorded, nothing consumed: the executor may retry later.
	require.Empty(f.execs.order)
	require.False(f.arbs.rows[opp.ID].Executed)
	require.Empty(f.bus.eventsOfType(t, EventsChannel, domain.EventArbExecuted))
}

func TestKillSwitchTripsOnCumulativeShortfall(t *testing.T) {
	require := require.New(t)
	f := newFixture()
	notifier := &fakeNotifier{}
	f.arbSvc.WithNotifier(notifier)

	record := func(id string, profit, expected uint64) {
		t.Helper()
		now := time.Now().UTC()
		require.NoError(f.arbSvc.RecordExecution(f.ctx, domain.ArbExecution{
			ID:          id,
			MarketID:    "mkt-ks",
			Direction:   domain.ArbSpotRich,
			Profit:      profit,
			Status:      domain.ArbExecCommitted,
			StartedAt:   now,
			CompletedAt: &now,
		}, expected))
	}

	// On-target cycles never feed the switch.
	record("exec-1", 500, 400)
	require.Zero(f.arbSvc.Shortfall())

	// The fixture budget is 1_000: a 600 miss stays under it.
	record("exec-2", 100, 700)
	require.Equal(uint64(600), f.arbSvc.Shortfall())
	require.False(f.arbSvc.Tripped())
	require.False(f.audit.has("arb_kill_switch_tripped"))
	require.Empty(notifier.alerts)

	record("exec-3", 50, 500)
	require.Equal(uint64(1_050), f.arbSvc.Shortfall())
	require.True(f.arbSvc.Tripped())
	require.True(f.audit.has("arb_kill_switch_tripped"))
	require.Len(notifier.alerts, 1)

	// Further misses accumulate but the alert fires once.
	record("exec-4", 0, 10)
	require.Equal(uint64(1_060), f.arbSvc.Shortfall())
	require.True(f.arbSvc.Tripped())
	require.Len(notifier.alerts, 1)
}

func TestProfitAccountingSumsCommittedCycles(t *testing.T) {
	require := require.New(t)
	f := newFixture()
	now := time.Now().UTC()

	old := domain.ArbExecution{
		ID:        "exec-old",
		MarketID:  "mkt-pnl",
		Direction: domain.ArbSpotCheap,
		Profit:    40,
		Status:    domain.ArbExecCommitted,
		StartedAt: now.Add(-2 * time.Hour),
	}
	recent := domain.ArbExecution{
		ID:        "exec-new",
		MarketID:  "mkt-pnl",
		Direction: domain.ArbSpotRich,
		Profit:    100,
		Status:    domain.ArbExecCommitted,
		StartedAt: now,
	}
	rejected := domain.ArbExecution{
		ID:        "exec-rej",
		MarketID:  "mkt-pnl",
		Direction: domain.ArbSpotRich,
		Status:    domain.ArbExecRejected,
		Reason:    "no profitable cycle at execution time",
		StartedAt: now,
	}
	require.NoError(f.arbSvc.RecordExecution(f.ctx, old, 0))
	require.NoError(f.arbSvc.RecordExecution(f.ctx, recent, 0))
	require.NoError(f.arbSvc.RecordExecution(f.ctx, rejected, 0))

	total, err := f.arbSvc.TotalProfit(f.ctx, time.Time{})
	require.NoError(err)
	require.Equal(uint64(140), total)

	windowed, err := f.arbSvc.TotalProfit(f.ctx, now.Add(-time.Hour))
	require.NoError(err)
	require.Equal(uint64(100), windowed)

	got, err := f.arbSvc.GetExecution(f.ctx, recent.ID)
	require.NoError(err)
	require.Equal(recent.Profit, got.Profit)
	_, err = f.arbSvc.GetExecution(f.ctx, "exec-missing")
	require.ErrorIs(err, domain.ErrNotFound)

	execs, err := f.arbSvc.ListExecutions(f.ctx, 0)
	require.NoError(err)
	require.Len(execs, 3)
	require.Equal(rejected.ID, execs[0].ID)
}
