package engine

import (
	"fmt"
	"time"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// RecombineResult summarizes one completed recombination.
type RecombineResult struct {
	ProposalID string
	Winner     int
	// ReturnedLive re-entered spot's live bucket; ReturnedWithdrawOnly
	// became claimable. Losing-pool reserves are forfeited and appear in
	// neither.
	ReturnedLive         domain.BucketAmounts
	ReturnedWithdrawOnly domain.BucketAmounts
	// ProtocolFeeAsset/Stable are the winning pool's fee accrual plus the
	// venue arbitrage ledger's redemption, folded into spot.
	ProtocolFeeAsset  uint64
	ProtocolFeeStable uint64
	ArbDust           []domain.DustRecord
	// RemainingEscrow backs winning-outcome balances still sitting in
	// holder ledgers; it is carried on the settled proposal record and
	// drained as holders settle.
	RemainingEscrowAsset  uint64
	RemainingEscrowStable uint64
	// FlippedWeight is the position weight moved transitioning -> withdraw
	// only at settlement.
	FlippedWeight uint64
	// NoOp is set when the crank found nothing attached: the proposal was
	// already settled by an earlier call.
	NoOp bool
}

// TransitionResult summarizes one standalone pending-transition migration.
type TransitionResult struct {
	ProposalID string
	SpotMoved  domain.BucketAmounts
	// WinnerMoved is the winning pool's transitioning bucket, landed in
	// spot withdraw_only.
	WinnerMoved domain.BucketAmounts
	// FlippedWeight is the position weight moved transitioning ->
	// withdraw_only alongside its reserves. Weight and reserves flip
	// together; otherwise older withdraw_only positions would claim
	// against an inflated bucket.
	FlippedWeight uint64
}

// ResolveProposal records the winning outcome reported by governance and
// freezes conditional trading. The venue never decides winners itself.
func (m *Market) ResolveProposal(winner int, now time.Time) error {
	if err := m.ensureMutable(); err != nil {
		return err
	}
	op, err := m.openOrErr()
	if err != nil {
		return err
	}
	if winner < 0 || winner >= op.outcomeCount {
		return fmt.Errorf("engine: winner %d out of range [0,%d): %w", winner, op.outcomeCount, domain.ErrInvalidOutcome)
	}
	op.state = domain.ProposalStateResolved
	op.winner = winner
	m.meta.Status = domain.MarketStatusRecombining
	return nil
}

func (m *Market) crankAllowed(now time.Time) error {
	if m.params.CrankInterval > 0 && !m.lastCrankAt.IsZero() && now.Sub(m.lastCrankAt) < m.params.CrankInterval {
		return fmt.Errorf("engine: market %s: crank ran %s ago: %w", m.meta.ID, now.Sub(m.lastCrankAt), domain.ErrRateLimited)
	}
	m.lastCrankAt = now
	return nil
}

// RecombineProgress is the crank's consuming hand-off: BeginRecombine
// issues it, each Step tears down one outcome pool, Finish consumes it.
// Stopping part-way is valid; already-drained pools make every step
// idempotent, so a later BeginRecombine resumes safely.
type RecombineProgress struct {
	m        *Market
	op       *openProposal
	next     int
	finished bool

	returnedLive  amounts
	returnedTrans amounts
	feeAsset      uint64
	feeStable     uint64
}

// BeginRecombine starts (or resumes) recombination for a resolved
// proposal. Spot's own pending transitioning bucket migrates here so both
// the full crank and the standalone transition path converge on the same
// bucket state.
func (m *Market) BeginRecombine(now time.Time) (*RecombineProgress, error) {
	if err := m.ensureMutable(); err != nil {
		return nil, err
	}
	op, err := m.resolvedOrErr()
	if err != nil {
		return nil, err
	}
	if err := m.crankAllowed(now); err != nil {
		return nil, err
	}
	if _, err := m.spot.transitionToWithdrawOnly(); err != nil {
		return nil, err
	}
	return &RecombineProgress{m: m, op: op}, nil
}

// Remaining reports how many outcome pools are still standing.
func (pr *RecombineProgress) Remaining() int {
	if pr.finished {
		return 0
	}
	return len(pr.op.pools) - pr.next
}

// Step tears down the next outcome pool. The winning pool's live bucket
// returns to spot live and its transitioning bucket to spot withdraw_only,
// with its fee accrual folded into spot's. Losing pools are drained and
// discarded; their backing stays in escrow to honor winning-outcome
// balances.
func (pr *RecombineProgress) Step() error {
	if pr.finished {
		return fmt.Errorf("engine: recombine already finished: %w", domain.ErrInvalidBucketTransition)
	}
	if pr.next >= len(pr.op.pools) {
		return fmt.Errorf("engine: all %d pools already torn down: %w", len(pr.op.pools), domain.ErrInvalidBucketTransition)
	}
	pool := pr.op.pools[pr.next]
	if pr.next != pr.op.winner {
		pool.drain()
		pr.next++
		return nil
	}

	// Validate the whole winner hand-back before mutating anything.
	live, trans := pool.live, pool.transitioning
	feeAsset, feeStable := pool.protocolFeeAsset, pool.protocolFeeStable
	needAsset, err := addU64(live.Asset, trans.Asset)
	if err != nil {
		return err
	}
	if needAsset, err = addU64(needAsset, feeAsset); err != nil {
		return err
	}
	needStable, err := addU64(live.Stable, trans.Stable)
	if err != nil {
		return err
	}
	if needStable, err = addU64(needStable, feeStable); err != nil {
		return err
	}
	if pr.op.escrowAsset < needAsset || pr.op.escrowStable < needStable {
		return fmt.Errorf("engine: escrow %d/%d cannot back winning pool %d/%d: %w",
			pr.op.escrowAsset, pr.op.escrowStable, needAsset, needStable, domain.ErrBucketConservation)
	}
	newReturnedLive, err := addAmounts(pr.returnedLive, live)
	if err != nil {
		return err
	}
	newReturnedTrans, err := addAmounts(pr.returnedTrans, trans)
	if err != nil {
		return err
	}

	if err := pr.m.spot.creditBuckets(live, trans); err != nil {
		return err
	}
	if err := pr.m.spot.foldProtocolFees(feeAsset, feeStable); err != nil {
		return err
	}
	pr.op.escrowAsset -= needAsset
	pr.op.escrowStable -= needStable
	pr.returnedLive = newReturnedLive
	pr.returnedTrans = newReturnedTrans
	pr.feeAsset += feeAsset
	pr.feeStable += feeStable
	pool.drain()
	pr.next++
	return nil
}

// Finish consumes the progress value: the venue arbitrage ledger settles,
// marked position weight flips to withdraw_only, and the proposal detaches
// with its remaining escrow carried on the settled record. Holder ledgers
// settle lazily against that record afterwards via SettleLedger.
func (pr *RecombineProgress) Finish(now time.Time) (RecombineResult, error) {
	if pr.finished {
		return RecombineResult{}, fmt.Errorf("engine: recombine already finished: %w", domain.ErrInvalidBucketTransition)
	}
	if pr.next < len(pr.op.pools) {
		return RecombineResult{}, fmt.Errorf("engine: %d pools still standing: %w", len(pr.op.pools)-pr.next, domain.ErrInvalidBucketTransition)
	}
	m, op := pr.m, pr.op

	arbAsset, err := op.arb.redeemWinning(op.winner, domain.SideAsset)
	if err != nil {
		return RecombineResult{}, err
	}
	arbStable, err := op.arb.redeemWinning(op.winner, domain.SideStable)
	if err != nil {
		return RecombineResult{}, err
	}
	if op.escrowAsset < arbAsset || op.escrowStable < arbStable {
		return RecombineResult{}, fmt.Errorf("engine: escrow %d/%d cannot cover arb redemption %d/%d: %w",
			op.escrowAsset, op.escrowStable, arbAsset, arbStable, domain.ErrBucketConservation)
	}
	if err := m.spot.foldProtocolFees(arbAsset, arbStable); err != nil {
		return RecombineResult{}, err
	}
	op.escrowAsset -= arbAsset
	op.escrowStable -= arbStable
	arbDust := op.arb.sweepDust()

	flipped := m.positionTransitioning
	newWO, err := addU64(m.positionWithdrawOnly, flipped)
	if err != nil {
		return RecombineResult{}, err
	}
	m.positionWithdrawOnly = newWO
	m.positionTransitioning = 0

	pr.finished = true
	m.proposal = nil
	m.meta.Status = domain.MarketStatusActive
	if err := m.checkInvariant(); err != nil {
		return RecombineResult{}, err
	}

	return RecombineResult{
		ProposalID:            op.id,
		Winner:                op.winner,
		ReturnedLive:          pr.returnedLive,
		ReturnedWithdrawOnly:  pr.returnedTrans,
		ProtocolFeeAsset:      pr.feeAsset + arbAsset,
		ProtocolFeeStable:     pr.feeStable + arbStable,
		ArbDust:               arbDust,
		RemainingEscrowAsset:  op.escrowAsset,
		RemainingEscrowStable: op.escrowStable,
		FlippedWeight:         flipped,
	}, nil
}

// Recombine runs the whole crank in one call: resolve if still open, then
// begin, step through every pool, and finish. Calling it again after the
// proposal has settled is a no-op, not an error, so any party may invoke
// it repeatedly.
func (m *Market) Recombine(winner int, now time.Time) (RecombineResult, error) {
	if m.proposal == nil {
		return RecombineResult{NoOp: true}, nil
	}
	if m.proposal.state == domain.ProposalStateOpen {
		if err := m.ResolveProposal(winner, now); err != nil {
			return RecombineResult{}, err
		}
	} else if m.proposal.winner != winner {
		return RecombineResult{}, fmt.Errorf("engine: proposal %s resolved with winner %d, caller sent %d: %w",
			m.proposal.id, m.proposal.winner, winner, domain.ErrInvalidOutcome)
	}

	pr, err := m.BeginRecombine(now)
	if err != nil {
		return RecombineResult{}, err
	}
	for pr.Remaining() > 0 {
		if err := pr.Step(); err != nil {
			return RecombineResult{}, err
		}
	}
	return pr.Finish(now)
}

// TransitionPending migrates every still-pending transitioning balance to
// withdraw_only without the full teardown: spot's own bucket directly, the
// winning pool's via escrow. Legal only after resolution; converges to the
// same bucket state the full recombine produces.
func (m *Market) TransitionPending(now time.Time) (TransitionResult, error) {
	if err := m.ensureMutable(); err != nil {
		return TransitionResult{}, err
	}
	op, err := m.resolvedOrErr()
	if err != nil {
		return TransitionResult{}, err
	}
	if err := m.crankAllowed(now); err != nil {
		return TransitionResult{}, err
	}

	spotMoved, err := m.spot.transitionToWithdrawOnly()
	if err != nil {
		return TransitionResult{}, err
	}

	winning := op.pools[op.winner]
	trans := winning.transitioning
	needAsset := trans.Asset
	needStable := trans.Stable
	if op.escrowAsset < needAsset || op.escrowStable < needStable {
		return TransitionResult{}, fmt.Errorf("engine: escrow %d/%d cannot back pending transition %d/%d: %w",
			op.escrowAsset, op.escrowStable, needAsset, needStable, domain.ErrBucketConservation)
	}
	moved, err := winning.takeTransitioning()
	if err != nil {
		return TransitionResult{}, err
	}
	if err := m.spot.creditBuckets(amounts{}, moved); err != nil {
		return TransitionResult{}, err
	}
	op.escrowAsset -= moved.Asset
	op.escrowStable -= moved.Stable

	flipped := m.positionTransitioning
	newWO, err := addU64(m.positionWithdrawOnly, flipped)
	if err != nil {
		return TransitionResult{}, err
	}
	m.positionWithdrawOnly = newWO
	m.positionTransitioning = 0

	return TransitionResult{ProposalID: op.id, SpotMoved: spotMoved, WinnerMoved: moved, FlippedWeight: flipped}, nil
}
