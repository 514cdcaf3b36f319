package engine

import (
	"fmt"
	"time"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// splitShares is what the quantum split seeds into every conditional pool.
type splitShares struct {
	toLive  amounts
	toTrans amounts
}

func (s splitShares) empty() bool { return isZero(s.toLive) && isZero(s.toTrans) }

// quantumSplit mirrors ratioBps/10000 of spot's live bucket plus the whole
// transitioning bucket into every conditional pool, then debits the source
// once. One pool of capital collateralizes all N outcome markets because at
// most one outcome's reserves ever come back. An empty source is a no-op,
// not an error; the pools simply start unseeded.
func quantumSplit(spot *SpotPool, pools []*ConditionalPool, ratioBps uint64) (splitShares, error) {
	if ratioBps == 0 || ratioBps > MaxBps {
		return splitShares{}, fmt.Errorf("engine: split ratio %d bps outside (0, %d]: %w", ratioBps, MaxBps, domain.ErrInvalidAmount)
	}
	toLive, err := proRata(spot.live, ratioBps, MaxBps)
	if err != nil {
		return splitShares{}, err
	}
	shares := splitShares{toLive: toLive, toTrans: spot.transitioning}
	if shares.empty() {
		return shares, nil
	}

	for _, pool := range pools {
		if err := pool.mirror(shares.toLive, shares.toTrans); err != nil {
			return splitShares{}, err
		}
	}
	if err := spot.debitForSplit(shares.toLive, shares.toTrans); err != nil {
		return splitShares{}, err
	}
	return shares, nil
}

// OpenProposal attaches a governance proposal to the market, creates one
// conditional pool per outcome, and runs the quantum split. The debited
// spot capital becomes the proposal escrow backing every conditional
// balance. Runs exactly once per proposal.
func (m *Market) OpenProposal(p domain.Proposal, now time.Time) error {
	if err := m.ensureMutable(); err != nil {
		return err
	}
	if m.proposal != nil {
		return fmt.Errorf("engine: market %s already locked to proposal %s: %w", m.meta.ID, m.proposal.id, domain.ErrAlreadyExists)
	}
	if p.OutcomeCount < 2 {
		return fmt.Errorf("engine: proposal %s has %d outcomes, need at least 2: %w", p.ID, p.OutcomeCount, domain.ErrInvalidOutcome)
	}
	ratio := p.SplitRatioBps
	if ratio == 0 {
		ratio = m.params.SplitRatioBps
	}

	pools := make([]*ConditionalPool, p.OutcomeCount)
	for o := range pools {
		pools[o] = newConditionalPool(o, m.params.Twap, now)
	}
	shares, err := quantumSplit(m.spot, pools, ratio)
	if err != nil {
		return err
	}
	escrowAsset, err := addU64(shares.toLive.Asset, shares.toTrans.Asset)
	if err != nil {
		return err
	}
	escrowStable, err := addU64(shares.toLive.Stable, shares.toTrans.Stable)
	if err != nil {
		return err
	}
	arb, err := NewBalanceLedger(p.OutcomeCount)
	if err != nil {
		return err
	}

	m.proposal = &openProposal{
		id:            p.ID,
		outcomeCount:  p.OutcomeCount,
		splitRatioBps: ratio,
		state:         domain.ProposalStateOpen,
		pools:         pools,
		escrowAsset:   escrowAsset,
		escrowStable:  escrowStable,
		arb:           arb,
	}
	m.meta.Status = domain.MarketStatusProposalOpen
	return m.checkInvariant()
}
