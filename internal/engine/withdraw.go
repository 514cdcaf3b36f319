package engine

import (
	"fmt"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// MarkForWithdrawal moves lpAmount of live position weight onto the
// withdrawal path. With no proposal attached, the weight and its reserve
// share land in withdraw_only and are claimable immediately. With a
// proposal open, they land in transitioning across spot and every
// conditional pool, keep trading, and flip to withdraw_only at
// recombination. Returns the bucket the weight landed in.
func (m *Market) MarkForWithdrawal(lpAmount uint64) (domain.Bucket, error) {
	if err := m.ensureMutable(); err != nil {
		return "", err
	}
	if lpAmount == 0 {
		return "", fmt.Errorf("engine: mark for withdrawal: %w: zero amount", domain.ErrInvalidAmount)
	}
	if lpAmount > m.positionLive {
		return "", fmt.Errorf("engine: mark %d exceeds live weight %d: %w", lpAmount, m.positionLive, domain.ErrInsufficientLiquidity)
	}

	if m.proposal == nil {
		if _, err := m.spot.moveLiveToWithdrawOnly(lpAmount, m.positionLive); err != nil {
			return "", err
		}
		m.positionLive -= lpAmount
		m.positionWithdrawOnly += lpAmount
		return domain.BucketWithdrawOnly, nil
	}

	if m.proposal.state != domain.ProposalStateOpen {
		// Mid-recombination the winning pool's reserves are in flight back
		// to spot; a live exit here would shortchange whoever moves first.
		return "", fmt.Errorf("engine: market %s recombining: %w", m.meta.ID, domain.ErrProposalStillActive)
	}

	den := m.positionLive
	if _, err := m.spot.moveLiveToTransitioning(lpAmount, den); err != nil {
		return "", err
	}
	for _, pool := range m.proposal.pools {
		if _, err := pool.moveLiveToTransitioning(lpAmount, den); err != nil {
			return "", err
		}
	}
	m.positionLive -= lpAmount
	m.positionTransitioning += lpAmount
	return domain.BucketTransitioning, nil
}

// ClaimWithdrawal pays out a claimable position's proportional share of the
// withdraw_only bucket and retires its weight. The position record itself
// is destroyed by the caller once the payout is persisted.
func (m *Market) ClaimWithdrawal(pos domain.LPPosition) (assetOut, stableOut uint64, err error) {
	if err := m.ensureMutable(); err != nil {
		return 0, 0, err
	}
	if pos.MarketID != m.meta.ID {
		return 0, 0, fmt.Errorf("engine: position %s belongs to market %s: %w", pos.ID, pos.MarketID, domain.ErrNotFound)
	}
	if pos.Bucket != domain.BucketWithdrawOnly {
		if pos.Bucket == domain.BucketTransitioning && m.lockedToCurrent(pos) {
			return 0, 0, fmt.Errorf("engine: position %s awaits recombination of proposal %s: %w", pos.ID, *pos.LockedProposalID, domain.ErrProposalStillActive)
		}
		return 0, 0, fmt.Errorf("engine: position %s is in bucket %s: %w", pos.ID, pos.Bucket, domain.ErrNotInWithdrawMode)
	}
	if m.lockedToCurrent(pos) {
		return 0, 0, fmt.Errorf("engine: position %s locked to proposal %s: %w", pos.ID, *pos.LockedProposalID, domain.ErrProposalStillActive)
	}
	if pos.Amount == 0 {
		return 0, 0, fmt.Errorf("engine: claim: %w: empty position", domain.ErrInvalidAmount)
	}
	if pos.Amount > m.positionWithdrawOnly {
		return 0, 0, fmt.Errorf("engine: position %s weight %d exceeds withdraw_only total %d: %w",
			pos.ID, pos.Amount, m.positionWithdrawOnly, domain.ErrBucketConservation)
	}

	out, err := m.spot.claimFromWithdrawOnly(pos.Amount, m.positionWithdrawOnly)
	if err != nil {
		return 0, 0, err
	}
	m.positionWithdrawOnly -= pos.Amount
	return out.Asset, out.Stable, nil
}

func (m *Market) lockedToCurrent(pos domain.LPPosition) bool {
	return pos.LockedProposalID != nil && m.proposal != nil && *pos.LockedProposalID == m.proposal.id
}

// Withdrawable previews the reserves a position's weight currently maps to
// and whether a claim would succeed right now. Transitioning positions see
// only their spot-side share; the conditional share is unknowable until an
// outcome wins.
func (m *Market) Withdrawable(pos domain.LPPosition) (asset, stable uint64, claimable bool) {
	if pos.MarketID != m.meta.ID || pos.Amount == 0 {
		return 0, 0, false
	}
	var share amounts
	var err error
	switch pos.Bucket {
	case domain.BucketLive:
		if m.positionLive == 0 {
			return 0, 0, false
		}
		share, err = proRata(m.spot.live, pos.Amount, m.positionLive)
	case domain.BucketTransitioning:
		if m.positionTransitioning == 0 {
			return 0, 0, false
		}
		share, err = proRata(m.spot.transitioning, pos.Amount, m.positionTransitioning)
	case domain.BucketWithdrawOnly:
		if m.positionWithdrawOnly == 0 || pos.Amount > m.positionWithdrawOnly {
			return 0, 0, false
		}
		share, err = proRata(m.spot.withdrawOnly, pos.Amount, m.positionWithdrawOnly)
		claimable = !m.lockedToCurrent(pos) && m.meta.Status != domain.MarketStatusHalted
	}
	if err != nil {
		return 0, 0, false
	}
	return share.Asset, share.Stable, claimable
}
