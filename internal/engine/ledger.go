package engine

import (
	"fmt"
	"time"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// BalanceLedger is one holder's conditional balances for a single proposal:
// a flat vector of 2N cells indexed by (outcome, side). Representing
// per-outcome holdings as data rather than as distinct asset types is what
// lets every swap and arbitrage path be written once for any outcome count.
type BalanceLedger struct {
	outcomeCount int
	entries      []uint64
}

// NewBalanceLedger returns a zeroed ledger for outcomeCount outcomes.
func NewBalanceLedger(outcomeCount int) (*BalanceLedger, error) {
	if outcomeCount < 2 {
		return nil, fmt.Errorf("engine: ledger needs at least 2 outcomes, got %d: %w", outcomeCount, domain.ErrInvalidOutcome)
	}
	return &BalanceLedger{
		outcomeCount: outcomeCount,
		entries:      make([]uint64, 2*outcomeCount),
	}, nil
}

// OutcomeCount returns the number of outcomes the ledger spans.
func (l *BalanceLedger) OutcomeCount() int { return l.outcomeCount }

func (l *BalanceLedger) index(outcome int, side domain.Side) (int, error) {
	if outcome < 0 || outcome >= l.outcomeCount {
		return 0, fmt.Errorf("engine: outcome %d out of range [0,%d): %w", outcome, l.outcomeCount, domain.ErrInvalidOutcome)
	}
	i := outcome * 2
	if side == domain.SideStable {
		i++
	}
	return i, nil
}

// Balance reads one cell; out-of-range outcomes read as zero.
func (l *BalanceLedger) Balance(outcome int, side domain.Side) uint64 {
	i, err := l.index(outcome, side)
	if err != nil {
		return 0
	}
	return l.entries[i]
}

func (l *BalanceLedger) credit(outcome int, side domain.Side, amount uint64) error {
	i, err := l.index(outcome, side)
	if err != nil {
		return err
	}
	next, err := addU64(l.entries[i], amount)
	if err != nil {
		return err
	}
	l.entries[i] = next
	return nil
}

func (l *BalanceLedger) debit(outcome int, side domain.Side, amount uint64) error {
	i, err := l.index(outcome, side)
	if err != nil {
		return err
	}
	if l.entries[i] < amount {
		return fmt.Errorf("engine: outcome %d %s balance %d < %d: %w", outcome, side, l.entries[i], amount, domain.ErrInsufficientBalance)
	}
	l.entries[i] -= amount
	return nil
}

// CompleteSets returns the largest amount held simultaneously across every
// outcome for side, the burnable portion of the ledger.
func (l *BalanceLedger) CompleteSets(side domain.Side) uint64 {
	min := l.Balance(0, side)
	for o := 1; o < l.outcomeCount; o++ {
		if b := l.Balance(o, side); b < min {
			min = b
		}
	}
	return min
}

// mintSet credits amount to side in every outcome. All 2N-or-nothing: the
// precheck guarantees no cell can overflow before any cell is written.
func (l *BalanceLedger) mintSet(side domain.Side, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("engine: mint complete set: %w: zero amount", domain.ErrInvalidAmount)
	}
	for o := 0; o < l.outcomeCount; o++ {
		i, err := l.index(o, side)
		if err != nil {
			return err
		}
		if _, err := addU64(l.entries[i], amount); err != nil {
			return err
		}
	}
	for o := 0; o < l.outcomeCount; o++ {
		i, _ := l.index(o, side)
		l.entries[i] += amount
	}
	return nil
}

// burnSet debits amount from side in every outcome. Fails with
// ErrIncompleteSet when any outcome holds less than amount.
func (l *BalanceLedger) burnSet(side domain.Side, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("engine: burn complete set: %w: zero amount", domain.ErrInvalidAmount)
	}
	if sets := l.CompleteSets(side); amount > sets {
		return fmt.Errorf("engine: burn %d exceeds complete sets %d: %w", amount, sets, domain.ErrIncompleteSet)
	}
	for o := 0; o < l.outcomeCount; o++ {
		i, _ := l.index(o, side)
		l.entries[i] -= amount
	}
	return nil
}

// redeemWinning zeroes the winning outcome's cell for side and returns what
// it held. Called only after resolution; the amount is payable 1:1 from the
// proposal escrow.
func (l *BalanceLedger) redeemWinning(winner int, side domain.Side) (uint64, error) {
	i, err := l.index(winner, side)
	if err != nil {
		return 0, err
	}
	amount := l.entries[i]
	l.entries[i] = 0
	return amount, nil
}

// sweepDust zeroes every remaining cell and reports what was discarded.
// After the winner has been redeemed the residue is losing-outcome balance
// with no backing; it is forfeited, not refunded.
func (l *BalanceLedger) sweepDust() []domain.DustRecord {
	var dust []domain.DustRecord
	for o := 0; o < l.outcomeCount; o++ {
		for _, side := range []domain.Side{domain.SideAsset, domain.SideStable} {
			i, _ := l.index(o, side)
			if l.entries[i] == 0 {
				continue
			}
			dust = append(dust, domain.DustRecord{Outcome: o, Side: side, Amount: l.entries[i]})
			l.entries[i] = 0
		}
	}
	return dust
}

// IsEmpty reports whether every cell is zero.
func (l *BalanceLedger) IsEmpty() bool {
	for _, e := range l.entries {
		if e != 0 {
			return false
		}
	}
	return true
}

// Entries snapshots the ledger into persistable rows. Zero cells are
// included so the stored shape is always exactly 2N entries.
func (l *BalanceLedger) Entries(marketID, proposalID string, now time.Time) []domain.BalanceEntry {
	out := make([]domain.BalanceEntry, 0, len(l.entries))
	for o := 0; o < l.outcomeCount; o++ {
		for _, side := range []domain.Side{domain.SideAsset, domain.SideStable} {
			out = append(out, domain.BalanceEntry{
				MarketID:   marketID,
				ProposalID: proposalID,
				Outcome:    o,
				Side:       side,
				Amount:     l.Balance(o, side),
				UpdatedAt:  now,
			})
		}
	}
	return out
}

// SettleLedger pays one holder's winning balances 1:1 out of a settled
// proposal's remaining escrow and sweeps the losing residue. The caller
// persists both the drained ledger and the decremented escrow. Settling an
// already-empty ledger is a no-op, so holders can be processed lazily and
// retried.
func SettleLedger(prop *domain.Proposal, l *BalanceLedger) (assetOut, stableOut uint64, dust []domain.DustRecord, err error) {
	if prop.State != domain.ProposalStateSettled || prop.WinningOutcome == nil {
		return 0, 0, nil, fmt.Errorf("engine: proposal %s not settled: %w", prop.ID, domain.ErrProposalNotResolved)
	}
	if l.OutcomeCount() != prop.OutcomeCount {
		return 0, 0, nil, fmt.Errorf("engine: ledger spans %d outcomes, proposal %d: %w", l.OutcomeCount(), prop.OutcomeCount, domain.ErrInvalidOutcome)
	}
	if assetOut, err = l.redeemWinning(*prop.WinningOutcome, domain.SideAsset); err != nil {
		return 0, 0, nil, err
	}
	if stableOut, err = l.redeemWinning(*prop.WinningOutcome, domain.SideStable); err != nil {
		return 0, 0, nil, err
	}
	if prop.EscrowAsset < assetOut || prop.EscrowStable < stableOut {
		return 0, 0, nil, fmt.Errorf("engine: escrow %d/%d cannot cover redemption %d/%d: %w",
			prop.EscrowAsset, prop.EscrowStable, assetOut, stableOut, domain.ErrBucketConservation)
	}
	prop.EscrowAsset -= assetOut
	prop.EscrowStable -= stableOut
	return assetOut, stableOut, l.sweepDust(), nil
}

// RestoreBalanceLedger rebuilds a ledger from stored rows. Missing cells
// restore as zero; duplicate rows for one cell are rejected.
func RestoreBalanceLedger(outcomeCount int, rows []domain.BalanceEntry) (*BalanceLedger, error) {
	l, err := NewBalanceLedger(outcomeCount)
	if err != nil {
		return nil, err
	}
	seen := make(map[int]bool, len(rows))
	for _, row := range rows {
		i, err := l.index(row.Outcome, row.Side)
		if err != nil {
			return nil, err
		}
		if seen[i] {
			return nil, fmt.Errorf("engine: duplicate ledger row outcome %d side %s: %w", row.Outcome, row.Side, domain.ErrAlreadyExists)
		}
		seen[i] = true
		l.entries[i] = row.Amount
	}
	return l, nil
}
