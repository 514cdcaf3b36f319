// Package arbitrage turns price ticks into sized arbitrage opportunities.
// A strategy decides when a market deserves the exact cycle sizing search;
// the detector runs the selected strategy on the prices channel and queues
// whatever it finds for the executor.
package arbitrage

import (
	"context"
	"errors"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// Strategy consumes one price tick and returns zero or more sized
// opportunities ready for the executor queue.
type Strategy interface {
	Name() string
	Detect(ctx context.Context, tick domain.PricePoint) ([]domain.ArbOpportunity, error)
}

// Sizer runs the exact cycle sizing search on one market's live pools.
// Implemented by the arbitrage service.
type Sizer interface {
	Detect(ctx context.Context, marketID string) (domain.ArbOpportunity, error)
}

// Recorder queues sized opportunities for the executor. Implemented by the
// arbitrage service.
type Recorder interface {
	RecordOpportunity(ctx context.Context, opp domain.ArbOpportunity) error
}

// benign reports whether a sizing failure is an expected market condition
// rather than a fault: no edge, no proposal, a halted or vanished market.
func benign(err error) bool {
	return errors.Is(err, domain.ErrNoProfitableCycle) ||
		errors.Is(err, domain.ErrNoOpenProposal) ||
		errors.Is(err, domain.ErrMarketHalted) ||
		errors.Is(err, domain.ErrNotFound)
}
