package engine

import (
	"fmt"
	"time"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// Params carries the per-market policy the engine enforces. Values originate
// from venue configuration or a named policy preset and are persisted on the
// market record.
type Params struct {
	LPFeeBps       uint64
	ProtocolFeeBps uint64
	// SplitRatioBps is the default quantum-split ratio; a proposal may
	// override it at open time. Must sit in (0, 10_000].
	SplitRatioBps uint64
	// MinLiquidity protects pools from draining to zero. Absolute mode is a
	// fixed reserve floor; bps mode scales the floor with the trading
	// reserves so large pools keep a proportional cushion.
	MinLiquidityMode  domain.MinLiquidityMode
	MinLiquidityValue uint64
	// CrankInterval is the minimum spacing between permissionless crank
	// invocations against one market.
	CrankInterval time.Duration
	Twap          TwapConfig
}

// DefaultParams mirror the venue-level configuration defaults.
func DefaultParams() Params {
	return Params{
		LPFeeBps:          30,
		ProtocolFeeBps:    10,
		SplitRatioBps:     8_000,
		MinLiquidityMode:  domain.MinLiquidityBps,
		MinLiquidityValue: 100, // 1% of trading reserves
		CrankInterval:     30 * time.Second,
		Twap: TwapConfig{
			UpdateInterval:       time.Minute,
			StartDelay:           3 * time.Minute,
			MaxObservationChange: 5 * PriceScale,
		},
	}
}

// Validate rejects parameter sets the engine cannot operate under.
func (p Params) Validate() error {
	if p.LPFeeBps+p.ProtocolFeeBps >= MaxBps {
		return fmt.Errorf("engine: combined fees %d bps reach 100%%", p.LPFeeBps+p.ProtocolFeeBps)
	}
	if p.SplitRatioBps == 0 || p.SplitRatioBps > MaxBps {
		return fmt.Errorf("engine: split ratio %d bps outside (0, %d]", p.SplitRatioBps, MaxBps)
	}
	switch p.MinLiquidityMode {
	case domain.MinLiquidityAbsolute:
	case domain.MinLiquidityBps:
		if p.MinLiquidityValue >= MaxBps {
			return fmt.Errorf("engine: min liquidity %d bps reaches 100%%", p.MinLiquidityValue)
		}
	default:
		return fmt.Errorf("engine: unknown min liquidity mode %q", p.MinLiquidityMode)
	}
	if p.CrankInterval < 0 {
		return fmt.Errorf("engine: negative crank interval %s", p.CrankInterval)
	}
	return nil
}

// minReserve returns the floor the given trading reserve may not drain below.
func (p Params) minReserve(tradingReserve uint64) (uint64, error) {
	switch p.MinLiquidityMode {
	case domain.MinLiquidityBps:
		return mulBps(tradingReserve, p.MinLiquidityValue)
	default:
		return p.MinLiquidityValue, nil
	}
}

// FromMarketParams lifts persisted params into engine params.
func FromMarketParams(mp domain.MarketParams, twap TwapConfig) Params {
	return Params{
		LPFeeBps:          mp.LPFeeBps,
		ProtocolFeeBps:    mp.ProtocolFeeBps,
		SplitRatioBps:     mp.SplitRatioBps,
		MinLiquidityMode:  mp.MinLiquidityMode,
		MinLiquidityValue: mp.MinLiquidityValue,
		Twap:              twap,
	}
}

// MarketParams converts back to the persisted form.
func (p Params) MarketParams() domain.MarketParams {
	return domain.MarketParams{
		LPFeeBps:          p.LPFeeBps,
		ProtocolFeeBps:    p.ProtocolFeeBps,
		SplitRatioBps:     p.SplitRatioBps,
		MinLiquidityMode:  p.MinLiquidityMode,
		MinLiquidityValue: p.MinLiquidityValue,
	}
}
