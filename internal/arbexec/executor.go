// Package arbexec consumes queued arbitrage opportunities and drives them
// through the venue. The detector sizes and queues; this side owns the
// execution policy: staleness, profit and input ceilings, per-market
// cooldown, and the kill switch drain.
package arbexec

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/praxismarkets/futarchyd/internal/domain"
	"github.com/praxismarkets/futarchyd/internal/service"
)

// CycleRunner is the slice of the arbitrage service the executor drives.
type CycleRunner interface {
	Execute(ctx context.Context, opp domain.ArbOpportunity) (domain.ArbExecution, error)
	Tripped() bool
}

// Config tunes the consumer loop.
type Config struct {
	// MinProfit re-checks the detector's floor at execution time. Queued
	// sizing can go stale between append and consume.
	MinProfit uint64
	// MaxInput caps the cycle input the executor will commit. Zero means
	// no cap.
	MaxInput uint64
	// Cooldown is the per-market floor between executions.
	Cooldown time.Duration
	// MaxAge drops opportunities detected too long ago. The stream is
	// capped, not trimmed on read, so a restarted executor replays old
	// entries from the beginning.
	MaxAge time.Duration
	// PollInterval paces the stream reads.
	PollInterval time.Duration
	// BatchSize bounds entries per read.
	BatchSize int
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 5 * time.Minute
	}
}

const sweepInterval = 30 * time.Second

// Executor tails the opportunity stream and executes entries that pass its
// gates. One executor per process; the stream cursor lives in memory.
type Executor struct {
	cfg      Config
	runner   CycleRunner
	bus      domain.SignalBus
	cooldown *Cooldown
	lastID   string
	logger   *slog.Logger
}

// New creates an Executor. The cursor starts at the beginning of the
// stream; MaxAge keeps replayed history from re-executing.
func New(cfg Config, runner CycleRunner, bus domain.SignalBus, logger *slog.Logger) *Executor {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		cfg:      cfg,
		runner:   runner,
		bus:      bus,
		cooldown: NewCooldown(cfg.Cooldown),
		lastID:   "0",
		logger:   logger.With("component", "arb_executor"),
	}
}

// Run consumes the stream until the context is cancelled.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "arb executor started",
		"min_profit", e.cfg.MinProfit,
		"cooldown", e.cfg.Cooldown.String(),
	)
	defer e.logger.Info("arb executor stopped")

	poll := time.NewTicker(e.cfg.PollInterval)
	defer poll.Stop()
	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-poll.C:
			e.drain(ctx)
		case <-sweep.C:
			e.cooldown.Sweep()
		}
	}
}

// drain reads the stream until it is empty. The cursor advances past every
// entry it sees, gated or not; an opportunity is consumed exactly once.
func (e *Executor) drain(ctx context.Context) {
	for {
		msgs, err := e.bus.StreamRead(ctx, service.ArbStream, e.lastID, e.cfg.BatchSize)
		if err != nil {
			e.logger.WarnContext(ctx, "arb executor: stream read failed", "error", err)
			return
		}
		if len(msgs) == 0 {
			return
		}
		for _, msg := range msgs {
			e.lastID = msg.ID
			e.handle(ctx, msg.Payload)
		}
		if len(msgs) < e.cfg.BatchSize {
			return
		}
	}
}

func (e *Executor) handle(ctx context.Context, payload []byte) {
	var opp domain.ArbOpportunity
	if err := json.Unmarshal(payload, &opp); err != nil {
		e.logger.WarnContext(ctx, "arb executor: bad stream payload", "error", err)
		return
	}
	if opp.ID == "" || opp.MarketID == "" {
		return
	}

	log := e.logger.With("opportunity_id", opp.ID, "market_id", opp.MarketID)

	if e.runner.Tripped() {
		log.DebugContext(ctx, "kill switch tripped, draining without executing")
		return
	}
	if age := time.Since(opp.DetectedAt); age > e.cfg.MaxAge {
		log.DebugContext(ctx, "opportunity too old", "age", age.String())
		return
	}
	if opp.ExpectedProfit < e.cfg.MinProfit {
		log.DebugContext(ctx, "below profit floor", "expected_profit", opp.ExpectedProfit)
		return
	}
	if e.cfg.MaxInput > 0 && opp.InputAmount > e.cfg.MaxInput {
		log.WarnContext(ctx, "sized above input ceiling",
			"input_amount", opp.InputAmount,
			"max_input", e.cfg.MaxInput,
		)
		return
	}
	if !e.cooldown.Ready(opp.MarketID) {
		log.DebugContext(ctx, "market in cooldown")
		return
	}

	exec, err := e.runner.Execute(ctx, opp)
	if err != nil {
		if errors.Is(err, domain.ErrNoOpenProposal) || errors.Is(err, domain.ErrMarketHalted) {
			log.DebugContext(ctx, "market no longer executable", "error", err)
			return
		}
		log.WarnContext(ctx, "arb execution failed", "error", err)
		return
	}
	switch exec.Status {
	case domain.ArbExecCommitted:
		log.InfoContext(ctx, "arb cycle committed",
			"execution_id", exec.ID,
			"profit", exec.Profit,
		)
	case domain.ArbExecRejected:
		log.DebugContext(ctx, "arb cycle rejected", "reason", exec.Reason)
	}
}
