package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// MarketCounter reports how many markets the venue carries.
type MarketCounter interface {
	CountMarkets(ctx context.Context) (int64, error)
}

// ArbStatus exposes the arbitrage engine's kill-switch state.
type ArbStatus interface {
	Tripped() bool
	Shortfall() uint64
}

// StatusHandler serves the venue status for the dashboard.
type StatusHandler struct {
	mode      string
	strategy  string
	startedAt time.Time
	markets   MarketCounter
	arb       ArbStatus // optional; nil when arbitrage is disabled
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler reporting the given runtime
// identity.
func NewStatusHandler(mode, strategy string, startedAt time.Time, markets MarketCounter, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		strategy:  strategy,
		startedAt: startedAt,
		markets:   markets,
		logger:    logHandler(logger, "status"),
	}
}

// WithArb adds kill-switch reporting to the status endpoint.
func (h *StatusHandler) WithArb(arb ArbStatus) *StatusHandler {
	h.arb = arb
	return h
}

// GetStatus responds with the venue mode, uptime, market count, and the
// arbitrage engine state.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":           h.mode,
		"started_at":     h.startedAt.UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}

	if h.markets != nil {
		count, err := h.markets.CountMarkets(r.Context())
		if err != nil {
			h.logger.WarnContext(r.Context(), "handler: market count unavailable",
				slog.String("error", err.Error()),
			)
		} else {
			resp["markets"] = count
		}
	}

	arb := map[string]any{"enabled": h.arb != nil}
	if h.arb != nil {
		arb["strategy"] = h.strategy
		arb["tripped"] = h.arb.Tripped()
		arb["shortfall"] = h.arb.Shortfall()
	}
	resp["arbitrage"] = arb

	writeJSON(w, http.StatusOK, resp)
}
