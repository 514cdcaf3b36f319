// Package feed bridges the ephemeral event channel onto the durable event
// stream. Pub/Sub delivery is at-most-once and only reaches live
// subscribers; the stream is the replayable record that dashboards and
// late consumers read back.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/praxismarkets/futarchyd/internal/domain"
	"github.com/praxismarkets/futarchyd/internal/service"
)

// EventFeeder copies every published venue event into the event stream.
type EventFeeder struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewEventFeeder creates an EventFeeder.
func NewEventFeeder(bus domain.SignalBus, logger *slog.Logger) *EventFeeder {
	return &EventFeeder{
		bus:    bus,
		logger: logger.With(slog.String("component", "event_feeder")),
	}
}

// Run subscribes to the events channel and appends each well-formed event
// to the stream until the context is cancelled.
func (f *EventFeeder) Run(ctx context.Context) error {
	ch, err := f.bus.Subscribe(ctx, service.EventsChannel)
	if err != nil {
		return err
	}
	f.logger.Info("event feeder started")
	defer f.logger.Info("event feeder stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			if err := f.handleMessage(ctx, data); err != nil {
				f.logger.Debug("event not appended to stream",
					slog.String("error", err.Error()),
					slog.Int("payload_len", len(data)),
				)
			}
		}
	}
}

// handleMessage validates the envelope and appends the original bytes, so
// the stream carries exactly what subscribers saw.
func (f *EventFeeder) handleMessage(ctx context.Context, data []byte) error {
	var evt domain.VenueEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	if evt.ID == "" || evt.Type == "" {
		return fmt.Errorf("event missing id or type")
	}
	return f.bus.StreamAppend(ctx, service.EventStream, data)
}
