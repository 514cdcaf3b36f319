// Package notify delivers operator alerts for the venue's governance-adjacent
// moments: a proposal resolving, a settlement completing, the arbitrage kill
// switch tripping. Alerts fan out to every configured channel; an event
// allow-list keeps routine trading noise out of operators' phones.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Sender is one delivery channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name identifies the channel in logs and joined errors.
	Name() string
}

// Pacer schedules sends against a shared budget, keyed per channel. The
// serve and crank processes notify through the same bot tokens, so the
// budget has to live outside the process.
type Pacer interface {
	Wait(ctx context.Context, key string) error
}

// Notifier fans notifications out to its senders. Notify consults the event
// allow-list; NotifyAll bypasses it and is reserved for alerts that must
// always land, like kill-switch trips.
type Notifier struct {
	senders []Sender
	allowed map[string]bool
	pace    Pacer
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. events
// names the venue event types Notify forwards; an empty list forwards
// everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// WithPacer throttles each channel through the given pacer. Telegram in
// particular bans bots that burst.
func (n *Notifier) WithPacer(p Pacer) *Notifier {
	n.pace = p
	return n
}

// Notify delivers to every sender when the event type passes the allow-list.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.allowed) > 0 && !n.allowed[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll delivers regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch sends to every channel concurrently. One slow or failing webhook
// must not delay the others, and every failure is reported, so errors are
// joined rather than short-circuited.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	results := make([]error, len(n.senders))
	for i, s := range n.senders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if n.pace != nil {
				if err := n.pace.Wait(ctx, "notify:"+s.Name()); err != nil {
					results[i] = fmt.Errorf("%s: %w", s.Name(), err)
					return
				}
			}
			if err := s.Send(ctx, title, message); err != nil {
				n.logger.ErrorContext(ctx, "sender failed",
					slog.String("sender", s.Name()),
					slog.String("error", err.Error()),
				)
				results[i] = fmt.Errorf("%s: %w", s.Name(), err)
				return
			}
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}()
	}
	wg.Wait()
	return errors.Join(results...)
}
