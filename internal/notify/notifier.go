// Package notify delivers alerts to every configured channel (Telegram,
// Discord), optionally filtered by event so operators receive only the
// alerts they care about.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/optionbot/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, alert domain.Alert) error
	// Name identifies the sender in logs, e.g. "telegram".
	Name() string
}

// Notifier dispatches alerts to every Sender. Notify forwards only events in
// the allowed set; an empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for the given senders and allowed events.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends alert when event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event string, alert domain.Alert) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, alert)
}

// NotifyAll sends alert regardless of the event filter.
func (n *Notifier) NotifyAll(ctx context.Context, alert domain.Alert) error {
	return n.dispatch(ctx, alert)
}

// dispatch tries every sender; one failure does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, alert domain.Alert) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, alert); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", alert.Title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

var _ domain.AlertNotifier = (*Notifier)(nil)
