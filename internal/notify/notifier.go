// Package notify delivers vault alerts to operator channels (Discord,
// Telegram). Alerts can be filtered by event type and are de-duplicated
// within a configurable window.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Event types raised by the vault monitor.
const (
	EventVaultLiquidated = "vault_liquidated"
	EventVaultRebalanced = "vault_rebalanced"
	EventOperationFailed = "operation_failed"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches alerts to every registered Sender.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	dedup   *Dedup
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. Only events listed in events are
// forwarded; an empty list allows all. Identical alerts within dedupWindow
// are dropped.
func NewNotifier(senders []Sender, events []string, dedupWindow time.Duration, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		dedup:   NewDedup(dedupWindow),
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether at least one sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Notify sends an alert if event passes the filter and the same alert was
// not sent within the dedup window.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	if n.dedup.IsDuplicate(event + "\x00" + title + "\x00" + message) {
		n.logger.DebugContext(ctx, "duplicate alert suppressed", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// dispatch delivers to every sender; one failing sender does not stop the
// rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
