package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbscreener/internal/domain"
	"github.com/alanyoungcy/arbscreener/internal/engine"
)

const (
	// AlertsChannel carries one message per alerted opportunity.
	AlertsChannel = "alerts"
	// AlertsStream keeps recent alerts for late subscribers.
	AlertsStream = "alerts:log"
)

// Alert is the payload published for a newly opened opportunity.
type Alert struct {
	Book domain.Book     `json:"book"`
	At   time.Time       `json:"at"`
	Diff engine.DiffView `json:"diff"`
}

// AlertSink raises an alert for every opportunity opened in a cycle whose
// diff magnitude reaches the configured minimum.
type AlertSink struct {
	min      decimal.Decimal
	bus      domain.SignalBus
	log      domain.StreamLog
	notifier *Notifier
	logger   *slog.Logger
}

var _ domain.CycleSink = (*AlertSink)(nil)

// NewAlertSink creates an AlertSink. bus, log and notifier are each optional.
func NewAlertSink(min decimal.Decimal, bus domain.SignalBus, log domain.StreamLog, notifier *Notifier, logger *slog.Logger) *AlertSink {
	return &AlertSink{
		min:      min.Abs(),
		bus:      bus,
		log:      log,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "alerts")),
	}
}

// Select returns the opened snapshots that warrant an alert.
func (s *AlertSink) Select(opened []domain.OpportunitySnapshot) []domain.OpportunitySnapshot {
	var out []domain.OpportunitySnapshot
	for _, o := range opened {
		if o.DiffPercent.Abs().GreaterThanOrEqual(s.min) {
			out = append(out, o)
		}
	}
	return out
}

// HandleCycle implements domain.CycleSink.
func (s *AlertSink) HandleCycle(ctx context.Context, r domain.CycleReport) error {
	var errs []error
	for _, o := range s.Select(r.Opened) {
		a := Alert{Book: r.Book, At: r.At, Diff: engine.NewDiffView(o, r.Book.Opposite())}
		payload, err := json.Marshal(a)
		if err != nil {
			errs = append(errs, fmt.Errorf("notify: marshal alert: %w", err))
			continue
		}
		if s.bus != nil {
			if err := s.bus.Publish(ctx, AlertsChannel, payload); err != nil {
				errs = append(errs, fmt.Errorf("notify: publish alert: %w", err))
			}
		}
		if s.log != nil {
			if err := s.log.StreamAppend(ctx, AlertsStream, payload); err != nil {
				errs = append(errs, fmt.Errorf("notify: append alert: %w", err))
			}
		}
		if s.notifier != nil && s.notifier.Enabled() {
			if err := s.notifier.Notify(ctx, EventOpened, Title(a), Message(a)); err != nil {
				errs = append(errs, err)
			}
		}
		s.logger.InfoContext(ctx, "alerts: opportunity opened",
			slog.String("book", string(r.Book)),
			slog.String("symbol", o.Symbol),
			slog.String("exchange_a", o.ExchangeA),
			slog.String("exchange_b", o.ExchangeB),
			slog.String("diff_percent", o.DiffPercent.String()),
		)
	}
	return errors.Join(errs...)
}

// Title renders the notification headline for a.
func Title(a Alert) string {
	return fmt.Sprintf("%s %s %s%%", a.Diff.Symbol, a.Book, a.Diff.DiffPercent)
}

// Message renders the notification body for a.
func Message(a Alert) string {
	msg := fmt.Sprintf("%s %s / %s %s", a.Diff.ExchangeA, a.Diff.PriceA, a.Diff.ExchangeB, a.Diff.PriceB)
	if a.Diff.Direction != "" {
		msg += "\ndirection: " + string(a.Diff.Direction)
	}
	return msg + "\nat: " + a.At.UTC().Format(time.RFC3339)
}
