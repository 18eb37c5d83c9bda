// Package feed connects external quote producers to the engine.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/arbscreener/internal/domain"
)

// DefaultChannel is the bus channel quote producers publish to.
const DefaultChannel = "quotes"

// Ingester accepts raw quote updates.
type Ingester interface {
	Ingest(ctx context.Context, u domain.QuoteUpdate) (domain.Quote, error)
}

// QuoteFeed subscribes to a bus channel and feeds every decoded update into
// the engine. A message carries either one update object or an array of them.
type QuoteFeed struct {
	bus     domain.SignalBus
	channel string
	engine  Ingester
	logger  *slog.Logger
}

// NewQuoteFeed creates a QuoteFeed. An empty channel selects DefaultChannel.
func NewQuoteFeed(bus domain.SignalBus, channel string, engine Ingester, logger *slog.Logger) *QuoteFeed {
	if channel == "" {
		channel = DefaultChannel
	}
	return &QuoteFeed{
		bus:     bus,
		channel: channel,
		engine:  engine,
		logger:  logger.With(slog.String("component", "quote_feed")),
	}
}

// Run consumes messages until ctx is cancelled or the subscription closes.
func (f *QuoteFeed) Run(ctx context.Context) error {
	ch, err := f.bus.Subscribe(ctx, f.channel)
	if err != nil {
		return fmt.Errorf("feed: subscribe %s: %w", f.channel, err)
	}
	f.logger.Info("quote feed started", slog.String("channel", f.channel))
	defer f.logger.Info("quote feed stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := f.handleMessage(ctx, msg.Payload); err != nil {
				f.logger.Debug("quote feed handle message failed",
					slog.String("error", err.Error()),
					slog.Int("payload_len", len(msg.Payload)),
				)
			}
		}
	}
}

func (f *QuoteFeed) handleMessage(ctx context.Context, data []byte) error {
	updates, err := decodeUpdates(data)
	if err != nil {
		return err
	}
	// Rejections are already logged by the engine; keep going so one bad
	// row does not drop the rest of a batch.
	var errs []error
	for _, u := range updates {
		if _, err := f.engine.Ingest(ctx, u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func decodeUpdates(data []byte) ([]domain.QuoteUpdate, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("feed: empty payload")
	}
	if data[0] == '[' {
		var batch []domain.QuoteUpdate
		if err := json.Unmarshal(data, &batch); err != nil {
			return nil, fmt.Errorf("feed: decode batch: %w", err)
		}
		return batch, nil
	}
	var u domain.QuoteUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("feed: decode update: %w", err)
	}
	return []domain.QuoteUpdate{u}, nil
}
