package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbscreener/internal/domain"
	"github.com/alanyoungcy/arbscreener/internal/query"
)

// DiffsChannel returns the bus channel on which a book's snapshots are
// broadcast after every cycle.
func DiffsChannel(b domain.Book) string {
	return "diffs:" + string(b)
}

// DiffsPattern matches every DiffsChannel.
const DiffsPattern = "diffs:*"

// BookUpdate is the payload published on DiffsChannel.
type BookUpdate struct {
	Book   domain.Book `json:"book"`
	At     time.Time   `json:"at"`
	Count  int         `json:"count"`
	Opened int         `json:"opened"`
	Closed int         `json:"closed"`
	Diffs  []DiffView  `json:"diffs"`
}

// BusPublisher broadcasts the active, ranked opportunities of each book.
type BusPublisher struct {
	bus     domain.SignalBus
	maxRows int
}

var _ domain.CycleSink = (*BusPublisher)(nil)

// NewBusPublisher creates a BusPublisher. maxRows bounds each message; zero
// publishes every active opportunity.
func NewBusPublisher(bus domain.SignalBus, maxRows int) *BusPublisher {
	return &BusPublisher{bus: bus, maxRows: maxRows}
}

// HandleCycle implements domain.CycleSink.
func (p *BusPublisher) HandleCycle(ctx context.Context, r domain.CycleReport) error {
	ranked := query.Apply(r.Snapshots, domain.Filter{Status: domain.StatusActive, TopRows: p.maxRows})
	payload, err := json.Marshal(BookUpdate{
		Book:   r.Book,
		At:     r.At,
		Count:  len(ranked),
		Opened: len(r.Opened),
		Closed: len(r.Closed),
		Diffs:  NewDiffViews(ranked, r.Book.Opposite()),
	})
	if err != nil {
		return fmt.Errorf("engine: marshal book update: %w", err)
	}
	if err := p.bus.Publish(ctx, DiffsChannel(r.Book), payload); err != nil {
		return fmt.Errorf("engine: publish %s: %w", r.Book, err)
	}
	return nil
}

// HistoryRecorder appends every closed opportunity to the history store.
type HistoryRecorder struct {
	store domain.OpportunityStore
}

var _ domain.CycleSink = (*HistoryRecorder)(nil)

// NewHistoryRecorder creates a HistoryRecorder.
func NewHistoryRecorder(store domain.OpportunityStore) *HistoryRecorder {
	return &HistoryRecorder{store: store}
}

// HandleCycle implements domain.CycleSink.
func (h *HistoryRecorder) HandleCycle(ctx context.Context, r domain.CycleReport) error {
	if len(r.Closed) == 0 {
		return nil
	}
	recs := make([]domain.OpportunityRecord, 0, len(r.Closed))
	for _, s := range r.Closed {
		recs = append(recs, NewRecord(r.Book, s))
	}
	if err := h.store.InsertBatch(ctx, recs); err != nil {
		return fmt.Errorf("engine: record history %s: %w", r.Book, err)
	}
	return nil
}

// NewRecord converts a closed snapshot into a history record with a fresh ID.
func NewRecord(b domain.Book, s domain.OpportunitySnapshot) domain.OpportunityRecord {
	return domain.OpportunityRecord{
		ID:              uuid.NewString(),
		Book:            b,
		Symbol:          s.Symbol,
		Coin:            s.Coin,
		ExchangeA:       s.ExchangeA,
		ExchangeB:       s.ExchangeB,
		Direction:       s.Direction,
		PriceA:          s.PriceA,
		PriceB:          s.PriceB,
		LastDiffPercent: s.DiffPercent,
		PeakDiffPercent: s.PeakDiffPercent,
		FirstSeenAt:     s.FirstSeenAt,
		LastSeenAt:      s.LastSeenAt,
		ClosedAt:        s.DeactivatedAt,
	}
}
