package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbscreener/internal/cache/memory"
	"github.com/alanyoungcy/arbscreener/internal/domain"
	"github.com/alanyoungcy/arbscreener/internal/symbol"
)

var t0 = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	norm, err := symbol.NewDefault()
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithClock(func() time.Time { return t0 })}, opts...)
	return New(Config{Freshness: time.Minute, Retention: 10 * time.Minute}, norm, logger, opts...)
}

func ingest(t *testing.T, e *Engine, market domain.Market, exchange, raw, price string, at time.Time) {
	t.Helper()
	_, err := e.Ingest(context.Background(), domain.QuoteUpdate{
		Market:          market,
		Exchange:        exchange,
		RawInstrumentID: raw,
		Price:           decimal.RequireFromString(price),
		Timestamp:       at,
	})
	require.NoError(t, err)
}

func TestEngine_IngestCycleQuery(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	ingest(t, e, domain.MarketSpot, "Binance", "BTCUSDT", "100", t0)
	ingest(t, e, domain.MarketSpot, "okx", "BTC-USDT", "102", t0)
	ingest(t, e, domain.MarketSpot, "okx", "ETH-USDT", "3000", t0)

	// Nothing is published before the first cycle.
	got, err := e.Query(domain.MarketSpot, domain.Filter{})
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, e.Cycle(ctx, t0))
	require.NoError(t, e.Cycle(ctx, t0.Add(5*time.Second)))

	got, err = e.Query(domain.MarketSpot, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	s := got[0]
	assert.Equal(t, "BTCUSDT", s.Symbol)
	assert.Equal(t, "BTC", s.Coin)
	assert.Equal(t, "binance", s.ExchangeA)
	assert.Equal(t, "okx", s.ExchangeB)
	assert.Equal(t, domain.DirectionLongAShortB, s.Direction)
	assert.True(t, s.DiffPercent.Equal(decimal.NewFromInt(2)), s.DiffPercent.String())
	assert.Equal(t, t0, s.FirstSeenAt)
	assert.Equal(t, 5*time.Second, s.Lifetime())
	assert.True(t, s.Active)

	// Spot quotes never feed the futures books.
	fut, err := e.Query(domain.MarketFutures, domain.Filter{})
	require.NoError(t, err)
	assert.Empty(t, fut)

	pairs, err := e.Pairs(domain.MarketSpot)
	require.NoError(t, err)
	assert.Equal(t, []string{"binance", "okx"}, pairs.Exchanges)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, pairs.Symbols)
}

func TestEngine_FuturesOpposite(t *testing.T) {
	e := newTestEngine(t)
	ingest(t, e, domain.MarketFutures, "binance", "BTCUSDT", "100", t0)
	ingest(t, e, domain.MarketFutures, "okx", "BTC-USDT-SWAP", "102", t0)
	require.NoError(t, e.Cycle(context.Background(), t0))

	single, err := e.Query(domain.MarketFutures, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, single, 1)
	assert.True(t, single[0].DiffPercent.Equal(decimal.NewFromInt(2)))

	both, err := e.Query(domain.MarketFutures, domain.Filter{Opposite: true})
	require.NoError(t, err)
	require.Len(t, both, 2)
	assert.Equal(t, domain.DirectionLongAShortB, both[0].Direction)
	assert.True(t, both[0].DiffPercent.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, domain.DirectionLongBShortA, both[1].Direction)
	assert.True(t, both[1].DiffPercent.IsNegative())
}

func TestEngine_IngestRejections(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	ingest(t, e, domain.MarketSpot, "binance", "BTCUSDT", "100", t0)

	_, err := e.Ingest(ctx, domain.QuoteUpdate{Exchange: "binance", RawInstrumentID: "BTCUSDT", Price: decimal.NewFromInt(-1)})
	require.ErrorIs(t, err, domain.ErrInvalidPrice)

	_, err = e.Ingest(ctx, domain.QuoteUpdate{Exchange: "binance", RawInstrumentID: "BTCUSDT", Price: decimal.Zero})
	require.ErrorIs(t, err, domain.ErrInvalidPrice)

	_, err = e.Ingest(ctx, domain.QuoteUpdate{Exchange: "binance", RawInstrumentID: "NOQUOTE", Price: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, domain.ErrUnrecognizedInstrument)

	_, err = e.Ingest(ctx, domain.QuoteUpdate{Market: "options", Exchange: "binance", RawInstrumentID: "BTCUSDT", Price: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, domain.ErrUnknownMode)

	// The accepted quote survives the rejected updates.
	assert.Equal(t, 1, e.Status().Quotes[domain.MarketSpot])
}

func TestEngine_IngestDefaultsTimestampToClock(t *testing.T) {
	e := newTestEngine(t)
	q, err := e.Ingest(context.Background(), domain.QuoteUpdate{
		Exchange: "bybit", RawInstrumentID: "SOLUSDT", Price: decimal.NewFromInt(150),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MarketSpot, q.Market)
	assert.Equal(t, t0, q.ObservedAt)
	assert.Equal(t, "SOLUSDT", q.Symbol)
}

func TestEngine_StaleQuotesCloseOpportunity(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	ingest(t, e, domain.MarketSpot, "binance", "BTCUSDT", "100", t0)
	ingest(t, e, domain.MarketSpot, "okx", "BTC-USDT", "102", t0)
	require.NoError(t, e.Cycle(ctx, t0))
	require.NoError(t, e.Cycle(ctx, t0.Add(30*time.Second)))

	// Both quotes are past the freshness window.
	closedAt := t0.Add(2 * time.Minute)
	require.NoError(t, e.Cycle(ctx, closedAt))

	active, err := e.Query(domain.MarketSpot, domain.Filter{})
	require.NoError(t, err)
	assert.Empty(t, active)

	inactive, err := e.Query(domain.MarketSpot, domain.Filter{Status: domain.StatusInactive})
	require.NoError(t, err)
	require.Len(t, inactive, 1)
	assert.False(t, inactive[0].Active)
	assert.Equal(t, closedAt, inactive[0].DeactivatedAt)
	assert.Equal(t, 30*time.Second, inactive[0].Lifetime())
}

func TestEngine_ClockRegression(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Cycle(ctx, t0.Add(10*time.Second)))
	err := e.Cycle(ctx, t0)
	require.ErrorIs(t, err, domain.ErrClockRegression)
	assert.Equal(t, t0.Add(10*time.Second), e.Status().LastCycleAt)
}

func TestEngine_InvalidFilterRejectedUpFront(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Query(domain.MarketSpot, domain.Filter{TopRows: -1})
	require.ErrorIs(t, err, domain.ErrInvalidFilter)

	_, err = e.Query("options", domain.Filter{})
	require.ErrorIs(t, err, domain.ErrUnknownMode)
}

func TestEngine_SinksReceiveEveryBook(t *testing.T) {
	var mu sync.Mutex
	var reports []domain.CycleReport
	failing := domain.CycleSinkFunc(func(context.Context, domain.CycleReport) error {
		return errors.New("sink down")
	})
	recorder := domain.CycleSinkFunc(func(_ context.Context, r domain.CycleReport) error {
		mu.Lock()
		defer mu.Unlock()
		reports = append(reports, r)
		return nil
	})
	e := newTestEngine(t, WithSinks(failing, recorder))

	ingest(t, e, domain.MarketSpot, "binance", "BTCUSDT", "100", t0)
	ingest(t, e, domain.MarketSpot, "okx", "BTC-USDT", "101", t0)
	// A failing sink does not fail the cycle or starve later sinks.
	require.NoError(t, e.Cycle(context.Background(), t0))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reports, len(domain.Books))
	assert.Equal(t, domain.BookSpot, reports[0].Book)
	assert.Len(t, reports[0].Opened, 1)
	assert.Equal(t, 1, reports[0].Candidates)
	assert.Empty(t, reports[1].Opened)
}

func TestBusPublisher_PublishesActiveRanked(t *testing.T) {
	bus := memory.NewSignalBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := bus.Subscribe(ctx, DiffsChannel(domain.BookSpot))
	require.NoError(t, err)

	e := newTestEngine(t, WithSinks(NewBusPublisher(bus, 1)))
	ingest(t, e, domain.MarketSpot, "binance", "BTCUSDT", "100", t0)
	ingest(t, e, domain.MarketSpot, "okx", "BTC-USDT", "101", t0)
	ingest(t, e, domain.MarketSpot, "binance", "ETHUSDT", "1000", t0)
	ingest(t, e, domain.MarketSpot, "okx", "ETH-USDT", "1050", t0)
	require.NoError(t, e.Cycle(ctx, t0))

	select {
	case msg := <-ch:
		assert.Equal(t, "diffs:spot", msg.Channel)
		var u BookUpdate
		require.NoError(t, json.Unmarshal(msg.Payload, &u))
		assert.Equal(t, domain.BookSpot, u.Book)
		assert.Equal(t, 2, u.Opened)
		require.Len(t, u.Diffs, 1)
		assert.Equal(t, "ETHUSDT", u.Diffs[0].Symbol)
		assert.Equal(t, "5", u.Diffs[0].DiffPercent)
		assert.Empty(t, u.Diffs[0].Direction)
	case <-time.After(time.Second):
		t.Fatal("no book update published")
	}
}

type fakeHistory struct {
	domain.OpportunityStore
	recs []domain.OpportunityRecord
}

func (f *fakeHistory) InsertBatch(_ context.Context, recs []domain.OpportunityRecord) error {
	f.recs = append(f.recs, recs...)
	return nil
}

func TestHistoryRecorder_RecordsClosed(t *testing.T) {
	store := &fakeHistory{}
	e := newTestEngine(t, WithSinks(NewHistoryRecorder(store)))
	ctx := context.Background()
	ingest(t, e, domain.MarketSpot, "binance", "BTCUSDT", "100", t0)
	ingest(t, e, domain.MarketSpot, "okx", "BTC-USDT", "102", t0)
	require.NoError(t, e.Cycle(ctx, t0))
	assert.Empty(t, store.recs)

	ingest(t, e, domain.MarketSpot, "okx", "BTC-USDT", "100", t0.Add(3*time.Second))
	require.NoError(t, e.Cycle(ctx, t0.Add(4*time.Second)))

	require.Len(t, store.recs, 1)
	r := store.recs[0]
	assert.Equal(t, domain.BookSpot, r.Book)
	assert.Equal(t, "BTCUSDT", r.Symbol)
	assert.Equal(t, t0, r.FirstSeenAt)
	assert.Equal(t, t0.Add(4*time.Second), r.ClosedAt)
	assert.True(t, r.PeakDiffPercent.Equal(decimal.NewFromInt(2)))
	_, err := uuid.Parse(r.ID)
	assert.NoError(t, err)
}

type fakeQuoteCache struct {
	mu     sync.Mutex
	set    []domain.Quote
	quotes map[domain.Market][]domain.Quote
}

func (f *fakeQuoteCache) SetQuote(_ context.Context, q domain.Quote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set = append(f.set, q)
	return nil
}

func (f *fakeQuoteCache) ListQuotes(_ context.Context, m domain.Market) ([]domain.Quote, error) {
	return f.quotes[m], nil
}

func TestEngine_MirrorAndWarm(t *testing.T) {
	mirror := &fakeQuoteCache{}
	e := newTestEngine(t, WithMirror(mirror))
	ingest(t, e, domain.MarketSpot, "binance", "BTCUSDT", "100", t0)
	require.Len(t, mirror.set, 1)
	assert.Equal(t, "BTCUSDT", mirror.set[0].Symbol)

	cache := &fakeQuoteCache{quotes: map[domain.Market][]domain.Quote{
		domain.MarketSpot: {
			mirror.set[0],
			{Market: domain.MarketSpot, Exchange: "okx", RawInstrumentID: "BTC-USDT", Symbol: "BTCUSDT", Coin: "BTC",
				Price: decimal.NewFromInt(101), ObservedAt: t0.Add(-10 * time.Second)},
			{Market: domain.MarketSpot, Exchange: "gate", RawInstrumentID: "BTC_USDT", Symbol: "BTCUSDT", Coin: "BTC",
				Price: decimal.NewFromInt(90), ObservedAt: t0.Add(-5 * time.Minute)},
		},
	}}
	restarted := newTestEngine(t)
	n, err := restarted.Warm(context.Background(), cache)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, restarted.Status().Quotes[domain.MarketSpot])
	assert.Equal(t, 0, restarted.Status().Quotes[domain.MarketFutures])
}

func TestEngine_RunStopsOnCancel(t *testing.T) {
	var cycles atomic.Int32
	counter := domain.CycleSinkFunc(func(_ context.Context, r domain.CycleReport) error {
		if r.Book == domain.BookSpot {
			cycles.Add(1)
		}
		return nil
	})
	norm, err := symbol.NewDefault()
	require.NoError(t, err)
	e := New(Config{RecomputeInterval: 10 * time.Millisecond, Freshness: time.Minute},
		norm, slog.New(slog.NewTextHandler(io.Discard, nil)), WithSinks(counter))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	assert.Eventually(t, func() bool { return cycles.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestEngine_Status(t *testing.T) {
	e := newTestEngine(t)
	ingest(t, e, domain.MarketSpot, "binance", "BTCUSDT", "100", t0)
	ingest(t, e, domain.MarketSpot, "okx", "BTC-USDT", "102", t0)
	ingest(t, e, domain.MarketFutures, "binance", "BTCUSDT", "100", t0)
	require.NoError(t, e.Cycle(context.Background(), t0))

	st := e.Status()
	assert.Equal(t, t0, st.LastCycleAt)
	assert.Equal(t, 2, st.Quotes[domain.MarketSpot])
	assert.Equal(t, 1, st.Quotes[domain.MarketFutures])
	assert.Equal(t, 1, st.Active[domain.BookSpot])
	assert.Equal(t, 0, st.Active[domain.BookFutures])
	assert.Equal(t, DefaultInterval.String(), st.Interval)
}

func TestEngine_FutureTimestampClampedToClock(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	q, err := e.Ingest(ctx, domain.QuoteUpdate{
		Exchange: "binance", RawInstrumentID: "BTCUSDT", Price: decimal.NewFromInt(100),
		Timestamp: t0.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, t0, q.ObservedAt)
	ingest(t, e, domain.MarketSpot, "okx", "BTC-USDT", "102", t0)

	require.NoError(t, e.Cycle(ctx, t0))
	active, err := e.Query(domain.MarketSpot, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, active, 1)

	// The skewed quote ages out with the rest once past the freshness window.
	require.NoError(t, e.Cycle(ctx, t0.Add(2*time.Minute)))
	active, err = e.Query(domain.MarketSpot, domain.Filter{})
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestEngine_StatusListsRuleExchanges(t *testing.T) {
	st := newTestEngine(t).Status()
	assert.Contains(t, st.Exchanges, "binance")
	assert.Contains(t, st.Exchanges, "kucoin")
	assert.IsIncreasing(t, st.Exchanges)
}
