// Package engine owns the Quote Stores and opportunity books and drives the
// periodic recomputation that keeps them reconciled.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/arbscreener/internal/diff"
	"github.com/alanyoungcy/arbscreener/internal/domain"
	"github.com/alanyoungcy/arbscreener/internal/lifetime"
	"github.com/alanyoungcy/arbscreener/internal/metrics"
	"github.com/alanyoungcy/arbscreener/internal/query"
	"github.com/alanyoungcy/arbscreener/internal/quote"
	"github.com/alanyoungcy/arbscreener/internal/symbol"
)

// DefaultInterval is the recomputation interval used when none is configured.
const DefaultInterval = 2 * time.Second

// Config holds the engine tunables.
type Config struct {
	RecomputeInterval time.Duration
	Freshness         time.Duration
	Retention         time.Duration
	// Floors holds the qualification floor per book; missing books use zero.
	Floors map[domain.Book]decimal.Decimal
}

// Option configures optional collaborators of an Engine.
type Option func(*Engine)

// WithSinks registers cycle sinks, called in order after every cycle.
func WithSinks(sinks ...domain.CycleSink) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, sinks...) }
}

// WithMirror mirrors every accepted quote to cache.
func WithMirror(cache domain.QuoteCache) Option {
	return func(e *Engine) { e.mirror = cache }
}

// WithClock overrides the clock used by Run and by Ingest for updates without
// a timestamp.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// state is the reconciled view published to readers after each cycle. It is
// never mutated once stored.
type state struct {
	at    time.Time
	books map[domain.Book]bookState
}

type bookState struct {
	snapshots  []domain.OpportunitySnapshot
	candidates int
	active     int
}

// Engine ties the Symbol Normalizer, one Quote Store per market and one
// Lifetime Tracker per book together. Ingest and Query are safe for concurrent
// use; Cycle calls are serialized.
type Engine struct {
	cfg        Config
	normalizer *symbol.Normalizer
	stores     map[domain.Market]*quote.Store
	trackers   map[domain.Book]*lifetime.Tracker
	sinks      []domain.CycleSink
	mirror     domain.QuoteCache
	now        func() time.Time
	logger     *slog.Logger

	cycleMu   sync.Mutex
	lastCycle time.Time
	published atomic.Pointer[state]

	unrecognized sync.Map // "market|exchange|raw" -> struct{}
	invalidLog   sync.Map // exchange -> *rate.Sometimes
}

// New creates an engine with empty stores and books.
func New(cfg Config, normalizer *symbol.Normalizer, logger *slog.Logger, opts ...Option) *Engine {
	if cfg.RecomputeInterval <= 0 {
		cfg.RecomputeInterval = DefaultInterval
	}
	e := &Engine{
		cfg:        cfg,
		normalizer: normalizer,
		stores:     make(map[domain.Market]*quote.Store, len(domain.Markets)),
		trackers:   make(map[domain.Book]*lifetime.Tracker, len(domain.Books)),
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger.With(slog.String("component", "engine")),
	}
	for _, m := range domain.Markets {
		e.stores[m] = quote.NewStore(m, cfg.Freshness)
	}
	for _, b := range domain.Books {
		e.trackers[b] = lifetime.NewTracker(lifetime.Options{
			Floor:     cfg.Floors[b],
			Absolute:  b.Opposite(),
			Retention: cfg.Retention,
		})
	}
	for _, opt := range opts {
		opt(e)
	}

	empty := &state{books: make(map[domain.Book]bookState, len(domain.Books))}
	for _, b := range domain.Books {
		empty.books[b] = bookState{}
	}
	e.published.Store(empty)
	return e
}

// Ingest validates, normalizes and stores one quote update. Rejected updates
// leave any previous quote untouched and return domain.ErrInvalidPrice or
// domain.ErrUnrecognizedInstrument.
func (e *Engine) Ingest(ctx context.Context, u domain.QuoteUpdate) (domain.Quote, error) {
	market := u.Market
	if market == "" {
		market = domain.MarketSpot
	}
	store, ok := e.stores[market]
	if !ok {
		return domain.Quote{}, fmt.Errorf("engine: ingest: %w: market %q", domain.ErrUnknownMode, u.Market)
	}
	exchange := domain.NormalizeExchange(u.Exchange)

	if !u.Price.IsPositive() {
		metrics.QuoteRejected(string(market), exchange, "invalid_price")
		e.logInvalidPrice(ctx, market, exchange, u)
		return domain.Quote{}, fmt.Errorf("engine: ingest %s/%s: %w: %s", exchange, u.RawInstrumentID, domain.ErrInvalidPrice, u.Price)
	}

	inst, err := e.normalizer.Normalize(market, exchange, u.RawInstrumentID)
	if err != nil {
		metrics.QuoteRejected(string(market), exchange, "unrecognized_instrument")
		e.logUnrecognized(ctx, market, exchange, u.RawInstrumentID, err)
		return domain.Quote{}, fmt.Errorf("engine: ingest: %w", err)
	}

	// Timestamps ahead of the engine clock are clamped to it.
	now := e.now()
	observed := u.Timestamp
	if observed.IsZero() || observed.After(now) {
		observed = now
	}
	q := domain.Quote{
		Market:          market,
		Exchange:        exchange,
		RawInstrumentID: u.RawInstrumentID,
		Symbol:          inst.Symbol,
		Coin:            inst.Base,
		Price:           u.Price,
		ObservedAt:      observed.UTC(),
	}
	if err := store.Upsert(q); err != nil {
		return domain.Quote{}, fmt.Errorf("engine: ingest: %w", err)
	}
	metrics.QuoteIngested(string(market), exchange)

	if e.mirror != nil {
		if err := e.mirror.SetQuote(ctx, q); err != nil {
			e.logger.WarnContext(ctx, "engine: quote mirror failed",
				slog.String("exchange", exchange),
				slog.String("instrument", q.RawInstrumentID),
				slog.String("error", err.Error()),
			)
		}
	}
	return q, nil
}

// Warm loads still-fresh quotes from cache into the stores, typically right
// after a restart. It returns the number of quotes loaded.
func (e *Engine) Warm(ctx context.Context, cache domain.QuoteCache) (int, error) {
	now := e.now()
	loaded := 0
	for _, m := range domain.Markets {
		quotes, err := cache.ListQuotes(ctx, m)
		if err != nil {
			return loaded, fmt.Errorf("engine: warm %s: %w", m, err)
		}
		store := e.stores[m]
		cutoff := now.Add(-store.Freshness())
		for _, q := range quotes {
			if q.ObservedAt.Before(cutoff) || q.Symbol == "" {
				continue
			}
			if err := store.Upsert(q); err != nil {
				continue
			}
			loaded++
		}
	}
	e.logger.InfoContext(ctx, "engine: warm start", slog.Int("quotes", loaded))
	return loaded, nil
}

// Cycle runs one recomputation at now: it snapshots every Quote Store,
// computes candidates, reconciles every book and publishes the result
// atomically before notifying sinks. A now earlier than the previous cycle
// fails with domain.ErrClockRegression without changing any book.
func (e *Engine) Cycle(ctx context.Context, now time.Time) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	start := time.Now()
	reports, err := e.reconcile(now)
	metrics.RecordCycle(time.Since(start), err)
	if err != nil {
		return err
	}

	// Sinks run on a context that survives shutdown so the last cycle is
	// delivered in full.
	sinkCtx := context.WithoutCancel(ctx)
	published := e.published.Load()
	for _, r := range reports {
		metrics.RecordBook(string(r.Book), r.Candidates, published.books[r.Book].active, len(r.Opened), len(r.Closed))
		for _, s := range e.sinks {
			if err := s.HandleCycle(sinkCtx, r); err != nil {
				e.logger.WarnContext(ctx, "engine: cycle sink failed",
					slog.String("book", string(r.Book)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	return nil
}

func (e *Engine) reconcile(now time.Time) ([]domain.CycleReport, error) {
	if !e.lastCycle.IsZero() && now.Before(e.lastCycle) {
		return nil, fmt.Errorf("engine: cycle at %s: %w", now.Format(time.RFC3339Nano), domain.ErrClockRegression)
	}

	snapshots := make(map[domain.Market][]domain.Quote, len(e.stores))
	for m, s := range e.stores {
		snapshots[m] = s.Snapshot(now)
		metrics.QuotesStored(string(m), s.Len())
	}

	next := &state{at: now, books: make(map[domain.Book]bookState, len(domain.Books))}
	reports := make([]domain.CycleReport, 0, len(domain.Books))
	for _, b := range domain.Books {
		cands := diff.Compute(snapshots[b.Market()], diff.Options{Opposite: b.Opposite()})
		res, err := e.trackers[b].Reconcile(cands, now)
		if err != nil {
			return nil, fmt.Errorf("engine: reconcile %s: %w", b, err)
		}
		next.books[b] = bookState{
			snapshots:  res.Snapshots,
			candidates: len(cands),
			active:     len(res.Active()),
		}
		reports = append(reports, domain.CycleReport{
			Book:       b,
			At:         now,
			Candidates: len(cands),
			Snapshots:  res.Snapshots,
			Opened:     res.Opened,
			Closed:     res.Closed,
		})
	}

	e.published.Store(next)
	e.lastCycle = now
	return reports, nil
}

// Run recomputes on every tick until ctx is cancelled. A cycle in progress
// when ctx is cancelled completes; no new cycle starts afterwards.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.RecomputeInterval)
	defer ticker.Stop()

	e.logger.InfoContext(ctx, "engine: started", slog.Duration("interval", e.cfg.RecomputeInterval))
	defer e.logger.Info("engine: stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := e.Cycle(ctx, e.now()); err != nil {
			if !errors.Is(err, domain.ErrClockRegression) {
				return err
			}
			e.logger.WarnContext(ctx, "engine: cycle skipped", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Query filters and ranks the latest published snapshot of the book serving
// market and f.Opposite. The filter is validated before any scan.
func (e *Engine) Query(market domain.Market, f domain.Filter) ([]domain.OpportunitySnapshot, error) {
	if _, ok := e.stores[market]; !ok {
		return nil, fmt.Errorf("engine: query: %w: %q", domain.ErrUnknownMode, market)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	book := domain.BookFor(market, f.Opposite)
	return query.Apply(e.published.Load().books[book].snapshots, f), nil
}

// Pairs returns the exchanges, symbols and coins currently quoted in market.
func (e *Engine) Pairs(market domain.Market) (domain.PairSet, error) {
	s, ok := e.stores[market]
	if !ok {
		return domain.PairSet{}, fmt.Errorf("engine: pairs: %w: %q", domain.ErrUnknownMode, market)
	}
	return s.Pairs(), nil
}

// Status summarises the engine for health and status endpoints.
type Status struct {
	LastCycleAt time.Time             `json:"last_cycle_at"`
	Quotes      map[domain.Market]int `json:"quotes"`
	Active      map[domain.Book]int   `json:"active"`
	Retained    map[domain.Book]int   `json:"retained"`
	Candidates  map[domain.Book]int   `json:"candidates"`
	Interval    string                `json:"recompute_interval"`
	// Exchanges lists the exchanges with a registered normalization rule.
	Exchanges   []string              `json:"exchanges"`
}

// Status returns a point-in-time summary.
func (e *Engine) Status() Status {
	st := e.published.Load()
	out := Status{
		LastCycleAt: st.at,
		Quotes:      make(map[domain.Market]int, len(e.stores)),
		Active:      make(map[domain.Book]int, len(st.books)),
		Retained:    make(map[domain.Book]int, len(st.books)),
		Candidates:  make(map[domain.Book]int, len(st.books)),
		Interval:    e.cfg.RecomputeInterval.String(),
		Exchanges:   e.normalizer.Exchanges(),
	}
	for m, s := range e.stores {
		out.Quotes[m] = s.Len()
	}
	for b, bs := range st.books {
		out.Active[b] = bs.active
		out.Retained[b] = len(bs.snapshots)
		out.Candidates[b] = bs.candidates
	}
	return out
}

func (e *Engine) logUnrecognized(ctx context.Context, market domain.Market, exchange, raw string, err error) {
	key := string(market) + "|" + exchange + "|" + raw
	if _, seen := e.unrecognized.LoadOrStore(key, struct{}{}); seen {
		return
	}
	e.logger.WarnContext(ctx, "engine: unrecognized instrument dropped",
		slog.String("market", string(market)),
		slog.String("exchange", exchange),
		slog.String("instrument", raw),
		slog.String("error", err.Error()),
	)
}

func (e *Engine) logInvalidPrice(ctx context.Context, market domain.Market, exchange string, u domain.QuoteUpdate) {
	v, _ := e.invalidLog.LoadOrStore(exchange, &rate.Sometimes{Interval: time.Minute})
	v.(*rate.Sometimes).Do(func() {
		e.logger.WarnContext(ctx, "engine: invalid price dropped",
			slog.String("market", string(market)),
			slog.String("exchange", exchange),
			slog.String("instrument", u.RawInstrumentID),
			slog.String("price", u.Price.String()),
		)
	})
}
