// Package quote holds the latest known price per (exchange, instrument) for a
// single market.
package quote

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/arbscreener/internal/domain"
)

// DefaultFreshness is the maximum quote age used when none is configured.
const DefaultFreshness = 30 * time.Second

// shard holds the quotes of one exchange. Writers for different exchanges
// never contend on the same shard lock.
type shard struct {
	mu     sync.RWMutex
	quotes map[string]domain.Quote
}

// Store is the Quote Store of one market. It is safe for concurrent use.
type Store struct {
	market    domain.Market
	freshness time.Duration

	mu     sync.RWMutex // guards shards, not their contents
	shards map[string]*shard
}

// NewStore creates an empty store. A non-positive freshness selects
// DefaultFreshness.
func NewStore(market domain.Market, freshness time.Duration) *Store {
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	return &Store{
		market:    market,
		freshness: freshness,
		shards:    make(map[string]*shard),
	}
}

// Market returns the market the store serves.
func (s *Store) Market() domain.Market {
	return s.market
}

// Freshness returns the configured freshness threshold.
func (s *Store) Freshness() time.Duration {
	return s.freshness
}

// Upsert replaces the quote stored under (q.Exchange, q.RawInstrumentID). A
// non-positive price fails with domain.ErrInvalidPrice and leaves any previous
// quote untouched.
func (s *Store) Upsert(q domain.Quote) error {
	if !q.Price.IsPositive() {
		return fmt.Errorf("%w: %s for %s/%s", domain.ErrInvalidPrice, q.Price, q.Exchange, q.RawInstrumentID)
	}
	if q.Exchange == "" || q.RawInstrumentID == "" {
		return fmt.Errorf("quote: upsert: exchange and instrument id are required")
	}
	q.Market = s.market

	sh := s.shard(q.Exchange)
	sh.mu.Lock()
	sh.quotes[q.RawInstrumentID] = q
	sh.mu.Unlock()
	return nil
}

// get returns the stored quote for a key regardless of freshness.
func (s *Store) get(exchange, rawInstrumentID string) (domain.Quote, bool) {
	s.mu.RLock()
	sh, ok := s.shards[exchange]
	s.mu.RUnlock()
	if !ok {
		return domain.Quote{}, false
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	q, ok := sh.quotes[rawInstrumentID]
	return q, ok
}

// Snapshot returns a copy of every quote no older than the freshness threshold
// at now, sorted by exchange then instrument id. All shards are read-locked
// together so the copy reflects a single instant.
func (s *Store) Snapshot(now time.Time) []domain.Quote {
	cutoff := now.Add(-s.freshness)
	var out []domain.Quote
	s.each(func(q domain.Quote) {
		if !q.ObservedAt.Before(cutoff) {
			out = append(out, q)
		}
	})
	return out
}

// all returns a copy of every stored quote, stale ones included.
func (s *Store) all() []domain.Quote {
	var out []domain.Quote
	s.each(func(q domain.Quote) { out = append(out, q) })
	return out
}

// Len returns the number of stored quotes.
func (s *Store) Len() int {
	n := 0
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.quotes)
		sh.mu.RUnlock()
	}
	return n
}

// Pairs returns the distinct exchanges, symbols and coins currently stored.
func (s *Store) Pairs() domain.PairSet {
	exchanges := map[string]struct{}{}
	symbols := map[string]struct{}{}
	coins := map[string]struct{}{}
	s.each(func(q domain.Quote) {
		exchanges[q.Exchange] = struct{}{}
		symbols[q.Symbol] = struct{}{}
		if q.Coin != "" {
			coins[q.Coin] = struct{}{}
		}
	})
	return domain.PairSet{
		Exchanges: sortedKeys(exchanges),
		Symbols:   sortedKeys(symbols),
		Coins:     sortedKeys(coins),
	}
}

// each visits every quote while holding all shard read locks, in exchange
// order.
func (s *Store) each(fn func(domain.Quote)) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.shards))
	for name := range s.shards {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		s.shards[name].mu.RLock()
	}
	defer func() {
		for _, name := range names {
			s.shards[name].mu.RUnlock()
		}
	}()

	for _, name := range names {
		sh := s.shards[name]
		ids := make([]string, 0, len(sh.quotes))
		for id := range sh.quotes {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fn(sh.quotes[id])
		}
	}
}

// shard returns the shard for exchange, creating it on first use.
func (s *Store) shard(exchange string) *shard {
	s.mu.RLock()
	sh, ok := s.shards[exchange]
	s.mu.RUnlock()
	if ok {
		return sh
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sh, ok = s.shards[exchange]; ok {
		return sh
	}
	sh = &shard{quotes: make(map[string]domain.Quote)}
	s.shards[exchange] = sh
	return sh
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
