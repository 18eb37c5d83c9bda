// Package diff derives pairwise cross-exchange price differences from a quote
// snapshot.
package diff

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbscreener/internal/domain"
)

// Precision is the number of decimal places kept in DiffPercent.
const Precision = 8

var hundred = decimal.NewFromInt(100)

// Options selects the comparison semantics.
type Options struct {
	// Opposite emits both directional legs per exchange pair instead of one
	// unsigned difference.
	Opposite bool
}

// Compute returns the diff candidates for quotes, sorted by opportunity key.
// Quotes are grouped by canonical symbol; symbols quoted by fewer than two
// exchanges yield nothing. When one exchange quotes a symbol under several raw
// ids, the most recent quote is used.
func Compute(quotes []domain.Quote, opts Options) []domain.DiffCandidate {
	bySymbol := make(map[string]map[string]domain.Quote)
	for _, q := range quotes {
		if q.Symbol == "" || !q.Price.IsPositive() {
			continue
		}
		legs, ok := bySymbol[q.Symbol]
		if !ok {
			legs = make(map[string]domain.Quote)
			bySymbol[q.Symbol] = legs
		}
		if prev, ok := legs[q.Exchange]; ok && !newer(q, prev) {
			continue
		}
		legs[q.Exchange] = q
	}

	var out []domain.DiffCandidate
	for symbol, legs := range bySymbol {
		if len(legs) < 2 {
			continue
		}
		exchanges := make([]string, 0, len(legs))
		for ex := range legs {
			exchanges = append(exchanges, ex)
		}
		sort.Strings(exchanges)

		for i := 0; i < len(exchanges); i++ {
			for j := i + 1; j < len(exchanges); j++ {
				a, b := legs[exchanges[i]], legs[exchanges[j]]
				if opts.Opposite {
					out = append(out,
						candidate(symbol, a, b, domain.DirectionLongAShortB, Directional(a.Price, b.Price)),
						candidate(symbol, a, b, domain.DirectionLongBShortA, Directional(b.Price, a.Price)),
					)
					continue
				}
				dir := domain.DirectionLongAShortB
				if b.Price.LessThan(a.Price) {
					dir = domain.DirectionLongBShortA
				}
				out = append(out, candidate(symbol, a, b, dir, Percent(a.Price, b.Price)))
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key().Less(out[j].Key()) })
	return out
}

// Percent is the unsigned difference (max − min) / min × 100. It is symmetric
// in its arguments.
func Percent(p1, p2 decimal.Decimal) decimal.Decimal {
	lo, hi := p1, p2
	if hi.LessThan(lo) {
		lo, hi = hi, lo
	}
	return hi.Sub(lo).Mul(hundred).DivRound(lo, Precision)
}

// Directional is the gain of buying at long and selling at short, as a
// percentage of the long price: (short − long) / long × 100.
func Directional(long, short decimal.Decimal) decimal.Decimal {
	return short.Sub(long).Mul(hundred).DivRound(long, Precision)
}

func candidate(symbol string, a, b domain.Quote, dir domain.Direction, pct decimal.Decimal) domain.DiffCandidate {
	coin := a.Coin
	if coin == "" {
		coin = b.Coin
	}
	return domain.DiffCandidate{
		Symbol:      symbol,
		Coin:        coin,
		ExchangeA:   a.Exchange,
		ExchangeB:   b.Exchange,
		PriceA:      a.Price,
		PriceB:      b.Price,
		DiffPercent: pct,
		Direction:   dir,
	}
}

func newer(q, prev domain.Quote) bool {
	if !q.ObservedAt.Equal(prev.ObservedAt) {
		return q.ObservedAt.After(prev.ObservedAt)
	}
	return q.RawInstrumentID < prev.RawInstrumentID
}
