package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Book is one independently tracked opportunity table.
type Book string

const (
	BookSpot            Book = "spot"
	BookFutures         Book = "futures"
	BookFuturesOpposite Book = "futures_opposite"
)

// Books lists every book in recomputation order.
var Books = []Book{BookSpot, BookFutures, BookFuturesOpposite}

// Market returns the market whose quotes feed the book.
func (b Book) Market() Market {
	if b == BookSpot {
		return MarketSpot
	}
	return MarketFutures
}

// Opposite reports whether the book emits both directional legs per pair.
func (b Book) Opposite() bool {
	return b == BookFuturesOpposite
}

// BookFor maps a query mode to the book that serves it. The opposite flag is
// ignored for spot.
func BookFor(market Market, opposite bool) Book {
	if market == MarketSpot {
		return BookSpot
	}
	if opposite {
		return BookFuturesOpposite
	}
	return BookFutures
}

// ParseBook converts a string into a Book.
func ParseBook(s string) (Book, error) {
	b := Book(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Books {
		if b == known {
			return b, nil
		}
	}
	return "", fmt.Errorf("%w: book %q", ErrUnknownMode, s)
}

// Direction names the trade implied by a diff: buy the cheaper leg, sell the
// richer one.
type Direction string

const (
	DirectionLongAShortB Direction = "long_a_short_b"
	DirectionLongBShortA Direction = "long_b_short_a"
)

// DiffCandidate is a pairwise price difference derived from one quote
// snapshot. ExchangeA always sorts before ExchangeB.
type DiffCandidate struct {
	Symbol      string
	Coin        string
	ExchangeA   string
	ExchangeB   string
	PriceA      decimal.Decimal
	PriceB      decimal.Decimal
	DiffPercent decimal.Decimal
	Direction   Direction
}

// Key returns the opportunity key of the candidate.
func (c DiffCandidate) Key() OpportunityKey {
	return OpportunityKey{
		Symbol:    c.Symbol,
		ExchangeA: c.ExchangeA,
		ExchangeB: c.ExchangeB,
		Direction: c.Direction,
	}
}

// OpportunityKey identifies an opportunity within a book.
type OpportunityKey struct {
	Symbol    string
	ExchangeA string
	ExchangeB string
	Direction Direction
}

// Less orders keys by symbol, exchanges, then direction.
func (k OpportunityKey) Less(o OpportunityKey) bool {
	if k.Symbol != o.Symbol {
		return k.Symbol < o.Symbol
	}
	if k.ExchangeA != o.ExchangeA {
		return k.ExchangeA < o.ExchangeA
	}
	if k.ExchangeB != o.ExchangeB {
		return k.ExchangeB < o.ExchangeB
	}
	return k.Direction < o.Direction
}

// OpportunitySnapshot is a read-only view of one tracked opportunity.
type OpportunitySnapshot struct {
	OpportunityKey
	Coin            string
	PriceA          decimal.Decimal
	PriceB          decimal.Decimal
	DiffPercent     decimal.Decimal
	PeakDiffPercent decimal.Decimal
	FirstSeenAt     time.Time
	LastSeenAt      time.Time
	DeactivatedAt   time.Time
	Active          bool
}

// Lifetime is the continuous qualifying span of the opportunity. It is frozen
// once the opportunity deactivates.
func (s OpportunitySnapshot) Lifetime() time.Duration {
	return s.LastSeenAt.Sub(s.FirstSeenAt)
}

// OpportunityRecord is a closed opportunity persisted to history.
type OpportunityRecord struct {
	ID              string          `json:"id"`
	Book            Book            `json:"book"`
	Symbol          string          `json:"symbol"`
	Coin            string          `json:"coin"`
	ExchangeA       string          `json:"exchangeA"`
	ExchangeB       string          `json:"exchangeB"`
	Direction       Direction       `json:"direction"`
	PriceA          decimal.Decimal `json:"priceA"`
	PriceB          decimal.Decimal `json:"priceB"`
	LastDiffPercent decimal.Decimal `json:"lastDiffPercent"`
	PeakDiffPercent decimal.Decimal `json:"peakDiffPercent"`
	FirstSeenAt     time.Time       `json:"firstSeenAt"`
	LastSeenAt      time.Time       `json:"lastSeenAt"`
	ClosedAt        time.Time       `json:"closedAt"`
}

// Lifetime is the recorded qualifying span.
func (r OpportunityRecord) Lifetime() time.Duration {
	return r.LastSeenAt.Sub(r.FirstSeenAt)
}
