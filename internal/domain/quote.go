package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Market distinguishes instrument families that are never compared with each
// other.
type Market string

const (
	MarketSpot    Market = "spot"
	MarketFutures Market = "futures"
)

// Markets lists every supported market in a stable order.
var Markets = []Market{MarketSpot, MarketFutures}

// ParseMarket converts a case-insensitive string into a Market.
func ParseMarket(s string) (Market, error) {
	switch Market(strings.ToLower(strings.TrimSpace(s))) {
	case MarketSpot:
		return MarketSpot, nil
	case MarketFutures:
		return MarketFutures, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Instrument is the canonical identity of a raw exchange instrument.
type Instrument struct {
	Symbol string // e.g. "BTCUSDT"
	Base   string // coin, e.g. "BTC"
	Quote  string // e.g. "USDT"
}

// Quote is the latest known price of one raw instrument on one exchange.
type Quote struct {
	Market          Market
	Exchange        string
	RawInstrumentID string
	Symbol          string
	Coin            string
	Price           decimal.Decimal
	ObservedAt      time.Time
}

// QuoteKey identifies a Quote inside a market.
type QuoteKey struct {
	Exchange        string
	RawInstrumentID string
}

// Key returns the store key of q.
func (q Quote) Key() QuoteKey {
	return QuoteKey{Exchange: q.Exchange, RawInstrumentID: q.RawInstrumentID}
}

// QuoteUpdate is one price update pushed by a feed before normalization.
type QuoteUpdate struct {
	Market          Market          `json:"market"`
	Exchange        string          `json:"exchange"`
	RawInstrumentID string          `json:"symbol"`
	Price           decimal.Decimal `json:"price"`
	Timestamp       time.Time       `json:"timestamp"`
}

// PairSet is the set of distinct values currently known for a market.
type PairSet struct {
	Exchanges []string `json:"exchanges"`
	Symbols   []string `json:"symbols"`
	Coins     []string `json:"coins"`
}

// NormalizeExchange canonicalises an exchange identifier.
func NormalizeExchange(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
