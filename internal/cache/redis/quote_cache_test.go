package redis

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbscreener/internal/domain"
)

func TestQuoteKeyLayout(t *testing.T) {
	q := domain.Quote{Market: domain.MarketFutures, Exchange: "okx", RawInstrumentID: "BTC-USDT-SWAP"}
	assert.Equal(t, "quote:futures:okx:BTC-USDT-SWAP", quoteKey(q))
	assert.Equal(t, "quote:spot:*", quotePattern(domain.MarketSpot))
}

func TestDecodeQuote(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC)
	in := domain.Quote{
		Market:          domain.MarketSpot,
		Exchange:        "binance",
		RawInstrumentID: "BTCUSDT",
		Symbol:          "BTCUSDT",
		Coin:            "BTC",
		Price:           decimal.RequireFromString("60000.125"),
		ObservedAt:      at,
	}

	vals := map[string]string{}
	for k, v := range encodeQuote(in) {
		vals[k] = v.(string)
	}
	out, err := decodeQuote(quoteKey(in), vals)
	require.NoError(t, err)
	assert.True(t, out.Price.Equal(in.Price))
	out.Price = in.Price
	assert.Equal(t, in, out)
}

func TestDecodeQuoteRejectsMalformed(t *testing.T) {
	good := map[string]string{"price": "1", "ts": "1"}

	_, err := decodeQuote("quote:spot:binance", good)
	assert.Error(t, err)
	_, err = decodeQuote("price:spot:binance:BTCUSDT", good)
	assert.Error(t, err)
	_, err = decodeQuote("quote:spot:binance:BTCUSDT", map[string]string{"price": "x", "ts": "1"})
	assert.Error(t, err)
	_, err = decodeQuote("quote:spot:binance:BTCUSDT", map[string]string{"price": "1", "ts": "soon"})
	assert.Error(t, err)
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("diffs:*"))
	assert.True(t, hasPattern("diffs:?pot"))
	assert.False(t, hasPattern("alerts"))
}
