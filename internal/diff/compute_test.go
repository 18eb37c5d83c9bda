package diff

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbscreener/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func q(exchange, symbol, price string) domain.Quote {
	return domain.Quote{
		Exchange:        exchange,
		RawInstrumentID: symbol,
		Symbol:          symbol,
		Coin:            "BTC",
		Price:           decimal.RequireFromString(price),
		ObservedAt:      t0,
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCompute_SpotPair(t *testing.T) {
	got := Compute([]domain.Quote{
		q("binance", "BTCUSDT", "60000"),
		q("bybit", "BTCUSDT", "60300"),
	}, Options{})

	require.Len(t, got, 1)
	c := got[0]
	assert.Equal(t, "BTCUSDT", c.Symbol)
	assert.Equal(t, "BTC", c.Coin)
	assert.Equal(t, "binance", c.ExchangeA)
	assert.Equal(t, "bybit", c.ExchangeB)
	assert.True(t, c.DiffPercent.Equal(dec("0.5")), "got %s", c.DiffPercent)
	assert.Equal(t, domain.DirectionLongAShortB, c.Direction)
}

func TestCompute_SymmetricUnderRelabel(t *testing.T) {
	pairs := [][2]string{{"60000", "60300"}, {"1.2345", "1.2"}, {"0.00001", "0.00002"}}
	for _, p := range pairs {
		ab := Compute([]domain.Quote{q("aaa", "X", p[0]), q("bbb", "X", p[1])}, Options{})
		ba := Compute([]domain.Quote{q("aaa", "X", p[1]), q("bbb", "X", p[0])}, Options{})
		require.Len(t, ab, 1)
		require.Len(t, ba, 1)
		assert.True(t, ab[0].DiffPercent.Equal(ba[0].DiffPercent), "%v", p)
		assert.NotEqual(t, ab[0].Direction, ba[0].Direction)
	}
	assert.True(t, Percent(dec("60000"), dec("60300")).Equal(Percent(dec("60300"), dec("60000"))))
}

func TestCompute_DirectionFollowsCheaperLeg(t *testing.T) {
	got := Compute([]domain.Quote{q("binance", "BTCUSDT", "60300"), q("okx", "BTCUSDT", "60000")}, Options{})
	require.Len(t, got, 1)
	assert.Equal(t, domain.DirectionLongBShortA, got[0].Direction)
	assert.Equal(t, "binance", got[0].ExchangeA)
}

func TestCompute_Opposite(t *testing.T) {
	quotes := []domain.Quote{q("a", "BTCUSDT", "100"), q("b", "BTCUSDT", "102")}

	both := Compute(quotes, Options{Opposite: true})
	require.Len(t, both, 2)
	assert.Equal(t, domain.DirectionLongAShortB, both[0].Direction)
	assert.True(t, both[0].DiffPercent.Equal(dec("2")), "got %s", both[0].DiffPercent)
	assert.Equal(t, domain.DirectionLongBShortA, both[1].Direction)
	assert.True(t, both[1].DiffPercent.Equal(dec("-1.96078431")), "got %s", both[1].DiffPercent)

	one := Compute(quotes, Options{})
	require.Len(t, one, 1)
	assert.True(t, one[0].DiffPercent.Equal(dec("2")))
}

func TestCompute_SingleExchangeYieldsNothing(t *testing.T) {
	got := Compute([]domain.Quote{
		q("binance", "BTCUSDT", "60000"),
		q("binance", "ETHUSDT", "3000"),
		q("okx", "SOLUSDT", "150"),
	}, Options{})
	assert.Empty(t, got)
}

func TestCompute_AllPairsSorted(t *testing.T) {
	got := Compute([]domain.Quote{
		q("okx", "BTCUSDT", "60100"),
		q("binance", "BTCUSDT", "60000"),
		q("bybit", "BTCUSDT", "60300"),
		q("okx", "ETHUSDT", "3001"),
		q("binance", "ETHUSDT", "3000"),
	}, Options{})

	require.Len(t, got, 4)
	keys := []string{}
	for _, c := range got {
		keys = append(keys, c.Symbol+":"+c.ExchangeA+"/"+c.ExchangeB)
	}
	assert.Equal(t, []string{
		"BTCUSDT:binance/bybit",
		"BTCUSDT:binance/okx",
		"BTCUSDT:bybit/okx",
		"ETHUSDT:binance/okx",
	}, keys)
}

func TestCompute_DuplicateRawIDsUseLatest(t *testing.T) {
	old := q("kucoin", "BTCUSDT", "59000")
	old.RawInstrumentID = "BTC-USDT"
	fresh := q("kucoin", "BTCUSDT", "60000")
	fresh.RawInstrumentID = "BTCUSDT"
	fresh.ObservedAt = t0.Add(time.Second)

	got := Compute([]domain.Quote{fresh, old, q("okx", "BTCUSDT", "60300")}, Options{})
	require.Len(t, got, 1)
	assert.True(t, got[0].PriceA.Equal(dec("60000")))
}

func TestCompute_Deterministic(t *testing.T) {
	quotes := []domain.Quote{
		q("a", "X", "1"), q("b", "X", "2"), q("c", "X", "3"),
		q("a", "Y", "5"), q("c", "Y", "4"),
	}
	first := Compute(quotes, Options{Opposite: true})
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Compute(quotes, Options{Opposite: true}))
	}
}
