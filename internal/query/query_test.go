package query

import (
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbscreener/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func snap(symbol, coin, a, b, diff string, lifetime time.Duration, active bool) domain.OpportunitySnapshot {
	return domain.OpportunitySnapshot{
		OpportunityKey: domain.OpportunityKey{
			Symbol:    symbol,
			ExchangeA: a,
			ExchangeB: b,
			Direction: domain.DirectionLongAShortB,
		},
		Coin:        coin,
		DiffPercent: decimal.RequireFromString(diff),
		FirstSeenAt: t0,
		LastSeenAt:  t0.Add(lifetime),
		Active:      active,
	}
}

func fixture() []domain.OpportunitySnapshot {
	return []domain.OpportunitySnapshot{
		snap("BTCUSDT", "BTC", "binance", "bybit", "0.5", 10*time.Second, true),
		snap("BTCUSDT", "BTC", "binance", "okx", "0.5", 30*time.Second, true),
		snap("ETHUSDT", "ETH", "bybit", "okx", "1.2", 5*time.Second, true),
		snap("ETHUSDT", "ETH", "binance", "gate", "0.1", time.Minute, true),
		snap("SOLUSDT", "SOL", "gate", "okx", "2.4", 0, true),
		snap("XRPUSDT", "XRP", "binance", "okx", "3.0", 20*time.Second, false),
	}
}

func mustParse(t *testing.T, raw string) Request {
	t.Helper()
	v, err := url.ParseQuery(raw)
	require.NoError(t, err)
	req, err := ParseParams(v)
	require.NoError(t, err)
	return req
}

func TestParseParams_Defaults(t *testing.T) {
	req := mustParse(t, "")
	assert.Equal(t, domain.MarketSpot, req.Market)
	assert.Equal(t, domain.StatusActive, req.Filter.Status)
	assert.Zero(t, req.Filter.TopRows)
	assert.Nil(t, req.Filter.MinDiff)
	assert.Equal(t, domain.BookSpot, req.Book())
}

func TestParseParams_Full(t *testing.T) {
	req := mustParse(t, "mode=futures&opposite=true&exchanges=Binance,%20OKX&exchanges=bybit"+
		"&symbols=btc-usdt,ETH_USDT&coins=btc&minDiffPerc=-0.5&maxDiffPerc=2.25"+
		"&minLifetime=5&maxLifetime=2m&topRows=10&status=all")

	f := req.Filter
	assert.Equal(t, domain.MarketFutures, req.Market)
	assert.True(t, f.Opposite)
	assert.Equal(t, domain.BookFuturesOpposite, req.Book())
	assert.Equal(t, []string{"binance", "okx", "bybit"}, f.Exchanges)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, f.Symbols)
	assert.Equal(t, []string{"BTC"}, f.Coins)
	assert.Equal(t, "-0.5", f.MinDiff.String())
	assert.Equal(t, "2.25", f.MaxDiff.String())
	assert.Equal(t, 5*time.Second, *f.MinLifetime)
	assert.Equal(t, 2*time.Minute, *f.MaxLifetime)
	assert.Equal(t, 10, f.TopRows)
	assert.Equal(t, domain.StatusAll, f.Status)
}

func TestParseParams_OppositeIgnoredForSpot(t *testing.T) {
	req := mustParse(t, "mode=spot&opposite=true")
	assert.False(t, req.Filter.Opposite)
	assert.Equal(t, domain.BookSpot, req.Book())

	req = mustParse(t, "mode=futures&opposite=false&topRows=all")
	assert.Equal(t, domain.BookFutures, req.Book())
	assert.Zero(t, req.Filter.TopRows)
}

func TestParseParams_Invalid(t *testing.T) {
	tests := []string{
		"minDiffPerc=abc",
		"maxDiffPerc=1.2.3",
		"minLifetime=soon",
		"maxLifetime=-5",
		"topRows=0",
		"topRows=-3",
		"topRows=ten",
		"opposite=maybe",
		"status=pending",
		"minDiffPerc=2&maxDiffPerc=1",
		"minLifetime=60&maxLifetime=30s",
		"minLifetime=18446744074",
		"maxLifetime=9223372037",
		"maxLifetime=99999999999999999999",
	}
	for _, raw := range tests {
		v, err := url.ParseQuery(raw)
		require.NoError(t, err)
		_, err = ParseParams(v)
		assert.ErrorIs(t, err, domain.ErrInvalidFilter, raw)
	}

	_, err := ParseParams(url.Values{"mode": {"options"}})
	assert.ErrorIs(t, err, domain.ErrUnknownMode)
}

func TestParseParams_LifetimeAtDurationLimit(t *testing.T) {
	p := mustParse(t, "maxLifetime=9223372036")
	require.NotNil(t, p.Filter.MaxLifetime)
	assert.Equal(t, 9223372036*time.Second, *p.Filter.MaxLifetime)
}

func TestApply_MinDiffAboveAllIsEmpty(t *testing.T) {
	snaps := []domain.OpportunitySnapshot{snap("BTCUSDT", "BTC", "binance", "bybit", "0.5", 0, true)}
	got := Apply(snaps, mustParse(t, "minDiffPerc=1.0").Filter)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestApply_Ranking(t *testing.T) {
	got := Apply(fixture(), mustParse(t, "").Filter)
	require.Len(t, got, 5)

	var order []string
	for i, s := range got {
		order = append(order, s.Symbol+":"+s.ExchangeB)
		if i > 0 {
			assert.False(t, s.DiffPercent.GreaterThan(got[i-1].DiffPercent), "diff must be non-increasing")
		}
	}
	// Ties on diff favour the longer-lived opportunity.
	assert.Equal(t, []string{"SOLUSDT:okx", "ETHUSDT:okx", "BTCUSDT:okx", "BTCUSDT:bybit", "ETHUSDT:gate"}, order)
}

func TestApply_TopRows(t *testing.T) {
	got := Apply(fixture(), mustParse(t, "topRows=2").Filter)
	require.Len(t, got, 2)
	assert.Equal(t, "SOLUSDT", got[0].Symbol)

	got = Apply(fixture(), mustParse(t, "topRows=100").Filter)
	assert.Len(t, got, 5)
}

func TestApply_Status(t *testing.T) {
	got := Apply(fixture(), mustParse(t, "status=inactive").Filter)
	require.Len(t, got, 1)
	assert.Equal(t, "XRPUSDT", got[0].Symbol)

	assert.Len(t, Apply(fixture(), mustParse(t, "status=all").Filter), 6)
}

func TestApply_ExchangeListRequiresBothLegs(t *testing.T) {
	got := Apply(fixture(), mustParse(t, "exchanges=binance,okx").Filter)
	require.Len(t, got, 1)
	assert.Equal(t, "BTCUSDT", got[0].Symbol)
	assert.Equal(t, "okx", got[0].ExchangeB)
}

func TestApply_ConjunctionIsSubset(t *testing.T) {
	all := fixture()
	queries := []string{
		"coins=BTC,ETH&minDiffPerc=0.2",
		"symbols=ethusdt&maxLifetime=10",
		"exchanges=bybit,okx,binance&minLifetime=10s&maxDiffPerc=1",
		"minDiffPerc=0.5&maxDiffPerc=0.5",
		"status=all&minDiffPerc=2",
		"coins=DOGE",
	}
	for _, raw := range queries {
		f := mustParse(t, raw).Filter
		got := Apply(all, f)
		for _, s := range got {
			assert.Contains(t, all, s, raw)
			assert.True(t, satisfies(s, f), "%s: %+v", raw, s.OpportunityKey)
		}
		// Nothing that satisfies the filter is dropped without a row limit.
		want := 0
		for _, s := range all {
			if satisfies(s, f) {
				want++
			}
		}
		assert.Len(t, got, want, raw)
	}
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	in := fixture()
	before := fmt.Sprint(in)
	Apply(in, mustParse(t, "topRows=1").Filter)
	assert.Equal(t, before, fmt.Sprint(in))
}

// satisfies re-checks every bound independently of Apply.
func satisfies(s domain.OpportunitySnapshot, f domain.Filter) bool {
	in := func(list []string, v string) bool {
		if len(list) == 0 {
			return true
		}
		for _, x := range list {
			if x == v {
				return true
			}
		}
		return false
	}
	switch f.Status {
	case domain.StatusActive:
		if !s.Active {
			return false
		}
	case domain.StatusInactive:
		if s.Active {
			return false
		}
	}
	if !in(f.Exchanges, s.ExchangeA) || !in(f.Exchanges, s.ExchangeB) {
		return false
	}
	if !in(f.Symbols, s.Symbol) || !in(f.Coins, s.Coin) {
		return false
	}
	if f.MinDiff != nil && s.DiffPercent.LessThan(*f.MinDiff) {
		return false
	}
	if f.MaxDiff != nil && s.DiffPercent.GreaterThan(*f.MaxDiff) {
		return false
	}
	if f.MinLifetime != nil && s.Lifetime() < *f.MinLifetime {
		return false
	}
	if f.MaxLifetime != nil && s.Lifetime() > *f.MaxLifetime {
		return false
	}
	return true
}
