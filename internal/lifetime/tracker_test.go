package lifetime

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbscreener/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func cand(symbol, diff string) domain.DiffCandidate {
	return domain.DiffCandidate{
		Symbol:      symbol,
		Coin:        "BTC",
		ExchangeA:   "binance",
		ExchangeB:   "bybit",
		PriceA:      decimal.NewFromInt(60000),
		PriceB:      decimal.NewFromInt(60300),
		DiffPercent: decimal.RequireFromString(diff),
		Direction:   domain.DirectionLongAShortB,
	}
}

func at(secs int) time.Time { return t0.Add(time.Duration(secs) * time.Second) }

func TestReconcile_LifetimeAcrossCycles(t *testing.T) {
	tr := NewTracker(Options{})
	c := []domain.DiffCandidate{cand("BTCUSDT", "0.5")}

	var res Result
	var err error
	for _, s := range []int{0, 5, 10} {
		res, err = tr.Reconcile(c, at(s))
		require.NoError(t, err)
	}
	require.Len(t, res.Snapshots, 1)
	snap := res.Snapshots[0]
	assert.True(t, snap.Active)
	assert.Equal(t, at(0), snap.FirstSeenAt)
	assert.Equal(t, 10*time.Second, snap.Lifetime())
}

func TestReconcile_Idempotent(t *testing.T) {
	tr := NewTracker(Options{})
	c := []domain.DiffCandidate{cand("BTCUSDT", "0.5"), cand("ETHUSDT", "0.2")}

	_, err := tr.Reconcile(c, at(0))
	require.NoError(t, err)
	first, err := tr.Reconcile(c, at(5))
	require.NoError(t, err)
	second, err := tr.Reconcile(c, at(5))
	require.NoError(t, err)

	assert.Equal(t, first.Snapshots, second.Snapshots)
	assert.Empty(t, second.Opened)
	assert.Empty(t, second.Closed)
}

func TestReconcile_GapResetsFirstSeen(t *testing.T) {
	tr := NewTracker(Options{})
	c := []domain.DiffCandidate{cand("BTCUSDT", "0.5")}

	_, err := tr.Reconcile(c, at(0))
	require.NoError(t, err)
	_, err = tr.Reconcile(c, at(5))
	require.NoError(t, err)

	gap, err := tr.Reconcile(nil, at(10))
	require.NoError(t, err)
	require.Len(t, gap.Closed, 1)
	closed := gap.Closed[0]
	assert.False(t, closed.Active)
	assert.Equal(t, 5*time.Second, closed.Lifetime(), "lifetime freezes at the last qualifying cycle")
	assert.Equal(t, at(10), closed.DeactivatedAt)

	back, err := tr.Reconcile(c, at(15))
	require.NoError(t, err)
	require.Len(t, back.Opened, 1)
	assert.Equal(t, at(15), back.Opened[0].FirstSeenAt)
	assert.True(t, back.Opened[0].FirstSeenAt.After(at(0)))
	assert.Zero(t, back.Snapshots[0].Lifetime())
}

func TestReconcile_NonQualifyingDeactivates(t *testing.T) {
	tr := NewTracker(Options{Floor: decimal.RequireFromString("0.3")})

	res, err := tr.Reconcile([]domain.DiffCandidate{cand("BTCUSDT", "0.3")}, at(0))
	require.NoError(t, err)
	require.Len(t, res.Opened, 1, "a positive floor qualifies at equality")

	res, err = tr.Reconcile([]domain.DiffCandidate{cand("BTCUSDT", "0.29")}, at(5))
	require.NoError(t, err)
	require.Len(t, res.Closed, 1)
	assert.Empty(t, res.Active())
}

func TestReconcile_ZeroFloorIsStrict(t *testing.T) {
	tr := NewTracker(Options{})
	res, err := tr.Reconcile([]domain.DiffCandidate{cand("BTCUSDT", "0")}, at(0))
	require.NoError(t, err)
	assert.Empty(t, res.Snapshots)
}

func TestReconcile_AbsoluteFloor(t *testing.T) {
	tr := NewTracker(Options{Floor: decimal.NewFromInt(1), Absolute: true})
	long := cand("BTCUSDT", "2")
	short := cand("BTCUSDT", "-1.96")
	short.Direction = domain.DirectionLongBShortA

	res, err := tr.Reconcile([]domain.DiffCandidate{long, short}, at(0))
	require.NoError(t, err)
	assert.Len(t, res.Opened, 2, "directions are independent keys")
}

func TestReconcile_PeakTracksLargestMagnitude(t *testing.T) {
	tr := NewTracker(Options{})
	for i, d := range []string{"0.4", "0.9", "0.6"} {
		_, err := tr.Reconcile([]domain.DiffCandidate{cand("BTCUSDT", d)}, at(i))
		require.NoError(t, err)
	}
	res, err := tr.Reconcile([]domain.DiffCandidate{cand("BTCUSDT", "0.5")}, at(3))
	require.NoError(t, err)
	assert.True(t, res.Snapshots[0].PeakDiffPercent.Equal(decimal.RequireFromString("0.9")))
	assert.True(t, res.Snapshots[0].DiffPercent.Equal(decimal.RequireFromString("0.5")))
}

func TestReconcile_EvictsAfterRetention(t *testing.T) {
	tr := NewTracker(Options{Retention: 30 * time.Second})
	_, err := tr.Reconcile([]domain.DiffCandidate{cand("BTCUSDT", "0.5")}, at(0))
	require.NoError(t, err)
	_, err = tr.Reconcile(nil, at(5))
	require.NoError(t, err)

	res, err := tr.Reconcile(nil, at(35))
	require.NoError(t, err)
	assert.Len(t, res.Snapshots, 1, "kept at exactly the retention window")

	res, err = tr.Reconcile(nil, at(36))
	require.NoError(t, err)
	assert.Empty(t, res.Snapshots)
	assert.Equal(t, 1, res.Evicted)
	assert.Zero(t, tr.Len())
}

func TestReconcile_ClockRegression(t *testing.T) {
	tr := NewTracker(Options{})
	c := []domain.DiffCandidate{cand("BTCUSDT", "0.5")}
	_, err := tr.Reconcile(c, at(10))
	require.NoError(t, err)

	_, err = tr.Reconcile(nil, at(5))
	assert.ErrorIs(t, err, domain.ErrClockRegression)

	res, err := tr.Reconcile(c, at(10))
	require.NoError(t, err)
	assert.True(t, res.Snapshots[0].Active, "a rejected cycle leaves state untouched")
}

func TestReconcile_SnapshotsAreCopies(t *testing.T) {
	tr := NewTracker(Options{})
	res, err := tr.Reconcile([]domain.DiffCandidate{cand("BTCUSDT", "0.5")}, at(0))
	require.NoError(t, err)
	res.Snapshots[0].Active = false

	res, err = tr.Reconcile([]domain.DiffCandidate{cand("BTCUSDT", "0.5")}, at(0))
	require.NoError(t, err)
	assert.True(t, res.Snapshots[0].Active)
	assert.Empty(t, res.Opened)
}
