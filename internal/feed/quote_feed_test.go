package feed

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbscreener/internal/cache/memory"
	"github.com/alanyoungcy/arbscreener/internal/domain"
)

type recordingIngester struct {
	mu      sync.Mutex
	updates []domain.QuoteUpdate
	got     chan struct{}
}

func (r *recordingIngester) Ingest(_ context.Context, u domain.QuoteUpdate) (domain.Quote, error) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
	select {
	case r.got <- struct{}{}:
	default:
	}
	if !u.Price.IsPositive() {
		return domain.Quote{}, domain.ErrInvalidPrice
	}
	return domain.Quote{}, nil
}

func TestDecodeUpdates(t *testing.T) {
	one, err := decodeUpdates([]byte(`{"market":"futures","exchange":"Binance","symbol":"BTCUSDT","price":"100.5"}`))
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, domain.MarketFutures, one[0].Market)
	assert.Equal(t, "BTCUSDT", one[0].RawInstrumentID)
	assert.True(t, one[0].Price.Equal(decimal.RequireFromString("100.5")))

	batch, err := decodeUpdates([]byte(` [{"exchange":"okx","symbol":"BTC-USDT","price":1},{"exchange":"gate","symbol":"BTC_USDT","price":2}]`))
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	_, err = decodeUpdates([]byte(`not json`))
	require.Error(t, err)
	_, err = decodeUpdates(nil)
	require.Error(t, err)
}

func TestQuoteFeed_Run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := memory.NewSignalBus()
	ing := &recordingIngester{got: make(chan struct{}, 8)}
	f := NewQuoteFeed(bus, "", ing, slog.New(slog.NewTextHandler(io.Discard, nil)))

	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	// The subscription is registered asynchronously; publish until seen.
	payload := []byte(`[{"exchange":"binance","symbol":"BTCUSDT","price":"0"},{"exchange":"okx","symbol":"BTC-USDT","price":"100"}]`)
	require.Eventually(t, func() bool {
		_ = bus.Publish(ctx, DefaultChannel, payload)
		select {
		case <-ing.got:
			return true
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, time.Second, 10*time.Millisecond)

	// The second row of the batch is processed even though the first failed.
	select {
	case <-ing.got:
	case <-time.After(time.Second):
		t.Fatal("second update not ingested")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("feed did not stop")
	}

	ing.mu.Lock()
	defer ing.mu.Unlock()
	require.GreaterOrEqual(t, len(ing.updates), 2)
	assert.Equal(t, "okx", ing.updates[1].Exchange)
}
