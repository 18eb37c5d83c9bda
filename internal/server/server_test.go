package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbscreener/internal/cache/memory"
	"github.com/alanyoungcy/arbscreener/internal/domain"
	"github.com/alanyoungcy/arbscreener/internal/engine"
	"github.com/alanyoungcy/arbscreener/internal/server/handler"
	"github.com/alanyoungcy/arbscreener/internal/symbol"
)

var testNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

type fakeHistory struct {
	last domain.HistoryQuery
}

func (f *fakeHistory) InsertBatch(context.Context, []domain.OpportunityRecord) error { return nil }

func (f *fakeHistory) ListRecent(_ context.Context, q domain.HistoryQuery) ([]domain.OpportunityRecord, error) {
	f.last = q
	return nil, nil
}

func (f *fakeHistory) ListBefore(context.Context, time.Time) ([]domain.OpportunityRecord, error) {
	return nil, nil
}

func (f *fakeHistory) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type testEnv struct {
	handler http.Handler
	engine  *engine.Engine
	history *fakeHistory
}

func newTestEnv(t *testing.T, cfg Config, limiter domain.RateLimiter) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	norm, err := symbol.NewDefault()
	require.NoError(t, err)

	eng := engine.New(engine.Config{Freshness: time.Minute}, norm, logger,
		engine.WithClock(func() time.Time { return testNow }))
	hist := &fakeHistory{}
	bus := memory.NewSignalBus()

	h := Routes(cfg, Handlers{
		Health:  handler.NewHealthHandler(nil, logger),
		Status:  handler.NewStatusHandler("standalone", testNow, eng),
		Diffs:   handler.NewDiffHandler(eng, logger),
		History: handler.NewHistoryHandler(hist, logger),
		Alerts:  handler.NewAlertHandler(bus, "alerts:log", logger),
	}, nil, limiter, logger)
	return &testEnv{handler: h, engine: eng, history: hist}
}

func (e *testEnv) do(t *testing.T, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

const spotBatch = `[
	{"exchange":"Binance","symbol":"BTCUSDT","price":"100"},
	{"exchange":"okx","symbol":"BTC-USDT","price":"100.5"},
	{"exchange":"gate","symbol":"BTC_USDT","price":"-1"},
	{"exchange":"binance","symbol":"???","price":"1"}
]`

func TestIngestThenQuery(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	rec := env.do(t, http.MethodPost, "/api/ingest", spotBatch, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ing struct {
		Accepted int      `json:"accepted"`
		Rejected int      `json:"rejected"`
		Errors   []string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ing))
	assert.Equal(t, 2, ing.Accepted)
	assert.Equal(t, 2, ing.Rejected)
	require.Len(t, ing.Errors, 2)
	assert.True(t, strings.HasPrefix(ing.Errors[0], "2: "))

	require.NoError(t, env.engine.Cycle(context.Background(), testNow))

	rec = env.do(t, http.MethodGet, "/api/diffs?mode=spot", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Mode  string            `json:"mode"`
		Count int               `json:"count"`
		Diffs []engine.DiffView `json:"diffs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "spot", resp.Mode)
	require.Equal(t, 1, resp.Count)
	d := resp.Diffs[0]
	assert.Equal(t, "BTCUSDT", d.Symbol)
	assert.Equal(t, "binance", d.ExchangeA)
	assert.Equal(t, "okx", d.ExchangeB)
	assert.Equal(t, "0.5", d.DiffPercent)
	assert.Empty(t, d.Direction)

	rec = env.do(t, http.MethodGet, "/api/diffs?minDiffPerc=1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":0`)
	assert.Contains(t, rec.Body.String(), `"diffs":[]`)

	rec = env.do(t, http.MethodGet, "/api/pairs?mode=spot", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pairs domain.PairSet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pairs))
	assert.Equal(t, []string{"binance", "okx"}, pairs.Exchanges)
	assert.Equal(t, []string{"BTCUSDT"}, pairs.Symbols)
}

func TestBadRequests(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	for _, target := range []string{
		"/api/diffs?mode=options",
		"/api/diffs?topRows=-1",
		"/api/diffs?minDiffPerc=abc",
		"/api/pairs?mode=options",
		"/api/history?book=margin",
	} {
		rec := env.do(t, http.MethodGet, target, "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Contains(t, rec.Body.String(), `"error"`, target)
	}

	rec := env.do(t, http.MethodPost, "/api/ingest", `{"not":"an array"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestRequiresAPIKey(t *testing.T) {
	env := newTestEnv(t, Config{APIKey: "secret"}, nil)

	rec := env.do(t, http.MethodPost, "/api/ingest", `[]`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/ingest", `[]`, map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Reads stay open.
	rec = env.do(t, http.MethodGet, "/api/diffs", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, Config{RateLimit: 2, RateLimitWindow: time.Minute}, memory.NewRateLimiter())
	hdr := map[string]string{"X-Forwarded-For": "10.0.0.1"}

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/health", "", hdr).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/health", "", hdr).Code)
	rec := env.do(t, http.MethodGet, "/api/health", "", hdr)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))

	// Metrics are outside the limited prefix.
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/metrics", "", hdr).Code)
}

func TestHistoryAndStatus(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	rec := env.do(t, http.MethodGet, "/api/history?book=futures_opposite&symbol=btcusdt&limit=5", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":0,"opportunities":[]}`, rec.Body.String())
	assert.Equal(t, domain.HistoryQuery{Book: domain.BookFuturesOpposite, Symbol: "BTCUSDT", Limit: 5}, env.history.last)

	rec = env.do(t, http.MethodGet, "/api/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"mode":"standalone"`)

	rec = env.do(t, http.MethodGet, "/api/alerts", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":0,"alerts":[]}`, rec.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, Config{CORSOrigins: []string{"https://app.example"}}, nil)
	rec := env.do(t, http.MethodOptions, "/api/diffs", "", map[string]string{"Origin": "https://app.example"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = env.do(t, http.MethodOptions, "/api/diffs", "", map[string]string{"Origin": "https://evil.example"})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
