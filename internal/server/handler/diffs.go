package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/arbscreener/internal/domain"
	"github.com/alanyoungcy/arbscreener/internal/engine"
	"github.com/alanyoungcy/arbscreener/internal/query"
)

const (
	maxIngestBody  = 4 << 20
	maxIngestBatch = 10000
)

// DiffEngine is the engine surface the diff endpoints require.
type DiffEngine interface {
	Ingest(ctx context.Context, u domain.QuoteUpdate) (domain.Quote, error)
	Query(market domain.Market, f domain.Filter) ([]domain.OpportunitySnapshot, error)
	Pairs(market domain.Market) (domain.PairSet, error)
}

// DiffHandler serves the opportunity query, pair listing and quote ingest
// endpoints.
type DiffHandler struct {
	engine DiffEngine
	logger *slog.Logger
}

// NewDiffHandler creates a DiffHandler.
func NewDiffHandler(eng DiffEngine, logger *slog.Logger) *DiffHandler {
	return &DiffHandler{engine: eng, logger: logHandler(logger, "diffs")}
}

type diffsResponse struct {
	Mode     domain.Market     `json:"mode"`
	Opposite bool              `json:"opposite"`
	Count    int               `json:"count"`
	Diffs    []engine.DiffView `json:"diffs"`
}

// ListDiffs returns the ranked opportunities matching the query filters.
// GET /api/diffs?mode=futures&opposite=true&minDiffPerc=0.5&topRows=20
func (h *DiffHandler) ListDiffs(w http.ResponseWriter, r *http.Request) {
	req, err := query.ParseParams(r.URL.Query())
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	snaps, err := h.engine.Query(req.Market, req.Filter)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, diffsResponse{
		Mode:     req.Market,
		Opposite: req.Filter.Opposite,
		Count:    len(snaps),
		Diffs:    engine.NewDiffViews(snaps, req.Filter.Opposite),
	})
}

// Pairs returns the distinct exchanges, symbols and coins quoted in a market.
// GET /api/pairs?mode=spot
func (h *DiffHandler) Pairs(w http.ResponseWriter, r *http.Request) {
	market := domain.MarketSpot
	if s := strings.TrimSpace(r.URL.Query().Get("mode")); s != "" {
		m, err := domain.ParseMarket(s)
		if err != nil {
			writeDomainError(w, h.logger, err)
			return
		}
		market = m
	}
	pairs, err := h.engine.Pairs(market)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pairs)
}

type ingestResponse struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors"`
}

// Ingest accepts a JSON array of quote updates. Rejected rows are reported
// per index; the request only fails when the body itself is malformed.
// POST /api/ingest
func (h *DiffHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var updates []domain.QuoteUpdate
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIngestBody))
	if err := dec.Decode(&updates); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(updates) > maxIngestBatch {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("batch exceeds %d updates", maxIngestBatch))
		return
	}

	resp := ingestResponse{Errors: []string{}}
	for i, u := range updates {
		if _, err := h.engine.Ingest(r.Context(), u); err != nil {
			resp.Rejected++
			resp.Errors = append(resp.Errors, fmt.Sprintf("%d: %s", i, err.Error()))
			continue
		}
		resp.Accepted++
	}
	writeJSON(w, http.StatusOK, resp)
}
