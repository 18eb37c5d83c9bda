package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/arbscreener/internal/domain"
)

// HistoryHandler serves closed opportunities from the history store.
type HistoryHandler struct {
	store  domain.OpportunityStore
	logger *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(store domain.OpportunityStore, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{store: store, logger: logHandler(logger, "history")}
}

type historyResponse struct {
	Count         int                        `json:"count"`
	Opportunities []domain.OpportunityRecord `json:"opportunities"`
}

// ListHistory returns the most recently closed opportunities.
// GET /api/history?limit=50&book=spot&symbol=BTCUSDT
func (h *HistoryHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	q := domain.HistoryQuery{
		Symbol: strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol"))),
		Limit:  parseLimit(r),
	}
	if s := strings.TrimSpace(r.URL.Query().Get("book")); s != "" {
		b, err := domain.ParseBook(s)
		if err != nil {
			writeDomainError(w, h.logger, err)
			return
		}
		q.Book = b
	}

	recs, err := h.store.ListRecent(r.Context(), q)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if recs == nil {
		recs = []domain.OpportunityRecord{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Count: len(recs), Opportunities: recs})
}

// AlertHandler serves the recent alert log.
type AlertHandler struct {
	log    domain.StreamLog
	stream string
	logger *slog.Logger
}

// NewAlertHandler creates an AlertHandler reading stream.
func NewAlertHandler(log domain.StreamLog, stream string, logger *slog.Logger) *AlertHandler {
	return &AlertHandler{log: log, stream: stream, logger: logHandler(logger, "alerts")}
}

// ListAlerts returns the most recent alerts, oldest first.
// GET /api/alerts?limit=50
func (h *AlertHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.log.StreamRecent(r.Context(), h.stream, parseLimit(r))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	alerts := make([]json.RawMessage, 0, len(msgs))
	for _, m := range msgs {
		if json.Valid(m.Payload) {
			alerts = append(alerts, json.RawMessage(m.Payload))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(alerts), "alerts": alerts})
}

// ArchiveHandler lists archived history files.
type ArchiveHandler struct {
	lister domain.BlobLister
	prefix string
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler listing objects under prefix.
func NewArchiveHandler(lister domain.BlobLister, prefix string, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{lister: lister, prefix: prefix, logger: logHandler(logger, "archives")}
}

// ListArchives returns the stored archive objects.
// GET /api/archives
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	infos, err := h.lister.List(r.Context(), h.prefix)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(infos), "archives": infos})
}
