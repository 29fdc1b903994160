package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/updownlabs/updownbot/internal/domain"
	"github.com/updownlabs/updownbot/internal/market"
)

// maxHistoryBucket rejects absurd bucket values that would degenerate the
// history into a single point per week.
const maxHistoryBucket = 24 * time.Hour

// MarketHandler serves the read-only market endpoints.
type MarketHandler struct {
	query  *market.Query
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler backed by the query service.
func NewMarketHandler(query *market.Query, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{query: query, logger: logger.With(slog.String("handler", "market"))}
}

// Current returns the current period's market, falling back to the most
// recent one when the period has not been rolled yet.
// GET /api/market
func (h *MarketHandler) Current(w http.ResponseWriter, r *http.Request) {
	snap, err := h.query.Current(r.Context())
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetByID returns one market by its identifier.
// GET /api/markets/{id}
func (h *MarketHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	snap, err := h.query.ByID(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// History returns the bucketed pool evolution of a market. The id query
// parameter selects a market; it defaults to the current one. The bucket
// parameter takes a Go duration string such as "15m".
// GET /api/market/history?id=BTC-2026-08-29&bucket=15m
func (h *MarketHandler) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var bucket time.Duration
	if v := q.Get("bucket"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed <= 0 || parsed > maxHistoryBucket {
			writeError(w, http.StatusBadRequest, "invalid bucket duration")
			return
		}
		bucket = parsed
	}

	marketID := q.Get("id")
	if marketID == "" {
		snap, err := h.query.Current(r.Context())
		if err != nil {
			h.writeQueryError(w, r, err)
			return
		}
		marketID = snap.ID
	}

	points, err := h.query.History(r.Context(), marketID, bucket)
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": marketID,
		"points":    points,
	})
}

func (h *MarketHandler) writeQueryError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, domain.ErrMarketNotFound) {
		writeError(w, http.StatusNotFound, "market not found")
		return
	}
	h.logger.ErrorContext(r.Context(), "market query", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "internal server error")
}
