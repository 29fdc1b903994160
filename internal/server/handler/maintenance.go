package handler

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/updownlabs/updownbot/internal/market"
)

// Roller advances the market period. Implemented by market.Manager.
type Roller interface {
	RollPeriod(ctx context.Context, now time.Time) (market.RollReport, error)
}

// MaintenanceHandler serves the scheduled-trigger endpoint. The external
// scheduler (a cron hitting this URL) authenticates with a shared secret
// passed as a query parameter, because typical cron-as-a-service offerings
// cannot set headers.
type MaintenanceHandler struct {
	roller Roller
	secret string
	logger *slog.Logger
}

// NewMaintenanceHandler creates a MaintenanceHandler guarded by secret.
func NewMaintenanceHandler(roller Roller, secret string, logger *slog.Logger) *MaintenanceHandler {
	return &MaintenanceHandler{
		roller: roller,
		secret: secret,
		logger: logger.With(slog.String("handler", "maintenance")),
	}
}

// Roll locks the previous period's market and opens the current one.
// Idempotent; safe to call on every scheduler tick.
// POST /api/maintenance/roll?secret=...
func (h *MaintenanceHandler) Roll(w http.ResponseWriter, r *http.Request) {
	got := r.URL.Query().Get("secret")
	if h.secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	report, err := h.roller.RollPeriod(r.Context(), time.Now())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "roll period", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "roll failed")
		return
	}

	writeJSON(w, http.StatusOK, report)
}
