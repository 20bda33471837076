package maintenance

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"

	"cms-auth/internal/observability"
)

// LockSweeper resets lockout fields whose lock window has already elapsed.
type LockSweeper interface {
	SweepExpiredLocks(ctx context.Context, limit int) (int, error)
}

// SweepHandler is a cron-triggered endpoint. Expired locks already behave as
// open during login, so sweeping only tidies the stored counters.
type SweepHandler struct {
	sweeper    LockSweeper
	logger     *observability.Logger
	cronSecret string
	batchSize  int
}

func NewSweepHandler(sweeper LockSweeper, logger *observability.Logger, cronSecret string, batchSize int) *SweepHandler {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &SweepHandler{
		sweeper:    sweeper,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
		batchSize:  batchSize,
	}
}

func (h *SweepHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "not found"})
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") ||
		subtle.ConstantTimeCompare([]byte(strings.TrimSpace(parts[1])), []byte(h.cronSecret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "unauthorized"})
		return
	}

	cleared, err := h.sweeper.SweepExpiredLocks(r.Context(), h.batchSize)
	if err != nil {
		sentry.CaptureException(err)
		h.logger.Error("lock_sweep_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "message": "sweep failed"})
		return
	}

	h.logger.Info("lock_sweep_completed", map[string]any{"cleared_locks": cleared})

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    map[string]any{"clearedLocks": cleared},
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
