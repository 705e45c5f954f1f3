package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/iudanet/toolsync/pkg/api"
)

// healthPingTimeout ограничивает проверку базы в health check
const healthPingTimeout = 2 * time.Second

// Pinger проверяет доступность хранилища
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler обрабатывает health check запросы
type HealthHandler struct {
	logger *slog.Logger
	db     Pinger
}

// NewHealthHandler создает новый handler для health check
func NewHealthHandler(logger *slog.Logger, db Pinger) *HealthHandler {
	return &HealthHandler{
		logger: logger,
		db:     db,
	}
}

// Health обрабатывает GET /healthz
// Возвращает 503, если база данных недоступна.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.logger.Error("Health check failed", "error", err)
		writeJSON(w, h.logger, http.StatusServiceUnavailable, api.HealthResponse{
			Status:   "unavailable",
			Database: "unreachable",
		})
		return
	}

	writeJSON(w, h.logger, http.StatusOK, api.HealthResponse{Status: "ok", Database: "ok"})
}
