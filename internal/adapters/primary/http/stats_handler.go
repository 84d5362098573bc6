package http

import (
	"log/slog"
	"net/http"

	"github.com/code-craka/visa-manager-app-sub001/internal/core/ports"
)

// StatsHandler exposes the registry's connection counts for observability.
type StatsHandler struct {
	notifier ports.Notifier
	logger   *slog.Logger
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(notifier ports.Notifier, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{
		notifier: notifier,
		logger:   logger,
	}
}

// HandleStats returns the current connection totals, broken down per agency.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.notifier.GetConnectionStats())
}
