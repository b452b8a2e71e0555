package api

import (
	"log/slog"
	"net/http"

	"vaxhunterbot/internal/engine"
	"vaxhunterbot/internal/store"
	ws "vaxhunterbot/internal/websocket"
)

type StatsHandler struct {
	store       *store.PostgresStore
	broadcaster *engine.Broadcaster
	hub         *ws.Hub
	logger      *slog.Logger
}

func NewStatsHandler(s *store.PostgresStore, b *engine.Broadcaster, hub *ws.Hub, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{store: s, broadcaster: b, hub: hub, logger: logger}
}

// Stats returns aggregated subscription metrics for the dashboard: total
// rows, the busiest postal codes, queue depth, and connected clients.
func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	total, err := h.store.CountSubscriptions(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to count subscriptions")
		return
	}

	breakdown, err := h.store.PostalCodeBreakdown(r.Context(), 10)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get postal code breakdown")
		return
	}

	queueDepth, err := h.broadcaster.QueueDepth(r.Context())
	if err != nil {
		// Don't fail the whole stats page over the queue gauge, but make the
		// outage visible in the log.
		h.logger.Warn("queue depth unavailable", "error", err)
		queueDepth = 0
	}

	type statsResponse struct {
		TotalSubscriptions int                     `json:"total_subscriptions"`
		TopPostalCodes     []store.PostalCodeCount `json:"top_postal_codes"`
		NotifyQueueDepth   int64                   `json:"notify_queue_depth"`
		WebSocketClients   int                     `json:"websocket_clients"`
	}

	respondJSON(w, http.StatusOK, statsResponse{
		TotalSubscriptions: total,
		TopPostalCodes:     breakdown,
		NotifyQueueDepth:   queueDepth,
		WebSocketClients:   h.hub.ClientCount(),
	})
}
