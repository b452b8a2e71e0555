package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"vaxhunterbot/internal/engine"
	"vaxhunterbot/internal/store"
	ws "vaxhunterbot/internal/websocket"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(pgStore *store.PostgresStore, broadcaster *engine.Broadcaster, hub *ws.Hub, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	subHandler := NewSubscriptionHandler(pgStore)
	statsHandler := NewStatsHandler(pgStore, broadcaster, hub, logger)

	// Live activity feed for the dashboard
	r.Get("/ws", hub.HandleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler())
		r.Get("/subscriptions", subHandler.List)
		r.Get("/stats", statsHandler.Stats)
	})

	return r
}
