package routes

import (
	"github.com/avvvet/airhockey-services/internal/socketsvc/handlers"
	"github.com/avvvet/airhockey-services/internal/socketsvc/ws"
	"github.com/go-chi/chi"
)

// SetRoutes mounts the websocket endpoint and the health check consul polls.
func SetRoutes(r chi.Router, ws *ws.Ws) {
	h := handlers.NewHandler(ws)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/ws", h.HandleWebSocket)
		r.Get("/health", h.HealthHandler)
	})
}
