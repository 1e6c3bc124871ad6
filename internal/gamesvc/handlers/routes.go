package handlers

import (
	"os"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/jwtauth"
	log "github.com/sirupsen/logrus"
)

func (h *Handler) SetRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {

		// public routes, consul checks /v1/health
		r.Get("/health", h.HealthHandler)
		r.Get("/stats", h.StatsHandler)

		// Secure routes
		r.Group(func(r chi.Router) {
			r.Use(jwtauth.Verifier(h.tokenAuth))
			r.Use(jwtauth.Authenticator)

			r.Get("/claims", h.ClaimsHandler)
			r.Post("/claims/{gameId}/settle", h.SettleClaimHandler)
			r.Get("/matches", h.MatchesHandler)
		})
	})
}

func (h *Handler) InitAuth() {
	var jwtKey = os.Getenv("JWT_SECRET_KEY")
	h.tokenAuth = jwtauth.New("HS256", []byte(jwtKey), nil)

	expirationTime := time.Now().Add(7 * 24 * time.Hour).Unix()

	_, tokenString, _ := h.tokenAuth.Encode(map[string]interface{}{
		"service_id": 8003022,
		"exp":        expirationTime,
	})

	log.Debugf("DEBUG: JWT for testing expires soon : %s", tokenString)
}

// Token issues a service token signed with the configured key.
func (h *Handler) Token(claims map[string]interface{}) (string, error) {
	_, tokenString, err := h.tokenAuth.Encode(claims)
	return tokenString, err
}
