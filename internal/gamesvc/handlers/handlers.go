package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/avvvet/airhockey-services/internal/gamesvc/models"
	"github.com/avvvet/airhockey-services/internal/gamesvc/service"
	"github.com/go-chi/chi"
	"github.com/go-chi/jwtauth"
	log "github.com/sirupsen/logrus"
)

type Claims interface {
	Open(ctx context.Context, wallet string) ([]models.Claim, error)
	Settle(ctx context.Context, gameID, txRef string) (*models.Claim, error)
}

type Matches interface {
	Recent(ctx context.Context, wallet string, limit int64) ([]models.Match, error)
}

type StatsSource interface {
	Stats() service.Stats
}

type Handler struct {
	tokenAuth *jwtauth.JWTAuth
	claims    Claims
	matches   Matches
	stats     StatsSource
}

// NewHandler wires the HTTP surface. claims and matches may be nil when
// their stores are not configured; their routes then answer 503.
func NewHandler(stats StatsSource, claims Claims, matches Matches) *Handler {
	return &Handler{stats: stats, claims: claims, matches: matches}
}

type Response struct {
	Message string      `json:"message"`
	Code    int         `json:"code"`
	Data    interface{} `json:"data"`
	Error   string      `json:"error"`
}

func (h *Handler) CreateResponse(w http.ResponseWriter, rsp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rsp.Code)

	if err := json.NewEncoder(w).Encode(rsp); err != nil {
		log.Errorf("Failed to encode response: %v", err)
	}
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	h.CreateResponse(w, Response{
		Message: "game service is running at port " + os.Getenv("GAME_SERVICE_PORT"),
		Code:    http.StatusOK,
	})
}

func (h *Handler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	h.CreateResponse(w, Response{
		Message: "ok",
		Code:    http.StatusOK,
		Data:    h.stats.Stats(),
	})
}

// ClaimsHandler lists the open claims of a wallet.
func (h *Handler) ClaimsHandler(w http.ResponseWriter, r *http.Request) {
	if h.claims == nil {
		h.unavailable(w, "claims")
		return
	}
	wallet := r.URL.Query().Get("wallet")
	if wallet == "" {
		h.CreateResponse(w, Response{Code: http.StatusBadRequest, Error: "wallet is required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	claims, err := h.claims.Open(ctx, wallet)
	if err != nil {
		log.Errorf("Error listing claims of %s: %s", wallet, err)
		h.CreateResponse(w, Response{Code: http.StatusInternalServerError, Error: "unable to list claims"})
		return
	}
	if claims == nil {
		claims = []models.Claim{}
	}
	h.CreateResponse(w, Response{Message: "ok", Code: http.StatusOK, Data: claims})
}

// SettleClaimHandler closes a deferred settlement, either recording a payout
// the client already made or, in gateway mode only, paying it through the
// ledger. Wallet deployments require a txRef.
func (h *Handler) SettleClaimHandler(w http.ResponseWriter, r *http.Request) {
	if h.claims == nil {
		h.unavailable(w, "claims")
		return
	}
	gameID := chi.URLParam(r, "gameId")

	var body struct {
		TxRef string `json:"txRef"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.CreateResponse(w, Response{Code: http.StatusBadRequest, Error: "invalid request body"})
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	claim, err := h.claims.Settle(ctx, gameID, body.TxRef)
	switch {
	case errors.Is(err, service.ErrClaimNotFound):
		h.CreateResponse(w, Response{Code: http.StatusNotFound, Error: err.Error()})
	case errors.Is(err, service.ErrClaimResolved), errors.Is(err, service.ErrClaimInProgress):
		h.CreateResponse(w, Response{Code: http.StatusConflict, Error: err.Error()})
	case errors.Is(err, service.ErrTxRefRequired):
		h.CreateResponse(w, Response{Code: http.StatusBadRequest, Error: err.Error()})
	case err != nil:
		log.Errorf("Error settling claim of game %s: %s", gameID, err)
		h.CreateResponse(w, Response{Code: http.StatusBadGateway, Error: "settlement failed"})
	default:
		h.CreateResponse(w, Response{Message: "settled", Code: http.StatusOK, Data: claim})
	}
}

// MatchesHandler returns the recent match history of a wallet.
func (h *Handler) MatchesHandler(w http.ResponseWriter, r *http.Request) {
	if h.matches == nil {
		h.unavailable(w, "match history")
		return
	}
	wallet := r.URL.Query().Get("wallet")
	if wallet == "" {
		h.CreateResponse(w, Response{Code: http.StatusBadRequest, Error: "wallet is required"})
		return
	}
	limit, _ := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64)

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	matches, err := h.matches.Recent(ctx, wallet, limit)
	if err != nil {
		log.Errorf("Error listing matches of %s: %s", wallet, err)
		h.CreateResponse(w, Response{Code: http.StatusInternalServerError, Error: "unable to list matches"})
		return
	}
	if matches == nil {
		matches = []models.Match{}
	}
	h.CreateResponse(w, Response{Message: "ok", Code: http.StatusOK, Data: matches})
}

func (h *Handler) unavailable(w http.ResponseWriter, what string) {
	h.CreateResponse(w, Response{Code: http.StatusServiceUnavailable, Error: what + " not configured"})
}
