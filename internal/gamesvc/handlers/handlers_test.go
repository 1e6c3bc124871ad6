package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/avvvet/airhockey-services/internal/gamesvc/models"
	"github.com/avvvet/airhockey-services/internal/gamesvc/service"
	"github.com/go-chi/chi"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedStats struct{}

func (fixedStats) Stats() service.Stats { return service.Stats{Online: 3, Searching: 1, Rooms: 1} }

type fakeClaims struct {
	open      []models.Claim
	settleErr error
	gotTxRef  string
}

func (f *fakeClaims) Open(ctx context.Context, wallet string) ([]models.Claim, error) {
	return f.open, nil
}

func (f *fakeClaims) Settle(ctx context.Context, gameID, txRef string) (*models.Claim, error) {
	f.gotTxRef = txRef
	if f.settleErr != nil {
		return nil, f.settleErr
	}
	return &models.Claim{GameID: gameID, Status: models.ClaimResolved, TxRef: &txRef}, nil
}

type fakeMatches struct{ gotLimit int64 }

func (f *fakeMatches) Recent(ctx context.Context, wallet string, limit int64) ([]models.Match, error) {
	f.gotLimit = limit
	return []models.Match{{RoomID: "ABC123", Winner: "player1"}}, nil
}

func newServer(t *testing.T, claims Claims, matches Matches) (*httptest.Server, string) {
	t.Helper()
	t.Setenv("JWT_SECRET_KEY", "test-secret")

	h := NewHandler(fixedStats{}, claims, matches)
	h.InitAuth()
	r := chi.NewRouter()
	h.SetRoutes(r)

	token, err := h.Token(map[string]interface{}{
		"service_id": 1,
		"exp":        time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, token
}

func do(t *testing.T, method, url, token, body string) (*http.Response, Response) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "BEARER "+token)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var rsp Response
	if res.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(res.Body).Decode(&rsp))
	}
	return res, rsp
}

func TestHealthAndStatsArePublic(t *testing.T) {
	srv, _ := newServer(t, nil, nil)

	res, _ := do(t, http.MethodGet, srv.URL+"/v1/health", "", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, rsp := do(t, http.MethodGet, srv.URL+"/v1/stats", "", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, float64(3), rsp.Data.(map[string]interface{})["online"])
}

func TestClaimsRequireToken(t *testing.T) {
	srv, _ := newServer(t, &fakeClaims{}, nil)

	res, _ := do(t, http.MethodGet, srv.URL+"/v1/claims?wallet=w1", "", "")
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestClaimsList(t *testing.T) {
	claims := &fakeClaims{open: []models.Claim{{GameID: "G1", Wallet: "w1", Stake: decimal.NewFromInt(1), Status: models.ClaimDeferred}}}
	srv, token := newServer(t, claims, nil)

	res, rsp := do(t, http.MethodGet, srv.URL+"/v1/claims?wallet=w1", token, "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Len(t, rsp.Data, 1)

	res, _ = do(t, http.MethodGet, srv.URL+"/v1/claims", token, "")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestSettleClaim(t *testing.T) {
	claims := &fakeClaims{}
	srv, token := newServer(t, claims, nil)

	res, rsp := do(t, http.MethodPost, srv.URL+"/v1/claims/G1/settle", token, `{"txRef":"0xabc"}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "settled", rsp.Message)
	assert.Equal(t, "0xabc", claims.gotTxRef)

	res, _ = do(t, http.MethodPost, srv.URL+"/v1/claims/G1/settle", token, `{"txRef":`)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestSettleClaim_ErrorCodes(t *testing.T) {
	cases := map[error]int{
		service.ErrClaimNotFound:   http.StatusNotFound,
		service.ErrClaimResolved:   http.StatusConflict,
		service.ErrClaimInProgress: http.StatusConflict,
		service.ErrTxRefRequired:   http.StatusBadRequest,
		errors.New("ledger down"):  http.StatusBadGateway,
	}
	for err, code := range cases {
		srv, token := newServer(t, &fakeClaims{settleErr: err}, nil)
		res, _ := do(t, http.MethodPost, srv.URL+"/v1/claims/G1/settle", token, "")
		assert.Equal(t, code, res.StatusCode, err.Error())
	}
}

func TestMatches(t *testing.T) {
	matches := &fakeMatches{}
	srv, token := newServer(t, nil, matches)

	res, rsp := do(t, http.MethodGet, srv.URL+"/v1/matches?wallet=w1&limit=5", token, "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Len(t, rsp.Data, 1)
	assert.Equal(t, int64(5), matches.gotLimit)

	res, _ = do(t, http.MethodGet, srv.URL+"/v1/claims?wallet=w1", token, "")
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
}
