package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/avvvet/airhockey-services/internal/gamesvc/escrow"
	"github.com/avvvet/airhockey-services/internal/gamesvc/models"
	"github.com/avvvet/airhockey-services/internal/gamesvc/room"
	"github.com/avvvet/airhockey-services/internal/gamesvc/rules"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memClaimStore struct {
	mu     sync.Mutex
	claims map[string]*models.Claim
}

func newMemClaimStore() *memClaimStore {
	return &memClaimStore{claims: map[string]*models.Claim{}}
}

func (m *memClaimStore) Save(ctx context.Context, c models.Claim) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = int64(len(m.claims) + 1)
	c.Status = models.ClaimDeferred
	m.claims[c.GameID+"/"+c.Kind] = &c
	return c.ID, nil
}

func (m *memClaimStore) ListOpen(ctx context.Context, wallet string) ([]models.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Claim
	for _, c := range m.claims {
		if c.Status == models.ClaimDeferred && (wallet == "" || c.Wallet == wallet) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memClaimStore) Get(ctx context.Context, gameID, kind string) (*models.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[gameID+"/"+kind]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *memClaimStore) move(gameID, kind, from, to string) (*models.Claim, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[gameID+"/"+kind]
	if !ok || c.Status != from {
		return nil, false
	}
	c.Status = to
	return c, true
}

func (m *memClaimStore) Resolve(ctx context.Context, gameID, kind, txRef string) (bool, error) {
	c, ok := m.move(gameID, kind, models.ClaimDeferred, models.ClaimResolved)
	if ok {
		c.TxRef = &txRef
	}
	return ok, nil
}

func (m *memClaimStore) Begin(ctx context.Context, gameID, kind string) (bool, error) {
	_, ok := m.move(gameID, kind, models.ClaimDeferred, models.ClaimSettling)
	return ok, nil
}

func (m *memClaimStore) Release(ctx context.Context, gameID, kind string) error {
	m.move(gameID, kind, models.ClaimSettling, models.ClaimDeferred)
	return nil
}

func (m *memClaimStore) Finish(ctx context.Context, gameID, kind, txRef string) (bool, error) {
	c, ok := m.move(gameID, kind, models.ClaimSettling, models.ClaimResolved)
	if ok {
		c.TxRef = &txRef
	}
	return ok, nil
}

func (m *memClaimStore) status(gameID, kind string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claims[gameID+"/"+kind].Status
}

type stubExecutor struct {
	req   escrow.Request
	err   error
	calls int
	// entered and release, when set, hold Execute open
	entered chan struct{}
	release chan struct{}
}

func (s *stubExecutor) Execute(ctx context.Context, req escrow.Request) (escrow.Receipt, error) {
	s.req = req
	s.calls++
	if s.entered != nil {
		close(s.entered)
		<-s.release
	}
	if s.err != nil {
		return escrow.Receipt{}, s.err
	}
	return escrow.Receipt{GameID: req.GameID, TxRef: "manual-sig"}, nil
}

func TestClaimService_SaveAndSettleWithTxRef(t *testing.T) {
	store := newMemClaimStore()
	svc := NewClaimService(store, nil)
	ctx := context.Background()

	require.NoError(t, svc.SaveClaim(ctx, escrow.Claim{
		GameID: "G1", RoomID: "R1", Kind: escrow.OpSettle, Wallet: "w1",
		Stake: decimal.NewFromInt(1), Payout: decimal.RequireFromString("1.9"), CreatedAt: time.Now(),
	}))

	open, err := svc.Open(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "1.9", open[0].Payout.String())

	claim, err := svc.Settle(ctx, "G1", "client-sig")
	require.NoError(t, err)
	assert.Equal(t, models.ClaimResolved, claim.Status)
	assert.Equal(t, "client-sig", *claim.TxRef)

	_, err = svc.Settle(ctx, "G1", "again")
	assert.ErrorIs(t, err, ErrClaimResolved)

	_, err = svc.Settle(ctx, "missing", "x")
	assert.ErrorIs(t, err, ErrClaimNotFound)
}

func TestClaimService_SettleThroughLedger(t *testing.T) {
	store := newMemClaimStore()
	exec := &stubExecutor{}
	svc := NewClaimService(store, exec)
	ctx := context.Background()

	_, _ = store.Save(ctx, models.Claim{GameID: "G2", Kind: string(escrow.OpSettle), Wallet: "w2", Attempts: 3})

	claim, err := svc.Settle(ctx, "G2", "")
	require.NoError(t, err)
	assert.Equal(t, "manual-sig", *claim.TxRef)
	assert.Equal(t, escrow.OpSettle, exec.req.Op)
	assert.Equal(t, "w2", exec.req.WinnerWallet)
	assert.Equal(t, 4, exec.req.Attempt)
}

func TestClaimService_LedgerFailureKeepsClaimOpen(t *testing.T) {
	store := newMemClaimStore()
	svc := NewClaimService(store, &stubExecutor{err: errors.New("rpc down")})
	ctx := context.Background()
	_, _ = store.Save(ctx, models.Claim{GameID: "G3", Kind: string(escrow.OpSettle), Wallet: "w3"})

	_, err := svc.Settle(ctx, "G3", "")
	assert.Error(t, err)

	open, _ := svc.Open(ctx, "")
	assert.Len(t, open, 1)
	assert.Equal(t, models.ClaimDeferred, store.status("G3", "settle"))
}

func TestClaimService_WalletModeNeedsTxRef(t *testing.T) {
	store := newMemClaimStore()
	svc := NewClaimService(store, nil)
	ctx := context.Background()
	_, _ = store.Save(ctx, models.Claim{GameID: "G4", Kind: string(escrow.OpSettle), Wallet: "w4"})

	_, err := svc.Settle(ctx, "G4", "")
	assert.ErrorIs(t, err, ErrTxRefRequired)
	assert.Equal(t, models.ClaimDeferred, store.status("G4", "settle"))

	claim, err := svc.Settle(ctx, "G4", "client-sig")
	require.NoError(t, err)
	assert.Equal(t, "client-sig", *claim.TxRef)
}

func TestClaimService_ConcurrentSettlePaysOnce(t *testing.T) {
	store := newMemClaimStore()
	exec := &stubExecutor{entered: make(chan struct{}), release: make(chan struct{})}
	svc := NewClaimService(store, exec)
	ctx := context.Background()
	_, _ = store.Save(ctx, models.Claim{GameID: "G5", Kind: string(escrow.OpSettle), Wallet: "w5"})

	type result struct {
		claim *models.Claim
		err   error
	}
	first := make(chan result, 1)
	go func() {
		c, err := svc.Settle(ctx, "G5", "")
		first <- result{c, err}
	}()
	<-exec.entered
	assert.Equal(t, models.ClaimSettling, store.status("G5", "settle"))

	_, err := svc.Settle(ctx, "G5", "")
	assert.ErrorIs(t, err, ErrClaimInProgress)
	_, err = svc.Settle(ctx, "G5", "client-sig")
	assert.ErrorIs(t, err, ErrClaimInProgress, "a recorded payout cannot race the ledger")

	close(exec.release)
	res := <-first
	require.NoError(t, res.err)
	assert.Equal(t, "manual-sig", *res.claim.TxRef)
	assert.Equal(t, 1, exec.calls)
	assert.Equal(t, models.ClaimResolved, store.status("G5", "settle"))
}

type memMatchStore struct {
	matches []models.Match
	limit   int64
}

func (m *memMatchStore) Record(ctx context.Context, match models.Match) error {
	m.matches = append(m.matches, match)
	return nil
}

func (m *memMatchStore) Recent(ctx context.Context, wallet string, limit int64) ([]models.Match, error) {
	m.limit = limit
	return m.matches, nil
}

func TestMatchService_RecordRoom(t *testing.T) {
	store := &memMatchStore{}
	svc := NewMatchService(store)
	end := time.Now()

	require.NoError(t, svc.RecordRoom(context.Background(), room.Snapshot{ID: "R0", Slots: []room.SlotView{{Number: 1}}}))
	assert.Empty(t, store.matches, "rooms without an opponent are skipped")

	snap := room.Snapshot{
		ID:     "R1",
		Phase:  room.Forfeited,
		Reason: room.ReasonDisconnect,
		Slots: []room.SlotView{
			{Number: 1, Name: "alice", Wallet: "w1"},
			{Number: 2, Name: "bob", Wallet: "w2"},
		},
		Scores:     [2]int{2, 1},
		Escrow:     room.EscrowRef{GameID: "G1", Stake: decimal.RequireFromString("0.5")},
		Settlement: room.Settlement{State: room.SettleSettled, TxRef: "sig"},
		Result:     &room.Result{Winner: rules.Player1, WinnerWallet: "w1", Payout: decimal.RequireFromString("0.95")},
		StartedAt:  end.Add(-time.Minute),
		EndedAt:    end,
	}
	require.NoError(t, svc.RecordRoom(context.Background(), snap))
	require.Len(t, store.matches, 1)

	m := store.matches[0]
	assert.Equal(t, "forfeited", m.Outcome)
	assert.Equal(t, "settled", m.Settlement)
	assert.Equal(t, "0.95", m.Payout)
	assert.Equal(t, "player1", m.Winner)
	assert.Len(t, m.Players, 2)

	_, _ = svc.Recent(context.Background(), "w1", 0)
	assert.Equal(t, int64(20), store.limit)
}
