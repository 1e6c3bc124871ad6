package service

import (
	"context"
	"sync"
	"testing"
	"time"

	config "github.com/avvvet/airhockey-services/configs"
	"github.com/avvvet/airhockey-services/internal/comm"
	"github.com/avvvet/airhockey-services/internal/gamesvc/escrow"
	"github.com/avvvet/airhockey-services/internal/gamesvc/registry"
	"github.com/avvvet/airhockey-services/internal/gamesvc/room"
	"github.com/avvvet/airhockey-services/internal/gamesvc/rules"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	socket  string
	msgType string
	payload any
}

type recordingNotifier struct {
	mu         sync.Mutex
	frames     []frame
	broadcasts []frame
}

func (n *recordingNotifier) Notify(socketID, msgType string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.frames = append(n.frames, frame{socketID, msgType, payload})
}

func (n *recordingNotifier) Broadcast(msgType string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broadcasts = append(n.broadcasts, frame{"", msgType, payload})
}

func (n *recordingNotifier) find(socketID, msgType string) (any, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.frames) - 1; i >= 0; i-- {
		if n.frames[i].socket == socketID && n.frames[i].msgType == msgType {
			return n.frames[i].payload, true
		}
	}
	return nil, false
}

func (n *recordingNotifier) has(socketID, msgType string) bool {
	_, ok := n.find(socketID, msgType)
	return ok
}

func (n *recordingNotifier) lastStats() comm.QueueStats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.broadcasts[len(n.broadcasts)-1].payload.(comm.QueueStats)
}

type nopTimer struct{}

func (nopTimer) Stop() bool { return true }

// stillClock never fires timers.
type stillClock struct{ now time.Time }

func (c stillClock) Now() time.Time { return c.now }

func (c stillClock) AfterFunc(time.Duration, func()) room.Timer { return nopTimer{} }

type autoLedger struct {
	mu   sync.Mutex
	reqs []escrow.Request
}

func (l *autoLedger) Submit(ctx context.Context, req escrow.Request) (escrow.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reqs = append(l.reqs, req)
	if req.Op == escrow.OpCreate {
		return escrow.Receipt{GameID: "G1", TxRef: "tx-create"}, nil
	}
	return escrow.Receipt{GameID: req.GameID, TxRef: "tx-" + string(req.Op)}, nil
}

func (l *autoLedger) ops() []escrow.Op {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []escrow.Op
	for _, r := range l.reqs {
		out = append(out, r.Op)
	}
	return out
}

type memHistory struct {
	mu    sync.Mutex
	snaps []room.Snapshot
}

func (h *memHistory) RecordRoom(ctx context.Context, snap room.Snapshot) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snaps = append(h.snaps, snap)
	return nil
}

func (h *memHistory) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.snaps)
}

func testSettings() config.GameSettings {
	s := config.DefaultGameSettings()
	s.MinGameDuration = 0
	s.RoomGracePeriod = 0
	return s
}

func syncArena(t *testing.T) (*Arena, *recordingNotifier, *autoLedger, *memHistory) {
	t.Helper()
	n := &recordingNotifier{}
	ledger := &autoLedger{}
	history := &memHistory{}
	coord := escrow.NewCoordinator(ledger, escrow.WithExecutor(func(f func()) { f() }))
	a := NewArena(Deps{
		Settings: testSettings(),
		Notifier: n,
		Escrow:   coord,
		Registry: registry.New(0),
		History:  history,
		Clock:    stillClock{now: time.Now()},
	})
	return a, n, ledger, history
}

func stake(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestArena_MatchPlayAndSettle(t *testing.T) {
	a, n, ledger, history := syncArena(t)
	a.Connect("s1")
	a.Connect("s2")

	a.FindMatch("s1", comm.FindMatch{PlayerName: "alice", StakeAmount: stake("0.5"), WalletAddress: "w1"})
	assert.Equal(t, 1, a.Stats().Searching)
	a.FindMatch("s2", comm.FindMatch{PlayerName: "bob", StakeAmount: stake("0.50"), WalletAddress: "w2"})

	p, ok := n.find("s2", comm.MsgMatchFound)
	require.True(t, ok)
	found := p.(comm.MatchFound)
	assert.Equal(t, "alice", found.OpponentName)
	assert.True(t, n.has("s1", comm.MsgStartGame))
	assert.Equal(t, []escrow.Op{escrow.OpCreate, escrow.OpJoin}, ledger.ops())
	assert.Equal(t, 0, a.Stats().Searching)

	for i := 1; i <= 7; i++ {
		a.ScoreUpdate("s1", comm.ScoreReport{Player: string(rules.Player1), Score: i})
	}

	assert.True(t, n.has("s2", comm.MsgGameComplete))
	assert.True(t, n.has("s1", comm.MsgSettlementConfirmed))
	assert.Equal(t, []escrow.Op{escrow.OpCreate, escrow.OpJoin, escrow.OpSettle}, ledger.ops())

	a.GameComplete("s1", comm.GameCompleteClaim{Winner: string(rules.Player1)})
	assert.Len(t, ledger.ops(), 3, "repeat completion never settles again")

	require.Equal(t, 1, history.count())
	assert.Equal(t, room.Completed, history.snaps[0].Phase)
	require.Eventually(t, func() bool { return a.Stats().Rooms == 0 }, time.Second, 5*time.Millisecond)
}

func TestArena_StakeBounds(t *testing.T) {
	a, n, _, _ := syncArena(t)

	a.FindMatch("s1", comm.FindMatch{StakeAmount: stake("0")})
	p, ok := n.find("s1", comm.MsgMatchmakingError)
	require.True(t, ok)
	assert.Equal(t, "Invalid stake amount", p.(comm.ErrorNotice).Error)

	a.FindMatch("s1", comm.FindMatch{StakeAmount: stake("5000")})
	p, _ = n.find("s1", comm.MsgMatchmakingError)
	assert.Contains(t, p.(comm.ErrorNotice).Error, "maximum")
	assert.Equal(t, 0, a.Stats().Searching)
}

func TestArena_QueueStatsFollowConnections(t *testing.T) {
	a, n, _, _ := syncArena(t)

	a.Connect("s1")
	a.FindMatch("s1", comm.FindMatch{StakeAmount: stake("1")})
	assert.Equal(t, comm.QueueStats{OnlinePlayers: 1, Searching: 1}, n.lastStats())

	a.Disconnect("s1")
	assert.Equal(t, comm.QueueStats{OnlinePlayers: 0, Searching: 0}, n.lastStats())
}

func TestArena_PrivateRoomFlow(t *testing.T) {
	a, n, ledger, _ := syncArena(t)

	a.CreatePrivateRoom("s1", comm.CreatePrivateRoom{PlayerName: "alice", RoomCode: "abc123", StakeAmount: stake("2"), WalletAddress: "w1"})
	p, ok := n.find("s1", comm.MsgPrivateRoomCreated)
	require.True(t, ok)
	assert.Equal(t, "ABC123", p.(comm.PrivateRoomCreated).RoomId)

	a.CreatePrivateRoom("s9", comm.CreatePrivateRoom{RoomCode: "ABC123", StakeAmount: stake("2")})
	assert.True(t, n.has("s9", comm.MsgPrivateRoomError))

	a.GetRoomInfo("s2", "abc123")
	p, _ = n.find("s2", comm.MsgRoomInfo)
	assert.Equal(t, "alice", p.(comm.RoomInfo).HostName)

	a.GetRoomInfo("s2", "NOPE00")
	p, _ = n.find("s2", comm.MsgRoomInfo)
	assert.Equal(t, "Room not found", p.(comm.RoomInfo).Error)

	a.JoinRoom("s2", comm.JoinRoom{RoomId: "abc123", PlayerName: "bob", WalletAddress: "w2"})
	assert.True(t, n.has("s2", comm.MsgRoomJoined))
	assert.True(t, n.has("s1", comm.MsgPrivateRoomPlayerJoined))
	assert.True(t, n.has("s2", comm.MsgStartGame))
	assert.Equal(t, []escrow.Op{escrow.OpCreate, escrow.OpJoin}, ledger.ops())

	a.JoinRoom("s3", comm.JoinRoom{RoomId: "abc123"})
	p, _ = n.find("s3", comm.MsgJoinError)
	assert.Equal(t, "Room is full", p.(comm.ErrorNotice).Error)

	a.CancelGame("s1")
	p, _ = n.find("s1", comm.MsgGameError)
	assert.Equal(t, "The game has already started", p.(comm.GameError).Message)
}

func TestArena_CancelRoomRefundsHostStake(t *testing.T) {
	a, n, ledger, _ := syncArena(t)

	a.CreatePrivateRoom("s1", comm.CreatePrivateRoom{RoomCode: "ROOM42", GameId: "G7", TxRef: "tx", StakeAmount: stake("1")})
	a.JoinRoom("s2", comm.JoinRoom{RoomId: "ROOM42", GameId: "G8"})
	p, _ := n.find("s2", comm.MsgJoinError)
	assert.Equal(t, "Game ID mismatch", p.(comm.ErrorNotice).Error)

	a.CancelRoom("s2", "ROOM42")
	assert.True(t, n.has("s2", comm.MsgPrivateRoomError))

	a.CancelRoom("s1", "ROOM42")
	assert.True(t, n.has("s1", comm.MsgGameCancelled))
	assert.Equal(t, []escrow.Op{escrow.OpRefund}, ledger.ops())
}

func TestArena_WalletRelayRoundTrip(t *testing.T) {
	n := &recordingNotifier{}
	relay := escrow.NewWalletRelay(n)
	coord := escrow.NewCoordinator(relay, escrow.WithTimeout(5*time.Second))
	a := NewArena(Deps{
		Settings: testSettings(),
		Notifier: n,
		Escrow:   coord,
		Relay:    relay,
		Registry: registry.New(0),
		Clock:    stillClock{now: time.Now()},
	})

	a.FindMatch("s1", comm.FindMatch{PlayerName: "alice", StakeAmount: stake("1"), WalletAddress: "w1"})
	a.FindMatch("s2", comm.FindMatch{PlayerName: "bob", StakeAmount: stake("1"), WalletAddress: "w2"})

	p, ok := n.find("s1", comm.MsgMatchFound)
	require.True(t, ok)
	roomID := p.(comm.MatchFound).RoomId

	require.Eventually(t, func() bool { return n.has("s1", comm.MsgCreateStake) }, time.Second, 5*time.Millisecond)
	a.StakeCreated("s1", comm.StakeCreated{RoomId: roomID, GameId: "G1", TxRef: "tx1"})

	require.Eventually(t, func() bool { return n.has("s2", comm.MsgJoinBlockchainGame) }, time.Second, 5*time.Millisecond)
	a.StakeJoined("s2", comm.StakeJoined{RoomId: roomID, TxRef: "tx2"})

	require.Eventually(t, func() bool { return n.has("s1", comm.MsgStartGame) }, time.Second, 5*time.Millisecond)

	a.Disconnect("s2")
	assert.True(t, n.has("s1", comm.MsgPlayerDisconnected))

	require.Eventually(t, func() bool { return n.has("s1", comm.MsgSettleStake) }, time.Second, 5*time.Millisecond)
	prompt, _ := n.find("s1", comm.MsgSettleStake)
	assert.Equal(t, "w1", prompt.(comm.StakePrompt).WinnerWallet)

	a.Settled("s1", comm.TxConfirmed{RoomId: roomID, TxRef: "sig"})
	require.Eventually(t, func() bool { return n.has("s1", comm.MsgSettlementConfirmed) }, time.Second, 5*time.Millisecond)
}

func TestArena_DismissedStakeCancelsRoom(t *testing.T) {
	n := &recordingNotifier{}
	relay := escrow.NewWalletRelay(n)
	coord := escrow.NewCoordinator(relay, escrow.WithTimeout(5*time.Second))
	a := NewArena(Deps{Settings: testSettings(), Notifier: n, Escrow: coord, Relay: relay, Clock: stillClock{now: time.Now()}})

	a.FindMatch("s1", comm.FindMatch{StakeAmount: stake("1")})
	a.FindMatch("s2", comm.FindMatch{StakeAmount: stake("1")})
	require.Eventually(t, func() bool { return n.has("s1", comm.MsgCreateStake) }, time.Second, 5*time.Millisecond)

	a.TransactionFailed("s1", comm.TransactionFailed{Reason: "User rejected the request", Cancelled: true})

	require.Eventually(t, func() bool { return n.has("s2", comm.MsgTransactionFailed) }, time.Second, 5*time.Millisecond)
	assert.True(t, n.has("s1", comm.MsgGameCancelled))
}

// gatedLedger creates G1 at once and holds every join until release closes,
// then fails it.
type gatedLedger struct {
	release chan struct{}

	mu   sync.Mutex
	reqs []escrow.Request
}

func (l *gatedLedger) Submit(ctx context.Context, req escrow.Request) (escrow.Receipt, error) {
	l.mu.Lock()
	l.reqs = append(l.reqs, req)
	l.mu.Unlock()

	switch req.Op {
	case escrow.OpCreate:
		return escrow.Receipt{GameID: "G1", TxRef: "tx-create"}, nil
	case escrow.OpJoin:
		<-l.release
		return escrow.Receipt{}, &escrow.TxError{Op: escrow.OpJoin, Reason: "insufficient funds"}
	}
	return escrow.Receipt{GameID: req.GameID, TxRef: "tx-" + string(req.Op)}, nil
}

func (l *gatedLedger) saw(op escrow.Op) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.reqs {
		if r.Op == op {
			return true
		}
	}
	return false
}

type recordingClaims struct {
	mu       sync.Mutex
	resolved []string
}

func (c *recordingClaims) Resolve(ctx context.Context, gameID string, kind escrow.Op, txRef string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolved = append(c.resolved, gameID+"/"+string(kind)+"/"+txRef)
	return true, nil
}

func (c *recordingClaims) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.resolved...)
}

func walletArena(t *testing.T, timeout time.Duration) (*Arena, *recordingNotifier, *recordingClaims) {
	t.Helper()
	n := &recordingNotifier{}
	relay := escrow.NewWalletRelay(n)
	claims := &recordingClaims{}
	a := NewArena(Deps{
		Settings: testSettings(),
		Notifier: n,
		Escrow:   escrow.NewCoordinator(relay, escrow.WithTimeout(timeout)),
		Relay:    relay,
		Registry: registry.New(time.Minute),
		Claims:   claims,
		Clock:    stillClock{now: time.Now()},
	})
	return a, n, claims
}

func phaseOf(a *Arena, socketID string) room.Phase {
	r, ok := a.rooms.Lookup(socketID)
	if !ok {
		return room.Phase(-1)
	}
	return r.Phase()
}

func settlementOf(a *Arena, socketID string) room.SettleState {
	r, ok := a.rooms.Lookup(socketID)
	if !ok {
		return room.SettleNone
	}
	return r.Snapshot().Settlement.State
}

// walletWin stakes both players through wallet prompts and plays s1 to a win
// whose first payout attempt fails.
func walletWin(t *testing.T, a *Arena, n *recordingNotifier) string {
	t.Helper()
	a.Connect("s1")
	a.Connect("s2")
	a.FindMatch("s1", comm.FindMatch{PlayerName: "alice", StakeAmount: stake("1"), WalletAddress: "w1"})
	a.FindMatch("s2", comm.FindMatch{PlayerName: "bob", StakeAmount: stake("1"), WalletAddress: "w2"})
	p, ok := n.find("s1", comm.MsgMatchFound)
	require.True(t, ok)
	roomID := p.(comm.MatchFound).RoomId

	require.Eventually(t, func() bool { return n.has("s1", comm.MsgCreateStake) }, time.Second, 5*time.Millisecond)
	a.StakeCreated("s1", comm.StakeCreated{RoomId: roomID, GameId: "G1", TxRef: "tx1"})
	require.Eventually(t, func() bool { return n.has("s2", comm.MsgJoinBlockchainGame) }, time.Second, 5*time.Millisecond)
	a.StakeJoined("s2", comm.StakeJoined{RoomId: roomID, TxRef: "tx2"})
	require.Eventually(t, func() bool { return phaseOf(a, "s1") == room.Active }, time.Second, 5*time.Millisecond)

	for i := 1; i <= 7; i++ {
		a.ScoreUpdate("s1", comm.ScoreReport{Player: string(rules.Player1), Score: i})
	}
	require.Eventually(t, func() bool { return n.has("s1", comm.MsgSettleStake) }, time.Second, 5*time.Millisecond)
	a.TransactionFailed("s1", comm.TransactionFailed{RoomId: roomID, Reason: "rpc down"})
	require.Eventually(t, func() bool { return settlementOf(a, "s1") == room.SettleAwaitingRetry }, time.Second, 5*time.Millisecond)
	return roomID
}

func TestArena_GatewayIgnoresClientStakeConfirmations(t *testing.T) {
	n := &recordingNotifier{}
	ledger := &gatedLedger{release: make(chan struct{})}
	a := NewArena(Deps{
		Settings: testSettings(),
		Notifier: n,
		Escrow:   escrow.NewCoordinator(ledger, escrow.WithTimeout(5*time.Second)),
		Registry: registry.New(time.Minute),
		Clock:    stillClock{now: time.Now()},
	})

	a.FindMatch("s1", comm.FindMatch{StakeAmount: stake("1")})
	a.FindMatch("s2", comm.FindMatch{StakeAmount: stake("1")})
	p, ok := n.find("s2", comm.MsgMatchFound)
	require.True(t, ok)
	roomID := p.(comm.MatchFound).RoomId
	require.Eventually(t, func() bool { return ledger.saw(escrow.OpJoin) }, time.Second, 5*time.Millisecond)

	a.StakeCreated("s1", comm.StakeCreated{RoomId: roomID, GameId: "FAKE", TxRef: "tx"})
	a.StakeJoined("s2", comm.StakeJoined{RoomId: roomID, TxRef: "tx"})

	assert.Equal(t, room.MatchedPendingEscrow, phaseOf(a, "s2"), "a client claim is not a stake")
	assert.False(t, n.has("s1", comm.MsgStartGame))
	r, _ := a.rooms.Lookup("s1")
	assert.Equal(t, "G1", r.Snapshot().Escrow.GameID)

	close(ledger.release)
	require.Eventually(t, func() bool { return phaseOf(a, "s2") == room.Cancelled }, time.Second, 5*time.Millisecond)
	assert.True(t, n.has("s1", comm.MsgTransactionFailed))
	assert.True(t, n.has("s2", comm.MsgGameCancelled))
}

func TestArena_WalletIgnoresUnpromptedStakeJoin(t *testing.T) {
	a, n, _ := walletArena(t, 5*time.Second)

	a.FindMatch("s1", comm.FindMatch{StakeAmount: stake("1")})
	a.FindMatch("s2", comm.FindMatch{StakeAmount: stake("1")})
	p, _ := n.find("s1", comm.MsgMatchFound)
	roomID := p.(comm.MatchFound).RoomId
	require.Eventually(t, func() bool { return n.has("s1", comm.MsgCreateStake) }, time.Second, 5*time.Millisecond)

	a.StakeJoined("s2", comm.StakeJoined{RoomId: roomID, TxRef: "early"})

	a.StakeCreated("s1", comm.StakeCreated{RoomId: roomID, GameId: "G1", TxRef: "tx1"})
	require.Eventually(t, func() bool { return n.has("s2", comm.MsgJoinBlockchainGame) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, room.MatchedPendingEscrow, phaseOf(a, "s2"))
	assert.False(t, n.has("s1", comm.MsgStartGame))

	a.TransactionFailed("s2", comm.TransactionFailed{RoomId: roomID, Reason: "User rejected the request", Cancelled: true})
	require.Eventually(t, func() bool { return phaseOf(a, "s2") == room.Cancelled }, time.Second, 5*time.Millisecond)
	assert.True(t, n.has("s1", comm.MsgTransactionFailed))
}

func TestArena_LateConfirmationOfExpiredPromptIsRefunded(t *testing.T) {
	a, n, _ := walletArena(t, 20*time.Millisecond)

	a.FindMatch("s1", comm.FindMatch{StakeAmount: stake("1")})
	a.FindMatch("s2", comm.FindMatch{StakeAmount: stake("1")})
	p, _ := n.find("s1", comm.MsgMatchFound)
	roomID := p.(comm.MatchFound).RoomId
	require.Eventually(t, func() bool { return phaseOf(a, "s1") == room.Cancelled }, time.Second, 5*time.Millisecond)

	a.StakeCreated("s1", comm.StakeCreated{RoomId: roomID, GameId: "G1", TxRef: "late"})

	require.Eventually(t, func() bool { return n.has("s1", comm.MsgRefundStake) }, time.Second, 5*time.Millisecond)
	prompt, _ := n.find("s1", comm.MsgRefundStake)
	assert.Equal(t, "G1", prompt.(comm.StakePrompt).GameId)
	assert.Equal(t, room.Cancelled, phaseOf(a, "s1"))
}

func TestArena_OnlyWinnerReportsDeferredPayout(t *testing.T) {
	a, n, claims := walletArena(t, 5*time.Second)
	roomID := walletWin(t, a, n)

	a.Settled("s2", comm.TxConfirmed{RoomId: roomID, TxRef: "bogus"})
	assert.Equal(t, room.SettleAwaitingRetry, settlementOf(a, "s1"))
	assert.Empty(t, claims.all())

	a.DeferSettlement("s1")
	require.Equal(t, room.SettleDeferred, settlementOf(a, "s1"))

	a.Settled("s2", comm.TxConfirmed{RoomId: roomID, TxRef: "bogus"})
	assert.Equal(t, room.SettleDeferred, settlementOf(a, "s1"))
	assert.Empty(t, claims.all())

	a.Settled("s1", comm.TxConfirmed{RoomId: roomID, TxRef: "paid"})
	assert.Equal(t, room.SettleSettled, settlementOf(a, "s1"))
	assert.Equal(t, []string{"G1/settle/paid"}, claims.all())
}

func TestArena_WinnerAwaitingRetryStaysInRoom(t *testing.T) {
	a, n, _ := walletArena(t, 5*time.Second)
	roomID := walletWin(t, a, n)

	a.FindMatch("s1", comm.FindMatch{StakeAmount: stake("1")})
	p, ok := n.find("s1", comm.MsgMatchmakingError)
	require.True(t, ok)
	assert.Equal(t, "Already in a game", p.(comm.ErrorNotice).Error)

	a.FindMatch("s2", comm.FindMatch{StakeAmount: stake("1")})
	assert.Equal(t, 1, a.Stats().Searching, "the loser is free to queue")
	a.CancelMatchmaking("s2")

	r, ok := a.rooms.Lookup("s1")
	require.True(t, ok)
	assert.Equal(t, roomID, r.ID)

	a.RetrySettlement("s1")
	require.Eventually(t, func() bool {
		p, ok := n.find("s1", comm.MsgSettleStake)
		return ok && p.(comm.StakePrompt).Attempt == 2
	}, time.Second, 5*time.Millisecond)

	a.Settled("s1", comm.TxConfirmed{RoomId: roomID, TxRef: "sig"})
	require.Eventually(t, func() bool { return settlementOf(a, "s1") == room.SettleSettled }, time.Second, 5*time.Millisecond)
}
