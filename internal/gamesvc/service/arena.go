package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	config "github.com/avvvet/airhockey-services/configs"
	"github.com/avvvet/airhockey-services/internal/comm"
	"github.com/avvvet/airhockey-services/internal/gamesvc/escrow"
	"github.com/avvvet/airhockey-services/internal/gamesvc/matchmaking"
	"github.com/avvvet/airhockey-services/internal/gamesvc/registry"
	"github.com/avvvet/airhockey-services/internal/gamesvc/room"
	"github.com/avvvet/airhockey-services/internal/gamesvc/rules"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// ClaimResolver closes a deferred claim once the client paid it out.
type ClaimResolver interface {
	Resolve(ctx context.Context, gameID string, kind escrow.Op, txRef string) (bool, error)
}

// HistoryRecorder stores finished rooms.
type HistoryRecorder interface {
	RecordRoom(ctx context.Context, snap room.Snapshot) error
}

type Deps struct {
	Settings config.GameSettings
	Notifier comm.Notifier
	Escrow   *escrow.Coordinator
	// Relay is set in wallet mode; confirmations from clients resolve its prompts.
	Relay    *escrow.WalletRelay
	Registry *registry.Registry
	Claims   ClaimResolver
	History  HistoryRecorder
	Clock    room.Clock
}

type Stats struct {
	Online    int `json:"online"`
	Searching int `json:"searching"`
	Rooms     int `json:"rooms"`
}

// Arena routes player requests to the queue and to rooms.
type Arena struct {
	settings config.GameSettings
	notifier comm.Notifier
	escrow   *escrow.Coordinator
	relay    *escrow.WalletRelay
	rooms    *registry.Registry
	claims   ClaimResolver
	history  HistoryRecorder
	clock    room.Clock
	queue    *matchmaking.Queue

	mu     sync.Mutex
	online map[string]struct{}
}

func NewArena(d Deps) *Arena {
	a := &Arena{
		settings: d.Settings,
		notifier: d.Notifier,
		escrow:   d.Escrow,
		relay:    d.Relay,
		rooms:    d.Registry,
		claims:   d.Claims,
		history:  d.History,
		clock:    d.Clock,
		online:   make(map[string]struct{}),
	}
	if a.clock == nil {
		a.clock = room.RealClock()
	}
	if a.rooms == nil {
		a.rooms = registry.New(d.Settings.RoomGracePeriod)
	}
	a.queue = matchmaking.NewQueue(func(int) { a.broadcastStats() })
	return a
}

func (a *Arena) Stats() Stats {
	a.mu.Lock()
	online := len(a.online)
	a.mu.Unlock()
	return Stats{Online: online, Searching: a.queue.Searching(), Rooms: a.rooms.Len()}
}

func (a *Arena) Connect(socketID string) {
	a.mu.Lock()
	a.online[socketID] = struct{}{}
	a.mu.Unlock()
	a.broadcastStats()
}

// Disconnect leaves the queue and the room. The room resolves first, so a
// wallet prompt failed by the disconnect lands on a resolved room.
func (a *Arena) Disconnect(socketID string) {
	a.mu.Lock()
	delete(a.online, socketID)
	a.mu.Unlock()

	a.queue.Dequeue(socketID)
	if r, ok := a.rooms.Lookup(socketID); ok {
		r.Disconnect(socketID)
		a.rooms.Detach(socketID)
	}
	if a.relay != nil {
		a.relay.Disconnect(socketID)
	}
	a.broadcastStats()
}

// Touch marks socket activity for waiting rooms.
func (a *Arena) Touch(socketID string) {
	if r, ok := a.rooms.Lookup(socketID); ok && r.Phase() == room.WaitingForPlayer {
		r.Touch(socketID)
	}
}

func (a *Arena) FindMatch(socketID string, req comm.FindMatch) {
	if msg := a.checkStake(req.StakeAmount); msg != "" {
		a.notify(socketID, comm.MsgMatchmakingError, comm.ErrorNotice{Error: msg})
		return
	}
	if a.busy(socketID) {
		a.notify(socketID, comm.MsgMatchmakingError, comm.ErrorNotice{Error: "Already in a game"})
		return
	}

	m, ok := a.queue.Enqueue(matchmaking.Entry{
		SocketID:   socketID,
		Name:       req.PlayerName,
		Wallet:     req.WalletAddress,
		Stake:      req.StakeAmount,
		EnqueuedAt: a.clock.Now(),
	})
	if !ok {
		return
	}

	r, err := a.newRoom(m.Host.Stake, false, "")
	if err != nil {
		log.Errorf("Error creating room for %s and %s: %s", m.Host.SocketID, m.Guest.SocketID, err)
		return
	}
	a.rooms.Attach(m.Host.SocketID, r.ID)
	a.rooms.Attach(m.Guest.SocketID, r.ID)

	host := room.Player{SocketID: m.Host.SocketID, Name: m.Host.Name, Wallet: m.Host.Wallet}
	guest := room.Player{SocketID: m.Guest.SocketID, Name: m.Guest.Name, Wallet: m.Guest.Wallet}
	if err := r.Match(host, guest); err != nil {
		log.Errorf("Error seating match in room %s: %s", r.ID, err)
	}
}

func (a *Arena) CancelMatchmaking(socketID string) {
	if a.queue.Dequeue(socketID) {
		log.Infof("player %s left matchmaking", socketID)
	}
}

func (a *Arena) CreatePrivateRoom(socketID string, req comm.CreatePrivateRoom) {
	if msg := a.checkStake(req.StakeAmount); msg != "" {
		a.notify(socketID, comm.MsgPrivateRoomError, comm.ErrorNotice{Error: msg})
		return
	}
	if a.busy(socketID) {
		a.notify(socketID, comm.MsgPrivateRoomError, comm.ErrorNotice{Error: "Already in a game"})
		return
	}
	a.queue.Dequeue(socketID)

	r, err := a.newRoom(req.StakeAmount, true, strings.ToUpper(strings.TrimSpace(req.RoomCode)))
	if err != nil {
		a.notify(socketID, comm.MsgPrivateRoomError, comm.ErrorNotice{Error: "Room code already in use"})
		return
	}
	a.rooms.Attach(socketID, r.ID)

	host := room.Player{SocketID: socketID, Name: req.PlayerName, Wallet: req.WalletAddress}
	if err := r.Open(host, req.GameId, req.TxRef); err != nil {
		log.Errorf("Error opening private room %s: %s", r.ID, err)
	}
}

func (a *Arena) GetRoomInfo(socketID, roomID string) {
	r, ok := a.rooms.Get(roomID)
	if !ok {
		a.notify(socketID, comm.MsgRoomInfo, comm.RoomInfo{Error: "Room not found"})
		return
	}
	a.notify(socketID, comm.MsgRoomInfo, r.Info())
}

func (a *Arena) JoinRoom(socketID string, req comm.JoinRoom) {
	r, ok := a.rooms.Get(req.RoomId)
	if !ok {
		a.notify(socketID, comm.MsgJoinError, comm.ErrorNotice{Error: "Room not found"})
		return
	}
	if a.busy(socketID) {
		a.notify(socketID, comm.MsgJoinError, comm.ErrorNotice{Error: "Already in a game"})
		return
	}
	a.queue.Dequeue(socketID)

	guest := room.Player{SocketID: socketID, Name: req.PlayerName, Wallet: req.WalletAddress}
	switch err := r.Join(guest, req.GameId); {
	case err == nil:
		a.rooms.Attach(socketID, r.ID)
	case errors.Is(err, room.ErrRoomFull):
		a.notify(socketID, comm.MsgJoinError, comm.ErrorNotice{Error: "Room is full"})
	case errors.Is(err, room.ErrGameIDMismatch):
		a.notify(socketID, comm.MsgJoinError, comm.ErrorNotice{Error: "Game ID mismatch"})
	default:
		a.notify(socketID, comm.MsgJoinError, comm.ErrorNotice{Error: "Room not found"})
	}
}

func (a *Arena) CancelRoom(socketID, roomID string) {
	r, ok := a.rooms.Get(roomID)
	if !ok {
		a.notify(socketID, comm.MsgPrivateRoomError, comm.ErrorNotice{Error: "Room not found"})
		return
	}
	if err := r.CancelRoom(socketID); err != nil {
		a.notify(socketID, comm.MsgPrivateRoomError, comm.ErrorNotice{Error: err.Error()})
	}
}

// StakeCreated is the host's confirmation of the create transaction.
func (a *Arena) StakeCreated(socketID string, req comm.StakeCreated) {
	r, number, ok := a.seat(socketID, req.RoomId)
	if !ok {
		return
	}
	if number != 1 {
		log.Warnf("room %s: stake creation reported by guest %s ignored", r.ID, socketID)
		return
	}
	a.confirmStake(r, number, escrow.OpCreate, escrow.Receipt{GameID: req.GameId, TxRef: req.TxRef})
}

// StakeJoined is the guest's confirmation of the join transaction.
func (a *Arena) StakeJoined(socketID string, req comm.StakeJoined) {
	r, number, ok := a.seat(socketID, req.RoomId)
	if !ok {
		return
	}
	if number != 2 {
		log.Warnf("room %s: stake join reported by host %s ignored", r.ID, socketID)
		return
	}
	a.confirmStake(r, number, escrow.OpJoin, escrow.Receipt{GameID: r.Snapshot().Escrow.GameID, TxRef: req.TxRef})
}

// confirmStake credits a client stake confirmation. Only the wallet relay
// asks clients to sign, so a confirmation must answer a live prompt or one
// that timed out; anything else is not evidence of a stake.
func (a *Arena) confirmStake(r *room.Room, number int, op escrow.Op, rc escrow.Receipt) {
	if a.relay == nil {
		log.Warnf("room %s: client %s confirmation from player %d ignored, the gateway owns the ledger", r.ID, op, number)
		return
	}
	if a.relay.Resolve(r.ID, number, op, rc) {
		return
	}
	if !a.relay.TakeExpired(r.ID, number, op) {
		log.Warnf("room %s: unprompted %s confirmation from player %d ignored", r.ID, op, number)
		return
	}
	r.AdoptStake(number, rc)
}

// TransactionFailed is a client report that a wallet transaction failed or
// was dismissed.
func (a *Arena) TransactionFailed(socketID string, req comm.TransactionFailed) {
	r, number, ok := a.seat(socketID, req.RoomId)
	if !ok {
		return
	}

	var op escrow.Op
	if a.relay != nil {
		op, _ = a.relay.Pending(r.ID, number)
	}
	reason := req.Reason
	if reason == "" {
		reason = "Transaction failed"
	}
	err := &escrow.TxError{Op: op, Reason: reason, Cancelled: req.Cancelled}

	if a.relay != nil && a.relay.Fail(r.ID, number, err) {
		return
	}
	r.ReportTransactionFailed(number, err)
}

// Settled is a client payout confirmation: the answer to a settle prompt, or
// the winner paying out a deferred settlement from their own wallet.
func (a *Arena) Settled(socketID string, req comm.TxConfirmed) {
	r, number, ok := a.seat(socketID, req.RoomId)
	if !ok || a.relay == nil {
		return
	}
	rc := escrow.Receipt{GameID: r.Snapshot().Escrow.GameID, TxRef: req.TxRef}
	if a.relay.Resolve(r.ID, number, escrow.OpSettle, rc) {
		return
	}
	if r.AdoptSettlement(socketID, rc) {
		a.resolveClaim(rc.GameID, escrow.OpSettle, rc.TxRef)
	}
}

func (a *Arena) Refunded(socketID string, req comm.TxConfirmed) {
	r, number, ok := a.seat(socketID, req.RoomId)
	if !ok || a.relay == nil {
		return
	}
	rc := escrow.Receipt{GameID: r.Snapshot().Escrow.GameID, TxRef: req.TxRef}
	if a.relay.Resolve(r.ID, number, escrow.OpRefund, rc) {
		return
	}
	if r.AdoptRefund(socketID, rc) {
		a.resolveClaim(rc.GameID, escrow.OpRefund, rc.TxRef)
	}
}

func (a *Arena) RetrySettlement(socketID string) {
	r, ok := a.rooms.Lookup(socketID)
	if !ok {
		return
	}
	if err := r.RetrySettlement(socketID); err != nil {
		a.notify(socketID, comm.MsgGameError, comm.GameError{Message: err.Error()})
	}
}

func (a *Arena) DeferSettlement(socketID string) {
	r, ok := a.rooms.Lookup(socketID)
	if !ok {
		return
	}
	if err := r.DeferSettlement(socketID); err != nil {
		a.notify(socketID, comm.MsgGameError, comm.GameError{Message: err.Error()})
	}
}

// PaddleMove, BallUpdate and ScoreUpdate drop invalid updates; the room logs
// them.
func (a *Arena) PaddleMove(socketID string, m comm.PaddleMove) {
	if r, ok := a.rooms.Lookup(socketID); ok {
		_ = r.PaddleMove(socketID, m.X, m.Y)
	}
}

func (a *Arena) BallUpdate(socketID string, b comm.BallState) {
	if r, ok := a.rooms.Lookup(socketID); ok {
		_ = r.BallUpdate(socketID, b)
	}
}

func (a *Arena) ScoreUpdate(socketID string, s comm.ScoreReport) {
	if r, ok := a.rooms.Lookup(socketID); ok {
		_ = r.ScoreUpdate(socketID, rules.Side(s.Player), s.Score)
	}
}

func (a *Arena) GameComplete(socketID string, c comm.GameCompleteClaim) {
	r, ok := a.rooms.Lookup(socketID)
	if !ok {
		return
	}
	if _, err := r.ReportCompletion(socketID, rules.Side(c.Winner)); err != nil {
		a.notify(socketID, comm.MsgGameError, comm.GameError{Message: "Game result could not be verified"})
	}
}

func (a *Arena) CancelGame(socketID string) {
	if a.queue.Dequeue(socketID) {
		return
	}
	r, ok := a.rooms.Lookup(socketID)
	if !ok {
		return
	}
	if err := r.Cancel(socketID); errors.Is(err, room.ErrNotCancellable) {
		a.notify(socketID, comm.MsgGameError, comm.GameError{Message: "The game has already started"})
	}
}

func (a *Arena) newRoom(stake decimal.Decimal, private bool, id string) (*room.Room, error) {
	for {
		roomID := id
		if roomID == "" {
			roomID = a.rooms.NewRoomID()
		}

		r := room.New(room.Params{
			ID:       roomID,
			Stake:    stake,
			Private:  private,
			Config:   a.roomConfig(),
			Clock:    a.clock,
			Notifier: a.notifier,
			Escrow:   a.escrow,
			OnDone:   a.roomDone,
		})
		err := a.rooms.Add(r)
		if err == nil {
			return r, nil
		}
		if id != "" {
			return nil, err
		}
	}
}

func (a *Arena) roomConfig() room.Config {
	s := a.settings
	return room.Config{
		WinScore:          s.WinScore,
		MinDuration:       s.MinGameDuration,
		InactivityTimeout: s.InactivityTimeout,
		ActivityInterval:  s.ActivityInterval,
		MatchWait:         s.MatchWaitTimeout,
		EscrowWait:        s.EscrowWaitTimeout,
		BallRate:          s.BallUpdatesPerSec,
	}
}

func (a *Arena) roomDone(r *room.Room) {
	snap := r.Snapshot()
	a.rooms.Retire(r.ID, func() {
		if a.relay != nil {
			a.relay.Forget(r.ID)
		}
	})

	if a.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.history.RecordRoom(ctx, snap); err != nil {
		log.Errorf("Error recording match %s: %s", r.ID, err)
	}
}

func (a *Arena) resolveClaim(gameID string, kind escrow.Op, txRef string) {
	if a.claims == nil || gameID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := a.claims.Resolve(ctx, gameID, kind, txRef); err != nil {
		log.Errorf("Error resolving %s claim of game %s: %s", kind, gameID, err)
	}
}

// seat finds the room and slot number of socketID. roomID, when given, must
// agree with the registry.
func (a *Arena) seat(socketID, roomID string) (*room.Room, int, bool) {
	r, ok := a.rooms.Lookup(socketID)
	if !ok {
		log.Debugf("socket %s is not in a room", socketID)
		return nil, 0, false
	}
	if roomID != "" && !strings.EqualFold(roomID, r.ID) {
		log.Warnf("socket %s reported room %s but sits in %s", socketID, roomID, r.ID)
		return nil, 0, false
	}
	number, ok := r.PlayerNumber(socketID)
	return r, number, ok
}

// busy reports whether the socket's room still needs it. A winner whose
// payout is pending stays bound so retry and defer reach that room.
func (a *Arena) busy(socketID string) bool {
	r, ok := a.rooms.Lookup(socketID)
	return ok && r.Holds(socketID)
}

// checkStake returns the user-facing problem with stake, or "".
func (a *Arena) checkStake(stake decimal.Decimal) string {
	switch {
	case !stake.IsPositive():
		return "Invalid stake amount"
	case stake.LessThan(a.settings.MinStake):
		return "Stake is below the minimum of " + a.settings.MinStake.String()
	case stake.GreaterThan(a.settings.MaxStake):
		return "Stake is above the maximum of " + a.settings.MaxStake.String()
	}
	return ""
}

func (a *Arena) broadcastStats() {
	if a.notifier == nil {
		return
	}
	s := a.Stats()
	a.notifier.Broadcast(comm.MsgQueueStats, comm.QueueStats{OnlinePlayers: s.Online, Searching: s.Searching})
}

func (a *Arena) notify(socketID, msgType string, payload any) {
	if a.notifier != nil {
		a.notifier.Notify(socketID, msgType, payload)
	}
}
