package room

import (
	"sync"
	"time"

	"github.com/avvvet/airhockey-services/internal/comm"
	"github.com/avvvet/airhockey-services/internal/gamesvc/escrow"
	"github.com/avvvet/airhockey-services/internal/gamesvc/rules"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Escrow is the ledger choreography a room drives.
type Escrow interface {
	CreateStake(s escrow.Session, a escrow.Actor, stake decimal.Decimal)
	JoinStake(s escrow.Session, a escrow.Actor, gameID string, stake decimal.Decimal)
	Settle(s escrow.Session, a escrow.Actor, gameID, winnerWallet string, stake decimal.Decimal, attempt int)
	Refund(s escrow.Session, a escrow.Actor, gameID string)
	Defer(c escrow.Claim)
	MaxAttempts() int
	FeePercent() decimal.Decimal
}

type Params struct {
	ID       string
	Stake    decimal.Decimal
	Private  bool
	Config   Config
	Clock    Clock
	Notifier comm.Notifier
	Escrow   Escrow
	// OnDone runs once, after the room resolved and its money stopped moving.
	OnDone func(*Room)
}

// Room is the authoritative state of one match. Every exported method takes
// the room lock; ledger calls and OnDone are queued while locked and run
// after the lock is released, so ledger callbacks may re-enter the room.
type Room struct {
	ID      string
	Private bool

	cfg      Config
	clock    Clock
	notifier comm.Notifier
	escrow   Escrow
	onDone   func(*Room)
	verifier rules.Verifier

	mu         sync.Mutex
	phase      Phase
	slots      [2]*Slot
	sim        SimState
	ref        EscrowRef
	settlement Settlement
	refundOwed [2]bool
	result     *Result
	reason     string
	resolved   bool
	done       bool
	inflight   int

	createdAt time.Time
	matchedAt time.Time
	startedAt time.Time
	endedAt   time.Time

	ball      *rules.RateLimiter
	monitor   *ActivityMonitor
	waitTimer Timer
	waitGen   int

	effects []func()
}

func New(p Params) *Room {
	clock := p.Clock
	if clock == nil {
		clock = RealClock()
	}

	r := &Room{
		ID:       p.ID,
		Private:  p.Private,
		cfg:      p.Config,
		clock:    clock,
		notifier: p.Notifier,
		escrow:   p.Escrow,
		onDone:   p.OnDone,
		verifier: rules.NewVerifier(p.Config.WinScore, p.Config.MinDuration),
		phase:    WaitingForPlayer,
		sim:      initialSim(),
		ref:      EscrowRef{Stake: p.Stake},
		ball:     rules.NewRateLimiter(p.Config.BallRate, time.Second),
	}
	r.createdAt = clock.Now()
	r.monitor = NewActivityMonitor(clock, p.Config.ActivityInterval, p.Config.InactivityTimeout, r.inactive)
	return r
}

// Open seats the host of a private room. A non-empty gameID means the host
// already created the stake.
func (r *Room) Open(host Player, gameID, txRef string) error {
	r.mu.Lock()
	defer r.unlock()

	if r.slots[0] != nil {
		return ErrAlreadyInitiated
	}
	r.slots[0] = r.newSlot(1, host)
	if gameID != "" {
		r.ref.GameID = gameID
		r.ref.HostStaked = true
		r.ref.HostTx = txRef
	}
	r.phase = WaitingForPlayer
	r.armWait(r.cfg.MatchWait)

	r.send(r.slots[0], comm.MsgPrivateRoomCreated, comm.PrivateRoomCreated{
		RoomId:      r.ID,
		PlayerName:  r.slots[0].Name,
		GameId:      r.ref.GameID,
		StakeAmount: r.ref.Stake,
	})
	log.Infof("private room %s opened by %s (stake %s)", r.ID, host.SocketID, r.ref.Stake)
	return nil
}

// Join seats the guest of a private room.
func (r *Room) Join(guest Player, gameID string) error {
	r.mu.Lock()
	defer r.unlock()

	if r.slots[1] != nil {
		return ErrRoomFull
	}
	if r.resolved || r.phase != WaitingForPlayer || r.slots[0] == nil {
		return ErrNotJoinable
	}
	if gameID != "" && r.ref.GameID != "" && gameID != r.ref.GameID {
		return ErrGameIDMismatch
	}

	r.slots[1] = r.newSlot(2, guest)
	host, g := r.slots[0], r.slots[1]

	r.send(g, comm.MsgRoomJoined, comm.RoomJoined{
		RoomId:      r.ID,
		PlayerName:  g.Name,
		GameId:      r.ref.GameID,
		StakeAmount: r.ref.Stake,
	})
	r.send(host, comm.MsgPrivateRoomPlayerJoined, comm.PrivateRoomPlayerJoined{
		RoomId:      r.ID,
		Player1Name: host.Name,
		Player2Name: g.Name,
		GameId:      r.ref.GameID,
		StakeAmount: r.ref.Stake,
	})

	r.enterPendingEscrow()
	return nil
}

// Match seats a pair produced by matchmaking.
func (r *Room) Match(host, guest Player) error {
	r.mu.Lock()
	defer r.unlock()

	if r.slots[0] != nil {
		return ErrAlreadyInitiated
	}
	r.slots[0] = r.newSlot(1, host)
	r.slots[1] = r.newSlot(2, guest)

	for _, s := range r.slots {
		r.send(s, comm.MsgMatchFound, comm.MatchFound{
			RoomId:       r.ID,
			PlayerNumber: s.Number,
			Role:         string(s.Role),
			OpponentName: r.other(s).Name,
			StakeAmount:  r.ref.Stake,
		})
	}

	r.enterPendingEscrow()
	return nil
}

// Disconnect marks the socket offline. Before the game starts this cancels
// the room; during play it forfeits to the other player.
func (r *Room) Disconnect(socketID string) {
	r.mu.Lock()
	defer r.unlock()

	s := r.slotBySocket(socketID)
	if s == nil || !s.Online {
		return
	}
	s.Online = false
	log.Infof("room %s: player %d (%s) disconnected in phase %s", r.ID, s.Number, socketID, r.phase)

	if r.resolved {
		if r.settlement.State == SettleAwaitingRetry && r.isWinner(s) {
			r.deferSettlement("winner disconnected before retrying")
		}
		r.checkDone()
		return
	}

	switch r.phase {
	case WaitingForPlayer, MatchedPendingEscrow:
		r.cancel("Opponent left before the game started")
	case Active:
		r.forfeit(s, ReasonDisconnect)
	}
	r.checkDone()
}

// Cancel handles a player's request to abandon the game before it starts.
func (r *Room) Cancel(socketID string) error {
	r.mu.Lock()
	defer r.unlock()

	if r.slotBySocket(socketID) == nil {
		return ErrNotInRoom
	}
	if r.resolved {
		return ErrAlreadyResolved
	}
	if r.phase == Active {
		return ErrNotCancellable
	}

	r.cancel("Player left the game")
	r.checkDone()
	return nil
}

// CancelRoom closes a private room that is still waiting for its guest.
func (r *Room) CancelRoom(socketID string) error {
	r.mu.Lock()
	defer r.unlock()

	s := r.slotBySocket(socketID)
	if s == nil {
		return ErrNotInRoom
	}
	if s.Role != Host {
		return ErrNotHost
	}
	if r.resolved || r.phase != WaitingForPlayer {
		return ErrNotCancellable
	}

	r.cancel("Room cancelled by host")
	r.checkDone()
	return nil
}

// Touch records that the socket is still around. Only waiting rooms use it.
func (r *Room) Touch(socketID string) {
	r.mu.Lock()
	defer r.unlock()

	if s := r.slotBySocket(socketID); s != nil {
		s.LastActivity = r.clock.Now()
	}
}

func (r *Room) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

func (r *Room) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Holds reports whether the room still needs socketID: any seat until the
// room resolves, then only the seats with money left in motion.
func (r *Room) Holds(socketID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.slotBySocket(socketID)
	switch {
	case s == nil || r.done:
		return false
	case !r.resolved:
		return true
	}
	switch r.settlement.State {
	case SettlePending, SettleAwaitingRetry:
		return r.isWinner(s)
	}
	return true
}

// PlayerNumber is the slot number of socketID, if seated here.
func (r *Room) PlayerNumber(socketID string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.slotBySocket(socketID); s != nil {
		return s.Number, true
	}
	return 0, false
}

// Info describes an open private room to a prospective guest.
func (r *Room) Info() comm.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resolved || r.slots[0] == nil {
		return comm.RoomInfo{Error: "Room not found"}
	}
	if r.slots[1] != nil {
		return comm.RoomInfo{Error: "Room is full"}
	}
	return comm.RoomInfo{
		RoomId:      r.ID,
		HostName:    r.slots[0].Name,
		GameId:      r.ref.GameID,
		StakeAmount: r.ref.Stake,
	}
}

func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		ID:         r.ID,
		Private:    r.Private,
		Phase:      r.phase,
		Scores:     r.sim.Scores,
		Escrow:     r.ref,
		Settlement: r.settlement,
		Reason:     r.reason,
		CreatedAt:  r.createdAt,
		StartedAt:  r.startedAt,
		EndedAt:    r.endedAt,
	}
	for _, s := range r.slots {
		if s == nil {
			continue
		}
		snap.Slots = append(snap.Slots, SlotView{
			Number: s.Number,
			Role:   s.Role,
			Name:   s.Name,
			Wallet: s.Wallet,
			Online: s.Online,
		})
	}
	if r.result != nil {
		res := *r.result
		snap.Result = &res
	}
	return snap
}

func (r *Room) enterPendingEscrow() {
	r.phase = MatchedPendingEscrow
	r.matchedAt = r.clock.Now()
	r.armWait(r.cfg.EscrowWait)

	if r.ref.HostStaked {
		r.requestJoin()
	} else {
		r.requestCreate()
	}
}

func (r *Room) requestCreate() {
	a, stake := r.actor(r.slots[0]), r.ref.Stake
	r.inflight++
	r.after(func() { r.escrow.CreateStake(r, a, stake) })
}

func (r *Room) requestJoin() {
	a, gameID, stake := r.actor(r.slots[1]), r.ref.GameID, r.ref.Stake
	r.inflight++
	r.after(func() { r.escrow.JoinStake(r, a, gameID, stake) })
}

func (r *Room) activate() {
	now := r.clock.Now()
	r.phase = Active
	r.startedAt = now
	r.stopWait()
	r.sim = initialSim()
	r.ball = rules.NewRateLimiter(r.cfg.BallRate, time.Second)
	for _, s := range r.slots {
		s.LastActivity = now
	}
	r.monitor.Start()

	for _, s := range r.slots {
		r.send(s, comm.MsgStartGame, comm.StartGame{
			RoomId:      r.ID,
			PlayerRole:  string(s.Role),
			Player1Name: r.slots[0].Name,
			Player2Name: r.slots[1].Name,
			Ball:        r.sim.Ball,
		})
	}
	log.Infof("room %s active (game %s, stake %s)", r.ID, r.ref.GameID, r.ref.Stake)
}

// resolve is the single gate into a terminal phase. It returns false when the
// room already resolved, and the caller must then do nothing.
func (r *Room) resolve(phase Phase, reason string) bool {
	if r.resolved {
		return false
	}
	r.resolved = true
	r.phase = phase
	r.reason = reason
	r.endedAt = r.clock.Now()
	r.stopWait()
	r.monitor.Stop()
	log.Infof("room %s resolved as %s (%s)", r.ID, phase, reason)
	return true
}

func (r *Room) cancel(reason string) {
	if !r.resolve(Cancelled, reason) {
		return
	}
	refund := r.ref.HostStaked
	for _, s := range r.slots {
		r.send(s, comm.MsgGameCancelled, comm.GameCancelled{RoomId: r.ID, Reason: reason, Refund: refund})
	}
	r.refundStakes()
}

func (r *Room) timeout(message string) {
	if !r.resolve(TimedOut, message) {
		return
	}
	refund := r.ref.HostStaked
	for _, s := range r.slots {
		r.send(s, comm.MsgMatchmakingTimeout, comm.MatchmakingTimeout{
			GameId:       r.ref.GameID,
			StakeAmount:  r.ref.Stake,
			ShouldRefund: refund,
			Message:      message,
		})
	}
	r.refundStakes()
}

func (r *Room) forfeit(loser *Slot, reason string) {
	winner := r.other(loser)
	if winner == nil || !r.resolve(Forfeited, reason) {
		return
	}
	r.result = r.newResult(winner, reason)

	notice := comm.ForfeitNotice{
		Forfeit:      true,
		GameId:       r.ref.GameID,
		WinnerWallet: winner.Wallet,
		WinnerNumber: winner.Number,
		StakeAmount:  r.ref.Stake,
		Reason:       reason,
	}
	if reason == ReasonDisconnect {
		notice.Message = "Opponent disconnected - you win by forfeit!"
		r.send(winner, comm.MsgPlayerDisconnected, notice)
		r.send(loser, comm.MsgYouForfeited, comm.YouForfeited{Reason: reason, Message: "You disconnected and forfeited the game"})
	} else {
		notice.Message = "Opponent inactive (AFK) - you win!"
		r.send(winner, comm.MsgOpponentForfeited, notice)
		r.send(loser, comm.MsgYouForfeited, comm.YouForfeited{Reason: reason, Message: "You were inactive for too long and forfeited the game"})
	}

	r.beginSettlement()
}

func (r *Room) complete(side rules.Side) {
	winner := r.slots[side.Number()-1]
	if !r.resolve(Completed, ReasonScore) {
		return
	}
	r.result = r.newResult(winner, ReasonScore)

	res := comm.GameResult{
		Winner:       string(r.result.Winner),
		WinnerWallet: r.result.WinnerWallet,
		GameId:       r.result.GameID,
		StakeAmount:  r.result.Stake,
		Payout:       r.result.Payout,
		Player1Score: r.result.Scores[0],
		Player2Score: r.result.Scores[1],
		Duration:     int(r.result.Duration / time.Second),
	}
	for _, s := range r.slots {
		r.send(s, comm.MsgGameComplete, res)
	}

	r.beginSettlement()
}

func (r *Room) newResult(winner *Slot, reason string) *Result {
	payout, _ := escrow.SplitPool(r.ref.Stake, r.escrow.FeePercent())
	return &Result{
		Winner:       winner.Side(),
		WinnerNumber: winner.Number,
		WinnerWallet: winner.Wallet,
		GameID:       r.ref.GameID,
		Stake:        r.ref.Stake,
		Payout:       payout,
		Scores:       r.sim.Scores,
		Duration:     r.endedAt.Sub(r.startedAt),
		Reason:       reason,
	}
}

// inactive is the ActivityMonitor callback.
func (r *Room) inactive(number int) {
	r.mu.Lock()
	defer r.unlock()

	if r.resolved || r.phase != Active {
		return
	}
	log.Warnf("room %s: player %d inactive for over %s", r.ID, number, r.cfg.InactivityTimeout)
	r.forfeit(r.slots[number-1], ReasonInactivity)
	r.checkDone()
}

func (r *Room) armWait(d time.Duration) {
	r.stopWait()
	r.waitGen++
	gen := r.waitGen
	r.waitTimer = r.clock.AfterFunc(d, func() { r.checkWait(gen) })
}

func (r *Room) stopWait() {
	if r.waitTimer != nil {
		r.waitTimer.Stop()
		r.waitTimer = nil
	}
}

// checkWait expires a room stuck before play. The private-room wait runs
// from the host's last activity, the escrow wait from match time.
func (r *Room) checkWait(gen int) {
	r.mu.Lock()
	defer r.unlock()

	if r.resolved || gen != r.waitGen {
		return
	}

	now := r.clock.Now()
	switch r.phase {
	case WaitingForPlayer:
		idle := now.Sub(r.slots[0].LastActivity)
		if idle < r.cfg.MatchWait {
			r.armWait(r.cfg.MatchWait - idle)
			return
		}
		r.timeout("No player joined within the waiting time")
	case MatchedPendingEscrow:
		elapsed := now.Sub(r.matchedAt)
		if elapsed < r.cfg.EscrowWait {
			r.armWait(r.cfg.EscrowWait - elapsed)
			return
		}
		r.timeout("Stakes were not confirmed in time")
	}
	r.checkDone()
}

// checkDone fires OnDone once the room resolved and no money is in motion.
func (r *Room) checkDone() {
	if r.done || !r.resolved || r.inflight > 0 {
		return
	}
	if r.ref.HostStaked && !r.settlement.State.Final() {
		return
	}
	r.done = true
	if r.onDone != nil {
		r.after(func() { r.onDone(r) })
	}
}

func (r *Room) after(f func()) {
	r.effects = append(r.effects, f)
}

func (r *Room) unlock() {
	effects := r.effects
	r.effects = nil
	r.mu.Unlock()

	for _, f := range effects {
		f()
	}
}

func (r *Room) newSlot(number int, p Player) *Slot {
	role := Host
	if number == 2 {
		role = Guest
	}
	name := p.Name
	if name == "" {
		name = "Player " + string(rune('0'+number))
	}
	return &Slot{
		Number:       number,
		Role:         role,
		SocketID:     p.SocketID,
		Name:         name,
		Wallet:       p.Wallet,
		Online:       true,
		LastActivity: r.clock.Now(),
	}
}

func (r *Room) slotBySocket(socketID string) *Slot {
	for _, s := range r.slots {
		if s != nil && s.SocketID == socketID {
			return s
		}
	}
	return nil
}

func (r *Room) other(s *Slot) *Slot {
	if s.Number == 1 {
		return r.slots[1]
	}
	return r.slots[0]
}

func (r *Room) isWinner(s *Slot) bool {
	return r.result != nil && r.result.WinnerNumber == s.Number
}

func (r *Room) actor(s *Slot) escrow.Actor {
	return escrow.Actor{
		RoomID:   r.ID,
		SocketID: s.SocketID,
		Number:   s.Number,
		Wallet:   s.Wallet,
		Online:   s.Online,
	}
}

func (r *Room) send(s *Slot, msgType string, payload any) {
	if s == nil || !s.Online || r.notifier == nil {
		return
	}
	r.notifier.Notify(s.SocketID, msgType, payload)
}
