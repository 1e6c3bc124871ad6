package room

import (
	"errors"
	"time"

	"github.com/avvvet/airhockey-services/internal/comm"
	"github.com/avvvet/airhockey-services/internal/gamesvc/rules"
	"github.com/shopspring/decimal"
)

type Phase int

const (
	WaitingForPlayer Phase = iota
	MatchedPendingEscrow
	Active
	Completed
	Forfeited
	Cancelled
	TimedOut
)

var phaseNames = [...]string{
	"waiting_for_player",
	"matched_pending_escrow",
	"active",
	"completed",
	"forfeited",
	"cancelled",
	"timed_out",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "unknown"
}

func (p Phase) Terminal() bool { return p >= Completed }

type Role string

const (
	Host  Role = "host"
	Guest Role = "guest"
)

// SettleState is the money sub-state of a resolved room.
type SettleState int

const (
	SettleNone SettleState = iota
	SettlePending
	SettleAwaitingRetry
	SettleSettled
	SettleDeferred
	RefundPending
	RefundDone
	RefundDeferred
)

var settleNames = [...]string{
	"none", "settle_pending", "settle_awaiting_retry", "settled", "settle_deferred",
	"refund_pending", "refunded", "refund_deferred",
}

func (s SettleState) String() string {
	if int(s) < len(settleNames) {
		return settleNames[s]
	}
	return "unknown"
}

// Final reports whether no more money movement is expected.
func (s SettleState) Final() bool {
	switch s {
	case SettleSettled, SettleDeferred, RefundDone, RefundDeferred:
		return true
	}
	return false
}

type Settlement struct {
	State   SettleState
	Attempt int
	TxRef   string
	Reason  string
}

// Player is what a connection brings into a room.
type Player struct {
	SocketID string
	Name     string
	Wallet   string
}

type Slot struct {
	Number       int
	Role         Role
	SocketID     string
	Name         string
	Wallet       string
	Online       bool
	LastActivity time.Time
}

func (s *Slot) Side() rules.Side { return rules.SideOf(s.Number) }

type SimState struct {
	Ball    comm.BallState
	Paddles [2]comm.PaddleMove
	Scores  [2]int
}

func initialSim() SimState {
	return SimState{
		Ball: centerBall(),
		Paddles: [2]comm.PaddleMove{
			{X: 150, Y: rules.TableHeight / 2},
			{X: rules.TableWidth - 150, Y: rules.TableHeight / 2},
		},
	}
}

func centerBall() comm.BallState {
	return comm.BallState{X: rules.TableWidth / 2, Y: rules.TableHeight / 2}
}

// EscrowRef binds the room to its stake on the external ledger.
type EscrowRef struct {
	GameID      string
	Stake       decimal.Decimal
	HostStaked  bool
	GuestStaked bool
	HostTx      string
	GuestTx     string
	Settled     bool
	Refunded    bool
}

// Result is the authoritative outcome of a completed or forfeited game.
type Result struct {
	Winner       rules.Side
	WinnerNumber int
	WinnerWallet string
	GameID       string
	Stake        decimal.Decimal
	Payout       decimal.Decimal
	Scores       [2]int
	Duration     time.Duration
	Reason       string
}

const (
	ReasonScore      = "score"
	ReasonDisconnect = "disconnect"
	ReasonInactivity = "inactivity"
)

type Config struct {
	WinScore          int
	MinDuration       time.Duration
	InactivityTimeout time.Duration
	ActivityInterval  time.Duration
	MatchWait         time.Duration
	EscrowWait        time.Duration
	BallRate          int
}

func DefaultConfig() Config {
	return Config{
		WinScore:          7,
		MinDuration:       10 * time.Second,
		InactivityTimeout: 60 * time.Second,
		ActivityInterval:  10 * time.Second,
		MatchWait:         300 * time.Second,
		EscrowWait:        300 * time.Second,
		BallRate:          120,
	}
}

var (
	ErrRoomFull         = errors.New("room is full")
	ErrGameIDMismatch   = errors.New("game id mismatch")
	ErrNotJoinable      = errors.New("room is no longer open")
	ErrNotInRoom        = errors.New("socket is not in this room")
	ErrNotActive        = errors.New("game is not active")
	ErrAlreadyResolved  = errors.New("game already resolved")
	ErrNotCancellable   = errors.New("game can no longer be cancelled")
	ErrNotHost          = errors.New("only the host may do this")
	ErrNoPendingRetry   = errors.New("no settlement awaiting retry")
	ErrAlreadyInitiated = errors.New("room already has players")
	ErrBadScore         = errors.New("score must advance by one")
)

// SlotView is a read-only copy of a slot.
type SlotView struct {
	Number int
	Role   Role
	Name   string
	Wallet string
	Online bool
}

// Snapshot is a consistent copy of the room for reporting.
type Snapshot struct {
	ID         string
	Private    bool
	Phase      Phase
	Slots      []SlotView
	Scores     [2]int
	Escrow     EscrowRef
	Settlement Settlement
	Result     *Result
	Reason     string
	CreatedAt  time.Time
	StartedAt  time.Time
	EndedAt    time.Time
}
