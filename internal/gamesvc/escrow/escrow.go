package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Op is one of the opaque operations of the escrow program.
type Op string

const (
	OpCreate Op = "create"
	OpJoin   Op = "join"
	OpSettle Op = "settle"
	OpRefund Op = "refund"
)

// Actor is the player on whose behalf an operation runs.
type Actor struct {
	RoomID   string
	SocketID string
	Number   int
	Wallet   string
	Online   bool
}

type Request struct {
	Op           Op
	Actor        Actor
	GameID       string
	Stake        decimal.Decimal
	WinnerWallet string
	FeePercent   decimal.Decimal
	Attempt      int
}

type Receipt struct {
	GameID string
	TxRef  string
}

// Ledger submits one operation and waits for its outcome. Implementations
// must honor ctx cancellation.
type Ledger interface {
	Submit(ctx context.Context, req Request) (Receipt, error)
}

var (
	ErrActorOffline      = errors.New("player is offline")
	ErrAttemptsExhausted = errors.New("settlement attempts exhausted")
	ErrEmptyGameID       = errors.New("ledger returned no game id")
)

// TxError is a failed ledger operation. Cancelled marks a prompt the user
// dismissed, as opposed to a transaction that failed.
type TxError struct {
	Op        Op
	Reason    string
	Cancelled bool
}

func (e *TxError) Error() string {
	if e.Cancelled {
		return fmt.Sprintf("%s cancelled: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("%s failed: %s", e.Op, e.Reason)
}

func IsCancelled(err error) bool {
	var txErr *TxError
	return errors.As(err, &txErr) && txErr.Cancelled
}

func IsOffline(err error) bool {
	return errors.Is(err, ErrActorOffline)
}

// Reason is the user-facing text of err.
func Reason(err error) string {
	var txErr *TxError
	if errors.As(err, &txErr) {
		return txErr.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// SplitPool returns the winner payout and the platform fee of a game where
// both players staked stake.
func SplitPool(stake, feePercent decimal.Decimal) (payout, fee decimal.Decimal) {
	pool := stake.Mul(decimal.NewFromInt(2))
	fee = pool.Mul(feePercent).Div(decimal.NewFromInt(100)).Round(9)
	return pool.Sub(fee), fee
}

// Claim is a settlement or refund that could not complete in session and
// awaits a manual claim.
type Claim struct {
	GameID    string
	RoomID    string
	Kind      Op
	Wallet    string
	Stake     decimal.Decimal
	Payout    decimal.Decimal
	Fee       decimal.Decimal
	Attempts  int
	Reason    string
	CreatedAt time.Time
}

// Session receives ledger outcomes for one room.
type Session interface {
	OnStakeCreated(number int, r Receipt)
	OnStakeJoined(number int, r Receipt)
	OnStakeFailed(number int, err error)
	OnSettled(r Receipt)
	OnSettleFailed(attempt int, err error)
	OnRefunded(number int, r Receipt)
	OnRefundFailed(number int, err error)
}
