package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ClaimDeferred = "deferred"
	// ClaimSettling marks a claim whose ledger payout is in flight.
	ClaimSettling = "settling"
	ClaimResolved = "resolved"
)

// Claim is a settlement or refund that could not complete in-game and waits
// for a manual claim.
type Claim struct {
	ID         int64           `json:"id"`
	GameID     string          `json:"gameId"`
	RoomID     string          `json:"roomId"`
	Kind       string          `json:"kind"` // settle or refund
	Wallet     string          `json:"wallet"`
	Stake      decimal.Decimal `json:"stakeAmount"`
	Payout     decimal.Decimal `json:"payout"`
	Fee        decimal.Decimal `json:"fee"`
	Attempts   int             `json:"attempts"`
	Reason     string          `json:"reason,omitempty"`
	Status     string          `json:"status"`
	TxRef      *string         `json:"txRef,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	ResolvedAt *time.Time      `json:"resolvedAt,omitempty"`
}
