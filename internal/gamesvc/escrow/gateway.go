package escrow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/avvvet/airhockey-services/internal/comm"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
)

// Requester is the slice of *nats.Conn the gateway needs.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// Gateway is the Ledger of the custodial deployment: operations go to a
// ledger service over NATS request/reply and are signed server side.
type Gateway struct {
	conn    Requester
	subject string
}

type GatewayRequest struct {
	Op           Op              `json:"op"`
	RoomID       string          `json:"roomId"`
	PlayerNumber int             `json:"playerNumber"`
	Wallet       string          `json:"wallet"`
	GameID       string          `json:"gameId,omitempty"`
	Stake        decimal.Decimal `json:"stake"`
	WinnerWallet string          `json:"winnerWallet,omitempty"`
	FeePercent   decimal.Decimal `json:"feePercent"`
}

type GatewayReply struct {
	GameID    string `json:"gameId"`
	TxRef     string `json:"txRef"`
	Error     string `json:"error,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
}

func NewGateway(conn Requester, subject string) *Gateway {
	if subject == "" {
		subject = comm.LedgerServiceTopic
	}
	return &Gateway{conn: conn, subject: subject}
}

func (g *Gateway) Submit(ctx context.Context, req Request) (Receipt, error) {
	payload, err := json.Marshal(GatewayRequest{
		Op:           req.Op,
		RoomID:       req.Actor.RoomID,
		PlayerNumber: req.Actor.Number,
		Wallet:       req.Actor.Wallet,
		GameID:       req.GameID,
		Stake:        req.Stake,
		WinnerWallet: req.WinnerWallet,
		FeePercent:   req.FeePercent,
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal ledger request: %w", err)
	}

	msg, err := g.conn.RequestWithContext(ctx, g.subject, payload)
	if err != nil {
		return Receipt{}, &TxError{Op: req.Op, Reason: err.Error()}
	}

	var reply GatewayReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return Receipt{}, &TxError{Op: req.Op, Reason: "malformed ledger reply"}
	}
	if reply.Error != "" || reply.Cancelled {
		return Receipt{}, &TxError{Op: req.Op, Reason: reply.Error, Cancelled: reply.Cancelled}
	}

	gameID := reply.GameID
	if gameID == "" {
		gameID = req.GameID
	}
	return Receipt{GameID: gameID, TxRef: reply.TxRef}, nil
}
