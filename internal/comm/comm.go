package comm

import (
	"encoding/json"
	"time"
)

// NATS subjects between the socket edge and the game service.
const (
	SocketServiceTopic = "socket.service" // socket edge -> game service
	GameServiceTopic   = "game.service"   // game service -> socket edge
	LedgerServiceTopic = "ledger.service" // game service -> ledger gateway
)

type WSMessage struct {
	Type     string          `json:"type"` // e.g. "findMatch", "paddleMove"
	Data     json.RawMessage `json:"data"`
	SocketId string          `json:"socketid"` // empty on game.service means broadcast
}

type ServiceHeartbeat struct {
	ID        string    `json:"id"` // service id
	Timestamp time.Time `json:"timestamp"`
}

// Notifier delivers a typed payload to one socket, or to every socket.
type Notifier interface {
	Notify(socketID, msgType string, payload any)
	Broadcast(msgType string, payload any)
}

// NewMessage wraps payload into a WSMessage addressed to socketID.
func NewMessage(socketID, msgType string, payload any) (*WSMessage, error) {
	msg := &WSMessage{
		Type:     msgType,
		SocketId: socketID,
	}
	if payload == nil {
		return msg, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	msg.Data = data
	return msg, nil
}
