package broker

import (
	"encoding/json"

	"github.com/avvvet/airhockey-services/internal/comm"
	"github.com/avvvet/airhockey-services/internal/gamesvc/service"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// Publisher is the part of a NATS connection the broker writes to.
type Publisher interface {
	Publish(subj string, data []byte) error
}

// Broker bridges the socket edge and the arena over NATS. It consumes
// socket.service and publishes every outbound message on game.service.
type Broker struct {
	Conn  Publisher
	Arena *service.Arena
}

var _ comm.Notifier = (*Broker)(nil)

func NewBroker(conn Publisher) *Broker {
	return &Broker{Conn: conn}
}

// Bind sets the arena that receives decoded client messages. The arena is
// built with the broker as its notifier, so it is attached afterwards.
func (b *Broker) Bind(a *service.Arena) {
	b.Arena = a
}

// consume message from socket service
func (b *Broker) SubscribSocketService(conn *nats.Conn, topic string) (*nats.Subscription, error) {
	sub, err := conn.Subscribe(topic, b.handleMessage)
	if err != nil {
		return nil, err
	}

	return sub, nil
}

func (b *Broker) handleMessage(msgNat *nats.Msg) {
	msg := &comm.WSMessage{}
	if err := json.Unmarshal(msgNat.Data, msg); err != nil {
		log.Errorf("Error nats message %s", err)
		return
	}
	b.Dispatch(msg)
}

// Dispatch decodes one client message and hands it to the arena.
func (b *Broker) Dispatch(msg *comm.WSMessage) {
	if b.Arena == nil {
		log.Error("broker has no arena bound, message dropped")
		return
	}
	if msg.SocketId == "" {
		log.Warnf("message %s without socket id dropped", msg.Type)
		return
	}

	socketID := msg.SocketId
	a := b.Arena

	switch msg.Type {
	case comm.MsgConnect:
		a.Connect(socketID)
		return
	case comm.MsgDisconnect:
		a.Disconnect(socketID)
		return
	}

	a.Touch(socketID)

	switch msg.Type {
	case comm.MsgPing:
		// activity only
	case comm.MsgFindMatch:
		var req comm.FindMatch
		if b.decode(msg, &req) {
			a.FindMatch(socketID, req)
		}
	case comm.MsgCancelMatchmaking:
		a.CancelMatchmaking(socketID)
	case comm.MsgCreatePrivateRoom:
		var req comm.CreatePrivateRoom
		if b.decode(msg, &req) {
			a.CreatePrivateRoom(socketID, req)
		}
	case comm.MsgGetRoomInfo:
		var req comm.RoomRef
		if b.decode(msg, &req) {
			a.GetRoomInfo(socketID, req.RoomId)
		}
	case comm.MsgJoinRoom:
		var req comm.JoinRoom
		if b.decode(msg, &req) {
			a.JoinRoom(socketID, req)
		}
	case comm.MsgCancelRoom:
		var req comm.RoomRef
		if b.decode(msg, &req) {
			a.CancelRoom(socketID, req.RoomId)
		}
	case comm.MsgBlockchainGameCreated:
		var req comm.StakeCreated
		if b.decode(msg, &req) {
			a.StakeCreated(socketID, req)
		}
	case comm.MsgPlayer2Joined:
		var req comm.StakeJoined
		if b.decode(msg, &req) {
			a.StakeJoined(socketID, req)
		}
	case comm.MsgTransactionFailed:
		var req comm.TransactionFailed
		if b.decode(msg, &req) {
			a.TransactionFailed(socketID, req)
		}
	case comm.MsgBlockchainSettled:
		var req comm.TxConfirmed
		if b.decode(msg, &req) {
			a.Settled(socketID, req)
		}
	case comm.MsgBlockchainRefunded:
		var req comm.TxConfirmed
		if b.decode(msg, &req) {
			a.Refunded(socketID, req)
		}
	case comm.MsgRetrySettlement:
		a.RetrySettlement(socketID)
	case comm.MsgDeferSettlement:
		a.DeferSettlement(socketID)
	case comm.MsgPaddleMove:
		var req comm.PaddleMove
		if b.decode(msg, &req) {
			a.PaddleMove(socketID, req)
		}
	case comm.MsgBallUpdate:
		var req comm.BallState
		if b.decode(msg, &req) {
			a.BallUpdate(socketID, req)
		}
	case comm.MsgScoreUpdate:
		var req comm.ScoreReport
		if b.decode(msg, &req) {
			a.ScoreUpdate(socketID, req)
		}
	case comm.MsgGameComplete:
		var req comm.GameCompleteClaim
		if b.decode(msg, &req) {
			a.GameComplete(socketID, req)
		}
	case comm.MsgCancelGame:
		a.CancelGame(socketID)
	default:
		log.Warnf("unknown message %q from socket %s", msg.Type, socketID)
		b.Notify(socketID, comm.MsgError, comm.ErrorNotice{Error: "Unknown message type"})
	}
}

func (b *Broker) decode(msg *comm.WSMessage, v any) bool {
	if len(msg.Data) == 0 {
		return true
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		log.Errorf("Error decoding %s from socket %s: %s", msg.Type, msg.SocketId, err)
		b.Notify(msg.SocketId, comm.MsgError, comm.ErrorNotice{Error: "Invalid message format"})
		return false
	}
	return true
}

func (b *Broker) Notify(socketID, msgType string, payload any) {
	msg, err := comm.NewMessage(socketID, msgType, payload)
	if err != nil {
		log.Errorf("unable to marshal %s for socket %s: %s", msgType, socketID, err)
		return
	}
	b.publishMessage(msg)
}

// Broadcast publishes with an empty socket id; the edge fans it out.
func (b *Broker) Broadcast(msgType string, payload any) {
	b.Notify("", msgType, payload)
}

func (b *Broker) publishMessage(msg *comm.WSMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Errorf("Error %s", err)
		return
	}
	_ = b.Publish(comm.GameServiceTopic, payload)
}

func (b *Broker) Publish(topic string, payload []byte) error {
	err := b.Conn.Publish(topic, payload)
	if err != nil {
		log.Errorf("Error publishing to topic %s: %s", topic, err)
		return err
	}

	return nil
}
