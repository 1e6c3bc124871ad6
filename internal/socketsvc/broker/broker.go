package broker

import (
	"encoding/json"

	"github.com/avvvet/airhockey-services/internal/comm"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// Publisher is the part of a NATS connection the broker writes to.
type Publisher interface {
	Publish(subj string, data []byte) error
}

type Broker struct {
	Conn Publisher
	// Send delivers m to one socket and reports whether it was connected.
	Send func(socketId string, m *comm.WSMessage) bool
	// Broadcast delivers m to every connected socket.
	Broadcast func(m *comm.WSMessage)
}

func NewBroker(conn Publisher, fncSend func(string, *comm.WSMessage) bool, fncBroadcast func(*comm.WSMessage)) *Broker {
	return &Broker{
		Conn:      conn,
		Send:      fncSend,
		Broadcast: fncBroadcast,
	}
}

// consume message from game service
func (b *Broker) Subscribe(conn *nats.Conn, topic string) (*nats.Subscription, error) {
	sub, err := conn.Subscribe(topic, b.handleMessages)
	if err != nil {
		return nil, err
	}

	return sub, nil
}

// publish message to game service
func (b *Broker) Publish(topic string, payload []byte) error {
	err := b.Conn.Publish(topic, payload)
	if err != nil {
		log.Errorf("Error publishing to topic %s: %s", topic, err)
		return err
	}

	return nil
}

// Forward sends a client message, stamped with its socket id, to the game
// service.
func (b *Broker) Forward(socketId string, m *comm.WSMessage) error {
	m.SocketId = socketId
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return b.Publish(comm.SocketServiceTopic, payload)
}

func (b *Broker) handleMessages(msgNats *nats.Msg) {
	b.Deliver(msgNats.Data)
}

// Deliver routes one game service message to its socket, or to every
// socket when it carries no socket id.
func (b *Broker) Deliver(data []byte) {
	message := &comm.WSMessage{}
	if err := json.Unmarshal(data, message); err != nil {
		log.Errorf("Error %s", err)
		return
	}

	if message.SocketId == "" {
		b.Broadcast(message)
		return
	}
	if !b.Send(message.SocketId, message) {
		log.Debugf("socket %s gone, %s dropped", message.SocketId, message.Type)
	}
}
