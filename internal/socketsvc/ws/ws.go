package ws

import (
	"sync"
	"time"

	"github.com/avvvet/airhockey-services/internal/comm"
	"github.com/avvvet/airhockey-services/internal/socketsvc/broker"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const writeWait = 10 * time.Second

// Conn is the part of a websocket connection the edge writes to.
type Conn interface {
	WriteJSON(v interface{}) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// client serialises writes; gorilla connections allow one concurrent writer.
type client struct {
	mu   sync.Mutex
	conn Conn
}

func (c *client) write(m *comm.WSMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(m)
}

type Ws struct {
	connMap sync.Map // socketId -> *client
	Broker  *broker.Broker
}

func NewWs() *Ws {
	return &Ws{}
}

// handle socket message from web clients
func (s *Ws) SocketMessage(socketId string, message *comm.WSMessage) {
	switch message.Type {
	case comm.MsgPing:
		s.Send(socketId, &comm.WSMessage{Type: comm.MsgPong, SocketId: socketId})
	case comm.MsgConnect, comm.MsgDisconnect:
		log.Warnf("socket %s sent reserved message %s", socketId, message.Type)
		return
	}

	if err := s.Broker.Forward(socketId, message); err != nil {
		log.Errorf("Failed to forward %s from socket %s: %v", message.Type, socketId, err)
	}
}

// HandleConnect registers the connection and announces it to the game service.
func (s *Ws) HandleConnect(socketId string, conn Conn) {
	s.connMap.Store(socketId, &client{conn: conn})
	s.announce(socketId, comm.MsgConnect)
}

func (s *Ws) HandleDisconnect(socketId string) {
	if _, ok := s.connMap.LoadAndDelete(socketId); !ok {
		return
	}
	s.announce(socketId, comm.MsgDisconnect)
}

func (s *Ws) announce(socketId, msgType string) {
	if s.Broker == nil {
		return
	}
	if err := s.Broker.Forward(socketId, &comm.WSMessage{Type: msgType}); err != nil {
		log.Errorf("Failed to publish %s of socket %s: %v", msgType, socketId, err)
	}
}

// Send writes m to socketId and reports whether the socket is connected.
func (s *Ws) Send(socketId string, m *comm.WSMessage) bool {
	v, ok := s.connMap.Load(socketId)
	if !ok {
		return false
	}
	if err := v.(*client).write(m); err != nil {
		log.Errorf("Error writing %s to socket %s: %v", m.Type, socketId, err)
	}
	return true
}

// Ping sends a websocket ping and reports whether the socket is still
// registered and writable.
func (s *Ws) Ping(socketId string) bool {
	v, ok := s.connMap.Load(socketId)
	if !ok {
		return false
	}
	c := v.(*client)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)) == nil
}

func (s *Ws) Broadcast(m *comm.WSMessage) {
	s.connMap.Range(func(key, value any) bool {
		if err := value.(*client).write(m); err != nil {
			log.Errorf("Error broadcasting %s to socket %s: %v", m.Type, key, err)
		}
		return true
	})
}

func (s *Ws) Count() int {
	n := 0
	s.connMap.Range(func(key, value any) bool {
		n++
		return true
	})
	return n
}

// CloseAll closes every connection; their read loops then report the
// disconnects.
func (s *Ws) CloseAll() {
	s.connMap.Range(func(key, value any) bool {
		c := value.(*client)
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
		c.mu.Unlock()
		_ = c.conn.Close()
		return true
	})
}
