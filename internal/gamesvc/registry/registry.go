package registry

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/avvvet/airhockey-services/internal/gamesvc/room"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var (
	ErrRoomExists = errors.New("room id already in use")
	ErrNoRoom     = errors.New("room not found")
)

// Registry indexes live rooms by id and connections by the room they sit in.
// Connections reference rooms by id only.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]*room.Room
	bySocket map[string]string
	grace    time.Duration
	after    func(time.Duration, func())
}

func New(grace time.Duration) *Registry {
	return &Registry{
		rooms:    make(map[string]*room.Room),
		bySocket: make(map[string]string),
		grace:    grace,
		after:    func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}
}

// NewRoomID returns an unused 6 character upper-case id.
func (g *Registry) NewRoomID() string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for {
		id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
		if _, taken := g.rooms[id]; !taken {
			return id
		}
	}
}

func (g *Registry) Add(r *room.Room) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.rooms[r.ID]; ok {
		return ErrRoomExists
	}
	g.rooms[r.ID] = r
	return nil
}

// Attach points socketID at roomID, replacing any earlier room.
func (g *Registry) Attach(socketID, roomID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bySocket[socketID] = roomID
}

func (g *Registry) Detach(socketID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.bySocket, socketID)
}

// Lookup returns the room socketID currently sits in.
func (g *Registry) Lookup(socketID string) (*room.Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	id, ok := g.bySocket[socketID]
	if !ok {
		return nil, false
	}
	r, ok := g.rooms[id]
	return r, ok
}

func (g *Registry) Get(roomID string) (*room.Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.rooms[strings.ToUpper(roomID)]
	return r, ok
}

// Retire removes the room and its socket index entries after the grace
// period, so late frames still find it. cleanup runs once the room is gone.
func (g *Registry) Retire(roomID string, cleanup ...func()) {
	g.after(g.grace, func() {
		g.remove(roomID)
		for _, f := range cleanup {
			f()
		}
	})
}

func (g *Registry) remove(roomID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.rooms[roomID]; !ok {
		return
	}
	delete(g.rooms, roomID)
	for socketID, id := range g.bySocket {
		if id == roomID {
			delete(g.bySocket, socketID)
		}
	}
	log.Infof("room %s retired, %d rooms live", roomID, len(g.rooms))
}

func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

// Rooms returns the live rooms in no particular order.
func (g *Registry) Rooms() []*room.Room {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*room.Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		out = append(out, r)
	}
	return out
}
