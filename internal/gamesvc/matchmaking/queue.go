package matchmaking

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Entry is one searching player.
type Entry struct {
	SocketID   string
	Name       string
	Wallet     string
	Stake      decimal.Decimal
	EnqueuedAt time.Time
}

// Match pairs the two oldest entries of a tier. Host is the earlier one.
type Match struct {
	Host  Entry
	Guest Entry
}

// Queue keeps one FIFO list per stake tier.
type Queue struct {
	mu       sync.Mutex
	tiers    map[string][]Entry
	onChange func(searching int)
}

func NewQueue(onChange func(searching int)) *Queue {
	return &Queue{
		tiers:    make(map[string][]Entry),
		onChange: onChange,
	}
}

// Tier is the canonical key of a stake, so 0.50 and 0.5 share a list.
func Tier(stake decimal.Decimal) string {
	return stake.String()
}

// Enqueue appends the entry to its tier and tries to pair it. A socket that
// is already queued is moved to the new tier and position.
func (q *Queue) Enqueue(e Entry) (*Match, bool) {
	q.mu.Lock()
	q.remove(e.SocketID)

	tier := Tier(e.Stake)
	q.tiers[tier] = append(q.tiers[tier], e)
	log.Infof("player %s queued for stake %s (tier size %d)", e.SocketID, tier, len(q.tiers[tier]))

	m, ok := q.tryMatch(tier)
	searching := q.searching()
	q.mu.Unlock()

	q.changed(searching)
	return m, ok
}

// Dequeue removes the socket from whatever tier it waits in.
func (q *Queue) Dequeue(socketID string) bool {
	q.mu.Lock()
	removed := q.remove(socketID)
	searching := q.searching()
	q.mu.Unlock()

	if removed {
		q.changed(searching)
	}
	return removed
}

// TryMatch pairs the two oldest entries of tier, if there are two.
func (q *Queue) TryMatch(tier string) (*Match, bool) {
	q.mu.Lock()
	m, ok := q.tryMatch(tier)
	searching := q.searching()
	q.mu.Unlock()

	if ok {
		q.changed(searching)
	}
	return m, ok
}

func (q *Queue) Searching() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.searching()
}

func (q *Queue) Contains(socketID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, list := range q.tiers {
		for _, e := range list {
			if e.SocketID == socketID {
				return true
			}
		}
	}
	return false
}

func (q *Queue) tryMatch(tier string) (*Match, bool) {
	list := q.tiers[tier]
	if len(list) < 2 {
		return nil, false
	}

	m := &Match{Host: list[0], Guest: list[1]}
	rest := list[2:]
	if len(rest) == 0 {
		delete(q.tiers, tier)
	} else {
		q.tiers[tier] = append([]Entry(nil), rest...)
	}

	log.Infof("matched %s (host) with %s (guest) at stake %s", m.Host.SocketID, m.Guest.SocketID, tier)
	return m, true
}

func (q *Queue) remove(socketID string) bool {
	for tier, list := range q.tiers {
		for i, e := range list {
			if e.SocketID != socketID {
				continue
			}
			list = append(list[:i:i], list[i+1:]...)
			if len(list) == 0 {
				delete(q.tiers, tier)
			} else {
				q.tiers[tier] = list
			}
			return true
		}
	}
	return false
}

func (q *Queue) searching() int {
	n := 0
	for _, list := range q.tiers {
		n += len(list)
	}
	return n
}

func (q *Queue) changed(searching int) {
	if q.onChange != nil {
		q.onChange(searching)
	}
}
