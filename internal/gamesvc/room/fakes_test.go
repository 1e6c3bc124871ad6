package room

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/avvvet/airhockey-services/internal/gamesvc/escrow"
	"github.com/shopspring/decimal"
)

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	seq     int
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{c: c, at: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward, firing due timers in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due []*fakeTimer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && !t.at.After(target) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			c.now = target
			c.mu.Unlock()
			return
		}
		sort.Slice(due, func(i, j int) bool {
			if due[i].at.Equal(due[j].at) {
				return due[i].seq < due[j].seq
			}
			return due[i].at.Before(due[j].at)
		})
		next := due[0]
		next.fired = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()

		next.f()
	}
}

type note struct {
	socket  string
	msgType string
	payload any
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []note
}

func (n *recordingNotifier) Notify(socketID, msgType string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note{socketID, msgType, payload})
}

func (n *recordingNotifier) Broadcast(msgType string, payload any) {}

func (n *recordingNotifier) types(socketID string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, m := range n.notes {
		if m.socket == socketID {
			out = append(out, m.msgType)
		}
	}
	return out
}

func (n *recordingNotifier) last(socketID, msgType string) (any, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.notes) - 1; i >= 0; i-- {
		if n.notes[i].socket == socketID && n.notes[i].msgType == msgType {
			return n.notes[i].payload, true
		}
	}
	return nil, false
}

type escrowCall struct {
	op      escrow.Op
	actor   escrow.Actor
	gameID  string
	wallet  string
	attempt int
}

// fakeEscrow records requests; tests deliver outcomes by calling the room's
// session methods directly.
type fakeEscrow struct {
	mu     sync.Mutex
	calls  []escrowCall
	claims []escrow.Claim
}

func (e *fakeEscrow) record(c escrowCall) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, c)
}

func (e *fakeEscrow) CreateStake(s escrow.Session, a escrow.Actor, stake decimal.Decimal) {
	e.record(escrowCall{op: escrow.OpCreate, actor: a})
}

func (e *fakeEscrow) JoinStake(s escrow.Session, a escrow.Actor, gameID string, stake decimal.Decimal) {
	e.record(escrowCall{op: escrow.OpJoin, actor: a, gameID: gameID})
}

func (e *fakeEscrow) Settle(s escrow.Session, a escrow.Actor, gameID, winnerWallet string, stake decimal.Decimal, attempt int) {
	e.record(escrowCall{op: escrow.OpSettle, actor: a, gameID: gameID, wallet: winnerWallet, attempt: attempt})
}

func (e *fakeEscrow) Refund(s escrow.Session, a escrow.Actor, gameID string) {
	e.record(escrowCall{op: escrow.OpRefund, actor: a, gameID: gameID})
}

func (e *fakeEscrow) Defer(c escrow.Claim) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.claims = append(e.claims, c)
}

func (e *fakeEscrow) MaxAttempts() int { return 3 }

func (e *fakeEscrow) FeePercent() decimal.Decimal { return decimal.NewFromInt(5) }

func (e *fakeEscrow) ops() []escrow.Op {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []escrow.Op
	for _, c := range e.calls {
		out = append(out, c.op)
	}
	return out
}

func (e *fakeEscrow) count(op escrow.Op) int {
	n := 0
	for _, o := range e.ops() {
		if o == op {
			n++
		}
	}
	return n
}

func (e *fakeEscrow) lastCall() escrowCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[len(e.calls)-1]
}

// autoLedger confirms every request immediately.
type autoLedger struct {
	mu   sync.Mutex
	reqs []escrow.Request
}

func (l *autoLedger) Submit(ctx context.Context, req escrow.Request) (escrow.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reqs = append(l.reqs, req)
	if req.Op == escrow.OpCreate {
		return escrow.Receipt{GameID: "G-auto", TxRef: "tx-create"}, nil
	}
	return escrow.Receipt{GameID: req.GameID, TxRef: "tx-" + string(req.Op)}, nil
}
