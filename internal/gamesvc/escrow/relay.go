package escrow

import (
	"context"
	"fmt"
	"sync"

	"github.com/avvvet/airhockey-services/internal/comm"
	log "github.com/sirupsen/logrus"
)

type promptKey struct {
	roomID string
	number int
}

type expiredKey struct {
	promptKey
	op Op
}

type outcome struct {
	receipt Receipt
	err     error
}

type prompt struct {
	op       Op
	socketID string
	done     chan outcome
}

// WalletRelay is the Ledger of the browser-wallet deployment: each operation
// is a prompt sent to the acting player's socket, completed when that
// player's client reports the confirmed transaction.
type WalletRelay struct {
	notifier comm.Notifier

	mu      sync.Mutex
	pending map[promptKey]*prompt
	expired map[expiredKey]struct{}
}

func NewWalletRelay(n comm.Notifier) *WalletRelay {
	return &WalletRelay{
		notifier: n,
		pending:  make(map[promptKey]*prompt),
		expired:  make(map[expiredKey]struct{}),
	}
}

func (w *WalletRelay) Submit(ctx context.Context, req Request) (Receipt, error) {
	a := req.Actor
	if !a.Online || a.SocketID == "" {
		return Receipt{}, fmt.Errorf("%s for room %s player %d: %w", req.Op, a.RoomID, a.Number, ErrActorOffline)
	}

	key := promptKey{roomID: a.RoomID, number: a.Number}
	p := &prompt{op: req.Op, socketID: a.SocketID, done: make(chan outcome, 1)}

	w.mu.Lock()
	if old, ok := w.pending[key]; ok {
		old.done <- outcome{err: &TxError{Op: old.op, Reason: "superseded by a newer request"}}
	}
	w.pending[key] = p
	w.mu.Unlock()

	w.notifier.Notify(a.SocketID, promptType(req.Op), comm.StakePrompt{
		RoomId:       a.RoomID,
		PlayerNumber: a.Number,
		GameId:       req.GameID,
		StakeAmount:  req.Stake,
		WinnerWallet: req.WinnerWallet,
		FeePercent:   feeString(req),
		Attempt:      req.Attempt,
	})

	select {
	case o := <-p.done:
		return o.receipt, o.err
	case <-ctx.Done():
		w.expire(key, p)
		return Receipt{}, &TxError{Op: req.Op, Reason: "wallet confirmation timed out"}
	}
}

// Resolve completes the pending prompt of the player if it is for op.
// It reports false when no such prompt is waiting.
func (w *WalletRelay) Resolve(roomID string, number int, op Op, r Receipt) bool {
	return w.complete(roomID, number, func(p *prompt) bool { return p.op == op }, outcome{receipt: r})
}

// Fail completes whatever prompt the player has pending with err.
func (w *WalletRelay) Fail(roomID string, number int, err error) bool {
	return w.complete(roomID, number, func(*prompt) bool { return true }, outcome{err: err})
}

// Disconnect fails every prompt waiting on socketID.
func (w *WalletRelay) Disconnect(socketID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := 0
	for key, p := range w.pending {
		if p.socketID != socketID {
			continue
		}
		delete(w.pending, key)
		p.done <- outcome{err: fmt.Errorf("%s for room %s: %w", p.op, key.roomID, ErrActorOffline)}
		n++
	}
	if n > 0 {
		log.Infof("failed %d wallet prompts of disconnected socket %s", n, socketID)
	}
	return n
}

// TakeExpired consumes the record of a timed out prompt for op. A
// confirmation that arrives late is only credible for such a prompt.
func (w *WalletRelay) TakeExpired(roomID string, number int, op Op) bool {
	key := expiredKey{promptKey{roomID: roomID, number: number}, op}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.expired[key]; !ok {
		return false
	}
	delete(w.expired, key)
	return true
}

// Forget drops the timed out prompts of a retired room.
func (w *WalletRelay) Forget(roomID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for key := range w.expired {
		if key.roomID == roomID {
			delete(w.expired, key)
		}
	}
}

func (w *WalletRelay) Pending(roomID string, number int) (Op, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.pending[promptKey{roomID: roomID, number: number}]
	if !ok {
		return "", false
	}
	return p.op, true
}

func (w *WalletRelay) complete(roomID string, number int, match func(*prompt) bool, o outcome) bool {
	key := promptKey{roomID: roomID, number: number}

	w.mu.Lock()
	defer w.mu.Unlock()

	p, ok := w.pending[key]
	if !ok || !match(p) {
		return false
	}
	delete(w.pending, key)
	p.done <- o
	return true
}

func (w *WalletRelay) expire(key promptKey, p *prompt) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending[key] == p {
		delete(w.pending, key)
		w.expired[expiredKey{key, p.op}] = struct{}{}
	}
}

func promptType(op Op) string {
	switch op {
	case OpCreate:
		return comm.MsgCreateStake
	case OpJoin:
		return comm.MsgJoinBlockchainGame
	case OpSettle:
		return comm.MsgSettleStake
	default:
		return comm.MsgRefundStake
	}
}

func feeString(req Request) string {
	if req.Op != OpSettle {
		return ""
	}
	return req.FeePercent.String()
}
