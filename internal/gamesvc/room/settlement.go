package room

import (
	"errors"

	"github.com/avvvet/airhockey-services/internal/comm"
	"github.com/avvvet/airhockey-services/internal/gamesvc/escrow"
	log "github.com/sirupsen/logrus"
)

var _ escrow.Session = (*Room)(nil)

func (r *Room) OnStakeCreated(number int, rc escrow.Receipt) {
	r.mu.Lock()
	defer r.unlock()

	r.landed()
	r.stakeCreated(rc)
	r.checkDone()
}

func (r *Room) OnStakeJoined(number int, rc escrow.Receipt) {
	r.mu.Lock()
	defer r.unlock()

	r.landed()
	r.stakeJoined(rc)
	r.checkDone()
}

func (r *Room) OnStakeFailed(number int, err error) {
	r.mu.Lock()
	defer r.unlock()

	r.landed()
	r.stakeFailed(number, err)
	r.checkDone()
}

func (r *Room) OnSettled(rc escrow.Receipt) {
	r.mu.Lock()
	defer r.unlock()

	r.landed()
	r.settled(rc)
	r.checkDone()
}

func (r *Room) OnSettleFailed(attempt int, err error) {
	r.mu.Lock()
	defer r.unlock()

	r.landed()
	if r.result == nil || r.settlement.State != SettlePending || attempt != r.settlement.Attempt {
		log.Debugf("room %s: stale settle failure for attempt %d ignored", r.ID, attempt)
		r.checkDone()
		return
	}

	reason := escrow.Reason(err)
	winner := r.slots[r.result.WinnerNumber-1]
	if !winner.Online || escrow.IsOffline(err) || errors.Is(err, escrow.ErrAttemptsExhausted) || attempt >= r.escrow.MaxAttempts() {
		r.deferSettlement(reason)
		r.checkDone()
		return
	}

	r.settlement.State = SettleAwaitingRetry
	r.settlement.Reason = reason
	r.send(winner, comm.MsgSettlementFailed, comm.SettlementStatus{
		RoomId:      r.ID,
		GameId:      r.ref.GameID,
		Attempt:     attempt,
		MaxAttempts: r.escrow.MaxAttempts(),
		Reason:      reason,
		Message:     "Settlement failed. Retry to claim your winnings.",
	})
	log.Warnf("room %s: settlement attempt %d/%d failed: %s", r.ID, attempt, r.escrow.MaxAttempts(), reason)
}

func (r *Room) OnRefunded(number int, rc escrow.Receipt) {
	r.mu.Lock()
	defer r.unlock()

	r.landed()
	r.refunded(rc)
	r.checkDone()
}

func (r *Room) OnRefundFailed(number int, err error) {
	r.mu.Lock()
	defer r.unlock()

	r.landed()
	reason := escrow.Reason(err)
	r.settlement.State = RefundDeferred
	r.settlement.Reason = reason

	s := r.slots[number-1]
	r.refundOwed[number-1] = true
	claim := escrow.Claim{
		GameID: r.ref.GameID,
		RoomID: r.ID,
		Kind:   escrow.OpRefund,
		Wallet: s.Wallet,
		Stake:  r.ref.Stake,
		Reason: reason,
	}
	r.after(func() { r.escrow.Defer(claim) })

	r.send(s, comm.MsgSettlementDeferred, comm.SettlementStatus{
		RoomId:  r.ID,
		GameId:  r.ref.GameID,
		Reason:  reason,
		Message: "Refund deferred. It can be claimed later.",
	})
	r.checkDone()
}

// AdoptStake applies a stake confirmation that arrived without a pending
// wallet prompt, such as one that landed after its prompt timed out.
func (r *Room) AdoptStake(number int, rc escrow.Receipt) {
	r.mu.Lock()
	defer r.unlock()

	if number == 1 {
		r.stakeCreated(rc)
	} else {
		r.stakeJoined(rc)
	}
	r.checkDone()
}

// AdoptSettlement marks a deferred settlement as paid out by the winner's
// client. Reports from any other socket are refused.
func (r *Room) AdoptSettlement(socketID string, rc escrow.Receipt) bool {
	r.mu.Lock()
	defer r.unlock()

	s := r.slotBySocket(socketID)
	if s == nil || !r.isWinner(s) {
		log.Warnf("room %s: settlement reported by non-winner %s ignored", r.ID, socketID)
		return false
	}
	if r.settlement.State != SettleDeferred && r.settlement.State != SettleAwaitingRetry {
		return false
	}
	r.settled(rc)
	r.checkDone()
	return true
}

// AdoptRefund marks a deferred refund as returned by the client of the
// player it was owed to.
func (r *Room) AdoptRefund(socketID string, rc escrow.Receipt) bool {
	r.mu.Lock()
	defer r.unlock()

	s := r.slotBySocket(socketID)
	if s == nil || !r.refundOwed[s.Number-1] {
		log.Warnf("room %s: refund reported by %s, who is owed none", r.ID, socketID)
		return false
	}
	if r.settlement.State != RefundDeferred {
		return false
	}
	r.refundOwed[s.Number-1] = false
	r.refunded(rc)
	r.checkDone()
	return true
}

// ReportTransactionFailed handles a client-reported stake failure that has no
// pending wallet prompt.
func (r *Room) ReportTransactionFailed(number int, err error) {
	r.mu.Lock()
	defer r.unlock()

	r.stakeFailed(number, err)
	r.checkDone()
}

// RetrySettlement lets the winner try a failed payout again.
func (r *Room) RetrySettlement(socketID string) error {
	r.mu.Lock()
	defer r.unlock()

	s := r.slotBySocket(socketID)
	if s == nil {
		return ErrNotInRoom
	}
	if r.settlement.State != SettleAwaitingRetry || !r.isWinner(s) {
		return ErrNoPendingRetry
	}

	r.settlement.State = SettlePending
	r.settlement.Attempt++
	r.issueSettle()
	return nil
}

// DeferSettlement records the payout as a claim instead of retrying now.
func (r *Room) DeferSettlement(socketID string) error {
	r.mu.Lock()
	defer r.unlock()

	s := r.slotBySocket(socketID)
	if s == nil {
		return ErrNotInRoom
	}
	if r.settlement.State != SettleAwaitingRetry || !r.isWinner(s) {
		return ErrNoPendingRetry
	}

	r.deferSettlement("deferred by winner")
	r.checkDone()
	return nil
}

func (r *Room) landed() {
	if r.inflight > 0 {
		r.inflight--
	}
}

func (r *Room) stakeCreated(rc escrow.Receipt) {
	if rc.GameID == "" {
		return
	}
	if r.ref.HostStaked {
		if rc.GameID != r.ref.GameID {
			log.Warnf("room %s: second stake %s by host, refunding it", r.ID, rc.GameID)
			r.issueRefund(r.slots[0], rc.GameID)
		}
		return
	}

	r.ref.GameID = rc.GameID
	r.ref.HostStaked = true
	r.ref.HostTx = rc.TxRef
	log.Infof("room %s: host staked %s in game %s", r.ID, r.ref.Stake, rc.GameID)

	if r.resolved {
		log.Warnf("room %s: stake landed after %s, refunding", r.ID, r.phase)
		r.settlement.State = RefundPending
		r.issueRefund(r.slots[0], rc.GameID)
		return
	}
	if r.phase == MatchedPendingEscrow {
		r.requestJoin()
	}
}

func (r *Room) stakeJoined(rc escrow.Receipt) {
	if r.ref.GuestStaked {
		return
	}
	if !r.ref.HostStaked {
		log.Warnf("room %s: join confirmed before any stake exists", r.ID)
		return
	}

	r.ref.GuestStaked = true
	r.ref.GuestTx = rc.TxRef
	log.Infof("room %s: guest joined game %s", r.ID, r.ref.GameID)

	if r.resolved {
		log.Warnf("room %s: join landed after %s, refunding guest", r.ID, r.phase)
		r.issueRefund(r.slots[1], r.ref.GameID)
		return
	}
	if r.phase == MatchedPendingEscrow {
		r.activate()
	}
}

func (r *Room) stakeFailed(number int, err error) {
	if r.resolved || r.phase == Active {
		log.Debugf("room %s: stake failure from player %d ignored in %s", r.ID, number, r.phase)
		return
	}
	if number < 1 || number > 2 || r.slots[number-1] == nil {
		return
	}

	reason := escrow.Reason(err)
	if !r.resolve(Cancelled, reason) {
		return
	}
	s := r.slots[number-1]
	refund := r.ref.HostStaked

	r.send(r.other(s), comm.MsgTransactionFailed, comm.TransactionFailedNotice{
		RoomId:       r.ID,
		PlayerNumber: number,
		Reason:       reason,
	})
	r.send(s, comm.MsgGameCancelled, comm.GameCancelled{RoomId: r.ID, Reason: reason, Refund: refund})
	r.refundStakes()
}

func (r *Room) settled(rc escrow.Receipt) {
	if r.ref.Settled {
		log.Warnf("room %s: duplicate settlement %s ignored", r.ID, rc.TxRef)
		return
	}
	r.ref.Settled = true
	r.settlement.State = SettleSettled
	r.settlement.TxRef = rc.TxRef
	r.settlement.Reason = ""

	for _, s := range r.slots {
		r.send(s, comm.MsgSettlementConfirmed, comm.SettlementStatus{
			RoomId:  r.ID,
			GameId:  r.ref.GameID,
			Attempt: r.settlement.Attempt,
			TxRef:   rc.TxRef,
			Message: "Winnings paid out",
		})
	}
	log.Infof("room %s: game %s settled (%s)", r.ID, r.ref.GameID, rc.TxRef)
}

func (r *Room) refunded(rc escrow.Receipt) {
	r.ref.Refunded = true
	if r.settlement.State == RefundPending || r.settlement.State == RefundDeferred {
		r.settlement.State = RefundDone
		r.settlement.TxRef = rc.TxRef
	}
	for _, s := range r.slots {
		r.send(s, comm.MsgRefundConfirmed, comm.SettlementStatus{
			RoomId:  r.ID,
			GameId:  r.ref.GameID,
			TxRef:   rc.TxRef,
			Message: "Stake refunded",
		})
	}
	log.Infof("room %s: game %s refunded (%s)", r.ID, r.ref.GameID, rc.TxRef)
}

func (r *Room) beginSettlement() {
	r.settlement = Settlement{State: SettlePending, Attempt: 1}
	r.issueSettle()
}

func (r *Room) issueSettle() {
	winner := r.slots[r.result.WinnerNumber-1]
	a := r.actor(winner)
	gameID, wallet, stake, attempt := r.ref.GameID, winner.Wallet, r.ref.Stake, r.settlement.Attempt
	r.inflight++
	r.after(func() { r.escrow.Settle(r, a, gameID, wallet, stake, attempt) })
}

func (r *Room) deferSettlement(reason string) {
	r.settlement.State = SettleDeferred
	r.settlement.Reason = reason

	winner := r.slots[r.result.WinnerNumber-1]
	claim := escrow.Claim{
		GameID:   r.ref.GameID,
		RoomID:   r.ID,
		Kind:     escrow.OpSettle,
		Wallet:   winner.Wallet,
		Stake:    r.ref.Stake,
		Attempts: r.settlement.Attempt,
		Reason:   reason,
	}
	r.after(func() { r.escrow.Defer(claim) })

	r.send(winner, comm.MsgSettlementDeferred, comm.SettlementStatus{
		RoomId:      r.ID,
		GameId:      r.ref.GameID,
		Attempt:     r.settlement.Attempt,
		MaxAttempts: r.escrow.MaxAttempts(),
		Reason:      reason,
		Message:     "Settlement deferred. Your win is recorded and can be claimed later.",
	})
	log.Warnf("room %s: settlement of game %s deferred: %s", r.ID, r.ref.GameID, reason)
}

// refundStakes returns the host's stake, which escrow holds for both players
// under one game id.
func (r *Room) refundStakes() {
	if !r.ref.HostStaked {
		return
	}
	r.settlement.State = RefundPending
	r.issueRefund(r.slots[0], r.ref.GameID)
}

func (r *Room) issueRefund(s *Slot, gameID string) {
	a := r.actor(s)
	r.inflight++
	r.after(func() { r.escrow.Refund(r, a, gameID) })
}
