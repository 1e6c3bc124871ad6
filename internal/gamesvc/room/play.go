package room

import (
	"github.com/avvvet/airhockey-services/internal/comm"
	"github.com/avvvet/airhockey-services/internal/gamesvc/rules"
	log "github.com/sirupsen/logrus"
)

// PaddleMove clamps the move to the sender's half and relays it to the
// opponent.
func (r *Room) PaddleMove(socketID string, x, y float64) error {
	r.mu.Lock()
	defer r.unlock()

	s := r.slotBySocket(socketID)
	if s == nil {
		return ErrNotInRoom
	}
	if r.resolved || r.phase != Active {
		return ErrNotActive
	}

	x, y, err := rules.ValidatePaddle(s.Side(), x, y)
	if err != nil {
		log.Debugf("room %s: paddle from player %d rejected: %s", r.ID, s.Number, err)
		return err
	}

	r.sim.Paddles[s.Number-1] = comm.PaddleMove{X: x, Y: y}
	r.monitor.Record(s.Number)
	r.send(r.other(s), comm.MsgPaddleUpdate, comm.PaddleUpdate{PlayerNumber: s.Number, X: x, Y: y})
	return nil
}

// BallUpdate accepts the host's ball state and forwards it to the guest.
func (r *Room) BallUpdate(socketID string, b comm.BallState) error {
	r.mu.Lock()
	defer r.unlock()

	s := r.slotBySocket(socketID)
	if s == nil {
		return ErrNotInRoom
	}
	if r.resolved || r.phase != Active {
		return ErrNotActive
	}
	if s.Role != Host {
		log.Warnf("room %s: ball update from guest %s rejected", r.ID, socketID)
		return ErrNotHost
	}
	if err := rules.ValidateBall(b.X, b.Y); err != nil {
		log.Debugf("room %s: ball (%.1f, %.1f) rejected", r.ID, b.X, b.Y)
		return err
	}
	if !r.ball.Allow(r.clock.Now()) {
		return rules.ErrRateLimited
	}

	r.sim.Ball = b
	r.monitor.Record(s.Number)
	r.send(r.slots[1], comm.MsgBallUpdate, b)
	return nil
}

// ScoreUpdate advances a side's tally by one. Only the host reports goals.
// Once a side reaches the win score the result is verified and, if it holds,
// the game completes.
func (r *Room) ScoreUpdate(socketID string, side rules.Side, score int) error {
	r.mu.Lock()
	defer r.unlock()

	s := r.slotBySocket(socketID)
	if s == nil {
		return ErrNotInRoom
	}
	if r.resolved || r.phase != Active {
		return ErrNotActive
	}
	if s.Role != Host {
		log.Warnf("room %s: score update from guest %s rejected", r.ID, socketID)
		return ErrNotHost
	}
	if !side.Valid() {
		return ErrBadScore
	}

	idx := side.Number() - 1
	current := r.sim.Scores[idx]
	switch score {
	case current:
		r.monitor.Record(s.Number)
		return nil
	case current + 1:
	default:
		log.Warnf("room %s: %s score jump %d -> %d rejected", r.ID, side, current, score)
		return ErrBadScore
	}

	r.sim.Scores[idx] = score
	r.sim.Ball = centerBall()
	r.monitor.Record(s.Number)

	board := comm.ScoreBoard{Player1: r.sim.Scores[0], Player2: r.sim.Scores[1]}
	for _, slot := range r.slots {
		r.send(slot, comm.MsgScoreUpdate, board)
	}

	leader, ok := r.verifier.Leader(r.sim.Scores[0], r.sim.Scores[1])
	if !ok {
		return nil
	}
	winner, err := r.verifier.Verify(r.sim.Scores[0], r.sim.Scores[1], leader, r.clock.Now().Sub(r.startedAt))
	if err != nil {
		log.Warnf("room %s: %s reached %d but the win did not verify: %s", r.ID, leader, score, err)
		return nil
	}
	r.complete(winner)
	r.checkDone()
	return nil
}

// ReportCompletion handles a client's claim that the game is over. A repeat
// of the accepted claim returns the stored result and changes nothing.
func (r *Room) ReportCompletion(socketID string, claimed rules.Side) (Result, error) {
	r.mu.Lock()
	defer r.unlock()

	if r.slotBySocket(socketID) == nil {
		return Result{}, ErrNotInRoom
	}
	if r.resolved {
		if r.result != nil && r.result.Winner == claimed {
			return *r.result, nil
		}
		return Result{}, ErrAlreadyResolved
	}
	if r.phase != Active {
		return Result{}, ErrNotActive
	}

	winner, err := r.verifier.Verify(r.sim.Scores[0], r.sim.Scores[1], claimed, r.clock.Now().Sub(r.startedAt))
	if err != nil {
		log.Warnf("room %s: completion claim for %s rejected (%d-%d): %s",
			r.ID, claimed, r.sim.Scores[0], r.sim.Scores[1], err)
		return Result{}, err
	}

	r.complete(winner)
	r.checkDone()
	return *r.result, nil
}
