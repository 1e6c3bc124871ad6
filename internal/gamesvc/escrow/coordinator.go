package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// ClaimRecorder persists deferred claims.
type ClaimRecorder interface {
	SaveClaim(ctx context.Context, c Claim) error
}

// Alerter tells operators about money that needs a human.
type Alerter interface {
	Alert(message string)
}

// Coordinator runs ledger operations off the caller's goroutine and reports
// each outcome to the owning session.
type Coordinator struct {
	ledger      Ledger
	claims      ClaimRecorder
	alerter     Alerter
	feePercent  decimal.Decimal
	maxAttempts int
	timeout     time.Duration
	run         func(func())
	now         func() time.Time
}

type Option func(*Coordinator)

func WithClaims(r ClaimRecorder) Option { return func(c *Coordinator) { c.claims = r } }

func WithAlerter(a Alerter) Option { return func(c *Coordinator) { c.alerter = a } }

func WithFeePercent(p decimal.Decimal) Option { return func(c *Coordinator) { c.feePercent = p } }

func WithMaxAttempts(n int) Option { return func(c *Coordinator) { c.maxAttempts = n } }

func WithTimeout(d time.Duration) Option { return func(c *Coordinator) { c.timeout = d } }

// WithExecutor replaces the goroutine-per-operation executor. Tests pass a
// synchronous one.
func WithExecutor(run func(func())) Option { return func(c *Coordinator) { c.run = run } }

func NewCoordinator(ledger Ledger, opts ...Option) *Coordinator {
	c := &Coordinator{
		ledger:      ledger,
		feePercent:  decimal.NewFromInt(5),
		maxAttempts: 3,
		timeout:     2 * time.Minute,
		run:         func(f func()) { go f() },
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) MaxAttempts() int { return c.maxAttempts }

func (c *Coordinator) FeePercent() decimal.Decimal { return c.feePercent }

func (c *Coordinator) CreateStake(s Session, a Actor, stake decimal.Decimal) {
	req := Request{Op: OpCreate, Actor: a, Stake: stake}
	c.submit(req, func(r Receipt, err error) {
		if err == nil && r.GameID == "" {
			err = ErrEmptyGameID
		}
		if err != nil {
			s.OnStakeFailed(a.Number, err)
			return
		}
		s.OnStakeCreated(a.Number, r)
	})
}

func (c *Coordinator) JoinStake(s Session, a Actor, gameID string, stake decimal.Decimal) {
	req := Request{Op: OpJoin, Actor: a, GameID: gameID, Stake: stake}
	c.submit(req, func(r Receipt, err error) {
		if err != nil {
			s.OnStakeFailed(a.Number, err)
			return
		}
		r.GameID = gameID
		s.OnStakeJoined(a.Number, r)
	})
}

// Settle pays the pool of gameID to winnerWallet. attempt counts from 1;
// past MaxAttempts the call fails without touching the ledger.
func (c *Coordinator) Settle(s Session, a Actor, gameID, winnerWallet string, stake decimal.Decimal, attempt int) {
	if attempt > c.maxAttempts {
		c.run(func() { s.OnSettleFailed(attempt, ErrAttemptsExhausted) })
		return
	}

	req := Request{
		Op:           OpSettle,
		Actor:        a,
		GameID:       gameID,
		Stake:        stake,
		WinnerWallet: winnerWallet,
		FeePercent:   c.feePercent,
		Attempt:      attempt,
	}
	c.submit(req, func(r Receipt, err error) {
		if err != nil {
			s.OnSettleFailed(attempt, err)
			return
		}
		r.GameID = gameID
		s.OnSettled(r)
	})
}

// Refund releases the stakes of gameID. The ledger treats a refund of a
// stake that was never joined as a no-op.
func (c *Coordinator) Refund(s Session, a Actor, gameID string) {
	req := Request{Op: OpRefund, Actor: a, GameID: gameID}
	c.submit(req, func(r Receipt, err error) {
		if s == nil {
			if err != nil {
				c.Defer(Claim{GameID: gameID, RoomID: a.RoomID, Kind: OpRefund, Wallet: a.Wallet, Reason: Reason(err)})
			}
			return
		}
		if err != nil {
			s.OnRefundFailed(a.Number, err)
			return
		}
		r.GameID = gameID
		s.OnRefunded(a.Number, r)
	})
}

// Defer records a claim for manual settlement and alerts operators.
func (c *Coordinator) Defer(claim Claim) {
	if claim.CreatedAt.IsZero() {
		claim.CreatedAt = c.now()
	}
	if claim.Kind == OpSettle && claim.Payout.IsZero() {
		claim.Payout, claim.Fee = SplitPool(claim.Stake, c.feePercent)
	}

	log.Warnf("deferring %s of game %s (room %s) for %s: %s",
		claim.Kind, claim.GameID, claim.RoomID, claim.Wallet, claim.Reason)

	c.run(func() {
		if c.claims != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := c.claims.SaveClaim(ctx, claim); err != nil {
				log.Errorf("Error saving deferred claim for game %s: %s", claim.GameID, err)
			}
		}
		if c.alerter != nil {
			c.alerter.Alert(fmt.Sprintf("deferred %s\ngame: %s\nroom: %s\nwallet: %s\nreason: %s",
				claim.Kind, claim.GameID, claim.RoomID, claim.Wallet, claim.Reason))
		}
	})
}

// Execute runs one request synchronously. Used for manual claims.
func (c *Coordinator) Execute(ctx context.Context, req Request) (Receipt, error) {
	if req.Op == OpSettle && req.FeePercent.IsZero() {
		req.FeePercent = c.feePercent
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.ledger.Submit(ctx, req)
}

func (c *Coordinator) submit(req Request, done func(Receipt, error)) {
	c.run(func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		r, err := c.ledger.Submit(ctx, req)
		if err != nil {
			log.Warnf("ledger %s for room %s player %d: %s", req.Op, req.Actor.RoomID, req.Actor.Number, err)
		} else {
			log.Infof("ledger %s for room %s player %d confirmed (game %s tx %s)",
				req.Op, req.Actor.RoomID, req.Actor.Number, r.GameID, r.TxRef)
		}
		done(r, err)
	})
}
