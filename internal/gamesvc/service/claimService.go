package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/avvvet/airhockey-services/internal/gamesvc/escrow"
	"github.com/avvvet/airhockey-services/internal/gamesvc/models"
	log "github.com/sirupsen/logrus"
)

var (
	ErrClaimNotFound   = errors.New("claim not found")
	ErrClaimResolved   = errors.New("claim already resolved")
	ErrClaimInProgress = errors.New("claim is already being settled")
	ErrTxRefRequired   = errors.New("txRef is required: settlement through the ledger is only available in gateway mode")
)

type ClaimStore interface {
	Save(ctx context.Context, c models.Claim) (int64, error)
	ListOpen(ctx context.Context, wallet string) ([]models.Claim, error)
	Get(ctx context.Context, gameID, kind string) (*models.Claim, error)
	Resolve(ctx context.Context, gameID, kind, txRef string) (bool, error)
	Begin(ctx context.Context, gameID, kind string) (bool, error)
	Release(ctx context.Context, gameID, kind string) error
	Finish(ctx context.Context, gameID, kind, txRef string) (bool, error)
}

// Executor runs one ledger request to completion.
type Executor interface {
	Execute(ctx context.Context, req escrow.Request) (escrow.Receipt, error)
}

// ClaimService keeps deferred settlements and refunds until they are paid.
type ClaimService struct {
	store  ClaimStore
	ledger Executor
}

func NewClaimService(store ClaimStore, ledger Executor) *ClaimService {
	return &ClaimService{store: store, ledger: ledger}
}

// UseLedger sets the executor for manual settlements. Only the gateway can
// pay without a player's wallet, so wallet deployments leave it unset and
// every manual settlement must carry the client's txRef. The escrow
// coordinator records its claims here and also executes them, so it is
// attached after both exist.
func (s *ClaimService) UseLedger(ledger Executor) {
	s.ledger = ledger
}

// SaveClaim records a claim deferred by the escrow coordinator.
func (s *ClaimService) SaveClaim(ctx context.Context, c escrow.Claim) error {
	_, err := s.store.Save(ctx, models.Claim{
		GameID:    c.GameID,
		RoomID:    c.RoomID,
		Kind:      string(c.Kind),
		Wallet:    c.Wallet,
		Stake:     c.Stake,
		Payout:    c.Payout,
		Fee:       c.Fee,
		Attempts:  c.Attempts,
		Reason:    c.Reason,
		CreatedAt: c.CreatedAt,
	})
	return err
}

func (s *ClaimService) Resolve(ctx context.Context, gameID string, kind escrow.Op, txRef string) (bool, error) {
	return s.store.Resolve(ctx, gameID, string(kind), txRef)
}

func (s *ClaimService) Open(ctx context.Context, wallet string) ([]models.Claim, error) {
	return s.store.ListOpen(ctx, wallet)
}

// Settle closes the deferred settlement of gameID. With a txRef the payout
// already happened and is only recorded; without one the ledger is asked to
// pay it now.
func (s *ClaimService) Settle(ctx context.Context, gameID, txRef string) (*models.Claim, error) {
	claim, err := s.store.Get(ctx, gameID, string(escrow.OpSettle))
	if err != nil {
		return nil, err
	}
	if claim == nil {
		return nil, ErrClaimNotFound
	}
	switch claim.Status {
	case models.ClaimDeferred:
	case models.ClaimSettling:
		return nil, ErrClaimInProgress
	default:
		return nil, ErrClaimResolved
	}

	if txRef == "" {
		if s.ledger == nil {
			return nil, ErrTxRefRequired
		}
		return s.payOut(ctx, claim)
	}

	ok, err := s.store.Resolve(ctx, gameID, string(escrow.OpSettle), txRef)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrClaimResolved
	}
	return closed(claim, txRef), nil
}

// payOut claims the row before calling the ledger, so concurrent requests
// pay a claim at most once.
func (s *ClaimService) payOut(ctx context.Context, claim *models.Claim) (*models.Claim, error) {
	kind := string(escrow.OpSettle)
	ok, err := s.store.Begin(ctx, claim.GameID, kind)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrClaimInProgress
	}

	rc, err := s.ledger.Execute(ctx, escrow.Request{
		Op:           escrow.OpSettle,
		Actor:        escrow.Actor{RoomID: claim.RoomID, Wallet: claim.Wallet, Online: true},
		GameID:       claim.GameID,
		Stake:        claim.Stake,
		WinnerWallet: claim.Wallet,
		Attempt:      claim.Attempts + 1,
	})
	if err != nil {
		if rerr := s.store.Release(context.WithoutCancel(ctx), claim.GameID, kind); rerr != nil {
			log.Errorf("Error reopening claim of game %s: %s", claim.GameID, rerr)
		}
		return nil, fmt.Errorf("manual settlement of game %s failed: %w", claim.GameID, err)
	}

	ok, err = s.store.Finish(context.WithoutCancel(ctx), claim.GameID, kind, rc.TxRef)
	if err != nil || !ok {
		// paid but not recorded; the row stays settling for an operator
		log.Errorf("claim of game %s paid (%s) but not closed: %v", claim.GameID, rc.TxRef, err)
		if err == nil {
			err = ErrClaimResolved
		}
		return nil, err
	}
	return closed(claim, rc.TxRef), nil
}

func closed(claim *models.Claim, txRef string) *models.Claim {
	log.Infof("claim of game %s settled to %s (%s)", claim.GameID, claim.Wallet, txRef)
	claim.Status = models.ClaimResolved
	claim.TxRef = &txRef
	return claim
}
