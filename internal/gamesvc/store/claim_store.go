package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/avvvet/airhockey-services/internal/gamesvc/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const claimSchema = `
	CREATE TABLE IF NOT EXISTS escrow_claims (
		id          BIGSERIAL PRIMARY KEY,
		game_id     TEXT NOT NULL,
		room_id     TEXT NOT NULL,
		kind        TEXT NOT NULL,
		wallet      TEXT NOT NULL,
		stake       NUMERIC(30,9) NOT NULL DEFAULT 0,
		payout      NUMERIC(30,9) NOT NULL DEFAULT 0,
		fee         NUMERIC(30,9) NOT NULL DEFAULT 0,
		attempts    INT NOT NULL DEFAULT 0,
		reason      TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL DEFAULT 'deferred',
		tx_ref      TEXT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		resolved_at TIMESTAMPTZ,
		UNIQUE (game_id, kind)
	)`

const claimColumns = `id, game_id, room_id, kind, wallet, stake, payout, fee, attempts, reason, status, tx_ref, created_at, resolved_at`

type ClaimStore struct {
	db *pgxpool.Pool
}

func NewClaimStore(db *pgxpool.Pool) *ClaimStore {
	return &ClaimStore{db: db}
}

func (s *ClaimStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, claimSchema); err != nil {
		return fmt.Errorf("failed to create escrow_claims: %w", err)
	}
	return nil
}

// Save inserts a deferred claim. A second deferral of the same game and kind
// refreshes the open row and leaves a resolved one alone.
func (s *ClaimStore) Save(ctx context.Context, c models.Claim) (int64, error) {
	query := `
		INSERT INTO escrow_claims (game_id, room_id, kind, wallet, stake, payout, fee, attempts, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (game_id, kind) DO UPDATE
		SET attempts = EXCLUDED.attempts, reason = EXCLUDED.reason
		WHERE escrow_claims.status = 'deferred'
		RETURNING id`

	var id int64
	err := s.db.QueryRow(ctx, query,
		c.GameID, c.RoomID, c.Kind, c.Wallet, c.Stake, c.Payout, c.Fee, c.Attempts, c.Reason, c.CreatedAt,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		// conflict with a resolved claim
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to save claim for game %s: %w", c.GameID, err)
	}
	return id, nil
}

// ListOpen returns deferred claims, oldest first. An empty wallet lists all.
func (s *ClaimStore) ListOpen(ctx context.Context, wallet string) ([]models.Claim, error) {
	query := `SELECT ` + claimColumns + `
		FROM escrow_claims
		WHERE status = 'deferred' AND ($1 = '' OR wallet = $1)
		ORDER BY created_at`

	rows, err := s.db.Query(ctx, query, wallet)
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	defer rows.Close()

	claims := []models.Claim{}
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		claims = append(claims, *c)
	}
	return claims, rows.Err()
}

// Get returns the claim of gameID and kind, or nil when there is none.
func (s *ClaimStore) Get(ctx context.Context, gameID, kind string) (*models.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM escrow_claims WHERE game_id = $1 AND kind = $2`

	c, err := scanClaim(s.db.QueryRow(ctx, query, gameID, kind))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// Resolve closes a deferred claim. It reports false when the claim was
// already resolved or never existed, so a payout is recorded at most once.
func (s *ClaimStore) Resolve(ctx context.Context, gameID, kind, txRef string) (bool, error) {
	res, err := s.db.Exec(ctx, `
		UPDATE escrow_claims
		SET status = 'resolved', tx_ref = $3, resolved_at = now()
		WHERE game_id = $1 AND kind = $2 AND status = 'deferred'`,
		gameID, kind, txRef)
	if err != nil {
		return false, fmt.Errorf("failed to resolve claim for game %s: %w", gameID, err)
	}
	return res.RowsAffected() == 1, nil
}

// Begin moves a deferred claim to settling before a ledger payout. Only one
// caller wins the row.
func (s *ClaimStore) Begin(ctx context.Context, gameID, kind string) (bool, error) {
	res, err := s.db.Exec(ctx, `
		UPDATE escrow_claims
		SET status = 'settling'
		WHERE game_id = $1 AND kind = $2 AND status = 'deferred'`,
		gameID, kind)
	if err != nil {
		return false, fmt.Errorf("failed to lock claim for game %s: %w", gameID, err)
	}
	return res.RowsAffected() == 1, nil
}

// Release returns a settling claim to deferred after a failed payout.
func (s *ClaimStore) Release(ctx context.Context, gameID, kind string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE escrow_claims
		SET status = 'deferred'
		WHERE game_id = $1 AND kind = $2 AND status = 'settling'`,
		gameID, kind)
	if err != nil {
		return fmt.Errorf("failed to release claim for game %s: %w", gameID, err)
	}
	return nil
}

// Finish resolves a settling claim with the ledger's transaction.
func (s *ClaimStore) Finish(ctx context.Context, gameID, kind, txRef string) (bool, error) {
	res, err := s.db.Exec(ctx, `
		UPDATE escrow_claims
		SET status = 'resolved', tx_ref = $3, resolved_at = now()
		WHERE game_id = $1 AND kind = $2 AND status = 'settling'`,
		gameID, kind, txRef)
	if err != nil {
		return false, fmt.Errorf("failed to finish claim for game %s: %w", gameID, err)
	}
	return res.RowsAffected() == 1, nil
}

func scanClaim(row pgx.Row) (*models.Claim, error) {
	c := &models.Claim{}
	err := row.Scan(
		&c.ID,
		&c.GameID,
		&c.RoomID,
		&c.Kind,
		&c.Wallet,
		&c.Stake,
		&c.Payout,
		&c.Fee,
		&c.Attempts,
		&c.Reason,
		&c.Status,
		&c.TxRef,
		&c.CreatedAt,
		&c.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan claim: %w", err)
	}
	return c, nil
}
