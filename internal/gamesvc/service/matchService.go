package service

import (
	"context"

	"github.com/avvvet/airhockey-services/internal/gamesvc/models"
	"github.com/avvvet/airhockey-services/internal/gamesvc/room"
)

type MatchStore interface {
	Record(ctx context.Context, m models.Match) error
	Recent(ctx context.Context, wallet string, limit int64) ([]models.Match, error)
}

type MatchService struct {
	store MatchStore
}

func NewMatchService(store MatchStore) *MatchService {
	return &MatchService{store: store}
}

// RecordRoom stores the history of a finished room. Rooms that never seated
// two players are skipped.
func (s *MatchService) RecordRoom(ctx context.Context, snap room.Snapshot) error {
	if len(snap.Slots) < 2 {
		return nil
	}
	return s.store.Record(ctx, matchFromSnapshot(snap))
}

func (s *MatchService) Recent(ctx context.Context, wallet string, limit int64) ([]models.Match, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.store.Recent(ctx, wallet, limit)
}

func matchFromSnapshot(snap room.Snapshot) models.Match {
	m := models.Match{
		RoomID:     snap.ID,
		GameID:     snap.Escrow.GameID,
		Private:    snap.Private,
		Outcome:    snap.Phase.String(),
		Reason:     snap.Reason,
		Score1:     snap.Scores[0],
		Score2:     snap.Scores[1],
		Stake:      snap.Escrow.Stake.String(),
		Settlement: snap.Settlement.State.String(),
		TxRef:      snap.Settlement.TxRef,
		EndedAt:    snap.EndedAt,
	}
	for _, sl := range snap.Slots {
		m.Players = append(m.Players, models.MatchPlayer{Number: sl.Number, Name: sl.Name, Wallet: sl.Wallet})
	}
	if !snap.StartedAt.IsZero() {
		started := snap.StartedAt
		m.StartedAt = &started
	}
	if snap.Result != nil {
		m.Winner = string(snap.Result.Winner)
		m.WinnerWallet = snap.Result.WinnerWallet
		m.Payout = snap.Result.Payout.String()
	}
	return m
}
