package store

import (
	"context"
	"fmt"
	"time"

	"github.com/avvvet/airhockey-services/internal/gamesvc/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const MatchCollection = "matches"

type MatchStore struct {
	coll      *mongo.Collection
	retention time.Duration
}

// NewMatchStore keeps history for retention; the TTL index on expires_at
// drops older records.
func NewMatchStore(db *mongo.Database, retention time.Duration) *MatchStore {
	return &MatchStore{coll: db.Collection(MatchCollection), retention: retention}
}

func (s *MatchStore) Record(ctx context.Context, m models.Match) error {
	if m.EndedAt.IsZero() {
		m.EndedAt = time.Now()
	}
	m.ExpiresAt = m.EndedAt.Add(s.retention)
	m.Wallets = m.Wallets[:0]
	for _, p := range m.Players {
		if p.Wallet != "" {
			m.Wallets = append(m.Wallets, p.Wallet)
		}
	}

	if _, err := s.coll.InsertOne(ctx, m); err != nil {
		return fmt.Errorf("failed to record match %s: %w", m.RoomID, err)
	}
	return nil
}

// Recent returns the newest matches, limited to those wallet played in when
// wallet is set.
func (s *MatchStore) Recent(ctx context.Context, wallet string, limit int64) ([]models.Match, error) {
	filter := bson.M{}
	if wallet != "" {
		filter["wallets"] = wallet
	}
	opts := options.Find().SetSort(bson.D{{Key: "ended_at", Value: -1}}).SetLimit(limit)

	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}
	defer cur.Close(ctx)

	matches := []models.Match{}
	if err := cur.All(ctx, &matches); err != nil {
		return nil, fmt.Errorf("failed to decode matches: %w", err)
	}
	return matches, nil
}
