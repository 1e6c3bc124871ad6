package models

import "time"

type MatchPlayer struct {
	Number int    `bson:"number" json:"number"`
	Name   string `bson:"name" json:"name"`
	Wallet string `bson:"wallet" json:"wallet"`
}

// Match is the history record of one finished room.
type Match struct {
	RoomID       string        `bson:"room_id" json:"roomId"`
	GameID       string        `bson:"game_id,omitempty" json:"gameId,omitempty"`
	Private      bool          `bson:"private" json:"private"`
	Outcome      string        `bson:"outcome" json:"outcome"`
	Reason       string        `bson:"reason,omitempty" json:"reason,omitempty"`
	Players      []MatchPlayer `bson:"players" json:"players"`
	Wallets      []string      `bson:"wallets" json:"-"`
	Score1       int           `bson:"score1" json:"player1Score"`
	Score2       int           `bson:"score2" json:"player2Score"`
	Winner       string        `bson:"winner,omitempty" json:"winner,omitempty"`
	WinnerWallet string        `bson:"winner_wallet,omitempty" json:"winnerWallet,omitempty"`
	Stake        string        `bson:"stake" json:"stakeAmount"`
	Payout       string        `bson:"payout,omitempty" json:"payout,omitempty"`
	Settlement   string        `bson:"settlement" json:"settlement"`
	TxRef        string        `bson:"tx_ref,omitempty" json:"txRef,omitempty"`
	StartedAt    *time.Time    `bson:"started_at,omitempty" json:"startedAt,omitempty"`
	EndedAt      time.Time     `bson:"ended_at" json:"endedAt"`
	ExpiresAt    time.Time     `bson:"expires_at" json:"-"`
}
