package comm

import "github.com/shopspring/decimal"

// client -> server
const (
	MsgFindMatch             = "findMatch"
	MsgCancelMatchmaking     = "cancelMatchmaking"
	MsgCreatePrivateRoom     = "createPrivateRoom"
	MsgGetRoomInfo           = "getRoomInfo"
	MsgJoinRoom              = "joinRoom"
	MsgCancelRoom            = "cancelRoom"
	MsgBlockchainGameCreated = "blockchainGameCreated"
	MsgPlayer2Joined         = "player2Joined"
	MsgTransactionFailed     = "blockchainTransactionFailed"
	MsgBlockchainSettled     = "blockchainGameSettled"
	MsgBlockchainRefunded    = "blockchainGameRefunded"
	MsgRetrySettlement       = "retrySettlement"
	MsgDeferSettlement       = "deferSettlement"
	MsgPaddleMove            = "paddleMove"
	MsgBallUpdate            = "ballUpdate"
	MsgScoreUpdate           = "scoreUpdate"
	MsgGameComplete          = "gameComplete"
	MsgCancelGame            = "cancelGame"
	MsgPing                  = "ping"
)

// socket edge -> game service only
const (
	MsgConnect    = "connect"
	MsgDisconnect = "disconnect"
)

// server -> client
const (
	MsgQueueStats              = "queueStats"
	MsgMatchFound              = "matchFound"
	MsgMatchmakingError        = "matchmakingError"
	MsgPrivateRoomCreated      = "privateRoomCreated"
	MsgPrivateRoomError        = "privateRoomError"
	MsgRoomInfo                = "roomInfo"
	MsgRoomJoined              = "roomJoined"
	MsgJoinError               = "joinError"
	MsgPrivateRoomPlayerJoined = "privateRoomPlayerJoined"
	MsgCreateStake             = "createStake"
	MsgJoinBlockchainGame      = "joinBlockchainGame"
	MsgSettleStake             = "settleStake"
	MsgRefundStake             = "refundStake"
	MsgStartGame               = "startGame"
	MsgPaddleUpdate            = "paddleUpdate"
	MsgGameError               = "gameError"
	MsgPlayerDisconnected      = "playerDisconnected"
	MsgOpponentForfeited       = "opponentForfeited"
	MsgYouForfeited            = "youForfeited"
	MsgGameCancelled           = "gameCancelled"
	MsgMatchmakingTimeout      = "matchmakingTimeout"
	MsgSettlementFailed        = "settlementFailed"
	MsgSettlementDeferred      = "settlementDeferred"
	MsgSettlementConfirmed     = "settlementConfirmed"
	MsgRefundConfirmed         = "refundConfirmed"
	MsgPong                    = "pong"
	MsgError                   = "error"
)

type FindMatch struct {
	PlayerName    string          `json:"playerName"`
	StakeAmount   decimal.Decimal `json:"stakeAmount"`
	WalletAddress string          `json:"walletAddress"`
}

type CreatePrivateRoom struct {
	PlayerName    string          `json:"playerName"`
	RoomCode      string          `json:"roomCode"`
	GameId        string          `json:"gameId,omitempty"` // stake created before the room was opened
	TxRef         string          `json:"txRef,omitempty"`
	StakeAmount   decimal.Decimal `json:"stakeAmount"`
	WalletAddress string          `json:"walletAddress"`
}

type RoomRef struct {
	RoomId string `json:"roomId"`
}

type JoinRoom struct {
	RoomId        string `json:"roomId"`
	PlayerName    string `json:"playerName"`
	WalletAddress string `json:"walletAddress"`
	GameId        string `json:"gameId,omitempty"`
}

// StakeCreated is sent by the host once the create transaction confirmed.
type StakeCreated struct {
	RoomId string `json:"roomId"`
	GameId string `json:"gameId"`
	TxRef  string `json:"txRef"`
}

// StakeJoined is sent by the guest once the join transaction confirmed.
type StakeJoined struct {
	RoomId string `json:"roomId"`
	TxRef  string `json:"txRef"`
}

type TransactionFailed struct {
	RoomId       string `json:"roomId"`
	PlayerNumber int    `json:"playerNumber"`
	Reason       string `json:"reason"`
	Cancelled    bool   `json:"cancelled"` // user dismissed the wallet prompt
}

// TxConfirmed acknowledges a settle or refund transaction.
type TxConfirmed struct {
	RoomId string `json:"roomId"`
	TxRef  string `json:"txRef"`
}

type PaddleMove struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type BallState struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
}

type ScoreReport struct {
	Player string `json:"player"` // "player1" or "player2"
	Score  int    `json:"score"`
}

type GameCompleteClaim struct {
	Winner string `json:"winner"`
}

type QueueStats struct {
	OnlinePlayers int `json:"onlinePlayers"`
	Searching     int `json:"searching"`
}

type MatchFound struct {
	RoomId       string          `json:"roomId"`
	PlayerNumber int             `json:"playerNumber"`
	Role         string          `json:"role"`
	OpponentName string          `json:"opponentName"`
	GameId       string          `json:"gameId,omitempty"`
	StakeAmount  decimal.Decimal `json:"stakeAmount"`
}

type ErrorNotice struct {
	Error string `json:"error"`
}

type PrivateRoomCreated struct {
	RoomId      string          `json:"roomId"`
	PlayerName  string          `json:"playerName"`
	GameId      string          `json:"gameId,omitempty"`
	StakeAmount decimal.Decimal `json:"stakeAmount"`
}

type RoomInfo struct {
	RoomId      string          `json:"roomId,omitempty"`
	HostName    string          `json:"hostName,omitempty"`
	GameId      string          `json:"gameId,omitempty"`
	StakeAmount decimal.Decimal `json:"stakeAmount"`
	Error       string          `json:"error,omitempty"`
}

type RoomJoined struct {
	RoomId      string          `json:"roomId"`
	PlayerName  string          `json:"playerName"`
	GameId      string          `json:"gameId,omitempty"`
	StakeAmount decimal.Decimal `json:"stakeAmount"`
}

type PrivateRoomPlayerJoined struct {
	RoomId      string          `json:"roomId"`
	Player1Name string          `json:"player1Name"`
	Player2Name string          `json:"player2Name"`
	GameId      string          `json:"gameId,omitempty"`
	StakeAmount decimal.Decimal `json:"stakeAmount"`
}

// StakePrompt asks a player's wallet to sign one escrow operation.
type StakePrompt struct {
	RoomId       string          `json:"roomId"`
	PlayerNumber int             `json:"playerNumber"`
	GameId       string          `json:"gameId,omitempty"`
	StakeAmount  decimal.Decimal `json:"stakeAmount"`
	WinnerWallet string          `json:"winnerWallet,omitempty"`
	FeePercent   string          `json:"feePercent,omitempty"`
	Attempt      int             `json:"attempt,omitempty"`
}

type StartGame struct {
	RoomId      string    `json:"roomId"`
	PlayerRole  string    `json:"playerRole"`
	Player1Name string    `json:"player1Name"`
	Player2Name string    `json:"player2Name"`
	Ball        BallState `json:"ball"`
}

type PaddleUpdate struct {
	PlayerNumber int     `json:"playerNumber"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
}

type ScoreBoard struct {
	Player1 int `json:"player1"`
	Player2 int `json:"player2"`
}

type GameResult struct {
	Winner       string          `json:"winner"`
	WinnerWallet string          `json:"winnerWallet"`
	GameId       string          `json:"gameId"`
	StakeAmount  decimal.Decimal `json:"stakeAmount"`
	Payout       decimal.Decimal `json:"payout"`
	Player1Score int             `json:"player1Score"`
	Player2Score int             `json:"player2Score"`
	Duration     int             `json:"duration"` // seconds
}

type GameError struct {
	Message string `json:"message"`
}

// ForfeitNotice is sent as playerDisconnected or opponentForfeited to the surviving player.
type ForfeitNotice struct {
	Forfeit      bool            `json:"forfeit"`
	GameId       string          `json:"gameId"`
	WinnerWallet string          `json:"winnerWallet"`
	WinnerNumber int             `json:"winnerNumber"`
	StakeAmount  decimal.Decimal `json:"stakeAmount"`
	Reason       string          `json:"reason"`
	Message      string          `json:"message"`
}

type YouForfeited struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type TransactionFailedNotice struct {
	RoomId       string `json:"roomId"`
	PlayerNumber int    `json:"playerNumber"`
	Reason       string `json:"reason"`
}

type GameCancelled struct {
	RoomId string `json:"roomId"`
	Reason string `json:"reason"`
	Refund bool   `json:"refund"`
}

type MatchmakingTimeout struct {
	GameId       string          `json:"gameId,omitempty"`
	StakeAmount  decimal.Decimal `json:"stakeAmount"`
	ShouldRefund bool            `json:"shouldRefund"`
	Message      string          `json:"message"`
}

// SettlementStatus reports progress of a settle or refund.
type SettlementStatus struct {
	RoomId      string `json:"roomId"`
	GameId      string `json:"gameId"`
	Attempt     int    `json:"attempt,omitempty"`
	MaxAttempts int    `json:"maxAttempts,omitempty"`
	TxRef       string `json:"txRef,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Message     string `json:"message,omitempty"`
}
