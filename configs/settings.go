package config

import (
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const (
	LedgerModeWallet  = "wallet"
	LedgerModeGateway = "gateway"
)

// GameSettings holds the tunables of the game service. Zero values are never
// used; LoadGameSettings fills every field from env or its default.
type GameSettings struct {
	WinScore           int
	MinGameDuration    time.Duration
	InactivityTimeout  time.Duration
	ActivityInterval   time.Duration
	MatchWaitTimeout   time.Duration
	EscrowWaitTimeout  time.Duration
	RoomGracePeriod    time.Duration
	BallUpdatesPerSec  int
	SettleMaxAttempts  int
	PlatformFeePercent decimal.Decimal
	MinStake           decimal.Decimal
	MaxStake           decimal.Decimal
	LedgerMode         string
	LedgerTimeout      time.Duration
	MatchRetention     time.Duration
}

func DefaultGameSettings() GameSettings {
	return GameSettings{
		WinScore:           7,
		MinGameDuration:    10 * time.Second,
		InactivityTimeout:  60 * time.Second,
		ActivityInterval:   10 * time.Second,
		MatchWaitTimeout:   300 * time.Second,
		EscrowWaitTimeout:  300 * time.Second,
		RoomGracePeriod:    5 * time.Second,
		BallUpdatesPerSec:  120,
		SettleMaxAttempts:  3,
		PlatformFeePercent: decimal.NewFromInt(5),
		MinStake:           decimal.RequireFromString("0.01"),
		MaxStake:           decimal.NewFromInt(1000),
		LedgerMode:         LedgerModeWallet,
		LedgerTimeout:      120 * time.Second,
		MatchRetention:     30 * 24 * time.Hour,
	}
}

func LoadGameSettings() GameSettings {
	s := DefaultGameSettings()

	s.WinScore = envInt("WIN_SCORE", s.WinScore)
	s.MinGameDuration = envDuration("MIN_GAME_DURATION", s.MinGameDuration)
	s.InactivityTimeout = envDuration("INACTIVITY_TIMEOUT", s.InactivityTimeout)
	s.ActivityInterval = envDuration("ACTIVITY_CHECK_INTERVAL", s.ActivityInterval)
	s.MatchWaitTimeout = envDuration("MATCH_WAIT_TIMEOUT", s.MatchWaitTimeout)
	s.EscrowWaitTimeout = envDuration("ESCROW_WAIT_TIMEOUT", s.EscrowWaitTimeout)
	s.RoomGracePeriod = envDuration("ROOM_GRACE_PERIOD", s.RoomGracePeriod)
	s.BallUpdatesPerSec = envInt("BALL_UPDATES_PER_SECOND", s.BallUpdatesPerSec)
	s.SettleMaxAttempts = envInt("SETTLE_MAX_ATTEMPTS", s.SettleMaxAttempts)
	s.PlatformFeePercent = envDecimal("PLATFORM_FEE_PERCENT", s.PlatformFeePercent)
	s.MinStake = envDecimal("MIN_STAKE", s.MinStake)
	s.MaxStake = envDecimal("MAX_STAKE", s.MaxStake)
	s.LedgerTimeout = envDuration("LEDGER_TIMEOUT", s.LedgerTimeout)
	s.MatchRetention = envDuration("MATCH_RETENTION", s.MatchRetention)

	switch mode := os.Getenv("LEDGER_MODE"); mode {
	case "":
	case LedgerModeWallet, LedgerModeGateway:
		s.LedgerMode = mode
	default:
		log.Warnf("unknown LEDGER_MODE %q, using %s", mode, s.LedgerMode)
	}

	return s
}

func envInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		log.Warnf("invalid %s value %q, using %d", key, raw, def)
		return def
	}
	return n
}

// envDuration accepts Go durations ("90s") or plain seconds ("90").
func envDuration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	log.Warnf("invalid %s value %q, using %s", key, raw, def)
	return def
}

func envDecimal(key string, def decimal.Decimal) decimal.Decimal {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		log.Warnf("invalid %s value %q, using %s", key, raw, def)
		return def
	}
	return d
}
