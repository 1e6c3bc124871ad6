package rules

import (
	"errors"
	"time"
)

var (
	ErrNoWinner       = errors.New("no player reached the winning score")
	ErrWinnerMismatch = errors.New("claimed winner does not match server scores")
	ErrTooFast        = errors.New("game finished implausibly fast")
	ErrNoActivity     = errors.New("no scores recorded")
	ErrBothWinning    = errors.New("both players hold a winning score")
)

// Verifier reconciles a claimed winner with the server-tracked tally.
type Verifier struct {
	WinScore    int
	MinDuration time.Duration
}

func NewVerifier(winScore int, minDuration time.Duration) Verifier {
	return Verifier{WinScore: winScore, MinDuration: minDuration}
}

// Verify returns the authorized winner or the first rule that failed.
func (v Verifier) Verify(score1, score2 int, claimed Side, duration time.Duration) (Side, error) {
	var actual Side
	switch {
	case score1 >= v.WinScore:
		actual = Player1
	case score2 >= v.WinScore:
		actual = Player2
	default:
		return "", ErrNoWinner
	}

	if claimed != actual {
		return "", ErrWinnerMismatch
	}

	if duration < v.MinDuration {
		return "", ErrTooFast
	}

	if score1 == 0 && score2 == 0 {
		return "", ErrNoActivity
	}

	loser := score2
	if actual == Player2 {
		loser = score1
	}
	if loser >= v.WinScore {
		return "", ErrBothWinning
	}

	return actual, nil
}

// Leader is the side whose tally reached the win score, if any.
func (v Verifier) Leader(score1, score2 int) (Side, bool) {
	switch {
	case score1 >= v.WinScore:
		return Player1, true
	case score2 >= v.WinScore:
		return Player2, true
	}
	return "", false
}
