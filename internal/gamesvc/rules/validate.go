package rules

import "errors"

// Side names a player slot the way clients and the escrow program do.
type Side string

const (
	Player1 Side = "player1"
	Player2 Side = "player2"
)

// SideOf maps a player number (1 host, 2 guest) to its side.
func SideOf(number int) Side {
	if number == 2 {
		return Player2
	}
	return Player1
}

func (s Side) Number() int {
	if s == Player2 {
		return 2
	}
	return 1
}

func (s Side) Valid() bool {
	return s == Player1 || s == Player2
}

// Table geometry.
const (
	TableWidth  = 1000.0
	TableHeight = 600.0
	CenterLine  = 500.0

	PaddleMinX = 50.0
	PaddleMaxX = 900.0
	PaddleMinY = 50.0
	PaddleMaxY = 500.0
)

var ErrOutOfBounds = errors.New("position out of bounds")

// ValidatePaddle rejects positions off the table and clamps x onto the
// side's half: player1 stays left of the center line, player2 right of it.
func ValidatePaddle(side Side, x, y float64) (float64, float64, error) {
	if x < PaddleMinX || x > PaddleMaxX || y < PaddleMinY || y > PaddleMaxY {
		return 0, 0, ErrOutOfBounds
	}

	switch side {
	case Player1:
		if x > CenterLine {
			x = CenterLine
		}
	case Player2:
		if x < CenterLine {
			x = CenterLine
		}
	}
	return x, y, nil
}

func ValidateBall(x, y float64) error {
	if x < 0 || x > TableWidth || y < 0 || y > TableHeight {
		return ErrOutOfBounds
	}
	return nil
}
