package referral

import (
	"fmt"
	"strings"
)

// Side is the leg of the binary tree a referred address was placed on.
type Side uint8

const (
	Left Side = iota
	Right
)

func SideOf(isLeft bool) Side {
	if isLeft {
		return Left
	}
	return Right
}

func (s Side) String() string {
	if s == Left {
		return "Left"
	}
	return "Right"
}

func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(text []byte) error {
	side, err := ParseSide(string(text))
	if err != nil {
		return err
	}
	*s = side
	return nil
}

// ParseSide accepts left/right, l/r (any case) and the contract's isLeft encoding (true/false).
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left", "l", "true":
		return Left, nil
	case "right", "r", "false":
		return Right, nil
	}
	return Left, fmt.Errorf("unknown side:%q", s)
}
