package domain

import (
	"fmt"
	"strings"
)

// Side is the direction a stake is placed on.
type Side string

const (
	SideUp   Side = "up"
	SideDown Side = "down"
)

// ParseSide converts user input ("UP", "down", ...) into a Side.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up":
		return SideUp, nil
	case "down":
		return SideDown, nil
	default:
		return "", fmt.Errorf("%w: unknown side %q", ErrInvalidStake, s)
	}
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideUp {
		return SideDown
	}
	return SideUp
}

// Label returns the uppercase display form, e.g. "UP".
func (s Side) Label() string {
	return strings.ToUpper(string(s))
}

// Valid reports whether s is one of the two known sides.
func (s Side) Valid() bool {
	return s == SideUp || s == SideDown
}
