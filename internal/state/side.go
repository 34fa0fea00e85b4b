package state

import "fmt"

// Side represents position direction
type Side int32

const (
	SideNone Side = iota
	SideLong
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "long"
	case SideShort:
		return "short"
	default:
		return "none"
	}
}

// Opposite returns the side a closing trade takes.
func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	default:
		return SideNone
	}
}

func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(text []byte) error {
	switch string(text) {
	case "long", "Long", "LONG":
		*s = SideLong
	case "short", "Short", "SHORT":
		*s = SideShort
	case "none", "":
		*s = SideNone
	default:
		return fmt.Errorf("unknown side %q", string(text))
	}
	return nil
}
