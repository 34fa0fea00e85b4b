package state

import (
	"github.com/google/uuid"
)

// PositionStatus tracks the position lifecycle
type PositionStatus int32

const (
	PositionStatusOpening PositionStatus = iota
	PositionStatusOpen
	PositionStatusClosed
)

// PositionKey identifies a live position. At most one live position exists
// per key.
type PositionKey struct {
	Owner   uuid.UUID
	Pool    string
	Custody string
	Side    Side
}

// Position represents a trader's leveraged exposure
type Position struct {
	ID                         uuid.UUID      `json:"id"`
	Owner                      uuid.UUID      `json:"owner"`
	Pool                       string         `json:"pool"`
	Custody                    string         `json:"custody"`
	CollateralCustody          string         `json:"collateral_custody"`
	Side                       Side           `json:"side"`
	OpenTime                   int64          `json:"open_time"`
	UpdateTime                 int64          `json:"update_time"`
	Price                      uint64         `json:"price"`          // PriceDecimals
	SizeUSD                    uint64         `json:"size_usd"`       // USDDecimals
	CollateralUSD              uint64         `json:"collateral_usd"` // USDDecimals
	UnrealizedProfitUSD        uint64         `json:"unrealized_profit_usd"`
	UnrealizedLossUSD          uint64         `json:"unrealized_loss_usd"`
	CumulativeInterestSnapshot uint64         `json:"cumulative_interest_snapshot"`
	LockedAmount               uint64         `json:"locked_amount"`     // collateral custody units
	CollateralAmount           uint64         `json:"collateral_amount"` // collateral custody units
	Status                     PositionStatus `json:"status"`
}

func (s PositionStatus) String() string {
	switch s {
	case PositionStatusOpening:
		return "Opening"
	case PositionStatusOpen:
		return "Open"
	case PositionStatusClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates state transitions. Closed is terminal.
func (s PositionStatus) CanTransitionTo(next PositionStatus) bool {
	validTransitions := map[PositionStatus][]PositionStatus{
		PositionStatusOpening: {
			PositionStatusOpen,
		},
		PositionStatusOpen: {
			PositionStatusOpen, // in-place updates
			PositionStatusClosed,
		},
	}

	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}

	for _, allowedState := range allowed {
		if next == allowedState {
			return true
		}
	}

	return false
}

// Key returns the position's identity within the book.
func (p *Position) Key() PositionKey {
	return PositionKey{
		Owner:   p.Owner,
		Pool:    p.Pool,
		Custody: p.Custody,
		Side:    p.Side,
	}
}

// IsLive reports whether the position still holds a reservation.
func (p *Position) IsLive() bool {
	return p.Status == PositionStatusOpen && p.LockedAmount > 0
}

// Clone returns a copy of the position.
func (p *Position) Clone() *Position {
	cp := *p
	return &cp
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *Position) CanonicalBytes() []byte {
	buf := make([]byte, 0, 160)

	buf = append(buf, p.ID[:]...)
	buf = append(buf, p.Owner[:]...)
	buf = appendString(buf, p.Pool)
	buf = appendString(buf, p.Custody)
	buf = appendString(buf, p.CollateralCustody)
	buf = append(buf, byte(p.Side))

	buf = appendInt64LE(buf, p.OpenTime)
	buf = appendInt64LE(buf, p.UpdateTime)
	buf = appendUint64LE(buf, p.Price)
	buf = appendUint64LE(buf, p.SizeUSD)
	buf = appendUint64LE(buf, p.CollateralUSD)
	buf = appendUint64LE(buf, p.UnrealizedProfitUSD)
	buf = appendUint64LE(buf, p.UnrealizedLossUSD)
	buf = appendUint64LE(buf, p.CumulativeInterestSnapshot)
	buf = appendUint64LE(buf, p.LockedAmount)
	buf = appendUint64LE(buf, p.CollateralAmount)

	buf = append(buf, byte(p.Status))

	return buf
}

func appendString(buf []byte, s string) []byte {
	buf = append(buf, byte(len(s)))
	return append(buf, s...)
}

func appendInt64LE(buf []byte, v int64) []byte {
	return appendUint64LE(buf, uint64(v))
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}
