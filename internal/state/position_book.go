package state

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
)

// PositionBook holds every live position keyed by (owner, pool, custody, side).
type PositionBook struct {
	positions map[PositionKey]*Position
}

func NewPositionBook() *PositionBook {
	return &PositionBook{
		positions: make(map[PositionKey]*Position),
	}
}

// Get returns the live position for key, or nil.
func (b *PositionBook) Get(key PositionKey) *Position {
	return b.positions[key]
}

// Put inserts or replaces a position.
func (b *PositionBook) Put(p *Position) {
	b.positions[p.Key()] = p
}

// Delete removes a position; closing reclaims its record.
func (b *PositionBook) Delete(key PositionKey) {
	delete(b.positions, key)
}

func (b *PositionBook) Len() int {
	return len(b.positions)
}

// All returns positions in deterministic order.
func (b *PositionBook) All() []*Position {
	result := make([]*Position, 0, len(b.positions))
	for _, p := range b.positions {
		result = append(result, p)
	}
	sortPositions(result)
	return result
}

// ByOwner returns an owner's live positions.
func (b *PositionBook) ByOwner(owner uuid.UUID) []*Position {
	var result []*Position
	for key, p := range b.positions {
		if key.Owner == owner {
			result = append(result, p)
		}
	}
	sortPositions(result)
	return result
}

// ByCollateralCustody returns positions whose reservation sits on custodyID.
func (b *PositionBook) ByCollateralCustody(custodyID string) []*Position {
	var result []*Position
	for _, p := range b.positions {
		if p.CollateralCustody == custodyID {
			result = append(result, p)
		}
	}
	sortPositions(result)
	return result
}

// SumLocked totals the reservations held against a collateral custody.
// It must always equal that custody's Assets.Locked.
func (b *PositionBook) SumLocked(custodyID string) uint64 {
	var total uint64
	for _, p := range b.positions {
		if p.CollateralCustody == custodyID {
			total += p.LockedAmount
		}
	}
	return total
}

// sortPositions orders by owner, then pool, custody and side.
func sortPositions(ps []*Position) {
	sort.Slice(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if c := bytes.Compare(a.Owner[:], b.Owner[:]); c != 0 {
			return c < 0
		}
		if a.Pool != b.Pool {
			return a.Pool < b.Pool
		}
		if a.Custody != b.Custody {
			return a.Custody < b.Custody
		}
		return a.Side < b.Side
	})
}
