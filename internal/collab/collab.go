// Package collab defines the collaborators the core calls out to and
// in-memory implementations of them.
package collab

import (
	fpmath "PerpEngine/internal/math"
	"PerpEngine/internal/state"
	"context"

	"github.com/google/uuid"
)

// Oracle returns the spot and EMA observations for a price feed. It fails
// with state.ErrStaleOraclePrice or state.ErrInvalidOraclePrice when the
// feed cannot be trusted at now.
type Oracle interface {
	GetPrices(ctx context.Context, handle string, now int64) (spot, ema fpmath.OraclePrice, err error)
}

// Governance holds non-transferable voting power minted against stakes.
type Governance interface {
	AddVotingPower(owner uuid.UUID, amount uint64) error
	// RemoveVotingPower revokes up to amount and returns what was revoked.
	RemoveVotingPower(owner uuid.UUID, amount uint64) (uint64, error)
}

// Automation drives the recurring claim trigger for a staker.
type Automation interface {
	Pause(owner uuid.UUID, t state.StakingType) error
	Resume(owner uuid.UUID, t state.StakingType) error
	IsPaused(owner uuid.UUID, t state.StakingType) bool
}
