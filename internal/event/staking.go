package event

import (
	"PerpEngine/internal/state"

	"github.com/google/uuid"
)

// AddStake stakes Amount. LockDays zero adds to the liquid stake.
type AddStake struct {
	Header
	Owner    uuid.UUID         `json:"owner"`
	Type     state.StakingType `json:"type"`
	Amount   uint64            `json:"amount"`
	LockDays uint32            `json:"lock_days"`
}

func (*AddStake) EventType() EventType { return EventTypeStakeAdded }

type RemoveLiquidStake struct {
	Header
	Owner  uuid.UUID         `json:"owner"`
	Type   state.StakingType `json:"type"`
	Amount uint64            `json:"amount"`
}

func (*RemoveLiquidStake) EventType() EventType { return EventTypeLiquidStakeRemoved }

// RemoveLockedStake withdraws the locked stake at Index. Indices of later
// stakes shift down by one once it commits.
type RemoveLockedStake struct {
	Header
	Owner uuid.UUID         `json:"owner"`
	Type  state.StakingType `json:"type"`
	Index int               `json:"index"`
}

func (*RemoveLockedStake) EventType() EventType { return EventTypeLockedStakeRemoved }

type ClaimStakes struct {
	Header
	Owner uuid.UUID         `json:"owner"`
	Type  state.StakingType `json:"type"`
}

func (*ClaimStakes) EventType() EventType { return EventTypeStakesClaimed }

// ResolveStakingRound settles the current round of a staking pool. Anyone
// may submit it once the round has run its minimum duration.
type ResolveStakingRound struct {
	Header
	Type state.StakingType `json:"type"`
}

func (*ResolveStakingRound) EventType() EventType { return EventTypeStakingRoundResolved }

type ResolveLockedStakes struct {
	Header
	Owner uuid.UUID         `json:"owner"`
	Type  state.StakingType `json:"type"`
}

func (*ResolveLockedStakes) EventType() EventType { return EventTypeLockedStakesResolved }
