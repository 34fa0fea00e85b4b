package event

import (
	"PerpEngine/internal/state"

	"github.com/google/uuid"
)

// FeeRecord is one collected trading fee and where it went.
type FeeRecord struct {
	CustodyID    string                `json:"custody_id"`
	Mint         string                `json:"mint"`
	Amount       uint64                `json:"amount"`
	AmountUSD    uint64                `json:"amount_usd"`
	Distribution state.FeeDistribution `json:"distribution"`
	LMRewards    uint64                `json:"lm_rewards"`
}

// StakingRewards is a claim paid out to a staker.
type StakingRewards struct {
	Reward   uint64 `json:"reward"`
	LMReward uint64 `json:"lm_reward"`
}

// Outcome is the payload of a committed envelope: the records the
// instruction touched, after the change.
type Outcome struct {
	Owner       uuid.UUID           `json:"owner,omitempty"`
	Position    *state.Position     `json:"position,omitempty"`
	Close       *state.CloseAmount  `json:"close,omitempty"`
	Fee         *FeeRecord          `json:"fee,omitempty"`
	Custodies   []*state.Custody    `json:"custodies,omitempty"`
	Pool        *state.Pool         `json:"pool,omitempty"`
	Staking     *state.Staking      `json:"staking,omitempty"`
	StakingPool *state.StakingPool  `json:"staking_pool,omitempty"`
	Rewards     *StakingRewards     `json:"rewards,omitempty"`
	Round       *state.StakingRound `json:"round,omitempty"`
	Removed     *state.LockedStake  `json:"removed,omitempty"`
	Permissions *state.Permissions  `json:"permissions,omitempty"`
	Cortex      *state.Cortex       `json:"cortex,omitempty"`
}
