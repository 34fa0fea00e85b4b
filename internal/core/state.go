package core

import (
	"PerpEngine/internal/state"
	"sort"

	"github.com/google/uuid"
)

type stakingKey struct {
	Owner uuid.UUID
	Type  state.StakingType
}

// State is the committed engine state. Only the engine goroutine mutates
// it, and only by swapping in records staged by a successful txn.
type State struct {
	Perpetuals   *state.Perpetuals
	Cortex       *state.Cortex
	Pools        map[string]*state.Pool
	Custodies    map[string]*state.Custody
	Positions    *state.PositionBook
	Stakings     map[stakingKey]*state.Staking
	StakingPools map[state.StakingType]*state.StakingPool
}

func newState() *State {
	return &State{
		Pools:        make(map[string]*state.Pool),
		Custodies:    make(map[string]*state.Custody),
		Positions:    state.NewPositionBook(),
		Stakings:     make(map[stakingKey]*state.Staking),
		StakingPools: make(map[state.StakingType]*state.StakingPool),
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Staking returns owner's record for t, or nil.
func (s *State) Staking(owner uuid.UUID, t state.StakingType) *state.Staking {
	return s.Stakings[stakingKey{Owner: owner, Type: t}]
}
