package core

import (
	"PerpEngine/internal/ledger"
	"PerpEngine/internal/state"
	"fmt"
	"sort"
	"time"
)

// Snapshot is the full committed state at a sequence. Restoring it and
// replaying later events must reproduce the same hash chain.
type Snapshot struct {
	Sequence        int64                 `json:"sequence"` // next sequence to assign
	StateHash       []byte                `json:"state_hash"`
	Perpetuals      *state.Perpetuals     `json:"perpetuals,omitempty"`
	Cortex          *state.Cortex         `json:"cortex,omitempty"`
	Pools           []*state.Pool         `json:"pools"`
	Custodies       []*state.Custody      `json:"custodies"`
	Positions       []*state.Position     `json:"positions"`
	Stakings        []*state.Staking      `json:"stakings"`
	StakingPools    []*state.StakingPool  `json:"staking_pools"`
	Balances        []ledger.BalanceEntry `json:"balances"`
	IdempotencyKeys []string              `json:"idempotency_keys"` // oldest first
	CreatedAt       time.Time             `json:"created_at"`
}

// CreateSnapshot copies committed state. Records are shared with the
// engine but never mutated in place, so the copy stays consistent.
func (e *Engine) CreateSnapshot() *Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	hash := e.hasher.GetPrevHash()
	snap := &Snapshot{
		Sequence:        e.sequence,
		StateHash:       hash[:],
		Perpetuals:      e.state.Perpetuals,
		Cortex:          e.state.Cortex,
		Positions:       e.state.Positions.All(),
		Balances:        e.balances.Entries(),
		IdempotencyKeys: e.idempotency.lru.Keys(),
		CreatedAt:       time.Unix(e.clock.Now(), 0).UTC(),
	}
	for _, id := range sortedKeys(e.state.Pools) {
		snap.Pools = append(snap.Pools, e.state.Pools[id])
	}
	for _, id := range sortedKeys(e.state.Custodies) {
		snap.Custodies = append(snap.Custodies, e.state.Custodies[id])
	}

	keys := make([]stakingKey, 0, len(e.state.Stakings))
	for key := range e.state.Stakings {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return stakingKeyLess(keys[i], keys[j]) })
	for _, key := range keys {
		snap.Stakings = append(snap.Stakings, e.state.Stakings[key])
	}
	for _, typ := range []state.StakingType{state.StakingTypeLM, state.StakingTypeLP} {
		if p, ok := e.state.StakingPools[typ]; ok {
			snap.StakingPools = append(snap.StakingPools, p)
		}
	}
	return snap
}

// RestoreSnapshot replaces all engine state with snap. It fails without
// touching the engine if the snapshot's custodies do not reconcile with
// its balances.
func (e *Engine) RestoreSnapshot(snap *Snapshot) error {
	if len(snap.StateHash) != 32 {
		return fmt.Errorf("snapshot at %d: state hash has %d bytes", snap.Sequence, len(snap.StateHash))
	}

	st := newState()
	st.Perpetuals = snap.Perpetuals
	st.Cortex = snap.Cortex
	for _, p := range snap.Pools {
		st.Pools[p.ID] = p
	}
	for _, c := range snap.Custodies {
		st.Custodies[c.ID] = c
	}
	for _, p := range snap.Positions {
		st.Positions.Put(p)
	}
	for _, s := range snap.Stakings {
		st.Stakings[stakingKey{Owner: s.Owner, Type: s.Type}] = s
	}
	for _, p := range snap.StakingPools {
		st.StakingPools[p.Type] = p
	}

	balances := ledger.NewBalanceTracker()
	balances.Restore(snap.Balances)
	for _, id := range sortedKeys(st.Custodies) {
		c := st.Custodies[id]
		if sum := st.Positions.SumLocked(id); sum != c.Assets.Locked {
			return fmt.Errorf("snapshot at %d: custody %s locked %d but positions hold %d", snap.Sequence, id, c.Assets.Locked, sum)
		}
		expected := c.Assets.Owned + c.Assets.Collateral + c.Assets.ProtocolFees
		if got := balances.Amount(ledger.CustodyVault(c.ID, c.Mint)); got != expected {
			return fmt.Errorf("snapshot at %d: custody %s vault holds %d, expected %d", snap.Sequence, id, got, expected)
		}
	}

	var hash [32]byte
	copy(hash[:], snap.StateHash)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = st
	e.balances = balances
	e.validator = ledger.NewInvariantValidator(balances)
	e.sequence = snap.Sequence
	e.hasher.SetPrevHash(hash)
	e.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)
	if e.metrics != nil {
		e.metrics.CoreSequence.Set(float64(e.sequence))
	}
	return nil
}
