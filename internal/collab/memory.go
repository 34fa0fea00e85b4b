package collab

import (
	fpmath "PerpEngine/internal/math"
	"PerpEngine/internal/state"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryGovernance keeps voting power in a map.
type MemoryGovernance struct {
	mu    sync.RWMutex
	power map[uuid.UUID]uint64
}

func NewMemoryGovernance() *MemoryGovernance {
	return &MemoryGovernance{power: make(map[uuid.UUID]uint64)}
}

func (g *MemoryGovernance) AddVotingPower(owner uuid.UUID, amount uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	total, err := fpmath.CheckedAdd(g.power[owner], amount)
	if err != nil {
		return fmt.Errorf("voting power for %s: %w", owner, err)
	}
	g.power[owner] = total
	return nil
}

// RemoveVotingPower never revokes more than was deposited.
func (g *MemoryGovernance) RemoveVotingPower(owner uuid.UUID, amount uint64) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	revoked := fpmath.Min(amount, g.power[owner])
	g.power[owner] -= revoked
	if g.power[owner] == 0 {
		delete(g.power, owner)
	}
	return revoked, nil
}

func (g *MemoryGovernance) VotingPower(owner uuid.UUID) uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.power[owner]
}

type automationKey struct {
	owner uuid.UUID
	t     state.StakingType
}

// MemoryAutomation records the paused state of each staker's claim trigger.
// Unknown stakers start paused.
type MemoryAutomation struct {
	mu      sync.RWMutex
	running map[automationKey]bool
}

func NewMemoryAutomation() *MemoryAutomation {
	return &MemoryAutomation{running: make(map[automationKey]bool)}
}

func (a *MemoryAutomation) Pause(owner uuid.UUID, t state.StakingType) error {
	a.mu.Lock()
	delete(a.running, automationKey{owner, t})
	a.mu.Unlock()
	return nil
}

func (a *MemoryAutomation) Resume(owner uuid.UUID, t state.StakingType) error {
	a.mu.Lock()
	a.running[automationKey{owner, t}] = true
	a.mu.Unlock()
	return nil
}

func (a *MemoryAutomation) IsPaused(owner uuid.UUID, t state.StakingType) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return !a.running[automationKey{owner, t}]
}
