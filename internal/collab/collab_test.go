package collab_test

import (
	"PerpEngine/internal/collab"
	"PerpEngine/internal/state"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMemoryGovernance_RevokeCappedAtDeposit(t *testing.T) {
	g := collab.NewMemoryGovernance()
	owner := uuid.New()

	if err := g.AddVotingPower(owner, 1_210); err != nil {
		t.Fatal(err)
	}
	revoked, err := g.RemoveVotingPower(owner, 5_000)
	if err != nil {
		t.Fatal(err)
	}
	if revoked != 1_210 {
		t.Errorf("revoked: got %d, want 1210", revoked)
	}
	if got := g.VotingPower(owner); got != 0 {
		t.Errorf("remaining: got %d, want 0", got)
	}
}

func TestMemoryAutomation_PauseResume(t *testing.T) {
	a := collab.NewMemoryAutomation()
	owner := uuid.New()

	if !a.IsPaused(owner, state.StakingTypeLM) {
		t.Error("unknown staker should start paused")
	}
	_ = a.Resume(owner, state.StakingTypeLM)
	if a.IsPaused(owner, state.StakingTypeLM) {
		t.Error("resumed staker reported paused")
	}
	if !a.IsPaused(owner, state.StakingTypeLP) {
		t.Error("staking types are tracked separately")
	}
	_ = a.Pause(owner, state.StakingTypeLM)
	if !a.IsPaused(owner, state.StakingTypeLM) {
		t.Error("paused staker reported running")
	}
}

func TestMockClock_Advance(t *testing.T) {
	c := collab.NewMockClock(1_000)
	c.Advance(90 * time.Second)
	if got := c.Now(); got != 1_090 {
		t.Errorf("got %d, want 1090", got)
	}
	c.Set(5)
	if got := c.Now(); got != 5 {
		t.Errorf("got %d, want 5", got)
	}
}
