package state_test

import (
	"PerpEngine/internal/state"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const day = state.SecondsPerDay

func mustOption(t *testing.T, days uint32) state.StakingOption {
	t.Helper()
	opt, err := state.GetStakingOption(days)
	require.NoError(t, err)
	return opt
}

// ============================================================================
// Test: Multiplier table
// ============================================================================

func TestGetStakingOption_UnknownDuration(t *testing.T) {
	_, err := state.GetStakingOption(45)
	require.ErrorIs(t, err, state.ErrInvalidStakingLockingTime)
}

func TestNewLockedStake_RequiresLock(t *testing.T) {
	_, err := state.NewLockedStake(1_000, mustOption(t, 0), 100)
	require.ErrorIs(t, err, state.ErrInvalidStakingLockingTime)
}

// ============================================================================
// Test: Locked stake removal
// ============================================================================

func TestRemoveLockedStake_ThirtyDayLock(t *testing.T) {
	const stakeTime int64 = 1_700_000_000
	stake, err := state.NewLockedStake(1_000, mustOption(t, 30), stakeTime)
	require.NoError(t, err)
	require.Equal(t, uint64(1_250), stake.AmountWithMultiplier)

	s := state.NewStaking(uuid.New(), state.StakingTypeLM)
	s.AddLocked(stake)

	_, err = s.RemoveLockedStake(0, stakeTime+29*day)
	require.ErrorIs(t, err, state.ErrUnresolvedStake)

	_, err = s.RemoveLockedStake(0, stakeTime+31*day)
	require.ErrorIs(t, err, state.ErrUnresolvedStake)
	require.Len(t, s.LockedStakes, 1)

	s.LockedStakes[0].Resolved = true
	removed, err := s.RemoveLockedStake(0, stakeTime+31*day)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), removed.Amount)
	require.Empty(t, s.LockedStakes)
	require.True(t, s.IsEmpty())
}

func TestRemoveLockedStake_ResolvedButNotEnded(t *testing.T) {
	stake, err := state.NewLockedStake(1_000, mustOption(t, 90), 0)
	require.NoError(t, err)
	stake.Resolved = true

	s := state.NewStaking(uuid.New(), state.StakingTypeLP)
	s.AddLocked(stake)

	// the lock must have expired strictly before now
	_, err = s.RemoveLockedStake(0, stake.EndTime())
	require.ErrorIs(t, err, state.ErrUnresolvedStake)
}

func TestRemoveLockedStake_ShiftsLaterIndices(t *testing.T) {
	s := state.NewStaking(uuid.New(), state.StakingTypeLM)
	for _, amount := range []uint64{1, 2, 3} {
		stake, err := state.NewLockedStake(amount, mustOption(t, 30), 0)
		require.NoError(t, err)
		stake.Resolved = true
		s.AddLocked(stake)
	}

	_, err := s.RemoveLockedStake(0, 31*day)
	require.NoError(t, err)
	require.Len(t, s.LockedStakes, 2)
	require.Equal(t, uint64(2), s.LockedStakes[0].Amount)
	require.Equal(t, uint64(3), s.LockedStakes[1].Amount)
}

func TestRemoveLockedStake_IndexOutOfRange(t *testing.T) {
	s := state.NewStaking(uuid.New(), state.StakingTypeLM)
	_, err := s.RemoveLockedStake(0, 0)
	require.ErrorIs(t, err, state.ErrCannotFoundStake)
	_, err = s.RemoveLockedStake(-1, 0)
	require.ErrorIs(t, err, state.ErrCannotFoundStake)
}

// ============================================================================
// Test: Round eligibility
// ============================================================================

func TestQualifiesForRewardsFrom_NeverAtOrBeforeStakeTime(t *testing.T) {
	for _, stakeTime := range []int64{1, 1_000, 1_700_000_000} {
		rec := state.StakeRecord{Amount: 10, StakeTime: stakeTime}
		for _, start := range []int64{0, stakeTime / 2, stakeTime - 1, stakeTime} {
			round := &state.StakingRound{StartTime: start}
			require.Falsef(t, rec.QualifiesForRewardsFrom(round),
				"stake at %d qualified for round starting %d", stakeTime, start)
		}
		require.True(t, rec.QualifiesForRewardsFrom(&state.StakingRound{StartTime: stakeTime + 1}))
	}
}

func TestQualifiesForRewardsFrom_ClaimedAfterStart(t *testing.T) {
	rec := state.StakeRecord{Amount: 10, StakeTime: 100, ClaimTime: 500}
	require.False(t, rec.QualifiesForRewardsFrom(&state.StakingRound{StartTime: 400}))
	require.True(t, rec.QualifiesForRewardsFrom(&state.StakingRound{StartTime: 501}))
}

func TestLockedStake_StopsEarningAfterEnd(t *testing.T) {
	stake, err := state.NewLockedStake(1_000, mustOption(t, 30), 10)
	require.NoError(t, err)

	require.True(t, stake.EarnsFrom(&state.StakingRound{StartTime: stake.EndTime()}))
	after := &state.StakingRound{StartTime: stake.EndTime() + 1}
	require.True(t, stake.QualifiesForRewardsFrom(after))
	require.False(t, stake.EarnsFrom(after))
}

// ============================================================================
// Test: Liquid stake
// ============================================================================

func TestStaking_AddLiquidRestartsStakeTime(t *testing.T) {
	s := state.NewStaking(uuid.New(), state.StakingTypeLM)
	require.NoError(t, s.AddLiquid(100, 10))
	s.LiquidStake.ClaimTime = 50

	require.NoError(t, s.AddLiquid(50, 60))
	require.Equal(t, uint64(150), s.LiquidStake.Amount)
	require.Equal(t, uint64(150), s.LiquidStake.AmountWithMultiplier)
	require.Equal(t, int64(60), s.LiquidStake.StakeTime)
	require.Equal(t, int64(50), s.LiquidStake.ClaimTime)
}

func TestStaking_RemoveLiquid(t *testing.T) {
	s := state.NewStaking(uuid.New(), state.StakingTypeLM)
	require.NoError(t, s.AddLiquid(100, 10))

	require.ErrorIs(t, s.RemoveLiquid(101), state.ErrInvalidArgument)
	require.NoError(t, s.RemoveLiquid(40))
	require.Equal(t, uint64(60), s.LiquidStake.Amount)
	require.Equal(t, int64(10), s.LiquidStake.StakeTime)

	require.NoError(t, s.RemoveLiquid(60))
	require.True(t, s.IsEmpty())
}

// ============================================================================
// Test: Staking pool rounds
// ============================================================================

const round = state.DefaultRoundMinDuration

func TestStakingPool_ResolveTooEarly(t *testing.T) {
	p := state.NewStakingPool(state.StakingTypeLM, "lm", "usdc", "lm", 0)
	_, err := p.ResolveRound(round-1, 0)
	require.ErrorIs(t, err, state.ErrStakingRoundNotReady)
}

func TestStakingPool_ResolveAndClaim(t *testing.T) {
	p := state.NewStakingPool(state.StakingTypeLM, "lm", "usdc", "lm", 0)
	s := state.NewStaking(uuid.New(), state.StakingTypeLM)
	require.NoError(t, s.AddLiquid(1_000, 10))
	require.NoError(t, p.AddWeight(s.LiquidStake.AmountWithMultiplier, 0))

	// the stake was made during the first round and earns nothing from it
	first, err := p.ResolveRound(round, 0)
	require.NoError(t, err)
	require.Zero(t, first.TotalStake)
	require.Equal(t, uint64(1_000), p.CurrentRound.TotalStake)

	require.NoError(t, p.DepositRewards(500))
	second, err := p.ResolveRound(2*round, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(500_000_000), second.Rate)
	require.Zero(t, p.PendingRewards)

	liquid := &s.LiquidStake.StakeRecord
	reward, lm, err := p.Claim(liquid, liquid.QualifiesForRewardsFrom)
	require.NoError(t, err)
	require.Equal(t, uint64(500), reward)
	require.Zero(t, lm)
	require.Equal(t, 2*round-1, liquid.ClaimTime)
	require.Equal(t, uint64(500), p.ResolvedRounds[1].TotalClaim)

	reward, _, err = p.Claim(liquid, liquid.QualifiesForRewardsFrom)
	require.NoError(t, err)
	require.Zero(t, reward, "second claim must not pay twice")

	// the round in progress when claiming still pays out once resolved
	require.NoError(t, p.DepositRewards(300))
	_, err = p.ResolveRound(3*round, 0)
	require.NoError(t, err)
	reward, _, err = p.Claim(liquid, liquid.QualifiesForRewardsFrom)
	require.NoError(t, err)
	require.Equal(t, uint64(300), reward)
}

func TestStakingPool_LockedStakeLMRewards(t *testing.T) {
	p := state.NewStakingPool(state.StakingTypeLM, "lm", "usdc", "lm", 0)
	stake, err := state.NewLockedStake(1_000, mustOption(t, 30), 10)
	require.NoError(t, err)
	lmWeight, err := stake.LMWeight()
	require.NoError(t, err)
	require.NoError(t, p.AddWeight(stake.AmountWithMultiplier, lmWeight))

	_, err = p.ResolveRound(round, 0)
	require.NoError(t, err)
	require.NoError(t, p.DepositRewards(2_500))
	resolved, err := p.ResolveRound(2*round, 2_000)
	require.NoError(t, err)
	require.Equal(t, uint64(2_000_000_000), resolved.Rate)
	require.Equal(t, uint64(2_000_000_000), resolved.LMRate)

	reward, lm, err := p.Claim(&stake.StakeRecord, stake.EarnsFrom)
	require.NoError(t, err)
	require.Equal(t, uint64(2_500), reward)
	require.Equal(t, uint64(2_000), lm)
}

func TestStakingPool_RemoveWeightFromCurrent(t *testing.T) {
	p := state.NewStakingPool(state.StakingTypeLM, "lm", "usdc", "lm", 0)
	require.NoError(t, p.AddWeight(700, 70))
	_, err := p.ResolveRound(round, 0)
	require.NoError(t, err)

	p.RemoveWeight(200, 20, false)
	require.Equal(t, uint64(700), p.CurrentRound.TotalStake)
	require.Equal(t, uint64(500), p.NextRound.TotalStake)

	p.RemoveWeight(200, 20, true)
	require.Equal(t, uint64(500), p.CurrentRound.TotalStake)
	require.Equal(t, uint64(300), p.NextRound.TotalStake)
	require.Equal(t, uint64(30), p.NextRound.TotalLMStake)
}

func TestStakingPool_LockSettledAfterTerminalRound(t *testing.T) {
	const stakeTime int64 = 1_000
	stake, err := state.NewLockedStake(1_000, mustOption(t, 30), stakeTime)
	require.NoError(t, err)
	p := state.NewStakingPool(state.StakingTypeLM, "lm", "usdc", "lm", 0)

	// the round running when the lock ends is still open
	_, err = p.ResolveRound(stakeTime+day, 0)
	require.NoError(t, err)
	require.True(t, stake.HasEnded(stakeTime+31*day))
	require.True(t, stake.EarnsFrom(&p.CurrentRound))
	require.False(t, p.LockSettled(&stake))

	// resolving it starts a round the lock no longer earns from
	_, err = p.ResolveRound(stakeTime+31*day, 0)
	require.NoError(t, err)
	require.False(t, stake.EarnsFrom(&p.CurrentRound))
	require.True(t, p.LockSettled(&stake))
}

func TestStakingPool_HistoryBoundedAndReclaimed(t *testing.T) {
	p := state.NewStakingPool(state.StakingTypeLM, "lm", "usdc", "lm", 0)
	require.NoError(t, p.AddWeight(1_000, 0))

	for i := int64(1); i <= state.MaxResolvedRounds+2; i++ {
		if i == 2 {
			require.NoError(t, p.DepositRewards(1_000))
		}
		_, err := p.ResolveRound(i*round, 0)
		require.NoError(t, err)
	}

	require.Len(t, p.ResolvedRounds, state.MaxResolvedRounds)
	// the only paying round was dropped unclaimed
	require.Equal(t, uint64(1_000), p.PendingRewards)
}

func TestStakingPool_CloneIsDeep(t *testing.T) {
	p := state.NewStakingPool(state.StakingTypeLM, "lm", "usdc", "lm", 0)
	_, err := p.ResolveRound(round, 0)
	require.NoError(t, err)

	cp := p.Clone()
	cp.ResolvedRounds[0].TotalClaim = 99
	require.Zero(t, p.ResolvedRounds[0].TotalClaim)
}
