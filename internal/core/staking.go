package core

import (
	"PerpEngine/internal/event"
	"PerpEngine/internal/ledger"
	fpmath "PerpEngine/internal/math"
	"PerpEngine/internal/state"
	"fmt"
)

// countedInCurrent reports whether a stake's weight was carried into the
// current round when it started.
func countedInCurrent(rec *state.StakeRecord, pool *state.StakingPool) bool {
	return rec.Amount > 0 && rec.StakeTime < pool.CurrentRound.StartTime
}

// claimAll accrues every stake of the record and pays the total out to the
// owner. It runs before any change to the stake set.
func (e *Engine) claimAll(t *txn, s *state.Staking, pool *state.StakingPool) (*event.StakingRewards, error) {
	reward, lmReward, err := pool.Claim(&s.LiquidStake.StakeRecord, s.LiquidStake.QualifiesForRewardsFrom)
	if err != nil {
		return nil, err
	}
	for i := range s.LockedStakes {
		ls := &s.LockedStakes[i]
		r, lm, err := pool.Claim(&ls.StakeRecord, ls.EarnsFrom)
		if err != nil {
			return nil, err
		}
		if reward, err = fpmath.CheckedAdd(reward, r); err != nil {
			return nil, err
		}
		if lmReward, err = fpmath.CheckedAdd(lmReward, lm); err != nil {
			return nil, err
		}
	}

	typ := pool.Type.String()
	t.transfer(ledger.RewardVault(typ, pool.RewardTokenMint), ledger.UserWallet(s.Owner, pool.RewardTokenMint), reward, "staking reward")
	t.transfer(ledger.LMRewardVault(typ, pool.LMTokenMint), ledger.UserWallet(s.Owner, pool.LMTokenMint), lmReward, "staking lm reward")

	if m := e.metrics; m != nil && (reward > 0 || lmReward > 0) {
		t.onCommit(func() {
			m.StakingRewardsClaimed.WithLabelValues(typ, "reward").Add(float64(reward))
			m.StakingRewardsClaimed.WithLabelValues(typ, "lm").Add(float64(lmReward))
		})
	}
	return &event.StakingRewards{Reward: reward, LMReward: lmReward}, nil
}

func (e *Engine) handleAddStake(t *txn, in *event.AddStake) error {
	pool, err := t.getStakingPool(in.Type)
	if err != nil {
		return err
	}
	if in.Amount == 0 {
		return fmt.Errorf("%w: stake amount is zero", state.ErrInvalidArgument)
	}
	opt, err := state.GetStakingOption(in.LockDays)
	if err != nil {
		return err
	}
	if in.Type == state.StakingTypeLP && in.LockDays == 0 {
		return fmt.Errorf("%w: lp stakes must be locked", state.ErrInvalidStakingLockingTime)
	}

	s := t.getStaking(in.Owner, in.Type)
	rewards, err := e.claimAll(t, s, pool)
	if err != nil {
		return err
	}

	if in.LockDays == 0 {
		prev := s.LiquidStake.StakeRecord
		pool.RemoveWeight(prev.AmountWithMultiplier, 0, countedInCurrent(&prev, pool))
		if err := s.AddLiquid(in.Amount, t.now); err != nil {
			return err
		}
		if err := pool.AddWeight(s.LiquidStake.AmountWithMultiplier, 0); err != nil {
			return err
		}
	} else {
		stake, err := state.NewLockedStake(in.Amount, opt, t.now)
		if err != nil {
			return err
		}
		lmWeight, err := stake.LMWeight()
		if err != nil {
			return err
		}
		if err := pool.AddWeight(stake.AmountWithMultiplier, lmWeight); err != nil {
			return err
		}
		s.AddLocked(stake)
	}

	votes, err := fpmath.MulDiv(in.Amount, opt.VoteMultiplier, fpmath.BPSPower, fpmath.RoundDown)
	if err != nil {
		return err
	}
	t.addVotingPower(in.Owner, votes)
	t.transfer(ledger.UserWallet(in.Owner, pool.StakedTokenMint), ledger.StakingVault(in.Type.String(), pool.StakedTokenMint), in.Amount, "stake")
	t.resumeAutomation(in.Owner, in.Type)

	t.outcome.Owner = in.Owner
	t.outcome.Staking = s
	t.outcome.StakingPool = pool
	t.outcome.Rewards = rewards
	return nil
}

func (e *Engine) handleRemoveLiquidStake(t *txn, in *event.RemoveLiquidStake) error {
	pool, err := t.getStakingPool(in.Type)
	if err != nil {
		return err
	}
	s := t.getStaking(in.Owner, in.Type)
	if s.LiquidStake.Amount == 0 {
		return fmt.Errorf("%w: %s has no liquid %s stake", state.ErrCannotFoundStake, in.Owner, in.Type)
	}
	rewards, err := e.claimAll(t, s, pool)
	if err != nil {
		return err
	}

	prev := s.LiquidStake.StakeRecord
	votes, err := fpmath.MulDiv(in.Amount, prev.VoteMultiplier, fpmath.BPSPower, fpmath.RoundDown)
	if err != nil {
		return err
	}
	if err := s.RemoveLiquid(in.Amount); err != nil {
		return err
	}
	removed := prev.AmountWithMultiplier - s.LiquidStake.AmountWithMultiplier
	pool.RemoveWeight(removed, 0, countedInCurrent(&prev, pool))

	t.removeVotingPower(in.Owner, votes)
	t.transfer(ledger.StakingVault(in.Type.String(), pool.StakedTokenMint), ledger.UserWallet(in.Owner, pool.StakedTokenMint), in.Amount, "unstake")
	t.pauseAutomationIfEmpty(s)

	t.outcome.Owner = in.Owner
	t.outcome.Staking = s
	t.outcome.StakingPool = pool
	t.outcome.Rewards = rewards
	return nil
}

func (e *Engine) handleRemoveLockedStake(t *txn, in *event.RemoveLockedStake) error {
	pool, err := t.getStakingPool(in.Type)
	if err != nil {
		return err
	}
	s := t.getStaking(in.Owner, in.Type)
	stake, err := s.Locked(in.Index)
	if err != nil {
		return err
	}
	if !pool.LockSettled(stake) {
		return fmt.Errorf("%w: index %d ends at %d, inside the unresolved round from %d",
			state.ErrUnresolvedStake, in.Index, stake.EndTime(), pool.CurrentRound.StartTime)
	}
	rewards, err := e.claimAll(t, s, pool)
	if err != nil {
		return err
	}
	removed, err := s.RemoveLockedStake(in.Index, t.now)
	if err != nil {
		return err
	}

	t.transfer(ledger.StakingVault(in.Type.String(), pool.StakedTokenMint), ledger.UserWallet(in.Owner, pool.StakedTokenMint), removed.Amount, "unstake locked")
	t.pauseAutomationIfEmpty(s)

	t.outcome.Owner = in.Owner
	t.outcome.Staking = s
	t.outcome.StakingPool = pool
	t.outcome.Rewards = rewards
	t.outcome.Removed = &removed
	return nil
}

func (e *Engine) handleClaimStakes(t *txn, in *event.ClaimStakes) error {
	pool, err := t.getStakingPool(in.Type)
	if err != nil {
		return err
	}
	s := t.getStaking(in.Owner, in.Type)
	if s.IsEmpty() {
		return fmt.Errorf("%w: %s has no %s stakes", state.ErrCannotFoundStake, in.Owner, in.Type)
	}
	rewards, err := e.claimAll(t, s, pool)
	if err != nil {
		return err
	}
	t.outcome.Owner = in.Owner
	t.outcome.Staking = s
	t.outcome.StakingPool = pool
	t.outcome.Rewards = rewards
	return nil
}

func (e *Engine) handleResolveStakingRound(t *txn, in *event.ResolveStakingRound) error {
	pool, err := t.getStakingPool(in.Type)
	if err != nil {
		return err
	}
	cortex, err := t.getCortex()
	if err != nil {
		return err
	}
	emission := cortex.GetRoundLMEmission()
	round, err := pool.ResolveRound(t.now, emission)
	if err != nil {
		return err
	}
	if err := cortex.MintFromBucket(emission); err != nil {
		return err
	}
	t.mint(ledger.LMRewardVault(in.Type.String(), pool.LMTokenMint), emission, "round lm emission")

	t.outcome.StakingPool = pool
	t.outcome.Round = &round
	t.outcome.Cortex = cortex

	if m := e.metrics; m != nil {
		t.onCommit(func() {
			m.StakingRoundsResolved.WithLabelValues(in.Type.String()).Inc()
			m.LMRewardsMinted.Add(float64(emission))
		})
	}
	return nil
}

// handleResolveLockedStakes retires every ended lock whose last earning
// round has been resolved: its weight leaves the pool and its voting power
// is revoked. The principal stays staked until RemoveLockedStake. A lock
// that ended inside the current round waits for that round to resolve.
func (e *Engine) handleResolveLockedStakes(t *txn, in *event.ResolveLockedStakes) error {
	pool, err := t.getStakingPool(in.Type)
	if err != nil {
		return err
	}
	s := t.getStaking(in.Owner, in.Type)

	for i := range s.LockedStakes {
		ls := &s.LockedStakes[i]
		if ls.Resolved || !ls.HasEnded(t.now) || !pool.LockSettled(ls) {
			continue
		}
		lmWeight, err := ls.LMWeight()
		if err != nil {
			return err
		}
		votes, err := ls.VotingPower()
		if err != nil {
			return err
		}
		// The current round started after the lock ended; any weight the
		// lock carries there earns nothing.
		pool.RemoveWeight(ls.AmountWithMultiplier, lmWeight, countedInCurrent(&ls.StakeRecord, pool))
		ls.Resolved = true
		t.removeVotingPower(in.Owner, votes)
	}

	t.outcome.Owner = in.Owner
	t.outcome.Staking = s
	t.outcome.StakingPool = pool
	return nil
}
