package state

import (
	fpmath "PerpEngine/internal/math"
	"fmt"
)

const (
	// MaxResolvedRounds bounds the stored round history. Rewards left
	// unclaimed in a dropped round return to the pending pool.
	MaxResolvedRounds = 32

	DefaultRoundMinDuration int64 = 6 * 3600
)

// StakingRound is a reward time bucket. Rates are per unit of weight in
// RateDecimals.
type StakingRound struct {
	StartTime    int64  `json:"start_time"`
	Rate         uint64 `json:"rate"`
	LMRate       uint64 `json:"lm_rate"`
	TotalStake   uint64 `json:"total_stake"`
	TotalLMStake uint64 `json:"total_lm_stake"`
	TotalClaim   uint64 `json:"total_claim"`
	TotalLMClaim uint64 `json:"total_lm_claim"`
}

// StakingPool is the global state of one staking type: the round
// schedule and the rewards deposited but not yet assigned to a round.
type StakingPool struct {
	Type             StakingType    `json:"type"`
	StakedTokenMint  string         `json:"staked_token_mint"`
	RewardTokenMint  string         `json:"reward_token_mint"`
	LMTokenMint      string         `json:"lm_token_mint"`
	RoundMinDuration int64          `json:"round_min_duration"`
	PendingRewards   uint64         `json:"pending_rewards"`
	PendingLMRewards uint64         `json:"pending_lm_rewards"`
	CurrentRound     StakingRound   `json:"current_round"`
	NextRound        StakingRound   `json:"next_round"`
	ResolvedRounds   []StakingRound `json:"resolved_rounds"`
}

func NewStakingPool(t StakingType, stakedMint, rewardMint, lmMint string, now int64) *StakingPool {
	return &StakingPool{
		Type:             t,
		StakedTokenMint:  stakedMint,
		RewardTokenMint:  rewardMint,
		LMTokenMint:      lmMint,
		RoundMinDuration: DefaultRoundMinDuration,
		CurrentRound:     StakingRound{StartTime: now},
	}
}

// Clone returns a deep copy.
func (p *StakingPool) Clone() *StakingPool {
	cp := *p
	cp.ResolvedRounds = append([]StakingRound(nil), p.ResolvedRounds...)
	return &cp
}

// AddWeight registers new stake weight. It counts from the next round.
func (p *StakingPool) AddWeight(weight, lmWeight uint64) error {
	var err error
	if p.NextRound.TotalStake, err = fpmath.CheckedAdd(p.NextRound.TotalStake, weight); err != nil {
		return err
	}
	if p.NextRound.TotalLMStake, err = fpmath.CheckedAdd(p.NextRound.TotalLMStake, lmWeight); err != nil {
		return err
	}
	return nil
}

// RemoveWeight withdraws stake weight from upcoming rounds, and from the
// current round when the stake was earning in it.
func (p *StakingPool) RemoveWeight(weight, lmWeight uint64, fromCurrent bool) {
	p.NextRound.TotalStake = fpmath.SaturatingSub(p.NextRound.TotalStake, weight)
	p.NextRound.TotalLMStake = fpmath.SaturatingSub(p.NextRound.TotalLMStake, lmWeight)
	if fromCurrent {
		p.CurrentRound.TotalStake = fpmath.SaturatingSub(p.CurrentRound.TotalStake, weight)
		p.CurrentRound.TotalLMStake = fpmath.SaturatingSub(p.CurrentRound.TotalLMStake, lmWeight)
	}
}

// DepositRewards adds reward tokens to be assigned at the next resolution.
func (p *StakingPool) DepositRewards(amount uint64) error {
	pending, err := fpmath.CheckedAdd(p.PendingRewards, amount)
	if err != nil {
		return err
	}
	p.PendingRewards = pending
	return nil
}

// CanResolve reports whether the current round has run its minimum length.
func (p *StakingPool) CanResolve(now int64) bool {
	return now >= p.CurrentRound.StartTime+p.RoundMinDuration
}

// roundRate divides pending rewards over the round's weight. It returns the
// rate and the amount actually assigned after truncation.
func roundRate(pending, totalStake uint64) (rate, assigned uint64, err error) {
	if totalStake == 0 || pending == 0 {
		return 0, 0, nil
	}
	if rate, err = fpmath.MulDiv(pending, fpmath.RatePower, totalStake, fpmath.RoundDown); err != nil {
		return 0, 0, err
	}
	if assigned, err = fpmath.MulDiv(totalStake, rate, fpmath.RatePower, fpmath.RoundDown); err != nil {
		return 0, 0, err
	}
	return rate, fpmath.Min(assigned, pending), nil
}

// ResolveRound closes the current round, assigning pending rewards and the
// LM emission to it, and opens a new round at now.
func (p *StakingPool) ResolveRound(now int64, lmEmission uint64) (StakingRound, error) {
	if !p.CanResolve(now) {
		return StakingRound{}, fmt.Errorf("%w: round started at %d, min duration %ds, now %d",
			ErrStakingRoundNotReady, p.CurrentRound.StartTime, p.RoundMinDuration, now)
	}

	pendingLM, err := fpmath.CheckedAdd(p.PendingLMRewards, lmEmission)
	if err != nil {
		return StakingRound{}, err
	}

	round := p.CurrentRound
	rate, assigned, err := roundRate(p.PendingRewards, round.TotalStake)
	if err != nil {
		return StakingRound{}, err
	}
	lmRate, lmAssigned, err := roundRate(pendingLM, round.TotalLMStake)
	if err != nil {
		return StakingRound{}, err
	}
	round.Rate = rate
	round.LMRate = lmRate
	p.PendingRewards -= assigned
	p.PendingLMRewards = pendingLM - lmAssigned

	p.ResolvedRounds = append(p.ResolvedRounds, round)
	for len(p.ResolvedRounds) > MaxResolvedRounds {
		p.reclaim(p.ResolvedRounds[0])
		p.ResolvedRounds = p.ResolvedRounds[1:]
	}

	p.CurrentRound = StakingRound{
		StartTime:    now,
		TotalStake:   p.NextRound.TotalStake,
		TotalLMStake: p.NextRound.TotalLMStake,
	}
	return round, nil
}

// reclaim returns a dropped round's unclaimed rewards to the pending pool.
func (p *StakingPool) reclaim(r StakingRound) {
	assigned, err := fpmath.MulDiv(r.TotalStake, r.Rate, fpmath.RatePower, fpmath.RoundDown)
	if err == nil {
		p.PendingRewards += fpmath.SaturatingSub(assigned, r.TotalClaim)
	}
	lmAssigned, err := fpmath.MulDiv(r.TotalLMStake, r.LMRate, fpmath.RatePower, fpmath.RoundDown)
	if err == nil {
		p.PendingLMRewards += fpmath.SaturatingSub(lmAssigned, r.TotalLMClaim)
	}
}

// LockSettled reports whether every round the lock earns from has been
// resolved. That holds once the current round started after the lock ended.
func (p *StakingPool) LockSettled(ls *LockedStake) bool {
	return p.CurrentRound.StartTime > ls.EndTime()
}

// ClaimBoundary is the claim time recorded after a claim. It sits just
// before the current round so a claim never forfeits the round in progress.
func (p *StakingPool) ClaimBoundary() int64 {
	return p.CurrentRound.StartTime - 1
}

// Claim accrues rewards for one stake over every resolved round it earns
// from, records the claims against the rounds and advances its claim time.
func (p *StakingPool) Claim(rec *StakeRecord, earns func(*StakingRound) bool) (reward, lmReward uint64, err error) {
	if rec.Amount == 0 {
		return 0, 0, nil
	}
	lmWeight, err := rec.LMWeight()
	if err != nil {
		return 0, 0, err
	}

	for i := range p.ResolvedRounds {
		r := &p.ResolvedRounds[i]
		if !earns(r) {
			continue
		}
		amount, err := fpmath.MulDiv(rec.AmountWithMultiplier, r.Rate, fpmath.RatePower, fpmath.RoundDown)
		if err != nil {
			return 0, 0, err
		}
		lmAmount, err := fpmath.MulDiv(lmWeight, r.LMRate, fpmath.RatePower, fpmath.RoundDown)
		if err != nil {
			return 0, 0, err
		}
		if reward, err = fpmath.CheckedAdd(reward, amount); err != nil {
			return 0, 0, err
		}
		if lmReward, err = fpmath.CheckedAdd(lmReward, lmAmount); err != nil {
			return 0, 0, err
		}
		r.TotalClaim = fpmath.WrappingAdd(r.TotalClaim, amount)
		r.TotalLMClaim = fpmath.WrappingAdd(r.TotalLMClaim, lmAmount)
	}

	if boundary := p.ClaimBoundary(); boundary > rec.ClaimTime {
		rec.ClaimTime = boundary
	}
	return reward, lmReward, nil
}
