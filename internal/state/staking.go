package state

import (
	fpmath "PerpEngine/internal/math"
	"fmt"

	"github.com/google/uuid"
)

const SecondsPerDay int64 = 86_400

// StakingType selects which token is staked.
type StakingType int32

const (
	StakingTypeLM StakingType = iota // protocol (LM) token
	StakingTypeLP                    // pool LP token
)

func (t StakingType) String() string {
	switch t {
	case StakingTypeLM:
		return "lm"
	case StakingTypeLP:
		return "lp"
	default:
		return "unknown"
	}
}

func (t StakingType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *StakingType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "lm", "LM":
		*t = StakingTypeLM
	case "lp", "LP":
		*t = StakingTypeLP
	default:
		return fmt.Errorf("unknown staking type %q", string(text))
	}
	return nil
}

// StakingOption is one row of the lock-duration table. Multipliers are in
// basis points.
type StakingOption struct {
	LockDays             uint32
	BaseRewardMultiplier uint64
	LMRewardMultiplier   uint64
	VoteMultiplier       uint64
}

// StakingOptions is the fixed lock-duration table. Zero days is liquid.
var StakingOptions = [...]StakingOption{
	{LockDays: 0, BaseRewardMultiplier: 10_000, LMRewardMultiplier: 0, VoteMultiplier: 10_000},
	{LockDays: 30, BaseRewardMultiplier: 12_500, LMRewardMultiplier: 10_000, VoteMultiplier: 12_100},
	{LockDays: 60, BaseRewardMultiplier: 15_600, LMRewardMultiplier: 12_500, VoteMultiplier: 13_300},
	{LockDays: 90, BaseRewardMultiplier: 19_500, LMRewardMultiplier: 15_600, VoteMultiplier: 14_600},
	{LockDays: 180, BaseRewardMultiplier: 24_400, LMRewardMultiplier: 19_500, VoteMultiplier: 16_100},
	{LockDays: 360, BaseRewardMultiplier: 30_500, LMRewardMultiplier: 24_400, VoteMultiplier: 17_800},
	{LockDays: 720, BaseRewardMultiplier: 38_100, LMRewardMultiplier: 30_500, VoteMultiplier: 19_500},
}

// GetStakingOption looks up the multipliers for a lock duration.
func GetStakingOption(lockDays uint32) (StakingOption, error) {
	for _, opt := range StakingOptions {
		if opt.LockDays == lockDays {
			return opt, nil
		}
	}
	return StakingOption{}, fmt.Errorf("%w: %d days", ErrInvalidStakingLockingTime, lockDays)
}

// StakeRecord is the state shared by liquid and locked stakes.
type StakeRecord struct {
	Amount               uint64 `json:"amount"`
	StakeTime            int64  `json:"stake_time"`
	ClaimTime            int64  `json:"claim_time"`
	BaseRewardMultiplier uint64 `json:"base_reward_multiplier"`
	LMRewardMultiplier   uint64 `json:"lm_reward_multiplier"`
	VoteMultiplier       uint64 `json:"vote_multiplier"`
	AmountWithMultiplier uint64 `json:"amount_with_multiplier"`
}

func newStakeRecord(amount uint64, opt StakingOption, now int64) (StakeRecord, error) {
	weighted, err := fpmath.MulDiv(amount, opt.BaseRewardMultiplier, fpmath.BPSPower, fpmath.RoundDown)
	if err != nil {
		return StakeRecord{}, err
	}
	return StakeRecord{
		Amount:               amount,
		StakeTime:            now,
		BaseRewardMultiplier: opt.BaseRewardMultiplier,
		LMRewardMultiplier:   opt.LMRewardMultiplier,
		VoteMultiplier:       opt.VoteMultiplier,
		AmountWithMultiplier: weighted,
	}, nil
}

// QualifiesForRewardsFrom reports whether the stake was held, unclaimed,
// before the round began. Stakes made during a round never earn from it.
func (s *StakeRecord) QualifiesForRewardsFrom(round *StakingRound) bool {
	return s.StakeTime > 0 &&
		s.StakeTime < round.StartTime &&
		(s.ClaimTime == 0 || s.ClaimTime < round.StartTime)
}

// LMWeight is the stake's share basis for LM token rewards.
func (s *StakeRecord) LMWeight() (uint64, error) {
	return fpmath.MulDiv(s.Amount, s.LMRewardMultiplier, fpmath.BPSPower, fpmath.RoundDown)
}

// VotingPower is the governance weight deposited for the stake.
func (s *StakeRecord) VotingPower() (uint64, error) {
	return fpmath.MulDiv(s.Amount, s.VoteMultiplier, fpmath.BPSPower, fpmath.RoundDown)
}

// LiquidStake can be withdrawn at any time.
type LiquidStake struct {
	StakeRecord
}

// LockedStake is held for LockDuration seconds and must be resolved by
// round settlement before it can be removed.
type LockedStake struct {
	StakeRecord
	LockDuration int64 `json:"lock_duration"`
	Resolved     bool  `json:"resolved"`
}

// NewLockedStake creates a locked stake from a table option.
func NewLockedStake(amount uint64, opt StakingOption, now int64) (LockedStake, error) {
	if opt.LockDays == 0 {
		return LockedStake{}, fmt.Errorf("%w: locked stake needs a lock duration", ErrInvalidStakingLockingTime)
	}
	rec, err := newStakeRecord(amount, opt, now)
	if err != nil {
		return LockedStake{}, err
	}
	return LockedStake{
		StakeRecord:  rec,
		LockDuration: int64(opt.LockDays) * SecondsPerDay,
	}, nil
}

// EndTime is when the lock expires.
func (s *LockedStake) EndTime() int64 {
	return s.StakeTime + s.LockDuration
}

// HasEnded reports whether the lock expired strictly before now.
func (s *LockedStake) HasEnded(now int64) bool {
	return s.EndTime() < now
}

// EarnsFrom reports whether the lock was still running when the round
// started. Ended locks stop earning even before they are resolved.
func (s *LockedStake) EarnsFrom(round *StakingRound) bool {
	return s.QualifiesForRewardsFrom(round) && round.StartTime <= s.EndTime()
}

// Staking is one staker's record for one staking type.
//
// LockedStakes is addressed by index. Removing index i shifts every later
// stake down by one, so callers must re-read indices after a removal.
type Staking struct {
	Owner        uuid.UUID     `json:"owner"`
	Type         StakingType   `json:"type"`
	LiquidStake  LiquidStake   `json:"liquid_stake"`
	LockedStakes []LockedStake `json:"locked_stakes"`
}

// NewStaking returns an empty record.
func NewStaking(owner uuid.UUID, t StakingType) *Staking {
	return &Staking{Owner: owner, Type: t}
}

// Clone returns a deep copy.
func (s *Staking) Clone() *Staking {
	cp := *s
	cp.LockedStakes = append([]LockedStake(nil), s.LockedStakes...)
	return &cp
}

// IsEmpty reports whether nothing remains staked.
func (s *Staking) IsEmpty() bool {
	return s.LiquidStake.Amount == 0 && len(s.LockedStakes) == 0
}

// AddLiquid grows the liquid stake. The stake time restarts, so the whole
// amount waits for the next round.
func (s *Staking) AddLiquid(amount uint64, now int64) error {
	opt, err := GetStakingOption(0)
	if err != nil {
		return err
	}
	total, err := fpmath.CheckedAdd(s.LiquidStake.Amount, amount)
	if err != nil {
		return err
	}
	rec, err := newStakeRecord(total, opt, now)
	if err != nil {
		return err
	}
	rec.ClaimTime = s.LiquidStake.ClaimTime
	s.LiquidStake.StakeRecord = rec
	return nil
}

// RemoveLiquid shrinks the liquid stake, keeping its stake and claim times.
func (s *Staking) RemoveLiquid(amount uint64) error {
	if amount == 0 || amount > s.LiquidStake.Amount {
		return fmt.Errorf("%w: cannot unstake %d of %d", ErrInvalidArgument, amount, s.LiquidStake.Amount)
	}
	rest := s.LiquidStake.Amount - amount
	weighted, err := fpmath.MulDiv(rest, s.LiquidStake.BaseRewardMultiplier, fpmath.BPSPower, fpmath.RoundDown)
	if err != nil {
		return err
	}
	s.LiquidStake.Amount = rest
	s.LiquidStake.AmountWithMultiplier = weighted
	if rest == 0 {
		s.LiquidStake.StakeRecord = StakeRecord{ClaimTime: s.LiquidStake.ClaimTime}
	}
	return nil
}

// AddLocked appends a locked stake and returns its index.
func (s *Staking) AddLocked(stake LockedStake) int {
	s.LockedStakes = append(s.LockedStakes, stake)
	return len(s.LockedStakes) - 1
}

// Locked returns the stake at index.
func (s *Staking) Locked(index int) (*LockedStake, error) {
	if index < 0 || index >= len(s.LockedStakes) {
		return nil, fmt.Errorf("%w: index %d of %d", ErrCannotFoundStake, index, len(s.LockedStakes))
	}
	return &s.LockedStakes[index], nil
}

// RemoveLockedStake removes the stake at index once it has ended and been
// resolved. Later indices shift down by one.
func (s *Staking) RemoveLockedStake(index int, now int64) (LockedStake, error) {
	stake, err := s.Locked(index)
	if err != nil {
		return LockedStake{}, err
	}
	if !stake.HasEnded(now) || !stake.Resolved {
		return LockedStake{}, fmt.Errorf("%w: index %d ends at %d (now %d, resolved %t)",
			ErrUnresolvedStake, index, stake.EndTime(), now, stake.Resolved)
	}
	removed := *stake
	s.LockedStakes = append(s.LockedStakes[:index], s.LockedStakes[index+1:]...)
	return removed, nil
}
