package state

import (
	fpmath "PerpEngine/internal/math"
	"fmt"
)

// FeeDistributionParams splits the post-protocol fee between staker
// classes, in basis points. Organic LPs keep whatever is left.
type FeeDistributionParams struct {
	LMStakersShare       uint64 `json:"lm_stakers_share"`
	LockedLPStakersShare uint64 `json:"locked_lp_stakers_share"`
}

// FeeDistribution is one collected fee split four ways. The parts always
// sum to the fee.
type FeeDistribution struct {
	ProtocolFee        uint64 `json:"protocol_fee"`
	LMStakersFee       uint64 `json:"lm_stakers_fee"`
	LockedLPStakersFee uint64 `json:"locked_lp_stakers_fee"`
	OrganicLPFee       uint64 `json:"organic_lp_fee"`
}

// Cortex is the protocol-wide rewards configuration: fee routing, the LM
// token and its emission budget.
type Cortex struct {
	LMTokenMint               string                `json:"lm_token_mint"`
	FeeDistribution           FeeDistributionParams `json:"fee_distribution"`
	LMEmissionRate            uint64                `json:"lm_emission_rate"`  // LM tokens per USD of fee, RateDecimals
	RoundLMEmission           uint64                `json:"round_lm_emission"` // minted per resolved staking round
	EcosystemBucketAllocation uint64                `json:"ecosystem_bucket_allocation"`
	EcosystemBucketMinted     uint64                `json:"ecosystem_bucket_minted"`
	InceptionTime             int64                 `json:"inception_time"`
}

// Clone returns a copy.
func (c *Cortex) Clone() *Cortex {
	cp := *c
	return &cp
}

// Validate checks the share configuration.
func (c *Cortex) Validate() error {
	if c.LMTokenMint == "" {
		return fmt.Errorf("%w: lm token mint is required", ErrInvalidParams)
	}
	shares, err := fpmath.CheckedAdd(c.FeeDistribution.LMStakersShare, c.FeeDistribution.LockedLPStakersShare)
	if err != nil || shares > fpmath.BPSPower {
		return fmt.Errorf("%w: staker shares must sum to <= %d bps", ErrInvalidParams, fpmath.BPSPower)
	}
	if c.EcosystemBucketMinted > c.EcosystemBucketAllocation {
		return fmt.Errorf("%w: ecosystem bucket overminted", ErrInvalidParams)
	}
	return nil
}

// CalculateFeeDistribution splits fee. The locked LP share falls through to
// organic LPs while nobody is staking LP tokens.
func (c *Cortex) CalculateFeeDistribution(fee, protocolShare uint64, lpStakingActive bool) (FeeDistribution, error) {
	protocolFee, err := fpmath.GetFeeAmount(protocolShare, fee)
	if err != nil {
		return FeeDistribution{}, err
	}
	rest, err := fpmath.CheckedSub(fee, protocolFee)
	if err != nil {
		return FeeDistribution{}, err
	}

	lmFee, err := fpmath.GetFeeAmount(c.FeeDistribution.LMStakersShare, rest)
	if err != nil {
		return FeeDistribution{}, err
	}
	var lpFee uint64
	if lpStakingActive {
		if lpFee, err = fpmath.GetFeeAmount(c.FeeDistribution.LockedLPStakersShare, rest); err != nil {
			return FeeDistribution{}, err
		}
	}

	stakers, err := fpmath.CheckedAdd(lmFee, lpFee)
	if err != nil {
		return FeeDistribution{}, err
	}
	organic, err := fpmath.CheckedSub(rest, stakers)
	if err != nil {
		return FeeDistribution{}, err
	}

	return FeeDistribution{
		ProtocolFee:        protocolFee,
		LMStakersFee:       lmFee,
		LockedLPStakersFee: lpFee,
		OrganicLPFee:       organic,
	}, nil
}

// RemainingEcosystemBucket is what can still be minted as LM rewards.
func (c *Cortex) RemainingEcosystemBucket() uint64 {
	return fpmath.SaturatingSub(c.EcosystemBucketAllocation, c.EcosystemBucketMinted)
}

// GetLMRewardsAmount converts a trading fee in USD into LM tokens, capped
// by the remaining bucket.
func (c *Cortex) GetLMRewardsAmount(feeUSD uint64) (uint64, error) {
	amount, err := fpmath.MulDiv(feeUSD, c.LMEmissionRate, fpmath.RatePower, fpmath.RoundDown)
	if err != nil {
		return 0, err
	}
	return fpmath.Min(amount, c.RemainingEcosystemBucket()), nil
}

// GetRoundLMEmission is the LM amount minted into a staking pool when a
// round resolves, capped by the remaining bucket.
func (c *Cortex) GetRoundLMEmission() uint64 {
	return fpmath.Min(c.RoundLMEmission, c.RemainingEcosystemBucket())
}

// MintFromBucket records an LM mint against the ecosystem bucket.
func (c *Cortex) MintFromBucket(amount uint64) error {
	if amount > c.RemainingEcosystemBucket() {
		return fmt.Errorf("%w: minting %d exceeds remaining ecosystem bucket %d",
			ErrCustodyAmountLimit, amount, c.RemainingEcosystemBucket())
	}
	c.EcosystemBucketMinted += amount
	return nil
}
