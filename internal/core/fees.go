package core

import (
	"PerpEngine/internal/ledger"
	fpmath "PerpEngine/internal/math"
	"PerpEngine/internal/state"
	"fmt"
)

// distributeFee splits a collected fee held in feeCustody's vault. The
// protocol share is booked to ProtocolFees and each staker share is paid
// into its staking pool's reward vault. It returns the split and how much
// left the fee custody's vault directly; the caller settles Owned.
func (e *Engine) distributeFee(
	t *txn,
	pool *state.Pool,
	feeCustody *state.Custody,
	feePrices state.Prices,
	fee uint64,
) (state.FeeDistribution, uint64, error) {
	if fee == 0 {
		return state.FeeDistribution{}, 0, nil
	}
	cortex, err := t.getCortex()
	if err != nil {
		return state.FeeDistribution{}, 0, err
	}
	dist, err := cortex.CalculateFeeDistribution(fee, feeCustody.Fees.ProtocolShare, lpStakingActive(t))
	if err != nil {
		return state.FeeDistribution{}, 0, err
	}
	if !t.hasStakingPool(state.StakingTypeLM) {
		if dist.OrganicLPFee, err = fpmath.CheckedAdd(dist.OrganicLPFee, dist.LMStakersFee); err != nil {
			return state.FeeDistribution{}, 0, err
		}
		dist.LMStakersFee = 0
	}

	if feeCustody.Assets.ProtocolFees, err = fpmath.CheckedAdd(feeCustody.Assets.ProtocolFees, dist.ProtocolFee); err != nil {
		return state.FeeDistribution{}, 0, err
	}

	var direct uint64
	shares := []struct {
		typ    state.StakingType
		amount uint64
	}{
		{state.StakingTypeLM, dist.LMStakersFee},
		{state.StakingTypeLP, dist.LockedLPStakersFee},
	}
	for _, share := range shares {
		if share.amount == 0 {
			continue
		}
		stakingPool, err := t.getStakingPool(share.typ)
		if err != nil {
			return state.FeeDistribution{}, 0, err
		}
		delivered, fromVault, err := e.payStakerShare(t, pool, feeCustody, feePrices, stakingPool, share.amount)
		if err != nil {
			return state.FeeDistribution{}, 0, err
		}
		if err := stakingPool.DepositRewards(delivered); err != nil {
			return state.FeeDistribution{}, 0, err
		}
		if fromVault {
			if direct, err = fpmath.CheckedAdd(direct, share.amount); err != nil {
				return state.FeeDistribution{}, 0, err
			}
		}
	}
	return dist, direct, nil
}

// payStakerShare moves one staker share into the pool's reward vault. A
// fee already in the reward token is transferred as is; otherwise the
// share is swapped internally against the custody holding the reward
// token, and the input share stays with the fee custody.
func (e *Engine) payStakerShare(
	t *txn,
	pool *state.Pool,
	feeCustody *state.Custody,
	feePrices state.Prices,
	stakingPool *state.StakingPool,
	share uint64,
) (delivered uint64, fromFeeVault bool, err error) {
	rewardVault := ledger.RewardVault(stakingPool.Type.String(), stakingPool.RewardTokenMint)
	if feeCustody.Mint == stakingPool.RewardTokenMint {
		t.transfer(ledger.CustodyVault(feeCustody.ID, feeCustody.Mint), rewardVault, share, "staker fee")
		return share, true, nil
	}

	rewardCustody, err := t.custodyByMint(pool, stakingPool.RewardTokenMint)
	if err != nil {
		return 0, false, err
	}
	rewardPrices, err := t.pricesFor(rewardCustody)
	if err != nil {
		return 0, false, err
	}
	out, err := pool.GetSwapAmount(share, feePrices, feeCustody, rewardPrices, rewardCustody)
	if err != nil {
		return 0, false, err
	}
	if !pool.CheckAvailableAmount(out, rewardCustody) {
		return 0, false, fmt.Errorf("%w: custody %s cannot swap out %d staker rewards (available %d)",
			state.ErrCustodyAmountLimit, rewardCustody.ID, out, rewardCustody.Available())
	}
	rewardCustody.Assets.Owned -= out

	swapUSD, err := feePrices.Min().AssetAmountToUSD(share, feeCustody.Decimals)
	if err != nil {
		return 0, false, err
	}
	feeCustody.VolumeStats.SwapUSD = fpmath.WrappingAdd(feeCustody.VolumeStats.SwapUSD, swapUSD)
	rewardCustody.VolumeStats.SwapUSD = fpmath.WrappingAdd(rewardCustody.VolumeStats.SwapUSD, swapUSD)

	t.transfer(ledger.CustodyVault(rewardCustody.ID, rewardCustody.Mint), rewardVault, out, "staker fee swap")
	return out, false, nil
}

// lpStakingActive reports whether anyone holds LP stake weight, now or from
// the next round.
func lpStakingActive(t *txn) bool {
	p := t.peekStakingPool(state.StakingTypeLP)
	return p != nil && (p.CurrentRound.TotalStake > 0 || p.NextRound.TotalStake > 0)
}
