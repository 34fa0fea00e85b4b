package core

import (
	"PerpEngine/internal/event"
	"PerpEngine/internal/ledger"
	fpmath "PerpEngine/internal/math"
	"PerpEngine/internal/state"
	"fmt"
)

func (e *Engine) handleInitPerpetuals(t *txn, in *event.InitPerpetuals) error {
	if e.state.Perpetuals != nil {
		return fmt.Errorf("%w: perpetuals already initialized", state.ErrInstructionNotAllowed)
	}
	cortex := in.Cortex
	if err := cortex.Validate(); err != nil {
		return err
	}
	cortex.InceptionTime = t.now

	t.perpetuals = &state.Perpetuals{Permissions: in.Permissions, InceptionTime: t.now}
	t.cortex = &cortex
	t.outcome.Permissions = &t.perpetuals.Permissions
	t.outcome.Cortex = t.cortex
	return nil
}

func (e *Engine) handleAddPool(t *txn, in *event.AddPool) error {
	if _, err := t.getPerpetuals(); err != nil {
		return err
	}
	if in.PoolID == "" || in.LPTokenMint == "" {
		return fmt.Errorf("%w: pool id and lp token mint are required", state.ErrInvalidArgument)
	}
	if _, exists := e.state.Pools[in.PoolID]; exists {
		return fmt.Errorf("%w: pool %s already exists", state.ErrInvalidArgument, in.PoolID)
	}
	pool := &state.Pool{
		ID:            in.PoolID,
		Name:          in.Name,
		LPTokenMint:   in.LPTokenMint,
		InceptionTime: t.now,
	}
	t.pools[pool.ID] = pool
	t.outcome.Pool = pool
	return nil
}

func (e *Engine) handleAddCustody(t *txn, in *event.AddCustody) error {
	pool, err := t.getPool(in.Params.Pool)
	if err != nil {
		return err
	}
	if _, exists := e.state.Custodies[in.Params.ID]; exists {
		return fmt.Errorf("%w: custody %s already exists", state.ErrInvalidArgument, in.Params.ID)
	}
	for _, id := range pool.Custodies {
		if e.state.Custodies[id].Mint == in.Params.Mint {
			return fmt.Errorf("%w: pool %s already holds %s", state.ErrInvalidArgument, pool.ID, in.Params.Mint)
		}
	}
	custody, err := state.NewCustody(in.Params, t.now)
	if err != nil {
		return err
	}
	pool.Custodies = append(pool.Custodies, custody.ID)
	t.custodies[custody.ID] = custody

	t.outcome.Pool = pool
	t.outcome.Custodies = []*state.Custody{custody}
	return nil
}

func (e *Engine) handleSetCustodyConfig(t *txn, in *event.SetCustodyConfig) error {
	if _, err := t.getPerpetuals(); err != nil {
		return err
	}
	custody, err := t.getCustody(in.CustodyID)
	if err != nil {
		return err
	}
	if err := custody.ApplyConfig(in.Config, t.now); err != nil {
		return err
	}
	t.outcome.Custodies = []*state.Custody{custody}
	return nil
}

func (e *Engine) handleSetPermissions(t *txn, in *event.SetPermissions) error {
	perps, err := t.getPerpetuals()
	if err != nil {
		return err
	}
	perps.Permissions = in.Permissions
	t.outcome.Permissions = &perps.Permissions
	return nil
}

// handleDepositTokens credits tokens arriving from outside the engine.
func (e *Engine) handleDepositTokens(t *txn, in *event.DepositTokens) error {
	if in.Amount == 0 || in.Mint == "" {
		return fmt.Errorf("%w: deposit needs a mint and a positive amount", state.ErrInvalidArgument)
	}
	t.mint(ledger.UserWallet(in.Owner, in.Mint), in.Amount, "deposit")
	t.outcome.Owner = in.Owner
	return nil
}

// handleDepositLiquidity adds owned liquidity to a custody and mints LP
// tokens worth the deposit's USD value at the lower price observation.
func (e *Engine) handleDepositLiquidity(t *txn, in *event.DepositLiquidity) error {
	perps, err := t.getPerpetuals()
	if err != nil {
		return err
	}
	if in.Amount == 0 {
		return fmt.Errorf("%w: zero liquidity deposit", state.ErrInvalidArgument)
	}
	custody, err := t.getCustody(in.CustodyID)
	if err != nil {
		return err
	}
	if !perps.Permissions.AllowAddLiquidity || !custody.Permissions.AllowAddLiquidity {
		return fmt.Errorf("%w: add liquidity on %s", state.ErrInstructionNotAllowed, custody.ID)
	}
	pool, err := t.getPool(custody.Pool)
	if err != nil {
		return err
	}
	prices, err := t.pricesFor(custody)
	if err != nil {
		return err
	}
	minPrice, err := prices.Spot.GetMinPrice(prices.EMA, custody.IsStable)
	if err != nil {
		return err
	}
	lpAmount, err := minPrice.AssetAmountToUSD(in.Amount, custody.Decimals)
	if err != nil {
		return err
	}

	if custody.Assets.Owned, err = fpmath.CheckedAdd(custody.Assets.Owned, in.Amount); err != nil {
		return err
	}
	if err := custody.UpdateBorrowRate(t.now); err != nil {
		return err
	}

	t.transfer(ledger.UserWallet(in.Owner, custody.Mint), ledger.CustodyVault(custody.ID, custody.Mint), in.Amount, "add liquidity")
	t.mint(ledger.UserWallet(in.Owner, pool.LPTokenMint), lpAmount, "lp tokens")

	t.outcome.Owner = in.Owner
	t.outcome.Custodies = []*state.Custody{custody}
	return nil
}

func (e *Engine) handleInitStakingPool(t *txn, in *event.InitStakingPool) error {
	cortex, err := t.getCortex()
	if err != nil {
		return err
	}
	if in.Type != state.StakingTypeLM && in.Type != state.StakingTypeLP {
		return fmt.Errorf("%w: staking type %d", state.ErrInvalidArgument, in.Type)
	}
	if t.hasStakingPool(in.Type) {
		return fmt.Errorf("%w: %s staking pool already exists", state.ErrInvalidArgument, in.Type)
	}
	if in.StakedTokenMint == "" || in.RewardTokenMint == "" {
		return fmt.Errorf("%w: staked and reward mints are required", state.ErrInvalidArgument)
	}
	if in.RoundMinDuration < 0 {
		return fmt.Errorf("%w: negative round duration", state.ErrInvalidArgument)
	}
	pool := state.NewStakingPool(in.Type, in.StakedTokenMint, in.RewardTokenMint, cortex.LMTokenMint, t.now)
	if in.RoundMinDuration > 0 {
		pool.RoundMinDuration = in.RoundMinDuration
	}
	t.stakingPools[in.Type] = pool
	t.outcome.StakingPool = pool
	return nil
}
