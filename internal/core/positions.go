package core

import (
	"PerpEngine/internal/event"
	"PerpEngine/internal/ledger"
	fpmath "PerpEngine/internal/math"
	"PerpEngine/internal/state"
	"fmt"

	"github.com/google/uuid"
)

const (
	closeReasonUser        = "close"
	closeReasonLiquidation = "liquidation"
)

func (e *Engine) handleOpenPosition(t *txn, in *event.OpenPosition) error {
	perps, err := t.getPerpetuals()
	if err != nil {
		return err
	}
	pool, err := t.getPool(in.PoolID)
	if err != nil {
		return err
	}
	custody, err := t.poolCustody(pool, in.CustodyID)
	if err != nil {
		return err
	}
	collateral, err := t.poolCustody(pool, in.CollateralCustody)
	if err != nil {
		return err
	}

	if !perps.Permissions.AllowOpenPosition || !custody.Permissions.AllowOpenPosition || custody.IsStable {
		return fmt.Errorf("%w: open position on %s", state.ErrInstructionNotAllowed, custody.ID)
	}
	if in.Price == 0 || in.Collateral == 0 || in.Size == 0 || in.Side == state.SideNone {
		return fmt.Errorf("%w: price, collateral, size and side are required", state.ErrInvalidArgument)
	}
	if err := checkCollateralCustody(in.Side, custody, collateral); err != nil {
		return err
	}

	key := state.PositionKey{Owner: in.Owner, Pool: pool.ID, Custody: custody.ID, Side: in.Side}
	if t.getPosition(key) != nil {
		return fmt.Errorf("%w: %s %s on %s", state.ErrPositionExists, in.Owner, in.Side, custody.ID)
	}

	prices, err := t.pricesFor(custody)
	if err != nil {
		return err
	}
	collateralPrices, err := t.pricesFor(collateral)
	if err != nil {
		return err
	}

	entryPrice, err := pool.GetEntryPrice(prices, in.Side, custody)
	if err != nil {
		return err
	}
	if (in.Side == state.SideLong && entryPrice > in.Price) || (in.Side == state.SideShort && entryPrice < in.Price) {
		return fmt.Errorf("%w: entry %d, limit %d", state.ErrMaxPriceSlippage, entryPrice, in.Price)
	}

	minCollateralPrice, err := collateralPrices.Spot.GetMinPrice(collateralPrices.EMA, collateral.IsStable)
	if err != nil {
		return err
	}
	sizeUSD, err := prices.Max().AssetAmountToUSD(in.Size, custody.Decimals)
	if err != nil {
		return err
	}
	collateralUSD, err := minCollateralPrice.AssetAmountToUSD(in.Collateral, collateral.Decimals)
	if err != nil {
		return err
	}
	locked, err := custody.GetLockedAmount(in.Side, in.Size, sizeUSD, minCollateralPrice, collateral)
	if err != nil {
		return err
	}
	feeSize, err := custody.SizeInCollateral(in.Size, sizeUSD, minCollateralPrice, collateral)
	if err != nil {
		return err
	}
	fee, err := pool.GetEntryFee(custody.Fees.OpenPosition, feeSize, locked)
	if err != nil {
		return err
	}
	snapshot, err := collateral.GetCumulativeInterest(t.now)
	if err != nil {
		return err
	}
	if locked == 0 {
		return fmt.Errorf("%w: position would lock nothing", state.ErrInsufficientFunds)
	}

	position := &state.Position{
		ID:                         uuid.NewSHA1(t.id, []byte("position")),
		Owner:                      in.Owner,
		Pool:                       pool.ID,
		Custody:                    custody.ID,
		CollateralCustody:          collateral.ID,
		Side:                       in.Side,
		OpenTime:                   t.now,
		UpdateTime:                 t.now,
		Price:                      entryPrice,
		SizeUSD:                    sizeUSD,
		CollateralUSD:              collateralUSD,
		CumulativeInterestSnapshot: snapshot,
		LockedAmount:               locked,
		CollateralAmount:           in.Collateral,
		Status:                     state.PositionStatusOpening,
	}

	ok, err := pool.CheckLeverage(position, prices, custody, collateralPrices, collateral, t.now, true)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: size %d on collateral %d", state.ErrMaxLeverage, sizeUSD, collateralUSD)
	}

	if err := collateral.LockFunds(locked); err != nil {
		return err
	}

	amountIn, err := fpmath.CheckedAdd(in.Collateral, fee)
	if err != nil {
		return err
	}
	vault := ledger.CustodyVault(collateral.ID, collateral.Mint)
	t.transfer(ledger.UserWallet(in.Owner, collateral.Mint), vault, amountIn, "open position")
	if rent := e.cfg.PositionRent; rent > 0 {
		t.transfer(ledger.UserWallet(in.Owner, e.cfg.RentMint), ledger.PositionDeposit(position.ID, e.cfg.RentMint), rent, "position rent")
	}

	feeUSD, err := collateralPrices.EMA.AssetAmountToUSD(fee, collateral.Decimals)
	if err != nil {
		return err
	}
	lmRewards, err := e.mintLMRewards(t, in.Owner, feeUSD)
	if err != nil {
		return err
	}
	collateral.CollectedFees.OpenPositionUSD = fpmath.WrappingAdd(collateral.CollectedFees.OpenPositionUSD, feeUSD)
	custody.DistributedRewards.OpenPositionLM = fpmath.WrappingAdd(custody.DistributedRewards.OpenPositionLM, lmRewards)
	custody.VolumeStats.OpenPositionUSD = fpmath.WrappingAdd(custody.VolumeStats.OpenPositionUSD, sizeUSD)

	if collateral.Assets.Collateral, err = fpmath.CheckedAdd(collateral.Assets.Collateral, in.Collateral); err != nil {
		return err
	}
	if in.Side == state.SideLong {
		custody.TradeStats.OILongUSD, err = fpmath.CheckedAdd(custody.TradeStats.OILongUSD, sizeUSD)
	} else {
		custody.TradeStats.OIShortUSD, err = fpmath.CheckedAdd(custody.TradeStats.OIShortUSD, sizeUSD)
	}
	if err != nil {
		return err
	}

	if !position.Status.CanTransitionTo(state.PositionStatusOpen) {
		return fmt.Errorf("%w: position %s is %s", state.ErrInvalidArgument, position.ID, position.Status)
	}
	position.Status = state.PositionStatusOpen
	if err := custody.AddPosition(position, collateral); err != nil {
		return err
	}

	dist, direct, err := e.distributeFee(t, pool, collateral, collateralPrices, fee)
	if err != nil {
		return err
	}
	// The organic share and any swapped-out staker shares stay in the vault.
	retained, err := fpmath.CheckedSub(fee, dist.ProtocolFee)
	if err == nil {
		retained, err = fpmath.CheckedSub(retained, direct)
	}
	if err != nil {
		return err
	}
	if collateral.Assets.Owned, err = fpmath.CheckedAdd(collateral.Assets.Owned, retained); err != nil {
		return err
	}
	if err := collateral.UpdateBorrowRate(t.now); err != nil {
		return err
	}

	t.putPosition(position)
	t.outcome.Owner = in.Owner
	t.outcome.Position = position
	t.outcome.Fee = &event.FeeRecord{
		CustodyID:    collateral.ID,
		Mint:         collateral.Mint,
		Amount:       fee,
		AmountUSD:    feeUSD,
		Distribution: dist,
		LMRewards:    lmRewards,
	}
	t.outcome.Custodies = t.touchedCustodies()

	if m := e.metrics; m != nil {
		t.onCommit(func() {
			m.PositionsOpened.WithLabelValues(custody.ID, in.Side.String()).Inc()
			m.FeesCollected.WithLabelValues(collateral.ID, "open_position").Add(float64(feeUSD))
			m.LMRewardsMinted.Add(float64(lmRewards))
		})
	}
	return nil
}

// checkCollateralCustody enforces the collateral rule: shorts and virtual
// assets are backed by a distinct real stablecoin custody, longs on real
// assets by the traded custody itself.
func checkCollateralCustody(side state.Side, custody, collateral *state.Custody) error {
	if side == state.SideShort || custody.IsVirtual {
		if collateral.ID == custody.ID || !collateral.IsStable || collateral.IsVirtual {
			return fmt.Errorf("%w: %s %s needs a real stable collateral custody, got %s",
				state.ErrInvalidCollateralCustody, side, custody.ID, collateral.ID)
		}
		return nil
	}
	if collateral.ID != custody.ID {
		return fmt.Errorf("%w: long %s must post collateral in the same custody, got %s",
			state.ErrInvalidCollateralCustody, custody.ID, collateral.ID)
	}
	return nil
}

func (e *Engine) handleClosePosition(t *txn, in *event.ClosePosition) error {
	perps, err := t.getPerpetuals()
	if err != nil {
		return err
	}
	pool, err := t.getPool(in.PoolID)
	if err != nil {
		return err
	}
	custody, err := t.poolCustody(pool, in.CustodyID)
	if err != nil {
		return err
	}
	if !perps.Permissions.AllowClosePosition || !custody.Permissions.AllowClosePosition {
		return fmt.Errorf("%w: close position on %s", state.ErrInstructionNotAllowed, custody.ID)
	}
	if in.Price == 0 {
		return fmt.Errorf("%w: price is required", state.ErrInvalidArgument)
	}

	position, collateral, err := t.livePosition(pool, state.PositionKey{
		Owner: in.Owner, Pool: pool.ID, Custody: custody.ID, Side: in.Side,
	})
	if err != nil {
		return err
	}
	prices, err := t.pricesFor(custody)
	if err != nil {
		return err
	}
	exitPrice, err := pool.GetExitPrice(prices, position.Side, custody)
	if err != nil {
		return err
	}
	if (position.Side == state.SideLong && exitPrice < in.Price) || (position.Side == state.SideShort && exitPrice > in.Price) {
		return fmt.Errorf("%w: exit %d, limit %d", state.ErrMaxPriceSlippage, exitPrice, in.Price)
	}
	return e.settlePosition(t, pool, custody, collateral, position, prices, false)
}

func (e *Engine) handleLiquidatePosition(t *txn, in *event.LiquidatePosition) error {
	perps, err := t.getPerpetuals()
	if err != nil {
		return err
	}
	pool, err := t.getPool(in.PoolID)
	if err != nil {
		return err
	}
	custody, err := t.poolCustody(pool, in.CustodyID)
	if err != nil {
		return err
	}
	if !perps.Permissions.AllowClosePosition || !custody.Permissions.AllowClosePosition {
		return fmt.Errorf("%w: liquidate position on %s", state.ErrInstructionNotAllowed, custody.ID)
	}

	position, collateral, err := t.livePosition(pool, state.PositionKey{
		Owner: in.Owner, Pool: pool.ID, Custody: custody.ID, Side: in.Side,
	})
	if err != nil {
		return err
	}
	prices, err := t.pricesFor(custody)
	if err != nil {
		return err
	}
	collateralPrices, err := t.pricesFor(collateral)
	if err != nil {
		return err
	}
	healthy, err := pool.CheckLeverage(position, prices, custody, collateralPrices, collateral, t.now, false)
	if err != nil {
		return err
	}
	if healthy {
		return fmt.Errorf("%w: position %s is within leverage limits", state.ErrInstructionNotAllowed, position.ID)
	}
	return e.settlePosition(t, pool, custody, collateral, position, prices, true)
}

// livePosition loads an open position and its collateral custody.
func (t *txn) livePosition(pool *state.Pool, key state.PositionKey) (*state.Position, *state.Custody, error) {
	position := t.getPosition(key)
	if position == nil || position.Status != state.PositionStatusOpen {
		return nil, nil, fmt.Errorf("%w: %s %s on %s", state.ErrPositionNotFound, key.Owner, key.Side, key.Custody)
	}
	collateral, err := t.poolCustody(pool, position.CollateralCustody)
	if err != nil {
		return nil, nil, err
	}
	return position, collateral, nil
}

// settlePosition pays out a position and releases its reservation. The
// close amount goes to the owner in both the user and liquidation paths.
func (e *Engine) settlePosition(
	t *txn,
	pool *state.Pool,
	custody *state.Custody,
	collateral *state.Custody,
	position *state.Position,
	prices state.Prices,
	liquidation bool,
) error {
	collateralPrices, err := t.pricesFor(collateral)
	if err != nil {
		return err
	}
	amounts, err := pool.GetCloseAmount(position, prices, custody, collateralPrices, collateral, t.now, liquidation)
	if err != nil {
		return err
	}
	if err := collateral.UnlockFunds(position.LockedAmount); err != nil {
		return err
	}
	if !pool.CheckAvailableAmount(amounts.TransferAmount, collateral) {
		return fmt.Errorf("%w: custody %s cannot pay %d (available %d)",
			state.ErrCustodyAmountLimit, collateral.ID, amounts.TransferAmount, collateral.Available())
	}

	vault := ledger.CustodyVault(collateral.ID, collateral.Mint)
	t.transfer(vault, ledger.UserWallet(position.Owner, collateral.Mint), amounts.TransferAmount, "close position")

	feeUSD, err := collateralPrices.EMA.AssetAmountToUSD(amounts.FeeAmount, collateral.Decimals)
	if err != nil {
		return err
	}
	lmRewards, err := e.mintLMRewards(t, position.Owner, feeUSD)
	if err != nil {
		return err
	}
	if liquidation {
		collateral.CollectedFees.LiquidationUSD = fpmath.WrappingAdd(collateral.CollectedFees.LiquidationUSD, feeUSD)
		custody.VolumeStats.LiquidationUSD = fpmath.WrappingAdd(custody.VolumeStats.LiquidationUSD, position.SizeUSD)
		custody.DistributedRewards.LiquidationLM = fpmath.WrappingAdd(custody.DistributedRewards.LiquidationLM, lmRewards)
	} else {
		collateral.CollectedFees.ClosePositionUSD = fpmath.WrappingAdd(collateral.CollectedFees.ClosePositionUSD, feeUSD)
		custody.VolumeStats.ClosePositionUSD = fpmath.WrappingAdd(custody.VolumeStats.ClosePositionUSD, position.SizeUSD)
		custody.DistributedRewards.ClosePositionLM = fpmath.WrappingAdd(custody.DistributedRewards.ClosePositionLM, lmRewards)
	}

	dist, direct, err := e.distributeFee(t, pool, collateral, collateralPrices, amounts.FeeAmount)
	if err != nil {
		return err
	}

	// owned' = owned + collateral - transfer - protocol fee - staker transfers
	credit, err := fpmath.CheckedAdd(collateral.Assets.Owned, position.CollateralAmount)
	if err != nil {
		return err
	}
	debit, err := fpmath.CheckedAdd(amounts.TransferAmount, dist.ProtocolFee)
	if err == nil {
		debit, err = fpmath.CheckedAdd(debit, direct)
	}
	if err != nil {
		return err
	}
	if collateral.Assets.Owned, err = fpmath.CheckedSub(credit, debit); err != nil {
		return fmt.Errorf("%w: custody %s cannot absorb settlement of %s", state.ErrCustodyAmountLimit, collateral.ID, position.ID)
	}
	if collateral.Assets.Collateral, err = fpmath.CheckedSub(collateral.Assets.Collateral, position.CollateralAmount); err != nil {
		return err
	}

	if position.Side == state.SideLong {
		custody.TradeStats.OILongUSD = fpmath.SaturatingSub(custody.TradeStats.OILongUSD, position.SizeUSD)
	} else {
		custody.TradeStats.OIShortUSD = fpmath.SaturatingSub(custody.TradeStats.OIShortUSD, position.SizeUSD)
	}
	custody.TradeStats.ProfitUSD = fpmath.WrappingAdd(custody.TradeStats.ProfitUSD, amounts.ProfitUSD)
	custody.TradeStats.LossUSD = fpmath.WrappingAdd(custody.TradeStats.LossUSD, amounts.LossUSD)

	if err := custody.RemovePosition(position, collateral); err != nil {
		return err
	}
	if err := collateral.UpdateBorrowRate(t.now); err != nil {
		return err
	}
	if collateral.Assets.Locked > collateral.Assets.Owned {
		return fmt.Errorf("%w: custody %s would lock %d of %d owned",
			state.ErrCustodyAmountLimit, collateral.ID, collateral.Assets.Locked, collateral.Assets.Owned)
	}

	position.Status = state.PositionStatusClosed
	position.UpdateTime = t.now
	position.UnrealizedProfitUSD = amounts.ProfitUSD
	position.UnrealizedLossUSD = amounts.LossUSD
	t.deletePosition(position.Key())
	if e.cfg.PositionRent > 0 {
		t.closeAccount(ledger.PositionDeposit(position.ID, e.cfg.RentMint), ledger.UserWallet(position.Owner, e.cfg.RentMint), "position rent refund")
	}

	t.outcome.Owner = position.Owner
	t.outcome.Position = position
	t.outcome.Close = &amounts
	t.outcome.Fee = &event.FeeRecord{
		CustodyID:    collateral.ID,
		Mint:         collateral.Mint,
		Amount:       amounts.FeeAmount,
		AmountUSD:    feeUSD,
		Distribution: dist,
		LMRewards:    lmRewards,
	}
	t.outcome.Custodies = t.touchedCustodies()

	if m := e.metrics; m != nil {
		reason, kind := closeReasonUser, "close_position"
		if liquidation {
			reason, kind = closeReasonLiquidation, "liquidation"
		}
		t.onCommit(func() {
			m.PositionsClosed.WithLabelValues(custody.ID, position.Side.String(), reason).Inc()
			m.FeesCollected.WithLabelValues(collateral.ID, kind).Add(float64(feeUSD))
			m.LMRewardsMinted.Add(float64(lmRewards))
		})
	}
	return nil
}

// mintLMRewards mints the trader's LM reward for a fee, drawn from the
// ecosystem bucket.
func (e *Engine) mintLMRewards(t *txn, owner uuid.UUID, feeUSD uint64) (uint64, error) {
	cortex, err := t.getCortex()
	if err != nil {
		return 0, err
	}
	amount, err := cortex.GetLMRewardsAmount(feeUSD)
	if err != nil || amount == 0 {
		return 0, err
	}
	if err := cortex.MintFromBucket(amount); err != nil {
		return 0, err
	}
	t.mint(ledger.UserWallet(owner, cortex.LMTokenMint), amount, "lm rewards")
	return amount, nil
}
