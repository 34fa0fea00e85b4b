package state

import (
	fpmath "PerpEngine/internal/math"
	"fmt"
)

// PricingParams configures quoting and leverage limits for a custody.
// Spreads and leverage are in basis points (10_000 = 1x).
type PricingParams struct {
	UseEMA             bool   `json:"use_ema"`
	TradeSpreadLong    uint64 `json:"trade_spread_long"`
	TradeSpreadShort   uint64 `json:"trade_spread_short"`
	MinInitialLeverage uint64 `json:"min_initial_leverage"`
	MaxInitialLeverage uint64 `json:"max_initial_leverage"`
	MaxLeverage        uint64 `json:"max_leverage"`
}

// FeeParams are basis-point fee rates.
type FeeParams struct {
	OpenPosition  uint64 `json:"open_position"`
	ClosePosition uint64 `json:"close_position"`
	Liquidation   uint64 `json:"liquidation"`
	ProtocolShare uint64 `json:"protocol_share"`
}

// BorrowRateParams define the utilization curve, all in RateDecimals.
// Rates are hourly.
type BorrowRateParams struct {
	BaseRate           uint64 `json:"base_rate"`
	Slope1             uint64 `json:"slope1"`
	Slope2             uint64 `json:"slope2"`
	OptimalUtilization uint64 `json:"optimal_utilization"`
}

// BorrowRateState is the running interest accumulator.
type BorrowRateState struct {
	CurrentRate        uint64 `json:"current_rate"`
	CumulativeInterest uint64 `json:"cumulative_interest"`
	LastUpdate         int64  `json:"last_update"`
}

// Assets are solvency-critical balances in token-native units. They only
// ever change through checked arithmetic.
type Assets struct {
	Owned        uint64 `json:"owned"`
	Locked       uint64 `json:"locked"`
	Collateral   uint64 `json:"collateral"`
	ProtocolFees uint64 `json:"protocol_fees"`
}

// TradeStats: open interest is saturating, profit/loss are wrapping counters.
type TradeStats struct {
	OILongUSD  uint64 `json:"oi_long_usd"`
	OIShortUSD uint64 `json:"oi_short_usd"`
	ProfitUSD  uint64 `json:"profit_usd"`
	LossUSD    uint64 `json:"loss_usd"`
}

// OperationStats is a set of lifetime counters, one per operation kind.
// Every field wraps on overflow.
type OperationStats struct {
	SwapUSD          uint64 `json:"swap_usd"`
	OpenPositionUSD  uint64 `json:"open_position_usd"`
	ClosePositionUSD uint64 `json:"close_position_usd"`
	LiquidationUSD   uint64 `json:"liquidation_usd"`
}

// RewardStats counts LM tokens minted per operation kind. Wrapping.
type RewardStats struct {
	OpenPositionLM  uint64 `json:"open_position_lm"`
	ClosePositionLM uint64 `json:"close_position_lm"`
	LiquidationLM   uint64 `json:"liquidation_lm"`
}

// PositionStats aggregates live positions per side.
type PositionStats struct {
	OpenPositions uint64 `json:"open_positions"`
	SizeUSD       uint64 `json:"size_usd"`
	CollateralUSD uint64 `json:"collateral_usd"`
	LockedAmount  uint64 `json:"locked_amount"`
}

// CustodyParams is the static configuration of a custody.
type CustodyParams struct {
	ID          string           `json:"id"`
	Pool        string           `json:"pool"`
	Mint        string           `json:"mint"`
	Decimals    uint8            `json:"decimals"`
	Oracle      string           `json:"oracle"`
	IsStable    bool             `json:"is_stable"`
	IsVirtual   bool             `json:"is_virtual"`
	Permissions Permissions      `json:"permissions"`
	Pricing     PricingParams    `json:"pricing"`
	Fees        FeeParams        `json:"fees"`
	BorrowCurve BorrowRateParams `json:"borrow_curve"`
}

// Custody is the reserve ledger of one tradable asset within a pool.
// Invariant: Assets.Locked <= Assets.Owned.
type Custody struct {
	CustodyParams

	Assets             Assets          `json:"assets"`
	BorrowRate         BorrowRateState `json:"borrow_rate"`
	TradeStats         TradeStats      `json:"trade_stats"`
	VolumeStats        OperationStats  `json:"volume_stats"`
	CollectedFees      OperationStats  `json:"collected_fees"`
	DistributedRewards RewardStats     `json:"distributed_rewards"`
	LongPositions      PositionStats   `json:"long_positions"`
	ShortPositions     PositionStats   `json:"short_positions"`
}

// NewCustody validates params and returns an empty custody.
func NewCustody(params CustodyParams, now int64) (*Custody, error) {
	if err := ValidateCustodyParams(&params); err != nil {
		return nil, fmt.Errorf("invalid custody params for %s: %w", params.ID, err)
	}
	return &Custody{
		CustodyParams: params,
		BorrowRate: BorrowRateState{
			CurrentRate: params.BorrowCurve.BaseRate,
			LastUpdate:  now,
		},
	}, nil
}

// Clone returns a deep copy. Custody holds no reference types.
func (c *Custody) Clone() *Custody {
	cp := *c
	return &cp
}

// ValidateCustodyParams checks that configuration is within valid ranges.
func ValidateCustodyParams(p *CustodyParams) error {
	if p.ID == "" || p.Pool == "" || p.Mint == "" {
		return fmt.Errorf("%w: id, pool and mint are required", ErrInvalidParams)
	}
	if p.Decimals > 18 {
		return fmt.Errorf("%w: decimals must be <= 18, got %d", ErrInvalidParams, p.Decimals)
	}
	if p.IsStable && p.IsVirtual {
		return fmt.Errorf("%w: custody cannot be both stable and virtual", ErrInvalidParams)
	}
	pr := p.Pricing
	if pr.TradeSpreadLong >= fpmath.BPSPower || pr.TradeSpreadShort >= fpmath.BPSPower {
		return fmt.Errorf("%w: trade spreads must be < %d bps", ErrInvalidParams, fpmath.BPSPower)
	}
	if pr.MinInitialLeverage < fpmath.BPSPower {
		return fmt.Errorf("%w: min_initial_leverage must be >= 1x, got %d", ErrInvalidParams, pr.MinInitialLeverage)
	}
	if pr.MaxInitialLeverage < pr.MinInitialLeverage {
		return fmt.Errorf("%w: max_initial_leverage (%d) must be >= min_initial_leverage (%d)",
			ErrInvalidParams, pr.MaxInitialLeverage, pr.MinInitialLeverage)
	}
	if pr.MaxLeverage < pr.MaxInitialLeverage {
		return fmt.Errorf("%w: max_leverage (%d) must be >= max_initial_leverage (%d)",
			ErrInvalidParams, pr.MaxLeverage, pr.MaxInitialLeverage)
	}
	f := p.Fees
	if f.OpenPosition > fpmath.BPSPower || f.ClosePosition > fpmath.BPSPower ||
		f.Liquidation > fpmath.BPSPower || f.ProtocolShare > fpmath.BPSPower {
		return fmt.Errorf("%w: fee rates must be <= %d bps", ErrInvalidParams, fpmath.BPSPower)
	}
	if p.BorrowCurve.OptimalUtilization > fpmath.RatePower {
		return fmt.Errorf("%w: optimal_utilization must be <= %d", ErrInvalidParams, fpmath.RatePower)
	}
	return nil
}

// LockFunds reserves amount of owned liquidity against a position payout.
func (c *Custody) LockFunds(amount uint64) error {
	locked, err := fpmath.CheckedAdd(c.Assets.Locked, amount)
	if err != nil {
		return err
	}
	if locked > c.Assets.Owned {
		return fmt.Errorf("%w: custody %s: locking %d would exceed owned %d (locked %d)",
			ErrInsufficientFunds, c.ID, amount, c.Assets.Owned, c.Assets.Locked)
	}
	c.Assets.Locked = locked
	return nil
}

// UnlockFunds releases a previous reservation.
func (c *Custody) UnlockFunds(amount uint64) error {
	if amount > c.Assets.Locked {
		return fmt.Errorf("%w: custody %s: unlocking %d exceeds locked %d",
			ErrCustodyAmountLimit, c.ID, amount, c.Assets.Locked)
	}
	c.Assets.Locked -= amount
	return nil
}

// Available returns owned liquidity not reserved by positions.
func (c *Custody) Available() uint64 {
	return fpmath.SaturatingSub(c.Assets.Owned, c.Assets.Locked)
}

// GetLockedAmount returns the payout reservation for a new position, in
// collateral-asset units. Shorts and virtual assets owe a variable payout
// measured from the USD size; a long on a real asset owes its own size.
func (c *Custody) GetLockedAmount(side Side, size, sizeUSD uint64, collateralPrice fpmath.OraclePrice, collateral *Custody) (uint64, error) {
	if side == SideShort || c.IsVirtual {
		return collateralPrice.USDToAssetAmount(sizeUSD, collateral.Decimals)
	}
	return size, nil
}

// SizeInCollateral expresses a trade size in collateral-asset units. Size
// is native to c, so it only carries over when c is its own collateral.
func (c *Custody) SizeInCollateral(size, sizeUSD uint64, collateralPrice fpmath.OraclePrice, collateral *Custody) (uint64, error) {
	if collateral == nil || collateral.ID == c.ID {
		return size, nil
	}
	return collateralPrice.USDToAssetAmount(sizeUSD, collateral.Decimals)
}

// GetCumulativeInterest projects the accumulator forward to now without
// mutating the custody.
func (c *Custody) GetCumulativeInterest(now int64) (uint64, error) {
	if now <= c.BorrowRate.LastUpdate {
		return c.BorrowRate.CumulativeInterest, nil
	}
	return fpmath.AccrueCumulativeInterest(
		c.BorrowRate.CumulativeInterest,
		c.BorrowRate.CurrentRate,
		now-c.BorrowRate.LastUpdate,
	)
}

// UpdateBorrowRate accrues interest up to now and re-prices the hourly rate
// from current utilization.
func (c *Custody) UpdateBorrowRate(now int64) error {
	if c.Assets.Owned == 0 {
		c.BorrowRate.CurrentRate = 0
		if now > c.BorrowRate.LastUpdate {
			c.BorrowRate.LastUpdate = now
		}
		return nil
	}

	if now > c.BorrowRate.LastUpdate {
		cumulative, err := c.GetCumulativeInterest(now)
		if err != nil {
			return fmt.Errorf("accrue interest for %s: %w", c.ID, err)
		}
		c.BorrowRate.CumulativeInterest = cumulative
		c.BorrowRate.LastUpdate = now
	}

	utilization, err := fpmath.ComputeUtilization(c.Assets.Locked, c.Assets.Owned)
	if err != nil {
		return err
	}
	curve := c.BorrowCurve
	rate, err := fpmath.ComputeBorrowRate(utilization, curve.BaseRate, curve.Slope1, curve.Slope2, curve.OptimalUtilization)
	if err != nil {
		return err
	}
	c.BorrowRate.CurrentRate = rate
	return nil
}

// GetInterestAmountUSD returns borrow interest owed by a position since its
// last snapshot. c must be the position's collateral custody.
func (c *Custody) GetInterestAmountUSD(p *Position, now int64) (uint64, error) {
	if p.SizeUSD == 0 {
		return 0, nil
	}
	cumulative, err := c.GetCumulativeInterest(now)
	if err != nil {
		return 0, err
	}
	return fpmath.ComputeInterestUSD(cumulative, p.CumulativeInterestSnapshot, p.SizeUSD)
}

func (c *Custody) sideStats(side Side) *PositionStats {
	if side == SideLong {
		return &c.LongPositions
	}
	return &c.ShortPositions
}

// AddPosition records a new position. When collateral is a distinct
// custody, the locked reservation is recorded there so both ledgers
// reflect the trade.
func (c *Custody) AddPosition(p *Position, collateral *Custody) error {
	stats := c.sideStats(p.Side)
	lockedOn := stats
	if collateral != nil && collateral != c {
		lockedOn = collateral.sideStats(p.Side)
	}

	next := *stats
	var err error
	next.OpenPositions++
	if next.SizeUSD, err = fpmath.CheckedAdd(next.SizeUSD, p.SizeUSD); err != nil {
		return err
	}
	if next.CollateralUSD, err = fpmath.CheckedAdd(next.CollateralUSD, p.CollateralUSD); err != nil {
		return err
	}

	lockedNext := lockedOn.LockedAmount
	if lockedOn == stats {
		lockedNext = next.LockedAmount
	}
	if lockedNext, err = fpmath.CheckedAdd(lockedNext, p.LockedAmount); err != nil {
		return err
	}

	*stats = next
	lockedOn.LockedAmount = lockedNext
	return nil
}

// RemovePosition reverses AddPosition.
func (c *Custody) RemovePosition(p *Position, collateral *Custody) error {
	stats := c.sideStats(p.Side)
	lockedOn := stats
	if collateral != nil && collateral != c {
		lockedOn = collateral.sideStats(p.Side)
	}

	next := *stats
	var err error
	if next.OpenPositions, err = fpmath.CheckedSub(next.OpenPositions, 1); err != nil {
		return err
	}
	if next.SizeUSD, err = fpmath.CheckedSub(next.SizeUSD, p.SizeUSD); err != nil {
		return err
	}
	if next.CollateralUSD, err = fpmath.CheckedSub(next.CollateralUSD, p.CollateralUSD); err != nil {
		return err
	}

	lockedNext := lockedOn.LockedAmount
	if lockedOn == stats {
		lockedNext = next.LockedAmount
	}
	if lockedNext, err = fpmath.CheckedSub(lockedNext, p.LockedAmount); err != nil {
		return err
	}

	*stats = next
	lockedOn.LockedAmount = lockedNext
	return nil
}
