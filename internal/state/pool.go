package state

import (
	fpmath "PerpEngine/internal/math"
	"fmt"
	"math"
)

// Pool groups a fixed, ordered set of custodies sharing one LP token.
type Pool struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Custodies     []string `json:"custodies"`
	LPTokenMint   string   `json:"lp_token_mint"`
	InceptionTime int64    `json:"inception_time"`
}

// Clone returns a deep copy.
func (pl *Pool) Clone() *Pool {
	cp := *pl
	cp.Custodies = append([]string(nil), pl.Custodies...)
	return &cp
}

// HasCustody reports whether custodyID belongs to the pool.
func (pl *Pool) HasCustody(custodyID string) bool {
	for _, id := range pl.Custodies {
		if id == custodyID {
			return true
		}
	}
	return false
}

// Prices holds the two oracle observations read once per instruction.
// EMA already reflects the custody's UseEMA setting: it is the spot price
// when EMA valuation is disabled.
type Prices struct {
	Spot fpmath.OraclePrice `json:"spot"`
	EMA  fpmath.OraclePrice `json:"ema"`
}

func (p Prices) Max() fpmath.OraclePrice { return fpmath.MaxPrice(p.Spot, p.EMA) }
func (p Prices) Min() fpmath.OraclePrice { return fpmath.MinPrice(p.Spot, p.EMA) }

// CloseAmount is the settlement of a position.
type CloseAmount struct {
	TransferAmount uint64 `json:"transfer_amount"`
	FeeAmount      uint64 `json:"fee_amount"`
	ProfitUSD      uint64 `json:"profit_usd"`
	LossUSD        uint64 `json:"loss_usd"`
}

// quotePrice applies a spread away from the trader: longs pay above the
// higher observation, shorts receive below the lower one.
func quotePrice(prices Prices, side Side, spreadBps uint64) (fpmath.OraclePrice, error) {
	if side == SideLong {
		maxPrice := prices.Max()
		spread, err := fpmath.CheckedDecimalCeilMul(maxPrice.Price, maxPrice.Exponent, spreadBps, -fpmath.BPSDecimals, maxPrice.Exponent)
		if err != nil {
			return fpmath.OraclePrice{}, err
		}
		price, err := fpmath.CheckedAdd(maxPrice.Price, spread)
		if err != nil {
			return fpmath.OraclePrice{}, err
		}
		return fpmath.OraclePrice{Price: price, Exponent: maxPrice.Exponent}, nil
	}

	minPrice := prices.Min()
	spread, err := fpmath.CheckedDecimalMul(minPrice.Price, minPrice.Exponent, spreadBps, -fpmath.BPSDecimals, minPrice.Exponent)
	if err != nil {
		return fpmath.OraclePrice{}, err
	}
	return fpmath.OraclePrice{Price: fpmath.SaturatingSub(minPrice.Price, spread), Exponent: minPrice.Exponent}, nil
}

// GetEntryPrice returns the entry quote in PriceDecimals.
func (pl *Pool) GetEntryPrice(prices Prices, side Side, custody *Custody) (uint64, error) {
	spread := custody.Pricing.TradeSpreadShort
	if side == SideLong {
		spread = custody.Pricing.TradeSpreadLong
	}
	price, err := quotePrice(prices, side, spread)
	if err != nil {
		return 0, err
	}
	if price.Price == 0 {
		return 0, fmt.Errorf("%w: zero entry price", ErrMaxPriceSlippage)
	}
	scaled, err := price.ScaleToExponent(-fpmath.PriceDecimals)
	if err != nil {
		return 0, err
	}
	return scaled.Price, nil
}

// GetExitPrice returns the exit quote in PriceDecimals. Closing a long is
// quoted as a short and vice versa, so the spread again runs against the
// trader.
func (pl *Pool) GetExitPrice(prices Prices, side Side, custody *Custody) (uint64, error) {
	spread := custody.Pricing.TradeSpreadLong
	if side == SideLong {
		spread = custody.Pricing.TradeSpreadShort
	}
	price, err := quotePrice(prices, side.Opposite(), spread)
	if err != nil {
		return 0, err
	}
	scaled, err := price.ScaleToExponent(-fpmath.PriceDecimals)
	if err != nil {
		return 0, err
	}
	return scaled.Price, nil
}

// GetEntryFee charges baseRate on the larger of the trade size and the
// locked reservation. Callers convert size to collateral units first.
func (pl *Pool) GetEntryFee(baseRate, size, lockedAmount uint64) (uint64, error) {
	return fpmath.GetFeeAmount(baseRate, fpmath.Max(size, lockedAmount))
}

// GetExitFee charges rate on the gross size.
func (pl *Pool) GetExitFee(rate, size uint64) (uint64, error) {
	return fpmath.GetFeeAmount(rate, size)
}

// maxProfitUSD caps payouts at the value of the reservation. Nothing can
// be earned in the second the position opened.
func maxProfitUSD(p *Position, collateralPrices Prices, collateral *Custody, now int64) (uint64, error) {
	if now <= p.OpenTime {
		return 0, nil
	}
	return collateralPrices.Spot.AssetAmountToUSD(p.LockedAmount, collateral.Decimals)
}

// GetPnLUSD marks a position to market. Loss includes borrow interest
// accrued since the position's snapshot. Exit fees are not included.
func (pl *Pool) GetPnLUSD(
	p *Position,
	prices Prices,
	custody *Custody,
	collateralPrices Prices,
	collateral *Custody,
	now int64,
) (profitUSD, lossUSD uint64, err error) {
	if p.SizeUSD == 0 || p.Price == 0 {
		return 0, 0, nil
	}

	exitPrice, err := pl.GetExitPrice(prices, p.Side, custody)
	if err != nil {
		return 0, 0, err
	}

	interestUSD, err := collateral.GetInterestAmountUSD(p, now)
	if err != nil {
		return 0, 0, err
	}
	unrealizedLossUSD, err := fpmath.CheckedAdd(interestUSD, p.UnrealizedLossUSD)
	if err != nil {
		return 0, 0, err
	}

	var diffProfit, diffLoss uint64
	if p.Side == SideLong {
		if exitPrice > p.Price {
			diffProfit = exitPrice - p.Price
		} else {
			diffLoss = p.Price - exitPrice
		}
	} else {
		if exitPrice < p.Price {
			diffProfit = p.Price - exitPrice
		} else {
			diffLoss = exitPrice - p.Price
		}
	}

	capProfit := func(profit uint64) (uint64, uint64, error) {
		maxProfit, err := maxProfitUSD(p, collateralPrices, collateral, now)
		if err != nil {
			return 0, 0, err
		}
		return fpmath.Min(profit, maxProfit), 0, nil
	}

	if diffProfit > 0 {
		potentialProfit, err := fpmath.MulDiv(p.SizeUSD, diffProfit, p.Price, fpmath.RoundDown)
		if err != nil {
			return 0, 0, err
		}
		if potentialProfit, err = fpmath.CheckedAdd(potentialProfit, p.UnrealizedProfitUSD); err != nil {
			return 0, 0, err
		}
		if potentialProfit >= unrealizedLossUSD {
			return capProfit(potentialProfit - unrealizedLossUSD)
		}
		return 0, unrealizedLossUSD - potentialProfit, nil
	}

	potentialLoss, err := fpmath.MulDiv(p.SizeUSD, diffLoss, p.Price, fpmath.RoundDown)
	if err != nil {
		return 0, 0, err
	}
	if potentialLoss, err = fpmath.CheckedAdd(potentialLoss, unrealizedLossUSD); err != nil {
		return 0, 0, err
	}
	if potentialLoss >= p.UnrealizedProfitUSD {
		return 0, potentialLoss - p.UnrealizedProfitUSD, nil
	}
	return capProfit(p.UnrealizedProfitUSD - potentialLoss)
}

// marginUSD nets PnL against posted collateral, floored at zero.
func marginUSD(collateralUSD, profitUSD, lossUSD uint64) (uint64, error) {
	if profitUSD > 0 {
		return fpmath.CheckedAdd(collateralUSD, profitUSD)
	}
	return fpmath.SaturatingSub(collateralUSD, lossUSD), nil
}

// GetLeverage returns size over effective collateral in basis points.
// A position with no margin left reports the maximum value.
func (pl *Pool) GetLeverage(
	p *Position,
	prices Prices,
	custody *Custody,
	collateralPrices Prices,
	collateral *Custody,
	now int64,
) (uint64, error) {
	profit, loss, err := pl.GetPnLUSD(p, prices, custody, collateralPrices, collateral, now)
	if err != nil {
		return 0, err
	}
	margin, err := marginUSD(p.CollateralUSD, profit, loss)
	if err != nil {
		return 0, err
	}
	if margin == 0 {
		return math.MaxUint64, nil
	}
	return fpmath.MulDiv(p.SizeUSD, fpmath.BPSPower, margin, fpmath.RoundDown)
}

// CheckLeverage reports whether the position is within the custody's
// leverage limits. A false result must reject the instruction.
func (pl *Pool) CheckLeverage(
	p *Position,
	prices Prices,
	custody *Custody,
	collateralPrices Prices,
	collateral *Custody,
	now int64,
	initial bool,
) (bool, error) {
	leverage, err := pl.GetLeverage(p, prices, custody, collateralPrices, collateral, now)
	if err != nil {
		return false, err
	}
	limits := custody.Pricing
	if leverage > limits.MaxLeverage {
		return false, nil
	}
	if initial && (leverage < limits.MinInitialLeverage || leverage > limits.MaxInitialLeverage) {
		return false, nil
	}
	return true, nil
}

// GetCloseAmount settles a position: transfer = collateral + profit - loss
// - fee, floored at zero and capped at collateral plus the reservation.
// The reported fee never exceeds what the position could pay.
func (pl *Pool) GetCloseAmount(
	p *Position,
	prices Prices,
	custody *Custody,
	collateralPrices Prices,
	collateral *Custody,
	now int64,
	liquidation bool,
) (CloseAmount, error) {
	profit, loss, err := pl.GetPnLUSD(p, prices, custody, collateralPrices, collateral, now)
	if err != nil {
		return CloseAmount{}, err
	}
	availableUSD, err := marginUSD(p.CollateralUSD, profit, loss)
	if err != nil {
		return CloseAmount{}, err
	}

	maxCollateralPrice := collateralPrices.Max()
	closeAmount, err := maxCollateralPrice.USDToAssetAmount(availableUSD, collateral.Decimals)
	if err != nil {
		return CloseAmount{}, err
	}
	sizeInCollateral, err := maxCollateralPrice.USDToAssetAmount(p.SizeUSD, collateral.Decimals)
	if err != nil {
		return CloseAmount{}, err
	}

	rate := custody.Fees.ClosePosition
	if liquidation {
		rate = custody.Fees.Liquidation
	}
	fee, err := pl.GetExitFee(rate, sizeInCollateral)
	if err != nil {
		return CloseAmount{}, err
	}
	fee = fpmath.Min(fee, closeAmount)

	maxAmount, err := fpmath.CheckedAdd(p.LockedAmount, p.CollateralAmount)
	if err != nil {
		return CloseAmount{}, err
	}

	return CloseAmount{
		TransferAmount: fpmath.Min(closeAmount-fee, maxAmount),
		FeeAmount:      fee,
		ProfitUSD:      profit,
		LossUSD:        loss,
	}, nil
}

// CheckAvailableAmount is the solvency guard run before any payout.
func (pl *Pool) CheckAvailableAmount(requested uint64, custody *Custody) bool {
	return custody.Available() >= requested
}

// GetSwapAmount quotes an internal swap. The input is valued at its lower
// observation and the output priced at its higher one.
func (pl *Pool) GetSwapAmount(amountIn uint64, inPrices Prices, in *Custody, outPrices Prices, out *Custody) (uint64, error) {
	inPrice, err := inPrices.Spot.GetMinPrice(inPrices.EMA, in.IsStable)
	if err != nil {
		return 0, err
	}
	usd, err := inPrice.AssetAmountToUSD(amountIn, in.Decimals)
	if err != nil {
		return 0, err
	}
	return outPrices.Max().USDToAssetAmount(usd, out.Decimals)
}
