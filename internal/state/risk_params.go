package state

import "fmt"

var (
	// DefaultPricingParams: no spread, 1x to 50x on open, 100x maintenance.
	DefaultPricingParams = PricingParams{
		UseEMA:             true,
		TradeSpreadLong:    0,
		TradeSpreadShort:   0,
		MinInitialLeverage: 10_000,
		MaxInitialLeverage: 500_000,
		MaxLeverage:        1_000_000,
	}

	// DefaultFeeParams: 10 bps open/close, 50 bps liquidation, 10% protocol.
	DefaultFeeParams = FeeParams{
		OpenPosition:  10,
		ClosePosition: 10,
		Liquidation:   50,
		ProtocolShare: 1_000,
	}

	// DefaultBorrowRateParams: hourly, 0.001% base, kink at 80% utilization.
	DefaultBorrowRateParams = BorrowRateParams{
		BaseRate:           10_000,
		Slope1:             80_000,
		Slope2:             120_000,
		OptimalUtilization: 800_000_000,
	}
)

// CustodyConfig is the tunable part of a custody. Identity fields (mint,
// decimals, oracle, flags) are fixed at creation.
type CustodyConfig struct {
	Permissions Permissions      `json:"permissions"`
	Pricing     PricingParams    `json:"pricing"`
	Fees        FeeParams        `json:"fees"`
	BorrowCurve BorrowRateParams `json:"borrow_curve"`
}

// Config returns the custody's current tunables.
func (c *Custody) Config() CustodyConfig {
	return CustodyConfig{
		Permissions: c.Permissions,
		Pricing:     c.Pricing,
		Fees:        c.Fees,
		BorrowCurve: c.BorrowCurve,
	}
}

// ApplyConfig validates and installs new tunables. Interest is accrued at
// the old rate up to now before the curve changes.
func (c *Custody) ApplyConfig(cfg CustodyConfig, now int64) error {
	next := c.CustodyParams
	next.Permissions = cfg.Permissions
	next.Pricing = cfg.Pricing
	next.Fees = cfg.Fees
	next.BorrowCurve = cfg.BorrowCurve
	if err := ValidateCustodyParams(&next); err != nil {
		return fmt.Errorf("invalid config for %s: %w", c.ID, err)
	}

	if err := c.UpdateBorrowRate(now); err != nil {
		return err
	}
	c.CustodyParams = next
	return c.UpdateBorrowRate(now)
}
