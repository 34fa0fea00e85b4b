package state_test

import (
	fpmath "PerpEngine/internal/math"
	"PerpEngine/internal/state"
	"errors"
	"testing"
)

func newTestCustody(t *testing.T, id string, mutate func(*state.CustodyParams)) *state.Custody {
	t.Helper()
	params := state.CustodyParams{
		ID:          id,
		Pool:        "main",
		Mint:        id + "-mint",
		Decimals:    6,
		Oracle:      id + "-oracle",
		Permissions: state.AllowAll(),
		Pricing: state.PricingParams{
			MinInitialLeverage: 10_000,
			MaxInitialLeverage: 100_000,
			MaxLeverage:        100_000,
		},
		Fees: state.FeeParams{
			OpenPosition:  10,
			ClosePosition: 10,
			Liquidation:   50,
			ProtocolShare: 1_000,
		},
	}
	if mutate != nil {
		mutate(&params)
	}
	c, err := state.NewCustody(params, 0)
	if err != nil {
		t.Fatalf("NewCustody: %v", err)
	}
	return c
}

// ============================================================================
// Test: Lock / Unlock
// ============================================================================

func TestCustody_LockFundsBeyondOwned(t *testing.T) {
	c := newTestCustody(t, "sol", nil)
	c.Assets.Owned = 100

	err := c.LockFunds(101)
	if !errors.Is(err, state.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
	if c.Assets.Locked != 0 {
		t.Errorf("failed lock mutated locked: got %d, want 0", c.Assets.Locked)
	}
}

func TestCustody_LockUnlockRoundTrip(t *testing.T) {
	c := newTestCustody(t, "sol", nil)
	c.Assets.Owned = 100

	if err := c.LockFunds(60); err != nil {
		t.Fatalf("LockFunds: %v", err)
	}
	if got := c.Available(); got != 40 {
		t.Errorf("available: got %d, want 40", got)
	}
	if err := c.UnlockFunds(61); !errors.Is(err, state.ErrCustodyAmountLimit) {
		t.Errorf("over-unlock: got %v, want ErrCustodyAmountLimit", err)
	}
	if err := c.UnlockFunds(60); err != nil {
		t.Fatalf("UnlockFunds: %v", err)
	}
	if c.Assets.Locked != 0 {
		t.Errorf("locked: got %d, want 0", c.Assets.Locked)
	}
}

// ============================================================================
// Test: Locked amount
// ============================================================================

func TestCustody_GetLockedAmount(t *testing.T) {
	price := fpmath.NewPrice(1_000_000)
	usdc := newTestCustody(t, "usdc", func(p *state.CustodyParams) { p.IsStable = true })
	sol := newTestCustody(t, "sol", nil)
	virt := newTestCustody(t, "gold", func(p *state.CustodyParams) { p.IsVirtual = true })

	tests := []struct {
		name    string
		custody *state.Custody
		side    state.Side
		want    uint64
	}{
		{"long real asset owes its size", sol, state.SideLong, 3_000},
		{"short owes size in collateral", sol, state.SideShort, 2_000_000},
		{"virtual long owes size in collateral", virt, state.SideLong, 2_000_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.custody.GetLockedAmount(tt.side, 3_000, 2_000_000, price, usdc)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCustody_SizeInCollateral(t *testing.T) {
	price := fpmath.NewPrice(1_000_000)
	usdc := newTestCustody(t, "usdc", func(p *state.CustodyParams) { p.IsStable = true })
	sol := newTestCustody(t, "sol", nil)
	eth := newTestCustody(t, "eth", func(p *state.CustodyParams) { p.Decimals = 9 })

	tests := []struct {
		name       string
		custody    *state.Custody
		collateral *state.Custody
		size       uint64
		sizeUSD    uint64
		want       uint64
	}{
		{"own collateral keeps native size", sol, sol, 3_000, 2_000_000, 3_000},
		{"stable collateral takes the usd size", sol, usdc, 3_000, 2_000_000, 2_000_000},
		{"nine decimal asset against six decimal collateral", eth, usdc, 1_000_000_000, 1_000_000, 1_000_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.custody.SizeInCollateral(tt.size, tt.sizeUSD, price, tt.collateral)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

// ============================================================================
// Test: Borrow rate
// ============================================================================

func TestCustody_UpdateBorrowRate(t *testing.T) {
	c := newTestCustody(t, "sol", func(p *state.CustodyParams) {
		p.BorrowCurve = state.BorrowRateParams{
			BaseRate:           10_000,
			Slope1:             80_000,
			Slope2:             120_000,
			OptimalUtilization: 800_000_000,
		}
	})
	c.Assets.Owned = 1_000
	c.Assets.Locked = 400

	if err := c.UpdateBorrowRate(3_600); err != nil {
		t.Fatalf("UpdateBorrowRate: %v", err)
	}
	// one hour at the base rate
	if c.BorrowRate.CumulativeInterest != 10_000 {
		t.Errorf("cumulative: got %d, want 10000", c.BorrowRate.CumulativeInterest)
	}
	// 40% utilization: base + half of slope1
	if c.BorrowRate.CurrentRate != 50_000 {
		t.Errorf("rate: got %d, want 50000", c.BorrowRate.CurrentRate)
	}
	if c.BorrowRate.LastUpdate != 3_600 {
		t.Errorf("last update: got %d, want 3600", c.BorrowRate.LastUpdate)
	}
}

func TestCustody_CumulativeInterestMonotonic(t *testing.T) {
	c := newTestCustody(t, "sol", func(p *state.CustodyParams) {
		p.BorrowCurve.BaseRate = 1_000
	})
	c.Assets.Owned = 1

	var last uint64
	for _, now := range []int64{10, 10, 500, 7_200, 7_199} {
		if err := c.UpdateBorrowRate(now); err != nil {
			t.Fatalf("UpdateBorrowRate(%d): %v", now, err)
		}
		if c.BorrowRate.CumulativeInterest < last {
			t.Fatalf("accumulator decreased at %d: %d < %d", now, c.BorrowRate.CumulativeInterest, last)
		}
		last = c.BorrowRate.CumulativeInterest
	}
}

func TestCustody_GetInterestAmountUSD(t *testing.T) {
	c := newTestCustody(t, "usdc", nil)
	c.BorrowRate.CurrentRate = 1_000_000 // 0.1% per hour

	p := &state.Position{SizeUSD: 1_000_000}
	got, err := c.GetInterestAmountUSD(p, 3_600)
	if err != nil {
		t.Fatal(err)
	}
	if got != 1_000 {
		t.Errorf("got %d, want 1000", got)
	}
}

// ============================================================================
// Test: Position aggregates
// ============================================================================

func TestCustody_AddPositionDualWrite(t *testing.T) {
	traded := newTestCustody(t, "sol", nil)
	collateral := newTestCustody(t, "usdc", func(p *state.CustodyParams) { p.IsStable = true })

	p := &state.Position{
		Side:          state.SideShort,
		SizeUSD:       500,
		CollateralUSD: 50,
		LockedAmount:  500,
	}
	if err := traded.AddPosition(p, collateral); err != nil {
		t.Fatalf("AddPosition: %v", err)
	}

	if traded.ShortPositions.OpenPositions != 1 || traded.ShortPositions.SizeUSD != 500 {
		t.Errorf("traded stats: got %+v", traded.ShortPositions)
	}
	if traded.ShortPositions.LockedAmount != 0 {
		t.Errorf("traded locked: got %d, want 0", traded.ShortPositions.LockedAmount)
	}
	if collateral.ShortPositions.LockedAmount != 500 {
		t.Errorf("collateral locked: got %d, want 500", collateral.ShortPositions.LockedAmount)
	}

	if err := traded.RemovePosition(p, collateral); err != nil {
		t.Fatalf("RemovePosition: %v", err)
	}
	if traded.ShortPositions != (state.PositionStats{}) || collateral.ShortPositions != (state.PositionStats{}) {
		t.Errorf("stats not restored: traded %+v collateral %+v", traded.ShortPositions, collateral.ShortPositions)
	}
}

func TestCustody_RemoveUnknownPositionFails(t *testing.T) {
	c := newTestCustody(t, "sol", nil)
	p := &state.Position{Side: state.SideLong, SizeUSD: 1, LockedAmount: 1}

	if err := c.RemovePosition(p, c); !errors.Is(err, state.ErrUnderflow) {
		t.Errorf("got %v, want ErrUnderflow", err)
	}
	if c.LongPositions != (state.PositionStats{}) {
		t.Errorf("failed remove mutated stats: %+v", c.LongPositions)
	}
}

// ============================================================================
// Test: Config
// ============================================================================

func TestCustody_ApplyConfigRejectsInvalid(t *testing.T) {
	c := newTestCustody(t, "sol", nil)
	cfg := c.Config()
	cfg.Pricing.MaxLeverage = cfg.Pricing.MaxInitialLeverage - 1

	err := c.ApplyConfig(cfg, 10)
	if !errors.Is(err, state.ErrInvalidParams) {
		t.Fatalf("got %v, want ErrInvalidParams", err)
	}
	if c.Pricing.MaxLeverage != 100_000 {
		t.Errorf("rejected config applied: max leverage %d", c.Pricing.MaxLeverage)
	}
}

func TestCustody_ApplyConfigAccruesAtOldRate(t *testing.T) {
	c := newTestCustody(t, "sol", func(p *state.CustodyParams) { p.BorrowCurve.BaseRate = 1_000 })
	c.Assets.Owned = 1

	cfg := c.Config()
	cfg.BorrowCurve.BaseRate = 9_000
	if err := c.ApplyConfig(cfg, 3_600); err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}
	if c.BorrowRate.CumulativeInterest != 1_000 {
		t.Errorf("cumulative: got %d, want 1000", c.BorrowRate.CumulativeInterest)
	}
	if c.BorrowRate.CurrentRate != 9_000 {
		t.Errorf("rate: got %d, want 9000", c.BorrowRate.CurrentRate)
	}
}
