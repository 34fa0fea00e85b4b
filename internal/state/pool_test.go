package state_test

import (
	fpmath "PerpEngine/internal/math"
	"PerpEngine/internal/state"
	"errors"
	"testing"
)

func flatPrices(price uint64) state.Prices {
	p := fpmath.NewPrice(price)
	return state.Prices{Spot: p, EMA: p}
}

func testPool() *state.Pool {
	return &state.Pool{ID: "main", Name: "main", Custodies: []string{"sol", "usdc"}}
}

// scenarioLong is a 10x long opened at 1.0 on a 6-decimal asset.
func scenarioLong() *state.Position {
	return &state.Position{
		Custody:           "sol",
		CollateralCustody: "sol",
		Side:              state.SideLong,
		OpenTime:          1_000,
		UpdateTime:        1_000,
		Price:             1_000_000,
		SizeUSD:           1_000_000,
		CollateralUSD:     100_000,
		LockedAmount:      1_000_000,
		CollateralAmount:  100_000,
		Status:            state.PositionStatusOpen,
	}
}

// ============================================================================
// Test: Entry / exit pricing
// ============================================================================

func TestPool_EntryPriceSpread(t *testing.T) {
	pool := testPool()
	c := newTestCustody(t, "sol", func(p *state.CustodyParams) {
		p.Pricing.TradeSpreadLong = 10
		p.Pricing.TradeSpreadShort = 10
	})
	prices := state.Prices{Spot: fpmath.NewPrice(1_000_000), EMA: fpmath.NewPrice(1_010_000)}

	long, err := pool.GetEntryPrice(prices, state.SideLong, c)
	if err != nil {
		t.Fatal(err)
	}
	if long != 1_011_010 {
		t.Errorf("long entry: got %d, want 1011010", long)
	}

	short, err := pool.GetEntryPrice(prices, state.SideShort, c)
	if err != nil {
		t.Fatal(err)
	}
	if short != 999_000 {
		t.Errorf("short entry: got %d, want 999000", short)
	}

	exit, err := pool.GetExitPrice(prices, state.SideLong, c)
	if err != nil {
		t.Fatal(err)
	}
	if exit != 999_000 {
		t.Errorf("long exit: got %d, want 999000", exit)
	}
}

func TestPool_EntryPriceLongRoundsUp(t *testing.T) {
	pool := testPool()
	c := newTestCustody(t, "sol", func(p *state.CustodyParams) { p.Pricing.TradeSpreadLong = 1 })

	// 0.000333 * 0.0001 rounds up to one unit
	got, err := pool.GetEntryPrice(flatPrices(333), state.SideLong, c)
	if err != nil {
		t.Fatal(err)
	}
	if got != 334 {
		t.Errorf("got %d, want 334", got)
	}
}

func TestPool_ZeroEntryPriceRejected(t *testing.T) {
	pool := testPool()
	c := newTestCustody(t, "sol", nil)

	_, err := pool.GetEntryPrice(flatPrices(0), state.SideShort, c)
	if !errors.Is(err, state.ErrMaxPriceSlippage) {
		t.Errorf("got %v, want ErrMaxPriceSlippage", err)
	}
}

// ============================================================================
// Test: Fees
// ============================================================================

func TestPool_EntryFeeUsesLargerBase(t *testing.T) {
	pool := testPool()

	fee, err := pool.GetEntryFee(10, 1_000, 5_000_000)
	if err != nil {
		t.Fatal(err)
	}
	if fee != 5_000 {
		t.Errorf("got %d, want 5000", fee)
	}
}

// ============================================================================
// Test: PnL and leverage
// ============================================================================

func TestPool_ScenarioTenXLong(t *testing.T) {
	pool := testPool()
	c := newTestCustody(t, "sol", nil)
	c.Assets.Owned = 10_000_000
	prices := flatPrices(1_000_000)
	p := scenarioLong()

	leverage, err := pool.GetLeverage(p, prices, c, prices, c, p.OpenTime)
	if err != nil {
		t.Fatal(err)
	}
	if leverage != 100_000 {
		t.Errorf("leverage: got %d, want 100000", leverage)
	}

	ok, err := pool.CheckLeverage(p, prices, c, prices, c, p.OpenTime, true)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("10x long should pass a 10x cap")
	}

	amounts, err := pool.GetCloseAmount(p, prices, c, prices, c, p.OpenTime, false)
	if err != nil {
		t.Fatal(err)
	}
	if amounts.ProfitUSD != 0 || amounts.LossUSD != 0 {
		t.Errorf("pnl: got +%d/-%d, want 0/0", amounts.ProfitUSD, amounts.LossUSD)
	}
	if amounts.FeeAmount != 1_000 {
		t.Errorf("fee: got %d, want 1000", amounts.FeeAmount)
	}
	if amounts.TransferAmount != p.CollateralAmount-amounts.FeeAmount {
		t.Errorf("transfer: got %d, want %d", amounts.TransferAmount, p.CollateralAmount-amounts.FeeAmount)
	}
}

func TestPool_CheckLeverageBreach(t *testing.T) {
	pool := testPool()
	c := newTestCustody(t, "sol", nil)
	prices := flatPrices(1_000_000)
	p := scenarioLong()
	p.CollateralUSD = 99_999

	ok, err := pool.CheckLeverage(p, prices, c, prices, c, p.OpenTime, true)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("leverage just above the cap should fail")
	}
}

func TestPool_CheckLeverageInitialFloor(t *testing.T) {
	pool := testPool()
	c := newTestCustody(t, "sol", func(p *state.CustodyParams) { p.Pricing.MinInitialLeverage = 20_000 })
	prices := flatPrices(1_000_000)
	p := scenarioLong()
	p.CollateralUSD = 1_000_000 // 1x

	ok, _ := pool.CheckLeverage(p, prices, c, prices, c, p.OpenTime, true)
	if ok {
		t.Error("opening below min initial leverage should fail")
	}
	ok, _ = pool.CheckLeverage(p, prices, c, prices, c, p.OpenTime, false)
	if !ok {
		t.Error("maintenance check ignores the initial floor")
	}
}

func TestPool_ProfitCappedByLocked(t *testing.T) {
	pool := testPool()
	c := newTestCustody(t, "sol", nil)
	p := scenarioLong()
	p.LockedAmount = 200_000
	doubled := flatPrices(2_000_000)

	profit, loss, err := pool.GetPnLUSD(p, doubled, c, doubled, c, p.OpenTime+1)
	if err != nil {
		t.Fatal(err)
	}
	// uncapped profit is 1.0 USD; locked 0.2 tokens at 2.0 caps it at 0.4
	if profit != 400_000 || loss != 0 {
		t.Errorf("got +%d/-%d, want +400000/-0", profit, loss)
	}

	profit, _, err = pool.GetPnLUSD(p, doubled, c, doubled, c, p.OpenTime)
	if err != nil {
		t.Fatal(err)
	}
	if profit != 0 {
		t.Errorf("profit in the opening second: got %d, want 0", profit)
	}
}

func TestPool_InterestCountsAsLoss(t *testing.T) {
	pool := testPool()
	c := newTestCustody(t, "sol", nil)
	c.BorrowRate.CurrentRate = 1_000_000
	prices := flatPrices(1_000_000)
	p := scenarioLong()
	p.OpenTime = 0

	profit, loss, err := pool.GetPnLUSD(p, prices, c, prices, c, 3_600)
	if err != nil {
		t.Fatal(err)
	}
	if profit != 0 || loss != 1_000 {
		t.Errorf("got +%d/-%d, want +0/-1000", profit, loss)
	}
}

func TestPool_CloseAmountFloorsAtZero(t *testing.T) {
	pool := testPool()
	c := newTestCustody(t, "sol", nil)
	p := scenarioLong()
	crashed := flatPrices(800_000)

	amounts, err := pool.GetCloseAmount(p, crashed, c, crashed, c, p.OpenTime+1, true)
	if err != nil {
		t.Fatal(err)
	}
	if amounts.TransferAmount != 0 || amounts.FeeAmount != 0 {
		t.Errorf("got transfer %d fee %d, want 0/0", amounts.TransferAmount, amounts.FeeAmount)
	}
	if amounts.LossUSD != 200_000 {
		t.Errorf("loss: got %d, want 200000", amounts.LossUSD)
	}
}

// ============================================================================
// Test: Solvency and swaps
// ============================================================================

func TestPool_CheckAvailableAmount(t *testing.T) {
	pool := testPool()
	c := newTestCustody(t, "sol", nil)
	c.Assets.Owned = 1_000
	c.Assets.Locked = 600

	if !pool.CheckAvailableAmount(400, c) {
		t.Error("400 of 400 available should pass")
	}
	if pool.CheckAvailableAmount(401, c) {
		t.Error("401 of 400 available should fail")
	}
}

func TestPool_GetSwapAmount(t *testing.T) {
	pool := testPool()
	sol := newTestCustody(t, "sol", func(p *state.CustodyParams) { p.Decimals = 9 })
	usdc := newTestCustody(t, "usdc", func(p *state.CustodyParams) { p.IsStable = true })
	solPrices := state.Prices{Spot: fpmath.NewPrice(20_000_000), EMA: fpmath.NewPrice(21_000_000)}

	// 0.5 SOL at the lower observation of 20 USD is 10 USDC
	got, err := pool.GetSwapAmount(500_000_000, solPrices, sol, flatPrices(1_000_000), usdc)
	if err != nil {
		t.Fatal(err)
	}
	if got != 10_000_000 {
		t.Errorf("got %d, want 10000000", got)
	}
}
