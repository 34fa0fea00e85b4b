package math_test

import (
	fpmath "PerpEngine/internal/math"
	"errors"
	"testing"
)

// ============================================================================
// Test: Checked arithmetic
// ============================================================================

func TestCheckedAdd_Overflow(t *testing.T) {
	_, err := fpmath.CheckedAdd(^uint64(0), 1)
	if !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("got %v, want ErrOverflow", err)
	}
}

func TestCheckedSub_Underflow(t *testing.T) {
	_, err := fpmath.CheckedSub(5, 6)
	if !errors.Is(err, fpmath.ErrUnderflow) {
		t.Errorf("got %v, want ErrUnderflow", err)
	}
}

func TestCheckedMul_Overflow(t *testing.T) {
	_, err := fpmath.CheckedMul(1<<40, 1<<40)
	if !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("got %v, want ErrOverflow", err)
	}
	v, err := fpmath.CheckedMul(1<<20, 1<<20)
	if err != nil || v != 1<<40 {
		t.Errorf("got (%d, %v), want (%d, nil)", v, err, uint64(1<<40))
	}
}

func TestWrappingAdd_Wraps(t *testing.T) {
	got := fpmath.WrappingAdd(^uint64(0), 2)
	if got != 1 {
		t.Errorf("got %d, want 1", got)
	}
}

func TestMulDiv_Rounding(t *testing.T) {
	tests := []struct {
		name string
		mode fpmath.RoundingMode
		want uint64
	}{
		{"down", fpmath.RoundDown, 3},
		{"up", fpmath.RoundUp, 4},
		{"half-even", fpmath.RoundHalfEven, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// 10 * 1 / 3 = 3.33
			got, err := fpmath.MulDiv(10, 1, 3, tt.mode)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMulDiv_WideIntermediate(t *testing.T) {
	// product exceeds uint64 but quotient fits
	got, err := fpmath.MulDiv(1<<62, 8, 16, fpmath.RoundDown)
	if err != nil {
		t.Fatal(err)
	}
	if got != 1<<61 {
		t.Errorf("got %d, want %d", got, uint64(1<<61))
	}
}

func TestMulDiv_QuotientOverflow(t *testing.T) {
	_, err := fpmath.MulDiv(^uint64(0), 2, 1, fpmath.RoundDown)
	if !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("got %v, want ErrOverflow", err)
	}
}

// ============================================================================
// Test: Decimal conversions
// ============================================================================

func TestCheckedDecimalMul(t *testing.T) {
	// 2.5 (25e-1) * 4 (4e0) = 10.000000 at exponent -6
	got, err := fpmath.CheckedDecimalMul(25, -1, 4, 0, -6)
	if err != nil {
		t.Fatal(err)
	}
	if got != 10_000_000 {
		t.Errorf("got %d, want %d", got, 10_000_000)
	}
}

func TestCheckedDecimalCeilMul(t *testing.T) {
	// 1.000001 * 0.0001 at exponent -6 = 0.0001000001 -> ceil 101
	got, err := fpmath.CheckedDecimalCeilMul(1_000_001, -6, 1, -4, -6)
	if err != nil {
		t.Fatal(err)
	}
	if got != 101 {
		t.Errorf("got %d, want 101", got)
	}
}

func TestCheckedDecimalDiv(t *testing.T) {
	// 100 USD / 20 USD-per-token = 5 tokens at 9 decimals
	got, err := fpmath.CheckedDecimalDiv(100_000_000, -6, 20_000_000, -6, -9)
	if err != nil {
		t.Fatal(err)
	}
	if got != 5_000_000_000 {
		t.Errorf("got %d, want %d", got, uint64(5_000_000_000))
	}
}

func TestCheckedDecimalDiv_ZeroDivisor(t *testing.T) {
	_, err := fpmath.CheckedDecimalDiv(1, 0, 0, 0, 0)
	if !errors.Is(err, fpmath.ErrDivisionByZero) {
		t.Errorf("got %v, want ErrDivisionByZero", err)
	}
}

func TestGetFeeAmount_RoundsDown(t *testing.T) {
	// 0.1% of 1999 = 1.999 -> 1
	got, err := fpmath.GetFeeAmount(10, 1999)
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Errorf("got %d, want 1", got)
	}
}

// ============================================================================
// Test: OraclePrice
// ============================================================================

func TestOraclePrice_AssetAmountToUSD(t *testing.T) {
	// 1.5 tokens (9 decimals) at 20 USD = 30 USD
	price := fpmath.NewPrice(20_000_000)
	got, err := price.AssetAmountToUSD(1_500_000_000, 9)
	if err != nil {
		t.Fatal(err)
	}
	if got != 30_000_000 {
		t.Errorf("got %d, want %d", got, 30_000_000)
	}
}

func TestOraclePrice_RoundTripUSD(t *testing.T) {
	price := fpmath.OraclePrice{Price: 2_500_000_000, Exponent: -8} // 25 USD
	usd, err := price.AssetAmountToUSD(4_000_000, 6)
	if err != nil {
		t.Fatal(err)
	}
	if usd != 100_000_000 {
		t.Fatalf("got %d, want %d", usd, 100_000_000)
	}
	amount, err := price.USDToAssetAmount(usd, 6)
	if err != nil {
		t.Fatal(err)
	}
	if amount != 4_000_000 {
		t.Errorf("got %d, want %d", amount, 4_000_000)
	}
}

func TestOraclePrice_CmpAcrossExponents(t *testing.T) {
	a := fpmath.OraclePrice{Price: 1_000_000, Exponent: -6}
	b := fpmath.OraclePrice{Price: 100_000_000, Exponent: -8}
	if a.Cmp(b) != 0 {
		t.Errorf("1.000000 and 1.00000000 should compare equal")
	}
	c := fpmath.OraclePrice{Price: 100_000_001, Exponent: -8}
	if a.Cmp(c) != -1 {
		t.Errorf("expected a < c")
	}
	if fpmath.MaxPrice(a, c) != c || fpmath.MinPrice(a, c) != a {
		t.Errorf("min/max selected the wrong observation")
	}
}

func TestOraclePrice_GetMinPriceStableCapped(t *testing.T) {
	spot := fpmath.NewPrice(1_020_000)
	ema := fpmath.NewPrice(1_010_000)
	got, err := spot.GetMinPrice(ema, true)
	if err != nil {
		t.Fatal(err)
	}
	if got.Price != 1_000_000 {
		t.Errorf("stable price should cap at 1 USD, got %d", got.Price)
	}

	got, err = spot.GetMinPrice(ema, false)
	if err != nil {
		t.Fatal(err)
	}
	if got.Price != 1_010_000 {
		t.Errorf("got %d, want %d", got.Price, 1_010_000)
	}
}

func TestOraclePrice_ScaleToExponent(t *testing.T) {
	p := fpmath.OraclePrice{Price: 123_456_789, Exponent: -8}
	got, err := p.ScaleToExponent(-6)
	if err != nil {
		t.Fatal(err)
	}
	if got.Price != 1_234_567 || got.Exponent != -6 {
		t.Errorf("got %v, want 1234567e-6", got)
	}
}

// ============================================================================
// Test: Interest
// ============================================================================

func TestAccrueCumulativeInterest(t *testing.T) {
	// 0.01% per hour (100_000 at 9 decimals) over 2 hours
	got, err := fpmath.AccrueCumulativeInterest(5, 100_000, 7200)
	if err != nil {
		t.Fatal(err)
	}
	if got != 200_005 {
		t.Errorf("got %d, want %d", got, 200_005)
	}

	same, _ := fpmath.AccrueCumulativeInterest(5, 100_000, -10)
	if same != 5 {
		t.Errorf("negative elapsed time must not change the accumulator, got %d", same)
	}
}

func TestComputeInterestUSD(t *testing.T) {
	// 1% accrued on 1000 USD
	got, err := fpmath.ComputeInterestUSD(20_000_000, 10_000_000, 1_000_000_000)
	if err != nil {
		t.Fatal(err)
	}
	if got != 10_000_000 {
		t.Errorf("got %d, want %d", got, 10_000_000)
	}
}

func TestComputeBorrowRate_Curve(t *testing.T) {
	const (
		base    = 10_000
		slope1  = 100_000
		slope2  = 1_000_000
		optimal = 800_000_000 // 80%
	)
	low, _ := fpmath.ComputeBorrowRate(400_000_000, base, slope1, slope2, optimal)
	if low != base+slope1/2 {
		t.Errorf("got %d, want %d", low, base+slope1/2)
	}
	atOpt, _ := fpmath.ComputeBorrowRate(optimal, base, slope1, slope2, optimal)
	if atOpt != base+slope1 {
		t.Errorf("got %d, want %d", atOpt, base+slope1)
	}
	full, _ := fpmath.ComputeBorrowRate(fpmath.RatePower, base, slope1, slope2, optimal)
	if full != base+slope1+slope2 {
		t.Errorf("got %d, want %d", full, base+slope1+slope2)
	}
}
