package math

import (
	"errors"
	"math/big"
	"sync"
)

// Decimal places used throughout the engine.
const (
	BPSDecimals   = 4
	PriceDecimals = 6
	USDDecimals   = 6
	LPDecimals    = 6
	RateDecimals  = 9

	BPSPower  uint64 = 10_000
	RatePower uint64 = 1_000_000_000
)

var (
	ErrOverflow       = errors.New("math overflow")
	ErrUnderflow      = errors.New("math underflow")
	ErrDivisionByZero = errors.New("division by zero")
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int    // Number of decimal places
	Scale            uint64 // 10^DecimalPrecision
}

var (
	USDConfig   = DecimalConfig{DecimalPrecision: USDDecimals, Scale: 1_000_000}
	PriceConfig = DecimalConfig{DecimalPrecision: PriceDecimals, Scale: 1_000_000}
	RateConfig  = DecimalConfig{DecimalPrecision: RateDecimals, Scale: RatePower}
	BPSConfig   = DecimalConfig{DecimalPrecision: BPSDecimals, Scale: BPSPower}
)

// Wide intermediates come from a pool so hot paths don't allocate per call.
var wideIntPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getWide() *big.Int {
	return wideIntPool.Get().(*big.Int)
}

func putWide(v *big.Int) {
	v.SetInt64(0)
	wideIntPool.Put(v)
}

var maxUint64 = new(big.Int).SetUint64(^uint64(0))

// RoundingMode selects how a wide quotient is reduced
type RoundingMode int

const (
	RoundDown RoundingMode = iota
	RoundUp
	RoundHalfEven
)

// MulDiv computes a * b / denom with the given rounding, failing if the
// result does not fit in a uint64.
func MulDiv(a, b, denom uint64, mode RoundingMode) (uint64, error) {
	if denom == 0 {
		return 0, ErrDivisionByZero
	}
	num := getWide()
	defer putWide(num)
	num.SetUint64(a)
	num.Mul(num, new(big.Int).SetUint64(b))

	d := getWide()
	defer putWide(d)
	d.SetUint64(denom)

	return divideWide(num, d, mode)
}

// divideWide performs num / denom with rounding. Both operands are non-negative.
func divideWide(num, denom *big.Int, mode RoundingMode) (uint64, error) {
	if denom.Sign() == 0 {
		return 0, ErrDivisionByZero
	}
	quotient := getWide()
	remainder := getWide()
	defer putWide(quotient)
	defer putWide(remainder)

	quotient.QuoRem(num, denom, remainder)

	if remainder.Sign() != 0 {
		switch mode {
		case RoundUp:
			quotient.Add(quotient, big.NewInt(1))
		case RoundHalfEven:
			twice := new(big.Int).Lsh(remainder, 1)
			cmp := twice.Cmp(denom)
			if cmp > 0 || (cmp == 0 && quotient.Bit(0) == 1) {
				quotient.Add(quotient, big.NewInt(1))
			}
		}
	}

	if quotient.Cmp(maxUint64) > 0 {
		return 0, ErrOverflow
	}
	return quotient.Uint64(), nil
}

// pow10Wide returns 10^exp as a big.Int. exp must be non-negative.
func pow10Wide(exp int32) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}

// CheckedDecimalMul multiplies two decimal numbers (coef * 10^exp) and
// expresses the product with targetExp, truncating.
func CheckedDecimalMul(coef1 uint64, exp1 int32, coef2 uint64, exp2 int32, targetExp int32) (uint64, error) {
	return decimalMul(coef1, exp1, coef2, exp2, targetExp, RoundDown)
}

// CheckedDecimalCeilMul is CheckedDecimalMul rounding up.
func CheckedDecimalCeilMul(coef1 uint64, exp1 int32, coef2 uint64, exp2 int32, targetExp int32) (uint64, error) {
	return decimalMul(coef1, exp1, coef2, exp2, targetExp, RoundUp)
}

func decimalMul(coef1 uint64, exp1 int32, coef2 uint64, exp2 int32, targetExp int32, mode RoundingMode) (uint64, error) {
	if coef1 == 0 || coef2 == 0 {
		return 0, nil
	}
	num := getWide()
	defer putWide(num)
	num.SetUint64(coef1)
	num.Mul(num, new(big.Int).SetUint64(coef2))

	shift := exp1 + exp2 - targetExp
	denom := big.NewInt(1)
	if shift >= 0 {
		num.Mul(num, pow10Wide(shift))
	} else {
		denom = pow10Wide(-shift)
	}
	return divideWide(num, denom, mode)
}

// CheckedDecimalDiv divides coef1*10^exp1 by coef2*10^exp2 and expresses the
// quotient with targetExp, truncating.
func CheckedDecimalDiv(coef1 uint64, exp1 int32, coef2 uint64, exp2 int32, targetExp int32) (uint64, error) {
	if coef2 == 0 {
		return 0, ErrDivisionByZero
	}
	if coef1 == 0 {
		return 0, nil
	}
	num := getWide()
	defer putWide(num)
	num.SetUint64(coef1)

	denom := getWide()
	defer putWide(denom)
	denom.SetUint64(coef2)

	shift := exp1 - exp2 - targetExp
	if shift >= 0 {
		num.Mul(num, pow10Wide(shift))
	} else {
		denom.Mul(denom, pow10Wide(-shift))
	}
	return divideWide(num, denom, RoundDown)
}

// GetFeeAmount returns the basis-point share of amount, rounded down so the
// recipient never receives more than its configured share.
func GetFeeAmount(feeBps uint64, amount uint64) (uint64, error) {
	if feeBps == 0 || amount == 0 {
		return 0, nil
	}
	return MulDiv(amount, feeBps, BPSPower, RoundDown)
}
