package math

import "math/bits"

// CheckedAdd returns a + b or ErrOverflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// CheckedSub returns a - b or ErrUnderflow.
func CheckedSub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrUnderflow
	}
	return diff, nil
}

// CheckedMul returns a * b or ErrOverflow.
func CheckedMul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

// CheckedDiv returns a / b, truncated.
func CheckedDiv(a, b uint64) (uint64, error) {
	if b == 0 {
		return 0, ErrDivisionByZero
	}
	return a / b, nil
}

// CheckedPow10 returns 10^exp or ErrOverflow.
func CheckedPow10(exp uint32) (uint64, error) {
	result := uint64(1)
	for i := uint32(0); i < exp; i++ {
		next, err := CheckedMul(result, 10)
		if err != nil {
			return 0, err
		}
		result = next
	}
	return result, nil
}

// WrappingAdd is reserved for lifetime statistics counters. Balances must
// never use it.
func WrappingAdd(a, b uint64) uint64 {
	return a + b
}

// SaturatingSub returns a - b, or zero when b > a.
func SaturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

func Min(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func Max(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
