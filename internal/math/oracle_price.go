package math

import (
	"fmt"
	"math/big"
)

// OraclePrice is a scaled integer price: Price * 10^Exponent USD per token.
type OraclePrice struct {
	Price    uint64 `json:"price"`
	Exponent int32  `json:"exponent"`
}

// NewPrice builds a price expressed with PriceDecimals.
func NewPrice(price uint64) OraclePrice {
	return OraclePrice{Price: price, Exponent: -PriceDecimals}
}

func (p OraclePrice) String() string {
	return fmt.Sprintf("%de%d", p.Price, p.Exponent)
}

// IsZero reports whether the price carries no value.
func (p OraclePrice) IsZero() bool {
	return p.Price == 0
}

// Cmp compares two prices that may have different exponents.
func (p OraclePrice) Cmp(other OraclePrice) int {
	if p.Exponent == other.Exponent {
		switch {
		case p.Price < other.Price:
			return -1
		case p.Price > other.Price:
			return 1
		}
		return 0
	}
	lhs := new(big.Int).SetUint64(p.Price)
	rhs := new(big.Int).SetUint64(other.Price)
	if p.Exponent > other.Exponent {
		lhs.Mul(lhs, pow10Wide(p.Exponent-other.Exponent))
	} else {
		rhs.Mul(rhs, pow10Wide(other.Exponent-p.Exponent))
	}
	return lhs.Cmp(rhs)
}

// MaxPrice returns the higher of two observations.
func MaxPrice(a, b OraclePrice) OraclePrice {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// MinPrice returns the lower of two observations.
func MinPrice(a, b OraclePrice) OraclePrice {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// GetMinPrice returns the lower of p and other. Stable assets are never
// valued above one USD.
func (p OraclePrice) GetMinPrice(other OraclePrice, isStable bool) (OraclePrice, error) {
	minPrice := MinPrice(p, other)
	if !isStable {
		return minPrice, nil
	}
	if minPrice.Exponent > 0 {
		if minPrice.Price == 0 {
			return minPrice, nil
		}
		return OraclePrice{Price: 1, Exponent: 0}, nil
	}
	oneUSD, err := CheckedPow10(uint32(-minPrice.Exponent))
	if err != nil {
		return OraclePrice{}, err
	}
	if minPrice.Price > oneUSD {
		return OraclePrice{Price: oneUSD, Exponent: minPrice.Exponent}, nil
	}
	return minPrice, nil
}

// AssetAmountToUSD values a token-native amount in USD (USDDecimals).
func (p OraclePrice) AssetAmountToUSD(amount uint64, decimals uint8) (uint64, error) {
	if amount == 0 || p.Price == 0 {
		return 0, nil
	}
	return CheckedDecimalMul(amount, -int32(decimals), p.Price, p.Exponent, -USDDecimals)
}

// USDToAssetAmount converts a USD value into token-native units.
func (p OraclePrice) USDToAssetAmount(usd uint64, decimals uint8) (uint64, error) {
	return CheckedDecimalDiv(usd, -USDDecimals, p.Price, p.Exponent, -int32(decimals))
}

// ScaleToExponent re-expresses the price with the target exponent, truncating
// when precision is dropped.
func (p OraclePrice) ScaleToExponent(target int32) (OraclePrice, error) {
	if target == p.Exponent {
		return p, nil
	}
	delta := target - p.Exponent
	if delta > 0 {
		div, err := CheckedPow10(uint32(delta))
		if err != nil {
			return OraclePrice{}, err
		}
		return OraclePrice{Price: p.Price / div, Exponent: target}, nil
	}
	mul, err := CheckedPow10(uint32(-delta))
	if err != nil {
		return OraclePrice{}, err
	}
	scaled, err := CheckedMul(p.Price, mul)
	if err != nil {
		return OraclePrice{}, err
	}
	return OraclePrice{Price: scaled, Exponent: target}, nil
}
