// Package amount holds helpers for token amounts.
//
// Amounts are unsigned 256-bit integers of base units. Human-facing
// strings ("12.5") are converted with a fixed number of decimals.
package amount

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// DefaultDecimals matches the 1e18 base-unit convention.
const DefaultDecimals int32 = 18

func Zero() *uint256.Int { return new(uint256.Int) }

// Of returns a copy of a, or zero when a is nil.
func Of(a *uint256.Int) *uint256.Int {
	if a == nil {
		return new(uint256.Int)
	}
	return a.Clone()
}

// Units returns n whole tokens expressed in base units.
func Units(n uint64, decimals int32) *uint256.Int {
	scale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))
	return new(uint256.Int).Mul(uint256.NewInt(n), scale)
}

// Parse converts a decimal token string into base units.
func Parse(s string, decimals int32) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("parse amount %q: negative", s)
	}
	shifted := d.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("parse amount %q: more than %d decimals", s, decimals)
	}
	v, overflow := uint256.FromBig(shifted.BigInt())
	if overflow {
		return nil, fmt.Errorf("parse amount %q: overflows 256 bits", s)
	}
	return v, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string, decimals int32) *uint256.Int {
	v, err := Parse(s, decimals)
	if err != nil {
		panic(err)
	}
	return v
}

// Format renders base units as a decimal token string.
func Format(a *uint256.Int, decimals int32) string {
	if a == nil {
		return "0"
	}
	return decimal.NewFromBigInt(a.ToBig(), -decimals).String()
}

// Min returns a copy of the smaller of a and b.
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}

// Max returns a copy of the larger of a and b.
func Max(a, b *uint256.Int) *uint256.Int {
	if a.Gt(b) {
		return a.Clone()
	}
	return b.Clone()
}

// SubFloor returns a-b, or zero when b > a.
func SubFloor(a, b *uint256.Int) *uint256.Int {
	if b.Gt(a) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(a, b)
}
