// Package money converts between decimal major-unit amounts used by external
// systems and the int64 minor units used for all ledger arithmetic.
package money

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Scale is the number of minor-unit digits per major unit (kobo, cents).
const Scale = 2

var (
	ErrPrecision = errors.New("amount has more decimal places than the currency allows")
	ErrOverflow  = errors.New("amount out of range")
	ErrNegative  = errors.New("amount must not be negative")

	maxMinor = decimal.NewFromInt(math.MaxInt64)
)

// ToMinor converts a major-unit decimal (e.g. 2500.50) into minor units (250050).
func ToMinor(d decimal.Decimal) (int64, error) {
	if d.IsNegative() {
		return 0, ErrNegative
	}
	shifted := d.Shift(Scale)
	if !shifted.IsInteger() {
		return 0, ErrPrecision
	}
	if shifted.GreaterThan(maxMinor) {
		return 0, ErrOverflow
	}
	return shifted.IntPart(), nil
}

// ParseMinor parses a major-unit decimal string into minor units.
func ParseMinor(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return ToMinor(d)
}

// FromMinor converts minor units back to a major-unit decimal.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -Scale)
}

// Format renders minor units as a fixed two-place major-unit string.
func Format(minor int64) string {
	return FromMinor(minor).StringFixed(Scale)
}
