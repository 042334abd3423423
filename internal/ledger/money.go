package ledger

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	hundred  = decimal.NewFromInt(100)
	maxCents = decimal.NewFromInt(math.MaxInt64)
)

// ParseAmount parses a decimal money string such as "50" or "50.00".
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return d, nil
}

// ToCents converts a positive amount to integer cents.
func ToCents(amount decimal.Decimal) (int64, error) {
	// Reject out-of-range scales before Mul, Cmp or String can expand
	// an exponent such as 1e200000000 into a huge integer.
	if digits, exp := significand(amount); digits != "" {
		if exp < -2 {
			return 0, fmt.Errorf("%w: more than two decimal places", ErrInvalidAmount)
		}
		if int64(len(digits))+exp > 17 {
			return 0, fmt.Errorf("%w: amount is too large", ErrInvalidAmount)
		}
	}
	if !amount.IsPositive() {
		return 0, fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, amount)
	}
	cents := amount.Mul(hundred)
	if !cents.IsInteger() {
		return 0, fmt.Errorf("%w: %s has more than two decimal places", ErrInvalidAmount, amount)
	}
	if cents.GreaterThan(maxCents) {
		return 0, fmt.Errorf("%w: %s is too large", ErrInvalidAmount, amount)
	}
	return cents.IntPart(), nil
}

// FromCents converts integer cents to a decimal amount.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// significand returns the absolute coefficient of d without trailing
// zeros and the matching exponent.
func significand(d decimal.Decimal) (string, int64) {
	coef := strings.TrimPrefix(d.Coefficient().String(), "-")
	digits := strings.TrimRight(coef, "0")
	return digits, int64(d.Exponent()) + int64(len(coef)-len(digits))
}
