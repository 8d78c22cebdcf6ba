package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a monetary value in minor units (centavos).
type Amount = int64

// ErrInvalidDecimal is returned when a decimal string cannot be parsed into minor units.
var ErrInvalidDecimal = errors.New("invalid decimal amount")

var centFactor = decimal.NewFromInt(100)

// Parse converts a decimal string such as "25.50" into minor units.
// Values with more than two fractional digits are rejected rather than rounded
// so a typo at the register never changes the charged amount.
func Parse(value string) (Amount, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("empty amount: %w", ErrInvalidDecimal)
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", trimmed, ErrInvalidDecimal)
	}
	if d.Exponent() < -2 {
		return 0, fmt.Errorf("more than two decimal places in %q: %w", trimmed, ErrInvalidDecimal)
	}
	return d.Mul(centFactor).IntPart(), nil
}

// Format renders minor units as a plain decimal string with two places.
func Format(a Amount) string {
	return decimal.NewFromInt(a).Div(centFactor).StringFixed(2)
}

// FormatBR renders minor units using a comma decimal separator, the way
// amounts are printed on Brazilian receipts.
func FormatBR(a Amount) string {
	return strings.Replace(Format(a), ".", ",", 1)
}

// MulBps multiplies an amount by a rate expressed in basis points, rounding
// half-up at centavo precision.
func MulBps(a Amount, bps int64) Amount {
	if a <= 0 || bps <= 0 {
		return 0
	}
	return (a*bps + 5000) / 10000
}

// HalveUp splits an amount in two, rounding the half up. Used for quoting the
// two-installment credit option.
func HalveUp(a Amount) Amount {
	if a <= 0 {
		return 0
	}
	return (a + 1) / 2
}
