// Package money provides minor-unit amount arithmetic for the platform.
//
// All monetary values are carried as integer cents of the platform
// currency (KES). Commission math truncates toward zero, so rounding
// always favors the cook.
package money

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Currency is the single platform currency. Multi-currency conversion is
// out of scope for this core.
const Currency = "KES"

// ErrNegativeAmount is returned when a negative amount reaches a
// construction boundary.
var ErrNegativeAmount = errors.New("money: negative amount")

// Cents is a monetary amount in minor units (1/100 of a shilling).
type Cents int64

// FromShillings converts whole shillings to Cents.
func FromShillings(n int64) Cents {
	return Cents(n * 100)
}

// IsWholeShillings reports whether the amount is an exact number of
// whole shillings. Withdrawals are restricted to whole currency units.
func (c Cents) IsWholeShillings() bool {
	return c%100 == 0
}

// Shillings returns the whole-shilling part of the amount.
func (c Cents) Shillings() int64 {
	return int64(c) / 100
}

// String formats the amount as a plain decimal, e.g. "1234.56".
func (c Cents) String() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// Parse reads a decimal amount like "1234.56" into Cents.
// At most two fractional digits are accepted.
func Parse(s string) (Cents, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("money: empty amount")
	}
	neg := strings.HasPrefix(s, "-")
	if neg {
		return 0, ErrNegativeAmount
	}

	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > 2 {
		return 0, fmt.Errorf("money: too many decimal places in %q", s)
	}
	for len(frac) < 2 {
		frac += "0"
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("money: invalid amount %q", s)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("money: invalid amount %q", s)
	}
	return Cents(w*100 + f), nil
}

// Commission computes the platform commission on a subtotal at the given
// integer percentage rate. Integer division truncates, never rounds up:
// any fractional cent stays with the cook.
func Commission(subtotal Cents, ratePercent int) Cents {
	if subtotal <= 0 || ratePercent <= 0 {
		return 0
	}
	return subtotal * Cents(ratePercent) / 100
}

// Min returns the smaller of two amounts.
func Min(a, b Cents) Cents {
	if a < b {
		return a
	}
	return b
}

// ClampZero returns the amount, floored at zero.
func ClampZero(a Cents) Cents {
	if a < 0 {
		return 0
	}
	return a
}
