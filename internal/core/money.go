// Package core holds the SmartPay domain types and the money helpers shared by
// the ledger, the rule evaluator and the HTTP layer.
package core

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxAmountCents bounds a single amount or limit at 1,000,000,000.00. Any
// sum of two bounded amounts fits in an int64.
const MaxAmountCents int64 = 100_000_000_000

var maxCents = decimal.NewFromInt(MaxAmountCents)

// Money is an exact amount in minor units (cents). Balances may go negative,
// transaction and transfer amounts may not.
type Money struct {
	Cents int64
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	if m.Cents > MaxAmountCents {
		return ErrAmountTooLarge
	}
	return nil
}

// CheckedAdd returns m+o, or ErrBalanceOverflow when the sum leaves the int64
// range.
func (m Money) CheckedAdd(o Money) (Money, error) {
	if (o.Cents > 0 && m.Cents > math.MaxInt64-o.Cents) ||
		(o.Cents < 0 && m.Cents < math.MinInt64-o.Cents) {
		return Money{}, ErrBalanceOverflow
	}
	return m.Add(o), nil
}

func (m Money) Add(o Money) Money { return Money{Cents: m.Cents + o.Cents} }
func (m Money) Sub(o Money) Money { return Money{Cents: m.Cents - o.Cents} }
func (m Money) Neg() Money        { return Money{Cents: -m.Cents} }
func (m Money) IsZero() bool      { return m.Cents == 0 }

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// StringFixed renders the amount with exactly two decimals, e.g. "250.00".
func (m Money) StringFixed() string {
	return m.Decimal().StringFixed(2)
}

// String renders the amount as a dollar figure, e.g. "$250.00" or "-$12.50".
func (m Money) String() string {
	if m.Cents < 0 {
		return "-$" + m.Neg().StringFixed()
	}
	return "$" + m.StringFixed()
}

// ParseDecimalToCents converts a positive decimal string to cents.
//
// Both dot (12.34) and comma (12,34) separators are accepted. Extra fractional
// digits are rounded half-up. Zero, negative and non-numeric input is rejected,
// as is anything above MaxAmountCents.
func ParseDecimalToCents(s string) (int64, error) {
	cents, err := parseCents(s)
	if err != nil {
		return 0, err
	}
	if cents <= 0 {
		return 0, ErrInvalidAmount
	}
	return cents, nil
}

// ParseAmount parses a positive monetary amount.
func ParseAmount(s string) (Money, error) {
	cents, err := ParseDecimalToCents(s)
	if err != nil {
		return Money{}, err
	}
	return Money{Cents: cents}, nil
}

// ParseLimit parses a non-negative threshold for alert settings. Zero is a
// valid value and disables the matching rule.
func ParseLimit(field, s string) (Money, error) {
	cents, err := parseCents(s)
	if err != nil {
		return Money{}, NewValidationError(field, "must be a non-negative decimal")
	}
	return Money{Cents: cents}, nil
}

func parseCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, ErrInvalidAmount
	}
	if strings.ContainsAny(s, "eE") {
		return 0, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	c := d.Shift(2).Round(0)
	if c.GreaterThan(maxCents) {
		return 0, ErrAmountTooLarge
	}
	return c.IntPart(), nil
}
