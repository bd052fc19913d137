// Package core provides the ledger domain model.
//
// This file contains the locale-tolerant decimal parser and the Money type used
// for every stored amount and every bucket total.
package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of fractional digits kept for stored amounts.
const MoneyPlaces = 2

var (
	minAmount = decimal.New(1, -MoneyPlaces) // 0.01
	maxAmount = decimal.New(1, 10)           // amounts are stored with 12 digits, 2 fractional
)

// Money is an exact monetary value with two fractional digits.
type Money struct {
	Amount decimal.Decimal
}

// ZeroMoney returns an exact zero.
func ZeroMoney() Money {
	return Money{Amount: decimal.Zero}
}

// MoneyFromCents builds Money from an integer number of cents.
func MoneyFromCents(cents int64) Money {
	return Money{Amount: decimal.New(cents, -MoneyPlaces)}
}

// MustMoney parses a plain decimal string and panics on failure. Intended for tests and constants.
func MustMoney(s string) Money {
	return Money{Amount: decimal.RequireFromString(s).Round(MoneyPlaces)}
}

// ParseDecimal converts free-form, locale-formatted numeric text into an exact decimal.
//
// A decimal comma is treated as a decimal point, every character that is not a digit
// or a point is dropped, and when several points remain the first one is kept as the
// separator while later ones are removed:
//
//	ParseDecimal("1 234,56") -> 1234.56
//	ParseDecimal("12.34.56") -> 12.3456
//	ParseDecimal("abc")      -> ErrInvalidAmount
func ParseDecimal(s string) (decimal.Decimal, error) {
	normalized := strings.ReplaceAll(s, ",", ".")

	var b strings.Builder
	b.Grow(len(normalized))
	seenPoint := false
	for _, r := range normalized {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.':
			if !seenPoint {
				b.WriteRune(r)
				seenPoint = true
			}
		}
	}

	cleaned := b.String()
	if cleaned == "" || cleaned == "." {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return d, nil
}

// ParseAmount parses text into a stored amount. The typed value must be at
// least 0.01 before it is rounded half-up to cents, and below 10^10 after.
func ParseAmount(s string) (Money, error) {
	d, err := ParseDecimal(s)
	if err != nil {
		return Money{}, err
	}
	if d.LessThan(minAmount) {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	m := Money{Amount: d.Round(MoneyPlaces)}
	if err := m.Validate(); err != nil {
		return Money{}, fmt.Errorf("%w: %q", err, s)
	}
	return m, nil
}

// Validate checks that m is a storable transaction amount.
func (m Money) Validate() error {
	if m.Amount.LessThan(minAmount) {
		return ErrInvalidAmount
	}
	if m.Amount.GreaterThanOrEqual(maxAmount) {
		return ErrInvalidAmount
	}
	if !m.Amount.Equal(m.Amount.Round(MoneyPlaces)) {
		return ErrInvalidAmount
	}
	return nil
}

// Cents returns the value as an integer number of cents.
func (m Money) Cents() int64 {
	return m.Amount.Shift(MoneyPlaces).Round(0).IntPart()
}

func (m Money) Add(o Money) Money {
	return Money{Amount: m.Amount.Add(o.Amount)}
}

func (m Money) Sub(o Money) Money {
	return Money{Amount: m.Amount.Sub(o.Amount)}
}

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

// Equal compares two amounts numerically.
func (m Money) Equal(o Money) bool {
	return m.Amount.Equal(o.Amount)
}

// String renders the amount with two fractional digits, e.g. "100.00".
func (m Money) String() string {
	return m.Amount.StringFixed(MoneyPlaces)
}

// MarshalJSON renders the amount as a JSON string to keep it exact.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts either a JSON string or a JSON number.
func (m *Money) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		s = string(b)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, string(b))
	}
	m.Amount = d
	return nil
}
