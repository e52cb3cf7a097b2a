// Package money provides an exact decimal monetary value bound to a currency.
package money

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrCurrencyMismatch is returned when arithmetic combines two different currencies.
var ErrCurrencyMismatch = errors.New("currency mismatch")

// MismatchError describes the two currencies that could not be combined.
type MismatchError struct {
	Left  string
	Right string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("currency mismatch: %s vs %s", e.Left, e.Right)
}

// Unwrap allows errors.Is(err, ErrCurrencyMismatch).
func (e *MismatchError) Unwrap() error {
	return ErrCurrencyMismatch
}

var (
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
)

// Money is an immutable amount in a single currency. The zero value has no
// currency and is only useful as a placeholder.
type Money struct {
	amount   decimal.Decimal
	currency string
}

// New returns Money with the given amount and currency code.
func New(amount decimal.Decimal, currency string) Money {
	return Money{amount: amount, currency: currency}
}

// Zero returns a zero amount in the given currency.
func Zero(currency string) Money {
	return Money{amount: decimal.Zero, currency: currency}
}

// MustParse parses a decimal string and panics on failure. Intended for
// fixtures and constants.
func MustParse(amount, currency string) Money {
	return New(decimal.RequireFromString(amount), currency)
}

// Amount returns the decimal amount.
func (m Money) Amount() decimal.Decimal { return m.amount }

// Currency returns the ISO currency code.
func (m Money) Currency() string { return m.currency }

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.amount.IsZero() }

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m.amount.IsNegative() }

// IsPositive reports whether the amount is above zero.
func (m Money) IsPositive() bool { return m.amount.IsPositive() }

func (m Money) check(o Money) error {
	if m.currency != o.currency {
		return &MismatchError{Left: m.currency, Right: o.currency}
	}
	return nil
}

// Add returns m + o.
func (m Money) Add(o Money) (Money, error) {
	if err := m.check(o); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Add(o.amount), currency: m.currency}, nil
}

// Sub returns m - o.
func (m Money) Sub(o Money) (Money, error) {
	if err := m.check(o); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Sub(o.amount), currency: m.currency}, nil
}

// Cmp compares m and o: -1 if m < o, 0 if equal, +1 if m > o.
func (m Money) Cmp(o Money) (int, error) {
	if err := m.check(o); err != nil {
		return 0, err
	}
	return m.amount.Cmp(o.amount), nil
}

// Min returns the smaller of m and o.
func (m Money) Min(o Money) (Money, error) {
	c, err := m.Cmp(o)
	if err != nil {
		return Money{}, err
	}
	if c <= 0 {
		return m, nil
	}
	return o, nil
}

// Mul returns m multiplied by an integer quantity.
func (m Money) Mul(n int) Money {
	return Money{amount: m.amount.Mul(decimal.NewFromInt(int64(n))), currency: m.currency}
}

// Percent returns pct percent of m, rounded to cents.
func (m Money) Percent(pct decimal.Decimal) Money {
	return Money{amount: m.amount.Mul(pct).Div(hundred).Round(2), currency: m.currency}
}

// Half returns half of m, rounded to cents.
func (m Money) Half() Money {
	return Money{amount: m.amount.Div(two).Round(2), currency: m.currency}
}

// Round returns m rounded to cents.
func (m Money) Round() Money {
	return Money{amount: m.amount.Round(2), currency: m.currency}
}

// FloorAtZero clamps negative amounts to zero.
func (m Money) FloorAtZero() Money {
	if m.amount.IsNegative() {
		return Zero(m.currency)
	}
	return m
}

// Equal reports whether m and o have the same currency and amount.
func (m Money) Equal(o Money) bool {
	return m.currency == o.currency && m.amount.Equal(o.amount)
}

// String formats as "USD 79.00".
func (m Money) String() string {
	return m.currency + " " + m.amount.StringFixed(2)
}

// Sum adds all values, which must share the given currency.
func Sum(currency string, values ...Money) (Money, error) {
	total := Zero(currency)
	for _, v := range values {
		var err error
		if total, err = total.Add(v); err != nil {
			return Money{}, err
		}
	}
	return total, nil
}
