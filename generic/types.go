/*
Package generic provides the primitives shared by every indemnity package.

PURPOSE:
  This package contains the domain-agnostic building blocks used by the
  tarification engine, the claim state machine and the quittance workflow:
  money amounts, calendar days, and the error taxonomy. It has no knowledge
  of partners, claims or quittances.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A monetary value with a currency (e.g., 30 000 XOF)
  - Currency: ISO-like currency code, XOF for every built-in partner

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Immutability: Amount operations return new values
  3. Type Safety: Strong typing for currency codes

USAGE:
  premium := generic.NewAmountFromInt(3000000, generic.XOF).Mul(rate)
  if premium.GreaterThan(ceiling) { ... }

SEE ALSO:
  - errors.go: Error taxonomy
  - time.go: Day arithmetic for delay tracking
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Monetary value with currency
// =============================================================================

type Amount struct {
	Value    decimal.Decimal
	Currency Currency
}

type Currency string

const (
	// XOF is the West African CFA franc. It has no minor unit.
	XOF Currency = "XOF"
)

// MinorUnits returns the number of decimal places a currency is settled in.
func (c Currency) MinorUnits() int32 {
	switch c {
	case XOF, "":
		return 0
	default:
		return 2
	}
}

func NewAmountFromInt(value int64, currency Currency) Amount {
	return Amount{Value: decimal.NewFromInt(value), Currency: currency}
}

// ParseAmount parses a decimal string such as "3000000" or "12.50".
func ParseAmount(s string, currency Currency) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, err
	}
	return Amount{Value: d, Currency: currency}, nil
}

// MustParseDecimal parses a decimal literal and panics when it is malformed.
// For constants in code only; user input goes through ParseAmount.
func MustParseDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (a Amount) Zero() Amount                 { return Amount{Value: decimal.Zero, Currency: a.Currency} }
func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value), Currency: a.Currency} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value), Currency: a.Currency} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s), Currency: a.Currency} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }
func (a Amount) LessThanOrEqual(b Amount) bool {
	return a.Value.LessThanOrEqual(b.Value)
}
func (a Amount) Equal(b Amount) bool { return a.Value.Equal(b.Value) }
func (a Amount) Min(b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Round rounds half away from zero to the currency's settlement precision.
func (a Amount) Round() Amount {
	return Amount{Value: a.Value.Round(a.Currency.MinorUnits()), Currency: a.Currency}
}

func (a Amount) String() string {
	if a.Currency == "" {
		return a.Value.String()
	}
	return a.Value.String() + " " + string(a.Currency)
}

// Sum adds amounts, returning zero in the given currency for an empty slice.
func Sum(currency Currency, amounts ...Amount) Amount {
	total := Amount{Value: decimal.Zero, Currency: currency}
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
