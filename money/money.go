// Package money implements fixed-point decimal arithmetic for every
// monetary value in the gateway. Nothing here ever touches a float64 —
// amounts flow as shopspring/decimal values from wire parsing through to
// persistence, matching spec's "never floats" requirement.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits a Money value carries.
// Amounts (subject, fees, balances) use ScaleAmount; percentage rates
// use ScaleRate.
type Scale int32

const (
	ScaleAmount Scale = 2
	ScaleRate   Scale = 4
)

// Money is a non-negative-or-signed fixed-point value at a declared scale.
type Money struct {
	d     decimal.Decimal
	scale Scale
}

// Zero returns a zero-valued Money at the given scale.
func Zero(scale Scale) Money {
	return Money{d: decimal.Zero, scale: scale}
}

// New builds a Money value from a decimal, rounding HALF_EVEN to scale.
func New(d decimal.Decimal, scale Scale) Money {
	return Money{d: d.RoundBank(int32(scale)), scale: scale}
}

// FromString parses a decimal string at the given scale.
func FromString(s string, scale Scale) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return New(d, scale), nil
}

// FromInt builds a Money value from an integer number of minor units
// is NOT supported here (the gateway never works in integer cents);
// use FromString/New for anything that isn't a literal whole amount.
func FromInt(i int64, scale Scale) Money {
	return New(decimal.NewFromInt(i), scale)
}

func (m Money) Scale() Scale { return m.scale }

// Decimal exposes the underlying value for storage-layer marshaling.
func (m Money) Decimal() decimal.Decimal { return m.d }

func (m Money) String() string { return m.d.StringFixed(int32(m.scale)) }

// Add returns m + other, rounded to m's scale (HALF_EVEN).
func (m Money) Add(other Money) Money {
	return New(m.d.Add(other.d), m.scale)
}

// Sub returns m - other, rounded to m's scale (HALF_EVEN).
func (m Money) Sub(other Money) Money {
	return New(m.d.Sub(other.d), m.scale)
}

// Mul returns m * factor, rounded to m's scale (HALF_EVEN). factor is a
// plain decimal (e.g. a rate at ScaleRate) rather than another Money,
// since multiplying two Money values of different scales is meaningless
// without choosing a result scale explicitly — callers do that via MulScale.
func (m Money) Mul(factor decimal.Decimal) Money {
	return New(m.d.Mul(factor), m.scale)
}

// MulScale multiplies m by factor and rounds to an explicit result scale,
// used by the refund-fee proration (spec §4.7 step 4, scale 8 intermediate).
func (m Money) MulScale(factor decimal.Decimal, resultScale Scale) Money {
	return New(m.d.Mul(factor), resultScale)
}

// Div divides m by divisor, keeping extra guard digits so the final
// HALF_EVEN rounding to scale (done by New) sees the true quotient
// rather than an already-rounded intermediate.
func (m Money) Div(divisor decimal.Decimal, scale Scale) Money {
	return New(m.d.DivRound(divisor, int32(scale)+6), scale)
}

// Round re-rounds m to a new scale (HALF_EVEN).
func (m Money) Round(scale Scale) Money {
	return New(m.d, scale)
}

// Cmp compares m and other numerically, ignoring scale.
func (m Money) Cmp(other Money) int { return m.d.Cmp(other.d) }

func (m Money) IsZero() bool     { return m.d.IsZero() }
func (m Money) IsNegative() bool { return m.d.IsNegative() }
func (m Money) IsPositive() bool { return m.d.IsPositive() }

// Neg returns -m.
func (m Money) Neg() Money { return New(m.d.Neg(), m.scale) }

// Max returns the larger of a and b.
func Max(a, b Money) Money {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// Min returns the smaller of a and b.
func Min(a, b Money) Money {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// MarshalJSON renders the fixed-scale decimal string, matching the API's
// "decimals formatted with their declared scale" contract (spec §6).
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON accepts either a JSON string or bare number at ScaleAmount;
// callers needing ScaleRate should parse with FromString directly.
func (m *Money) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("money: unmarshal %q: %w", s, err)
	}
	if m.scale == 0 {
		m.scale = ScaleAmount
	}
	*m = New(d, m.scale)
	return nil
}
