/*
amount.go - Fixed-precision monetary amounts

PURPOSE:
  Every balance and transaction value in the engine is an Amount. Amounts
  carry exactly four decimal digits; anything finer is rounded away when
  the value is constructed, so all later arithmetic is exact.

PRECISION:
  Amounts wrap decimal.Decimal rounded half away from zero to 4 places.
  Adding or subtracting two 4-place decimals never produces a fifth digit,
  so Equal is an exact comparison. ApproxEqual keeps the 1e-4 tolerance for
  callers that compare against float-derived values.

DISPLAY:
  String() always renders 4 decimals ("10.0000", "-2.5000"). This is the
  format written to CSV output, the journal and the HTTP API.

SEE ALSO:
  - balance.go: The only place amounts are mutated
  - types.go:   Transactions that carry amounts
*/
package payment

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of decimal digits an Amount carries.
const Scale = 4

var tolerance = decimal.New(1, -Scale)

// =============================================================================
// AMOUNT
// =============================================================================

// Amount is a signed fixed-point monetary value with 4 decimal digits.
// The zero value is 0.0000 and ready to use.
type Amount struct {
	value decimal.Decimal
}

// Zero is the 0.0000 amount.
var Zero = Amount{}

func newAmount(d decimal.Decimal) Amount {
	return Amount{value: d.Round(Scale)}
}

// NewAmount builds an amount from a float, rounding to 4 decimals.
func NewAmount(value float64) Amount {
	return newAmount(decimal.NewFromFloat(value))
}

// NewAmountFromInt builds a whole-unit amount.
func NewAmountFromInt(value int64) Amount {
	return newAmount(decimal.NewFromInt(value))
}

// NewAmountFromDecimal builds an amount from a decimal, rounding to 4 decimals.
func NewAmountFromDecimal(d decimal.Decimal) Amount {
	return newAmount(d)
}

// ParseAmount parses decimal text such as "1.5" or " 2.0001 ".
// Surrounding whitespace is ignored.
func ParseAmount(s string) (Amount, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Amount{}, fmt.Errorf("parse amount: empty value")
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return Amount{}, fmt.Errorf("parse amount %q: %w", trimmed, err)
	}
	return newAmount(d), nil
}

// MustParseAmount is ParseAmount for literals known to be valid. It panics otherwise.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) Add(b Amount) Amount       { return Amount{value: a.value.Add(b.value)} }
func (a Amount) Sub(b Amount) Amount       { return Amount{value: a.value.Sub(b.value)} }
func (a Amount) Neg() Amount               { return Amount{value: a.value.Neg()} }
func (a Amount) Cmp(b Amount) int          { return a.value.Cmp(b.value) }
func (a Amount) Equal(b Amount) bool       { return a.value.Equal(b.value) }
func (a Amount) LessThan(b Amount) bool    { return a.value.LessThan(b.value) }
func (a Amount) GreaterThan(b Amount) bool { return a.value.GreaterThan(b.value) }
func (a Amount) IsNegative() bool          { return a.value.IsNegative() }
func (a Amount) IsZero() bool              { return a.value.IsZero() }
func (a Amount) IsPositive() bool          { return a.value.IsPositive() }

// ApproxEqual reports whether a and b differ by less than 0.0001.
func (a Amount) ApproxEqual(b Amount) bool {
	return a.value.Sub(b.value).Abs().LessThan(tolerance)
}

// Decimal returns the underlying decimal value.
func (a Amount) Decimal() decimal.Decimal { return a.value }

// String renders the amount with exactly 4 decimals.
func (a Amount) String() string {
	return a.value.StringFixed(Scale)
}

// MarshalJSON renders the amount as a quoted fixed 4-decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts both quoted and bare JSON numbers.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" {
		*a = Amount{}
		return nil
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
