package models

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// CreditScale is the number of Credits sub-units per whole Credit.
const CreditScale = 10000

// creditExp is the decimal exponent matching CreditScale.
const creditExp = -4

// Credits is a fixed-point Credit amount in units of 1/10000 Credit.
// All ledger arithmetic happens on the integer; decimal is only used at
// parse, format and multiply boundaries.
type Credits int64

// CreditsFromDecimal rounds d half away from zero to four decimal places.
func CreditsFromDecimal(d decimal.Decimal) Credits {
	return Credits(d.Shift(-creditExp).Round(0).IntPart())
}

// CreditsFromFloat converts a float amount, rounding to four decimal places.
func CreditsFromFloat(f float64) Credits {
	return CreditsFromDecimal(decimal.NewFromFloat(f))
}

// WholeCredits returns n whole Credits.
func WholeCredits(n int64) Credits {
	return Credits(n * CreditScale)
}

// ParseCredits parses a decimal string such as "12.5" or "0.0001".
func ParseCredits(s string) (Credits, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid credit amount %q: %w", s, err)
	}
	return CreditsFromDecimal(d), nil
}

// Decimal returns the exact decimal value of c.
func (c Credits) Decimal() decimal.Decimal {
	return decimal.New(int64(c), creditExp)
}

// Float64 returns c as a float for scoring and display only.
func (c Credits) Float64() float64 {
	f, _ := c.Decimal().Float64()
	return f
}

// String renders c with four fixed decimals.
func (c Credits) String() string {
	return c.Decimal().StringFixed(4)
}

// MulRate multiplies c by a rate and rounds back onto the fixed-point grid.
func (c Credits) MulRate(rate float64) Credits {
	return CreditsFromDecimal(c.Decimal().Mul(decimal.NewFromFloat(rate)))
}

// Neg returns -c.
func (c Credits) Neg() Credits { return -c }

// Abs returns |c|.
func (c Credits) Abs() Credits {
	if c < 0 {
		return -c
	}
	return c
}

// MinCredits returns the smaller of a and b.
func MinCredits(a, b Credits) Credits {
	if a < b {
		return a
	}
	return b
}

// MaxCredits returns the larger of a and b.
func MaxCredits(a, b Credits) Credits {
	if a > b {
		return a
	}
	return b
}

// MarshalJSON renders c as a bare JSON number.
func (c Credits) MarshalJSON() ([]byte, error) {
	return []byte(c.Decimal().String()), nil
}

// UnmarshalJSON accepts both JSON numbers and quoted decimal strings.
func (c *Credits) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return fmt.Errorf("invalid credit amount: %w", err)
	}
	*c = CreditsFromDecimal(d)
	return nil
}

// Value stores c in a NUMERIC(20,4) column.
func (c Credits) Value() (driver.Value, error) {
	return c.Decimal().StringFixed(4), nil
}

// Scan reads a NUMERIC column.
func (c *Credits) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*c = 0
		return nil
	case []byte:
		return c.scanString(string(v))
	case string:
		return c.scanString(v)
	case int64:
		*c = WholeCredits(v)
		return nil
	case float64:
		*c = CreditsFromFloat(v)
		return nil
	default:
		return fmt.Errorf("Credits: unsupported scan type %T", value)
	}
}

func (c *Credits) scanString(s string) error {
	parsed, err := ParseCredits(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
