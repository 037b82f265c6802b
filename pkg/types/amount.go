package types

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Fixed-point scales. Amounts, shares and probabilities are all carried as
// int64 counts of 10^-6 units.
const (
	AmountDecimals = 6
	AmountScale    = 1_000_000

	ProbabilityScale = 1_000_000
)

// Amount is a quantity of the session asset in micro-units.
// E.g., 12.5 USDC = 12,500,000 Amount.
type Amount int64

// Shares is an outcome-share quantity in micro-shares.
type Shares int64

// Probability is an implied probability scaled by ProbabilityScale.
type Probability int64

// Units returns the amount for a whole number of asset units.
func Units(n int64) Amount {
	return Amount(n * AmountScale)
}

// WholeShares returns the share quantity for a whole number of shares.
func WholeShares(n int64) Shares {
	return Shares(n * AmountScale)
}

// ParseAmount parses a decimal string such as "12.5" into an Amount.
// More than AmountDecimals fractional digits is an error, not a rounding.
func ParseAmount(s string) (Amount, error) {
	v, err := parseFixed(s)
	if err != nil {
		return 0, err
	}
	return Amount(v), nil
}

// ParseShares parses a decimal string into Shares.
func ParseShares(s string) (Shares, error) {
	v, err := parseFixed(s)
	if err != nil {
		return 0, err
	}
	return Shares(v), nil
}

func parseFixed(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse decimal %q: %w", s, err)
	}

	scaled := d.Shift(AmountDecimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%q has more than %d decimal places", s, AmountDecimals)
	}

	if !scaled.BigInt().IsInt64() {
		return 0, NewIntentError(CodeArithmeticOverflow, "%q is out of range", s)
	}

	return scaled.IntPart(), nil
}

func formatFixed(v int64) string {
	return decimal.New(v, -AmountDecimals).StringFixed(AmountDecimals)
}

// String formats the amount in asset units with six decimals.
func (a Amount) String() string { return formatFixed(int64(a)) }

// Float64 returns the amount in asset units. Display and pricing input only.
func (a Amount) Float64() float64 { return float64(a) / AmountScale }

// MarshalText encodes the amount as a decimal string.
func (a Amount) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText decodes a decimal string.
func (a *Amount) UnmarshalText(b []byte) error {
	v, err := ParseAmount(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Add returns a+b or ErrArithmeticOverflow.
func (a Amount) Add(b Amount) (Amount, error) {
	v, err := addChecked(int64(a), int64(b))
	return Amount(v), err
}

// Sub returns a-b or ErrArithmeticOverflow.
func (a Amount) Sub(b Amount) (Amount, error) {
	if b == math.MinInt64 {
		return 0, NewIntentError(CodeArithmeticOverflow, "amount subtraction overflows")
	}
	v, err := addChecked(int64(a), -int64(b))
	return Amount(v), err
}

func (s Shares) String() string { return formatFixed(int64(s)) }

// Float64 returns the share count in whole shares.
func (s Shares) Float64() float64 { return float64(s) / AmountScale }

func (s Shares) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Shares) UnmarshalText(b []byte) error {
	v, err := ParseShares(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Add returns s+o or ErrArithmeticOverflow.
func (s Shares) Add(o Shares) (Shares, error) {
	v, err := addChecked(int64(s), int64(o))
	return Shares(v), err
}

func (p Probability) String() string { return formatFixed(int64(p)) }

// Float64 returns the probability in [0,1].
func (p Probability) Float64() float64 { return float64(p) / ProbabilityScale }

func (p Probability) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func addChecked(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, NewIntentError(CodeArithmeticOverflow, "%d + %d overflows int64", a, b)
	}
	return a + b, nil
}

// SumAmounts adds the amounts with overflow checking.
func SumAmounts(amounts ...Amount) (total Amount, err error) {
	for _, a := range amounts {
		total, err = total.Add(a)
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
