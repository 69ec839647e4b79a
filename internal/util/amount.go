package util

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// AmountDecimals is the number of implied decimals in an Amount
// (1 KALE = 10_000_000 base units).
const AmountDecimals = 7

// AmountUnit is one whole token in base units.
const AmountUnit int64 = 10_000_000

var (
	// MaxInt128 is the largest value an Amount may hold (2^127 - 1)
	MaxInt128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))

	// MinInt128 is the smallest value an Amount may hold (-2^127)
	MinInt128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))

	// ErrInt128Overflow is returned when a result leaves the int128 range
	ErrInt128Overflow = errors.New("int128 overflow")

	// ErrDivisionByZero is returned by the division helpers
	ErrDivisionByZero = errors.New("division by zero")
)

// Amount is an immutable signed 128-bit fixed-point quantity.
// The zero value is 0.
type Amount struct {
	v *big.Int
}

// NewAmount creates an Amount from an int64
func NewAmount(v int64) Amount {
	return Amount{v: big.NewInt(v)}
}

// Units creates an Amount of n whole tokens
func Units(n int64) Amount {
	return Amount{v: new(big.Int).Mul(big.NewInt(n), big.NewInt(AmountUnit))}
}

// AmountFromBig copies b into an Amount, failing if it does not fit in int128
func AmountFromBig(b *big.Int) (Amount, error) {
	if b == nil {
		return Amount{}, nil
	}
	if !InInt128Range(b) {
		return Amount{}, ErrInt128Overflow
	}
	return Amount{v: new(big.Int).Set(b)}, nil
}

// ParseAmount parses a base-10 integer string
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, nil
	}
	b, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("invalid amount %q", s)
	}
	return AmountFromBig(b)
}

// InInt128Range reports whether b fits in a signed 128-bit integer
func InInt128Range(b *big.Int) bool {
	return b.Cmp(MinInt128) >= 0 && b.Cmp(MaxInt128) <= 0
}

func (a Amount) big() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return a.v
}

// Big returns a copy of the underlying value
func (a Amount) Big() *big.Int {
	return new(big.Int).Set(a.big())
}

// Sign returns -1, 0 or +1
func (a Amount) Sign() int {
	return a.big().Sign()
}

// IsZero reports whether a == 0
func (a Amount) IsZero() bool {
	return a.Sign() == 0
}

// Cmp compares a and b
func (a Amount) Cmp(b Amount) int {
	return a.big().Cmp(b.big())
}

// Equal reports whether a == b
func (a Amount) Equal(b Amount) bool {
	return a.Cmp(b) == 0
}

// String returns the base-10 representation
func (a Amount) String() string {
	return a.big().String()
}

// Add returns a + b, or ErrInt128Overflow
func (a Amount) Add(b Amount) (Amount, error) {
	return AmountFromBig(new(big.Int).Add(a.big(), b.big()))
}

// MulDiv returns a * num / den with truncation toward zero.
// The intermediate product is exact; only the result is range checked.
func (a Amount) MulDiv(num, den int64) (Amount, error) {
	if den == 0 {
		return Amount{}, ErrDivisionByZero
	}
	p := new(big.Int).Mul(a.big(), big.NewInt(num))
	return AmountFromBig(p.Quo(p, big.NewInt(den)))
}

// Quo returns a / d truncated toward zero
func (a Amount) Quo(d Amount) (Amount, error) {
	if d.IsZero() {
		return Amount{}, ErrDivisionByZero
	}
	return AmountFromBig(new(big.Int).Quo(a.big(), d.big()))
}

// Int64 returns the value as int64 and whether it fit
func (a Amount) Int64() (int64, bool) {
	b := a.big()
	if !b.IsInt64() {
		return 0, false
	}
	return b.Int64(), true
}

// Decimal formats the amount in whole tokens with trailing zeros trimmed,
// e.g. 12_500_000 -> "1.25"
func (a Amount) Decimal() string {
	b := a.big()
	sign := ""
	if b.Sign() < 0 {
		sign = "-"
	}
	q, r := new(big.Int).QuoRem(new(big.Int).Abs(b), big.NewInt(AmountUnit), new(big.Int))
	if r.Sign() == 0 {
		return sign + q.String()
	}
	frac := r.String()
	frac = strings.Repeat("0", AmountDecimals-len(frac)) + frac
	return sign + q.String() + "." + strings.TrimRight(frac, "0")
}

// MinAmount returns the smaller of a and b
func MinAmount(a, b Amount) Amount {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// MarshalJSON encodes the amount as a quoted decimal string so clients
// never round it through a float.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts a quoted decimal string or a bare JSON number
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*a = Amount{}
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
