// Package types provides common value types used across agentchat.
package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// NativeDecimals is the number of decimals of the chain's native currency
// (1 unit = 10^-18 of the major denomination, like wei).
const NativeDecimals = 18

// Amount is an unsigned 256-bit quantity: a price in the smallest native
// currency unit or a count of chat messages. All arithmetic is integer-only and
// overflow is reported, never wrapped.
//
// Examples:
//   - Units(1)   = the smallest payable amount
//   - Units(100) = the default chat limit grant
//
//nolint:recvcheck // Value receivers for arithmetic, pointer receivers for decoding.
type Amount struct {
	v uint256.Int
}

// Units creates an Amount from a uint64.
func Units(n uint64) Amount {
	var a Amount
	a.v.SetUint64(n)
	return a
}

// ZeroAmount returns the zero Amount.
func ZeroAmount() Amount { return Amount{} }

// ParseAmount parses a base-10 unsigned integer.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, fmt.Errorf("amount: parse %q: empty string", s)
	}
	n, err := uint256.FromDecimal(s)
	if err != nil {
		return Amount{}, fmt.Errorf("amount: parse %q: %w", s, err)
	}
	return Amount{v: *n}, nil
}

// MustParseAmount is like ParseAmount but panics on error.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// AmountFromBig converts b. Negative values and values wider than 256 bits
// are rejected.
func AmountFromBig(b *big.Int) (Amount, error) {
	if b == nil {
		return Amount{}, nil
	}
	if b.Sign() < 0 {
		return Amount{}, fmt.Errorf("amount: negative value %s", b)
	}
	n, overflow := uint256.FromBig(b)
	if overflow {
		return Amount{}, fmt.Errorf("amount: %s overflows 256 bits", b)
	}
	return Amount{v: *n}, nil
}

// Add returns a+b and whether the sum overflowed 256 bits. On overflow the
// returned Amount is meaningless.
func (a Amount) Add(b Amount) (Amount, bool) {
	var out Amount
	_, overflow := out.v.AddOverflow(&a.v, &b.v)
	return out, overflow
}

// Sub returns a-b and whether it underflowed.
func (a Amount) Sub(b Amount) (Amount, bool) {
	var out Amount
	_, underflow := out.v.SubOverflow(&a.v, &b.v)
	return out, underflow
}

func (a Amount) Cmp(b Amount) int    { return a.v.Cmp(&b.v) }
func (a Amount) Equal(b Amount) bool { return a.v.Eq(&b.v) }
func (a Amount) IsZero() bool        { return a.v.IsZero() }

// Uint64 returns the value and whether it fit in 64 bits.
func (a Amount) Uint64() (uint64, bool) {
	return a.v.Uint64(), a.v.IsUint64()
}

// Big returns a copy of the value as a big.Int.
func (a Amount) Big() *big.Int { return a.v.ToBig() }

// String returns the base-10 representation.
func (a Amount) String() string { return a.v.Dec() }

// FormatUnits renders the amount with the given number of decimals, trimming
// trailing zeros: FormatUnits(Units(1500), 3) == "1.5".
func (a Amount) FormatUnits(decimals int) string {
	if decimals <= 0 {
		return a.String()
	}
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	major, minor := new(big.Int).QuoRem(a.Big(), divisor, new(big.Int))
	if minor.Sign() == 0 {
		return major.String()
	}
	frac := fmt.Sprintf("%0*s", decimals, minor.String())
	return major.String() + "." + strings.TrimRight(frac, "0")
}

// MarshalText implements encoding.TextMarshaler.
func (a Amount) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Amount) UnmarshalText(data []byte) error {
	parsed, err := ParseAmount(string(data))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalJSON encodes the amount as a decimal string so JavaScript clients do
// not lose precision.
func (a Amount) MarshalJSON() ([]byte, error) { return json.Marshal(a.String()) }

// UnmarshalJSON accepts a decimal string or a bare JSON number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	} else {
		s = string(data)
	}
	return a.UnmarshalText([]byte(s))
}

// Value implements driver.Valuer. Amounts are stored as decimal text.
func (a Amount) Value() (driver.Value, error) { return a.String(), nil }

// Scan implements sql.Scanner.
func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return a.UnmarshalText([]byte(v))
	case []byte:
		return a.UnmarshalText(v)
	case int64:
		if v < 0 {
			return fmt.Errorf("amount: cannot scan negative %d", v)
		}
		*a = Units(uint64(v))
		return nil
	default:
		return fmt.Errorf("amount: cannot scan %T into Amount", src)
	}
}
