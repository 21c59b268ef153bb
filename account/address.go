// Package account defines the account identity used by agentchat: a 20-byte
// EVM address rendered in EIP-55 checksummed hex.
package account

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Address is a 20-byte account identifier.
type Address = common.Address

// Zero is the all-zero address. It is never a valid owner or ownership
// candidate.
var Zero Address

// ErrInvalidAddress is returned by Parse for malformed input.
var ErrInvalidAddress = errors.New("account: invalid address")

// Parse accepts a 40-digit hex address with or without the 0x prefix. Mixed
// case input is not checksum-verified.
func Parse(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return Zero, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

// MustParse is like Parse but panics on error. Use for hardcoded values.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// ParseAll parses every entry of ss, failing on the first malformed one.
func ParseAll(ss []string) ([]Address, error) {
	out := make([]Address, len(ss))
	for i, s := range ss {
		a, err := Parse(s)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		out[i] = a
	}
	return out, nil
}

// Key is the lowercase hex form used as a storage key. Its lexical order
// matches the byte order of addresses.
func Key(a Address) string { return strings.ToLower(a.Hex()) }

// IsZero reports whether a is the zero address.
func IsZero(a Address) bool { return a == Zero }

// Optional is an address that may be absent. Absence is explicit and never
// encoded as the zero address.
type Optional struct {
	addr Address
	set  bool
}

// Some wraps a present address.
func Some(a Address) Optional { return Optional{addr: a, set: true} }

// None is the absent value.
func None() Optional { return Optional{} }

func (o Optional) IsSet() bool { return o.set }

// Get returns the address and whether it is present.
func (o Optional) Get() (Address, bool) { return o.addr, o.set }

// Is reports whether o holds exactly a.
func (o Optional) Is(a Address) bool { return o.set && o.addr == a }

func (o Optional) String() string {
	if !o.set {
		return "<none>"
	}
	return o.addr.Hex()
}

// MarshalJSON renders an absent value as null.
func (o Optional) MarshalJSON() ([]byte, error) {
	if !o.set {
		return []byte("null"), nil
	}
	return json.Marshal(o.addr.Hex())
}

// UnmarshalJSON accepts null or a hex string.
func (o *Optional) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = None()
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	a, err := Parse(s)
	if err != nil {
		return err
	}
	*o = Some(a)
	return nil
}
