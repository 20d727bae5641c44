package fixedpoint

import (
	"fmt"
	"math"
	"math/big"

	"github.com/holiman/uint256"
)

// maxU128 is 2^128-1 in little-endian limbs.
var maxU128 = uint256.Int{math.MaxUint64, math.MaxUint64, 0, 0}

// U128 is an unsigned 128-bit integer. Arithmetic saturates unless the
// Checked form is used. The zero value is 0.
type U128 struct {
	v uint256.Int
}

// NewU128 returns x as a U128.
func NewU128(x uint64) U128 {
	return U128{v: *uint256.NewInt(x)}
}

// MaxU128 returns 2^128-1.
func MaxU128() U128 {
	return U128{v: maxU128}
}

// ParseU128 parses a base-10 string.
func ParseU128(s string) (U128, error) {
	z, err := uint256.FromDecimal(s)
	if err != nil {
		return U128{}, fmt.Errorf("parse u128 %q: %w", s, err)
	}
	if z.Gt(&maxU128) {
		return U128{}, ErrOverflow
	}
	return U128{v: *z}, nil
}

// U128FromBig converts b, failing when it is negative or wider than 128 bits.
func U128FromBig(b *big.Int) (U128, error) {
	if b.Sign() < 0 {
		return U128{}, ErrUnderflow
	}
	z, overflow := uint256.FromBig(b)
	if overflow || z.Gt(&maxU128) {
		return U128{}, ErrOverflow
	}
	return U128{v: *z}, nil
}

func saturate(z *uint256.Int) U128 {
	if z.Gt(&maxU128) {
		return MaxU128()
	}
	return U128{v: *z}
}

// Add returns a+b, saturating at MaxU128.
func (a U128) Add(b U128) U128 {
	var z uint256.Int
	z.Add(&a.v, &b.v)
	return saturate(&z)
}

// CheckedAdd returns a+b or ErrOverflow.
func (a U128) CheckedAdd(b U128) (U128, error) {
	var z uint256.Int
	z.Add(&a.v, &b.v)
	if z.Gt(&maxU128) {
		return U128{}, ErrOverflow
	}
	return U128{v: z}, nil
}

// Sub returns a-b, saturating at zero.
func (a U128) Sub(b U128) U128 {
	if a.v.Lt(&b.v) {
		return U128{}
	}
	var z uint256.Int
	z.Sub(&a.v, &b.v)
	return U128{v: z}
}

// CheckedSub returns a-b or ErrUnderflow.
func (a U128) CheckedSub(b U128) (U128, error) {
	if a.v.Lt(&b.v) {
		return U128{}, ErrUnderflow
	}
	var z uint256.Int
	z.Sub(&a.v, &b.v)
	return U128{v: z}, nil
}

// MulUint64 returns a*m, saturating at MaxU128.
func (a U128) MulUint64(m uint64) U128 {
	var z uint256.Int
	z.Mul(&a.v, uint256.NewInt(m))
	return saturate(&z)
}

// Mul returns a*b, saturating at MaxU128.
func (a U128) Mul(b U128) U128 {
	var z uint256.Int
	if _, overflow := z.MulOverflow(&a.v, &b.v); overflow {
		return MaxU128()
	}
	return saturate(&z)
}

// DivUint64 returns floor(a/d).
func (a U128) DivUint64(d uint64) (U128, error) {
	if d == 0 {
		return U128{}, ErrDivisionByZero
	}
	var z uint256.Int
	z.Div(&a.v, uint256.NewInt(d))
	return U128{v: z}, nil
}

// Div returns floor(a/b).
func (a U128) Div(b U128) (U128, error) {
	if b.IsZero() {
		return U128{}, ErrDivisionByZero
	}
	var z uint256.Int
	z.Div(&a.v, &b.v)
	return U128{v: z}, nil
}

// Cmp compares a and b and returns -1, 0 or +1.
func (a U128) Cmp(b U128) int { return a.v.Cmp(&b.v) }

// Lt reports a < b.
func (a U128) Lt(b U128) bool { return a.v.Lt(&b.v) }

// Gt reports a > b.
func (a U128) Gt(b U128) bool { return a.v.Gt(&b.v) }

// Eq reports a == b.
func (a U128) Eq(b U128) bool { return a.v.Eq(&b.v) }

// IsZero reports a == 0.
func (a U128) IsZero() bool { return a.v.IsZero() }

// Uint64 returns a as a uint64 and whether it fits.
func (a U128) Uint64() (uint64, bool) {
	return a.v.Uint64(), a.v.IsUint64()
}

// Big returns a as a big.Int.
func (a U128) Big() *big.Int { return a.v.ToBig() }

// String returns the base-10 form.
func (a U128) String() string { return a.v.Dec() }

// MarshalText encodes a as a base-10 string, which keeps JSON payloads
// exact for values beyond 2^53.
func (a U128) MarshalText() ([]byte, error) {
	return []byte(a.v.Dec()), nil
}

// UnmarshalText decodes a base-10 string.
func (a *U128) UnmarshalText(text []byte) error {
	parsed, err := ParseU128(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MinU128 returns the smaller of a and b.
func MinU128(a, b U128) U128 {
	if a.Lt(b) {
		return a
	}
	return b
}

// MaxOfU128 returns the larger of a and b.
func MaxOfU128(a, b U128) U128 {
	if a.Gt(b) {
		return a
	}
	return b
}
