// Package fixedpoint provides the checked integer arithmetic shared by
// pools, oracles and vaults. Token amounts are u64 base units; wide
// intermediates go through 256-bit integers and never wrap.
package fixedpoint

import (
	"errors"
	"math/bits"

	"github.com/holiman/uint256"
)

// BPSScale is the basis-point denominator.
const BPSScale uint64 = 10_000

// MaxDecimals is the largest mint precision Scale accepts.
const MaxDecimals = 15

var (
	// ErrDecimalScale is returned for decimals above MaxDecimals.
	ErrDecimalScale = errors.New("decimal scale out of range")

	// ErrOverflow is returned when a result does not fit its type.
	ErrOverflow = errors.New("arithmetic overflow")

	// ErrUnderflow is returned when a subtraction would go negative.
	ErrUnderflow = errors.New("arithmetic underflow")

	// ErrDivisionByZero is returned for a zero divisor.
	ErrDivisionByZero = errors.New("division by zero")
)

var scales = [MaxDecimals + 1]uint64{
	1,
	10,
	100,
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
	100_000_000_000,
	1_000_000_000_000,
	10_000_000_000_000,
	100_000_000_000_000,
	1_000_000_000_000_000,
}

// Scale returns 10^decimals.
func Scale(decimals uint8) (uint64, error) {
	if int(decimals) > MaxDecimals {
		return 0, ErrDecimalScale
	}
	return scales[decimals], nil
}

// CheckedAdd returns a+b or ErrOverflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// CheckedSub returns a-b or ErrUnderflow.
func CheckedSub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrUnderflow
	}
	return diff, nil
}

// CheckedMul returns a*b or ErrOverflow.
func CheckedMul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

// CeilDiv returns ceil(a/b).
func CeilDiv(a, b uint64) (uint64, error) {
	if b == 0 {
		return 0, ErrDivisionByZero
	}
	q := a / b
	if a%b != 0 {
		q++
	}
	return q, nil
}

// MulDiv returns floor(a*b/c) computed without intermediate overflow.
func MulDiv(a, b, c uint64) (uint64, error) {
	return mulDiv(a, b, c, false)
}

// MulDivCeil returns ceil(a*b/c) computed without intermediate overflow.
func MulDivCeil(a, b, c uint64) (uint64, error) {
	return mulDiv(a, b, c, true)
}

func mulDiv(a, b, c uint64, roundUp bool) (uint64, error) {
	if c == 0 {
		return 0, ErrDivisionByZero
	}
	var num, den, q, r uint256.Int
	num.Mul(uint256.NewInt(a), uint256.NewInt(b))
	den.SetUint64(c)
	q.DivMod(&num, &den, &r)
	if roundUp && !r.IsZero() {
		q.AddUint64(&q, 1)
	}
	if !q.IsUint64() {
		return 0, ErrOverflow
	}
	return q.Uint64(), nil
}

// MulDiv3 returns floor(a*b*c/(d*e)), used where two ratios are applied at
// once (reserve * lp_balance * bps / (BPS * supply)).
func MulDiv3(a, b, c, d, e uint64) (uint64, error) {
	if d == 0 || e == 0 {
		return 0, ErrDivisionByZero
	}
	var num, den uint256.Int
	num.Mul(uint256.NewInt(a), uint256.NewInt(b))
	num.Mul(&num, uint256.NewInt(c))
	den.Mul(uint256.NewInt(d), uint256.NewInt(e))
	num.Div(&num, &den)
	if !num.IsUint64() {
		return 0, ErrOverflow
	}
	return num.Uint64(), nil
}

// Product returns a*b as a 128-bit value.
func Product(a, b uint64) U128 {
	var z uint256.Int
	z.Mul(uint256.NewInt(a), uint256.NewInt(b))
	return U128{v: z}
}

// Min returns the smaller of a and b.
func Min(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
