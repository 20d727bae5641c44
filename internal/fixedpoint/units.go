package fixedpoint

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// ToUnits converts a base-unit amount to real units (amount / 10^decimals).
func ToUnits(amount uint64, decimals uint8) (decimal.Decimal, error) {
	if int(decimals) > MaxDecimals {
		return decimal.Zero, ErrDecimalScale
	}
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -int32(decimals)), nil
}

// FromUnits converts real units back to base units, truncating sub-unit
// dust.
func FromUnits(units decimal.Decimal, decimals uint8) (uint64, error) {
	if int(decimals) > MaxDecimals {
		return 0, ErrDecimalScale
	}
	if units.IsNegative() {
		return 0, ErrUnderflow
	}
	base := units.Shift(int32(decimals)).Truncate(0).BigInt()
	if !base.IsUint64() {
		return 0, ErrOverflow
	}
	return base.Uint64(), nil
}

// ScaledToUnits converts a fixed-point value carrying `exponent` implied
// decimal places (e.g. an oracle price) to a decimal.
func ScaledToUnits(v U128, exponent int32) decimal.Decimal {
	return decimal.NewFromBigInt(v.Big(), -exponent)
}
