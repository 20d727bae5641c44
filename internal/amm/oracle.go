package amm

import (
	"github.com/holiman/uint256"

	"futarchy-core/internal/domain"
	"futarchy-core/internal/fixedpoint"
)

// PriceScale is the fixed-point scale of oracle prices: an observation of
// PriceScale means one quote unit per base unit.
const PriceScale uint64 = 1_000_000_000_000

const priceExponent = 12

// SpotPrice returns quote-per-base in real units, scaled by PriceScale:
// quote * 10^base_decimals * PriceScale / (base * 10^quote_decimals).
// ok is false when either reserve is empty.
func SpotPrice(baseReserve, quoteReserve uint64, baseDecimals, quoteDecimals uint8) (fixedpoint.U128, bool, error) {
	if baseReserve == 0 || quoteReserve == 0 {
		return fixedpoint.U128{}, false, nil
	}
	baseScale, err := fixedpoint.Scale(baseDecimals)
	if err != nil {
		return fixedpoint.U128{}, false, err
	}
	quoteScale, err := fixedpoint.Scale(quoteDecimals)
	if err != nil {
		return fixedpoint.U128{}, false, err
	}

	var num, den uint256.Int
	num.Mul(uint256.NewInt(quoteReserve), uint256.NewInt(baseScale))
	num.Mul(&num, uint256.NewInt(PriceScale))
	den.Mul(uint256.NewInt(baseReserve), uint256.NewInt(quoteScale))
	num.Div(&num, &den)

	price, err := fixedpoint.U128FromBig(num.ToBig())
	if err != nil {
		return fixedpoint.MaxU128(), true, nil
	}
	return price, true, nil
}

// BoundObservation clamps spot to within the per-update cap of last. The
// upward bound is at least last+1 so a capped oracle sitting at a low
// price can still climb.
func BoundObservation(last, spot, maxChange fixedpoint.U128) fixedpoint.U128 {
	if spot.Gt(last) {
		step := maxChange
		if step.IsZero() {
			step = fixedpoint.NewU128(1)
		}
		return fixedpoint.MinU128(spot, last.Add(step))
	}
	return fixedpoint.MaxOfU128(spot, last.Sub(maxChange))
}

// UpdateOracle advances o to slot at the given spot price. It is a no-op
// (returning false) when slot is not past the last update, so multiple
// swaps in one slot count once. When the pool is empty (hasSpot false) the
// last observation is carried forward.
func UpdateOracle(o *domain.TwapOracle, slot uint64, spot fixedpoint.U128, hasSpot bool) bool {
	if slot <= o.LastUpdatedSlot {
		return false
	}
	if !hasSpot {
		spot = o.LastObservation
	}

	observation := BoundObservation(o.LastObservation, spot, o.MaxObservationChangePerUpdate)
	elapsed := slot - o.LastUpdatedSlot

	o.Aggregator = o.Aggregator.Add(observation.MulUint64(elapsed))
	o.LastObservation = observation
	o.LastPrice = spot
	o.LastUpdatedSlot = slot
	return true
}

// TwapSince returns (aggregator - start.aggregator) / (last_updated_slot -
// start.slot).
func TwapSince(o domain.TwapOracle, start domain.TwapCheckpoint) (fixedpoint.U128, error) {
	if o.LastUpdatedSlot <= start.Slot {
		return fixedpoint.U128{}, ErrNoObservations
	}
	delta, err := o.Aggregator.CheckedSub(start.Aggregator)
	if err != nil {
		return fixedpoint.U128{}, ErrPoolInvariant
	}
	return delta.DivUint64(o.LastUpdatedSlot - start.Slot)
}

// PriceUnits renders a scaled oracle value as a decimal price.
func PriceUnits(v fixedpoint.U128) string {
	return fixedpoint.ScaledToUnits(v, priceExponent).String()
}

// PriceFloat is PriceUnits as a float64, for gauges.
func PriceFloat(v fixedpoint.U128) float64 {
	return fixedpoint.ScaledToUnits(v, priceExponent).InexactFloat64()
}
