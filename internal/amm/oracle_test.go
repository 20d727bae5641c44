package amm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futarchy-core/internal/domain"
	"futarchy-core/internal/fixedpoint"
)

func u128(v uint64) fixedpoint.U128 { return fixedpoint.NewU128(v) }

func TestUpdateOracle_FirstUpdateIsCapped(t *testing.T) {
	o := domain.TwapOracle{
		LastObservation:               u128(400),
		InitialObservation:            u128(400),
		MaxObservationChangePerUpdate: u128(8),
	}

	require.True(t, UpdateOracle(&o, 1, u128(1_000_000), true))
	assert.Equal(t, "408", o.LastObservation.String())
	assert.Equal(t, "1000000", o.LastPrice.String())
	assert.Equal(t, "408", o.Aggregator.String())
}

func TestUpdateOracle_SameSlotIsNoop(t *testing.T) {
	o := domain.TwapOracle{
		LastUpdatedSlot:               10,
		LastObservation:               u128(100),
		MaxObservationChangePerUpdate: u128(5),
	}
	assert.False(t, UpdateOracle(&o, 10, u128(1_000), true))
	assert.False(t, UpdateOracle(&o, 9, u128(1_000), true))
	assert.Equal(t, "100", o.LastObservation.String())
	assert.True(t, o.Aggregator.IsZero())
}

func TestUpdateOracle_DownwardCap(t *testing.T) {
	o := domain.TwapOracle{LastObservation: u128(100), MaxObservationChangePerUpdate: u128(10)}
	UpdateOracle(&o, 1, u128(0), true)
	assert.Equal(t, "90", o.LastObservation.String())

	// Saturates at zero rather than wrapping.
	o = domain.TwapOracle{LastObservation: u128(5), MaxObservationChangePerUpdate: u128(10)}
	UpdateOracle(&o, 1, u128(0), true)
	assert.True(t, o.LastObservation.IsZero())
}

func TestBoundObservation_FloorAllowsClimb(t *testing.T) {
	// A zero cap would pin the oracle; the upward bound is at least +1.
	got := BoundObservation(u128(3), u128(50), u128(0))
	assert.Equal(t, "4", got.String())

	got = BoundObservation(u128(3), u128(1), u128(0))
	assert.Equal(t, "3", got.String())
}

func TestUpdateOracle_AggregatorSaturates(t *testing.T) {
	max := fixedpoint.MaxU128()
	o := domain.TwapOracle{
		Aggregator:                    max.Sub(u128(1)),
		LastObservation:               u128(1_000),
		MaxObservationChangePerUpdate: u128(1),
	}
	UpdateOracle(&o, 100, u128(1_000), true)
	assert.True(t, o.Aggregator.Eq(max))
}

func TestUpdateOracle_EmptyPoolCarriesObservation(t *testing.T) {
	o := domain.TwapOracle{LastObservation: u128(77), MaxObservationChangePerUpdate: u128(1)}
	UpdateOracle(&o, 4, fixedpoint.U128{}, false)
	assert.Equal(t, "77", o.LastObservation.String())
	assert.Equal(t, "308", o.Aggregator.String())
}

// S2: oracle bounded step.
func TestCrank_BoundedStep(t *testing.T) {
	f := newPool(t, 30, 100, 1)
	f.add(t, 1_000_000, 10_000_000_000)

	spot, ok, err := Spot(f.amm)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "10000000000000000", spot.String()) // 10_000 * PriceScale

	changed, err := Crank(f.amm, 100)
	require.NoError(t, err)
	require.True(t, changed)
	assert.Equal(t, "101", f.amm.Oracle.LastObservation.String())
	assert.Equal(t, "10100", f.amm.Oracle.Aggregator.String())
}

func TestSpotPrice_Decimals(t *testing.T) {
	// 1 base (9 decimals) against 2.5 quote (6 decimals).
	p, ok, err := SpotPrice(1_000_000_000, 2_500_000, 9, 6)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2.5", PriceUnits(p))

	_, ok, err = SpotPrice(0, 10, 6, 6)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = SpotPrice(1, 1, 16, 6)
	assert.ErrorIs(t, err, fixedpoint.ErrDecimalScale)
}

func TestTwapSince(t *testing.T) {
	o := domain.TwapOracle{LastObservation: u128(100), MaxObservationChangePerUpdate: u128(1_000)}
	start := o.Checkpoint()

	_, err := TwapSince(o, start)
	assert.ErrorIs(t, err, ErrNoObservations)

	UpdateOracle(&o, 10, u128(100), true) // 100 * 10
	UpdateOracle(&o, 20, u128(300), true) // 300 * 10
	twap, err := TwapSince(o, start)
	require.NoError(t, err)
	assert.Equal(t, "200", twap.String())
}

// Properties: slot and aggregator never go backwards, and each step stays
// within the cap.
func TestUpdateOracle_Monotonic(t *testing.T) {
	o := domain.TwapOracle{LastObservation: u128(1_000), MaxObservationChangePerUpdate: u128(25)}
	spots := []uint64{0, 5_000, 1_000, 1_000_000, 3, 999, 1_001}
	slot := uint64(0)
	for i, s := range spots {
		prevSlot, prevAgg, prevObs := o.LastUpdatedSlot, o.Aggregator, o.LastObservation
		slot += uint64(i%3) + 1
		UpdateOracle(&o, slot, u128(s), true)

		assert.GreaterOrEqual(t, o.LastUpdatedSlot, prevSlot)
		assert.False(t, o.Aggregator.Lt(prevAgg))
		var diff fixedpoint.U128
		if o.LastObservation.Gt(prevObs) {
			diff = o.LastObservation.Sub(prevObs)
		} else {
			diff = prevObs.Sub(o.LastObservation)
		}
		assert.False(t, diff.Gt(u128(25)), "step %d moved %s", i, diff)
	}
}

// S6: a burst of swaps inside one slot moves the oracle by at most one cap
// per slot, and the TWAP a minute later stays near the seed.
func TestSwap_FlashManipulationBounded(t *testing.T) {
	initial := PriceScale
	maxChange := PriceScale / 100
	f := newPool(t, 30, initial, maxChange)
	f.add(t, 10_000_000, 10_000_000)
	start := f.amm.Oracle.Checkpoint()

	for i := 0; i < 1_000; i++ {
		_, err := f.swap(t, domain.SwapBuy, 90_000, 1)
		require.NoError(t, err)
	}
	spot, _, err := Spot(f.amm)
	require.NoError(t, err)
	require.True(t, spot.Gt(u128(initial).MulUint64(50)), "spot only %s", PriceUnits(spot))

	bound1 := u128(initial + maxChange)
	assert.False(t, f.amm.Oracle.LastObservation.Gt(bound1))

	_, err = Crank(f.amm, 2)
	require.NoError(t, err)
	bound2 := u128(initial + 2*maxChange)
	assert.False(t, f.amm.Oracle.LastObservation.Gt(bound2))

	_, err = Crank(f.amm, 2+150)
	require.NoError(t, err)
	twap, err := TwapSince(f.amm.Oracle, start)
	require.NoError(t, err)
	assert.True(t, twap.Lt(u128(initial).MulUint64(2)), "twap %s moved with spot", PriceUnits(twap))
}
