package verification

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"futarchy-core/internal/domain"
	"futarchy-core/internal/engine"
	"futarchy-core/internal/engine/enginetest"
	"futarchy-core/internal/events"
	"futarchy-core/internal/fixedpoint"
	"futarchy-core/internal/storage/memory"
)

// tradedLog runs a few swaps and cranks and returns the event log they
// produced.
func tradedLog(t *testing.T) (*enginetest.Fixture, enginetest.Markets, []domain.EventRecord) {
	t.Helper()
	f := enginetest.New(t, zaptest.NewLogger(t))
	m := f.Markets(1)
	for slot := uint64(2); slot <= 6; slot++ {
		f.Clock.Set(slot)
		_, err := f.Engine.Swap(f.Ctx, enginetest.Proposer, m.PassAmm.Address, engine.SwapParams{
			SwapType:    domain.SwapBuy,
			InputAmount: 1_000,
		})
		require.NoError(t, err)
		_, _, err = f.Engine.CrankTwap(f.Ctx, enginetest.Trader, m.FailAmm.Address)
		require.NoError(t, err)
	}
	return f, m, f.Events.Records()
}

func load(t *testing.T, recs []domain.EventRecord) (*memory.EventStore, *memory.ObservationStore) {
	t.Helper()
	ctx := context.Background()
	es := memory.NewEventStore()
	obs := memory.NewObservationStore()
	require.NoError(t, events.NewStoreSink(es).Publish(ctx, recs))
	require.NoError(t, events.NewObservationSink(obs).Publish(ctx, recs))
	return es, obs
}

func TestVerifyRange_CleanLog(t *testing.T) {
	_, _, recs := tradedLog(t)
	es, obs := load(t, recs)

	rep, err := New(es, obs).VerifyRange(context.Background(), 0, math.MaxUint64)
	require.NoError(t, err)
	assert.True(t, rep.Match(), "%+v", rep.Divergences)
	assert.Equal(t, len(recs), rep.Events)
	assert.Equal(t, 10, rep.Observations)
}

func TestVerifyRange_MidRangeStart(t *testing.T) {
	_, _, recs := tradedLog(t)
	es, obs := load(t, recs)

	rep, err := New(es, obs).VerifyRange(context.Background(), 4, 6)
	require.NoError(t, err)
	assert.True(t, rep.Match(), "%+v", rep.Divergences)
	assert.Equal(t, 4, rep.Events)
	assert.Equal(t, 2, rep.Principals)
}

func TestVerifyPrincipal_Gap(t *testing.T) {
	_, m, recs := tradedLog(t)

	var kept []domain.EventRecord
	dropped := false
	for _, rec := range recs {
		if !dropped && rec.Principal == m.PassAmm.Address && rec.Name == events.NameSwap {
			dropped = true
			continue
		}
		kept = append(kept, rec)
	}
	es, _ := load(t, kept)

	rep, err := New(es, nil).VerifyPrincipal(context.Background(), m.PassAmm.Address)
	require.NoError(t, err)
	require.Len(t, rep.Divergences, 1)
	d := rep.Divergences[0]
	assert.Equal(t, "SeqNum", d.Field)
	assert.Equal(t, uint64(3), d.Expected)
	assert.Equal(t, uint64(4), d.Actual)
}

func TestVerifyRange_MissingAndWrongObservations(t *testing.T) {
	_, m, recs := tradedLog(t)
	ctx := context.Background()
	es := memory.NewEventStore()
	require.NoError(t, events.NewStoreSink(es).Publish(ctx, recs))

	implied, err := events.Observations(recs)
	require.NoError(t, err)
	var mine []*domain.OracleObservation
	var tampered uint64
	for _, o := range implied {
		if o.Amm == m.FailAmm.Address && o.Slot == 3 {
			continue
		}
		if o.Amm == m.PassAmm.Address && tampered == 0 {
			c := *o
			c.Price = c.Price.Add(fixedpoint.NewU128(1))
			tampered = c.SeqNum
			o = &c
		}
		mine = append(mine, o)
	}
	store := memory.NewObservationStore()
	require.NoError(t, store.InsertBulk(ctx, mine))

	rep, err := New(es, store).VerifyRange(ctx, 0, math.MaxUint64)
	require.NoError(t, err)
	require.Len(t, rep.Divergences, 2)

	fields := map[string]FieldDivergence{}
	for _, d := range rep.Divergences {
		fields[d.Field] = d
	}
	assert.Equal(t, m.FailAmm.Address, fields["Observation"].Principal)
	assert.Equal(t, tampered, fields["Observation.Price"].SeqNum)
}

func TestCheckRecord(t *testing.T) {
	_, _, recs := tradedLog(t)
	rec := recs[len(recs)-1]
	assert.Empty(t, CheckRecord(&rec))

	moved := rec
	moved.Slot++
	divs := CheckRecord(&moved)
	require.Len(t, divs, 1)
	assert.Equal(t, "Slot", divs[0].Field)

	broken := rec
	broken.Payload = []byte("{")
	divs = CheckRecord(&broken)
	require.Len(t, divs, 1)
	assert.Equal(t, "Payload", divs[0].Field)
}

func TestCheckSequence_SlotRegression(t *testing.T) {
	p := domain.AddressFromSeed("p")
	list := []*domain.EventRecord{
		{Principal: p, SeqNum: 1, Slot: 10},
		{Principal: p, SeqNum: 2, Slot: 9},
		{Principal: p, SeqNum: 3, Slot: 11},
	}
	divs := CheckSequence(list, 1)
	require.Len(t, divs, 1)
	assert.Equal(t, "Slot", divs[0].Field)
	assert.Equal(t, uint64(2), divs[0].SeqNum)
}
