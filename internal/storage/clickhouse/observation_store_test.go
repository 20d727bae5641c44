package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futarchy-core/internal/domain"
	"futarchy-core/internal/fixedpoint"
	"futarchy-core/internal/storage"
)

func observation(amm domain.Address, seq, slot uint64) *domain.OracleObservation {
	big, _ := fixedpoint.ParseU128("340282366920938463463374607431768211455")
	return &domain.OracleObservation{
		Amm:           amm,
		Slot:          slot,
		UnixTimestamp: 1_700_000_000 + int64(slot),
		Price:         fixedpoint.NewU128(1_500_000_000_000),
		Observation:   fixedpoint.NewU128(1_010_000_000_000),
		Aggregator:    big,
		BaseReserve:   1_000_000,
		QuoteReserve:  1_500_000,
		Source:        "crank",
		SeqNum:        seq,
	}
}

func TestObservationStore_InsertBulk(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewObservationStore(conn)
	ctx := context.Background()
	pool := domain.AddressFromSeed("pool")
	other := domain.AddressFromSeed("other")

	assert.NoError(t, store.InsertBulk(ctx, nil))

	err := store.InsertBulk(ctx, []*domain.OracleObservation{
		observation(pool, 2, 20),
		observation(pool, 1, 10),
		observation(pool, 3, 30),
		observation(other, 1, 10),
	})
	require.NoError(t, err)

	got, err := store.GetByAmm(ctx, pool, 10, 30)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(1), got[0].SeqNum)
	assert.Equal(t, uint64(2), got[1].SeqNum)
	assert.Equal(t, pool, got[0].Amm)
	assert.Equal(t, "crank", got[0].Source)
	assert.Equal(t, "1500000000000", got[0].Price.String())
	assert.True(t, got[0].Aggregator.Eq(fixedpoint.MaxU128()), "u128 round trip")
}

func TestObservationStore_InsertBulk_DuplicateKey(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewObservationStore(conn)
	ctx := context.Background()
	pool := domain.AddressFromSeed("pool")

	// Intra-batch duplicate
	err := store.InsertBulk(ctx, []*domain.OracleObservation{observation(pool, 1, 10), observation(pool, 1, 11)})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	require.NoError(t, store.InsertBulk(ctx, []*domain.OracleObservation{observation(pool, 1, 10)}))

	// Duplicate against stored rows; the whole batch is rejected
	err = store.InsertBulk(ctx, []*domain.OracleObservation{observation(pool, 2, 20), observation(pool, 1, 10)})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	got, err := store.GetByAmm(ctx, pool, 0, 100)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
