package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futarchy-core/internal/domain"
	"futarchy-core/internal/storage"
)

func eventRecord(principal domain.Address, seq, slot uint64) *domain.EventRecord {
	return &domain.EventRecord{
		Name:          "SwapEvent",
		Principal:     principal,
		SeqNum:        seq,
		Slot:          slot,
		UnixTimestamp: 1_700_000_000,
		Actor:         domain.AddressFromSeed("trader"),
		Payload:       []byte(`{"amm":"x","input_amount":10}`),
	}
}

func TestEventStore_InsertBulkAndQuery(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewEventStore(pool)
	ctx := context.Background()
	a := domain.AddressFromSeed("amm-a")
	b := domain.AddressFromSeed("amm-b")

	require.NoError(t, store.InsertBulk(ctx, nil))
	require.NoError(t, store.InsertBulk(ctx, []*domain.EventRecord{
		eventRecord(a, 1, 10),
		eventRecord(a, 2, 11),
		eventRecord(b, 1, 11),
		eventRecord(a, 3, 12),
	}))

	got, err := store.GetByPrincipal(ctx, a, 1, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(2), got[0].SeqNum)
	assert.Equal(t, uint64(3), got[1].SeqNum)
	assert.Equal(t, a, got[0].Principal)
	assert.Equal(t, domain.AddressFromSeed("trader"), got[0].Actor)
	assert.JSONEq(t, `{"amm":"x","input_amount":10}`, string(got[0].Payload))

	limited, err := store.GetByPrincipal(ctx, a, 0, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, uint64(1), limited[0].SeqNum)

	bySlot, err := store.GetBySlotRange(ctx, 11, 12)
	require.NoError(t, err)
	assert.Len(t, bySlot, 2)

	last, err := store.LastSeqNum(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), last)

	none, err := store.LastSeqNum(ctx, domain.AddressFromSeed("nobody"))
	require.NoError(t, err)
	assert.Zero(t, none)
}

func TestEventStore_DuplicateFailsWholeBatch(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewEventStore(pool)
	ctx := context.Background()
	a := domain.AddressFromSeed("amm-a")

	require.NoError(t, store.InsertBulk(ctx, []*domain.EventRecord{eventRecord(a, 1, 10)}))

	err := store.InsertBulk(ctx, []*domain.EventRecord{eventRecord(a, 2, 11), eventRecord(a, 1, 10)})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	last, err := store.LastSeqNum(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), last, "batch rolled back")

	err = store.InsertBulk(ctx, []*domain.EventRecord{eventRecord(a, 0, 10)})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
