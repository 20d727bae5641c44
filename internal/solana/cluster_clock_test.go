package solana_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"futarchy-core/internal/solana"
	"futarchy-core/internal/solana/stub"
)

func TestClusterClock_Sync(t *testing.T) {
	rpc := stub.NewRPCClient(500)
	rpc.SetBlockTime(500, 1_700_000_000)

	c := solana.NewClusterClock(rpc, nil, time.Hour, zap.NewNop())
	require.NoError(t, c.Sync(context.Background()))

	assert.Equal(t, uint64(500), c.Slot())
	now := c.Now()
	assert.False(t, now.Before(time.Unix(1_700_000_000, 0)))
	assert.True(t, now.Before(time.Unix(1_700_000_060, 0)))
}

func TestClusterClock_SyncWithoutBlockTime(t *testing.T) {
	rpc := stub.NewRPCClient(9)
	c := solana.NewClusterClock(rpc, nil, time.Hour, zap.NewNop())

	require.NoError(t, c.Sync(context.Background()))
	assert.Equal(t, uint64(9), c.Slot())
	assert.WithinDuration(t, time.Now(), c.Now(), time.Minute)
}

func TestClusterClock_SyncError(t *testing.T) {
	rpc := stub.NewRPCClient(9)
	rpc.SetError(errors.New("node unavailable"))
	c := solana.NewClusterClock(rpc, nil, time.Hour, zap.NewNop())

	assert.Error(t, c.Sync(context.Background()))
	assert.Error(t, c.Run(context.Background()))
	assert.Zero(t, c.Slot())
}

func TestClusterClock_NeverMovesBackwards(t *testing.T) {
	rpc := stub.NewRPCClient(100)
	c := solana.NewClusterClock(rpc, nil, time.Hour, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, c.Sync(ctx))
	rpc.SetSlot(90)
	require.NoError(t, c.Sync(ctx))
	assert.Equal(t, uint64(100), c.Slot())

	rpc.SetSlot(120)
	require.NoError(t, c.Sync(ctx))
	assert.Equal(t, uint64(120), c.Slot())
}

func TestClusterClock_RunFollowsPushesAndPolls(t *testing.T) {
	rpc := stub.NewRPCClient(10)
	sub := stub.NewSubscriber()
	c := solana.NewClusterClock(rpc, sub, 20*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	sub.C <- solana.SlotNotification{Slot: 15}
	sub.C <- solana.SlotNotification{Slot: 12}
	require.Eventually(t, func() bool { return c.Slot() == 15 }, 2*time.Second, 5*time.Millisecond)

	rpc.SetSlot(40)
	require.Eventually(t, func() bool { return c.Slot() == 40 }, 2*time.Second, 5*time.Millisecond)
	assert.Greater(t, rpc.Calls(), 1)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
