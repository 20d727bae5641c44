package solana

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"futarchy-core/internal/clock"
	"futarchy-core/internal/observability"
)

// DefaultPollInterval is how often ClusterClock re-reads the slot over RPC.
const DefaultPollInterval = 5 * time.Second

// ClusterClock is a clock.Clock following a cluster's slot. The slot comes
// from getSlot polls and, when a subscriber is set, from slotSubscribe
// pushes. It never moves backwards.
type ClusterClock struct {
	rpc      RPCClient
	sub      SlotSubscriber
	interval time.Duration
	logger   *zap.Logger
	nowFn    func() time.Time

	slot atomic.Uint64

	mu        sync.RWMutex
	blockTime time.Time // production time of blockSlot
	blockSlot uint64
	fetchedAt time.Time
}

var _ clock.Clock = (*ClusterClock)(nil)

// NewClusterClock creates a clock over rpc. sub may be nil.
func NewClusterClock(rpc RPCClient, sub SlotSubscriber, interval time.Duration, logger *zap.Logger) *ClusterClock {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &ClusterClock{
		rpc:      rpc,
		sub:      sub,
		interval: interval,
		logger:   logger,
		nowFn:    time.Now,
	}
}

// Sync reads the slot and its block time once.
func (c *ClusterClock) Sync(ctx context.Context) error {
	slot, err := c.rpc.GetSlot(ctx)
	if err != nil {
		return fmt.Errorf("get slot: %w", err)
	}
	c.observe(slot)

	bt, err := c.rpc.GetBlockTime(ctx, slot)
	if err != nil {
		// Block time is best effort; the slot is what operations need.
		c.logger.Debug("get block time failed", zap.Uint64("slot", slot), zap.Error(err))
		return nil
	}
	if bt != nil {
		c.mu.Lock()
		c.blockTime = time.Unix(*bt, 0).UTC()
		c.blockSlot = slot
		c.fetchedAt = c.nowFn()
		c.mu.Unlock()
	}
	return nil
}

// Run syncs once, then follows the cluster until ctx is done.
func (c *ClusterClock) Run(ctx context.Context) error {
	if err := c.Sync(ctx); err != nil {
		return err
	}
	c.logger.Info("cluster clock synced", zap.Uint64("slot", c.Slot()))

	var pushes <-chan SlotNotification
	if c.sub != nil {
		ch, err := c.sub.SubscribeSlots(ctx)
		if err != nil {
			c.logger.Warn("slot subscription failed, polling only", zap.Error(err))
		} else {
			pushes = ch
		}
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-pushes:
			if !ok {
				pushes = nil
				continue
			}
			c.observe(n.Slot)
		case <-ticker.C:
			if err := c.Sync(ctx); err != nil {
				c.logger.Warn("slot poll failed", zap.Error(err))
			}
		}
	}
}

// observe raises the slot to s if s is newer.
func (c *ClusterClock) observe(s uint64) {
	for {
		cur := c.slot.Load()
		if s <= cur {
			return
		}
		if c.slot.CompareAndSwap(cur, s) {
			observability.UpdateCurrentSlot(s)
			return
		}
	}
}

func (c *ClusterClock) Slot() uint64 { return c.slot.Load() }

// Now extrapolates from the last known block time. Before any block time
// is known it returns the local wall clock.
func (c *ClusterClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.blockTime.IsZero() {
		return c.nowFn().UTC()
	}
	return c.blockTime.Add(c.nowFn().Sub(c.fetchedAt))
}
