// Package stub provides in-memory Solana clients for tests.
package stub

import (
	"context"
	"errors"
	"sync"

	"futarchy-core/internal/solana"
)

// ErrNotFound is returned when no block time is known for a slot.
var ErrNotFound = errors.New("not found")

// RPCClient implements solana.RPCClient for testing.
type RPCClient struct {
	mu         sync.Mutex
	slot       uint64
	blockTimes map[uint64]int64
	err        error
	calls      int
}

// NewRPCClient creates a stub at slot.
func NewRPCClient(slot uint64) *RPCClient {
	return &RPCClient{slot: slot, blockTimes: make(map[uint64]int64)}
}

func (c *RPCClient) GetSlot(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return 0, c.err
	}
	return c.slot, nil
}

func (c *RPCClient) GetBlockTime(_ context.Context, slot uint64) (*int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bt, ok := c.blockTimes[slot]
	if !ok {
		return nil, ErrNotFound
	}
	return &bt, nil
}

// SetSlot moves the reported slot.
func (c *RPCClient) SetSlot(slot uint64) {
	c.mu.Lock()
	c.slot = slot
	c.mu.Unlock()
}

// SetBlockTime records the production time of slot.
func (c *RPCClient) SetBlockTime(slot uint64, unix int64) {
	c.mu.Lock()
	c.blockTimes[slot] = unix
	c.mu.Unlock()
}

// SetError makes GetSlot fail until cleared with nil.
func (c *RPCClient) SetError(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

// Calls returns the number of GetSlot calls.
func (c *RPCClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Subscriber implements solana.SlotSubscriber over a channel the test
// feeds.
type Subscriber struct {
	C chan solana.SlotNotification
}

// NewSubscriber creates a subscriber with a buffered channel.
func NewSubscriber() *Subscriber {
	return &Subscriber{C: make(chan solana.SlotNotification, 16)}
}

func (s *Subscriber) SubscribeSlots(context.Context) (<-chan solana.SlotNotification, error) {
	return s.C, nil
}

func (s *Subscriber) Close() error { return nil }
