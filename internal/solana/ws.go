package solana

import "context"

// SlotSubscriber streams slot notifications from a node.
type SlotSubscriber interface {
	// SubscribeSlots subscribes to slot updates. The channel is closed
	// when the client is closed.
	SubscribeSlots(ctx context.Context) (<-chan SlotNotification, error)

	// Close closes the WebSocket connection.
	Close() error
}
