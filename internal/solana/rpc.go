// Package solana follows a Solana cluster's slot through JSON-RPC and the
// slotSubscribe websocket feed.
package solana

import "context"

// RPCClient is the subset of the Solana JSON-RPC API the clock needs.
type RPCClient interface {
	// GetSlot returns the slot the node has processed at the given
	// commitment.
	GetSlot(ctx context.Context) (uint64, error)

	// GetBlockTime returns the estimated production time of a block as a
	// Unix timestamp, or nil when the node has none.
	GetBlockTime(ctx context.Context, slot uint64) (*int64, error)
}
