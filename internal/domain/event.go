package domain

import "futarchy-core/internal/fixedpoint"

// EventRecord is a sealed event as stored and published: the typed payload
// is JSON-encoded, the header fields are lifted out for indexing.
// (Principal, SeqNum) is unique.
type EventRecord struct {
	Name          string  `json:"name"`
	Principal     Address `json:"principal"`
	SeqNum        uint64  `json:"seq_num"`
	Slot          uint64  `json:"slot"`
	UnixTimestamp int64   `json:"unix_timestamp"`
	Actor         Address `json:"actor"`
	Payload       []byte  `json:"payload"`
}

// OracleObservation is one oracle update of an Amm, kept for analytics.
type OracleObservation struct {
	Amm           Address         `json:"amm"`
	Slot          uint64          `json:"slot"`
	UnixTimestamp int64           `json:"unix_timestamp"`
	Price         fixedpoint.U128 `json:"price"`
	Observation   fixedpoint.U128 `json:"observation"`
	Aggregator    fixedpoint.U128 `json:"aggregator"`
	BaseReserve   uint64          `json:"base_reserve"`
	QuoteReserve  uint64          `json:"quote_reserve"`
	Source        string          `json:"source"` // "swap" or "crank"
	SeqNum        uint64          `json:"seq_num"`
}
