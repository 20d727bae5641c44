package domain

import "futarchy-core/internal/fixedpoint"

// SwapType is the direction of a swap.
type SwapType string

const (
	// SwapBuy spends quote to receive base.
	SwapBuy SwapType = "BUY"
	// SwapSell spends base to receive quote.
	SwapSell SwapType = "SELL"
)

// Valid reports whether s is a known direction.
func (s SwapType) Valid() bool {
	return s == SwapBuy || s == SwapSell
}

// TwapOracle is the bounded-step observation aggregator embedded in an Amm.
type TwapOracle struct {
	LastUpdatedSlot               uint64          `json:"last_updated_slot"`
	LastPrice                     fixedpoint.U128 `json:"last_price"`       // last unclamped spot price
	LastObservation               fixedpoint.U128 `json:"last_observation"` // last bounded observation
	Aggregator                    fixedpoint.U128 `json:"aggregator"`       // sum of observation * elapsed slots, saturating
	MaxObservationChangePerUpdate fixedpoint.U128 `json:"max_observation_change_per_update"`
	InitialObservation            fixedpoint.U128 `json:"initial_observation"`
}

// TwapCheckpoint captures the aggregator at a slot so a TWAP can be read
// over a window.
type TwapCheckpoint struct {
	Slot       uint64          `json:"slot"`
	Aggregator fixedpoint.U128 `json:"aggregator"`
}

// Checkpoint returns the oracle's current checkpoint.
func (o TwapOracle) Checkpoint() TwapCheckpoint {
	return TwapCheckpoint{Slot: o.LastUpdatedSlot, Aggregator: o.Aggregator}
}

// Amm is a constant-product pool keyed by (base mint, quote mint, fee).
// Its reserves are held in token accounts owned by Address.
type Amm struct {
	Address           Address    `json:"address"`
	CreatedAtSlot     uint64     `json:"created_at_slot"`
	LpMint            Address    `json:"lp_mint"`
	BaseMint          Address    `json:"base_mint"`
	QuoteMint         Address    `json:"quote_mint"`
	BaseMintDecimals  uint8      `json:"base_mint_decimals"`
	QuoteMintDecimals uint8      `json:"quote_mint_decimals"`
	BaseReserve       uint64     `json:"base_reserve"`
	QuoteReserve      uint64     `json:"quote_reserve"`
	LpSupply          uint64     `json:"lp_supply"`
	SwapFeeBps        uint64     `json:"swap_fee_bps"`
	Oracle            TwapOracle `json:"oracle"`
	SeqNum            uint64     `json:"seq_num"`
}

// K returns base_reserve * quote_reserve.
func (a *Amm) K() fixedpoint.U128 {
	return fixedpoint.Product(a.BaseReserve, a.QuoteReserve)
}

// Clone returns a copy safe to mutate.
func (a *Amm) Clone() *Amm {
	c := *a
	return &c
}
