package domain

import "futarchy-core/internal/fixedpoint"

// Dao is the configuration root of a set of proposals. Treasury is derived
// from Address and is the only signer proposals execute with.
type Dao struct {
	Address                           Address         `json:"address"`
	Treasury                          Address         `json:"treasury"`
	TokenMint                         Address         `json:"token_mint"`
	UsdcMint                          Address         `json:"usdc_mint"`
	Nonce                             uint64          `json:"nonce"`
	ProposalCount                     uint64          `json:"proposal_count"`
	PassThresholdBps                  uint64          `json:"pass_threshold_bps"`
	SlotsPerProposal                  uint64          `json:"slots_per_proposal"`
	TwapInitialObservation            fixedpoint.U128 `json:"twap_initial_observation"`
	TwapMaxObservationChangePerUpdate fixedpoint.U128 `json:"twap_max_observation_change_per_update"`
	MinBaseFutarchicLiquidity         uint64          `json:"min_base_futarchic_liquidity"`
	MinQuoteFutarchicLiquidity        uint64          `json:"min_quote_futarchic_liquidity"`
	SeqNum                            uint64          `json:"seq_num"`
}

// Clone returns a copy safe to mutate.
func (d *Dao) Clone() *Dao {
	c := *d
	return &c
}
