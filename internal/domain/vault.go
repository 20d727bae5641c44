package domain

// ConditionalVault escrows underlying tokens against one conditional mint
// per outcome of Question. Its status is derived from the question.
type ConditionalVault struct {
	Address           Address   `json:"address"`
	Question          Address   `json:"question"`
	UnderlyingMint    Address   `json:"underlying_mint"`
	UnderlyingAccount Address   `json:"underlying_account"`
	ConditionalMints  []Address `json:"conditional_mints"`
	Decimals          uint8     `json:"decimals"`
	SeqNum            uint64    `json:"seq_num"`
}

// Clone returns a deep copy.
func (v *ConditionalVault) Clone() *ConditionalVault {
	c := *v
	c.ConditionalMints = append([]Address(nil), v.ConditionalMints...)
	return &c
}
