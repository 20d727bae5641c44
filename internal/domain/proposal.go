package domain

// ProposalState is the lifecycle state of a proposal.
type ProposalState string

const (
	ProposalPending  ProposalState = "PENDING"
	ProposalPassed   ProposalState = "PASSED"
	ProposalFailed   ProposalState = "FAILED"
	ProposalExecuted ProposalState = "EXECUTED"
)

// AccountMeta is an account referenced by an instruction.
type AccountMeta struct {
	Pubkey     Address `json:"pubkey"`
	IsSigner   bool    `json:"is_signer"`
	IsWritable bool    `json:"is_writable"`
}

// ProposalInstruction is the action a passed proposal executes, signed by
// the DAO treasury.
type ProposalInstruction struct {
	ProgramID Address       `json:"program_id"`
	Accounts  []AccountMeta `json:"accounts"`
	Data      []byte        `json:"data"`
}

// Clone returns a deep copy.
func (i ProposalInstruction) Clone() ProposalInstruction {
	c := i
	c.Accounts = append([]AccountMeta(nil), i.Accounts...)
	c.Data = append([]byte(nil), i.Data...)
	return c
}

// Proposal is the governance state machine.
// Transitions: PENDING -> PASSED | FAILED, PASSED -> EXECUTED.
type Proposal struct {
	Address            Address             `json:"address"`
	Number             uint64              `json:"number"`
	Proposer           Address             `json:"proposer"`
	DescriptionURL     string              `json:"description_url"`
	SlotEnqueued       uint64              `json:"slot_enqueued"`
	State              ProposalState       `json:"state"`
	Instruction        ProposalInstruction `json:"instruction"`
	PassAmm            Address             `json:"pass_amm"`
	FailAmm            Address             `json:"fail_amm"`
	BaseVault          Address             `json:"base_vault"`
	QuoteVault         Address             `json:"quote_vault"`
	Dao                Address             `json:"dao"`
	PassLpTokensLocked uint64              `json:"pass_lp_tokens_locked"`
	FailLpTokensLocked uint64              `json:"fail_lp_tokens_locked"`
	PassTwapStart      TwapCheckpoint      `json:"pass_twap_start"` // pass oracle at enqueue
	FailTwapStart      TwapCheckpoint      `json:"fail_twap_start"` // fail oracle at enqueue
	SeqNum             uint64              `json:"seq_num"`
}

// Clone returns a deep copy.
func (p *Proposal) Clone() *Proposal {
	c := *p
	c.Instruction = p.Instruction.Clone()
	return &c
}
