// Package events defines the events emitted by every state-changing
// operation and delivers them to sinks.
//
// Every event carries the slot, wall-clock time, acting user and a per
// principal sequence number so indexers can detect gaps. Events are
// sealed into domain.EventRecord for storage and transport.
package events

import (
	"encoding/json"
	"fmt"

	"futarchy-core/internal/domain"
	"futarchy-core/internal/fixedpoint"
)

// Event names.
const (
	NameCreateAmm                  = "CreateAmmEvent"
	NameSwap                       = "SwapEvent"
	NameAddLiquidity               = "AddLiquidityEvent"
	NameRemoveLiquidity            = "RemoveLiquidityEvent"
	NameCrankTwap                  = "CrankTwapEvent"
	NameInitializeQuestion         = "InitializeQuestionEvent"
	NameResolveQuestion            = "ResolveQuestionEvent"
	NameInitializeConditionalVault = "InitializeConditionalVaultEvent"
	NameSplitTokens                = "SplitTokensEvent"
	NameMergeTokens                = "MergeTokensEvent"
	NameRedeemTokens               = "RedeemTokensEvent"
	NameInitializeDao              = "InitializeDaoEvent"
	NameUpdateDao                  = "UpdateDaoEvent"
	NameInitializeProposal         = "InitializeProposalEvent"
	NameFinalizeProposal           = "FinalizeProposalEvent"
	NameExecuteProposal            = "ExecuteProposalEvent"
)

// Common is the header every event carries.
type Common struct {
	Slot          uint64         `json:"slot"`
	UnixTimestamp int64          `json:"unix_timestamp"`
	User          domain.Address `json:"user"`
	SeqNum        uint64         `json:"seq_num"`
}

// Header returns the header for stamping.
func (c *Common) Header() *Common { return c }

// Event is implemented by every event type.
type Event interface {
	Name() string
	Principal() domain.Address
	Header() *Common
}

// OracleState is the oracle as carried by market events.
type OracleState struct {
	LastUpdatedSlot uint64          `json:"last_updated_slot"`
	LastPrice       fixedpoint.U128 `json:"last_price"`
	LastObservation fixedpoint.U128 `json:"last_observation"`
	Aggregator      fixedpoint.U128 `json:"aggregator"`
}

// OracleStateOf copies the event view of o.
func OracleStateOf(o domain.TwapOracle) OracleState {
	return OracleState{
		LastUpdatedSlot: o.LastUpdatedSlot,
		LastPrice:       o.LastPrice,
		LastObservation: o.LastObservation,
		Aggregator:      o.Aggregator,
	}
}

// PoolState is a pool's post-operation state.
type PoolState struct {
	BaseReserve  uint64      `json:"base_reserve"`
	QuoteReserve uint64      `json:"quote_reserve"`
	LpSupply     uint64      `json:"lp_supply"`
	Oracle       OracleState `json:"oracle"`
}

// PoolStateOf copies the event view of a.
func PoolStateOf(a *domain.Amm) PoolState {
	return PoolState{
		BaseReserve:  a.BaseReserve,
		QuoteReserve: a.QuoteReserve,
		LpSupply:     a.LpSupply,
		Oracle:       OracleStateOf(a.Oracle),
	}
}

type CreateAmmEvent struct {
	Common
	Amm                               domain.Address  `json:"amm"`
	BaseMint                          domain.Address  `json:"base_mint"`
	QuoteMint                         domain.Address  `json:"quote_mint"`
	LpMint                            domain.Address  `json:"lp_mint"`
	SwapFeeBps                        uint64          `json:"swap_fee_bps"`
	TwapInitialObservation            fixedpoint.U128 `json:"twap_initial_observation"`
	TwapMaxObservationChangePerUpdate fixedpoint.U128 `json:"twap_max_observation_change_per_update"`
}

func (*CreateAmmEvent) Name() string                { return NameCreateAmm }
func (e *CreateAmmEvent) Principal() domain.Address { return e.Amm }

type SwapEvent struct {
	Common
	Amm           domain.Address  `json:"amm"`
	SwapType      domain.SwapType `json:"swap_type"`
	InputAmount   uint64          `json:"input_amount"`
	OutputAmount  uint64          `json:"output_amount"`
	OracleUpdated bool            `json:"oracle_updated"`
	Post          PoolState       `json:"post"`
}

func (*SwapEvent) Name() string                { return NameSwap }
func (e *SwapEvent) Principal() domain.Address { return e.Amm }

type AddLiquidityEvent struct {
	Common
	Amm            domain.Address `json:"amm"`
	BaseAmount     uint64         `json:"base_amount"`
	QuoteAmount    uint64         `json:"quote_amount"`
	LpTokensMinted uint64         `json:"lp_tokens_minted"`
	Post           PoolState      `json:"post"`
}

func (*AddLiquidityEvent) Name() string                { return NameAddLiquidity }
func (e *AddLiquidityEvent) Principal() domain.Address { return e.Amm }

type RemoveLiquidityEvent struct {
	Common
	Amm            domain.Address `json:"amm"`
	WithdrawBps    uint64         `json:"withdraw_bps"`
	BaseAmount     uint64         `json:"base_amount"`
	QuoteAmount    uint64         `json:"quote_amount"`
	LpTokensBurned uint64         `json:"lp_tokens_burned"`
	Post           PoolState      `json:"post"`
}

func (*RemoveLiquidityEvent) Name() string                { return NameRemoveLiquidity }
func (e *RemoveLiquidityEvent) Principal() domain.Address { return e.Amm }

type CrankTwapEvent struct {
	Common
	Amm     domain.Address `json:"amm"`
	Updated bool           `json:"updated"`
	Post    PoolState      `json:"post"`
}

func (*CrankTwapEvent) Name() string                { return NameCrankTwap }
func (e *CrankTwapEvent) Principal() domain.Address { return e.Amm }

type InitializeQuestionEvent struct {
	Common
	Question    domain.Address    `json:"question"`
	QuestionID  domain.QuestionID `json:"question_id"`
	Oracle      domain.Address    `json:"oracle"`
	NumOutcomes int               `json:"num_outcomes"`
}

func (*InitializeQuestionEvent) Name() string                { return NameInitializeQuestion }
func (e *InitializeQuestionEvent) Principal() domain.Address { return e.Question }

type ResolveQuestionEvent struct {
	Common
	Question          domain.Address `json:"question"`
	PayoutNumerators  []uint32       `json:"payout_numerators"`
	PayoutDenominator uint32         `json:"payout_denominator"`
}

func (*ResolveQuestionEvent) Name() string                { return NameResolveQuestion }
func (e *ResolveQuestionEvent) Principal() domain.Address { return e.Question }

type InitializeConditionalVaultEvent struct {
	Common
	Vault             domain.Address   `json:"vault"`
	Question          domain.Address   `json:"question"`
	UnderlyingMint    domain.Address   `json:"underlying_mint"`
	UnderlyingAccount domain.Address   `json:"underlying_account"`
	ConditionalMints  []domain.Address `json:"conditional_mints"`
	Decimals          uint8            `json:"decimals"`
}

func (*InitializeConditionalVaultEvent) Name() string                { return NameInitializeConditionalVault }
func (e *InitializeConditionalVaultEvent) Principal() domain.Address { return e.Vault }

// VaultChange is the body shared by split, merge and redeem events.
type VaultChange struct {
	Vault                        domain.Address `json:"vault"`
	Question                     domain.Address `json:"question"`
	Amount                       uint64         `json:"amount"`
	PostUserUnderlyingBalance    uint64         `json:"post_user_underlying_balance"`
	PostVaultUnderlyingBalance   uint64         `json:"post_vault_underlying_balance"`
	PostUserConditionalBalances  []uint64       `json:"post_user_conditional_token_balances"`
	PostConditionalTokenSupplies []uint64       `json:"post_conditional_token_supplies"`
}

type SplitTokensEvent struct {
	Common
	VaultChange
}

func (*SplitTokensEvent) Name() string                { return NameSplitTokens }
func (e *SplitTokensEvent) Principal() domain.Address { return e.Vault }

type MergeTokensEvent struct {
	Common
	VaultChange
}

func (*MergeTokensEvent) Name() string                { return NameMergeTokens }
func (e *MergeTokensEvent) Principal() domain.Address { return e.Vault }

type RedeemTokensEvent struct {
	Common
	VaultChange
	PayoutNumerators []uint32 `json:"payout_numerators"`
}

func (*RedeemTokensEvent) Name() string                { return NameRedeemTokens }
func (e *RedeemTokensEvent) Principal() domain.Address { return e.Vault }

// DaoState is a DAO's configuration as carried by DAO events.
type DaoState struct {
	PassThresholdBps                  uint64          `json:"pass_threshold_bps"`
	SlotsPerProposal                  uint64          `json:"slots_per_proposal"`
	TwapInitialObservation            fixedpoint.U128 `json:"twap_initial_observation"`
	TwapMaxObservationChangePerUpdate fixedpoint.U128 `json:"twap_max_observation_change_per_update"`
	MinBaseFutarchicLiquidity         uint64          `json:"min_base_futarchic_liquidity"`
	MinQuoteFutarchicLiquidity        uint64          `json:"min_quote_futarchic_liquidity"`
}

// DaoStateOf copies the event view of d.
func DaoStateOf(d *domain.Dao) DaoState {
	return DaoState{
		PassThresholdBps:                  d.PassThresholdBps,
		SlotsPerProposal:                  d.SlotsPerProposal,
		TwapInitialObservation:            d.TwapInitialObservation,
		TwapMaxObservationChangePerUpdate: d.TwapMaxObservationChangePerUpdate,
		MinBaseFutarchicLiquidity:         d.MinBaseFutarchicLiquidity,
		MinQuoteFutarchicLiquidity:        d.MinQuoteFutarchicLiquidity,
	}
}

type InitializeDaoEvent struct {
	Common
	Dao       domain.Address `json:"dao"`
	Treasury  domain.Address `json:"treasury"`
	TokenMint domain.Address `json:"token_mint"`
	UsdcMint  domain.Address `json:"usdc_mint"`
	Config    DaoState       `json:"config"`
}

func (*InitializeDaoEvent) Name() string                { return NameInitializeDao }
func (e *InitializeDaoEvent) Principal() domain.Address { return e.Dao }

type UpdateDaoEvent struct {
	Common
	Dao    domain.Address `json:"dao"`
	Config DaoState       `json:"config"`
}

func (*UpdateDaoEvent) Name() string                { return NameUpdateDao }
func (e *UpdateDaoEvent) Principal() domain.Address { return e.Dao }

type InitializeProposalEvent struct {
	Common
	Proposal           domain.Address `json:"proposal"`
	Dao                domain.Address `json:"dao"`
	Number             uint64         `json:"number"`
	Proposer           domain.Address `json:"proposer"`
	DescriptionURL     string         `json:"description_url"`
	PassAmm            domain.Address `json:"pass_amm"`
	FailAmm            domain.Address `json:"fail_amm"`
	BaseVault          domain.Address `json:"base_vault"`
	QuoteVault         domain.Address `json:"quote_vault"`
	PassLpTokensLocked uint64         `json:"pass_lp_tokens_locked"`
	FailLpTokensLocked uint64         `json:"fail_lp_tokens_locked"`
	SlotEnqueued       uint64         `json:"slot_enqueued"`
}

func (*InitializeProposalEvent) Name() string                { return NameInitializeProposal }
func (e *InitializeProposalEvent) Principal() domain.Address { return e.Proposal }

type FinalizeProposalEvent struct {
	Common
	Proposal  domain.Address       `json:"proposal"`
	State     domain.ProposalState `json:"state"`
	PassTwap  fixedpoint.U128      `json:"pass_twap"`
	FailTwap  fixedpoint.U128      `json:"fail_twap"`
	Threshold fixedpoint.U128      `json:"threshold"`
	Payout    []uint32             `json:"payout"`
}

func (*FinalizeProposalEvent) Name() string                { return NameFinalizeProposal }
func (e *FinalizeProposalEvent) Principal() domain.Address { return e.Proposal }

type ExecuteProposalEvent struct {
	Common
	Proposal  domain.Address `json:"proposal"`
	ProgramID domain.Address `json:"program_id"`
	Memos     []string       `json:"memos,omitempty"`
}

func (*ExecuteProposalEvent) Name() string                { return NameExecuteProposal }
func (e *ExecuteProposalEvent) Principal() domain.Address { return e.Proposal }

var factories = map[string]func() Event{
	NameCreateAmm:                  func() Event { return new(CreateAmmEvent) },
	NameSwap:                       func() Event { return new(SwapEvent) },
	NameAddLiquidity:               func() Event { return new(AddLiquidityEvent) },
	NameRemoveLiquidity:            func() Event { return new(RemoveLiquidityEvent) },
	NameCrankTwap:                  func() Event { return new(CrankTwapEvent) },
	NameInitializeQuestion:         func() Event { return new(InitializeQuestionEvent) },
	NameResolveQuestion:            func() Event { return new(ResolveQuestionEvent) },
	NameInitializeConditionalVault: func() Event { return new(InitializeConditionalVaultEvent) },
	NameSplitTokens:                func() Event { return new(SplitTokensEvent) },
	NameMergeTokens:                func() Event { return new(MergeTokensEvent) },
	NameRedeemTokens:               func() Event { return new(RedeemTokensEvent) },
	NameInitializeDao:              func() Event { return new(InitializeDaoEvent) },
	NameUpdateDao:                  func() Event { return new(UpdateDaoEvent) },
	NameInitializeProposal:         func() Event { return new(InitializeProposalEvent) },
	NameFinalizeProposal:           func() Event { return new(FinalizeProposalEvent) },
	NameExecuteProposal:            func() Event { return new(ExecuteProposalEvent) },
}

// Names lists every event name.
func Names() []string {
	return []string{
		NameCreateAmm, NameSwap, NameAddLiquidity, NameRemoveLiquidity, NameCrankTwap,
		NameInitializeQuestion, NameResolveQuestion,
		NameInitializeConditionalVault, NameSplitTokens, NameMergeTokens, NameRedeemTokens,
		NameInitializeDao, NameUpdateDao,
		NameInitializeProposal, NameFinalizeProposal, NameExecuteProposal,
	}
}

// Seal encodes e into a record.
func Seal(e Event) (domain.EventRecord, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return domain.EventRecord{}, fmt.Errorf("encode %s: %w", e.Name(), err)
	}
	h := e.Header()
	return domain.EventRecord{
		Name:          e.Name(),
		Principal:     e.Principal(),
		SeqNum:        h.SeqNum,
		Slot:          h.Slot,
		UnixTimestamp: h.UnixTimestamp,
		Actor:         h.User,
		Payload:       payload,
	}, nil
}

// Decode reverses Seal.
func Decode(rec domain.EventRecord) (Event, error) {
	newEvent, ok := factories[rec.Name]
	if !ok {
		return nil, fmt.Errorf("unknown event %q", rec.Name)
	}
	e := newEvent()
	if err := json.Unmarshal(rec.Payload, e); err != nil {
		return nil, fmt.Errorf("decode %s: %w", rec.Name, err)
	}
	return e, nil
}
