// Package proposal implements the futarchy proposal lifecycle: creation
// against a pair of conditional markets, finalization by comparing their
// TWAPs, and one-shot execution of the attached instruction signed by the
// DAO treasury.
package proposal

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"

	"futarchy-core/internal/amm"
	"futarchy-core/internal/domain"
	"futarchy-core/internal/fixedpoint"
	"futarchy-core/internal/idhash"
	"futarchy-core/internal/question"
	"futarchy-core/internal/token"
)

// Markets are the objects a proposal trades against. Outcome 0 of each
// vault is the pass side, outcome 1 the fail side.
type Markets struct {
	PassAmm       *domain.Amm
	FailAmm       *domain.Amm
	BaseVault     *domain.ConditionalVault
	QuoteVault    *domain.ConditionalVault
	BaseQuestion  *domain.Question
	QuoteQuestion *domain.Question
}

// InitializeParams are the proposer's inputs.
type InitializeParams struct {
	Proposer           domain.Address
	DescriptionURL     string
	Instruction        domain.ProposalInstruction
	PassLpTokensToLock uint64
	FailLpTokensToLock uint64
}

// CheckPreconditions validates markets for a new proposal of d at slot.
func CheckPreconditions(d *domain.Dao, m Markets, p InitializeParams, tx *token.Tx, slot uint64) error {
	for _, a := range []*domain.Amm{m.PassAmm, m.FailAmm} {
		if slot > a.CreatedAtSlot && slot-a.CreatedAtSlot > MaxAmmAgeSlots {
			return fmt.Errorf("%w: %s created at slot %d", ErrAmmTooOld, a.Address, a.CreatedAtSlot)
		}
		if !a.Oracle.InitialObservation.Eq(d.TwapInitialObservation) {
			return fmt.Errorf("%w: %s", ErrInvalidInitialObservation, a.Address)
		}
		if !a.Oracle.MaxObservationChangePerUpdate.Eq(d.TwapMaxObservationChangePerUpdate) {
			return fmt.Errorf("%w: %s", ErrInvalidMaxObservationChange, a.Address)
		}
	}

	if m.BaseVault.UnderlyingMint != d.TokenMint {
		return ErrInvalidBaseVault
	}
	if m.QuoteVault.UnderlyingMint != d.UsdcMint {
		return ErrInvalidQuoteVault
	}
	for _, pair := range []struct {
		v *domain.ConditionalVault
		q *domain.Question
	}{{m.BaseVault, m.BaseQuestion}, {m.QuoteVault, m.QuoteQuestion}} {
		if pair.q.Address != pair.v.Question || pair.q.Oracle != d.Treasury ||
			pair.q.NumOutcomes() != 2 || pair.q.IsResolved() {
			return fmt.Errorf("%w: vault %s", ErrInvalidSettlementAuthority, pair.v.Address)
		}
		if len(pair.v.ConditionalMints) != 2 {
			return fmt.Errorf("%w: vault %s", ErrConditionalMintMismatch, pair.v.Address)
		}
	}

	if m.PassAmm.BaseMint != m.BaseVault.ConditionalMints[0] ||
		m.PassAmm.QuoteMint != m.QuoteVault.ConditionalMints[0] {
		return fmt.Errorf("%w: pass amm", ErrConditionalMintMismatch)
	}
	if m.FailAmm.BaseMint != m.BaseVault.ConditionalMints[1] ||
		m.FailAmm.QuoteMint != m.QuoteVault.ConditionalMints[1] {
		return fmt.Errorf("%w: fail amm", ErrConditionalMintMismatch)
	}

	locks := []struct {
		a      *domain.Amm
		amount uint64
	}{{m.PassAmm, p.PassLpTokensToLock}, {m.FailAmm, p.FailLpTokensToLock}}
	for _, l := range locks {
		base, quote, err := amm.Withdrawable(l.a, l.amount)
		if err != nil {
			return err
		}
		if base < d.MinBaseFutarchicLiquidity || quote < d.MinQuoteFutarchicLiquidity {
			return fmt.Errorf("%w: %s locks (%d, %d)", ErrInsufficientLpTokenLock, l.a.Address, base, quote)
		}
		if have := tx.Balance(p.Proposer, l.a.LpMint); have < l.amount {
			return fmt.Errorf("%w: %s have %d, need %d", ErrInsufficientLpTokenBalance, l.a.Address, have, l.amount)
		}
	}
	return nil
}

func (m Markets) addresses() []domain.Address {
	return []domain.Address{
		m.PassAmm.Address, m.FailAmm.Address,
		m.BaseVault.Address, m.QuoteVault.Address,
		m.BaseQuestion.Address, m.QuoteQuestion.Address,
	}
}

// CheckMarketsFree rejects markets sharing a pool, vault or question with
// the markets of a pending proposal. A question resolves once, so the later
// proposal could never finalize.
func CheckMarketsFree(m Markets, pending []Markets) error {
	used := make(map[domain.Address]bool)
	for _, other := range pending {
		for _, addr := range other.addresses() {
			used[addr] = true
		}
	}
	for _, addr := range m.addresses() {
		if used[addr] {
			return fmt.Errorf("%w: %s", ErrMarketsInUse, addr)
		}
	}
	return nil
}

// Initialize creates proposal number d.ProposalCount+1 and moves the locked
// LP tokens into the proposal's lock account. Both oracles must already be
// updated to slot so the TWAP window starts exactly at enqueue.
func Initialize(d *domain.Dao, m Markets, p InitializeParams, tx *token.Tx, slot uint64) (*domain.Proposal, error) {
	if err := CheckPreconditions(d, m, p, tx, slot); err != nil {
		return nil, err
	}
	number := d.ProposalCount + 1
	addr := idhash.ProposalAddress(d.Address, number)
	lock := idhash.LpLockAddress(addr)
	if err := tx.Transfer(m.PassAmm.LpMint, p.Proposer, lock, p.PassLpTokensToLock); err != nil {
		return nil, err
	}
	if err := tx.Transfer(m.FailAmm.LpMint, p.Proposer, lock, p.FailLpTokensToLock); err != nil {
		return nil, err
	}

	d.ProposalCount = number
	return &domain.Proposal{
		Address:            addr,
		Number:             number,
		Proposer:           p.Proposer,
		DescriptionURL:     p.DescriptionURL,
		SlotEnqueued:       slot,
		State:              domain.ProposalPending,
		Instruction:        p.Instruction.Clone(),
		PassAmm:            m.PassAmm.Address,
		FailAmm:            m.FailAmm.Address,
		BaseVault:          m.BaseVault.Address,
		QuoteVault:         m.QuoteVault.Address,
		Dao:                d.Address,
		PassLpTokensLocked: p.PassLpTokensToLock,
		FailLpTokensLocked: p.FailLpTokensToLock,
		PassTwapStart:      m.PassAmm.Oracle.Checkpoint(),
		FailTwapStart:      m.FailAmm.Oracle.Checkpoint(),
	}, nil
}

// Threshold returns fail_twap * (10000 + bps) / 10000, saturating.
func Threshold(failTwap fixedpoint.U128, passThresholdBps uint64) fixedpoint.U128 {
	factor := fixedpoint.NewU128(fixedpoint.BPSScale).Add(fixedpoint.NewU128(passThresholdBps))
	t, _ := failTwap.Mul(factor).DivUint64(fixedpoint.BPSScale)
	return t
}

// Decide returns PASSED when passTwap beats the threshold, FAILED otherwise.
func Decide(passTwap, failTwap fixedpoint.U128, passThresholdBps uint64) domain.ProposalState {
	if passTwap.Gt(Threshold(failTwap, passThresholdBps)) {
		return domain.ProposalPassed
	}
	return domain.ProposalFailed
}

// FinalizeResult reports how a proposal was decided.
type FinalizeResult struct {
	State     domain.ProposalState `json:"state"`
	PassTwap  fixedpoint.U128      `json:"pass_twap"`
	FailTwap  fixedpoint.U128      `json:"fail_twap"`
	Threshold fixedpoint.U128      `json:"threshold"`
	Payout    []uint32             `json:"payout"`
}

// CheckFinalizable reports whether p can be finalized at slot.
func CheckFinalizable(p *domain.Proposal, d *domain.Dao, passAmm, failAmm *domain.Amm, slot uint64) error {
	if p.State != domain.ProposalPending {
		return ErrProposalAlreadyFinalized
	}
	if slot < p.SlotEnqueued+d.SlotsPerProposal {
		return fmt.Errorf("%w: finalizable at slot %d", ErrProposalTooYoung, p.SlotEnqueued+d.SlotsPerProposal)
	}
	for _, a := range []*domain.Amm{passAmm, failAmm} {
		if a.Oracle.LastUpdatedSlot < p.SlotEnqueued+d.SlotsPerProposal {
			return fmt.Errorf("%w: %s last updated at slot %d", ErrMarketsTooYoung, a.Address, a.Oracle.LastUpdatedSlot)
		}
	}
	return nil
}

// Finalize decides p from its markets' TWAPs, settles both vault questions
// to the matching payout and returns the locked LP tokens to the proposer.
func Finalize(p *domain.Proposal, d *domain.Dao, m Markets, tx *token.Tx, slot uint64) (FinalizeResult, error) {
	if p.Dao != d.Address || p.PassAmm != m.PassAmm.Address || p.FailAmm != m.FailAmm.Address ||
		p.BaseVault != m.BaseVault.Address || p.QuoteVault != m.QuoteVault.Address {
		return FinalizeResult{}, ErrDaoMismatch
	}
	if err := CheckFinalizable(p, d, m.PassAmm, m.FailAmm, slot); err != nil {
		return FinalizeResult{}, err
	}

	passTwap, err := amm.TwapSince(m.PassAmm.Oracle, p.PassTwapStart)
	if err != nil {
		return FinalizeResult{}, err
	}
	failTwap, err := amm.TwapSince(m.FailAmm.Oracle, p.FailTwapStart)
	if err != nil {
		return FinalizeResult{}, err
	}

	res := FinalizeResult{
		State:     Decide(passTwap, failTwap, d.PassThresholdBps),
		PassTwap:  passTwap,
		FailTwap:  failTwap,
		Threshold: Threshold(failTwap, d.PassThresholdBps),
		Payout:    question.FinalizedPayout,
	}
	want := question.StatusFinalized
	if res.State == domain.ProposalFailed {
		res.Payout = question.RevertedPayout
		want = question.StatusReverted
	}

	if err := question.Resolve(m.BaseQuestion, d.Treasury, res.Payout); err != nil {
		return FinalizeResult{}, err
	}
	if m.QuoteQuestion.Address != m.BaseQuestion.Address {
		if err := question.Resolve(m.QuoteQuestion, d.Treasury, res.Payout); err != nil {
			return FinalizeResult{}, err
		}
	}
	if base, quote := question.StatusOf(m.BaseQuestion), question.StatusOf(m.QuoteQuestion); base != want || quote != want {
		return FinalizeResult{}, pkgerrors.WithStack(fmt.Errorf("%w: base %s, quote %s, want %s", ErrSettlementMismatch, base, quote, want))
	}

	lock := idhash.LpLockAddress(p.Address)
	if err := tx.Transfer(m.PassAmm.LpMint, lock, p.Proposer, p.PassLpTokensLocked); err != nil {
		return FinalizeResult{}, err
	}
	if err := tx.Transfer(m.FailAmm.LpMint, lock, p.Proposer, p.FailLpTokensLocked); err != nil {
		return FinalizeResult{}, err
	}

	p.State = res.State
	return res, nil
}

// Execute runs a passed proposal's instruction signed by the treasury and
// marks it EXECUTED. remaining lists the accounts the caller supplies.
func Execute(p *domain.Proposal, d *domain.Dao, programs *Registry, tx *token.Tx, remaining []domain.AccountMeta) (*ExecContext, error) {
	switch p.State {
	case domain.ProposalExecuted:
		return nil, ErrNoProposalReplay
	case domain.ProposalPassed:
	default:
		return nil, ErrProposalNotPassed
	}
	if p.Dao != d.Address {
		return nil, ErrDaoMismatch
	}

	ctx := &ExecContext{Dao: d, Signer: d.Treasury, Tx: tx}
	if err := programs.Invoke(ctx, p.Instruction, remaining); err != nil {
		return nil, err
	}
	p.State = domain.ProposalExecuted
	return ctx, nil
}
