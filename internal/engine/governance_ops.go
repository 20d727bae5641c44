package engine

import (
	"context"
	"fmt"

	"futarchy-core/internal/domain"
	"futarchy-core/internal/events"
	"futarchy-core/internal/observability"
	"futarchy-core/internal/proposal"
	"futarchy-core/internal/vault"
)

// InitializeDaoParams are the inputs of InitializeDao.
type InitializeDaoParams struct {
	TokenMint domain.Address `json:"token_mint"`
	UsdcMint  domain.Address `json:"usdc_mint"`
	Nonce     uint64         `json:"nonce"`

	// Config defaults to the engine's DaoDefaults when nil.
	Config *proposal.DaoConfig `json:"config,omitempty"`
}

// InitializeProposalParams are the inputs of InitializeProposal.
type InitializeProposalParams struct {
	Dao                domain.Address             `json:"dao"`
	PassAmm            domain.Address             `json:"pass_amm"`
	FailAmm            domain.Address             `json:"fail_amm"`
	BaseVault          domain.Address             `json:"base_vault"`
	QuoteVault         domain.Address             `json:"quote_vault"`
	DescriptionURL     string                     `json:"description_url"`
	Instruction        domain.ProposalInstruction `json:"instruction"`
	PassLpTokensToLock uint64                     `json:"pass_lp_tokens_to_lock"`
	FailLpTokensToLock uint64                     `json:"fail_lp_tokens_to_lock"`
}

// InitializeDao creates a DAO and its treasury.
func (e *Engine) InitializeDao(ctx context.Context, actor domain.Address, p InitializeDaoParams) (*domain.Dao, error) {
	cfg := e.cfg.DaoDefaults
	if p.Config != nil {
		cfg = *p.Config
	}
	d, err := proposal.NewDao(p.TokenMint, p.UsdcMint, p.Nonce, cfg)
	if err != nil {
		return nil, err
	}

	err = e.run(ctx, "initialize_dao", actor, []domain.Address{d.Address}, func(o *op) error {
		if err := absent(ctx, e.stores.Daos.GetByAddress, d.Address); err != nil {
			return err
		}
		for _, mint := range []domain.Address{d.TokenMint, d.UsdcMint} {
			if _, err := o.tx.Mint(mint); err != nil {
				return fmt.Errorf("dao mint: %w", err)
			}
		}
		if err := o.emit(&events.InitializeDaoEvent{
			Dao:       d.Address,
			Treasury:  d.Treasury,
			TokenMint: d.TokenMint,
			UsdcMint:  d.UsdcMint,
			Config:    events.DaoStateOf(d),
		}, &d.SeqNum, actor); err != nil {
			return err
		}
		o.write(func(ctx context.Context) error { return e.stores.Daos.Insert(ctx, d) })
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d.Clone(), nil
}

// loadMarkets reads the markets of a proposal. When both vaults share a
// question the same object backs BaseQuestion and QuoteQuestion.
func (e *Engine) loadMarkets(ctx context.Context, passAmm, failAmm, baseVault, quoteVault domain.Address) (proposal.Markets, error) {
	var (
		m   proposal.Markets
		err error
	)
	if m.PassAmm, err = e.stores.Amms.GetByAddress(ctx, passAmm); err != nil {
		return m, fmt.Errorf("pass amm %s: %w", passAmm, err)
	}
	if m.FailAmm, err = e.stores.Amms.GetByAddress(ctx, failAmm); err != nil {
		return m, fmt.Errorf("fail amm %s: %w", failAmm, err)
	}
	if m.BaseVault, err = e.stores.Vaults.GetByAddress(ctx, baseVault); err != nil {
		return m, fmt.Errorf("base vault %s: %w", baseVault, err)
	}
	if m.QuoteVault, err = e.stores.Vaults.GetByAddress(ctx, quoteVault); err != nil {
		return m, fmt.Errorf("quote vault %s: %w", quoteVault, err)
	}
	if m.BaseQuestion, err = e.stores.Questions.GetByAddress(ctx, m.BaseVault.Question); err != nil {
		return m, fmt.Errorf("base question: %w", err)
	}
	m.QuoteQuestion = m.BaseQuestion
	if m.QuoteVault.Question != m.BaseVault.Question {
		if m.QuoteQuestion, err = e.stores.Questions.GetByAddress(ctx, m.QuoteVault.Question); err != nil {
			return m, fmt.Errorf("quote question: %w", err)
		}
	}
	return m, nil
}

func marketKeys(m proposal.Markets) []domain.Address {
	return []domain.Address{
		m.PassAmm.Address, m.FailAmm.Address,
		m.BaseVault.Address, m.QuoteVault.Address,
		m.BaseQuestion.Address, m.QuoteQuestion.Address,
	}
}

// pendingMarkets loads the markets of dao's pending proposals. Callers hold
// the DAO lock, so none of them finalizes meanwhile.
func (e *Engine) pendingMarkets(ctx context.Context, dao domain.Address) ([]proposal.Markets, error) {
	props, err := e.stores.Proposals.GetByDao(ctx, dao)
	if err != nil {
		return nil, err
	}
	var out []proposal.Markets
	for _, p := range props {
		if p.State != domain.ProposalPending {
			continue
		}
		m, err := e.loadMarkets(ctx, p.PassAmm, p.FailAmm, p.BaseVault, p.QuoteVault)
		if err != nil {
			return nil, fmt.Errorf("proposal %s: %w", p.Address, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// InitializeProposal opens a proposal over the given markets. Both pools
// are cranked first so the TWAP windows start at the enqueue slot. The
// instruction is validated against the program registry up front.
func (e *Engine) InitializeProposal(ctx context.Context, actor domain.Address, p InitializeProposalParams) (*domain.Proposal, error) {
	pre, err := e.loadMarkets(ctx, p.PassAmm, p.FailAmm, p.BaseVault, p.QuoteVault)
	if err != nil {
		return nil, err
	}
	keys := append(marketKeys(pre), p.Dao)

	var created *domain.Proposal
	err = e.run(ctx, "initialize_proposal", actor, keys, func(o *op) error {
		d, err := e.stores.Daos.GetByAddress(ctx, p.Dao)
		if err != nil {
			return fmt.Errorf("dao %s: %w", p.Dao, err)
		}
		m, err := e.loadMarkets(ctx, p.PassAmm, p.FailAmm, p.BaseVault, p.QuoteVault)
		if err != nil {
			return err
		}
		if err := e.programs.Validate(p.Instruction, d.Treasury); err != nil {
			return err
		}
		pending, err := e.pendingMarkets(ctx, d.Address)
		if err != nil {
			return err
		}
		if err := proposal.CheckMarketsFree(m, pending); err != nil {
			return err
		}
		for _, a := range []*domain.Amm{m.PassAmm, m.FailAmm} {
			updated, err := e.crank(o, a)
			if err != nil {
				return err
			}
			if updated {
				a := a
				o.write(func(ctx context.Context) error { return e.stores.Amms.Update(ctx, a) })
			}
		}

		prop, err := proposal.Initialize(d, m, proposal.InitializeParams{
			Proposer:           actor,
			DescriptionURL:     p.DescriptionURL,
			Instruction:        p.Instruction,
			PassLpTokensToLock: p.PassLpTokensToLock,
			FailLpTokensToLock: p.FailLpTokensToLock,
		}, o.tx, o.slot)
		if err != nil {
			return err
		}
		if err := o.emit(&events.InitializeProposalEvent{
			Proposal:           prop.Address,
			Dao:                prop.Dao,
			Number:             prop.Number,
			Proposer:           prop.Proposer,
			DescriptionURL:     prop.DescriptionURL,
			PassAmm:            prop.PassAmm,
			FailAmm:            prop.FailAmm,
			BaseVault:          prop.BaseVault,
			QuoteVault:         prop.QuoteVault,
			PassLpTokensLocked: prop.PassLpTokensLocked,
			FailLpTokensLocked: prop.FailLpTokensLocked,
			SlotEnqueued:       prop.SlotEnqueued,
		}, &prop.SeqNum, actor); err != nil {
			return err
		}

		o.write(func(ctx context.Context) error { return e.stores.Proposals.Insert(ctx, prop) })
		o.write(func(ctx context.Context) error { return e.stores.Daos.Update(ctx, d) })
		created = prop
		return nil
	})
	if err != nil {
		return nil, err
	}
	observability.RecordProposalCreated()
	return created.Clone(), nil
}

// FinalizeProposal settles a proposal whose window has elapsed. Anyone may
// call it. It does not crank: the pools must already hold an observation at
// or after the end of the window.
func (e *Engine) FinalizeProposal(ctx context.Context, actor, addr domain.Address) (proposal.FinalizeResult, error) {
	var res proposal.FinalizeResult

	pre, err := e.stores.Proposals.GetByAddress(ctx, addr)
	if err != nil {
		return res, fmt.Errorf("proposal %s: %w", addr, err)
	}
	preMarkets, err := e.loadMarkets(ctx, pre.PassAmm, pre.FailAmm, pre.BaseVault, pre.QuoteVault)
	if err != nil {
		return res, err
	}
	keys := append(marketKeys(preMarkets), addr, pre.Dao)

	err = e.run(ctx, "finalize_proposal", actor, keys, func(o *op) error {
		p, err := e.stores.Proposals.GetByAddress(ctx, addr)
		if err != nil {
			return fmt.Errorf("proposal %s: %w", addr, err)
		}
		d, err := e.stores.Daos.GetByAddress(ctx, p.Dao)
		if err != nil {
			return fmt.Errorf("dao %s: %w", p.Dao, err)
		}
		m, err := e.loadMarkets(ctx, p.PassAmm, p.FailAmm, p.BaseVault, p.QuoteVault)
		if err != nil {
			return err
		}

		if res, err = proposal.Finalize(p, d, m, o.tx, o.slot); err != nil {
			return err
		}

		settled := []*domain.Question{m.BaseQuestion}
		if m.QuoteQuestion != m.BaseQuestion {
			settled = append(settled, m.QuoteQuestion)
		}
		for _, q := range settled {
			q := q
			if err := o.emit(&events.ResolveQuestionEvent{
				Question:          q.Address,
				PayoutNumerators:  append([]uint32(nil), q.PayoutNumerators...),
				PayoutDenominator: q.PayoutDenominator,
			}, &q.SeqNum, d.Treasury); err != nil {
				return err
			}
			o.write(func(ctx context.Context) error { return e.stores.Questions.Update(ctx, q) })
		}
		if err := vault.CheckInvariant(m.BaseVault, m.BaseQuestion, o.tx); err != nil {
			return err
		}
		if err := vault.CheckInvariant(m.QuoteVault, m.QuoteQuestion, o.tx); err != nil {
			return err
		}

		if err := o.emit(&events.FinalizeProposalEvent{
			Proposal:  p.Address,
			State:     res.State,
			PassTwap:  res.PassTwap,
			FailTwap:  res.FailTwap,
			Threshold: res.Threshold,
			Payout:    append([]uint32(nil), res.Payout...),
		}, &p.SeqNum, actor); err != nil {
			return err
		}
		o.write(func(ctx context.Context) error { return e.stores.Proposals.Update(ctx, p) })
		return nil
	})
	if err != nil {
		return res, err
	}
	observability.RecordProposalFinalized(string(res.State))
	return res, nil
}

// ExecuteProposal runs the instruction of a passed proposal, signed by the
// DAO treasury. remaining lists the accounts the instruction may touch.
func (e *Engine) ExecuteProposal(ctx context.Context, actor, addr domain.Address, remaining []domain.AccountMeta) (*domain.Proposal, error) {
	pre, err := e.stores.Proposals.GetByAddress(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("proposal %s: %w", addr, err)
	}

	var out *domain.Proposal
	err = e.run(ctx, "execute_proposal", actor, []domain.Address{addr, pre.Dao}, func(o *op) error {
		p, err := e.stores.Proposals.GetByAddress(ctx, addr)
		if err != nil {
			return fmt.Errorf("proposal %s: %w", addr, err)
		}
		d, err := e.stores.Daos.GetByAddress(ctx, p.Dao)
		if err != nil {
			return fmt.Errorf("dao %s: %w", p.Dao, err)
		}

		ec, err := proposal.Execute(p, d, e.programs, o.tx, remaining)
		if err != nil {
			return err
		}
		if ec.DaoUpdated {
			if err := o.emit(&events.UpdateDaoEvent{
				Dao:    d.Address,
				Config: events.DaoStateOf(d),
			}, &d.SeqNum, d.Treasury); err != nil {
				return err
			}
			o.write(func(ctx context.Context) error { return e.stores.Daos.Update(ctx, d) })
		}
		if err := o.emit(&events.ExecuteProposalEvent{
			Proposal:  p.Address,
			ProgramID: p.Instruction.ProgramID,
			Memos:     ec.Memos,
		}, &p.SeqNum, actor); err != nil {
			return err
		}
		o.write(func(ctx context.Context) error { return e.stores.Proposals.Update(ctx, p) })
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	observability.RecordProposalExecuted()
	return out.Clone(), nil
}
