package engine

import (
	"context"
	"fmt"

	"futarchy-core/internal/domain"
	"futarchy-core/internal/events"
	"futarchy-core/internal/idhash"
	"futarchy-core/internal/question"
	"futarchy-core/internal/vault"
)

// InitializeQuestionParams are the inputs of InitializeQuestion.
type InitializeQuestionParams struct {
	QuestionID  domain.QuestionID `json:"question_id"`
	Oracle      domain.Address    `json:"oracle"`
	NumOutcomes uint8             `json:"num_outcomes"`
}

// InitializeQuestion creates an unresolved question.
func (e *Engine) InitializeQuestion(ctx context.Context, actor domain.Address, p InitializeQuestionParams) (*domain.Question, error) {
	addr := idhash.QuestionAddress(p.QuestionID, p.Oracle, p.NumOutcomes)

	var created *domain.Question
	err := e.run(ctx, "initialize_question", actor, []domain.Address{addr}, func(o *op) error {
		if err := absent(ctx, e.stores.Questions.GetByAddress, addr); err != nil {
			return err
		}
		q, err := question.New(p.QuestionID, p.Oracle, p.NumOutcomes)
		if err != nil {
			return err
		}
		if err := o.emit(&events.InitializeQuestionEvent{
			Question:    q.Address,
			QuestionID:  q.QuestionID,
			Oracle:      q.Oracle,
			NumOutcomes: q.NumOutcomes(),
		}, &q.SeqNum, actor); err != nil {
			return err
		}
		o.write(func(ctx context.Context) error { return e.stores.Questions.Insert(ctx, q) })
		created = q
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created.Clone(), nil
}

// ResolveQuestion installs the payout vector. Only the question's oracle
// may sign.
func (e *Engine) ResolveQuestion(ctx context.Context, actor, addr domain.Address, numerators []uint32) (*domain.Question, error) {
	var out *domain.Question
	err := e.run(ctx, "resolve_question", actor, []domain.Address{addr}, func(o *op) error {
		q, err := e.stores.Questions.GetByAddress(ctx, addr)
		if err != nil {
			return fmt.Errorf("question %s: %w", addr, err)
		}
		if err := e.resolve(o, q, actor, numerators); err != nil {
			return err
		}
		out = q
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out.Clone(), nil
}

// resolve resolves q inside o, emits the event and queues the write.
func (e *Engine) resolve(o *op, q *domain.Question, signer domain.Address, numerators []uint32) error {
	if err := question.Resolve(q, signer, numerators); err != nil {
		return err
	}
	if err := o.emit(&events.ResolveQuestionEvent{
		Question:          q.Address,
		PayoutNumerators:  append([]uint32(nil), q.PayoutNumerators...),
		PayoutDenominator: q.PayoutDenominator,
	}, &q.SeqNum, signer); err != nil {
		return err
	}
	o.write(func(ctx context.Context) error { return e.stores.Questions.Update(ctx, q) })
	return nil
}

// InitializeConditionalVault creates the vault of (question, underlying)
// and its conditional mints.
func (e *Engine) InitializeConditionalVault(ctx context.Context, actor, questionAddr, underlyingMint domain.Address) (*domain.ConditionalVault, error) {
	addr := idhash.VaultAddress(questionAddr, underlyingMint)

	var created *domain.ConditionalVault
	err := e.run(ctx, "initialize_conditional_vault", actor, []domain.Address{addr, questionAddr}, func(o *op) error {
		if err := absent(ctx, e.stores.Vaults.GetByAddress, addr); err != nil {
			return err
		}
		q, err := e.stores.Questions.GetByAddress(ctx, questionAddr)
		if err != nil {
			return fmt.Errorf("question %s: %w", questionAddr, err)
		}
		underlying, err := o.tx.Mint(underlyingMint)
		if err != nil {
			return fmt.Errorf("underlying mint: %w", err)
		}
		v, err := vault.New(q, underlying)
		if err != nil {
			return err
		}
		if err := vault.InitializeMints(v, o.tx); err != nil {
			return err
		}
		if err := o.emit(&events.InitializeConditionalVaultEvent{
			Vault:             v.Address,
			Question:          v.Question,
			UnderlyingMint:    v.UnderlyingMint,
			UnderlyingAccount: v.UnderlyingAccount,
			ConditionalMints:  append([]domain.Address(nil), v.ConditionalMints...),
			Decimals:          v.Decimals,
		}, &v.SeqNum, actor); err != nil {
			return err
		}
		o.write(func(ctx context.Context) error { return e.stores.Vaults.Insert(ctx, v) })
		created = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created.Clone(), nil
}

type vaultFunc func(v *domain.ConditionalVault, q *domain.Question, o *op) (vault.Result, events.Event, error)

// withVault locks a vault and its question, runs fn, checks conservation
// and emits the event fn built.
func (e *Engine) withVault(ctx context.Context, name string, actor, addr domain.Address, fn vaultFunc) (vault.Result, error) {
	var res vault.Result

	v, err := e.stores.Vaults.GetByAddress(ctx, addr)
	if err != nil {
		return res, fmt.Errorf("vault %s: %w", addr, err)
	}
	err = e.run(ctx, name, actor, []domain.Address{addr, v.Question}, func(o *op) error {
		v, err := e.stores.Vaults.GetByAddress(ctx, addr)
		if err != nil {
			return fmt.Errorf("vault %s: %w", addr, err)
		}
		q, err := e.stores.Questions.GetByAddress(ctx, v.Question)
		if err != nil {
			return fmt.Errorf("question %s: %w", v.Question, err)
		}
		var ev events.Event
		if res, ev, err = fn(v, q, o); err != nil {
			return err
		}
		if err := vault.CheckInvariant(v, q, o.tx); err != nil {
			return err
		}
		if err := o.emit(ev, &v.SeqNum, actor); err != nil {
			return err
		}
		o.write(func(ctx context.Context) error { return e.stores.Vaults.Update(ctx, v) })
		return nil
	})
	return res, err
}

func change(v *domain.ConditionalVault, o *op, res vault.Result) events.VaultChange {
	return events.VaultChange{
		Vault:                        v.Address,
		Question:                     v.Question,
		Amount:                       res.Amount,
		PostUserUnderlyingBalance:    o.tx.Balance(o.actor, v.UnderlyingMint),
		PostVaultUnderlyingBalance:   res.UnderlyingBalance,
		PostUserConditionalBalances:  res.ConditionalBalances,
		PostConditionalTokenSupplies: res.ConditionalSupplies,
	}
}

// SplitTokens deposits amount underlying and mints amount of every
// conditional token to actor.
func (e *Engine) SplitTokens(ctx context.Context, actor, addr domain.Address, amount uint64) (vault.Result, error) {
	return e.withVault(ctx, "split_tokens", actor, addr, func(v *domain.ConditionalVault, q *domain.Question, o *op) (vault.Result, events.Event, error) {
		res, err := vault.Split(v, q, o.tx, actor, amount)
		if err != nil {
			return res, nil, err
		}
		return res, &events.SplitTokensEvent{VaultChange: change(v, o, res)}, nil
	})
}

// MergeTokens burns amount of every conditional token and returns amount
// underlying to actor.
func (e *Engine) MergeTokens(ctx context.Context, actor, addr domain.Address, amount uint64) (vault.Result, error) {
	return e.withVault(ctx, "merge_tokens", actor, addr, func(v *domain.ConditionalVault, q *domain.Question, o *op) (vault.Result, events.Event, error) {
		res, err := vault.Merge(v, q, o.tx, actor, amount)
		if err != nil {
			return res, nil, err
		}
		return res, &events.MergeTokensEvent{VaultChange: change(v, o, res)}, nil
	})
}

// RedeemTokens burns all of actor's conditional tokens and pays out per the
// resolved question.
func (e *Engine) RedeemTokens(ctx context.Context, actor, addr domain.Address) (vault.Result, error) {
	return e.withVault(ctx, "redeem_tokens", actor, addr, func(v *domain.ConditionalVault, q *domain.Question, o *op) (vault.Result, events.Event, error) {
		res, err := vault.Redeem(v, q, o.tx, actor)
		if err != nil {
			return res, nil, err
		}
		return res, &events.RedeemTokensEvent{
			VaultChange:      change(v, o, res),
			PayoutNumerators: append([]uint32(nil), q.PayoutNumerators...),
		}, nil
	})
}
