package engine

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"futarchy-core/internal/amm"
	"futarchy-core/internal/domain"
	"futarchy-core/internal/fixedpoint"
	"futarchy-core/internal/question"
)

// AmmView is a pool with its reserves and prices in real units.
type AmmView struct {
	*domain.Amm
	BaseReserveUnits  decimal.Decimal `json:"base_reserve_units"`
	QuoteReserveUnits decimal.Decimal `json:"quote_reserve_units"`
	SpotPrice         string          `json:"spot_price,omitempty"`
	LastObservation   string          `json:"last_observation_price"`
}

// ProposalView is a proposal with the TWAPs of its markets so far.
type ProposalView struct {
	*domain.Proposal
	PassTwap string `json:"pass_twap,omitempty"`
	FailTwap string `json:"fail_twap,omitempty"`
}

// QuestionView is a question with its derived status.
type QuestionView struct {
	*domain.Question
	Status question.Status `json:"status"`
}

// GetAmm returns a pool.
func (e *Engine) GetAmm(ctx context.Context, addr domain.Address) (*domain.Amm, error) {
	return e.stores.Amms.GetByAddress(ctx, addr)
}

// ListAmms returns every pool.
func (e *Engine) ListAmms(ctx context.Context) ([]*domain.Amm, error) {
	return e.stores.Amms.List(ctx)
}

// ViewAmm renders a pool for display.
func ViewAmm(a *domain.Amm) (AmmView, error) {
	base, err := fixedpoint.ToUnits(a.BaseReserve, a.BaseMintDecimals)
	if err != nil {
		return AmmView{}, err
	}
	quote, err := fixedpoint.ToUnits(a.QuoteReserve, a.QuoteMintDecimals)
	if err != nil {
		return AmmView{}, err
	}
	v := AmmView{
		Amm:               a,
		BaseReserveUnits:  base,
		QuoteReserveUnits: quote,
		LastObservation:   amm.PriceUnits(a.Oracle.LastObservation),
	}
	spot, ok, err := amm.Spot(a)
	if err != nil {
		return AmmView{}, err
	}
	if ok {
		v.SpotPrice = amm.PriceUnits(spot)
	}
	return v, nil
}

// GetQuestion returns a question with its status.
func (e *Engine) GetQuestion(ctx context.Context, addr domain.Address) (QuestionView, error) {
	q, err := e.stores.Questions.GetByAddress(ctx, addr)
	if err != nil {
		return QuestionView{}, err
	}
	return QuestionView{Question: q, Status: question.StatusOf(q)}, nil
}

// ListQuestions returns every question.
func (e *Engine) ListQuestions(ctx context.Context) ([]*domain.Question, error) {
	return e.stores.Questions.List(ctx)
}

// GetVault returns a conditional vault.
func (e *Engine) GetVault(ctx context.Context, addr domain.Address) (*domain.ConditionalVault, error) {
	return e.stores.Vaults.GetByAddress(ctx, addr)
}

// VaultsOf returns the vaults over a question.
func (e *Engine) VaultsOf(ctx context.Context, questionAddr domain.Address) ([]*domain.ConditionalVault, error) {
	return e.stores.Vaults.GetByQuestion(ctx, questionAddr)
}

// GetDao returns a DAO.
func (e *Engine) GetDao(ctx context.Context, addr domain.Address) (*domain.Dao, error) {
	return e.stores.Daos.GetByAddress(ctx, addr)
}

// ListDaos returns every DAO.
func (e *Engine) ListDaos(ctx context.Context) ([]*domain.Dao, error) {
	return e.stores.Daos.List(ctx)
}

// GetProposal returns a proposal.
func (e *Engine) GetProposal(ctx context.Context, addr domain.Address) (*domain.Proposal, error) {
	return e.stores.Proposals.GetByAddress(ctx, addr)
}

// ProposalsOf returns a DAO's proposals by number.
func (e *Engine) ProposalsOf(ctx context.Context, dao domain.Address) ([]*domain.Proposal, error) {
	return e.stores.Proposals.GetByDao(ctx, dao)
}

// PendingProposals returns the proposals still awaiting finalization.
func (e *Engine) PendingProposals(ctx context.Context) ([]*domain.Proposal, error) {
	return e.stores.Proposals.GetByState(ctx, domain.ProposalPending)
}

// ViewProposal adds the TWAPs observed since enqueue. A market with no
// observation since enqueue has no TWAP yet.
func (e *Engine) ViewProposal(ctx context.Context, p *domain.Proposal) (ProposalView, error) {
	v := ProposalView{Proposal: p}
	for _, side := range []struct {
		amm   domain.Address
		start domain.TwapCheckpoint
		out   *string
	}{{p.PassAmm, p.PassTwapStart, &v.PassTwap}, {p.FailAmm, p.FailTwapStart, &v.FailTwap}} {
		a, err := e.stores.Amms.GetByAddress(ctx, side.amm)
		if err != nil {
			return v, err
		}
		twap, err := amm.TwapSince(a.Oracle, side.start)
		if errors.Is(err, amm.ErrNoObservations) {
			continue
		}
		if err != nil {
			return v, err
		}
		*side.out = amm.PriceUnits(twap)
	}
	return v, nil
}
