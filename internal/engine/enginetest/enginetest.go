// Package enginetest builds engines over memory stores with funded mints,
// a DAO and ready proposal markets, for tests of packages driving the
// engine.
package enginetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"futarchy-core/internal/amm"
	"futarchy-core/internal/clock"
	"futarchy-core/internal/domain"
	"futarchy-core/internal/engine"
	"futarchy-core/internal/events"
	"futarchy-core/internal/proposal"
	"futarchy-core/internal/storage/memory"
	"futarchy-core/internal/token"
)

// Well-known principals and mints.
var (
	Authority = domain.AddressFromSeed("authority")
	Proposer  = domain.AddressFromSeed("proposer")
	Trader    = domain.AddressFromSeed("trader")
	MetaMint  = domain.AddressFromSeed("META")
	UsdcMint  = domain.AddressFromSeed("USDC")
)

// Fixture sizes.
const (
	Funding   = 1_000_000_000_000
	Split     = 1_000_000_000
	Liquidity = 1_000_000
	Lock      = 500_000
	Window    = 100
)

// MemoryStores returns fresh memory stores for every object.
func MemoryStores() engine.Stores {
	return engine.Stores{
		Amms:      memory.NewAmmStore(),
		Questions: memory.NewQuestionStore(),
		Vaults:    memory.NewVaultStore(),
		Daos:      memory.NewDaoStore(),
		Proposals: memory.NewProposalStore(),
	}
}

// Fixture is a running engine with a manual clock.
type Fixture struct {
	T      *testing.T
	Ctx    context.Context
	Engine *engine.Engine
	Clock  *clock.Manual
	Events *events.Recorder
	Stores engine.Stores
	Dao    *domain.Dao
}

// New creates an engine at slot 1 with META and USDC funded to Proposer
// and a DAO with a Window slot voting period.
func New(t *testing.T, logger *zap.Logger) *Fixture {
	t.Helper()
	cfg := engine.Config{DaoDefaults: proposal.DefaultDaoConfig()}
	cfg.DaoDefaults.SlotsPerProposal = Window
	cfg.DaoDefaults.MinBaseFutarchicLiquidity = 1000
	cfg.DaoDefaults.MinQuoteFutarchicLiquidity = 1000

	f := &Fixture{
		T:      t,
		Ctx:    context.Background(),
		Clock:  clock.NewManual(1),
		Events: events.NewRecorder(),
		Stores: MemoryStores(),
	}
	f.Engine = engine.New(cfg, logger, f.Clock, token.NewLedger(), f.Stores, f.Events)

	for _, m := range []domain.Address{MetaMint, UsdcMint} {
		_, err := f.Engine.CreateMint(f.Ctx, Authority, engine.CreateMintParams{Address: m, Decimals: 6})
		require.NoError(t, err)
		require.NoError(t, f.Engine.MintTo(f.Ctx, Authority, m, Proposer, Funding))
	}

	d, err := f.Engine.InitializeDao(f.Ctx, Authority, engine.InitializeDaoParams{TokenMint: MetaMint, UsdcMint: UsdcMint})
	require.NoError(t, err)
	f.Dao = d
	return f
}

// Markets is the question, vaults and pools of one proposal.
type Markets struct {
	Question   *domain.Question
	BaseVault  *domain.ConditionalVault
	QuoteVault *domain.ConditionalVault
	PassAmm    *domain.Amm
	FailAmm    *domain.Amm
}

// Markets creates a DAO-settled question, both vaults over it and pass
// and fail pools seeded at 1.0 by Proposer.
func (f *Fixture) Markets(id byte) Markets {
	f.T.Helper()
	t := f.T
	q, err := f.Engine.InitializeQuestion(f.Ctx, Proposer, engine.InitializeQuestionParams{
		QuestionID:  domain.QuestionID{id},
		Oracle:      f.Dao.Treasury,
		NumOutcomes: 2,
	})
	require.NoError(t, err)

	m := Markets{Question: q}
	m.BaseVault, err = f.Engine.InitializeConditionalVault(f.Ctx, Proposer, q.Address, MetaMint)
	require.NoError(t, err)
	m.QuoteVault, err = f.Engine.InitializeConditionalVault(f.Ctx, Proposer, q.Address, UsdcMint)
	require.NoError(t, err)
	for _, v := range []*domain.ConditionalVault{m.BaseVault, m.QuoteVault} {
		_, err := f.Engine.SplitTokens(f.Ctx, Proposer, v.Address, Split)
		require.NoError(t, err)
	}

	mk := func(outcome int) *domain.Amm {
		a, err := f.Engine.CreateAmm(f.Ctx, Proposer, engine.CreateAmmParams{
			BaseMint:                          m.BaseVault.ConditionalMints[outcome],
			QuoteMint:                         m.QuoteVault.ConditionalMints[outcome],
			SwapFeeBps:                        30,
			TwapInitialObservation:            f.Dao.TwapInitialObservation,
			TwapMaxObservationChangePerUpdate: f.Dao.TwapMaxObservationChangePerUpdate,
		})
		require.NoError(t, err)
		_, err = f.Engine.AddLiquidity(f.Ctx, Proposer, a.Address, amm.AddLiquidityArgs{
			MaxBaseAmount:  Liquidity,
			MaxQuoteAmount: Liquidity,
		})
		require.NoError(t, err)
		return a
	}
	m.PassAmm = mk(0)
	m.FailAmm = mk(1)
	return m
}

// Propose creates a proposal over m locking Lock LP tokens per side.
func (f *Fixture) Propose(m Markets, ix domain.ProposalInstruction) *domain.Proposal {
	f.T.Helper()
	p, err := f.Engine.InitializeProposal(f.Ctx, Proposer, engine.InitializeProposalParams{
		Dao:                f.Dao.Address,
		PassAmm:            m.PassAmm.Address,
		FailAmm:            m.FailAmm.Address,
		BaseVault:          m.BaseVault.Address,
		QuoteVault:         m.QuoteVault.Address,
		DescriptionURL:     "https://example.com/proposal",
		Instruction:        ix,
		PassLpTokensToLock: Lock,
		FailLpTokensToLock: Lock,
	})
	require.NoError(f.T, err)
	return p
}

// BuyPass swaps quote for pass base one slot after p was enqueued.
func (f *Fixture) BuyPass(m Markets, p *domain.Proposal, quote uint64) {
	f.T.Helper()
	f.Clock.Set(p.SlotEnqueued + 1)
	_, err := f.Engine.Swap(f.Ctx, Proposer, m.PassAmm.Address, engine.SwapParams{
		SwapType:    domain.SwapBuy,
		InputAmount: quote,
	})
	require.NoError(f.T, err)
}
