package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"futarchy-core/internal/amm"
	"futarchy-core/internal/clock"
	"futarchy-core/internal/domain"
	"futarchy-core/internal/events"
	"futarchy-core/internal/proposal"
	"futarchy-core/internal/storage/memory"
	"futarchy-core/internal/token"
)

var (
	authority = domain.AddressFromSeed("authority")
	proposer  = domain.AddressFromSeed("proposer")
	trader    = domain.AddressFromSeed("trader")
	metaMint  = domain.AddressFromSeed("META")
	usdcMint  = domain.AddressFromSeed("USDC")
)

const (
	funding   = 1_000_000_000_000
	split     = 1_000_000_000
	liquidity = 1_000_000
	lock      = 500_000
	window    = 100
	fee       = 30
)

func memoryStores() Stores {
	return Stores{
		Amms:      memory.NewAmmStore(),
		Questions: memory.NewQuestionStore(),
		Vaults:    memory.NewVaultStore(),
		Daos:      memory.NewDaoStore(),
		Proposals: memory.NewProposalStore(),
	}
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	e     *Engine
	clock *clock.Manual
	rec   *events.Recorder
	dao   *domain.Dao
}

func newHarnessWith(t *testing.T, logger *zap.Logger, stores Stores) *harness {
	t.Helper()
	cfg := Config{DaoDefaults: proposal.DefaultDaoConfig()}
	cfg.DaoDefaults.SlotsPerProposal = window
	cfg.DaoDefaults.MinBaseFutarchicLiquidity = 1000
	cfg.DaoDefaults.MinQuoteFutarchicLiquidity = 1000

	h := &harness{
		t:     t,
		ctx:   context.Background(),
		clock: clock.NewManual(1),
		rec:   events.NewRecorder(),
	}
	h.e = New(cfg, logger, h.clock, token.NewLedger(), stores, h.rec)

	for _, m := range []domain.Address{metaMint, usdcMint} {
		_, err := h.e.CreateMint(h.ctx, authority, CreateMintParams{Address: m, Decimals: 6})
		require.NoError(t, err)
		require.NoError(t, h.e.MintTo(h.ctx, authority, m, proposer, funding))
	}

	d, err := h.e.InitializeDao(h.ctx, authority, InitializeDaoParams{TokenMint: metaMint, UsdcMint: usdcMint})
	require.NoError(t, err)
	h.dao = d
	return h
}

// newHarness is an engine over memory stores with funded META and USDC
// mints and a DAO with a 100 slot window.
func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, zaptest.NewLogger(t), memoryStores())
}

type markets struct {
	question   *domain.Question
	baseVault  *domain.ConditionalVault
	quoteVault *domain.ConditionalVault
	passAmm    *domain.Amm
	failAmm    *domain.Amm
}

// markets creates a DAO-settled question, both vaults over it and pass and
// fail pools seeded at 1.0 by proposer.
func (h *harness) markets(id byte) markets {
	h.t.Helper()
	t := h.t
	q, err := h.e.InitializeQuestion(h.ctx, proposer, InitializeQuestionParams{
		QuestionID:  domain.QuestionID{id},
		Oracle:      h.dao.Treasury,
		NumOutcomes: 2,
	})
	require.NoError(t, err)

	m := markets{question: q}
	m.baseVault, err = h.e.InitializeConditionalVault(h.ctx, proposer, q.Address, metaMint)
	require.NoError(t, err)
	m.quoteVault, err = h.e.InitializeConditionalVault(h.ctx, proposer, q.Address, usdcMint)
	require.NoError(t, err)
	for _, v := range []*domain.ConditionalVault{m.baseVault, m.quoteVault} {
		_, err := h.e.SplitTokens(h.ctx, proposer, v.Address, split)
		require.NoError(t, err)
	}

	mk := func(outcome int) *domain.Amm {
		a, err := h.e.CreateAmm(h.ctx, proposer, CreateAmmParams{
			BaseMint:                          m.baseVault.ConditionalMints[outcome],
			QuoteMint:                         m.quoteVault.ConditionalMints[outcome],
			SwapFeeBps:                        fee,
			TwapInitialObservation:            h.dao.TwapInitialObservation,
			TwapMaxObservationChangePerUpdate: h.dao.TwapMaxObservationChangePerUpdate,
		})
		require.NoError(t, err)
		_, err = h.e.AddLiquidity(h.ctx, proposer, a.Address, amm.AddLiquidityArgs{
			MaxBaseAmount:  liquidity,
			MaxQuoteAmount: liquidity,
		})
		require.NoError(t, err)
		return a
	}
	m.passAmm = mk(0)
	m.failAmm = mk(1)
	return m
}

func (h *harness) propose(m markets, ix domain.ProposalInstruction) *domain.Proposal {
	h.t.Helper()
	p, err := h.e.InitializeProposal(h.ctx, proposer, InitializeProposalParams{
		Dao:                h.dao.Address,
		PassAmm:            m.passAmm.Address,
		FailAmm:            m.failAmm.Address,
		BaseVault:          m.baseVault.Address,
		QuoteVault:         m.quoteVault.Address,
		DescriptionURL:     "https://example.com/proposal",
		Instruction:        ix,
		PassLpTokensToLock: lock,
		FailLpTokensToLock: lock,
	})
	require.NoError(h.t, err)
	return p
}

// vote optionally buys buyPass quote worth of pass base one slot after
// enqueue, then cranks both pools every slot to the end of the window.
func (h *harness) vote(m markets, p *domain.Proposal, buyPass uint64) {
	h.t.Helper()
	end := p.SlotEnqueued + window
	if buyPass > 0 {
		h.clock.Set(p.SlotEnqueued + 1)
		_, err := h.e.Swap(h.ctx, proposer, m.passAmm.Address, SwapParams{
			SwapType:    domain.SwapBuy,
			InputAmount: buyPass,
		})
		require.NoError(h.t, err)
	}
	for slot := h.clock.Slot() + 1; slot <= end; slot++ {
		h.clock.Set(slot)
		for _, a := range []domain.Address{m.passAmm.Address, m.failAmm.Address} {
			_, _, err := h.e.CrankTwap(h.ctx, trader, a)
			require.NoError(h.t, err)
		}
	}
}

// decode decodes every recorded event named name.
func decode[T events.Event](t *testing.T, rec *events.Recorder, name string) []T {
	t.Helper()
	var out []T
	for _, r := range rec.Named(name) {
		ev, err := events.Decode(r)
		require.NoError(t, err)
		out = append(out, ev.(T))
	}
	return out
}
