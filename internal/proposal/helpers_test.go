package proposal

import (
	"testing"

	"github.com/stretchr/testify/require"

	"futarchy-core/internal/amm"
	"futarchy-core/internal/domain"
	"futarchy-core/internal/fixedpoint"
	"futarchy-core/internal/question"
	"futarchy-core/internal/token"
	"futarchy-core/internal/vault"
)

var (
	testAuthority = domain.AddressFromSeed("mint-authority")
	testMeta      = domain.AddressFromSeed("META")
	testUsdc      = domain.AddressFromSeed("USDC")
	testProposer  = domain.AddressFromSeed("proposer")
)

const (
	testFunding   = 1_000_000_000_000
	testSplit     = 1_000_000_000
	testLiquidity = 1_000_000
	testLock      = 500_000
	testWindow    = 100
	testEnqueued  = 10
)

func testConfig() DaoConfig {
	c := DefaultDaoConfig()
	c.SlotsPerProposal = testWindow
	c.MinBaseFutarchicLiquidity = 1000
	c.MinQuoteFutarchicLiquidity = 1000
	return c
}

type fixture struct {
	ledger  *token.Ledger
	dao     *domain.Dao
	markets Markets
}

// newFixture builds a DAO with one proposal question, a META and a USDC
// vault over it, and pass and fail markets seeded at price 1.0 by
// testProposer.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	l := token.NewLedger()
	tx := l.Begin()
	for _, m := range []domain.Address{testMeta, testUsdc} {
		require.NoError(t, tx.CreateMint(m, 6, testAuthority))
		require.NoError(t, tx.MintTo(m, testProposer, testFunding, testAuthority))
	}

	d, err := NewDao(testMeta, testUsdc, 0, testConfig())
	require.NoError(t, err)

	q, err := question.New(domain.QuestionID{1}, d.Treasury, 2)
	require.NoError(t, err)

	mkVault := func(underlying domain.Address) *domain.ConditionalVault {
		m, err := tx.Mint(underlying)
		require.NoError(t, err)
		v, err := vault.New(q, m)
		require.NoError(t, err)
		require.NoError(t, vault.InitializeMints(v, tx))
		_, err = vault.Split(v, q, tx, testProposer, testSplit)
		require.NoError(t, err)
		return v
	}
	baseVault := mkVault(testMeta)
	quoteVault := mkVault(testUsdc)

	mkAmm := func(outcome int) *domain.Amm {
		base, err := tx.Mint(baseVault.ConditionalMints[outcome])
		require.NoError(t, err)
		quote, err := tx.Mint(quoteVault.ConditionalMints[outcome])
		require.NoError(t, err)
		a, err := amm.New(amm.CreateParams{
			BaseMint:                          base,
			QuoteMint:                         quote,
			SwapFeeBps:                        30,
			TwapInitialObservation:            d.TwapInitialObservation,
			TwapMaxObservationChangePerUpdate: d.TwapMaxObservationChangePerUpdate,
		}, 0)
		require.NoError(t, err)
		require.NoError(t, amm.InitializeLpMint(a, tx))
		_, err = amm.AddLiquidity(a, tx, testProposer, amm.AddLiquidityArgs{
			MaxBaseAmount:  testLiquidity,
			MaxQuoteAmount: testLiquidity,
		})
		require.NoError(t, err)
		return a
	}

	f := &fixture{
		ledger: l,
		dao:    d,
		markets: Markets{
			PassAmm:       mkAmm(0),
			FailAmm:       mkAmm(1),
			BaseVault:     baseVault,
			QuoteVault:    quoteVault,
			BaseQuestion:  q,
			QuoteQuestion: q,
		},
	}
	require.NoError(t, tx.Commit())
	return f
}

func params() InitializeParams {
	return InitializeParams{
		Proposer:           testProposer,
		DescriptionURL:     "https://example.com/proposal",
		Instruction:        MemoInstruction("hello"),
		PassLpTokensToLock: testLock,
		FailLpTokensToLock: testLock,
	}
}

// enqueue cranks both oracles to testEnqueued and creates a proposal.
func (f *fixture) enqueue(t *testing.T) *domain.Proposal {
	t.Helper()
	_, err := amm.Crank(f.markets.PassAmm, testEnqueued)
	require.NoError(t, err)
	_, err = amm.Crank(f.markets.FailAmm, testEnqueued)
	require.NoError(t, err)

	tx := f.ledger.Begin()
	p, err := Initialize(f.dao, f.markets, params(), tx, testEnqueued)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return p
}

// observe feeds one oracle update per slot over the voting window at the
// given spot prices, expressed in hundredths of PriceScale.
func (f *fixture) observe(passCents, failCents uint64) {
	pass := fixedpoint.NewU128(amm.PriceScale / 100 * passCents)
	fail := fixedpoint.NewU128(amm.PriceScale / 100 * failCents)
	for s := uint64(testEnqueued + 1); s <= testEnqueued+testWindow; s++ {
		amm.UpdateOracle(&f.markets.PassAmm.Oracle, s, pass, true)
		amm.UpdateOracle(&f.markets.FailAmm.Oracle, s, fail, true)
	}
}

func (f *fixture) finalize(t *testing.T, p *domain.Proposal, slot uint64) (FinalizeResult, error) {
	t.Helper()
	tx := f.ledger.Begin()
	res, err := Finalize(p, f.dao, f.markets, tx, slot)
	if err != nil {
		tx.Rollback()
		return res, err
	}
	require.NoError(t, tx.Commit())
	return res, nil
}
