package amm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"futarchy-core/internal/domain"
	"futarchy-core/internal/fixedpoint"
	"futarchy-core/internal/token"
)

var (
	testAuthority = domain.AddressFromSeed("mint-authority")
	testBase      = domain.AddressFromSeed("base-mint")
	testQuote     = domain.AddressFromSeed("quote-mint")
	testUser      = domain.AddressFromSeed("trader")
)

const testFunding = 1_000_000_000_000

type poolFixture struct {
	ledger *token.Ledger
	amm    *domain.Amm
}

// newPool creates an empty pool over two 6-decimal mints at slot 0 and funds
// testUser with both.
func newPool(t *testing.T, feeBps uint64, initialObs, maxChange uint64) *poolFixture {
	t.Helper()
	l := token.NewLedger()
	tx := l.Begin()
	require.NoError(t, tx.CreateMint(testBase, 6, testAuthority))
	require.NoError(t, tx.CreateMint(testQuote, 6, testAuthority))
	require.NoError(t, tx.MintTo(testBase, testUser, testFunding, testAuthority))
	require.NoError(t, tx.MintTo(testQuote, testUser, testFunding, testAuthority))

	base, err := tx.Mint(testBase)
	require.NoError(t, err)
	quote, err := tx.Mint(testQuote)
	require.NoError(t, err)

	a, err := New(CreateParams{
		BaseMint:                          base,
		QuoteMint:                         quote,
		SwapFeeBps:                        feeBps,
		TwapInitialObservation:            fixedpoint.NewU128(initialObs),
		TwapMaxObservationChangePerUpdate: fixedpoint.NewU128(maxChange),
	}, 0)
	require.NoError(t, err)
	require.NoError(t, InitializeLpMint(a, tx))
	require.NoError(t, tx.Commit())

	return &poolFixture{ledger: l, amm: a}
}

// do runs fn in a transaction and commits it only on success, mirroring the
// engine: the pool is mutated on a clone which replaces the original on
// commit.
func (f *poolFixture) do(t *testing.T, fn func(a *domain.Amm, tx *token.Tx) error) error {
	t.Helper()
	clone := f.amm.Clone()
	tx := f.ledger.Begin()
	if err := fn(clone, tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := CheckInvariants(clone, tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	f.amm = clone
	return nil
}

func (f *poolFixture) add(t *testing.T, base, quote uint64) LiquidityResult {
	t.Helper()
	var res LiquidityResult
	err := f.do(t, func(a *domain.Amm, tx *token.Tx) error {
		var err error
		res, err = AddLiquidity(a, tx, testUser, AddLiquidityArgs{MaxBaseAmount: base, MaxQuoteAmount: quote})
		return err
	})
	require.NoError(t, err)
	return res
}

func (f *poolFixture) swap(t *testing.T, st domain.SwapType, input, slot uint64) (SwapResult, error) {
	t.Helper()
	var res SwapResult
	err := f.do(t, func(a *domain.Amm, tx *token.Tx) error {
		var err error
		res, err = Swap(a, tx, testUser, st, input, 0, slot)
		return err
	})
	return res, err
}
