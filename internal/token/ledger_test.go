package token

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futarchy-core/internal/domain"
)

var (
	mintAuthority = domain.AddressFromSeed("authority")
	usdc          = domain.AddressFromSeed("usdc")
	alice         = domain.AddressFromSeed("alice")
	bob           = domain.AddressFromSeed("bob")
)

func newFundedLedger(t *testing.T) *Ledger {
	t.Helper()
	l := NewLedger()
	tx := l.Begin()
	require.NoError(t, tx.CreateMint(usdc, 6, mintAuthority))
	require.NoError(t, tx.MintTo(usdc, alice, 1_000, mintAuthority))
	require.NoError(t, tx.Commit())
	return l
}

func TestTx_CommitAppliesAll(t *testing.T) {
	l := newFundedLedger(t)

	tx := l.Begin()
	require.NoError(t, tx.Transfer(usdc, alice, bob, 400))
	require.NoError(t, tx.Burn(usdc, bob, 100))

	// Staged, not committed.
	assert.Equal(t, uint64(600), tx.Balance(alice, usdc))
	assert.Equal(t, uint64(1_000), l.Balance(alice, usdc))

	require.NoError(t, tx.Commit())
	assert.Equal(t, uint64(600), l.Balance(alice, usdc))
	assert.Equal(t, uint64(300), l.Balance(bob, usdc))

	m, err := l.Mint(usdc)
	require.NoError(t, err)
	assert.Equal(t, uint64(900), m.Supply)
}

func TestTx_RollbackLeavesStateUnchanged(t *testing.T) {
	l := newFundedLedger(t)

	tx := l.Begin()
	require.NoError(t, tx.Transfer(usdc, alice, bob, 400))
	tx.Rollback()

	assert.Equal(t, uint64(1_000), l.Balance(alice, usdc))
	assert.Equal(t, uint64(0), l.Balance(bob, usdc))
	assert.ErrorIs(t, tx.Commit(), ErrTxDone)
}

func TestTx_StagedValidation(t *testing.T) {
	l := newFundedLedger(t)
	tx := l.Begin()

	err := tx.Transfer(usdc, alice, bob, 1_001)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	err = tx.MintTo(usdc, bob, 1, bob)
	assert.ErrorIs(t, err, ErrMintAuthority)

	err = tx.CreateMint(usdc, 6, bob)
	assert.ErrorIs(t, err, ErrMintExists)

	err = tx.CreateMint(domain.AddressFromSeed("wide"), 16, bob)
	assert.Error(t, err)

	assert.Equal(t, 0, tx.Len(), "rejected ops are not staged")
}

func TestTx_ConflictingCommitFails(t *testing.T) {
	l := newFundedLedger(t)

	tx1 := l.Begin()
	tx2 := l.Begin()
	require.NoError(t, tx1.Transfer(usdc, alice, bob, 600))
	require.NoError(t, tx2.Transfer(usdc, alice, bob, 600))

	require.NoError(t, tx1.Commit())
	err := tx2.Commit()
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance on replay, got %v", err)
	}

	// tx2 had no effect.
	assert.Equal(t, uint64(400), l.Balance(alice, usdc))
	assert.Equal(t, uint64(600), l.Balance(bob, usdc))
}

func TestLedger_Balances(t *testing.T) {
	l := newFundedLedger(t)
	balances := l.Balances(alice)
	require.Len(t, balances, 1)
	assert.Equal(t, usdc, balances[0].Mint)
	assert.Equal(t, uint64(1_000), balances[0].Amount)
	assert.False(t, balances[0].Account.IsZero())

	assert.Empty(t, l.Balances(bob))
}
