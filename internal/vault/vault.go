// Package vault implements conditional vaults: escrow that splits an
// underlying token into one conditional token per outcome of a question,
// merges full sets back, and redeems conditional balances once the
// question resolves.
//
// The vault keeps no resolution state of its own; everything is derived
// from the question and the ledger.
package vault

import (
	"errors"
	"fmt"
	"math"

	"github.com/holiman/uint256"
	pkgerrors "github.com/pkg/errors"

	"futarchy-core/internal/domain"
	"futarchy-core/internal/fixedpoint"
	"futarchy-core/internal/idhash"
	"futarchy-core/internal/token"
)

var (
	ErrZeroAmount                    = errors.New("amount must be positive")
	ErrInsufficientUnderlyingTokens  = errors.New("insufficient underlying tokens")
	ErrInsufficientConditionalTokens = errors.New("insufficient conditional tokens")
	ErrCantRedeemConditionalTokens   = errors.New("question is not resolved")
	ErrBadConditionalMint            = errors.New("conditional mint does not belong to vault")
	ErrQuestionMismatch              = errors.New("question does not belong to vault")
	ErrTooManyOutcomes               = errors.New("too many outcomes")
)

// ErrConservation is the fatal vault accounting failure.
var ErrConservation = fmt.Errorf("%w: vault conservation", domain.ErrInvariant)

// New builds the vault for (q, underlying). Its conditional mints are
// derived from the vault address and created by InitializeMints.
func New(q *domain.Question, underlying token.Mint) (*domain.ConditionalVault, error) {
	if _, err := fixedpoint.Scale(underlying.Decimals); err != nil {
		return nil, err
	}
	if q.NumOutcomes() > math.MaxUint8 {
		return nil, ErrTooManyOutcomes
	}

	addr := idhash.VaultAddress(q.Address, underlying.Address)
	mints := make([]domain.Address, q.NumOutcomes())
	for i := range mints {
		mints[i] = idhash.ConditionalMintAddress(addr, uint8(i))
	}

	return &domain.ConditionalVault{
		Address:           addr,
		Question:          q.Address,
		UnderlyingMint:    underlying.Address,
		UnderlyingAccount: idhash.TokenAccountAddress(addr, underlying.Address),
		ConditionalMints:  mints,
		Decimals:          underlying.Decimals,
	}, nil
}

// InitializeMints stages one conditional mint per outcome with the vault as
// mint authority.
func InitializeMints(v *domain.ConditionalVault, tx *token.Tx) error {
	for _, m := range v.ConditionalMints {
		if err := tx.CreateMint(m, v.Decimals, v.Address); err != nil {
			return err
		}
	}
	return nil
}

// Result reports balances after a vault operation.
type Result struct {
	Amount              uint64   `json:"amount"`               // underlying moved
	ConditionalBalances []uint64 `json:"conditional_balances"` // user's balances after the operation
	ConditionalSupplies []uint64 `json:"conditional_supplies"`
	UnderlyingBalance   uint64   `json:"underlying_balance"` // vault's underlying after the operation
}

func checkQuestion(v *domain.ConditionalVault, q *domain.Question) error {
	if q.Address != v.Question {
		return ErrQuestionMismatch
	}
	if q.NumOutcomes() != len(v.ConditionalMints) {
		return pkgerrors.WithStack(fmt.Errorf("%w: %d mints for %d outcomes", ErrConservation, len(v.ConditionalMints), q.NumOutcomes()))
	}
	return nil
}

// Split escrows amount of user's underlying and mints amount of every
// conditional token to user.
func Split(v *domain.ConditionalVault, q *domain.Question, tx *token.Tx, user domain.Address, amount uint64) (Result, error) {
	if err := checkQuestion(v, q); err != nil {
		return Result{}, err
	}
	if amount == 0 {
		return Result{}, ErrZeroAmount
	}
	if have := tx.Balance(user, v.UnderlyingMint); have < amount {
		return Result{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientUnderlyingTokens, have, amount)
	}

	if err := tx.Transfer(v.UnderlyingMint, user, v.Address, amount); err != nil {
		return Result{}, err
	}
	for _, m := range v.ConditionalMints {
		if err := tx.MintTo(m, user, amount, v.Address); err != nil {
			return Result{}, err
		}
	}
	return snapshot(v, tx, user, amount)
}

// Merge burns amount of every conditional token from user and releases
// amount of underlying.
func Merge(v *domain.ConditionalVault, q *domain.Question, tx *token.Tx, user domain.Address, amount uint64) (Result, error) {
	if err := checkQuestion(v, q); err != nil {
		return Result{}, err
	}
	if amount == 0 {
		return Result{}, ErrZeroAmount
	}
	for i, m := range v.ConditionalMints {
		if have := tx.Balance(user, m); have < amount {
			return Result{}, fmt.Errorf("%w: outcome %d has %d, need %d", ErrInsufficientConditionalTokens, i, have, amount)
		}
	}

	for _, m := range v.ConditionalMints {
		if err := tx.Burn(m, user, amount); err != nil {
			return Result{}, err
		}
	}
	if err := tx.Transfer(v.UnderlyingMint, v.Address, user, amount); err != nil {
		return Result{}, err
	}
	return snapshot(v, tx, user, amount)
}

// Redeem burns all of user's conditional balances and pays
// sum_i floor(b_i * n_i / D) underlying.
func Redeem(v *domain.ConditionalVault, q *domain.Question, tx *token.Tx, user domain.Address) (Result, error) {
	if err := checkQuestion(v, q); err != nil {
		return Result{}, err
	}
	if !q.IsResolved() {
		return Result{}, ErrCantRedeemConditionalTokens
	}

	balances := make([]uint64, len(v.ConditionalMints))
	for i, m := range v.ConditionalMints {
		balances[i] = tx.Balance(user, m)
	}
	total, err := RedeemableAmount(balances, q.PayoutNumerators, q.PayoutDenominator)
	if err != nil {
		return Result{}, err
	}

	for i, m := range v.ConditionalMints {
		if balances[i] == 0 {
			continue
		}
		if err := tx.Burn(m, user, balances[i]); err != nil {
			return Result{}, err
		}
	}
	if total > 0 {
		if err := tx.Transfer(v.UnderlyingMint, v.Address, user, total); err != nil {
			return Result{}, err
		}
	}
	return snapshot(v, tx, user, total)
}

// RedeemableAmount returns sum_i floor(b_i * n_i / D). Since the ratios
// sum to one the result never exceeds max_i b_i.
func RedeemableAmount(balances []uint64, numerators []uint32, denominator uint32) (uint64, error) {
	if len(balances) != len(numerators) {
		return 0, ErrBadConditionalMint
	}
	if denominator == 0 {
		return 0, ErrCantRedeemConditionalTokens
	}
	var total uint64
	for i, b := range balances {
		credit, err := fixedpoint.MulDiv(b, uint64(numerators[i]), uint64(denominator))
		if err != nil {
			return 0, err
		}
		if total, err = fixedpoint.CheckedAdd(total, credit); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// CheckInvariant verifies the vault against the staged ledger. Before
// resolution every conditional supply is at most the escrowed underlying;
// after resolution the most the outstanding supplies could redeem is at
// most the escrowed underlying.
func CheckInvariant(v *domain.ConditionalVault, q *domain.Question, tx *token.Tx) error {
	if err := checkQuestion(v, q); err != nil {
		return err
	}
	escrow := tx.Balance(v.Address, v.UnderlyingMint)

	if !q.IsResolved() {
		for i, m := range v.ConditionalMints {
			supply, err := tx.Supply(m)
			if err != nil {
				return err
			}
			if supply > escrow {
				return pkgerrors.WithStack(fmt.Errorf("%w: outcome %d supply %d exceeds escrow %d", ErrConservation, i, supply, escrow))
			}
		}
		return nil
	}

	var owed uint256.Int
	for i, m := range v.ConditionalMints {
		supply, err := tx.Supply(m)
		if err != nil {
			return err
		}
		var part uint256.Int
		part.Mul(uint256.NewInt(supply), uint256.NewInt(uint64(q.PayoutNumerators[i])))
		part.Div(&part, uint256.NewInt(uint64(q.PayoutDenominator)))
		owed.Add(&owed, &part)
	}
	if owed.Gt(uint256.NewInt(escrow)) {
		return pkgerrors.WithStack(fmt.Errorf("%w: redeemable %s exceeds escrow %d", ErrConservation, owed.Dec(), escrow))
	}
	return nil
}

// OutcomeIndex returns the outcome index of a conditional mint.
func OutcomeIndex(v *domain.ConditionalVault, mint domain.Address) (int, error) {
	for i, m := range v.ConditionalMints {
		if m == mint {
			return i, nil
		}
	}
	return -1, ErrBadConditionalMint
}

func snapshot(v *domain.ConditionalVault, tx *token.Tx, user domain.Address, amount uint64) (Result, error) {
	res := Result{
		Amount:              amount,
		ConditionalBalances: make([]uint64, len(v.ConditionalMints)),
		ConditionalSupplies: make([]uint64, len(v.ConditionalMints)),
		UnderlyingBalance:   tx.Balance(v.Address, v.UnderlyingMint),
	}
	for i, m := range v.ConditionalMints {
		supply, err := tx.Supply(m)
		if err != nil {
			return Result{}, err
		}
		res.ConditionalBalances[i] = tx.Balance(user, m)
		res.ConditionalSupplies[i] = supply
	}
	return res, nil
}
