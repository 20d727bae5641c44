package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"futarchy-core/internal/domain"
	"futarchy-core/internal/token"
)

var (
	// ErrZeroAmount is returned for zero-amount ledger operations.
	ErrZeroAmount = errors.New("amount must be positive")

	// ErrInvalidAccount is returned for a zero destination.
	ErrInvalidAccount = errors.New("invalid account")
)

// CreateMintParams are the inputs of CreateMint.
type CreateMintParams struct {
	// Address of the new mint; a random one is derived when zero.
	Address  domain.Address `json:"address"`
	Decimals uint8          `json:"decimals"`
}

// CreateMint creates a token whose mint authority is actor.
func (e *Engine) CreateMint(ctx context.Context, actor domain.Address, p CreateMintParams) (token.Mint, error) {
	addr := p.Address
	if addr.IsZero() {
		addr = domain.AddressFromSeed("mint/" + uuid.NewString())
	}

	var mint token.Mint
	err := e.run(ctx, "create_mint", actor, []domain.Address{addr}, func(o *op) error {
		if err := o.tx.CreateMint(addr, p.Decimals, actor); err != nil {
			return err
		}
		var err error
		mint, err = o.tx.Mint(addr)
		return err
	})
	return mint, err
}

// MintTo issues amount of mint to owner. Only the mint authority may call it.
func (e *Engine) MintTo(ctx context.Context, actor, mint, owner domain.Address, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	return e.run(ctx, "mint_to", actor, nil, func(o *op) error {
		return o.tx.MintTo(mint, owner, amount, actor)
	})
}

// Transfer moves amount of actor's mint balance to another owner.
func (e *Engine) Transfer(ctx context.Context, actor, mint, to domain.Address, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	if to.IsZero() {
		return ErrInvalidAccount
	}
	return e.run(ctx, "transfer", actor, nil, func(o *op) error {
		return o.tx.Transfer(mint, actor, to, amount)
	})
}

// Mint returns a mint's committed state.
func (e *Engine) Mint(addr domain.Address) (token.Mint, error) {
	return e.ledger.Mint(addr)
}

// Balance returns owner's committed balance of mint.
func (e *Engine) Balance(owner, mint domain.Address) uint64 {
	return e.ledger.Balance(owner, mint)
}

// Balances returns owner's non-zero balances.
func (e *Engine) Balances(owner domain.Address) []token.Balance {
	return e.ledger.Balances(owner)
}
