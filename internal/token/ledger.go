// Package token is the in-process token ledger the core settles against:
// mints with a decimals and a mint authority, and balances per
// (owner, mint). Mutations are staged in a Tx and applied atomically.
package token

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"futarchy-core/internal/domain"
	"futarchy-core/internal/fixedpoint"
	"futarchy-core/internal/idhash"
)

var (
	// ErrMintNotFound is returned for an unknown mint.
	ErrMintNotFound = errors.New("mint not found")

	// ErrMintExists is returned when creating a mint twice.
	ErrMintExists = errors.New("mint already exists")

	// ErrInsufficientBalance is returned when a debit exceeds the balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrMintAuthority is returned when the signer is not the mint authority.
	ErrMintAuthority = errors.New("signer is not the mint authority")

	// ErrTxDone is returned when using a committed or rolled back Tx.
	ErrTxDone = errors.New("transaction already finished")
)

// ErrSupplyMismatch is the fatal ledger accounting failure.
var ErrSupplyMismatch = fmt.Errorf("%w: mint supply below balance", domain.ErrInvariant)

// Mint describes a token.
type Mint struct {
	Address   domain.Address `json:"address"`
	Decimals  uint8          `json:"decimals"`
	Authority domain.Address `json:"authority"`
	Supply    uint64         `json:"supply"`
}

// Balance is one non-zero holding.
type Balance struct {
	Owner   domain.Address `json:"owner"`
	Mint    domain.Address `json:"mint"`
	Account domain.Address `json:"account"`
	Amount  uint64         `json:"amount"`
}

type accountKey struct {
	owner domain.Address
	mint  domain.Address
}

// Ledger holds committed token state.
type Ledger struct {
	mu       sync.RWMutex
	mints    map[domain.Address]Mint
	balances map[accountKey]uint64
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		mints:    make(map[domain.Address]Mint),
		balances: make(map[accountKey]uint64),
	}
}

// Mint returns a mint by address.
func (l *Ledger) Mint(addr domain.Address) (Mint, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	m, ok := l.mints[addr]
	if !ok {
		return Mint{}, fmt.Errorf("%w: %s", ErrMintNotFound, addr)
	}
	return m, nil
}

// Balance returns owner's committed balance of mint.
func (l *Ledger) Balance(owner, mint domain.Address) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[accountKey{owner: owner, mint: mint}]
}

// Balances returns owner's non-zero balances ordered by mint.
func (l *Ledger) Balances(owner domain.Address) []Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []Balance
	for k, amount := range l.balances {
		if k.owner != owner || amount == 0 {
			continue
		}
		result = append(result, Balance{
			Owner:   owner,
			Mint:    k.mint,
			Account: idhash.TokenAccountAddress(owner, k.mint),
			Amount:  amount,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Mint.String() < result[j].Mint.String()
	})
	return result
}

// Begin starts a staged transaction.
func (l *Ledger) Begin() *Tx {
	return &Tx{
		ledger: l,
		view:   newOverlay(l),
	}
}

// overlay is a copy-on-write view over the committed maps. The caller
// holds the ledger lock while reading through it.
type overlay struct {
	base     *Ledger
	mints    map[domain.Address]Mint
	balances map[accountKey]uint64
}

func newOverlay(base *Ledger) *overlay {
	return &overlay{
		base:     base,
		mints:    make(map[domain.Address]Mint),
		balances: make(map[accountKey]uint64),
	}
}

func (o *overlay) mint(addr domain.Address) (Mint, bool) {
	if m, ok := o.mints[addr]; ok {
		return m, true
	}
	m, ok := o.base.mints[addr]
	return m, ok
}

func (o *overlay) balance(k accountKey) uint64 {
	if v, ok := o.balances[k]; ok {
		return v
	}
	return o.base.balances[k]
}

func (o *overlay) apply(op op) error {
	switch op.kind {
	case opCreateMint:
		if _, ok := o.mint(op.mint); ok {
			return fmt.Errorf("%w: %s", ErrMintExists, op.mint)
		}
		if _, err := fixedpoint.Scale(op.decimals); err != nil {
			return err
		}
		o.mints[op.mint] = Mint{Address: op.mint, Decimals: op.decimals, Authority: op.authority}
		return nil

	case opMintTo:
		m, ok := o.mint(op.mint)
		if !ok {
			return fmt.Errorf("%w: %s", ErrMintNotFound, op.mint)
		}
		if m.Authority != op.authority {
			return fmt.Errorf("%w: mint %s", ErrMintAuthority, op.mint)
		}
		supply, err := fixedpoint.CheckedAdd(m.Supply, op.amount)
		if err != nil {
			return fmt.Errorf("mint %s supply: %w", op.mint, err)
		}
		k := accountKey{owner: op.to, mint: op.mint}
		bal, err := fixedpoint.CheckedAdd(o.balance(k), op.amount)
		if err != nil {
			return fmt.Errorf("mint %s balance: %w", op.mint, err)
		}
		m.Supply = supply
		o.mints[op.mint] = m
		o.balances[k] = bal
		return nil

	case opBurn:
		m, ok := o.mint(op.mint)
		if !ok {
			return fmt.Errorf("%w: %s", ErrMintNotFound, op.mint)
		}
		k := accountKey{owner: op.from, mint: op.mint}
		bal := o.balance(k)
		if bal < op.amount {
			return fmt.Errorf("%w: burn %d of %s, have %d", ErrInsufficientBalance, op.amount, op.mint, bal)
		}
		if m.Supply < op.amount {
			return fmt.Errorf("%w: mint %s", ErrSupplyMismatch, op.mint)
		}
		m.Supply -= op.amount
		o.mints[op.mint] = m
		o.balances[k] = bal - op.amount
		return nil

	case opTransfer:
		if _, ok := o.mint(op.mint); !ok {
			return fmt.Errorf("%w: %s", ErrMintNotFound, op.mint)
		}
		from := accountKey{owner: op.from, mint: op.mint}
		to := accountKey{owner: op.to, mint: op.mint}
		fromBal := o.balance(from)
		if fromBal < op.amount {
			return fmt.Errorf("%w: transfer %d of %s, have %d", ErrInsufficientBalance, op.amount, op.mint, fromBal)
		}
		if from == to {
			return nil
		}
		toBal, err := fixedpoint.CheckedAdd(o.balance(to), op.amount)
		if err != nil {
			return fmt.Errorf("transfer %s: %w", op.mint, err)
		}
		o.balances[from] = fromBal - op.amount
		o.balances[to] = toBal
		return nil
	}
	return fmt.Errorf("unknown ledger op %d", op.kind)
}

// flush writes the overlay into the committed maps. Caller holds the write
// lock.
func (o *overlay) flush() {
	for addr, m := range o.mints {
		o.base.mints[addr] = m
	}
	for k, v := range o.balances {
		if v == 0 {
			delete(o.base.balances, k)
			continue
		}
		o.base.balances[k] = v
	}
}
