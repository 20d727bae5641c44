package token

import (
	"futarchy-core/internal/domain"
)

type opKind int

const (
	opCreateMint opKind = iota + 1
	opMintTo
	opBurn
	opTransfer
)

type op struct {
	kind      opKind
	mint      domain.Address
	from      domain.Address
	to        domain.Address
	authority domain.Address
	decimals  uint8
	amount    uint64
}

// Tx stages ledger mutations. Each call validates against the staged view
// so callers see failures immediately; Commit replays every op against the
// then-current committed state, so a Tx racing another one on the same
// accounts either still holds or fails as a whole.
type Tx struct {
	ledger *Ledger
	view   *overlay
	ops    []op
	done   bool
}

func (tx *Tx) stage(o op) error {
	if tx.done {
		return ErrTxDone
	}
	tx.ledger.mu.RLock()
	err := tx.view.apply(o)
	tx.ledger.mu.RUnlock()
	if err != nil {
		return err
	}
	tx.ops = append(tx.ops, o)
	return nil
}

// CreateMint stages a new mint.
func (tx *Tx) CreateMint(mint domain.Address, decimals uint8, authority domain.Address) error {
	return tx.stage(op{kind: opCreateMint, mint: mint, decimals: decimals, authority: authority})
}

// MintTo stages issuing amount of mint to owner, signed by authority.
func (tx *Tx) MintTo(mint, owner domain.Address, amount uint64, authority domain.Address) error {
	return tx.stage(op{kind: opMintTo, mint: mint, to: owner, amount: amount, authority: authority})
}

// Burn stages destroying amount of owner's mint balance.
func (tx *Tx) Burn(mint, owner domain.Address, amount uint64) error {
	return tx.stage(op{kind: opBurn, mint: mint, from: owner, amount: amount})
}

// Transfer stages moving amount of mint from one owner to another.
func (tx *Tx) Transfer(mint, from, to domain.Address, amount uint64) error {
	return tx.stage(op{kind: opTransfer, mint: mint, from: from, to: to, amount: amount})
}

// Balance returns owner's staged balance of mint.
func (tx *Tx) Balance(owner, mint domain.Address) uint64 {
	tx.ledger.mu.RLock()
	defer tx.ledger.mu.RUnlock()
	return tx.view.balance(accountKey{owner: owner, mint: mint})
}

// Mint returns the staged state of a mint.
func (tx *Tx) Mint(addr domain.Address) (Mint, error) {
	tx.ledger.mu.RLock()
	defer tx.ledger.mu.RUnlock()

	m, ok := tx.view.mint(addr)
	if !ok {
		return Mint{}, ErrMintNotFound
	}
	return m, nil
}

// Supply returns the staged supply of a mint.
func (tx *Tx) Supply(addr domain.Address) (uint64, error) {
	m, err := tx.Mint(addr)
	if err != nil {
		return 0, err
	}
	return m.Supply, nil
}

// Len returns the number of staged ops.
func (tx *Tx) Len() int { return len(tx.ops) }

// Commit applies all staged ops atomically.
func (tx *Tx) Commit() error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true

	tx.ledger.mu.Lock()
	defer tx.ledger.mu.Unlock()

	fresh := newOverlay(tx.ledger)
	for _, o := range tx.ops {
		if err := fresh.apply(o); err != nil {
			return err
		}
	}
	fresh.flush()
	return nil
}

// Rollback discards the staged ops. Safe to call after Commit.
func (tx *Tx) Rollback() {
	tx.done = true
	tx.ops = nil
}
