package memory

import (
	"context"

	"futarchy-core/internal/domain"
	"futarchy-core/internal/storage"
)

// AmmStore is an in-memory implementation of storage.AmmStore.
type AmmStore struct {
	a *arena[domain.Amm]
}

// NewAmmStore creates a new in-memory pool store.
func NewAmmStore() *AmmStore {
	return &AmmStore{a: newArena(
		func(v *domain.Amm) domain.Address { return v.Address },
		(*domain.Amm).Clone,
	)}
}

func (s *AmmStore) Insert(_ context.Context, v *domain.Amm) error { return s.a.insert(v) }
func (s *AmmStore) Update(_ context.Context, v *domain.Amm) error { return s.a.update(v) }

func (s *AmmStore) GetByAddress(_ context.Context, addr domain.Address) (*domain.Amm, error) {
	return s.a.get(addr)
}

// List returns all pools ordered by (created_at_slot, address).
func (s *AmmStore) List(_ context.Context) ([]*domain.Amm, error) {
	return s.a.filter(nil, func(x, y *domain.Amm) bool {
		if x.CreatedAtSlot != y.CreatedAtSlot {
			return x.CreatedAtSlot < y.CreatedAtSlot
		}
		return addressLess(x.Address, y.Address)
	}), nil
}

// QuestionStore is an in-memory implementation of storage.QuestionStore.
type QuestionStore struct {
	a *arena[domain.Question]
}

// NewQuestionStore creates a new in-memory question store.
func NewQuestionStore() *QuestionStore {
	return &QuestionStore{a: newArena(
		func(v *domain.Question) domain.Address { return v.Address },
		(*domain.Question).Clone,
	)}
}

func (s *QuestionStore) Insert(_ context.Context, v *domain.Question) error { return s.a.insert(v) }
func (s *QuestionStore) Update(_ context.Context, v *domain.Question) error { return s.a.update(v) }

func (s *QuestionStore) GetByAddress(_ context.Context, addr domain.Address) (*domain.Question, error) {
	return s.a.get(addr)
}

func (s *QuestionStore) List(_ context.Context) ([]*domain.Question, error) {
	return s.a.filter(nil, func(x, y *domain.Question) bool {
		return addressLess(x.Address, y.Address)
	}), nil
}

// VaultStore is an in-memory implementation of storage.VaultStore.
type VaultStore struct {
	a *arena[domain.ConditionalVault]
}

// NewVaultStore creates a new in-memory vault store.
func NewVaultStore() *VaultStore {
	return &VaultStore{a: newArena(
		func(v *domain.ConditionalVault) domain.Address { return v.Address },
		(*domain.ConditionalVault).Clone,
	)}
}

func (s *VaultStore) Insert(_ context.Context, v *domain.ConditionalVault) error {
	return s.a.insert(v)
}

func (s *VaultStore) Update(_ context.Context, v *domain.ConditionalVault) error {
	return s.a.update(v)
}

func (s *VaultStore) GetByAddress(_ context.Context, addr domain.Address) (*domain.ConditionalVault, error) {
	return s.a.get(addr)
}

func (s *VaultStore) GetByQuestion(_ context.Context, question domain.Address) ([]*domain.ConditionalVault, error) {
	return s.a.filter(
		func(v *domain.ConditionalVault) bool { return v.Question == question },
		func(x, y *domain.ConditionalVault) bool { return addressLess(x.Address, y.Address) },
	), nil
}

// DaoStore is an in-memory implementation of storage.DaoStore.
type DaoStore struct {
	a *arena[domain.Dao]
}

// NewDaoStore creates a new in-memory DAO store.
func NewDaoStore() *DaoStore {
	return &DaoStore{a: newArena(
		func(v *domain.Dao) domain.Address { return v.Address },
		(*domain.Dao).Clone,
	)}
}

func (s *DaoStore) Insert(_ context.Context, v *domain.Dao) error { return s.a.insert(v) }
func (s *DaoStore) Update(_ context.Context, v *domain.Dao) error { return s.a.update(v) }

func (s *DaoStore) GetByAddress(_ context.Context, addr domain.Address) (*domain.Dao, error) {
	return s.a.get(addr)
}

func (s *DaoStore) List(_ context.Context) ([]*domain.Dao, error) {
	return s.a.filter(nil, func(x, y *domain.Dao) bool {
		return addressLess(x.Address, y.Address)
	}), nil
}

// ProposalStore is an in-memory implementation of storage.ProposalStore.
type ProposalStore struct {
	a *arena[domain.Proposal]
}

// NewProposalStore creates a new in-memory proposal store.
func NewProposalStore() *ProposalStore {
	return &ProposalStore{a: newArena(
		func(v *domain.Proposal) domain.Address { return v.Address },
		(*domain.Proposal).Clone,
	)}
}

func (s *ProposalStore) Insert(_ context.Context, v *domain.Proposal) error { return s.a.insert(v) }
func (s *ProposalStore) Update(_ context.Context, v *domain.Proposal) error { return s.a.update(v) }

func (s *ProposalStore) GetByAddress(_ context.Context, addr domain.Address) (*domain.Proposal, error) {
	return s.a.get(addr)
}

// GetByDao returns a DAO's proposals ordered by number.
func (s *ProposalStore) GetByDao(_ context.Context, dao domain.Address) ([]*domain.Proposal, error) {
	return s.a.filter(
		func(p *domain.Proposal) bool { return p.Dao == dao },
		func(x, y *domain.Proposal) bool { return x.Number < y.Number },
	), nil
}

// GetByState returns proposals in state ordered by (slot_enqueued, address).
func (s *ProposalStore) GetByState(_ context.Context, state domain.ProposalState) ([]*domain.Proposal, error) {
	return s.a.filter(
		func(p *domain.Proposal) bool { return p.State == state },
		func(x, y *domain.Proposal) bool {
			if x.SlotEnqueued != y.SlotEnqueued {
				return x.SlotEnqueued < y.SlotEnqueued
			}
			return addressLess(x.Address, y.Address)
		},
	), nil
}

// Verify interface compliance at compile time.
var (
	_ storage.AmmStore      = (*AmmStore)(nil)
	_ storage.QuestionStore = (*QuestionStore)(nil)
	_ storage.VaultStore    = (*VaultStore)(nil)
	_ storage.DaoStore      = (*DaoStore)(nil)
	_ storage.ProposalStore = (*ProposalStore)(nil)
)
