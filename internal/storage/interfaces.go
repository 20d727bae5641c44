package storage

import (
	"context"

	"futarchy-core/internal/domain"
)

// AmmStore provides access to pools.
type AmmStore interface {
	// Insert adds a new pool. Returns ErrDuplicateKey if the address exists.
	Insert(ctx context.Context, a *domain.Amm) error

	// Update replaces a pool. Returns ErrNotFound if it does not exist.
	Update(ctx context.Context, a *domain.Amm) error

	// GetByAddress retrieves a pool. Returns ErrNotFound if not exists.
	GetByAddress(ctx context.Context, addr domain.Address) (*domain.Amm, error)

	// List returns all pools ordered by creation slot.
	List(ctx context.Context) ([]*domain.Amm, error)
}

// QuestionStore provides access to questions.
type QuestionStore interface {
	Insert(ctx context.Context, q *domain.Question) error
	Update(ctx context.Context, q *domain.Question) error
	GetByAddress(ctx context.Context, addr domain.Address) (*domain.Question, error)
	List(ctx context.Context) ([]*domain.Question, error)
}

// VaultStore provides access to conditional vaults.
type VaultStore interface {
	Insert(ctx context.Context, v *domain.ConditionalVault) error
	Update(ctx context.Context, v *domain.ConditionalVault) error
	GetByAddress(ctx context.Context, addr domain.Address) (*domain.ConditionalVault, error)

	// GetByQuestion retrieves all vaults over a question.
	GetByQuestion(ctx context.Context, question domain.Address) ([]*domain.ConditionalVault, error)
}

// DaoStore provides access to DAOs.
type DaoStore interface {
	Insert(ctx context.Context, d *domain.Dao) error
	Update(ctx context.Context, d *domain.Dao) error
	GetByAddress(ctx context.Context, addr domain.Address) (*domain.Dao, error)
	List(ctx context.Context) ([]*domain.Dao, error)
}

// ProposalStore provides access to proposals.
type ProposalStore interface {
	Insert(ctx context.Context, p *domain.Proposal) error
	Update(ctx context.Context, p *domain.Proposal) error
	GetByAddress(ctx context.Context, addr domain.Address) (*domain.Proposal, error)

	// GetByDao retrieves a DAO's proposals ordered by number.
	GetByDao(ctx context.Context, dao domain.Address) ([]*domain.Proposal, error)

	// GetByState retrieves proposals in a state ordered by slot enqueued.
	GetByState(ctx context.Context, state domain.ProposalState) ([]*domain.Proposal, error)
}

// EventStore provides access to the append-only event log.
type EventStore interface {
	// InsertBulk adds events atomically. Fails entire batch on duplicate (principal, seq_num).
	InsertBulk(ctx context.Context, events []*domain.EventRecord) error

	// GetByPrincipal retrieves a principal's events with seq_num > afterSeq,
	// ordered by seq_num ASC. limit <= 0 means no limit.
	GetByPrincipal(ctx context.Context, principal domain.Address, afterSeq uint64, limit int) ([]*domain.EventRecord, error)

	// GetBySlotRange retrieves events within [start, end) ordered by (slot, principal, seq_num).
	GetBySlotRange(ctx context.Context, start, end uint64) ([]*domain.EventRecord, error)

	// LastSeqNum returns the highest stored seq_num of a principal, 0 if none.
	LastSeqNum(ctx context.Context, principal domain.Address) (uint64, error)
}

// ObservationStore provides access to oracle observation timeseries.
type ObservationStore interface {
	// InsertBulk adds observations. Fails entire batch on duplicate (amm, seq_num).
	InsertBulk(ctx context.Context, obs []*domain.OracleObservation) error

	// GetByAmm retrieves observations of a pool within [startSlot, endSlot)
	// ordered by seq_num ASC.
	GetByAmm(ctx context.Context, amm domain.Address, startSlot, endSlot uint64) ([]*domain.OracleObservation, error)
}
