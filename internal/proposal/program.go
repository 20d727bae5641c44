package proposal

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"unicode/utf8"

	"futarchy-core/internal/domain"
	"futarchy-core/internal/idhash"
	"futarchy-core/internal/token"
)

// ExecContext is what a program sees while a proposal executes. Dao and Tx
// are the engine's staged copies; nothing is visible until the engine
// commits.
type ExecContext struct {
	Dao    *domain.Dao
	Signer domain.Address
	Tx     *token.Tx

	// Written by programs.
	DaoUpdated bool
	Memos      []string
}

// Program executes one kind of proposal instruction.
type Program interface {
	ID() domain.Address
	Name() string
	Execute(ctx *ExecContext, ix domain.ProposalInstruction) error
}

// Registry maps program ids to programs.
type Registry struct {
	mu       sync.RWMutex
	programs map[domain.Address]Program
}

// NewRegistry creates a registry holding programs.
func NewRegistry(programs ...Program) (*Registry, error) {
	r := &Registry{programs: make(map[domain.Address]Program)}
	for _, p := range programs {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultRegistry holds the built-in transfer, DAO update and memo programs.
func DefaultRegistry() *Registry {
	r, _ := NewRegistry(TransferProgram{}, UpdateDaoProgram{}, MemoProgram{})
	return r
}

// Register adds p.
func (r *Registry) Register(p Program) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.programs[p.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrProgramRegistered, p.Name())
	}
	r.programs[p.ID()] = p
	return nil
}

// Programs lists registered programs sorted by name.
func (r *Registry) Programs() []Program {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Program, 0, len(r.programs))
	for _, p := range r.programs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Validate checks ix statically: its program is known and the treasury is
// its only signer.
func (r *Registry) Validate(ix domain.ProposalInstruction, treasury domain.Address) error {
	r.mu.RLock()
	_, ok := r.programs[ix.ProgramID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProgram, ix.ProgramID)
	}
	for _, acc := range ix.Accounts {
		if acc.IsSigner && acc.Pubkey != treasury {
			return fmt.Errorf("%w: %s", ErrUnauthorizedSigner, acc.Pubkey)
		}
	}
	return nil
}

// Invoke runs ix. Every account ix names must be among remaining.
func (r *Registry) Invoke(ctx *ExecContext, ix domain.ProposalInstruction, remaining []domain.AccountMeta) error {
	if err := r.Validate(ix, ctx.Signer); err != nil {
		return err
	}
	supplied := make(map[domain.Address]bool, len(remaining))
	for _, acc := range remaining {
		supplied[acc.Pubkey] = true
	}
	for _, acc := range ix.Accounts {
		if !supplied[acc.Pubkey] {
			return fmt.Errorf("%w: %s", ErrMissingAccount, acc.Pubkey)
		}
	}

	r.mu.RLock()
	p := r.programs[ix.ProgramID]
	r.mu.RUnlock()
	return p.Execute(ctx, ix)
}

// TransferData is the payload of a treasury transfer.
type TransferData struct {
	Mint   domain.Address `json:"mint"`
	Amount uint64         `json:"amount"`
}

// TransferProgram moves tokens out of the treasury.
// Accounts: [0] treasury (signer, writable), [1] destination owner (writable).
type TransferProgram struct{}

func (TransferProgram) ID() domain.Address { return idhash.TokenProgramID }
func (TransferProgram) Name() string       { return "token_transfer" }

func (TransferProgram) Execute(ctx *ExecContext, ix domain.ProposalInstruction) error {
	if len(ix.Accounts) != 2 || ix.Accounts[0].Pubkey != ctx.Signer || !ix.Accounts[0].IsSigner {
		return fmt.Errorf("%w: transfer wants [treasury, destination]", ErrInvalidInstruction)
	}
	var data TransferData
	if err := json.Unmarshal(ix.Data, &data); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInstruction, err)
	}
	if data.Amount == 0 {
		return fmt.Errorf("%w: zero amount", ErrInvalidInstruction)
	}
	return ctx.Tx.Transfer(data.Mint, ctx.Signer, ix.Accounts[1].Pubkey, data.Amount)
}

// UpdateDaoProgram reconfigures the executing DAO from a JSON DaoUpdate.
// Accounts: [0] dao (writable), [1] treasury (signer).
type UpdateDaoProgram struct{}

func (UpdateDaoProgram) ID() domain.Address { return idhash.GovernanceProgramID }
func (UpdateDaoProgram) Name() string       { return "update_dao" }

func (UpdateDaoProgram) Execute(ctx *ExecContext, ix domain.ProposalInstruction) error {
	if len(ix.Accounts) != 2 || ix.Accounts[0].Pubkey != ctx.Dao.Address || ix.Accounts[1].Pubkey != ctx.Signer || !ix.Accounts[1].IsSigner {
		return fmt.Errorf("%w: update wants [dao, treasury]", ErrInvalidInstruction)
	}
	var u DaoUpdate
	if err := json.Unmarshal(ix.Data, &u); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInstruction, err)
	}
	if u.IsEmpty() {
		return fmt.Errorf("%w: empty dao update", ErrInvalidInstruction)
	}
	if err := UpdateDao(ctx.Dao, ctx.Signer, u); err != nil {
		return err
	}
	ctx.DaoUpdated = true
	return nil
}

// MemoProgram records a UTF-8 memo.
type MemoProgram struct{}

func (MemoProgram) ID() domain.Address { return idhash.MemoProgramID }
func (MemoProgram) Name() string       { return "memo" }

func (MemoProgram) Execute(ctx *ExecContext, ix domain.ProposalInstruction) error {
	if !utf8.Valid(ix.Data) {
		return fmt.Errorf("%w: memo is not utf-8", ErrInvalidInstruction)
	}
	ctx.Memos = append(ctx.Memos, string(ix.Data))
	return nil
}

// MemoInstruction builds a memo instruction.
func MemoInstruction(memo string) domain.ProposalInstruction {
	return domain.ProposalInstruction{ProgramID: idhash.MemoProgramID, Data: []byte(memo)}
}

// TransferInstruction builds a treasury transfer instruction.
func TransferInstruction(treasury, destination, mint domain.Address, amount uint64) domain.ProposalInstruction {
	data, _ := json.Marshal(TransferData{Mint: mint, Amount: amount})
	return domain.ProposalInstruction{
		ProgramID: idhash.TokenProgramID,
		Accounts: []domain.AccountMeta{
			{Pubkey: treasury, IsSigner: true, IsWritable: true},
			{Pubkey: destination, IsWritable: true},
		},
		Data: data,
	}
}

// UpdateDaoInstruction builds a DAO update instruction.
func UpdateDaoInstruction(d *domain.Dao, u DaoUpdate) (domain.ProposalInstruction, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return domain.ProposalInstruction{}, err
	}
	return domain.ProposalInstruction{
		ProgramID: idhash.GovernanceProgramID,
		Accounts: []domain.AccountMeta{
			{Pubkey: d.Address, IsWritable: true},
			{Pubkey: d.Treasury, IsSigner: true},
		},
		Data: data,
	}, nil
}
