// Package engine runs every futarchy operation as one atomic unit.
//
// An operation takes exclusive locks on the objects it touches (sorted by
// address, so concurrent operations cannot deadlock), mutates clones of
// those objects and a staged ledger transaction, validates the pool and
// vault invariants, and only then commits the ledger, writes the clones
// back and emits its events. A failed operation leaves no trace.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"futarchy-core/internal/clock"
	"futarchy-core/internal/domain"
	"futarchy-core/internal/events"
	"futarchy-core/internal/observability"
	"futarchy-core/internal/proposal"
	"futarchy-core/internal/storage"
	"futarchy-core/internal/token"
)

var (
	// ErrAlreadyExists is returned when creating an object whose derived
	// address is taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrWriteFailed marks a store write that failed after the ledger
	// committed.
	ErrWriteFailed = fmt.Errorf("%w: store write after commit", domain.ErrInvariant)
)

// Stores are the object arenas the engine owns.
type Stores struct {
	Amms      storage.AmmStore
	Questions storage.QuestionStore
	Vaults    storage.VaultStore
	Daos      storage.DaoStore
	Proposals storage.ProposalStore
}

// Config configures an Engine.
type Config struct {
	// DaoDefaults seeds InitializeDao when no config is given.
	DaoDefaults proposal.DaoConfig
}

// Engine executes operations against the core state.
type Engine struct {
	cfg      Config
	logger   *zap.Logger
	clock    clock.Clock
	ledger   *token.Ledger
	stores   Stores
	emitter  events.Emitter
	programs *proposal.Registry
	locks    *keyedLocks
}

// Option customizes an Engine.
type Option func(*Engine)

// WithPrograms replaces the default instruction programs.
func WithPrograms(r *proposal.Registry) Option {
	return func(e *Engine) { e.programs = r }
}

// New creates an engine.
func New(cfg Config, logger *zap.Logger, clk clock.Clock, ledger *token.Ledger, stores Stores, emitter events.Emitter, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		logger:   logger.Named("engine"),
		clock:    clk,
		ledger:   ledger,
		stores:   stores,
		emitter:  emitter,
		programs: proposal.DefaultRegistry(),
		locks:    newKeyedLocks(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Programs returns the instruction program registry.
func (e *Engine) Programs() *proposal.Registry { return e.programs }

// Ledger returns the token ledger.
func (e *Engine) Ledger() *token.Ledger { return e.ledger }

// Slot returns the current slot.
func (e *Engine) Slot() uint64 { return e.clock.Slot() }

// op is one in-flight operation.
type op struct {
	ctx    context.Context
	name   string
	actor  domain.Address
	slot   uint64
	now    int64
	tx     *token.Tx
	writes []func(context.Context) error
	sealed []domain.EventRecord
}

// write queues a store write for after the ledger commits.
func (o *op) write(fn func(context.Context) error) {
	o.writes = append(o.writes, fn)
}

// emit stamps ev with the next sequence number of its principal and seals
// it. seq is the principal's counter and is incremented in place.
func (o *op) emit(ev events.Event, seq *uint64, user domain.Address) error {
	*seq++
	h := ev.Header()
	h.Slot = o.slot
	h.UnixTimestamp = o.now
	h.User = user
	h.SeqNum = *seq

	rec, err := events.Seal(ev)
	if err != nil {
		return err
	}
	o.sealed = append(o.sealed, rec)
	return nil
}

// run executes fn as one atomic operation holding locks on keys.
func (e *Engine) run(ctx context.Context, name string, actor domain.Address, keys []domain.Address, fn func(o *op) error) error {
	start := time.Now()
	unlock := e.locks.acquire(keys...)
	defer unlock()

	o := &op{
		ctx:   ctx,
		name:  name,
		actor: actor,
		slot:  e.clock.Slot(),
		now:   e.clock.Now().Unix(),
		tx:    e.ledger.Begin(),
	}

	err := fn(o)
	if err == nil {
		err = o.tx.Commit()
	} else {
		o.tx.Rollback()
	}
	if err == nil {
		for _, w := range o.writes {
			if werr := w(ctx); werr != nil {
				err = pkgerrors.WithStack(fmt.Errorf("%w: %v", ErrWriteFailed, werr))
				break
			}
		}
	}
	if err != nil {
		e.fail(o, err, time.Since(start))
		return err
	}

	// Still under the locks: principals' events must reach the queue in
	// seq_num order. This may block on a full queue.
	e.emitter.Emit(o.sealed)
	observability.RecordOperation(name, observability.OutcomeOK, time.Since(start).Seconds())
	e.logger.Debug("operation committed",
		zap.String("op", name),
		zap.Stringer("actor", actor),
		zap.Uint64("slot", o.slot),
		zap.Int("events", len(o.sealed)),
	)
	return nil
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

func (e *Engine) fail(o *op, err error, elapsed time.Duration) {
	if !domain.IsFatal(err) {
		observability.RecordOperation(o.name, observability.OutcomeRejected, elapsed.Seconds())
		e.logger.Debug("operation rejected",
			zap.String("op", o.name),
			zap.Stringer("actor", o.actor),
			zap.Error(err),
		)
		return
	}

	var st stackTracer
	if !errors.As(err, &st) {
		err = pkgerrors.WithStack(err)
	}
	observability.RecordOperation(o.name, observability.OutcomeFatal, elapsed.Seconds())
	e.logger.Error("invariant violated, operation aborted",
		zap.String("op", o.name),
		zap.Stringer("actor", o.actor),
		zap.Uint64("slot", o.slot),
		zap.Error(err),
		zap.Stack("stack"),
	)
}

// keyedLocks hands out one mutex per address.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[domain.Address]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[domain.Address]*sync.Mutex)}
}

// acquire locks keys in address order and returns the release func.
func (k *keyedLocks) acquire(keys ...domain.Address) func() {
	uniq := make([]domain.Address, 0, len(keys))
	seen := make(map[domain.Address]bool, len(keys))
	for _, key := range keys {
		if !seen[key] {
			seen[key] = true
			uniq = append(uniq, key)
		}
	}
	sort.Slice(uniq, func(i, j int) bool { return string(uniq[i][:]) < string(uniq[j][:]) })

	k.mu.Lock()
	held := make([]*sync.Mutex, len(uniq))
	for i, key := range uniq {
		m, ok := k.locks[key]
		if !ok {
			m = new(sync.Mutex)
			k.locks[key] = m
		}
		held[i] = m
	}
	k.mu.Unlock()

	for _, m := range held {
		m.Lock()
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
