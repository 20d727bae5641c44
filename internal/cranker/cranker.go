// Package cranker keeps pending proposals moving: it cranks the TWAP
// oracles of their markets every pass and finalizes them once their
// voting period is over.
package cranker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	rbroker "futarchy-core/internal/broker/redis"
	"futarchy-core/internal/domain"
	"futarchy-core/internal/observability"
	"futarchy-core/internal/proposal"
)

// Run statuses reported to metrics.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// DefaultActor signs cranker operations when none is configured.
var DefaultActor = domain.AddressFromSeed("futarchy-cranker")

// Engine is the part of the engine the cranker drives.
type Engine interface {
	Slot() uint64
	PendingProposals(ctx context.Context) ([]*domain.Proposal, error)
	GetDao(ctx context.Context, addr domain.Address) (*domain.Dao, error)
	CrankTwap(ctx context.Context, actor, addr domain.Address) (*domain.Amm, bool, error)
	FinalizeProposal(ctx context.Context, actor, addr domain.Address) (proposal.FinalizeResult, error)
	ExecuteProposal(ctx context.Context, actor, addr domain.Address, remaining []domain.AccountMeta) (*domain.Proposal, error)
}

// Locker serializes passes across replicas.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// Config configures a Cranker.
type Config struct {
	Interval time.Duration
	// AutoExecute executes passed proposals right after finalizing them,
	// supplying the instruction's own accounts.
	AutoExecute bool
	Actor       domain.Address
	LockKey     string
	LockTTL     time.Duration
}

// Report summarizes one pass.
type Report struct {
	Slot      uint64
	Pending   int
	Cranked   int
	Finalized int
	Passed    int
	Executed  int
	Errors    int
	Skipped   bool
}

// Cranker runs passes on an interval.
type Cranker struct {
	eng    Engine
	cfg    Config
	locker Locker
	logger *zap.Logger
}

// Option configures a Cranker.
type Option func(*Cranker)

// WithLocker holds cfg.LockKey in l for the duration of every pass.
func WithLocker(l Locker) Option {
	return func(c *Cranker) { c.locker = l }
}

// New creates a cranker over eng.
func New(eng Engine, cfg Config, logger *zap.Logger, opts ...Option) *Cranker {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Actor.IsZero() {
		cfg.Actor = DefaultActor
	}
	if cfg.LockKey == "" {
		cfg.LockKey = "futarchy:cranker"
	}
	if cfg.LockTTL < cfg.Interval {
		cfg.LockTTL = 3 * cfg.Interval
	}
	c := &Cranker{eng: eng, cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run passes once per interval until ctx is done.
func (c *Cranker) Run(ctx context.Context) error {
	c.logger.Info("cranker started",
		zap.Duration("interval", c.cfg.Interval),
		zap.Bool("auto_execute", c.cfg.AutoExecute),
	)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("cranker stopped")
			return nil
		case <-ticker.C:
			if _, err := c.RunOnce(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("cranker pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce cranks every pending proposal's pools and finalizes the ones
// that are due. Errors on single proposals are logged and counted; only
// failing to list proposals fails the pass.
func (c *Cranker) RunOnce(ctx context.Context) (Report, error) {
	rep := Report{Slot: c.eng.Slot()}

	if c.locker != nil {
		release, err := c.locker.Acquire(ctx, c.cfg.LockKey, c.cfg.LockTTL)
		if errors.Is(err, rbroker.ErrLockHeld) {
			rep.Skipped = true
			observability.RecordCrankerRun(StatusSkipped)
			return rep, nil
		}
		if err != nil {
			observability.RecordCrankerRun(StatusError)
			return rep, err
		}
		defer release()
	}

	pending, err := c.eng.PendingProposals(ctx)
	if err != nil {
		observability.RecordCrankerRun(StatusError)
		return rep, err
	}
	rep.Pending = len(pending)

	cranked := make(map[domain.Address]bool)
	for _, p := range pending {
		c.advance(ctx, p, cranked, &rep)
	}

	status := StatusOK
	if rep.Errors > 0 {
		status = StatusError
	}
	observability.RecordCrankerRun(status)

	if rep.Cranked > 0 || rep.Finalized > 0 {
		c.logger.Debug("cranker pass",
			zap.Uint64("slot", rep.Slot),
			zap.Int("pending", rep.Pending),
			zap.Int("cranked", rep.Cranked),
			zap.Int("finalized", rep.Finalized),
			zap.Int("executed", rep.Executed),
		)
	}
	return rep, nil
}

func (c *Cranker) advance(ctx context.Context, p *domain.Proposal, cranked map[domain.Address]bool, rep *Report) {
	log := c.logger.With(zap.Stringer("proposal", p.Address), zap.Uint64("number", p.Number))

	for _, a := range []domain.Address{p.PassAmm, p.FailAmm} {
		if cranked[a] {
			continue
		}
		cranked[a] = true
		_, updated, err := c.eng.CrankTwap(ctx, c.cfg.Actor, a)
		if err != nil {
			rep.Errors++
			log.Warn("crank failed", zap.Stringer("amm", a), zap.Error(err))
			continue
		}
		if updated {
			rep.Cranked++
		}
	}

	d, err := c.eng.GetDao(ctx, p.Dao)
	if err != nil {
		rep.Errors++
		log.Warn("load dao failed", zap.Error(err))
		return
	}
	if c.eng.Slot() < p.SlotEnqueued+d.SlotsPerProposal {
		return
	}

	res, err := c.eng.FinalizeProposal(ctx, c.cfg.Actor, p.Address)
	switch {
	case errors.Is(err, proposal.ErrMarketsTooYoung), errors.Is(err, proposal.ErrProposalTooYoung):
		log.Debug("proposal not yet finalizable", zap.Error(err))
		return
	case errors.Is(err, proposal.ErrProposalAlreadyFinalized):
		return
	case err != nil:
		rep.Errors++
		log.Warn("finalize failed", zap.Error(err))
		return
	}
	rep.Finalized++
	log.Info("proposal finalized",
		zap.String("state", string(res.State)),
		zap.Stringer("pass_twap", res.PassTwap),
		zap.Stringer("fail_twap", res.FailTwap),
	)

	if res.State != domain.ProposalPassed {
		return
	}
	rep.Passed++
	if !c.cfg.AutoExecute {
		return
	}

	if _, err := c.eng.ExecuteProposal(ctx, c.cfg.Actor, p.Address, p.Instruction.Accounts); err != nil {
		rep.Errors++
		log.Warn("auto-execute failed", zap.Error(err))
		return
	}
	rep.Executed++
	log.Info("proposal executed")
}
