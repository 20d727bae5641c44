package engine

import (
	"context"
	"errors"
	"fmt"

	"futarchy-core/internal/amm"
	"futarchy-core/internal/domain"
	"futarchy-core/internal/events"
	"futarchy-core/internal/fixedpoint"
	"futarchy-core/internal/idhash"
	"futarchy-core/internal/observability"
	"futarchy-core/internal/storage"
)

// CreateAmmParams are the inputs of CreateAmm.
type CreateAmmParams struct {
	BaseMint                          domain.Address  `json:"base_mint"`
	QuoteMint                         domain.Address  `json:"quote_mint"`
	SwapFeeBps                        uint64          `json:"swap_fee_bps"`
	TwapInitialObservation            fixedpoint.U128 `json:"twap_initial_observation"`
	TwapMaxObservationChangePerUpdate fixedpoint.U128 `json:"twap_max_observation_change_per_update"`
}

// SwapParams are the inputs of Swap.
type SwapParams struct {
	SwapType        domain.SwapType `json:"swap_type"`
	InputAmount     uint64          `json:"input_amount"`
	OutputAmountMin uint64          `json:"output_amount_min"`
}

// CreateAmm creates an empty pool and its LP mint.
func (e *Engine) CreateAmm(ctx context.Context, actor domain.Address, p CreateAmmParams) (*domain.Amm, error) {
	addr := idhash.AmmAddress(p.BaseMint, p.QuoteMint, p.SwapFeeBps)

	var created *domain.Amm
	err := e.run(ctx, "create_amm", actor, []domain.Address{addr}, func(o *op) error {
		if err := absent(ctx, e.stores.Amms.GetByAddress, addr); err != nil {
			return err
		}
		base, err := o.tx.Mint(p.BaseMint)
		if err != nil {
			return fmt.Errorf("base mint: %w", err)
		}
		quote, err := o.tx.Mint(p.QuoteMint)
		if err != nil {
			return fmt.Errorf("quote mint: %w", err)
		}

		a, err := amm.New(amm.CreateParams{
			BaseMint:                          base,
			QuoteMint:                         quote,
			SwapFeeBps:                        p.SwapFeeBps,
			TwapInitialObservation:            p.TwapInitialObservation,
			TwapMaxObservationChangePerUpdate: p.TwapMaxObservationChangePerUpdate,
		}, o.slot)
		if err != nil {
			return err
		}
		if err := amm.InitializeLpMint(a, o.tx); err != nil {
			return err
		}
		if err := o.emit(&events.CreateAmmEvent{
			Amm:                               a.Address,
			BaseMint:                          a.BaseMint,
			QuoteMint:                         a.QuoteMint,
			LpMint:                            a.LpMint,
			SwapFeeBps:                        a.SwapFeeBps,
			TwapInitialObservation:            a.Oracle.InitialObservation,
			TwapMaxObservationChangePerUpdate: a.Oracle.MaxObservationChangePerUpdate,
		}, &a.SeqNum, actor); err != nil {
			return err
		}

		o.write(func(ctx context.Context) error { return e.stores.Amms.Insert(ctx, a) })
		created = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created.Clone(), nil
}

// withAmm runs fn on a clone of the pool at addr, checks the pool
// invariants and queues the write back.
func (e *Engine) withAmm(ctx context.Context, name string, actor, addr domain.Address, fn func(o *op, a *domain.Amm) error) (*domain.Amm, error) {
	var out *domain.Amm
	err := e.run(ctx, name, actor, []domain.Address{addr}, func(o *op) error {
		a, err := e.stores.Amms.GetByAddress(ctx, addr)
		if err != nil {
			return fmt.Errorf("amm %s: %w", addr, err)
		}
		if err := fn(o, a); err != nil {
			return err
		}
		if err := amm.CheckInvariants(a, o.tx); err != nil {
			return err
		}
		o.write(func(ctx context.Context) error { return e.stores.Amms.Update(ctx, a) })
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	reportPool(out)
	return out.Clone(), nil
}

// AddLiquidity deposits into a pool at its ratio.
func (e *Engine) AddLiquidity(ctx context.Context, actor, addr domain.Address, args amm.AddLiquidityArgs) (amm.LiquidityResult, error) {
	var res amm.LiquidityResult
	_, err := e.withAmm(ctx, "add_liquidity", actor, addr, func(o *op, a *domain.Amm) error {
		var err error
		if res, err = amm.AddLiquidity(a, o.tx, actor, args); err != nil {
			return err
		}
		return o.emit(&events.AddLiquidityEvent{
			Amm:            a.Address,
			BaseAmount:     res.BaseAmount,
			QuoteAmount:    res.QuoteAmount,
			LpTokensMinted: res.LpAmount,
			Post:           events.PoolStateOf(a),
		}, &a.SeqNum, actor)
	})
	return res, err
}

// RemoveLiquidity burns withdrawBps of actor's LP tokens.
func (e *Engine) RemoveLiquidity(ctx context.Context, actor, addr domain.Address, withdrawBps uint64) (amm.LiquidityResult, error) {
	var res amm.LiquidityResult
	_, err := e.withAmm(ctx, "remove_liquidity", actor, addr, func(o *op, a *domain.Amm) error {
		var err error
		if res, err = amm.RemoveLiquidity(a, o.tx, actor, withdrawBps); err != nil {
			return err
		}
		return o.emit(&events.RemoveLiquidityEvent{
			Amm:            a.Address,
			WithdrawBps:    withdrawBps,
			BaseAmount:     res.BaseAmount,
			QuoteAmount:    res.QuoteAmount,
			LpTokensBurned: res.LpAmount,
			Post:           events.PoolStateOf(a),
		}, &a.SeqNum, actor)
	})
	return res, err
}

// Swap trades against a pool.
func (e *Engine) Swap(ctx context.Context, actor, addr domain.Address, p SwapParams) (amm.SwapResult, error) {
	var res amm.SwapResult
	_, err := e.withAmm(ctx, "swap", actor, addr, func(o *op, a *domain.Amm) error {
		var err error
		if res, err = amm.Swap(a, o.tx, actor, p.SwapType, p.InputAmount, p.OutputAmountMin, o.slot); err != nil {
			return err
		}
		return o.emit(&events.SwapEvent{
			Amm:           a.Address,
			SwapType:      p.SwapType,
			InputAmount:   res.InputAmount,
			OutputAmount:  res.OutputAmount,
			OracleUpdated: res.OracleUpdated,
			Post:          events.PoolStateOf(a),
		}, &a.SeqNum, actor)
	})
	if err == nil {
		observability.RecordSwap(string(p.SwapType), res.InputAmount)
	}
	return res, err
}

// CrankTwap updates a pool's oracle at the current slot. A crank in a slot
// the oracle already saw succeeds without changing anything.
func (e *Engine) CrankTwap(ctx context.Context, actor, addr domain.Address) (*domain.Amm, bool, error) {
	var updated bool
	a, err := e.withAmm(ctx, "crank_twap", actor, addr, func(o *op, a *domain.Amm) error {
		var err error
		updated, err = e.crank(o, a)
		return err
	})
	return a, updated, err
}

// crank updates a's oracle inside o and emits CrankTwapEvent if it moved.
func (e *Engine) crank(o *op, a *domain.Amm) (bool, error) {
	updated, err := amm.Crank(a, o.slot)
	if err != nil || !updated {
		return false, err
	}
	return true, o.emit(&events.CrankTwapEvent{
		Amm:     a.Address,
		Updated: true,
		Post:    events.PoolStateOf(a),
	}, &a.SeqNum, o.actor)
}

// absent returns ErrAlreadyExists if get finds addr.
func absent[T any](ctx context.Context, get func(context.Context, domain.Address) (T, error), addr domain.Address) error {
	_, err := get(ctx, addr)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", ErrAlreadyExists, addr)
	case errors.Is(err, storage.ErrNotFound):
		return nil
	default:
		return err
	}
}

func reportPool(a *domain.Amm) {
	obs := amm.PriceFloat(a.Oracle.LastObservation)
	base, _ := fixedpoint.ToUnits(a.BaseReserve, a.BaseMintDecimals)
	quote, _ := fixedpoint.ToUnits(a.QuoteReserve, a.QuoteMintDecimals)
	observability.UpdatePool(a.Address.String(), obs, base.InexactFloat64(), quote.InexactFloat64())
}
