// Package amm implements the constant-product pool and its bounded-step
// TWAP oracle. Functions mutate a caller-owned *domain.Amm and stage token
// movements on a token.Tx; the caller commits both or neither.
package amm

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"futarchy-core/internal/domain"
	"futarchy-core/internal/fixedpoint"
	"futarchy-core/internal/idhash"
	"futarchy-core/internal/token"
)

// CreateParams describes a new pool.
type CreateParams struct {
	BaseMint                          token.Mint
	QuoteMint                         token.Mint
	SwapFeeBps                        uint64
	TwapInitialObservation            fixedpoint.U128
	TwapMaxObservationChangePerUpdate fixedpoint.U128
}

// New builds an empty pool created at slot. The LP mint is derived from the
// pool address and must be created by the caller (see InitializeLpMint).
func New(p CreateParams, slot uint64) (*domain.Amm, error) {
	if p.SwapFeeBps == 0 || p.SwapFeeBps >= fixedpoint.BPSScale {
		return nil, ErrInvalidSwapFee
	}
	if p.BaseMint.Address == p.QuoteMint.Address {
		return nil, ErrSameTokenMints
	}
	if _, err := fixedpoint.Scale(p.BaseMint.Decimals); err != nil {
		return nil, err
	}
	if _, err := fixedpoint.Scale(p.QuoteMint.Decimals); err != nil {
		return nil, err
	}

	addr := idhash.AmmAddress(p.BaseMint.Address, p.QuoteMint.Address, p.SwapFeeBps)
	return &domain.Amm{
		Address:           addr,
		CreatedAtSlot:     slot,
		LpMint:            idhash.LpMintAddress(addr),
		BaseMint:          p.BaseMint.Address,
		QuoteMint:         p.QuoteMint.Address,
		BaseMintDecimals:  p.BaseMint.Decimals,
		QuoteMintDecimals: p.QuoteMint.Decimals,
		SwapFeeBps:        p.SwapFeeBps,
		Oracle: domain.TwapOracle{
			LastUpdatedSlot:               slot,
			LastObservation:               p.TwapInitialObservation,
			LastPrice:                     p.TwapInitialObservation,
			InitialObservation:            p.TwapInitialObservation,
			MaxObservationChangePerUpdate: p.TwapMaxObservationChangePerUpdate,
		},
	}, nil
}

// InitializeLpMint stages the pool's LP mint with the pool as authority.
func InitializeLpMint(a *domain.Amm, tx *token.Tx) error {
	return tx.CreateMint(a.LpMint, a.BaseMintDecimals, a.Address)
}

// Spot returns the pool's current spot price.
func Spot(a *domain.Amm) (fixedpoint.U128, bool, error) {
	return SpotPrice(a.BaseReserve, a.QuoteReserve, a.BaseMintDecimals, a.QuoteMintDecimals)
}

// Crank updates the oracle at the current reserves.
func Crank(a *domain.Amm, slot uint64) (bool, error) {
	spot, ok, err := Spot(a)
	if err != nil {
		return false, err
	}
	return UpdateOracle(&a.Oracle, slot, spot, ok), nil
}

// SwapOutput returns floor(x'*R_out / (R_in*10000 + x')) with
// x' = x*(10000-fee). The numerator needs up to 142 bits, so both sides are
// full 256-bit values.
func SwapOutput(input, reserveIn, reserveOut, feeBps uint64) (uint64, error) {
	if feeBps >= fixedpoint.BPSScale {
		return 0, ErrInvalidSwapFee
	}
	var withFee, num, den uint256.Int
	withFee.Mul(uint256.NewInt(input), uint256.NewInt(fixedpoint.BPSScale-feeBps))
	num.Mul(&withFee, uint256.NewInt(reserveOut))
	den.Mul(uint256.NewInt(reserveIn), uint256.NewInt(fixedpoint.BPSScale))
	den.Add(&den, &withFee)
	if den.IsZero() {
		return 0, ErrEmptyPool
	}
	num.Div(&num, &den)
	if !num.IsUint64() {
		return 0, fixedpoint.ErrOverflow
	}
	return num.Uint64(), nil
}

// SwapResult reports a completed swap.
type SwapResult struct {
	InputAmount   uint64 `json:"input_amount"`
	OutputAmount  uint64 `json:"output_amount"`
	OracleUpdated bool   `json:"oracle_updated"`
}

// Swap trades input of one side for the other. The oracle is updated at the
// pre-swap price first. The full input (fee included) stays in the pool.
func Swap(a *domain.Amm, tx *token.Tx, user domain.Address, swapType domain.SwapType, input, outputMin, slot uint64) (SwapResult, error) {
	if !swapType.Valid() {
		return SwapResult{}, ErrInvalidSwapType
	}
	if input == 0 {
		return SwapResult{}, ErrZeroSwapAmount
	}
	if a.BaseReserve == 0 || a.QuoteReserve == 0 {
		return SwapResult{}, ErrEmptyPool
	}

	updated, err := Crank(a, slot)
	if err != nil {
		return SwapResult{}, err
	}

	inMint, outMint := a.QuoteMint, a.BaseMint
	reserveIn, reserveOut := &a.QuoteReserve, &a.BaseReserve
	if swapType == domain.SwapSell {
		inMint, outMint = a.BaseMint, a.QuoteMint
		reserveIn, reserveOut = &a.BaseReserve, &a.QuoteReserve
	}

	kBefore := a.K()
	output, err := SwapOutput(input, *reserveIn, *reserveOut, a.SwapFeeBps)
	if err != nil {
		return SwapResult{}, err
	}
	if output < outputMin {
		return SwapResult{}, fmt.Errorf("%w: got %d, want at least %d", ErrSwapSlippageExceeded, output, outputMin)
	}
	if output >= *reserveOut {
		return SwapResult{}, errors.WithStack(fmt.Errorf("%w: output %d drains reserve %d", ErrSwapInvariant, output, *reserveOut))
	}

	newIn, err := fixedpoint.CheckedAdd(*reserveIn, input)
	if err != nil {
		return SwapResult{}, err
	}

	if err := tx.Transfer(inMint, user, a.Address, input); err != nil {
		return SwapResult{}, err
	}
	if output > 0 {
		if err := tx.Transfer(outMint, a.Address, user, output); err != nil {
			return SwapResult{}, err
		}
	}

	*reserveIn = newIn
	*reserveOut -= output

	if a.K().Lt(kBefore) {
		return SwapResult{}, errors.WithStack(fmt.Errorf("%w: k %s -> %s", ErrSwapInvariant, kBefore, a.K()))
	}

	return SwapResult{InputAmount: input, OutputAmount: output, OracleUpdated: updated}, nil
}

// AddLiquidityArgs bounds a deposit.
type AddLiquidityArgs struct {
	MaxBaseAmount  uint64 `json:"max_base_amount"`
	MaxQuoteAmount uint64 `json:"max_quote_amount"`
	MinBaseAmount  uint64 `json:"min_base_amount"`
	MinQuoteAmount uint64 `json:"min_quote_amount"`
}

// LiquidityResult reports a deposit or withdrawal.
type LiquidityResult struct {
	BaseAmount  uint64 `json:"base_amount"`
	QuoteAmount uint64 `json:"quote_amount"`
	LpAmount    uint64 `json:"lp_amount"`
}

// AddLiquidity deposits at the pool ratio and mints LP to user. An empty
// pool takes both maxima and mints max(base, quote).
func AddLiquidity(a *domain.Amm, tx *token.Tx, user domain.Address, args AddLiquidityArgs) (LiquidityResult, error) {
	var res LiquidityResult

	if a.LpSupply == 0 {
		if args.MaxBaseAmount == 0 || args.MaxQuoteAmount == 0 {
			return res, ErrZeroLiquidityAmount
		}
		res.BaseAmount = args.MaxBaseAmount
		res.QuoteAmount = args.MaxQuoteAmount
		res.LpAmount = fixedpoint.Max(args.MaxBaseAmount, args.MaxQuoteAmount)
	} else {
		base, quote, err := depositAmounts(a, args.MaxBaseAmount, args.MaxQuoteAmount)
		if err != nil {
			return res, err
		}
		byBase, err := fixedpoint.MulDiv(base, a.LpSupply, a.BaseReserve)
		if err != nil {
			return res, err
		}
		byQuote, err := fixedpoint.MulDiv(quote, a.LpSupply, a.QuoteReserve)
		if err != nil {
			return res, err
		}
		res.BaseAmount, res.QuoteAmount = base, quote
		res.LpAmount = fixedpoint.Min(byBase, byQuote)
		if res.LpAmount == 0 {
			return res, fmt.Errorf("%w: deposit mints no LP", ErrAddLiquidityCalculation)
		}
	}

	if res.BaseAmount < args.MinBaseAmount || res.QuoteAmount < args.MinQuoteAmount {
		return res, fmt.Errorf("%w: base %d quote %d", ErrAddLiquiditySlippage, res.BaseAmount, res.QuoteAmount)
	}

	newBase, err := fixedpoint.CheckedAdd(a.BaseReserve, res.BaseAmount)
	if err != nil {
		return res, err
	}
	newQuote, err := fixedpoint.CheckedAdd(a.QuoteReserve, res.QuoteAmount)
	if err != nil {
		return res, err
	}
	newSupply, err := fixedpoint.CheckedAdd(a.LpSupply, res.LpAmount)
	if err != nil {
		return res, err
	}

	if err := tx.Transfer(a.BaseMint, user, a.Address, res.BaseAmount); err != nil {
		return res, err
	}
	if err := tx.Transfer(a.QuoteMint, user, a.Address, res.QuoteAmount); err != nil {
		return res, err
	}
	if err := tx.MintTo(a.LpMint, user, res.LpAmount, a.Address); err != nil {
		return res, err
	}

	a.BaseReserve, a.QuoteReserve, a.LpSupply = newBase, newQuote, newSupply
	return res, nil
}

// depositAmounts fits (maxBase, maxQuote) to the pool ratio. The derived
// side rounds up so existing LPs are never diluted.
func depositAmounts(a *domain.Amm, maxBase, maxQuote uint64) (uint64, uint64, error) {
	quote, err := fixedpoint.MulDivCeil(maxBase, a.QuoteReserve, a.BaseReserve)
	if err != nil {
		return 0, 0, err
	}
	if quote <= maxQuote {
		return maxBase, quote, nil
	}

	base, err := fixedpoint.MulDivCeil(maxQuote, a.BaseReserve, a.QuoteReserve)
	if err != nil {
		return 0, 0, err
	}
	if base > maxBase {
		return 0, 0, fmt.Errorf("%w: need base %d > max %d", ErrAddLiquidityCalculation, base, maxBase)
	}
	return base, maxQuote, nil
}

// RemoveLiquidity burns withdrawBps of user's LP balance (rounded up) and
// pays out the pro-rata reserves (rounded down). Burning the whole supply
// pays out the whole pool.
func RemoveLiquidity(a *domain.Amm, tx *token.Tx, user domain.Address, withdrawBps uint64) (LiquidityResult, error) {
	var res LiquidityResult
	if withdrawBps == 0 || withdrawBps > fixedpoint.BPSScale {
		return res, ErrInvalidWithdrawBps
	}

	owned := tx.Balance(user, a.LpMint)
	if owned == 0 {
		return res, ErrInsufficientLpTokenBalance
	}
	if a.LpSupply == 0 || owned > a.LpSupply {
		return res, errors.WithStack(fmt.Errorf("%w: balance %d exceeds lp supply %d", ErrPoolInvariant, owned, a.LpSupply))
	}

	burn, err := fixedpoint.MulDivCeil(owned, withdrawBps, fixedpoint.BPSScale)
	if err != nil {
		return res, err
	}

	if burn == a.LpSupply {
		res.BaseAmount, res.QuoteAmount = a.BaseReserve, a.QuoteReserve
	} else {
		if res.BaseAmount, err = fixedpoint.MulDiv3(a.BaseReserve, owned, withdrawBps, fixedpoint.BPSScale, a.LpSupply); err != nil {
			return res, err
		}
		if res.QuoteAmount, err = fixedpoint.MulDiv3(a.QuoteReserve, owned, withdrawBps, fixedpoint.BPSScale, a.LpSupply); err != nil {
			return res, err
		}
	}
	res.LpAmount = burn

	if err := tx.Burn(a.LpMint, user, burn); err != nil {
		return res, err
	}
	if res.BaseAmount > 0 {
		if err := tx.Transfer(a.BaseMint, a.Address, user, res.BaseAmount); err != nil {
			return res, err
		}
	}
	if res.QuoteAmount > 0 {
		if err := tx.Transfer(a.QuoteMint, a.Address, user, res.QuoteAmount); err != nil {
			return res, err
		}
	}

	a.BaseReserve -= res.BaseAmount
	a.QuoteReserve -= res.QuoteAmount
	a.LpSupply -= burn
	return res, nil
}

// Withdrawable returns the reserves lpAmount of LP could withdraw:
// (R_base * lp / supply, R_quote * lp / supply).
func Withdrawable(a *domain.Amm, lpAmount uint64) (uint64, uint64, error) {
	if a.LpSupply == 0 {
		return 0, 0, nil
	}
	base, err := fixedpoint.MulDiv(a.BaseReserve, lpAmount, a.LpSupply)
	if err != nil {
		return 0, 0, err
	}
	quote, err := fixedpoint.MulDiv(a.QuoteReserve, lpAmount, a.LpSupply)
	if err != nil {
		return 0, 0, err
	}
	return base, quote, nil
}

// CheckInvariants verifies the pool against the staged ledger: supply is
// zero exactly when both reserves are, the LP mint supply matches, and the
// pool's token accounts cover its reserves.
func CheckInvariants(a *domain.Amm, tx *token.Tx) error {
	empty := a.BaseReserve == 0 && a.QuoteReserve == 0
	if (a.LpSupply == 0) != empty {
		return errors.WithStack(fmt.Errorf("%w: lp supply %d with reserves (%d, %d)", ErrPoolInvariant, a.LpSupply, a.BaseReserve, a.QuoteReserve))
	}
	supply, err := tx.Supply(a.LpMint)
	if err != nil {
		return err
	}
	if supply != a.LpSupply {
		return errors.WithStack(fmt.Errorf("%w: lp mint supply %d != pool %d", ErrPoolInvariant, supply, a.LpSupply))
	}
	if tx.Balance(a.Address, a.BaseMint) < a.BaseReserve || tx.Balance(a.Address, a.QuoteMint) < a.QuoteReserve {
		return errors.WithStack(fmt.Errorf("%w: token accounts below reserves", ErrPoolInvariant))
	}
	return nil
}
