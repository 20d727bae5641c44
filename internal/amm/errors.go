package amm

import (
	"errors"
	"fmt"

	"futarchy-core/internal/domain"
)

// Precondition and market errors.
var (
	ErrInvalidSwapFee             = errors.New("swap fee must be in (0, 10000) bps")
	ErrSameTokenMints             = errors.New("base and quote mints must differ")
	ErrZeroSwapAmount             = errors.New("swap amount must be positive")
	ErrInvalidSwapType            = errors.New("unknown swap type")
	ErrEmptyPool                  = errors.New("pool has no liquidity")
	ErrSwapSlippageExceeded       = errors.New("swap output below minimum")
	ErrZeroLiquidityAmount        = errors.New("liquidity amounts must be positive")
	ErrAddLiquidityCalculation    = errors.New("cannot satisfy liquidity maxima at pool ratio")
	ErrAddLiquiditySlippage       = errors.New("liquidity deposit below minimum")
	ErrInvalidWithdrawBps         = errors.New("withdraw bps must be in (0, 10000]")
	ErrInsufficientLpTokenBalance = errors.New("insufficient LP token balance")
	ErrNoObservations             = errors.New("oracle not updated since checkpoint")
)

// Fatal consistency errors.
var (
	ErrSwapInvariant = fmt.Errorf("%w: swap decreased k", domain.ErrInvariant)
	ErrPoolInvariant = fmt.Errorf("%w: pool accounting", domain.ErrInvariant)
)
