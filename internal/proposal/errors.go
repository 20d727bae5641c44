package proposal

import (
	"errors"
	"fmt"

	"futarchy-core/internal/domain"
)

// Creation.
var (
	ErrAmmTooOld                   = errors.New("amm created too long ago")
	ErrInvalidInitialObservation   = errors.New("amm initial observation differs from dao")
	ErrInvalidMaxObservationChange = errors.New("amm max observation change differs from dao")
	ErrInvalidBaseVault            = errors.New("base vault underlying is not the dao token")
	ErrInvalidQuoteVault           = errors.New("quote vault underlying is not the dao usdc")
	ErrInvalidSettlementAuthority  = errors.New("vault question is not settled by the dao treasury")
	ErrConditionalMintMismatch     = errors.New("amm mints are not the vaults' conditional mints")
	ErrInsufficientLpTokenLock     = errors.New("locked liquidity below dao minimum")
	ErrInsufficientLpTokenBalance  = errors.New("insufficient LP token balance")
	ErrDaoMismatch                 = errors.New("proposal does not belong to dao")
	ErrMarketsInUse                = errors.New("markets already belong to a pending proposal")
)

// Lifecycle.
var (
	ErrProposalTooYoung         = errors.New("proposal voting period not over")
	ErrMarketsTooYoung          = errors.New("oracles not observed for the full voting period")
	ErrProposalAlreadyFinalized = errors.New("proposal already finalized")
	ErrProposalNotPassed        = errors.New("proposal has not passed")
	ErrNoProposalReplay         = errors.New("proposal already executed")
)

// Instructions and DAO configuration.
var (
	ErrInvalidDaoConfig   = errors.New("invalid dao config")
	ErrUnknownProgram     = errors.New("unknown instruction program")
	ErrProgramRegistered  = errors.New("program already registered")
	ErrMissingAccount     = errors.New("instruction account not supplied")
	ErrUnauthorizedSigner = errors.New("only the dao treasury may sign")
	ErrInvalidInstruction = errors.New("invalid instruction")
	ErrUnauthorizedUpdate = errors.New("dao update must be signed by the treasury")
)

// ErrSettlementMismatch is the fatal failure of the post-finalize cross check.
var ErrSettlementMismatch = fmt.Errorf("%w: vault settlements disagree", domain.ErrInvariant)
