package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"futarchy-core/internal/amm"
	"futarchy-core/internal/domain"
	"futarchy-core/internal/engine"
	"futarchy-core/internal/fixedpoint"
	"futarchy-core/internal/proposal"
	"futarchy-core/internal/question"
	"futarchy-core/internal/storage"
	"futarchy-core/internal/token"
	"futarchy-core/internal/vault"
)

const maxBodyBytes = 1 << 20

// errBadRequest wraps malformed input.
var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

var (
	notFound = []error{storage.ErrNotFound, token.ErrMintNotFound}

	conflicts = []error{
		engine.ErrAlreadyExists,
		storage.ErrDuplicateKey,
		token.ErrMintExists,
		question.ErrQuestionAlreadyResolved,
		proposal.ErrProposalAlreadyFinalized,
		proposal.ErrNoProposalReplay,
		proposal.ErrMarketsInUse,
		proposal.ErrProgramRegistered,
	}

	unprocessable = []error{
		amm.ErrSwapSlippageExceeded,
		amm.ErrAddLiquiditySlippage,
		amm.ErrAddLiquidityCalculation,
		amm.ErrEmptyPool,
		amm.ErrNoObservations,
		proposal.ErrProposalTooYoung,
		proposal.ErrMarketsTooYoung,
		proposal.ErrProposalNotPassed,
		vault.ErrCantRedeemConditionalTokens,
	}

	badRequests = []error{
		errBadRequest,
		storage.ErrInvalidInput,
		engine.ErrZeroAmount,
		engine.ErrInvalidAccount,
		token.ErrInsufficientBalance,
		token.ErrMintAuthority,
		amm.ErrInvalidSwapFee,
		amm.ErrSameTokenMints,
		amm.ErrZeroSwapAmount,
		amm.ErrInvalidSwapType,
		amm.ErrZeroLiquidityAmount,
		amm.ErrInvalidWithdrawBps,
		amm.ErrInsufficientLpTokenBalance,
		question.ErrInsufficientOutcomes,
		question.ErrUnauthorizedOracle,
		question.ErrInvalidNumPayoutNumerators,
		question.ErrPayoutZero,
		question.ErrPayoutOverflow,
		question.ErrInvalidOutcome,
		vault.ErrZeroAmount,
		vault.ErrInsufficientUnderlyingTokens,
		vault.ErrInsufficientConditionalTokens,
		vault.ErrBadConditionalMint,
		vault.ErrQuestionMismatch,
		vault.ErrTooManyOutcomes,
		proposal.ErrAmmTooOld,
		proposal.ErrInvalidInitialObservation,
		proposal.ErrInvalidMaxObservationChange,
		proposal.ErrInvalidBaseVault,
		proposal.ErrInvalidQuoteVault,
		proposal.ErrInvalidSettlementAuthority,
		proposal.ErrConditionalMintMismatch,
		proposal.ErrInsufficientLpTokenLock,
		proposal.ErrInsufficientLpTokenBalance,
		proposal.ErrDaoMismatch,
		proposal.ErrInvalidDaoConfig,
		proposal.ErrUnknownProgram,
		proposal.ErrMissingAccount,
		proposal.ErrUnauthorizedSigner,
		proposal.ErrInvalidInstruction,
		proposal.ErrUnauthorizedUpdate,
		fixedpoint.ErrOverflow,
		fixedpoint.ErrUnderflow,
		fixedpoint.ErrDivisionByZero,
		fixedpoint.ErrDecimalScale,
	}
)

func matches(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// statusFor maps an operation error to an HTTP status. Invariant
// violations are always 500, whatever else they wrap.
func statusFor(err error) int {
	switch {
	case domain.IsFatal(err):
		return http.StatusInternalServerError
	case matches(err, notFound):
		return http.StatusNotFound
	case matches(err, conflicts):
		return http.StatusConflict
	case matches(err, unprocessable):
		return http.StatusUnprocessableEntity
	case matches(err, badRequests):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		if !domain.IsFatal(err) {
			writeError(w, status, "internal server error")
			return
		}
	}
	writeError(w, status, err.Error())
}

// decode reads a JSON body into v, rejecting unknown fields.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decode body: %v", errBadRequest, err)
	}
	return nil
}

func pathAddress(r *http.Request, name string) (domain.Address, error) {
	a, err := domain.ParseAddress(r.PathValue(name))
	if err != nil {
		return domain.Address{}, fmt.Errorf("%w: %s: %v", errBadRequest, name, err)
	}
	return a, nil
}

func queryUint(r *http.Request, name string, def uint64) (uint64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", errBadRequest, name, err)
	}
	return n, nil
}

// actorOf returns the request signer.
func actorOf(r *http.Request) (domain.Address, error) {
	v := r.Header.Get(ActorHeader)
	if v == "" {
		return domain.Address{}, fmt.Errorf("%w: missing %s header", errBadRequest, ActorHeader)
	}
	a, err := domain.ParseAddress(v)
	if err != nil {
		return domain.Address{}, fmt.Errorf("%w: %s: %v", errBadRequest, ActorHeader, err)
	}
	return a, nil
}

// mutation resolves the actor and the named path address, then decodes
// the body into req when non-nil.
func mutation(r *http.Request, path string, req any) (actor, addr domain.Address, err error) {
	if actor, err = actorOf(r); err != nil {
		return
	}
	if path != "" {
		if addr, err = pathAddress(r, path); err != nil {
			return
		}
	}
	if req != nil {
		err = decode(r, req)
	}
	return
}
