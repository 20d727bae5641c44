// Package question implements outcome questions: a payout vector installed
// exactly once by the question's oracle.
package question

import (
	"errors"
	"fmt"
	"math"

	"futarchy-core/internal/domain"
	"futarchy-core/internal/idhash"
)

var (
	ErrInsufficientOutcomes       = errors.New("question needs at least 2 outcomes")
	ErrUnauthorizedOracle         = errors.New("signer is not the question oracle")
	ErrQuestionAlreadyResolved    = errors.New("question already resolved")
	ErrInvalidNumPayoutNumerators = errors.New("payout vector length does not match outcomes")
	ErrPayoutZero                 = errors.New("payout numerators sum to zero")
	ErrPayoutOverflow             = errors.New("payout numerators overflow u32")
	ErrInvalidOutcome             = errors.New("outcome index out of range")
)

// Payout vectors of a two-outcome proposal question. Outcome 0 is pass.
var (
	FinalizedPayout = []uint32{1, 0}
	RevertedPayout  = []uint32{0, 1}
)

// Status is the derived state of a question.
type Status string

const (
	StatusUnresolved Status = "UNRESOLVED"
	StatusFinalized  Status = "FINALIZED" // binary question paid to outcome 0
	StatusReverted   Status = "REVERTED"  // binary question paid to outcome 1
	StatusResolved   Status = "RESOLVED"  // any other payout vector
)

// New creates an unresolved question.
func New(id domain.QuestionID, oracle domain.Address, numOutcomes uint8) (*domain.Question, error) {
	if numOutcomes < 2 {
		return nil, ErrInsufficientOutcomes
	}
	return &domain.Question{
		Address:          idhash.QuestionAddress(id, oracle, numOutcomes),
		QuestionID:       id,
		Oracle:           oracle,
		PayoutNumerators: make([]uint32, numOutcomes),
	}, nil
}

// Resolve installs numerators, signed by the oracle. The denominator is
// their sum, which must be positive.
func Resolve(q *domain.Question, signer domain.Address, numerators []uint32) error {
	if signer != q.Oracle {
		return ErrUnauthorizedOracle
	}
	if q.IsResolved() {
		return ErrQuestionAlreadyResolved
	}
	if len(numerators) != q.NumOutcomes() {
		return fmt.Errorf("%w: got %d, want %d", ErrInvalidNumPayoutNumerators, len(numerators), q.NumOutcomes())
	}

	var sum uint64
	for _, n := range numerators {
		sum += uint64(n)
	}
	if sum == 0 {
		return ErrPayoutZero
	}
	if sum > math.MaxUint32 {
		return ErrPayoutOverflow
	}

	q.PayoutNumerators = append([]uint32(nil), numerators...)
	q.PayoutDenominator = uint32(sum)
	return nil
}

// RedemptionRatio returns (numerator, denominator) for outcome i.
func RedemptionRatio(q *domain.Question, i int) (uint32, uint32, error) {
	if i < 0 || i >= q.NumOutcomes() {
		return 0, 0, ErrInvalidOutcome
	}
	return q.PayoutNumerators[i], q.PayoutDenominator, nil
}

// StatusOf classifies q.
func StatusOf(q *domain.Question) Status {
	if !q.IsResolved() {
		return StatusUnresolved
	}
	if q.NumOutcomes() == 2 {
		switch {
		case q.PayoutNumerators[1] == 0:
			return StatusFinalized
		case q.PayoutNumerators[0] == 0:
			return StatusReverted
		}
	}
	return StatusResolved
}
