package domain

import (
	"encoding/hex"
	"fmt"
)

// QuestionID is the caller-chosen 32-byte question identifier, hex in text.
type QuestionID [32]byte

// ParseQuestionID decodes a 64-character hex string.
func ParseQuestionID(s string) (QuestionID, error) {
	var id QuestionID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("decode question id: %w", err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("decode question id: want %d bytes, got %d", len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// String returns the hex form.
func (id QuestionID) String() string { return hex.EncodeToString(id[:]) }

// MarshalText implements encoding.TextMarshaler.
func (id QuestionID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *QuestionID) UnmarshalText(text []byte) error {
	parsed, err := ParseQuestionID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Question is an outcome set resolved once by its oracle.
// Before resolution PayoutDenominator is 0.
type Question struct {
	Address           Address  `json:"address"`
	QuestionID        QuestionID `json:"question_id"`
	Oracle            Address  `json:"oracle"`
	PayoutNumerators  []uint32 `json:"payout_numerators"`
	PayoutDenominator uint32   `json:"payout_denominator"`
	SeqNum            uint64   `json:"seq_num"`
}

// NumOutcomes returns the number of outcomes.
func (q *Question) NumOutcomes() int {
	return len(q.PayoutNumerators)
}

// IsResolved reports whether the oracle has installed a payout vector.
func (q *Question) IsResolved() bool {
	return q.PayoutDenominator > 0
}

// Clone returns a deep copy.
func (q *Question) Clone() *Question {
	c := *q
	c.PayoutNumerators = append([]uint32(nil), q.PayoutNumerators...)
	return &c
}
