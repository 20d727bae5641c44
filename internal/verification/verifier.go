// Package verification audits a stored event log: every principal's
// sequence numbers run without gaps, slots never go backwards, payloads
// decode to headers that agree with the stored record, and every oracle
// update has its row in the observation timeseries.
package verification

import (
	"context"
	"fmt"
	"math"
	"sort"

	"futarchy-core/internal/domain"
	"futarchy-core/internal/events"
	"futarchy-core/internal/storage"
)

// FieldDivergence is a mismatch found while verifying one record.
type FieldDivergence struct {
	Principal domain.Address `json:"principal"`
	SeqNum    uint64         `json:"seq_num"`
	Field     string         `json:"field"`
	Expected  interface{}    `json:"expected"` // what the log implies
	Actual    interface{}    `json:"actual"`   // what is stored
}

// Report is the result of one verification run.
type Report struct {
	StartSlot    uint64            `json:"start_slot"`
	EndSlot      uint64            `json:"end_slot"`
	Events       int               `json:"events"`
	Principals   int               `json:"principals"`
	Observations int               `json:"observations"` // oracle updates checked
	Divergences  []FieldDivergence `json:"divergences"`
}

// Match reports whether the run found nothing wrong.
func (r *Report) Match() bool { return len(r.Divergences) == 0 }

// Verifier checks an event store, and optionally the observation store
// fed from it.
type Verifier struct {
	events       storage.EventStore
	observations storage.ObservationStore
}

// New creates a verifier. observations may be nil to skip the timeseries
// checks.
func New(events storage.EventStore, observations storage.ObservationStore) *Verifier {
	return &Verifier{events: events, observations: observations}
}

// VerifyRange checks events within [start, end). A principal whose first
// event in range is not its first ever is checked from where it enters.
func (v *Verifier) VerifyRange(ctx context.Context, start, end uint64) (*Report, error) {
	recs, err := v.events.GetBySlotRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	return v.verify(ctx, recs, start, end, start == 0)
}

// VerifyPrincipal checks one principal's full history.
func (v *Verifier) VerifyPrincipal(ctx context.Context, principal domain.Address) (*Report, error) {
	recs, err := v.events.GetByPrincipal(ctx, principal, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	return v.verify(ctx, recs, 0, math.MaxUint64, true)
}

func (v *Verifier) verify(ctx context.Context, recs []*domain.EventRecord, start, end uint64, fromGenesis bool) (*Report, error) {
	rep := &Report{StartSlot: start, EndSlot: end, Events: len(recs)}

	byPrincipal := make(map[domain.Address][]*domain.EventRecord)
	var order []domain.Address
	for _, rec := range recs {
		if _, ok := byPrincipal[rec.Principal]; !ok {
			order = append(order, rec.Principal)
		}
		byPrincipal[rec.Principal] = append(byPrincipal[rec.Principal], rec)
	}
	rep.Principals = len(order)

	for _, p := range order {
		list := byPrincipal[p]
		sort.SliceStable(list, func(i, j int) bool { return list[i].SeqNum < list[j].SeqNum })

		first := uint64(1)
		if !fromGenesis {
			first = list[0].SeqNum
		}
		rep.Divergences = append(rep.Divergences, CheckSequence(list, first)...)
		for _, rec := range list {
			rep.Divergences = append(rep.Divergences, CheckRecord(rec)...)
		}
	}

	if v.observations != nil {
		n, divs, err := v.checkObservations(ctx, recs, start, end)
		if err != nil {
			return nil, err
		}
		rep.Observations = n
		rep.Divergences = append(rep.Divergences, divs...)
	}
	return rep, nil
}

// CheckSequence verifies that list, one principal's records in seq_num
// order, starts at first, has no gaps and never moves back in slot.
func CheckSequence(list []*domain.EventRecord, first uint64) []FieldDivergence {
	var divs []FieldDivergence
	want := first
	var lastSlot uint64
	for i, rec := range list {
		if rec.SeqNum != want {
			divs = append(divs, FieldDivergence{
				Principal: rec.Principal,
				SeqNum:    rec.SeqNum,
				Field:     "SeqNum",
				Expected:  want,
				Actual:    rec.SeqNum,
			})
		}
		want = rec.SeqNum + 1

		if i > 0 && rec.Slot < lastSlot {
			divs = append(divs, FieldDivergence{
				Principal: rec.Principal,
				SeqNum:    rec.SeqNum,
				Field:     "Slot",
				Expected:  fmt.Sprintf(">= %d", lastSlot),
				Actual:    rec.Slot,
			})
		}
		lastSlot = rec.Slot
	}
	return divs
}

// CheckRecord verifies that rec's payload decodes and that its header
// matches the indexed fields.
func CheckRecord(rec *domain.EventRecord) []FieldDivergence {
	e, err := events.Decode(*rec)
	if err != nil {
		return []FieldDivergence{{
			Principal: rec.Principal,
			SeqNum:    rec.SeqNum,
			Field:     "Payload",
			Expected:  "decodable " + rec.Name,
			Actual:    err.Error(),
		}}
	}

	var divs []FieldDivergence
	diverge := func(field string, expected, actual interface{}) {
		divs = append(divs, FieldDivergence{
			Principal: rec.Principal,
			SeqNum:    rec.SeqNum,
			Field:     field,
			Expected:  expected,
			Actual:    actual,
		})
	}

	h := e.Header()
	if e.Principal() != rec.Principal {
		diverge("Principal", e.Principal(), rec.Principal)
	}
	if h.SeqNum != rec.SeqNum {
		diverge("SeqNum", h.SeqNum, rec.SeqNum)
	}
	if h.Slot != rec.Slot {
		diverge("Slot", h.Slot, rec.Slot)
	}
	if h.UnixTimestamp != rec.UnixTimestamp {
		diverge("UnixTimestamp", h.UnixTimestamp, rec.UnixTimestamp)
	}
	if h.User != rec.Actor {
		diverge("Actor", h.User, rec.Actor)
	}
	return divs
}

type obsKey struct {
	amm domain.Address
	seq uint64
}

// checkObservations compares the oracle updates recs imply with the
// stored timeseries.
func (v *Verifier) checkObservations(ctx context.Context, recs []*domain.EventRecord, start, end uint64) (int, []FieldDivergence, error) {
	batch := make([]domain.EventRecord, 0, len(recs))
	for _, rec := range recs {
		batch = append(batch, *rec)
	}
	want, err := events.Observations(batch)
	if err != nil {
		// Undecodable payloads are already reported by CheckRecord.
		want = decodableObservations(batch)
	}

	stored := make(map[obsKey]*domain.OracleObservation)
	loaded := make(map[domain.Address]bool)
	for _, w := range want {
		if loaded[w.Amm] {
			continue
		}
		loaded[w.Amm] = true
		got, err := v.observations.GetByAmm(ctx, w.Amm, start, end)
		if err != nil {
			return 0, nil, fmt.Errorf("load observations: %w", err)
		}
		for _, o := range got {
			stored[obsKey{o.Amm, o.SeqNum}] = o
		}
	}

	var divs []FieldDivergence
	for _, w := range want {
		got, ok := stored[obsKey{w.Amm, w.SeqNum}]
		if !ok {
			divs = append(divs, FieldDivergence{
				Principal: w.Amm,
				SeqNum:    w.SeqNum,
				Field:     "Observation",
				Expected:  "stored",
				Actual:    "missing",
			})
			continue
		}
		divs = append(divs, CompareObservations(w, got)...)
	}
	return len(want), divs, nil
}

func decodableObservations(batch []domain.EventRecord) []*domain.OracleObservation {
	var out []*domain.OracleObservation
	for _, rec := range batch {
		obs, err := events.Observations([]domain.EventRecord{rec})
		if err == nil {
			out = append(out, obs...)
		}
	}
	return out
}

// CompareObservations returns the fields where stored differs from
// expected.
func CompareObservations(expected, stored *domain.OracleObservation) []FieldDivergence {
	var divs []FieldDivergence
	diverge := func(field string, e, a interface{}) {
		divs = append(divs, FieldDivergence{
			Principal: expected.Amm,
			SeqNum:    expected.SeqNum,
			Field:     field,
			Expected:  e,
			Actual:    a,
		})
	}

	if expected.Slot != stored.Slot {
		diverge("Observation.Slot", expected.Slot, stored.Slot)
	}
	if !expected.Price.Eq(stored.Price) {
		diverge("Observation.Price", expected.Price.String(), stored.Price.String())
	}
	if !expected.Observation.Eq(stored.Observation) {
		diverge("Observation.Observation", expected.Observation.String(), stored.Observation.String())
	}
	if !expected.Aggregator.Eq(stored.Aggregator) {
		diverge("Observation.Aggregator", expected.Aggregator.String(), stored.Aggregator.String())
	}
	if expected.BaseReserve != stored.BaseReserve {
		diverge("Observation.BaseReserve", expected.BaseReserve, stored.BaseReserve)
	}
	if expected.QuoteReserve != stored.QuoteReserve {
		diverge("Observation.QuoteReserve", expected.QuoteReserve, stored.QuoteReserve)
	}
	if expected.Source != stored.Source {
		diverge("Observation.Source", expected.Source, stored.Source)
	}
	return divs
}
