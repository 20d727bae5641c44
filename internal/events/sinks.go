package events

import (
	"context"
	"fmt"
	"sync"

	"futarchy-core/internal/domain"
	"futarchy-core/internal/storage"
)

// Recorder keeps every batch in memory. It is both an Emitter and a Sink.
type Recorder struct {
	mu      sync.Mutex
	records []domain.EventRecord
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Name() string { return "recorder" }

// Emit appends batch.
func (r *Recorder) Emit(batch []domain.EventRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, batch...)
}

// Publish appends batch.
func (r *Recorder) Publish(_ context.Context, batch []domain.EventRecord) error {
	r.Emit(batch)
	return nil
}

// Records returns a copy of everything recorded.
func (r *Recorder) Records() []domain.EventRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.EventRecord(nil), r.records...)
}

// Named returns recorded events with the given name.
func (r *Recorder) Named(name string) []domain.EventRecord {
	var out []domain.EventRecord
	for _, rec := range r.Records() {
		if rec.Name == name {
			out = append(out, rec)
		}
	}
	return out
}

// Reset forgets everything recorded.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
}

// StoreSink appends events to an EventStore.
type StoreSink struct {
	store storage.EventStore
}

// NewStoreSink creates a sink writing to store.
func NewStoreSink(store storage.EventStore) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Name() string { return "event_store" }

func (s *StoreSink) Publish(ctx context.Context, batch []domain.EventRecord) error {
	recs := make([]*domain.EventRecord, len(batch))
	for i := range batch {
		recs[i] = &batch[i]
	}
	return s.store.InsertBulk(ctx, recs)
}

// ObservationSink extracts oracle updates from swap and crank events into
// an ObservationStore.
type ObservationSink struct {
	store storage.ObservationStore
}

// NewObservationSink creates a sink writing to store.
func NewObservationSink(store storage.ObservationStore) *ObservationSink {
	return &ObservationSink{store: store}
}

func (s *ObservationSink) Name() string { return "observations" }

func (s *ObservationSink) Publish(ctx context.Context, batch []domain.EventRecord) error {
	obs, err := Observations(batch)
	if err != nil {
		return err
	}
	if len(obs) == 0 {
		return nil
	}
	return s.store.InsertBulk(ctx, obs)
}

// Observations returns the oracle updates carried by batch.
func Observations(batch []domain.EventRecord) ([]*domain.OracleObservation, error) {
	var out []*domain.OracleObservation
	for _, rec := range batch {
		if rec.Name != NameSwap && rec.Name != NameCrankTwap {
			continue
		}
		e, err := Decode(rec)
		if err != nil {
			return nil, fmt.Errorf("observation from %s: %w", rec.Name, err)
		}

		var post PoolState
		var source string
		switch ev := e.(type) {
		case *SwapEvent:
			if !ev.OracleUpdated {
				continue
			}
			post, source = ev.Post, "swap"
		case *CrankTwapEvent:
			if !ev.Updated {
				continue
			}
			post, source = ev.Post, "crank"
		}

		out = append(out, &domain.OracleObservation{
			Amm:           rec.Principal,
			Slot:          post.Oracle.LastUpdatedSlot,
			UnixTimestamp: rec.UnixTimestamp,
			Price:         post.Oracle.LastPrice,
			Observation:   post.Oracle.LastObservation,
			Aggregator:    post.Oracle.Aggregator,
			BaseReserve:   post.BaseReserve,
			QuoteReserve:  post.QuoteReserve,
			Source:        source,
			SeqNum:        rec.SeqNum,
		})
	}
	return out, nil
}
