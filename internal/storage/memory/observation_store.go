package memory

import (
	"context"
	"sort"
	"sync"

	"futarchy-core/internal/domain"
	"futarchy-core/internal/storage"
)

type observationKey struct {
	Amm    domain.Address
	SeqNum uint64
}

// ObservationStore is an in-memory implementation of storage.ObservationStore.
type ObservationStore struct {
	mu   sync.RWMutex
	data map[domain.Address][]*domain.OracleObservation
	keys map[observationKey]bool
}

// NewObservationStore creates a new in-memory observation store.
func NewObservationStore() *ObservationStore {
	return &ObservationStore{
		data: make(map[domain.Address][]*domain.OracleObservation),
		keys: make(map[observationKey]bool),
	}
}

// InsertBulk adds observations atomically. Fails entire batch on any duplicate.
func (s *ObservationStore) InsertBulk(_ context.Context, obs []*domain.OracleObservation) error {
	if len(obs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[observationKey]bool, len(obs))
	for _, o := range obs {
		if o == nil {
			return storage.ErrInvalidInput
		}
		key := observationKey{Amm: o.Amm, SeqNum: o.SeqNum}
		if s.keys[key] || batchKeys[key] {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = true
	}

	for _, o := range obs {
		c := *o
		list := append(s.data[o.Amm], &c)
		sort.SliceStable(list, func(i, j int) bool { return list[i].SeqNum < list[j].SeqNum })
		s.data[o.Amm] = list
		s.keys[observationKey{Amm: o.Amm, SeqNum: o.SeqNum}] = true
	}
	return nil
}

// GetByAmm retrieves observations of a pool within [startSlot, endSlot).
func (s *ObservationStore) GetByAmm(_ context.Context, amm domain.Address, startSlot, endSlot uint64) ([]*domain.OracleObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.OracleObservation
	for _, o := range s.data[amm] {
		if o.Slot >= startSlot && o.Slot < endSlot {
			c := *o
			result = append(result, &c)
		}
	}
	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.ObservationStore = (*ObservationStore)(nil)
