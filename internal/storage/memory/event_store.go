package memory

import (
	"context"
	"sort"
	"sync"

	"futarchy-core/internal/domain"
	"futarchy-core/internal/storage"
)

// eventKey is the composite key for event deduplication.
type eventKey struct {
	Principal domain.Address
	SeqNum    uint64
}

// EventStore is an in-memory implementation of storage.EventStore.
type EventStore struct {
	mu          sync.RWMutex
	data        []*domain.EventRecord
	keys        map[eventKey]bool
	byPrincipal map[domain.Address][]*domain.EventRecord
}

// NewEventStore creates a new in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{
		data:        make([]*domain.EventRecord, 0),
		keys:        make(map[eventKey]bool),
		byPrincipal: make(map[domain.Address][]*domain.EventRecord),
	}
}

func copyRecord(e *domain.EventRecord) *domain.EventRecord {
	c := *e
	c.Payload = append([]byte(nil), e.Payload...)
	return &c
}

// InsertBulk adds events atomically. Fails entire batch on any duplicate.
func (s *EventStore) InsertBulk(_ context.Context, events []*domain.EventRecord) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Check for duplicates (both existing and intra-batch)
	batchKeys := make(map[eventKey]bool, len(events))
	for _, e := range events {
		if e == nil || e.Name == "" {
			return storage.ErrInvalidInput
		}
		key := eventKey{Principal: e.Principal, SeqNum: e.SeqNum}
		if s.keys[key] || batchKeys[key] {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = true
	}

	for _, e := range events {
		c := copyRecord(e)
		s.data = append(s.data, c)
		s.keys[eventKey{Principal: e.Principal, SeqNum: e.SeqNum}] = true

		list := append(s.byPrincipal[e.Principal], c)
		sort.SliceStable(list, func(i, j int) bool { return list[i].SeqNum < list[j].SeqNum })
		s.byPrincipal[e.Principal] = list
	}
	return nil
}

// GetByPrincipal retrieves a principal's events after afterSeq.
func (s *EventStore) GetByPrincipal(_ context.Context, principal domain.Address, afterSeq uint64, limit int) ([]*domain.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.byPrincipal[principal]
	start := sort.Search(len(list), func(i int) bool { return list[i].SeqNum > afterSeq })

	var result []*domain.EventRecord
	for _, e := range list[start:] {
		if limit > 0 && len(result) >= limit {
			break
		}
		result = append(result, copyRecord(e))
	}
	return result, nil
}

// GetBySlotRange retrieves events within [start, end).
func (s *EventStore) GetBySlotRange(_ context.Context, start, end uint64) ([]*domain.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.EventRecord
	for _, e := range s.data {
		if e.Slot >= start && e.Slot < end {
			result = append(result, copyRecord(e))
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Slot != result[j].Slot {
			return result[i].Slot < result[j].Slot
		}
		if result[i].Principal != result[j].Principal {
			return addressLess(result[i].Principal, result[j].Principal)
		}
		return result[i].SeqNum < result[j].SeqNum
	})
	return result, nil
}

// LastSeqNum returns the highest seq_num stored for principal.
func (s *EventStore) LastSeqNum(_ context.Context, principal domain.Address) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.byPrincipal[principal]
	if len(list) == 0 {
		return 0, nil
	}
	return list[len(list)-1].SeqNum, nil
}

// Verify interface compliance at compile time.
var _ storage.EventStore = (*EventStore)(nil)
