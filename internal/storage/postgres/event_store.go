package postgres

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	"futarchy-core/internal/domain"
	"futarchy-core/internal/observability"
	"futarchy-core/internal/storage"
)

// EventStore implements storage.EventStore using PostgreSQL.
type EventStore struct {
	pool *Pool
}

// NewEventStore creates a new EventStore.
func NewEventStore(pool *Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

const selectEvents = `
	SELECT principal, seq_num, name, slot, unix_timestamp, actor, payload
	FROM events
`

func record(op string, start time.Time, err error) {
	observability.RecordDBQuery("postgres", op, time.Since(start).Seconds(), err)
}

const insertEvent = `
	INSERT INTO events (principal, seq_num, name, slot, unix_timestamp, actor, payload)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
`

// InsertBulk appends events in one transaction. A duplicate (principal,
// seq_num) fails the whole batch with storage.ErrDuplicateKey.
func (s *EventStore) InsertBulk(ctx context.Context, events []*domain.EventRecord) (err error) {
	if len(events) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { record("insert_events", start, err) }()

	batch := &pgx.Batch{}
	for _, e := range events {
		if e.SeqNum == 0 {
			return fmt.Errorf("%w: zero seq_num for %s", storage.ErrInvalidInput, e.Principal)
		}
		batch.Queue(insertEvent,
			e.Principal.String(), int64(e.SeqNum), e.Name,
			int64(e.Slot), e.UnixTimestamp, e.Actor.String(), e.Payload,
		)
	}

	return s.pool.InTx(ctx, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, batch)
		for _, e := range events {
			if _, err := br.Exec(); err != nil {
				br.Close()
				if isDuplicateKeyError(err) {
					return fmt.Errorf("%w: %s #%d", storage.ErrDuplicateKey, e.Principal, e.SeqNum)
				}
				return fmt.Errorf("insert event %s #%d: %w", e.Principal, e.SeqNum, err)
			}
		}
		return br.Close()
	})
}

// GetByPrincipal retrieves a principal's events after afterSeq.
func (s *EventStore) GetByPrincipal(ctx context.Context, principal domain.Address, afterSeq uint64, limit int) (_ []*domain.EventRecord, err error) {
	start := time.Now()
	defer func() { record("get_events_by_principal", start, err) }()

	query := selectEvents + `
		WHERE principal = $1 AND seq_num > $2
		ORDER BY seq_num ASC
	`
	args := []any{principal.String(), int64(afterSeq)}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get events by principal: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetBySlotRange retrieves events within [start, end).
func (s *EventStore) GetBySlotRange(ctx context.Context, start, end uint64) (_ []*domain.EventRecord, err error) {
	began := time.Now()
	defer func() { record("get_events_by_slot", began, err) }()

	rows, err := s.pool.Query(ctx, selectEvents+`
		WHERE slot >= $1 AND slot < $2
		ORDER BY slot ASC, principal ASC, seq_num ASC
	`, bigint(start), bigint(end))
	if err != nil {
		return nil, fmt.Errorf("get events by slot range: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// LastSeqNum returns the principal's highest stored seq_num, 0 if none.
func (s *EventStore) LastSeqNum(ctx context.Context, principal domain.Address) (uint64, error) {
	var last int64
	err := s.pool.QueryRow(ctx, `
		SELECT seq_num FROM events WHERE principal = $1 ORDER BY seq_num DESC LIMIT 1
	`, principal.String()).Scan(&last)
	if err != nil {
		if isNotFoundError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("get last seq_num: %w", err)
	}
	return uint64(last), nil
}

// scanEvents scans multiple rows into a slice of EventRecord.
func scanEvents(rows pgx.Rows) ([]*domain.EventRecord, error) {
	var events []*domain.EventRecord

	for rows.Next() {
		var (
			e                domain.EventRecord
			principal, actor string
			seqNum, slot     int64
		)
		if err := rows.Scan(&principal, &seqNum, &e.Name, &slot, &e.UnixTimestamp, &actor, &e.Payload); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		var err error
		if e.Principal, err = domain.ParseAddress(principal); err != nil {
			return nil, fmt.Errorf("scan event principal: %w", err)
		}
		if e.Actor, err = domain.ParseAddress(actor); err != nil {
			return nil, fmt.Errorf("scan event actor: %w", err)
		}
		e.SeqNum, e.Slot = uint64(seqNum), uint64(slot)
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return events, nil
}

// bigint clamps a slot bound to the BIGINT range.
func bigint(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}
