package clickhouse

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"futarchy-core/internal/domain"
	"futarchy-core/internal/fixedpoint"
	"futarchy-core/internal/observability"
	"futarchy-core/internal/storage"
)

// ObservationStore implements storage.ObservationStore using ClickHouse.
type ObservationStore struct {
	conn *Conn
}

// NewObservationStore creates a new ObservationStore.
func NewObservationStore(conn *Conn) *ObservationStore {
	return &ObservationStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ObservationStore = (*ObservationStore)(nil)

// InsertBulk adds multiple observations. Fails entire batch on duplicate (amm, seq_num).
func (s *ObservationStore) InsertBulk(ctx context.Context, obs []*domain.OracleObservation) (err error) {
	if len(obs) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { observability.RecordDBQuery("clickhouse", "insert_observations", time.Since(start).Seconds(), err) }()

	// Check for intra-batch duplicates
	type key struct {
		amm    domain.Address
		seqNum uint64
	}
	seen := make(map[key]struct{}, len(obs))
	for _, o := range obs {
		k := key{o.Amm, o.SeqNum}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// Check for duplicates against existing DB rows
	for _, o := range obs {
		exists, err := s.exists(ctx, o.Amm, o.SeqNum)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO twap_observations (
			amm, seq_num, slot, unix_timestamp, price, observation, aggregator,
			base_reserve, quote_reserve, source
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, o := range obs {
		err = batch.Append(
			o.Amm.String(), o.SeqNum, o.Slot, o.UnixTimestamp,
			o.Price.Big(), o.Observation.Big(), o.Aggregator.Big(),
			o.BaseReserve, o.QuoteReserve, o.Source,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByAmm retrieves observations of a pool within [startSlot, endSlot).
func (s *ObservationStore) GetByAmm(ctx context.Context, amm domain.Address, startSlot, endSlot uint64) (_ []*domain.OracleObservation, err error) {
	start := time.Now()
	defer func() { observability.RecordDBQuery("clickhouse", "get_observations", time.Since(start).Seconds(), err) }()

	rows, err := s.conn.Query(ctx, `
		SELECT amm, seq_num, slot, unix_timestamp, price, observation, aggregator,
		       base_reserve, quote_reserve, source
		FROM twap_observations
		WHERE amm = ? AND slot >= ? AND slot < ?
		ORDER BY seq_num ASC
	`, amm.String(), startSlot, endSlot)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var out []*domain.OracleObservation
	for rows.Next() {
		var (
			o                     domain.OracleObservation
			addr                  string
			price, observed, aggr big.Int
		)
		if err := rows.Scan(
			&addr, &o.SeqNum, &o.Slot, &o.UnixTimestamp,
			&price, &observed, &aggr,
			&o.BaseReserve, &o.QuoteReserve, &o.Source,
		); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		if o.Amm, err = domain.ParseAddress(addr); err != nil {
			return nil, fmt.Errorf("scan observation amm: %w", err)
		}
		for _, f := range []struct {
			dst *fixedpoint.U128
			src *big.Int
		}{{&o.Price, &price}, {&o.Observation, &observed}, {&o.Aggregator, &aggr}} {
			if *f.dst, err = fixedpoint.U128FromBig(f.src); err != nil {
				return nil, fmt.Errorf("scan observation value: %w", err)
			}
		}
		out = append(out, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate observations: %w", err)
	}
	return out, nil
}

func (s *ObservationStore) exists(ctx context.Context, amm domain.Address, seqNum uint64) (bool, error) {
	var count uint64
	row := s.conn.QueryRow(ctx, `
		SELECT count() FROM twap_observations WHERE amm = ? AND seq_num = ?
	`, amm.String(), seqNum)
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}
