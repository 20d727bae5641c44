package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"futarchy-core/internal/domain"
	"futarchy-core/internal/events"
)

// DefaultStreamMaxLen bounds the event stream, enforced with XADD MAXLEN ~.
const DefaultStreamMaxLen int64 = 100_000

// PublisherConfig names where events go.
type PublisherConfig struct {
	// ChannelPrefix is prepended to the event name for PUBLISH, e.g.
	// "futarchy.events." gives "futarchy.events.SwapEvent".
	ChannelPrefix string
	// Stream receives every event in commit order.
	Stream       string
	StreamMaxLen int64
}

// Publisher is an events.Sink that publishes every record on a per-name
// channel and appends it to one capped stream.
type Publisher struct {
	rdb *redis.Client
	cfg PublisherConfig
}

// NewPublisher creates a Publisher backed by c.
func NewPublisher(c *Client, cfg PublisherConfig) *Publisher {
	if cfg.StreamMaxLen <= 0 {
		cfg.StreamMaxLen = DefaultStreamMaxLen
	}
	return &Publisher{rdb: c.Underlying(), cfg: cfg}
}

var _ events.Sink = (*Publisher)(nil)

func (p *Publisher) Name() string { return "redis" }

// Channel returns the pub/sub channel of an event name.
func (p *Publisher) Channel(name string) string {
	return p.cfg.ChannelPrefix + name
}

// Publish sends batch in one pipeline. Subscribers see records in order.
func (p *Publisher) Publish(ctx context.Context, batch []domain.EventRecord) error {
	if len(batch) == 0 {
		return nil
	}

	pipe := p.rdb.Pipeline()
	for i := range batch {
		rec := &batch[i]
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("redis: encode %s: %w", rec.Name, err)
		}
		pipe.Publish(ctx, p.Channel(rec.Name), payload)
		if p.cfg.Stream != "" {
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: p.cfg.Stream,
				MaxLen: p.cfg.StreamMaxLen,
				Approx: true,
				Values: map[string]interface{}{
					"name":      rec.Name,
					"principal": rec.Principal.String(),
					"seq_num":   rec.SeqNum,
					"payload":   payload,
				},
			})
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish %d events: %w", len(batch), err)
	}
	return nil
}

// ReadStream reads up to count records appended after lastID. Use "0" to
// read from the start. It returns the ID of the last message read.
func (p *Publisher) ReadStream(ctx context.Context, lastID string, count int64) ([]domain.EventRecord, string, error) {
	res, err := p.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{p.cfg.Stream, lastID},
		Count:   count,
		Block:   -1,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, lastID, nil
		}
		return nil, lastID, fmt.Errorf("redis: read stream %s: %w", p.cfg.Stream, err)
	}

	var out []domain.EventRecord
	for _, s := range res {
		for _, msg := range s.Messages {
			lastID = msg.ID
			raw, ok := msg.Values["payload"].(string)
			if !ok {
				continue
			}
			var rec domain.EventRecord
			if err := json.Unmarshal([]byte(raw), &rec); err != nil {
				return nil, lastID, fmt.Errorf("redis: decode stream message %s: %w", msg.ID, err)
			}
			out = append(out, rec)
		}
	}
	return out, lastID, nil
}
