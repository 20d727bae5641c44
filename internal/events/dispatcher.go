package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"futarchy-core/internal/domain"
	"futarchy-core/internal/observability"
)

// Emitter accepts the events of one committed operation, in order.
type Emitter interface {
	Emit(batch []domain.EventRecord)
}

// Sink receives event batches. Publish is called from a single goroutine
// per sink, in emission order.
type Sink interface {
	Name() string
	Publish(ctx context.Context, batch []domain.EventRecord) error
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	QueueSize    int
	MaxRetries   int
	RetryBackoff time.Duration
}

// DefaultDispatcherConfig returns sensible defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueSize:    1024,
		MaxRetries:   3,
		RetryBackoff: 200 * time.Millisecond,
	}
}

// Dispatcher fans committed events out to sinks asynchronously. Each sink
// has its own buffer of QueueSize batches, so a slow sink delays the others
// only once that buffer and the shared queue are full. Sink failures are
// logged and counted; they never reach the operation that emitted the
// events.
type Dispatcher struct {
	cfg    DispatcherConfig
	logger *zap.Logger
	sinks  []Sink

	mu     sync.RWMutex
	closed bool
	queue  chan []domain.EventRecord
}

// NewDispatcher creates a dispatcher over sinks.
func NewDispatcher(cfg DispatcherConfig, logger *zap.Logger, sinks ...Sink) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultDispatcherConfig().QueueSize
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultDispatcherConfig().RetryBackoff
	}
	return &Dispatcher{
		cfg:    cfg,
		logger: logger.Named("events"),
		sinks:  sinks,
		queue:  make(chan []domain.EventRecord, cfg.QueueSize),
	}
}

// Emit enqueues a batch. It blocks while the queue is full and drops the
// batch once the dispatcher is closed. The engine emits while still holding
// the operation's locks, so a full queue stalls further operations on the
// same objects instead of dropping or reordering their events.
func (d *Dispatcher) Emit(batch []domain.EventRecord) {
	if len(batch) == 0 {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("dropping events after close", zap.Int("count", len(batch)))
		return
	}
	for _, rec := range batch {
		observability.RecordEventEmitted(rec.Name)
	}
	d.queue <- batch
	observability.UpdateEventQueueDepth(len(d.queue))
}

// Close stops accepting events. Run delivers what is queued and returns.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
}

// Run delivers events until Close is called and the queue is drained, or
// ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	feeds := make([]chan []domain.EventRecord, len(d.sinks))
	for i, s := range d.sinks {
		feed := make(chan []domain.EventRecord, d.cfg.QueueSize)
		feeds[i] = feed
		sink := s
		g.Go(func() error {
			for batch := range feed {
				d.deliver(gctx, sink, batch)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			for _, feed := range feeds {
				close(feed)
			}
		}()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case batch, ok := <-d.queue:
				if !ok {
					return nil
				}
				observability.UpdateEventQueueDepth(len(d.queue))
				for _, feed := range feeds {
					select {
					case feed <- batch:
					case <-gctx.Done():
						return gctx.Err()
					}
				}
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *Dispatcher) deliver(ctx context.Context, sink Sink, batch []domain.EventRecord) {
	var err error
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.cfg.RetryBackoff * time.Duration(1<<(attempt-1))):
			}
		}
		if err = sink.Publish(ctx, batch); err == nil {
			observability.RecordSinkDelivery(sink.Name(), len(batch), nil)
			return
		}
		if ctx.Err() != nil {
			break
		}
	}
	observability.RecordSinkDelivery(sink.Name(), len(batch), err)
	d.logger.Error("sink delivery failed",
		zap.String("sink", sink.Name()),
		zap.Int("events", len(batch)),
		zap.String("first", batch[0].Name),
		zap.Stringer("principal", batch[0].Principal),
		zap.Uint64("seq_num", batch[0].SeqNum),
		zap.Error(err),
	)
}
