package s3archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"futarchy-core/internal/domain"
	"futarchy-core/internal/events"
)

// Uploader is the subset of manager.Uploader the archiver needs.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// ArchiverConfig configures an Archiver.
type ArchiverConfig struct {
	Bucket        string
	Prefix        string // default "archive/events"
	BatchSize     int
	FlushInterval time.Duration
}

// Archiver is an events.Sink that buffers records and writes them as
// JSON-lines objects keyed by day and first slot.
type Archiver struct {
	up     Uploader
	cfg    ArchiverConfig
	logger *zap.Logger
	now    func() time.Time

	mu  sync.Mutex
	buf []domain.EventRecord
}

var _ events.Sink = (*Archiver)(nil)

// NewArchiver creates an archiver writing through up.
func NewArchiver(up Uploader, cfg ArchiverConfig, logger *zap.Logger) *Archiver {
	if cfg.Prefix == "" {
		cfg.Prefix = "archive/events"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Minute
	}
	return &Archiver{up: up, cfg: cfg, logger: logger, now: time.Now}
}

func (a *Archiver) Name() string { return "s3_archive" }

// Publish buffers batch and uploads once the buffer reaches BatchSize.
func (a *Archiver) Publish(ctx context.Context, batch []domain.EventRecord) error {
	a.mu.Lock()
	a.buf = append(a.buf, batch...)
	full := len(a.buf) >= a.cfg.BatchSize
	a.mu.Unlock()

	if full {
		return a.Flush(ctx)
	}
	return nil
}

// Flush uploads everything buffered. On failure the records are put back
// so the next flush retries them.
func (a *Archiver) Flush(ctx context.Context) error {
	a.mu.Lock()
	pending := a.buf
	a.buf = nil
	a.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for i := range pending {
		if err := enc.Encode(&pending[i]); err != nil {
			a.restore(pending)
			return fmt.Errorf("s3archive: encode %s: %w", pending[i].Name, err)
		}
	}

	key := a.key(pending[0].Slot)
	_, err := a.up.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		a.restore(pending)
		return fmt.Errorf("s3archive: upload %s: %w", key, err)
	}

	a.logger.Debug("archived events",
		zap.String("key", key),
		zap.Int("count", len(pending)),
	)
	return nil
}

// Run flushes on every tick and once more when ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := a.Flush(flushCtx)
			cancel()
			return err
		case <-ticker.C:
			if err := a.Flush(ctx); err != nil {
				a.logger.Warn("archive flush failed", zap.Error(err))
			}
		}
	}
}

// Pending returns the number of buffered records.
func (a *Archiver) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}

func (a *Archiver) restore(pending []domain.EventRecord) {
	a.mu.Lock()
	a.buf = append(pending, a.buf...)
	a.mu.Unlock()
}

func (a *Archiver) key(firstSlot uint64) string {
	day := a.now().UTC().Format("2006-01-02")
	return fmt.Sprintf("%s/%s/%d-%s.jsonl", a.cfg.Prefix, day, firstSlot, uuid.NewString())
}
