// Package clock provides the slot source operations are stamped with.
package clock

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"futarchy-core/internal/observability"
)

// DefaultSlotDuration gives 150 slots per minute.
const DefaultSlotDuration = 400 * time.Millisecond

// Clock reports the current slot and wall-clock time. Slot never
// decreases.
type Clock interface {
	Slot() uint64
	Now() time.Time
}

// Manual is a Clock moved explicitly. Useful in tests.
type Manual struct {
	mu   sync.RWMutex
	slot uint64
	now  time.Time
}

// NewManual creates a manual clock at slot.
func NewManual(slot uint64) *Manual {
	return &Manual{slot: slot, now: time.Unix(1_700_000_000, 0).UTC()}
}

func (m *Manual) Slot() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.slot
}

func (m *Manual) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

// Advance moves the clock forward by n slots, advancing time at
// DefaultSlotDuration per slot.
func (m *Manual) Advance(n uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slot += n
	m.now = m.now.Add(time.Duration(n) * DefaultSlotDuration)
	return m.slot
}

// Set moves the clock to slot. Earlier slots are ignored.
func (m *Manual) Set(slot uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if slot > m.slot {
		m.now = m.now.Add(time.Duration(slot-m.slot) * DefaultSlotDuration)
		m.slot = slot
	}
}

// Local derives the slot from elapsed wall-clock time since it started.
type Local struct {
	start     time.Time
	startSlot uint64
	duration  time.Duration
	nowFn     func() time.Time
}

// NewLocal creates a clock at startSlot advancing one slot per duration.
func NewLocal(startSlot uint64, duration time.Duration) *Local {
	if duration <= 0 {
		duration = DefaultSlotDuration
	}
	return &Local{start: time.Now(), startSlot: startSlot, duration: duration, nowFn: time.Now}
}

func (l *Local) Slot() uint64 {
	elapsed := l.nowFn().Sub(l.start)
	if elapsed < 0 {
		return l.startSlot
	}
	return l.startSlot + uint64(elapsed/l.duration)
}

func (l *Local) Now() time.Time { return l.nowFn() }

// Publish reports the slot gauge every interval until ctx is done.
func Publish(ctx context.Context, c Clock, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("clock started", zap.Uint64("slot", c.Slot()))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			observability.UpdateCurrentSlot(c.Slot())
		}
	}
}
