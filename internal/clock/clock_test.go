package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManual(t *testing.T) {
	c := NewManual(10)
	t0 := c.Now()

	assert.Equal(t, uint64(160), c.Advance(150))
	assert.Equal(t, time.Minute, c.Now().Sub(t0))

	c.Set(100)
	assert.Equal(t, uint64(160), c.Slot(), "slot never decreases")
	c.Set(161)
	assert.Equal(t, uint64(161), c.Slot())
}

func TestLocal(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	now := base
	c := NewLocal(5, 400*time.Millisecond)
	c.start = base
	c.nowFn = func() time.Time { return now }

	assert.Equal(t, uint64(5), c.Slot())
	now = base.Add(time.Minute)
	assert.Equal(t, uint64(155), c.Slot())
	now = base.Add(-time.Second)
	assert.Equal(t, uint64(5), c.Slot())
}
