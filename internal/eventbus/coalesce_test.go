package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoalesceLatestWinsKeepsOriginalTimestamp(t *testing.T) {
	c := NewCoalescer(100 * time.Millisecond)
	base := time.Unix(0, 0)

	first := Event{Type: "t", Payload: 25.0, TimestampNS: base.UnixNano(), Seq: 1}
	_, ok := c.Coalesce(first, base)
	require.False(t, ok)

	second := Event{Type: "t", Payload: 25.5, TimestampNS: base.Add(50 * time.Millisecond).UnixNano(), Seq: 2}
	_, ok = c.Coalesce(second, base.Add(50*time.Millisecond))
	require.False(t, ok)

	third := Event{Type: "t", Payload: 26.0, TimestampNS: base.Add(160 * time.Millisecond).UnixNano(), Seq: 3}
	evicted, ok := c.Coalesce(third, base.Add(160*time.Millisecond))
	require.True(t, ok)
	assert.Equal(t, 25.5, evicted.Payload)
	assert.Equal(t, base.UnixNano(), evicted.TimestampNS)
}

func TestCoalesceFlushReturnsAllPending(t *testing.T) {
	c := NewCoalescer(time.Second)
	now := time.Now()
	c.Coalesce(Event{Type: "a", Seq: 1, TimestampNS: now.UnixNano()}, now)
	c.Coalesce(Event{Type: "b", Seq: 2, TimestampNS: now.UnixNano()}, now)

	flushed := c.Flush()
	assert.Len(t, flushed, 2)
	assert.Empty(t, c.Flush())
}
