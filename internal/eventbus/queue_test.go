package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkEvent(p Priority, seq uint64) Event {
	return Event{Priority: p, TimestampNS: time.Now().UnixNano(), Seq: seq}
}

func TestQueueDropCurve(t *testing.T) {
	q := NewQueue(100)

	for i := 0; i < 80; i++ {
		require.True(t, q.Push(mkEvent(PriorityLow, uint64(i))))
	}
	// one more LOW is dropped at 80% threshold already reached
	assert.False(t, q.Push(mkEvent(PriorityLow, 1000)))

	for i := 0; i < 10; i++ {
		require.True(t, q.Push(mkEvent(PriorityNormal, uint64(i))))
	}
	assert.Equal(t, 90, q.Size())

	// one more NORMAL is dropped at 90% threshold already reached
	assert.False(t, q.Push(mkEvent(PriorityNormal, 1001)))
}

func TestQueueCriticalNeverDropped(t *testing.T) {
	q := NewQueue(10)
	for i := 0; i < 10; i++ {
		q.Push(mkEvent(PriorityHigh, uint64(i)))
	}
	assert.True(t, q.Push(mkEvent(PriorityCritical, 999)))
}

func TestQueuePopOrdering(t *testing.T) {
	q := NewQueue(10)
	q.Push(mkEvent(PriorityNormal, 1))
	q.Push(mkEvent(PriorityCritical, 2))
	q.Push(mkEvent(PriorityHigh, 3))

	evt, ok := q.Pop(time.Now())
	require.True(t, ok)
	assert.Equal(t, PriorityCritical, evt.Priority)

	evt, ok = q.Pop(time.Now())
	require.True(t, ok)
	assert.Equal(t, PriorityHigh, evt.Priority)
}

func TestQueuePopSkipsExpired(t *testing.T) {
	q := NewQueue(10)
	old := Event{Priority: PriorityNormal, TimestampNS: time.Now().Add(-time.Hour).UnixNano(), TTL: time.Millisecond, Seq: 1}
	q.Push(old)
	q.Push(mkEvent(PriorityNormal, 2))

	evt, ok := q.Pop(time.Now())
	require.True(t, ok)
	assert.Equal(t, uint64(2), evt.Seq)
}

func TestQueueEmptyPopReturnsFalse(t *testing.T) {
	q := NewQueue(10)
	_, ok := q.Pop(time.Now())
	assert.False(t, ok)
}
