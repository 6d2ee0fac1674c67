// Package eventbus implements the event plane: a bounded priority queue
// with backpressure-driven drop thresholds and TTL expiration, plus a
// coalescing filter that collapses redundant same-key events within a time
// window (see coalesce.go) and a typed publisher entry point for producers
// outside this package (see publisher.go).
package eventbus

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"
)

// Priority orders events; lower ordinal pops first.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

// Event is a single prioritized unit of work flowing through the plane.
type Event struct {
	Type          string
	Priority      Priority
	Payload       any
	TimestampNS   int64
	Seq           uint64
	TTL           time.Duration // zero means no expiration
	CoalescingKey string
}

// DefaultCapacity is the queue's default bound.
const DefaultCapacity = 4096

// DropCounters tallies pushes and drops per priority.
type DropCounters struct {
	Pushed  [4]atomic.Uint64
	Dropped [4]atomic.Uint64
}

// Queue is a bounded, thread-safe, multi-producer/single-consumer priority
// queue ordered by (priority ascending, timestamp ascending, seq
// ascending).
type Queue struct {
	capacity int
	mu       sync.Mutex
	heap     eventHeap
	size     atomic.Int64
	seq      atomic.Uint64
	counters DropCounters
}

// NewQueue constructs a queue with the given capacity (0 selects
// DefaultCapacity).
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &Queue{capacity: capacity}
	heap.Init(&q.heap)
	return q
}

// NextSeq returns the next value from the queue's shared monotonic
// sequence counter. Producers use this so ties between identical
// priority/timestamp events break in arrival order.
func (q *Queue) NextSeq() uint64 { return q.seq.Add(1) }

// Size returns the current queue size.
func (q *Queue) Size() int { return int(q.size.Load()) }

// Push applies the backpressure drop policy and, if accepted, inserts evt.
// Returns false if the event was dropped.
func (q *Queue) Push(evt Event) bool {
	size := q.Size()
	if q.shouldDrop(evt.Priority, size) {
		q.counters.Dropped[evt.Priority].Add(1)
		return false
	}

	q.mu.Lock()
	heap.Push(&q.heap, evt)
	q.mu.Unlock()
	q.size.Add(1)
	q.counters.Pushed[evt.Priority].Add(1)
	return true
}

// shouldDrop implements the threshold table: CRITICAL is never dropped;
// LOW is dropped from 80% capacity; NORMAL from 90%; HIGH only once the
// queue is completely full.
func (q *Queue) shouldDrop(p Priority, size int) bool {
	if p == PriorityCritical {
		return false
	}
	cap80 := q.capacity * 8 / 10
	cap90 := q.capacity * 9 / 10
	switch {
	case size >= q.capacity:
		return true // drop LOW, NORMAL, HIGH
	case size >= cap90:
		return p == PriorityLow || p == PriorityNormal
	case size >= cap80:
		return p == PriorityLow
	default:
		return false
	}
}

// Pop removes and returns the highest-priority, oldest event, skipping (and
// discarding) any expired events it encounters along the way. ok is false
// when the queue is empty.
func (q *Queue) Pop(now time.Time) (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.heap.Len() > 0 {
		evt := heap.Pop(&q.heap).(Event)
		q.size.Add(-1)
		if expired(evt, now) {
			continue
		}
		return evt, true
	}
	return Event{}, false
}

func expired(evt Event, now time.Time) bool {
	if evt.TTL <= 0 {
		return false
	}
	age := now.Sub(time.Unix(0, evt.TimestampNS))
	return age > evt.TTL
}

// Counters returns a snapshot of push/drop counts per priority.
func (q *Queue) Counters() (pushed, dropped [4]uint64) {
	for i := 0; i < 4; i++ {
		pushed[i] = q.counters.Pushed[i].Load()
		dropped[i] = q.counters.Dropped[i].Load()
	}
	return
}

// eventHeap implements container/heap.Interface over Event, ordered by
// (priority, timestamp, seq).
type eventHeap []Event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	if h[i].TimestampNS != h[j].TimestampNS {
		return h[i].TimestampNS < h[j].TimestampNS
	}
	return h[i].Seq < h[j].Seq
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)   { *h = append(*h, x.(Event)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
