package eventbus

import (
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/fenwick-robotics/rtstack/internal/rterrors"
)

// Publisher is the one entry point an external mission/behavior-tree engine
// is expected to call to emit a domain event. Payloads are protobuf
// messages wrapped in anypb.Any, so this package never needs to know about
// domain-specific message types.
type Publisher struct {
	queue     *Queue
	coalescer *Coalescer
}

// NewPublisher builds a publisher writing into queue, coalescing through c
// (nil disables coalescing).
func NewPublisher(queue *Queue, c *Coalescer) *Publisher {
	return &Publisher{queue: queue, coalescer: c}
}

// PublishOption configures a single Publish call.
type PublishOption func(*Event)

// WithTTL sets the event's time-to-live.
func WithTTL(ttl time.Duration) PublishOption {
	return func(e *Event) { e.TTL = ttl }
}

// WithCoalescingKey overrides the coalescing key (defaults to evtType).
func WithCoalescingKey(key string) PublishOption {
	return func(e *Event) { e.CoalescingKey = key }
}

// Publish wraps payload in anypb.Any, applies opts, and routes the event
// through the coalescer (if configured) before pushing to the queue.
func (p *Publisher) Publish(evtType string, priority Priority, payload proto.Message, opts ...PublishOption) error {
	any, err := anypb.New(payload)
	if err != nil {
		return rterrors.Wrap(rterrors.ErrPolicyInvalid, "eventbus: payload not a valid proto message: "+err.Error())
	}

	now := time.Now()
	evt := Event{
		Type:        evtType,
		Priority:    priority,
		Payload:     any,
		TimestampNS: now.UnixNano(),
		Seq:         p.queue.NextSeq(),
	}
	for _, opt := range opts {
		opt(&evt)
	}

	if p.coalescer != nil {
		if evicted, ok := p.coalescer.Coalesce(evt, now); ok {
			p.queue.Push(evicted)
		}
		return nil
	}

	p.queue.Push(evt)
	return nil
}
