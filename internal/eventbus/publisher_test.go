package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestPublisherPublishWrapsPayloadAndPushesToQueue(t *testing.T) {
	q := NewQueue(10)
	p := NewPublisher(q, nil)

	err := p.Publish("robot.alert", PriorityHigh, wrapperspb.String("low battery"))
	require.NoError(t, err)
	assert.Equal(t, 1, q.Size())

	evt, ok := q.Pop(time.Now())
	require.True(t, ok)
	assert.Equal(t, "robot.alert", evt.Type)
	assert.Equal(t, PriorityHigh, evt.Priority)

	any, ok := evt.Payload.(*anypb.Any)
	require.True(t, ok)
	var msg wrapperspb.StringValue
	require.NoError(t, any.UnmarshalTo(&msg))
	assert.Equal(t, "low battery", msg.Value)
}

func TestPublisherPublishAppliesOptions(t *testing.T) {
	q := NewQueue(10)
	p := NewPublisher(q, nil)

	err := p.Publish("robot.state", PriorityNormal, wrapperspb.Int32(1),
		WithTTL(time.Minute), WithCoalescingKey("robot.state.custom"))
	require.NoError(t, err)

	evt, ok := q.Pop(time.Now())
	require.True(t, ok)
	assert.Equal(t, time.Minute, evt.TTL)
	assert.Equal(t, "robot.state.custom", evt.CoalescingKey)
}

func TestPublisherPublishRoutesThroughCoalescer(t *testing.T) {
	q := NewQueue(10)
	c := NewCoalescer(time.Hour)
	p := NewPublisher(q, c)

	require.NoError(t, p.Publish("robot.telemetry", PriorityLow, wrapperspb.Double(1.0)))
	assert.Equal(t, 0, q.Size(), "first event in a coalescing window is held back, not pushed")

	require.NoError(t, p.Publish("robot.telemetry", PriorityLow, wrapperspb.Double(2.0)))
	assert.Equal(t, 0, q.Size(), "second event within the window still held back")

	flushed := c.Flush()
	require.Len(t, flushed, 1)
	any, ok := flushed[0].Payload.(*anypb.Any)
	require.True(t, ok)
	var msg wrapperspb.DoubleValue
	require.NoError(t, any.UnmarshalTo(&msg))
	assert.Equal(t, 2.0, msg.Value, "coalescing keeps the latest value for a given key")
}
