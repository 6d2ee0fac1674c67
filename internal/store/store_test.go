package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetRoundTrip(t *testing.T) {
	s := New(nil, 0)
	require.NoError(t, s.Set("k", 7, nil))
	v, err := Get[int](s, "k")
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestGetMissingKeyIsNotFound(t *testing.T) {
	s := New(nil, 0)
	_, err := Get[int](s, "missing")
	require.Error(t, err)
}

func TestSetTypeMismatchFails(t *testing.T) {
	s := New(nil, 0)
	require.NoError(t, s.Set("k", 7, nil))
	err := s.Set("k", "seven", nil)
	require.Error(t, err)
}

func TestHotKeyRegistrationBoundary(t *testing.T) {
	s := New(nil, 2)
	require.NoError(t, s.RegisterHotKey("a"))
	require.NoError(t, s.RegisterHotKey("b"))
	err := s.RegisterHotKey("c")
	require.Error(t, err)
}

func TestHotKeyRegistrationAfterFreezeRejected(t *testing.T) {
	s := New(nil, 4)
	require.NoError(t, s.RegisterHotKey("a"))
	s.Freeze()
	err := s.RegisterHotKey("b")
	require.Error(t, err)
}

func TestSubscribersNotifiedOnSet(t *testing.T) {
	s := New(nil, 0)
	seen := make(chan any, 1)
	sub := s.Subscribe("k", func(v any) { seen <- v })
	defer sub.Unsubscribe()

	require.NoError(t, s.Set("k", 99, nil))
	select {
	case v := <-seen:
		assert.Equal(t, 99, v)
	case <-time.After(time.Second):
		t.Fatal("observer not notified")
	}
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	s := New(nil, 0)
	calls := 0
	sub := s.Subscribe("k", func(v any) { calls++ })
	sub.Unsubscribe()
	sub.Unsubscribe() // double-unsubscribe is a safe no-op

	require.NoError(t, s.Set("k", 1, nil))
	assert.Equal(t, 0, calls)
}

func TestCleanExpiredRemovesStaleEntries(t *testing.T) {
	s := New(nil, 0)
	require.NoError(t, s.Set("k", 1, &ExpirationPolicy{TTL: time.Millisecond}))
	time.Sleep(5 * time.Millisecond)
	removed := s.CleanExpired(time.Now())
	assert.Equal(t, 1, removed)
	_, err := Get[int](s, "k")
	require.Error(t, err)
}
