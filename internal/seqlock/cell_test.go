package seqlock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCellStoreLoadRoundTrip(t *testing.T) {
	c := NewCell[int]()
	c.Store(42, time.Now())

	v, ver, ok := c.Load()
	require.True(t, ok)
	assert.Equal(t, 42, v)
	assert.Equal(t, uint64(2), ver)
}

func TestCellVersionMonotonic(t *testing.T) {
	c := NewCell[int]()
	var last uint64
	for i := 0; i < 100; i++ {
		c.Store(i, time.Now())
		_, ver, ok := c.Load()
		require.True(t, ok)
		assert.Greater(t, ver, last)
		last = ver
	}
}

// TestCellConcurrentWriterReader exercises one writer incrementing a cell
// continuously while one reader performs optimistic reads: every successful
// read must observe a value that was actually written, never a torn value.
func TestCellConcurrentWriterReader(t *testing.T) {
	c := NewCell[uint64]()
	const iterations = 1_000_000

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := uint64(0); i < iterations; i++ {
			c.Store(i, time.Now())
		}
	}()

	seen := 0
	go func() {
		defer wg.Done()
		for seen < 1000 {
			if v, _, ok := TryOptimisticRead(c, DefaultRetryBound); ok {
				assert.LessOrEqual(t, v, uint64(iterations-1))
				seen++
			}
		}
	}()

	wg.Wait()
}
