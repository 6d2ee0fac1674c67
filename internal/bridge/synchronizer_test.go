package bridge

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenwick-robotics/rtstack/internal/shm"
	"github.com/fenwick-robotics/rtstack/internal/store"
)

func TestSynchronizerRepublishesRobotState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.shm")
	region, err := shm.Open(shm.Options{Path: path, Size: shm.RegionSize, Create: true})
	require.NoError(t, err)
	b := shm.NewBridge(region)
	defer region.Close()
	require.NoError(t, b.InitAsCreator())

	require.NoError(t, b.WriteRTToNonRT(shm.RTToNonRT{
		RobotMode: 2,
		PositionX: 1.5,
		PositionY: 2.5,
		Velocity:  0.75,
	}))

	s := store.New(nil, 4)
	require.NoError(t, s.RegisterHotKey("robot.state"))
	s.Freeze()
	accessor := store.NewRobotStateAccessor(s, "robot.state")

	sync := NewSynchronizer(nil, b, accessor, nil)
	sync.cadence = 5 * time.Millisecond
	sync.syncOnce()

	got, err := accessor.Get()
	require.NoError(t, err)
	assert.Equal(t, int32(2), got.Mode)
	assert.InDelta(t, 1.5, got.PositionX, 1e-6)
}

func TestSynchronizerRunStopsOnContextCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.shm")
	region, err := shm.Open(shm.Options{Path: path, Size: shm.RegionSize, Create: true})
	require.NoError(t, err)
	b := shm.NewBridge(region)
	defer region.Close()
	require.NoError(t, b.InitAsCreator())

	s := store.New(nil, 4)
	require.NoError(t, s.RegisterHotKey("robot.state"))
	s.Freeze()
	accessor := store.NewRobotStateAccessor(s, "robot.state")

	sync := NewSynchronizer(nil, b, accessor, nil)
	sync.cadence = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() { sync.Run(ctx); close(done) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("synchronizer did not stop after context cancellation")
	}
}
