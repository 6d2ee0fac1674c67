package shm

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func tempBridgePath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "rtstack-bridge-test")
}

func TestBridgeSnapshotRoundTrip(t *testing.T) {
	path := tempBridgePath(t)
	b, err := CreateAsRT(path)
	require.NoError(t, err)
	defer func() {
		b.Region().Close()
		b.Region().Unlink()
	}()

	in := RTToNonRT{RobotMode: 2, PositionX: 1.5, PositionY: -2.5, Velocity: 0.75, TimestampNS: 12345}
	require.NoError(t, b.WriteRTToNonRT(in))

	out, err := b.ReadRTToNonRT(10)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestHeartbeatLiveness(t *testing.T) {
	path := tempBridgePath(t)
	b, err := CreateAsRT(path)
	require.NoError(t, err)
	defer func() {
		b.Region().Close()
		b.Region().Unlink()
	}()

	now := time.Now()
	require.NoError(t, b.UpdateRTHeartbeat(now))
	alive, err := b.PeerRTAlive(now)
	require.NoError(t, err)
	require.True(t, alive)

	stale := now.Add(2 * time.Second)
	alive, err = b.PeerRTAlive(stale)
	require.NoError(t, err)
	require.False(t, alive)
}

func TestOpenAsNonRTFailsWhenMissing(t *testing.T) {
	// Call Open with Create=false, the single attempt OpenAsNonRT repeats,
	// so the test does not wait out OpenAsNonRT's 5s retry budget.
	_, err := Open(Options{Path: filepath.Join(os.TempDir(), "rtstack-nonexistent-region"), Create: false})
	require.Error(t, err)
}
