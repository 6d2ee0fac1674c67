package ha

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestCheckpointSaveLoadRoundTrip(t *testing.T) {
	store := NewCheckpointStore(t.TempDir(), 10, time.Hour)
	cp := store.New("rtexec")
	cp.DataStoreSnapshot = "snapshot-blob"
	cp.EventBusQueueSnapshot = []string{"evt-1", "evt-2"}
	cp.SizeBytes = 42
	cp.IsComplete = true

	require.NoError(t, store.Save(cp))

	loaded, err := store.Load(cp.ID)
	require.NoError(t, err)

	cp.Timestamp = cp.Timestamp.UTC()
	loaded.Timestamp = loaded.Timestamp.UTC()
	if diff := cmp.Diff(cp, loaded); diff != "" {
		t.Fatalf("round-tripped checkpoint mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckpointLoadMissingReturnsNotFound(t *testing.T) {
	store := NewCheckpointStore(t.TempDir(), 10, time.Hour)
	_, err := store.Load("does-not-exist")
	require.Error(t, err)
}

func TestCheckpointEnforcesMaxCount(t *testing.T) {
	store := NewCheckpointStore(t.TempDir(), 2, time.Hour)
	for i := 0; i < 4; i++ {
		cp := store.New("rtexec")
		require.NoError(t, store.Save(cp))
		time.Sleep(time.Millisecond) // ensure distinct mtimes for ordering
	}
	ids, err := store.List()
	require.NoError(t, err)
	require.Len(t, ids, 2)
}

func TestCheckpointCleanupExpired(t *testing.T) {
	store := NewCheckpointStore(t.TempDir(), 10, time.Millisecond)
	cp := store.New("rtexec")
	cp.Timestamp = time.Now().Add(-time.Hour)
	require.NoError(t, store.Save(cp))

	removed, err := store.CleanupExpired(time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, removed)
}

func TestCheckpointVerify(t *testing.T) {
	store := NewCheckpointStore(t.TempDir(), 10, time.Hour)
	cp := store.New("rtexec")
	require.NoError(t, store.Save(cp))
	require.True(t, store.Verify(cp.ID))
	require.False(t, store.Verify("bogus"))
}
