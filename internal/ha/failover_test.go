package ha

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestRestartLedgerBudgetWithinWindow(t *testing.T) {
	mock := clock.NewMock()
	ledger := NewRestartLedger(mock)
	policy := FailoverPolicy{MaxRestartCount: 5, RestartWindowSec: 1}

	for i := 0; i < 5; i++ {
		require.True(t, ledger.CanRestart("rtexec", policy))
		ledger.RecordRestart("rtexec", policy)
	}
	assert.False(t, ledger.CanRestart("rtexec", policy))
}

func TestRestartLedgerResetsAfterWindowExpires(t *testing.T) {
	mock := clock.NewMock()
	ledger := NewRestartLedger(mock)
	policy := FailoverPolicy{MaxRestartCount: 1, RestartWindowSec: 1}

	require.True(t, ledger.CanRestart("rtexec", policy))
	ledger.RecordRestart("rtexec", policy)
	assert.False(t, ledger.CanRestart("rtexec", policy))

	mock.Add(2 * time.Second)
	assert.True(t, ledger.CanRestart("rtexec", policy))
}

func TestFailoverControllerAbandonsWhenBudgetExhausted(t *testing.T) {
	mock := clock.NewMock()
	ledger := NewRestartLedger(mock)
	policy := FailoverPolicy{MaxRestartCount: 1, RestartWindowSec: 1, RestartDelayMS: 10}
	ledger.RecordRestart("rtexec", policy)

	var restarted bool
	restart := func(checkpointID string) error { restarted = true; return nil }
	fc := NewFailoverController(nil, mock, ledger, nil, nil, restart, nil)

	err := fc.HandleProcessFailure(context.Background(), "rtexec", policy)
	require.Error(t, err)
	assert.False(t, restarted)
}

func TestFailoverControllerTriggerRestartSpawnsAndRecordsCheckpoint(t *testing.T) {
	mock := clock.NewMock()
	ledger := NewRestartLedger(mock)
	policy := FailoverPolicy{MaxRestartCount: 5, RestartWindowSec: 1, RestartDelayMS: 10, EnableStateRecovery: true}

	store := NewCheckpointStore(t.TempDir(), 10, time.Hour)
	cp := store.New("rtexec")
	require.NoError(t, store.Save(cp))

	var gotCheckpoint string
	restart := func(checkpointID string) error { gotCheckpoint = checkpointID; return nil }
	fc := NewFailoverController(nil, mock, ledger, nil, store, restart, nil)

	done := make(chan error, 1)
	go func() { done <- fc.TriggerRestart(context.Background(), "rtexec", policy) }()

	// give the goroutine a chance to register its clock.After before
	// advancing the mock clock past the restart delay
	time.Sleep(10 * time.Millisecond)
	mock.Add(20 * time.Millisecond)
	require.NoError(t, <-done)
	assert.Equal(t, cp.ID, gotCheckpoint)
}

func TestFailoverControllerRateLimitsAcrossDistinctProcesses(t *testing.T) {
	mock := clock.NewMock()
	ledger := NewRestartLedger(mock)
	policy := FailoverPolicy{MaxRestartCount: 5, RestartWindowSec: 60, RestartDelayMS: 0}

	// burst of 1 with a slow refill means a second distinct process's
	// restart (a separate RestartLedger entry, so the per-name budget
	// would otherwise allow it immediately) still has to wait on the
	// fleet-wide limiter.
	limiter := rate.NewLimiter(rate.Limit(1), 1)
	var restarts int
	restart := func(checkpointID string) error { restarts++; return nil }
	fc := NewFailoverController(nil, mock, ledger, limiter, nil, restart, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	require.NoError(t, fc.TriggerRestart(context.Background(), "svc-a", policy))
	err := fc.TriggerRestart(ctx, "svc-b", policy)
	require.Error(t, err)
	assert.Equal(t, 1, restarts)
}
