// Package bridge runs the Non-RT process's half of the shared-memory
// handshake: two 100 ms-cadence loops that keep the Non-RT heartbeat
// alive and republish the RT process's latest snapshot into the
// data store.
package bridge

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fenwick-robotics/rtstack/internal/shm"
	"github.com/fenwick-robotics/rtstack/internal/store"
)

// DefaultCadence is the synchronizer's tick interval, matching the
// bridge's heartbeat-timeout budget with comfortable headroom.
const DefaultCadence = 100 * time.Millisecond

// DefaultRetryBound bounds the seqlock read retry loop per tick.
const DefaultRetryBound = 10

// Synchronizer bridges shared-memory snapshots into data-store cells on
// behalf of the Non-RT process.
type Synchronizer struct {
	logger      *zap.Logger
	bridge      *shm.Bridge
	robotState  *store.RobotStateAccessor
	cadence     time.Duration
	retryBound  int
	commandFeed func() (shm.NonRTToRT, bool)
}

// NewSynchronizer constructs a synchronizer. commandFeed, if non-nil, is
// polled once per tick to obtain the next Non-RT→RT command snapshot to
// publish; a false second return skips that tick's write.
func NewSynchronizer(logger *zap.Logger, b *shm.Bridge, robotState *store.RobotStateAccessor, commandFeed func() (shm.NonRTToRT, bool)) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{
		logger:      logger,
		bridge:      b,
		robotState:  robotState,
		cadence:     DefaultCadence,
		retryBound:  DefaultRetryBound,
		commandFeed: commandFeed,
	}
}

// Run drives both loops until ctx is cancelled. Each loop owns its own
// ticker so a slow tick on one side never stalls the other.
func (s *Synchronizer) Run(ctx context.Context) {
	go s.runHeartbeatLoop(ctx)
	s.runSnapshotLoop(ctx)
}

func (s *Synchronizer) runHeartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cadence)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.bridge.UpdateNonRTHeartbeat(time.Now()); err != nil {
				s.logger.Warn("non-rt heartbeat write failed", zap.Error(err))
			}
			if s.commandFeed != nil {
				if cmd, ok := s.commandFeed(); ok {
					if err := s.bridge.WriteNonRTToRT(cmd); err != nil {
						s.logger.Warn("non-rt->rt command write failed", zap.Error(err))
					}
				}
			}
		}
	}
}

func (s *Synchronizer) runSnapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cadence)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.syncOnce()
		}
	}
}

// syncOnce reads the RT->NonRT snapshot and republishes it into the data
// store. A torn read is not an error worth surfacing up the stack: it is
// skipped, logged at debug level, and retried on the next tick.
func (s *Synchronizer) syncOnce() {
	snap, err := s.bridge.ReadRTToNonRT(s.retryBound)
	if err != nil {
		s.logger.Debug("skipping torn rt->non-rt snapshot read", zap.Error(err))
		return
	}
	if s.robotState == nil {
		return
	}
	if err := s.robotState.Set(store.RobotState{
		Mode:      snap.RobotMode,
		PositionX: snap.PositionX,
		PositionY: snap.PositionY,
		Velocity:  snap.Velocity,
	}); err != nil {
		s.logger.Warn("publishing robot state to store failed", zap.Error(err))
	}
}
