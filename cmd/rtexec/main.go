// Command rtexec is the real-time process: it pins itself to a configured
// CPU set, runs the cyclic executive, and speaks the shared-memory bridge
// protocol with missiond.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/fenwick-robotics/rtstack/internal/config"
	"github.com/fenwick-robotics/rtstack/internal/rtperf"
	"github.com/fenwick-robotics/rtstack/internal/sched"
	"github.com/fenwick-robotics/rtstack/internal/shm"
	"github.com/fenwick-robotics/rtstack/internal/store"
	"github.com/fenwick-robotics/rtstack/internal/telemetry"
)

var (
	affinityConfigPath string
	numaConfigPath     string
	scheduleConfigPath string
	bridgePath         string
	checkpointFlag     string
	hotKeyCapacity     int
)

func main() {
	root := &cobra.Command{
		Use:   "rtexec",
		Short: "Real-time cyclic-executive process",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the cyclic executive",
		RunE:  runExecutive,
	}
	runCmd.Flags().StringVar(&affinityConfigPath, "affinity-config", "", "CPU affinity / scheduling policy config file")
	runCmd.Flags().StringVar(&numaConfigPath, "numa-config", "", "NUMA binding config file")
	runCmd.Flags().StringVar(&scheduleConfigPath, "schedule", "", "schedule definition file")
	runCmd.Flags().StringVar(&bridgePath, "bridge-path", shm.DefaultPath("rtstack-bridge"), "shared-memory bridge path")
	runCmd.Flags().StringVar(&checkpointFlag, "checkpoint", "", "checkpoint ID to resume from (currently logged only)")
	runCmd.Flags().IntVar(&hotKeyCapacity, "hot-key-capacity", store.DefaultHotKeyCapacity, "hot-key cache capacity")

	validateCmd := &cobra.Command{
		Use:   "validate-schedule",
		Short: "Validate a schedule definition's utilization and major-cycle bound",
		RunE:  validateSchedule,
	}
	validateCmd.Flags().StringVar(&scheduleConfigPath, "schedule", "", "schedule definition file")

	root.AddCommand(runCmd, validateCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func validateSchedule(cmd *cobra.Command, args []string) error {
	def, err := config.LoadScheduleDefinition(scheduleConfigPath)
	if err != nil {
		return err
	}
	s, err := sched.CalculateSchedule(def.Periods())
	if err != nil {
		return err
	}
	if err := sched.ValidateUtilization(def.Periods(), def.WCETs(), sched.DefaultUtilizationBound); err != nil {
		return err
	}
	fmt.Printf("minor_cycle_ms=%d major_cycle_ms=%d num_slots=%d\n", s.MinorCycleMS, s.MajorCycleMS, s.NumSlots)
	return nil
}

func runExecutive(cmd *cobra.Command, args []string) error {
	logger := telemetry.NewLogger("rtexec", zap.InfoLevel)
	defer logger.Sync()

	shutdown := telemetry.NewGracefulShutdown(5*time.Second, logger)

	if checkpointFlag != "" {
		logger.Info("checkpoint id supplied", zap.String("checkpoint", checkpointFlag))
	}

	// CPU affinity and scheduling policy must be applied from the OS thread
	// that will run the cyclic executive loop.
	runtime.LockOSThread()

	affCfg := rtperf.DefaultAffinityConfig()
	if affinityConfigPath != "" {
		loaded, err := config.LoadAffinityConfig(affinityConfigPath)
		if err != nil {
			return err
		}
		affCfg = loaded
	}
	if err := rtperf.NewAffinityManager(logger).Apply(affCfg); err != nil {
		logger.Warn("cpu affinity application reported an error", zap.Error(err))
	}

	if numaConfigPath != "" {
		numaCfg, err := config.LoadNUMAConfig(numaConfigPath)
		if err != nil {
			return err
		}
		if err := rtperf.NewNUMABinder(logger).Apply(numaCfg); err != nil {
			return err
		}
	}

	// Memory lock is best-effort: if the kernel refuses it, the process
	// logs a warning and continues unlocked.
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		logger.Warn("memory lock not applied", zap.Error(err))
	}

	def, err := config.LoadScheduleDefinition(scheduleConfigPath)
	if err != nil {
		return err
	}

	region, err := shm.Open(shm.Options{Path: bridgePath, Size: shm.RegionSize, Create: true})
	if err != nil {
		return err
	}
	bridge := shm.NewBridge(region)
	if err := bridge.InitAsCreator(); err != nil {
		return err
	}
	shutdown.Register(func() error {
		if err := region.Unlink(); err != nil {
			logger.Warn("bridge region unlink failed", zap.Error(err))
		}
		return region.Close()
	})

	dataStore := store.New(logger, hotKeyCapacity)
	if err := dataStore.RegisterHotKey("robot.state"); err != nil {
		return err
	}
	if err := dataStore.RegisterHotKey("rt.deadline_misses"); err != nil {
		return err
	}
	dataStore.Freeze()
	robotState := store.NewRobotStateAccessor(dataStore, "robot.state")

	monitor := rtperf.NewMonitor(rtperf.DefaultMonitorConfig())
	executive := sched.NewExecutive(logger, monitor, dataStore)

	for _, a := range def.Actions {
		action := a
		if err := executive.RegisterAction(sched.Action{
			Name:     action.Name,
			PeriodMS: action.PeriodMS,
			Run: func(actx sched.ActionContext) {
				snapshot := bridgeSnapshot()
				if err := bridge.WriteRTToNonRT(snapshot); err != nil {
					logger.Warn("rt->non-rt snapshot write failed", zap.Error(err))
				}
				if actx.DataStore == nil {
					return
				}
				if err := robotState.Set(store.RobotState{
					Mode:      snapshot.RobotMode,
					PositionX: snapshot.PositionX,
					PositionY: snapshot.PositionY,
					Velocity:  snapshot.Velocity,
				}); err != nil {
					logger.Warn("robot state write-through failed", zap.Error(err))
				}
				if err := actx.DataStore.Set("rt.deadline_misses", monitor.DeadlineMissCount(), nil); err != nil {
					logger.Warn("deadline miss write-through failed", zap.Error(err))
				}
			},
		}); err != nil {
			return err
		}
	}
	if err := executive.CreateFromPeriods(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdown.Register(func() error {
		executive.Stop()
		return nil
	})

	runErr := executive.Run(ctx)
	shutdownErr := shutdown.Shutdown(context.Background())
	if runErr != nil {
		return runErr
	}
	return shutdownErr
}

// bridgeSnapshot is a placeholder point of integration: the real robot
// controller feeds live state here. It always reports the zero state for
// a bare rtexec process run without a domain controller wired in.
func bridgeSnapshot() shm.RTToNonRT {
	return shm.RTToNonRT{TimestampNS: uint64(time.Now().UnixNano())}
}
