// Command missiond is the Non-RT supervisory process: it hosts the data
// store, the event plane, the HA supervisor, and the bridge synchronizer
// that keeps the shared-memory handshake with rtexec alive.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fenwick-robotics/rtstack/internal/bridge"
	"github.com/fenwick-robotics/rtstack/internal/config"
	"github.com/fenwick-robotics/rtstack/internal/eventbus"
	"github.com/fenwick-robotics/rtstack/internal/ha"
	"github.com/fenwick-robotics/rtstack/internal/shm"
	"github.com/fenwick-robotics/rtstack/internal/store"
	"github.com/fenwick-robotics/rtstack/internal/telemetry"
)

var (
	failoverPolicyPath  string
	recoveryPolicyPath  string
	bridgePath          string
	checkpointDir       string
	healthAddr          string
	hotKeyCapacity      int
)

func main() {
	root := &cobra.Command{
		Use:   "missiond",
		Short: "Non-RT supervisory process",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the supervisory process",
		RunE: func(cmd *cobra.Command, args []string) error {
			abnormal, err := run(cmd, args)
			if err != nil {
				return err
			}
			if abnormal {
				os.Exit(1)
			}
			return nil
		},
	}
	runCmd.Flags().StringVar(&failoverPolicyPath, "failover-policy", "", "failover policy JSON file")
	runCmd.Flags().StringVar(&recoveryPolicyPath, "recovery-policy", "", "recovery policy YAML file")
	runCmd.Flags().StringVar(&bridgePath, "bridge-path", shm.DefaultPath("rtstack-bridge"), "shared-memory bridge path")
	runCmd.Flags().StringVar(&checkpointDir, "checkpoint-dir", "", "checkpoint storage directory")
	runCmd.Flags().StringVar(&healthAddr, "health-addr", "127.0.0.1:8081", "health/metrics HTTP listen address")
	runCmd.Flags().IntVar(&hotKeyCapacity, "hot-key-capacity", store.DefaultHotKeyCapacity, "hot-key cache capacity")

	root.AddCommand(runCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run executes the supervisory process. The returned bool reports whether
// the run ended abnormally (the HA state machine reached SHUTDOWN via
// SHUTDOWN_SYSTEM or MEMORY_EXHAUSTION, per the exit-code policy), in
// which case the caller exits non-zero once graceful shutdown completes.
func run(cmd *cobra.Command, args []string) (bool, error) {
	logger := telemetry.NewLogger("missiond", zap.InfoLevel)
	defer logger.Sync()

	shutdown := telemetry.NewGracefulShutdown(5*time.Second, logger)

	failoverPolicy := ha.FailoverPolicy{
		HealthCheckIntervalMS: 1000,
		HealthCheckTimeoutMS:  200,
		FailureThreshold:      3,
		RestartDelayMS:        500,
		MaxRestartCount:       5,
		RestartWindowSec:      60,
	}
	if failoverPolicyPath != "" {
		loaded, err := config.LoadFailoverPolicy(failoverPolicyPath)
		if err != nil {
			return false, err
		}
		failoverPolicy = loaded
	}

	recoveryPolicy := ha.DefaultRecoveryPolicy()
	if recoveryPolicyPath != "" {
		loaded, err := ha.LoadRecoveryPolicy(recoveryPolicyPath)
		if err != nil {
			return false, err
		}
		recoveryPolicy = loaded
	}

	dataStore := store.New(logger, hotKeyCapacity)
	if err := dataStore.RegisterHotKey("robot.state"); err != nil {
		return false, err
	}
	dataStore.Freeze()
	robotState := store.NewRobotStateAccessor(dataStore, "robot.state")

	registry := prometheus.NewRegistry()
	metrics := ha.NewMetrics(registry)

	queue := eventbus.NewQueue(eventbus.DefaultCapacity)
	coalescer := eventbus.NewCoalescer(eventbus.DefaultWindow)
	publisher := eventbus.NewPublisher(queue, coalescer)
	_ = publisher // the mission/BT engine publishes through this; none is wired into a bare missiond run

	if checkpointDir == "" {
		checkpointDir = os.TempDir()
	}
	checkpointStore := ha.NewCheckpointStore(checkpointDir, 10, 7*24*time.Hour)

	var auditLog *ha.AuditLog
	if f, err := ha.OpenAuditLog(checkpointDir + "/audit.log"); err == nil {
		auditLog = f
		shutdown.Register(auditLog.Close)
	} else {
		logger.Warn("audit log open failed", zap.Error(err))
	}

	ledger := ha.NewRestartLedger(nil)
	restartFn := ha.ExecRestart("./rtexec", "run")
	failoverController := ha.NewFailoverController(logger, nil, ledger, nil, checkpointStore, restartFn, auditLog)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	machine := ha.NewStateMachine(recoveryPolicy, func(from, to ha.State) {
		logger.Info("ha state transition", zap.String("from", from.String()), zap.String("to", to.String()))
		if auditLog != nil {
			auditLog.Append(ha.AuditEntry{Actor: "ha-state-machine", Action: "transition", Subject: from.String(), Outcome: to.String()})
		}
		if to == ha.StateShutdown {
			cancel()
		}
	}, func(ft ha.FailureType, action ha.RecoveryAction) error {
		logger.Warn("executing recovery action", zap.String("failure", string(ft)), zap.String("action", string(action)))
		return nil
	})

	sampleFn := func() ha.Sample { return ha.Sample{} }
	processMonitor := ha.NewProcessMonitor(logger, sampleFn, ha.Thresholds{CPUPercent: 80, MemoryMegabytes: 500, DeadlineMissPerCycle: 1},
		time.Duration(failoverPolicy.HealthCheckIntervalMS)*time.Millisecond,
		time.Duration(failoverPolicy.HealthCheckTimeoutMS)*time.Millisecond,
		failoverPolicy.FailureThreshold,
		func() {
			if err := failoverController.HandleProcessFailure(ctx, "rtexec", failoverPolicy); err != nil {
				logger.Error("failover controller could not recover rtexec", zap.Error(err))
			}
		},
	)
	go processMonitor.Run(ctx)

	ready := func() bool { return machine.Current() == ha.StateNormal || machine.Current() == ha.StateDegraded }
	healthServer := ha.NewHealthServer(logger, healthAddr, processMonitor, machine, ready, registry)
	healthServer.Start()
	shutdown.Register(func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return healthServer.Shutdown(shutdownCtx)
	})

	go reportMetrics(ctx, dataStore, queue, metrics)

	shmBridge, err := shm.OpenAsNonRT(bridgePath)
	if err != nil {
		logger.Warn("bridge not yet available, continuing without it", zap.Error(err))
	} else {
		sync := bridge.NewSynchronizer(logger, shmBridge, robotState, nil)
		go sync.Run(ctx)
	}

	<-ctx.Done()
	shutdownErr := shutdown.Shutdown(context.Background())
	_, abnormal := machine.ShutdownCause()
	return abnormal, shutdownErr
}

var priorityLabels = [4]string{"critical", "high", "normal", "low"}

// reportMetrics periodically copies the store's call counters and the
// event queue's push/drop tallies into the Prometheus collectors exposed
// on /metrics, and reports the largest queue size seen at those
// once-per-second samples as the peak queue size.
func reportMetrics(ctx context.Context, dataStore *store.Store, queue *eventbus.Queue, metrics *ha.Metrics) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastSet, lastGet, lastPoll uint64
	var lastPushed, lastDropped [4]uint64
	var peakQueue float64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := dataStore.Metrics()
			metrics.SetCalls.Add(float64(snap.SetCalls - lastSet))
			metrics.GetCalls.Add(float64(snap.GetCalls - lastGet))
			metrics.PollCalls.Add(float64(snap.PollCalls - lastPoll))
			lastSet, lastGet, lastPoll = snap.SetCalls, snap.GetCalls, snap.PollCalls

			pushed, dropped := queue.Counters()
			for i, label := range priorityLabels {
				metrics.EventsPushed.WithLabelValues(label).Add(float64(pushed[i] - lastPushed[i]))
				metrics.EventsDropped.WithLabelValues(label).Add(float64(dropped[i] - lastDropped[i]))
			}
			lastPushed, lastDropped = pushed, dropped

			if size := float64(queue.Size()); size > peakQueue {
				peakQueue = size
			}
			metrics.PeakQueueSize.Set(peakQueue)
		}
	}
}
