package rtperf

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/fenwick-robotics/rtstack/internal/rterrors"
)

// IsolationMode describes how CPU cores are kept free of the general
// scheduler's other work.
type IsolationMode int

const (
	IsolationNone IsolationMode = iota
	IsolationISOLCPUS
	IsolationCGROUPS
	IsolationHybrid
)

// SchedPolicy mirrors the Linux real-time scheduling classes.
type SchedPolicy int

const (
	SchedOther SchedPolicy = iota
	SchedFIFO
	SchedRR
)

// AffinityConfig is the CPU affinity / scheduling policy to apply to the
// calling OS thread before the cyclic executive starts.
type AffinityConfig struct {
	ProcessName   string
	ThreadName    string
	CPUCores      []int
	IsolationMode IsolationMode
	IsExclusive   bool
	Priority      int // 1-99 for FIFO/RR
	Policy        SchedPolicy
}

// DefaultAffinityConfig mirrors the original's field defaults.
func DefaultAffinityConfig() AffinityConfig {
	return AffinityConfig{IsExclusive: true, Priority: 80, Policy: SchedFIFO}
}

// AffinityManager pins the calling OS thread to a configured CPU set and
// applies a real-time scheduling policy. Every call is best-effort:
// failures are logged as warnings, not fatal, matching the runtime's
// "reduced determinism, not a crash" contract for a capability the process
// may lack (commonly CAP_SYS_NICE).
type AffinityManager struct {
	logger *zap.Logger
}

// NewAffinityManager constructs a manager bound to logger.
func NewAffinityManager(logger *zap.Logger) *AffinityManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AffinityManager{logger: logger}
}

// Apply pins the calling OS thread to cfg.CPUCores and applies cfg.Policy
// at cfg.Priority. Must be called after runtime.LockOSThread() from the
// goroutine that will run the cyclic executive, since affinity and
// scheduling policy are per-OS-thread, not per-process, on Linux.
func (a *AffinityManager) Apply(cfg AffinityConfig) error {
	if len(cfg.CPUCores) > 0 {
		if err := a.setCPUAffinity(cfg.CPUCores); err != nil {
			a.logger.Warn("cpu affinity not applied", zap.Error(err))
		}
	}
	if cfg.Policy != SchedOther {
		if err := a.setSchedulingPolicy(cfg.Policy, cfg.Priority); err != nil {
			a.logger.Warn("scheduling policy not applied", zap.Error(err))
		}
	}
	if cfg.IsolationMode != IsolationNone {
		if ok := a.verifyIsolation(cfg); !ok {
			a.logger.Warn("cpu isolation not verified", zap.String("mode", isolationModeString(cfg.IsolationMode)), zap.Ints("cores", cfg.CPUCores))
		}
	}
	return nil
}

func (a *AffinityManager) setCPUAffinity(cores []int) error {
	var set unix.CPUSet
	set.Zero()
	for _, c := range cores {
		set.Set(c)
	}
	return unix.SchedSetaffinity(0, &set)
}

func (a *AffinityManager) setSchedulingPolicy(policy SchedPolicy, priority int) error {
	if priority < 1 || priority > 99 {
		return rterrors.Wrap(rterrors.ErrPolicyInvalid, fmt.Sprintf("rtperf: priority %d out of range [1,99]", priority))
	}
	var schedPolicy int
	switch policy {
	case SchedFIFO:
		schedPolicy = unix.SCHED_FIFO
	case SchedRR:
		schedPolicy = unix.SCHED_RR
	default:
		return nil
	}
	return unix.SchedSetscheduler(0, schedPolicy, &unix.SchedParam{Priority: int32(priority)})
}

// verifyIsolation checks /sys for isolcpus, or the process's cpuset
// cgroup, depending on cfg.IsolationMode. It never fails hard: an
// unconfigured host still runs, just without the isolation guarantee.
func (a *AffinityManager) verifyIsolation(cfg AffinityConfig) bool {
	switch cfg.IsolationMode {
	case IsolationISOLCPUS, IsolationHybrid:
		if a.checkIsolcpus(cfg.CPUCores) {
			return true
		}
		if cfg.IsolationMode == IsolationISOLCPUS {
			return false
		}
		fallthrough
	case IsolationCGROUPS:
		return a.checkCgroups(cfg.CPUCores)
	default:
		return true
	}
}

func (a *AffinityManager) checkIsolcpus(cores []int) bool {
	data, err := os.ReadFile("/sys/devices/system/cpu/isolated")
	if err != nil {
		return false
	}
	isolated := strings.TrimSpace(string(data))
	if isolated == "" {
		return false
	}
	for _, c := range cores {
		if !strings.Contains(isolated, fmt.Sprintf("%d", c)) {
			return false
		}
	}
	return true
}

func (a *AffinityManager) checkCgroups(cores []int) bool {
	data, err := os.ReadFile("/sys/fs/cgroup/cpuset.cpus")
	if err != nil {
		return false
	}
	cpuset := strings.TrimSpace(string(data))
	return cpuset != "" && cpuset != "0-" // a non-trivial, non-default restriction is configured
}

// CurrentAffinity returns the CPU cores the calling OS thread is currently
// bound to.
func (a *AffinityManager) CurrentAffinity() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, err
	}
	var cores []int
	for i := 0; i < runtime.NumCPU(); i++ {
		if set.IsSet(i) {
			cores = append(cores, i)
		}
	}
	return cores, nil
}

func isolationModeString(m IsolationMode) string {
	switch m {
	case IsolationNone:
		return "NONE"
	case IsolationISOLCPUS:
		return "ISOLCPUS"
	case IsolationCGROUPS:
		return "CGROUPS"
	case IsolationHybrid:
		return "HYBRID"
	default:
		return "UNKNOWN"
	}
}
