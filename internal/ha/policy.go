package ha

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fenwick-robotics/rtstack/internal/rterrors"
)

// RecoveryPolicy maps each FailureType to a RecoveryAction, loaded from a
// YAML file of the form:
//
//	max_recovery_attempts: 3
//	policies:
//	  RT_PROCESS_CRASH: RESTART_RT_PROCESS
//	  DEADLINE_MISS_CONSECUTIVE: ENTER_SAFE_MODE
//	  ETHERCAT_COMM_FAILURE: ENTER_SAFE_MODE
//	  SENSOR_FAILURE: NOTIFY_AND_WAIT
//	  MOTOR_OVERCURRENT: ENTER_SAFE_MODE
//	  DATASTORE_CORRUPTION: NOTIFY_AND_WAIT
//	  MEMORY_EXHAUSTION: SHUTDOWN_SYSTEM
//	  UNKNOWN: NOTIFY_AND_WAIT
type RecoveryPolicy struct {
	MaxRecoveryAttempts int
	Policies            map[FailureType]RecoveryAction
}

type recoveryPolicyFile struct {
	MaxRecoveryAttempts int               `yaml:"max_recovery_attempts"`
	Policies            map[string]string `yaml:"policies"`
}

// DefaultRecoveryPolicy returns the runtime's built-in default mapping,
// used when no policy file is configured.
func DefaultRecoveryPolicy() *RecoveryPolicy {
	return &RecoveryPolicy{
		MaxRecoveryAttempts: 3,
		Policies: map[FailureType]RecoveryAction{
			FailureRTProcessCrash:          ActionRestartRTProcess,
			FailureDeadlineMissConsecutive: ActionEnterSafeMode,
			FailureEtherCATCommFailure:     ActionEnterSafeMode,
			FailureSensorFailure:           ActionNotifyAndWait,
			FailureMotorOvercurrent:        ActionEnterSafeMode,
			FailureDatastoreCorruption:     ActionNotifyAndWait,
			FailureMemoryExhaustion:        ActionShutdownSystem,
			FailureUnknown:                 ActionNotifyAndWait,
		},
	}
}

// LoadRecoveryPolicy reads and validates a recovery policy file.
func LoadRecoveryPolicy(path string) (*RecoveryPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rterrors.Wrap(rterrors.ErrTransientIO, "ha: read recovery policy: "+err.Error())
	}
	var file recoveryPolicyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, rterrors.Wrap(rterrors.ErrPolicyInvalid, "ha: parse recovery policy: "+err.Error())
	}

	p := &RecoveryPolicy{
		MaxRecoveryAttempts: file.MaxRecoveryAttempts,
		Policies:            make(map[FailureType]RecoveryAction, len(file.Policies)),
	}
	for k, v := range file.Policies {
		p.Policies[FailureType(k)] = RecoveryAction(v)
	}
	if p.MaxRecoveryAttempts < 1 {
		return nil, rterrors.Wrap(rterrors.ErrPolicyInvalid, "ha: max_recovery_attempts must be >= 1")
	}
	if !p.IsComplete() {
		return nil, rterrors.Wrap(rterrors.ErrPolicyInvalid, "ha: recovery policy missing a mapping for one or more failure types")
	}
	return p, nil
}

// IsComplete reports whether every FailureType in AllFailureTypes has a
// mapped RecoveryAction.
func (p *RecoveryPolicy) IsComplete() bool {
	for _, ft := range AllFailureTypes {
		if _, ok := p.Policies[ft]; !ok {
			return false
		}
	}
	return true
}

// ActionFor looks up the action mapped to ft.
func (p *RecoveryPolicy) ActionFor(ft FailureType) (RecoveryAction, bool) {
	a, ok := p.Policies[ft]
	return a, ok
}

// FailoverPolicy governs restart budgeting for a single supervised process.
type FailoverPolicy struct {
	ProcessName           string        `mapstructure:"process_name"`
	HealthCheckIntervalMS int           `mapstructure:"health_check_interval_ms"`
	HealthCheckTimeoutMS  int           `mapstructure:"health_check_timeout_ms"`
	FailureThreshold      int           `mapstructure:"failure_threshold"`
	RestartDelayMS        int           `mapstructure:"restart_delay_ms"`
	MaxRestartCount       int           `mapstructure:"max_restart_count"`
	RestartWindowSec      int           `mapstructure:"restart_window_sec"`
	EnableStateRecovery   bool          `mapstructure:"enable_state_recovery"`
	CheckpointIntervalSec int           `mapstructure:"checkpoint_interval_sec"`
}

// Validate enforces the policy's structural invariants.
func (p FailoverPolicy) Validate() error {
	if p.HealthCheckTimeoutMS >= p.HealthCheckIntervalMS {
		return rterrors.Wrap(rterrors.ErrPolicyInvalid, "ha: health_check_timeout_ms must be < health_check_interval_ms")
	}
	if p.FailureThreshold < 1 {
		return rterrors.Wrap(rterrors.ErrPolicyInvalid, "ha: failure_threshold must be >= 1")
	}
	if p.MaxRestartCount < 1 {
		return rterrors.Wrap(rterrors.ErrPolicyInvalid, "ha: max_restart_count must be >= 1")
	}
	return nil
}

// RestartWindow returns the restart window as a time.Duration.
func (p FailoverPolicy) RestartWindow() time.Duration {
	return time.Duration(p.RestartWindowSec) * time.Second
}

// RestartDelay returns the restart delay as a time.Duration.
func (p FailoverPolicy) RestartDelay() time.Duration {
	return time.Duration(p.RestartDelayMS) * time.Millisecond
}
