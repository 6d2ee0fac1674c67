// Package ha implements the high-availability supervisor: a process health
// monitor, a failover controller with a bounded restart-per-window budget,
// a checkpoint store, and a state machine routing failure classes to
// recovery actions.
package ha

import "github.com/fenwick-robotics/rtstack/internal/rterrors"

// State is the supervisor's high-level operational mode.
type State int

const (
	StateNormal State = iota
	StateDegraded
	StateSafeMode
	StateRecoveryInProgress
	StateManualIntervention
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "NORMAL"
	case StateDegraded:
		return "DEGRADED"
	case StateSafeMode:
		return "SAFE_MODE"
	case StateRecoveryInProgress:
		return "RECOVERY_IN_PROGRESS"
	case StateManualIntervention:
		return "MANUAL_INTERVENTION"
	case StateShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// FailureType enumerates recoverable fault classes.
type FailureType string

const (
	FailureRTProcessCrash           FailureType = "RT_PROCESS_CRASH"
	FailureDeadlineMissConsecutive  FailureType = "DEADLINE_MISS_CONSECUTIVE"
	FailureEtherCATCommFailure      FailureType = "ETHERCAT_COMM_FAILURE"
	FailureSensorFailure            FailureType = "SENSOR_FAILURE"
	FailureMotorOvercurrent         FailureType = "MOTOR_OVERCURRENT"
	FailureDatastoreCorruption      FailureType = "DATASTORE_CORRUPTION"
	FailureMemoryExhaustion         FailureType = "MEMORY_EXHAUSTION"
	FailureUnknown                  FailureType = "UNKNOWN"
)

// AllFailureTypes lists every FailureType a complete recovery policy must
// map, used by RecoveryPolicy.IsComplete.
var AllFailureTypes = []FailureType{
	FailureRTProcessCrash,
	FailureDeadlineMissConsecutive,
	FailureEtherCATCommFailure,
	FailureSensorFailure,
	FailureMotorOvercurrent,
	FailureDatastoreCorruption,
	FailureMemoryExhaustion,
	FailureUnknown,
}

// RecoveryAction is the action the state machine takes in response to a
// FailureType.
type RecoveryAction string

const (
	ActionRestartRTProcess    RecoveryAction = "RESTART_RT_PROCESS"
	ActionEnterSafeMode       RecoveryAction = "ENTER_SAFE_MODE"
	ActionNotifyAndWait       RecoveryAction = "NOTIFY_AND_WAIT"
	ActionShutdownSystem      RecoveryAction = "SHUTDOWN_SYSTEM"
	ActionReloadConfiguration RecoveryAction = "RELOAD_CONFIGURATION"
	ActionNone                RecoveryAction = "NONE"
)

// legalTransitions enumerates every transition the state machine accepts.
var legalTransitions = map[State]map[State]bool{
	StateNormal: {
		StateDegraded:           true,
		StateRecoveryInProgress: true,
		StateSafeMode:           true,
		StateShutdown:           true,
	},
	StateDegraded: {
		StateNormal:             true,
		StateRecoveryInProgress: true,
		StateShutdown:           true,
	},
	StateSafeMode: {
		StateRecoveryInProgress: true,
		StateManualIntervention: true,
		StateShutdown:           true,
	},
	StateRecoveryInProgress: {
		StateNormal:             true,
		StateSafeMode:           true,
		StateManualIntervention: true,
		StateShutdown:           true,
	},
	StateManualIntervention: {
		StateNormal:   true,
		StateShutdown: true,
	},
	StateShutdown: {},
}

func isLegalTransition(from, to State) bool {
	if from == to {
		return true // same-state transitions are permitted no-ops
	}
	return legalTransitions[from][to]
}

// targetState applies the §4.7 targeting rules for a given failure/action
// pair.
func targetState(ft FailureType, action RecoveryAction) State {
	switch ft {
	case FailureDeadlineMissConsecutive, FailureEtherCATCommFailure, FailureMotorOvercurrent:
		return StateSafeMode
	}
	switch action {
	case ActionEnterSafeMode:
		return StateSafeMode
	case ActionRestartRTProcess, ActionReloadConfiguration:
		return StateRecoveryInProgress
	case ActionNotifyAndWait:
		return StateManualIntervention
	case ActionShutdownSystem:
		return StateShutdown
	default:
		return StateDegraded
	}
}

// StateMachine tracks the supervisor's current HA state and runs the
// recovery-action lookup/transition protocol of §4.7.
type StateMachine struct {
	policy       *RecoveryPolicy
	current      State
	previous     State
	attemptCount int
	shutdownCause FailureType

	onTransition func(from, to State)
	executeAction func(FailureType, RecoveryAction) error
}

// NewStateMachine constructs a machine starting in StateNormal.
func NewStateMachine(policy *RecoveryPolicy, onTransition func(from, to State), executeAction func(FailureType, RecoveryAction) error) *StateMachine {
	return &StateMachine{
		policy:        policy,
		current:       StateNormal,
		previous:      StateNormal,
		onTransition:  onTransition,
		executeAction: executeAction,
	}
}

// Current returns the current state.
func (m *StateMachine) Current() State { return m.current }

// AttemptCount returns the number of consecutive recovery attempts since
// the last success.
func (m *StateMachine) AttemptCount() int { return m.attemptCount }

// HandleFailure looks up ft's recovery action, executes it, and transitions
// to the resulting target state.
func (m *StateMachine) HandleFailure(ft FailureType) error {
	action, ok := m.policy.ActionFor(ft)
	if !ok {
		return rterrors.Wrapf(rterrors.ErrPolicyInvalid, "ha: no recovery action mapped for %s", ft)
	}

	var execErr error
	if m.executeAction != nil {
		execErr = m.executeAction(ft, action)
	}
	if execErr != nil {
		return m.ReportRecoveryFailure()
	}

	target := targetState(ft, action)
	if target == StateShutdown {
		m.shutdownCause = ft
	}
	return m.transition(target)
}

// ShutdownCause reports the failure type that drove the machine into
// StateShutdown, if any. The exit-code policy in cmd/missiond treats only
// FailureMemoryExhaustion and an ActionShutdownSystem-triggered shutdown
// (recorded here regardless of which failure type selected that action)
// as abnormal; every other path out of StateShutdown is a clean exit.
func (m *StateMachine) ShutdownCause() (FailureType, bool) {
	return m.shutdownCause, m.current == StateShutdown
}

// ReportRecoverySuccess resets the attempt counter and returns to NORMAL.
func (m *StateMachine) ReportRecoverySuccess() error {
	m.attemptCount = 0
	return m.transition(StateNormal)
}

// ReportRecoveryFailure increments the attempt counter; once it reaches the
// policy's max attempts, resets and escalates to MANUAL_INTERVENTION.
func (m *StateMachine) ReportRecoveryFailure() error {
	m.attemptCount++
	if m.attemptCount >= m.policy.MaxRecoveryAttempts {
		m.attemptCount = 0
		return m.transition(StateManualIntervention)
	}
	return nil
}

func (m *StateMachine) transition(target State) error {
	if !isLegalTransition(m.current, target) {
		return rterrors.Wrapf(rterrors.ErrInvalidTransition, "ha: %s -> %s not permitted", m.current, target)
	}
	from := m.current
	m.previous = m.current
	m.current = target
	if m.onTransition != nil && from != target {
		m.onTransition(from, target)
	}
	return nil
}
