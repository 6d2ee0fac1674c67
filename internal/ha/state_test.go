package ha

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachineDeadlineMissEntersSafeMode(t *testing.T) {
	policy := DefaultRecoveryPolicy()
	var transitions [][2]State
	m := NewStateMachine(policy, func(from, to State) { transitions = append(transitions, [2]State{from, to}) }, func(FailureType, RecoveryAction) error { return nil })

	require.NoError(t, m.HandleFailure(FailureDeadlineMissConsecutive))
	assert.Equal(t, StateSafeMode, m.Current())
}

func TestStateMachineRepeatedFailuresEscalateToManualIntervention(t *testing.T) {
	policy := DefaultRecoveryPolicy()
	policy.MaxRecoveryAttempts = 3
	execErr := true
	m := NewStateMachine(policy, nil, func(FailureType, RecoveryAction) error {
		if execErr {
			return assertErr
		}
		return nil
	})

	// Move straight from NORMAL to RECOVERY_IN_PROGRESS, then fail recovery
	// 3 times.
	require.NoError(t, m.transitionForTest(StateRecoveryInProgress))
	for i := 0; i < 3; i++ {
		require.NoError(t, m.ReportRecoveryFailure())
	}
	assert.Equal(t, StateManualIntervention, m.Current())
}

func TestStateMachineRejectsIllegalTransition(t *testing.T) {
	policy := DefaultRecoveryPolicy()
	m := NewStateMachine(policy, nil, nil)
	err := m.transition(StateManualIntervention)
	require.Error(t, err)
}

func TestRecoveryPolicyDefaultIsComplete(t *testing.T) {
	assert.True(t, DefaultRecoveryPolicy().IsComplete())
}

func TestStateMachineMemoryExhaustionRecordsShutdownCause(t *testing.T) {
	policy := DefaultRecoveryPolicy()
	m := NewStateMachine(policy, nil, func(FailureType, RecoveryAction) error { return nil })

	require.NoError(t, m.HandleFailure(FailureMemoryExhaustion))
	assert.Equal(t, StateShutdown, m.Current())

	cause, isShutdown := m.ShutdownCause()
	assert.True(t, isShutdown)
	assert.Equal(t, FailureMemoryExhaustion, cause)
}

func TestStateMachineNoShutdownCauseWhenStillNormal(t *testing.T) {
	policy := DefaultRecoveryPolicy()
	m := NewStateMachine(policy, nil, func(FailureType, RecoveryAction) error { return nil })

	_, isShutdown := m.ShutdownCause()
	assert.False(t, isShutdown)
}

var assertErr = &testError{"recovery failed"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

// transitionForTest exposes the unexported transition helper for tests in
// the same package.
func (m *StateMachine) transitionForTest(s State) error { return m.transition(s) }
