package ha

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRecoveryPolicyValid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recovery.yaml")
	content := `
max_recovery_attempts: 3
policies:
  RT_PROCESS_CRASH: RESTART_RT_PROCESS
  DEADLINE_MISS_CONSECUTIVE: ENTER_SAFE_MODE
  ETHERCAT_COMM_FAILURE: ENTER_SAFE_MODE
  SENSOR_FAILURE: NOTIFY_AND_WAIT
  MOTOR_OVERCURRENT: ENTER_SAFE_MODE
  DATASTORE_CORRUPTION: NOTIFY_AND_WAIT
  MEMORY_EXHAUSTION: SHUTDOWN_SYSTEM
  UNKNOWN: NOTIFY_AND_WAIT
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	policy, err := LoadRecoveryPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, 3, policy.MaxRecoveryAttempts)
	action, ok := policy.ActionFor(FailureMotorOvercurrent)
	require.True(t, ok)
	assert.Equal(t, ActionEnterSafeMode, action)
}

func TestLoadRecoveryPolicyRejectsIncompleteMapping(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recovery.yaml")
	content := `
max_recovery_attempts: 3
policies:
  RT_PROCESS_CRASH: RESTART_RT_PROCESS
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := LoadRecoveryPolicy(path)
	require.Error(t, err)
}

func TestLoadRecoveryPolicyRejectsZeroMaxAttempts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recovery.yaml")
	content := "max_recovery_attempts: 0\npolicies: {}\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := LoadRecoveryPolicy(path)
	require.Error(t, err)
}

func TestFailoverPolicyValidate(t *testing.T) {
	good := FailoverPolicy{
		HealthCheckIntervalMS: 1000,
		HealthCheckTimeoutMS:  200,
		FailureThreshold:      3,
		MaxRestartCount:       5,
		RestartWindowSec:      60,
	}
	assert.NoError(t, good.Validate())

	bad := good
	bad.HealthCheckTimeoutMS = 2000
	assert.Error(t, bad.Validate())
}
