// Package config loads the JSON/YAML policy and configuration files that
// parameterize the runtime's process-level managers: failover policy,
// CPU affinity, NUMA binding, and the cyclic executive's schedule
// definition. Structured decoding goes through viper's mapstructure path;
// the recovery policy file is YAML and is handled directly by
// internal/ha.LoadRecoveryPolicy, which needs strict unknown-key
// rejection that viper's own codec does not offer.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/fenwick-robotics/rtstack/internal/ha"
	"github.com/fenwick-robotics/rtstack/internal/rterrors"
	"github.com/fenwick-robotics/rtstack/internal/rtperf"
)

// ScheduleDefinition is the JSON shape of a cyclic executive's action
// periods, loaded ahead of calling sched.CalculateSchedule.
type ScheduleDefinition struct {
	Actions []ActionPeriod `mapstructure:"actions"`
}

// ActionPeriod names one registered action, its period in milliseconds,
// and its worst-case execution time for utilization validation.
type ActionPeriod struct {
	Name     string  `mapstructure:"name"`
	PeriodMS int     `mapstructure:"period_ms"`
	WCETMS   float64 `mapstructure:"wcet_ms"`
}

// Periods extracts the bare period list for sched.CalculateSchedule.
func (d ScheduleDefinition) Periods() []int {
	periods := make([]int, len(d.Actions))
	for i, a := range d.Actions {
		periods[i] = a.PeriodMS
	}
	return periods
}

// WCETs extracts the worst-case execution times, aligned with Periods(),
// for sched.ValidateUtilization.
func (d ScheduleDefinition) WCETs() []float64 {
	wcets := make([]float64, len(d.Actions))
	for i, a := range d.Actions {
		wcets[i] = a.WCETMS
	}
	return wcets
}

// newViper returns a viper instance scoped to a single config file, never
// touching environment variables or the process's working-directory
// defaults — every config file path here is supplied explicitly by the
// CLI entrypoint.
func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	return v
}

func readAndUnmarshal(path string, out interface{}) error {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return rterrors.Wrap(rterrors.ErrTransientIO, fmt.Sprintf("config: read %s: %v", path, err))
	}
	if err := v.Unmarshal(out); err != nil {
		return rterrors.Wrap(rterrors.ErrPolicyInvalid, fmt.Sprintf("config: decode %s: %v", path, err))
	}
	return nil
}

// LoadFailoverPolicy reads a JSON failover policy file.
func LoadFailoverPolicy(path string) (ha.FailoverPolicy, error) {
	var p ha.FailoverPolicy
	if err := readAndUnmarshal(path, &p); err != nil {
		return p, err
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// LoadAffinityConfig reads a JSON CPU affinity / scheduling policy file.
func LoadAffinityConfig(path string) (rtperf.AffinityConfig, error) {
	var raw struct {
		ProcessName   string `mapstructure:"process_name"`
		ThreadName    string `mapstructure:"thread_name"`
		CPUCores      []int  `mapstructure:"cpu_cores"`
		IsolationMode string `mapstructure:"isolation_mode"`
		IsExclusive   bool   `mapstructure:"is_exclusive"`
		Priority      int    `mapstructure:"priority"`
		Policy        string `mapstructure:"policy"`
	}
	cfg := rtperf.DefaultAffinityConfig()
	if err := readAndUnmarshal(path, &raw); err != nil {
		return cfg, err
	}
	cfg.ProcessName = raw.ProcessName
	cfg.ThreadName = raw.ThreadName
	cfg.CPUCores = raw.CPUCores
	cfg.IsExclusive = raw.IsExclusive
	if raw.Priority != 0 {
		cfg.Priority = raw.Priority
	}
	cfg.IsolationMode = parseIsolationMode(raw.IsolationMode)
	cfg.Policy = parseSchedPolicy(raw.Policy)
	return cfg, nil
}

// LoadNUMAConfig reads a JSON NUMA binding configuration file.
func LoadNUMAConfig(path string) (rtperf.NUMAConfig, error) {
	var raw struct {
		ProcessName   string `mapstructure:"process_name"`
		NUMANode      int    `mapstructure:"numa_node"`
		MemoryPolicy  string `mapstructure:"memory_policy"`
		StrictBinding bool   `mapstructure:"strict_binding"`
		MigratePages  bool   `mapstructure:"migrate_pages"`
		CPUCoresHint  []int  `mapstructure:"cpu_cores_hint"`
	}
	cfg := rtperf.DefaultNUMAConfig()
	if err := readAndUnmarshal(path, &raw); err != nil {
		return cfg, err
	}
	cfg.ProcessName = raw.ProcessName
	cfg.NUMANode = raw.NUMANode
	cfg.StrictBinding = raw.StrictBinding
	cfg.MigratePages = raw.MigratePages
	cfg.CPUCoresHint = raw.CPUCoresHint
	if raw.MemoryPolicy != "" {
		cfg.MemoryPolicy = parseMemoryPolicy(raw.MemoryPolicy)
	}
	return cfg, nil
}

// LoadScheduleDefinition reads a JSON schedule definition file.
func LoadScheduleDefinition(path string) (ScheduleDefinition, error) {
	var d ScheduleDefinition
	err := readAndUnmarshal(path, &d)
	return d, err
}

func parseIsolationMode(s string) rtperf.IsolationMode {
	switch s {
	case "ISOLCPUS":
		return rtperf.IsolationISOLCPUS
	case "CGROUPS":
		return rtperf.IsolationCGROUPS
	case "HYBRID":
		return rtperf.IsolationHybrid
	default:
		return rtperf.IsolationNone
	}
}

func parseSchedPolicy(s string) rtperf.SchedPolicy {
	switch s {
	case "FIFO":
		return rtperf.SchedFIFO
	case "RR":
		return rtperf.SchedRR
	default:
		return rtperf.SchedOther
	}
}

func parseMemoryPolicy(s string) rtperf.MemoryPolicy {
	switch s {
	case "BIND":
		return rtperf.MemoryPolicyBind
	case "PREFERRED":
		return rtperf.MemoryPolicyPreferred
	case "INTERLEAVE":
		return rtperf.MemoryPolicyInterleave
	case "LOCAL":
		return rtperf.MemoryPolicyLocal
	default:
		return rtperf.MemoryPolicyDefault
	}
}
