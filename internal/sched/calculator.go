// Package sched implements the cyclic executive: rate-monotonic scheduling
// of periodic actions on a major/minor frame derived from their periods.
package sched

import (
	"fmt"

	"github.com/fenwick-robotics/rtstack/internal/rterrors"
)

// MaxMajorCycleMS bounds the computed major cycle; schedules whose LCM
// exceeds this are rejected rather than silently accepted.
const MaxMajorCycleMS = 1000

// DefaultUtilizationBound is the runtime's recommended ceiling on total
// CPU utilization (Σ wcet/period) across all registered actions.
const DefaultUtilizationBound = 0.70

// Schedule describes the derived minor/major cycle for a set of periods.
type Schedule struct {
	MinorCycleMS int
	MajorCycleMS int
	NumSlots     int
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	return a / gcd(a, b) * b
}

// CalculateSchedule derives (minor, major, num_slots) from a set of
// periods. Fails if any period is zero or the resulting major cycle
// exceeds MaxMajorCycleMS.
func CalculateSchedule(periodsMS []int) (Schedule, error) {
	if len(periodsMS) == 0 {
		return Schedule{}, rterrors.Wrap(rterrors.ErrPolicyInvalid, "sched: no periods given")
	}
	minor := periodsMS[0]
	major := periodsMS[0]
	for _, p := range periodsMS {
		if p <= 0 {
			return Schedule{}, rterrors.Wrap(rterrors.ErrPolicyInvalid, fmt.Sprintf("sched: non-positive period %d", p))
		}
		minor = gcd(minor, p)
		major = lcm(major, p)
	}
	if major > MaxMajorCycleMS {
		return Schedule{}, rterrors.Wrap(rterrors.ErrCapacityExceeded, fmt.Sprintf("sched: major cycle %dms exceeds ceiling %dms", major, MaxMajorCycleMS))
	}
	return Schedule{MinorCycleMS: minor, MajorCycleMS: major, NumSlots: major / minor}, nil
}

// ValidateUtilization checks that the sum of (worst-case execution time /
// period) across all actions does not exceed the given utilization bound
// (0.70 is the runtime's recommended default). Used by the
// validate-schedule CLI tool, not by the executive itself.
func ValidateUtilization(periodsMS []int, wcetMS []float64, bound float64) error {
	if len(periodsMS) != len(wcetMS) {
		return rterrors.Wrap(rterrors.ErrPolicyInvalid, "sched: periods/wcet length mismatch")
	}
	total := 0.0
	for i, p := range periodsMS {
		if wcetMS[i] > float64(p) {
			return rterrors.Wrap(rterrors.ErrPolicyInvalid, fmt.Sprintf("sched: action %d wcet %gms exceeds period %dms", i, wcetMS[i], p))
		}
		total += wcetMS[i] / float64(p)
	}
	if total > bound {
		return rterrors.Wrap(rterrors.ErrCapacityExceeded, fmt.Sprintf("sched: utilization %.2f exceeds bound %.2f", total, bound))
	}
	return nil
}
