package rtperf

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fenwick-robotics/rtstack/internal/rterrors"
)

// MemoryPolicy mirrors the original NUMA binding's memory placement modes.
type MemoryPolicy int

const (
	MemoryPolicyDefault MemoryPolicy = iota
	MemoryPolicyBind
	MemoryPolicyPreferred
	MemoryPolicyInterleave
	MemoryPolicyLocal
)

// NUMAConfig configures NUMA-node memory binding for the RT process.
type NUMAConfig struct {
	ProcessName    string
	NUMANode       int
	MemoryPolicy   MemoryPolicy
	StrictBinding  bool
	MigratePages   bool
	CPUCoresHint   []int
}

// DefaultNUMAConfig mirrors the original's defaults (LOCAL, strict).
func DefaultNUMAConfig() NUMAConfig {
	return NUMAConfig{MemoryPolicy: MemoryPolicyLocal, StrictBinding: true}
}

// NUMABinder applies NUMA memory placement. Pure Go has no libnuma
// binding without cgo, which this repository's build avoids entirely (see
// the grounding ledger); binding is therefore advisory-only here: it
// records the intended policy and logs it, rather than issuing mbind(2).
// StrictBinding still fails fast at config-validation time when a caller
// asks for a specific node this process cannot confirm exists, since a
// silent downgrade there would violate the original's "strict means
// strict" contract even though the enforcement mechanism differs.
type NUMABinder struct {
	logger *zap.Logger
}

// NewNUMABinder constructs a binder bound to logger.
func NewNUMABinder(logger *zap.Logger) *NUMABinder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NUMABinder{logger: logger}
}

// Apply validates and (advisory-only) applies cfg.
func (n *NUMABinder) Apply(cfg NUMAConfig) error {
	if cfg.MemoryPolicy == MemoryPolicyDefault {
		return nil
	}
	if cfg.StrictBinding && !nodeExists(cfg.NUMANode) {
		return rterrors.Wrap(rterrors.ErrPolicyInvalid, fmt.Sprintf("rtperf: numa node %d unavailable (strict binding requested)", cfg.NUMANode))
	}
	n.logger.Info("numa binding recorded (advisory only; requires a libnuma-linked build to enforce)",
		zap.Int("node", cfg.NUMANode),
		zap.Int("policy", int(cfg.MemoryPolicy)),
	)
	return nil
}

// nodeExists reports whether the given NUMA node directory exists under
// sysfs. A single-node (non-NUMA) machine only has node0.
func nodeExists(node int) bool {
	if node < 0 {
		return false
	}
	path := fmt.Sprintf("/sys/devices/system/node/node%d", node)
	return pathExists(path)
}
