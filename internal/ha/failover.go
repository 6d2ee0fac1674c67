package ha

import (
	"context"
	"os/exec"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fenwick-robotics/rtstack/internal/rterrors"
)

// restartLedgerEntry tracks one process's restart count within its current
// window.
type restartLedgerEntry struct {
	count       int
	windowStart time.Time
}

// RestartLedger tracks per-process restart counts within a fixed window that
// starts at the first recorded failure and restarts (count 0, start now) once
// it has expired.
type RestartLedger struct {
	mu      sync.Mutex
	entries map[string]*restartLedgerEntry
	clock   clock.Clock
}

// NewRestartLedger constructs an empty ledger using clk (nil selects the
// real wall clock).
func NewRestartLedger(clk clock.Clock) *RestartLedger {
	if clk == nil {
		clk = clock.New()
	}
	return &RestartLedger{entries: make(map[string]*restartLedgerEntry), clock: clk}
}

func (l *RestartLedger) entryFor(name string, window time.Duration) *restartLedgerEntry {
	now := l.clock.Now()
	e, ok := l.entries[name]
	if !ok {
		e = &restartLedgerEntry{windowStart: now}
		l.entries[name] = e
		return e
	}
	if now.Sub(e.windowStart) > window {
		e.count = 0
		e.windowStart = now
	}
	return e
}

// CanRestart reports whether name may be restarted given policy's window
// and max-restart-count.
func (l *RestartLedger) CanRestart(name string, policy FailoverPolicy) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entryFor(name, policy.RestartWindow())
	return e.count < policy.MaxRestartCount
}

// RecordRestart increments name's restart count, resetting the window
// first if it has expired.
func (l *RestartLedger) RecordRestart(name string, policy FailoverPolicy) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entryFor(name, policy.RestartWindow())
	e.count++
	return e.count
}

// Count returns name's current restart count (0 if the window has expired
// or the process has never failed).
func (l *RestartLedger) Count(name string, policy FailoverPolicy) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entryFor(name, policy.RestartWindow()).count
}

// RestartFunc spawns a replacement process, optionally passing a recovered
// checkpoint ID. It mirrors os/exec.Command(binaryPath, "--checkpoint",
// checkpointID).Start(), abstracted so tests can substitute a fake.
type RestartFunc func(checkpointID string) error

// ExecRestart builds a RestartFunc that spawns binaryPath via os/exec,
// passing the checkpoint ID (if any) as a --checkpoint flag.
func ExecRestart(binaryPath string, extraArgs ...string) RestartFunc {
	return func(checkpointID string) error {
		args := append([]string(nil), extraArgs...)
		if checkpointID != "" {
			args = append(args, "--checkpoint", checkpointID)
		}
		cmd := exec.Command(binaryPath, args...)
		return cmd.Start()
	}
}

// FailoverController implements the restart-with-backoff protocol: on a
// process failure, it checks the restart ledger, sleeps the configured
// delay, optionally loads the latest checkpoint, and restarts the target —
// the same budget-and-backoff shape as a supervision tree restarting a
// crashed worker goroutine, generalized here to restarting an OS process.
type FailoverController struct {
	logger     *zap.Logger
	clock      clock.Clock
	ledger     *RestartLedger
	limiter    *rate.Limiter
	checkpoint *CheckpointStore
	restart    RestartFunc
	audit      *AuditLog
}

// DefaultRestartRateLimit caps restart attempts across all supervised
// processes combined, independent of each process's own per-name budget
// in RestartLedger. It exists for the case a whole fleet of processes
// fails together (e.g. a shared dependency like the bridge region going
// away): without it, RestartLedger's per-name window lets every one of
// them restart at once.
const DefaultRestartRateLimit = rate.Limit(2) // restarts/sec, fleet-wide

// DefaultRestartBurst is the token bucket size paired with
// DefaultRestartRateLimit.
const DefaultRestartBurst = 3

// NewFailoverController constructs a controller. checkpoint may be nil if
// state recovery is never enabled by any policy. limiter may be nil to
// use DefaultRestartRateLimit/DefaultRestartBurst.
func NewFailoverController(logger *zap.Logger, clk clock.Clock, ledger *RestartLedger, limiter *rate.Limiter, checkpoint *CheckpointStore, restart RestartFunc, audit *AuditLog) *FailoverController {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}
	if limiter == nil {
		limiter = rate.NewLimiter(DefaultRestartRateLimit, DefaultRestartBurst)
	}
	return &FailoverController{logger: logger, clock: clk, ledger: ledger, limiter: limiter, checkpoint: checkpoint, restart: restart, audit: audit}
}

// HandleProcessFailure is the controller's single entry point: abandon
// (log + audit) if the restart budget is exhausted, otherwise run
// TriggerRestart.
func (c *FailoverController) HandleProcessFailure(ctx context.Context, name string, policy FailoverPolicy) error {
	if !c.ledger.CanRestart(name, policy) {
		c.logger.Error("restart budget exhausted, abandoning process", zap.String("process", name))
		if c.audit != nil {
			c.audit.Append(AuditEntry{Actor: "failover", Action: "abandon", Subject: name, Outcome: "restart_budget_exhausted"})
		}
		return rterrors.Wrapf(rterrors.ErrCapacityExceeded, "ha: restart budget exhausted for %s", name)
	}
	return c.TriggerRestart(ctx, name, policy)
}

// TriggerRestart runs the restart sequence: ledger update, delay, optional
// checkpoint recovery, then spawn.
func (c *FailoverController) TriggerRestart(ctx context.Context, name string, policy FailoverPolicy) error {
	count := c.ledger.RecordRestart(name, policy)
	c.logger.Warn("restarting process", zap.String("process", name), zap.Int("attempt", count))

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	select {
	case <-c.clock.After(policy.RestartDelay()):
	case <-ctx.Done():
		return ctx.Err()
	}

	checkpointID := ""
	if policy.EnableStateRecovery && c.checkpoint != nil {
		ids, err := c.checkpoint.List()
		if err != nil {
			c.logger.Warn("listing checkpoints failed, restarting without state", zap.Error(err))
		} else if len(ids) > 0 {
			checkpointID = ids[len(ids)-1] // most recent, List returns oldest-first
		}
	}

	if c.restart != nil {
		if err := c.restart(checkpointID); err != nil {
			return rterrors.Wrap(rterrors.ErrTransientIO, "ha: restart spawn failed: "+err.Error())
		}
	}
	if c.audit != nil {
		c.audit.Append(AuditEntry{Actor: "failover", Action: "restart", Subject: name, Outcome: "ok", Detail: checkpointID})
	}
	return nil
}
