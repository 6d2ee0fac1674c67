package sched

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fenwick-robotics/rtstack/internal/rterrors"
	"github.com/fenwick-robotics/rtstack/internal/rtperf"
	"github.com/fenwick-robotics/rtstack/internal/store"
)

// Action is a single periodic callback. Ctx carries the current slot index
// and the absolute cycle-start time; actions must not allocate and must not
// block.
type Action struct {
	Name     string
	PeriodMS int
	Phase    int // slot offset within the action's period
	Run      func(ActionContext)
}

// ActionContext is passed to every action invocation. DataStore is the
// write-through hot-key store actions use to publish data the Non-RT
// process must observe; it is nil only if the executive was constructed
// without one.
type ActionContext struct {
	Slot       int
	CycleStart time.Time
	DataStore  *store.Store
}

// Executive runs a fixed set of periodic actions on a minor/major frame.
type Executive struct {
	logger    *zap.Logger
	monitor   *rtperf.Monitor
	dataStore *store.Store
	schedule  Schedule
	actions   []registeredAction
	stopped   atomic.Bool
	mu        sync.Mutex
}

type registeredAction struct {
	action       Action
	everySlots   int // PeriodMS / minor cycle
	phaseInSlots int
}

// NewExecutive constructs an executive. dataStore is handed to every action
// via ActionContext; pass nil if no action in this process needs it.
// Actions are registered with RegisterAction before CreateFromPeriods/Run.
func NewExecutive(logger *zap.Logger, monitor *rtperf.Monitor, dataStore *store.Store) *Executive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executive{logger: logger, monitor: monitor, dataStore: dataStore}
}

// RegisterAction adds a to the executive's action set. Fails if a's period
// is not a multiple of the already-derived minor cycle (call after
// CreateFromPeriods, or call CreateFromPeriods again to re-derive).
func (e *Executive) RegisterAction(a Action) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.schedule.MinorCycleMS != 0 && a.PeriodMS%e.schedule.MinorCycleMS != 0 {
		return rterrors.Wrap(rterrors.ErrPolicyInvalid, "sched: action period not a multiple of minor cycle")
	}
	e.actions = append(e.actions, registeredAction{action: a})
	return nil
}

// CreateFromPeriods derives the schedule from every registered action's
// period and fixes each action's slot cadence.
func (e *Executive) CreateFromPeriods() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	periods := make([]int, len(e.actions))
	for i, ra := range e.actions {
		periods[i] = ra.action.PeriodMS
	}
	sched, err := CalculateSchedule(periods)
	if err != nil {
		return err
	}
	e.schedule = sched
	for i := range e.actions {
		e.actions[i].everySlots = e.actions[i].action.PeriodMS / sched.MinorCycleMS
		e.actions[i].phaseInSlots = e.actions[i].action.Phase % e.actions[i].everySlots
	}
	return nil
}

// Schedule returns the derived schedule.
func (e *Executive) Schedule() Schedule { return e.schedule }

// Run enters the main cyclic loop. It blocks until ctx is cancelled or Stop
// is called. next_ns is computed from the previous target, not from
// time.Now(), so drift does not accumulate. After an overrun longer than
// one minor cycle, the overdue cycles run back to back until the schedule
// is met again.
func (e *Executive) Run(ctx context.Context) error {
	if e.schedule.MinorCycleMS == 0 {
		if err := e.CreateFromPeriods(); err != nil {
			return err
		}
	}

	minor := time.Duration(e.schedule.MinorCycleMS) * time.Millisecond
	slot := 0
	nextWakeup := time.Now()

	for {
		if e.stopped.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		cycleStart := time.Now()
		if e.monitor != nil {
			e.monitor.StartCycle()
		}

		e.runSlot(slot, cycleStart)

		if e.monitor != nil {
			missed := e.monitor.EndCycle()
			if missed {
				e.logger.Warn("deadline missed", zap.Int("slot", slot))
			}
		}

		slot = (slot + 1) % e.schedule.NumSlots
		nextWakeup = nextWakeup.Add(minor)
		sleepFor := time.Until(nextWakeup)
		if sleepFor > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleepFor):
			}
		}
		// If sleepFor <= 0 the loop proceeds immediately and nextWakeup
		// moves forward by exactly one minor cycle per iteration: no cycle
		// is skipped, and overdue cycles run without sleeping until
		// nextWakeup is in the future again.
	}
}

func (e *Executive) runSlot(slot int, cycleStart time.Time) {
	e.mu.Lock()
	actions := e.actions
	e.mu.Unlock()

	actx := ActionContext{Slot: slot, CycleStart: cycleStart, DataStore: e.dataStore}
	for _, ra := range actions {
		if ra.everySlots == 0 {
			continue
		}
		if slot%ra.everySlots != ra.phaseInSlots {
			continue
		}
		e.invoke(ra.action, actx)
	}
}

// invoke runs a single action, recovering from any panic so one
// misbehaving action never takes down the whole cyclic loop.
func (e *Executive) invoke(a Action, actx ActionContext) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("action panicked", zap.String("action", a.Name), zap.Any("recover", r))
		}
	}()
	a.Run(actx)
}

// Stop signals the loop to exit after the current slot completes.
func (e *Executive) Stop() { e.stopped.Store(true) }
