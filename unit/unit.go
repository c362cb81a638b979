// Package unit implements the Unit aggregate: the precondition ladder
// guarding load/start/stop/reload, main/control pid bookkeeping, kill
// sequencing, and the start-rate limiter. It is deliberately independent of
// how a concrete unit kind behaves internally; that lives behind the
// SubUnit interface so package subunit can depend on unit without a cycle.
package unit

import (
	"fmt"
	"time"

	"github.com/sysmaster-go/sysmaster/errs"
	"github.com/sysmaster-go/sysmaster/log"
	"github.com/sysmaster-go/sysmaster/metrics"
	"github.com/sysmaster-go/sysmaster/types"
)

// StateChangeEvent is published to the state bus whenever a unit's
// ActiveState transitions.
type StateChangeEvent struct {
	Unit     types.UnitId
	Old      types.ActiveState
	New      types.ActiveState
	Reason   string
	Time     time.Time
}

// NotifyFunc receives state-change events. A nil func is a no-op sink.
type NotifyFunc func(StateChangeEvent)

// Unit is the load/start/stop/reload aggregate for one unit id. Mutation
// methods are not internally synchronized beyond what SubUnit itself
// guarantees; callers (the job engine) serialize access per unit by
// construction.
type Unit struct {
	id       types.UnitId
	unitType types.UnitType

	loadState types.LoadState

	sub SubUnit

	conditions []types.Condition
	asserts    []types.Assert

	emergency types.EmergencyActions

	killCtx KillContext

	mainPID    int
	controlPID int
	db         PidStore

	defaultDependencies bool
	ignoreOnIsolate     bool
	refuseManualStart   bool
	refuseManualStop    bool

	limiter *startLimit

	notify NotifyFunc

	log     *log.Logger
	metrics *metrics.Collector
}

// Option configures a Unit at construction time.
type Option func(*Unit)

// WithConditions sets the conditions evaluated before each manual start.
func WithConditions(conds []types.Condition) Option {
	return func(u *Unit) { u.conditions = conds }
}

// WithAsserts sets the asserts evaluated before each manual start.
func WithAsserts(asserts []types.Assert) Option {
	return func(u *Unit) { u.asserts = asserts }
}

// WithEmergencyActions sets the unit's Success/Failure/StartLimit/JobTimeout
// actions.
func WithEmergencyActions(a types.EmergencyActions) Option {
	return func(u *Unit) { u.emergency = a }
}

// WithKillContext sets the unit's kill signal configuration.
func WithKillContext(kc KillContext) Option {
	return func(u *Unit) { u.killCtx = kc }
}

// WithStartLimit sets the start-rate limiter's interval/burst.
func WithStartLimit(interval time.Duration, burst uint32) Option {
	return func(u *Unit) { u.limiter.initFromConfig(interval, burst) }
}

// WithDefaultDependencies sets whether the loader should add the unit's
// implicit default-target dependencies.
func WithDefaultDependencies(v bool) Option {
	return func(u *Unit) { u.defaultDependencies = v }
}

// WithRefuseManual sets whether a manually-requested start and/or stop is
// rejected with ERefuseManualStart/ERefuseManualStop, leaving dependency-
// driven starts/stops unaffected.
func WithRefuseManual(start, stop bool) Option {
	return func(u *Unit) { u.refuseManualStart = start; u.refuseManualStop = stop }
}

// WithNotify sets the state-bus publish function.
func WithNotify(fn NotifyFunc) Option {
	return func(u *Unit) { u.notify = fn }
}

// WithLogger attaches a unit-scoped logger.
func WithLogger(l *log.Logger) Option {
	return func(u *Unit) {
		if l != nil {
			u.log = l.WithUnit(string(u.id))
		}
	}
}

// WithMetrics attaches a metrics collector (nil-safe).
func WithMetrics(c *metrics.Collector) Option {
	return func(u *Unit) { u.metrics = c }
}

// WithPidStore binds the unitdb pid index SetMainPid/SetControlPid write
// through to.
func WithPidStore(db PidStore) Option {
	return func(u *Unit) { u.db = db }
}

// New constructs a Unit bound to sub, which implements its type-specific
// behavior. loadState starts at LoadStateStub until LoadUnit runs.
func New(id types.UnitId, unitType types.UnitType, sub SubUnit, opts ...Option) *Unit {
	u := &Unit{
		id:        id,
		unitType:  unitType,
		loadState: types.LoadStateStub,
		sub:       sub,
		limiter:   newStartLimit(),
	}
	for _, opt := range opts {
		opt(u)
	}
	sub.AttachUnit(u)
	return u
}

// ID implements unitdb.Entry.
func (u *Unit) ID() types.UnitId { return u.id }

// Type implements unitdb.Entry.
func (u *Unit) Type() types.UnitType { return u.unitType }

// LoadState returns the unit's current load state.
func (u *Unit) LoadState() types.LoadState { return u.loadState }

// CurrentActiveState delegates to the sub-unit's state machine.
func (u *Unit) CurrentActiveState() types.ActiveState { return u.sub.CurrentActiveState() }

// SubState delegates to the sub-unit.
func (u *Unit) SubState() string { return u.sub.SubState() }

// LoadUnit parses the unit's fragment (if any) and runs the sub-unit's own
// Load. Mount units have no fragment and are marked Loaded
// unconditionally.
func (u *Unit) LoadUnit(fragmentPaths []string) error {
	if u.unitType == types.UnitTypeMount {
		u.loadState = types.LoadStateLoaded
		return nil
	}
	if err := u.sub.Load(fragmentPaths); err != nil {
		u.loadState = types.LoadStateNotFound
		return errs.Wrap(errs.KindLoad, "unit.LoadUnit", string(u.id), err)
	}
	u.loadState = types.LoadStateLoaded
	if u.metrics != nil {
		u.metrics.IncUnitsLoaded()
	}
	return nil
}

// LoadComplete reports whether the load state has left the transient
// Stub/Merged phase.
func (u *Unit) LoadComplete() bool {
	return u.loadState != types.LoadStateStub && u.loadState != types.LoadStateMerged
}

// ValidateLoadState turns a non-Loaded load state into the matching *errs.Error.
func (u *Unit) ValidateLoadState() error {
	if u.loadState == types.LoadStateLoaded {
		return nil
	}
	return errs.LoadError("unit.ValidateLoadState", string(u.id), u.loadState)
}

// Start runs the EAlready/EAgain/EInval precondition ladder and, if it
// passes, delegates to the sub-unit.
func (u *Unit) Start() error {
	active := u.CurrentActiveState()

	if active.IsActiveLike() {
		return errs.New(errs.KindAlready, "unit.Start", string(u.id))
	}
	if active == types.ActiveStateMaintenance {
		return errs.New(errs.KindAgain, "unit.Start", string(u.id))
	}
	if u.loadState != types.LoadStateLoaded {
		return errs.LoadError("unit.Start", string(u.id), u.loadState)
	}
	if active != types.ActiveStateActivating {
		if ok, name, err := types.Evaluate(u.conditions); err != nil {
			return errs.Wrap(errs.KindInval, "unit.Start", string(u.id), err)
		} else if !ok {
			if u.log != nil {
				u.log.Warn("condition failed", map[string]any{"condition": name})
			}
			return errs.New(errs.KindInval, "unit.Start", string(u.id))
		}
		if ok, name, err := types.EvaluateAsserts(u.asserts); err != nil {
			return errs.Wrap(errs.KindInval, "unit.Start", string(u.id), err)
		} else if !ok {
			if u.log != nil {
				u.log.Warn("assert failed", map[string]any{"assert": name})
			}
			return errs.New(errs.KindInval, "unit.Start", string(u.id))
		}
	}

	if !u.testStartLimit(time.Now()) {
		return errs.New(errs.KindBusy, "unit.Start", string(u.id))
	}

	return u.sub.Start()
}

// Stop runs stop's EAlready precondition (skipped when force is set) and
// delegates to the sub-unit.
func (u *Unit) Stop(force bool) error {
	if !force && u.CurrentActiveState().IsInactiveLike() {
		return errs.New(errs.KindAlready, "unit.Stop", string(u.id))
	}
	return u.sub.Stop(force)
}

// Reload runs reload's CanReload/EAgain/ENoExec precondition ladder. A
// sub-unit that returns errs.ErrOpNotSupp from Reload is treated as a
// successful no-op.
func (u *Unit) Reload() error {
	if !u.sub.CanReload() {
		return errs.New(errs.KindBadR, "unit.Reload", string(u.id))
	}

	active := u.CurrentActiveState()
	if active == types.ActiveStateReloading {
		return errs.New(errs.KindAgain, "unit.Reload", string(u.id))
	}
	if active != types.ActiveStateActive {
		return errs.New(errs.KindNoExec, "unit.Reload", string(u.id))
	}

	err := u.sub.Reload()
	if err == nil {
		return nil
	}
	if e, ok := errs.As(err); ok && e.Kind == errs.KindOpNotSupp {
		u.Notify(active, active, "reload-not-supported")
		return nil
	}
	return err
}

// testStartLimit records a start attempt and reports whether the unit is
// still below its configured burst.
func (u *Unit) testStartLimit(now time.Time) bool {
	below := u.limiter.ratelimitBelow(now)
	u.limiter.setHit(!below)
	if !below && u.metrics != nil {
		u.metrics.IncStartLimitHits()
	}
	return below
}

// StartLimitHit reports the most recent testStartLimit outcome.
func (u *Unit) StartLimitHit() bool { return u.limiter.isHit() }

// SetMainPid binds pid as the unit's main process. Any previously bound
// main pid is unwatched before the new one is set, so the pid store's
// watch binding is never ambiguous between an old and a new main pid.
func (u *Unit) SetMainPid(pid int) error {
	if u.mainPID != 0 && u.mainPID != pid {
		u.db.ChildUnwatchPid(u.id, u.mainPID)
	}
	if err := u.db.ChildAddWatchPid(u.id, pid); err != nil {
		return errs.Wrap(errs.KindSpawn, "unit.SetMainPid", string(u.id), err)
	}
	u.mainPID = pid
	return nil
}

// UnsetMainPid clears the main-pid binding.
func (u *Unit) UnsetMainPid() {
	if u.mainPID == 0 {
		return
	}
	u.db.ChildUnwatchPid(u.id, u.mainPID)
	u.mainPID = 0
}

// SetControlPid binds the unit's currently-running control process
// (ExecStop/ExecReload), distinct from MainPID per service_pid.rs.
func (u *Unit) SetControlPid(pid int) error {
	if u.controlPID != 0 && u.controlPID != pid {
		u.db.ChildUnwatchPid(u.id, u.controlPID)
	}
	if err := u.db.ChildAddWatchPid(u.id, pid); err != nil {
		return errs.Wrap(errs.KindSpawn, "unit.SetControlPid", string(u.id), err)
	}
	u.controlPID = pid
	return nil
}

// UnsetControlPid clears the control-pid binding.
func (u *Unit) UnsetControlPid() {
	if u.controlPID == 0 {
		return
	}
	u.db.ChildUnwatchPid(u.id, u.controlPID)
	u.controlPID = 0
}

// MainPid returns the bound main pid, or 0 if none.
func (u *Unit) MainPid() int { return u.mainPID }

// ControlPid returns the bound control pid, or 0 if none.
func (u *Unit) ControlPid() int { return u.controlPID }

// PidStore is the slice of *unitdb.Store that SetMainPid/SetControlPid
// need; declared here instead of imported to keep unit free of a dependency
// on unitdb's concrete type (unit only needs this one capability, and
// subunit kinds reach it through the Unit they're attached to).
type PidStore interface {
	ChildAddWatchPid(id types.UnitId, pid int) error
	ChildUnwatchPid(id types.UnitId, pid int)
}

// GuessMainPid scans pids (the unit's cgroup membership, supplied by an
// external collaborator since cgroup primitives are out of scope here)
// for the first one that is a direct child of this process. isChild is
// injected so tests don't need real process trees.
func GuessMainPid(pids []int, isChild func(pid int) bool) (int, error) {
	if len(pids) == 0 {
		return 0, fmt.Errorf("unit: cgroup has no pids, cannot guess main pid")
	}
	for _, pid := range pids {
		if isChild(pid) {
			return pid, nil
		}
	}
	return 0, fmt.Errorf("unit: no cgroup pid is a direct child")
}

// Notify records an ActiveState transition and publishes it to the state
// bus.
func (u *Unit) Notify(old, next types.ActiveState, reason string) {
	if old == next {
		return
	}
	if u.log != nil {
		u.log.Info("state change", map[string]any{"old": old.String(), "new": next.String(), "reason": reason})
	}
	if next == types.ActiveStateFailed && u.metrics != nil {
		u.metrics.IncUnitsFailed()
	}
	if u.notify != nil {
		u.notify(StateChangeEvent{Unit: u.id, Old: old, New: next, Reason: reason, Time: time.Now()})
	}
}

// SuccessAction returns the emergency action to take when the unit
// completes successfully.
func (u *Unit) SuccessAction() types.EmergencyAction { return u.emergency.Success }

// FailureAction returns the emergency action to take on failure.
func (u *Unit) FailureAction() types.EmergencyAction { return u.emergency.Failure }

// StartLimitAction returns the emergency action to take when the start
// rate limit is hit.
func (u *Unit) StartLimitAction() types.EmergencyAction { return u.emergency.StartLimit }

// JobTimeoutAction returns the emergency action to take when a job against
// this unit times out.
func (u *Unit) JobTimeoutAction() types.EmergencyAction { return u.emergency.JobTimeout }

// RefuseManualStart reports whether a manual (is_manual=true) start request
// must be rejected with ERefuseManualStart. Dependency-driven starts ignore
// this.
func (u *Unit) RefuseManualStart() bool { return u.refuseManualStart }

// RefuseManualStop reports whether a manual stop request must be rejected
// with ERefuseManualStop.
func (u *Unit) RefuseManualStop() bool { return u.refuseManualStop }

// DefaultDependencies reports whether the loader should add this unit's
// implicit dependencies on the default target.
func (u *Unit) DefaultDependencies() bool { return u.defaultDependencies }

// IgnoreOnIsolate reports whether an isolate job should leave this unit
// running instead of stopping it.
func (u *Unit) IgnoreOnIsolate() bool { return u.ignoreOnIsolate }

// SetIgnoreOnIsolate updates IgnoreOnIsolate.
func (u *Unit) SetIgnoreOnIsolate(v bool) { u.ignoreOnIsolate = v }

// Perpetual delegates to the sub-unit.
func (u *Unit) Perpetual() bool { return u.sub.Perpetual() }

// KillContext returns the unit's configured kill signal set.
func (u *Unit) KillContext() KillContext { return u.killCtx }

// KillMain sends op's signal to the unit's current main and control pids.
func (u *Unit) KillMain(op KillOperation) []error {
	return Kill(u.killCtx, u.mainPID, u.controlPID, op)
}

// SigchldEvent forwards a reaped child's exit status to the sub-unit.
func (u *Unit) SigchldEvent(pid, exitCode int, signaled bool) {
	u.sub.SigchldEvent(pid, exitCode, signaled)
}

// NotifyMessage forwards a parsed sd_notify datagram to the sub-unit.
func (u *Unit) NotifyMessage(creds types.NotifyCreds, kv map[string]string, fds []int) error {
	if u.metrics != nil {
		u.metrics.IncNotifyMessages()
	}
	return u.sub.NotifyMessage(creds, kv, fds)
}

// ColdplugEntry reconnects the sub-unit's external resources after journal
// replay.
func (u *Unit) ColdplugEntry() { u.sub.ColdplugEntry() }

// ClearEntry releases the sub-unit's external resources, mirroring
// ColdplugEntry.
func (u *Unit) ClearEntry() { u.sub.ClearEntry() }
