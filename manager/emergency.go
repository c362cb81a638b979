package manager

import (
	"golang.org/x/sys/unix"

	"github.com/sysmaster-go/sysmaster/types"
	"github.com/sysmaster-go/sysmaster/unit"
)

// RuntimeState is the process-wide state a *Force emergency action leaves
// for the main loop to consume.
type RuntimeState int

const (
	RuntimeStateRunning RuntimeState = iota
	RuntimeStateRebootForce
	RuntimeStatePoweroffForce
	RuntimeStateExitForce
)

func (s RuntimeState) String() string {
	switch s {
	case RuntimeStateRebootForce:
		return "reboot-force"
	case RuntimeStatePoweroffForce:
		return "poweroff-force"
	case RuntimeStateExitForce:
		return "exit-force"
	default:
		return "running"
	}
}

// State returns the current process-wide state for cmd/sysmaster's main
// loop to poll after each iteration.
func (m *Manager) State() RuntimeState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// targetForAction names the target unit a non-Force action starts through
// the job engine, matching sysvinit-style target naming.
var targetForAction = map[types.EmergencyAction]types.UnitId{
	types.EmergencyActionReboot:   "reboot.target",
	types.EmergencyActionPoweroff: "poweroff.target",
	types.EmergencyActionExit:     "exit.target",
}

// Dispatch implements job.EmergencyDispatcher (JobTimeoutAction,
// StartLimitAction) and is also called directly by onStateChange for
// FailureAction/SuccessAction. While
// a daemon-reload is in progress (BeginReload has been called without a
// matching EndReload) dispatch is queued rather than acted on immediately,
// per DESIGN.md's resolution of the "emergency action during reload" open
// question: a reload temporarily invalidates unit state, so any action it
// would trigger is deferred and replayed once the new configuration is in
// place.
func (m *Manager) Dispatch(unit types.UnitId, action types.EmergencyAction) {
	if action == types.EmergencyActionNone {
		return
	}

	m.mu.Lock()
	if m.reloading {
		m.queued = append(m.queued, queuedAction{unit: unit, action: action})
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.dispatchNow(unit, action)
}

func (m *Manager) dispatchNow(unit types.UnitId, action types.EmergencyAction) {
	if m.notifier != nil {
		m.notifier.NotifyEmergency(unit, action)
	}
	if m.log != nil {
		m.log.Info("emergency action", map[string]any{"unit": string(unit), "action": action.String()})
	}

	switch action {
	case types.EmergencyActionNone:
		return
	case types.EmergencyActionReboot, types.EmergencyActionPoweroff, types.EmergencyActionExit:
		target, ok := targetForAction[action]
		if !ok {
			return
		}
		if u, found := m.resolveUnit(target); found {
			if u.CurrentActiveState().IsActiveLike() {
				return
			}
			if _, pending := m.jobs.JobFor(target); pending {
				return
			}
		}
		if _, err := m.jobs.Admit(types.JobConf{Target: target, Kind: types.JobStart}, types.JobModeReplace); err != nil && m.log != nil {
			m.log.Error("failed to start emergency target", map[string]any{"target": string(target), "err": err.Error()})
		}
	case types.EmergencyActionRebootForce:
		m.setState(RuntimeStateRebootForce)
	case types.EmergencyActionPoweroffForce:
		m.setState(RuntimeStatePoweroffForce)
	case types.EmergencyActionExitForce:
		m.setState(RuntimeStateExitForce)
	case types.EmergencyActionRebootImmediate:
		unix.Sync()
		_ = unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART)
	case types.EmergencyActionPoweroffImmediate:
		unix.Sync()
		_ = unix.Reboot(unix.LINUX_REBOOT_CMD_POWER_OFF)
	}
}

func (m *Manager) setState(s RuntimeState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// BeginReload marks a daemon-reload in progress, queuing emergency-action
// dispatch until EndReload.
func (m *Manager) BeginReload() {
	m.mu.Lock()
	m.reloading = true
	m.mu.Unlock()
}

// EndReload clears the reload flag and replays any dispatch queued while it
// was set, oldest first.
func (m *Manager) EndReload() {
	m.mu.Lock()
	m.reloading = false
	queued := m.queued
	m.queued = nil
	m.mu.Unlock()

	for _, q := range queued {
		m.dispatchNow(q.unit, q.action)
	}
}

// onStateChange is the state-bus callback bound into every unit this
// manager creates via unit.WithNotify: forward to try_finish, dispatch
// Failure/Success actions on the relevant transitions, then re-trigger
// every unit related via UnitAtomTriggeredBy.
func (m *Manager) onStateChange(ev unit.StateChangeEvent) {
	m.jobs.TryFinish(ev.Unit, ev.Old, ev.New)

	if m.notifier != nil {
		m.notifier.NotifyUnitState(ev.Unit, ev.Old, ev.New)
	}

	u, ok := m.resolveUnit(ev.Unit)
	if !ok {
		return
	}

	if ev.New == types.ActiveStateFailed && ev.Old != types.ActiveStateFailed {
		m.Dispatch(ev.Unit, u.FailureAction())
	}
	if ev.New == types.ActiveStateInactive && ev.Old != types.ActiveStateInactive && ev.Old != types.ActiveStateFailed {
		m.Dispatch(ev.Unit, u.SuccessAction())
	}

	for _, triggered := range m.db.DepGetsAtom(ev.Unit, types.UnitAtomTriggeredBy) {
		if _, err := m.jobs.Admit(types.JobConf{Target: triggered, Kind: types.JobStart}, types.JobModeReplace); err != nil && m.log != nil {
			m.log.Warn("failed to re-trigger unit", map[string]any{"unit": string(triggered), "err": err.Error()})
		}
	}
}
