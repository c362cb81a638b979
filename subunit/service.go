package subunit

import (
	"github.com/sysmaster-go/sysmaster/errs"
	"github.com/sysmaster-go/sysmaster/types"
	"github.com/sysmaster-go/sysmaster/unit"
)

// ServiceType selects how Service interprets ExecStart's exit/liveness
// contract.
type ServiceType int

const (
	ServiceTypeSimple ServiceType = iota
	ServiceTypeOneshot
	ServiceTypeNotify
)

// NotifyAccess restricts which pids' sd_notify messages a Service accepts.
type NotifyAccess int

const (
	NotifyAccessNone NotifyAccess = iota
	NotifyAccessMain
	NotifyAccessAll
)

// Spawner is the execution surface Service delegates process creation to;
// package spawn's Spawner implements this structurally.
type Spawner interface {
	Spawn(cmd types.ExecCommand, params types.ExecParameters) (pid int, err error)
}

// ServiceConfig is the resolved [Service] section, already parsed by an
// external config-fragment collaborator; unit-fragment parsing itself is
// out of scope for this package.
type ServiceConfig struct {
	Type             ServiceType
	ExecStart        types.ExecCommand
	ExecStop         *types.ExecCommand
	ExecReload       *types.ExecCommand
	RemainAfterExit  bool
	NotifyAccess     NotifyAccess
	Params           types.ExecParameters
}

type serviceState int

const (
	serviceDead serviceState = iota
	serviceStartPre
	serviceRunning
	serviceStopping
	serviceFailed
)

// Service is the built-in Type=simple/oneshot/notify sub-unit. Start/stop/
// reload delegation and the running-process state machine are collapsed
// into this one struct rather than split across separate collaborators.
type Service struct {
	u       *unit.Unit
	cfg     ServiceConfig
	spawner Spawner
	state   serviceState
}

// NewService constructs a Service bound to spawner for process creation.
func NewService(cfg ServiceConfig, spawner Spawner) *Service {
	return &Service{cfg: cfg, spawner: spawner, state: serviceDead}
}

func (s *Service) AttachUnit(u *unit.Unit) { s.u = u }

// Load validates the resolved config the way service_verify does: every
// service needs an ExecStart, except a oneshot with RemainAfterExit.
func (s *Service) Load(fragmentPaths []string) error {
	if !s.cfg.RemainAfterExit && s.cfg.ExecStart.Path == "" {
		return errs.New(errs.KindInval, "service.Load", string(s.u.ID()))
	}
	if s.cfg.Type != ServiceTypeOneshot && s.cfg.ExecStart.Path == "" {
		return errs.New(errs.KindInval, "service.Load", string(s.u.ID()))
	}
	return nil
}

// Start is idempotent while already starting or running.
func (s *Service) Start() error {
	if s.state == serviceStartPre || s.state == serviceRunning {
		return nil
	}

	old := s.u.CurrentActiveState()
	s.state = serviceStartPre
	s.u.Notify(old, types.ActiveStateActivating, "service-start")

	pid, err := s.spawner.Spawn(s.cfg.ExecStart, s.cfg.Params)
	if err != nil {
		s.state = serviceFailed
		s.u.Notify(types.ActiveStateActivating, types.ActiveStateFailed, "spawn-failed")
		return errs.Wrap(errs.KindSpawn, "service.Start", string(s.u.ID()), err)
	}

	if err := s.u.SetMainPid(pid); err != nil {
		return err
	}

	// Type=simple is considered Active as soon as the process exists.
	// Type=oneshot stays Activating until sigchld reports completion.
	// Type=notify stays Activating until NotifyMessage delivers READY=1.
	if s.cfg.Type == ServiceTypeSimple {
		s.state = serviceRunning
		s.u.Notify(types.ActiveStateActivating, types.ActiveStateActive, "main-pid-spawned")
	}
	return nil
}

// Stop sends the unit's configured kill sequence to the main/control pids.
func (s *Service) Stop(force bool) error {
	if s.state == serviceDead {
		return nil
	}
	old := s.u.CurrentActiveState()
	s.state = serviceStopping
	s.u.Notify(old, types.ActiveStateDeactivating, "service-stop")

	if s.cfg.ExecStop != nil {
		pid, err := s.spawner.Spawn(*s.cfg.ExecStop, s.cfg.Params)
		if err == nil {
			_ = s.u.SetControlPid(pid)
			return nil
		}
	}
	s.u.KillMain(unit.KillOperationTerminate)
	return nil
}

func (s *Service) Reload() error {
	if s.cfg.ExecReload == nil {
		return errs.New(errs.KindOpNotSupp, "service.Reload", string(s.u.ID()))
	}
	pid, err := s.spawner.Spawn(*s.cfg.ExecReload, s.cfg.Params)
	if err != nil {
		return errs.Wrap(errs.KindSpawn, "service.Reload", string(s.u.ID()), err)
	}
	return s.u.SetControlPid(pid)
}

func (s *Service) CanReload() bool { return s.cfg.ExecReload != nil }

func (s *Service) CurrentActiveState() types.ActiveState {
	switch s.state {
	case serviceDead:
		return types.ActiveStateInactive
	case serviceStartPre:
		return types.ActiveStateActivating
	case serviceRunning:
		return types.ActiveStateActive
	case serviceStopping:
		return types.ActiveStateDeactivating
	default:
		return types.ActiveStateFailed
	}
}

func (s *Service) SubState() string {
	switch s.state {
	case serviceDead:
		return "dead"
	case serviceStartPre:
		return "start-pre"
	case serviceRunning:
		return "running"
	case serviceStopping:
		return "stop"
	default:
		return "failed"
	}
}

// SigchldEvent drives the post-exit transition. A oneshot's exit decides
// between Active (RemainAfterExit) and Inactive directly.
func (s *Service) SigchldEvent(pid, exitCode int, signaled bool) {
	if pid != s.u.MainPid() && pid != s.u.ControlPid() {
		return
	}
	if pid == s.u.MainPid() {
		s.u.UnsetMainPid()
	}
	if pid == s.u.ControlPid() {
		s.u.UnsetControlPid()
	}

	old := s.u.CurrentActiveState()
	ok := !signaled && exitCode == 0

	switch {
	case s.state == serviceStopping:
		s.state = serviceDead
		s.u.Notify(old, types.ActiveStateInactive, "stop-complete")
	case s.cfg.Type == ServiceTypeOneshot && ok && s.cfg.RemainAfterExit:
		s.state = serviceRunning
		s.u.Notify(old, types.ActiveStateActive, "oneshot-remain")
	case s.cfg.Type == ServiceTypeOneshot && ok:
		s.state = serviceDead
		s.u.Notify(old, types.ActiveStateInactive, "oneshot-exit")
	case ok:
		s.state = serviceDead
		s.u.Notify(old, types.ActiveStateInactive, "main-exit")
	default:
		s.state = serviceFailed
		s.u.Notify(old, types.ActiveStateFailed, "main-exit-failed")
	}
}

// NotifyMessage handles sd_notify keys: READY promotes a notify-type
// service to Active, STOPPING updates bookkeeping.
func (s *Service) NotifyMessage(creds types.NotifyCreds, kv map[string]string, fds []int) error {
	if s.cfg.NotifyAccess == NotifyAccessMain && creds.PID != s.u.MainPid() {
		return nil
	}
	if _, ready := kv[types.NotifyKeyReady]; ready && s.cfg.Type == ServiceTypeNotify {
		old := s.u.CurrentActiveState()
		s.state = serviceRunning
		s.u.Notify(old, types.ActiveStateActive, "notify-ready")
	}
	if _, stopping := kv[types.NotifyKeyStopping]; stopping {
		old := s.u.CurrentActiveState()
		s.u.Notify(old, types.ActiveStateDeactivating, "notify-stopping")
	}
	return nil
}

func (s *Service) Perpetual() bool { return false }
func (s *Service) ColdplugEntry()  {}
func (s *Service) ClearEntry()     {}
