package unit

import (
	"golang.org/x/sys/unix"
)

// KillMode controls how broadly a kill signal is propagated.
type KillMode int

const (
	KillModeControlGroup KillMode = iota
	KillModeMixed
	KillModeProcess
	KillModeNone
)

// KillOperation names the reason a kill is being sent, which selects the
// signal per KillContext.Signal.
type KillOperation int

const (
	KillOperationTerminate KillOperation = iota
	KillOperationKill
	KillOperationAbort
	KillOperationWatchdog
)

// KillContext is the fixed signal configuration a unit declares (KillMode,
// KillSignal, ...). Signal resolves a KillOperation to the concrete signal
// to send.
type KillContext struct {
	Mode         KillMode
	KillSignal   unix.Signal
	FinalSignal  unix.Signal
	WatchdogSignal unix.Signal
}

// Signal resolves op to the unix.Signal to deliver.
func (k KillContext) Signal(op KillOperation) unix.Signal {
	switch op {
	case KillOperationKill, KillOperationAbort:
		if k.FinalSignal != 0 {
			return k.FinalSignal
		}
		return unix.SIGKILL
	case KillOperationWatchdog:
		if k.WatchdogSignal != 0 {
			return k.WatchdogSignal
		}
		return unix.SIGABRT
	default:
		if k.KillSignal != 0 {
			return k.KillSignal
		}
		return unix.SIGTERM
	}
}

// CgroupKiller is the narrow cgroup interface a recursive-cgroup-kill path
// depends on; production wires it to real cgroup primitives, tests supply
// a fake. Cgroup primitives themselves are out of scope for this package.
type CgroupKiller interface {
	Path() string
	KillRecursive(sig unix.Signal, ignoreSelf bool, excludePids map[int]struct{}) error
}

// Kill sends sig to mainPID and controlPID (skipping zero pids), then
// follows with SIGCONT unless the original signal was SIGCONT or SIGKILL.
// Errors killing individual pids are swallowed into the returned slice
// rather than aborting early, since a process that already exited is not
// a failure worth propagating.
func Kill(kc KillContext, mainPID, controlPID int, op KillOperation) []error {
	sig := kc.Signal(op)
	var errs []error

	for _, pid := range []int{mainPID, controlPID} {
		if pid <= 0 {
			continue
		}
		if err := unix.Kill(pid, sig); err != nil {
			errs = append(errs, err)
			continue
		}
		if sig != unix.SIGCONT && sig != unix.SIGKILL {
			_ = unix.Kill(pid, unix.SIGCONT)
		}
	}
	return errs
}

// KillCgroup additionally signals every pid cgroup reports for the unit,
// when kc.Mode calls for it. cg is nil-safe: a unit with no cgroup wiring
// simply skips this step.
func KillCgroup(kc KillContext, cg CgroupKiller, op KillOperation, excludePids map[int]struct{}) error {
	if cg == nil {
		return nil
	}
	wantsCgroup := kc.Mode == KillModeControlGroup || (kc.Mode == KillModeMixed && op == KillOperationKill)
	if !wantsCgroup || cg.Path() == "" {
		return nil
	}
	sig := kc.Signal(op)
	return cg.KillRecursive(sig, true, excludePids)
}
