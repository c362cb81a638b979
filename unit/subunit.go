package unit

import "github.com/sysmaster-go/sysmaster/types"

// SubUnit is the capability contract a concrete unit kind (service, socket,
// target, mount, ...) implements. Package subunit provides the built-in
// kinds; unit never imports subunit, the wiring happens the other way so the
// two packages don't cycle.
type SubUnit interface {
	// AttachUnit binds the sub-unit to its owning Unit, giving it access to
	// the shared pid-watching and kill-context surface. Called once by New
	// before any other method.
	AttachUnit(u *Unit)

	// Load parses the unit's type-specific configuration from the resolved
	// fragment paths (empty for types with no config file, e.g. Mount).
	Load(fragmentPaths []string) error

	// Start begins activation. Must be non-blocking: long-running work is
	// driven by the supervise package and reported back via sigchld/notify
	// callbacks.
	Start() error

	// Stop begins deactivation. force skips the EAlready precondition so
	// callers can always drive a unit to Inactive (used by isolate jobs and
	// shutdown).
	Stop(force bool) error

	// Reload asks a running unit to re-read its configuration without a
	// full restart. Returns an error wrapping errs.ErrOpNotSupp when the
	// sub-unit kind has no reload notion; Unit.Reload treats that specially
	// as a no-op success.
	Reload() error

	// CanReload reports whether Reload is meaningful for this sub-unit.
	CanReload() bool

	// CurrentActiveState derives the composite ActiveState from the
	// sub-unit's internal state machine.
	CurrentActiveState() types.ActiveState

	// SubState is a free-form string naming the sub-unit's internal state
	// (e.g. "running", "dead", "listening") for status display.
	SubState() string

	// SigchldEvent notifies the sub-unit that one of its watched pids
	// exited, so it can run its internal state transition.
	SigchldEvent(pid int, exitCode int, signaled bool)

	// NotifyMessage delivers a parsed sd_notify-style datagram addressed to
	// this unit (by NotifyAccess policy, main or any process).
	NotifyMessage(creds types.NotifyCreds, kv map[string]string, fds []int) error

	// Perpetual reports whether the sub-unit runs outside job control
	// (e.g. a virtual target that's always considered present).
	Perpetual() bool

	// ColdplugEntry reconnects external resources (timers, watches) after
	// the manager re-execs and replays the reliability journal. The
	// original leaves this empty for every built-in kind; built-ins here do
	// the same unless a kind has state worth reconnecting.
	ColdplugEntry()

	// ClearEntry releases the same resources ColdplugEntry reconnects.
	ClearEntry()
}

// FdCollector is implemented by sub-unit kinds that own listening fds to
// hand to a spawned child (currently Socket). Queried via a type assertion;
// most kinds don't implement it.
type FdCollector interface {
	CollectFds() []int
}
