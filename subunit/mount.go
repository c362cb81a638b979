package subunit

import (
	"github.com/sysmaster-go/sysmaster/errs"
	"github.com/sysmaster-go/sysmaster/types"
	"github.com/sysmaster-go/sysmaster/unit"
)

// MountOps is the narrow filesystem mounting surface Mount delegates to;
// production wires it to real mount(2)/umount(2) calls, tests use a fake.
// Mount primitives themselves are out of scope for this package, so no
// concrete implementation is provided here.
type MountOps interface {
	Mount(what, where, fsType string, options string) error
	Unmount(where string) error
}

// Mount represents a filesystem mount point. Unlike Service/Socket it has
// no fragment to parse: unit.LoadUnit marks it Loaded directly before
// Mount.Load is ever called.
type Mount struct {
	u      *unit.Unit
	ops    MountOps
	what   string
	where  string
	fsType string
	opts   string
	active types.ActiveState
}

// NewMount constructs a Mount bound to ops (may be nil for units whose
// mount was already established by the system and is only being tracked).
func NewMount(ops MountOps, what, where, fsType, opts string) *Mount {
	return &Mount{ops: ops, what: what, where: where, fsType: fsType, opts: opts, active: types.ActiveStateInactive}
}

func (m *Mount) AttachUnit(u *unit.Unit) { m.u = u }

func (m *Mount) Load(fragmentPaths []string) error { return nil }

func (m *Mount) Start() error {
	if m.ops != nil {
		if err := m.ops.Mount(m.what, m.where, m.fsType, m.opts); err != nil {
			old := m.active
			m.active = types.ActiveStateFailed
			m.u.Notify(old, m.active, "mount-failed")
			return errs.ClassifySyscallError("mount.Start", string(m.u.ID()), err)
		}
	}
	old := m.active
	m.active = types.ActiveStateActive
	m.u.Notify(old, m.active, "mount-start")
	return nil
}

func (m *Mount) Stop(force bool) error {
	if m.ops != nil {
		if err := m.ops.Unmount(m.where); err != nil && !force {
			return errs.ClassifySyscallError("mount.Stop", string(m.u.ID()), err)
		}
	}
	old := m.active
	m.active = types.ActiveStateInactive
	m.u.Notify(old, m.active, "mount-stop")
	return nil
}

func (m *Mount) Reload() error           { return errs.New(errs.KindOpNotSupp, "mount.Reload", string(m.u.ID())) }
func (m *Mount) CanReload() bool         { return false }
func (m *Mount) CurrentActiveState() types.ActiveState { return m.active }
func (m *Mount) SubState() string {
	if m.active == types.ActiveStateActive {
		return "mounted"
	}
	return "dead"
}
func (m *Mount) SigchldEvent(pid, exitCode int, signaled bool)               {}
func (m *Mount) NotifyMessage(types.NotifyCreds, map[string]string, []int) error { return nil }
func (m *Mount) Perpetual() bool                                             { return false }
func (m *Mount) ColdplugEntry()                                              {}
func (m *Mount) ClearEntry()                                                 {}
