package subunit

import (
	"github.com/sysmaster-go/sysmaster/errs"
	"github.com/sysmaster-go/sysmaster/types"
	"github.com/sysmaster-go/sysmaster/unit"
)

// Target is a grouping unit with no process of its own: active iff started,
// inactive iff stopped.
type Target struct {
	u      *unit.Unit
	active types.ActiveState
}

// NewTarget constructs an un-attached Target; unit.New calls AttachUnit.
func NewTarget() *Target {
	return &Target{active: types.ActiveStateInactive}
}

func (t *Target) AttachUnit(u *unit.Unit) { t.u = u }

// Load has nothing type-specific to parse; default-dependency wiring is the
// loader's job (it has the unitdb.Store access Target itself doesn't need).
func (t *Target) Load(fragmentPaths []string) error { return nil }

func (t *Target) Start() error {
	old := t.active
	t.active = types.ActiveStateActive
	t.u.Notify(old, t.active, "target-start")
	return nil
}

func (t *Target) Stop(force bool) error {
	old := t.active
	t.active = types.ActiveStateInactive
	t.u.Notify(old, t.active, "target-stop")
	return nil
}

func (t *Target) Reload() error           { return errs.New(errs.KindOpNotSupp, "target.Reload", string(t.u.ID())) }
func (t *Target) CanReload() bool         { return false }
func (t *Target) CurrentActiveState() types.ActiveState { return t.active }
func (t *Target) SubState() string {
	if t.active == types.ActiveStateActive {
		return "active"
	}
	return "dead"
}
func (t *Target) SigchldEvent(pid, exitCode int, signaled bool)               {}
func (t *Target) NotifyMessage(types.NotifyCreds, map[string]string, []int) error { return nil }
func (t *Target) Perpetual() bool                                             { return false }
func (t *Target) ColdplugEntry()                                              {}
func (t *Target) ClearEntry()                                                 {}
