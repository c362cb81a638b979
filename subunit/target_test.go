package subunit

import (
	"testing"

	"github.com/sysmaster-go/sysmaster/types"
	"github.com/sysmaster-go/sysmaster/unit"
)

func TestTargetStartStop(t *testing.T) {
	target := NewTarget()
	u := unit.New("multi-user.target", types.UnitTypeTarget, target)
	if err := u.LoadUnit(nil); err != nil {
		t.Fatalf("LoadUnit: %v", err)
	}

	if err := u.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if u.CurrentActiveState() != types.ActiveStateActive {
		t.Fatalf("expected Active, got %s", u.CurrentActiveState())
	}

	if err := u.Stop(false); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if u.CurrentActiveState() != types.ActiveStateInactive {
		t.Fatalf("expected Inactive, got %s", u.CurrentActiveState())
	}
}
