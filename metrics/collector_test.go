package metrics

import "testing"

func TestCollectorIncrementsAndSnapshots(t *testing.T) {
	c := New()
	c.IncUnitsLoaded()
	c.IncUnitsLoaded()
	c.IncJobsFailed()

	snap := c.Snapshot()
	if snap.UnitsLoaded != 2 {
		t.Fatalf("expected UnitsLoaded=2, got %d", snap.UnitsLoaded)
	}
	if snap.JobsFailed != 1 {
		t.Fatalf("expected JobsFailed=1, got %d", snap.JobsFailed)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.IncUnitsLoaded()
	if snap := c.Snapshot(); snap.UnitsLoaded != 0 {
		t.Fatalf("expected zero snapshot from nil collector, got %+v", snap)
	}
}
