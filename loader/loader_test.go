package loader

import (
	"errors"
	"testing"

	"github.com/sysmaster-go/sysmaster/types"
	"github.com/sysmaster-go/sysmaster/unit"
	"github.com/sysmaster-go/sysmaster/unitdb"
)

type stubSub struct {
	active types.ActiveState
}

func (s *stubSub) AttachUnit(*unit.Unit)                                          {}
func (s *stubSub) Load([]string) error                                           { return nil }
func (s *stubSub) Start() error                                                  { return nil }
func (s *stubSub) Stop(bool) error                                               { return nil }
func (s *stubSub) Reload() error                                                 { return nil }
func (s *stubSub) CanReload() bool                                               { return false }
func (s *stubSub) CurrentActiveState() types.ActiveState                         { return s.active }
func (s *stubSub) SubState() string                                              { return "dead" }
func (s *stubSub) SigchldEvent(int, int, bool)                                   {}
func (s *stubSub) NotifyMessage(types.NotifyCreds, map[string]string, []int) error { return nil }
func (s *stubSub) Perpetual() bool                                               { return false }
func (s *stubSub) ColdplugEntry()                                                {}
func (s *stubSub) ClearEntry()                                                   {}

type mapResolver map[types.UnitId][]string

func (m mapResolver) Resolve(id types.UnitId) ([]string, error) {
	paths, ok := m[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return paths, nil
}

func newTestLoader(resolver mapResolver) (*Loader, *unitdb.Store) {
	db := unitdb.New()
	l := New(db, resolver)
	l.RegisterFactory(types.UnitTypeService, func(id types.UnitId) (unit.SubUnit, error) {
		return &stubSub{}, nil
	})
	l.RegisterFactory(types.UnitTypeTarget, func(id types.UnitId) (unit.SubUnit, error) {
		return &stubSub{}, nil
	})
	return l, db
}

func TestFlushLoadQueueLoadsKnownUnit(t *testing.T) {
	l, db := newTestLoader(mapResolver{"foo.service": {"/etc/sysmaster/foo.service"}})
	l.Enqueue("foo.service")

	if errsOut := l.FlushLoadQueue(); len(errsOut) != 0 {
		t.Fatalf("unexpected errors: %v", errsOut)
	}

	entry, ok := db.UnitsGet("foo.service")
	if !ok {
		t.Fatal("expected unit to be registered in unitdb")
	}
	u := entry.(*unit.Unit)
	if u.LoadState() != types.LoadStateLoaded {
		t.Fatalf("expected Loaded, got %s", u.LoadState())
	}
}

func TestFlushLoadQueueReportsMissingFragment(t *testing.T) {
	l, _ := newTestLoader(mapResolver{})
	l.Enqueue("missing.service")

	errsOut := l.FlushLoadQueue()
	if len(errsOut) != 1 {
		t.Fatalf("expected one error, got %v", errsOut)
	}
}

func TestFlushLoadQueueMountSkipsFragmentResolution(t *testing.T) {
	db := unitdb.New()
	l := New(db, mapResolver{})
	l.RegisterFactory(types.UnitTypeMount, func(id types.UnitId) (unit.SubUnit, error) {
		return &stubSub{}, nil
	})
	l.Enqueue("data.mount")

	if errsOut := l.FlushLoadQueue(); len(errsOut) != 0 {
		t.Fatalf("unexpected errors: %v", errsOut)
	}
	entry, _ := db.UnitsGet("data.mount")
	if entry.(*unit.Unit).LoadState() != types.LoadStateLoaded {
		t.Fatal("expected mount unit to be loaded without a fragment")
	}
}

func TestEnqueueDedupes(t *testing.T) {
	l, _ := newTestLoader(mapResolver{"foo.service": nil})
	l.Enqueue("foo.service")
	l.Enqueue("foo.service")

	if len(l.loadQueue) != 1 {
		t.Fatalf("expected dedup to keep a single entry, got %d", len(l.loadQueue))
	}
}

func TestFlushTargetDepQueueAddsDefaultOrdering(t *testing.T) {
	l, db := newTestLoader(mapResolver{"foo.service": nil})

	target := unit.New("multi-user.target", types.UnitTypeTarget, &stubSub{}, unit.WithDefaultDependencies(true))
	if err := db.UnitsInsert("multi-user.target", target); err != nil {
		t.Fatalf("UnitsInsert: %v", err)
	}
	if err := db.DepInsert("foo.service", types.UnitBefore, "multi-user.target", types.DependencyMaskImplicit); err != nil {
		t.Fatalf("seed dep: %v", err)
	}
	if _, err := l.GetOrCreate("foo.service", unit.WithDefaultDependencies(true)); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	l.Enqueue("foo.service")
	l.FlushLoadQueue()
	if errsOut := l.FlushTargetDepQueue(); len(errsOut) != 0 {
		t.Fatalf("unexpected errors: %v", errsOut)
	}

	if got := db.DepGets("foo.service", types.UnitAfter); len(got) != 1 || got[0] != "multi-user.target" {
		t.Fatalf("expected an After edge to multi-user.target, got %v", got)
	}
}
