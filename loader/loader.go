// Package loader resolves unit names to fragments, instantiates sub-units
// via a type-registered factory, and drains the load queue and the
// target-dependency queue in FIFO order.
package loader

import (
	"github.com/sysmaster-go/sysmaster/errs"
	"github.com/sysmaster-go/sysmaster/types"
	"github.com/sysmaster-go/sysmaster/unit"
	"github.com/sysmaster-go/sysmaster/unitdb"
)

// FragmentResolver maps a unit id to its on-disk fragment paths. Config
// parsing itself is out of scope for this package; this interface is the
// seam production code fills with a real resolver and tests fill with a
// map.
type FragmentResolver interface {
	Resolve(id types.UnitId) ([]string, error)
}

// Factory constructs the SubUnit for a freshly-created unit id, before its
// fragment is loaded.
type Factory func(id types.UnitId) (unit.SubUnit, error)

// Loader owns the load queue and the target-dependency queue. Not safe for
// concurrent use: it holds no lock of its own, and Manager calls it
// without one.
type Loader struct {
	db        *unitdb.Store
	resolver  FragmentResolver
	factories map[types.UnitType]Factory

	loadQueue   []types.UnitId
	inLoadQueue map[types.UnitId]bool

	targetDepQueue   []types.UnitId
	inTargetDepQueue map[types.UnitId]bool
}

// New constructs a Loader bound to db and resolver.
func New(db *unitdb.Store, resolver FragmentResolver) *Loader {
	return &Loader{
		db:               db,
		resolver:         resolver,
		factories:        make(map[types.UnitType]Factory),
		inLoadQueue:      make(map[types.UnitId]bool),
		inTargetDepQueue: make(map[types.UnitId]bool),
	}
}

// RegisterFactory binds a UnitType to the factory that builds its SubUnit.
func (l *Loader) RegisterFactory(t types.UnitType, f Factory) {
	l.factories[t] = f
}

// GetOrCreate returns the existing *unit.Unit for id, or constructs one via
// the registered factory and inserts it into db; unit entries are created
// on first reference.
func (l *Loader) GetOrCreate(id types.UnitId, opts ...unit.Option) (*unit.Unit, error) {
	if entry, ok := l.db.UnitsGet(id); ok {
		u, ok := entry.(*unit.Unit)
		if !ok {
			return nil, errs.New(errs.KindInval, "loader.GetOrCreate", string(id))
		}
		return u, nil
	}

	_, unitType, err := types.ParseUnitId(string(id))
	if err != nil {
		return nil, errs.Wrap(errs.KindInval, "loader.GetOrCreate", string(id), err)
	}
	factory, ok := l.factories[unitType]
	if !ok {
		return nil, errs.New(errs.KindNoExec, "loader.GetOrCreate", string(id))
	}
	sub, err := factory(id)
	if err != nil {
		return nil, errs.Wrap(errs.KindLoad, "loader.GetOrCreate", string(id), err)
	}

	allOpts := append([]unit.Option{unit.WithPidStore(l.db)}, opts...)
	u := unit.New(id, unitType, sub, allOpts...)
	if err := l.db.UnitsInsert(id, u); err != nil {
		return nil, errs.Wrap(errs.KindInval, "loader.GetOrCreate", string(id), err)
	}
	return u, nil
}

// Enqueue adds id to the load queue unless it's already queued, guarding
// against duplicate scheduling.
func (l *Loader) Enqueue(id types.UnitId) {
	if l.inLoadQueue[id] {
		return
	}
	l.inLoadQueue[id] = true
	l.loadQueue = append(l.loadQueue, id)
}

// FlushLoadQueue drains the load queue FIFO, resolving fragments and
// calling LoadUnit for each entry. Units that declare
// DefaultDependencies are pushed onto the target-dep queue; this is
// generalized across unit types rather than duplicated per sub-unit.
func (l *Loader) FlushLoadQueue() []error {
	var errsOut []error
	for len(l.loadQueue) > 0 {
		id := l.loadQueue[0]
		l.loadQueue = l.loadQueue[1:]
		delete(l.inLoadQueue, id)

		u, err := l.GetOrCreate(id)
		if err != nil {
			errsOut = append(errsOut, err)
			continue
		}

		var fragmentPaths []string
		if u.Type() != types.UnitTypeMount {
			fragmentPaths, err = l.resolver.Resolve(id)
			if err != nil {
				errsOut = append(errsOut, errs.LoadError("loader.FlushLoadQueue", string(id), types.LoadStateNotFound))
				continue
			}
		}

		if err := u.LoadUnit(fragmentPaths); err != nil {
			errsOut = append(errsOut, err)
			continue
		}

		if u.DefaultDependencies() {
			l.enqueueTargetDep(id)
		}
	}
	return errsOut
}

func (l *Loader) enqueueTargetDep(id types.UnitId) {
	if l.inTargetDepQueue[id] {
		return
	}
	l.inTargetDepQueue[id] = true
	l.targetDepQueue = append(l.targetDepQueue, id)
}

// FlushTargetDepQueue drains the target-dep queue, inserting an After edge
// from each unit to every target named by its
// UnitAtomAddDefaultTargetDependencyQueue atom, unless a Before edge
// already exists.
func (l *Loader) FlushTargetDepQueue() []error {
	var errsOut []error
	for len(l.targetDepQueue) > 0 {
		id := l.targetDepQueue[0]
		l.targetDepQueue = l.targetDepQueue[1:]
		delete(l.inTargetDepQueue, id)

		targets := l.db.DepGetsAtom(id, types.UnitAtomAddDefaultTargetDependencyQueue)
		for _, target := range targets {
			entry, ok := l.db.UnitsGet(target)
			if !ok {
				continue
			}
			targetUnit, ok := entry.(*unit.Unit)
			if !ok || !targetUnit.DefaultDependencies() {
				continue
			}
			if l.db.DepIsDepAtomWith(id, types.UnitAtomBefore, target) {
				continue
			}
			if err := l.db.DepInsert(id, types.UnitAfter, target, types.DependencyMaskDefault); err != nil {
				errsOut = append(errsOut, errs.Wrap(errs.KindInval, "loader.FlushTargetDepQueue", string(id), err))
			}
		}
	}
	return errsOut
}
