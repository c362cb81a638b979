// Package unitdb is the sole mutable owner of the unit table, the pid->unit
// index, and the dependency relation multigraph. All other components read
// it through its typed accessors and write through its typed methods; none
// of them hold a raw reference into its internals across a callback.
package unitdb

import (
	"fmt"
	"sync"

	"github.com/sysmaster-go/sysmaster/types"
)

// Entry is the minimal identity a stored unit must expose. Package unit's
// *unit.Unit implements this; unitdb never depends on package unit, which
// keeps the two packages from forming an import cycle while unitdb still
// owns the table of unit objects.
type Entry interface {
	ID() types.UnitId
	Type() types.UnitType
}

type edgeSet map[types.UnitId]types.DependencyMask

// Store is the unit table + pid index + relation graph + child-watch table.
// All mutation goes through its methods; the zero value is not usable, use
// New.
type Store struct {
	mu sync.Mutex

	units map[types.UnitId]Entry

	// graph[src][relation] = {dst: mask}
	graph map[types.UnitId]map[types.UnitRelation]edgeSet

	// pid bookkeeping
	pidToUnit  map[int]types.UnitId
	unitToPids map[types.UnitId]map[int]struct{}
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		units:      make(map[types.UnitId]Entry),
		graph:      make(map[types.UnitId]map[types.UnitRelation]edgeSet),
		pidToUnit:  make(map[int]types.UnitId),
		unitToPids: make(map[types.UnitId]map[int]struct{}),
	}
}

// UnitsInsert adds a unit to the table. Fails if the id already exists
// bound to a different type.
func (s *Store) UnitsInsert(id types.UnitId, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.units[id]; ok {
		if existing.Type() != entry.Type() {
			return fmt.Errorf("unitdb: %q already registered as type %s", id, existing.Type())
		}
	}
	s.units[id] = entry
	return nil
}

// UnitsGet returns the stored entry for id, if any.
func (s *Store) UnitsGet(id types.UnitId) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.units[id]
	return e, ok
}

// UnitsGetAll returns every stored unit, optionally filtered by type.
func (s *Store) UnitsGetAll(filter *types.UnitType) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.units))
	for _, e := range s.units {
		if filter != nil && e.Type() != *filter {
			continue
		}
		out = append(out, e)
	}
	return out
}

// DepInsert inserts src --relation--> dst and its inverse atomically,
// merging DependencyMask on duplicates. Ordering relations (After/Before)
// are rejected if they would create a cycle; dataflow relations may cycle
// freely and are resolved at job-transaction time.
func (s *Store) DepInsert(src types.UnitId, relation types.UnitRelation, dst types.UnitId, mask types.DependencyMask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if relation.IsOrdering() {
		if s.reachableLocked(dst, src, relation) {
			return fmt.Errorf("unitdb: inserting %s --%s--> %s would create an ordering cycle", src, relation, dst)
		}
	}

	s.insertEdgeLocked(src, relation, dst, mask)
	s.insertEdgeLocked(dst, relation.Inverse(), src, mask)
	return nil
}

func (s *Store) insertEdgeLocked(src types.UnitId, relation types.UnitRelation, dst types.UnitId, mask types.DependencyMask) {
	byRel, ok := s.graph[src]
	if !ok {
		byRel = make(map[types.UnitRelation]edgeSet)
		s.graph[src] = byRel
	}
	set, ok := byRel[relation]
	if !ok {
		set = make(edgeSet)
		byRel[relation] = set
	}
	set[dst] = set[dst].Union(mask)
}

// reachableLocked reports whether, following only edges labelled rel, "to"
// is reachable starting at from (used to detect the cycle that inserting
// to--rel-->from would create). Caller must hold s.mu.
func (s *Store) reachableLocked(from, to types.UnitId, rel types.UnitRelation) bool {
	if from == to {
		return true
	}
	visited := map[types.UnitId]bool{from: true}
	queue := []types.UnitId{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for dst := range s.graph[cur][rel] {
			if dst == to {
				return true
			}
			if !visited[dst] {
				visited[dst] = true
				queue = append(queue, dst)
			}
		}
	}
	return false
}

// DepGets returns every destination reachable from src via relation.
func (s *Store) DepGets(src types.UnitId, relation types.UnitRelation) []types.UnitId {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.graph[src][relation]
	out := make([]types.UnitId, 0, len(set))
	for dst := range set {
		out = append(out, dst)
	}
	return out
}

// DepGetsAtom returns the union of destinations across every relation the
// given atom aggregates.
func (s *Store) DepGetsAtom(src types.UnitId, atom types.UnitAtom) []types.UnitId {
	seen := make(map[types.UnitId]bool)
	var out []types.UnitId
	for _, rel := range types.RelationsForAtom(atom) {
		for _, dst := range s.DepGets(src, rel) {
			if !seen[dst] {
				seen[dst] = true
				out = append(out, dst)
			}
		}
	}
	return out
}

// DepIsDepAtomWith reports whether dst is among src's atom-derived targets.
func (s *Store) DepIsDepAtomWith(src types.UnitId, atom types.UnitAtom, dst types.UnitId) bool {
	for _, rel := range types.RelationsForAtom(atom) {
		s.mu.Lock()
		_, ok := s.graph[src][rel][dst]
		s.mu.Unlock()
		if ok {
			return true
		}
	}
	return false
}

// ChildAddWatchPid binds pid to id. If pid is already watched by a
// different unit, the call fails (callers choose replace semantics
// explicitly via ChildUnwatchPid first); if pid is already watched by the
// same unit, the binding is a no-op.
func (s *Store) ChildAddWatchPid(id types.UnitId, pid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, ok := s.pidToUnit[pid]; ok && owner != id {
		return fmt.Errorf("unitdb: pid %d already watched by %q", pid, owner)
	}

	s.pidToUnit[pid] = id
	set, ok := s.unitToPids[id]
	if !ok {
		set = make(map[int]struct{})
		s.unitToPids[id] = set
	}
	set[pid] = struct{}{}
	return nil
}

// ChildUnwatchPid removes the binding between pid and id, if any.
func (s *Store) ChildUnwatchPid(id types.UnitId, pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, ok := s.pidToUnit[pid]; ok && owner == id {
		delete(s.pidToUnit, pid)
	}
	if set, ok := s.unitToPids[id]; ok {
		delete(set, pid)
		if len(set) == 0 {
			delete(s.unitToPids, id)
		}
	}
}

// GetUnitByPid resolves the unit currently watching pid.
func (s *Store) GetUnitByPid(pid int) (types.UnitId, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.pidToUnit[pid]
	return id, ok
}

// ChildWatchAllPids binds every pid in pids to id in one call, replacing
// any prior binding for that pid held by the same unit. Used after
// enumerating a unit's cgroup (an external collaborator supplies pids).
func (s *Store) ChildWatchAllPids(id types.UnitId, pids []int) error {
	for _, pid := range pids {
		if err := s.ChildAddWatchPid(id, pid); err != nil {
			return err
		}
	}
	return nil
}

// WatchedPids returns the current pid set for a unit.
func (s *Store) WatchedPids(id types.UnitId) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.unitToPids[id]
	out := make([]int, 0, len(set))
	for pid := range set {
		out = append(out, pid)
	}
	return out
}

// PidOwners returns a snapshot of the entire pid->unit index, for a
// supervising loop that mirrors newly-watched pids into a supervise.Reaper
// (whose Watch/Unwatch table is keyed independently of this one).
func (s *Store) PidOwners() map[int]types.UnitId {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]types.UnitId, len(s.pidToUnit))
	for pid, id := range s.pidToUnit {
		out[pid] = id
	}
	return out
}
