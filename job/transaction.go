package job

import (
	"github.com/sysmaster-go/sysmaster/errs"
	"github.com/sysmaster-go/sysmaster/types"
)

// txnJob is one entailed (unit, kind) pair being assembled into a
// transaction, before admission decides what happens to any job already
// pending on that unit.
type txnJob struct {
	unit     types.UnitId
	kind     types.JobKind
	isManual bool
}

// combineKind applies the Start+Start/Stop+Stop/Start+Stop merge rule for
// two entailments landing on the same unit within one transaction.
// Conflicting opposite-runkind entailments resolve to the most recently
// requested one, consistent with a later traversal path overriding an
// earlier one reaching the same unit.
func combineKind(existing, incoming types.JobKind) types.JobKind {
	if existing == incoming {
		return existing
	}
	if existing == types.JobReload && incoming == types.JobStart {
		return types.JobStart
	}
	if existing == types.JobStart && incoming == types.JobReload {
		return existing
	}
	return incoming
}

// buildTransaction traverses dependency atoms from conf.Target, producing
// the full entailed set of (unit, kind) pairs. Ordering atoms never add
// jobs, only constrain release order later.
func (e *Engine) buildTransaction(conf types.JobConf, mode types.JobMode) map[types.UnitId]*txnJob {
	out := make(map[types.UnitId]*txnJob)
	visited := make(map[types.UnitId]bool)
	e.entail(conf.Target, conf.Kind, conf.IsManual, mode, out, visited)

	if mode == types.JobModeIsolate && conf.Kind == types.JobStart {
		e.addIsolateStops(out)
	}
	return out
}

func (e *Engine) entail(unit types.UnitId, kind types.JobKind, isManual bool, mode types.JobMode, out map[types.UnitId]*txnJob, visited map[types.UnitId]bool) {
	if existing, ok := out[unit]; ok {
		existing.kind = combineKind(existing.kind, kind)
		existing.isManual = existing.isManual || isManual
		return
	}
	out[unit] = &txnJob{unit: unit, kind: kind, isManual: isManual}

	if visited[unit] {
		return
	}
	visited[unit] = true

	switch kind {
	case types.JobStart:
		for _, dst := range e.pullInStartNeighbours(unit, mode) {
			e.entail(dst, types.JobStart, false, mode, out, visited)
		}
		if mode != types.JobModeIgnoreDeps {
			for _, dst := range e.graph.DepGets(unit, types.UnitConflicts) {
				e.entail(dst, types.JobStop, false, mode, out, visited)
			}
		}
	case types.JobStop:
		if mode != types.JobModeIgnoreDeps {
			for _, dst := range e.propagateStopNeighbours(unit, mode) {
				e.entail(dst, types.JobStop, false, mode, out, visited)
			}
		}
	case types.JobRestart:
		if mode != types.JobModeIgnoreDeps {
			for _, dst := range e.graph.DepGets(unit, types.UnitPropagatesReloadTo) {
				e.entail(dst, types.JobRestart, false, mode, out, visited)
			}
		}
	}
}

// pullInStartNeighbours returns the units a Start on unit pulls in,
// honoring IgnoreDeps (skip all of Requires/Wants/BindsTo) and
// IgnoreRequirements (skip only the hard Requires relation, keep the
// optional Wants and the strict-colocation BindsTo).
func (e *Engine) pullInStartNeighbours(unit types.UnitId, mode types.JobMode) []types.UnitId {
	if mode == types.JobModeIgnoreDeps {
		return nil
	}
	var out []types.UnitId
	if mode != types.JobModeIgnoreRequirements {
		out = append(out, e.graph.DepGets(unit, types.UnitRequires)...)
	}
	out = append(out, e.graph.DepGets(unit, types.UnitWants)...)
	out = append(out, e.graph.DepGets(unit, types.UnitBindsTo)...)
	return out
}

// propagateStopNeighbours returns the units a Stop on unit propagates to.
// IgnoreRequirements has no narrower reading here than IgnoreDeps since
// PropagateStop aggregates only RequiredBy/BoundBy, both hard relations
// (see DESIGN.md for the scoped decision behind this).
func (e *Engine) propagateStopNeighbours(unit types.UnitId, mode types.JobMode) []types.UnitId {
	return e.graph.DepGetsAtom(unit, types.UnitAtomPropagateStop)
}

// addIsolateStops adds a Stop job for every loaded unit that is not
// inactive or failed, not already in the transaction and not marked
// IgnoreOnIsolate, per Isolate mode's admission semantics.
func (e *Engine) addIsolateStops(txn map[types.UnitId]*txnJob) {
	for _, u := range e.units.AllUnits() {
		id := u.ID()
		if _, inTxn := txn[id]; inTxn {
			continue
		}
		if u.IgnoreOnIsolate() {
			continue
		}
		if u.CurrentActiveState().IsInactiveLike() {
			continue
		}
		txn[id] = &txnJob{unit: id, kind: types.JobStop}
	}
}

// Admit builds, admits, and installs the transaction for conf under mode.
// On success it returns the jobs now pending or running. On failure
// (ETxn under Fail mode, or an unresolvable target) no state changes.
func (e *Engine) Admit(conf types.JobConf, mode types.JobMode) ([]Job, error) {
	if _, ok := e.units.Resolve(conf.Target); !ok {
		return nil, errs.New(errs.KindInval, "job.Engine.Admit", string(conf.Target))
	}

	txn := e.buildTransaction(conf, mode)

	e.mu.Lock()
	defer e.mu.Unlock()

	if mode == types.JobModeFail {
		for id, tj := range txn {
			if existing, ok := e.byUnit[id]; ok && conflicts(existing.kind, tj.kind) {
				return nil, errs.New(errs.KindTxn, "job.Engine.Admit", string(id))
			}
		}
	}

	if mode == types.JobModeFlush {
		for id, existing := range e.byUnit {
			if _, inTxn := txn[id]; !inTxn {
				e.cancelLocked(existing)
			}
		}
	}

	entries := make([]*jobEntry, 0, len(txn))
	for id, tj := range txn {
		if existing, ok := e.byUnit[id]; ok {
			if existing.kind == tj.kind {
				entries = append(entries, existing)
				continue
			}
			// Replace (the default admission policy for conflicting jobs
			// under Isolate/IgnoreDeps/IgnoreRequirements too, since none of
			// those modes name a different conflict-resolution rule).
			e.cancelLocked(existing)
		}
		entries = append(entries, e.installLocked(id, tj.kind, mode, tj.isManual))
	}

	e.releaseReadyLocked()
	installed := make([]Job, 0, len(entries))
	for _, j := range entries {
		installed = append(installed, e.snapshotLocked(j))
	}
	return installed, nil
}

// conflicts reports whether two job kinds target opposite run-kinds on the
// same unit (the Start+Stop case the merge table calls out explicitly).
func conflicts(a, b types.JobKind) bool {
	return a.RunKind() != b.RunKind()
}

func (e *Engine) snapshotLocked(j *jobEntry) Job {
	return Job{ID: j.id, Unit: j.unit, Kind: j.kind, State: j.state, IsManual: j.isManual}
}
