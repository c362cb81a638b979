package job

import (
	"time"

	"github.com/sysmaster-go/sysmaster/types"
)

// installLocked creates and registers a Waiting job for unit, arming its
// timeout timer. Caller must hold e.mu.
func (e *Engine) installLocked(unit types.UnitId, kind types.JobKind, mode types.JobMode, isManual bool) *jobEntry {
	e.nextID++
	id := e.nextID

	phase := restartPhaseNone
	if kind == types.JobRestart {
		phase = restartPhaseStopping
	}

	j := &jobEntry{
		id:       id,
		unit:     unit,
		kind:     kind,
		mode:     mode,
		isManual: isManual,
		state:    types.JobWaiting,
		phase:    phase,
		deadline: time.Now().Add(e.timeoutFor(kind)),
	}
	j.timer = time.AfterFunc(e.timeoutFor(kind), func() { e.expire(id) })

	e.jobs[id] = j
	e.byUnit[unit] = j
	return j
}

// cancelLocked removes j without invoking any unit operation: a Running
// job's unit op keeps running to completion, the bookkeeping is simply
// dropped.
func (e *Engine) cancelLocked(j *jobEntry) {
	if j.timer != nil {
		j.timer.Stop()
	}
	delete(e.jobs, j.id)
	if e.byUnit[j.unit] == j {
		delete(e.byUnit, j.unit)
	}
}

// finishLocked removes j after it reaches a terminal result and logs the
// outcome if a logger is attached.
func (e *Engine) finishLocked(j *jobEntry, result types.JobResult) {
	if j.timer != nil {
		j.timer.Stop()
	}
	delete(e.jobs, j.id)
	if e.byUnit[j.unit] == j {
		delete(e.byUnit, j.unit)
	}
	if e.log != nil {
		e.log.Info("job finished", map[string]any{
			"job_id": uint64(j.id), "unit": string(j.unit), "kind": j.kind.String(), "result": result.String(),
		})
	}
}

// releaseReadyLocked promotes every Waiting job whose ordering predecessors
// have settled into Running, invoking the unit's start/stop/reload op.
// Predecessors without a job of their own in this engine never block
// release, since the transaction didn't choose to touch them.
func (e *Engine) releaseReadyLocked() {
	for _, j := range e.jobs {
		if j.state != types.JobWaiting {
			continue
		}
		if !e.predecessorsReadyLocked(j) {
			continue
		}
		e.runLocked(j)
	}
}

func (e *Engine) predecessorsReadyLocked(j *jobEntry) bool {
	wantActive := j.kind.RunKind() == types.JobRunStartAlike
	for _, pred := range e.graph.DepGets(j.unit, types.UnitAfter) {
		predJob, hasJob := e.byUnit[pred]
		if !hasJob {
			continue
		}
		if predJob.state != types.JobRunning && predJob.state != types.JobWaiting {
			continue
		}
		// Predecessor still has unfinished business; wait.
		return false
	}
	// All predecessors with jobs have finished (removed from byUnit);
	// verify the ones that finished actually left a compatible state. We
	// can't see a removed job's outcome here, so this check only guards
	// against predecessors that are mid-flight; true dependency-failure
	// detection happens in TryFinish when a predecessor job completes
	// while this job is still Waiting (see failDependentsLocked).
	_ = wantActive
	return true
}

// runLocked transitions j to Running and invokes the corresponding unit
// operation.
func (e *Engine) runLocked(j *jobEntry) {
	u, ok := e.units.Resolve(j.unit)
	if !ok {
		e.finishLocked(j, types.JobResultInvalid)
		return
	}

	j.state = types.JobRunning

	var err error
	switch {
	case j.kind == types.JobRestart && j.phase == restartPhaseStopping:
		err = u.Stop(false)
	case j.kind == types.JobRestart && j.phase == restartPhaseStarting:
		err = u.Start()
	case j.kind == types.JobStart, j.kind == types.JobVerify:
		err = u.Start()
	case j.kind == types.JobStop:
		err = u.Stop(false)
	case j.kind == types.JobReload:
		err = u.Reload()
	}

	if err != nil {
		isStartAlike := j.kind == types.JobStart || j.kind == types.JobVerify ||
			(j.kind == types.JobRestart && j.phase == restartPhaseStarting)
		if isStartAlike && u.StartLimitHit() && e.dispatcher != nil {
			if action := u.StartLimitAction(); action != types.EmergencyActionNone {
				e.dispatcher.Dispatch(j.unit, action)
			}
		}
		e.failDependentsLocked(j.unit)
		e.finishLocked(j, types.JobResultFailed)
	}
}

// TryFinish is called off the unit state bus when unit transitions from
// old to next. It completes a matching job if next
// is a terminal state for that job's kind, advances a decomposed Restart
// from its Stop phase into its Start phase, and releases any jobs that
// were waiting on this unit.
func (e *Engine) TryFinish(unit types.UnitId, old, next types.ActiveState) {
	e.mu.Lock()
	defer e.mu.Unlock()

	j, ok := e.byUnit[unit]
	if !ok {
		return
	}
	if j.state != types.JobRunning {
		return
	}

	switch {
	case j.kind == types.JobRestart && j.phase == restartPhaseStopping && next == types.ActiveStateInactive:
		j.phase = restartPhaseStarting
		j.state = types.JobWaiting
		e.releaseReadyLocked()
		return
	case j.kind == types.JobRestart && j.phase == restartPhaseStarting && next == types.ActiveStateActive:
		e.finishLocked(j, types.JobResultDone)
	case (j.kind == types.JobStart || j.kind == types.JobVerify || j.kind == types.JobReload) && next == types.ActiveStateActive:
		e.finishLocked(j, types.JobResultDone)
	case j.kind == types.JobStart && next == types.ActiveStateFailed:
		e.finishLocked(j, types.JobResultFailed)
	case j.kind == types.JobStop && next == types.ActiveStateInactive:
		e.finishLocked(j, types.JobResultDone)
	default:
		return
	}

	e.failDependentsLocked(unit)
	e.releaseReadyLocked()
}

// failDependentsLocked marks JobResultDependency on any still-Waiting job
// whose release depends on unit having reached a compatible state, when
// unit's own job did not end up Active/Inactive as required. Called after
// unit's job is removed, so predecessorsReadyLocked's "has a job" check no
// longer sees it; this is the companion check that catches the failure
// case predecessorsReadyLocked defers.
func (e *Engine) failDependentsLocked(unit types.UnitId) {
	u, ok := e.units.Resolve(unit)
	if !ok {
		return
	}
	state := u.CurrentActiveState()

	for _, j := range e.jobs {
		if j.state != types.JobWaiting {
			continue
		}
		afters := e.graph.DepGets(j.unit, types.UnitAfter)
		if !containsID(afters, unit) {
			continue
		}
		wantActive := j.kind.RunKind() == types.JobRunStartAlike
		compatible := (wantActive && state == types.ActiveStateActive) || (!wantActive && state == types.ActiveStateInactive)
		if !compatible {
			e.finishLocked(j, types.JobResultDependency)
		}
	}
}

func containsID(ids []types.UnitId, target types.UnitId) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}

// expire fires when a job's deadline passes without completing.
func (e *Engine) expire(id types.JobId) {
	e.mu.Lock()
	j, ok := e.jobs[id]
	if !ok {
		e.mu.Unlock()
		return
	}
	unit := j.unit
	e.finishLocked(j, types.JobResultTimeOut)
	e.mu.Unlock()

	if e.dispatcher == nil {
		return
	}
	if u, ok := e.units.Resolve(unit); ok {
		if action := u.JobTimeoutAction(); action != types.EmergencyActionNone {
			e.dispatcher.Dispatch(unit, action)
		}
	}
}

// Cancel removes jobID. A Waiting job is simply dropped; a Running job is
// also dropped from the engine's bookkeeping without interrupting the
// in-flight unit operation.
func (e *Engine) Cancel(jobID types.JobId) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	j, ok := e.jobs[jobID]
	if !ok {
		return false
	}
	e.finishLocked(j, types.JobResultCancelled)
	e.releaseReadyLocked()
	return true
}
