// Package job implements the transactional job engine: turning a single
// JobConf into a consistent transaction of entailed jobs, admitting or
// rejecting it per JobMode, and releasing jobs for execution as ordering
// predecessors settle.
package job

import (
	"sync"
	"time"

	"github.com/sysmaster-go/sysmaster/log"
	"github.com/sysmaster-go/sysmaster/types"
)

// JobUnit is the subset of unit.Unit the engine drives. Defined here rather
// than imported from package unit so job stays tree-structurally
// independent of it, matching the unit/unitdb/subunit interface-boundary
// pattern; *unit.Unit satisfies this structurally.
type JobUnit interface {
	ID() types.UnitId
	Start() error
	Stop(force bool) error
	Reload() error
	CurrentActiveState() types.ActiveState
	IgnoreOnIsolate() bool
	JobTimeoutAction() types.EmergencyAction
	StartLimitHit() bool
	StartLimitAction() types.EmergencyAction
}

// DepGraph is the subset of unitdb.Store the engine queries to traverse
// dependency atoms and ordering relations. *unitdb.Store satisfies this
// structurally.
type DepGraph interface {
	DepGets(src types.UnitId, relation types.UnitRelation) []types.UnitId
	DepGetsAtom(src types.UnitId, atom types.UnitAtom) []types.UnitId
}

// UnitResolver looks up the JobUnit behind a unit id and enumerates units
// for isolate-mode admission. The manager supplies the concrete
// implementation over unitdb.Store + type assertion to JobUnit.
type UnitResolver interface {
	Resolve(id types.UnitId) (JobUnit, bool)
	AllUnits() []JobUnit
}

// EmergencyDispatcher receives the action a job's unit declared for a
// terminal outcome: JobTimeoutAction when a job expires and
// StartLimitAction when a start is refused by the rate limiter. Failure
// and success actions are dispatched by the manager directly off the state
// bus, not through the job engine.
type EmergencyDispatcher interface {
	Dispatch(id types.UnitId, action types.EmergencyAction)
}

// restartPhase tracks where a decomposed Restart job is in its Stop-then-
// Start sequence.
type restartPhase int

const (
	restartPhaseNone restartPhase = iota
	restartPhaseStopping
	restartPhaseStarting
)

// jobEntry is the engine's internal bookkeeping for one admitted job.
type jobEntry struct {
	id       types.JobId
	unit     types.UnitId
	kind     types.JobKind
	mode     types.JobMode
	isManual bool
	state    types.JobState
	phase    restartPhase
	deadline time.Time
	timer    *time.Timer
}

// Engine owns the pending/running job set, one job per unit at a time:
// the merge rules assume a single slot, not a queue, per unit.
type Engine struct {
	mu sync.Mutex

	graph      DepGraph
	units      UnitResolver
	dispatcher EmergencyDispatcher
	log        *log.Logger

	jobs   map[types.JobId]*jobEntry
	byUnit map[types.UnitId]*jobEntry
	nextID types.JobId

	defaultTimeout map[types.JobKind]time.Duration
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithDispatcher registers the emergency-action dispatcher.
func WithDispatcher(d EmergencyDispatcher) Option {
	return func(e *Engine) { e.dispatcher = d }
}

// WithLogger attaches a logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithDefaultTimeout overrides the default deadline for a job kind.
func WithDefaultTimeout(kind types.JobKind, d time.Duration) Option {
	return func(e *Engine) { e.defaultTimeout[kind] = d }
}

// New constructs an Engine bound to graph and units.
func New(graph DepGraph, units UnitResolver, opts ...Option) *Engine {
	e := &Engine{
		graph:  graph,
		units:  units,
		jobs:   make(map[types.JobId]*jobEntry),
		byUnit: make(map[types.UnitId]*jobEntry),
		defaultTimeout: map[types.JobKind]time.Duration{
			types.JobStart:   90 * time.Second,
			types.JobStop:    90 * time.Second,
			types.JobReload:  90 * time.Second,
			types.JobRestart: 180 * time.Second,
			types.JobVerify:  10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Job is the externally-visible snapshot of an admitted job.
type Job struct {
	ID       types.JobId
	Unit     types.UnitId
	Kind     types.JobKind
	State    types.JobState
	IsManual bool
}

// Status returns a snapshot of jobID, if it still exists.
func (e *Engine) Status(jobID types.JobId) (Job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	return Job{ID: j.id, Unit: j.unit, Kind: j.kind, State: j.state, IsManual: j.isManual}, true
}

// JobFor returns the pending/running job targeting unit, if any.
func (e *Engine) JobFor(unit types.UnitId) (Job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.byUnit[unit]
	if !ok {
		return Job{}, false
	}
	return Job{ID: j.id, Unit: j.unit, Kind: j.kind, State: j.state, IsManual: j.isManual}, true
}

func (e *Engine) timeoutFor(kind types.JobKind) time.Duration {
	if d, ok := e.defaultTimeout[kind]; ok {
		return d
	}
	return 90 * time.Second
}

