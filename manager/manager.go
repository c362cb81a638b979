// Package manager implements the unit manager façade: the public
// start/stop/reload/restart/status surface, the state-bus subscription
// that drives the job engine and emergency-action dispatch, and
// mask/unmask/enable/disable unit-file management. It is the component
// that wires together unitdb, unit, loader, job, journal and supervise
// into one long-running load -> start -> watch -> notify -> try_finish
// loop.
package manager

import (
	"context"
	"sync"

	"github.com/sysmaster-go/sysmaster/errs"
	"github.com/sysmaster-go/sysmaster/job"
	"github.com/sysmaster-go/sysmaster/journal"
	"github.com/sysmaster-go/sysmaster/loader"
	"github.com/sysmaster-go/sysmaster/log"
	"github.com/sysmaster-go/sysmaster/metrics"
	"github.com/sysmaster-go/sysmaster/types"
	"github.com/sysmaster-go/sysmaster/unit"
	"github.com/sysmaster-go/sysmaster/unitdb"
)

// Notifier forwards unit state changes and emergency-action dispatches to
// an optional downstream subscriber. A nil Notifier is a no-op.
type Notifier interface {
	NotifyUnitState(unit types.UnitId, old, next types.ActiveState)
	NotifyEmergency(unit types.UnitId, action types.EmergencyAction)
}

// Manager is the façade over the whole unit lifecycle. Not safe for
// concurrent Bootstrap/New calls; once running, its public methods and
// state-bus callback are safe to call from multiple goroutines.
type Manager struct {
	db      *unitdb.Store
	loader  *loader.Loader
	jobs    *job.Engine
	journal *journal.Store
	log     *log.Logger
	metrics *metrics.Collector

	etcDir   string
	notifier Notifier

	mu        sync.Mutex
	reloading bool
	queued    []queuedAction
	state     RuntimeState
}

type queuedAction struct {
	unit   types.UnitId
	action types.EmergencyAction
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithLogger attaches a logger.
func WithLogger(l *log.Logger) Option { return func(m *Manager) { m.log = l } }

// WithMetrics attaches a metrics collector.
func WithMetrics(c *metrics.Collector) Option { return func(m *Manager) { m.metrics = c } }

// WithNotifier attaches an optional downstream notifier.
func WithNotifier(n Notifier) Option { return func(m *Manager) { m.notifier = n } }

// WithJournal attaches the reliability journal used by Bootstrap.
func WithJournal(j *journal.Store) Option { return func(m *Manager) { m.journal = j } }

// New constructs a Manager over db, wiring a job.Engine bound to a resolver
// over db and a loader bound to resolver wrapped with mask-awareness under
// etcDir. resolver supplies fragment paths for unit ids the way a
// production YAML/INI loader or a test fixture map would.
func New(db *unitdb.Store, etcDir string, resolver loader.FragmentResolver, opts ...Option) *Manager {
	m := &Manager{db: db, etcDir: etcDir}
	for _, opt := range opts {
		opt(m)
	}

	m.loader = loader.New(db, maskAwareResolver{etcDir: etcDir, inner: resolver})
	m.jobs = job.New(db, &jobUnitResolver{db: db}, job.WithDispatcher(m), job.WithLogger(m.log))
	return m
}

// jobUnitResolver adapts *unitdb.Store's Entry-typed accessors to
// job.UnitResolver's JobUnit-typed ones. *unit.Unit satisfies job.JobUnit
// structurally, so the type assertion below always succeeds for entries
// this manager itself inserted via loader.GetOrCreate.
type jobUnitResolver struct {
	db *unitdb.Store
}

func (r *jobUnitResolver) Resolve(id types.UnitId) (job.JobUnit, bool) {
	e, ok := r.db.UnitsGet(id)
	if !ok {
		return nil, false
	}
	ju, ok := e.(job.JobUnit)
	return ju, ok
}

func (r *jobUnitResolver) AllUnits() []job.JobUnit {
	entries := r.db.UnitsGetAll(nil)
	out := make([]job.JobUnit, 0, len(entries))
	for _, e := range entries {
		if ju, ok := e.(job.JobUnit); ok {
			out = append(out, ju)
		}
	}
	return out
}

// RegisterFactory binds a unit type to the factory LoadUnit uses to
// construct its sub-unit on first reference.
func (m *Manager) RegisterFactory(t types.UnitType, f loader.Factory) {
	m.loader.RegisterFactory(t, f)
}

// LoadUnit resolves or instantiates id, wiring its state-bus publish
// function and ambient collaborators, then enqueues it for fragment load.
// Callers must call FlushLoadQueue, which drains both the load queue and
// the target-dependency queue, before starting any unit.
func (m *Manager) LoadUnit(id types.UnitId, opts ...unit.Option) (*unit.Unit, error) {
	allOpts := append([]unit.Option{
		unit.WithNotify(m.onStateChange),
		unit.WithLogger(m.log),
		unit.WithMetrics(m.metrics),
	}, opts...)
	u, err := m.loader.GetOrCreate(id, allOpts...)
	if err != nil {
		return nil, err
	}
	m.loader.Enqueue(id)
	return u, nil
}

// FlushLoadQueue drains the load and target-dependency queues.
func (m *Manager) FlushLoadQueue() []error {
	errsOut := m.loader.FlushLoadQueue()
	errsOut = append(errsOut, m.loader.FlushTargetDepQueue()...)
	return errsOut
}

func (m *Manager) resolveUnit(id types.UnitId) (*unit.Unit, bool) {
	e, ok := m.db.UnitsGet(id)
	if !ok {
		return nil, false
	}
	u, ok := e.(*unit.Unit)
	return u, ok
}

// StartUnit admits a Start transaction for name under mode. isManual
// enforces RefuseManualStart. mode is typically JobModeReplace; callers
// isolating onto a target (the six system power-state verbs) pass
// JobModeIsolate so every other loaded unit not reachable from target is
// stopped as part of the same transaction.
func (m *Manager) StartUnit(name types.UnitId, isManual bool, mode types.JobMode) ([]job.Job, error) {
	if m.isMasked(name) {
		return nil, errs.LoadError("manager.StartUnit", string(name), types.LoadStateMasked)
	}
	u, ok := m.resolveUnit(name)
	if !ok {
		return nil, errs.New(errs.KindNoent, "manager.StartUnit", string(name))
	}
	if isManual && u.RefuseManualStart() {
		return nil, errs.New(errs.KindRefuseManualStart, "manager.StartUnit", string(name))
	}
	return m.jobs.Admit(types.JobConf{Target: name, Kind: types.JobStart, IsManual: isManual}, mode)
}

// StopUnit admits a Stop transaction for name. isManual enforces
// RefuseManualStop.
func (m *Manager) StopUnit(name types.UnitId, isManual bool) ([]job.Job, error) {
	u, ok := m.resolveUnit(name)
	if !ok {
		return nil, errs.New(errs.KindNoent, "manager.StopUnit", string(name))
	}
	if isManual && u.RefuseManualStop() {
		return nil, errs.New(errs.KindRefuseManualStop, "manager.StopUnit", string(name))
	}
	return m.jobs.Admit(types.JobConf{Target: name, Kind: types.JobStop, IsManual: isManual}, types.JobModeReplace)
}

// Reload admits a Reload transaction for name.
func (m *Manager) Reload(name types.UnitId, isManual bool) ([]job.Job, error) {
	if _, ok := m.resolveUnit(name); !ok {
		return nil, errs.New(errs.KindNoent, "manager.Reload", string(name))
	}
	return m.jobs.Admit(types.JobConf{Target: name, Kind: types.JobReload, IsManual: isManual}, types.JobModeReplace)
}

// RestartUnit admits a Restart transaction for name.
func (m *Manager) RestartUnit(name types.UnitId, isManual bool) ([]job.Job, error) {
	if _, ok := m.resolveUnit(name); !ok {
		return nil, errs.New(errs.KindNoent, "manager.RestartUnit", string(name))
	}
	return m.jobs.Admit(types.JobConf{Target: name, Kind: types.JobRestart, IsManual: isManual}, types.JobModeReplace)
}

// UnitStatus is the externally-visible snapshot get_unit_status/
// get_all_units returns.
type UnitStatus struct {
	ID          types.UnitId
	Type        types.UnitType
	LoadState   types.LoadState
	ActiveState types.ActiveState
	SubState    string
	Job         *job.Job
}

// GetUnitStatus returns the current snapshot for name.
func (m *Manager) GetUnitStatus(name types.UnitId) (UnitStatus, bool) {
	u, ok := m.resolveUnit(name)
	if !ok {
		return UnitStatus{}, false
	}
	return m.statusOf(u), true
}

// GetAllUnits returns the current snapshot of every known unit.
func (m *Manager) GetAllUnits() []UnitStatus {
	entries := m.db.UnitsGetAll(nil)
	out := make([]UnitStatus, 0, len(entries))
	for _, e := range entries {
		if u, ok := e.(*unit.Unit); ok {
			out = append(out, m.statusOf(u))
		}
	}
	return out
}

func (m *Manager) statusOf(u *unit.Unit) UnitStatus {
	st := UnitStatus{
		ID:          u.ID(),
		Type:        u.Type(),
		LoadState:   u.LoadState(),
		ActiveState: u.CurrentActiveState(),
		SubState:    u.SubState(),
	}
	if j, ok := m.jobs.JobFor(u.ID()); ok {
		st.Job = &j
	}
	return st
}

// Bootstrap replays the reliability journal and reconnects every known
// unit's external resources. Per-job-transaction rollback is not modeled:
// the job engine keeps jobs in memory only, only a unit's own last
// recorded step is durable, so a non-empty last frame here can only be
// logged and cleared, not precisely replayed.
func (m *Manager) Bootstrap(ctx context.Context) error {
	if m.journal == nil {
		return nil
	}

	tables, err := m.journal.Replay(ctx)
	if err != nil {
		return err
	}
	if m.log != nil {
		m.log.Info("journal replay complete", map[string]any{"tables": len(tables)})
	}

	entries := m.db.UnitsGetAll(nil)
	for _, e := range entries {
		if u, ok := e.(*unit.Unit); ok {
			u.ColdplugEntry()
		}
	}

	frame, err := m.journal.ReadFrame()
	if err != nil {
		return err
	}
	if !frame.IsEmpty() {
		if m.log != nil {
			m.log.Warn("compensating stale last frame from previous run", map[string]any{
				"kind": frame.Kind.String(), "sub": frame.Sub,
			})
		}
		if err := m.journal.ClearFrame(); err != nil {
			return err
		}
	}
	return nil
}
