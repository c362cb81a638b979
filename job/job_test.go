package job

import (
	"errors"
	"testing"
	"time"

	"github.com/sysmaster-go/sysmaster/types"
)

var errStartLimit = errors.New("start limit hit")

// fakeUnit is a minimal JobUnit double. Start/Stop/Reload return
// synchronously: a nil error means the engine must wait for an explicit
// TryFinish call (as a real async unit operation would require) before the
// job is considered complete; a non-nil error fails the job immediately,
// matching runLocked's synchronous error path.
type fakeUnit struct {
	id               types.UnitId
	state            types.ActiveState
	ignoreOnIsolate  bool
	jobTimeoutAction types.EmergencyAction
	startLimitHit    bool
	startLimitAction types.EmergencyAction
	startErr         error
	stopErr          error
	reloadErr        error
	starts, stops    int
	reloads          int
}

func (f *fakeUnit) ID() types.UnitId { return f.id }
func (f *fakeUnit) Start() error {
	f.starts++
	if f.startErr == nil {
		f.state = types.ActiveStateActive
	}
	return f.startErr
}
func (f *fakeUnit) Stop(force bool) error {
	f.stops++
	if f.stopErr == nil {
		f.state = types.ActiveStateInactive
	}
	return f.stopErr
}
func (f *fakeUnit) Reload() error {
	f.reloads++
	return f.reloadErr
}
func (f *fakeUnit) CurrentActiveState() types.ActiveState   { return f.state }
func (f *fakeUnit) IgnoreOnIsolate() bool                   { return f.ignoreOnIsolate }
func (f *fakeUnit) JobTimeoutAction() types.EmergencyAction { return f.jobTimeoutAction }
func (f *fakeUnit) StartLimitHit() bool                     { return f.startLimitHit }
func (f *fakeUnit) StartLimitAction() types.EmergencyAction { return f.startLimitAction }

// fakeGraph is a minimal DepGraph double driven by plain adjacency maps.
type fakeGraph struct {
	rel  map[types.UnitRelation]map[types.UnitId][]types.UnitId
	atom map[types.UnitAtom]map[types.UnitId][]types.UnitId
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		rel:  make(map[types.UnitRelation]map[types.UnitId][]types.UnitId),
		atom: make(map[types.UnitAtom]map[types.UnitId][]types.UnitId),
	}
}

func (g *fakeGraph) addRel(src types.UnitId, rel types.UnitRelation, dst types.UnitId) {
	if g.rel[rel] == nil {
		g.rel[rel] = make(map[types.UnitId][]types.UnitId)
	}
	g.rel[rel][src] = append(g.rel[rel][src], dst)
}

func (g *fakeGraph) DepGets(src types.UnitId, relation types.UnitRelation) []types.UnitId {
	return g.rel[relation][src]
}

func (g *fakeGraph) DepGetsAtom(src types.UnitId, atom types.UnitAtom) []types.UnitId {
	return g.atom[atom][src]
}

// fakeResolver is a minimal UnitResolver double.
type fakeResolver struct {
	units map[types.UnitId]*fakeUnit
}

func newFakeResolver(units ...*fakeUnit) *fakeResolver {
	r := &fakeResolver{units: make(map[types.UnitId]*fakeUnit)}
	for _, u := range units {
		r.units[u.id] = u
	}
	return r
}

func (r *fakeResolver) Resolve(id types.UnitId) (JobUnit, bool) {
	u, ok := r.units[id]
	return u, ok
}

func (r *fakeResolver) AllUnits() []JobUnit {
	out := make([]JobUnit, 0, len(r.units))
	for _, u := range r.units {
		out = append(out, u)
	}
	return out
}

// fakeDispatcher records dispatched emergency actions.
type fakeDispatcher struct {
	calls []struct {
		unit   types.UnitId
		action types.EmergencyAction
	}
}

func (d *fakeDispatcher) Dispatch(id types.UnitId, action types.EmergencyAction) {
	d.calls = append(d.calls, struct {
		unit   types.UnitId
		action types.EmergencyAction
	}{id, action})
}

func TestAdmitStartRunsImmediatelyWhenNoPredecessors(t *testing.T) {
	graph := newFakeGraph()
	a := &fakeUnit{id: "a.service", state: types.ActiveStateInactive}
	resolver := newFakeResolver(a)
	e := New(graph, resolver)

	jobs, err := e.Admit(types.JobConf{Target: "a.service", Kind: types.JobStart}, types.JobModeReplace)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	if a.starts != 1 {
		t.Fatalf("expected Start invoked once, got %d", a.starts)
	}
	if jobs[0].State != types.JobRunning {
		t.Fatalf("expected job Running once released, got %v", jobs[0].State)
	}
}

func TestAdmitPullsInRequires(t *testing.T) {
	graph := newFakeGraph()
	graph.addRel("a.service", types.UnitRequires, "b.service")
	a := &fakeUnit{id: "a.service", state: types.ActiveStateInactive}
	b := &fakeUnit{id: "b.service", state: types.ActiveStateInactive}
	resolver := newFakeResolver(a, b)
	e := New(graph, resolver)

	jobs, err := e.Admit(types.JobConf{Target: "a.service", Kind: types.JobStart}, types.JobModeReplace)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs (a + pulled-in b), got %d", len(jobs))
	}
	if b.starts != 1 {
		t.Fatalf("expected b.service Start invoked, got %d", b.starts)
	}
}

func TestAdmitIsolateStopsUnrelatedLoadedUnits(t *testing.T) {
	graph := newFakeGraph()
	target := &fakeUnit{id: "rescue.target", state: types.ActiveStateInactive}
	unrelated := &fakeUnit{id: "other.service", state: types.ActiveStateActive}
	ignored := &fakeUnit{id: "dbus.service", state: types.ActiveStateActive, ignoreOnIsolate: true}
	resolver := newFakeResolver(target, unrelated, ignored)
	e := New(graph, resolver)

	jobs, err := e.Admit(types.JobConf{Target: "rescue.target", Kind: types.JobStart}, types.JobModeIsolate)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs (start target + stop unrelated), got %d", len(jobs))
	}

	var stoppedOther, touchedDbus bool
	for _, j := range jobs {
		if j.Unit == "other.service" && j.Kind == types.JobStop {
			stoppedOther = true
		}
		if j.Unit == "dbus.service" {
			touchedDbus = true
		}
	}
	if !stoppedOther {
		t.Fatalf("expected other.service to get a Stop job under Isolate, got %+v", jobs)
	}
	if touchedDbus {
		t.Fatalf("expected dbus.service (IgnoreOnIsolate) to be left alone, got %+v", jobs)
	}
	if unrelated.stops != 1 {
		t.Fatalf("expected other.service.Stop invoked, got %d", unrelated.stops)
	}
	if ignored.stops != 0 {
		t.Fatalf("expected dbus.service.Stop never invoked, got %d", ignored.stops)
	}
}

func TestAdmitIgnoreRequirementsSkipsRequiresButKeepsWants(t *testing.T) {
	graph := newFakeGraph()
	graph.addRel("a.service", types.UnitRequires, "b.service")
	graph.addRel("a.service", types.UnitWants, "c.service")
	a := &fakeUnit{id: "a.service", state: types.ActiveStateInactive}
	b := &fakeUnit{id: "b.service", state: types.ActiveStateInactive}
	c := &fakeUnit{id: "c.service", state: types.ActiveStateInactive}
	resolver := newFakeResolver(a, b, c)
	e := New(graph, resolver)

	jobs, err := e.Admit(types.JobConf{Target: "a.service", Kind: types.JobStart}, types.JobModeIgnoreRequirements)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected a + c only (b skipped via IgnoreRequirements), got %d", len(jobs))
	}
	if b.starts != 0 {
		t.Fatalf("expected b.service never started, got %d", b.starts)
	}
	if c.starts != 1 {
		t.Fatalf("expected c.service started via Wants, got %d", c.starts)
	}
}

func TestOrderingPredecessorBlocksReleaseUntilTryFinish(t *testing.T) {
	graph := newFakeGraph()
	graph.addRel("a.service", types.UnitAfter, "b.service")
	a := &fakeUnit{id: "a.service", state: types.ActiveStateInactive}
	b := &fakeUnit{id: "b.service", state: types.ActiveStateInactive}
	resolver := newFakeResolver(a, b)
	e := New(graph, resolver)

	if _, err := e.Admit(types.JobConf{Target: "b.service", Kind: types.JobStart}, types.JobModeReplace); err != nil {
		t.Fatalf("Admit b: %v", err)
	}

	jobs, err := e.Admit(types.JobConf{Target: "a.service", Kind: types.JobStart}, types.JobModeIgnoreDeps)
	if err != nil {
		t.Fatalf("Admit a: %v", err)
	}
	if a.starts != 0 {
		t.Fatalf("expected a.service not yet started while b's job is pending, got %d", a.starts)
	}
	if jobs[0].State != types.JobWaiting {
		t.Fatalf("expected a.service Start to stay Waiting, got %v", jobs[0].State)
	}

	e.TryFinish("b.service", types.ActiveStateActivating, types.ActiveStateActive)

	if a.starts != 1 {
		t.Fatalf("expected a.service released and started after b finished, got %d", a.starts)
	}
}

func TestAdmitFailModeRejectsConflictingJob(t *testing.T) {
	graph := newFakeGraph()
	a := &fakeUnit{id: "a.service", state: types.ActiveStateActive}
	resolver := newFakeResolver(a)
	e := New(graph, resolver)

	if _, err := e.Admit(types.JobConf{Target: "a.service", Kind: types.JobStop}, types.JobModeReplace); err != nil {
		t.Fatalf("Admit stop: %v", err)
	}
	if a.stops != 1 {
		t.Fatalf("expected stop attempted, got %d", a.stops)
	}

	// a's Stop job stays Running until TryFinish observes Inactive, so a
	// conflicting Start under Fail mode must be rejected.
	_, err := e.Admit(types.JobConf{Target: "a.service", Kind: types.JobStart}, types.JobModeFail)
	if err == nil {
		t.Fatal("expected Fail-mode Admit to reject a conflicting pending job")
	}
}

func TestAdmitReplaceModeCancelsConflictingJob(t *testing.T) {
	graph := newFakeGraph()
	a := &fakeUnit{id: "a.service", state: types.ActiveStateActive}
	resolver := newFakeResolver(a)
	e := New(graph, resolver)

	if _, err := e.Admit(types.JobConf{Target: "a.service", Kind: types.JobStop}, types.JobModeReplace); err != nil {
		t.Fatalf("Admit stop: %v", err)
	}

	jobs, err := e.Admit(types.JobConf{Target: "a.service", Kind: types.JobStart}, types.JobModeReplace)
	if err != nil {
		t.Fatalf("expected Replace mode to cancel the existing Stop job and install Start: %v", err)
	}
	if jobs[0].Kind != types.JobStart {
		t.Fatalf("expected the installed job to be Start, got %v", jobs[0].Kind)
	}
	if a.starts != 1 {
		t.Fatalf("expected a.service Start invoked once, got %d", a.starts)
	}
}

func TestCancelWaitingJobRemovesWithoutInvokingUnit(t *testing.T) {
	graph := newFakeGraph()
	graph.addRel("a.service", types.UnitAfter, "b.service")
	a := &fakeUnit{id: "a.service", state: types.ActiveStateInactive}
	b := &fakeUnit{id: "b.service", state: types.ActiveStateActive}
	resolver := newFakeResolver(a, b)
	e := New(graph, resolver)

	if _, err := e.Admit(types.JobConf{Target: "b.service", Kind: types.JobStop}, types.JobModeReplace); err != nil {
		t.Fatalf("Admit b: %v", err)
	}
	jobs, err := e.Admit(types.JobConf{Target: "a.service", Kind: types.JobStart}, types.JobModeReplace)
	if err != nil {
		t.Fatalf("Admit a: %v", err)
	}
	if jobs[0].State != types.JobWaiting {
		t.Fatalf("expected a.service Start to stay Waiting behind b's pending job, got %v", jobs[0].State)
	}

	if !e.Cancel(jobs[0].ID) {
		t.Fatal("expected Cancel to find the job")
	}
	if a.starts != 0 {
		t.Fatalf("expected Start never invoked on a cancelled Waiting job, got %d", a.starts)
	}
	if _, ok := e.Status(jobs[0].ID); ok {
		t.Fatal("expected cancelled job to be gone")
	}
}

func TestTryFinishAdvancesRestartFromStopToStartPhase(t *testing.T) {
	graph := newFakeGraph()
	a := &fakeUnit{id: "a.service", state: types.ActiveStateActive}
	resolver := newFakeResolver(a)
	e := New(graph, resolver)

	jobs, err := e.Admit(types.JobConf{Target: "a.service", Kind: types.JobRestart}, types.JobModeReplace)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if a.stops != 1 || a.starts != 0 {
		t.Fatalf("expected only the Stop leg to have run so far, got stops=%d starts=%d", a.stops, a.starts)
	}

	e.TryFinish("a.service", types.ActiveStateDeactivating, types.ActiveStateInactive)
	if a.starts != 1 {
		t.Fatalf("expected the Start leg to run once Stop completed, got %d", a.starts)
	}
	if _, ok := e.Status(jobs[0].ID); !ok {
		t.Fatal("expected restart job to still be open during its Start leg")
	}

	e.TryFinish("a.service", types.ActiveStateActivating, types.ActiveStateActive)
	if _, ok := e.Status(jobs[0].ID); ok {
		t.Fatal("expected restart job finished once its Start leg reaches Active")
	}
}

func TestExpireDispatchesJobTimeoutAction(t *testing.T) {
	graph := newFakeGraph()
	a := &fakeUnit{id: "a.service", state: types.ActiveStateActive, jobTimeoutAction: types.EmergencyActionRebootForce}
	resolver := newFakeResolver(a)
	dispatcher := &fakeDispatcher{}
	e := New(graph, resolver, WithDispatcher(dispatcher), WithDefaultTimeout(types.JobStop, 10*time.Millisecond))

	jobs, err := e.Admit(types.JobConf{Target: "a.service", Kind: types.JobStop}, types.JobModeReplace)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := e.Status(jobs[0].ID); !ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("job never timed out")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if len(dispatcher.calls) != 1 {
		t.Fatalf("expected one dispatched action, got %d", len(dispatcher.calls))
	}
	if dispatcher.calls[0].action != types.EmergencyActionRebootForce {
		t.Fatalf("expected RebootForce dispatched, got %v", dispatcher.calls[0].action)
	}
}

func TestRunLockedDispatchesStartLimitActionOnRateLimitedStart(t *testing.T) {
	graph := newFakeGraph()
	a := &fakeUnit{
		id: "a.service", state: types.ActiveStateInactive,
		startErr: errStartLimit, startLimitHit: true, startLimitAction: types.EmergencyActionPoweroffForce,
	}
	resolver := newFakeResolver(a)
	dispatcher := &fakeDispatcher{}
	e := New(graph, resolver, WithDispatcher(dispatcher))

	if _, err := e.Admit(types.JobConf{Target: "a.service", Kind: types.JobStart}, types.JobModeReplace); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if len(dispatcher.calls) != 1 {
		t.Fatalf("expected one dispatched action, got %d", len(dispatcher.calls))
	}
	if dispatcher.calls[0].action != types.EmergencyActionPoweroffForce {
		t.Fatalf("expected PoweroffForce dispatched, got %v", dispatcher.calls[0].action)
	}
}

func TestJobForReturnsPendingJob(t *testing.T) {
	graph := newFakeGraph()
	graph.addRel("a.service", types.UnitAfter, "b.service")
	a := &fakeUnit{id: "a.service", state: types.ActiveStateInactive}
	b := &fakeUnit{id: "b.service", state: types.ActiveStateActive}
	resolver := newFakeResolver(a, b)
	e := New(graph, resolver)

	if _, err := e.Admit(types.JobConf{Target: "b.service", Kind: types.JobStop}, types.JobModeReplace); err != nil {
		t.Fatalf("Admit b: %v", err)
	}
	if _, err := e.Admit(types.JobConf{Target: "a.service", Kind: types.JobStart}, types.JobModeReplace); err != nil {
		t.Fatalf("Admit a: %v", err)
	}

	job, ok := e.JobFor("a.service")
	if !ok {
		t.Fatal("expected a.service to have a pending job")
	}
	if job.Kind != types.JobStart {
		t.Fatalf("expected Start, got %v", job.Kind)
	}
}
