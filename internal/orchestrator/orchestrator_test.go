package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mpataki/deck/internal/launch"
	"github.com/mpataki/deck/internal/models"
	"github.com/mpataki/deck/internal/notify"
	"github.com/mpataki/deck/internal/process"
	"github.com/mpataki/deck/internal/reconcile"
	"github.com/mpataki/deck/internal/registry"
)

type fakeStore struct {
	actions []*models.Action
	local   []*models.Variable
	global  []*models.Variable
}

func (s *fakeStore) ListActions(int64) ([]*models.Action, error) {
	return s.actions, nil
}

func (s *fakeStore) ListVariables(int64) ([]*models.Variable, error) {
	return s.local, nil
}

func (s *fakeStore) ListGlobalVariables() ([]*models.Variable, error) {
	return s.global, nil
}

type fakeSpawner struct {
	mu      sync.Mutex
	labels  []string
	plans   []*launch.Plan
	fail    map[string]bool
	nextPID int
	panicOn string
}

func (s *fakeSpawner) Spawn(_ context.Context, plan *launch.Plan) models.LaunchResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if plan.Label == s.panicOn {
		panic("boom")
	}
	s.labels = append(s.labels, plan.Label)
	s.plans = append(s.plans, plan)
	if s.fail[plan.Label] {
		return models.LaunchFailed("Failed to start " + plan.Label + ": executable file not found")
	}
	if plan.Mode != launch.ModeSpawn {
		return models.LaunchSucceeded("ok", 0)
	}
	s.nextPID++
	return models.LaunchSucceeded(plan.Label+" launched", 1000+s.nextPID)
}

type fakeTerminator struct {
	killed []int
	err    error
}

func (t *fakeTerminator) Terminate(_ context.Context, pid int) error {
	t.killed = append(t.killed, pid)
	return t.err
}

type fakeRuns struct {
	mu   sync.Mutex
	runs []*models.Run
}

func (r *fakeRuns) CreateRun(run *models.Run) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return int64(len(r.runs)), nil
}

func (r *fakeRuns) PruneRuns(int64, int) (int64, error) { return 0, nil }

// lockedJournal accepts entries but cannot delete them.
type lockedJournal struct {
	mu   sync.Mutex
	rows map[string]models.RunningAction
}

func (j *lockedJournal) InsertRunningAction(ra *models.RunningAction) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.rows[ra.ID] = *ra
	return nil
}

func (j *lockedJournal) UpdateRunningAction(ra *models.RunningAction) error {
	return j.InsertRunningAction(ra)
}

func (j *lockedJournal) DeleteRunningAction(string) (bool, error) {
	return false, errors.New("database is locked")
}

func (j *lockedJournal) ListRunningActions() ([]*models.RunningAction, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []*models.RunningAction
	for _, ra := range j.rows {
		ra := ra
		out = append(out, &ra)
	}
	return out, nil
}

type deadProcs struct{}

func (deadProcs) Alive(context.Context, int) (bool, error) { return false, nil }

type fixture struct {
	orch    *Orchestrator
	store   *fakeStore
	spawner *fakeSpawner
	term    *fakeTerminator
	reg     *registry.Registry
	loop    *reconcile.Loop
	runs    *fakeRuns
	events  []notify.Event
}

func newFixture(opts ...registry.Option) *fixture {
	f := &fixture{
		store:   &fakeStore{},
		spawner: &fakeSpawner{fail: map[string]bool{}},
		term:    &fakeTerminator{},
		reg:     registry.New(zap.NewNop(), opts...),
		runs:    &fakeRuns{},
	}
	f.loop = reconcile.New(f.reg, f.runs, deadProcs{}, zap.NewNop())
	builder := launch.NewBuilder(launch.Linux, launch.Settings{})
	builder.LookPath = func(string) (string, error) { return "", errors.New("not found") }
	f.orch = New(Deps{
		Store:    f.store,
		Planner:  builder,
		Spawner:  f.spawner,
		Procs:    f.term,
		Registry: f.reg,
		Loop:     f.loop,
		Notifier: notify.Func(func(e notify.Event) { f.events = append(f.events, e) }),
		Logger:   zap.NewNop(),
	})
	return f
}

func commandAction(id int64, name string, order int) *models.Action {
	return &models.Action{
		ID:           id,
		WorkspaceID:  1,
		Name:         name,
		ActionType:   "command",
		Config:       `{"command":"run-` + name + `"}`,
		Detached:     true,
		TrackProcess: true,
		OrderIndex:   order,
	}
}

func TestBatchContinuesAfterFailures(t *testing.T) {
	f := newFixture()
	broken := commandAction(2, "broken", 1)
	broken.Config = `{"command":`
	f.store.actions = []*models.Action{
		commandAction(4, "last", 3),
		commandAction(1, "first", 0),
		broken,
		commandAction(3, "missing", 2),
	}
	f.spawner.fail["missing"] = true

	summary, err := f.orch.LaunchWorkspace(context.Background(), 1)
	require.NoError(t, err)

	require.Len(t, summary.Results, 4)
	assert.Equal(t, 4, summary.TotalCount)
	assert.Equal(t, 2, summary.SuccessCount)

	names := []string{}
	for _, r := range summary.Results {
		names = append(names, r.Action.Name)
	}
	assert.Equal(t, []string{"first", "broken", "missing", "last"}, names)
	assert.False(t, summary.Results[1].Result.Success)
	assert.Contains(t, summary.Results[1].Result.Message, "broken")
	assert.False(t, summary.Results[2].Result.Success)
	assert.True(t, summary.Results[3].Result.Success)

	// the config error never reached the spawner
	assert.Equal(t, []string{"first", "missing", "last"}, f.spawner.labels)
	assert.Len(t, f.reg.GetAll(), 2)

	last := f.events[len(f.events)-1]
	assert.Equal(t, "Launched 2/4 actions", last.Message)
	assert.Equal(t, notify.LevelWarning, last.Level)
}

func TestSortActionsIsStable(t *testing.T) {
	actions := []*models.Action{
		{ID: 1, OrderIndex: 1},
		{ID: 2, OrderIndex: 0},
		{ID: 3, OrderIndex: 1},
		{ID: 4, OrderIndex: 0},
	}
	ordered := SortActions(actions)

	ids := []int64{}
	for _, a := range ordered {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []int64{2, 4, 1, 3}, ids)
	assert.Equal(t, int64(1), actions[0].ID)
}

func TestOnlyTrackedLaunchesEnterRegistry(t *testing.T) {
	f := newFixture()
	untracked := commandAction(1, "untracked", 0)
	untracked.TrackProcess = false
	url := &models.Action{ID: 2, WorkspaceID: 1, Name: "docs", ActionType: "url", Config: `{"url":"https://example.com"}`, TrackProcess: true}
	delay := &models.Action{ID: 3, WorkspaceID: 1, Name: "wait", ActionType: "delay", Config: `{"duration_ms":1}`, TrackProcess: true}
	tracked := commandAction(4, "tracked", 1)

	for _, a := range []*models.Action{untracked, url, delay, tracked} {
		require.True(t, f.orch.LaunchAction(context.Background(), a, nil).Success)
	}

	all := f.reg.GetAll()
	require.Len(t, all, 1)
	assert.Equal(t, int64(4), all[0].ActionID)
	assert.Equal(t, "tracked", all[0].ActionName)
	assert.True(t, f.reg.IsRunning(1, 4))
}

func TestBuildErrorNeverSpawns(t *testing.T) {
	f := newFixture()
	a := &models.Action{ID: 9, WorkspaceID: 1, Name: "ghost", ActionType: "tool",
		Config: `{"source":"custom","tool_name":"ghost","tool_type":"binary"}`, TrackProcess: true}

	result := f.orch.LaunchAction(context.Background(), a, nil)
	assert.False(t, result.Success)
	assert.Nil(t, result.ProcessID)
	assert.Contains(t, result.Message, "neither command nor binary_path")
	assert.Empty(t, f.spawner.labels)
	assert.Equal(t, notify.LevelError, f.events[0].Level)
}

func TestPanicBecomesFailedResult(t *testing.T) {
	f := newFixture()
	f.spawner.panicOn = "bad"

	result := f.orch.LaunchAction(context.Background(), commandAction(1, "bad", 0), nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "internal error")
}

func TestLaunchUsesMergedVariables(t *testing.T) {
	f := newFixture()
	wsID := int64(1)
	f.store.global = []*models.Variable{{Key: "BIN", Value: "global-bin", Enabled: true}}
	f.store.local = []*models.Variable{{WorkspaceID: &wsID, Key: "BIN", Value: "local-bin", Enabled: true}}

	a := commandAction(1, "vars", 0)
	a.Detached = false
	a.Config = `{"command":"${BIN}"}`
	require.True(t, f.orch.Launch(context.Background(), a).Success)

	require.Len(t, f.spawner.plans, 1)
	assert.Contains(t, f.spawner.plans[0].Args[len(f.spawner.plans[0].Args)-1], "local-bin")
}

func TestStopRecordsCancelledRun(t *testing.T) {
	f := newFixture()
	a := commandAction(1, "api", 0)
	result := f.orch.LaunchAction(context.Background(), a, nil)
	require.True(t, result.Success)

	run, err := f.orch.StopAction(context.Background(), 1, 1)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, models.RunStatusCancelled, run.Status)
	assert.Nil(t, run.ErrorMessage)
	assert.Equal(t, []int{*result.ProcessID}, f.term.killed)
	assert.Empty(t, f.reg.GetAll())

	// the next tick has nothing left to record
	assert.Empty(t, f.loop.Tick(context.Background()))
	assert.Len(t, f.runs.runs, 1)
}

func TestStopUnknownAction(t *testing.T) {
	f := newFixture()
	_, err := f.orch.StopAction(context.Background(), 1, 42)
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.Empty(t, f.runs.runs)
}

func TestStopAfterReconcileWritesNoSecondRun(t *testing.T) {
	f := newFixture()
	require.True(t, f.orch.LaunchAction(context.Background(), commandAction(1, "api", 0), nil).Success)

	require.Len(t, f.loop.Tick(context.Background()), 1)

	_, err := f.orch.StopAction(context.Background(), 1, 1)
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.Len(t, f.runs.runs, 1)
	assert.Equal(t, models.RunStatusFailed, f.runs.runs[0].Status)
}

func TestStopFailureStillRemovesEntry(t *testing.T) {
	f := newFixture()
	f.term.err = errors.New("operation not permitted")
	require.True(t, f.orch.LaunchAction(context.Background(), commandAction(1, "api", 0), nil).Success)

	run, err := f.orch.StopAction(context.Background(), 1, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operation not permitted")
	require.NotNil(t, run)
	assert.Equal(t, models.RunStatusCancelled, run.Status)
	assert.Equal(t, "operation not permitted", *run.ErrorMessage)
	assert.Empty(t, f.reg.GetAll())
}

func TestStopReportsJournalFailure(t *testing.T) {
	f := newFixture(registry.WithJournal(&lockedJournal{rows: map[string]models.RunningAction{}}))
	require.True(t, f.orch.LaunchAction(context.Background(), commandAction(1, "api", 0), nil).Success)

	run, err := f.orch.StopAction(context.Background(), 1, 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotRunning)
	assert.Contains(t, err.Error(), "database is locked")
	assert.Nil(t, run)
	assert.Empty(t, f.term.killed)
	assert.Empty(t, f.runs.runs)
	assert.True(t, f.reg.IsRunning(1, 1))
}

func TestStopAlreadyExitedProcess(t *testing.T) {
	f := newFixture()
	f.term.err = process.ErrNotRunning
	require.True(t, f.orch.LaunchAction(context.Background(), commandAction(1, "api", 0), nil).Success)

	run, err := f.orch.StopAction(context.Background(), 1, 1)
	assert.ErrorIs(t, err, process.ErrNotRunning)
	require.NotNil(t, run)
	assert.Equal(t, "process had already exited", *run.ErrorMessage)
	assert.Len(t, f.runs.runs, 1)
}

func TestStopWorkspace(t *testing.T) {
	f := newFixture()
	f.store.actions = []*models.Action{commandAction(1, "a", 0), commandAction(2, "b", 1)}
	_, err := f.orch.LaunchWorkspace(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, f.orch.Running(1), 2)

	runs, err := f.orch.StopWorkspace(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
	assert.Empty(t, f.orch.Running(1))
	assert.Len(t, f.term.killed, 2)
}

func TestPlanDoesNotSpawn(t *testing.T) {
	f := newFixture()
	broken := commandAction(2, "broken", 0)
	broken.Config = `{}`
	f.store.actions = []*models.Action{commandAction(1, "ok", 1), broken}

	planned, err := f.orch.Plan(1)
	require.NoError(t, err)
	require.Len(t, planned, 2)
	assert.Equal(t, "broken", planned[0].Action.Name)
	assert.Error(t, planned[0].Err)
	assert.NotNil(t, planned[1].Plan)
	assert.Empty(t, f.spawner.labels)
}
