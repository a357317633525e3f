package tui

import (
	"context"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/deck/internal/models"
	"github.com/mpataki/deck/internal/notify"
	"github.com/mpataki/deck/internal/orchestrator"
)

type fakeStore struct {
	actions []*models.Action
	runs    []*models.Run
	byAct   map[int64][]*models.Run
}

func (s *fakeStore) ListActions(int64) ([]*models.Action, error) {
	return s.actions, nil
}

func (s *fakeStore) ListRunsForWorkspace(int64, int) ([]*models.Run, error) {
	return s.runs, nil
}

func (s *fakeStore) ListRunsForAction(actionID int64, _ int) ([]*models.Run, error) {
	return s.byAct[actionID], nil
}

type fakeOrch struct {
	mu       sync.Mutex
	launched []int64
	stopped  []int64
	running  []models.RunningAction
	all      int
}

func (o *fakeOrch) Launch(_ context.Context, action *models.Action) models.LaunchResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.launched = append(o.launched, action.ID)
	return models.LaunchSucceeded("ok", 0)
}

func (o *fakeOrch) LaunchWorkspace(context.Context, int64) (*orchestrator.Summary, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.all++
	return &orchestrator.Summary{}, nil
}

func (o *fakeOrch) StopAction(_ context.Context, _ int64, actionID int64) (*models.Run, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopped = append(o.stopped, actionID)
	return &models.Run{ID: 1, ActionID: actionID, Status: models.RunStatusCancelled}, nil
}

func (o *fakeOrch) StopWorkspace(context.Context, int64) ([]*models.Run, error) {
	return nil, nil
}

func (o *fakeOrch) Running(int64) []models.RunningAction {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]models.RunningAction(nil), o.running...)
}

func newTestApp(t *testing.T) (*App, *fakeStore, *fakeOrch) {
	t.Helper()
	store := &fakeStore{
		actions: []*models.Action{
			{ID: 1, WorkspaceID: 7, Name: "editor", ActionType: "vscode", OrderIndex: 0},
			{ID: 2, WorkspaceID: 7, Name: "server", ActionType: "command", OrderIndex: 1, TrackProcess: true},
		},
		byAct: map[int64][]*models.Run{},
	}
	orch := &fakeOrch{}
	app := NewApp(context.Background(), Deps{
		Workspace:    &models.Workspace{ID: 7, Name: "demo"},
		Store:        store,
		Orchestrator: orch,
	})
	t.Cleanup(app.cancel)

	// Prime the model the way the first refresh would.
	app.Update(app.reload()())
	return app, store, orch
}

func runeKey(r string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(r)}
}

func TestReloadPopulatesActionsAndRunning(t *testing.T) {
	app, _, orch := newTestApp(t)
	started := time.Now().Add(-time.Minute)
	orch.running = []models.RunningAction{
		{ID: "a", WorkspaceID: 7, ActionID: 2, ProcessID: 100, StartedAt: started.Add(-time.Hour)},
		{ID: "b", WorkspaceID: 7, ActionID: 2, ProcessID: 200, StartedAt: started},
	}

	app.Update(app.reload()())

	require.Len(t, app.actions, 2)
	require.Contains(t, app.running, int64(2))
	assert.Equal(t, 200, app.running[2].ProcessID, "newest entry per action wins")
	assert.Contains(t, app.View(), "running")
	assert.Contains(t, app.View(), "pid 200")
}

func TestNavigationStaysInBounds(t *testing.T) {
	app, _, _ := newTestApp(t)

	app.Update(tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, 0, app.selectedIdx)

	app.Update(tea.KeyMsg{Type: tea.KeyDown})
	app.Update(runeKey("j"))
	assert.Equal(t, 1, app.selectedIdx)
}

func TestLaunchKeyLaunchesSelectedAction(t *testing.T) {
	app, _, orch := newTestApp(t)
	app.Update(tea.KeyMsg{Type: tea.KeyDown})

	_, cmd := app.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.True(t, app.busy[2])

	// A second press while the launch is in flight is ignored.
	_, again := app.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, again)

	msg := cmd()
	require.IsType(t, launchedMsg{}, msg)
	app.Update(msg)

	assert.Equal(t, []int64{2}, orch.launched)
	assert.False(t, app.busy[2])
}

func TestStopKeyOnlyStopsRunningAction(t *testing.T) {
	app, _, orch := newTestApp(t)

	_, cmd := app.Update(runeKey("x"))
	assert.Nil(t, cmd, "selected action is not running")

	orch.running = []models.RunningAction{{ID: "r", WorkspaceID: 7, ActionID: 1, ProcessID: 55, StartedAt: time.Now()}}
	app.Update(app.reload()())

	_, cmd = app.Update(runeKey("x"))
	require.NotNil(t, cmd)
	msg := cmd()
	stopped, ok := msg.(stoppedMsg)
	require.True(t, ok)
	assert.Equal(t, int64(1), stopped.actionID)
	assert.Equal(t, []int64{1}, orch.stopped)
}

func TestStopNotRunningIsNotAnError(t *testing.T) {
	app, _, _ := newTestApp(t)

	app.Update(stoppedMsg{actionID: 1, err: orchestrator.ErrNotRunning})

	assert.NoError(t, app.err)
}

func TestToggleShowsActionHistory(t *testing.T) {
	app, store, _ := newTestApp(t)
	done := time.Now()
	code := 3
	store.byAct[1] = []*models.Run{
		{ID: 9, ActionID: 1, Status: models.RunStatusFailed, StartedAt: done.Add(-5 * time.Second), CompletedAt: &done, ExitCode: &code},
	}

	_, cmd := app.Update(runeKey("h"))
	require.NotNil(t, cmd)
	app.Update(cmd())

	assert.Equal(t, ViewHistory, app.view)
	view := app.View()
	assert.Contains(t, view, "History: editor")
	assert.Contains(t, view, "exit:3")
}

func TestEventsBecomeToastsAndExpire(t *testing.T) {
	app, _, _ := newTestApp(t)
	now := time.Now()
	app.now = func() time.Time { return now }

	for i := 0; i < maxToasts+2; i++ {
		app.Update(eventMsg(notify.Event{Level: notify.LevelError, Message: "boom", At: now}))
	}
	assert.Len(t, app.toasts, maxToasts)
	assert.Contains(t, app.View(), "boom")

	app.now = func() time.Time { return now.Add(toastTTL + time.Second) }
	app.Update(tickMsg(app.now()))
	assert.Empty(t, app.toasts)
}

func TestChannelNotifierDropsWhenFull(t *testing.T) {
	ch := make(chan notify.Event, 1)
	n := ChannelNotifier(ch)

	n.Notify(notify.Event{Message: "first"})
	n.Notify(notify.Event{Message: "second"})

	require.Len(t, ch, 1)
	assert.Equal(t, "first", (<-ch).Message)
}

func TestQuitCancelsSession(t *testing.T) {
	app, _, _ := newTestApp(t)

	_, cmd := app.Update(runeKey("q"))
	require.NotNil(t, cmd)

	assert.Error(t, app.ctx.Err())
	assert.IsType(t, tea.QuitMsg{}, cmd())
}
