package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mpataki/deck/internal/models"
	"github.com/mpataki/deck/internal/notify"
	"github.com/mpataki/deck/internal/orchestrator"
)

const (
	refreshInterval = 2 * time.Second
	toastTTL        = 6 * time.Second
	maxToasts       = 4
	historyLimit    = 10
)

type View int

const (
	ViewActions View = iota
	ViewHistory
)

type Store interface {
	ListActions(workspaceID int64) ([]*models.Action, error)
	ListRunsForWorkspace(workspaceID int64, limit int) ([]*models.Run, error)
	ListRunsForAction(actionID int64, limit int) ([]*models.Run, error)
}

type Orchestrator interface {
	Launch(ctx context.Context, action *models.Action) models.LaunchResult
	LaunchWorkspace(ctx context.Context, workspaceID int64) (*orchestrator.Summary, error)
	StopAction(ctx context.Context, workspaceID, actionID int64) (*models.Run, error)
	StopWorkspace(ctx context.Context, workspaceID int64) ([]*models.Run, error)
	Running(workspaceID int64) []models.RunningAction
}

// Loop is the reconciliation loop the session owns for its lifetime.
type Loop interface {
	Run(ctx context.Context) error
}

type Deps struct {
	Workspace    *models.Workspace
	Store        Store
	Orchestrator Orchestrator
	Loop         Loop
	Events       <-chan notify.Event
}

type App struct {
	ctx    context.Context
	cancel context.CancelFunc

	workspace *models.Workspace
	store     Store
	orch      Orchestrator
	loop      Loop
	events    <-chan notify.Event

	keys keyMap
	help help.Model

	view        View
	actions     []*models.Action
	running     map[int64]models.RunningAction
	runs        []*models.Run
	selectedIdx int
	busy        map[int64]bool
	toasts      []notify.Event

	now    func() time.Time
	width  int
	height int
	err    error
}

func NewApp(ctx context.Context, d Deps) *App {
	ctx, cancel := context.WithCancel(ctx)
	return &App{
		ctx:       ctx,
		cancel:    cancel,
		workspace: d.Workspace,
		store:     d.Store,
		orch:      d.Orchestrator,
		loop:      d.Loop,
		events:    d.Events,
		keys:      defaultKeyMap(),
		help:      help.New(),
		view:      ViewActions,
		running:   make(map[int64]models.RunningAction),
		busy:      make(map[int64]bool),
		now:       time.Now,
	}
}

// ChannelNotifier forwards events to the session. Events are dropped when
// the channel is full so launches never block on the UI.
func ChannelNotifier(ch chan<- notify.Event) notify.Notifier {
	return notify.Func(func(e notify.Event) {
		select {
		case ch <- e:
		default:
		}
	})
}

func (a *App) Init() tea.Cmd {
	cmds := []tea.Cmd{a.reload(), a.tickCmd()}
	if a.loop != nil {
		cmds = append(cmds, a.runLoop)
	}
	if a.events != nil {
		cmds = append(cmds, a.waitForEvent)
	}
	return tea.Batch(cmds...)
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

type tickMsg time.Time

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.help.Width = msg.Width
		return a, nil

	case tickMsg:
		a.pruneToasts()
		return a, tea.Batch(a.reload(), a.tickCmd())

	case dataLoadedMsg:
		a.err = msg.err
		if msg.err == nil {
			a.actions = msg.actions
			a.runs = msg.runs
		}
		a.running = msg.running
		if a.selectedIdx >= len(a.actions) {
			a.selectedIdx = max(len(a.actions)-1, 0)
		}
		return a, nil

	case eventMsg:
		a.pushToast(notify.Event(msg))
		return a, tea.Batch(a.reload(), a.waitForEvent)

	case launchedMsg:
		delete(a.busy, msg.actionID)
		return a, a.reload()

	case workspaceLaunchedMsg:
		a.err = msg.err
		for id := range a.busy {
			delete(a.busy, id)
		}
		return a, a.reload()

	case stoppedMsg:
		delete(a.busy, msg.actionID)
		if msg.err != nil && !errors.Is(msg.err, orchestrator.ErrNotRunning) {
			a.err = msg.err
		}
		return a, a.reload()

	case loopStoppedMsg:
		if msg.err != nil && a.ctx.Err() == nil {
			a.err = fmt.Errorf("reconciliation stopped: %w", msg.err)
		}
		return a, nil
	}

	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, a.keys.Quit):
		a.cancel()
		return a, tea.Quit

	case key.Matches(msg, a.keys.Up):
		if a.selectedIdx > 0 {
			a.selectedIdx--
		}

	case key.Matches(msg, a.keys.Down):
		if a.selectedIdx < len(a.actions)-1 {
			a.selectedIdx++
		}

	case key.Matches(msg, a.keys.Toggle):
		if a.view == ViewActions {
			a.view = ViewHistory
		} else {
			a.view = ViewActions
		}
		return a, a.reload()

	case key.Matches(msg, a.keys.Refresh):
		return a, a.reload()

	case key.Matches(msg, a.keys.Launch):
		if action := a.selected(); action != nil && !a.busy[action.ID] {
			a.busy[action.ID] = true
			return a, a.launch(action)
		}

	case key.Matches(msg, a.keys.LaunchAll):
		for _, action := range a.actions {
			a.busy[action.ID] = true
		}
		return a, a.launchWorkspace

	case key.Matches(msg, a.keys.Stop):
		if action := a.selected(); action != nil && !a.busy[action.ID] {
			if _, ok := a.running[action.ID]; ok {
				a.busy[action.ID] = true
				return a, a.stop(action)
			}
		}

	case key.Matches(msg, a.keys.StopAll):
		if len(a.running) > 0 {
			return a, a.stopWorkspace
		}
	}

	return a, nil
}

func (a *App) selected() *models.Action {
	if a.selectedIdx < 0 || a.selectedIdx >= len(a.actions) {
		return nil
	}
	return a.actions[a.selectedIdx]
}

func (a *App) pushToast(e notify.Event) {
	if e.At.IsZero() {
		e.At = a.now()
	}
	a.toasts = append(a.toasts, e)
	if len(a.toasts) > maxToasts {
		a.toasts = a.toasts[len(a.toasts)-maxToasts:]
	}
}

func (a *App) pruneToasts() {
	cutoff := a.now().Add(-toastTTL)
	kept := a.toasts[:0]
	for _, t := range a.toasts {
		if t.At.After(cutoff) {
			kept = append(kept, t)
		}
	}
	a.toasts = kept
}

// Messages

type dataLoadedMsg struct {
	actions []*models.Action
	runs    []*models.Run
	running map[int64]models.RunningAction
	err     error
}

type eventMsg notify.Event

type launchedMsg struct {
	actionID int64
	result   models.LaunchResult
}

type workspaceLaunchedMsg struct {
	summary *orchestrator.Summary
	err     error
}

type stoppedMsg struct {
	actionID int64
	run      *models.Run
	err      error
}

type loopStoppedMsg struct {
	err error
}

// Commands

// reload captures what to load now; the returned command runs off the
// update goroutine.
func (a *App) reload() tea.Cmd {
	workspaceID := a.workspace.ID
	var historyFor *models.Action
	if a.view == ViewHistory {
		historyFor = a.selected()
	}

	return func() tea.Msg {
		msg := dataLoadedMsg{running: make(map[int64]models.RunningAction)}
		for _, ra := range a.orch.Running(workspaceID) {
			if cur, ok := msg.running[ra.ActionID]; !ok || ra.StartedAt.After(cur.StartedAt) {
				msg.running[ra.ActionID] = ra
			}
		}

		msg.actions, msg.err = a.store.ListActions(workspaceID)
		if msg.err != nil {
			return msg
		}
		if historyFor != nil {
			msg.runs, msg.err = a.store.ListRunsForAction(historyFor.ID, historyLimit)
		} else {
			msg.runs, msg.err = a.store.ListRunsForWorkspace(workspaceID, historyLimit)
		}
		return msg
	}
}

func (a *App) waitForEvent() tea.Msg {
	select {
	case e := <-a.events:
		return eventMsg(e)
	case <-a.ctx.Done():
		return nil
	}
}

func (a *App) runLoop() tea.Msg {
	return loopStoppedMsg{err: a.loop.Run(a.ctx)}
}

func (a *App) launch(action *models.Action) tea.Cmd {
	return func() tea.Msg {
		return launchedMsg{actionID: action.ID, result: a.orch.Launch(a.ctx, action)}
	}
}

func (a *App) launchWorkspace() tea.Msg {
	summary, err := a.orch.LaunchWorkspace(a.ctx, a.workspace.ID)
	return workspaceLaunchedMsg{summary: summary, err: err}
}

func (a *App) stop(action *models.Action) tea.Cmd {
	return func() tea.Msg {
		run, err := a.orch.StopAction(a.ctx, a.workspace.ID, action.ID)
		return stoppedMsg{actionID: action.ID, run: run, err: err}
	}
}

func (a *App) stopWorkspace() tea.Msg {
	_, err := a.orch.StopWorkspace(a.ctx, a.workspace.ID)
	return stoppedMsg{err: err}
}
