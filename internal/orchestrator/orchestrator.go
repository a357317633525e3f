package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/mpataki/deck/internal/actionconfig"
	"github.com/mpataki/deck/internal/launch"
	"github.com/mpataki/deck/internal/models"
	"github.com/mpataki/deck/internal/notify"
	"github.com/mpataki/deck/internal/process"
	"github.com/mpataki/deck/internal/reconcile"
	"github.com/mpataki/deck/internal/registry"
	"github.com/mpataki/deck/internal/variables"
)

var ErrNotRunning = errors.New("action is not running")

type Store interface {
	ListActions(workspaceID int64) ([]*models.Action, error)
	ListVariables(workspaceID int64) ([]*models.Variable, error)
	ListGlobalVariables() ([]*models.Variable, error)
}

type Planner interface {
	Build(action *models.Action, vars map[string]string) (*launch.Plan, error)
}

type Spawner interface {
	Spawn(ctx context.Context, plan *launch.Plan) models.LaunchResult
}

type Terminator interface {
	Terminate(ctx context.Context, pid int) error
}

type Orchestrator struct {
	store    Store
	planner  Planner
	spawner  Spawner
	procs    Terminator
	registry *registry.Registry
	loop     *reconcile.Loop
	notifier notify.Notifier
	logger   *zap.Logger
}

type Deps struct {
	Store    Store
	Planner  Planner
	Spawner  Spawner
	Procs    Terminator
	Registry *registry.Registry
	Loop     *reconcile.Loop
	Notifier notify.Notifier
	Logger   *zap.Logger
}

func New(d Deps) *Orchestrator {
	if d.Notifier == nil {
		d.Notifier = notify.Nop
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Orchestrator{
		store:    d.Store,
		planner:  d.Planner,
		spawner:  d.Spawner,
		procs:    d.Procs,
		registry: d.Registry,
		loop:     d.Loop,
		notifier: d.Notifier,
		logger:   d.Logger,
	}
}

type ActionResult struct {
	Action *models.Action
	Result models.LaunchResult
}

type Summary struct {
	Results      []ActionResult
	SuccessCount int
	TotalCount   int
}

// Variables returns the enabled variables for a workspace, with workspace
// values overriding global ones.
func (o *Orchestrator) Variables(workspaceID int64) (map[string]string, error) {
	local, err := o.store.ListVariables(workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load variables: %w", err)
	}
	global, err := o.store.ListGlobalVariables()
	if err != nil {
		return nil, fmt.Errorf("failed to load global variables: %w", err)
	}
	return variables.Prepare(local, global), nil
}

// Launch resolves the action's variables and launches it.
func (o *Orchestrator) Launch(ctx context.Context, action *models.Action) models.LaunchResult {
	vars, err := o.Variables(action.WorkspaceID)
	if err != nil {
		return o.failed(action, err.Error())
	}
	return o.LaunchAction(ctx, action, vars)
}

// LaunchAction builds and spawns one action. Every failure, including a bad
// config, comes back as an unsuccessful result. A tracked launch that yields
// a PID is added to the registry.
func (o *Orchestrator) LaunchAction(ctx context.Context, action *models.Action, vars map[string]string) (result models.LaunchResult) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("launch panicked", zap.Int64("action_id", action.ID), zap.Any("panic", r))
			result = o.failed(action, fmt.Sprintf("internal error: %v", r))
		}
	}()

	o.logger.Info("launching action",
		zap.Int64("action_id", action.ID),
		zap.String("action", action.Name),
		zap.String("type", action.ActionType))

	plan, err := o.planner.Build(action, vars)
	if err != nil {
		return o.failed(action, err.Error())
	}

	result = o.spawner.Spawn(ctx, plan)
	if !result.Success {
		o.logger.Warn("launch failed", zap.Int64("action_id", action.ID), zap.String("message", result.Message))
		o.notifier.Notify(notify.Stamp(notify.Event{
			Level:       notify.LevelError,
			Title:       action.Name,
			Message:     result.Message,
			WorkspaceID: action.WorkspaceID,
			ActionID:    action.ID,
		}))
		return result
	}

	if plan.Track && result.ProcessID != nil {
		ra := o.registry.Add(models.RunningAction{
			WorkspaceID: action.WorkspaceID,
			ActionID:    action.ID,
			ActionName:  action.Name,
			ProcessID:   *result.ProcessID,
		})
		o.logger.Info("tracking action", zap.String("id", ra.ID), zap.Int("pid", ra.ProcessID))
	} else if plan.Track {
		o.logger.Warn("tracked launch produced no pid", zap.Int64("action_id", action.ID))
	}

	o.notifier.Notify(notify.Stamp(notify.Event{
		Level:       notify.LevelSuccess,
		Title:       action.Name,
		Message:     result.Message,
		WorkspaceID: action.WorkspaceID,
		ActionID:    action.ID,
	}))
	return result
}

func (o *Orchestrator) failed(action *models.Action, reason string) models.LaunchResult {
	msg := fmt.Sprintf("Failed to launch action %s: %s", action.Name, reason)
	o.logger.Warn("launch failed", zap.Int64("action_id", action.ID), zap.String("reason", reason))
	o.notifier.Notify(notify.Stamp(notify.Event{
		Level:       notify.LevelError,
		Title:       action.Name,
		Message:     msg,
		WorkspaceID: action.WorkspaceID,
		ActionID:    action.ID,
	}))
	return models.LaunchFailed(msg)
}

// LaunchWorkspace launches every action of a workspace one after another in
// order_index order. A failed action does not stop the rest.
func (o *Orchestrator) LaunchWorkspace(ctx context.Context, workspaceID int64) (*Summary, error) {
	actions, err := o.store.ListActions(workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load actions: %w", err)
	}
	vars, err := o.Variables(workspaceID)
	if err != nil {
		return nil, err
	}
	return o.LaunchActions(ctx, actions, vars), nil
}

func (o *Orchestrator) LaunchActions(ctx context.Context, actions []*models.Action, vars map[string]string) *Summary {
	ordered := SortActions(actions)
	o.checkDependencies(ordered)

	summary := &Summary{TotalCount: len(ordered)}
	for _, action := range ordered {
		result := o.LaunchAction(ctx, action, vars)
		summary.Results = append(summary.Results, ActionResult{Action: action, Result: result})
		if result.Success {
			summary.SuccessCount++
		} else {
			o.logger.Warn("action failed, continuing with remaining actions", zap.String("action", action.Name))
		}
	}

	level := notify.LevelSuccess
	if summary.SuccessCount < summary.TotalCount {
		level = notify.LevelWarning
	}
	var wsID int64
	if len(ordered) > 0 {
		wsID = ordered[0].WorkspaceID
	}
	o.notifier.Notify(notify.Stamp(notify.Event{
		Level:       level,
		Title:       "workspace",
		Message:     fmt.Sprintf("Launched %d/%d actions", summary.SuccessCount, summary.TotalCount),
		WorkspaceID: wsID,
	}))
	return summary
}

// SortActions returns actions ordered by OrderIndex, keeping the given order
// for ties.
func SortActions(actions []*models.Action) []*models.Action {
	ordered := make([]*models.Action, len(actions))
	copy(ordered, actions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].OrderIndex < ordered[j].OrderIndex
	})
	return ordered
}

// checkDependencies only logs: dependencies are informational and launch
// order is decided by order_index alone.
func (o *Orchestrator) checkDependencies(ordered []*models.Action) {
	position := make(map[int64]int, len(ordered))
	for i, a := range ordered {
		position[a.ID] = i
	}
	for i, a := range ordered {
		deps, err := actionconfig.ParseDependencies(a.Dependencies)
		if err != nil {
			o.logger.Warn("ignoring unreadable dependencies", zap.String("action", a.Name), zap.Error(err))
			continue
		}
		for _, dep := range deps {
			pos, ok := position[dep]
			switch {
			case !ok:
				o.logger.Warn("dependency is not in this workspace", zap.String("action", a.Name), zap.Int64("dependency", dep))
			case pos > i:
				o.logger.Warn("dependency is ordered after its dependent", zap.String("action", a.Name), zap.Int64("dependency", dep))
			}
		}
	}
}

type PlannedAction struct {
	Action *models.Action
	Plan   *launch.Plan
	Err    error
}

// Plan builds every action of a workspace without launching anything.
func (o *Orchestrator) Plan(workspaceID int64) ([]PlannedAction, error) {
	actions, err := o.store.ListActions(workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load actions: %w", err)
	}
	vars, err := o.Variables(workspaceID)
	if err != nil {
		return nil, err
	}

	var out []PlannedAction
	for _, a := range SortActions(actions) {
		plan, err := o.planner.Build(a, vars)
		out = append(out, PlannedAction{Action: a, Plan: plan, Err: err})
	}
	return out, nil
}

func (o *Orchestrator) Running(workspaceID int64) []models.RunningAction {
	return o.registry.GetByWorkspace(workspaceID)
}

// StopAction terminates the newest tracked launch of an action and records a
// cancelled run for it. The registry entry is removed even when termination
// fails; the failure is returned.
func (o *Orchestrator) StopAction(ctx context.Context, workspaceID, actionID int64) (*models.Run, error) {
	ra, ok := o.registry.Find(workspaceID, actionID)
	if !ok {
		return nil, ErrNotRunning
	}
	return o.stop(ctx, ra)
}

// StopWorkspace stops every tracked launch in the workspace.
func (o *Orchestrator) StopWorkspace(ctx context.Context, workspaceID int64) ([]*models.Run, error) {
	var (
		runs []*models.Run
		errs []error
	)
	for _, ra := range o.registry.GetByWorkspace(workspaceID) {
		run, err := o.stop(ctx, ra)
		if run != nil {
			runs = append(runs, run)
		}
		if err != nil && !errors.Is(err, ErrNotRunning) {
			errs = append(errs, err)
		}
	}
	return runs, errors.Join(errs...)
}

func (o *Orchestrator) stop(ctx context.Context, ra models.RunningAction) (*models.Run, error) {
	// Claim first so the reconciliation loop cannot also record this launch.
	claimed, err := o.registry.Remove(ra.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to stop %s: %w", ra.ActionName, err)
	}
	if !claimed {
		return nil, ErrNotRunning
	}

	termErr := o.procs.Terminate(ctx, ra.ProcessID)
	var errMsg *string
	if termErr != nil {
		msg := termErr.Error()
		if errors.Is(termErr, process.ErrNotRunning) {
			msg = "process had already exited"
		}
		errMsg = &msg
	}

	run, err := o.loop.Record(ra, models.RunStatusCancelled, nil, errMsg)
	if err != nil {
		o.logger.Error("failed to record cancelled run", zap.String("id", ra.ID), zap.Error(err))
	}

	event := notify.Event{
		Level:       notify.LevelInfo,
		Title:       ra.ActionName,
		Message:     fmt.Sprintf("Stopped %s", ra.ActionName),
		WorkspaceID: ra.WorkspaceID,
		ActionID:    ra.ActionID,
	}
	if termErr != nil {
		event.Level = notify.LevelWarning
		event.Message = fmt.Sprintf("Stop %s: %s", ra.ActionName, *errMsg)
	}
	o.notifier.Notify(notify.Stamp(event))

	if termErr != nil {
		return run, fmt.Errorf("failed to stop %s (pid %d): %w", ra.ActionName, ra.ProcessID, termErr)
	}
	return run, err
}
