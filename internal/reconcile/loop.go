// Package reconcile retires registry entries whose processes have ended into
// persisted run history.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mpataki/deck/internal/models"
	"github.com/mpataki/deck/internal/notify"
	"github.com/mpataki/deck/internal/process"
	"github.com/mpataki/deck/internal/registry"
)

const (
	DefaultInterval  = 5 * time.Second
	DefaultRetention = 20
)

type RunStore interface {
	CreateRun(run *models.Run) (int64, error)
	PruneRuns(actionID int64, keep int) (int64, error)
}

type Liveness interface {
	Alive(ctx context.Context, pid int) (bool, error)
}

// ExitSource knows how some processes ended. The spawner implements it for
// the children it reaped.
type ExitSource interface {
	TakeExit(pid int) (process.Exit, bool)
}

type Loop struct {
	registry  *registry.Registry
	store     RunStore
	procs     Liveness
	exits     ExitSource
	notifier  notify.Notifier
	logger    *zap.Logger
	interval  time.Duration
	retention int
	now       func() time.Time

	mu sync.Mutex
}

type Option func(*Loop)

func WithInterval(d time.Duration) Option {
	return func(l *Loop) { l.interval = d }
}

func WithRetention(n int) Option {
	return func(l *Loop) { l.retention = n }
}

func WithExitSource(s ExitSource) Option {
	return func(l *Loop) { l.exits = s }
}

func WithNotifier(n notify.Notifier) Option {
	return func(l *Loop) { l.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

func New(reg *registry.Registry, store RunStore, procs Liveness, logger *zap.Logger, opts ...Option) *Loop {
	l := &Loop{
		registry:  reg,
		store:     store,
		procs:     procs,
		notifier:  notify.Nop,
		logger:    logger,
		interval:  DefaultInterval,
		retention: DefaultRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run ticks immediately and then every interval until ctx is done. A tick
// always finishes before the next one is scheduled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info("reconciliation loop started", zap.Duration("interval", l.interval))
	for {
		l.Tick(ctx)
		select {
		case <-ctx.Done():
			l.logger.Info("reconciliation loop stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick checks every registry entry once and returns the runs it wrote.
func (l *Loop) Tick(ctx context.Context) []*models.Run {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.registry.Sync(); err != nil {
		l.logger.Warn("failed to sync registry journal", zap.Error(err))
	}

	var retired []*models.Run
	for _, ra := range l.registry.GetAll() {
		if ctx.Err() != nil {
			break
		}

		alive, err := l.procs.Alive(ctx, ra.ProcessID)
		if err != nil {
			// An unreadable process table must not leave the entry stuck.
			l.logger.Warn("liveness check failed, treating process as exited",
				zap.String("id", ra.ID), zap.Int("pid", ra.ProcessID), zap.Error(err))
		} else if alive {
			continue
		}

		// Claim before taking the exit so a failed claim leaves it for the
		// next tick.
		claimed, err := l.registry.Remove(ra.ID)
		if err != nil {
			l.logger.Error("failed to claim running action", zap.String("id", ra.ID), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}

		status, exitCode, errMsg := l.outcome(ra.ProcessID)
		run, err := l.Record(ra, status, exitCode, errMsg)
		if err != nil {
			l.logger.Error("failed to record run", zap.String("id", ra.ID), zap.Error(err))
			continue
		}
		retired = append(retired, run)
	}
	return retired
}

func (l *Loop) outcome(pid int) (models.RunStatus, *int, *string) {
	if l.exits == nil {
		return models.RunStatusFailed, nil, nil
	}
	exit, ok := l.exits.TakeExit(pid)
	if !ok {
		return models.RunStatusFailed, nil, nil
	}

	var errMsg *string
	if exit.Reason != "" {
		errMsg = &exit.Reason
	}
	if exit.Code != nil && *exit.Code == 0 && errMsg == nil {
		return models.RunStatusSuccess, exit.Code, nil
	}
	return models.RunStatusFailed, exit.Code, errMsg
}

// Retire claims ra from the registry and, if the claim succeeds, records its
// run. It returns a nil run when another caller already retired the entry.
func (l *Loop) Retire(ra models.RunningAction, status models.RunStatus, exitCode *int, errMsg *string) (*models.Run, error) {
	claimed, err := l.registry.Remove(ra.ID)
	if err != nil || !claimed {
		return nil, err
	}
	return l.Record(ra, status, exitCode, errMsg)
}

// Record writes the run for an entry the caller has already claimed and trims
// the action's history.
func (l *Loop) Record(ra models.RunningAction, status models.RunStatus, exitCode *int, errMsg *string) (*models.Run, error) {
	if l.exits != nil {
		l.exits.TakeExit(ra.ProcessID)
	}

	completed := l.now()
	run := &models.Run{
		WorkspaceID:  ra.WorkspaceID,
		ActionID:     ra.ActionID,
		Status:       status,
		StartedAt:    ra.StartedAt,
		CompletedAt:  &completed,
		ExitCode:     exitCode,
		ErrorMessage: errMsg,
	}
	id, err := l.store.CreateRun(run)
	if err != nil {
		return nil, fmt.Errorf("failed to create run for %s: %w", ra.ActionName, err)
	}
	run.ID = id

	if pruned, err := l.store.PruneRuns(ra.ActionID, l.retention); err != nil {
		l.logger.Warn("failed to prune runs", zap.Int64("action_id", ra.ActionID), zap.Error(err))
	} else if pruned > 0 {
		l.logger.Debug("pruned runs", zap.Int64("action_id", ra.ActionID), zap.Int64("deleted", pruned))
	}

	l.logger.Info("action finished",
		zap.Int64("action_id", ra.ActionID),
		zap.String("action", ra.ActionName),
		zap.Int("pid", ra.ProcessID),
		zap.String("status", string(status)))

	if status != models.RunStatusCancelled {
		l.notifier.Notify(notify.Stamp(finishedEvent(ra, run)))
	}
	return run, nil
}

func finishedEvent(ra models.RunningAction, run *models.Run) notify.Event {
	e := notify.Event{
		Level:       notify.LevelInfo,
		Title:       ra.ActionName,
		WorkspaceID: ra.WorkspaceID,
		ActionID:    ra.ActionID,
		Message:     fmt.Sprintf("%s finished", ra.ActionName),
	}
	switch {
	case run.Status == models.RunStatusSuccess:
		e.Level = notify.LevelSuccess
	case run.ErrorMessage != nil:
		e.Level = notify.LevelWarning
		e.Message = fmt.Sprintf("%s %s", ra.ActionName, *run.ErrorMessage)
	case run.ExitCode != nil:
		e.Level = notify.LevelWarning
		e.Message = fmt.Sprintf("%s exited with code %d", ra.ActionName, *run.ExitCode)
	}
	return e
}
