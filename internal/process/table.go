package process

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

var ErrNotRunning = errors.New("process is not running")

const pollStep = 50 * time.Millisecond

// Table answers liveness and termination questions about OS processes.
type Table struct {
	// Grace is how long Terminate waits after a polite signal before killing.
	Grace time.Duration
}

func NewTable() *Table {
	return &Table{Grace: 3 * time.Second}
}

// Alive reports whether pid refers to a running process. Zombies are dead.
func (t *Table) Alive(ctx context.Context, pid int) (bool, error) {
	if pid <= 0 {
		return false, nil
	}
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if errors.Is(err, process.ErrorProcessNotRunning) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	running, err := p.IsRunningWithContext(ctx)
	if err != nil || !running {
		return false, err
	}

	// Status is not implemented everywhere; an error there is not a verdict.
	if status, err := p.StatusWithContext(ctx); err == nil {
		for _, s := range status {
			if s == process.Zombie {
				return false, nil
			}
		}
	}
	return true, nil
}

// Terminate stops pid and its descendants, escalating to a kill for anything
// still running after Grace.
func (t *Table) Terminate(ctx context.Context, pid int) error {
	if pid <= 0 {
		return ErrNotRunning
	}
	root, err := process.NewProcessWithContext(ctx, int32(pid))
	if errors.Is(err, process.ErrorProcessNotRunning) {
		return ErrNotRunning
	}
	if err != nil {
		return fmt.Errorf("failed to look up pid %d: %w", pid, err)
	}

	// Collect the tree first; children are reparented once the root dies.
	tree := append([]*process.Process{root}, descendants(ctx, root)...)

	for _, p := range tree {
		if err := p.TerminateWithContext(ctx); err != nil && p.Pid == root.Pid {
			if alive, _ := t.Alive(ctx, pid); !alive {
				return ErrNotRunning
			}
			return fmt.Errorf("failed to terminate pid %d: %w", pid, err)
		}
	}

	deadline := time.Now().Add(t.Grace)
	for time.Now().Before(deadline) {
		if !t.anyAlive(ctx, tree) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollStep):
		}
	}

	for _, p := range tree {
		if alive, _ := t.Alive(ctx, int(p.Pid)); alive {
			if err := p.KillWithContext(ctx); err != nil && p.Pid == root.Pid {
				return fmt.Errorf("failed to kill pid %d: %w", pid, err)
			}
		}
	}
	return nil
}

func (t *Table) anyAlive(ctx context.Context, tree []*process.Process) bool {
	for _, p := range tree {
		if alive, _ := t.Alive(ctx, int(p.Pid)); alive {
			return true
		}
	}
	return false
}

func descendants(ctx context.Context, p *process.Process) []*process.Process {
	children, err := p.ChildrenWithContext(ctx)
	if err != nil {
		return nil
	}
	out := children
	for _, c := range children {
		out = append(out, descendants(ctx, c)...)
	}
	return out
}

// FindNewest returns the most recently started process whose image name
// matches name and that started at or after since. It returns 0 when nothing
// matches. A trailing ".exe" is ignored on both sides.
func (t *Table) FindNewest(ctx context.Context, name string, since time.Time) (int, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list processes: %w", err)
	}

	want := trimExe(name)
	var (
		best      int32
		bestStart int64
	)
	for _, p := range procs {
		n, err := p.NameWithContext(ctx)
		if err != nil || !strings.EqualFold(trimExe(n), want) {
			continue
		}
		created, err := p.CreateTimeWithContext(ctx)
		if err != nil || created < since.UnixMilli() {
			continue
		}
		if created >= bestStart {
			best, bestStart = p.Pid, created
		}
	}
	return int(best), nil
}

func trimExe(name string) string {
	if len(name) > 4 && strings.EqualFold(name[len(name)-4:], ".exe") {
		return name[:len(name)-4]
	}
	return name
}
