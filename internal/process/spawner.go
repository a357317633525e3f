// Package process executes launch plans and answers questions about the OS
// processes they create.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/browser"
	"go.uber.org/zap"

	"github.com/mpataki/deck/internal/launch"
	"github.com/mpataki/deck/internal/models"
)

// Opener hands a URL to the OS default handler.
type Opener interface {
	Open(url string) error
}

type OpenerFunc func(url string) error

func (f OpenerFunc) Open(url string) error { return f(url) }

var BrowserOpener Opener = OpenerFunc(browser.OpenURL)

// Exit is what the spawner learned about a tracked process after it ended.
// Code is nil when the process was not our child or died from a signal.
type Exit struct {
	Code   *int
	Reason string
}

type Spawner struct {
	table    *Table
	resolver PIDResolver
	opener   Opener
	logger   *zap.Logger

	mu    sync.Mutex
	exits map[int]Exit
	// live holds children not yet reaped; the value says whether their exit
	// is recorded.
	live   map[int]bool
	timers map[int]*time.Timer
}

type Option func(*Spawner)

func WithResolver(r PIDResolver) Option { return func(s *Spawner) { s.resolver = r } }
func WithOpener(o Opener) Option        { return func(s *Spawner) { s.opener = o } }

func NewSpawner(table *Table, logger *zap.Logger, opts ...Option) *Spawner {
	s := &Spawner{
		table:  table,
		opener: BrowserOpener,
		logger: logger,
		exits:  make(map[int]Exit),
		live:   make(map[int]bool),
		timers: make(map[int]*time.Timer),
	}
	s.resolver = NewProbeResolver(table, logger)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Spawn executes plan. It never blocks on the child's exit and reports every
// failure as an unsuccessful LaunchResult.
func (s *Spawner) Spawn(ctx context.Context, plan *launch.Plan) models.LaunchResult {
	switch plan.Mode {
	case launch.ModeDelay:
		return s.delay(ctx, plan)
	case launch.ModeOpen:
		return s.open(plan)
	}
	if plan.Program == "" {
		return models.LaunchFailed(fmt.Sprintf("%s: nothing to run", plan.Label))
	}
	if plan.PIDFromOutput {
		return s.spawnReporting(ctx, plan)
	}
	return s.spawnDirect(ctx, plan)
}

func (s *Spawner) delay(ctx context.Context, plan *launch.Plan) models.LaunchResult {
	timer := time.NewTimer(plan.Delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return models.LaunchSucceeded(fmt.Sprintf("Delay completed: %d ms", plan.Delay.Milliseconds()), 0)
	case <-ctx.Done():
		return models.LaunchFailed(fmt.Sprintf("Delay interrupted: %v", ctx.Err()))
	}
}

func (s *Spawner) open(plan *launch.Plan) models.LaunchResult {
	if err := s.opener.Open(plan.URL); err != nil {
		return models.LaunchFailed(fmt.Sprintf("Failed to open URL %s: %v", plan.URL, err))
	}
	return models.LaunchSucceeded(fmt.Sprintf("URL opened: %s", plan.URL), 0)
}

func (s *Spawner) spawnDirect(ctx context.Context, plan *launch.Plan) models.LaunchResult {
	cmd := s.command(plan)
	if err := cmd.Start(); err != nil {
		return models.LaunchFailed(fmt.Sprintf("Failed to start %s: %v", plan.Label, err))
	}
	started := cmd.Process.Pid

	s.mu.Lock()
	delete(s.exits, started)
	s.live[started] = plan.Track
	s.mu.Unlock()

	// Reap in the background so a finished child is not left as a zombie
	go s.reap(cmd, started)

	pid := s.resolver.ResolveRealPID(ctx, plan, started)
	if pid != started {
		// The wrapper's exit says nothing about the process we now track.
		s.mu.Lock()
		if _, ok := s.live[started]; ok {
			s.live[started] = false
		}
		delete(s.exits, started)
		delete(s.exits, pid)
		s.mu.Unlock()
	}
	s.logger.Info("process started",
		zap.String("label", plan.Label),
		zap.Int("pid", pid),
		zap.String("command", plan.CommandLine()))

	if plan.Timeout > 0 {
		s.watch(pid, plan.Timeout, plan.Track)
	}
	return models.LaunchSucceeded(fmt.Sprintf("%s launched", plan.Label), pid)
}

// spawnReporting runs a launcher that starts the real process in the
// background, prints its PID and exits.
func (s *Spawner) spawnReporting(ctx context.Context, plan *launch.Plan) models.LaunchResult {
	cmd := s.command(plan)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return models.LaunchFailed(fmt.Sprintf("Failed to launch %s: %s", plan.Label, msg))
	}

	reported, err := parsePID(stdout.String())
	if err != nil {
		// The launch itself went through; only tracking is lost.
		s.logger.Warn("launcher did not report a pid",
			zap.String("label", plan.Label),
			zap.String("output", stdout.String()),
			zap.Error(err))
		return models.LaunchSucceeded(fmt.Sprintf("%s launched (detached)", plan.Label), 0)
	}

	pid := s.resolver.ResolveRealPID(ctx, plan, reported)
	s.logger.Info("detached process started",
		zap.String("label", plan.Label),
		zap.Int("reported_pid", reported),
		zap.Int("pid", pid))

	if plan.Timeout > 0 {
		s.watch(pid, plan.Timeout, plan.Track)
	}
	return models.LaunchSucceeded(fmt.Sprintf("%s launched (detached)", plan.Label), pid)
}

func (s *Spawner) command(plan *launch.Plan) *exec.Cmd {
	cmd := exec.Command(plan.Program, plan.Args...)
	cmd.Dir = plan.Dir
	cmd.Env = mergeEnv(os.Environ(), plan.Env)
	configureSysProc(cmd, plan)
	return cmd
}

// reap waits for a child we started and stores its exit status. The status
// is in place before the pid leaves live, so Alive never reports a tracked
// child gone while its exit is still unknown.
func (s *Spawner) reap(cmd *exec.Cmd, pid int) {
	err := cmd.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	record := s.live[pid]
	delete(s.live, pid)
	if !record {
		return
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		s.logger.Warn("wait failed", zap.Int("pid", pid), zap.Error(err))
		return
	}

	e := s.exits[pid]
	if code := cmd.ProcessState.ExitCode(); code >= 0 {
		e.Code = &code
	} else if e.Reason == "" {
		e.Reason = cmd.ProcessState.String()
	}
	s.exits[pid] = e
	s.logger.Debug("process exited", zap.Int("pid", pid), zap.String("state", cmd.ProcessState.String()))
}

// Alive reports whether pid is running. A child of ours counts as running
// until it has been reaped.
func (s *Spawner) Alive(ctx context.Context, pid int) (bool, error) {
	s.mu.Lock()
	_, unreaped := s.live[pid]
	s.mu.Unlock()
	if unreaped {
		return true, nil
	}
	return s.table.Alive(ctx, pid)
}

// watch terminates pid once timeout elapses unless TakeExit was called first.
// The timeout reason is only kept for tracked processes, since nobody takes
// the exit of an untracked one.
func (s *Spawner) watch(pid int, timeout time.Duration, track bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.timers[pid]; ok {
		old.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(timeout, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.table.Grace+5*time.Second)
		defer cancel()
		alive, err := s.table.Alive(ctx, pid)

		s.mu.Lock()
		if s.timers[pid] != timer {
			s.mu.Unlock()
			return
		}
		delete(s.timers, pid)
		if err != nil || !alive {
			s.mu.Unlock()
			return
		}
		if track {
			e := s.exits[pid]
			e.Reason = fmt.Sprintf("timed out after %s", timeout)
			s.exits[pid] = e
		}
		s.mu.Unlock()

		s.logger.Warn("process timed out", zap.Int("pid", pid), zap.Duration("timeout", timeout))
		if err := s.table.Terminate(ctx, pid); err != nil && !errors.Is(err, ErrNotRunning) {
			s.logger.Error("failed to terminate timed out process", zap.Int("pid", pid), zap.Error(err))
		}
	})
	s.timers[pid] = timer
}

// TakeExit returns and forgets what is known about pid's exit, and cancels
// its timeout watchdog.
func (s *Spawner) TakeExit(pid int) (Exit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[pid]; ok {
		t.Stop()
		delete(s.timers, pid)
	}
	e, ok := s.exits[pid]
	delete(s.exits, pid)
	return e, ok
}

func parsePID(output string) (int, error) {
	lines := strings.Fields(strings.TrimSpace(output))
	if len(lines) == 0 {
		return 0, errors.New("empty output")
	}
	pid, err := strconv.Atoi(lines[len(lines)-1])
	if err != nil {
		return 0, err
	}
	if pid <= 0 {
		return 0, fmt.Errorf("invalid pid %d", pid)
	}
	return pid, nil
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return nil
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := append([]string{}, base...)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}
