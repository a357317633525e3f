package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mpataki/deck/internal/config"
	"github.com/mpataki/deck/internal/launch"
	"github.com/mpataki/deck/internal/logging"
	"github.com/mpataki/deck/internal/models"
	"github.com/mpataki/deck/internal/notify"
	"github.com/mpataki/deck/internal/orchestrator"
	"github.com/mpataki/deck/internal/process"
	"github.com/mpataki/deck/internal/reconcile"
	"github.com/mpataki/deck/internal/registry"
	"github.com/mpataki/deck/internal/storage"
	"github.com/mpataki/deck/internal/tui"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "deck",
		Short:         "Workspace action launcher",
		Long:          "Deck launches the editors, commands, URLs and tools that make up a workspace and tracks what is still running.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newWorkspaceCommand())
	rootCmd.AddCommand(newActionCommand())
	rootCmd.AddCommand(newVarCommand())
	rootCmd.AddCommand(newToolCommand())
	rootCmd.AddCommand(newSettingCommand())
	rootCmd.AddCommand(newLaunchCommand())
	rootCmd.AddCommand(newRunsCommand())
	rootCmd.AddCommand(newStopCommand())
	rootCmd.AddCommand(newSessionCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// env holds what every command needs: config, logger and the store.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *storage.Storage
	sync   func()
}

func (e *env) Close() {
	e.store.Close()
	e.sync()
}

// openEnv loads config, creates the data dir, and opens the log and database.
// Interactive sessions keep warnings off stderr so the TUI owns the terminal.
func openEnv(interactive bool) (*env, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	logger, sync, err := logging.New(cfg.LogLevel, cfg.LogPath(), !interactive)
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}

	store, err := storage.New(cfg.DBPath)
	if err != nil {
		sync()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &env{cfg: cfg, logger: logger, store: store, sync: sync}, nil
}

// launcher is the launch side of the application: registry, spawner,
// reconciliation loop and orchestrator sharing one store.
type launcher struct {
	*env
	registry *registry.Registry
	procs    *process.Table
	spawner  *process.Spawner
	loop     *reconcile.Loop
	orch     *orchestrator.Orchestrator
}

func openLauncher(interactive bool, notifier notify.Notifier) (*launcher, error) {
	e, err := openEnv(interactive)
	if err != nil {
		return nil, err
	}

	settings, err := e.store.SettingsMap()
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	launchSettings := launch.SettingsFromMap(settings)
	launchSettings.ProbeDelay = e.cfg.ProbeDelay
	launchSettings.ProbeWindow = e.cfg.ProbeWindow
	builder := launch.NewBuilder(launch.ParsePlatform(e.cfg.Platform), launchSettings)

	notifier = notify.Multi(notify.NewLog(e.logger.Named("notify")), notifier)

	reg := registry.New(e.logger.Named("registry"), registry.WithJournal(e.store))
	if err := reg.Sync(); err != nil {
		e.logger.Warn("failed to restore running actions", zap.Error(err))
	}

	procs := process.NewTable()
	spawner := process.NewSpawner(procs, e.logger.Named("spawner"))
	loop := reconcile.New(reg, e.store, spawner, e.logger.Named("reconcile"),
		reconcile.WithExitSource(spawner),
		reconcile.WithInterval(e.cfg.PollInterval),
		reconcile.WithRetention(e.cfg.RunRetention),
		reconcile.WithNotifier(notifier),
	)

	orch := orchestrator.New(orchestrator.Deps{
		Store:    e.store,
		Planner:  builder,
		Spawner:  spawner,
		Procs:    procs,
		Registry: reg,
		Loop:     loop,
		Notifier: notifier,
		Logger:   e.logger.Named("orchestrator"),
	})

	return &launcher{
		env:      e,
		registry: reg,
		procs:    procs,
		spawner:  spawner,
		loop:     loop,
		orch:     orch,
	}, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newSessionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "session <workspace>",
		Short: "Open the interactive session monitor for a workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events := make(chan notify.Event, 64)
			rt, err := openLauncher(true, tui.ChannelNotifier(events))
			if err != nil {
				return err
			}
			defer rt.Close()

			ws, err := rt.store.GetWorkspaceByName(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			app := tui.NewApp(ctx, tui.Deps{
				Workspace:    ws,
				Store:        rt.store,
				Orchestrator: rt.orch,
				Loop:         rt.loop,
				Events:       events,
			})
			p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))

			_, err = p.Run()
			return err
		},
	}
}

func printLaunchResult(name string, r models.LaunchResult) {
	mark := "ok"
	if !r.Success {
		mark = "FAILED"
	}
	line := fmt.Sprintf("  [%s] %s: %s", mark, name, r.Message)
	if r.ProcessID != nil {
		line += fmt.Sprintf(" (pid %d)", *r.ProcessID)
	}
	fmt.Println(line)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
