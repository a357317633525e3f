package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mpataki/deck/internal/launch"
	"github.com/mpataki/deck/internal/models"
	"github.com/mpataki/deck/internal/notify"
	"github.com/mpataki/deck/internal/orchestrator"
	"github.com/mpataki/deck/internal/storage"
)

// dryRunEntry is one action of a dry run as printed to stdout.
type dryRunEntry struct {
	Action string       `yaml:"action"`
	Type   string       `yaml:"type"`
	Plan   *launch.Plan `yaml:"plan,omitempty"`
	Error  string       `yaml:"error,omitempty"`
}

func newLaunchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "launch <workspace>",
		Short: "Launch every action of a workspace, or one with --action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actionName, _ := cmd.Flags().GetString("action")
			watch, _ := cmd.Flags().GetBool("watch")
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			rt, err := openLauncher(false, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			ws, err := rt.store.GetWorkspaceByName(args[0])
			if err != nil {
				return err
			}

			if dryRun {
				return printDryRun(rt.orch, ws.ID, actionName)
			}

			ctx, cancel := signalContext()
			defer cancel()

			if actionName != "" {
				action, err := rt.store.GetActionByName(ws.ID, actionName)
				if err != nil {
					return err
				}
				result := rt.orch.Launch(ctx, action)
				printLaunchResult(action.Name, result)
				if !result.Success {
					return errors.New(result.Message)
				}
			} else {
				fmt.Printf("Launching %s\n", ws.Name)
				summary, err := rt.orch.LaunchWorkspace(ctx, ws.ID)
				if err != nil {
					return err
				}
				for _, r := range summary.Results {
					printLaunchResult(r.Action.Name, r.Result)
				}
				fmt.Printf("Launched %d/%d actions\n", summary.SuccessCount, summary.TotalCount)
			}

			if !watch {
				if n := len(rt.orch.Running(ws.ID)); n > 0 {
					fmt.Printf("%d tracked action(s) running; use `deck session %s` to monitor them\n", n, ws.Name)
				}
				return nil
			}
			return watchWorkspace(ctx, rt, ws)
		},
	}

	cmd.Flags().StringP("action", "a", "", "Launch only the named action")
	cmd.Flags().BoolP("watch", "w", false, "Stay attached until every tracked action has finished")
	cmd.Flags().Bool("dry-run", false, "Print the launch plans as YAML without launching")
	return cmd
}

func printDryRun(orch *orchestrator.Orchestrator, workspaceID int64, actionName string) error {
	planned, err := orch.Plan(workspaceID)
	if err != nil {
		return err
	}

	var entries []dryRunEntry
	for _, p := range planned {
		if actionName != "" && p.Action.Name != actionName {
			continue
		}
		entry := dryRunEntry{Action: p.Action.Name, Type: p.Action.ActionType, Plan: p.Plan}
		if p.Err != nil {
			entry.Error = p.Err.Error()
		}
		entries = append(entries, entry)
	}
	if actionName != "" && len(entries) == 0 {
		return fmt.Errorf("action %q: %w", actionName, storage.ErrNotFound)
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(entries)
}

// watchWorkspace runs reconciliation ticks until the workspace has no
// tracked actions left or ctx is cancelled.
func watchWorkspace(ctx context.Context, rt *launcher, ws *models.Workspace) error {
	ticker := time.NewTicker(rt.cfg.PollInterval)
	defer ticker.Stop()

	for {
		running := rt.orch.Running(ws.ID)
		if len(running) == 0 {
			fmt.Println("No tracked actions running.")
			return nil
		}
		fmt.Printf("Watching %d tracked action(s)...\n", len(running))

		select {
		case <-ctx.Done():
			fmt.Println("Detached; tracked actions keep running.")
			return nil
		case <-ticker.C:
		}

		for _, run := range rt.loop.Tick(ctx) {
			fmt.Println(describeRun(run, actionNames(rt.store, ws.ID)))
		}
	}
}

func actionNames(store *storage.Storage, workspaceID int64) map[int64]string {
	names := make(map[int64]string)
	actions, err := store.ListActions(workspaceID)
	if err != nil {
		return names
	}
	for _, a := range actions {
		names[a.ID] = a.Name
	}
	return names
}

func describeRun(run *models.Run, names map[int64]string) string {
	name, ok := names[run.ActionID]
	if !ok {
		name = fmt.Sprintf("action #%d", run.ActionID)
	}
	line := fmt.Sprintf("#%d %s [%s] started %s", run.ID, name, run.Status, storage.FormatTimeAgo(run.StartedAt))
	if run.CompletedAt != nil {
		line += fmt.Sprintf(", took %s", run.CompletedAt.Sub(run.StartedAt).Round(time.Second))
	}
	if run.ExitCode != nil {
		line += fmt.Sprintf(" (exit %d)", *run.ExitCode)
	}
	if run.ErrorMessage != nil {
		line += ": " + *run.ErrorMessage
	}
	return line
}

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs <workspace>",
		Short: "Show run history, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actionName, _ := cmd.Flags().GetString("action")
			limit, _ := cmd.Flags().GetInt("limit")

			e, err := openEnv(false)
			if err != nil {
				return err
			}
			defer e.Close()

			ws, err := e.store.GetWorkspaceByName(args[0])
			if err != nil {
				return err
			}

			var runs []*models.Run
			if actionName != "" {
				action, err := e.store.GetActionByName(ws.ID, actionName)
				if err != nil {
					return err
				}
				runs, err = e.store.ListRunsForAction(action.ID, limit)
				if err != nil {
					return err
				}
			} else {
				runs, err = e.store.ListRunsForWorkspace(ws.ID, limit)
				if err != nil {
					return err
				}
			}

			if len(runs) == 0 {
				fmt.Println("No runs found.")
				return nil
			}
			names := actionNames(e.store, ws.ID)
			for _, run := range runs {
				fmt.Println(describeRun(run, names))
			}
			return nil
		},
	}

	cmd.Flags().StringP("action", "a", "", "Only show runs of the named action")
	cmd.Flags().IntP("limit", "n", 20, "Maximum number of runs to show")
	return cmd
}

func newStopCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop <workspace> [action]",
		Short: "Stop a tracked action, or every tracked action of a workspace",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openLauncher(false, notify.Func(func(e notify.Event) {
				if e.Level == notify.LevelWarning || e.Level == notify.LevelError {
					fmt.Println(e.Message)
				}
			}))
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

			if len(args) == 1 {
				runs, err := rt.orch.StopWorkspace(ctx, ws.ID)
				fmt.Printf("Stopped %d action(s) in %s\n", len(runs), ws.Name)
				return err
			}

			action, err := rt.store.GetActionByName(ws.ID, args[1])
			if err != nil {
				return err
			}
			run, err := rt.orch.StopAction(ctx, ws.ID, action.ID)
			if errors.Is(err, orchestrator.ErrNotRunning) {
				return fmt.Errorf("%s is not running", action.Name)
			}
			if run != nil {
				fmt.Printf("Stopped %s (run #%d)\n", action.Name, run.ID)
			}
			return err
		},
	}
	return cmd
}
