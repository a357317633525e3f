package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mpataki/deck/internal/actionconfig"
	"github.com/mpataki/deck/internal/manifest"
	"github.com/mpataki/deck/internal/models"
	"github.com/mpataki/deck/internal/storage"
)

func newWorkspaceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workspace",
		Aliases: []string{"ws"},
		Short:   "Manage workspaces",
	}

	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			description, _ := cmd.Flags().GetString("description")

			e, err := openEnv(false)
			if err != nil {
				return err
			}
			defer e.Close()

			id, err := e.store.CreateWorkspace(&models.Workspace{Name: args[0], Description: description})
			if err != nil {
				return fmt.Errorf("failed to create workspace: %w", err)
			}
			fmt.Printf("Created workspace #%d %s\n", id, args[0])
			return nil
		},
	}
	create.Flags().StringP("description", "d", "", "Workspace description")

	list := &cobra.Command{
		Use:   "list",
		Short: "List workspaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(false)
			if err != nil {
				return err
			}
			defer e.Close()

			workspaces, err := e.store.ListWorkspaces()
			if err != nil {
				return err
			}
			if len(workspaces) == 0 {
				fmt.Println("No workspaces found.")
				return nil
			}
			for _, ws := range workspaces {
				fmt.Printf("#%d %s %s\n", ws.ID, ws.Name, truncate(ws.Description, 50))
			}
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a workspace with its actions, variables and runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(false)
			if err != nil {
				return err
			}
			defer e.Close()

			ws, err := e.store.GetWorkspaceByName(args[0])
			if err != nil {
				return err
			}
			if err := e.store.DeleteWorkspace(ws.ID); err != nil {
				return fmt.Errorf("failed to delete workspace: %w", err)
			}
			fmt.Printf("Deleted workspace #%d %s\n", ws.ID, ws.Name)
			return nil
		},
	}

	importCmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Create a workspace from a YAML manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.Parse(args[0])
			if err != nil {
				return err
			}

			e, err := openEnv(false)
			if err != nil {
				return err
			}
			defer e.Close()

			ws, err := manifest.Apply(e.store, m)
			if err != nil {
				return fmt.Errorf("failed to import %s: %w", args[0], err)
			}
			fmt.Printf("Imported workspace #%d %s with %d actions\n", ws.ID, ws.Name, len(m.Actions))
			return nil
		},
	}

	export := &cobra.Command{
		Use:   "export <name>",
		Short: "Print a workspace as a YAML manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(false)
			if err != nil {
				return err
			}
			defer e.Close()

			ws, err := e.store.GetWorkspaceByName(args[0])
			if err != nil {
				return err
			}
			m, err := manifest.Export(e.store, ws.ID)
			if err != nil {
				return err
			}
			return manifest.Encode(os.Stdout, m)
		},
	}

	cmd.AddCommand(create, list, del, importCmd, export)
	return cmd
}

func newActionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "action",
		Short: "Manage workspace actions",
	}

	add := &cobra.Command{
		Use:   "add <workspace> <name>",
		Short: "Add an action to a workspace",
		Long: `Add an action to a workspace. --config takes the JSON config for the action type:

  vscode   {"workspace_path": "..."}
  eclipse  {"workspace_path": "..."}
  command  {"command": "...", "args": [...], "working_directory": "..."}
  url      {"url": "https://..."}
  delay    {"duration_ms": 1000}
  tool     {"source": "saved", "template": "...", ...} or {"tool_name": "...", "tool_type": "cli", "command": "..."}`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			actionType, _ := flags.GetString("type")
			rawConfig, _ := flags.GetString("config")
			order, _ := flags.GetInt("order")
			detached, _ := flags.GetBool("detached")
			track, _ := flags.GetBool("track")
			timeout, _ := flags.GetInt("timeout")
			dependsOn, _ := flags.GetStringSlice("depends-on")
			overrides, _ := flags.GetString("os-overrides")

			// Validate before touching the database.
			if _, err := actionconfig.Parse(actionType, rawConfig); err != nil {
				return err
			}

			e, err := openEnv(false)
			if err != nil {
				return err
			}
			defer e.Close()

			ws, err := e.store.GetWorkspaceByName(args[0])
			if err != nil {
				return err
			}

			action := &models.Action{
				WorkspaceID:  ws.ID,
				Name:         args[1],
				ActionType:   actionType,
				Config:       rawConfig,
				Detached:     detached,
				TrackProcess: track,
				OrderIndex:   order,
			}
			if !flags.Changed("order") {
				existing, err := e.store.ListActions(ws.ID)
				if err != nil {
					return err
				}
				action.OrderIndex = len(existing)
			}
			if timeout > 0 {
				action.TimeoutSeconds = &timeout
			}
			if overrides != "" {
				if _, err := actionconfig.MergeOverrides(rawConfig, &overrides, actionconfig.OSKey(e.cfg.Platform)); err != nil {
					return err
				}
				action.OSOverrides = &overrides
			}
			if len(dependsOn) > 0 {
				deps, err := resolveDependencies(e.store, ws.ID, dependsOn)
				if err != nil {
					return err
				}
				action.Dependencies = &deps
			}

			id, err := e.store.CreateAction(action)
			if err != nil {
				return fmt.Errorf("failed to create action: %w", err)
			}
			fmt.Printf("Added action #%d %s (%s) to %s\n", id, action.Name, actionType, ws.Name)
			return nil
		},
	}
	add.Flags().StringP("type", "t", "", "Action type (vscode, eclipse, command, url, delay, tool)")
	add.Flags().StringP("config", "c", "{}", "Action config as JSON")
	add.Flags().Int("order", 0, "Launch order (defaults to after existing actions)")
	add.Flags().Bool("detached", false, "Run in the background instead of waiting on the process")
	add.Flags().Bool("track", false, "Track the process and record a run when it ends")
	add.Flags().Int("timeout", 0, "Stop a tracked process after this many seconds")
	add.Flags().StringSlice("depends-on", nil, "Names of actions this one depends on")
	add.Flags().String("os-overrides", "", `Per-OS config overrides as JSON, e.g. {"windows": {"command": "dir"}}`)
	_ = add.MarkFlagRequired("type")

	list := &cobra.Command{
		Use:   "list <workspace>",
		Short: "List the actions of a workspace in launch order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(false)
			if err != nil {
				return err
			}
			defer e.Close()

			ws, err := e.store.GetWorkspaceByName(args[0])
			if err != nil {
				return err
			}
			actions, err := e.store.ListActions(ws.ID)
			if err != nil {
				return err
			}
			if len(actions) == 0 {
				fmt.Println("No actions found.")
				return nil
			}

			for _, a := range actions {
				var flags []string
				if a.Detached {
					flags = append(flags, "detached")
				}
				if a.TrackProcess {
					flags = append(flags, "tracked")
				}
				if a.TimeoutSeconds != nil {
					flags = append(flags, fmt.Sprintf("timeout %ds", *a.TimeoutSeconds))
				}
				suffix := ""
				if len(flags) > 0 {
					suffix = " [" + strings.Join(flags, ", ") + "]"
				}
				fmt.Printf("%3d. #%d %s (%s)%s\n", a.OrderIndex, a.ID, a.Name, a.ActionType, suffix)
				fmt.Printf("     %s\n", truncate(a.Config, 70))
			}
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove <workspace> <name>",
		Short: "Remove an action and its run history",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(false)
			if err != nil {
				return err
			}
			defer e.Close()

			ws, err := e.store.GetWorkspaceByName(args[0])
			if err != nil {
				return err
			}
			a, err := e.store.GetActionByName(ws.ID, args[1])
			if err != nil {
				return err
			}
			if err := e.store.DeleteAction(a.ID); err != nil {
				return fmt.Errorf("failed to remove action: %w", err)
			}
			fmt.Printf("Removed action #%d %s\n", a.ID, a.Name)
			return nil
		},
	}

	cmd.AddCommand(add, list, remove)
	return cmd
}

// resolveDependencies turns action names into the JSON id array stored on
// the action.
func resolveDependencies(store *storage.Storage, workspaceID int64, names []string) (string, error) {
	ids := make([]int64, 0, len(names))
	for _, name := range names {
		a, err := store.GetActionByName(workspaceID, name)
		if err != nil {
			return "", fmt.Errorf("dependency %q: %w", name, err)
		}
		ids = append(ids, a.ID)
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func newVarCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "var",
		Aliases: []string{"variable"},
		Short:   "Manage ${NAME} substitution variables",
	}

	set := &cobra.Command{
		Use:   "set [workspace] <key> <value>",
		Short: "Set a workspace variable, or a global one with --global",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			global, _ := cmd.Flags().GetBool("global")
			disabled, _ := cmd.Flags().GetBool("disabled")
			secure, _ := cmd.Flags().GetBool("secure")

			e, err := openEnv(false)
			if err != nil {
				return err
			}
			defer e.Close()

			wsID, rest, err := variableScope(e.store, global, args, 2)
			if err != nil {
				return err
			}

			v := &models.Variable{
				WorkspaceID: wsID,
				Key:         rest[0],
				Value:       rest[1],
				IsSecure:    secure,
				Enabled:     !disabled,
			}
			if _, err := e.store.SetVariable(v); err != nil {
				return fmt.Errorf("failed to set variable: %w", err)
			}
			fmt.Printf("Set %s\n", v.Key)
			return nil
		},
	}
	set.Flags().Bool("global", false, "Set a global variable shared by all workspaces")
	set.Flags().Bool("disabled", false, "Store the variable but leave it out of substitution")
	set.Flags().Bool("secure", false, "Mask the value when listing")

	list := &cobra.Command{
		Use:   "list [workspace]",
		Short: "List global variables, or a workspace's variables",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(false)
			if err != nil {
				return err
			}
			defer e.Close()

			var vars []*models.Variable
			if len(args) == 0 {
				vars, err = e.store.ListGlobalVariables()
			} else {
				ws, werr := e.store.GetWorkspaceByName(args[0])
				if werr != nil {
					return werr
				}
				vars, err = e.store.ListVariables(ws.ID)
			}
			if err != nil {
				return err
			}
			if len(vars) == 0 {
				fmt.Println("No variables found.")
				return nil
			}

			for _, v := range vars {
				value := v.Value
				if v.IsSecure {
					value = "********"
				}
				state := ""
				if !v.Enabled {
					state = " (disabled)"
				}
				fmt.Printf("%s=%s%s\n", v.Key, value, state)
			}
			return nil
		},
	}

	unset := &cobra.Command{
		Use:   "unset [workspace] <key>",
		Short: "Delete a variable",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			global, _ := cmd.Flags().GetBool("global")

			e, err := openEnv(false)
			if err != nil {
				return err
			}
			defer e.Close()

			wsID, rest, err := variableScope(e.store, global, args, 1)
			if err != nil {
				return err
			}
			if err := e.store.DeleteVariable(wsID, rest[0]); err != nil {
				return err
			}
			fmt.Printf("Unset %s\n", rest[0])
			return nil
		},
	}
	unset.Flags().Bool("global", false, "Delete a global variable")

	cmd.AddCommand(set, list, unset)
	return cmd
}

// variableScope splits the leading workspace argument off args. Global
// variables take exactly want arguments, workspace ones take want+1.
func variableScope(store *storage.Storage, global bool, args []string, want int) (*int64, []string, error) {
	if global {
		if len(args) != want {
			return nil, nil, fmt.Errorf("--global takes %d arguments, got %d", want, len(args))
		}
		return nil, args, nil
	}
	if len(args) != want+1 {
		return nil, nil, fmt.Errorf("expected a workspace and %d arguments, got %d arguments (use --global for global variables)", want, len(args))
	}
	ws, err := store.GetWorkspaceByName(args[0])
	if err != nil {
		return nil, nil, err
	}
	return &ws.ID, args[1:], nil
}

func newToolCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tool",
		Short: "Manage saved tool templates",
	}

	add := &cobra.Command{
		Use:   "add <name> <template>",
		Short: "Save a tool template with ${placeholder} tokens",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			toolType, _ := cmd.Flags().GetString("type")
			description, _ := cmd.Flags().GetString("description")
			category, _ := cmd.Flags().GetString("category")
			placeholders, _ := cmd.Flags().GetString("placeholders")

			switch models.ToolType(toolType) {
			case models.ToolTypeCLI, models.ToolTypeBinary:
			default:
				return fmt.Errorf("%w: tool type must be cli or binary, got %q", actionconfig.ErrInvalidConfig, toolType)
			}
			if placeholders != "" && !json.Valid([]byte(placeholders)) {
				return fmt.Errorf("%w: placeholders must be a JSON array", actionconfig.ErrInvalidConfig)
			}

			e, err := openEnv(false)
			if err != nil {
				return err
			}
			defer e.Close()

			id, err := e.store.CreateTool(&models.Tool{
				Name:         args[0],
				Description:  description,
				Enabled:      true,
				ToolType:     models.ToolType(toolType),
				Template:     args[1],
				Placeholders: placeholders,
				Category:     category,
			})
			if err != nil {
				return fmt.Errorf("failed to save tool: %w", err)
			}
			fmt.Printf("Saved tool #%d %s\n", id, args[0])
			return nil
		},
	}
	add.Flags().String("type", string(models.ToolTypeCLI), "Tool type (cli or binary)")
	add.Flags().StringP("description", "d", "", "Tool description")
	add.Flags().String("category", "", "Tool category")
	add.Flags().String("placeholders", "", "Placeholder definitions as a JSON array")

	list := &cobra.Command{
		Use:   "list",
		Short: "List saved tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(false)
			if err != nil {
				return err
			}
			defer e.Close()

			tools, err := e.store.ListTools()
			if err != nil {
				return err
			}
			if len(tools) == 0 {
				fmt.Println("No tools found.")
				return nil
			}
			for _, t := range tools {
				fmt.Printf("#%d %s [%s] %s\n", t.ID, t.Name, t.ToolType, truncate(t.Template, 60))
			}
			return nil
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

func newSettingCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setting",
		Short: "Manage launcher settings",
		Long: fmt.Sprintf("Manage launcher settings. Known keys: %s.", strings.Join([]string{
			models.SettingVSCodeBinaryPath,
			models.SettingEclipseBinaryPath,
			models.SettingShellWindows,
			models.SettingShellMacOS,
			models.SettingShellLinux,
			models.SettingTerminalEmulator,
		}, ", ")),
	}

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(false)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.store.SetSetting(args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("%s=%s\n", args[0], args[1])
			return nil
		},
	}

	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Print a setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(false)
			if err != nil {
				return err
			}
			defer e.Close()

			value, err := e.store.GetSetting(args[0])
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(false)
			if err != nil {
				return err
			}
			defer e.Close()

			settings, err := e.store.ListSettings()
			if err != nil {
				return err
			}
			for _, s := range settings {
				fmt.Printf("%s=%s\n", s.Key, s.Value)
			}
			return nil
		},
	}

	cmd.AddCommand(set, get, list)
	return cmd
}
