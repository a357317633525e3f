package launch

import (
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/mpataki/deck/internal/actionconfig"
	"github.com/mpataki/deck/internal/models"
	"github.com/mpataki/deck/internal/variables"
)

var vscodeCandidates = []string{"code", "code.cmd", "code.exe"}

// Build applies os_overrides, parses the config and produces a Plan.
// Configuration problems are returned as errors and never produce a Plan.
func (b *Builder) Build(action *models.Action, vars map[string]string) (*Plan, error) {
	raw, err := actionconfig.MergeOverrides(action.Config, action.OSOverrides, actionconfig.OSKey(string(b.Platform)))
	if err != nil {
		return nil, err
	}
	cfg, err := actionconfig.Parse(action.ActionType, raw)
	if err != nil {
		return nil, err
	}

	pb := &planBuilder{
		Builder: b,
		vars:    vars,
		plan: &Plan{
			Label:    action.Name,
			Mode:     ModeSpawn,
			Detached: action.Detached,
			Track:    action.TrackProcess,
		},
	}
	if err := cfg.Accept(pb); err != nil {
		return nil, err
	}

	plan := pb.plan
	if plan.Mode != ModeSpawn {
		plan.Track = false
		plan.Detached = false
		return plan, nil
	}
	plan.WaitForExit = !plan.Detached
	if action.TimeoutSeconds != nil && *action.TimeoutSeconds > 0 {
		plan.Timeout = time.Duration(*action.TimeoutSeconds) * time.Second
	}
	return plan, nil
}

type planBuilder struct {
	*Builder
	vars map[string]string
	plan *Plan
}

func (pb *planBuilder) sub(s string) string {
	return variables.Substitute(s, pb.vars)
}

func (pb *planBuilder) VisitVSCode(c *actionconfig.VSCode) error {
	path := pb.sub(c.WorkspacePath)
	binary := pb.editorBinary(pb.sub(c.BinaryPath), pb.Settings.VSCodeBinary, vscodeCandidates, "code")

	var args []string
	if c.NewWindow {
		args = append(args, "--new-window")
	}
	args = append(args, path)

	pb.direct(binary, args, pb.editorDir(path))
	return nil
}

func (pb *planBuilder) VisitEclipse(c *actionconfig.Eclipse) error {
	path := pb.sub(c.WorkspacePath)
	binary := pb.editorBinary(pb.sub(c.BinaryPath), pb.Settings.EclipseBinary, []string{"eclipse"}, "eclipse")
	pb.direct(binary, []string{"-data", path}, pb.editorDir(path))
	return nil
}

func (pb *planBuilder) VisitCommand(c *actionconfig.Command) error {
	if len(c.EnvironmentVariables) > 0 {
		pb.plan.Env = variables.SubstituteMap(c.EnvironmentVariables, pb.vars)
	}
	pb.cli(pb.sub(c.Command), variables.SubstituteAll(c.Args, pb.vars), pb.workingDir(c.WorkingDirectory))
	return nil
}

func (pb *planBuilder) VisitURL(c *actionconfig.URL) error {
	pb.plan.Mode = ModeOpen
	pb.plan.URL = pb.sub(c.URL)
	return nil
}

func (pb *planBuilder) VisitDelay(c *actionconfig.Delay) error {
	pb.plan.Mode = ModeDelay
	pb.plan.Delay = time.Duration(*c.DurationMS) * time.Millisecond
	return nil
}

func (pb *planBuilder) VisitSavedTool(c *actionconfig.SavedTool) error {
	placeholders := variables.SubstituteMap(c.PlaceholderValues, pb.vars)
	line := pb.sub(variables.Substitute(c.Template, placeholders))

	argv, err := pb.splitArgs(line)
	if err != nil {
		return fmt.Errorf("%w: tool %s template: %v", actionconfig.ErrInvalidConfig, c.ToolName, err)
	}
	if len(argv) == 0 {
		return fmt.Errorf("%w: tool %s template is empty", actionconfig.ErrMissingField, c.ToolName)
	}

	dir := pb.workingDir(c.WorkingDirectory)
	if c.ToolType == actionconfig.ToolTypeBinary {
		pb.binary(argv[0], argv[1:], dir)
		return nil
	}
	pb.cli(argv[0], argv[1:], dir)
	return nil
}

func (pb *planBuilder) VisitCustomTool(c *actionconfig.CustomTool) error {
	args := variables.SubstituteAll(c.Args, pb.vars)
	dir := pb.workingDir(c.WorkingDirectory)
	if c.UsesBinary() {
		pb.binary(pb.sub(c.BinaryPath), args, dir)
		return nil
	}
	pb.cli(pb.sub(c.Command), args, dir)
	return nil
}

// direct spawns program itself with no wrapper shell.
func (pb *planBuilder) direct(program string, args []string, dir string) {
	pb.plan.Program = program
	pb.plan.Args = args
	pb.plan.Dir = dir
}

// cli runs a command line either in a terminal window that stays open after
// the command exits or, when detached, in the background through a
// non-interactive shell that reports the child PID.
func (pb *planBuilder) cli(command string, args []string, dir string) {
	pb.plan.Dir = dir
	argv := append([]string{command}, args...)

	if pb.plan.Detached {
		pb.background(argv, dir, true)
		return
	}

	switch pb.Platform {
	case Windows:
		shell := pb.windowsShell()
		pb.plan.NewConsole = true
		if isCmd(shell) {
			// cmd.exe does not follow the argv escaping rules exec applies,
			// so the command line is handed over exactly as cmd expects it.
			pb.plan.Program = shell
			pb.plan.Args = []string{"/k", cmdJoin(argv)}
			pb.plan.CmdLine = cmdQuote(shell) + " /k " + cmdJoin(argv)
			return
		}
		pb.plan.Program = shell
		pb.plan.Args = []string{"-NoExit", "-Command", "& " + psJoin(argv)}
	case MacOS:
		script := fmt.Sprintf("cd %s && %s", posixQuote(dir), posixJoin(argv))
		if shell := pb.Settings.ShellMacOS; shell != "" {
			script = fmt.Sprintf("%s -c %s", posixQuote(shell), posixQuote(script))
		}
		pb.plan.Program = "osascript"
		pb.plan.Args = []string{
			"-e", fmt.Sprintf(`tell application "Terminal" to do script "%s"`, appleScriptEscape(script)),
			"-e", `tell application "Terminal" to activate`,
		}
	default:
		terminal := pb.Settings.TerminalEmulator
		if terminal == "" {
			terminal = "x-terminal-emulator"
		}
		pb.plan.Program = terminal
		pb.plan.Args = []string{"-e", pb.posixShell(), "-c", posixJoin(argv) + "; printf 'Press enter to close'; read _"}
	}
}

// binary launches an executable directly when the caller waits on it and
// through a background launcher otherwise.
func (pb *planBuilder) binary(path string, args []string, dir string) {
	if !pb.plan.Detached {
		pb.direct(path, args, dir)
		return
	}
	pb.plan.Dir = dir
	pb.background(append([]string{path}, args...), dir, false)

	// Start-Process -PassThru hands back the launcher's view of the process,
	// which is wrong for apps that re-exec or hand off to a running instance.
	if pb.Platform == Windows && pb.plan.Track {
		pb.plan.Probe = &Probe{
			ImageName: imageName(path),
			Delay:     pb.Settings.ProbeDelay,
			Window:    pb.Settings.ProbeWindow,
		}
	}
}

func (pb *planBuilder) background(argv []string, dir string, hidden bool) {
	pb.plan.PIDFromOutput = true

	if pb.Platform == Windows {
		script := "$proc = Start-Process -FilePath " + psQuote(argv[0])
		if len(argv) > 1 {
			script += " -ArgumentList " + strings.Join(psQuoteAll(argv[1:]), ",")
		}
		script += " -WorkingDirectory " + psQuote(dir)
		if hidden {
			script += " -WindowStyle Hidden"
		}
		script += " -PassThru; Write-Output $proc.Id"
		pb.plan.Program = "powershell"
		pb.plan.Args = []string{"-NoProfile", "-OutputFormat", "Text", "-Command", script}
		return
	}

	pb.plan.Program = pb.posixShell()
	pb.plan.Args = []string{"-c", "nohup " + posixJoin(argv) + " > /dev/null 2>&1 & echo $!"}
}

func (pb *planBuilder) windowsShell() string {
	if pb.Settings.ShellWindows != "" {
		return pb.Settings.ShellWindows
	}
	return "powershell"
}

func (pb *planBuilder) posixShell() string {
	shell := pb.Settings.ShellLinux
	if pb.Platform == MacOS {
		shell = pb.Settings.ShellMacOS
	}
	if shell == "" {
		return "sh"
	}
	return shell
}

// workingDir falls back to the TEMP or TMP variable and then the OS temp dir.
func (pb *planBuilder) workingDir(configured string) string {
	if dir := strings.TrimSpace(pb.sub(configured)); dir != "" {
		return dir
	}
	return pb.fallbackDir()
}

func (pb *planBuilder) fallbackDir() string {
	for _, key := range []string{"TEMP", "TMP"} {
		if v := pb.vars[key]; v != "" {
			return v
		}
	}
	return pb.TempDir()
}

func (pb *planBuilder) editorDir(workspacePath string) string {
	if dir := parentDir(workspacePath, pb.Platform); dir != "" {
		return dir
	}
	return pb.fallbackDir()
}

// editorBinary prefers the config value, then the saved setting, then the
// first candidate found on PATH, then fallback as-is.
func (pb *planBuilder) editorBinary(configured, setting string, candidates []string, fallback string) string {
	if configured != "" {
		return configured
	}
	if setting != "" {
		return setting
	}
	if pb.LookPath != nil {
		for _, name := range candidates {
			if path, err := pb.LookPath(name); err == nil {
				return path
			}
		}
	}
	return fallback
}

func (pb *planBuilder) splitArgs(line string) ([]string, error) {
	if pb.Platform == Windows {
		// backslashes are path separators here, not escapes
		line = strings.ReplaceAll(line, `\`, `\\`)
	}
	return shellwords.Parse(line)
}

func parentDir(path string, platform Platform) string {
	seps := "/"
	if platform == Windows {
		seps = `/\`
	}
	trimmed := strings.TrimRight(path, seps)
	i := strings.LastIndexAny(trimmed, seps)
	switch {
	case i < 0:
		return ""
	case i == 0:
		return trimmed[:1]
	}
	dir := trimmed[:i]
	if platform == Windows && strings.HasSuffix(dir, ":") {
		dir += `\`
	}
	return dir
}

// imageName is the process name Windows reports for a binary path.
func imageName(path string) string {
	name := path
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if len(name) > 4 && strings.EqualFold(name[len(name)-4:], ".exe") {
		name = name[:len(name)-4]
	}
	return name
}

func isCmd(shell string) bool {
	name := strings.ToLower(imageName(shell))
	return name == "cmd"
}
