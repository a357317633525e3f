// Package launch turns an action and its variables into a Plan that the
// process spawner can execute. Building is pure: nothing here touches the OS
// beyond an injectable PATH lookup.
package launch

import (
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/alessio/shellescape"

	"github.com/mpataki/deck/internal/models"
)

type Platform string

const (
	Windows Platform = "windows"
	MacOS   Platform = "darwin"
	Linux   Platform = "linux"
)

// CurrentPlatform maps runtime.GOOS onto a Platform. Unknown unix flavours are
// treated as Linux.
func CurrentPlatform() Platform {
	return ParsePlatform(runtime.GOOS)
}

func ParsePlatform(goos string) Platform {
	switch goos {
	case "windows":
		return Windows
	case "darwin", "macos":
		return MacOS
	default:
		return Linux
	}
}

type Mode string

const (
	ModeSpawn Mode = "spawn"
	ModeOpen  Mode = "open"
	ModeDelay Mode = "delay"
)

// Probe asks the spawner to look for the real child after a wrapper launch:
// the newest process named ImageName started within Window, checked after Delay.
type Probe struct {
	ImageName string        `yaml:"image_name"`
	Delay     time.Duration `yaml:"delay"`
	Window    time.Duration `yaml:"window"`
}

type Plan struct {
	Label string `yaml:"label"`
	Mode  Mode   `yaml:"mode"`

	Program string            `yaml:"program,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Dir     string            `yaml:"dir,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	// CmdLine, when set, replaces the command line built from Program and
	// Args on Windows.
	CmdLine string `yaml:"cmd_line,omitempty"`

	WaitForExit bool `yaml:"wait_for_exit"`
	Detached    bool `yaml:"detached"`
	Track       bool `yaml:"track"`
	// NewConsole gives the child its own console window (Windows only).
	NewConsole bool `yaml:"new_console,omitempty"`
	// PIDFromOutput means Program prints the launched PID on stdout and exits.
	PIDFromOutput bool   `yaml:"pid_from_output,omitempty"`
	Probe         *Probe `yaml:"probe,omitempty"`

	URL     string        `yaml:"url,omitempty"`
	Delay   time.Duration `yaml:"delay,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// CommandLine renders Program and Args for log lines and messages.
func (p *Plan) CommandLine() string {
	switch p.Mode {
	case ModeOpen:
		return p.URL
	case ModeDelay:
		return p.Delay.String()
	}
	return shellescape.QuoteCommand(append([]string{p.Program}, p.Args...))
}

// Settings are the user-level overrides stored in the settings table.
type Settings struct {
	ShellWindows     string
	ShellMacOS       string
	ShellLinux       string
	VSCodeBinary     string
	EclipseBinary    string
	TerminalEmulator string
	ProbeDelay       time.Duration
	ProbeWindow      time.Duration
}

const (
	DefaultProbeDelay  = 500 * time.Millisecond
	DefaultProbeWindow = 2 * time.Second
)

func SettingsFromMap(m map[string]string) Settings {
	return Settings{
		ShellWindows:     m[models.SettingShellWindows],
		ShellMacOS:       m[models.SettingShellMacOS],
		ShellLinux:       m[models.SettingShellLinux],
		VSCodeBinary:     m[models.SettingVSCodeBinaryPath],
		EclipseBinary:    m[models.SettingEclipseBinaryPath],
		TerminalEmulator: m[models.SettingTerminalEmulator],
	}
}

type Builder struct {
	Platform Platform
	Settings Settings
	LookPath func(file string) (string, error)
	TempDir  func() string
}

func NewBuilder(platform Platform, settings Settings) *Builder {
	if settings.ProbeDelay <= 0 {
		settings.ProbeDelay = DefaultProbeDelay
	}
	if settings.ProbeWindow <= 0 {
		settings.ProbeWindow = DefaultProbeWindow
	}
	return &Builder{
		Platform: platform,
		Settings: settings,
		LookPath: exec.LookPath,
		TempDir:  os.TempDir,
	}
}
