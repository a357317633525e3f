package models

import "time"

type Workspace struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Action is one launchable unit of a workspace. Config, Dependencies and
// OSOverrides are opaque JSON blobs validated by the launch plan builder.
type Action struct {
	ID             int64
	WorkspaceID    int64
	Name           string
	ActionType     string
	Config         string
	Dependencies   *string
	TimeoutSeconds *int
	Detached       bool
	TrackProcess   bool
	OSOverrides    *string
	OrderIndex     int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Variable belongs to a workspace, or is global when WorkspaceID is nil.
type Variable struct {
	ID          int64
	WorkspaceID *int64
	Key         string
	Value       string
	IsSecure    bool
	Enabled     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type ToolType string

const (
	ToolTypeBinary ToolType = "binary"
	ToolTypeCLI    ToolType = "cli"
)

// Tool is a saved launch template. Placeholders is a JSON array of
// placeholder definitions.
type Tool struct {
	ID           int64
	Name         string
	Description  string
	Enabled      bool
	ToolType     ToolType
	Template     string
	Placeholders string
	Category     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Setting keys read by the launch plan builder.
const (
	SettingVSCodeBinaryPath  = "vscode_binary_path"
	SettingEclipseBinaryPath = "eclipse_binary_path"
	SettingShellWindows      = "default_shell_windows"
	SettingShellMacOS        = "default_shell_macos"
	SettingShellLinux        = "default_shell_linux"
	SettingTerminalEmulator  = "terminal_emulator"
)

type Setting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}
