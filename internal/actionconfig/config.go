// Package actionconfig decodes the JSON configuration stored on an action into
// one of a closed set of variant structs.
//
// Dispatch over variants goes through Visitor. Adding a variant means adding a
// Visit method, which breaks every implementation until it handles the new kind.
package actionconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindVSCode  Kind = "vscode"
	KindEclipse Kind = "eclipse"
	KindCommand Kind = "command"
	KindURL     Kind = "url"
	KindDelay   Kind = "delay"
	KindTool    Kind = "tool"
)

const (
	SourceSaved  = "saved"
	SourceCustom = "custom"

	ToolTypeCLI    = "cli"
	ToolTypeBinary = "binary"
)

var (
	ErrInvalidConfig = errors.New("invalid action config")
	ErrTypeMismatch  = errors.New("config type does not match action type")
	ErrUnknownType   = errors.New("unknown action type")
	ErrMissingField  = errors.New("missing required field")
)

// Config is implemented by every variant.
type Config interface {
	Kind() Kind
	Validate() error
	Accept(v Visitor) error
}

type Visitor interface {
	VisitVSCode(c *VSCode) error
	VisitEclipse(c *Eclipse) error
	VisitCommand(c *Command) error
	VisitURL(c *URL) error
	VisitDelay(c *Delay) error
	VisitSavedTool(c *SavedTool) error
	VisitCustomTool(c *CustomTool) error
}

type VSCode struct {
	WorkspacePath string `json:"workspace_path"`
	NewWindow     bool   `json:"new_window,omitempty"`
	BinaryPath    string `json:"binary_path,omitempty"`
}

type Eclipse struct {
	WorkspacePath string `json:"workspace_path"`
	BinaryPath    string `json:"binary_path,omitempty"`
}

type Command struct {
	Command              string            `json:"command"`
	Args                 []string          `json:"args,omitempty"`
	WorkingDirectory     string            `json:"working_directory,omitempty"`
	EnvironmentVariables map[string]string `json:"environment_variables,omitempty"`
}

type URL struct {
	URL string `json:"url"`
}

type Delay struct {
	DurationMS *int64 `json:"duration_ms"`
}

// SavedTool launches a stored tool template. Template tokens are ${name}
// placeholders filled from PlaceholderValues.
type SavedTool struct {
	ToolID            int64             `json:"tool_id"`
	ToolName          string            `json:"tool_name"`
	ToolType          string            `json:"tool_type"`
	Template          string            `json:"template"`
	PlaceholderValues map[string]string `json:"placeholder_values,omitempty"`
	WorkingDirectory  string            `json:"working_directory,omitempty"`
}

type CustomTool struct {
	ToolName         string   `json:"tool_name"`
	ToolType         string   `json:"tool_type"`
	Command          string   `json:"command,omitempty"`
	BinaryPath       string   `json:"binary_path,omitempty"`
	Args             []string `json:"args,omitempty"`
	WorkingDirectory string   `json:"working_directory,omitempty"`
}

func (*VSCode) Kind() Kind     { return KindVSCode }
func (*Eclipse) Kind() Kind    { return KindEclipse }
func (*Command) Kind() Kind    { return KindCommand }
func (*URL) Kind() Kind        { return KindURL }
func (*Delay) Kind() Kind      { return KindDelay }
func (*SavedTool) Kind() Kind  { return KindTool }
func (*CustomTool) Kind() Kind { return KindTool }

func (c *VSCode) Accept(v Visitor) error     { return v.VisitVSCode(c) }
func (c *Eclipse) Accept(v Visitor) error    { return v.VisitEclipse(c) }
func (c *Command) Accept(v Visitor) error    { return v.VisitCommand(c) }
func (c *URL) Accept(v Visitor) error        { return v.VisitURL(c) }
func (c *Delay) Accept(v Visitor) error      { return v.VisitDelay(c) }
func (c *SavedTool) Accept(v Visitor) error  { return v.VisitSavedTool(c) }
func (c *CustomTool) Accept(v Visitor) error { return v.VisitCustomTool(c) }

func (c *VSCode) Validate() error {
	return requireField("vscode", "workspace_path", c.WorkspacePath)
}

func (c *Eclipse) Validate() error {
	return requireField("eclipse", "workspace_path", c.WorkspacePath)
}

func (c *Command) Validate() error {
	return requireField("command", "command", c.Command)
}

func (c *URL) Validate() error {
	return requireField("url", "url", c.URL)
}

func (c *Delay) Validate() error {
	if c.DurationMS == nil {
		return fmt.Errorf("%w: delay config requires duration_ms", ErrMissingField)
	}
	if *c.DurationMS < 0 {
		return fmt.Errorf("%w: duration_ms must not be negative", ErrInvalidConfig)
	}
	return nil
}

func (c *SavedTool) Validate() error {
	if err := requireField("saved tool", "template", c.Template); err != nil {
		return err
	}
	return validToolType(c.ToolType)
}

func (c *CustomTool) Validate() error {
	if strings.TrimSpace(c.Command) == "" && strings.TrimSpace(c.BinaryPath) == "" {
		return fmt.Errorf("%w: tool %s has neither command nor binary_path", ErrMissingField, c.ToolName)
	}
	return validToolType(c.ToolType)
}

// UsesBinary reports whether the custom tool launches binary_path. A non-empty
// command always wins.
func (c *CustomTool) UsesBinary() bool {
	return strings.TrimSpace(c.Command) == ""
}

func requireField(variant, field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s config requires %s", ErrMissingField, variant, field)
	}
	return nil
}

func validToolType(t string) error {
	switch t {
	case "", ToolTypeCLI, ToolTypeBinary:
		return nil
	}
	return fmt.Errorf("%w: tool_type must be %q or %q, got %q", ErrInvalidConfig, ToolTypeCLI, ToolTypeBinary, t)
}

type envelope struct {
	Type   string `json:"type"`
	Source string `json:"source"`
	ToolID int64  `json:"tool_id"`
}

// Parse decodes raw according to actionType. A non-empty "type" tag inside the
// config must equal actionType; a mismatch is an error rather than a coercion.
func Parse(actionType, raw string) (Config, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(actionType)))
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: config is empty", ErrInvalidConfig)
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if env.Type != "" && Kind(strings.ToLower(env.Type)) != kind {
		return nil, fmt.Errorf("%w: action type %q, config type %q", ErrTypeMismatch, actionType, env.Type)
	}

	var cfg Config
	switch kind {
	case KindVSCode:
		cfg = &VSCode{}
	case KindEclipse:
		cfg = &Eclipse{}
	case KindCommand:
		cfg = &Command{}
	case KindURL:
		cfg = &URL{}
	case KindDelay:
		cfg = &Delay{}
	case KindTool:
		switch env.Source {
		case SourceSaved:
			cfg = &SavedTool{}
		case SourceCustom:
			cfg = &CustomTool{}
		case "":
			if env.ToolID > 0 {
				cfg = &SavedTool{}
			} else {
				cfg = &CustomTool{}
			}
		default:
			return nil, fmt.Errorf("%w: unknown tool source %q", ErrInvalidConfig, env.Source)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, actionType)
	}

	if err := json.Unmarshal([]byte(raw), cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
