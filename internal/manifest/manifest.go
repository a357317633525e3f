// Package manifest reads and writes workspace definitions as YAML so a
// workspace can be versioned next to the project it opens.
package manifest

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mpataki/deck/internal/actionconfig"
	"github.com/mpataki/deck/internal/models"
)

type Manifest struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Variables   map[string]string `yaml:"variables,omitempty"`
	Actions     []*Action         `yaml:"actions"`
}

type Action struct {
	Name           string                    `yaml:"name"`
	Type           string                    `yaml:"type"`
	Config         map[string]any            `yaml:"config"`
	Detached       bool                      `yaml:"detached,omitempty"`
	Track          bool                      `yaml:"track,omitempty"`
	TimeoutSeconds int                       `yaml:"timeout_seconds,omitempty"`
	DependsOn      []string                  `yaml:"depends_on,omitempty"`
	OSOverrides    map[string]map[string]any `yaml:"os_overrides,omitempty"`
}

func Parse(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	defer f.Close()

	m, err := Decode(f)
	if err != nil {
		return nil, err
	}

	// Use the file name when the manifest has none
	if m.Name == "" {
		base := filepath.Base(path)
		m.Name = strings.TrimSuffix(strings.TrimSuffix(base, ".yaml"), ".yml")
	}
	return m, nil
}

func Decode(r io.Reader) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}
	return &m, nil
}

func Encode(w io.Writer, m *Manifest) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return err
	}
	return enc.Close()
}

// Validate checks names, dependency references and every action config.
func Validate(m *Manifest) error {
	if m.Name == "" {
		return fmt.Errorf("manifest must have a name")
	}

	names := make(map[string]bool, len(m.Actions))
	for i, a := range m.Actions {
		if a.Name == "" {
			return fmt.Errorf("action %d must have a name", i+1)
		}
		if names[a.Name] {
			return fmt.Errorf("duplicate action %q", a.Name)
		}
		names[a.Name] = true

		raw, err := configJSON(a.Config)
		if err != nil {
			return fmt.Errorf("action %q: %w", a.Name, err)
		}
		if _, err := actionconfig.Parse(a.Type, raw); err != nil {
			return fmt.Errorf("action %q: %w", a.Name, err)
		}
		for key := range a.OSOverrides {
			switch key {
			case "windows", "macos", "linux":
			default:
				return fmt.Errorf("action %q: unknown os_overrides key %q", a.Name, key)
			}
		}
	}

	for _, a := range m.Actions {
		for _, dep := range a.DependsOn {
			if !names[dep] {
				return fmt.Errorf("action %q depends on unknown action %q", a.Name, dep)
			}
			if dep == a.Name {
				return fmt.Errorf("action %q depends on itself", a.Name)
			}
		}
	}
	return nil
}

type Store interface {
	CreateWorkspace(ws *models.Workspace) (int64, error)
	DeleteWorkspace(id int64) error
	CreateAction(a *models.Action) (int64, error)
	UpdateAction(a *models.Action) error
	SetVariable(v *models.Variable) (int64, error)
	GetWorkspace(id int64) (*models.Workspace, error)
	ListActions(workspaceID int64) ([]*models.Action, error)
	ListVariables(workspaceID int64) ([]*models.Variable, error)
}

// Apply creates the workspace with its variables and actions. Actions keep
// manifest order. A failure part way removes the workspace again.
func Apply(store Store, m *Manifest) (*models.Workspace, error) {
	if err := Validate(m); err != nil {
		return nil, err
	}

	ws := &models.Workspace{Name: m.Name, Description: m.Description}
	id, err := store.CreateWorkspace(ws)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	ws.ID = id

	if err := apply(store, ws.ID, m); err != nil {
		if derr := store.DeleteWorkspace(ws.ID); derr != nil {
			return nil, fmt.Errorf("%w (cleanup failed: %v)", err, derr)
		}
		return nil, err
	}
	return ws, nil
}

func apply(store Store, workspaceID int64, m *Manifest) error {
	for _, key := range sortedKeys(m.Variables) {
		wsID := workspaceID
		v := &models.Variable{WorkspaceID: &wsID, Key: key, Value: m.Variables[key], Enabled: true}
		if _, err := store.SetVariable(v); err != nil {
			return fmt.Errorf("failed to set variable %s: %w", key, err)
		}
	}

	created := make(map[string]*models.Action, len(m.Actions))
	for i, a := range m.Actions {
		action, err := toModel(workspaceID, i, a)
		if err != nil {
			return err
		}
		id, err := store.CreateAction(action)
		if err != nil {
			return fmt.Errorf("failed to create action %s: %w", a.Name, err)
		}
		action.ID = id
		created[a.Name] = action
	}

	// Dependencies need the ids of actions created above.
	for _, a := range m.Actions {
		if len(a.DependsOn) == 0 {
			continue
		}
		ids := make([]int64, 0, len(a.DependsOn))
		for _, dep := range a.DependsOn {
			ids = append(ids, created[dep].ID)
		}
		b, err := json.Marshal(ids)
		if err != nil {
			return err
		}
		deps := string(b)
		action := created[a.Name]
		action.Dependencies = &deps
		if err := store.UpdateAction(action); err != nil {
			return fmt.Errorf("failed to set dependencies of %s: %w", a.Name, err)
		}
	}
	return nil
}

func toModel(workspaceID int64, index int, a *Action) (*models.Action, error) {
	raw, err := configJSON(a.Config)
	if err != nil {
		return nil, err
	}
	action := &models.Action{
		WorkspaceID:  workspaceID,
		Name:         a.Name,
		ActionType:   a.Type,
		Config:       raw,
		Detached:     a.Detached,
		TrackProcess: a.Track,
		OrderIndex:   index,
	}
	if a.TimeoutSeconds > 0 {
		timeout := a.TimeoutSeconds
		action.TimeoutSeconds = &timeout
	}
	if len(a.OSOverrides) > 0 {
		b, err := json.Marshal(a.OSOverrides)
		if err != nil {
			return nil, fmt.Errorf("action %s: invalid os_overrides: %w", a.Name, err)
		}
		overrides := string(b)
		action.OSOverrides = &overrides
	}
	return action, nil
}

// Export builds a manifest from a stored workspace. Global variables and
// secure values are left out.
func Export(store Store, workspaceID int64) (*Manifest, error) {
	ws, err := store.GetWorkspace(workspaceID)
	if err != nil {
		return nil, err
	}
	actions, err := store.ListActions(workspaceID)
	if err != nil {
		return nil, err
	}
	vars, err := store.ListVariables(workspaceID)
	if err != nil {
		return nil, err
	}

	m := &Manifest{Name: ws.Name, Description: ws.Description}
	for _, v := range vars {
		if v.IsSecure || !v.Enabled {
			continue
		}
		if m.Variables == nil {
			m.Variables = make(map[string]string)
		}
		m.Variables[v.Key] = v.Value
	}

	names := make(map[int64]string, len(actions))
	for _, a := range actions {
		names[a.ID] = a.Name
	}

	sorted := make([]*models.Action, len(actions))
	copy(sorted, actions)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].OrderIndex < sorted[j].OrderIndex })

	for _, a := range sorted {
		out := &Action{
			Name:     a.Name,
			Type:     a.ActionType,
			Detached: a.Detached,
			Track:    a.TrackProcess,
		}
		if err := json.Unmarshal([]byte(a.Config), &out.Config); err != nil {
			return nil, fmt.Errorf("action %s: invalid stored config: %w", a.Name, err)
		}
		if a.TimeoutSeconds != nil {
			out.TimeoutSeconds = *a.TimeoutSeconds
		}
		if a.OSOverrides != nil && *a.OSOverrides != "" {
			if err := json.Unmarshal([]byte(*a.OSOverrides), &out.OSOverrides); err != nil {
				return nil, fmt.Errorf("action %s: invalid stored os_overrides: %w", a.Name, err)
			}
		}
		deps, err := actionconfig.ParseDependencies(a.Dependencies)
		if err != nil {
			return nil, fmt.Errorf("action %s: %w", a.Name, err)
		}
		for _, id := range deps {
			if name, ok := names[id]; ok {
				out.DependsOn = append(out.DependsOn, name)
			}
		}
		m.Actions = append(m.Actions, out)
	}
	return m, nil
}

func configJSON(config map[string]any) (string, error) {
	if config == nil {
		return "{}", nil
	}
	b, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("%w: %v", actionconfig.ErrInvalidConfig, err)
	}
	return string(b), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
