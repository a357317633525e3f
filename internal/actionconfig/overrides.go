package actionconfig

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OSKey maps a GOOS value onto the key used in os_overrides.
func OSKey(goos string) string {
	if goos == "darwin" {
		return "macos"
	}
	return goos
}

// MergeOverrides shallow-merges the override object for osKey over raw.
// A nil or empty overrides blob, or one without an entry for osKey, returns raw
// unchanged.
func MergeOverrides(raw string, overrides *string, osKey string) (string, error) {
	if overrides == nil || strings.TrimSpace(*overrides) == "" {
		return raw, nil
	}

	var perOS map[string]map[string]json.RawMessage
	if err := json.Unmarshal([]byte(*overrides), &perOS); err != nil {
		return "", fmt.Errorf("%w: os_overrides: %v", ErrInvalidConfig, err)
	}
	patch, ok := perOS[osKey]
	if !ok || len(patch) == 0 {
		return raw, nil
	}

	base := make(map[string]json.RawMessage)
	if err := json.Unmarshal([]byte(raw), &base); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	for k, v := range patch {
		base[k] = v
	}

	merged, err := json.Marshal(base)
	if err != nil {
		return "", err
	}
	return string(merged), nil
}

// ParseDependencies decodes the dependencies column, a JSON array of action ids.
func ParseDependencies(raw *string) ([]int64, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	var ids []int64
	if err := json.Unmarshal([]byte(*raw), &ids); err != nil {
		return nil, fmt.Errorf("%w: dependencies: %v", ErrInvalidConfig, err)
	}
	return ids, nil
}
