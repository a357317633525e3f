// Package variables implements ${NAME} substitution over action configuration
// strings.
package variables

import (
	"regexp"

	"github.com/mpataki/deck/internal/models"
)

var tokenPattern = regexp.MustCompile(`\$\{([^{}]+)\}`)

// Substitute replaces every ${NAME} token whose key is present in vars.
// Unknown tokens are left verbatim. Replacement happens in a single pass, so
// values that themselves contain tokens are not expanded again.
func Substitute(input string, vars map[string]string) string {
	if len(vars) == 0 || input == "" {
		return input
	}
	return tokenPattern.ReplaceAllStringFunc(input, func(token string) string {
		key := token[2 : len(token)-1]
		if value, ok := vars[key]; ok {
			return value
		}
		return token
	})
}

// SubstituteAll applies Substitute to each element and returns a new slice.
func SubstituteAll(inputs []string, vars map[string]string) []string {
	if inputs == nil {
		return nil
	}
	out := make([]string, len(inputs))
	for i, s := range inputs {
		out[i] = Substitute(s, vars)
	}
	return out
}

// SubstituteMap applies Substitute to every value of m.
func SubstituteMap(m map[string]string, vars map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = Substitute(v, vars)
	}
	return out
}

// Tokens returns the distinct token names referenced by input, in order of
// first appearance.
func Tokens(input string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range tokenPattern.FindAllStringSubmatch(input, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// Prepare builds the substitution map for a launch. Disabled variables are
// left out entirely; workspace variables override globals with the same key.
func Prepare(workspace []*models.Variable, global []*models.Variable) map[string]string {
	vars := make(map[string]string)
	for _, v := range global {
		if v.Enabled {
			vars[v.Key] = v.Value
		}
	}
	for _, v := range workspace {
		if v.Enabled {
			vars[v.Key] = v.Value
		}
	}
	return vars
}
