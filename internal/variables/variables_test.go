package variables

import (
	"testing"

	"github.com/mpataki/deck/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubstituteKnownKeys(t *testing.T) {
	vars := map[string]string{"ROOT": "/home/dev", "PROJECT": "deck"}

	got := Substitute("${ROOT}/src/${PROJECT}/${PROJECT}.code-workspace", vars)

	assert.Equal(t, "/home/dev/src/deck/deck.code-workspace", got)
}

func TestSubstituteLeavesUnknownTokens(t *testing.T) {
	vars := map[string]string{"ROOT": "/srv"}

	got := Substitute("${ROOT}/${MISSING}/bin", vars)

	assert.Equal(t, "/srv/${MISSING}/bin", got)
}

func TestSubstituteIgnoresBareDollar(t *testing.T) {
	vars := map[string]string{"HOME": "/root"}

	assert.Equal(t, "$HOME and /root", Substitute("$HOME and ${HOME}", vars))
}

func TestSubstituteIsIdempotentWhenAllKeysKnown(t *testing.T) {
	vars := map[string]string{"A": "alpha", "B": "beta", "C": "gamma"}
	inputs := []string{
		"${A}",
		"${A}-${B}-${C}",
		"prefix ${C} suffix ${C}",
		"no tokens at all",
	}

	for _, in := range inputs {
		once := Substitute(in, vars)
		twice := Substitute(once, vars)
		assert.Equal(t, once, twice, in)
		assert.Empty(t, Tokens(once), in)
	}
}

func TestSubstituteDoesNotExpandValues(t *testing.T) {
	vars := map[string]string{"A": "${B}", "B": "b"}

	assert.Equal(t, "${B}", Substitute("${A}", vars))
}

func TestSubstituteAllAndMap(t *testing.T) {
	vars := map[string]string{"PORT": "8080"}

	args := SubstituteAll([]string{"--port", "${PORT}"}, vars)
	env := SubstituteMap(map[string]string{"LISTEN": ":${PORT}"}, vars)

	assert.Equal(t, []string{"--port", "8080"}, args)
	assert.Equal(t, ":8080", env["LISTEN"])
	assert.Nil(t, SubstituteAll(nil, vars))
}

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"A", "B"}, Tokens("${A} ${B} ${A}"))
	assert.Empty(t, Tokens("plain"))
}

func TestPrepareExcludesDisabledAndPrefersWorkspace(t *testing.T) {
	wsID := int64(3)
	global := []*models.Variable{
		{Key: "EDITOR", Value: "vim", Enabled: true},
		{Key: "TOKEN", Value: "global-token", Enabled: true},
		{Key: "OFF", Value: "x", Enabled: false},
	}
	workspace := []*models.Variable{
		{WorkspaceID: &wsID, Key: "TOKEN", Value: "ws-token", Enabled: true},
		{WorkspaceID: &wsID, Key: "EDITOR", Value: "code", Enabled: false},
	}

	vars := Prepare(workspace, global)

	require.Len(t, vars, 2)
	assert.Equal(t, "vim", vars["EDITOR"])
	assert.Equal(t, "ws-token", vars["TOKEN"])
	_, ok := vars["OFF"]
	assert.False(t, ok)
	assert.Equal(t, "${OFF}", Substitute("${OFF}", vars))
}
