package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deck.log")
	logger, cleanup, err := New("info", path, false)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("action finished", zap.Int64("action_id", 7))
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"action finished"`)
	assert.Contains(t, string(data), `"action_id":7`)
	assert.Contains(t, string(data), `"logger":"deck"`)
	assert.NotContains(t, string(data), "hidden")
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, _, err := New("chatty", filepath.Join(t.TempDir(), "deck.log"), false)
	assert.Error(t, err)
}
