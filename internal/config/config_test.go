package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DECK_DATA_DIR", dir)

	c, err := New()
	require.NoError(t, err)

	assert.Equal(t, dir, c.DataDir)
	assert.Equal(t, filepath.Join(dir, "deck.db"), c.DBPath)
	assert.Equal(t, 5*time.Second, c.PollInterval)
	assert.Equal(t, 20, c.RunRetention)
	assert.Equal(t, 500*time.Millisecond, c.ProbeDelay)
	assert.Equal(t, 2*time.Second, c.ProbeWindow)
	assert.Equal(t, "info", c.LogLevel)
}

func TestConfigFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DECK_DATA_DIR", dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("poll_interval: 2s\nrun_retention: 5\nplatform: windows\n"), 0644))
	t.Setenv("DECK_RUN_RETENTION", "7")

	c, err := New()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, c.PollInterval)
	assert.Equal(t, 7, c.RunRetention)
	assert.Equal(t, "windows", c.Platform)
}

func TestDotEnvInDataDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DECK_DATA_DIR", dir)
	t.Setenv("DECK_LOG_LEVEL", "")
	os.Unsetenv("DECK_LOG_LEVEL")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DECK_LOG_LEVEL=debug\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("DECK_LOG_LEVEL") })

	c, err := New()
	require.NoError(t, err)
	assert.Equal(t, "debug", c.LogLevel)
}

func TestValidate(t *testing.T) {
	valid := Config{PollInterval: time.Second, RunRetention: 1, LogLevel: "info", Platform: "linux"}
	require.NoError(t, valid.Validate())

	c := valid
	c.PollInterval = 0
	assert.Error(t, c.Validate())

	c = valid
	c.RunRetention = 0
	assert.Error(t, c.Validate())

	c = valid
	c.LogLevel = "loud"
	assert.Error(t, c.Validate())

	c = valid
	c.Platform = "plan9"
	assert.Error(t, c.Validate())
}

func TestEnsureDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	c := &Config{DataDir: dir, LogDir: filepath.Join(dir, "logs")}

	require.NoError(t, c.EnsureDataDir())
	assert.DirExists(t, c.LogDir)
	assert.Equal(t, filepath.Join(dir, "logs", "deck.log"), c.LogPath())
}
