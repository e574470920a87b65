package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restoreLogger(t *testing.T) {
	prev, level := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		_ = CloseLogger()
		log.Logger = prev
		zerolog.SetGlobalLevel(level)
	})
}

func TestConfigureLogger_WritesToFile(t *testing.T) {
	restoreLogger(t)
	dir := filepath.Join(t.TempDir(), "logs")

	path, err := ConfigureLogger(dir, true)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(path), "debug-"))

	Debug("probe %s returned %d", "a.bin", 200)
	l := GetLogger("orchestrator")
	l.Info().Msg("batch done")
	require.NoError(t, CloseLogger())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "probe a.bin returned 200")
	assert.Contains(t, string(data), `"component":"orchestrator"`)
}

func TestConfigureLogger_InfoLevelDropsDebug(t *testing.T) {
	restoreLogger(t)
	path, err := ConfigureLogger(t.TempDir(), false)
	require.NoError(t, err)

	Debug("hidden")
	require.NoError(t, CloseLogger())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
}

func TestSetLogOutput(t *testing.T) {
	restoreLogger(t)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	var buf bytes.Buffer
	SetLogOutput(&buf)

	l := GetLogger("cli")
	l.Warn().Msg("careful")
	assert.Contains(t, buf.String(), "careful")
	assert.Contains(t, buf.String(), "component=cli")
}

func TestCleanupLogs(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"debug-20260101-100000.log",
		"debug-20260102-100000.log",
		"debug-20260103-100000.log",
		"debug-20260104-100000.log",
		"notes.txt",
	}
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0o644))
	}

	require.NoError(t, CleanupLogs(dir, 2))

	assert.NoFileExists(t, filepath.Join(dir, names[0]))
	assert.NoFileExists(t, filepath.Join(dir, names[1]))
	assert.FileExists(t, filepath.Join(dir, names[2]))
	assert.FileExists(t, filepath.Join(dir, names[3]))
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
}

func TestCleanupLogs_Noops(t *testing.T) {
	assert.NoError(t, CleanupLogs(filepath.Join(t.TempDir(), "missing"), 3))

	dir := t.TempDir()
	f := filepath.Join(dir, "debug-20260101-100000.log")
	require.NoError(t, os.WriteFile(f, nil, 0o644))
	require.NoError(t, CleanupLogs(dir, 0))
	assert.FileExists(t, f)
}
