package cmd

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weightfetch/weightfetch/internal/config"
)

func TestSettings_SetAndShow(t *testing.T) {
	setupHome(t)

	_, _, err := runCLI(t, "settings", "set", "probe_timeout", "45s")
	require.NoError(t, err)
	_, _, err = runCLI(t, "settings", "set", "no_proxy", "localhost, *.corp")
	require.NoError(t, err)
	_, _, err = runCLI(t, "settings", "set", "max_concurrent_downloads", "3")
	require.NoError(t, err)

	s, err := config.LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, s.Network.ProbeTimeout)
	assert.Equal(t, []string{"localhost", "*.corp"}, s.Network.NoProxy)
	assert.Equal(t, 3, s.Network.MaxConcurrentDownloads)

	stdout, _, err := runCLI(t, "--no-color", "settings")
	require.NoError(t, err)
	assert.Contains(t, stdout, "45s")
	assert.Contains(t, stdout, "localhost,*.corp")

	stdout, _, err = runCLI(t, "--json", "settings")
	require.NoError(t, err)
	var shown config.Settings
	require.NoError(t, json.Unmarshal([]byte(stdout), &shown))
	assert.Equal(t, *s, shown)
}

func TestSettings_SetRejectsBadInput(t *testing.T) {
	setupHome(t)
	_, _, err := runCLI(t, "settings", "set", "bogus", "1")
	assert.ErrorContains(t, err, "unknown setting")
	_, _, err = runCLI(t, "settings", "set", "resume", "maybe")
	assert.Error(t, err)
	_, _, err = runCLI(t, "settings", "set", "probe_timeout", "soon")
	assert.Error(t, err)
}

func TestSettings_Path(t *testing.T) {
	setupHome(t)
	stdout, _, err := runCLI(t, "settings", "path")
	require.NoError(t, err)
	assert.Equal(t, config.GetSettingsPath()+"\n", stdout)
}

func TestParseHeaders(t *testing.T) {
	h, err := parseHeaders([]string{"Authorization: Bearer a:b", " X-Trace :  1 "})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Authorization": "Bearer a:b", "X-Trace": "1"}, h)

	h, err = parseHeaders(nil)
	require.NoError(t, err)
	assert.Nil(t, h)

	_, err = parseHeaders([]string{": value"})
	assert.Error(t, err)
}

func TestFileNameFromURL(t *testing.T) {
	name, err := fileNameFromURL("https://h/org/model/resolve/main/model.safetensors?download=1")
	require.NoError(t, err)
	assert.Equal(t, "model.safetensors", name)

	for _, bad := range []string{"https://h/", "https://h", "://bad"} {
		_, err := fileNameFromURL(bad)
		assert.Error(t, err, bad)
	}
}
