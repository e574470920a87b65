package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	assert.True(t, s.General.Resume)
	assert.Equal(t, 5, s.General.LogRetentionCount)
	assert.Equal(t, 30*time.Second, s.Network.ProbeTimeout)
	assert.Equal(t, 256*KB, s.Network.WorkerBufferSize)
	assert.Zero(t, s.Network.MaxConcurrentDownloads)
}

func TestLoadSettings_MissingFileGivesDefaults(t *testing.T) {
	s, err := LoadSettingsFrom(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
}

func TestSaveAndLoadSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "settings.json")
	s := DefaultSettings()
	s.General.DataDir = "/srv/models"
	s.Network.ProxyURL = "socks5://127.0.0.1:1080"
	s.Network.NoProxy = []string{"*.internal"}

	require.NoError(t, SaveSettingsTo(path, s))
	assert.NoFileExists(t, path+".tmp")

	loaded, err := LoadSettingsFrom(path)
	require.NoError(t, err)
	assert.Equal(t, s, loaded)
}

func TestLoadSettings_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"network":{"user_agent":"custom/1"}}`), 0o644))

	s, err := LoadSettingsFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "custom/1", s.Network.UserAgent)
	assert.Equal(t, 5, s.General.LogRetentionCount)
	assert.Equal(t, 30*time.Second, s.Network.ProbeTimeout)
}

func TestLoadSettings_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := LoadSettingsFrom(path)
	assert.Error(t, err)
}

func TestResolveDataDir(t *testing.T) {
	t.Setenv(HomeEnv, "/opt/wf")
	s := DefaultSettings()
	assert.Equal(t, filepath.Join("/opt/wf", "data"), s.ResolveDataDir())
	s.General.DataDir = "/srv/models"
	assert.Equal(t, "/srv/models", s.ResolveDataDir())
}

func TestToRuntimeConfig(t *testing.T) {
	s := DefaultSettings()
	s.Network.UserAgent = "agent"
	rc := s.ToRuntimeConfig()
	assert.Equal(t, "agent", rc.UserAgent)
	assert.Equal(t, s.Network.ProbeTimeout, rc.ProbeTimeout)
	assert.Equal(t, s.Network.KeepAlive, rc.KeepAlive)
	assert.Equal(t, s.Network.WorkerBufferSize, rc.WorkerBufferSize)
}

func TestSettingsMetadataCoversCategories(t *testing.T) {
	meta := GetSettingsMetadata()
	for _, cat := range CategoryOrder() {
		assert.NotEmpty(t, meta[cat], cat)
	}
}
