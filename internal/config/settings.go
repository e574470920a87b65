package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Settings holds all user-configurable application settings organized by category.
type Settings struct {
	General GeneralSettings `json:"general"`
	Network NetworkSettings `json:"network"`
}

// GeneralSettings contains application behavior settings.
type GeneralSettings struct {
	DataDir           string `json:"data_dir"`
	Resume            bool   `json:"resume"`
	LogRetentionCount int    `json:"log_retention_count"`
}

// NetworkSettings contains network connection parameters.
type NetworkSettings struct {
	UserAgent              string        `json:"user_agent"`
	ProxyURL               string        `json:"proxy_url"`
	NoProxy                []string      `json:"no_proxy"`
	ProbeTimeout           time.Duration `json:"probe_timeout"`
	KeepAlive              time.Duration `json:"keep_alive"`
	WorkerBufferSize       int           `json:"worker_buffer_size"`
	MaxConcurrentDownloads int           `json:"max_concurrent_downloads"`
}

// SettingMeta provides metadata for a single setting.
type SettingMeta struct {
	Key         string // JSON key name
	Label       string // Human-readable label
	Description string
	Type        string // "string", "int", "bool", "duration", "[]string"
}

// GetSettingsMetadata returns metadata for all settings organized by category.
func GetSettingsMetadata() map[string][]SettingMeta {
	return map[string][]SettingMeta{
		"General": {
			{Key: "data_dir", Label: "Data Dir", Description: "Root directory every save path is resolved against. Leave empty for the default.", Type: "string"},
			{Key: "resume", Label: "Resume", Description: "Continue partial downloads left by an earlier run.", Type: "bool"},
			{Key: "log_retention_count", Label: "Log Retention Count", Description: "Number of recent log files to keep.", Type: "int"},
		},
		"Network": {
			{Key: "user_agent", Label: "User Agent", Description: "Custom User-Agent string for HTTP requests. Leave empty for default.", Type: "string"},
			{Key: "proxy_url", Label: "Proxy URL", Description: "http, https or socks5 proxy applied to every item (e.g. socks5://127.0.0.1:1080).", Type: "string"},
			{Key: "no_proxy", Label: "No Proxy", Description: "Hosts that bypass the proxy: exact names, *.suffix patterns or *.", Type: "[]string"},
			{Key: "probe_timeout", Label: "Probe Timeout", Description: "Timeout for the size request sent before each transfer (e.g., 30s).", Type: "duration"},
			{Key: "keep_alive", Label: "Keep Alive", Description: "TCP keep-alive period for download connections.", Type: "duration"},
			{Key: "worker_buffer_size", Label: "Worker Buffer Size", Description: "I/O buffer size per transfer in KB (e.g., 256).", Type: "int"},
			{Key: "max_concurrent_downloads", Label: "Max Concurrent Downloads", Description: "Maximum transfers running at once. 0 runs every item of a batch in parallel.", Type: "int"},
		},
	}
}

// CategoryOrder returns the order of categories for display.
func CategoryOrder() []string {
	return []string{"General", "Network"}
}

const (
	KB = 1024
	MB = 1024 * KB
)

// DefaultSettings returns a new Settings instance with sensible defaults.
func DefaultSettings() *Settings {
	return &Settings{
		General: GeneralSettings{
			DataDir:           "",
			Resume:            true,
			LogRetentionCount: 5,
		},
		Network: NetworkSettings{
			UserAgent:              "", // Empty means use default UA
			ProbeTimeout:           30 * time.Second,
			KeepAlive:              15 * time.Second,
			WorkerBufferSize:       256 * KB,
			MaxConcurrentDownloads: 0,
		},
	}
}

// ResolveDataDir returns the configured data root or the default one.
func (s *Settings) ResolveDataDir() string {
	if s.General.DataDir != "" {
		return s.General.DataDir
	}
	return GetDefaultDataDir()
}

// GetSettingsPath returns the path to the settings JSON file.
func GetSettingsPath() string {
	return filepath.Join(GetAppDir(), "settings.json")
}

// LoadSettings loads settings from disk. Returns defaults if file doesn't exist.
func LoadSettings() (*Settings, error) {
	return LoadSettingsFrom(GetSettingsPath())
}

// LoadSettingsFrom is LoadSettings for an explicit path.
func LoadSettingsFrom(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, return defaults
			return DefaultSettings(), nil
		}
		return nil, err
	}

	settings := DefaultSettings() // Start with defaults to fill any missing fields
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, err
	}

	return settings, nil
}

// SaveSettings saves settings to disk atomically.
func SaveSettings(s *Settings) error {
	return SaveSettingsTo(GetSettingsPath(), s)
}

// SaveSettingsTo is SaveSettings for an explicit path.
func SaveSettingsTo(path string, s *Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write: write to temp file, then rename
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return err
	}

	return os.Rename(tempPath, path)
}

// RuntimeConfig is the subset of Settings the download engine consumes.
type RuntimeConfig struct {
	UserAgent        string
	ProbeTimeout     time.Duration
	KeepAlive        time.Duration
	WorkerBufferSize int
}

// ToRuntimeConfig creates a RuntimeConfig from user Settings
func (s *Settings) ToRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		UserAgent:        s.Network.UserAgent,
		ProbeTimeout:     s.Network.ProbeTimeout,
		KeepAlive:        s.Network.KeepAlive,
		WorkerBufferSize: s.Network.WorkerBufferSize,
	}
}
