package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "weightfetch"

// HomeEnv overrides every platform default when set.
const HomeEnv = "WEIGHTFETCH_HOME"

// GetAppDir returns the directory for settings and logs.
func GetAppDir() string {
	if home := os.Getenv(HomeEnv); home != "" {
		return home
	}
	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		return filepath.Join(appData, appName)
	case "darwin": // MacOS
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", appName)
	default: // Linux
		configHome := os.Getenv("XDG_CONFIG_HOME")
		if configHome == "" {
			home, _ := os.UserHomeDir()
			configHome = filepath.Join(home, ".config")
		}
		return filepath.Join(configHome, appName)
	}
}

// Returns directory for state files
func GetStateDir() string {
	if os.Getenv(HomeEnv) == "" && runtime.GOOS == "linux" {
		if stateHome := os.Getenv("XDG_STATE_HOME"); stateHome != "" {
			return filepath.Join(stateHome, appName)
		}
	}
	return filepath.Join(GetAppDir(), "state")
}

// Returns directory for logs
func GetLogsDir() string {
	return filepath.Join(GetAppDir(), "logs")
}

// GetDefaultDataDir is the data root used when no other is configured.
func GetDefaultDataDir() string {
	return filepath.Join(GetAppDir(), "data")
}

// GetHistoryDBPath returns the location of the download history database.
func GetHistoryDBPath() string {
	return filepath.Join(GetStateDir(), "history.db")
}

// LockPath returns the advisory lock file guarding dataDir.
func LockPath(dataDir string) string {
	return filepath.Join(dataDir, "."+appName+".lock")
}

// EnsureDirs creates all required directories
func EnsureDirs() error {
	dirs := []string{GetAppDir(), GetStateDir(), GetLogsDir()}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
