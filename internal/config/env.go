package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment overrides, applied on top of settings.json.
const (
	EnvDataDir   = "WEIGHTFETCH_DATA_DIR"
	EnvProxy     = "WEIGHTFETCH_PROXY"
	EnvNoProxy   = "WEIGHTFETCH_NO_PROXY"
	EnvUserAgent = "WEIGHTFETCH_USER_AGENT"
)

// LoadEnvFiles loads KEY=VALUE files into the process environment. Missing
// files are skipped and variables already set are kept.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load env file %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides s with any WEIGHTFETCH_* variables that are set.
func ApplyEnv(s *Settings) {
	if v := os.Getenv(EnvDataDir); v != "" {
		s.General.DataDir = v
	}
	if v := os.Getenv(EnvProxy); v != "" {
		s.Network.ProxyURL = v
	}
	if v := os.Getenv(EnvNoProxy); v != "" {
		var hosts []string
		for _, h := range strings.Split(v, ",") {
			if h = strings.TrimSpace(h); h != "" {
				hosts = append(hosts, h)
			}
		}
		s.Network.NoProxy = hosts
	}
	if v := os.Getenv(EnvUserAgent); v != "" {
		s.Network.UserAgent = v
	}
}
