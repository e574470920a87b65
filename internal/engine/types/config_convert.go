package types

import "github.com/weightfetch/weightfetch/internal/config"

// ConvertRuntimeConfig maps user settings onto the engine's RuntimeConfig.
// A nil input yields nil so the engine falls back to its defaults.
func ConvertRuntimeConfig(rc *config.RuntimeConfig) *RuntimeConfig {
	if rc == nil {
		return nil
	}
	return &RuntimeConfig{
		UserAgent:        rc.UserAgent,
		ProbeTimeout:     rc.ProbeTimeout,
		KeepAlive:        rc.KeepAlive,
		WorkerBufferSize: rc.WorkerBufferSize,
	}
}
