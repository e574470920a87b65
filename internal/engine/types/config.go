package types

import (
	"time"
)

// Size constants
const (
	KB = 1024
	MB = 1024 * KB
	GB = 1024 * MB

	// TempSuffix is appended to files while downloading
	TempSuffix = ".tmp"
	// URLSuffix marks the sidecar recording which URL a TempSuffix file belongs to
	URLSuffix = ".url"
)

// Transfer constants
const (
	// ProgressReportStep is how many bytes a single transfer writes between
	// tracker updates and aggregate progress events.
	ProgressReportStep = 10 * MB
	WorkerBuffer       = 256 * KB
	HashBuffer         = 1 * MB
)

// HTTP Client Tuning
const (
	DefaultMaxIdleConns          = 100
	DefaultIdleConnTimeout       = 90 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultResponseHeaderTimeout = 30 * time.Second
	DefaultExpectContinueTimeout = 1 * time.Second
	DialTimeout                  = 10 * time.Second
	KeepAliveDuration            = 15 * time.Second
	ProbeTimeout                 = 30 * time.Second
)

const DefaultUserAgent = "weightfetch/1.0"

// RuntimeConfig holds dynamic settings that can override defaults
type RuntimeConfig struct {
	UserAgent          string
	ProbeTimeout       time.Duration
	KeepAlive          time.Duration
	WorkerBufferSize   int
	ProgressReportStep int64
}

// GetUserAgent returns the configured user agent or the default
func (r *RuntimeConfig) GetUserAgent() string {
	if r == nil || r.UserAgent == "" {
		return DefaultUserAgent
	}
	return r.UserAgent
}

// GetProbeTimeout returns configured value or default
func (r *RuntimeConfig) GetProbeTimeout() time.Duration {
	if r == nil || r.ProbeTimeout <= 0 {
		return ProbeTimeout
	}
	return r.ProbeTimeout
}

func (r *RuntimeConfig) GetKeepAlive() time.Duration {
	if r == nil || r.KeepAlive <= 0 {
		return KeepAliveDuration
	}
	return r.KeepAlive
}

// GetWorkerBufferSize returns configured value or default
func (r *RuntimeConfig) GetWorkerBufferSize() int {
	if r == nil || r.WorkerBufferSize <= 0 {
		return WorkerBuffer
	}
	return r.WorkerBufferSize
}

// GetProgressReportStep returns configured value or default
func (r *RuntimeConfig) GetProgressReportStep() int64 {
	if r == nil || r.ProgressReportStep <= 0 {
		return ProgressReportStep
	}
	return r.ProgressReportStep
}
