package types

import (
	"fmt"
)

// DownloadItem identifies one artifact to fetch. Items are not mutated once
// submitted to the orchestrator.
type DownloadItem struct {
	URL      string       `json:"url" yaml:"url"`
	SavePath string       `json:"save_path" yaml:"save_path"` // relative to the data root
	SHA256   string       `json:"sha256,omitempty" yaml:"sha256,omitempty"`
	Size     *int64       `json:"size,omitempty" yaml:"size,omitempty"`
	Proxy    *ProxyConfig `json:"proxy,omitempty" yaml:"proxy,omitempty"`
}

// HasValidationData reports whether the item carries any integrity expectation.
func (i DownloadItem) HasValidationData() bool {
	return i.SHA256 != "" || i.Size != nil
}

// ProxyConfig is the per-item network proxy. Username and Password must be
// set together.
type ProxyConfig struct {
	URL      string   `json:"url" yaml:"url"`
	Username *string  `json:"username,omitempty" yaml:"username,omitempty"`
	Password *string  `json:"password,omitempty" yaml:"password,omitempty"`
	NoProxy  []string `json:"no_proxy,omitempty" yaml:"no_proxy,omitempty"`

	IgnoreSSL          *bool `json:"ignore_ssl,omitempty" yaml:"ignore_ssl,omitempty"`
	VerifyProxySSL     *bool `json:"verify_proxy_ssl,omitempty" yaml:"verify_proxy_ssl,omitempty"`
	VerifyProxyHostSSL *bool `json:"verify_proxy_host_ssl,omitempty" yaml:"verify_proxy_host_ssl,omitempty"`
	VerifyPeerSSL      *bool `json:"verify_peer_ssl,omitempty" yaml:"verify_peer_ssl,omitempty"`
	VerifyHostSSL      *bool `json:"verify_host_ssl,omitempty" yaml:"verify_host_ssl,omitempty"`
}

// SkipTLSVerify reports whether certificate verification should be disabled
// for requests made through this configuration.
func (p *ProxyConfig) SkipTLSVerify() bool {
	if p == nil {
		return false
	}
	if p.IgnoreSSL != nil && *p.IgnoreSSL {
		return true
	}
	if p.VerifyPeerSSL != nil && !*p.VerifyPeerSSL {
		return true
	}
	return p.VerifyHostSSL != nil && !*p.VerifyHostSSL
}

// DownloadTask is one caller-initiated batch. Cancellation travels separately
// as the context passed to the orchestrator.
type DownloadTask struct {
	ID      string
	Items   []DownloadItem
	Headers map[string]string
	Resume  bool
}

// FileID returns the tracker key of the item at index.
func FileID(taskID string, index int) string {
	return fmt.Sprintf("%s-%d", taskID, index)
}

// FileTransferState is the runtime record of one transfer. It is owned by the
// transfer that created it.
type FileTransferState struct {
	FileID      string
	RemoteSize  int64
	Transferred int64
	TempPath    string
	MarkerPath  string
	FinalPath   string
	Resumed     bool
}

// ItemStatus is the lifecycle of one item within a task
type ItemStatus string

const (
	StatusPending      ItemStatus = "pending"
	StatusResumeProbe  ItemStatus = "resume_probe"
	StatusTransferring ItemStatus = "transferring"
	StatusTransferred  ItemStatus = "transferred"
	StatusValidating   ItemStatus = "validating"
	StatusCompleted    ItemStatus = "completed"
	StatusFailed       ItemStatus = "failed"
	StatusCancelled    ItemStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s ItemStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}
