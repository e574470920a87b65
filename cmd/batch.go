package cmd

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/weightfetch/weightfetch/internal/engine/types"
)

// Manifest is a YAML description of one batch.
//
//	id: llama-3-8b
//	headers:
//	  Authorization: Bearer xyz
//	items:
//	  - url: https://host/llama/model-00001.safetensors
//	    save_path: llama-3-8b/model-00001.safetensors
//	    sha256: 9f86d0...
//	    size: 4976698672
type Manifest struct {
	ID      string               `yaml:"id"`
	Resume  *bool                `yaml:"resume"`
	Headers map[string]string    `yaml:"headers"`
	Proxy   *types.ProxyConfig   `yaml:"proxy"`
	Items   []types.DownloadItem `yaml:"items"`
}

// LoadManifest reads and decodes a manifest file. Unknown keys are rejected.
func LoadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	var m Manifest
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	if len(m.Items) == 0 {
		return nil, fmt.Errorf("manifest %s has no items", path)
	}
	return &m, nil
}

// Task converts the manifest into a task. Items without their own proxy
// inherit the manifest's, then fallback.
func (m *Manifest) Task(resume bool, fallback *types.ProxyConfig) types.DownloadTask {
	task := types.DownloadTask{
		ID:      m.ID,
		Headers: m.Headers,
		Resume:  resume,
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if m.Resume != nil {
		task.Resume = resume && *m.Resume
	}

	shared := m.Proxy
	if shared == nil {
		shared = fallback
	}
	for _, it := range m.Items {
		if it.Proxy == nil {
			it.Proxy = shared
		}
		task.Items = append(task.Items, it)
	}
	return task
}

func newBatchCmd(a *app) *cobra.Command {
	var noResume bool

	cmd := &cobra.Command{
		Use:   "batch <manifest.yaml>",
		Short: "Download every item listed in a YAML manifest as one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := LoadManifest(args[0])
			if err != nil {
				return err
			}
			task := m.Task(a.settings.General.Resume && !noResume, a.defaultProxy())
			return a.runTask(cmd, task)
		},
	}
	cmd.Flags().BoolVar(&noResume, "no-resume", false, "discard partial files instead of resuming them")
	return cmd
}
