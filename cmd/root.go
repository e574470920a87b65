package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/weightfetch/weightfetch/internal/config"
	"github.com/weightfetch/weightfetch/internal/engine/types"
	"github.com/weightfetch/weightfetch/internal/ui"
	"github.com/weightfetch/weightfetch/internal/utils"
)

// Version information - set via ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// app carries what the persistent flags and settings resolve to for one
// invocation.
type app struct {
	dataDir  string
	debug    bool
	noColor  bool
	jsonOut  bool
	envFiles []string

	settings *config.Settings
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "weightfetch",
		Short: "Parallel, resumable downloader for model weights",
		Long: `weightfetch downloads model weight files into a data root, in parallel,
resuming partial files and checking size and SHA-256 before keeping them.`,
		Version:       fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = utils.CloseLogger()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.dataDir, "data-dir", "", "data root every save path is resolved against")
	pf.BoolVar(&a.debug, "debug", false, "write debug-level logs")
	pf.BoolVar(&a.noColor, "no-color", false, "disable colored output")
	pf.BoolVar(&a.jsonOut, "json", false, "print events and results as JSON lines")
	pf.StringSliceVar(&a.envFiles, "env-file", nil, "extra KEY=VALUE files to load before reading settings")

	root.AddCommand(
		newGetCmd(a),
		newBatchCmd(a),
		newHistoryCmd(a),
		newCleanCmd(a),
		newSettingsCmd(a),
	)
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		printError(root.ErrOrStderr(), err)
		os.Exit(1)
	}
}

func (a *app) init() error {
	files := append([]string{filepath.Join(config.GetAppDir(), ".env")}, a.envFiles...)
	if err := config.LoadEnvFiles(files...); err != nil {
		return err
	}

	s, err := config.LoadSettings()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	config.ApplyEnv(s)
	if a.dataDir != "" {
		s.General.DataDir = a.dataDir
	}
	a.settings = s

	if a.noColor || a.jsonOut {
		ui.DisableColor()
	}

	if err := config.EnsureDirs(); err != nil {
		return fmt.Errorf("create app directories: %w", err)
	}
	logsDir := config.GetLogsDir()
	if _, err := utils.ConfigureLogger(logsDir, a.debug); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	if err := utils.CleanupLogs(logsDir, s.General.LogRetentionCount); err != nil {
		utils.Debug("Failed to prune logs: %v", err)
	}
	return nil
}

// dataRoot returns the absolute data root, creating it if needed.
func (a *app) dataRoot() (string, error) {
	dir, err := filepath.Abs(a.settings.ResolveDataDir())
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create data root: %w", err)
	}
	return dir, nil
}

// defaultProxy is the proxy from settings, or nil when none is configured.
func (a *app) defaultProxy() *types.ProxyConfig {
	if a.settings.Network.ProxyURL == "" {
		return nil
	}
	return &types.ProxyConfig{
		URL:     a.settings.Network.ProxyURL,
		NoProxy: a.settings.Network.NoProxy,
	}
}

func printError(w io.Writer, err error) {
	fmt.Fprintln(w, ui.Failure("%v", err))
}
