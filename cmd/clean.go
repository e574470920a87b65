package cmd

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/weightfetch/weightfetch/internal/engine/types"
	"github.com/weightfetch/weightfetch/internal/ui"
	"github.com/weightfetch/weightfetch/internal/utils"
)

// findPartials returns every in-progress sidecar under root: ".tmp" files and
// their ".url" markers.
func findPartials(root string) ([]string, error) {
	var found []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasSuffix(name, types.TempSuffix) || strings.HasSuffix(name, types.URLSuffix) {
			found = append(found, p)
		}
		return nil
	})
	return found, err
}

func newCleanCmd(a *app) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete partial downloads left in the data root",
		Long: `Delete partial downloads left in the data root.

Partial files are what "get" and "batch" resume from, so cleaning forces
the next run to start those files over.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := a.dataRoot()
			if err != nil {
				return err
			}
			lock, err := acquireLock(root)
			if err != nil {
				return err
			}
			defer releaseLock(lock)

			partials, err := findPartials(root)
			if err != nil {
				return fmt.Errorf("scan data root: %w", err)
			}

			out := cmd.OutOrStdout()
			var freed int64
			for _, p := range partials {
				if info, err := os.Stat(p); err == nil {
					freed += info.Size()
				}
				rel, _ := filepath.Rel(root, p)
				if dryRun {
					fmt.Fprintln(out, rel)
					continue
				}
				if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
					return err
				}
				utils.Debug("Removed partial file %s", p)
			}

			verb := "removed"
			if dryRun {
				verb = "would remove"
			}
			fmt.Fprintln(out, ui.Success("%s %d files (%s)", verb, len(partials), utils.ConvertBytesToHumanReadable(freed)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list what would be removed without deleting")
	return cmd
}
