package download

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/weightfetch/weightfetch/internal/engine/types"
)

// DataRootResolver supplies the trusted directory every save path must stay
// inside.
type DataRootResolver interface {
	DataRoot() string
}

// StaticRoot is a fixed data root.
type StaticRoot string

func (r StaticRoot) DataRoot() string { return string(r) }

// ResolvePath joins savePath onto root and rejects anything that would land
// outside it, including the root itself. Symlinks in the existing part of
// the path are followed before the check.
func ResolvePath(root, savePath string) (string, error) {
	if strings.TrimSpace(savePath) == "" {
		return "", fmt.Errorf("%w: empty save path", types.ErrPathSecurity)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("%w: resolve data root: %v", types.ErrPathSecurity, err)
	}
	absRoot = filepath.Clean(absRoot)

	var dest string
	if filepath.IsAbs(savePath) {
		dest = filepath.Clean(savePath)
	} else {
		dest = filepath.Join(absRoot, savePath)
	}

	if !within(absRoot, dest) {
		return "", fmt.Errorf("%w: path %s is outside of data folder %s", types.ErrPathSecurity, dest, absRoot)
	}

	realRoot, err := evalExisting(absRoot)
	if err != nil {
		return "", fmt.Errorf("%w: resolve data root: %v", types.ErrPathSecurity, err)
	}
	realDest, err := evalExisting(dest)
	if err != nil {
		return "", fmt.Errorf("%w: resolve %s: %v", types.ErrPathSecurity, dest, err)
	}
	if !within(realRoot, realDest) {
		return "", fmt.Errorf("%w: path %s escapes data folder %s through a symlink", types.ErrPathSecurity, dest, absRoot)
	}
	return dest, nil
}

// ResolvePaths resolves every item's save path and rejects two items whose
// files overlap. Each item owns its final path plus the temp and marker
// sidecars next to it.
func ResolvePaths(root string, items []types.DownloadItem) ([]string, error) {
	paths := make([]string, len(items))
	owner := make(map[string]int, 3*len(items))
	for i, item := range items {
		p, err := ResolvePath(root, item.SavePath)
		if err != nil {
			return nil, &types.ItemError{Index: i, URL: item.URL, Stage: "path", Err: err}
		}
		owned := ownedFiles(p)
		for _, f := range owned {
			if prev, dup := owner[f]; dup {
				return nil, &types.ItemError{
					Index: i,
					URL:   item.URL,
					Stage: "path",
					Err:   fmt.Errorf("%w: item %d writes to the same destination %s", types.ErrPathSecurity, prev, f),
				}
			}
		}
		for _, f := range owned {
			owner[f] = i
		}
		paths[i] = p
	}
	return paths, nil
}

// ownedFiles lists the files a transfer into dest creates.
func ownedFiles(dest string) []string {
	return []string{dest, dest + types.TempSuffix, dest + types.URLSuffix}
}

// within reports whether path is strictly below root.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return !filepath.IsAbs(rel)
}

// evalExisting resolves symlinks in the longest existing prefix of path and
// re-appends the missing tail.
func evalExisting(path string) (string, error) {
	var tail []string
	cur := path
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			parts := append([]string{resolved}, tail...)
			return filepath.Join(parts...), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return path, nil
		}
		tail = append([]string{filepath.Base(cur)}, tail...)
		cur = parent
	}
}
